package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory (databases, keyfiles, fallback blobs)
//	-m string   mirror directory granted in a previous session
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.MirrorDir, "m", cfg.MirrorDir, "mirror directory")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
