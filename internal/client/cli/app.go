package cli

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/chatkeeper/internal/chatstore"
	"github.com/dmitrijs2005/chatkeeper/internal/config"
	"github.com/dmitrijs2005/chatkeeper/internal/credstore"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/mirror"
)

const legacySettingsFileName = "settings.json"

// App wires the three stores behind the interactive CLI.
type App struct {
	cfg    *config.Config
	log    logging.Logger
	chats  *chatstore.Store
	mirror *mirror.Store
	creds  *credstore.Store
	reader *bufio.Reader
}

func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	chats, err := chatstore.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	mir, err := mirror.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.MirrorDir != "" && mir.State() == mirror.HandleUnbound {
		if err := mir.GrantDirectory(cfg.MirrorDir); err != nil {
			log.Warn(ctx, "configured mirror directory not usable", "dir", cfg.MirrorDir, "error", err.Error())
		}
	}

	creds, err := credstore.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if _, err := creds.MigrateFromLegacy(ctx, filepath.Join(cfg.DataDir, legacySettingsFileName)); err != nil {
		log.Warn(ctx, "legacy settings migration failed", "error", err.Error())
	}

	return &App{
		cfg:    cfg,
		log:    log,
		chats:  chats,
		mirror: mir,
		creds:  creds,
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer func() {
		_ = a.mirror.Close()
		_ = a.creds.Close()
		_ = a.chats.Close()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.statusLine, scanner)
}

func (a *App) needsUnlock() bool {
	return a.chats.NeedsUnlock() || a.mirror.NeedsUnlock() || a.creds.NeedsUnlock()
}
