package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/flagx"
	"github.com/dmitrijs2005/chatkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so the debounce can be given either as a string like
// "1500ms" or as integer nanoseconds.
type JsonConfig struct {
	DataDir           string         `json:"data_dir"`
	MirrorDir         string         `json:"mirror_dir"`
	MirrorDebounce    timex.Duration `json:"mirror_debounce"`
	StorageQuotaBytes int64          `json:"storage_quota_bytes"`
}

// parseJson overlays cfg with values loaded from the JSON file named by
// the -c/-config flags. Missing flag means no JSON stage. Zero-valued
// fields in the file leave the current value untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.MirrorDir != "" {
		cfg.MirrorDir = jc.MirrorDir
	}
	if jc.MirrorDebounce.Duration != 0 {
		cfg.MirrorDebounce = jc.MirrorDebounce.Duration
	}
	if jc.StorageQuotaBytes != 0 {
		cfg.StorageQuotaBytes = jc.StorageQuotaBytes
	}
}
