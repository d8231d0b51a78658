// Package config assembles runtime settings for chatkeeper. Values are
// resolved in three stages, later stages overriding earlier ones:
// defaults, then a JSON file (-c/-config), then command-line flags.
//
// Stores receive this object explicitly at construction; there is no
// ambient settings namespace they consult behind the caller's back.
package config

import "time"

// Config holds runtime settings shared by the stores and the CLI.
//
// Fields:
//   - DataDir: directory for databases, keyfiles and fallback blobs.
//   - MirrorDir: previously granted mirror directory; empty means the
//     mirror starts unbound.
//   - MirrorDebounce: how long the mirror coalesces queued messages
//     before flushing them to disk.
//   - StorageQuotaBytes: soft budget for DataDir; usage above 90% of it
//     surfaces a storage-pressure warning after failed writes.
//   - RotationWarnDays / RotationRecommendDays: token-age tiers for the
//     credential store's rotation policy.
type Config struct {
	DataDir               string
	MirrorDir             string
	MirrorDebounce        time.Duration
	StorageQuotaBytes     int64
	RotationWarnDays      int
	RotationRecommendDays int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "chatkeeper-data"
	c.MirrorDir = ""
	c.MirrorDebounce = 1 * time.Second
	c.StorageQuotaBytes = 512 << 20
	c.RotationWarnDays = 60
	c.RotationRecommendDays = 90
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
