package credstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLegacySettings(t *testing.T, dir string, settings map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(settings)
	require.NoError(t, err)
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func readSettings(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestMigrateFromLegacy_ImportsAndStripsToken(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	path := writeLegacySettings(t, cfg.DataDir, map[string]any{
		"authToken":  "legacy-tok",
		"gatewayUrl": "ws://gw:9",
		"sessionKey": "work",
		"theme":      "dark",
	})

	imported, err := s.MigrateFromLegacy(ctx, path)
	require.NoError(t, err)
	assert.True(t, imported)

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy-tok", tok)

	addr, err := s.GatewayAddr(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ws://gw:9", addr)

	label, err := s.SessionLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "work", label)

	// the file loses the secret but keeps everything else
	after := readSettings(t, path)
	assert.NotContains(t, after, "authToken")
	assert.Equal(t, "dark", after["theme"])
	assert.Equal(t, "ws://gw:9", after["gatewayUrl"])
}

func TestMigrateFromLegacy_RunsOnce(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.StoreToken(ctx, "current-tok", "", ""))

	path := writeLegacySettings(t, cfg.DataDir, map[string]any{
		"authToken": "stale-tok",
	})

	imported, err := s.MigrateFromLegacy(ctx, path)
	require.NoError(t, err)
	assert.False(t, imported, "an existing token must never be overwritten")

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "current-tok", tok)
}

func TestMigrateFromLegacy_MissingOrTokenless(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	imported, err := s.MigrateFromLegacy(ctx, filepath.Join(cfg.DataDir, "nope.json"))
	require.NoError(t, err)
	assert.False(t, imported)

	path := writeLegacySettings(t, cfg.DataDir, map[string]any{"theme": "light"})
	imported, err = s.MigrateFromLegacy(ctx, path)
	require.NoError(t, err)
	assert.False(t, imported)

	// tokenless settings file stays byte-for-byte meaningful
	after := readSettings(t, path)
	assert.Equal(t, "light", after["theme"])
}
