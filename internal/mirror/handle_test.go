package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

func TestHandle_GrantAndPersist(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	s := newTestStore(t, cfg)
	assert.Equal(t, HandleUnbound, s.State())

	require.NoError(t, s.GrantDirectory(dir))
	assert.Equal(t, HandleLive, s.State())

	// the reference survives a restart, but only as stale
	s2 := newTestStore(t, cfg)
	assert.Equal(t, HandleStale, s2.State())

	// first use probes it back to live
	_, err := s2.LoadFromMirror(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HandleLive, s2.State())
}

func TestHandle_GrantRejectsBadPath(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)

	err := s.GrantDirectory(filepath.Join(cfg.DataDir, "does-not-exist"))
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Equal(t, HandleUnbound, s.State())

	// a plain file is not a grantable directory
	file := filepath.Join(cfg.DataDir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	err = s.GrantDirectory(file)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestHandle_StaleProbeFailureParksAsRevoked(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	s := newTestStore(t, cfg)
	require.NoError(t, s.GrantDirectory(dir))

	// restart with the directory gone
	require.NoError(t, os.RemoveAll(dir))
	s2 := newTestStore(t, cfg)
	require.Equal(t, HandleStale, s2.State())

	_, err := s2.LoadFromMirror(context.Background())
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Equal(t, HandleRevoked, s2.State())

	// revoked is a parked state: once the directory is back, an
	// explicit Reconnect revives the same handle
	require.NoError(t, os.MkdirAll(dir, 0o770))
	require.NoError(t, s2.Reconnect())
	assert.Equal(t, HandleLive, s2.State())

	_, err = s2.LoadFromMirror(context.Background())
	assert.NoError(t, err)
}

func TestHandle_ReconnectWithoutGrant(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)

	err := s.Reconnect()
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Equal(t, HandleUnbound, s.State())
}

func TestHandle_ReconnectFailureKeepsReference(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	s := newTestStore(t, cfg)
	require.NoError(t, s.GrantDirectory(dir))
	require.NoError(t, os.RemoveAll(dir))

	err := s.Reconnect()
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
	assert.Equal(t, HandleRevoked, s.State())

	// the persisted reference is still there for the next attempt
	require.NoError(t, os.MkdirAll(dir, 0o770))
	require.NoError(t, s.Reconnect())
	assert.Equal(t, HandleLive, s.State())
}
