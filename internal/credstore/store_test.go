package credstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	return cfg
}

func newTestStore(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// rawValue reads a row straight from the database, bypassing the store,
// to inspect what actually hit disk.
func rawValue(t *testing.T, cfg *config.Config, key string) (string, bool) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(cfg.DataDir, dbFileName))
	require.NoError(t, err)
	defer db.Close()

	var value string
	var encrypted int
	err = db.QueryRow(`SELECT value, encrypted FROM config WHERE key = ?`, key).
		Scan(&value, &encrypted)
	require.NoError(t, err)
	return value, encrypted != 0
}

func TestStore_SetGetDelete(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	got, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "gatewayAddr", "ws://10.0.0.5:18789", false))
	got, err = s.Get(ctx, "gatewayAddr")
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:18789", got)

	require.NoError(t, s.Delete(ctx, "gatewayAddr"))
	got, err = s.Get(ctx, "gatewayAddr")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SensitiveValuesAreEnveloped(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.EnableEncryption([]byte("pass")))

	require.NoError(t, s.Set(ctx, keyAuthToken, "sk-secret-token", true))
	require.NoError(t, s.Set(ctx, keyGatewayAddr, "ws://host:1", false))

	raw, enc := rawValue(t, cfg, keyAuthToken)
	assert.True(t, enc)
	assert.NotContains(t, raw, "sk-secret-token")

	raw, enc = rawValue(t, cfg, keyGatewayAddr)
	assert.False(t, enc)
	assert.Equal(t, "ws://host:1", raw)

	got, err := s.Get(ctx, keyAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-token", got)
}

func TestStore_EncryptedValueWhileLocked(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s1 := newTestStore(t, cfg)
	require.NoError(t, s1.EnableEncryption([]byte("pass")))
	require.NoError(t, s1.Set(ctx, keyAuthToken, "tok", true))
	require.NoError(t, s1.Close())

	s2 := newTestStore(t, cfg)
	assert.True(t, s2.NeedsUnlock())

	_, err := s2.Get(ctx, keyAuthToken)
	assert.ErrorIs(t, err, common.ErrNotUnlocked)

	assert.False(t, s2.Unlock([]byte("nope")))
	assert.True(t, s2.Unlock([]byte("pass")))

	got, err := s2.Get(ctx, keyAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}

func TestStore_EnableEncryptionRejectsMismatchedPassphrase(t *testing.T) {
	cfg := testConfig(t)

	s1 := newTestStore(t, cfg)
	require.NoError(t, s1.EnableEncryption([]byte("alpha")))
	require.NoError(t, s1.Close())

	s2 := newTestStore(t, cfg)
	assert.ErrorIs(t, s2.EnableEncryption([]byte("bravo")), common.ErrAuthentication)
	assert.True(t, s2.NeedsUnlock(), "a rejected passphrase must not derive a key")

	require.NoError(t, s2.EnableEncryption([]byte("alpha")))
	assert.False(t, s2.NeedsUnlock())
}

func TestStore_StoreTokenAndDefaults(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.StoreToken(ctx, "tok-1", "", ""))

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	addr, err := s.GatewayAddr(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultGatewayAddr, addr)

	label, err := s.SessionLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSessionLabel, label)
}

func TestStore_TokenReuseDetection(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.StoreToken(ctx, "tok-a", "", ""))
	require.NoError(t, s.StoreToken(ctx, "tok-b", "", ""))

	// tok-a stored only once so far
	reused, err := s.IsTokenReused(ctx, "tok-a")
	require.NoError(t, err)
	assert.False(t, reused)

	// storing tok-a again makes it a reuse
	require.NoError(t, s.StoreToken(ctx, "tok-a", "", ""))
	reused, err = s.IsTokenReused(ctx, "tok-a")
	require.NoError(t, err)
	assert.True(t, reused)

	reused, err = s.IsTokenReused(ctx, "tok-b")
	require.NoError(t, err)
	assert.False(t, reused)

	reused, err = s.IsTokenReused(ctx, "never-stored")
	require.NoError(t, err)
	assert.False(t, reused)
}

func TestStore_TokenHistoryCapped(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < common.TokenHistoryLimit+5; i++ {
		require.NoError(t, s.StoreToken(ctx, "tok-"+string(rune('a'+i)), "", ""))
	}

	entries, err := s.tokenHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, common.TokenHistoryLimit)

	// the oldest fingerprints were evicted
	assert.NotContains(t, historyHashes(entries), hashToken("tok-a"))
	assert.Contains(t, historyHashes(entries), hashToken("tok-"+string(rune('a'+common.TokenHistoryLimit+4))))
}

func historyHashes(entries []tokenHistoryEntry) []string {
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Hash)
	}
	return hashes
}

func TestStore_RotationTiers(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.StoreToken(ctx, "tok", "", ""))

	tests := []struct {
		name string
		age  time.Duration
		want RotationStatus
	}{
		{"fresh", 24 * time.Hour, RotationOK},
		{"just under warning", 59 * 24 * time.Hour, RotationOK},
		{"warning", 60 * 24 * time.Hour, RotationWarning},
		{"just under recommended", 89 * 24 * time.Hour, RotationWarning},
		{"recommended", 90 * 24 * time.Hour, RotationRecommended},
		{"ancient", 400 * 24 * time.Hour, RotationRecommended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.now = func() time.Time { return base.Add(tt.age) }
			status, err := s.RotationStatus(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)

			rotate, err := s.ShouldRotate(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want == RotationRecommended, rotate)
		})
	}
}

func TestStore_TokenAgeWithoutToken(t *testing.T) {
	cfg := testConfig(t)
	s := newTestStore(t, cfg)

	_, err := s.TokenAgeDays(context.Background())
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.RotationStatus(context.Background())
	assert.Error(t, err)
}

func TestStore_HashTokenIsSaltedAndStable(t *testing.T) {
	h1 := hashToken("tok")
	h2 := hashToken("tok")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, hashToken("tok"), hashToken("tok2"))

	// the suffix salt makes the fingerprint differ from a plain digest
	plain := sha256.Sum256([]byte("tok"))
	assert.NotEqual(t, hex.EncodeToString(plain[:]), h1)
}
