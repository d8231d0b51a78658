// Package credstore persists the remote-service auth token and
// connection settings in its own SQLite database. Sensitive values are
// enveloped individually so non-sensitive fields (gateway address,
// session label) stay queryable without a passphrase.
package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/config"
	"github.com/dmitrijs2005/chatkeeper/internal/credstore/migrations"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/filex"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
)

const (
	dbFileName      = "creds.db"
	cryptoNamespace = "creds"

	keyAuthToken      = "authToken"
	keyGatewayAddr    = "gatewayAddr"
	keySessionLabel   = "sessionLabel"
	keyTokenCreatedAt = "tokenCreatedAt"
	keyTokenHistory   = "tokenHistory"

	defaultGatewayAddr  = "ws://127.0.0.1:18789"
	defaultSessionLabel = "main"
)

// Store is the credential store.
type Store struct {
	cfg    *config.Config
	log    logging.Logger
	crypto *cryptox.Envelope
	db     *sql.DB

	// now is a test seam for time-dependent policies.
	now func() time.Time
}

// New opens (or creates) the credential database under cfg.DataDir.
// Unlike the conversation store there is no degraded path here; a
// credential store that cannot open its backend is an error.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	dir, err := filex.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("preparing data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: opening credential database: %w", common.ErrBackendUnavailable, err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrating credential database: %w", common.ErrBackendUnavailable, err)
	}

	return &Store{
		cfg:    cfg,
		log:    log.With("component", "credstore"),
		crypto: cryptox.NewEnvelope(cryptoNamespace, dir),
		db:     db,
		now:    time.Now,
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

func (s *Store) Close() error {
	s.crypto.Lock()
	return s.db.Close()
}

// Encrypted reports whether encryption has ever been enabled for this store.
func (s *Store) Encrypted() bool { return s.crypto.Configured() }

// NeedsUnlock reports whether encrypted values are present but no key
// has been derived yet this session.
func (s *Store) NeedsUnlock() bool { return s.crypto.Configured() && !s.crypto.Unlocked() }

// EnableEncryption derives a key from the passphrase, persisting salt
// and verification probe on first use. Once a key exists, the passphrase
// must open the existing probe.
func (s *Store) EnableEncryption(passphrase []byte) error {
	if s.crypto.Configured() && !s.crypto.VerifyPassword(passphrase) {
		return fmt.Errorf("enabling encryption: passphrase does not match existing key: %w", common.ErrAuthentication)
	}
	if err := s.crypto.Unlock(passphrase); err != nil {
		return fmt.Errorf("enabling encryption: %w", err)
	}
	if err := s.crypto.CreateProbe(); err != nil {
		return fmt.Errorf("creating verification probe: %w", err)
	}
	return nil
}

// Unlock verifies the passphrase against the stored probe and derives
// the key on success.
func (s *Store) Unlock(passphrase []byte) bool {
	if !s.crypto.Configured() {
		return false
	}
	if !s.crypto.VerifyPassword(passphrase) {
		return false
	}
	return s.crypto.Unlock(passphrase) == nil
}

// Set stores a value under key. Sensitive values are enveloped
// individually when a key is available; everything else is stored
// cleartext. The created timestamp is preserved across updates.
func (s *Store) Set(ctx context.Context, key, value string, sensitive bool) error {
	encrypted := false
	if sensitive && s.crypto.Unlocked() {
		env, err := s.crypto.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting config[%s]: %w", key, err)
		}
		value = env
		encrypted = true
	}

	nowMs := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, encrypted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			encrypted = excluded.encrypted,
			updated_at = excluded.updated_at
	`, key, value, boolToInt(encrypted), nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("failed to set config[%s]: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, decrypting it if needed. A
// missing key yields an empty string and no error. An encrypted value
// read while locked fails with common.ErrNotUnlocked.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var (
		value     string
		encrypted int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, encrypted FROM config WHERE key = ?`, key).Scan(&value, &encrypted)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config[%s]: %w", key, err)
	}

	if encrypted == 0 {
		return value, nil
	}
	if !s.crypto.Unlocked() {
		return "", fmt.Errorf("config[%s]: %w", key, common.ErrNotUnlocked)
	}
	plain, err := s.crypto.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("decrypting config[%s]: %w", key, err)
	}
	return plain, nil
}

// Delete removes a value.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete config[%s]: %w", key, err)
	}
	return nil
}

// Clear wipes every stored value. Key material stays; callers disable
// encryption separately if that is what they want.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config`); err != nil {
		return fmt.Errorf("failed to clear config: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
