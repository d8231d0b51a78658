// Package chatstore persists chat records in a transactional SQLite
// database, falling back to a single JSON blob when the database cannot
// be opened. Chat metadata stays cleartext so the chat list renders
// without a passphrase; only the message list is enveloped when
// encryption is enabled.
package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/config"
	"github.com/dmitrijs2005/chatkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/filex"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

const (
	dbFileName   = "chats.db"
	blobFileName = "chats.json"

	cryptoNamespace = "chats"

	// metaKeyLegacyMigrated guards the one-time blob migration. Emptiness
	// of the chats table alone never re-triggers it: a user who deletes
	// every chat must not get stale fallback data re-imported.
	metaKeyLegacyMigrated = "legacy_migrated"

	quotaWarnPercent = 90
)

// Store is the conversation store. A Store that failed to open its
// SQLite backend runs in fallback mode for the rest of its lifetime and
// never retries the transactional path.
type Store struct {
	cfg    *config.Config
	log    logging.Logger
	crypto *cryptox.Envelope

	db   *sql.DB
	repo *SQLiteRepository
	meta *SQLiteMetadata
	blob *BlobRepository

	fallbackMode bool
}

// New opens (or creates) the chat database under cfg.DataDir and returns
// a ready Store. Backend failure is not fatal: the store degrades to the
// blob path and reports it via Fallback().
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}

	dir, err := filex.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("preparing data dir: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		log:    log.With("component", "chatstore"),
		crypto: cryptox.NewEnvelope(cryptoNamespace, dir),
		blob:   NewBlobRepository(filepath.Join(dir, blobFileName)),
	}

	db, err := InitDatabase(ctx, filepath.Join(dir, dbFileName))
	if err != nil {
		s.log.Warn(ctx, "transactional backend unavailable, using blob fallback",
			"error", fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err))
		s.fallbackMode = true
		return s, nil
	}

	s.db = db
	s.repo = NewSQLiteRepository(db)
	s.meta = NewSQLiteMetadata(db)
	return s, nil
}

func (s *Store) Close() error {
	s.crypto.Lock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Fallback reports whether the store runs on the degraded blob backend.
func (s *Store) Fallback() bool { return s.fallbackMode }

// Encrypted reports whether encryption has ever been enabled for this store.
func (s *Store) Encrypted() bool { return s.crypto.Configured() }

// NeedsUnlock reports whether encrypted data is present but no key has
// been derived yet this session.
func (s *Store) NeedsUnlock() bool { return s.crypto.Configured() && !s.crypto.Unlocked() }

// EnableEncryption derives a key from the passphrase, persisting salt and
// verification probe on first use. Existing records stay plaintext until
// their next save. On a store that already has a key, the passphrase must
// open the existing probe: deriving a second key would split the records
// across two keys.
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

// Unlock verifies the passphrase against the stored probe and derives the
// key on success. Returns false for a wrong passphrase or when encryption
// was never enabled.
func (s *Store) Unlock(passphrase []byte) bool {
	if !s.crypto.Configured() {
		return false
	}
	if !s.crypto.VerifyPassword(passphrase) {
		return false
	}
	return s.crypto.Unlock(passphrase) == nil
}

// DisableEncryption decrypts every record, wipes the store's key
// material, and re-saves the collection in plaintext. A record whose
// envelope cannot be opened blocks the switch: clearing the salt would
// make that envelope permanently unrecoverable.
func (s *Store) DisableEncryption(ctx context.Context) error {
	if s.NeedsUnlock() {
		return common.ErrNotUnlocked
	}

	chats, err := s.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading chats before disabling encryption: %w", err)
	}
	for id, rec := range chats {
		if rec.DecryptionFailed {
			return fmt.Errorf("chat %s has an unreadable envelope, keeping key material: %w", id, common.ErrAuthentication)
		}
	}

	if err := s.crypto.Clear(); err != nil {
		return err
	}

	return s.SaveAll(ctx, chats)
}

// LoadAll returns every chat record keyed by id, decrypting message lists
// where possible. A record whose envelope fails to open comes back with
// an empty message list and DecryptionFailed set; it never fails the
// whole load. On first use LoadAll also drains the legacy blob into the
// transactional backend, exactly once, guarded by an explicit flag.
func (s *Store) LoadAll(ctx context.Context) (map[string]models.ChatRecord, error) {
	if s.fallbackMode {
		raw, err := s.blob.Load()
		if err != nil {
			return nil, err
		}
		out := make(map[string]models.ChatRecord, len(raw))
		for id, rec := range raw {
			out[id] = s.decryptRecord(ctx, rec)
		}
		return out, nil
	}

	recs, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading chats: %w", err)
	}

	out := make(map[string]models.ChatRecord, len(recs))
	for _, rec := range recs {
		out[rec.ID] = s.decryptRecord(ctx, rec)
	}

	if migrated, err := s.legacyMigrated(ctx); err == nil && !migrated {
		if imported, ok := s.migrateLegacy(ctx, len(out)); ok && imported != nil {
			out = imported
		}
	}

	return out, nil
}

func (s *Store) legacyMigrated(ctx context.Context) (bool, error) {
	v, err := s.meta.Get(ctx, metaKeyLegacyMigrated)
	if err != nil {
		return false, err
	}
	return string(v) == "1", nil
}

// migrateLegacy copies blob data into SQLite when the transactional
// store has never held a record, then erases the blob. The completion
// flag is written on success or when there is nothing to migrate; a
// failed import leaves it unset so a later load can retry.
func (s *Store) migrateLegacy(ctx context.Context, currentCount int) (map[string]models.ChatRecord, bool) {
	markDone := func() {
		if err := s.meta.Set(ctx, metaKeyLegacyMigrated, []byte("1")); err != nil {
			s.log.Error(ctx, "failed to record migration completion", "error", err)
		}
	}

	if currentCount > 0 || !s.blob.HasData() {
		markDone()
		return nil, false
	}

	legacy, err := s.blob.Load()
	if err != nil {
		s.log.Error(ctx, "failed to read legacy blob", "error", err)
		return nil, false
	}
	if len(legacy) == 0 {
		markDone()
		return nil, false
	}

	if err := s.SaveAll(ctx, legacy); err != nil {
		s.log.Error(ctx, "legacy migration failed", "error", err)
		return nil, false
	}
	if err := s.blob.Remove(); err != nil {
		s.log.Warn(ctx, "migrated legacy chats but failed to clear blob", "error", err)
	}
	markDone()
	s.log.Info(ctx, "migrated legacy chats into transactional store", "count", len(legacy))

	out := make(map[string]models.ChatRecord, len(legacy))
	for id, rec := range legacy {
		out[id] = s.decryptRecord(ctx, rec)
	}
	return out, true
}

// SaveAll replaces the whole collection: clear plus reinsert as one
// transaction on the primary backend, a wholesale blob overwrite on the
// fallback.
func (s *Store) SaveAll(ctx context.Context, chats map[string]models.ChatRecord) error {
	if s.fallbackMode {
		toSave := make(map[string]models.ChatRecord, len(chats))
		for id, rec := range chats {
			enc, err := s.encryptRecord(rec)
			if err != nil {
				return err
			}
			toSave[id] = enc
		}
		return s.blob.Save(toSave)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := NewSQLiteRepository(tx)
		if err := repo.DeleteAll(ctx); err != nil {
			return err
		}
		for _, rec := range chats {
			enc, err := s.encryptRecord(rec)
			if err != nil {
				return err
			}
			if err := repo.Upsert(ctx, &enc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving chats: %w", err)
	}
	return nil
}

// SaveOne persists a single record. After a failed write the store
// checks storage pressure and, above the warning threshold, reports
// quota exhaustion alongside the raw error.
func (s *Store) SaveOne(ctx context.Context, rec models.ChatRecord) error {
	enc, err := s.encryptRecord(rec)
	if err != nil {
		return err
	}

	if s.fallbackMode {
		all, err := s.blob.Load()
		if err != nil {
			return err
		}
		all[rec.ID] = enc
		if err := s.blob.Save(all); err != nil {
			return s.wrapWriteError(ctx, rec.ID, err)
		}
		return nil
	}

	if err := s.repo.Upsert(ctx, &enc); err != nil {
		return s.wrapWriteError(ctx, rec.ID, err)
	}
	return nil
}

func (s *Store) wrapWriteError(ctx context.Context, id string, err error) error {
	usage, usageErr := filex.DirSize(s.cfg.DataDir)
	if usageErr == nil && s.cfg.StorageQuotaBytes > 0 {
		percent := usage * 100 / s.cfg.StorageQuotaBytes
		if percent > quotaWarnPercent {
			s.log.Warn(ctx, "storage nearly full",
				"used_bytes", usage, "quota_bytes", s.cfg.StorageQuotaBytes, "used_percent", percent)
			return fmt.Errorf("saving chat %s: %w: %w", id, common.ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("saving chat %s: %w", id, err)
}

// DeleteOne removes a record by id.
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	if s.fallbackMode {
		all, err := s.blob.Load()
		if err != nil {
			return err
		}
		if _, ok := all[id]; !ok {
			return fmt.Errorf("chat %s: %w", id, common.ErrNotFound)
		}
		delete(all, id)
		return s.blob.Save(all)
	}
	return s.repo.DeleteByID(ctx, id)
}

// encryptRecord envelopes the message list when a key is available.
// Records already holding ciphertext pass through untouched.
func (s *Store) encryptRecord(rec models.ChatRecord) (models.ChatRecord, error) {
	if rec.Encrypted || !s.crypto.Unlocked() {
		return rec, nil
	}

	msgs := rec.Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	plaintext, err := json.Marshal(msgs)
	if err != nil {
		return rec, fmt.Errorf("encoding messages for chat %s: %w", rec.ID, err)
	}

	env, err := s.crypto.Encrypt(string(plaintext))
	if err != nil {
		return rec, fmt.Errorf("encrypting chat %s: %w", rec.ID, err)
	}

	rec.Encrypted = true
	rec.EncryptedMessages = env
	rec.Messages = nil
	return rec, nil
}

// decryptRecord opens an enveloped message list. Failure downgrades to an
// empty list plus the DecryptionFailed marker so the UI can tell a bad
// record apart from an empty chat. The sealed payload is kept: a failed
// record that goes through a save round-trip must come back with its
// envelope intact, not blanked.
func (s *Store) decryptRecord(ctx context.Context, rec models.ChatRecord) models.ChatRecord {
	if !rec.Encrypted {
		return rec
	}
	if !s.crypto.Unlocked() {
		return rec
	}

	plaintext, err := s.crypto.Decrypt(rec.EncryptedMessages)
	if err == nil {
		var msgs []models.Message
		if jsonErr := json.Unmarshal([]byte(plaintext), &msgs); jsonErr == nil {
			rec.Messages = msgs
			rec.Encrypted = false
			rec.EncryptedMessages = ""
			return rec
		} else {
			err = jsonErr
		}
	}

	s.log.Error(ctx, "failed to decrypt chat", "chat_id", rec.ID, "error", err)
	rec.Messages = []models.Message{}
	rec.DecryptionFailed = true
	return rec
}
