package chatstore

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

// Repository describes the persistence operations the Store needs from a
// chat backend. The SQLite implementation is the primary, transactional
// path; the blob fallback implements the same collection semantics over
// a single JSON file.
type Repository interface {
	// GetAll returns every stored chat record. Encrypted records come
	// back with their envelope intact; decryption is the Store's job.
	GetAll(ctx context.Context) ([]models.ChatRecord, error)

	// Upsert inserts a new record or replaces an existing one by id.
	Upsert(ctx context.Context, rec *models.ChatRecord) error

	// DeleteByID removes a record. Missing ids fail with common.ErrNotFound.
	DeleteByID(ctx context.Context, id string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Metadata is a small key/value side table used for store bookkeeping,
// e.g. the legacy-migration completion flag.
type Metadata interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
