package chatstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

// BlobRepository is the degraded persistence path used when the
// transactional backend cannot be opened: the entire chat collection
// serialized as one JSON object keyed by chat id. It is also the legacy
// flat-blob location that the one-time migration drains into SQLite.
type BlobRepository struct {
	path string
}

func NewBlobRepository(path string) *BlobRepository {
	return &BlobRepository{path: path}
}

// Load reads the whole collection. A missing file is an empty collection.
func (r *BlobRepository) Load() (map[string]models.ChatRecord, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.ChatRecord{}, nil
		}
		return nil, fmt.Errorf("reading chat blob: %w", err)
	}

	chats := map[string]models.ChatRecord{}
	if len(data) == 0 {
		return chats, nil
	}
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("parsing chat blob: %w", err)
	}
	return chats, nil
}

// Save overwrites the collection wholesale.
func (r *BlobRepository) Save(chats map[string]models.ChatRecord) error {
	data, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("encoding chat blob: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("writing chat blob: %w", err)
	}
	return nil
}

// HasData reports whether the blob file exists and is non-empty.
func (r *BlobRepository) HasData() bool {
	fi, err := os.Stat(r.path)
	return err == nil && fi.Size() > 0
}

// Remove deletes the blob file; missing files are fine.
func (r *BlobRepository) Remove() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing chat blob: %w", err)
	}
	return nil
}
