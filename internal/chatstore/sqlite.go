package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/chatkeeper/internal/chatstore/migrations"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/models"
)

// InitDatabase opens the chat database and applies the embedded schema
// migrations. A database created by an older build gains any missing
// tables here before the store touches it.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening chat database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating chat database: %w", err)
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx), so the Store can run whole-collection rewrites inside one
// transaction.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// messagesColumn returns the value stored in the messages column: the
// envelope string for encrypted records, the JSON-encoded message list
// otherwise.
func messagesColumn(rec *models.ChatRecord) (string, error) {
	if rec.Encrypted {
		return rec.EncryptedMessages, nil
	}
	msgs := rec.Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("encoding messages: %w", err)
	}
	return string(b), nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.ChatRecord) error {
	msgs, err := messagesColumn(rec)
	if err != nil {
		return err
	}

	query := `INSERT INTO chats (id, title, created_at, updated_at, pinned, pin_order, encrypted, messages)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				pinned = excluded.pinned,
				pin_order = excluded.pin_order,
				encrypted = excluded.encrypted,
				messages = excluded.messages
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.CreatedAt, rec.UpdatedAt,
		boolToInt(rec.Pinned), rec.PinOrder, boolToInt(rec.Encrypted), msgs)
	if err != nil {
		return fmt.Errorf("failed to upsert chat: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.ChatRecord, error) {
	query := `SELECT id, title, created_at, updated_at, pinned, pin_order, encrypted, messages FROM chats`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select chats: %w", err)
	}
	defer rows.Close()

	var result []models.ChatRecord
	for rows.Next() {
		var (
			item        models.ChatRecord
			pinned, enc int
			messagesRaw string
		)
		if err := rows.Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt,
			&pinned, &item.PinOrder, &enc, &messagesRaw); err != nil {
			return nil, err
		}
		item.Pinned = pinned != 0
		if !item.Pinned {
			item.PinOrder = 0
		}
		if enc != 0 {
			item.Encrypted = true
			item.EncryptedMessages = messagesRaw
		} else if messagesRaw != "" {
			if err := json.Unmarshal([]byte(messagesRaw), &item.Messages); err != nil {
				return nil, fmt.Errorf("decoding messages for chat %s: %w", item.ID, err)
			}
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("chat %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chats: %w", err)
	}
	return n, nil
}

// DeleteAll clears the whole collection; used by the Store's SaveAll
// inside a transaction.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chats`); err != nil {
		return fmt.Errorf("failed to clear chats: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SQLiteMetadata implements Metadata over the metadata table.
type SQLiteMetadata struct {
	db dbx.DBTX
}

func NewSQLiteMetadata(db dbx.DBTX) *SQLiteMetadata {
	return &SQLiteMetadata{db: db}
}

func (r *SQLiteMetadata) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteMetadata) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteMetadata) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}
