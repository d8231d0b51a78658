// Package dbx holds the small database plumbing shared by the SQLite
// stores: an interface (DBTX) satisfied by both *sql.DB and *sql.Tx, and
// a transaction-scoping helper.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql the stores use. Because *sql.DB and
// *sql.Tx both satisfy it, a repository works identically inside and
// outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with the transactional handle, and
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// The conversation store's whole-collection rewrite runs through this:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    repo := NewSQLiteRepository(tx)
//	    if err := repo.DeleteAll(ctx); err != nil {
//	        return err
//	    }
//	    return repo.Upsert(ctx, rec)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
