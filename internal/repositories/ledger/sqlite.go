package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/dbx"
	"github.com/voyagehub/assetsync/internal/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Open opens (creating if needed) the ledger database at path and applies
// its migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// one writer keeps SQLite free of "database is locked"
	db.SetMaxOpenConns(1)

	if err := dbx.Migrate(ctx, db, "sqlite3", migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, path string) (*Entry, error) {
	query := `select path, size_bytes, mod_time, object_id, uploaded_at, local_deleted from synced_files where path=?`

	var (
		e                 Entry
		modTime, uploaded int64
	)
	err := r.db.QueryRowContext(ctx, query, path).Scan(&e.Path, &e.SizeBytes, &modTime, &e.ObjectID, &uploaded, &e.LocalDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select ledger entry: %w", err)
	}
	e.ModTime = time.Unix(0, modTime)
	e.UploadedAt = time.Unix(0, uploaded)
	return &e, nil
}

func (r *SQLiteRepository) MarkUploaded(ctx context.Context, e *Entry) error {
	query := ` INSERT INTO synced_files (path, size_bytes, mod_time, object_id, uploaded_at, local_deleted)
			values (?, ?, ?, ?, ?, 0)
			ON CONFLICT(path) DO UPDATE SET
				size_bytes = excluded.size_bytes,
				mod_time = excluded.mod_time,
				object_id = excluded.object_id,
				uploaded_at = excluded.uploaded_at,
				local_deleted = 0
	`
	_, err := r.db.ExecContext(ctx, query, e.Path, e.SizeBytes, e.ModTime.UnixNano(), e.ObjectID, e.UploadedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkLocalDeleted(ctx context.Context, path string) error {
	query := `update synced_files set local_deleted=1 where path=?`
	result, err := r.db.ExecContext(ctx, query, path)
	if err != nil {
		return fmt.Errorf("failed to mark deleted: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("mark deleted %s: %w", path, common.ErrNotFound)
	}
	return nil
}
