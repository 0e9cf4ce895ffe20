package overrides

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/voyagehub/assetsync/internal/dbx"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (string, bool, error) {
	query := `SELECT value FROM storage_overrides WHERE id=$1`

	var value string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to select override: %w", err)
	}
	return value, true, nil
}

func (r *PostgresRepository) Set(ctx context.Context, id, value string) error {
	query := `
		INSERT INTO storage_overrides (id, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;
	`
	res, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM storage_overrides WHERE id=$1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Override, error) {
	query := `SELECT id, value, updated_at FROM storage_overrides ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select overrides: %w", err)
	}
	defer rows.Close()

	var result []Override
	for rows.Next() {
		var item Override
		if err := rows.Scan(&item.ID, &item.Value, &item.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
