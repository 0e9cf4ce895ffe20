package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voyagehub/assetsync/internal/dbx"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Snapshot reads the whole export view for kind inside a read-only
// transaction. NULL cells become "".
func (r *PostgresRepository) Snapshot(ctx context.Context, kind Kind) (*Table, error) {
	view, ok := views[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	var table *Table
	opts := &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	err := dbx.WithTx(ctx, r.db, opts, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := readTable(ctx, tx, view)
		if err != nil {
			return err
		}
		table = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", kind, err)
	}
	return table, nil
}

func readTable(ctx context.Context, q dbx.DBTX, view string) (*Table, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY 1`, view))
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", view, err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns error: %w", err)
	}

	table := &Table{Header: header}
	for rows.Next() {
		cells := make([]sql.NullString, len(header))
		dest := make([]any, len(header))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]string, len(header))
		for i, c := range cells {
			row[i] = c.String
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return table, nil
}
