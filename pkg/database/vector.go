package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotVectorColumn is returned when the column exists but carries no
// pgvector dimension (an unconstrained "vector" type).
var ErrNotVectorColumn = errors.New("column has no fixed vector dimension")

// VectorColumnDimensions reports N for a pgvector vector(N) column.
// pgvector stores the dimension count in atttypmod.
func VectorColumnDimensions(ctx context.Context, db *sql.DB, table, column string) (int, error) {
	var dims int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = to_regclass($1)
		  AND attname = $2
		  AND NOT attisdropped
	`, table, column).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("vector column %s.%s not found", table, column)
	}
	if err != nil {
		return 0, fmt.Errorf("query vector dimensions of %s.%s: %w", table, column, err)
	}
	if dims <= 0 {
		return 0, fmt.Errorf("%s.%s: %w", table, column, ErrNotVectorColumn)
	}
	return dims, nil
}
