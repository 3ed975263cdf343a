package schema

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var DDL string

// Migrate creates any missing tables, indexes, and views. It is safe to run
// on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, DDL); err != nil {
		return fmt.Errorf("schema.Migrate: %w", err)
	}

	return nil
}
