package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema returns the DDL of a dialect.
func Schema(dialect Dialect) (string, error) {
	if err := dialect.Validate(); err != nil {
		return "", err
	}
	raw, err := schemaFS.ReadFile("schema/" + string(dialect) + ".sql")
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	return string(raw), nil
}

// Migrate creates the tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, db DB, dialect Dialect) error {
	schema, err := Schema(dialect)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	parts := strings.Split(schema, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
