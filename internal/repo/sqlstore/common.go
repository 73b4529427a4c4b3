package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect selects the SQL flavour. Queries are written for Postgres and
// rebound for SQLite.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(value string) (Dialect, error) {
	d := Dialect(strings.ToLower(strings.TrimSpace(value)))
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

func (d Dialect) Validate() error {
	switch d {
	case Postgres, SQLite:
		return nil
	default:
		return fmt.Errorf("unsupported database dialect %q (want postgres or sqlite)", string(d))
	}
}

// SQLite timestamps are stored as fixed width UTC text so that string
// comparison orders them like instants.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func (d Dialect) rebind(query string) string {
	if d != SQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?$1")
}

// lockClause locks the selected row until the transaction ends. SQLite runs
// one writer at a time and needs none.
func (d Dialect) lockClause() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (d Dialect) timeArg(t time.Time) any {
	if d == SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (d Dialect) jsonArg(raw []byte) any {
	if d == SQLite {
		return string(raw)
	}
	return raw
}

// dbTime scans timestamps from either driver.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: v.UTC(), Valid: true}
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	*t = dbTime{Time: parsed.UTC(), Valid: true}
	return nil
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func encodeMetadata(meta domain.Metadata) ([]byte, error) {
	if meta == nil {
		meta = domain.Metadata{}
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (domain.Metadata, error) {
	if len(raw) == 0 {
		return domain.Metadata{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Metadata(out), nil
}

func nullIfEmpty(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func handleNotFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf(format, args...)
	}
	return err
}
