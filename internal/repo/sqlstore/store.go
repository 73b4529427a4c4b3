package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/repo"
)

// Store implements repo.RunStore on Postgres or SQLite.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ repo.RunStore = (*Store)(nil)

type Option func(*Store)

// WithClock overrides the clock used for heartbeats and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	if db == nil {
		return nil
	}
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dialect() Dialect {
	if s == nil {
		return ""
	}
	return s.dialect
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	return nil
}

func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
