package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/store/migrations"
)

// Store gives access to the fixture ledger.
type Store struct {
	db       *sql.DB
	runs     *RunStore
	fixtures *FixtureStore
}

func NewStore(db *sql.DB) *Store {
	qi := newQueryInterceptor(db)
	return &Store{
		db:       db,
		runs:     NewRunStore(qi),
		fixtures: NewFixtureStore(qi),
	}
}

// Open opens the ledger at path and brings its schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	zap.S().Named("ledger").Debugw("ledger opened", "path", path)
	return NewStore(db), nil
}

func (s *Store) Runs() *RunStore {
	return s.runs
}

func (s *Store) Fixtures() *FixtureStore {
	return s.fixtures
}

func (s *Store) Close() error {
	return s.db.Close()
}
