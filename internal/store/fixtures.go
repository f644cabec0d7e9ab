package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

var fixtureColumns = []string{"id", "run_id", "kind", "project_id", "resource_key", "created_at", "cleaned_at", "last_error"}

// FixtureStore persists created fixtures so teardown can be replayed by a
// later sweep when a run dies before cleaning up.
type FixtureStore struct {
	db QueryInterceptor
}

func NewFixtureStore(db QueryInterceptor) *FixtureStore {
	return &FixtureStore{db: db}
}

// Record stores a freshly created fixture and returns its ledger ID.
func (s *FixtureStore) Record(ctx context.Context, runID string, f models.Fixture) (string, error) {
	id := uuid.NewString()
	query, args, err := sq.Insert("fixtures").
		Columns("id", "run_id", "kind", "project_id", "resource_key", "created_at").
		Values(id, runID, string(f.Kind), f.ProjectID, f.Key, time.Now().UTC()).
		ToSql()
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", err
	}
	return id, nil
}

// MarkCleaned flags the entry as torn down.
func (s *FixtureStore) MarkCleaned(ctx context.Context, id string) error {
	return s.update(ctx, id, sq.Eq{"cleaned_at": time.Now().UTC(), "last_error": ""})
}

// MarkFailed keeps the entry pending and remembers why teardown failed.
func (s *FixtureStore) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.update(ctx, id, sq.Eq{"last_error": cause.Error()})
}

func (s *FixtureStore) update(ctx context.Context, id string, values sq.Eq) error {
	query, args, err := sq.Update("fixtures").
		SetMap(values).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return srvErrors.NewResourceNotFoundError("ledger entry", id)
	}
	return nil
}

func (s *FixtureStore) Get(ctx context.Context, id string) (*models.LedgerEntry, error) {
	query, args, err := sq.Select(fixtureColumns...).
		From("fixtures").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewResourceNotFoundError("ledger entry", id)
	}
	return entry, err
}

// List returns entries matching filter in creation order.
func (s *FixtureStore) List(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	builder := sq.Select(fixtureColumns...).
		From("fixtures").
		OrderBy("created_at", "id")

	if filter.RunID != "" {
		builder = builder.Where(sq.Eq{"run_id": filter.RunID})
	}
	if filter.Kind != "" {
		builder = builder.Where(sq.Eq{"kind": string(filter.Kind)})
	}
	if filter.PendingOnly {
		builder = builder.Where(sq.Eq{"cleaned_at": nil})
	}
	if filter.GitLabURL != "" || filter.FinishedRunsOnly {
		runs := sq.Select("id").From("runs")
		if filter.GitLabURL != "" {
			runs = runs.Where(sq.Eq{"gitlab_url": filter.GitLabURL})
		}
		if filter.FinishedRunsOnly {
			runs = runs.Where(sq.NotEq{"finished_at": nil})
		}
		sub, subArgs, err := runs.ToSql()
		if err != nil {
			return nil, err
		}
		builder = builder.Where(sq.Expr("run_id IN ("+sub+")", subArgs...))
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// ListPending returns fixtures never cleaned. An empty runID covers all runs.
func (s *FixtureStore) ListPending(ctx context.Context, runID string) ([]models.LedgerEntry, error) {
	return s.List(ctx, models.LedgerFilter{RunID: runID, PendingOnly: true})
}

// Summary counts entries per kind.
func (s *FixtureStore) Summary(ctx context.Context, runID string) ([]models.LedgerSummary, error) {
	builder := sq.Select("kind", "count(*)", "count(*) FILTER (WHERE cleaned_at IS NULL)").
		From("fixtures").
		GroupBy("kind").
		OrderBy("kind")
	if runID != "" {
		builder = builder.Where(sq.Eq{"run_id": runID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerSummary
	for rows.Next() {
		var (
			sum  models.LedgerSummary
			kind string
		)
		if err := rows.Scan(&kind, &sum.Total, &sum.Pending); err != nil {
			return nil, err
		}
		sum.Kind = models.FixtureKind(kind)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Prune deletes cleaned entries created before the cutoff.
func (s *FixtureStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := sq.Delete("fixtures").
		Where(sq.NotEq{"cleaned_at": nil}).
		Where(sq.Lt{"created_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var (
		e       models.LedgerEntry
		kind    string
		cleaned sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.RunID, &kind, &e.Fixture.ProjectID, &e.Fixture.Key, &e.CreatedAt, &cleaned, &e.LastError); err != nil {
		return nil, err
	}
	e.Fixture.Kind = models.FixtureKind(kind)
	if cleaned.Valid {
		t := cleaned.Time
		e.CleanedAt = &t
	}
	return &e, nil
}
