package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

type RunStore struct {
	db QueryInterceptor
}

func NewRunStore(db QueryInterceptor) *RunStore {
	return &RunStore{db: db}
}

// Start records a run. Starting the same ID twice restarts it.
func (s *RunStore) Start(ctx context.Context, run models.Run) error {
	query, args, err := sq.Insert("runs").
		Columns("id", "gitlab_url", "project", "started_at").
		Values(run.ID, run.GitLabURL, run.Project, run.StartedAt.UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET started_at = EXCLUDED.started_at, finished_at = NULL").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *RunStore) Finish(ctx context.Context, id string, at time.Time) error {
	query, args, err := sq.Update("runs").
		Set("finished_at", at.UTC()).
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
		return srvErrors.NewResourceNotFoundError("run", id)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	query, args, err := sq.Select("id", "gitlab_url", "project", "started_at", "finished_at").
		From("runs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewResourceNotFoundError("run", id)
	}
	return run, err
}

// List returns runs, most recent first.
func (s *RunStore) List(ctx context.Context) ([]models.Run, error) {
	query, args, err := sq.Select("id", "gitlab_url", "project", "started_at", "finished_at").
		From("runs").
		OrderBy("started_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run      models.Run
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.GitLabURL, &run.Project, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
