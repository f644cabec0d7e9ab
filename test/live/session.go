package live

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/cmd"
	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/internal/store"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
	"github.com/gitlab-skills/live-harness/pkg/scheduler"
)

// ErrNoToken means the run has nothing to authenticate with.
var ErrNoToken = errors.New("GITLAB_TOKEN not set - run harness stack up and harness stack seed --write first")

// UnavailableError means the instance did not answer GET /version.
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("GitLab not reachable at %s: %v", e.URL, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsSkippable reports whether err means the live specs cannot run here, as
// opposed to a broken harness.
func IsSkippable(err error) bool {
	var unavailable *UnavailableError
	return errors.Is(err, ErrNoToken) ||
		errors.As(err, &unavailable) ||
		srvErrors.IsResourceNotFoundError(err)
}

// Session is shared by every live spec of a run.
type Session struct {
	Config    *config.Configuration
	API       *glab.Client
	Version   *glab.Version
	ProjectID int
	GroupID   int
	RunID     string

	ledger *store.Store
	sched  *scheduler.Scheduler
	logger *zap.SugaredLogger
}

// Open reads .env.test from the module root and the GITLAB_* variables,
// then resolves the seeded group and project. opts are appended to the
// client options derived from the configuration.
func Open(ctx context.Context, opts ...glab.Option) (*Session, error) {
	root, err := moduleRoot()
	if err != nil {
		return nil, err
	}

	cfg := config.NewConfigurationWithOptionsAndDefaults()
	if err := cmd.LoadConfiguration(cfg, filepath.Join(root, config.DefaultEnvFile)); err != nil {
		return nil, err
	}
	if !cfg.HasToken() {
		return nil, ErrNoToken
	}
	if !filepath.IsAbs(cfg.Ledger.Path) {
		cfg.Ledger.Path = filepath.Join(root, cfg.Ledger.Path)
	}

	s := &Session{
		Config: cfg,
		API:    glab.NewClient(cfg.Credentials(), append(cfg.ClientOptions(), opts...)...),
		RunID:  uuid.NewString(),
		logger: zap.S().Named("live"),
	}

	s.Version, err = s.API.Ping(ctx)
	if err != nil {
		return nil, &UnavailableError{URL: cfg.GitLab.URL, Err: err}
	}

	if s.ProjectID, err = fixtures.ProjectID(ctx, s.API, cfg.GitLab.Project); err != nil {
		return nil, err
	}
	if s.GroupID, err = fixtures.GroupID(ctx, s.API, cfg.GitLab.Group); err != nil {
		return nil, err
	}

	s.sched = scheduler.NewScheduler(cfg.Fixtures.CleanupWorkers)

	if cfg.Ledger.Enabled {
		if s.ledger, err = store.Open(ctx, cfg.Ledger.Path); err != nil {
			s.sched.Close()
			return nil, err
		}
		if err := s.ledger.Runs().Start(ctx, models.Run{
			ID:        s.RunID,
			GitLabURL: cfg.GitLab.URL,
			Project:   cfg.GitLab.Project,
			StartedAt: time.Now(),
		}); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}

	s.logger.Infow("live session opened",
		"url", cfg.GitLab.URL,
		"version", s.Version.Version,
		"project_id", s.ProjectID,
		"run", s.RunID)
	return s, nil
}

// Close finishes the run in the ledger and stops the teardown workers.
func (s *Session) Close(ctx context.Context) {
	if s.ledger != nil {
		if err := s.ledger.Runs().Finish(ctx, s.RunID, time.Now()); err != nil {
			s.logger.Warnw("failed to finish run", "run", s.RunID, "error", err)
		}
		_ = s.ledger.Close()
	}
	if s.sched != nil {
		s.sched.Close()
	}
}

// Project is the full path of the seeded project, as glab --repo wants it.
func (s *Session) Project() string {
	return s.Config.GitLab.Project
}

// As returns the client of role. The error is an UnknownRoleError when the
// run has no token for it.
func (s *Session) As(role glab.Role) (*glab.Client, error) {
	return s.API.AsRole(role)
}

// NewTracker returns a tracker recording into the ledger when one is open.
func (s *Session) NewTracker() *fixtures.Tracker {
	opts := []fixtures.TrackerOption{
		fixtures.WithScheduler(s.sched),
		fixtures.WithTrackerLogger(s.logger.Named("fixtures")),
	}
	if s.ledger != nil {
		opts = append(opts, fixtures.WithLedger(s.ledger.Fixtures(), s.RunID))
	}
	return fixtures.NewTracker(s.API, opts...)
}

// NewFactory returns a factory creating fixtures in the seeded project. The
// caller owns the cleanup of its tracker.
func (s *Session) NewFactory() *fixtures.Factory {
	return fixtures.NewFactory(s.API, s.NewTracker(), s.ProjectID,
		fixtures.WithDefaultRef(s.Config.Fixtures.DefaultRef))
}

// ProjectPath formats an endpoint under /projects/{id}.
func (s *Session) ProjectPath(format string, args ...any) string {
	return fmt.Sprintf("/projects/%d", s.ProjectID) + fmt.Sprintf(format, args...)
}

// GroupPath formats an endpoint under /groups/{id}.
func (s *Session) GroupPath(format string, args ...any) string {
	return fmt.Sprintf("/groups/%d", s.GroupID) + fmt.Sprintf(format, args...)
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory")
		}
		dir = parent
	}
}
