package fixtures

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/scheduler"
)

// Ledger persists fixtures across processes. *store.FixtureStore
// implements it.
type Ledger interface {
	Record(ctx context.Context, runID string, f models.Fixture) (string, error)
	MarkCleaned(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

type tracked struct {
	fixture  models.Fixture
	ledgerID string
}

// Tracker remembers every fixture created during a test and removes them on
// Cleanup. Kinds are torn down in models.FixtureKinds order; fixtures of one
// kind are removed concurrently when a scheduler is set.
type Tracker struct {
	api    API
	ledger Ledger
	runID  string
	sched  *scheduler.Scheduler
	logger *zap.SugaredLogger

	mu      sync.Mutex
	tracked map[models.FixtureKind][]tracked
}

type TrackerOption func(*Tracker)

// WithLedger records fixtures under runID.
func WithLedger(l Ledger, runID string) TrackerOption {
	return func(t *Tracker) {
		t.ledger = l
		t.runID = runID
	}
}

func WithScheduler(s *scheduler.Scheduler) TrackerOption {
	return func(t *Tracker) { t.sched = s }
}

func WithTrackerLogger(l *zap.SugaredLogger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

func NewTracker(api API, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		api:     api,
		logger:  zap.S().Named("fixtures"),
		tracked: make(map[models.FixtureKind][]tracked),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track registers f for teardown. Ledger failures are logged and never
// prevent tracking.
func (t *Tracker) Track(ctx context.Context, f models.Fixture) {
	entry := tracked{fixture: f}
	if t.ledger != nil {
		id, err := t.ledger.Record(ctx, t.runID, f)
		if err != nil {
			t.logger.Warnw("failed to record fixture in ledger", "fixture", f.String(), "error", err)
		}
		entry.ledgerID = id
	}

	t.mu.Lock()
	t.tracked[f.Kind] = append(t.tracked[f.Kind], entry)
	t.mu.Unlock()

	t.logger.Debugw("fixture tracked", "kind", f.Kind, "key", f.Key, "project_id", f.ProjectID)
}

// Tracked returns the fixtures of kind in creation order.
func (t *Tracker) Tracked(kind models.FixtureKind) []models.Fixture {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Fixture, 0, len(t.tracked[kind]))
	for _, e := range t.tracked[kind] {
		out = append(out, e.fixture)
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, entries := range t.tracked {
		n += len(entries)
	}
	return n
}

// CleanupReport summarizes a teardown pass.
type CleanupReport struct {
	Cleaned int
	// Ignored holds API errors, e.g. a test already deleted its fixture.
	Ignored []error
	// Failed holds errors that never reached the API (missing glab binary,
	// cancelled context).
	Failed []error
}

// Err joins the failures that were not API errors.
func (r CleanupReport) Err() error {
	return errors.Join(r.Failed...)
}

// Cleanup tears down everything tracked and forgets it. API errors are
// swallowed.
func (t *Tracker) Cleanup(ctx context.Context) CleanupReport {
	t.mu.Lock()
	pending := t.tracked
	t.tracked = make(map[models.FixtureKind][]tracked)
	t.mu.Unlock()

	var report CleanupReport
	for _, kind := range models.FixtureKinds {
		entries := pending[kind]
		if len(entries) == 0 {
			continue
		}
		for i, err := range t.teardownAll(ctx, entries) {
			t.settle(ctx, entries[i], err, &report)
		}
	}

	t.logger.Infow("fixtures cleaned up",
		"cleaned", report.Cleaned,
		"ignored", len(report.Ignored),
		"failed", len(report.Failed))
	return report
}

func (t *Tracker) teardownAll(ctx context.Context, entries []tracked) []error {
	errs := make([]error, len(entries))

	if t.sched == nil {
		for i, e := range entries {
			errs[i] = Teardown(ctx, t.api, e.fixture)
		}
		return errs
	}

	futures := make([]*scheduler.Future[any], len(entries))
	for i, e := range entries {
		f := e.fixture
		futures[i] = t.sched.AddWork(func(wctx context.Context) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, Teardown(wctx, t.api, f)
		})
	}
	for i, fut := range futures {
		stop := context.AfterFunc(ctx, fut.Stop)
		res := <-fut.C()
		stop()
		errs[i] = res.Err
	}
	return errs
}

func (t *Tracker) settle(ctx context.Context, e tracked, err error, report *CleanupReport) {
	switch {
	case err == nil || srvErrors.IsNotFound(err):
		report.Cleaned++
		t.markCleaned(ctx, e)
	case srvErrors.IsAPIError(err):
		t.logger.Debugw("ignoring teardown error", "fixture", e.fixture.String(), "error", err)
		report.Ignored = append(report.Ignored, err)
		t.markFailed(ctx, e, err)
	default:
		t.logger.Warnw("teardown failed", "fixture", e.fixture.String(), "error", err)
		report.Failed = append(report.Failed, err)
		t.markFailed(ctx, e, err)
	}
}

func (t *Tracker) markCleaned(ctx context.Context, e tracked) {
	if t.ledger == nil || e.ledgerID == "" {
		return
	}
	if err := t.ledger.MarkCleaned(context.WithoutCancel(ctx), e.ledgerID); err != nil {
		t.logger.Warnw("failed to mark fixture cleaned", "fixture", e.fixture.String(), "error", err)
	}
}

func (t *Tracker) markFailed(ctx context.Context, e tracked, cause error) {
	if t.ledger == nil || e.ledgerID == "" {
		return
	}
	if err := t.ledger.MarkFailed(context.WithoutCancel(ctx), e.ledgerID, cause); err != nil {
		t.logger.Warnw("failed to record teardown error", "fixture", e.fixture.String(), "error", err)
	}
}
