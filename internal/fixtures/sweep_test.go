package fixtures_test

import (
	"context"
	"database/sql"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fake"
	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/internal/store"
	"github.com/gitlab-skills/live-harness/internal/store/migrations"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
	"github.com/gitlab-skills/live-harness/pkg/scheduler"
)

var _ = Describe("Sweep", func() {
	var (
		ctx       context.Context
		db        *sql.DB
		ledger    *store.FixtureStore
		runs      *store.RunStore
		client    *glab.Client
		sched     *scheduler.Scheduler
		projectID int
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		db, err = store.NewDB(":memory:")
		Expect(err).ToNot(HaveOccurred())
		Expect(migrations.Run(ctx, db)).To(Succeed())
		ledger = store.NewStore(db).Fixtures()
		runs = store.NewStore(db).Runs()

		client = newFakeClient()
		projectID, err = fixtures.ProjectID(ctx, client, fake.DefaultProject)
		Expect(err).ToNot(HaveOccurred())

		sched = scheduler.NewScheduler(2)
	})

	AfterEach(func() {
		sched.Close()
		db.Close()
	})

	const fakeURL = "http://fake.gitlab"

	sweep := func(opts fixtures.SweepOptions) (fixtures.SweepReport, error) {
		opts.GitLabURL = fakeURL
		return fixtures.Sweep(ctx, client, ledger, sched, opts)
	}

	// startRun records a run against url; finished runs get a finish time.
	startRun := func(runID, url string, finished bool) {
		Expect(runs.Start(ctx, models.Run{ID: runID, GitLabURL: url, Project: fake.DefaultProject, StartedAt: time.Now()})).To(Succeed())
		if finished {
			Expect(runs.Finish(ctx, runID, time.Now())).To(Succeed())
		}
	}

	factoryFor := func(runID string) *fixtures.Factory {
		t := fixtures.NewTracker(client, fixtures.WithLedger(ledger, runID))
		return fixtures.NewFactory(client, t, projectID)
	}

	// leak creates fixtures under a finished run and never cleans them up,
	// like a crashed run would.
	leak := func(runID string) *fixtures.Factory {
		startRun(runID, fakeURL, true)
		return factoryFor(runID)
	}

	labelPath := func(name string) string {
		return "/projects/" + fixtures.EncodeProjectPath(fake.DefaultProject) + "/labels/" + fixtures.EncodeLabel(name)
	}

	// Given fixtures left behind by a crashed run
	// When the ledger is swept
	// Then they are removed and no longer pending
	It("removes fixtures a crashed run left behind", func() {
		f := leak("crashed")
		label, err := f.CreateLabel(ctx, "leaked", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())
		_, err = f.CreateBranch(ctx, "leaked/branch", "")
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{RunID: "crashed"})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(HaveLen(2))
		Expect(report.Cleaned).To(Equal(2))

		_, err = client.Get(ctx, labelPath(label.Name))
		Expect(srvErrors.IsNotFound(err)).To(BeTrue())

		pending, err := ledger.ListPending(ctx, "crashed")
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("only touches the requested run", func() {
		_, err := leak("run-a").CreateLabel(ctx, "a", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())
		_, err = leak("run-b").CreateLabel(ctx, "b", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{RunID: "run-a"})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Cleaned).To(Equal(1))

		pending, err := ledger.ListPending(ctx, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].RunID).To(Equal("run-b"))
	})

	It("lists without deleting on a dry run", func() {
		_, err := leak("dry").CreateLabel(ctx, "kept", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{DryRun: true})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(HaveLen(1))
		Expect(report.Pending[0].Fixture.Kind).To(Equal(models.FixtureLabel))
		Expect(report.Cleaned).To(BeZero())

		pending, err := ledger.ListPending(ctx, "dry")
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	// Given a pending fixture already removed by hand
	// When the ledger is swept
	// Then the 404 settles the entry
	It("settles fixtures that are already gone", func() {
		f := leak("manual")
		label, err := f.CreateLabel(ctx, "gone", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())
		_, err = client.Delete(ctx, "/projects/"+fixtures.EncodeProjectPath(fake.DefaultProject)+"/labels/"+label.Name)
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{RunID: "manual"})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Cleaned).To(Equal(1))
	})

	It("refuses to sweep without an instance URL", func() {
		_, err := fixtures.Sweep(ctx, client, ledger, sched, fixtures.SweepOptions{})
		Expect(err).To(HaveOccurred())
	})

	// Given a pending fixture recorded against another instance
	// When this instance is swept
	// Then the foreign entry is neither listed nor deleted
	It("leaves fixtures of other instances alone", func() {
		startRun("elsewhere", "http://other.gitlab", true)
		label, err := factoryFor("elsewhere").CreateLabel(ctx, "foreign", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(BeEmpty())

		_, err = client.Get(ctx, labelPath(label.Name))
		Expect(err).ToNot(HaveOccurred())

		report, err = sweep(fixtures.SweepOptions{RunID: "elsewhere"})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(BeEmpty())
	})

	It("ignores fixtures that belong to no recorded run", func() {
		_, err := factoryFor("unrecorded").CreateLabel(ctx, "orphan", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(BeEmpty())
	})

	// Given a run that is still going
	// When the ledger is swept without naming it
	// Then its fixtures stay in place
	It("skips unfinished runs unless asked", func() {
		startRun("running", fakeURL, false)
		label, err := factoryFor("running").CreateLabel(ctx, "in-use", fixtures.LabelOptions{})
		Expect(err).ToNot(HaveOccurred())

		report, err := sweep(fixtures.SweepOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(BeEmpty())
		_, err = client.Get(ctx, labelPath(label.Name))
		Expect(err).ToNot(HaveOccurred())

		report, err = sweep(fixtures.SweepOptions{IncludeRunning: true, DryRun: true})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Pending).To(HaveLen(1))

		report, err = sweep(fixtures.SweepOptions{RunID: "running"})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Cleaned).To(Equal(1))
		_, err = client.Get(ctx, labelPath(label.Name))
		Expect(srvErrors.IsNotFound(err)).To(BeTrue())
	})
})
