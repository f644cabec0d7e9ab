package live

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fake"
	"github.com/gitlab-skills/live-harness/internal/fixtures"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("skill assertions", Label("offline"), func() {
	var (
		ctx     context.Context
		api     *glab.Client
		project string
	)

	BeforeEach(func() {
		ctx = context.Background()
		inst := fake.New("live-test")
		creds, err := inst.Issuer.Credentials("http://fake.gitlab", "fake.gitlab")
		Expect(err).ToNot(HaveOccurred())
		api = glab.NewClient(creds, glab.WithRunner(inst.Runner()), glab.WithRetries(1))

		id, err := fixtures.ProjectID(ctx, api, fake.DefaultProject)
		Expect(err).ToNot(HaveOccurred())
		project = fixtures.EncodeProjectPath(fake.DefaultProject)
		Expect(id).ToNot(BeZero())
	})

	Context("API helpers", func() {
		It("should decode objects and check their fields", func() {
			got := APIGet(ctx, api, "/projects/"+project)

			ExpectObject(got)
			ExpectFieldEquals(got, "path_with_namespace", fake.DefaultProject)
			ExpectFieldContains(got, "path_with_namespace", "test-project")
			Expect(ID(got, "id")).To(BeNumerically(">", 0))
		})

		// Given a label that does not exist
		// When it is fetched with 404 tolerated
		// Then the helper returns nil instead of failing
		It("should return nil for a tolerated status", func() {
			got := APIGet(ctx, api, "/projects/"+project+"/labels/missing", 404)

			Expect(got).To(BeNil())
		})

		It("should fail on an unexpected status", func() {
			failures := InterceptGomegaFailures(func() {
				APIGet(ctx, api, "/projects/"+project+"/labels/missing", 403)
			})

			Expect(failures).To(HaveLen(1))
			Expect(failures[0]).To(ContainSubstring("GET /projects/"))
		})

		It("should create, list and delete through the helpers", func() {
			created := APIPost(ctx, api, "/projects/"+project+"/labels", map[string]any{
				"name":  "helper-label",
				"color": "#123456",
			})
			ExpectFieldEquals(created, "name", "helper-label")

			list := ExpectList(APIGet(ctx, api, "/projects/"+project+"/labels"), 1)
			Expect(Names(list, "name")).To(ContainElement("helper-label"))

			APIDelete(ctx, api, "/projects/"+project+"/labels/helper-label")
			Expect(APIGet(ctx, api, "/projects/"+project+"/labels/helper-label", 404)).To(BeNil())
		})
	})

	Context("shape assertions", func() {
		It("should reject short lists and non-objects", func() {
			failures := InterceptGomegaFailures(func() {
				ExpectList([]any{1}, 2)
			})
			Expect(failures).To(ContainElement(ContainSubstring("expected at least 2 items, got 1")))

			failures = InterceptGomegaFailures(func() {
				ExpectObject([]any{})
			})
			Expect(failures).To(ContainElement(ContainSubstring("expected object, got []interface {}")))
		})

		It("should compare integers with decoded JSON numbers", func() {
			ExpectFieldEquals(map[string]any{"iid": float64(3)}, "iid", 3)
		})
	})

	Context("CLI assertions", func() {
		It("should check exit codes and combined output", func() {
			out := Glab(ctx, api, "", "version")

			ExpectSuccess(out)
			ExpectOutputContains(out, "glab version")
			ExpectOutputNotContains(out, "error")
		})

		It("should see a failed command", func() {
			out := Glab(ctx, api, "", "no-such-command")

			ExpectFailure(out)
			ExpectOutputContains(out, "unknown command")
		})
	})

	Context("permissions", func() {
		It("should accept 403 as a denial", func() {
			reporter := api.MustAsRole(glab.RoleReporter)

			_, err := reporter.Post(ctx, "/projects/"+project+"/labels", map[string]any{"name": "nope", "color": "#000000"})

			ExpectDenied(err)
			Expect(srvErrors.IsForbidden(err)).To(BeTrue())
		})
	})

	Context("skipping", func() {
		It("should skip without a token or an instance", func() {
			Expect(IsSkippable(ErrNoToken)).To(BeTrue())
			Expect(ErrNoToken.Error()).To(ContainSubstring("harness stack seed --write"))
			Expect(IsSkippable(&UnavailableError{URL: "http://x", Err: srvErrors.NewTimeoutError(30)})).To(BeTrue())
			Expect(IsSkippable(srvErrors.NewProjectNotFoundError(fake.DefaultProject))).To(BeTrue())
			Expect(IsSkippable(srvErrors.NewUnknownRoleError("owner"))).To(BeFalse())
		})
	})
})
