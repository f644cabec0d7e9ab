package live

import (
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("gitlab-webhook", Label("live", "p2"), func() {
	var (
		s  *Session
		id string
	)

	BeforeEach(func() {
		s = requireSession()
		id = fixtures.UniqueID()
	})

	trackHook := func(ctx SpecContext, f *fixtures.Factory, hookID int) {
		f.Tracker().Track(ctx, models.Fixture{Kind: models.FixtureWebhook, ProjectID: s.ProjectID, Key: strconv.Itoa(hookID)})
	}

	Context("list", Label("readonly"), func() {
		It("should list project webhooks", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.ProjectPath("/hooks")), 0)
		})

		It("should get a webhook", func(ctx SpecContext) {
			hooks := ExpectList(APIGet(ctx, s.API, s.ProjectPath("/hooks")), 0)
			if len(hooks) == 0 {
				Skip("project has no webhook")
			}

			hook := APIGet(ctx, s.API, s.ProjectPath("/hooks/%d", ID(hooks[0], "id")))

			ExpectField(hook, "url")
		})
	})

	Context("create", Label("destructive"), func() {
		It("should create a push webhook", func(ctx SpecContext) {
			f := newFactory()

			hook := APIPost(ctx, s.API, s.ProjectPath("/hooks"), map[string]any{
				"url":         "https://example.com/hook/" + id,
				"push_events": true,
			})
			trackHook(ctx, f, ID(hook, "id"))

			ExpectFieldContains(hook, "url", id)
		})

		It("should create a webhook with events", func(ctx SpecContext) {
			f := newFactory()

			hook := APIPost(ctx, s.API, s.ProjectPath("/hooks"), map[string]any{
				"url":                   "https://example.com/events/" + id,
				"push_events":           true,
				"merge_requests_events": true,
				"issues_events":         true,
				"note_events":           true,
				"pipeline_events":       true,
			})
			trackHook(ctx, f, ID(hook, "id"))

			ExpectFieldEquals(hook, "push_events", true)
			ExpectFieldEquals(hook, "merge_requests_events", true)
			ExpectFieldEquals(hook, "issues_events", true)
		})

		It("should create a webhook with a secret token", func(ctx SpecContext) {
			f := newFactory()

			hook := APIPost(ctx, s.API, s.ProjectPath("/hooks"), map[string]any{
				"url":         "https://example.com/secret/" + id,
				"push_events": true,
				"token":       "secret-token-" + id,
			})
			trackHook(ctx, f, ID(hook, "id"))

			ExpectObject(hook)
		})
	})

	Context("update", Label("destructive"), func() {
		var hook *models.Webhook

		BeforeEach(func(ctx SpecContext) {
			var err error
			hook, err = newFactory().CreateWebhook(ctx, "https://example.com/update/"+id, fixtures.WebhookOptions{})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should update the url and events", func(ctx SpecContext) {
			updated := APIPut(ctx, s.API, s.ProjectPath("/hooks/%d", hook.ID), map[string]any{
				"url":                   "https://example.com/updated/" + id,
				"merge_requests_events": true,
			})

			ExpectFieldContains(updated, "url", "updated")
			ExpectFieldEquals(updated, "merge_requests_events", true)
		})

		It("should toggle pipeline events", func(ctx SpecContext) {
			updated := APIPut(ctx, s.API, s.ProjectPath("/hooks/%d", hook.ID), map[string]any{"pipeline_events": true})
			ExpectFieldEquals(updated, "pipeline_events", true)

			updated = APIPut(ctx, s.API, s.ProjectPath("/hooks/%d", hook.ID), map[string]any{"pipeline_events": false})
			ExpectFieldEquals(updated, "pipeline_events", false)
		})

		// The target may be unreachable from the instance; only a successful
		// trigger is checked.
		It("should trigger a test push event", func(ctx SpecContext) {
			resp, err := s.API.Post(ctx, s.ProjectPath("/hooks/%d/test/push_events", hook.ID), map[string]any{})
			if srvErrors.IsAPIError(err) {
				Skip("test event rejected: " + err.Error())
			}
			Expect(err).ToNot(HaveOccurred())

			result, err := resp.Value()
			Expect(err).ToNot(HaveOccurred())
			ExpectObject(result)
		})
	})

	Context("delete", Label("destructive"), func() {
		It("should delete a webhook", func(ctx SpecContext) {
			hook := APIPost(ctx, s.API, s.ProjectPath("/hooks"), map[string]any{
				"url":         "https://example.com/delete/" + id,
				"push_events": true,
			})
			hookID := ID(hook, "id")

			APIDelete(ctx, s.API, s.ProjectPath("/hooks/%d", hookID))

			Expect(APIGet(ctx, s.API, s.ProjectPath("/hooks/%d", hookID), 404)).To(BeNil())
		})
	})

	Context("group", func() {
		It("should list group webhooks", Label("readonly"), func(ctx SpecContext) {
			root := requireRole(glab.RoleRoot)

			ExpectList(APIGet(ctx, root, s.GroupPath("/hooks")), 0)
		})

		It("should create a group webhook", Label("destructive"), func(ctx SpecContext) {
			root := requireRole(glab.RoleRoot)

			hook := APIPost(ctx, root, s.GroupPath("/hooks"), map[string]any{
				"url":         "https://example.com/group/" + id,
				"push_events": true,
			})
			hookID := ID(hook, "id")
			DeferCleanup(func(ctx SpecContext) {
				_, _ = root.Delete(ctx, s.GroupPath("/hooks/%d", hookID))
			})

			ExpectFieldContains(hook, "url", id)
		})
	})

	Context("permissions", func() {
		It("should hide webhooks from a developer", Label("readonly"), func(ctx SpecContext) {
			developer := requireRole(glab.RoleDeveloper)

			_, err := developer.Get(ctx, s.ProjectPath("/hooks"))

			ExpectDenied(err)
		})

		It("should refuse webhook creation to a reporter", Label("destructive"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			_, err := reporter.Post(ctx, s.ProjectPath("/hooks"), map[string]any{
				"url":         "https://example.com/fail/" + id,
				"push_events": true,
			})

			ExpectDenied(err)
		})
	})
})
