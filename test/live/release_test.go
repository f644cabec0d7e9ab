package live

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("gitlab-release", Label("live", "p1"), func() {
	var (
		s  *Session
		id string
	)

	BeforeEach(func() {
		s = requireSession()
		id = fixtures.UniqueID()
	})

	// trackRelease registers a release and the tag it created.
	trackRelease := func(ctx SpecContext, f *fixtures.Factory, tag string) {
		f.Tracker().Track(ctx, models.Fixture{Kind: models.FixtureTag, ProjectID: s.ProjectID, Key: tag})
		f.Tracker().Track(ctx, models.Fixture{Kind: models.FixtureRelease, ProjectID: s.ProjectID, Key: tag})
	}

	release := func(ctx SpecContext, f *fixtures.Factory, tag, name, description string) *models.Release {
		r, err := f.CreateRelease(ctx, tag, fixtures.ReleaseOptions{
			Name:        name,
			Description: description,
			Ref:         s.Config.Fixtures.DefaultRef,
		})
		Expect(err).ToNot(HaveOccurred())
		return r
	}

	Context("CLI", func() {
		It("should list releases", Label("readonly"), func(ctx SpecContext) {
			ExpectSuccess(Glab(ctx, s.API, s.Project(), "release", "list"))
		})

		It("should create a release", Label("destructive"), func(ctx SpecContext) {
			f := newFactory()
			tag := "v0.0.1-test-" + id

			out := Glab(ctx, s.API, s.Project(), "release", "create", tag,
				"--name", "Test Release "+id,
				"--notes", "Test release notes for "+id,
				"--ref", s.Config.Fixtures.DefaultRef)
			trackRelease(ctx, f, tag)

			ExpectSuccess(out)
		})

		It("should view a release", Label("destructive"), func(ctx SpecContext) {
			r := release(ctx, newFactory(), "v0.0.2-view-"+id, "View Test Release "+id, "Release for view test")

			out := Glab(ctx, s.API, s.Project(), "release", "view", r.TagName)

			ExpectSuccess(out)
			ExpectOutputContains(out, r.TagName)
		})
	})

	Context("API", func() {
		It("should list releases", Label("readonly"), func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.ProjectPath("/releases")), 0)
		})

		It("should create a release", Label("destructive"), func(ctx SpecContext) {
			f := newFactory()
			tag := "v0.0.3-api-" + id

			r := APIPost(ctx, s.API, s.ProjectPath("/releases"), map[string]any{
				"tag_name":    tag,
				"name":        "API Release " + id,
				"description": "Release created via API " + id,
				"ref":         s.Config.Fixtures.DefaultRef,
			})
			trackRelease(ctx, f, tag)

			ExpectFieldEquals(r, "tag_name", tag)
		})

		It("should get a release", Label("destructive"), func(ctx SpecContext) {
			r := release(ctx, newFactory(), "v0.0.4-get-"+id, "Get Test Release "+id, "Release for get test")

			got := APIGet(ctx, s.API, s.ProjectPath("/releases/%s", fixtures.EncodeRef(r.TagName)))

			ExpectFieldEquals(got, "tag_name", r.TagName)
		})

		It("should update a release", Label("destructive"), func(ctx SpecContext) {
			r := release(ctx, newFactory(), "v0.0.5-update-"+id, "Update Test Release "+id, "Original description")

			updated := APIPut(ctx, s.API, s.ProjectPath("/releases/%s", fixtures.EncodeRef(r.TagName)),
				map[string]any{"description": "Updated description"})

			ExpectFieldEquals(updated, "description", "Updated description")
		})

		// Deleting a release keeps its tag, which stays tracked.
		It("should delete a release", Label("destructive"), func(ctx SpecContext) {
			r := release(ctx, newFactory(), "v0.0.6-delete-"+id, "Delete Test Release "+id, "Release to delete")
			endpoint := s.ProjectPath("/releases/%s", fixtures.EncodeRef(r.TagName))

			APIDelete(ctx, s.API, endpoint)

			Expect(APIGet(ctx, s.API, endpoint, 404)).To(BeNil())
		})

		It("should attach an asset link", Label("destructive"), func(ctx SpecContext) {
			r := release(ctx, newFactory(), "v0.0.7-link-"+id, "Link Test Release "+id, "Release for link test")

			link := APIPost(ctx, s.API, s.ProjectPath("/releases/%s/assets/links", fixtures.EncodeRef(r.TagName)), map[string]any{
				"name":      "Documentation",
				"url":       "https://example.com/docs",
				"link_type": "other",
			})

			ExpectFieldEquals(link, "name", "Documentation")
		})
	})

	Context("permissions", func() {
		It("should let a reporter list releases", Label("readonly"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			ExpectList(APIGet(ctx, reporter, s.ProjectPath("/releases")), 0)
		})

		It("should refuse release creation to a reporter", Label("destructive"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			_, err := reporter.Post(ctx, s.ProjectPath("/releases"), map[string]any{
				"tag_name": "v0.0.8-fail-" + id,
				"name":     "Should Fail",
				"ref":      s.Config.Fixtures.DefaultRef,
			})

			ExpectDenied(err)
		})

		It("should let a developer create a release", Label("destructive"), func(ctx SpecContext) {
			developer := requireRole(glab.RoleDeveloper)
			f := newFactory()
			tag := "v0.0.9-dev-" + id

			r := APIPost(ctx, developer, s.ProjectPath("/releases"), map[string]any{
				"tag_name": tag,
				"name":     "Dev Release " + id,
				"ref":      s.Config.Fixtures.DefaultRef,
			})
			trackRelease(ctx, f, tag)

			ExpectObject(r)
		})
	})
})
