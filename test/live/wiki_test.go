package live

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/infra"
	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("gitlab-wiki", Label("live", "p2"), func() {
	var (
		s  *Session
		id string
	)

	BeforeEach(func() {
		s = requireSession()
		id = fixtures.UniqueID()
	})

	trackPage := func(ctx SpecContext, f *fixtures.Factory, slug string) {
		f.Tracker().Track(ctx, models.Fixture{Kind: models.FixtureWikiPage, ProjectID: s.ProjectID, Key: slug})
	}

	slugOf := func(page any) string {
		slug, ok := ExpectField(page, "slug").(string)
		Expect(ok).To(BeTrue(), "slug is not a string")
		return slug
	}

	Context("list", Label("readonly"), func() {
		It("should list wiki pages", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.ProjectPath("/wikis")), 0)
		})

		It("should get the home page", func(ctx SpecContext) {
			if page := APIGet(ctx, s.API, s.ProjectPath("/wikis/%s", infra.SeedWikiSlug), 404); page != nil {
				ExpectField(page, "content")
			}
		})
	})

	Context("create", Label("destructive"), func() {
		DescribeTable("should create a page",
			func(ctx SpecContext, format, heading string) {
				f := newFactory()
				title := fmt.Sprintf("Test Page %s %s", format, id)

				page := APIPost(ctx, s.API, s.ProjectPath("/wikis"), map[string]any{
					"title":   title,
					"content": heading + " " + title + "\n\nTest content for wiki page.",
					"format":  format,
				})
				trackPage(ctx, f, slugOf(page))
			},
			Entry("markdown", "markdown", "#"),
			Entry("rdoc", "rdoc", "="),
		)
	})

	Context("update", Label("destructive"), func() {
		It("should update the content", func(ctx SpecContext) {
			page, err := newFactory().CreateWikiPage(ctx, "Update Page "+id, "Original content", "")
			Expect(err).ToNot(HaveOccurred())

			updated := APIPut(ctx, s.API, s.ProjectPath("/wikis/%s", page.Slug), map[string]any{
				"content": "Updated content",
				"format":  "markdown",
			})

			ExpectFieldContains(updated, "content", "Updated")
		})

		// Given a page renamed through its slug
		// When the rename is accepted
		// Then the new slug is the one torn down
		It("should rename a page", func(ctx SpecContext) {
			f := newFactory()
			page := APIPost(ctx, s.API, s.ProjectPath("/wikis"), map[string]any{
				"title":   "Original Title " + id,
				"content": "Content",
				"format":  "markdown",
			})
			slug := slugOf(page)

			resp, err := s.API.Put(ctx, s.ProjectPath("/wikis/%s", slug), map[string]any{
				"title":   "New Title " + id,
				"content": "Content",
			})
			if srvErrors.IsAPIError(err) {
				trackPage(ctx, f, slug)
				return
			}
			Expect(err).ToNot(HaveOccurred())

			updated, err := resp.Value()
			Expect(err).ToNot(HaveOccurred())
			trackPage(ctx, f, slugOf(updated))
		})
	})

	Context("delete", Label("destructive"), func() {
		It("should delete a page", func(ctx SpecContext) {
			page := APIPost(ctx, s.API, s.ProjectPath("/wikis"), map[string]any{
				"title":   "Delete Page " + id,
				"content": "To delete",
				"format":  "markdown",
			})
			slug := slugOf(page)

			APIDelete(ctx, s.API, s.ProjectPath("/wikis/%s", slug))

			Expect(APIGet(ctx, s.API, s.ProjectPath("/wikis/%s", slug), 404)).To(BeNil())
		})
	})

	Context("group", Label("readonly"), func() {
		It("should list group wiki pages when group wikis are enabled", func(ctx SpecContext) {
			if pages := APIGet(ctx, s.API, s.GroupPath("/wikis"), 404); pages != nil {
				ExpectList(pages, 0)
			}
		})
	})

	Context("permissions", func() {
		It("should let a reporter read the wiki", Label("readonly"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			ExpectList(APIGet(ctx, reporter, s.ProjectPath("/wikis")), 0)
		})

		It("should refuse page creation to a reporter", Label("destructive"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			_, err := reporter.Post(ctx, s.ProjectPath("/wikis"), map[string]any{
				"title":   "Fail Page " + id,
				"content": "Fail",
				"format":  "markdown",
			})

			ExpectDenied(err)
		})

		It("should let a developer create a page", Label("destructive"), func(ctx SpecContext) {
			developer := requireRole(glab.RoleDeveloper)
			f := newFactory()

			page := APIPost(ctx, developer, s.ProjectPath("/wikis"), map[string]any{
				"title":   "Dev Wiki " + id,
				"content": "Developer wiki",
				"format":  "markdown",
			})
			trackPage(ctx, f, slugOf(page))
		})
	})
})
