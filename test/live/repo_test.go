package live

import (
	"path"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/infra"
	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("gitlab-repo", Label("live", "p0"), func() {
	var (
		s  *Session
		id string
	)

	BeforeEach(func() {
		s = requireSession()
		id = fixtures.UniqueID()
	})

	Context("CLI", Label("readonly"), func() {
		It("should view the project", func(ctx SpecContext) {
			out := Glab(ctx, s.API, s.Project(), "repo", "view")

			ExpectSuccess(out)
			ExpectOutputContains(out, path.Base(s.Project()))
		})

		It("should list the group projects", func(ctx SpecContext) {
			out := Glab(ctx, s.API, s.Project(), "repo", "list", "--group", s.Config.GitLab.Group)

			ExpectSuccess(out)
			ExpectOutputContains(out, path.Base(s.Project()))
		})
	})

	Context("API", Label("readonly"), func() {
		It("should get the project by path", func(ctx SpecContext) {
			project := APIGet(ctx, s.API, "/projects/"+fixtures.EncodeProjectPath(s.Project()))

			ExpectFieldEquals(project, "path", path.Base(s.Project()))
		})

		It("should list branches", func(ctx SpecContext) {
			branches := ExpectList(APIGet(ctx, s.API, s.ProjectPath("/repository/branches")), 1)

			Expect(Names(branches, "name")).To(ContainElement(s.Config.Fixtures.DefaultRef))
		})

		It("should list tags", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.ProjectPath("/repository/tags")), 0)
		})

		It("should list the repository tree", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.ProjectPath("/repository/tree")), 1)
		})

		It("should get a file", func(ctx SpecContext) {
			file := APIGet(ctx, s.API, s.ProjectPath("/repository/files/README.md?ref=%s", s.Config.Fixtures.DefaultRef))

			ExpectField(file, "content")
		})

		It("should list commits", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.ProjectPath("/repository/commits")), 1)
		})

		It("should compare branches", func(ctx SpecContext) {
			comparison := APIGet(ctx, s.API, s.ProjectPath("/repository/compare?from=%s&to=%s",
				s.Config.Fixtures.DefaultRef, fixtures.EncodeRef(infra.SeedBranch)))

			ExpectField(comparison, "commits")
			ExpectField(comparison, "diffs")
		})
	})

	Context("write", Label("destructive"), func() {
		It("should create a branch", func(ctx SpecContext) {
			f := newFactory()
			name := "test/branch-" + id

			branch := APIPost(ctx, s.API, s.ProjectPath("/repository/branches"), map[string]any{
				"branch": name,
				"ref":    s.Config.Fixtures.DefaultRef,
			})
			f.Tracker().Track(ctx, models.Fixture{Kind: models.FixtureBranch, ProjectID: s.ProjectID, Key: name})

			ExpectFieldEquals(branch, "name", name)
		})

		It("should create and delete a tag", func(ctx SpecContext) {
			name := "v0.0.1-test-" + id

			tag := APIPost(ctx, s.API, s.ProjectPath("/repository/tags"), map[string]any{
				"tag_name": name,
				"ref":      s.Config.Fixtures.DefaultRef,
				"message":  "Test tag",
			})
			ExpectFieldEquals(tag, "name", name)

			APIDelete(ctx, s.API, s.ProjectPath("/repository/tags/%s", fixtures.EncodeRef(name)))
		})

		It("should create a file", func(ctx SpecContext) {
			f := newFactory()
			branch, err := f.CreateBranch(ctx, "test/file-"+id, "")
			Expect(err).ToNot(HaveOccurred())
			file := "test-file-" + id + ".txt"

			created := APIPost(ctx, s.API, s.ProjectPath("/repository/files/%s", fixtures.EncodeFilePath(file)), map[string]any{
				"branch":         branch.Name,
				"content":        "Test content " + id,
				"commit_message": "Add test file " + id,
			})

			ExpectFieldEquals(created, "file_path", file)
		})

		It("should update a file", func(ctx SpecContext) {
			f := newFactory()
			branch, err := f.CreateBranch(ctx, "test/update-"+id, "")
			Expect(err).ToNot(HaveOccurred())
			file := "test-update-" + id + ".txt"
			_, err = f.CreateFile(ctx, file, fixtures.FileOptions{Branch: branch.Name, Content: "Initial content"})
			Expect(err).ToNot(HaveOccurred())

			updated := APIPut(ctx, s.API, s.ProjectPath("/repository/files/%s", fixtures.EncodeFilePath(file)), map[string]any{
				"branch":         branch.Name,
				"content":        "Updated content",
				"commit_message": "Update file",
			})

			ExpectObject(updated)
		})
	})

	Context("permissions", func() {
		It("should let a reporter view the project", Label("readonly"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			ExpectObject(APIGet(ctx, reporter, s.ProjectPath("")))
		})

		It("should let a reporter list branches", Label("readonly"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			ExpectList(APIGet(ctx, reporter, s.ProjectPath("/repository/branches")), 0)
		})

		It("should refuse branch creation to a reporter", Label("destructive"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			_, err := reporter.Post(ctx, s.ProjectPath("/repository/branches"), map[string]any{
				"branch": "test-fail-" + id,
				"ref":    s.Config.Fixtures.DefaultRef,
			})

			ExpectDenied(err)
		})
	})
})
