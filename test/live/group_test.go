package live

import (
	"fmt"
	"net/http"
	"path"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/infra"
	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("gitlab-group", Label("live", "p0"), func() {
	var (
		s  *Session
		id string
	)

	BeforeEach(func() {
		s = requireSession()
		id = fixtures.UniqueID()
	})

	group := func() string {
		return fixtures.EncodeProjectPath(s.Config.GitLab.Group)
	}

	Context("read", Label("readonly"), func() {
		It("should list groups", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, "/groups"), 0)
		})

		It("should get the group by path", func(ctx SpecContext) {
			g := APIGet(ctx, s.API, "/groups/"+group())

			ExpectFieldEquals(g, "path", path.Base(s.Config.GitLab.Group))
		})

		It("should get the group with its projects", func(ctx SpecContext) {
			g := APIGet(ctx, s.API, "/groups/"+group()+"?with_projects=true")

			ExpectField(g, "projects")
		})

		It("should list group members", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.GroupPath("/members")), 1)
		})

		It("should list group projects", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.GroupPath("/projects")), 1)
		})

		It("should list subgroups", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, s.GroupPath("/subgroups")), 1)
		})

		It("should get the seeded subgroup", func(ctx SpecContext) {
			sub := APIGet(ctx, s.API, "/groups/"+fixtures.EncodeProjectPath(s.Config.GitLab.Group+"/"+infra.SeedSubgroup))

			ExpectFieldEquals(sub, "path", infra.SeedSubgroup)
		})

		It("should search groups", func(ctx SpecContext) {
			ExpectList(APIGet(ctx, s.API, "/groups?search="+path.Base(s.Config.GitLab.Group)), 1)
		})

		It("should report a missing group", func(ctx SpecContext) {
			Expect(APIGet(ctx, s.API, "/groups/nonexistent-group-"+id, 404)).To(BeNil())
		})
	})

	Context("write", Label("destructive"), func() {
		It("should create and delete a group", func(ctx SpecContext) {
			root := requireRole(glab.RoleRoot)
			groupPath := "test-group-" + id

			g := APIPost(ctx, root, "/groups", map[string]any{
				"name":       "Test Group " + id,
				"path":       groupPath,
				"visibility": "private",
			})
			ExpectFieldEquals(g, "path", groupPath)
			groupID := ID(g, "id")

			endpoint := fmt.Sprintf("/groups/%d", groupID)

			ExpectFieldEquals(APIGet(ctx, root, endpoint), "id", groupID)

			APIDelete(ctx, root, endpoint)
		})

		// Given the seeded group description
		// When it is updated
		// Then the original is restored afterwards
		It("should update the group", func(ctx SpecContext) {
			root := requireRole(glab.RoleRoot)
			var original models.Group
			Expect(root.GetInto(ctx, s.GroupPath(""), &original)).To(Succeed())
			DeferCleanup(func(ctx SpecContext) {
				_, _ = root.Put(ctx, s.GroupPath(""), map[string]any{"description": original.Description})
			})

			updated := APIPut(ctx, root, s.GroupPath(""), map[string]any{"description": "Updated description for testing"})

			ExpectFieldContains(updated, "description", "Updated")
		})

		It("should add and remove a member", func(ctx SpecContext) {
			root := requireRole(glab.RoleRoot)
			users := ExpectList(APIGet(ctx, root, "/users?username=test-"+string(glab.RoleDeveloper)), 1)
			userID := ID(users[0], "id")
			member := s.GroupPath("/members/%d", userID)
			_, _ = root.Delete(ctx, member)
			DeferCleanup(func(ctx SpecContext) {
				_, _ = root.Delete(ctx, member)
			})

			m := APIPost(ctx, root, s.GroupPath("/members"), map[string]any{
				"user_id":      userID,
				"access_level": models.AccessDeveloper,
			})

			ExpectFieldEquals(m, "access_level", models.AccessDeveloper)
		})
	})

	Context("permissions", func() {
		It("should let a reporter list groups", Label("readonly"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			ExpectList(APIGet(ctx, reporter, "/groups"), 0)
		})

		It("should let a reporter view the group", Label("readonly"), func(ctx SpecContext) {
			reporter := requireRole(glab.RoleReporter)

			ExpectObject(APIGet(ctx, reporter, "/groups/"+group()))
		})

		It("should refuse group deletion to a developer", Label("destructive"), func(ctx SpecContext) {
			developer := requireRole(glab.RoleDeveloper)

			_, err := developer.Delete(ctx, s.GroupPath(""))

			Expect(err).To(HaveOccurred())
			Expect(srvErrors.StatusCode(err)).To(Equal(http.StatusForbidden))
		})
	})
})
