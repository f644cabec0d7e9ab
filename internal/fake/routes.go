package fake

import (
	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
)

var (
	reporter   = Require(models.AccessReporter)
	developer  = Require(models.AccessDeveloper)
	maintainer = Require(models.AccessMaintainer)
	owner      = Require(models.AccessOwner)
)

// RegisterRoutes mounts the GitLab subset on router, which is expected to be
// the /api/v4 group. Every route requires a role token.
func RegisterRoutes(router *gin.RouterGroup, h *Handlers, issuer *Issuer) {
	router.Use(Authenticate(issuer))

	router.GET("/version", h.GetVersion)
	router.GET("/user", h.GetCurrentUser)
	router.GET("/users", h.ListUsers)
	router.POST("/users", owner, h.CreateUser)
	router.POST("/users/:user_id/personal_access_tokens", owner, h.CreatePersonalAccessToken(issuer))
	router.GET("/groups", h.ListGroups)
	router.POST("/groups", owner, h.CreateGroup)
	router.GET("/groups/:id", reporter, h.GetGroup)
	router.GET("/groups/:id/projects", reporter, h.ListGroupProjects)
	router.GET("/projects", h.ListProjects)
	router.POST("/projects", owner, h.CreateProject)

	p := router.Group("/projects/:id")
	p.GET("", reporter, h.locked(h.GetProject))
	p.GET("/search", reporter, h.locked(h.SearchProject))
	p.GET("/members/:user_id", reporter, h.locked(h.GetMember))
	p.POST("/members", maintainer, h.locked(h.AddMember))

	p.GET("/issues", reporter, h.locked(h.ListIssues))
	p.POST("/issues", reporter, h.locked(h.CreateIssue))
	p.GET("/issues/:iid", reporter, h.locked(h.GetIssue))
	p.PUT("/issues/:iid", reporter, h.locked(h.UpdateIssue))
	p.DELETE("/issues/:iid", owner, h.locked(h.DeleteIssue))

	p.GET("/merge_requests", reporter, h.locked(h.ListMergeRequests))
	p.POST("/merge_requests", developer, h.locked(h.CreateMergeRequest))
	p.GET("/merge_requests/:iid", reporter, h.locked(h.GetMergeRequest))
	p.PUT("/merge_requests/:iid", developer, h.locked(h.UpdateMergeRequest))

	for _, kind := range []string{"issues", "merge_requests"} {
		n := p.Group("/" + kind + "/:iid")
		n.GET("/notes", reporter, h.locked(h.ListNotes(kind)))
		n.POST("/notes", reporter, h.locked(h.CreateNote(kind)))
		n.GET("/notes/:note_id", reporter, h.locked(h.GetNote(kind)))
		n.PUT("/notes/:note_id", reporter, h.locked(h.UpdateNote(kind)))
		n.DELETE("/notes/:note_id", reporter, h.locked(h.DeleteNote(kind)))
		n.GET("/discussions", reporter, h.locked(h.ListDiscussions(kind)))
		n.POST("/discussions", reporter, h.locked(h.CreateDiscussion(kind)))
		n.GET("/discussions/:discussion_id", reporter, h.locked(h.GetDiscussion(kind)))
		n.POST("/discussions/:discussion_id/notes", reporter, h.locked(h.ReplyDiscussion(kind)))
	}

	p.GET("/labels", reporter, h.locked(h.ListLabels))
	p.POST("/labels", developer, h.locked(h.CreateLabel))
	p.GET("/labels/:name", reporter, h.locked(h.GetLabel))
	p.PUT("/labels/:name", developer, h.locked(h.UpdateLabel))
	p.DELETE("/labels/:name", developer, h.locked(h.DeleteLabel))

	p.GET("/milestones", reporter, h.locked(h.ListMilestones))
	p.POST("/milestones", developer, h.locked(h.CreateMilestone))
	p.GET("/milestones/:milestone_id", reporter, h.locked(h.GetMilestone))
	p.PUT("/milestones/:milestone_id", developer, h.locked(h.UpdateMilestone))
	p.DELETE("/milestones/:milestone_id", developer, h.locked(h.DeleteMilestone))
	p.GET("/milestones/:milestone_id/issues", reporter, h.locked(h.ListMilestoneIssues))

	p.GET("/repository/branches", reporter, h.locked(h.ListBranches))
	p.POST("/repository/branches", developer, h.locked(h.CreateBranch))
	p.GET("/repository/branches/:branch", reporter, h.locked(h.GetBranch))
	p.DELETE("/repository/branches/:branch", developer, h.locked(h.DeleteBranch))

	p.GET("/repository/files/:file_path", reporter, h.locked(h.GetFile))
	p.GET("/repository/files/:file_path/raw", reporter, h.locked(h.GetRawFile))
	p.POST("/repository/files/:file_path", developer, h.locked(h.CreateFile))
	p.PUT("/repository/files/:file_path", developer, h.locked(h.UpdateFile))
	p.DELETE("/repository/files/:file_path", developer, h.locked(h.DeleteFile))
	p.GET("/repository/tree", reporter, h.locked(h.ListTree))
	p.GET("/repository/commits", reporter, h.locked(h.ListCommits))

	p.GET("/repository/tags", reporter, h.locked(h.ListTags))
	p.POST("/repository/tags", developer, h.locked(h.CreateTag))
	p.GET("/repository/tags/:tag", reporter, h.locked(h.GetTag))
	p.DELETE("/repository/tags/:tag", developer, h.locked(h.DeleteTag))

	p.GET("/releases", reporter, h.locked(h.ListReleases))
	p.POST("/releases", developer, h.locked(h.CreateRelease))
	p.GET("/releases/:tag", reporter, h.locked(h.GetRelease))
	p.PUT("/releases/:tag", developer, h.locked(h.UpdateRelease))
	p.DELETE("/releases/:tag", developer, h.locked(h.DeleteRelease))

	p.GET("/protected_branches", reporter, h.locked(h.ListProtectedBranches))
	p.POST("/protected_branches", maintainer, h.locked(h.ProtectBranch))
	p.GET("/protected_branches/:branch", reporter, h.locked(h.GetProtectedBranch))
	p.DELETE("/protected_branches/:branch", maintainer, h.locked(h.UnprotectBranch))

	p.GET("/hooks", maintainer, h.locked(h.ListHooks))
	p.POST("/hooks", maintainer, h.locked(h.CreateHook))
	p.GET("/hooks/:hook_id", maintainer, h.locked(h.GetHook))
	p.PUT("/hooks/:hook_id", maintainer, h.locked(h.UpdateHook))
	p.DELETE("/hooks/:hook_id", maintainer, h.locked(h.DeleteHook))

	p.GET("/variables", developer, h.locked(h.ListVariables))
	p.POST("/variables", maintainer, h.locked(h.CreateVariable))
	p.GET("/variables/:key", developer, h.locked(h.GetVariable))
	p.PUT("/variables/:key", maintainer, h.locked(h.UpdateVariable))
	p.DELETE("/variables/:key", maintainer, h.locked(h.DeleteVariable))

	p.GET("/wikis", reporter, h.locked(h.ListWikis))
	p.POST("/wikis", developer, h.locked(h.CreateWiki))
	p.GET("/wikis/:slug", reporter, h.locked(h.GetWiki))
	p.PUT("/wikis/:slug", developer, h.locked(h.UpdateWiki))
	p.DELETE("/wikis/:slug", developer, h.locked(h.DeleteWiki))

	p.GET("/badges", reporter, h.locked(h.ListBadges))
	p.POST("/badges", maintainer, h.locked(h.CreateBadge))
	p.GET("/badges/:badge_id", reporter, h.locked(h.GetBadge))
	p.PUT("/badges/:badge_id", maintainer, h.locked(h.UpdateBadge))
	p.DELETE("/badges/:badge_id", maintainer, h.locked(h.DeleteBadge))

	p.GET("/pipelines", reporter, h.locked(h.ListPipelines))
	p.POST("/pipeline", developer, h.locked(h.CreatePipeline))
	p.GET("/pipelines/:pipeline_id", reporter, h.locked(h.GetPipeline))
	p.GET("/jobs", reporter, h.locked(h.ListJobs))

	p.GET("/registry/repositories", reporter, h.locked(h.ListRegistryRepositories))
}
