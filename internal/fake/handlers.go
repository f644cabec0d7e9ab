package fake

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
)

// Handlers serve the GitLab REST subset on top of a State.
type Handlers struct {
	state *State
}

func NewHandlers(state *State) *Handlers {
	return &Handlers{state: state}
}

// locked runs fn with the state locked and the :id project resolved.
func (h *Handlers) locked(fn func(c *gin.Context, p *project)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.state.mu.Lock()
		defer h.state.mu.Unlock()

		p, ok := h.state.project(c.Param("id"))
		if !ok {
			abort(c, http.StatusNotFound, "404 Project Not Found")
			return
		}
		fn(c, p)
	}
}

func (h *Handlers) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version, "revision": Revision})
}

func (h *Handlers) GetCurrentUser(c *gin.Context) {
	claims, err := caller(c)
	if err != nil {
		abort(c, http.StatusUnauthorized, "401 Unauthorized")
		return
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	u := h.state.user(claims.Username)
	if u == nil {
		abort(c, http.StatusNotFound, "404 User Not Found")
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handlers) ListUsers(c *gin.Context) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	username := c.Query("username")
	search := c.Query("search")

	users := []models.User{}
	for _, u := range h.state.users {
		if username != "" && u.Username != username {
			continue
		}
		if search != "" && !containsFold(u.Username, search) {
			continue
		}
		users = append(users, u)
	}
	sortByID(users, func(u models.User) int { return u.ID })
	c.JSON(http.StatusOK, users)
}

func (h *Handlers) ListGroups(c *gin.Context) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	search := c.Query("search")
	groups := []models.Group{}
	for _, g := range h.state.groups {
		if search != "" && !containsFold(g.FullPath, search) {
			continue
		}
		groups = append(groups, *g)
	}
	sortByID(groups, func(g models.Group) int { return g.ID })
	c.JSON(http.StatusOK, groups)
}

func (h *Handlers) GetGroup(c *gin.Context) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	g, ok := h.state.group(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "404 Group Not Found")
		return
	}
	c.JSON(http.StatusOK, g)
}

type groupRequest struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	ParentID   int    `json:"parent_id"`
	Visibility string `json:"visibility"`
}

func (h *Handlers) CreateGroup(c *gin.Context) {
	var req groupRequest
	if !bind(c, &req) {
		return
	}
	if req.Path == "" {
		req.Path = slugify(req.Name)
	}
	if req.Path == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - path is missing")
		return
	}
	if req.Visibility == "" {
		req.Visibility = "private"
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	fullPath := req.Path
	if req.ParentID != 0 {
		parent, ok := h.state.group(strconv.Itoa(req.ParentID))
		if !ok {
			abort(c, http.StatusNotFound, "404 Group Not Found")
			return
		}
		fullPath = parent.FullPath + "/" + req.Path
	}
	if _, exists := h.state.groups[fullPath]; exists {
		abort(c, http.StatusBadRequest, "Failed to save group {:path=>[\"has already been taken\"]}")
		return
	}
	g := h.state.addGroup(fullPath, req.Visibility)
	if req.Name != "" {
		g.Name = req.Name
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handlers) ListGroupProjects(c *gin.Context) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	g, ok := h.state.group(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, "404 Group Not Found")
		return
	}
	c.JSON(http.StatusOK, h.projects(func(p *project) bool {
		return p.Namespace != nil && p.Namespace.ID == g.ID && containsFold(p.Name, c.Query("search"))
	}))
}

func (h *Handlers) ListProjects(c *gin.Context) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	c.JSON(http.StatusOK, h.projects(func(p *project) bool {
		return containsFold(p.PathWithNamespace, c.Query("search"))
	}))
}

type projectRequest struct {
	Name                 string `json:"name"`
	Path                 string `json:"path"`
	NamespaceID          int    `json:"namespace_id"`
	DefaultBranch        string `json:"default_branch"`
	Visibility           string `json:"visibility"`
	InitializeWithReadme bool   `json:"initialize_with_readme"`
}

// CreateProject only supports projects inside an existing group.
func (h *Handlers) CreateProject(c *gin.Context) {
	var req projectRequest
	if !bind(c, &req) {
		return
	}
	if req.Path == "" {
		req.Path = slugify(req.Name)
	}
	if req.Path == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - name is missing")
		return
	}
	if req.DefaultBranch == "" {
		req.DefaultBranch = "main"
	}
	if req.Visibility == "" {
		req.Visibility = "private"
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	g, ok := h.state.group(strconv.Itoa(req.NamespaceID))
	if !ok {
		abort(c, http.StatusNotFound, "404 Namespace Not Found")
		return
	}
	if _, exists := h.state.project(g.FullPath + "/" + req.Path); exists {
		abort(c, http.StatusBadRequest, "Failed to save project {:path=>[\"has already been taken\"]}")
		return
	}
	p := h.state.addProject(g, req.Path, req.DefaultBranch, req.Visibility, req.InitializeWithReadme)
	if req.Name != "" {
		p.Name = req.Name
	}
	c.JSON(http.StatusCreated, p.Project)
}

func (h *Handlers) projects(keep func(p *project) bool) []models.Project {
	out := []models.Project{}
	for _, p := range h.state.projects {
		if keep(p) {
			out = append(out, p.Project)
		}
	}
	sortByID(out, func(p models.Project) int { return p.ID })
	return out
}

func (h *Handlers) GetProject(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, p.Project)
}

// SearchProject implements the scopes the skills use. Unknown scopes are
// rejected the way GitLab does.
func (h *Handlers) SearchProject(c *gin.Context, p *project) {
	term := c.Query("search")
	if term == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - search is missing")
		return
	}

	switch c.Query("scope") {
	case "issues":
		out := []models.Issue{}
		for _, i := range sortedValues(p.issues, func(a, b *models.Issue) bool { return a.IID < b.IID }) {
			if containsFold(i.Title, term) || containsFold(i.Description, term) {
				out = append(out, i)
			}
		}
		c.JSON(http.StatusOK, out)
	case "merge_requests":
		out := []models.MergeRequest{}
		for _, mr := range sortedValues(p.mrs, func(a, b *models.MergeRequest) bool { return a.IID < b.IID }) {
			if containsFold(mr.Title, term) || containsFold(mr.Description, term) {
				out = append(out, mr)
			}
		}
		c.JSON(http.StatusOK, out)
	case "milestones":
		out := []models.Milestone{}
		for _, m := range sortedValues(p.milestones, func(a, b *models.Milestone) bool { return a.ID < b.ID }) {
			if containsFold(m.Title, term) {
				out = append(out, m)
			}
		}
		c.JSON(http.StatusOK, out)
	case "blobs":
		out := []gin.H{}
		ref := p.DefaultBranch
		for path, content := range p.branches[ref].files {
			if containsFold(content, term) {
				out = append(out, gin.H{"basename": path, "data": content, "path": path, "filename": path, "ref": ref, "project_id": p.ID})
			}
		}
		c.JSON(http.StatusOK, out)
	case "wiki_blobs":
		out := []gin.H{}
		for _, w := range sortedValues(p.wikis, func(a, b *models.WikiPage) bool { return a.Slug < b.Slug }) {
			if containsFold(w.Content, term) || containsFold(w.Title, term) {
				out = append(out, gin.H{"basename": w.Slug, "data": w.Content, "path": w.Slug + ".md", "filename": w.Slug + ".md", "ref": "main", "project_id": p.ID})
			}
		}
		c.JSON(http.StatusOK, out)
	case "commits":
		out := []models.Commit{}
		for _, b := range p.branches {
			if containsFold(b.commit.Message, term) {
				out = append(out, *b.commit)
			}
		}
		c.JSON(http.StatusOK, out)
	default:
		abort(c, http.StatusBadRequest, "400 Bad request - scope does not have a valid value")
	}
}

func (h *Handlers) ListRegistryRepositories(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, []models.RegistryRepository{})
}

func sortByID[T any](items []T, id func(T) int) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, false
	}
	return v, true
}

// bind decodes the JSON body into req. An empty body leaves req untouched.
func bind(c *gin.Context, req any) bool {
	if c.Request.Body == nil {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		abort(c, http.StatusBadRequest, "400 Bad request - "+err.Error())
		return false
	}
	return true
}
