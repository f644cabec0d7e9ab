package fake

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
)

var variableKey = regexp.MustCompile(`^[A-Za-z0-9_]{1,255}$`)

type hookRequest struct {
	URL                 string `json:"url"`
	PushEvents          *bool  `json:"push_events"`
	MergeRequestsEvents *bool  `json:"merge_requests_events"`
	IssuesEvents        *bool  `json:"issues_events"`
	TagPushEvents       *bool  `json:"tag_push_events"`
}

func (h *Handlers) ListHooks(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.hooks, func(a, b *models.Webhook) bool { return a.ID < b.ID }))
}

func (h *Handlers) CreateHook(c *gin.Context, p *project) {
	var req hookRequest
	if !bind(c, &req) {
		return
	}
	if req.URL == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - url is missing")
		return
	}
	hook := &models.Webhook{ID: h.state.id(), ProjectID: p.ID, PushEvents: true}
	applyHook(hook, req)
	p.hooks[hook.ID] = hook
	c.JSON(http.StatusCreated, hook)
}

func applyHook(hook *models.Webhook, req hookRequest) {
	if req.URL != "" {
		hook.URL = req.URL
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&hook.PushEvents, req.PushEvents)
	set(&hook.MergeRequestsEvents, req.MergeRequestsEvents)
	set(&hook.IssuesEvents, req.IssuesEvents)
	set(&hook.TagPushEvents, req.TagPushEvents)
}

func (h *Handlers) GetHook(c *gin.Context, p *project) {
	hook, ok := h.hook(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, hook)
}

func (h *Handlers) UpdateHook(c *gin.Context, p *project) {
	hook, ok := h.hook(c, p)
	if !ok {
		return
	}
	var req hookRequest
	if !bind(c, &req) {
		return
	}
	applyHook(hook, req)
	c.JSON(http.StatusOK, hook)
}

func (h *Handlers) DeleteHook(c *gin.Context, p *project) {
	hook, ok := h.hook(c, p)
	if !ok {
		return
	}
	delete(p.hooks, hook.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) hook(c *gin.Context, p *project) (*models.Webhook, bool) {
	if id, ok := intParam(c, "hook_id"); ok {
		if hook, ok := p.hooks[id]; ok {
			return hook, true
		}
	}
	abort(c, http.StatusNotFound, "404 Not found")
	return nil, false
}

type variableRequest struct {
	Key              string  `json:"key"`
	Value            *string `json:"value"`
	VariableType     string  `json:"variable_type"`
	Protected        *bool   `json:"protected"`
	Masked           *bool   `json:"masked"`
	EnvironmentScope string  `json:"environment_scope"`
}

func (h *Handlers) ListVariables(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.variables, func(a, b *models.Variable) bool { return a.Key < b.Key }))
}

func (h *Handlers) CreateVariable(c *gin.Context, p *project) {
	var req variableRequest
	if !bind(c, &req) {
		return
	}
	if !variableKey.MatchString(req.Key) {
		abort(c, http.StatusBadRequest, "key can contain only letters, digits and '_'.")
		return
	}
	if req.Value == nil {
		abort(c, http.StatusBadRequest, "400 Bad request - value is missing")
		return
	}
	if _, ok := p.variables[req.Key]; ok {
		abort(c, http.StatusBadRequest, "("+req.Key+") has already been taken")
		return
	}
	if req.Masked != nil && *req.Masked && len(*req.Value) < 8 {
		abort(c, http.StatusBadRequest, "value is invalid")
		return
	}

	v := &models.Variable{Key: req.Key, VariableType: "env_var", EnvironmentScope: "*"}
	applyVariable(v, req)
	p.variables[v.Key] = v
	c.JSON(http.StatusCreated, v)
}

func applyVariable(v *models.Variable, req variableRequest) {
	if req.Value != nil {
		v.Value = *req.Value
	}
	if req.VariableType != "" {
		v.VariableType = req.VariableType
	}
	if req.Protected != nil {
		v.Protected = *req.Protected
	}
	if req.Masked != nil {
		v.Masked = *req.Masked
	}
	if req.EnvironmentScope != "" {
		v.EnvironmentScope = req.EnvironmentScope
	}
}

func (h *Handlers) GetVariable(c *gin.Context, p *project) {
	v, ok := h.variable(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) UpdateVariable(c *gin.Context, p *project) {
	v, ok := h.variable(c, p)
	if !ok {
		return
	}
	var req variableRequest
	if !bind(c, &req) {
		return
	}
	applyVariable(v, req)
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) DeleteVariable(c *gin.Context, p *project) {
	v, ok := h.variable(c, p)
	if !ok {
		return
	}
	delete(p.variables, v.Key)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) variable(c *gin.Context, p *project) (*models.Variable, bool) {
	v, ok := p.variables[c.Param("key")]
	if !ok {
		abort(c, http.StatusNotFound, "404 Variable Not Found")
		return nil, false
	}
	return v, true
}

type wikiRequest struct {
	Title   string  `json:"title"`
	Content *string `json:"content"`
	Format  string  `json:"format"`
}

// ListWikis omits page content unless with_content=1.
func (h *Handlers) ListWikis(c *gin.Context, p *project) {
	withContent := c.Query("with_content") == "1"
	out := []models.WikiPage{}
	for _, w := range sortedValues(p.wikis, func(a, b *models.WikiPage) bool { return a.Slug < b.Slug }) {
		if !withContent {
			w.Content = ""
		}
		out = append(out, w)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateWiki(c *gin.Context, p *project) {
	var req wikiRequest
	if !bind(c, &req) {
		return
	}
	if req.Title == "" || req.Content == nil {
		abort(c, http.StatusBadRequest, "400 Bad request - title and content are required")
		return
	}
	slug := slugify(req.Title)
	if _, ok := p.wikis[slug]; ok {
		abort(c, http.StatusBadRequest, "Duplicate page: A page with that title already exists")
		return
	}
	if req.Format == "" {
		req.Format = "markdown"
	}

	w := &models.WikiPage{Slug: slug, Title: req.Title, Content: *req.Content, Format: req.Format}
	p.wikis[slug] = w
	c.JSON(http.StatusCreated, w)
}

func (h *Handlers) GetWiki(c *gin.Context, p *project) {
	w, ok := h.wiki(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handlers) UpdateWiki(c *gin.Context, p *project) {
	w, ok := h.wiki(c, p)
	if !ok {
		return
	}
	var req wikiRequest
	if !bind(c, &req) {
		return
	}
	if req.Title != "" {
		w.Title = req.Title
	}
	if req.Content != nil {
		w.Content = *req.Content
	}
	if req.Format != "" {
		w.Format = req.Format
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handlers) DeleteWiki(c *gin.Context, p *project) {
	w, ok := h.wiki(c, p)
	if !ok {
		return
	}
	delete(p.wikis, w.Slug)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) wiki(c *gin.Context, p *project) (*models.WikiPage, bool) {
	w, ok := p.wikis[c.Param("slug")]
	if !ok {
		abort(c, http.StatusNotFound, "404 Wiki Page Not Found")
		return nil, false
	}
	return w, true
}

type badgeRequest struct {
	Name     string `json:"name"`
	LinkURL  string `json:"link_url"`
	ImageURL string `json:"image_url"`
}

func (h *Handlers) ListBadges(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.badges, func(a, b *models.Badge) bool { return a.ID < b.ID }))
}

func (h *Handlers) CreateBadge(c *gin.Context, p *project) {
	var req badgeRequest
	if !bind(c, &req) {
		return
	}
	if req.LinkURL == "" || req.ImageURL == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - link_url and image_url are required")
		return
	}
	b := &models.Badge{ID: h.state.id(), Kind: "project"}
	applyBadge(b, req)
	p.badges[b.ID] = b
	c.JSON(http.StatusCreated, b)
}

func applyBadge(b *models.Badge, req badgeRequest) {
	if req.Name != "" {
		b.Name = req.Name
	}
	if req.LinkURL != "" {
		b.LinkURL = req.LinkURL
		b.RenderedLinkURL = req.LinkURL
	}
	if req.ImageURL != "" {
		b.ImageURL = req.ImageURL
		b.RenderedImageURL = req.ImageURL
	}
}

func (h *Handlers) GetBadge(c *gin.Context, p *project) {
	b, ok := h.badge(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handlers) UpdateBadge(c *gin.Context, p *project) {
	b, ok := h.badge(c, p)
	if !ok {
		return
	}
	var req badgeRequest
	if !bind(c, &req) {
		return
	}
	applyBadge(b, req)
	c.JSON(http.StatusOK, b)
}

func (h *Handlers) DeleteBadge(c *gin.Context, p *project) {
	b, ok := h.badge(c, p)
	if !ok {
		return
	}
	delete(p.badges, b.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) badge(c *gin.Context, p *project) (*models.Badge, bool) {
	if id, ok := intParam(c, "badge_id"); ok {
		if b, ok := p.badges[id]; ok {
			return b, true
		}
	}
	abort(c, http.StatusNotFound, "404 Badge Not Found")
	return nil, false
}

type pipelineRequest struct {
	Ref string `json:"ref"`
}

func (h *Handlers) ListPipelines(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, sortedValues(p.pipelines, func(a, b *models.Pipeline) bool { return a.ID > b.ID }))
}

// CreatePipeline accepts the ref from the body or the query string. The
// fake has no runners, so pipelines stay created.
func (h *Handlers) CreatePipeline(c *gin.Context, p *project) {
	var req pipelineRequest
	if !bind(c, &req) {
		return
	}
	if req.Ref == "" {
		req.Ref = c.Query("ref")
	}
	b, ok := p.resolveRef(req.Ref)
	if !ok {
		abort(c, http.StatusBadRequest, "Reference not found")
		return
	}
	pl := &models.Pipeline{ID: h.state.id(), Status: "created", Ref: req.Ref, SHA: b.commit.ID}
	p.pipelines[pl.ID] = pl
	c.JSON(http.StatusCreated, pl)
}

func (h *Handlers) GetPipeline(c *gin.Context, p *project) {
	if id, ok := intParam(c, "pipeline_id"); ok {
		if pl, ok := p.pipelines[id]; ok {
			c.JSON(http.StatusOK, pl)
			return
		}
	}
	abort(c, http.StatusNotFound, "404 Not found")
}

func (h *Handlers) ListJobs(c *gin.Context, p *project) {
	c.JSON(http.StatusOK, []gin.H{})
}
