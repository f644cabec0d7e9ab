package fake

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
)

type labelRequest struct {
	Name        string  `json:"name"`
	NewName     string  `json:"new_name"`
	Color       string  `json:"color"`
	Description *string `json:"description"`
}

func (h *Handlers) ListLabels(c *gin.Context, p *project) {
	search := c.Query("search")
	out := []models.Label{}
	for _, l := range sortedValues(p.labels, func(a, b *models.Label) bool { return a.Name < b.Name }) {
		if containsFold(l.Name, search) {
			out = append(out, l)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateLabel(c *gin.Context, p *project) {
	var req labelRequest
	if !bind(c, &req) {
		return
	}
	if req.Name == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - name is missing")
		return
	}
	if req.Color == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - color is missing")
		return
	}
	if _, ok := p.labels[req.Name]; ok {
		abort(c, http.StatusConflict, "Label already exists")
		return
	}

	l := &models.Label{ID: h.state.id(), Name: req.Name, Color: req.Color}
	if req.Description != nil {
		l.Description = *req.Description
	}
	p.labels[l.Name] = l
	c.JSON(http.StatusCreated, l)
}

func (h *Handlers) GetLabel(c *gin.Context, p *project) {
	l, ok := h.label(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handlers) UpdateLabel(c *gin.Context, p *project) {
	l, ok := h.label(c, p)
	if !ok {
		return
	}
	var req labelRequest
	if !bind(c, &req) {
		return
	}
	if req.NewName != "" && req.NewName != l.Name {
		if _, exists := p.labels[req.NewName]; exists {
			abort(c, http.StatusConflict, "Label already exists")
			return
		}
		delete(p.labels, l.Name)
		renameLabel(p, l.Name, req.NewName)
		l.Name = req.NewName
		p.labels[l.Name] = l
	}
	if req.Color != "" {
		l.Color = req.Color
	}
	if req.Description != nil {
		l.Description = *req.Description
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handlers) DeleteLabel(c *gin.Context, p *project) {
	l, ok := h.label(c, p)
	if !ok {
		return
	}
	delete(p.labels, l.Name)
	c.Status(http.StatusNoContent)
}

// label resolves :name, which may also be a numeric label ID.
func (h *Handlers) label(c *gin.Context, p *project) (*models.Label, bool) {
	name := c.Param("name")
	if l, ok := p.labels[name]; ok {
		return l, true
	}
	if id, err := strconv.Atoi(name); err == nil {
		for _, l := range p.labels {
			if l.ID == id {
				return l, true
			}
		}
	}
	abort(c, http.StatusNotFound, "404 Label Not Found")
	return nil, false
}

func renameLabel(p *project, from, to string) {
	for _, i := range p.issues {
		for n, l := range i.Labels {
			if l == from {
				i.Labels[n] = to
			}
		}
	}
}

type milestoneRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"due_date"`
	StartDate   *string `json:"start_date"`
	StateEvent  string  `json:"state_event"`
}

func (h *Handlers) ListMilestones(c *gin.Context, p *project) {
	state := c.Query("state")
	search := c.Query("search")
	out := []models.Milestone{}
	for _, m := range sortedValues(p.milestones, func(a, b *models.Milestone) bool { return a.ID > b.ID }) {
		if state != "" && m.State != state {
			continue
		}
		if !containsFold(m.Title, search) {
			continue
		}
		out = append(out, m)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateMilestone(c *gin.Context, p *project) {
	var req milestoneRequest
	if !bind(c, &req) {
		return
	}
	if req.Title == nil || *req.Title == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - title is missing")
		return
	}
	for _, m := range p.milestones {
		if m.Title == *req.Title {
			abort(c, http.StatusBadRequest, "Milestone title already being used")
			return
		}
	}

	p.nextMilestoneIID++
	m := &models.Milestone{
		ID:        h.state.id(),
		IID:       p.nextMilestoneIID,
		ProjectID: p.ID,
		State:     "active",
	}
	if !applyMilestone(c, m, req) {
		return
	}
	p.milestones[m.ID] = m
	c.JSON(http.StatusCreated, m)
}

func applyMilestone(c *gin.Context, m *models.Milestone, req milestoneRequest) bool {
	if req.Title != nil {
		m.Title = *req.Title
	}
	if req.Description != nil {
		m.Description = *req.Description
	}
	if req.DueDate != nil {
		m.DueDate = *req.DueDate
	}
	if req.StartDate != nil {
		m.StartDate = *req.StartDate
	}
	if m.StartDate != "" && m.DueDate != "" && m.DueDate < m.StartDate {
		abort(c, http.StatusBadRequest, "Due date must be greater than start date")
		return false
	}
	switch req.StateEvent {
	case "":
	case "close":
		m.State = "closed"
	case "activate":
		m.State = "active"
	default:
		abort(c, http.StatusBadRequest, "400 Bad request - state_event does not have a valid value")
		return false
	}
	return true
}

func (h *Handlers) GetMilestone(c *gin.Context, p *project) {
	m, ok := h.milestone(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handlers) UpdateMilestone(c *gin.Context, p *project) {
	m, ok := h.milestone(c, p)
	if !ok {
		return
	}
	var req milestoneRequest
	if !bind(c, &req) {
		return
	}
	if !applyMilestone(c, m, req) {
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handlers) DeleteMilestone(c *gin.Context, p *project) {
	m, ok := h.milestone(c, p)
	if !ok {
		return
	}
	for _, i := range p.issues {
		if i.Milestone != nil && i.Milestone.ID == m.ID {
			i.Milestone = nil
		}
	}
	delete(p.milestones, m.ID)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListMilestoneIssues(c *gin.Context, p *project) {
	m, ok := h.milestone(c, p)
	if !ok {
		return
	}
	out := []models.Issue{}
	for _, i := range sortedValues(p.issues, func(a, b *models.Issue) bool { return a.IID < b.IID }) {
		if i.Milestone != nil && i.Milestone.ID == m.ID {
			out = append(out, i)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) milestone(c *gin.Context, p *project) (*models.Milestone, bool) {
	id, ok := intParam(c, "milestone_id")
	if ok {
		var m *models.Milestone
		if m, ok = p.milestones[id]; ok {
			return m, true
		}
	}
	abort(c, http.StatusNotFound, "404 Milestone Not Found")
	return nil, false
}
