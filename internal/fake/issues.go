package fake

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
)

type issueRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Labels      *string `json:"labels"`
	AddLabels   string  `json:"add_labels"`
	AssigneeIDs []int   `json:"assignee_ids"`
	MilestoneID *int    `json:"milestone_id"`
	StateEvent  string  `json:"state_event"`
}

func (h *Handlers) ListIssues(c *gin.Context, p *project) {
	state := c.DefaultQuery("state", "all")
	search := c.Query("search")
	labels := splitLabels(c.Query("labels"))

	out := []models.Issue{}
	for _, i := range sortedValues(p.issues, func(a, b *models.Issue) bool { return a.IID > b.IID }) {
		if state != "all" && i.State != state {
			continue
		}
		if search != "" && !containsFold(i.Title, search) && !containsFold(i.Description, search) {
			continue
		}
		if !hasLabels(i.Labels, labels) {
			continue
		}
		out = append(out, i)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateIssue(c *gin.Context, p *project) {
	var req issueRequest
	if !bind(c, &req) {
		return
	}
	if req.Title == nil || *req.Title == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - title is missing")
		return
	}

	claims, _ := caller(c)
	now := h.state.now().UTC()
	p.nextIssueIID++
	issue := &models.Issue{
		ID:        h.state.id(),
		IID:       p.nextIssueIID,
		ProjectID: p.ID,
		Title:     *req.Title,
		State:     "opened",
		Labels:    []string{},
		Assignees: []models.User{},
		Author:    h.state.user(claims.Username),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !h.applyIssue(c, p, issue, req) {
		return
	}
	p.issues[issue.IID] = issue
	c.JSON(http.StatusCreated, issue)
}

func (h *Handlers) applyIssue(c *gin.Context, p *project, issue *models.Issue, req issueRequest) bool {
	if req.Title != nil {
		issue.Title = *req.Title
	}
	if req.Description != nil {
		issue.Description = *req.Description
	}
	if req.Labels != nil {
		issue.Labels = splitLabels(*req.Labels)
	}
	for _, l := range splitLabels(req.AddLabels) {
		if !hasLabels(issue.Labels, []string{l}) {
			issue.Labels = append(issue.Labels, l)
		}
	}
	if req.AssigneeIDs != nil {
		issue.Assignees = []models.User{}
		for _, id := range req.AssigneeIDs {
			for _, u := range h.state.users {
				if u.ID == id {
					issue.Assignees = append(issue.Assignees, u)
				}
			}
		}
	}
	if req.MilestoneID != nil {
		if *req.MilestoneID == 0 {
			issue.Milestone = nil
		} else {
			m, ok := p.milestones[*req.MilestoneID]
			if !ok {
				abort(c, http.StatusNotFound, "404 Milestone Not Found")
				return false
			}
			issue.Milestone = m
		}
	}
	switch req.StateEvent {
	case "":
	case "close":
		issue.State = "closed"
	case "reopen":
		issue.State = "opened"
	default:
		abort(c, http.StatusBadRequest, "400 Bad request - state_event does not have a valid value")
		return false
	}
	issue.UpdatedAt = h.state.now().UTC()
	return true
}

func (h *Handlers) GetIssue(c *gin.Context, p *project) {
	issue, ok := h.issue(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handlers) UpdateIssue(c *gin.Context, p *project) {
	issue, ok := h.issue(c, p)
	if !ok {
		return
	}
	var req issueRequest
	if !bind(c, &req) {
		return
	}
	if !h.applyIssue(c, p, issue, req) {
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handlers) DeleteIssue(c *gin.Context, p *project) {
	issue, ok := h.issue(c, p)
	if !ok {
		return
	}
	delete(p.issues, issue.IID)
	delete(p.discussions, noteableKey("issues", issue.IID))
	c.Status(http.StatusNoContent)
}

func (h *Handlers) issue(c *gin.Context, p *project) (*models.Issue, bool) {
	iid, ok := intParam(c, "iid")
	if !ok {
		abort(c, http.StatusNotFound, "404 Issue Not Found")
		return nil, false
	}
	issue, ok := p.issues[iid]
	if !ok {
		abort(c, http.StatusNotFound, "404 Issue Not Found")
		return nil, false
	}
	return issue, true
}

type mergeRequestRequest struct {
	SourceBranch string  `json:"source_branch"`
	TargetBranch string  `json:"target_branch"`
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	Labels       *string `json:"labels"`
	StateEvent   string  `json:"state_event"`
}

func (h *Handlers) ListMergeRequests(c *gin.Context, p *project) {
	state := c.DefaultQuery("state", "all")
	search := c.Query("search")
	source := c.Query("source_branch")

	out := []models.MergeRequest{}
	for _, mr := range sortedValues(p.mrs, func(a, b *models.MergeRequest) bool { return a.IID > b.IID }) {
		if state != "all" && mr.State != state {
			continue
		}
		if source != "" && mr.SourceBranch != source {
			continue
		}
		if search != "" && !containsFold(mr.Title, search) && !containsFold(mr.Description, search) {
			continue
		}
		out = append(out, mr)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) CreateMergeRequest(c *gin.Context, p *project) {
	var req mergeRequestRequest
	if !bind(c, &req) {
		return
	}
	if req.Title == nil || *req.Title == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - title is missing")
		return
	}
	if _, ok := p.branches[req.SourceBranch]; !ok {
		abort(c, http.StatusNotFound, "404 Source branch Not Found")
		return
	}
	if _, ok := p.branches[req.TargetBranch]; !ok {
		abort(c, http.StatusNotFound, "404 Target branch Not Found")
		return
	}
	if req.SourceBranch == req.TargetBranch {
		abort(c, http.StatusBadRequest, "400 Bad request - source and target branch are the same")
		return
	}
	for _, mr := range p.mrs {
		if mr.State == "opened" && mr.SourceBranch == req.SourceBranch && mr.TargetBranch == req.TargetBranch {
			abort(c, http.StatusConflict, fmt.Sprintf("Another open merge request already exists for this source branch: !%d", mr.IID))
			return
		}
	}

	claims, _ := caller(c)
	p.nextMRIID++
	mr := &models.MergeRequest{
		ID:           h.state.id(),
		IID:          p.nextMRIID,
		ProjectID:    p.ID,
		Title:        *req.Title,
		State:        "opened",
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		Labels:       []string{},
		Author:       h.state.user(claims.Username),
		CreatedAt:    h.state.now().UTC(),
	}
	if !applyMergeRequest(c, mr, req) {
		return
	}
	p.mrs[mr.IID] = mr
	c.JSON(http.StatusCreated, mr)
}

func applyMergeRequest(c *gin.Context, mr *models.MergeRequest, req mergeRequestRequest) bool {
	if req.Title != nil {
		mr.Title = *req.Title
	}
	if req.Description != nil {
		mr.Description = *req.Description
	}
	if req.Labels != nil {
		mr.Labels = splitLabels(*req.Labels)
	}
	switch req.StateEvent {
	case "":
	case "close":
		mr.State = "closed"
	case "reopen":
		mr.State = "opened"
	default:
		abort(c, http.StatusBadRequest, "400 Bad request - state_event does not have a valid value")
		return false
	}
	mr.Draft = strings.HasPrefix(mr.Title, "Draft:")
	return true
}

func (h *Handlers) GetMergeRequest(c *gin.Context, p *project) {
	mr, ok := h.mergeRequest(c, p)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, mr)
}

func (h *Handlers) UpdateMergeRequest(c *gin.Context, p *project) {
	mr, ok := h.mergeRequest(c, p)
	if !ok {
		return
	}
	var req mergeRequestRequest
	if !bind(c, &req) {
		return
	}
	if !applyMergeRequest(c, mr, req) {
		return
	}
	c.JSON(http.StatusOK, mr)
}

func (h *Handlers) mergeRequest(c *gin.Context, p *project) (*models.MergeRequest, bool) {
	iid, ok := intParam(c, "iid")
	if !ok {
		abort(c, http.StatusNotFound, "404 Merge Request Not Found")
		return nil, false
	}
	mr, ok := p.mrs[iid]
	if !ok {
		abort(c, http.StatusNotFound, "404 Merge Request Not Found")
		return nil, false
	}
	return mr, true
}

func hasLabels(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func noteableKey(kind string, iid int) string {
	return kind + "/" + strconv.Itoa(iid)
}
