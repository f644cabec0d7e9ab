package fake

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gitlab-skills/live-harness/internal/models"
)

type noteRequest struct {
	Body string `json:"body"`
}

// noteable resolves the issue or merge request a note belongs to and
// returns the key of its discussions.
func (h *Handlers) noteable(c *gin.Context, p *project, kind string) (string, bool) {
	iid, ok := intParam(c, "iid")
	if ok {
		switch kind {
		case "issues":
			_, ok = p.issues[iid]
		case "merge_requests":
			_, ok = p.mrs[iid]
		default:
			ok = false
		}
	}
	if !ok {
		abort(c, http.StatusNotFound, "404 Noteable Not Found")
		return "", false
	}
	return noteableKey(kind, iid), true
}

func (h *Handlers) newNote(c *gin.Context) (models.Note, bool) {
	var req noteRequest
	if !bind(c, &req) {
		return models.Note{}, false
	}
	if strings.TrimSpace(req.Body) == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - body is missing")
		return models.Note{}, false
	}
	claims, _ := caller(c)
	return models.Note{
		ID:        h.state.id(),
		Body:      req.Body,
		Author:    h.state.user(claims.Username),
		CreatedAt: h.state.now().UTC(),
	}, true
}

func (h *Handlers) ListNotes(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		key, ok := h.noteable(c, p, kind)
		if !ok {
			return
		}
		notes := []models.Note{}
		for _, d := range p.discussions[key] {
			notes = append(notes, d.Notes...)
		}
		c.JSON(http.StatusOK, notes)
	}
}

// CreateNote starts a new discussion holding a single note.
func (h *Handlers) CreateNote(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		key, ok := h.noteable(c, p, kind)
		if !ok {
			return
		}
		note, ok := h.newNote(c)
		if !ok {
			return
		}
		p.discussions[key] = append(p.discussions[key], &models.Discussion{ID: discussionID(), Notes: []models.Note{note}})
		c.JSON(http.StatusCreated, note)
	}
}

func (h *Handlers) GetNote(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		note, ok := h.note(c, p, kind)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, note)
	}
}

func (h *Handlers) UpdateNote(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		note, ok := h.note(c, p, kind)
		if !ok {
			return
		}
		var req noteRequest
		if !bind(c, &req) {
			return
		}
		if req.Body != "" {
			note.Body = req.Body
		}
		c.JSON(http.StatusOK, note)
	}
}

func (h *Handlers) DeleteNote(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		key, ok := h.noteable(c, p, kind)
		if !ok {
			return
		}
		id, ok := intParam(c, "note_id")
		if ok {
			ok = false
			kept := p.discussions[key][:0]
			for _, d := range p.discussions[key] {
				notes := d.Notes[:0]
				for _, n := range d.Notes {
					if n.ID == id {
						ok = true
						continue
					}
					notes = append(notes, n)
				}
				d.Notes = notes
				if len(d.Notes) > 0 {
					kept = append(kept, d)
				}
			}
			p.discussions[key] = kept
		}
		if !ok {
			abort(c, http.StatusNotFound, "404 Note Not Found")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *Handlers) note(c *gin.Context, p *project, kind string) (*models.Note, bool) {
	key, ok := h.noteable(c, p, kind)
	if !ok {
		return nil, false
	}
	if id, ok := intParam(c, "note_id"); ok {
		for _, d := range p.discussions[key] {
			for i := range d.Notes {
				if d.Notes[i].ID == id {
					return &d.Notes[i], true
				}
			}
		}
	}
	abort(c, http.StatusNotFound, "404 Note Not Found")
	return nil, false
}

func (h *Handlers) ListDiscussions(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		key, ok := h.noteable(c, p, kind)
		if !ok {
			return
		}
		out := []models.Discussion{}
		for _, d := range p.discussions[key] {
			out = append(out, *d)
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handlers) CreateDiscussion(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		key, ok := h.noteable(c, p, kind)
		if !ok {
			return
		}
		note, ok := h.newNote(c)
		if !ok {
			return
		}
		d := &models.Discussion{ID: discussionID(), Notes: []models.Note{note}}
		p.discussions[key] = append(p.discussions[key], d)
		c.JSON(http.StatusCreated, d)
	}
}

func (h *Handlers) GetDiscussion(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		d, ok := h.discussion(c, p, kind)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// ReplyDiscussion appends a note to an existing discussion.
func (h *Handlers) ReplyDiscussion(kind string) func(c *gin.Context, p *project) {
	return func(c *gin.Context, p *project) {
		d, ok := h.discussion(c, p, kind)
		if !ok {
			return
		}
		note, ok := h.newNote(c)
		if !ok {
			return
		}
		d.Notes = append(d.Notes, note)
		c.JSON(http.StatusCreated, note)
	}
}

func (h *Handlers) discussion(c *gin.Context, p *project, kind string) (*models.Discussion, bool) {
	key, ok := h.noteable(c, p, kind)
	if !ok {
		return nil, false
	}
	for _, d := range p.discussions[key] {
		if d.ID == c.Param("discussion_id") {
			return d, true
		}
	}
	abort(c, http.StatusNotFound, "404 Discussion Not Found")
	return nil, false
}

func discussionID() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")[:40]
}
