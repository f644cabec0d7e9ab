package fake

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// The fake keeps a single role per user. Membership added on one project
// applies to every project.

var roleForLevel = map[int]glab.Role{
	models.AccessMaintainer: glab.RoleMaintainer,
	models.AccessDeveloper:  glab.RoleDeveloper,
	models.AccessReporter:   glab.RoleReporter,
}

type userRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) CreateUser(c *gin.Context) {
	var req userRequest
	if !bind(c, &req) {
		return
	}
	if req.Username == "" || req.Email == "" {
		abort(c, http.StatusBadRequest, "400 Bad request - username, email are missing")
		return
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if _, exists := h.state.users[req.Username]; exists {
		abort(c, http.StatusConflict, "Username has already been taken")
		return
	}
	name := req.Name
	if name == "" {
		name = req.Username
	}
	u := models.User{ID: h.state.id(), Username: req.Username, Name: name, State: "active"}
	h.state.users[u.Username] = u
	c.JSON(http.StatusCreated, u)
}

func (h *Handlers) GetMember(c *gin.Context, p *project) {
	id, ok := intParam(c, "user_id")
	if !ok {
		abort(c, http.StatusNotFound, "404 Member Not Found")
		return
	}
	u, ok := h.state.userByID(id)
	role := h.state.roles[u.Username]
	if !ok || role == "" {
		abort(c, http.StatusNotFound, "404 Member Not Found")
		return
	}
	c.JSON(http.StatusOK, models.Member{User: u, AccessLevel: (&Claims{Role: role}).AccessLevel()})
}

type memberRequest struct {
	UserID      int `json:"user_id"`
	AccessLevel int `json:"access_level"`
}

func (h *Handlers) AddMember(c *gin.Context, p *project) {
	var req memberRequest
	if !bind(c, &req) {
		return
	}
	role, ok := roleForLevel[req.AccessLevel]
	if !ok {
		abort(c, http.StatusBadRequest, "400 Bad request - access_level does not have a valid value")
		return
	}
	u, ok := h.state.userByID(req.UserID)
	if !ok {
		abort(c, http.StatusNotFound, "404 User Not Found")
		return
	}
	if h.state.roles[u.Username] != "" {
		abort(c, http.StatusConflict, "Member already exists")
		return
	}
	h.state.roles[u.Username] = role
	c.JSON(http.StatusCreated, models.Member{User: u, AccessLevel: req.AccessLevel})
}

type tokenRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// CreatePersonalAccessToken issues a role token for a user that holds a role.
func (h *Handlers) CreatePersonalAccessToken(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if !bind(c, &req) {
			return
		}
		if req.Name == "" || len(req.Scopes) == 0 {
			abort(c, http.StatusBadRequest, "400 Bad request - name, scopes are missing")
			return
		}
		id, ok := intParam(c, "user_id")
		if !ok {
			abort(c, http.StatusNotFound, "404 User Not Found")
			return
		}

		h.state.mu.Lock()
		u, found := h.state.userByID(id)
		role := h.state.roles[u.Username]
		tokenID := h.state.id()
		h.state.mu.Unlock()

		if !found {
			abort(c, http.StatusNotFound, "404 User Not Found")
			return
		}
		if role == "" {
			abort(c, http.StatusBadRequest, "400 Bad request - user has no role on this instance")
			return
		}
		token, err := issuer.Token(u.Username, role)
		if err != nil {
			abort(c, http.StatusInternalServerError, "500 Internal Server Error")
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"id":         tokenID,
			"name":       req.Name,
			"scopes":     req.Scopes,
			"user_id":    u.ID,
			"active":     true,
			"created_at": time.Now().UTC(),
			"token":      token,
		})
	}
}
