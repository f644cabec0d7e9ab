package fake

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-skills/live-harness/internal/server"
)

const (
	DefaultGroup   = "live-test-group"
	DefaultProject = "live-test-group/test-project"
	DefaultBranch  = "main"
)

// Instance bundles the state, the token issuer and the HTTP handler of one
// fake GitLab.
type Instance struct {
	State   *State
	Issuer  *Issuer
	Handler http.Handler
}

// New returns a fake seeded with DefaultProject.
func New(signingKey string) *Instance {
	state := NewState()
	state.Seed(DefaultGroup, DefaultProject, DefaultBranch)

	issuer := NewIssuer(signingKey)
	return &Instance{
		State:  state,
		Issuer: issuer,
		Handler: server.NewEngine(func(router *gin.RouterGroup) {
			RegisterRoutes(router, NewHandlers(state), issuer)
		}),
	}
}

// Runner returns a glab runner that answers from this instance.
func (i *Instance) Runner() *Runner {
	return NewRunner(i.Handler)
}
