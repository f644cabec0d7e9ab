package glab

import (
	"strings"

	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

// Role is a permission level with its own access token.
type Role string

const (
	RoleRoot       Role = "root"
	RoleAdmin      Role = "admin"
	RoleMaintainer Role = "maintainer"
	RoleDeveloper  Role = "developer"
	RoleReporter   Role = "reporter"
)

// Roles lists the distinct roles a live instance is seeded with.
var Roles = []Role{RoleRoot, RoleMaintainer, RoleDeveloper, RoleReporter}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleRoot, RoleAdmin, RoleMaintainer, RoleDeveloper, RoleReporter:
		return r, nil
	default:
		return "", srvErrors.NewUnknownRoleError(s)
	}
}

// Credentials describes how to reach a GitLab instance and which token
// belongs to which role. Token is used when no role is selected.
type Credentials struct {
	URL             string
	Host            string
	Token           string
	RootToken       string
	MaintainerToken string
	DeveloperToken  string
	ReporterToken   string
}

// TokenFor returns the token configured for role. A role with an empty token
// is treated the same as an unknown role.
func (c Credentials) TokenFor(role Role) (string, error) {
	var token string
	switch role {
	case RoleRoot, RoleAdmin:
		token = c.RootToken
	case RoleMaintainer:
		token = c.MaintainerToken
	case RoleDeveloper:
		token = c.DeveloperToken
	case RoleReporter:
		token = c.ReporterToken
	}
	if token == "" {
		return "", srvErrors.NewUnknownRoleError(string(role))
	}
	return token, nil
}
