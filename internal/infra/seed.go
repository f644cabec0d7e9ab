package infra

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/fixtures"
	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

const (
	SeedSubgroup     = "subgroup"
	SeedBranch       = "feature/sample"
	SeedMilestone    = "v1.0.0"
	SeedVariable     = "TEST_VAR"
	SeedVariableVal  = "test_value"
	SeedWikiSlug     = "home"
	SeedIssueTitle   = "App crashes on startup"
	SeedMergeRequest = "Add sample feature"
)

var seedLabels = []models.Label{
	{Name: "bug", Color: "#d9534f", Description: "Something is broken"},
	{Name: "enhancement", Color: "#5bc0de", Description: "Improves existing functionality"},
	{Name: "feature", Color: "#5cb85c", Description: "New functionality"},
	{Name: "priority::high", Color: "#f0ad4e", Description: "Needs attention first"},
}

// SeedOptions names the group and project the live specs run against. The
// group must be a top-level group.
type SeedOptions struct {
	Group         string
	Project       string
	DefaultBranch string
}

type SeedResult struct {
	GroupID   int
	ProjectID int
	// Created lists what this pass added. Existing content is left alone.
	Created []string
}

// seeder creates what the read-only specs expect to find. Every step checks
// for its resource first, so seeding twice is a no-op.
type seeder struct {
	api    fixtures.API
	opts   SeedOptions
	result SeedResult
	logger *zap.SugaredLogger
}

// Seed prepares a fresh instance for the live specs.
func Seed(ctx context.Context, api fixtures.API, opts SeedOptions) (SeedResult, error) {
	if strings.Contains(opts.Group, "/") {
		return SeedResult{}, fmt.Errorf("cannot seed nested group %q", opts.Group)
	}
	if !strings.HasPrefix(opts.Project, opts.Group+"/") {
		return SeedResult{}, fmt.Errorf("project %q is not in group %q", opts.Project, opts.Group)
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "main"
	}

	s := &seeder{api: api, opts: opts, logger: zap.S().Named("seed")}
	steps := []func(context.Context) error{
		s.group,
		s.subgroup,
		s.project,
		s.labels,
		s.milestone,
		s.variable,
		s.wiki,
		s.issue,
		s.mergeRequest,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return s.result, err
		}
	}

	s.logger.Infow("instance seeded", "project", opts.Project, "created", len(s.result.Created))
	return s.result, nil
}

func (s *seeder) projectPath(format string, args ...any) string {
	return fmt.Sprintf("/projects/%d", s.result.ProjectID) + fmt.Sprintf(format, args...)
}

func (s *seeder) created(what string) {
	s.result.Created = append(s.result.Created, what)
	s.logger.Debugw("seeded", "resource", what)
}

func (s *seeder) group(ctx context.Context) error {
	id, err := fixtures.GroupID(ctx, s.api, s.opts.Group)
	switch {
	case err == nil:
		s.result.GroupID = id
		return nil
	case !isMissing(err):
		return fmt.Errorf("failed to look up group: %w", err)
	}

	var g models.Group
	if err := create(ctx, s.api, "/groups", map[string]any{
		"name":       s.opts.Group,
		"path":       s.opts.Group,
		"visibility": "private",
	}, &g); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	s.result.GroupID = g.ID
	s.created("group " + s.opts.Group)
	return nil
}

func (s *seeder) subgroup(ctx context.Context) error {
	path := s.opts.Group + "/" + SeedSubgroup
	_, err := fixtures.GroupID(ctx, s.api, path)
	switch {
	case err == nil:
		return nil
	case !isMissing(err):
		return fmt.Errorf("failed to look up subgroup: %w", err)
	}

	if err := create(ctx, s.api, "/groups", map[string]any{
		"name":       SeedSubgroup,
		"path":       SeedSubgroup,
		"parent_id":  s.result.GroupID,
		"visibility": "private",
	}, nil); err != nil {
		return fmt.Errorf("failed to create subgroup: %w", err)
	}
	s.created("group " + path)
	return nil
}

func (s *seeder) project(ctx context.Context) error {
	id, err := fixtures.ProjectID(ctx, s.api, s.opts.Project)
	switch {
	case err == nil:
		s.result.ProjectID = id
		return nil
	case !isMissing(err):
		return fmt.Errorf("failed to look up project: %w", err)
	}

	name := strings.TrimPrefix(s.opts.Project, s.opts.Group+"/")
	var p models.Project
	if err := create(ctx, s.api, "/projects", map[string]any{
		"name":                   name,
		"path":                   name,
		"namespace_id":           s.result.GroupID,
		"default_branch":         s.opts.DefaultBranch,
		"initialize_with_readme": true,
		"visibility":             "private",
	}, &p); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	s.result.ProjectID = p.ID
	s.created("project " + s.opts.Project)
	return nil
}

func (s *seeder) labels(ctx context.Context) error {
	for _, l := range seedLabels {
		found, err := exists(ctx, s.api, s.projectPath("/labels/%s", fixtures.EncodeLabel(l.Name)))
		if err != nil {
			return err
		}
		if found {
			continue
		}
		if err := create(ctx, s.api, s.projectPath("/labels"), map[string]any{
			"name":        l.Name,
			"color":       l.Color,
			"description": l.Description,
		}, nil); err != nil {
			return fmt.Errorf("failed to create label %s: %w", l.Name, err)
		}
		s.created("label " + l.Name)
	}
	return nil
}

func (s *seeder) milestone(ctx context.Context) error {
	var milestones []models.Milestone
	if err := get(ctx, s.api, s.projectPath("/milestones?search=%s", url.QueryEscape(SeedMilestone)), &milestones); err != nil {
		return fmt.Errorf("failed to list milestones: %w", err)
	}
	for _, m := range milestones {
		if m.Title == SeedMilestone {
			return nil
		}
	}
	if err := create(ctx, s.api, s.projectPath("/milestones"), map[string]any{
		"title":       SeedMilestone,
		"description": "First release",
		"due_date":    time.Now().AddDate(0, 3, 0).Format(time.DateOnly),
	}, nil); err != nil {
		return fmt.Errorf("failed to create milestone: %w", err)
	}
	s.created("milestone " + SeedMilestone)
	return nil
}

func (s *seeder) variable(ctx context.Context) error {
	found, err := exists(ctx, s.api, s.projectPath("/variables/%s", SeedVariable))
	if err != nil || found {
		return err
	}
	if err := create(ctx, s.api, s.projectPath("/variables"), map[string]any{
		"key":   SeedVariable,
		"value": SeedVariableVal,
	}, nil); err != nil {
		return fmt.Errorf("failed to create variable: %w", err)
	}
	s.created("variable " + SeedVariable)
	return nil
}

func (s *seeder) wiki(ctx context.Context) error {
	found, err := exists(ctx, s.api, s.projectPath("/wikis/%s", SeedWikiSlug))
	if err != nil || found {
		return err
	}
	if err := create(ctx, s.api, s.projectPath("/wikis"), map[string]any{
		"title":   SeedWikiSlug,
		"content": "# Home\n\nLive test wiki.\n",
		"format":  "markdown",
	}, nil); err != nil {
		return fmt.Errorf("failed to create wiki page: %w", err)
	}
	s.created("wiki " + SeedWikiSlug)
	return nil
}

func (s *seeder) issue(ctx context.Context) error {
	var issues []models.Issue
	if err := get(ctx, s.api, s.projectPath("/issues?search=%s", url.QueryEscape(SeedIssueTitle)), &issues); err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}
	for _, i := range issues {
		if i.Title == SeedIssueTitle {
			return nil
		}
	}
	if err := create(ctx, s.api, s.projectPath("/issues"), map[string]any{
		"title":       SeedIssueTitle,
		"description": "Seeded for read-only specs.",
		"labels":      "bug",
	}, nil); err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	s.created("issue " + SeedIssueTitle)
	return nil
}

func (s *seeder) mergeRequest(ctx context.Context) error {
	found, err := exists(ctx, s.api, s.projectPath("/repository/branches/%s", fixtures.EncodeRef(SeedBranch)))
	if err != nil {
		return err
	}
	if !found {
		if err := create(ctx, s.api, s.projectPath("/repository/branches"), map[string]any{
			"branch": SeedBranch,
			"ref":    s.opts.DefaultBranch,
		}, nil); err != nil {
			return fmt.Errorf("failed to create branch: %w", err)
		}
		if err := create(ctx, s.api, s.projectPath("/repository/files/%s", fixtures.EncodeFilePath("feature.txt")), map[string]any{
			"branch":         SeedBranch,
			"content":        "sample feature\n",
			"commit_message": "Add sample feature",
		}, nil); err != nil {
			return fmt.Errorf("failed to commit to %s: %w", SeedBranch, err)
		}
		s.created("branch " + SeedBranch)
	}

	var mrs []models.MergeRequest
	if err := get(ctx, s.api, s.projectPath("/merge_requests?state=opened&source_branch=%s", url.QueryEscape(SeedBranch)), &mrs); err != nil {
		return fmt.Errorf("failed to list merge requests: %w", err)
	}
	if len(mrs) > 0 {
		return nil
	}
	if err := create(ctx, s.api, s.projectPath("/merge_requests"), map[string]any{
		"title":         SeedMergeRequest,
		"description":   "Sample feature branch for read-only specs.",
		"source_branch": SeedBranch,
		"target_branch": s.opts.DefaultBranch,
		"labels":        "feature",
	}, nil); err != nil {
		return fmt.Errorf("failed to create merge request: %w", err)
	}
	s.created("merge request " + SeedMergeRequest)
	return nil
}

// SeedUsers makes sure a user exists and is a project member for every
// non-root role, then issues one token per role. It needs an admin client.
func SeedUsers(ctx context.Context, api fixtures.API, projectID int, password string) (map[glab.Role]string, error) {
	levels := map[glab.Role]int{
		glab.RoleMaintainer: models.AccessMaintainer,
		glab.RoleDeveloper:  models.AccessDeveloper,
		glab.RoleReporter:   models.AccessReporter,
	}

	tokens := make(map[glab.Role]string, len(levels))
	for _, role := range glab.Roles {
		level, ok := levels[role]
		if !ok {
			continue
		}
		username := "test-" + string(role)

		u, err := ensureUser(ctx, api, username, password)
		if err != nil {
			return nil, err
		}
		if err := ensureMember(ctx, api, projectID, u.ID, level); err != nil {
			return nil, err
		}

		var pat personalAccessToken
		if err := create(ctx, api, fmt.Sprintf("/users/%d/personal_access_tokens", u.ID), map[string]any{
			"name":       tokenName,
			"scopes":     []string{"api"},
			"expires_at": time.Now().Add(tokenLifetime).Format(time.DateOnly),
		}, &pat); err != nil {
			return nil, fmt.Errorf("failed to create token for %s: %w", username, err)
		}
		tokens[role] = pat.Token
		zap.S().Named("seed").Infow("role token issued", "role", role, "username", username)
	}
	return tokens, nil
}

func ensureUser(ctx context.Context, api fixtures.API, username, password string) (models.User, error) {
	var users []models.User
	if err := get(ctx, api, "/users?username="+url.QueryEscape(username), &users); err != nil {
		return models.User{}, fmt.Errorf("failed to look up %s: %w", username, err)
	}
	if len(users) > 0 {
		return users[0], nil
	}

	var u models.User
	if err := create(ctx, api, "/users", map[string]any{
		"username":          username,
		"name":              username,
		"email":             username + "@example.com",
		"password":          password,
		"skip_confirmation": true,
	}, &u); err != nil {
		return models.User{}, fmt.Errorf("failed to create %s: %w", username, err)
	}
	return u, nil
}

func ensureMember(ctx context.Context, api fixtures.API, projectID, userID, level int) error {
	found, err := exists(ctx, api, fmt.Sprintf("/projects/%d/members/%d", projectID, userID))
	if err != nil || found {
		return err
	}
	return create(ctx, api, fmt.Sprintf("/projects/%d/members", projectID), map[string]any{
		"user_id":      userID,
		"access_level": level,
	}, nil)
}

func isMissing(err error) bool {
	return srvErrors.IsNotFound(err) || srvErrors.IsResourceNotFoundError(err)
}

func exists(ctx context.Context, api fixtures.API, endpoint string) (bool, error) {
	_, err := api.Request(ctx, http.MethodGet, endpoint, nil)
	switch {
	case err == nil:
		return true, nil
	case srvErrors.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func get(ctx context.Context, api fixtures.API, endpoint string, out any) error {
	resp, err := api.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func create(ctx context.Context, api fixtures.API, endpoint string, body, out any) error {
	resp, err := api.Request(ctx, http.MethodPost, endpoint, body)
	if err != nil || out == nil {
		return err
	}
	return resp.Decode(out)
}
