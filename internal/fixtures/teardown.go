package fixtures

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// API is the part of the glab client fixtures need.
type API interface {
	Request(ctx context.Context, method, endpoint string, body any) (*glab.Response, error)
}

var labelEscaper = strings.NewReplacer("/", "%2F", " ", "%20")

// EncodeLabel escapes a label name for use in a path.
func EncodeLabel(name string) string {
	return labelEscaper.Replace(name)
}

// EncodeRef escapes a branch or tag name for use in a path.
func EncodeRef(name string) string {
	return strings.ReplaceAll(name, "/", "%2F")
}

// EncodeProjectPath turns "group/project" into "group%2Fproject".
func EncodeProjectPath(path string) string {
	return strings.ReplaceAll(path, "/", "%2F")
}

// EncodeFilePath escapes a repository file path, slashes included.
func EncodeFilePath(path string) string {
	return url.PathEscape(path)
}

// FileKey is the ledger key of a repository file.
func FileKey(branch, path string) string {
	return branch + ":" + path
}

func splitFileKey(key string) (branch, path string, err error) {
	branch, path, ok := strings.Cut(key, ":")
	if !ok || branch == "" || path == "" {
		return "", "", fmt.Errorf("malformed file key %q", key)
	}
	return branch, path, nil
}

// teardownRequest is the call undoing one fixture.
type teardownRequest struct {
	method   string
	endpoint string
	body     any
}

func teardownFor(f models.Fixture) (teardownRequest, error) {
	project := fmt.Sprintf("/projects/%d", f.ProjectID)
	del := func(format string, args ...any) (teardownRequest, error) {
		return teardownRequest{method: http.MethodDelete, endpoint: project + fmt.Sprintf(format, args...)}, nil
	}

	switch f.Kind {
	case models.FixtureIssue:
		return del("/issues/%s", f.Key)
	case models.FixtureBranch:
		return del("/repository/branches/%s", EncodeRef(f.Key))
	case models.FixtureLabel:
		return del("/labels/%s", EncodeLabel(f.Key))
	case models.FixtureMilestone:
		return del("/milestones/%s", f.Key)
	case models.FixtureMergeRequest:
		return teardownRequest{
			method:   http.MethodPut,
			endpoint: fmt.Sprintf("%s/merge_requests/%s", project, f.Key),
			body:     map[string]string{"state_event": "close"},
		}, nil
	case models.FixtureWebhook:
		return del("/hooks/%s", f.Key)
	case models.FixtureVariable:
		return del("/variables/%s", f.Key)
	case models.FixtureWikiPage:
		return del("/wikis/%s", f.Key)
	case models.FixtureBadge:
		return del("/badges/%s", f.Key)
	case models.FixtureRelease:
		return del("/releases/%s", EncodeRef(f.Key))
	case models.FixtureTag:
		return del("/repository/tags/%s", EncodeRef(f.Key))
	case models.FixtureProtectedBranch:
		return del("/protected_branches/%s", EncodeRef(f.Key))
	case models.FixtureFile:
		branch, path, err := splitFileKey(f.Key)
		if err != nil {
			return teardownRequest{}, err
		}
		q := url.Values{}
		q.Set("branch", branch)
		q.Set("commit_message", "Remove "+path)
		return del("/repository/files/%s?%s", EncodeFilePath(path), q.Encode())
	default:
		return teardownRequest{}, fmt.Errorf("no teardown for fixture kind %q", f.Kind)
	}
}

// Teardown removes f from the instance, or closes it for merge requests.
func Teardown(ctx context.Context, api API, f models.Fixture) error {
	req, err := teardownFor(f)
	if err != nil {
		return err
	}
	_, err = api.Request(ctx, req.method, req.endpoint, req.body)
	return err
}
