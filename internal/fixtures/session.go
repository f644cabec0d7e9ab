package fixtures

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gitlab-skills/live-harness/internal/models"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// UniqueID returns 8 hex characters for naming fixtures.
func UniqueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ProjectID resolves "group/project" to its numeric ID.
func ProjectID(ctx context.Context, api API, path string) (int, error) {
	var project models.Project
	if err := get(ctx, api, "/projects/"+EncodeProjectPath(path), &project); err != nil {
		if errors.Is(err, glab.ErrAbsent) {
			return 0, srvErrors.NewProjectNotFoundError(path)
		}
		return 0, err
	}
	return project.ID, nil
}

// GroupID resolves a group path to its numeric ID.
func GroupID(ctx context.Context, api API, path string) (int, error) {
	var group models.Group
	if err := get(ctx, api, "/groups/"+EncodeProjectPath(path), &group); err != nil {
		if errors.Is(err, glab.ErrAbsent) {
			return 0, srvErrors.NewGroupNotFoundError(path)
		}
		return 0, err
	}
	return group.ID, nil
}

func get(ctx context.Context, api API, endpoint string, out any) error {
	resp, err := api.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
