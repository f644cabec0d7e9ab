package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

const (
	rootUsername  = "root"
	tokenName     = "live-harness"
	tokenLifetime = 30 * 24 * time.Hour
)

var tokenScopes = []string{"api", "sudo"}

type oauthToken struct {
	AccessToken string `json:"access_token"`
}

type personalAccessToken struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// RootToken exchanges the root password for a personal access token. A
// fresh instance has no token at all, so this goes through the OAuth
// password grant instead of glab.
func (s *Stack) RootToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", rootUsername)
	form.Set("password", s.cfg.RootPassword)

	var oauth oauthToken
	if err := s.call(ctx, http.MethodPost, "/oauth/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), "", &oauth); err != nil {
		return "", fmt.Errorf("failed to log in as root: %w", err)
	}
	if oauth.AccessToken == "" {
		return "", fmt.Errorf("failed to log in as root: empty access token")
	}

	var me struct {
		ID int `json:"id"`
	}
	if err := s.call(ctx, http.MethodGet, "/api/v4/user", "", nil, oauth.AccessToken, &me); err != nil {
		return "", fmt.Errorf("failed to look up root: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"name":       tokenName,
		"scopes":     tokenScopes,
		"expires_at": time.Now().Add(tokenLifetime).Format(time.DateOnly),
	})
	if err != nil {
		return "", err
	}

	var pat personalAccessToken
	endpoint := fmt.Sprintf("/api/v4/users/%d/personal_access_tokens", me.ID)
	if err := s.call(ctx, http.MethodPost, endpoint, "application/json", bytes.NewReader(body), oauth.AccessToken, &pat); err != nil {
		return "", fmt.Errorf("failed to create root token: %w", err)
	}
	s.logger.Infow("root token created", "token_id", pat.ID)
	return pat.Token, nil
}

func (s *Stack) call(ctx context.Context, method, path, contentType string, body io.Reader, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.URL()+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return srvErrors.NewAPIError(resp.StatusCode, errorMessage(data, resp.Status), data)
	}
	return json.Unmarshal(data, out)
}

// errorMessage picks the human readable part of a GitLab or OAuth error body.
func errorMessage(data []byte, fallback string) string {
	var body struct {
		Message          any    `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return fallback
	}
	switch {
	case body.ErrorDescription != "":
		return body.ErrorDescription
	case body.Error != "":
		return body.Error
	}
	if msg, ok := body.Message.(string); ok && msg != "" {
		return msg
	}
	return fallback
}
