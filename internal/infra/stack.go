package infra

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/config"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

const (
	gitlabHTTPPort = 80
	gitlabShmSize  = 256 << 20

	configVolumeSuffix = "-config"
	logsVolumeSuffix   = "-logs"
	dataVolumeSuffix   = "-data"

	defaultPollInterval = 5 * time.Second
)

// Stack runs a GitLab CE container for local live runs.
type Stack struct {
	runtime  Runtime
	cfg      config.Stack
	http     *http.Client
	interval time.Duration
	logger   *zap.SugaredLogger
}

type StackOption func(*Stack)

func WithHTTPClient(c *http.Client) StackOption {
	return func(s *Stack) { s.http = c }
}

// WithPollInterval sets the delay between readiness probes.
func WithPollInterval(d time.Duration) StackOption {
	return func(s *Stack) { s.interval = d }
}

func NewStack(runtime Runtime, cfg config.Stack, opts ...StackOption) *Stack {
	s := &Stack{
		runtime:  runtime,
		cfg:      cfg,
		http:     &http.Client{Timeout: 10 * time.Second},
		interval: defaultPollInterval,
		logger:   zap.S().Named("stack"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL is the address GitLab is published on.
func (s *Stack) URL() string {
	return fmt.Sprintf("http://localhost:%d", s.cfg.HTTPPort)
}

// Host is URL without its scheme, the form glab expects in GITLAB_HOST.
func (s *Stack) Host() string {
	return strings.TrimPrefix(s.URL(), "http://")
}

func (s *Stack) volumes() []string {
	return []string{
		s.cfg.ContainerName + configVolumeSuffix,
		s.cfg.ContainerName + logsVolumeSuffix,
		s.cfg.ContainerName + dataVolumeSuffix,
	}
}

// ContainerConfig describes the GitLab container. Data lives in named
// volumes so Down without purge keeps the instance.
func (s *Stack) ContainerConfig() *ContainerConfig {
	omnibus := strings.Join([]string{
		fmt.Sprintf("external_url '%s'", s.URL()),
		fmt.Sprintf("nginx['listen_port'] = %d", gitlabHTTPPort),
		fmt.Sprintf("gitlab_rails['initial_root_password'] = '%s'", s.cfg.RootPassword),
		"gitlab_rails['monitoring_whitelist'] = ['0.0.0.0/0']",
		"prometheus_monitoring['enable'] = false",
		"puma['worker_processes'] = 0",
		"sidekiq['concurrency'] = 10",
	}, "; ")

	vols := s.volumes()
	return NewContainerConfig(s.cfg.ContainerName, s.cfg.Image).
		WithHostname("localhost").
		WithShmSize(gitlabShmSize).
		WithPort(s.cfg.HTTPPort, gitlabHTTPPort).
		WithEnvVar("GITLAB_OMNIBUS_CONFIG", omnibus).
		WithEnvVar("GITLAB_ROOT_PASSWORD", s.cfg.RootPassword).
		WithVolume(vols[0], "/etc/gitlab").
		WithVolume(vols[1], "/var/log/gitlab").
		WithVolume(vols[2], "/var/opt/gitlab")
}

// Up starts the container. A running container is reused; a stopped one is
// recreated on top of its volumes.
func (s *Stack) Up(ctx context.Context) error {
	state, err := s.runtime.State(ctx, s.cfg.ContainerName)
	if err != nil {
		return err
	}
	if state.Running {
		s.logger.Infow("gitlab container already running", "name", s.cfg.ContainerName)
		return nil
	}
	if state.Exists {
		s.logger.Infow("recreating stopped gitlab container", "name", s.cfg.ContainerName, "status", state.Status)
		if err := s.runtime.RemoveContainer(ctx, s.cfg.ContainerName); err != nil {
			return err
		}
	}

	if err := s.runtime.EnsureImage(ctx, s.cfg.Image); err != nil {
		return err
	}
	id, err := s.runtime.StartContainer(ctx, s.ContainerConfig())
	if err != nil {
		return err
	}
	s.logger.Infow("gitlab container started", "name", s.cfg.ContainerName, "id", id, "url", s.URL())
	return nil
}

// WaitReady polls the API until it answers or ReadyTimeout elapses. A 401 on
// /api/v4/version counts as ready since the probe carries no token.
func (s *Stack) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := s.probe(ctx)
		if err == nil {
			s.logger.Infow("gitlab is ready", "url", s.URL(), "attempts", attempt)
			return nil
		}
		// keep the last answer from the instance over our own deadline
		if ctx.Err() == nil || lastErr == nil {
			lastErr = err
		}
		s.logger.Debugw("gitlab not ready yet", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return srvErrors.NewNotReadyError(s.URL(), s.cfg.ReadyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (s *Stack) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL()+"/api/v4/version", nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized:
		return nil
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// Down stops and removes the container. Purge also drops its volumes, which
// wipes the instance.
func (s *Stack) Down(ctx context.Context, purge bool) error {
	state, err := s.runtime.State(ctx, s.cfg.ContainerName)
	if err != nil {
		return err
	}
	if state.Running {
		if err := s.runtime.StopContainer(ctx, s.cfg.ContainerName); err != nil {
			return err
		}
	}
	if state.Exists {
		if err := s.runtime.RemoveContainer(ctx, s.cfg.ContainerName); err != nil {
			return err
		}
		s.logger.Infow("gitlab container removed", "name", s.cfg.ContainerName)
	}

	if !purge {
		return nil
	}
	for _, v := range s.volumes() {
		if err := s.runtime.RemoveVolume(ctx, v); err != nil {
			return err
		}
	}
	s.logger.Infow("gitlab volumes removed", "volumes", s.volumes())
	return nil
}

func (s *Stack) Status(ctx context.Context) (ContainerState, error) {
	return s.runtime.State(ctx, s.cfg.ContainerName)
}

func (s *Stack) Logs(ctx context.Context, tail int) ([]string, error) {
	state, err := s.runtime.State(ctx, s.cfg.ContainerName)
	if err != nil {
		return nil, err
	}
	if !state.Exists {
		return nil, srvErrors.NewResourceNotFoundError("container", s.cfg.ContainerName)
	}
	return s.runtime.Logs(ctx, s.cfg.ContainerName, tail)
}
