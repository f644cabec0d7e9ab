package config

import (
	"time"

	"github.com/creasty/defaults"

	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// Configuration holds every setting of the harness. Flags, GITLAB_* env
// variables and .env.test entries all land here.
type Configuration struct {
	GitLab   GitLab
	Request  Request
	Fixtures Fixtures
	Ledger   Ledger
	Stack    Stack
	Fake     Fake
	LogLevel string `default:"info" validate:"oneof=debug info warn error"`
}

// GitLab describes the instance under test.
type GitLab struct {
	URL             string `default:"http://localhost:8080" validate:"required,url"`
	Host            string `default:"localhost:8080" validate:"required"`
	Token           string
	RootToken       string
	MaintainerToken string
	DeveloperToken  string
	ReporterToken   string
	Group           string `default:"live-test-group" validate:"required"`
	Project         string `default:"live-test-group/test-project" validate:"required"`
}

type Request struct {
	Retries   int           `default:"3" validate:"min=1,max=10"`
	Timeout   time.Duration `default:"30s" validate:"gt=0"`
	BaseDelay time.Duration `default:"1s" validate:"gte=0"`
	// RateLimit is the maximum number of calls per second. Zero disables it.
	RateLimit float64 `default:"0" validate:"gte=0"`
}

type Fixtures struct {
	DefaultRef     string `default:"main" validate:"required"`
	CleanupWorkers int    `default:"4" validate:"min=1,max=64"`
}

// Ledger records every fixture so crashed runs can be swept.
type Ledger struct {
	Enabled bool   `default:"true"`
	Path    string `default:".harness/ledger.duckdb" validate:"required_if=Enabled true"`
}

// Stack configures the local GitLab CE container.
type Stack struct {
	PodmanSocket  string
	Image         string        `default:"docker.io/gitlab/gitlab-ce:latest" validate:"required"`
	ContainerName string        `default:"gitlab-live" validate:"required"`
	HTTPPort      int           `default:"8080" validate:"min=1,max=65535"`
	RootPassword  string        `default:"LiveTest!2024"`
	ReadyTimeout  time.Duration `default:"10m" validate:"gt=0"`
}

// Fake configures the in-memory GitLab used for offline runs.
type Fake struct {
	HTTPPort   int    `default:"8081" validate:"min=1,max=65535"`
	SigningKey string `default:"live-harness-fake" validate:"required"`
	// TLS serves the fake over HTTPS with a self-signed certificate.
	TLS bool
}

type Option func(*Configuration)

func WithToken(token string) Option {
	return func(c *Configuration) { c.GitLab.Token = token }
}

func WithURL(url, host string) Option {
	return func(c *Configuration) {
		c.GitLab.URL = url
		c.GitLab.Host = host
	}
}

func WithLedgerPath(path string) Option {
	return func(c *Configuration) {
		c.Ledger.Path = path
		c.Ledger.Enabled = path != ""
	}
}

func NewConfigurationWithOptionsAndDefaults(opts ...Option) *Configuration {
	c := &Configuration{}
	defaults.MustSet(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials maps the GitLab section to the client's credentials.
func (c *Configuration) Credentials() glab.Credentials {
	return glab.Credentials{
		URL:             c.GitLab.URL,
		Host:            c.GitLab.Host,
		Token:           c.GitLab.Token,
		RootToken:       c.GitLab.RootToken,
		MaintainerToken: c.GitLab.MaintainerToken,
		DeveloperToken:  c.GitLab.DeveloperToken,
		ReporterToken:   c.GitLab.ReporterToken,
	}
}

// ClientOptions returns the client options derived from the Request section.
func (c *Configuration) ClientOptions() []glab.Option {
	opts := []glab.Option{
		glab.WithRetries(c.Request.Retries),
		glab.WithTimeout(c.Request.Timeout),
		glab.WithBaseDelay(c.Request.BaseDelay),
	}
	if c.Request.RateLimit > 0 {
		opts = append(opts, glab.WithRateLimit(c.Request.RateLimit, 1))
	}
	return opts
}

// HasToken reports whether live runs are possible.
func (c *Configuration) HasToken() bool {
	return c.GitLab.Token != ""
}
