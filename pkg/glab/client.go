package glab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

const (
	DefaultRetries   = 3
	DefaultTimeout   = 30 * time.Second
	DefaultBaseDelay = time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client issues GitLab REST calls through `glab api`.
//
// Failed calls are retried only when the status is 429, 5xx or unknown
// (timeouts). The delay doubles after each failed attempt. Any other 4xx is
// returned immediately.
type Client struct {
	creds     Credentials
	token     string
	role      Role
	runner    Runner
	retries   int
	timeout   time.Duration
	baseDelay time.Duration
	sleep     Sleeper
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
}

type Option func(*Client)

func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithRetries sets the total number of attempts per request.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithRateLimit throttles calls to perSecond with the given burst. Clients
// derived with AsRole share the limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger replaces the client logger. A nil logger keeps the default.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l == nil {
			l = zap.S().Named("glab")
		}
		c.logger = l
	}
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:     creds,
		token:     creds.Token,
		runner:    NewExecRunner(),
		retries:   DefaultRetries,
		timeout:   DefaultTimeout,
		baseDelay: DefaultBaseDelay,
		sleep:     sleepContext,
		logger:    zap.S().Named("glab"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AsRole returns a copy of the client authenticating with role's token.
func (c *Client) AsRole(role Role) (*Client, error) {
	token, err := c.creds.TokenFor(role)
	if err != nil {
		return nil, err
	}
	clone := *c
	clone.token = token
	clone.role = role
	clone.logger = c.logger.With("role", string(role))
	return &clone, nil
}

// MustAsRole is AsRole for suites where a missing token is a setup bug.
func (c *Client) MustAsRole(role Role) *Client {
	clone, err := c.AsRole(role)
	if err != nil {
		panic(err)
	}
	return clone
}

// Role returns the role selected with AsRole, or "" for the default token.
func (c *Client) Role() Role {
	return c.role
}

func (c *Client) Credentials() Credentials {
	return c.creds
}

// CLI returns a helper running plain glab commands with this client's token.
func (c *Client) CLI() *CLI {
	return &CLI{
		host:    c.creds.Host,
		token:   c.token,
		runner:  c.runner,
		timeout: DefaultTimeout,
	}
}

// Request performs method on endpoint and returns the decoded response.
// body is sent as JSON for POST, PUT and PATCH only. A nil *Response with a
// nil error means the call succeeded with an empty body.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any) (*Response, error) {
	method = strings.ToUpper(method)

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		resp, err := c.do(ctx, method, endpoint, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !srvErrors.IsRetryable(err) {
			return nil, err
		}

		if attempt < c.retries-1 {
			delay := c.baseDelay * time.Duration(1<<attempt)
			c.logger.Warnw("retrying glab api call",
				"method", method,
				"endpoint", endpoint,
				"attempt", attempt+1,
				"delay", delay,
				"status", srvErrors.StatusCode(err),
				"error", err)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	if lastErr == nil {
		lastErr = srvErrors.NewAPIError(0, "Request failed", nil)
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := []string{"api", "-X", method}

	var stdin []byte
	if body != nil && hasBody(method) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		stdin = data
		args = append(args, "--input", "-", "-H", "Content-Type: application/json")
	}
	args = append(args, endpoint)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Debugw("glab api", "method", method, "endpoint", endpoint)
	out, err := c.runner.Run(ctx, Invocation{
		Args:    args,
		Env:     c.env(),
		Stdin:   stdin,
		Timeout: c.timeout,
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, srvErrors.NewTimeoutError(int(c.timeout.Seconds()))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("running glab: %w", err)
	}

	if out.ExitCode != 0 {
		message, response := errorMessage(out)
		return nil, srvErrors.NewAPIErrorFromMessage(message, response)
	}

	if strings.TrimSpace(out.Stdout) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(out.Stdout)) {
		return newRawResponse(out.Stdout), nil
	}
	return newJSONResponse([]byte(out.Stdout)), nil
}

func (c *Client) env() map[string]string {
	return map[string]string{
		"GITLAB_HOST":  c.creds.Host,
		"GITLAB_TOKEN": c.token,
	}
}

// errorMessage extracts the message of a failed call. stderr is preferred;
// JSON bodies contribute their "message" field.
func errorMessage(out Output) (string, []byte) {
	text := out.Stderr
	if text == "" {
		text = out.Stdout
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		msg, ok := obj["message"]
		if !ok {
			return strings.TrimSpace(text), []byte(text)
		}
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			return s, []byte(text)
		}
		return string(msg), []byte(text)
	}

	if text == "" {
		return "Unknown error", nil
	}
	return strings.TrimSpace(text), []byte(text)
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) Get(ctx context.Context, endpoint string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPost, endpoint, body)
}

func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPut, endpoint, body)
}

func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, endpoint, body)
}

func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, endpoint, nil)
}

// GetInto decodes a GET response into v. An empty body yields ErrAbsent.
func (c *Client) GetInto(ctx context.Context, endpoint string, v any) error {
	resp, err := c.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

func (c *Client) PostInto(ctx context.Context, endpoint string, body, v any) error {
	resp, err := c.Post(ctx, endpoint, body)
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

func (c *Client) PutInto(ctx context.Context, endpoint string, body, v any) error {
	resp, err := c.Put(ctx, endpoint, body)
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

// Version is the payload of GET /version.
type Version struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
}

// Ping checks that the instance answers GET /version with this token.
func (c *Client) Ping(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.GetInto(ctx, "/version", &v); err != nil {
		if errors.Is(err, ErrAbsent) {
			return nil, fmt.Errorf("cannot connect to GitLab: empty version response")
		}
		return nil, err
	}
	return &v, nil
}
