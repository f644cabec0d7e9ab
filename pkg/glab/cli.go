package glab

import (
	"context"
	"time"
)

// CLI runs arbitrary glab subcommands (issue list, mr view, ...) the way a
// skill would invoke them. Failures are reported through Output, not errors.
type CLI struct {
	host    string
	token   string
	runner  Runner
	timeout time.Duration
}

func NewCLI(creds Credentials, runner Runner) *CLI {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &CLI{
		host:    creds.Host,
		token:   creds.Token,
		runner:  runner,
		timeout: DefaultTimeout,
	}
}

// WithTimeout returns a copy of the helper using d as the invocation timeout.
func (c *CLI) WithTimeout(d time.Duration) *CLI {
	clone := *c
	clone.timeout = d
	return &clone
}

// Run executes glab [--repo repo] args... An empty repo omits the flag.
func (c *CLI) Run(ctx context.Context, repo string, args ...string) (Output, error) {
	argv := make([]string, 0, len(args)+2)
	if repo != "" {
		argv = append(argv, "--repo", repo)
	}
	argv = append(argv, args...)

	return c.runner.Run(ctx, Invocation{
		Args: argv,
		Env: map[string]string{
			"GITLAB_HOST":  c.host,
			"GITLAB_TOKEN": c.token,
		},
		Timeout: c.timeout,
	})
}
