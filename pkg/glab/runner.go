package glab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cli/safeexec"
)

const defaultBinary = "glab"

// DefaultWaitDelay bounds how long Run waits for glab's output pipes to
// close once the process was killed.
const DefaultWaitDelay = 5 * time.Second

// ErrTimeout is returned by a Runner when an invocation exceeds its timeout.
var ErrTimeout = errors.New("glab invocation timed out")

// Invocation is a single glab call. Env entries override the inherited
// process environment.
type Invocation struct {
	Args    []string
	Env     map[string]string
	Stdin   []byte
	Dir     string
	Timeout time.Duration
}

// Output is what glab wrote and how it exited.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (o Output) Success() bool {
	return o.ExitCode == 0
}

// Combined returns stdout followed by stderr.
func (o Output) Combined() string {
	return o.Stdout + o.Stderr
}

// Runner executes glab invocations. A non-zero exit is reported through
// Output.ExitCode, not as an error.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Output, error)
}

// ExecRunner runs the real glab binary.
type ExecRunner struct {
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration

	binary string
	once   sync.Once
	path   string
	err    error
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{binary: defaultBinary}
}

// NewExecRunnerWithBinary runs binary instead of glab. Useful to pin a glab
// build outside of PATH.
func NewExecRunnerWithBinary(binary string) *ExecRunner {
	return &ExecRunner{binary: binary}
}

func (r *ExecRunner) lookPath() (string, error) {
	r.once.Do(func() {
		r.path, r.err = safeexec.LookPath(r.binary)
	})
	return r.path, r.err
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	path, err := r.lookPath()
	if err != nil {
		return Output{}, fmt.Errorf("locating %s: %w", r.binary, err)
	}

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, inv.Args...)
	cmd.Env = mergeEnv(os.Environ(), inv.Env)
	cmd.Dir = inv.Dir
	// A killed glab may leave children holding stdout and stderr open.
	cmd.WaitDelay = DefaultWaitDelay
	if r.WaitDelay > 0 {
		cmd.WaitDelay = r.WaitDelay
	}
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, ErrTimeout
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
