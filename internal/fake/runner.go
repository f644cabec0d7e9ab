package fake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// Runner answers glab invocations from an http.Handler instead of spawning
// the binary. Only "api" and "version" are understood.
type Runner struct {
	handler http.Handler
}

func NewRunner(handler http.Handler) *Runner {
	return &Runner{handler: handler}
}

type apiCall struct {
	method   string
	endpoint string
	headers  http.Header
	stdin    bool
}

func (r *Runner) Run(ctx context.Context, inv glab.Invocation) (glab.Output, error) {
	if err := ctx.Err(); err != nil {
		return glab.Output{}, err
	}
	if len(inv.Args) == 0 {
		return usage("no command given"), nil
	}

	switch inv.Args[0] {
	case "version":
		return glab.Output{Stdout: "glab version " + Version + "\n"}, nil
	case "api":
		call, err := parseAPIArgs(inv.Args[1:])
		if err != nil {
			return usage(err.Error()), nil
		}
		return r.api(ctx, call, inv)
	default:
		return usage(fmt.Sprintf("unknown command %q", inv.Args[0])), nil
	}
}

func parseAPIArgs(args []string) (apiCall, error) {
	call := apiCall{method: http.MethodGet, headers: http.Header{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("flag needs an argument: %s", arg)
			}
			i++
			return args[i], nil
		}

		switch arg {
		case "-X", "--method":
			v, err := value()
			if err != nil {
				return call, err
			}
			call.method = strings.ToUpper(v)
		case "--input":
			v, err := value()
			if err != nil {
				return call, err
			}
			if v != "-" {
				return call, fmt.Errorf("only stdin input is supported, got %q", v)
			}
			call.stdin = true
		case "-H", "--header":
			v, err := value()
			if err != nil {
				return call, err
			}
			name, val, ok := strings.Cut(v, ":")
			if !ok {
				return call, fmt.Errorf("invalid header %q", v)
			}
			call.headers.Add(strings.TrimSpace(name), strings.TrimSpace(val))
		default:
			if strings.HasPrefix(arg, "-") {
				return call, fmt.Errorf("unknown flag: %s", arg)
			}
			if call.endpoint != "" {
				return call, fmt.Errorf("unexpected argument %q", arg)
			}
			call.endpoint = arg
		}
	}
	if call.endpoint == "" {
		return call, fmt.Errorf("endpoint is required")
	}
	return call, nil
}

func (r *Runner) api(ctx context.Context, call apiCall, inv glab.Invocation) (glab.Output, error) {
	endpoint := call.endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	var body []byte
	if call.stdin {
		body = inv.Stdin
	}

	req, err := http.NewRequestWithContext(ctx, call.method, "http://fake.gitlab"+"/api/v4"+endpoint, bytes.NewReader(body))
	if err != nil {
		return usage(err.Error()), nil
	}
	req.Header = call.headers
	if token := inv.Env["GITLAB_TOKEN"]; token != "" {
		req.Header.Set(tokenField, token)
	}

	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, req)

	if rec.Code >= 200 && rec.Code < 300 {
		return glab.Output{Stdout: rec.Body.String()}, nil
	}
	return glab.Output{
		Stderr:   fmt.Sprintf("glab: %s (HTTP %d)\n", responseMessage(rec), rec.Code),
		ExitCode: 1,
	}, nil
}

// responseMessage renders an error body the way glab prints it.
func responseMessage(rec *httptest.ResponseRecorder) string {
	var body struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err == nil {
		var s string
		switch {
		case json.Unmarshal(body.Message, &s) == nil && s != "":
			return s
		case len(body.Message) > 0:
			return string(body.Message)
		case body.Error != "":
			return body.Error
		}
	}
	return fmt.Sprintf("%d %s", rec.Code, http.StatusText(rec.Code))
}

func usage(msg string) glab.Output {
	return glab.Output{Stderr: "glab: " + msg + "\n", ExitCode: 1}
}
