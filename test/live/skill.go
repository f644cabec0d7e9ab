package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	. "github.com/onsi/gomega"

	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// Glab runs a glab subcommand as the client's user against repo.
func Glab(ctx context.Context, api *glab.Client, repo string, args ...string) glab.Output {
	return RunCLI(ctx, api.CLI(), repo, args...)
}

// RunCLI runs args through cli and fails the test only when glab could not
// be started at all.
func RunCLI(ctx context.Context, cli *glab.CLI, repo string, args ...string) glab.Output {
	out, err := cli.Run(ctx, repo, args...)
	ExpectWithOffset(2, err).ToNot(HaveOccurred(), "running glab %v", args)
	return out
}

func describeOutput(out glab.Output) string {
	return fmt.Sprintf("stdout: %s\nstderr: %s", out.Stdout, out.Stderr)
}

func ExpectSuccess(out glab.Output) {
	ExpectWithOffset(1, out.ExitCode).To(BeZero(),
		"command failed with code %d\n%s", out.ExitCode, describeOutput(out))
}

func ExpectFailure(out glab.Output) {
	ExpectWithOffset(1, out.ExitCode).ToNot(BeZero(),
		"expected command to fail, but it succeeded\nstdout: %s", out.Stdout)
}

// ExpectOutputContains checks stdout and stderr together.
func ExpectOutputContains(out glab.Output, expected string) {
	ExpectWithOffset(1, out.Combined()).To(ContainSubstring(expected),
		"expected %q in output\n%s", expected, describeOutput(out))
}

func ExpectOutputNotContains(out glab.Output, unexpected string) {
	ExpectWithOffset(1, out.Combined()).ToNot(ContainSubstring(unexpected),
		"did not expect %q in output\n%s", unexpected, describeOutput(out))
}

// APIGet returns the decoded body of GET endpoint. A failure whose status is
// one of expectedStatus yields nil instead of failing the test.
func APIGet(ctx context.Context, api *glab.Client, endpoint string, expectedStatus ...int) any {
	return call(ctx, api, http.MethodGet, endpoint, nil, expectedStatus)
}

func APIPost(ctx context.Context, api *glab.Client, endpoint string, body any, expectedStatus ...int) any {
	return call(ctx, api, http.MethodPost, endpoint, body, expectedStatus)
}

func APIPut(ctx context.Context, api *glab.Client, endpoint string, body any, expectedStatus ...int) any {
	return call(ctx, api, http.MethodPut, endpoint, body, expectedStatus)
}

func APIPatch(ctx context.Context, api *glab.Client, endpoint string, body any, expectedStatus ...int) any {
	return call(ctx, api, http.MethodPatch, endpoint, body, expectedStatus)
}

func APIDelete(ctx context.Context, api *glab.Client, endpoint string, expectedStatus ...int) any {
	return call(ctx, api, http.MethodDelete, endpoint, nil, expectedStatus)
}

func call(ctx context.Context, api *glab.Client, method, endpoint string, body any, expectedStatus []int) any {
	resp, err := api.Request(ctx, method, endpoint, body)
	if err != nil {
		if slices.Contains(expectedStatus, srvErrors.StatusCode(err)) {
			return nil
		}
		ExpectWithOffset(2, err).ToNot(HaveOccurred(), "%s %s", method, endpoint)
	}

	v, err := resp.Value()
	if errors.Is(err, glab.ErrAbsent) {
		return nil
	}
	ExpectWithOffset(2, err).ToNot(HaveOccurred(), "decoding %s %s", method, endpoint)
	return v
}

// ExpectDenied asserts a call was refused for lack of permission.
func ExpectDenied(err error) {
	ExpectWithOffset(1, err).To(HaveOccurred(), "expected 403 Forbidden")
	ExpectWithOffset(1, srvErrors.StatusCode(err)).To(BeElementOf(http.StatusForbidden, http.StatusUnauthorized), err.Error())
}

// ExpectList asserts v is a JSON array of at least minLength items and
// returns it.
func ExpectList(v any, minLength int) []any {
	list, ok := v.([]any)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected list, got %T", v)
	ExpectWithOffset(1, len(list)).To(BeNumerically(">=", minLength),
		"expected at least %d items, got %d", minLength, len(list))
	return list
}

// ExpectObject asserts v is a JSON object and returns it.
func ExpectObject(v any) map[string]any {
	obj, ok := v.(map[string]any)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected object, got %T", v)
	return obj
}

func ExpectField(v any, field string) any {
	obj := ExpectObject(v)
	ExpectWithOffset(1, obj).To(HaveKey(field), "expected field %q", field)
	return obj[field]
}

// ExpectFieldEquals compares JSON values; numbers decode as float64, so
// integer expectations are compared numerically.
func ExpectFieldEquals(v any, field string, expected any) {
	actual := ExpectField(v, field)
	switch want := expected.(type) {
	case int:
		ExpectWithOffset(1, actual).To(BeNumerically("==", want), "expected %s=%v, got %v", field, want, actual)
	default:
		ExpectWithOffset(1, actual).To(Equal(expected), "expected %s=%v, got %v", field, expected, actual)
	}
}

func ExpectFieldContains(v any, field, expected string) {
	actual := ExpectField(v, field)
	s, ok := actual.(string)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected %s to be a string, got %T", field, actual)
	ExpectWithOffset(1, s).To(ContainSubstring(expected), "expected %q in %s=%q", expected, field, s)
}

// Names collects the string field of every object in list.
func Names(list []any, field string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			if s, ok := obj[field].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// ID reads a numeric field of a JSON object.
func ID(v any, field string) int {
	n, ok := ExpectField(v, field).(float64)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected %s to be a number", field)
	return int(n)
}
