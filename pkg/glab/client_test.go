package glab_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/pkg/glab"
	srvErrors "github.com/gitlab-skills/live-harness/pkg/errors"
)

var _ = Describe("Client", func() {
	var (
		ctx     context.Context
		sleeper *recordingSleeper
	)

	BeforeEach(func() {
		ctx = context.Background()
		sleeper = &recordingSleeper{}
	})

	newClient := func(runner glab.Runner, opts ...glab.Option) *glab.Client {
		opts = append([]glab.Option{glab.WithRunner(runner), glab.WithSleeper(sleeper.Sleep)}, opts...)
		return glab.NewClient(testCreds, opts...)
	}

	Context("Request invocation", func() {
		// Given a GET request
		// When it is issued
		// Then glab api is called with the method, endpoint and the instance env
		It("should build the glab api command line", func() {
			runner := newStubRunner(ok(`{"id": 1}`))
			client := newClient(runner)

			_, err := client.Get(ctx, "/projects/1/issues")

			Expect(err).NotTo(HaveOccurred())
			calls := runner.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Args).To(Equal([]string{"api", "-X", "GET", "/projects/1/issues"}))
			Expect(calls[0].Env).To(HaveKeyWithValue("GITLAB_HOST", "gitlab.test"))
			Expect(calls[0].Env).To(HaveKeyWithValue("GITLAB_TOKEN", "default-token"))
			Expect(calls[0].Stdin).To(BeNil())
			Expect(calls[0].Timeout).To(Equal(glab.DefaultTimeout))
		})

		// Given a POST with a body
		// When it is issued
		// Then the body is sent as JSON on stdin
		It("should send the body on stdin for POST", func() {
			runner := newStubRunner(ok(`{"iid": 7}`))
			client := newClient(runner)

			_, err := client.Post(ctx, "/projects/1/issues", map[string]any{"title": "hello"})

			Expect(err).NotTo(HaveOccurred())
			call := runner.Calls()[0]
			Expect(call.Args).To(Equal([]string{
				"api", "-X", "POST",
				"--input", "-", "-H", "Content-Type: application/json",
				"/projects/1/issues",
			}))
			Expect(call.Stdin).To(MatchJSON(`{"title": "hello"}`))
		})

		// Given a DELETE with a body
		// When it is issued
		// Then the body is ignored
		It("should not send a body for DELETE", func() {
			runner := newStubRunner(ok(""))
			client := newClient(runner)

			_, err := client.Request(ctx, "delete", "/projects/1/labels/bug", map[string]any{"x": 1})

			Expect(err).NotTo(HaveOccurred())
			call := runner.Calls()[0]
			Expect(call.Args).To(Equal([]string{"api", "-X", "DELETE", "/projects/1/labels/bug"}))
			Expect(call.Stdin).To(BeNil())
		})

		// Given a PUT without a body
		// When it is issued
		// Then no --input flag is passed
		It("should omit --input when the body is nil", func() {
			runner := newStubRunner(ok("{}"))
			client := newClient(runner)

			_, err := client.Put(ctx, "/projects/1", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(runner.Calls()[0].Args).NotTo(ContainElement("--input"))
		})
	})

	Context("Response decoding", func() {
		// Given glab prints nothing
		// When the call succeeds
		// Then the response is absent and not an error
		It("should return an absent response for an empty body", func() {
			client := newClient(newStubRunner(ok("  \n")))

			resp, err := client.Delete(ctx, "/projects/1/issues/3")

			Expect(err).NotTo(HaveOccurred())
			Expect(resp).To(BeNil())
			Expect(resp.IsAbsent()).To(BeTrue())
			Expect(resp.Decode(&map[string]any{})).To(MatchError(glab.ErrAbsent))
		})

		// Given glab prints plain text
		// When the call succeeds
		// Then the text is wrapped as {"raw": text}
		It("should pass non-JSON output through as raw", func() {
			client := newClient(newStubRunner(ok("not json")))

			resp, err := client.Get(ctx, "/projects/1/repository/files/README.md/raw")

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsRaw()).To(BeTrue())
			raw, isRaw := resp.Raw()
			Expect(isRaw).To(BeTrue())
			Expect(raw).To(Equal("not json"))
			Expect(resp.Bytes()).To(MatchJSON(`{"raw": "not json"}`))
		})

		// Given a JSON list
		// When decoded into a typed slice
		// Then every element is available
		It("should decode JSON into typed values", func() {
			client := newClient(newStubRunner(ok(`[{"iid": 1}, {"iid": 2}]`)))

			var issues []struct {
				IID int `json:"iid"`
			}
			err := client.GetInto(ctx, "/projects/1/issues", &issues)

			Expect(err).NotTo(HaveOccurred())
			Expect(issues).To(HaveLen(2))
			Expect(issues[1].IID).To(Equal(2))
		})
	})

	Context("Error classification", func() {
		DescribeTable("should sniff the status from glab's message",
			func(stderr string, status int) {
				client := newClient(newStubRunner(fail(stderr)), glab.WithRetries(1))

				_, err := client.Get(ctx, "/projects/1")

				Expect(srvErrors.StatusCode(err)).To(Equal(status))
			},
			Entry("not found", "glab: 404 Not Found (HTTP 404)", 404),
			Entry("unauthorized code", "glab: 401 Unauthorized (HTTP 401)", 401),
			Entry("unauthorized word", "request was Unauthorized", 401),
			Entry("forbidden code", "glab: 403 (HTTP 403)", 403),
			Entry("forbidden word", "FORBIDDEN by policy", 403),
			Entry("unprocessable", "glab: 422 Unprocessable Entity", 422),
			Entry("rate limited", "glab: 429 Too Many Requests", 429),
			Entry("anything else", "connection refused", 500),
		)

		// Given stderr carrying a JSON error body
		// When the call fails
		// Then the message field becomes the error message
		It("should use the message of a JSON error body", func() {
			client := newClient(newStubRunner(fail(`{"message": "404 Project Not Found"}`)))

			_, err := client.Get(ctx, "/projects/999")

			var apiErr *srvErrors.APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Message).To(Equal("404 Project Not Found"))
			Expect(apiErr.StatusCode).To(Equal(404))
			Expect(apiErr.Response).To(MatchJSON(`{"message": "404 Project Not Found"}`))
		})

		// Given a JSON error body whose message is an object
		// When the call fails
		// Then the object is kept as JSON text
		It("should keep structured messages as JSON", func() {
			client := newClient(newStubRunner(fail(`{"message": {"name": ["has already been taken"]}}`)))

			_, err := client.Post(ctx, "/projects/1/labels", map[string]string{"name": "bug"})

			var apiErr *srvErrors.APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Message).To(MatchJSON(`{"name": ["has already been taken"]}`))
			Expect(apiErr.StatusCode).To(Equal(500))
		})

		// Given empty stderr but an error on stdout
		// When the call fails
		// Then stdout is used
		It("should fall back to stdout", func() {
			client := newClient(newStubRunner(stubResult{out: glab.Output{Stdout: "403 Forbidden", ExitCode: 1}}))

			_, err := client.Get(ctx, "/projects/1/variables")

			Expect(srvErrors.IsForbidden(err)).To(BeTrue())
		})

		// Given a failure with no output at all
		// When the call fails
		// Then the message is "Unknown error"
		It("should report an unknown error", func() {
			client := newClient(newStubRunner(stubResult{out: glab.Output{ExitCode: 1}}), glab.WithRetries(1))

			_, err := client.Get(ctx, "/projects/1")

			var apiErr *srvErrors.APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Message).To(Equal("Unknown error"))
			Expect(apiErr.StatusCode).To(Equal(500))
		})

		// Given a runner reporting a timeout
		// When the call fails
		// Then the error has status 0 and names the timeout
		It("should report timeouts with status 0", func() {
			client := newClient(newStubRunner(stubResult{err: glab.ErrTimeout}),
				glab.WithRetries(1), glab.WithTimeout(5*time.Second))

			_, err := client.Get(ctx, "/projects/1")

			Expect(srvErrors.StatusCode(err)).To(Equal(0))
			Expect(err).To(MatchError("Request timed out after 5s"))
		})
	})

	Context("Retries", func() {
		// Given a call failing with 404
		// When it is issued
		// Then it is attempted exactly once
		It("should never retry client errors", func() {
			for _, stderr := range []string{"HTTP 404", "HTTP 401", "HTTP 403", "HTTP 422"} {
				runner := newStubRunner(fail(stderr))
				client := newClient(runner)

				_, err := client.Get(ctx, "/projects/1")

				Expect(err).To(HaveOccurred())
				Expect(runner.Calls()).To(HaveLen(1), stderr)
			}
			Expect(sleeper.Delays()).To(BeEmpty())
		})

		// Given a call that keeps failing with 500
		// When it is issued with three attempts
		// Then it is tried three times with exponential delays between them
		It("should retry server errors with exponential backoff", func() {
			runner := newStubRunner(fail("HTTP 500 first"), fail("HTTP 502 second"), fail("HTTP 503 third"))
			client := newClient(runner, glab.WithRetries(3), glab.WithBaseDelay(100*time.Millisecond))

			_, err := client.Get(ctx, "/projects/1")

			Expect(runner.Calls()).To(HaveLen(3))
			Expect(sleeper.Delays()).To(Equal([]time.Duration{100 * time.Millisecond, 200 * time.Millisecond}))
			Expect(err).To(MatchError(ContainSubstring("third")))
		})

		// Given a call rate limited once
		// When it is issued
		// Then the second attempt's success is returned
		It("should retry 429 and stop on success", func() {
			runner := newStubRunner(fail("429 Too Many Requests"), ok(`{"id": 5}`), fail("HTTP 500"))
			client := newClient(runner)

			resp, err := client.Get(ctx, "/projects/5")

			Expect(err).NotTo(HaveOccurred())
			obj, err := resp.Object()
			Expect(err).NotTo(HaveOccurred())
			Expect(obj).To(HaveKeyWithValue("id", BeNumerically("==", 5)))
			Expect(runner.Calls()).To(HaveLen(2))
			Expect(sleeper.Delays()).To(Equal([]time.Duration{time.Second}))
		})

		// Given a timeout followed by a success
		// When the call is issued
		// Then the timeout is retried
		It("should retry timeouts", func() {
			runner := newStubRunner(stubResult{err: glab.ErrTimeout}, ok(`{}`))
			client := newClient(runner)

			_, err := client.Get(ctx, "/version")

			Expect(err).NotTo(HaveOccurred())
			Expect(runner.Calls()).To(HaveLen(2))
		})

		// Given a retryable failure followed by a 404
		// When the call is issued
		// Then the 404 ends the loop immediately
		It("should stop retrying once a non-retryable error appears", func() {
			runner := newStubRunner(fail("HTTP 502"), fail("HTTP 404"), ok(`{}`))
			client := newClient(runner, glab.WithRetries(5))

			_, err := client.Get(ctx, "/projects/1")

			Expect(srvErrors.IsNotFound(err)).To(BeTrue())
			Expect(runner.Calls()).To(HaveLen(2))
		})

		// Given a runner failing without an API status
		// When the call is issued
		// Then the error is returned without retrying
		It("should not retry runner failures", func() {
			runner := newStubRunner(stubResult{err: errors.New("exec: \"glab\": executable file not found in $PATH")})
			client := newClient(runner)

			_, err := client.Get(ctx, "/version")

			Expect(err).To(MatchError(ContainSubstring("running glab")))
			Expect(srvErrors.IsAPIError(err)).To(BeFalse())
			Expect(runner.Calls()).To(HaveLen(1))
		})

		// Given a context cancelled while the client backs off after a 500
		// When the sleeper returns
		// Then the context error is returned and no further attempt is made
		It("should abort the backoff when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			runner := newStubRunner(fail("HTTP 500"), ok(`{"id": 1}`))
			client := glab.NewClient(testCreds,
				glab.WithRunner(runner),
				glab.WithRetries(3),
				glab.WithSleeper(func(ctx context.Context, d time.Duration) error {
					cancel()
					<-ctx.Done()
					return ctx.Err()
				}))

			_, err := client.Get(cctx, "/projects/1")

			Expect(err).To(MatchError(context.Canceled))
			Expect(runner.Calls()).To(HaveLen(1))
		})

		It("should stop waiting when the deadline passes during backoff", func() {
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			runner := newStubRunner(fail("HTTP 500"), ok(`{"id": 1}`))
			client := glab.NewClient(testCreds, glab.WithRunner(runner), glab.WithBaseDelay(time.Hour))

			_, err := client.Get(cctx, "/projects/1")

			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(runner.Calls()).To(HaveLen(1))
		})
	})

	Context("AsRole", func() {
		It("should keep a usable logger when given a nil one", func() {
			runner := newStubRunner(ok(`{}`))
			client := newClient(runner, glab.WithLogger(nil))

			var dev *glab.Client
			Expect(func() {
				var err error
				dev, err = client.AsRole(glab.RoleDeveloper)
				Expect(err).NotTo(HaveOccurred())
			}).NotTo(Panic())
			_, err := dev.Get(ctx, "/user")
			Expect(err).NotTo(HaveOccurred())
		})

		// Given credentials with a developer token
		// When the client switches to developer
		// Then requests carry that token while the original is unchanged
		It("should use the role's token", func() {
			runner := newStubRunner(ok(`{}`))
			client := newClient(runner)

			dev, err := client.AsRole(glab.RoleDeveloper)
			Expect(err).NotTo(HaveOccurred())
			_, err = dev.Get(ctx, "/user")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Get(ctx, "/user")
			Expect(err).NotTo(HaveOccurred())

			calls := runner.Calls()
			Expect(calls[0].Env).To(HaveKeyWithValue("GITLAB_TOKEN", "developer-token"))
			Expect(calls[1].Env).To(HaveKeyWithValue("GITLAB_TOKEN", "default-token"))
			Expect(dev.Role()).To(Equal(glab.RoleDeveloper))
		})

		// Given the admin alias
		// When the client switches to admin
		// Then the root token is used
		It("should treat admin as root", func() {
			runner := newStubRunner(ok(`{}`))
			admin := newClient(runner).MustAsRole(glab.RoleAdmin)

			_, err := admin.Get(ctx, "/users")

			Expect(err).NotTo(HaveOccurred())
			Expect(runner.Calls()[0].Env).To(HaveKeyWithValue("GITLAB_TOKEN", "root-token"))
		})

		// Given no reporter token configured
		// When the client switches to reporter
		// Then an UnknownRoleError is returned
		It("should reject roles without a token", func() {
			client := newClient(newStubRunner(ok(`{}`)))

			_, err := client.AsRole(glab.RoleReporter)

			Expect(srvErrors.IsUnknownRoleError(err)).To(BeTrue())
			_, err = client.AsRole(glab.Role("guest"))
			Expect(srvErrors.IsUnknownRoleError(err)).To(BeTrue())
		})
	})

	Context("Ping", func() {
		// Given an instance answering /version
		// When pinged
		// Then the version is returned
		It("should return the instance version", func() {
			client := newClient(newStubRunner(ok(`{"version": "17.5.0", "revision": "abc"}`)))

			v, err := client.Ping(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(v.Version).To(Equal("17.5.0"))
		})

		// Given an invalid token
		// When pinged
		// Then the unauthorized error is returned
		It("should surface authentication errors", func() {
			client := newClient(newStubRunner(fail("glab: 401 Unauthorized (HTTP 401)")))

			_, err := client.Ping(ctx)

			Expect(srvErrors.IsUnauthorized(err)).To(BeTrue())
		})
	})

	Context("Rate limiting", func() {
		// Given a limit of one call per 50ms
		// When three calls are made
		// Then they take at least 100ms overall
		It("should throttle calls", func() {
			runner := newStubRunner(ok(`{}`))
			client := newClient(runner, glab.WithRateLimit(20, 1))

			start := time.Now()
			for range 3 {
				_, err := client.Get(ctx, "/version")
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(time.Since(start)).To(BeNumerically(">=", 90*time.Millisecond))
		})
	})
})

var _ = Describe("CLI", func() {
	// Given a repository
	// When a glab subcommand is run
	// Then --repo precedes the arguments and the token is exported
	It("should prefix --repo and export credentials", func() {
		runner := newStubRunner(ok("#1 open issue"))
		cli := glab.NewCLI(testCreds, runner)

		out, err := cli.Run(context.Background(), "live-test-group/test-project", "issue", "list")

		Expect(err).NotTo(HaveOccurred())
		Expect(out.Success()).To(BeTrue())
		call := runner.Calls()[0]
		Expect(call.Args).To(Equal([]string{"--repo", "live-test-group/test-project", "issue", "list"}))
		Expect(call.Env).To(HaveKeyWithValue("GITLAB_TOKEN", "default-token"))
		Expect(call.Timeout).To(Equal(glab.DefaultTimeout))
	})

	// Given no repository and a custom timeout
	// When a command is run
	// Then no --repo flag is passed and the timeout is applied
	It("should omit --repo when empty", func() {
		runner := newStubRunner(ok("glab version 1.50.0"))
		cli := glab.NewCLI(testCreds, runner).WithTimeout(5 * time.Second)

		_, err := cli.Run(context.Background(), "", "version")

		Expect(err).NotTo(HaveOccurred())
		Expect(runner.Calls()[0].Args).To(Equal([]string{"version"}))
		Expect(runner.Calls()[0].Timeout).To(Equal(5 * time.Second))
	})

	// Given a client switched to a role
	// When its CLI helper runs a command
	// Then the role's token is exported
	It("should inherit the client's role token", func() {
		runner := newStubRunner(ok(""))
		client := glab.NewClient(testCreds, glab.WithRunner(runner)).MustAsRole(glab.RoleMaintainer)

		_, err := client.CLI().Run(context.Background(), "", "mr", "list")

		Expect(err).NotTo(HaveOccurred())
		Expect(runner.Calls()[0].Env).To(HaveKeyWithValue("GITLAB_TOKEN", "maintainer-token"))
	})
})
