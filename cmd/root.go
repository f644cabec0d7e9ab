package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// EnvPrefix turns the url flag into GITLAB_URL, token into GITLAB_TOKEN and
// so on, the names harness stack seed --write puts in .env.test.
const EnvPrefix = "GITLAB"

// NewRootCommand builds the harness CLI. Every setting is a persistent flag
// bound to cfg; subcommands read cfg once flags, env and the env file have
// been applied.
func NewRootCommand(cfg *config.Configuration) *cobra.Command {
	envFile := config.DefaultEnvFile

	root := &cobra.Command{
		Use:           "harness",
		Short:         "Live test harness for the GitLab skills",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEnvironment(cmd, envFile); err != nil {
				return err
			}

			if err := setupLogger(cfg.LogLevel); err != nil {
				return err
			}

			if err := validateConfiguration(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			zap.S().Named("cmd").Debugw("configuration loaded",
				"url", cfg.GitLab.URL,
				"project", cfg.GitLab.Project,
				"token_set", cfg.HasToken())
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "File of KEY=VALUE pairs exported before reading GITLAB_* variables")
	registerFlags(root.PersistentFlags(), cfg)

	root.AddCommand(
		NewAPICommand(cfg),
		NewSweepCommand(cfg),
		NewLedgerCommand(cfg),
		NewStackCommand(cfg),
		NewFakeCommand(cfg),
	)

	return root
}

// LoadConfiguration fills cfg from envFile and the GITLAB_* variables the
// way the CLI does, for callers such as test suites that never run cobra.
func LoadConfiguration(cfg *config.Configuration, envFile string) error {
	root := NewRootCommand(cfg)
	if err := root.ParseFlags(nil); err != nil {
		return err
	}
	if err := applyEnvironment(root, envFile); err != nil {
		return err
	}
	if err := validateConfiguration(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvironment exports envFile, then presets every flag the command line
// left unset from its GITLAB_* variable.
func applyEnvironment(cmd *cobra.Command, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	setupViper()
	cobraflags.PresetRequiredFlags(EnvPrefix, make(map[*pflag.Flag]bool), cmd)
	return nil
}

func registerFlags(flags *pflag.FlagSet, cfg *config.Configuration) {
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flags.StringVar(&cfg.GitLab.URL, "url", cfg.GitLab.URL, "GitLab instance URL")
	flags.StringVar(&cfg.GitLab.Host, "host", cfg.GitLab.Host, "GitLab host as glab expects it in GITLAB_HOST")
	flags.StringVar(&cfg.GitLab.Token, "token", cfg.GitLab.Token, "Default access token")
	flags.StringVar(&cfg.GitLab.RootToken, "root-token", cfg.GitLab.RootToken, "Administrator access token")
	flags.StringVar(&cfg.GitLab.MaintainerToken, "maintainer-token", cfg.GitLab.MaintainerToken, "Maintainer access token")
	flags.StringVar(&cfg.GitLab.DeveloperToken, "developer-token", cfg.GitLab.DeveloperToken, "Developer access token")
	flags.StringVar(&cfg.GitLab.ReporterToken, "reporter-token", cfg.GitLab.ReporterToken, "Reporter access token")
	flags.StringVar(&cfg.GitLab.Group, "group", cfg.GitLab.Group, "Group holding the test project")
	flags.StringVar(&cfg.GitLab.Project, "project", cfg.GitLab.Project, "Full path of the test project")

	flags.IntVar(&cfg.Request.Retries, "request-retries", cfg.Request.Retries, "Attempts per API call")
	flags.DurationVar(&cfg.Request.Timeout, "request-timeout", cfg.Request.Timeout, "Timeout of one glab invocation")
	flags.DurationVar(&cfg.Request.BaseDelay, "request-base-delay", cfg.Request.BaseDelay, "Backoff base delay between attempts")
	flags.Float64Var(&cfg.Request.RateLimit, "request-rate-limit", cfg.Request.RateLimit, "Maximum API calls per second (0 disables)")

	flags.StringVar(&cfg.Fixtures.DefaultRef, "default-ref", cfg.Fixtures.DefaultRef, "Branch fixtures are created from")
	flags.IntVar(&cfg.Fixtures.CleanupWorkers, "cleanup-workers", cfg.Fixtures.CleanupWorkers, "Parallel teardown workers")

	flags.BoolVar(&cfg.Ledger.Enabled, "ledger-enabled", cfg.Ledger.Enabled, "Record fixtures in the ledger")
	flags.StringVar(&cfg.Ledger.Path, "ledger-path", cfg.Ledger.Path, "Path of the fixture ledger database")

	flags.StringVar(&cfg.Stack.PodmanSocket, "stack-podman-socket", cfg.Stack.PodmanSocket, "Podman API socket (defaults to the rootless socket)")
	flags.StringVar(&cfg.Stack.Image, "stack-image", cfg.Stack.Image, "GitLab CE image")
	flags.StringVar(&cfg.Stack.ContainerName, "stack-container-name", cfg.Stack.ContainerName, "Name of the GitLab container")
	flags.IntVar(&cfg.Stack.HTTPPort, "stack-http-port", cfg.Stack.HTTPPort, "Host port GitLab is published on")
	flags.StringVar(&cfg.Stack.RootPassword, "stack-root-password", cfg.Stack.RootPassword, "Initial root password")
	flags.DurationVar(&cfg.Stack.ReadyTimeout, "stack-ready-timeout", cfg.Stack.ReadyTimeout, "How long to wait for GitLab to boot")

	flags.IntVar(&cfg.Fake.HTTPPort, "fake-http-port", cfg.Fake.HTTPPort, "Port of the fake GitLab")
	flags.StringVar(&cfg.Fake.SigningKey, "fake-signing-key", cfg.Fake.SigningKey, "Key signing the fake's role tokens")
	flags.BoolVar(&cfg.Fake.TLS, "fake-tls", cfg.Fake.TLS, "Serve the fake over HTTPS with a self-signed certificate")
}

func setupViper() {
	viper.Reset()
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func setupLogger(level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}

	zcfg := zap.NewProductionConfig()
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl

	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func validateConfiguration(cfg *config.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	u, err := url.Parse(cfg.GitLab.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url: scheme must be http or https, got %q", u.Scheme)
	}

	if !strings.HasPrefix(cfg.GitLab.Project, cfg.GitLab.Group+"/") {
		return fmt.Errorf("project %s is not inside group %s", cfg.GitLab.Project, cfg.GitLab.Group)
	}

	return nil
}

// newClient returns a client for cfg, switched to role when one is given.
func newClient(cfg *config.Configuration, role string) (*glab.Client, error) {
	client := glab.NewClient(cfg.Credentials(), cfg.ClientOptions()...)
	if role == "" {
		return client, nil
	}

	r, err := glab.ParseRole(role)
	if err != nil {
		return nil, err
	}
	return client.AsRole(r)
}

// requireToken fails commands that need to reach a live instance.
func requireToken(cfg *config.Configuration) error {
	if !cfg.HasToken() {
		return errors.New("GITLAB_TOKEN not set - run harness stack up and harness stack seed --write first")
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// roleTokenKey is the env variable holding the token of role.
func roleTokenKey(role glab.Role) string {
	if role == glab.RoleAdmin {
		role = glab.RoleRoot
	}
	return fmt.Sprintf("%s_%s_TOKEN", EnvPrefix, strings.ToUpper(string(role)))
}
