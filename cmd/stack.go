package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/internal/infra"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// NewStackCommand manages the local GitLab CE container live runs target.
func NewStackCommand(cfg *config.Configuration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Run a local GitLab CE container with podman",
	}

	cmd.AddCommand(
		newStackUpCommand(cfg),
		newStackDownCommand(cfg),
		newStackStatusCommand(cfg),
		newStackLogsCommand(cfg),
		newStackSeedCommand(cfg),
	)

	return cmd
}

func newStackUpCommand(cfg *config.Configuration) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start GitLab and wait until its API answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stack, err := newStack(ctx, cfg)
			if err != nil {
				return err
			}

			if err := stack.Up(ctx); err != nil {
				return err
			}
			if wait {
				if err := stack.WaitReady(ctx); err != nil {
					return err
				}
			}
			_, _ = okColor.Fprintf(cmd.OutOrStdout(), "gitlab is up at %s\n", stack.URL())
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the API to answer")

	return cmd
}

func newStackDownCommand(cfg *config.Configuration) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the GitLab container",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stack, err := newStack(ctx, cfg)
			if err != nil {
				return err
			}
			return stack.Down(ctx, purge)
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also remove the data volumes")

	return cmd
}

func newStackStatusCommand(cfg *config.Configuration) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the GitLab container",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stack, err := newStack(ctx, cfg)
			if err != nil {
				return err
			}

			state, err := stack.Status(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch {
			case state.Running:
				_, _ = okColor.Fprintf(w, "%s running at %s\n", cfg.Stack.ContainerName, stack.URL())
			case state.Exists:
				_, _ = warnColor.Fprintf(w, "%s %s\n", cfg.Stack.ContainerName, state.Status)
			default:
				_, _ = failColor.Fprintf(w, "%s not found\n", cfg.Stack.ContainerName)
			}
			return nil
		},
	}
}

func newStackLogsCommand(cfg *config.Configuration) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the GitLab container logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			stack, err := newStack(ctx, cfg)
			if err != nil {
				return err
			}

			lines, err := stack.Logs(ctx, tail)
			if err != nil {
				return err
			}
			for _, l := range lines {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 100, "Number of lines from the end (0 prints everything)")

	return cmd
}

func newStackSeedCommand(cfg *config.Configuration) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the test group, project, content and role tokens",
		Long: `Seed prepares an instance for the live specs. Without --root-token it
exchanges the root password of the local stack for an administrator token.
The resulting GITLAB_* variables are printed, and written to the env file
with --write.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			values, err := seedInstance(ctx, cfg, infra.NewStack(nil, cfg.Stack))
			if err != nil {
				return err
			}

			out, err := config.FormatEnv(values)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)

			if write {
				path := cmd.Flag("env-file").Value.String()
				if err := config.WriteEnvFile(path, values); err != nil {
					return err
				}
				_, _ = okColor.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Merge the variables into the env file")

	return cmd
}

// rootTokenSource exchanges the root password for a token.
type rootTokenSource interface {
	RootToken(ctx context.Context) (string, error)
}

// seedInstance seeds the instance cfg points at and returns the env
// variables the live specs need.
func seedInstance(ctx context.Context, cfg *config.Configuration, stack rootTokenSource, opts ...glab.Option) (map[string]string, error) {
	logger := zap.S().Named("seed")

	rootToken := cfg.GitLab.RootToken
	if rootToken == "" {
		t, err := stack.RootToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get a root token: %w", err)
		}
		rootToken = t
	}

	creds := cfg.Credentials()
	creds.Token = rootToken
	creds.RootToken = rootToken
	client := glab.NewClient(creds, append(cfg.ClientOptions(), opts...)...)

	result, err := infra.Seed(ctx, client, infra.SeedOptions{
		Group:         cfg.GitLab.Group,
		Project:       cfg.GitLab.Project,
		DefaultBranch: cfg.Fixtures.DefaultRef,
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("instance seeded", "project_id", result.ProjectID, "created", len(result.Created))

	tokens, err := infra.SeedUsers(ctx, client, result.ProjectID, cfg.Stack.RootPassword)
	if err != nil {
		return nil, err
	}

	values := map[string]string{
		EnvPrefix + "_URL":        cfg.GitLab.URL,
		EnvPrefix + "_HOST":       cfg.GitLab.Host,
		EnvPrefix + "_TOKEN":      rootToken,
		EnvPrefix + "_ROOT_TOKEN": rootToken,
	}
	for role, token := range tokens {
		values[roleTokenKey(role)] = token
	}
	return values, nil
}

func newStack(ctx context.Context, cfg *config.Configuration) (*infra.Stack, error) {
	runtime, err := infra.NewPodmanRunner(ctx, podmanSocket(cfg.Stack.PodmanSocket))
	if err != nil {
		return nil, err
	}
	return infra.NewStack(runtime, cfg.Stack), nil
}

// podmanSocket falls back to the rootless socket of the current user, then
// to the system socket.
func podmanSocket(configured string) string {
	if configured != "" {
		return configured
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix://" + filepath.Join(dir, "podman", "podman.sock")
	}
	return "unix:///run/podman/podman.sock"
}
