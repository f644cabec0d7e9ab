package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/internal/fake"
	"github.com/gitlab-skills/live-harness/internal/server"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

const shutdownTimeout = 10 * time.Second

// NewFakeCommand serves the in-memory GitLab for offline runs.
func NewFakeCommand(cfg *config.Configuration) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fake",
		Short: "In-memory GitLab for offline runs",
	}

	cmd.AddCommand(newFakeServeCommand(cfg))

	return cmd
}

func newFakeServeCommand(cfg *config.Configuration) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the fake GitLab API and print its role tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			state := fake.NewState()
			state.Seed(cfg.GitLab.Group, cfg.GitLab.Project, cfg.Fixtures.DefaultRef)
			issuer := fake.NewIssuer(cfg.Fake.SigningKey)

			srv, err := server.NewServer(cfg, func(router *gin.RouterGroup) {
				fake.RegisterRoutes(router, fake.NewHandlers(state), issuer)
			})
			if err != nil {
				return err
			}

			values, err := fakeEnv(cfg, issuer)
			if err != nil {
				return err
			}
			out, err := config.FormatEnv(values)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(ctx)
			}()
			zap.S().Named("fake").Infow("fake gitlab listening", "addr", srv.Addr(), "project", cfg.GitLab.Project)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Stop(shutdownCtx)
			return <-errCh
		},
	}
}

// fakeEnv returns the GITLAB_* variables pointing glab at the fake.
func fakeEnv(cfg *config.Configuration, issuer *fake.Issuer) (map[string]string, error) {
	scheme := "http"
	if cfg.Fake.TLS {
		scheme = "https"
	}
	host := fmt.Sprintf("localhost:%d", cfg.Fake.HTTPPort)

	creds, err := issuer.Credentials(fmt.Sprintf("%s://%s", scheme, host), host)
	if err != nil {
		return nil, err
	}

	values := map[string]string{
		EnvPrefix + "_URL":   creds.URL,
		EnvPrefix + "_HOST":  creds.Host,
		EnvPrefix + "_TOKEN": creds.Token,
	}
	for _, role := range glab.Roles {
		token, err := creds.TokenFor(role)
		if err != nil {
			return nil, err
		}
		values[roleTokenKey(role)] = token
	}
	return values, nil
}
