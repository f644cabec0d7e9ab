package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gitlab-skills/live-harness/cmd"
	"github.com/gitlab-skills/live-harness/internal/config"
)

func main() {
	cfg := config.NewConfigurationWithOptionsAndDefaults()

	if err := cmd.NewRootCommand(cfg).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
