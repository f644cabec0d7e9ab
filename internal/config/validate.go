package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// flagNames maps struct namespaces to the flag users set them with, so
// validation errors name something actionable.
var flagNames = map[string]string{
	"Configuration.LogLevel":                "log-level",
	"Configuration.GitLab.URL":              "url",
	"Configuration.GitLab.Host":             "host",
	"Configuration.GitLab.Group":            "group",
	"Configuration.GitLab.Project":          "project",
	"Configuration.Request.Retries":         "request-retries",
	"Configuration.Request.Timeout":         "request-timeout",
	"Configuration.Request.BaseDelay":       "request-base-delay",
	"Configuration.Request.RateLimit":       "request-rate-limit",
	"Configuration.Fixtures.DefaultRef":     "default-ref",
	"Configuration.Fixtures.CleanupWorkers": "cleanup-workers",
	"Configuration.Ledger.Path":             "ledger-path",
	"Configuration.Stack.Image":             "stack-image",
	"Configuration.Stack.ContainerName":     "stack-container-name",
	"Configuration.Stack.HTTPPort":          "stack-http-port",
	"Configuration.Stack.ReadyTimeout":      "stack-ready-timeout",
	"Configuration.Fake.HTTPPort":           "fake-http-port",
	"Configuration.Fake.SigningKey":         "fake-signing-key",
}

// Validate checks the configuration and reports every invalid setting.
func (c *Configuration) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name, ok := flagNames[fe.Namespace()]
		if !ok {
			name = strings.ToLower(fe.Field())
		}
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fmt.Sprintf("%s cannot be empty", name))
		default:
			msgs = append(msgs, fmt.Sprintf("invalid %s: %v", name, fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
