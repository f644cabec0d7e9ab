package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// DefaultEnvFile is read next to the working directory when present.
const DefaultEnvFile = ".env.test"

// LoadEnvFile exports the entries of path into the process environment.
// Variables already set in the environment keep their value. A missing file
// is not an error.
func LoadEnvFile(path string) error {
	values, err := ReadEnvFile(path)
	if err != nil {
		return err
	}

	loaded := 0
	for key, value := range values {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("exporting %s: %w", key, err)
		}
		loaded++
	}
	if len(values) > 0 {
		zap.S().Named("config").Debugw("loaded env file", "path", path, "loaded", loaded, "entries", len(values))
	}
	return nil
}

// ReadEnvFile parses a KEY=VALUE file without touching the environment.
// Blank lines, '#' comments and lines without '=' are skipped. Keys and
// values are trimmed and split on the first '='; values are kept literally,
// quotes and '$' included.
func ReadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseEnv(string(data)), nil
}

func ParseEnv(content string) map[string]string {
	values := map[string]string{}
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key == "" {
			continue
		}
		values[key] = strings.TrimSpace(value)
	}
	return values
}

// WriteEnvFile merges values into path. Entries of the file that values does
// not mention are kept. Lines are written unquoted so ReadEnvFile returns
// them unchanged.
func WriteEnvFile(path string, values map[string]string) error {
	merged, err := ReadEnvFile(path)
	if err != nil {
		return err
	}
	maps.Copy(merged, values)

	var b strings.Builder
	for _, key := range slices.Sorted(maps.Keys(merged)) {
		fmt.Fprintf(&b, "%s=%s\n", key, merged[key])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// FormatEnv renders values as sorted, shell-quoted KEY="VALUE" lines for
// printing.
func FormatEnv(values map[string]string) (string, error) {
	return godotenv.Marshal(values)
}
