package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvTenantID     = "TEAMS_TENANT_ID"
	EnvClientID     = "TEAMS_CLIENT_ID"
	EnvClientSecret = "TEAMS_CLIENT_SECRET"
)

// LoadDotenv loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error
// unless required is true.
func LoadDotenv(path string, required bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with their environment values.
// Bare $VAR is left alone so secrets containing '$' survive.
func expandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		return []byte(os.Getenv(name))
	})
}

// applyEnvFallbacks fills empty credentials from the TEAMS_* variables.
func applyEnvFallbacks(cfg *Config) {
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		*dst = strings.TrimSpace(os.Getenv(key))
	}
	fill(&cfg.Teams.TenantID, EnvTenantID)
	fill(&cfg.Teams.ClientID, EnvClientID)
	fill(&cfg.Teams.ClientSecret, EnvClientSecret)
}
