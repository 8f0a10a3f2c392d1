// Package config – loader.go handles loading configuration from YAML files
// with credential resolution via the vault, OS keyring, environment
// variables and .env files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables recognized for secrets.
const (
	EnvInstanceToken = "FEDIBOT_INSTANCE_TOKEN"
	EnvAIAPIKey      = "FEDIBOT_AI_API_KEY"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFromFile reads and parses a YAML configuration file.
// Automatically loads .env files and expands environment variables.
func LoadFromFile(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env files (silently ignore if not found).
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in YAML before parsing.
	expanded := expandEnvVars(string(data))

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	ResolveSecrets(cfg, logger)
	checkFilePermissions(path, logger)

	return cfg, nil
}

// Parse parses YAML bytes into a Config, overlaying the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes a Config as YAML with owner-only permissions.
// Secrets already moved to the vault or keyring are written as
// environment-variable references, never as plaintext.
func SaveToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Instance.Token = envReferenceFor(cfg.Instance.Token, EnvInstanceToken)
	sanitized.AI.APIKey = envReferenceFor(cfg.AI.APIKey, EnvAIAPIKey)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"fedibot.yaml",
		"fedibot.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references with their values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		return os.Getenv(name)
	})
}

// envReferenceFor returns a ${VAR} placeholder unless the value already
// is one (or is empty).
func envReferenceFor(value, envName string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envName + "}"
}

// IsEnvReference reports whether a config value is a ${VAR} placeholder.
func IsEnvReference(value string) bool {
	return len(value) > 3 && value[0] == '$'
}

// checkFilePermissions warns when the config file is readable by others.
func checkFilePermissions(path string, logger *slog.Logger) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o044 != 0 {
		logger.Warn("config file is readable by other users",
			"path", path, "mode", info.Mode().Perm().String(),
			"hint", "chmod 600 "+path)
	}
}
