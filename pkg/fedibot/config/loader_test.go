package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	yaml := `
instance:
  url: https://example.social
  token: plain-token
bot:
  open_commands: true
ai:
  model: gemini-2.0-flash
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Instance.URL != "https://example.social" {
		t.Errorf("Instance.URL = %q", cfg.Instance.URL)
	}
	if !cfg.Bot.OpenCommands {
		t.Error("Bot.OpenCommands not applied")
	}
	if cfg.AI.Model != "gemini-2.0-flash" {
		t.Errorf("AI.Model = %q", cfg.AI.Model)
	}

	// Unset fields keep their defaults.
	if cfg.Bot.Workers != 4 || cfg.Bot.QueueSize != 64 {
		t.Errorf("worker defaults not kept: %d/%d", cfg.Bot.Workers, cfg.Bot.QueueSize)
	}
	if cfg.Media.TTLMinutes != 60 || cfg.Media.PruneSchedule != "@every 10m" {
		t.Errorf("media defaults not kept: %+v", cfg.Media)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults not kept: %+v", cfg.Logging)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("instance: [not, a, mapping")); err == nil {
		t.Fatal("Parse() accepted malformed YAML")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FEDIBOT_TEST_TOKEN", "secret-value")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "token: ${FEDIBOT_TEST_TOKEN}", "token: secret-value"},
		{"bare", "token: $FEDIBOT_TEST_TOKEN", "token: secret-value"},
		{"unset expands empty", "token: ${FEDIBOT_TEST_UNSET}", "token: "},
		{"no reference", "token: literal", "token: literal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.in); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("FEDIBOT_TEST_TOKEN", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "instance:\n  url: https://example.social\n  token: ${FEDIBOT_TEST_TOKEN}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.Instance.Token != "from-env" {
		t.Errorf("Instance.Token = %q, want from-env", cfg.Instance.Token)
	}
}

func TestSaveToFile_RedactsSecrets(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Instance.URL = "https://example.social"
	cfg.Instance.Token = "super-secret-token"
	cfg.AI.APIKey = "super-secret-key"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	text := string(data)
	if strings.Contains(text, "super-secret") {
		t.Error("plaintext secret written to disk")
	}
	if !strings.Contains(text, "${"+EnvInstanceToken+"}") || !strings.Contains(text, "${"+EnvAIAPIKey+"}") {
		t.Errorf("secrets not replaced with env references:\n%s", text)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("config written with mode %v, want owner-only", perm)
	}

	// The in-memory config is untouched.
	if cfg.Instance.Token != "super-secret-token" {
		t.Error("SaveToFile mutated the caller's config")
	}
}

func TestIsEnvReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"${FEDIBOT_INSTANCE_TOKEN}", true},
		{"$FEDIBOT_INSTANCE_TOKEN", true},
		{"plaintext", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEnvReference(tt.in); got != tt.want {
			t.Errorf("IsEnvReference(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
