// Package config – keyring.go provides credential storage in the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving secrets:
//  1. Encrypted vault (.fedibot.vault — AES-256-GCM + Argon2id)
//  2. OS keyring
//  3. Environment variable (FEDIBOT_INSTANCE_TOKEN, FEDIBOT_AI_API_KEY)
//  4. config.yaml value (least secure — plaintext on disk)
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "fedibot"

	// KeyInstanceToken is the keyring/vault key for the instance token.
	KeyInstanceToken = "instance_token"

	// KeyAIAPIKey is the keyring/vault key for the Gemini API key.
	KeyAIAPIKey = "ai_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__fedibot_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills in the instance token and AI key using the
// priority chain: vault → keyring → env var → config value. The config
// is updated in place. If a vault exists but is locked, the user is
// prompted for the master password.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	var vault *Vault
	if v := NewVault(VaultFile); v.Exists() {
		password, err := ReadPassword("Vault password: ")
		if err != nil {
			logger.Warn("failed to read vault password", "error", err)
		} else if err := v.Unlock(password); err != nil {
			logger.Warn("failed to unlock vault", "error", err)
		} else {
			vault = v
		}
	}

	cfg.Instance.Token = resolveSecret(cfg.Instance.Token, KeyInstanceToken, EnvInstanceToken, vault, logger)
	cfg.AI.APIKey = resolveSecret(cfg.AI.APIKey, KeyAIAPIKey, EnvAIAPIKey, vault, logger)
}

func resolveSecret(current, key, envName string, vault *Vault, logger *slog.Logger) string {
	if vault != nil {
		if val, err := vault.Get(key); err == nil && val != "" {
			logger.Debug("secret loaded from vault", "key", key)
			return val
		}
	}
	if val := GetKeyring(key); val != "" {
		logger.Debug("secret loaded from OS keyring", "key", key)
		return val
	}
	if val := os.Getenv(envName); val != "" {
		logger.Debug("secret loaded from environment", "key", key)
		return val
	}
	if current != "" && !IsEnvReference(current) {
		logger.Warn("secret is stored in plaintext config",
			"key", key, "hint", "run 'fedibot vault set "+key+"' to move it to the encrypted vault")
		return current
	}
	return ""
}

// ReadPassword reads a line from the terminal without echoing it.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}
