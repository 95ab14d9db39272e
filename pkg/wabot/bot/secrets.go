package bot

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used in the OS keyring.
const KeyringService = "wabot"

// Secret names, used as keyring keys.
const (
	SecretOpenAI = "openai_api_key"
	SecretPexels = "pexels_api_key"
	SecretBrave  = "brave_api_key"
)

const (
	envOpenAIKey = "OPENAI_API_KEY"
	envPexelsKey = "PEXELS_API_KEY"
	envBraveKey  = "BRAVE_API_KEY"
)

// SecretNames lists the secrets that can be stored in the keyring.
var SecretNames = []string{SecretOpenAI, SecretPexels, SecretBrave}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	if err := keyring.Set(KeyringService, key, value); err != nil {
		return fmt.Errorf("storing %s in keyring: %w", key, err)
	}
	return nil
}

// GetKeyring returns a secret from the OS keyring, or "" when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(KeyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(KeyringService, key)
}

// KeyringAvailable checks whether the OS keyring is usable.
func KeyringAvailable() bool {
	const probe = "__wabot_probe__"
	if err := keyring.Set(KeyringService, probe, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(KeyringService, probe)
	return true
}

// ResolveSecrets fills API credentials in priority order: OS keyring,
// environment variable, then the value already in the config file.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	resolveSecret(&cfg.APIs.OpenAI.APIKey, SecretOpenAI, envOpenAIKey, logger)
	resolveSecret(&cfg.APIs.Pexels.APIKey, SecretPexels, envPexelsKey, logger)
	resolveSecret(&cfg.APIs.Search.BraveAPIKey, SecretBrave, envBraveKey, logger)
}

func resolveSecret(field *string, keyringKey, envVar string, logger *slog.Logger) {
	if val := GetKeyring(keyringKey); val != "" {
		*field = val
		logger.Debug("secret loaded from OS keyring", "key", keyringKey)
		return
	}
	if *field == "" || IsEnvReference(*field) {
		if val := os.Getenv(envVar); val != "" {
			*field = val
			logger.Debug("secret loaded from environment", "env", envVar)
			return
		}
	}
	if IsEnvReference(*field) {
		// An unexpanded reference is not a credential.
		*field = ""
	}
}
