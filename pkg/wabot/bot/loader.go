package bot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envRef matches ${VAR}, ${VAR:-default}, ${VAR:?message} and $VAR.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// configCandidates are tried in order when no --config flag is given.
var configCandidates = []string{
	"config.yaml",
	"config.yml",
	"wabot.yaml",
	"wabot.yml",
	filepath.Join("configs", "config.yaml"),
	filepath.Join("configs", "wabot.yaml"),
}

// LoadConfigFromFile reads path, expands environment references (after
// loading .env files), overlays the YAML on the defaults and resolves
// secrets from the keyring and the environment.
func LoadConfigFromFile(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Missing .env files are fine; existing variables win.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded, err := expandEnv(string(raw))
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}
	ResolveSecrets(cfg, logger)
	anchorPaths(cfg, filepath.Dir(path))
	warnOpenPermissions(path, logger)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig overlays YAML onto DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if cfg.Features == nil {
		cfg.Features = map[string]bool{}
	}
	if len(cfg.Replies.Emojis) == 0 {
		cfg.Replies.Emojis = append([]string(nil), DefaultEmojis...)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg with owner-only permissions, keeping the
// previous file as path.bak. A secret equal to its environment variable is
// written as a ${VAR} reference instead of the value.
func SaveConfigToFile(cfg *Config, path string) error {
	out := *cfg
	out.APIs.OpenAI.APIKey = asEnvReference(cfg.APIs.OpenAI.APIKey, envOpenAIKey)
	out.APIs.Pexels.APIKey = asEnvReference(cfg.APIs.Pexels.APIKey, envPexelsKey)
	out.APIs.Search.BraveAPIKey = asEnvReference(cfg.APIs.Search.BraveAPIKey, envBraveKey)

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o600); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first existing candidate, or "".
func FindConfigFile() string {
	for _, p := range configCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsEnvReference reports whether s is an unexpanded environment reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// expandEnv substitutes environment references. Unset plain references
// stay as written so ResolveSecrets can recognize them; an unset
// ${VAR:?message} is an error.
func expandEnv(input string) (string, error) {
	var missing error
	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]
		if name == "" {
			name = m[4]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}

		switch op {
		case "-":
			return arg
		case "?":
			if missing == nil {
				if arg = strings.TrimSpace(arg); arg == "" {
					arg = "required environment variable not set"
				}
				missing = fmt.Errorf("config error: %s - %s", name, arg)
			}
		}
		return ref
	})
	return out, missing
}

// anchorPaths makes relative paths relative to the config file and
// expands a leading "~/".
func anchorPaths(cfg *Config, dir string) {
	for _, p := range []*string{&cfg.DatabasePath, &cfg.WhatsApp.DatabasePath, &cfg.Media.TempDir} {
		*p = anchorPath(*p, dir)
	}
}

func anchorPath(p, dir string) string {
	if p == "" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
		return p
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func asEnvReference(value, envVar string) string {
	if value != "" && !IsEnvReference(value) && os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// warnOpenPermissions logs when group or others can read the config,
// since it may hold API keys.
func warnOpenPermissions(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o044 != 0 {
		logger.Warn("config file is readable by other users",
			"path", path, "mode", fmt.Sprintf("%04o", perm), "fix", "chmod 600 "+path)
	}
}
