package bot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/jholhewres/wabot/pkg/wabot/features"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("name: TestBot\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Name != "TestBot" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Prefix != "!" {
		t.Errorf("Prefix = %q, want !", cfg.Prefix)
	}
	if cfg.Broadcast.Delay != time.Second {
		t.Errorf("Broadcast.Delay = %v, want 1s", cfg.Broadcast.Delay)
	}
	if cfg.Replies.Friendly != DefaultFriendlyReply {
		t.Errorf("Replies.Friendly = %q", cfg.Replies.Friendly)
	}
	if len(cfg.Replies.Emojis) == 0 {
		t.Error("emoji pool is empty")
	}
	if cfg.Features == nil {
		t.Error("Features map is nil")
	}
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
prefix: "."
admins: ["923001234567"]
features:
  autoReply: false
  chatGPT: false
broadcast:
  delay: 250ms
replies:
  emojis: []
apis:
  openai:
    model: gpt-4o-mini
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Prefix != "." {
		t.Errorf("Prefix = %q", cfg.Prefix)
	}
	if cfg.Broadcast.Delay != 250*time.Millisecond {
		t.Errorf("Broadcast.Delay = %v", cfg.Broadcast.Delay)
	}
	if cfg.Features["autoReply"] || cfg.Features["chatGPT"] {
		t.Errorf("Features = %v", cfg.Features)
	}
	if len(cfg.Replies.Emojis) == 0 {
		t.Error("empty emoji list should fall back to the defaults")
	}
	if cfg.APIs.OpenAI.Model != "gpt-4o-mini" || cfg.APIs.OpenAI.BaseURL == "" {
		t.Errorf("OpenAI = %+v", cfg.APIs.OpenAI)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("WABOT_TEST_NAME", "Envy")
	t.Setenv("WABOT_TEST_KEY", "sk-123")

	tests := []struct {
		in   string
		want string
	}{
		{"name: ${WABOT_TEST_NAME}", "name: Envy"},
		{"name: $WABOT_TEST_NAME", "name: Envy"},
		{"name: ${WABOT_TEST_UNSET:-Fallback}", "name: Fallback"},
		{"name: ${WABOT_TEST_NAME:-Fallback}", "name: Envy"},
		{"key: ${WABOT_TEST_UNSET}", "key: ${WABOT_TEST_UNSET}"},
		{"key: ${WABOT_TEST_KEY}", "key: sk-123"},
	}
	for _, tt := range tests {
		got, err := expandEnv(tt.in)
		if err != nil {
			t.Errorf("expandEnv(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvRequired(t *testing.T) {
	_, err := expandEnv("key: ${WABOT_TEST_UNSET:?set the key}\nname: x\n")
	if err == nil {
		t.Fatal("expected an error for a missing required variable")
	}
	if got := err.Error(); got != "config error: WABOT_TEST_UNSET - set the key" {
		t.Errorf("err = %q", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	keyring.MockInit()

	t.Run("relative paths follow the config file", func(t *testing.T) {
		path := writeConfig(t, "database_path: data/bot.db\nmedia:\n  temp_dir: tmp\n")
		cfg, err := LoadConfigFromFile(path, nil)
		if err != nil {
			t.Fatalf("LoadConfigFromFile: %v", err)
		}
		dir := filepath.Dir(path)
		if want := filepath.Join(dir, "data", "bot.db"); cfg.DatabasePath != want {
			t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, want)
		}
		if want := filepath.Join(dir, "tmp"); cfg.Media.TempDir != want {
			t.Errorf("Media.TempDir = %q, want %q", cfg.Media.TempDir, want)
		}
	})

	t.Run("unknown feature", func(t *testing.T) {
		path := writeConfig(t, "features:\n  turboMode: true\n")
		_, err := LoadConfigFromFile(path, nil)
		if !errors.Is(err, features.ErrUnknownFeature) {
			t.Fatalf("err = %v, want ErrUnknownFeature", err)
		}
	})

	t.Run("prefix with whitespace", func(t *testing.T) {
		path := writeConfig(t, "prefix: \"! \"\n")
		if _, err := LoadConfigFromFile(path, nil); err == nil {
			t.Fatal("expected a validation error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		if err == nil || !strings.Contains(err.Error(), "reading config file") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestResolveSecrets(t *testing.T) {
	keyring.MockInit()

	t.Run("environment fills empty and referenced fields", func(t *testing.T) {
		t.Setenv(envOpenAIKey, "sk-env")
		t.Setenv(envPexelsKey, "")
		cfg := DefaultConfig()
		cfg.APIs.Pexels.APIKey = "${PEXELS_API_KEY}"

		ResolveSecrets(cfg, nil)

		if cfg.APIs.OpenAI.APIKey != "sk-env" {
			t.Errorf("OpenAI key = %q", cfg.APIs.OpenAI.APIKey)
		}
		if cfg.APIs.Pexels.APIKey != "" {
			t.Errorf("unresolved reference kept: %q", cfg.APIs.Pexels.APIKey)
		}
	})

	t.Run("config value wins over environment", func(t *testing.T) {
		t.Setenv(envOpenAIKey, "sk-env")
		cfg := DefaultConfig()
		cfg.APIs.OpenAI.APIKey = "sk-file"

		ResolveSecrets(cfg, nil)

		if cfg.APIs.OpenAI.APIKey != "sk-file" {
			t.Errorf("OpenAI key = %q", cfg.APIs.OpenAI.APIKey)
		}
	})

	t.Run("keyring wins over everything", func(t *testing.T) {
		t.Setenv(envBraveKey, "brave-env")
		if err := StoreKeyring(SecretBrave, "brave-ring"); err != nil {
			t.Fatal(err)
		}
		defer DeleteKeyring(SecretBrave)

		cfg := DefaultConfig()
		cfg.APIs.Search.BraveAPIKey = "brave-file"
		ResolveSecrets(cfg, nil)

		if cfg.APIs.Search.BraveAPIKey != "brave-ring" {
			t.Errorf("Brave key = %q", cfg.APIs.Search.BraveAPIKey)
		}
	})
}

func TestSaveConfigToFile(t *testing.T) {
	t.Setenv(envOpenAIKey, "sk-env")
	cfg := DefaultConfig()
	cfg.APIs.OpenAI.APIKey = "sk-env"
	cfg.APIs.Pexels.APIKey = "px-literal"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("second SaveConfigToFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if strings.Contains(text, "sk-env") || !strings.Contains(text, "${OPENAI_API_KEY}") {
		t.Errorf("environment secret written in clear:\n%s", text)
	}
	if !strings.Contains(text, "px-literal") {
		t.Error("literal secret dropped")
	}
	if cfg.APIs.OpenAI.APIKey != "sk-env" {
		t.Error("SaveConfigToFile modified its input")
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not written: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}
}
