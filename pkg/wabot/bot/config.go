// Package bot wires the feature flags, the authorization gate, the media
// pipeline and the broadcast throttler into a command-driven WhatsApp bot.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/broadcast"
	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/features"
	"github.com/jholhewres/wabot/pkg/wabot/media"
	"github.com/jholhewres/wabot/pkg/wabot/remote"
	"github.com/jholhewres/wabot/pkg/wabot/security"
)

// Config is the top-level configuration, loaded from config.yaml.
type Config struct {
	// Name is the bot's display name, used in help and the profile bio.
	Name string `yaml:"name"`

	// Prefix marks a message as a command (default: "!").
	Prefix string `yaml:"prefix"`

	// Admins lists the identities allowed to run admin commands. Phone
	// numbers and JIDs ("923001234567@c.us") are both accepted.
	Admins []string `yaml:"admins"`

	// Features overrides flag defaults by name.
	Features map[string]bool `yaml:"features"`

	// PersistFeatures keeps flag toggles across restarts in DatabasePath.
	PersistFeatures bool `yaml:"persist_features"`

	// DatabasePath is the SQLite file for bot state (feature flags).
	DatabasePath string `yaml:"database_path"`

	Broadcast broadcast.Config `yaml:"broadcast"`
	Media     media.Config     `yaml:"media"`
	Replies   RepliesConfig    `yaml:"replies"`
	AutoBio   AutoBioConfig    `yaml:"auto_bio"`
	Presence  PresenceConfig   `yaml:"presence"`
	APIs      APIsConfig       `yaml:"apis"`
	SSRF      security.Config  `yaml:"ssrf"`
	WhatsApp  whatsapp.Config  `yaml:"whatsapp"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// RepliesConfig holds the canned texts of the reactive handlers.
type RepliesConfig struct {
	// Friendly is sent in answer to plain (non-command) messages.
	Friendly string `yaml:"friendly"`

	// CallReject is sent to callers after their call is declined.
	CallReject string `yaml:"call_reject"`

	// Emojis is the pool auto-react picks from.
	Emojis []string `yaml:"emojis"`
}

// AutoBioConfig configures the profile "about" updater.
type AutoBioConfig struct {
	// Schedule is a cron expression or descriptor (e.g. "@every 10m").
	Schedule string `yaml:"schedule"`

	// Template supports the {name}, {uptime} and {time} placeholders.
	Template string `yaml:"template"`
}

// PresenceConfig configures the always-online job.
type PresenceConfig struct {
	Schedule string `yaml:"schedule"`
}

// APIsConfig holds the credentials and tuning of the remote collaborators.
// Every credential is optional; a command whose collaborator is not
// configured answers that it is unavailable.
type APIsConfig struct {
	OpenAI     remote.OpenAIConfig     `yaml:"openai"`
	Pexels     PexelsConfig            `yaml:"pexels"`
	Search     remote.SearchConfig     `yaml:"search"`
	Screenshot remote.ScreenshotConfig `yaml:"screenshot"`
	Breaker    remote.BreakerConfig    `yaml:"breaker"`
	Pool       remote.PoolConfig       `yaml:"pool"`

	// Timeout bounds a single API request. Media downloads use
	// media.fetch_timeout instead.
	Timeout time.Duration `yaml:"timeout"`
}

// PexelsConfig configures image search.
type PexelsConfig struct {
	APIKey string `yaml:"api_key"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default texts.
const (
	DefaultFriendlyReply = "Haha 😂 mazay aa gaye yeh parh ke! Tusi great ho 😎"
	DefaultCallReject    = "Sorry, I cannot answer calls. I am a bot."
	DefaultBioTemplate   = "🤖 {name} is online | uptime {uptime}"
)

// DefaultEmojis is the auto-react pool.
var DefaultEmojis = []string{"🔥", "😂", "❤️", "😎", "💯", "😍", "👍", "😊", "🎉"}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "WaBot",
		Prefix:       "!",
		Features:     map[string]bool{},
		DatabasePath: "./data/wabot.db",
		Broadcast:    broadcast.Config{Delay: broadcast.DefaultDelay},
		Media:        media.DefaultConfig(),
		Replies: RepliesConfig{
			Friendly:   DefaultFriendlyReply,
			CallReject: DefaultCallReject,
			Emojis:     append([]string(nil), DefaultEmojis...),
		},
		AutoBio: AutoBioConfig{
			Schedule: "@every 10m",
			Template: DefaultBioTemplate,
		},
		Presence: PresenceConfig{Schedule: "@every 1m"},
		APIs: APIsConfig{
			OpenAI: remote.OpenAIConfig{
				Model:   "gpt-3.5-turbo",
				BaseURL: "https://api.openai.com/v1",
			},
			Search: remote.SearchConfig{
				Provider:   "brave",
				MaxResults: 5,
			},
			Screenshot: remote.ScreenshotConfig{
				Mode:    remote.ScreenshotRemote,
				Width:   1200,
				Height:  800,
				Timeout: 45 * time.Second,
			},
			Breaker: remote.BreakerConfig{
				MaxFailures: 5,
				Timeout:     60 * time.Second,
				Interval:    2 * time.Minute,
			},
			Timeout: 30 * time.Second,
		},
		WhatsApp: whatsapp.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports configuration errors that would make the bot unusable.
func (c *Config) Validate() error {
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, " \t\r\n") {
		return fmt.Errorf("prefix must be non-empty and contain no whitespace, got %q", c.Prefix)
	}
	for name := range c.Features {
		if !knownFeature(name) {
			return fmt.Errorf("features.%s: %w", name, features.ErrUnknownFeature)
		}
	}
	switch c.APIs.Screenshot.Mode {
	case "", remote.ScreenshotRemote, remote.ScreenshotChrome:
	default:
		return fmt.Errorf("apis.screenshot.mode must be %q or %q, got %q",
			remote.ScreenshotRemote, remote.ScreenshotChrome, c.APIs.Screenshot.Mode)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

func knownFeature(name string) bool {
	for _, d := range features.Definitions {
		if strings.EqualFold(d.Name, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}
