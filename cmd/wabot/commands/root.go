// Package commands implements the wabot CLI using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wabot",
		Short: "WaBot - WhatsApp chat automation",
		Long: `WaBot is a command-driven WhatsApp bot. It links to an account as a
companion device, answers "!" commands and runs the reactive behaviors
enabled by its feature flags.

Examples:
  wabot config init
  wabot serve
  wabot features
  wabot logout`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newFeaturesCmd(),
		newLogoutCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig loads the file given with --config, or the first one found in
// the standard locations. It returns the config and the path it came from.
func loadConfig(cmd *cobra.Command) (*bot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = bot.FindConfigFile()
	}
	if configPath == "" {
		return nil, "", fmt.Errorf("no configuration file found; run 'wabot config init' to create one")
	}

	cfg, err := bot.LoadConfigFromFile(configPath, slog.Default())
	if err != nil {
		return nil, "", fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return cfg, configPath, nil
}

// newLogger builds the root logger from the logging section. --verbose
// forces debug level.
func newLogger(cmd *cobra.Command, cfg bot.LoggingConfig) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
