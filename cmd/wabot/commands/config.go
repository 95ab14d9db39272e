package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
)

// newConfigCmd creates the `wabot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the bot configuration",
		Long: `Create, inspect and secure the WaBot configuration.

Examples:
  wabot config init
  wabot config show
  wabot config set-key openai_api_key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = "config.yaml"
			}
			return runConfigInit(path)
		},
	}
}

// runConfigInit asks for the essentials and writes path. API keys go to
// the OS keyring when it is available and are referenced from the
// environment otherwise.
func runConfigInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		overwrite := false
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
			Value(&overwrite).
			Run(); err != nil {
			return err
		}
		if !overwrite {
			return nil
		}
	}

	cfg := bot.DefaultConfig()
	admins := ""
	openAIKey, pexelsKey := "", ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Command prefix").
				Value(&cfg.Prefix).
				Validate(func(s string) error {
					if s == "" || strings.ContainsAny(s, " \t") {
						return errors.New("the prefix must be non-empty and contain no spaces")
					}
					return nil
				}),
			huh.NewInput().
				Title("Admin numbers").
				Description("Comma-separated, with country code (e.g. 923001234567)").
				Value(&admins),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key").
				Description("Optional, enables !gpt").
				EchoMode(huh.EchoModePassword).
				Value(&openAIKey),
			huh.NewInput().
				Title("Pexels API key").
				Description("Optional, enables !img").
				EchoMode(huh.EchoModePassword).
				Value(&pexelsKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("json", "text")...).
				Value(&cfg.Logging.Format),
			huh.NewConfirm().
				Title("Remember feature toggles across restarts?").
				Value(&cfg.PersistFeatures),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	for _, a := range strings.Split(admins, ",") {
		if a = strings.TrimSpace(a); a != "" {
			cfg.Admins = append(cfg.Admins, a)
		}
	}

	useKeyring := bot.KeyringAvailable()
	storeSecret(&cfg.APIs.OpenAI.APIKey, bot.SecretOpenAI, "OPENAI_API_KEY", openAIKey, useKeyring)
	storeSecret(&cfg.APIs.Pexels.APIKey, bot.SecretPexels, "PEXELS_API_KEY", pexelsKey, useKeyring)

	if err := bot.SaveConfigToFile(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Start the bot with: wabot serve")
	return nil
}

// storeSecret keeps value out of the config file: it goes to the keyring
// when possible, otherwise the field becomes an environment reference.
func storeSecret(field *string, name, envVar, value string, useKeyring bool) {
	if value == "" {
		return
	}
	if useKeyring {
		if err := bot.StoreKeyring(name, value); err == nil {
			fmt.Printf("%s stored in the OS keyring\n", name)
			return
		}
	}
	*field = "${" + envVar + "}"
	fmt.Printf("Keyring unavailable: export %s before starting the bot\n", envVar)
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			shown := *cfg
			shown.APIs.OpenAI.APIKey = maskSecret(cfg.APIs.OpenAI.APIKey)
			shown.APIs.Pexels.APIKey = maskSecret(cfg.APIs.Pexels.APIKey)
			shown.APIs.Search.BraveAPIKey = maskSecret(cfg.APIs.Search.BraveAPIKey)

			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Printf("# %s\n%s", path, data)
			return nil
		},
	}
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <name>",
		Short:     "Store an API key in the OS keyring",
		Long:      "Store an API key in the OS keyring. Names: " + strings.Join(bot.SecretNames, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: bot.SecretNames,
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !slices.Contains(bot.SecretNames, name) {
				return fmt.Errorf("unknown key %q (expected one of %s)", name, strings.Join(bot.SecretNames, ", "))
			}

			value, err := readSecret(fmt.Sprintf("%s: ", name))
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("empty value, nothing stored")
			}
			if err := bot.StoreKeyring(name, value); err != nil {
				return err
			}
			fmt.Printf("%s stored in the OS keyring\n", name)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <name>",
		Short:     "Remove an API key from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: bot.SecretNames,
		RunE: func(_ *cobra.Command, args []string) error {
			if err := bot.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			fmt.Printf("%s removed from the OS keyring\n", args[0])
			return nil
		},
	}
}

// readSecret reads a value without echo when stdin is a terminal, and the
// first line of stdin otherwise.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	data, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
