package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/features"
)

// newFeaturesCmd creates the `wabot features` command. It works on the
// stored flag table while the bot is stopped; at runtime admins use the
// !features chat command instead.
func newFeaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "List the feature flags",
		Long: `List every feature flag with its startup value: the built-in default,
overridden by the config file, then by toggles remembered in the database
(when persist_features is on).

Examples:
  wabot features
  wabot features set autoReply off`,
		RunE: runFeaturesList,
	}
	cmd.AddCommand(newFeaturesSetCmd())
	return cmd
}

func openFeatureStore(cmd *cobra.Command) (*features.Store, func(), error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.PersistFeatures {
		store, err := features.New(cfg.Features)
		return store, func() {}, err
	}

	persister, err := features.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	store, err := features.New(cfg.Features, features.WithPersister(persister))
	if err != nil {
		persister.Close()
		return nil, nil, err
	}
	return store, func() { persister.Close() }, nil
}

func runFeaturesList(cmd *cobra.Command, _ []string) error {
	store, closeFn, err := openFeatureStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FEATURE\tSTATE\tDESCRIPTION")
	for _, f := range store.List() {
		state := "off"
		if f.Enabled {
			state = "on"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, state, f.Description)
	}
	return w.Flush()
}

func newFeaturesSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <feature> <on|off>",
		Short: "Change a remembered flag value (requires persist_features)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.PersistFeatures {
				return fmt.Errorf("persist_features is off; set the value under 'features:' in the config file instead")
			}

			var enabled bool
			switch strings.ToLower(args[1]) {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("state must be on or off, got %q", args[1])
			}

			persister, err := features.OpenSQLite(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer persister.Close()

			store, err := features.New(cfg.Features)
			if err != nil {
				return err
			}
			name, ok := store.Resolve(args[0])
			if !ok {
				return fmt.Errorf("%q: %w", args[0], features.ErrUnknownFeature)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := persister.Save(ctx, name, enabled); err != nil {
				return err
			}
			fmt.Printf("Feature %s will start %s.\n", name, args[1])
			return nil
		},
	}
}
