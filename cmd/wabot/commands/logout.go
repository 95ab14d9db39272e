package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
)

// newLogoutCmd creates the `wabot logout` command that unlinks the device.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the WhatsApp session",
		Long: `Unlink this device from the WhatsApp account and delete the stored
session. The next 'wabot serve' prints a new QR code.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg.Logging)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			wa := whatsapp.New(cfg.WhatsApp, logger)
			if err := wa.Connect(ctx); err != nil {
				return fmt.Errorf("opening session: %w", err)
			}
			defer wa.Disconnect()

			if wa.NeedsQR() {
				fmt.Println("No linked session found.")
				return nil
			}
			if err := wa.Logout(ctx); err != nil {
				return fmt.Errorf("logging out: %w", err)
			}
			fmt.Println("Logged out. Session removed from", cfg.WhatsApp.DatabasePath)
			return nil
		},
	}
}
