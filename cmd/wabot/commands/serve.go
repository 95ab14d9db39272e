package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/features"
	"github.com/jholhewres/wabot/pkg/wabot/media"
	"github.com/jholhewres/wabot/pkg/wabot/remote"
	"github.com/jholhewres/wabot/pkg/wabot/security"
)

// newServeCmd creates the `wabot serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and start answering commands",
		Long: `Start WaBot, link or resume the WhatsApp session and process
incoming messages until interrupted.

On first start a QR code is printed; scan it from WhatsApp under
Settings > Linked devices.

Examples:
  wabot serve
  wabot serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("config loaded", "path", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Feature flags ──
	flagOpts := []features.Option{features.WithLogger(logger)}
	if cfg.PersistFeatures {
		persister, err := features.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening feature store: %w", err)
		}
		defer persister.Close()
		flagOpts = append(flagOpts, features.WithPersister(persister))
		logger.Info("feature flags persisted", "db", cfg.DatabasePath)
	}
	flags, err := features.New(cfg.Features, flagOpts...)
	if err != nil {
		return err
	}

	// ── Media staging ──
	guard := security.NewURLGuard(cfg.SSRF, logger)
	transport := remote.NewPooledTransport(0, cfg.APIs.Pool)
	apiClient := remote.NewHTTPClient(transport, cfg.APIs.Timeout)
	streamClient := remote.NewHTTPClient(transport, 0)

	stager := media.NewStager(cfg.Media, streamClient, logger, media.WithURLChecker(guard))
	if err := stager.EnsureDir(); err != nil {
		return err
	}
	if _, err := stager.SweepOrphans(); err != nil {
		logger.Warn("failed to sweep staged files", "error", err)
	}

	// ── Remote services ──
	services := buildServices(cfg, apiClient, streamClient, guard, logger)

	// ── WhatsApp ──
	wa := whatsapp.New(cfg.WhatsApp, logger)
	wa.AddConnectionObserver(whatsapp.ConnectionObserverFunc(func(evt whatsapp.ConnectionEvent) {
		logger.Info("whatsapp state changed",
			"state", evt.State, "previous", evt.Previous, "reason", evt.Reason)
	}))

	qrEvents, unsubscribe := wa.SubscribeQR()
	defer unsubscribe()
	go showQR(ctx, wa, qrEvents, logger)

	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to WhatsApp: %w", err)
	}

	// ── Bot ──
	b, err := bot.New(cfg, bot.Deps{
		Messenger: wa,
		Flags:     flags,
		Stager:    stager,
		Services:  services,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	scheduler := bot.NewScheduler(b)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx, wa.Receive()) }()

	logger.Info("WaBot running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"prefix", cfg.Prefix,
		"admins", len(cfg.Admins),
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping...")
	case err := <-runErr:
		logger.Warn("message stream ended", "error", err)
	}

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		cancel()
		scheduler.Stop()
		if err := wa.Disconnect(); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// buildServices creates the remote collaborators. Commands whose service
// lacks credentials answer that they are not configured.
func buildServices(cfg *bot.Config, apiClient, streamClient *http.Client, guard *security.URLGuard, logger *slog.Logger) bot.Services {
	breaker := cfg.APIs.Breaker
	search := remote.NewWebSearch(cfg.APIs.Search, apiClient, breaker, logger)

	services := bot.Services{
		Chat:        remote.NewChatClient(cfg.APIs.OpenAI, apiClient, breaker, logger),
		Images:      remote.NewPexels(cfg.APIs.Pexels.APIKey, apiClient, breaker, logger),
		Search:      search,
		Screenshots: remote.NewScreenshotter(cfg.APIs.Screenshot, guard, logger),
		Dogs:        remote.NewDogs(apiClient, breaker, logger),
		Videos:      remote.NewYouTube(streamClient, search, breaker, logger),
	}

	logger.Info("remote services ready",
		"chat", cfg.APIs.OpenAI.APIKey != "",
		"images", cfg.APIs.Pexels.APIKey != "",
		"search", cfg.APIs.Search.Provider,
		"screenshot", cfg.APIs.Screenshot.Mode,
	)
	return services
}

// showQR prints pairing codes as they arrive and asks for a fresh code
// when one expires.
func showQR(ctx context.Context, wa *whatsapp.WhatsApp, events <-chan whatsapp.QREvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case "code":
				fmt.Println()
				fmt.Println(evt.Message)
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
				fmt.Printf("Code expires in %ds\n\n", evt.SecondsLeft)
			case "success":
				fmt.Println(evt.Message)
			case "timeout":
				logger.Info("QR code expired, requesting a new one")
				if err := wa.RequestNewQR(ctx); err != nil {
					logger.Error("could not restart pairing", "error", err)
				}
			case "error":
				logger.Error("pairing failed", "error", evt.Message)
			}
		}
	}
}
