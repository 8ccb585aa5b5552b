package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/provisboard/provisd/internal/provisd/abuse"
	"github.com/provisboard/provisd/internal/provisd/audit"
	"github.com/provisboard/provisd/internal/provisd/delivery"
	"github.com/provisboard/provisd/internal/provisd/lifecycle"
	"github.com/provisboard/provisd/internal/provisd/notify"
	"github.com/provisboard/provisd/internal/provisd/quota"
	"github.com/provisboard/provisd/internal/provisd/server"
	"github.com/provisboard/provisd/internal/provisd/token"
	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/logger"
	"github.com/provisboard/provisd/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "provisd",
	Short: "provisd - remote OS install provisioning daemon",
	Long: `provisd sells installation quota: it creates install jobs against a
per-owner quota ledger, authorizes artifact downloads through signed
expiring URLs, and infers install progress from the download traffic of
the remote host.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the provisioning daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.GetLongVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the configuration file (defaults apply if omitted)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	// Local development keeps secrets in a .env file; absence is fine
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	initializeLogging(cfg)
	mainLogger := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := quota.NewLedger(ctx, &cfg.Quota)
	if err != nil {
		return fmt.Errorf("failed to initialize quota ledger: %w", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			mainLogger.Warn("failed to close quota ledger", "error", err)
		}
	}()

	auditLog, err := audit.New(cfg.Audit.File)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			mainLogger.Warn("failed to close audit log", "error", err)
		}
	}()

	hub := notify.NewHub(notify.NopMessenger{}, config.MustDuration(cfg.Notify.MessengerTimeout))

	store := lifecycle.NewMemoryStore()
	defer func() {
		if err := store.Close(); err != nil {
			mainLogger.Warn("failed to close job store", "error", err)
		}
	}()

	variants := make([]string, 0, len(cfg.Delivery.Variants))
	for v := range cfg.Delivery.Variants {
		variants = append(variants, v)
	}
	tracker := lifecycle.NewTracker(store, ledger, hub, variants)

	guard := abuse.NewFromConfig(&cfg.Abuse)
	codec := token.New(cfg.Token.Secret, cfg.Token.ValidityWindow())
	gateway := delivery.NewGateway(&cfg.Delivery, codec, guard, tracker, auditLog)

	srv := server.NewServer(cfg, gateway, hub)

	mainLogger.Info("provisd starting",
		"version", version.GetShortVersion(),
		"address", cfg.Server.GetServerAddress(),
		"quotaBackend", cfg.Quota.Backend,
		"regions", len(cfg.Delivery.Regions))

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		guard.Run(ctx, config.MustDuration(cfg.Abuse.SweepInterval))
		return nil
	})

	group.Go(func() error {
		return srv.Run(ctx)
	})

	if err := group.Wait(); err != nil {
		mainLogger.Error("provisd failed", "error", err)
		return err
	}

	mainLogger.Info("provisd stopped")
	return nil
}

func initializeLogging(cfg *config.Config) {
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	} else {
		log.Printf("Invalid log level '%s', using INFO", cfg.Logging.Level)
		logger.SetLevel(logger.INFO)
	}
}
