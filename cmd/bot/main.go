// Command bot runs the RZD seat availability Telegram bot.
//
// Usage:
//
//	rzd-seat-bot serve      run the bot, the monitoring loop and housekeeping
//	rzd-seat-bot migrate    apply the database schema
//	rzd-seat-bot cleanup    run one retention pass
//	rzd-seat-bot check      run one monitoring cycle
//	rzd-seat-bot stats      print monitoring statistics
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rzd_seat_bot/internal/infra/config"
	idb "rzd_seat_bot/internal/infra/database"
	"rzd_seat_bot/internal/infra/httpserver"
	"rzd_seat_bot/internal/infra/logger"
	"rzd_seat_bot/internal/infra/scheduler"
	"rzd_seat_bot/internal/infra/telegram"

	"github.com/spf13/cobra"
	"gopkg.in/telebot.v3"
)

func main() {
	root := &cobra.Command{
		Use:          "rzd-seat-bot",
		Short:        "Telegram bot watching RZD trains for free seats",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), cleanupCmd(), checkCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the monitoring loop and housekeeping jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(botOnline, func(ctx context.Context, rt *runtime) error {
				return serve(ctx, rt)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UseMemoryStore() {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := idb.RunMigrations(db); err != nil {
				return err
			}
			logger.Log.Info("Database schema is up to date")
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	var deactivateOnly bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old history and deactivate past subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(botNone, func(ctx context.Context, rt *runtime) error {
				if deactivateOnly {
					_, err := rt.housekeeping.DeactivateDeparted(ctx)
					return err
				}
				res, err := rt.housekeeping.Cleanup(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().BoolVar(&deactivateOnly, "deactivate-only", false, "Only deactivate subscriptions whose departure date has passed")
	return cmd
}

func checkCmd() *cobra.Command {
	var subscriptionID int64
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one monitoring cycle (or check a single subscription) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(botOffline, func(ctx context.Context, rt *runtime) error {
				if subscriptionID > 0 {
					return rt.monitoring.StartMonitoring(ctx, subscriptionID)
				}
				return rt.monitoring.CheckAll(ctx)
			})
		},
	}
	cmd.Flags().Int64Var(&subscriptionID, "subscription", 0, "Check only this subscription id")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print monitoring statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(botNone, func(ctx context.Context, rt *runtime) error {
				st, err := rt.monitoring.GetMonitoringStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	log := logger.Component("main")
	cfg := rt.cfg

	housekeepingScheduler := scheduler.NewHousekeepingScheduler(
		rt.housekeeping,
		logger.Component("scheduler"),
		cfg.CronSpecCleanup,
		cfg.CronSpecDeactivate,
	)
	if err := housekeepingScheduler.Start(); err != nil {
		return err
	}

	var ops *httpserver.Server
	if cfg.HTTPAddr != "" {
		ops = httpserver.New(cfg.HTTPAddr, rt.monitoring, httpserver.StoreReady(rt.store.ready, rt.store.ping), logger.Log.WithField("component", "httpserver"))
		ops.Start()
	}

	handlers := &telegram.Handlers{
		Conversation: telegram.NewConversation(
			telegram.NewSessionStore(telegram.DefaultSessionTTL),
			rt.source,
			rt.subscriptions,
			rt.monitoring,
			logger.Component("telegram"),
		),
		Subscriptions: rt.subscriptions,
		Monitoring:    rt.monitoring,
		Logger:        logger.Component("telegram"),
	}
	handlers.Register(ctx, rt.bot)

	monitorDone := make(chan error, 1)
	go func() { monitorDone <- rt.monitoring.Run(ctx) }()
	go rt.bot.Start()
	log.Info("Application setup complete. Bot, monitoring loop and scheduler are running.")

	select {
	case <-ctx.Done():
	case err := <-monitorDone:
		if err != nil {
			log.WithError(err).Error("Monitoring loop exited")
		}
	}

	log.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	rt.bot.Stop()
	if err := rt.monitoring.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Monitoring did not stop cleanly")
	}
	housekeepingScheduler.Stop(shutdownCtx)
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Ops HTTP server did not stop cleanly")
		}
	}
	log.Info("Application shut down gracefully.")
	return nil
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	return cfg, nil
}

// withRuntime loads configuration, wires the application and runs fn with a
// context cancelled on SIGINT/SIGTERM.
func withRuntime(mode botMode, fn func(ctx context.Context, rt *runtime) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, mode)
	if err != nil {
		logger.Log.WithError(err).Error("Startup failed")
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newBot creates the telebot instance. Offline bots skip the getMe call and
// can only send.
func newBot(token string, offline bool) (*telebot.Bot, error) {
	log := logger.Component("telebot")
	return telebot.NewBot(telebot.Settings{
		Token:   token,
		Poller:  &telebot.LongPoller{Timeout: 10 * time.Second},
		Offline: offline,
		OnError: func(err error, c telebot.Context) {
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	})
}
