package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rzd_seat_bot/internal/app"
	"rzd_seat_bot/internal/domain/subscription"
	domainTelegram "rzd_seat_bot/internal/domain/telegram"
	"rzd_seat_bot/internal/domain/user"
	"rzd_seat_bot/internal/infra/config"
	idb "rzd_seat_bot/internal/infra/database"
	"rzd_seat_bot/internal/infra/logger"
	"rzd_seat_bot/internal/infra/memory"
	"rzd_seat_bot/internal/infra/rzd"
	"rzd_seat_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

type botMode int

const (
	botNone    botMode = iota // no Telegram access
	botOffline                // send only
	botOnline                 // send and receive updates
)

type storeHandles struct {
	subs  subscription.Repository
	users user.Repository
	ready <-chan struct{}
	ping  func(ctx context.Context) error
	close func() error
}

// runtime is the wired application shared by all subcommands.
type runtime struct {
	cfg           *config.AppConfig
	store         storeHandles
	source        *rzd.Client
	bot           *telebot.Bot
	monitoring    *app.MonitoringService
	housekeeping  *app.HousekeepingService
	subscriptions *app.SubscriptionService
}

func newRuntime(cfg *config.AppConfig, mode botMode) (*runtime, error) {
	log := logger.Component("main")

	policy, err := app.ParseNotifyPolicy(cfg.NotifyPolicy)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, store: store}

	var notifier domainTelegram.Client = unconfiguredNotifier{}
	if mode != botNone {
		if err := cfg.RequireTelegram(); err != nil {
			rt.Close()
			return nil, err
		}
		bot, err := newBot(cfg.TelegramToken, mode == botOffline)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("could not create Telegram bot: %w", err)
		}
		rt.bot = bot
		notifier = telegram.NewTelebotAdapter(bot)
	}

	rt.source = rzd.NewClient(rzd.Config{
		BaseURL:           cfg.RZDBaseURL,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger.Component("rzd"))

	rt.monitoring = app.NewMonitoringService(store.subs, rt.source, notifier, app.MonitoringConfig{
		CheckInterval:          cfg.MonitoringInterval,
		RetryDelay:             cfg.RetryDelay,
		MaxRetries:             cfg.MaxRetries,
		NotificationRetryDelay: cfg.NotificationRetryDelay,
		MaxConcurrentChecks:    cfg.MaxConcurrentRequests,
		CheckTimeout:           cfg.RequestTimeout,
		SettleDelay:            cfg.StartupSettleDelay,
		Policy:                 policy,
	}, logger.Log.WithField("app", "rzd-seat-bot"))
	rt.housekeeping = app.NewHousekeepingService(store.subs, cfg.DataRetentionDays, logger.Log.WithField("app", "rzd-seat-bot"))
	rt.subscriptions = app.NewSubscriptionService(store.subs, store.users, cfg.AdminTelegramID)

	log.WithFields(logrus.Fields{
		"memory_store": cfg.UseMemoryStore(),
		"interval":     rt.monitoring.CheckInterval(),
		"policy":       policy,
	}).Info("Application wired")
	return rt, nil
}

// openStore connects to Postgres and applies migrations, or falls back to the
// in-memory store when no DATABASE_URL is configured.
func openStore(cfg *config.AppConfig) (storeHandles, error) {
	log := logger.Component("main")
	if cfg.UseMemoryStore() {
		log.Warn("DATABASE_URL is not set, using the in-memory store; data is lost on restart")
		st := memory.NewStore()
		return storeHandles{subs: st, users: st, ready: st.Ready(), close: func() error { return nil }}, nil
	}

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		return storeHandles{}, fmt.Errorf("could not connect to database: %w", err)
	}
	log.Info("Database connection established successfully.")

	readiness := idb.NewReadiness()
	if err := idb.RunMigrations(db); err != nil {
		db.Close()
		return storeHandles{}, err
	}
	readiness.MarkReady()

	return storeHandles{
		subs:  idb.NewPostgresSubscriptionRepository(db, readiness),
		users: idb.NewPostgresUserRepository(db),
		ready: readiness.Ready(),
		ping:  db.PingContext,
		close: closer(db),
	}, nil
}

func closer(db *sql.DB) func() error {
	return func() error { return db.Close() }
}

func (rt *runtime) Close() {
	if rt.store.close != nil {
		if err := rt.store.close(); err != nil {
			logger.Log.WithError(err).Warn("Failed to close store")
		}
	}
}

var errNoTelegram = errors.New("telegram is not configured for this command")

// unconfiguredNotifier backs commands that never send messages.
type unconfiguredNotifier struct{}

func (unconfiguredNotifier) SendHTML(context.Context, int64, string) error {
	return domainTelegram.NewPermanentError(errNoTelegram)
}
