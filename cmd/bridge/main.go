// twitch-bridge is the multi-tenant Twitch EventSub bridge: it ensures one
// shared set of upstream subscriptions regardless of how many downstream
// consumers expressed interest, and fans each notification out to every
// consumer that wants it (§1-§2). Grounded on the teacher's cmd/tarsy/main.go
// flag/env/godotenv bootstrap idiom.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kwld/twitch-service/internal/api"
	"github.com/kwld/twitch-service/internal/catalog"
	"github.com/kwld/twitch-service/internal/chatassets"
	"github.com/kwld/twitch-service/internal/config"
	"github.com/kwld/twitch-service/internal/dedupe"
	"github.com/kwld/twitch-service/internal/ensurer"
	"github.com/kwld/twitch-service/internal/gc"
	"github.com/kwld/twitch-service/internal/hub"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/netsec"
	"github.com/kwld/twitch-service/internal/pipeline"
	"github.com/kwld/twitch-service/internal/reconciler"
	"github.com/kwld/twitch-service/internal/redact"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/store"
	"github.com/kwld/twitch-service/internal/twitchapi"
	"github.com/kwld/twitch-service/internal/version"
	"github.com/kwld/twitch-service/internal/wsmachine"
	"github.com/kwld/twitch-service/internal/wstoken"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "."), "directory holding .env")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env loaded from %s: %v (continuing with process environment)", envPath, err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	_ = logLevel.UnmarshalText([]byte(cfg.AppLogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("starting", "version", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load database configuration: %v", err)
	}
	db, err := store.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "error", err)
		}
	}()
	logger.Info("connected to database, schema migrated")

	// The upstream HTTP/OAuth capability set is an out-of-scope external
	// collaborator (§6); twitchapi.Fake stands in for it at the wiring
	// boundary until a real Helix-backed Client is supplied.
	twitch := twitchapi.NewFake()

	reg := registry.New()
	if existing, err := db.Interests.ListAll(ctx); err != nil {
		logger.Error("load existing interests", "error", err)
	} else {
		reg.Load(existing)
		logger.Info("loaded interests into registry", "count", len(existing))
	}

	dd := dedupe.New(cfg.DedupeTTL)
	tokens := wstoken.New(cfg.WSTokenTTL)
	redactor := redact.NewService()

	// mach is declared before the Hub so OnConsumerDisconnect can close over
	// it; it is assigned once the Machine is constructed below, after the
	// Hub it depends on already exists.
	var mach *wsmachine.Machine

	h := hub.New(
		hub.WithHooks(hub.Hooks{
			OnConsumerConnect: func(consumerID string) {
				if err := db.RuntimeStats.RecordConnect(context.Background(), consumerID, time.Now().UTC()); err != nil {
					logger.Warn("record ws connect", "consumer_id", consumerID, "error", err)
				}
			},
			OnConsumerDisconnect: func(consumerID string) {
				if err := db.RuntimeStats.RecordDisconnect(context.Background(), consumerID, time.Now().UTC()); err != nil {
					logger.Warn("record ws disconnect", "consumer_id", consumerID, "error", err)
				}
				if mach != nil {
					mach.NotifyConsumerDisconnected()
				}
			},
			OnWebhookSent: func(consumerID string) {
				if err := db.RuntimeStats.RecordWebhookSend(context.Background(), consumerID); err != nil {
					logger.Warn("record webhook send", "consumer_id", consumerID, "error", err)
				}
			},
		}),
		hub.WithWebhookSender(hub.NewWebhookSender(10*time.Second)),
		hub.WithLogger(logger),
	)

	chat := chatassets.New(twitch,
		chatassets.WithTTL(cfg.ChatAssetsTTL),
		chatassets.WithStaleIfError(cfg.ChatAssetsStaleIfError),
		chatassets.WithLogger(logger),
	)

	remover := &interestRemover{store: db, twitch: twitch, log: logger}

	pl := pipeline.New(db, reg, h, chat, remover, redactor, pipeline.Config{
		FanoutConcurrency: cfg.FanoutConcurrency,
	}, logger)

	ens := ensurer.New(db, twitch, h, reg, nil, ensurer.Config{
		WebhookCallbackURL: cfg.TwitchEventSubWebhookCallbackURL,
		WebhookSecret:      cfg.TwitchEventSubWebhookSecret,
		Cooldown:           cfg.SubscriptionErrorCooldown,
	}, logger)

	rec := reconciler.New(db, twitch, ens, nil, reg, reconciler.Config{
		WebhookCallbackURL: cfg.TwitchEventSubWebhookCallbackURL,
		WebhookSecret:      cfg.TwitchEventSubWebhookSecret,
	}, logger)

	mach = wsmachine.New(wsmachine.Config{
		URL:      cfg.TwitchEventSubWSURL,
		Cooldown: cfg.WSListenerCooldown,
	}, rec, ens, reg, reg, h, db, pl, dd, logger)

	// ensurer and reconciler need the session machine to look up the
	// current upstream-WS session id; wired after construction to break the
	// constructor cycle (Machine depends on Reconciler/Ensurer, which in
	// turn depend on Machine's session state).
	ens.SetSession(mach)
	rec.SetSession(mach)

	sweeper := gc.New(db, reg, h, remover, gc.Config{
		Interval:              cfg.GCInterval,
		DisconnectGrace:       cfg.InterestDisconnectGrace,
		HeartbeatTimeout:      cfg.InterestHeartbeatTimeout,
		UnsubscribeAfterStale: cfg.InterestUnsubscribeAfterStale,
	}, logger)

	webhookAuth := netsec.NewWebhookTargetValidator(cfg.AppWebhookTargetAllowlist, cfg.AppBlockPrivateWebhookTargets)

	server := api.NewServer(api.Deps{
		Config:      &cfg,
		Store:       db,
		Registry:    reg,
		Hub:         h,
		Tokens:      tokens,
		Dedupe:      dd,
		Ensurer:     ens,
		Reconciler:  rec,
		Session:     mach,
		Pipeline:    pl,
		Twitch:      twitch,
		ChatAssets:  chat,
		WebhookAuth: webhookAuth,
		Redactor:    redactor,
		Remover:     remover,
		Logger:      logger,
	})

	go mach.Run(ctx)
	go sweeper.Run(ctx)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dd.Prune()
				tokens.Prune()
			}
		}
	}()

	addr := cfg.AppHost + ":" + cfg.AppPort
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	logger.Info("known event types in catalog", "count", len(catalog.KnownEventTypes()))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	mach.Stop()
}

// interestRemover tears down the upstream Subscription and ChannelState for
// a key nobody references anymore. Satisfies gc.RemovalHook,
// pipeline.InterestRemover, and api.InterestRemover — one concrete type, one
// teardown path, regardless of whether the removal was GC-driven,
// pipeline-driven (interest rejection), or consumer-initiated (DELETE
// /v1/interests/{id}).
type interestRemover struct {
	store  *store.Client
	twitch twitchapi.Client
	log    *slog.Logger
}

func (r *interestRemover) OnInterestRemoved(ctx context.Context, key models.InterestKey, stillUsedByOthers bool) {
	if stillUsedByOthers {
		return
	}
	sub, err := r.store.Subscriptions.Get(ctx, key)
	if err != nil {
		return
	}
	if sub.UpstreamSubscriptionID != "" {
		if token, err := r.twitch.AppAccessToken(ctx); err == nil {
			if err := r.twitch.DeleteEventSubSubscription(ctx, token, sub.UpstreamSubscriptionID); err != nil && !twitchapi.IsNotFound(err) {
				r.log.Warn("delete upstream subscription", "key", key, "error", err)
			}
		}
	}
	if err := r.store.Subscriptions.Delete(ctx, key); err != nil {
		r.log.Warn("delete subscription row", "key", key, "error", err)
	}
	if err := r.store.ChannelStates.Delete(ctx, key.BotID, key.BroadcasterID); err != nil {
		r.log.Warn("delete channel state", "key", key, "error", err)
	}
}
