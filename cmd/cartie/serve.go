package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/cartie/cartie/internal/backfill"
	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/config"
	"github.com/cartie/cartie/internal/dedup"
	"github.com/cartie/cartie/internal/enrich"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/handlers"
	"github.com/cartie/cartie/internal/healthcheck"
	"github.com/cartie/cartie/internal/ingest"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/leads"
	"github.com/cartie/cartie/internal/message"
	"github.com/cartie/cartie/internal/normalize"
	"github.com/cartie/cartie/internal/outbox"
	"github.com/cartie/cartie/internal/pipeline"
	"github.com/cartie/cartie/internal/router"
	"github.com/cartie/cartie/internal/server"
	"github.com/cartie/cartie/internal/session"
	"github.com/cartie/cartie/internal/settings"
	"github.com/cartie/cartie/internal/version"
)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and channel sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app := fx.New(
				coreModule(cfg),
				fx.Provide(
					provideRedis,
					provideSettings,
					provideSessions,
					provideLeads,
					provideOutbox,
					provideGate,
					provideEnricher,
					provideRouter,
					provideRunner,
					provideTenantResolver,
					provideServerHandler(handlers.NewPingHandler),
					provideServerHandler(provideWebhookHandler),
					provideServerHandler(handlers.NewMediaHandler),
					provideServerHandler(provideHealthHandler),
					provideServer,
				),
				fx.Invoke(
					startServer,
					startChannelSync,
				),
			)
			if err := app.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Starting cartie %s\n", version.GetInfo())
			app.Run()
			return nil
		},
	}
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Handlers...)
}

// provideRedis returns nil when no address is configured.
func provideRedis(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client
}

func provideSettings(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool, rdb *redis.Client) *settings.Cache {
	var store settings.Store = settings.NewDBStore(conn)
	if rdb != nil {
		store = settings.NewRedisStore(log, rdb, store, cfg.Settings.FlagsTTL.Duration)
	}
	return settings.NewCache(log, store, cfg.Settings.FlagsTTL.Duration)
}

func provideSessions(conn *pgxpool.Pool) *session.DBStore { return session.NewDBStore(conn) }

func provideLeads(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool, emitter *events.Emitter) *leads.Service {
	return leads.NewService(log, leads.NewDBStore(conn), emitter, cfg.Leads.DedupDays)
}

func provideOutbox(log *slog.Logger, cfg config.Config, transport *outbox.BotTransport, messages *message.DBService, emitter *events.Emitter) *outbox.Outbox {
	return outbox.New(log, outbox.NewSender(log, cfg.Telegram.Pacing.Duration), transport, messages, emitter)
}

func provideGate(log *slog.Logger, conn *pgxpool.Pool) *dedup.Gate {
	return dedup.NewGate(log, dedup.NewDBStore(conn))
}

func provideEnricher(log *slog.Logger, sessions *session.DBStore, flags *settings.Cache, leadService *leads.Service, messages *message.DBService) *enrich.Enricher {
	return enrich.New(log, sessions, flags, leadService, messages)
}

func provideRouter(log *slog.Logger, cfg config.Config, out *outbox.Outbox, sessions *session.DBStore, leadService *leads.Service, inv *inventory.DBStore, normalizer *normalize.Normalizer, messages *message.DBService, emitter *events.Emitter) (*router.Router, error) {
	return router.New(log, router.Deps{
		Outbox:     out,
		Sessions:   sessions,
		Leads:      leadService,
		Listings:   inv,
		Normalizer: normalizer,
		Messages:   messages,
		Emitter:    emitter,
		MiniAppURL: cfg.MiniApp.BaseURL,
	})
}

type runnerParams struct {
	fx.In

	Logger     *slog.Logger
	Emitter    *events.Emitter
	Gate       *dedup.Gate
	Ingest     *ingest.Service
	Enricher   *enrich.Enricher
	Normalizer *normalize.Normalizer
	Router     *router.Router
}

// provideRunner assembles the inbound pipeline. The emit stage wraps the
// rest so every update is recorded once it finishes.
func provideRunner(params runnerParams) *pipeline.Runner {
	return pipeline.NewRunner(params.Logger,
		pipeline.EmitStage(params.Emitter),
		pipeline.TenantStage(),
		params.Gate.Stage(),
		params.Ingest.Stage(),
		params.Enricher.Stage(),
		params.Normalizer.Stage(),
		params.Router.Stage(),
	)
}

func provideTenantResolver(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool) *pipeline.TenantResolver {
	getter := bots.NewCached(bots.NewService(log, conn), cfg.Telegram.BotCacheTTL.Duration)
	return pipeline.NewTenantResolver(getter, cfg.Telegram.WebhookSecret)
}

func provideWebhookHandler(log *slog.Logger, tenants *pipeline.TenantResolver, runner *pipeline.Runner) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, tenants, runner)
}

func provideHealthHandler(log *slog.Logger, conn *pgxpool.Pool, rdb *redis.Client) *handlers.HealthHandler {
	checkers := []healthcheck.Checker{healthcheck.Func("postgres", conn.Ping)}
	if rdb != nil {
		checkers = append(checkers, healthcheck.Func("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	return handlers.NewHealthHandler(log, checkers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

// startChannelSync schedules periodic backfill and live listening when
// MTProto credentials are configured.
func startChannelSync(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, worker *backfill.Worker) {
	if !cfg.MTProto.Enabled {
		logger.Info("mtproto disabled, channel sync off")
		return
	}
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			if err := worker.Schedule(runCtx, cfg.MTProto.Schedule); err != nil {
				cancel()
				return err
			}
			if err := worker.StartLiveSync(runCtx); err != nil {
				logger.Warn("live sync not started", slog.Any("error", err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return worker.Stop(ctx)
		},
	})
}
