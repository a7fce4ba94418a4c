package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/cartie/cartie/internal/backfill"
	"github.com/cartie/cartie/internal/config"
	"github.com/cartie/cartie/internal/db"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/ingest"
	"github.com/cartie/cartie/internal/inventory"
	"github.com/cartie/cartie/internal/logger"
	"github.com/cartie/cartie/internal/media"
	"github.com/cartie/cartie/internal/media/providers/localfs"
	"github.com/cartie/cartie/internal/message"
	"github.com/cartie/cartie/internal/mtproto"
	"github.com/cartie/cartie/internal/normalize"
	"github.com/cartie/cartie/internal/outbox"
)

// coreModule holds what both the server and the one-shot backfill need:
// storage, channel ingestion and the MTProto worker.
func coreModule(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDBConn,
			provideEmitter,
			provideMessages,
			provideInventory,
			provideNormalizer,
			provideTransport,
			provideMediaProvider,
			provideMediaService,
			provideIngest,
			provideMTProto,
			provideBackfill,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideEmitter(log *slog.Logger, conn *pgxpool.Pool) *events.Emitter {
	return events.NewEmitter(log, events.NewDBStore(conn))
}

func provideMessages(log *slog.Logger, conn *pgxpool.Pool) *message.DBService {
	return message.NewService(log, conn)
}

func provideInventory(conn *pgxpool.Pool) *inventory.DBStore { return inventory.NewDBStore(conn) }

func provideNormalizer(log *slog.Logger, conn *pgxpool.Pool) (*normalize.Normalizer, error) {
	return normalize.New(log, normalize.NewDBStore(conn))
}

func provideTransport(log *slog.Logger, cfg config.Config) *outbox.BotTransport {
	if err := outbox.SetLibraryLogger(log); err != nil {
		log.Warn("tgbotapi logger not set", slog.Any("error", err))
	}
	return outbox.NewBotTransport(log, cfg.Telegram.APIEndpoint, cfg.Telegram.RequestTimeout.Duration)
}

func provideMediaProvider(cfg config.Config) (*localfs.Provider, error) {
	provider, err := localfs.New(cfg.Media.Dir)
	if err != nil {
		return nil, fmt.Errorf("media storage: %w", err)
	}
	return provider, nil
}

func provideMediaService(log *slog.Logger, cfg config.Config, provider *localfs.Provider) *media.Service {
	return media.NewService(log, provider, &http.Client{Timeout: cfg.Telegram.RequestTimeout.Duration})
}

func provideIngest(log *slog.Logger, inv *inventory.DBStore, normalizer *normalize.Normalizer, transport *outbox.BotTransport, mediaService *media.Service) *ingest.Service {
	return ingest.NewService(log, ingest.Deps{
		Drafts:       inv,
		Destinations: inv,
		Listings:     inv,
		Detector:     normalizer,
		Files:        transport,
		Media:        mediaService,
	})
}

func provideMTProto(log *slog.Logger, cfg config.Config) *mtproto.Client {
	return mtproto.NewClient(log, mtproto.Config{
		APIID:      cfg.MTProto.APIID,
		APIHash:    cfg.MTProto.APIHash,
		SessionDir: cfg.MTProto.SessionDir,
	})
}

func provideBackfill(log *slog.Logger, cfg config.Config, inv *inventory.DBStore, client *mtproto.Client, ingestService *ingest.Service) *backfill.Worker {
	return backfill.NewWorker(log, inv, client, client, ingestService, backfill.Options{
		HistoryLimit: cfg.MTProto.HistoryLimit,
		ChannelDelay: cfg.MTProto.ChannelDelay.Duration,
	})
}
