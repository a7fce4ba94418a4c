// Package backfill imports channel history through MTProto connectors and
// keeps watching them for new posts.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cartie/cartie/internal/ingest"
	"github.com/cartie/cartie/internal/inventory"
)

const (
	DefaultHistoryLimit = 50
	DefaultChannelDelay = 2 * time.Second
)

// ErrBusy is returned when a backfill cycle is already running.
var ErrBusy = errors.New("backfill already running")

// HistoryFetcher reads the latest messages of a channel source.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, src inventory.ChannelSource, limit int) ([]ingest.ParsedMessage, error)
}

// Listener streams new channel posts seen by a connector. Listen blocks
// until ctx ends.
type Listener interface {
	Listen(ctx context.Context, connector inventory.Connector, fn func(context.Context, ingest.ParsedMessage)) error
}

// ParsedHandler turns a parsed message into a listing.
type ParsedHandler interface {
	HandleParsed(ctx context.Context, src inventory.ChannelSource, msg ingest.ParsedMessage) error
}

type Options struct {
	HistoryLimit int
	ChannelDelay time.Duration
}

// Report summarizes one backfill cycle.
type Report struct {
	Sources  int
	Skipped  int
	Messages int
	Failed   int
}

type Worker struct {
	sources  inventory.Sources
	history  HistoryFetcher
	listener Listener
	handler  ParsedHandler
	limit    int
	delay    time.Duration
	logger   *slog.Logger

	busy  atomic.Bool
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	cron *cron.Cron
}

func NewWorker(log *slog.Logger, sources inventory.Sources, history HistoryFetcher, listener Listener, handler ParsedHandler, opts Options) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.ChannelDelay < 0 {
		opts.ChannelDelay = 0
	}
	return &Worker{
		sources:  sources,
		history:  history,
		listener: listener,
		handler:  handler,
		limit:    opts.HistoryLimit,
		delay:    opts.ChannelDelay,
		logger:   log.With(slog.String("service", "backfill")),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// RunBackfill imports the recent history of every active source whose
// connector is ready. Only one cycle runs at a time.
func (w *Worker) RunBackfill(ctx context.Context) (Report, error) {
	if !w.busy.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer w.busy.Store(false)

	var report Report
	connectors, err := w.sources.ReadyConnectors(ctx)
	if err != nil {
		return report, fmt.Errorf("load connectors: %w", err)
	}
	ready := make(map[string]struct{}, len(connectors))
	for _, c := range connectors {
		ready[c.ID] = struct{}{}
	}
	sources, err := w.sources.ActiveSources(ctx)
	if err != nil {
		return report, fmt.Errorf("load sources: %w", err)
	}

	first := true
	for _, src := range sources {
		if _, ok := ready[src.ConnectorID]; !ok {
			report.Skipped++
			continue
		}
		if !first && w.delay > 0 {
			if err := w.sleep(ctx, w.delay); err != nil {
				return report, err
			}
		}
		first = false
		report.Sources++

		n, err := w.syncSource(ctx, src)
		report.Messages += n
		if err != nil {
			report.Failed++
			w.logger.Warn("channel backfill failed",
				slog.String("source_id", src.ID),
				slog.String("channel_id", src.ChannelID),
				slog.Any("error", err),
			)
		}
	}
	w.logger.Info("backfill finished",
		slog.Int("sources", report.Sources),
		slog.Int("skipped", report.Skipped),
		slog.Int("messages", report.Messages),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (w *Worker) syncSource(ctx context.Context, src inventory.ChannelSource) (int, error) {
	msgs, err := w.history.FetchHistory(ctx, src, w.limit)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if msg.ChatID == "" {
			msg.ChatID = src.ChannelID
		}
		if err := w.handler.HandleParsed(ctx, src, msg); err != nil {
			w.logger.Warn("import message failed",
				slog.String("source_id", src.ID),
				slog.Int64("message_id", msg.MessageID),
				slog.Any("error", err),
			)
			continue
		}
		handled++
	}
	if err := w.sources.TouchSource(ctx, src.ID, w.now()); err != nil {
		return handled, fmt.Errorf("touch source: %w", err)
	}
	return handled, nil
}

// StartLiveSync listens on every ready connector and imports new posts of
// its active sources. It returns once the listeners are started; they stop
// with ctx.
func (w *Worker) StartLiveSync(ctx context.Context) error {
	if w.listener == nil {
		return nil
	}
	connectors, err := w.sources.ReadyConnectors(ctx)
	if err != nil {
		return fmt.Errorf("load connectors: %w", err)
	}
	for _, c := range connectors {
		go func(c inventory.Connector) {
			err := w.listener.Listen(ctx, c, func(ctx context.Context, msg ingest.ParsedMessage) {
				w.handleLive(ctx, c, msg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("live sync stopped", slog.String("connector_id", c.ID), slog.Any("error", err))
			}
		}(c)
	}
	return nil
}

func (w *Worker) handleLive(ctx context.Context, connector inventory.Connector, msg ingest.ParsedMessage) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	sources, err := w.sources.ActiveSources(ctx)
	if err != nil {
		w.logger.Warn("load sources failed", slog.Any("error", err))
		return
	}
	for _, src := range sources {
		if src.ConnectorID != connector.ID || !SameChannel(src.ChannelID, msg.ChatID) {
			continue
		}
		if err := w.handler.HandleParsed(ctx, src, msg); err != nil {
			w.logger.Warn("live import failed",
				slog.String("source_id", src.ID),
				slog.Int64("message_id", msg.MessageID),
				slog.Any("error", err),
			)
		}
		return
	}
}

// SameChannel compares channel ids with or without the -100 prefix.
func SameChannel(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.TrimPrefix(a, "-100") == strings.TrimPrefix(b, "-100")
}

// Schedule runs RunBackfill on the cron expression until Stop.
func (w *Worker) Schedule(ctx context.Context, spec string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("backfill already scheduled")
	}
	logger := cronLogger{w.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	_, err := c.AddFunc(spec, func() {
		if _, err := w.RunBackfill(ctx); err != nil {
			w.logger.Warn("scheduled backfill failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid backfill schedule %q: %w", spec, err)
	}
	c.Start()
	w.cron = c
	return nil
}

// Stop halts the schedule and waits for a running cycle.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's logs to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
