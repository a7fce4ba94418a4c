package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	DefaultPacing         = 350 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second

	rateLimitMargin     = 500 * time.Millisecond
	defaultRetryAfter   = 5 * time.Second
	maxRateLimitRetries = 5
	maxErrorRetries     = 3
)

// ErrRetriesExhausted wraps the last transport error once the retry budget
// is spent.
var ErrRetriesExhausted = errors.New("outbound retries exhausted")

// Sender runs outbound calls one at a time per chat, in the order they were
// enqueued, waiting the pacing delay before each and retrying transport
// failures. Calls for
// different chats run concurrently.
//
// The queue map lives as long as the Sender. It is not shared across
// processes; the platform's own rate limiting is the backstop there.
type Sender struct {
	logger *slog.Logger
	pacing time.Duration
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queues map[string]*chatQueue
}

type chatQueue struct {
	tail    chan struct{}
	pending int
}

// NewSender creates a sender. pacing <= 0 uses DefaultPacing.
func NewSender(log *slog.Logger, pacing time.Duration) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Sender{
		logger: log.With(slog.String("component", "outbox_sender")),
		pacing: pacing,
		sleep:  sleepContext,
		queues: make(map[string]*chatQueue),
	}
}

// Do enqueues fn for chatID and waits for it to finish. fn runs on a context
// detached from ctx's cancellation: once enqueued, a call runs to completion
// or exhausts its retries.
func (s *Sender) Do(ctx context.Context, chatID string, fn func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	prev, done := s.enqueue(chatID)
	defer s.release(chatID, done)
	if prev != nil {
		<-prev
	}
	return s.call(ctx, chatID, fn)
}

// Pending reports the number of queued or running calls for chatID.
func (s *Sender) Pending(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[chatID]; ok {
		return q.pending
	}
	return 0
}

func (s *Sender) enqueue(chatID string) (prev, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[chatID]
	if !ok {
		q = &chatQueue{}
		s.queues[chatID] = q
	}
	prev = q.tail
	done = make(chan struct{})
	q.tail = done
	q.pending++
	return prev, done
}

func (s *Sender) release(chatID string, done chan struct{}) {
	close(done)
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[chatID]
	if !ok {
		return
	}
	q.pending--
	if q.pending <= 0 {
		delete(s.queues, chatID)
	}
}

func (s *Sender) call(ctx context.Context, chatID string, fn func(ctx context.Context) error) error {
	if err := s.sleep(ctx, s.pacing); err != nil {
		return err
	}
	rateLimited, failures := 0, 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var wait time.Duration
		if retryAfter, limited := RetryAfter(err); limited {
			if rateLimited >= maxRateLimitRetries {
				return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			}
			rateLimited++
			wait = retryAfter
			s.logger.Warn("telegram rate limited",
				slog.String("chat_id", chatID),
				slog.Duration("retry_after", wait),
				slog.Int("attempt", rateLimited),
			)
		} else {
			if failures >= maxErrorRetries {
				return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			}
			failures++
			wait = time.Duration(failures) * time.Second
			s.logger.Warn("telegram call failed, retrying",
				slog.String("chat_id", chatID),
				slog.Duration("backoff", wait),
				slog.Int("attempt", failures),
				slog.Any("error", err),
			)
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RetryAfter reports whether err is a rate-limit response and how long to
// wait before the next attempt, margin included.
func RetryAfter(err error) (time.Duration, bool) {
	apiErr, ok := asAPIError(err)
	if !ok || apiErr.Code != 429 {
		return 0, false
	}
	if apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter)*time.Second + rateLimitMargin, true
	}
	return defaultRetryAfter, true
}

func isMessageNotModified(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == 400 && strings.Contains(apiErr.Message, "message is not modified")
}

func asAPIError(err error) (tgbotapi.Error, bool) {
	if err == nil {
		return tgbotapi.Error{}, false
	}
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
