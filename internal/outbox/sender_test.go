package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newTestSender(rec *sleepRecorder) *Sender {
	s := NewSender(nil, DefaultPacing)
	s.sleep = rec.sleep
	return s
}

func rateLimited(retryAfter int) error {
	return &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests: retry after 3",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: retryAfter},
	}
}

func TestSender_SameChatIsPaced(t *testing.T) {
	t.Parallel()

	s := NewSender(nil, 40*time.Millisecond)
	var (
		mu    sync.Mutex
		stamp []time.Time
	)
	call := func(context.Context) error {
		mu.Lock()
		stamp = append(stamp, time.Now())
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Do(context.Background(), "42", call); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(stamp) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(stamp))
	}
	gap := stamp[1].Sub(stamp[0])
	if gap < 0 {
		gap = -gap
	}
	if gap < 40*time.Millisecond {
		t.Fatalf("sends were %v apart, want at least the pacing delay", gap)
	}
	if s.Pending("42") != 0 {
		t.Fatalf("queue not released: %d pending", s.Pending("42"))
	}
}

func TestSender_DifferentChatsRunConcurrently(t *testing.T) {
	t.Parallel()

	s := NewSender(nil, time.Millisecond)
	started := make(chan string, 2)
	release := make(chan struct{})
	call := func(chat string) func(context.Context) error {
		return func(context.Context) error {
			started <- chat
			<-release
			return nil
		}
	}

	errs := make(chan error, 2)
	go func() { errs <- s.Do(context.Background(), "1", call("1")) }()
	go func() { errs <- s.Do(context.Background(), "2", call("2")) }()

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("second chat was blocked by the first")
		}
	}
	close(release)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestSender_PreservesOrderPerChat(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	s := newTestSender(rec)
	gate := make(chan struct{})
	var order []int
	var mu sync.Mutex

	first := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "7", func(context.Context) error {
			close(first)
			<-gate
			mu.Lock()
			order = append(order, 1)
			mu.Unlock()
			return nil
		})
	}()
	<-first

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Do(context.Background(), "7", func(context.Context) error {
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
	}()
	for s.Pending("7") < 2 {
		time.Sleep(time.Millisecond)
	}
	close(gate)
	wg.Wait()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestSender_RetriesOnceAfterRateLimit(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	s := newTestSender(rec)
	var calls atomic.Int32
	err := s.Do(context.Background(), "42", func(context.Context) error {
		if calls.Add(1) == 1 {
			return rateLimited(3)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls.Load())
	}
	waits := rec.recorded()
	if len(waits) != 2 {
		t.Fatalf("unexpected waits: %v", waits)
	}
	if waits[0] != DefaultPacing {
		t.Fatalf("expected pacing first, got %v", waits[0])
	}
	if waits[1] < 3*time.Second {
		t.Fatalf("retried after %v, want at least the advertised 3s", waits[1])
	}
}

func TestSender_RateLimitWithoutDelayUsesDefault(t *testing.T) {
	t.Parallel()

	wait, ok := RetryAfter(tgbotapi.Error{Code: 429, Message: "Too Many Requests"})
	if !ok || wait != defaultRetryAfter {
		t.Fatalf("unexpected retry: %v %v", wait, ok)
	}
	if _, ok := RetryAfter(errors.New("boom")); ok {
		t.Fatal("plain error is not a rate limit")
	}
}

func TestSender_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		calls int32
	}{
		{name: "rate limited", err: rateLimited(1), calls: maxRateLimitRetries + 1},
		{name: "network", err: errors.New("connection reset"), calls: maxErrorRetries + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &sleepRecorder{}
			s := newTestSender(rec)
			var calls atomic.Int32
			err := s.Do(context.Background(), "1", func(context.Context) error {
				calls.Add(1)
				return tt.err
			})
			if !errors.Is(err, ErrRetriesExhausted) {
				t.Fatalf("expected ErrRetriesExhausted, got %v", err)
			}
			if calls.Load() != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, calls.Load())
			}
		})
	}
}

func TestSender_LinearBackoff(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	s := newTestSender(rec)
	_ = s.Do(context.Background(), "1", func(context.Context) error {
		return errors.New("unreachable")
	})
	want := []time.Duration{DefaultPacing, time.Second, 2 * time.Second, 3 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("unexpected waits: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wait %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSender_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	s := newTestSender(rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sawErr error
	err := s.Do(ctx, "1", func(ctx context.Context) error {
		sawErr = ctx.Err()
		return nil
	})
	if err != nil || sawErr != nil {
		t.Fatalf("send should run detached, got %v / %v", err, sawErr)
	}
}
