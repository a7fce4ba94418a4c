package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cartie/cartie/internal/ingest"
	"github.com/cartie/cartie/internal/inventory"
)

type fakeSources struct {
	mu         sync.Mutex
	connectors []inventory.Connector
	sources    []inventory.ChannelSource
	touched    []string
}

func (f *fakeSources) ActiveSources(context.Context) ([]inventory.ChannelSource, error) {
	return f.sources, nil
}

func (f *fakeSources) ReadyConnectors(context.Context) ([]inventory.Connector, error) {
	return f.connectors, nil
}

func (f *fakeSources) TouchSource(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

type fakeHistory struct {
	messages map[string][]ingest.ParsedMessage
	err      map[string]error
	limits   []int
	block    chan struct{}
}

func (f *fakeHistory) FetchHistory(_ context.Context, src inventory.ChannelSource, limit int) ([]ingest.ParsedMessage, error) {
	if f.block != nil {
		<-f.block
	}
	f.limits = append(f.limits, limit)
	if err := f.err[src.ID]; err != nil {
		return nil, err
	}
	return f.messages[src.ID], nil
}

type fakeHandler struct {
	mu      sync.Mutex
	handled []string
	done    chan struct{}
}

func (f *fakeHandler) HandleParsed(_ context.Context, src inventory.ChannelSource, msg ingest.ParsedMessage) error {
	f.mu.Lock()
	f.handled = append(f.handled, src.ID+":"+msg.Text)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func newTestWorker(sources *fakeSources, history *fakeHistory, handler *fakeHandler) (*Worker, *[]time.Duration) {
	w := NewWorker(nil, sources, history, nil, handler, Options{})
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return w, &slept
}

func TestRunBackfill(t *testing.T) {
	t.Parallel()

	sources := &fakeSources{
		connectors: []inventory.Connector{{ID: "conn-1", Status: inventory.ConnectorReady}},
		sources: []inventory.ChannelSource{
			{ID: "src-1", ConnectorID: "conn-1", ChannelID: "-100111"},
			{ID: "src-2", ConnectorID: "conn-2", ChannelID: "-100222"},
			{ID: "src-3", ConnectorID: "conn-1", ChannelID: "-100333"},
		},
	}
	history := &fakeHistory{
		messages: map[string][]ingest.ParsedMessage{
			"src-1": {{MessageID: 1, Text: "BMW X5 $30000 2019"}, {MessageID: 2, Text: "  "}},
			"src-3": {{MessageID: 5, Text: "Audi A6 €18000 2017"}},
		},
	}
	handler := &fakeHandler{}
	w, slept := newTestWorker(sources, history, handler)

	report, err := w.RunBackfill(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Sources != 2 || report.Skipped != 1 || report.Messages != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(handler.handled) != 2 || handler.handled[0] != "src-1:BMW X5 $30000 2019" {
		t.Fatalf("unexpected handled: %v", handler.handled)
	}
	if len(sources.touched) != 2 {
		t.Fatalf("expected both ready sources touched, got %v", sources.touched)
	}
	if len(*slept) != 1 || (*slept)[0] != DefaultChannelDelay {
		t.Fatalf("expected one delay between channels, got %v", *slept)
	}
	for _, limit := range history.limits {
		if limit != DefaultHistoryLimit {
			t.Fatalf("unexpected limit: %d", limit)
		}
	}
}

func TestRunBackfillContinuesAfterSourceFailure(t *testing.T) {
	t.Parallel()

	sources := &fakeSources{
		connectors: []inventory.Connector{{ID: "conn-1"}},
		sources: []inventory.ChannelSource{
			{ID: "src-1", ConnectorID: "conn-1"},
			{ID: "src-2", ConnectorID: "conn-1"},
		},
	}
	history := &fakeHistory{
		err:      map[string]error{"src-1": errors.New("flood wait")},
		messages: map[string][]ingest.ParsedMessage{"src-2": {{MessageID: 1, Text: "Skoda Octavia 2018 $9000"}}},
	}
	handler := &fakeHandler{}
	w, _ := newTestWorker(sources, history, handler)

	report, err := w.RunBackfill(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Failed != 1 || report.Messages != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(sources.touched) != 1 || sources.touched[0] != "src-2" {
		t.Fatalf("failed source must not be touched: %v", sources.touched)
	}
}

func TestRunBackfillRefusesConcurrentRun(t *testing.T) {
	t.Parallel()

	sources := &fakeSources{
		connectors: []inventory.Connector{{ID: "conn-1"}},
		sources:    []inventory.ChannelSource{{ID: "src-1", ConnectorID: "conn-1"}},
	}
	history := &fakeHistory{block: make(chan struct{})}
	w, _ := newTestWorker(sources, history, &fakeHandler{})

	done := make(chan error, 1)
	go func() {
		_, err := w.RunBackfill(context.Background())
		done <- err
	}()
	deadline := time.Now().Add(time.Second)
	for !w.busy.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := w.RunBackfill(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(history.block)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if w.busy.Load() {
		t.Fatal("busy flag should be cleared")
	}
}

type fakeListener struct {
	messages []ingest.ParsedMessage
}

func (f *fakeListener) Listen(ctx context.Context, _ inventory.Connector, fn func(context.Context, ingest.ParsedMessage)) error {
	for _, m := range f.messages {
		fn(ctx, m)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestStartLiveSyncMatchesChannelIDs(t *testing.T) {
	t.Parallel()

	sources := &fakeSources{
		connectors: []inventory.Connector{{ID: "conn-1"}},
		sources: []inventory.ChannelSource{
			{ID: "src-1", ConnectorID: "conn-1", ChannelID: "111"},
			{ID: "src-other", ConnectorID: "conn-2", ChannelID: "-100222"},
		},
	}
	listener := &fakeListener{messages: []ingest.ParsedMessage{
		{ChatID: "-100222", MessageID: 1, Text: "other connector"},
		{ChatID: "-100111", MessageID: 2, Text: "Mazda 6 2016 $11000"},
	}}
	handler := &fakeHandler{done: make(chan struct{}, 2)}
	w := NewWorker(nil, sources, nil, listener, handler, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.StartLiveSync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-handler.done:
	case <-time.After(time.Second):
		t.Fatal("live message was not imported")
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.handled) != 1 || handler.handled[0] != "src-1:Mazda 6 2016 $11000" {
		t.Fatalf("unexpected handled: %v", handler.handled)
	}
}

func TestSameChannel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want bool
	}{
		{"-100123", "123", true},
		{"123", "-100123", true},
		{"-100123", "-100123", true},
		{"-100123", "-100124", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := SameChannel(tc.a, tc.b); got != tc.want {
			t.Fatalf("a=%q b=%q want=%v got=%v", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestScheduleRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	w := NewWorker(nil, &fakeSources{}, &fakeHistory{}, nil, &fakeHandler{}, Options{})
	if err := w.Schedule(context.Background(), "every sometimes"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := w.Schedule(context.Background(), "@every 1h"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
