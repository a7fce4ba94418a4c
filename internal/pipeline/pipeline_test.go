package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/cartie/cartie/internal/bots"
	"github.com/cartie/cartie/internal/events"
	"github.com/cartie/cartie/internal/telegram"
)

func TestCompose_RunsInOrderWithUpdatedState(t *testing.T) {
	t.Parallel()

	var seen []string
	handler := Compose(
		func(ctx context.Context, st State, next Next) error {
			seen = append(seen, "a")
			st.ChatID = "42"
			return next(ctx, st)
		},
		func(ctx context.Context, st State, next Next) error {
			seen = append(seen, "b:"+st.ChatID)
			return next(ctx, st)
		},
	)
	if err := handler(context.Background(), State{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(seen, ",") != "a,b:42" {
		t.Fatalf("unexpected order: %v", seen)
	}
}

func TestCompose_NextCalledTwice(t *testing.T) {
	t.Parallel()

	downstream := 0
	handler := Compose(
		func(ctx context.Context, st State, next Next) error {
			if err := next(ctx, st); err != nil {
				return err
			}
			return next(ctx, st)
		},
		func(ctx context.Context, st State, next Next) error {
			downstream++
			return next(ctx, st)
		},
	)
	err := handler(context.Background(), State{})
	if !errors.Is(err, ErrNextCalledTwice) {
		t.Fatalf("expected ErrNextCalledTwice, got %v", err)
	}
	if downstream != 1 {
		t.Fatalf("downstream should run once, ran %d times", downstream)
	}
}

func TestCompose_StageStopsPipeline(t *testing.T) {
	t.Parallel()

	reached := false
	handler := Compose(
		func(context.Context, State, Next) error { return nil },
		func(ctx context.Context, st State, next Next) error {
			reached = true
			return next(ctx, st)
		},
	)
	_ = handler(context.Background(), State{})
	if reached {
		t.Fatal("second stage should not run")
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	runner := NewRunner(log, func(context.Context, State, Next) error {
		panic("boom")
	})
	runner.Run(context.Background(), State{Bot: bots.Bot{ID: "bot-1"}})
	if !strings.Contains(buf.String(), "pipeline panic") || !strings.Contains(buf.String(), "bot-1") {
		t.Fatalf("panic should be logged with context, got %q", buf.String())
	}
}

func TestRunner_LogsErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	NewRunner(log, func(context.Context, State, Next) error {
		return errors.New("store unavailable")
	}).Run(context.Background(), State{})
	if !strings.Contains(buf.String(), "store unavailable") {
		t.Fatalf("error should be logged, got %q", buf.String())
	}
}

type fakeGetter struct {
	bot bots.Bot
	err error
}

func (f fakeGetter) Get(context.Context, string) (bots.Bot, error) {
	return f.bot, f.err
}

func TestTenantResolver(t *testing.T) {
	t.Parallel()

	enabled := bots.Bot{ID: "b", Enabled: true, Config: bots.Settings{WebhookSecret: "own"}}
	unconfigured := bots.Bot{ID: "b", Enabled: true}
	cases := []struct {
		name      string
		getter    fakeGetter
		fallback  string
		presented string
		want      error
	}{
		{name: "ok", getter: fakeGetter{bot: enabled}, presented: "own"},
		{name: "fallback secret", getter: fakeGetter{bot: unconfigured}, fallback: "global", presented: "global"},
		{name: "unknown", getter: fakeGetter{err: bots.ErrBotNotFound}, presented: "own", want: ErrTenantNotFound},
		{name: "disabled", getter: fakeGetter{bot: bots.Bot{ID: "b"}}, presented: "own", want: ErrTenantNotFound},
		{name: "wrong", getter: fakeGetter{bot: enabled}, presented: "nope", want: ErrSecretMismatch},
		{name: "missing presented", getter: fakeGetter{bot: enabled}, want: ErrSecretMismatch},
		{name: "nothing configured", getter: fakeGetter{bot: unconfigured}, presented: "x", want: ErrSecretMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewTenantResolver(tc.getter, tc.fallback).Resolve(context.Background(), "b", tc.presented)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Resolve() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTenantStage_AttachesCompany(t *testing.T) {
	t.Parallel()

	var got string
	handler := Compose(TenantStage(), func(_ context.Context, st State, _ Next) error {
		got = st.CompanyID
		return nil
	})
	err := handler(context.Background(), State{Bot: bots.Bot{ID: "b", Enabled: true, CompanyID: "c"}})
	if err != nil || got != "c" {
		t.Fatalf("unexpected result: %q %v", got, err)
	}
	if err := handler(context.Background(), State{}); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func messageUpdate(t *testing.T) telegram.Update {
	t.Helper()
	u, err := telegram.Decode([]byte(`{"update_id":9,"message":{"message_id":3,"text":"hi +380991112233","chat":{"id":42,"type":"private"},"from":{"id":42,"first_name":"A"}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return u
}

func TestEmitStage_EmitsEvenWhenDownstreamFails(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	handler := Compose(EmitStage(emitter), func(context.Context, State, Next) error {
		return errors.New("handler failed")
	})
	err := handler(context.Background(), State{Update: messageUpdate(t), Kind: telegram.KindMessage})
	if err == nil {
		t.Fatal("downstream error should propagate")
	}
	got := strings.Join(emitter.types(), ",")
	if got != events.TypeUpdateReceived+","+events.TypeMessageIncoming {
		t.Fatalf("unexpected events: %s", got)
	}
	if text := emitter.events[1].Payload.Text; strings.Contains(text, "380991112233") {
		t.Fatalf("incoming text should be summarized, got %q", text)
	}
}

func TestEmitStage_EmitsOnPanic(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	runner := NewRunner(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		EmitStage(emitter),
		func(context.Context, State, Next) error { panic("handler bug") },
	)
	runner.Run(context.Background(), State{Update: messageUpdate(t), Duplicate: true})
	types := emitter.types()
	if len(types) == 0 || types[0] != events.TypeUpdateReceived {
		t.Fatalf("received event should be emitted on panic, got %v", types)
	}
	if !emitter.events[0].Payload.Duplicate {
		t.Fatal("duplicate flag should be recorded")
	}
}
