package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"postpulse/internal/eventbus"
	"postpulse/internal/publisher"
	kit "postpulse/internal/transport"
	logx "postpulse/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.chats = append(f.chats, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never satisfied")
}

func TestOutcomeEventsBecomeMessages(t *testing.T) {
	bus := eventbus.New()
	snd := &fakeSender{}
	svc := New(Config{Enabled: true, ChatID: 42, RatePerSec: 1000}, snd, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.EventPostPublished, Data: publisher.OutcomeEvent{
		PostID: "p1", Destination: "g/demo", Title: "Hello", Final: true,
	}})
	bus.Publish(eventbus.Event{Type: eventbus.EventPostFailed, Data: publisher.OutcomeEvent{
		PostID: "p2", Destination: "g/demo", Code: "SEND_ERROR", Message: "boom", RetryCount: 1,
	}})

	waitFor(t, func() bool { return len(snd.texts()) >= 2 })

	texts := strings.Join(snd.texts(), "\n")
	if !strings.Contains(texts, "Published to g/demo: Hello") {
		t.Fatalf("missing published message: %q", texts)
	}
	if !strings.Contains(texts, "attempt 1") || !strings.Contains(texts, "SEND_ERROR") {
		t.Fatalf("missing failure message: %q", texts)
	}
	snd.mu.Lock()
	chat := snd.chats[0]
	snd.mu.Unlock()
	if chat != 42 {
		t.Fatalf("sent to chat %d, want 42", chat)
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	snd := &fakeSender{}
	svc := New(Config{Enabled: true, ChatID: 1, RatePerSec: 1000, DedupWindow: time.Minute}, snd, logx.Nop(), nil)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	for i := 0; i < 5; i++ {
		if err := svc.Notify(context.Background(), "same text"); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	waitFor(t, func() bool { return len(snd.texts()) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if n := len(snd.texts()); n != 1 {
		t.Fatalf("sent %d times, want 1", n)
	}
}

func TestDisabledNotifierRejects(t *testing.T) {
	svc := New(Config{Enabled: false}, &fakeSender{}, logx.Nop(), nil)
	svc.Start(context.Background())
	if err := svc.Notify(context.Background(), "x"); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestFormatOutcomeIgnoresOtherEvents(t *testing.T) {
	if got := formatOutcome(eventbus.Event{Type: eventbus.EventTimerArmed, Data: time.Now()}); got != "" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := formatOutcome(eventbus.Event{Type: eventbus.EventPostAttempt, Data: publisher.OutcomeEvent{}}); got != "" {
		t.Fatalf("attempt events should be silent: %q", got)
	}
}
