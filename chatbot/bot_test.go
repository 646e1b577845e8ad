package chatbot

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestBot() *LogBot {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewLogBot(log)
}

func TestLogBot_SayFailsWhenNotRunning(t *testing.T) {
	b := newTestBot()
	if err := b.Say("alice"); err == nil {
		t.Fatal("expected error saying while stopped")
	}
}

func TestLogBot_GoThenSaySucceeds(t *testing.T) {
	b := newTestBot()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Go(ctx); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := b.Say("alice"); err != nil {
		t.Fatalf("Say: %v", err)
	}
}

func TestLogBot_StopThenSayFails(t *testing.T) {
	b := newTestBot()
	ctx := context.Background()
	if err := b.Go(ctx); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := b.Say("alice"); err == nil {
		t.Fatal("expected error saying after stop")
	}
}

func TestLogBot_GoIsIdempotent(t *testing.T) {
	b := newTestBot()
	ctx := context.Background()
	if err := b.Go(ctx); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := b.Go(ctx); err != nil {
		t.Fatalf("second Go: %v", err)
	}
	if err := b.Say("bob"); err != nil {
		t.Fatalf("Say after double Go: %v", err)
	}
}

func TestLogBot_StopWithoutGoIsNoop(t *testing.T) {
	b := newTestBot()
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestLogBot_ContextCancelStopsBot(t *testing.T) {
	b := newTestBot()
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Go(ctx); err != nil {
		t.Fatalf("Go: %v", err)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)

	if err := b.Say("carol"); err == nil {
		t.Fatal("expected error saying after context cancellation")
	}
}
