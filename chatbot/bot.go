// Package chatbot defines the narrow interface the admin shell's bot
// subcommand drives. No real network chat protocol is implemented here;
// that belongs to a networked-collaborator concern outside this core's
// scope. LogBot satisfies the interface by logging what a real bot would
// have sent, so the admin shell command stays fully wired and testable.
package chatbot

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Bot is driven by the admin shell's "bot {go|stop|say <user>}" command.
type Bot interface {
	Go(ctx context.Context) error
	Stop() error
	Say(user string) error
}

// LogBot is a no-op Bot that logs every call it receives.
type LogBot struct {
	log *logrus.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewLogBot builds a LogBot tagged with component=chatbot.
func NewLogBot(log *logrus.Logger) *LogBot {
	return &LogBot{log: log.WithField("component", "chatbot")}
}

// Go marks the bot running until ctx is cancelled or Stop is called.
// Calling Go while already running is a no-op.
func (b *LogBot) Go(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.log.Info("chat bot started")

	go func() {
		<-runCtx.Done()
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()
	return nil
}

// Stop cancels a running bot. Calling Stop when not running is a no-op.
func (b *LogBot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running || b.cancel == nil {
		return nil
	}
	b.cancel()
	b.running = false
	b.log.Info("chat bot stopped")
	return nil
}

// Say logs what would have been announced to user.
func (b *LogBot) Say(user string) error {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return fmt.Errorf("chatbot: not running")
	}
	b.log.WithField("user", user).Info("chat bot say")
	return nil
}
