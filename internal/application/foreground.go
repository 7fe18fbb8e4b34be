package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voiceai/internal/domain"
)

type EventType string

const (
	EventWake       EventType = "wake"
	EventTranscript EventType = "transcript"
	EventReply      EventType = "reply"
	EventError      EventType = "error"
	EventUsage      EventType = "usage"
)

type Event struct {
	Type      EventType           `json:"type"`
	Text      string              `json:"text,omitempty"`
	Usage     *domain.UsageRecord `json:"usage,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

type EventPublisher interface {
	Publish(event Event)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}

// Foreground runs a listen-and-answer turn when activated. Only one turn runs
// at a time; activations that arrive during a turn are ignored.
type Foreground struct {
	listener  *Listener
	responder Responder
	notifier  Notifier
	events    EventPublisher
	logger    *slog.Logger

	busy  atomic.Bool
	turns sync.WaitGroup
}

func NewForeground(listener *Listener, responder Responder, notifier Notifier, events EventPublisher, logger *slog.Logger) *Foreground {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	if events == nil {
		events = NoopPublisher{}
	}
	return &Foreground{
		listener:  listener,
		responder: responder,
		notifier:  notifier,
		events:    events,
		logger:    logger,
	}
}

func (f *Foreground) Activate(ctx context.Context, transcript string) {
	if !f.busy.CompareAndSwap(false, true) {
		f.logger.Debug("foreground turn already running, ignoring activation")
		return
	}

	f.publish(EventWake, transcript)

	f.turns.Add(1)
	go func() {
		defer f.turns.Done()
		defer f.busy.Store(false)
		f.deliver(ctx)
	}()
}

// Turn listens for one utterance and answers it.
func (f *Foreground) Turn(ctx context.Context) (string, error) {
	transcript, err := f.listener.Listen(ctx)
	if err != nil {
		return "", fmt.Errorf("listening: %w", err)
	}
	f.publish(EventTranscript, transcript.Text)

	reply, err := f.responder.GetResponse(ctx, transcript.Text)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Wait blocks until the running turn, if any, has finished.
func (f *Foreground) Wait() {
	f.turns.Wait()
}

func (f *Foreground) deliver(ctx context.Context) {
	reply, err := f.Turn(ctx)
	if err != nil {
		if errors.Is(err, ErrListenCancelled) || errors.Is(err, context.Canceled) {
			f.logger.Debug("foreground turn cancelled")
			return
		}
		f.logger.Error("foreground turn failed", "error", err)
		reply = domain.UserMessage(err)
		f.publish(EventError, reply)
	} else {
		f.publish(EventReply, reply)
	}

	if err := f.notifier.Notify(ctx, reply); err != nil {
		f.logger.Error("notifying reply", "error", err)
	}
}

func (f *Foreground) publish(t EventType, text string) {
	f.events.Publish(Event{Type: t, Text: text, Timestamp: time.Now()})
}
