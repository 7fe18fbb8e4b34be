package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voiceai/internal/domain"
)

type State int32

const (
	StateIdle State = iota
	StateAwaitingCredential
	StateAwaitingReply
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Responder turns a transcript into a reply.
type Responder interface {
	GetResponse(ctx context.Context, transcript string) (string, error)
}

const defaultUsageTimeout = 10 * time.Second

// Assistant mediates between a transcript, the chat client and the usage log.
// Calls to GetResponse are served one at a time.
type Assistant struct {
	credentials CredentialStore
	chat        ChatCompleter
	usage       UsageRecorder
	metrics     Metrics
	logger      *slog.Logger

	usageTimeout time.Duration

	sem    chan struct{}
	state  atomic.Int32
	writes sync.WaitGroup
}

type AssistantOption func(*Assistant)

func WithMetrics(m Metrics) AssistantOption {
	return func(a *Assistant) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithUsageTimeout(d time.Duration) AssistantOption {
	return func(a *Assistant) {
		if d > 0 {
			a.usageTimeout = d
		}
	}
}

func NewAssistant(
	credentials CredentialStore,
	chat ChatCompleter,
	usage UsageRecorder,
	logger *slog.Logger,
	opts ...AssistantOption,
) *Assistant {
	a := &Assistant{
		credentials:  credentials,
		chat:         chat,
		usage:        usage,
		metrics:      NoopMetrics{},
		logger:       logger,
		usageTimeout: defaultUsageTimeout,
		sem:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assistant) State() State {
	return State(a.state.Load())
}

func (a *Assistant) setState(s State) {
	a.state.Store(int32(s))
	a.logger.Debug("assistant state", "state", s.String())
}

func (a *Assistant) GetResponse(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		a.metrics.ChatFailed(failureReason(domain.ErrInvalidInput))
		return "", domain.ErrInvalidInput
	}

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-a.sem }()
	defer a.setState(StateIdle)

	a.setState(StateAwaitingCredential)
	apiKey, ok, err := a.credentials.APIKey(ctx)
	if err != nil {
		return "", a.fail(fmt.Errorf("reading credential: %w", err))
	}
	if !ok || apiKey == "" {
		return "", a.fail(domain.ErrMissingCredential)
	}

	a.setState(StateAwaitingReply)
	exchange, err := a.chat.Complete(ctx, apiKey, transcript)
	if err != nil {
		return "", a.fail(err)
	}

	a.setState(StateSuccess)
	a.metrics.ChatCompleted(exchange.Usage)
	a.logger.Info("assistant replied",
		"model", exchange.Model,
		"prompt_tokens", exchange.Usage.PromptTokens,
		"completion_tokens", exchange.Usage.CompletionTokens,
	)

	a.recordUsage(ctx, exchange)

	return exchange.ReplyText, nil
}

func (a *Assistant) fail(err error) error {
	a.setState(StateFailure)
	a.metrics.ChatFailed(failureReason(err))
	a.logger.Warn("getting response", "error", err)
	return err
}

// recordUsage appends the usage counters in a detached goroutine. A failed
// write is logged and counted but never reaches the caller.
func (a *Assistant) recordUsage(ctx context.Context, exchange *domain.ChatExchange) {
	a.writes.Add(1)
	go func() {
		defer a.writes.Done()

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.usageTimeout)
		defer cancel()

		record, err := a.usage.Append(writeCtx, exchange.Model, exchange.Usage)
		if err != nil {
			a.metrics.UsageWriteFailed()
			a.logger.Error("usage write failed", "error", err)
			return
		}
		a.logger.Debug("usage recorded", "id", record.ID, "total_tokens", record.TotalTokens)
	}()
}

// Wait blocks until every detached usage write has finished.
func (a *Assistant) Wait() {
	a.writes.Wait()
}

func failureReason(err error) string {
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrMissingCredential):
		return "missing_credential"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, domain.ErrParse):
		return "parse_error"
	case errors.Is(err, domain.ErrNoResponse):
		return "no_response"
	case errors.Is(err, domain.ErrStorage):
		return "storage_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
