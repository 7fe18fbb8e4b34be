package application_test

import (
	"context"
	"errors"
	"sync"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

type fakeCredentials struct {
	key string
	err error
}

func (f *fakeCredentials) APIKey(_ context.Context) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return f.key, f.key != "", nil
}

type fakeChat struct {
	mu       sync.Mutex
	calls    []string
	keys     []string
	exchange *domain.ChatExchange
	err      error

	inFlight    int
	maxInFlight int
	release     chan struct{}
}

func (f *fakeChat) Complete(ctx context.Context, apiKey, userText string) (*domain.ChatExchange, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userText)
	f.keys = append(f.keys, apiKey)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	exchange := *f.exchange
	exchange.UserText = userText
	return &exchange, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeUsage struct {
	mu      sync.Mutex
	records []domain.UsageRecord
	err     error
}

func (f *fakeUsage) Append(_ context.Context, model string, usage domain.UsageCounts) (domain.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.UsageRecord{}, f.err
	}
	record := domain.UsageRecord{
		ID:               int64(len(f.records) + 1),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Model:            model,
	}
	f.records = append(f.records, record)
	return record, nil
}

func (f *fakeUsage) all() []domain.UsageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UsageRecord(nil), f.records...)
}

type fakeSettings struct {
	mu      sync.Mutex
	enabled bool
}

func (f *fakeSettings) WakeWordEnabled(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeSettings) SetWakeWordEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}

type recognition struct {
	text string
	err  error
}

// scriptedRecognizer returns its scripted results in order and then blocks
// until the attempt is cancelled. drained is closed on the first blocking call.
type scriptedRecognizer struct {
	mu      sync.Mutex
	results []recognition
	calls   int
	drained chan struct{}
	once    sync.Once
}

func newScriptedRecognizer(results ...recognition) *scriptedRecognizer {
	return &scriptedRecognizer{results: results, drained: make(chan struct{})}
}

func (r *scriptedRecognizer) Name() string { return "scripted" }

func (r *scriptedRecognizer) Recognize(ctx context.Context) (string, error) {
	r.mu.Lock()
	r.calls++
	if len(r.results) > 0 {
		res := r.results[0]
		r.results = r.results[1:]
		r.mu.Unlock()
		return res.text, res.err
	}
	r.mu.Unlock()

	r.once.Do(func() { close(r.drained) })
	<-ctx.Done()
	return "", ctx.Err()
}

type recordingActivator struct {
	mu          sync.Mutex
	transcripts []string
}

func (r *recordingActivator) Activate(_ context.Context, transcript string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, transcript)
}

func (r *recordingActivator) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transcripts...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []application.Event
}

func (r *recordingPublisher) Publish(event application.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) types() []application.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]application.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

type fakeResponder struct {
	reply string
	err   error
	asked []string
}

func (f *fakeResponder) GetResponse(_ context.Context, transcript string) (string, error) {
	f.asked = append(f.asked, transcript)
	return f.reply, f.err
}

var errDisk = errors.New("disk full")
