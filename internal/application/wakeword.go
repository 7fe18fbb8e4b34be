package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"voiceai/internal/domain"
)

const DefaultWakePhrase = "hey pixel"

// ContainsWakePhrase reports whether transcript contains phrase, ignoring case.
func ContainsWakePhrase(transcript, phrase string) bool {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(transcript), phrase)
}

// WakeWordMonitor listens continuously and calls its Activator whenever a
// transcript contains the wake phrase. Every finished pass, successful or not,
// starts the next one.
type WakeWordMonitor struct {
	recognizer Recognizer
	activator  Activator
	phrase     string
	limiter    *rate.Limiter
	metrics    Metrics
	logger     *slog.Logger
}

type WakeOption func(*WakeWordMonitor)

// WithErrorPacing limits how fast the monitor restarts after failed passes.
// A zero limit disables pacing.
func WithErrorPacing(limit rate.Limit, burst int) WakeOption {
	return func(m *WakeWordMonitor) {
		if limit <= 0 {
			m.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithWakeMetrics(metrics Metrics) WakeOption {
	return func(m *WakeWordMonitor) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

func NewWakeWordMonitor(recognizer Recognizer, activator Activator, phrase string, logger *slog.Logger, opts ...WakeOption) *WakeWordMonitor {
	if strings.TrimSpace(phrase) == "" {
		phrase = DefaultWakePhrase
	}
	m := &WakeWordMonitor{
		recognizer: recognizer,
		activator:  activator,
		phrase:     strings.ToLower(strings.TrimSpace(phrase)),
		metrics:    NoopMetrics{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *WakeWordMonitor) Phrase() string {
	return m.phrase
}

// Run loops until ctx is cancelled. A pass that finishes after cancellation
// is discarded.
func (m *WakeWordMonitor) Run(ctx context.Context) error {
	m.logger.Info("wake word monitor listening", "phrase", m.phrase, "recognizer", m.recognizer.Name())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		text, err := m.recognizer.Recognize(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			m.recognitionFailed(err)
			if err := m.pace(ctx); err != nil {
				return err
			}
			continue
		}

		if !ContainsWakePhrase(text, m.phrase) {
			m.logger.Debug("wake word not detected", "transcript", text)
			continue
		}

		m.logger.Info("wake word detected", "transcript", text)
		m.metrics.WakeWordDetected()
		m.activator.Activate(ctx, text)
	}
}

func (m *WakeWordMonitor) recognitionFailed(err error) {
	code := domain.RecognitionUnknown
	var recErr *domain.RecognitionError
	if errors.As(err, &recErr) {
		code = recErr.Code
	}
	m.metrics.RecognitionFailed("wake", code)
	m.logger.Debug("wake word pass failed, restarting", "code", code, "error", err)
}

func (m *WakeWordMonitor) pace(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	if err := m.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("pacing wake word restarts: %w", err)
	}
	return nil
}

// WakeWordService starts and stops the monitor according to the persisted
// wake_word_enabled setting.
type WakeWordService struct {
	settings SettingsStore
	monitor  *WakeWordMonitor
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWakeWordService(settings SettingsStore, monitor *WakeWordMonitor, logger *slog.Logger) *WakeWordService {
	return &WakeWordService{
		settings: settings,
		monitor:  monitor,
		logger:   logger,
	}
}

// Restore starts the monitor when the stored setting says it should run.
func (s *WakeWordService) Restore(ctx context.Context) error {
	enabled, err := s.settings.WakeWordEnabled(ctx)
	if err != nil {
		return fmt.Errorf("reading wake word setting: %w", err)
	}
	if enabled {
		s.start(ctx)
	}
	return nil
}

func (s *WakeWordService) Enable(ctx context.Context) error {
	if err := s.settings.SetWakeWordEnabled(ctx, true); err != nil {
		return fmt.Errorf("saving wake word setting: %w", err)
	}
	s.start(ctx)
	return nil
}

func (s *WakeWordService) Disable(ctx context.Context) error {
	if err := s.settings.SetWakeWordEnabled(ctx, false); err != nil {
		return fmt.Errorf("saving wake word setting: %w", err)
	}
	s.Stop()
	return nil
}

func (s *WakeWordService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop cancels the monitor and waits for its loop to exit, without touching
// the stored setting.
func (s *WakeWordService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("wake word monitor stopped")
}

// start runs the monitor detached from ctx's cancellation: the loop outlives
// the request that enabled it and ends only through Stop.
func (s *WakeWordService) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		if err := s.monitor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("wake word monitor exited", "error", err)
		}
	}()
}
