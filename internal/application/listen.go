package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"voiceai/internal/domain"
)

// ErrListenCancelled is returned by a listen session that was stopped or
// superseded by a newer one.
var ErrListenCancelled = errors.New("listen cancelled")

var errSilence = errors.New("silence timeout")

// Listener runs foreground listen sessions. Starting a session cancels the
// previous one, and a result that belongs to a session which is no longer
// current is dropped.
type Listener struct {
	recognizer     Recognizer
	silenceTimeout time.Duration
	metrics        Metrics
	logger         *slog.Logger

	mu      sync.Mutex
	session string
	cancel  context.CancelCauseFunc
}

func NewListener(recognizer Recognizer, silenceTimeout time.Duration, metrics Metrics, logger *slog.Logger) *Listener {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Listener{
		recognizer:     recognizer,
		silenceTimeout: silenceTimeout,
		metrics:        metrics,
		logger:         logger,
	}
}

type listenResult struct {
	session string
	text    string
	err     error
}

func (l *Listener) Listen(ctx context.Context) (domain.Transcript, error) {
	session := xid.New().String()
	sessionCtx, cancel := context.WithCancelCause(ctx)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel(ErrListenCancelled)
	}
	l.session, l.cancel = session, cancel
	l.mu.Unlock()
	defer l.finish(session, cancel)

	attemptCtx := sessionCtx
	if l.silenceTimeout > 0 {
		var stop context.CancelFunc
		attemptCtx, stop = context.WithTimeoutCause(sessionCtx, l.silenceTimeout, errSilence)
		defer stop()
	}

	l.logger.Debug("listening", "session", session, "recognizer", l.recognizer.Name())

	results := make(chan listenResult, 1)
	go func() {
		text, err := l.recognizer.Recognize(attemptCtx)
		results <- listenResult{session: session, text: text, err: err}
	}()

	select {
	case res := <-results:
		if !l.current(res.session) {
			l.logger.Debug("dropping stale recognition result", "session", res.session)
			return domain.Transcript{}, ErrListenCancelled
		}
		if cause := context.Cause(attemptCtx); cause != nil {
			return domain.Transcript{}, l.interrupted(cause)
		}
		if res.err != nil {
			return domain.Transcript{}, l.failed(res.err)
		}
		text := strings.TrimSpace(res.text)
		if text == "" {
			return domain.Transcript{}, l.failed(domain.NewRecognitionError(domain.RecognitionNoMatch, nil))
		}
		return domain.Transcript{Text: text, Session: session}, nil

	case <-attemptCtx.Done():
		return domain.Transcript{}, l.interrupted(context.Cause(attemptCtx))
	}
}

// Stop cancels the in-flight session, if any.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel(ErrListenCancelled)
	}
	l.session, l.cancel = "", nil
}

func (l *Listener) current(session string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session == session
}

func (l *Listener) finish(session string, cancel context.CancelCauseFunc) {
	l.mu.Lock()
	if l.session == session {
		l.session, l.cancel = "", nil
	}
	l.mu.Unlock()
	cancel(nil)
}

func (l *Listener) interrupted(cause error) error {
	switch {
	case errors.Is(cause, errSilence):
		return l.failed(domain.NewRecognitionError(domain.RecognitionTimeout, nil))
	case errors.Is(cause, ErrListenCancelled):
		return ErrListenCancelled
	default:
		return cause
	}
}

func (l *Listener) failed(err error) error {
	var recErr *domain.RecognitionError
	if !errors.As(err, &recErr) {
		recErr = domain.NewRecognitionError(domain.RecognitionUnknown, err)
		err = recErr
	}
	l.metrics.RecognitionFailed("foreground", recErr.Code)
	l.logger.Warn("listen failed", "code", recErr.Code, "error", err)
	return err
}
