//go:build portaudio

package speech

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/multierr"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

const framesPerBuffer = 1024

// Microphone records one utterance from the default input device per
// Recognize call and transcribes it.
type Microphone struct {
	stt        application.SpeechToText
	sampleRate int
	maxLen     time.Duration
	logger     *slog.Logger

	mu sync.Mutex
}

func NewMicrophone(stt application.SpeechToText, sampleRate int, maxLen time.Duration, logger *slog.Logger) *Microphone {
	return &Microphone{
		stt:        stt,
		sampleRate: sampleRate,
		maxLen:     maxLen,
		logger:     logger,
	}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Recognize(ctx context.Context) (string, error) {
	if !m.mu.TryLock() {
		return "", domain.NewRecognitionError(domain.RecognitionBusy, nil)
	}
	defer m.mu.Unlock()

	u, err := m.capture(ctx)
	if err != nil {
		return "", err
	}
	if !u.heardVoice {
		return "", domain.NewRecognitionError(domain.RecognitionTimeout, nil)
	}

	data, err := EncodeWAV(u.samples, m.sampleRate)
	if err != nil {
		return "", domain.NewRecognitionError(domain.RecognitionAudio, err)
	}

	text, err := m.stt.Transcribe(ctx, data)
	if err != nil {
		return "", classify(err)
	}
	if text == "" {
		return "", domain.NewRecognitionError(domain.RecognitionNoMatch, nil)
	}
	return text, nil
}

func (m *Microphone) capture(ctx context.Context) (u *utterance, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, domain.NewRecognitionError(domain.RecognitionAudio, fmt.Errorf("initializing portaudio: %w", err))
	}
	defer func() {
		err = multierr.Combine(err, portaudio.Terminate())
	}()

	frame := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(frame), frame)
	if err != nil {
		return nil, domain.NewRecognitionError(domain.RecognitionAudio, fmt.Errorf("opening stream: %w", err))
	}
	defer func() {
		err = multierr.Combine(err, stream.Close())
	}()

	if err := stream.Start(); err != nil {
		return nil, domain.NewRecognitionError(domain.RecognitionAudio, fmt.Errorf("starting stream: %w", err))
	}
	defer func() {
		err = multierr.Combine(err, stream.Stop())
	}()

	m.logger.Debug("microphone capture started", "sample_rate", m.sampleRate)

	u = newUtterance(m.sampleRate, defaultSilenceThreshold, m.maxLen)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, domain.NewRecognitionError(domain.RecognitionAudio, fmt.Errorf("reading from stream: %w", err))
		}
		if u.add(frame) {
			return u, nil
		}
	}
}
