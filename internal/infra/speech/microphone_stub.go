//go:build !portaudio

package speech

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

// Microphone stub when portaudio is not available.
type Microphone struct{}

func NewMicrophone(_ application.SpeechToText, _ int, _ time.Duration, _ *slog.Logger) *Microphone {
	return &Microphone{}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Recognize(_ context.Context) (string, error) {
	return "", domain.NewRecognitionError(domain.RecognitionAudio,
		errors.New("microphone not available: rebuild with -tags portaudio"))
}
