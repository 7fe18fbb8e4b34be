package application

import "voiceai/internal/domain"

// Metrics receives assistant events. The Prometheus implementation lives in
// internal/infra/metrics.
type Metrics interface {
	ChatCompleted(usage domain.UsageCounts)
	ChatFailed(reason string)
	UsageWriteFailed()
	WakeWordDetected()
	RecognitionFailed(loop string, code domain.RecognitionCode)
}

type NoopMetrics struct{}

func (NoopMetrics) ChatCompleted(domain.UsageCounts)                 {}
func (NoopMetrics) ChatFailed(string)                                {}
func (NoopMetrics) UsageWriteFailed()                                {}
func (NoopMetrics) WakeWordDetected()                                {}
func (NoopMetrics) RecognitionFailed(string, domain.RecognitionCode) {}
