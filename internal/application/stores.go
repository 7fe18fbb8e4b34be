package application

import (
	"context"

	"voiceai/internal/domain"
)

type CredentialStore interface {
	APIKey(ctx context.Context) (string, bool, error)
}

type UsageRecorder interface {
	Append(ctx context.Context, model string, usage domain.UsageCounts) (domain.UsageRecord, error)
}

type SettingsStore interface {
	WakeWordEnabled(ctx context.Context) (bool, error)
	SetWakeWordEnabled(ctx context.Context, enabled bool) error
}
