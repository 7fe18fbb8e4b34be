package application

import (
	"context"

	"voiceai/internal/domain"
)

type ChatCompleter interface {
	Complete(ctx context.Context, apiKey, userText string) (*domain.ChatExchange, error)
}
