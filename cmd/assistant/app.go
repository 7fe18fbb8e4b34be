package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"voiceai/config"
	"voiceai/internal/application"
	"voiceai/internal/infra"
	"voiceai/internal/infra/keystore"
	"voiceai/internal/infra/openai"
	"voiceai/internal/infra/sqlite"
)

// app holds what every command opens: config, logger, database, usage log
// and, when asked for, the unlocked key store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlite.DB
	usage  *sqlite.UsageLog
	keys   *keystore.Store
}

func openApp(ctx context.Context, cmd *cli.Command, logOut io.Writer, withKeystore bool) (*app, error) {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return nil, err
	}
	if cmd.Bool(debugFlag) {
		cfg.Log.Level = "debug"
	}

	logger := newLogger(cfg.Log, logOut)

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	a.usage, err = sqlite.NewUsageLog(ctx, db)
	if err != nil {
		return nil, multierr.Combine(err, db.Close())
	}

	if withKeystore {
		a.keys, err = keystore.Open(ctx, db, cfg.Keystore.Passphrase, logger)
		if err != nil {
			return nil, multierr.Combine(fmt.Errorf("opening keystore: %w", err), db.Close())
		}
	}

	return a, nil
}

func (a *app) Close() error {
	if a.keys != nil {
		a.keys.Close()
	}
	return a.db.Close()
}

func (a *app) chatClient() *openai.ChatClient {
	retry := infra.NoRetry()
	if a.cfg.OpenAI.MaxAttempts > 1 {
		retry = infra.DefaultRetryConfig()
		retry.MaxAttempts = a.cfg.OpenAI.MaxAttempts
	}

	return openai.NewChatClientWithURL(a.cfg.OpenAI.BaseURL,
		openai.WithModel(a.cfg.OpenAI.Model),
		openai.WithTemperature(*a.cfg.OpenAI.Temperature),
		openai.WithTimeout(a.cfg.OpenAI.Timeout),
		openai.WithRetry(retry),
	)
}

func (a *app) assistant(opts ...application.AssistantOption) *application.Assistant {
	opts = append([]application.AssistantOption{application.WithUsageTimeout(a.cfg.Storage.UsageTimeout)}, opts...)
	return application.NewAssistant(a.keys, a.chatClient(), a.usage, a.logger, opts...)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
