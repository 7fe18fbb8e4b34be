package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"voiceai/config"
	"voiceai/internal/application"
	"voiceai/internal/infra/httpapi"
	"voiceai/internal/infra/metrics"
	"voiceai/internal/infra/openai"
	"voiceai/internal/infra/pushover"
	"voiceai/internal/infra/speech"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the assistant: HTTP API, wake word monitor and foreground turns",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cmd, os.Stdout, true)
			if err != nil {
				return err
			}

			err = serve(ctx, a)
			return multierr.Combine(err, a.Close())
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	m := metrics.New()

	assistant := a.assistant(application.WithMetrics(m))

	var stt application.SpeechToText = &application.NoopSTT{}
	if *cfg.Speech.Whisper {
		stt = openai.NewWhisperClientWithURL(a.keys, cfg.OpenAI.Language, cfg.OpenAI.BaseURL)
	}

	queue := speech.NewQueue(cfg.Speech.QueueCapacity, logger)
	wakeRecognizer, err := newRecognizer(cfg.Wake.Source, speech.ChannelWake, queue, stt, cfg.Speech, a)
	if err != nil {
		return fmt.Errorf("wake recognizer: %w", err)
	}
	listenRecognizer, err := newRecognizer(cfg.Listen.Source, speech.ChannelCommand, queue, stt, cfg.Speech, a)
	if err != nil {
		return fmt.Errorf("listen recognizer: %w", err)
	}

	var notifier application.Notifier = &application.NoopNotifier{}
	if cfg.Pushover.Enabled {
		notifier = pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey, cfg.Pushover.Title)
	}

	hub := httpapi.NewHub(logger)
	listener := application.NewListener(listenRecognizer, cfg.Listen.SilenceTimeout, m, logger)
	foreground := application.NewForeground(listener, assistant, notifier, hub, logger)
	monitor := application.NewWakeWordMonitor(wakeRecognizer, foreground, cfg.Wake.Phrase, logger,
		application.WithErrorPacing(rate.Limit(cfg.Wake.ErrorRate), cfg.Wake.ErrorBurst),
		application.WithWakeMetrics(m),
	)
	wake := application.NewWakeWordService(a.keys, monitor, logger)

	updates, err := a.usage.Watch(ctx)
	if err != nil {
		return err
	}
	go hub.FollowUsage(updates)

	trusted, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	server := httpapi.New(httpapi.Deps{
		Assistant: assistant,
		Usage:     a.usage,
		Keys:      a.keys,
		Settings:  a.keys,
		Wake:      wake,
		Speech:    queue,
		Events:    hub,
		Metrics:   m.Handler(),
		Observer:  m,
	}, httpapi.Options{
		Addr:      cfg.Server.Addr,
		AuthToken: cfg.Server.AuthToken,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,

		TrustedProxies: trusted,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	if err := server.Start(ctx); err != nil {
		return err
	}

	if err := wake.Restore(ctx); err != nil {
		logger.Error("restoring wake word monitor", "error", err)
	}

	logger.Info("voiceai assistant started",
		"addr", server.Addr(),
		"database", a.db.Path(),
		"model", cfg.OpenAI.Model,
		"wake_source", cfg.Wake.Source,
		"listen_source", cfg.Listen.Source,
		"wake_word_running", wake.Running(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	err = server.Stop()
	wake.Stop()
	listener.Stop()
	foreground.Wait()
	assistant.Wait()
	return err
}

func newRecognizer(source, channel string, queue *speech.Queue, stt application.SpeechToText, cfg config.SpeechConfig, a *app) (application.Recognizer, error) {
	switch source {
	case config.SourceQueue:
		c, ok := queue.Channel(channel)
		if !ok {
			return nil, fmt.Errorf("no %q speech channel", channel)
		}
		return c, nil
	case config.SourceFile:
		// Each loop polls its own subdirectory so they never race for a file.
		return speech.NewFileRecognizer(filepath.Join(cfg.FileDir, channel), stt, cfg.PollInterval, a.logger)
	case config.SourceMicrophone:
		return speech.NewMicrophone(stt, cfg.SampleRate, cfg.MaxUtterance, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown recognizer source %q", source)
	}
}
