package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".webm": true,
}

// FileRecognizer watches a directory. A .txt file is taken as a finished
// transcript; audio files are transcribed. Consumed files are renamed with a
// .processed suffix.
type FileRecognizer struct {
	dir      string
	stt      application.SpeechToText
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	processed map[string]bool
}

func NewFileRecognizer(dir string, stt application.SpeechToText, interval time.Duration, logger *slog.Logger) (*FileRecognizer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating speech dir: %w", err)
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &FileRecognizer{
		dir:       dir,
		stt:       stt,
		interval:  interval,
		logger:    logger,
		processed: make(map[string]bool),
	}, nil
}

func (f *FileRecognizer) Name() string {
	return "file"
}

func (f *FileRecognizer) Recognize(ctx context.Context) (string, error) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		path, data, err := f.next()
		if err != nil {
			return "", domain.NewRecognitionError(domain.RecognitionAudio, err)
		}
		if path != "" {
			return f.transcribe(ctx, path, data)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *FileRecognizer) transcribe(ctx context.Context, path string, data []byte) (string, error) {
	if filepath.Ext(path) == ".txt" {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", domain.NewRecognitionError(domain.RecognitionNoMatch, nil)
		}
		return text, nil
	}

	f.logger.Info("transcribing audio file", "path", path, "bytes", len(data))
	text, err := f.stt.Transcribe(ctx, data)
	if err != nil {
		return "", classify(err)
	}
	if text == "" {
		return "", domain.NewRecognitionError(domain.RecognitionNoMatch, nil)
	}
	return text, nil
}

// next claims the oldest unprocessed file, by name.
func (f *FileRecognizer) next() (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return "", nil, fmt.Errorf("reading dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".txt" && !audioExtensions[ext] {
			continue
		}

		path := filepath.Join(f.dir, entry.Name())
		if f.processed[path] {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("reading file %s: %w", path, err)
		}

		f.processed[path] = true
		if err := os.Rename(path, path+".processed"); err != nil {
			f.logger.Warn("could not mark file processed", "path", path, "error", err)
		}

		return path, data, nil
	}

	return "", nil, nil
}
