// Package speech provides the recognizers the assistant listens through:
// transcripts pushed by a device, transcript and audio files dropped in a
// directory, and the local microphone.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voiceai/internal/domain"
)

const (
	ChannelWake    = "wake"
	ChannelCommand = "command"
)

var (
	ErrUnknownChannel = errors.New("unknown speech channel")
	ErrQueueFull      = errors.New("speech queue full")
	ErrEmptyResult    = errors.New("transcript and error are both empty")
)

type result struct {
	text string
	err  error
}

// Queue holds one buffered channel of recognition results per name. A device
// running its own recognizer pushes results; Recognize on the matching
// Channel takes them in order.
type Queue struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewQueue(capacity int, logger *slog.Logger, names ...string) *Queue {
	if capacity <= 0 {
		capacity = 10
	}
	if len(names) == 0 {
		names = []string{ChannelWake, ChannelCommand}
	}

	q := &Queue{
		logger:   logger,
		channels: make(map[string]*Channel, len(names)),
	}
	for _, name := range names {
		q.channels[name] = &Channel{name: name, results: make(chan result, capacity)}
	}
	return q
}

// Channel returns the recognizer reading the named channel.
func (q *Queue) Channel(name string) (*Channel, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	c, ok := q.channels[name]
	return c, ok
}

// Names lists the configured channels.
func (q *Queue) Names() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.channels))
	for name := range q.channels {
		names = append(names, name)
	}
	return names
}

// Push enqueues a transcript, or a recognition failure when code is set.
func (q *Queue) Push(name, transcript, code string) error {
	c, ok := q.Channel(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}

	var r result
	switch {
	case code != "":
		r.err = domain.NewRecognitionError(domain.ParseRecognitionCode(code), nil)
	case strings.TrimSpace(transcript) != "":
		r.text = transcript
	default:
		return ErrEmptyResult
	}

	select {
	case c.results <- r:
		q.logger.Debug("speech result queued", "channel", name, "error_code", code)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrQueueFull, name)
	}
}

// Pending reports how many results wait on each channel.
func (q *Queue) Pending() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	pending := make(map[string]int, len(q.channels))
	for name, c := range q.channels {
		pending[name] = len(c.results) + c.heldCount()
	}
	return pending
}

// Channel is a Recognizer fed through its Queue.
type Channel struct {
	name    string
	results chan result

	// Results received by a reader whose context ended at the same moment.
	// They are served before anything still in results.
	mu   sync.Mutex
	held []result
}

func (c *Channel) Name() string {
	return "queue:" + c.name
}

// Recognize takes the next result. A cancelled caller never consumes one.
func (c *Channel) Recognize(ctx context.Context) (string, error) {
	if r, ok := c.takeHeld(); ok {
		return r.text, r.err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-c.results:
		if err := ctx.Err(); err != nil {
			c.hold(r)
			return "", err
		}
		return r.text, r.err
	}
}

func (c *Channel) takeHeld() (result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.held) == 0 {
		return result{}, false
	}
	r := c.held[0]
	c.held = c.held[1:]
	return r, true
}

func (c *Channel) hold(r result) {
	c.mu.Lock()
	c.held = append(c.held, r)
	c.mu.Unlock()
}

func (c *Channel) heldCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}
