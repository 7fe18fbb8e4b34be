package speech_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceai/internal/application"
	"voiceai/internal/domain"
	"voiceai/internal/infra/speech"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_DefaultChannels(t *testing.T) {
	q := speech.NewQueue(2, discardLogger())

	assert.ElementsMatch(t, []string{speech.ChannelWake, speech.ChannelCommand}, q.Names())

	c, ok := q.Channel(speech.ChannelWake)
	require.True(t, ok)
	assert.Equal(t, "queue:wake", c.Name())
}

func TestQueue_PushThenRecognize(t *testing.T) {
	q := speech.NewQueue(2, discardLogger())
	require.NoError(t, q.Push(speech.ChannelCommand, "what's the weather", ""))

	c, _ := q.Channel(speech.ChannelCommand)
	text, err := c.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "what's the weather", text)
}

func TestQueue_ChannelsAreIndependent(t *testing.T) {
	q := speech.NewQueue(2, discardLogger())
	require.NoError(t, q.Push(speech.ChannelWake, "hey pixel", ""))

	assert.Equal(t, map[string]int{speech.ChannelWake: 1, speech.ChannelCommand: 0}, q.Pending())
}

func TestQueue_ErrorCode(t *testing.T) {
	q := speech.NewQueue(2, discardLogger())
	require.NoError(t, q.Push(speech.ChannelWake, "", "no_match"))
	require.NoError(t, q.Push(speech.ChannelWake, "", "bogus"))

	c, _ := q.Channel(speech.ChannelWake)

	_, err := c.Recognize(context.Background())
	var recErr *domain.RecognitionError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, domain.RecognitionNoMatch, recErr.Code)

	_, err = c.Recognize(context.Background())
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, domain.RecognitionUnknown, recErr.Code)
}

func TestQueue_PushErrors(t *testing.T) {
	q := speech.NewQueue(1, discardLogger())

	assert.True(t, errors.Is(q.Push("radio", "hello", ""), speech.ErrUnknownChannel))
	assert.True(t, errors.Is(q.Push(speech.ChannelWake, "  ", ""), speech.ErrEmptyResult))

	require.NoError(t, q.Push(speech.ChannelWake, "one", ""))
	assert.True(t, errors.Is(q.Push(speech.ChannelWake, "two", ""), speech.ErrQueueFull))
}

func TestQueue_RecognizeHonoursContext(t *testing.T) {
	q := speech.NewQueue(1, discardLogger())
	c, _ := q.Channel(speech.ChannelCommand)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Recognize(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueue_CancelledReaderLeavesResults(t *testing.T) {
	q := speech.NewQueue(4, discardLogger())
	c, _ := q.Channel(speech.ChannelCommand)

	require.NoError(t, q.Push(speech.ChannelCommand, "one", ""))
	require.NoError(t, q.Push(speech.ChannelCommand, "two", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 20; i++ {
		_, err := c.Recognize(ctx)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 2, q.Pending()[speech.ChannelCommand])

	for _, want := range []string{"one", "two"} {
		text, err := c.Recognize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, text)
	}
	assert.Equal(t, 0, q.Pending()[speech.ChannelCommand])
}

func TestQueue_StoppedListenDoesNotSwallowTranscript(t *testing.T) {
	q := speech.NewQueue(2, discardLogger())
	c, _ := q.Channel(speech.ChannelCommand)
	listener := application.NewListener(c, 0, nil, discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := listener.Listen(context.Background())
		done <- err
	}()
	// Give the first session time to block in Recognize.
	time.Sleep(20 * time.Millisecond)
	listener.Stop()
	require.NoError(t, q.Push(speech.ChannelCommand, "turn it up", ""))

	select {
	case err := <-done:
		require.ErrorIs(t, err, application.ErrListenCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("stopped session did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	transcript, err := listener.Listen(ctx)
	require.NoError(t, err)
	assert.Equal(t, "turn it up", transcript.Text)
}
