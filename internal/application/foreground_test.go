package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"voiceai/internal/application"
	"voiceai/internal/domain"
)

func TestForeground_ActivateAnswersAndNotifies(t *testing.T) {
	recognizer := newScriptedRecognizer(recognition{text: "what's the time"})
	listener := application.NewListener(recognizer, time.Second, nil, discardLogger())
	responder := &fakeResponder{reply: "It is noon."}
	notifier := &recordingNotifier{}
	events := &recordingPublisher{}

	fg := application.NewForeground(listener, responder, notifier, events, discardLogger())
	fg.Activate(context.Background(), "hey pixel")
	fg.Wait()

	assert.Equal(t, []string{"what's the time"}, responder.asked)
	assert.Equal(t, []string{"It is noon."}, notifier.messages)
	assert.Equal(t, []application.EventType{
		application.EventWake,
		application.EventTranscript,
		application.EventReply,
	}, events.types())
}

func TestForeground_ErrorsBecomeUserMessages(t *testing.T) {
	recognizer := newScriptedRecognizer(recognition{text: "hello"})
	listener := application.NewListener(recognizer, time.Second, nil, discardLogger())
	responder := &fakeResponder{err: domain.ErrMissingCredential}
	notifier := &recordingNotifier{}
	events := &recordingPublisher{}

	fg := application.NewForeground(listener, responder, notifier, events, discardLogger())
	fg.Activate(context.Background(), "hey pixel")
	fg.Wait()

	assert.Equal(t, []string{"Set your API key in settings."}, notifier.messages)
	assert.Contains(t, events.types(), application.EventError)
}

func TestForeground_IgnoresActivationDuringTurn(t *testing.T) {
	recognizer := newScriptedRecognizer()
	listener := application.NewListener(recognizer, 0, nil, discardLogger())
	events := &recordingPublisher{}
	fg := application.NewForeground(listener, &fakeResponder{}, nil, events, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	fg.Activate(ctx, "hey pixel")
	<-recognizer.drained
	fg.Activate(ctx, "hey pixel again")

	cancel()
	fg.Wait()

	assert.Equal(t, []application.EventType{application.EventWake}, events.types())
}
