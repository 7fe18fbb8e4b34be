package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input: transcript is empty")
	ErrMissingCredential = errors.New("missing credential: no API key configured")
	ErrParse             = errors.New("malformed chat completion response")
	ErrNoResponse        = errors.New("no response from assistant")
	ErrStorage           = errors.New("storage failure")
)

// APIError is returned when the chat completion endpoint answers with a
// non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat API error %d", e.StatusCode)
	}
	return fmt.Sprintf("chat API error %d: %s", e.StatusCode, e.Message)
}

type RecognitionCode string

const (
	RecognitionAudio          RecognitionCode = "audio"
	RecognitionNetwork        RecognitionCode = "network"
	RecognitionNetworkTimeout RecognitionCode = "network_timeout"
	RecognitionPermission     RecognitionCode = "permission"
	RecognitionTimeout        RecognitionCode = "timeout"
	RecognitionBusy           RecognitionCode = "busy"
	RecognitionNoMatch        RecognitionCode = "no_match"
	RecognitionClient         RecognitionCode = "client"
	RecognitionServer         RecognitionCode = "server"
	RecognitionUnknown        RecognitionCode = "unknown"
)

var recognitionMessages = map[RecognitionCode]string{
	RecognitionAudio:          "audio recording error",
	RecognitionNetwork:        "network error during recognition",
	RecognitionNetworkTimeout: "network timeout during recognition",
	RecognitionPermission:     "insufficient permissions to record audio",
	RecognitionTimeout:        "no speech input",
	RecognitionBusy:           "recognition service busy",
	RecognitionNoMatch:        "no speech match found",
	RecognitionClient:         "client side error",
	RecognitionServer:         "error from recognition server",
	RecognitionUnknown:        "unknown recognition error",
}

// ParseRecognitionCode maps a wire code to a RecognitionCode, falling back
// to RecognitionUnknown.
func ParseRecognitionCode(s string) RecognitionCode {
	code := RecognitionCode(s)
	if _, ok := recognitionMessages[code]; ok {
		return code
	}
	return RecognitionUnknown
}

// RecognitionError is the terminal error of a failed listen attempt.
type RecognitionError struct {
	Code RecognitionCode
	Err  error
}

func NewRecognitionError(code RecognitionCode, err error) *RecognitionError {
	return &RecognitionError{Code: code, Err: err}
}

func (e *RecognitionError) Error() string {
	msg, ok := recognitionMessages[e.Code]
	if !ok {
		msg = recognitionMessages[RecognitionUnknown]
	}
	if e.Err != nil {
		return fmt.Sprintf("recognition failed: %s: %v", msg, e.Err)
	}
	return "recognition failed: " + msg
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// Description is the user-facing text for the error category.
func (e *RecognitionError) Description() string {
	if msg, ok := recognitionMessages[e.Code]; ok {
		return msg
	}
	return recognitionMessages[RecognitionUnknown]
}

// UserMessage renders err as the short message shown to the user.
func UserMessage(err error) string {
	var apiErr *APIError
	var recErr *RecognitionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "Please say something first."
	case errors.Is(err, ErrMissingCredential):
		return "Set your API key in settings."
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 401 {
			return "The API key was rejected (401)."
		}
		return fmt.Sprintf("The assistant service returned an error (%d).", apiErr.StatusCode)
	case errors.Is(err, ErrNoResponse):
		return "The assistant did not respond."
	case errors.Is(err, ErrParse):
		return "The assistant sent an unreadable response."
	case errors.As(err, &recErr):
		return "Error: " + recErr.Description()
	default:
		return "Something went wrong: " + err.Error()
	}
}
