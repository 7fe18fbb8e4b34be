package application

import "context"

// Recognizer runs one recognition attempt per call. Each call ends with exactly
// one result: a transcript or an error. Cancelling ctx aborts the attempt.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
	Name() string
}
