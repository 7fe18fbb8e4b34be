package speech

import (
	"context"
	"errors"
	"net"
	"os"

	"voiceai/internal/domain"
)

// classify maps a transcription failure onto a recognition error category.
// Context cancellation passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var recErr *domain.RecognitionError
	if errors.As(err, &recErr) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *domain.APIError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewRecognitionError(domain.RecognitionNetworkTimeout, err)
	case errors.Is(err, domain.ErrMissingCredential):
		return domain.NewRecognitionError(domain.RecognitionClient, err)
	case errors.Is(err, os.ErrPermission):
		return domain.NewRecognitionError(domain.RecognitionPermission, err)
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == 429:
			return domain.NewRecognitionError(domain.RecognitionBusy, err)
		case apiErr.StatusCode >= 500:
			return domain.NewRecognitionError(domain.RecognitionServer, err)
		default:
			return domain.NewRecognitionError(domain.RecognitionClient, err)
		}
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return domain.NewRecognitionError(domain.RecognitionNetworkTimeout, err)
		}
		return domain.NewRecognitionError(domain.RecognitionNetwork, err)
	default:
		return domain.NewRecognitionError(domain.RecognitionUnknown, err)
	}
}
