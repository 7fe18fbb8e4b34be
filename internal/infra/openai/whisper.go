package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voiceai/internal/application"
	"voiceai/internal/domain"
	"voiceai/internal/infra"
)

// WhisperClient transcribes recorded audio. The API key is read from the
// credential store before every request.
type WhisperClient struct {
	credentials application.CredentialStore
	httpClient  *http.Client
	baseURL     string
	language    string
	retry       infra.RetryConfig
}

func NewWhisperClient(credentials application.CredentialStore, language string) *WhisperClient {
	return NewWhisperClientWithURL(credentials, language, DefaultBaseURL)
}

func NewWhisperClientWithURL(credentials application.CredentialStore, language, baseURL string) *WhisperClient {
	return &WhisperClient{
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		language:    language,
		retry:       infra.DefaultRetryConfig(),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	apiKey, ok, err := c.credentials.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	if !ok || apiKey == "" {
		return "", domain.ErrMissingCredential
	}

	var result transcriptionResponse

	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		part, err := writer.CreateFormFile("file", "audio.wav")
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating form file: %w", err))
		}

		if _, err = part.Write(audio); err != nil {
			return infra.Permanent(fmt.Errorf("writing audio: %w", err))
		}

		if err = writer.WriteField("model", "whisper-1"); err != nil {
			return infra.Permanent(fmt.Errorf("writing model field: %w", err))
		}

		if c.language != "" {
			if err = writer.WriteField("language", c.language); err != nil {
				return infra.Permanent(fmt.Errorf("writing language field: %w", err))
			}
		}

		if err = writer.Close(); err != nil {
			return infra.Permanent(fmt.Errorf("closing writer: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			apiErr := &domain.APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
			if infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return apiErr
			}
			return infra.Permanent(apiErr)
		}

		if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return infra.Permanent(fmt.Errorf("decoding response: %w", err))
		}

		return nil
	})

	if retryErr != nil {
		return "", retryErr
	}

	return strings.TrimSpace(result.Text), nil
}
