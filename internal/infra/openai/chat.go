package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voiceai/internal/domain"
	"voiceai/internal/infra"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7

	maxResponseBytes = 4 << 20
)

type ChatClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
	retry       infra.RetryConfig
}

type ChatOption func(*ChatClient)

func WithModel(model string) ChatOption {
	return func(c *ChatClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithTemperature(temperature float64) ChatOption {
	return func(c *ChatClient) {
		c.temperature = temperature
	}
}

func WithTimeout(timeout time.Duration) ChatOption {
	return func(c *ChatClient) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithRetry enables retries of 429 and 5xx answers. The default is a single
// attempt.
func WithRetry(cfg infra.RetryConfig) ChatOption {
	return func(c *ChatClient) {
		c.retry = cfg
	}
}

func NewChatClient(opts ...ChatOption) *ChatClient {
	return NewChatClientWithURL(DefaultBaseURL, opts...)
}

func NewChatClientWithURL(baseURL string, opts ...ChatOption) *ChatClient {
	c := &ChatClient{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       DefaultModel,
		temperature: DefaultTemperature,
		retry:       infra.NoRetry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// Pointer fields tell a missing field apart from a zero value.
type chatResponse struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices *[]chatChoice `json:"choices"`
	Usage   *chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message *struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *ChatClient) Complete(ctx context.Context, apiKey, userText string) (*domain.ChatExchange, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, domain.ErrInvalidInput
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: domain.SystemPrompt},
			{Role: "user", Content: userText},
		},
		Temperature: c.temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var respBody []byte
	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &domain.APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
			if infra.IsRetryableHTTPStatus(resp.StatusCode) {
				return apiErr
			}
			return infra.Permanent(apiErr)
		}

		respBody = data
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	exchange, err := parseChatResponse(respBody)
	if err != nil {
		return nil, err
	}

	exchange.UserText = userText
	if exchange.Model == "" {
		exchange.Model = c.model
	}
	return exchange, nil
}

func parseChatResponse(data []byte) (*domain.ChatExchange, error) {
	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	if resp.Choices == nil {
		return nil, fmt.Errorf("%w: missing choices", domain.ErrParse)
	}
	if len(*resp.Choices) == 0 {
		return nil, domain.ErrNoResponse
	}

	first := (*resp.Choices)[0]
	if first.Message == nil || first.Message.Content == nil {
		return nil, fmt.Errorf("%w: missing choices[0].message.content", domain.ErrParse)
	}

	usage, err := resp.Usage.counts()
	if err != nil {
		return nil, err
	}

	return &domain.ChatExchange{
		SystemPrompt: domain.SystemPrompt,
		ReplyText:    *first.Message.Content,
		Usage:        usage,
		Model:        resp.Model,
		FinishReason: first.FinishReason,
		ResponseID:   resp.ID,
	}, nil
}

func (u *chatUsage) counts() (domain.UsageCounts, error) {
	if u == nil {
		return domain.UsageCounts{}, fmt.Errorf("%w: missing usage", domain.ErrParse)
	}
	if u.PromptTokens == nil || u.CompletionTokens == nil || u.TotalTokens == nil {
		return domain.UsageCounts{}, fmt.Errorf("%w: incomplete usage counters", domain.ErrParse)
	}

	counts := domain.UsageCounts{
		PromptTokens:     *u.PromptTokens,
		CompletionTokens: *u.CompletionTokens,
		TotalTokens:      *u.TotalTokens,
	}
	if !counts.Consistent() {
		return domain.UsageCounts{}, fmt.Errorf("%w: inconsistent usage counters %+v", domain.ErrParse, counts)
	}
	return counts, nil
}

func errorMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
