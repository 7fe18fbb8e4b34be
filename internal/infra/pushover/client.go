package pushover

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voiceai/internal/infra"
)

const (
	DefaultURL   = "https://api.pushover.net/1/messages.json"
	DefaultTitle = "VoiceAI"

	// Pushover rejects messages longer than this many characters.
	maxMessageRunes = 1024
)

type Client struct {
	token      string
	userKey    string
	title      string
	url        string
	httpClient *http.Client
	retry      infra.RetryConfig
}

func NewClient(token, userKey, title string) *Client {
	return NewClientWithURL(token, userKey, title, DefaultURL)
}

func NewClientWithURL(token, userKey, title, endpoint string) *Client {
	if title == "" {
		title = DefaultTitle
	}
	return &Client{
		token:      token,
		userKey:    userKey,
		title:      title,
		url:        endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      infra.DefaultRetryConfig(),
	}
}

// Enabled reports whether credentials are configured. Notify is a no-op
// otherwise.
func (c *Client) Enabled() bool {
	return c.token != "" && c.userKey != ""
}

type apiResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors"`
}

func (c *Client) Notify(ctx context.Context, message string) error {
	if !c.Enabled() {
		return nil
	}

	data := url.Values{}
	data.Set("token", c.token)
	data.Set("user", c.userKey)
	data.Set("message", truncate(message, maxMessageRunes))
	data.Set("title", c.title)
	encoded := data.Encode()

	return infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(encoded))
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending notification: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		err = fmt.Errorf("pushover error: %s%s", resp.Status, describe(body))
		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return err
		}
		return infra.Permanent(err)
	})
}

func describe(body []byte) string {
	var r apiResponse
	if json.Unmarshal(body, &r) != nil || len(r.Errors) == 0 {
		return ""
	}
	return ": " + strings.Join(r.Errors, "; ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
