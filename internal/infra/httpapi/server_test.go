package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceai/internal/application"
	"voiceai/internal/domain"
	"voiceai/internal/infra/httpapi"
	"voiceai/internal/infra/speech"
)

type fakeAssistant struct {
	reply string
	err   error

	mu  sync.Mutex
	got string
}

func (f *fakeAssistant) GetResponse(_ context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = transcript
	return f.reply, f.err
}

func (f *fakeAssistant) transcript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got
}

type fakeUsage struct {
	records []domain.UsageRecord
	err     error

	mu    sync.Mutex
	limit int
}

func (f *fakeUsage) Recent(_ context.Context, limit int) ([]domain.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return f.records, f.err
}

func (f *fakeUsage) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeUsage) Totals(_ context.Context) (domain.UsageTotals, error) {
	var t domain.UsageTotals
	for _, r := range f.records {
		t.Requests++
		t.PromptTokens += r.PromptTokens
		t.CompletionTokens += r.CompletionTokens
		t.TotalTokens += r.TotalTokens
	}
	return t, f.err
}

type fakeKeys struct {
	mu  sync.Mutex
	key string
}

func (f *fakeKeys) APIKey(_ context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, f.key != "", nil
}

func (f *fakeKeys) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

func (f *fakeKeys) SetAPIKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key = key
	return nil
}

type fakeWake struct {
	mu      sync.Mutex
	enabled bool
}

func (f *fakeWake) WakeWordEnabled(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeWake) SetWakeWordEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}

func (f *fakeWake) Enable(ctx context.Context) error  { return f.SetWakeWordEnabled(ctx, true) }
func (f *fakeWake) Disable(ctx context.Context) error { return f.SetWakeWordEnabled(ctx, false) }
func (f *fakeWake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

type testEnv struct {
	srv       *httptest.Server
	assistant *fakeAssistant
	usage     *fakeUsage
	keys      *fakeKeys
	wake      *fakeWake
	queue     *speech.Queue
	hub       *httpapi.Hub
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, opts httpapi.Options) *testEnv {
	t.Helper()
	logger := discardLogger()
	env := &testEnv{
		assistant: &fakeAssistant{},
		usage:     &fakeUsage{},
		keys:      &fakeKeys{},
		wake:      &fakeWake{},
		queue:     speech.NewQueue(1, logger),
		hub:       httpapi.NewHub(logger),
	}

	s := httpapi.New(httpapi.Deps{
		Assistant: env.assistant,
		Usage:     env.usage,
		Keys:      env.keys,
		Settings:  env.wake,
		Wake:      env.wake,
		Speech:    env.queue,
		Events:    env.hub,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	}, opts, logger)

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func TestAsk_Success(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	env.assistant.reply = "It is 3 o'clock."

	resp, body := env.do(t, http.MethodPost, "/v1/ask", `{"text":"what time is it"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "It is 3 o'clock.", body["reply"])
	assert.Equal(t, "what time is it", env.assistant.transcript())
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		upstream float64
	}{
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest, 0},
		{"missing credential", domain.ErrMissingCredential, http.StatusPreconditionFailed, 0},
		{"api error", &domain.APIError{StatusCode: 401, Message: "bad key"}, http.StatusBadGateway, 401},
		{"parse", domain.ErrParse, http.StatusBadGateway, 0},
		{"no response", domain.ErrNoResponse, http.StatusBadGateway, 0},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, 0},
		{"other", errors.New("boom"), http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, httpapi.Options{})
			env.assistant.err = tt.err

			resp, body := env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, domain.UserMessage(tt.err), body["error"])
			if tt.upstream != 0 {
				assert.Equal(t, tt.upstream, body["upstream_status"])
			} else {
				assert.NotContains(t, body, "upstream_status")
			}
		})
	}
}

func TestAsk_MalformedBody(t *testing.T) {
	env := newEnv(t, httpapi.Options{})

	resp, _ := env.do(t, http.MethodPost, "/v1/ask", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.assistant.transcript())
}

func TestUsage_ListAndSummary(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	env.usage.records = []domain.UsageRecord{
		{ID: 2, PromptTokens: 4, CompletionTokens: 5, TotalTokens: 9, Timestamp: 200},
		{ID: 1, PromptTokens: 9, CompletionTokens: 12, TotalTokens: 21, Timestamp: 100},
	}

	resp, body := env.do(t, http.MethodGet, "/v1/usage?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, env.usage.lastLimit())
	records := body["records"].([]any)
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[0].(map[string]any)["id"])

	resp, body = env.do(t, http.MethodGet, "/v1/usage/summary", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["requests"])
	assert.Equal(t, float64(30), body["total_tokens"])

	resp, _ = env.do(t, http.MethodGet, "/v1/usage?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsage_StorageFailure(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	env.usage.err = domain.ErrStorage

	resp, _ := env.do(t, http.MethodGet, "/v1/usage", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSettings_APIKey(t *testing.T) {
	env := newEnv(t, httpapi.Options{})

	resp, body := env.do(t, http.MethodGet, "/v1/settings/api-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["configured"])

	resp, _ = env.do(t, http.MethodPut, "/v1/settings/api-key", `{"api_key":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/v1/settings/api-key", `{"api_key":" sk-abc "}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "sk-abc", env.keys.current())

	resp, body = env.do(t, http.MethodGet, "/v1/settings/api-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["configured"])
	assert.NotContains(t, body, "api_key")

	resp, _ = env.do(t, http.MethodDelete, "/v1/settings/api-key", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, env.keys.current())
}

func TestSettings_WakeWord(t *testing.T) {
	env := newEnv(t, httpapi.Options{})

	resp, body := env.do(t, http.MethodPut, "/v1/settings/wake-word", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, true, body["running"])

	resp, body = env.do(t, http.MethodPut, "/v1/settings/wake-word", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])

	resp, _ = env.do(t, http.MethodPut, "/v1/settings/wake-word", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpeech_Push(t *testing.T) {
	env := newEnv(t, httpapi.Options{})

	resp, _ := env.do(t, http.MethodPost, "/v1/speech/command", `{"transcript":"turn it up"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	c, _ := env.queue.Channel(speech.ChannelCommand)
	text, err := c.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "turn it up", text)

	resp, _ = env.do(t, http.MethodPost, "/v1/speech/radio", `{"transcript":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/speech/wake", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/speech/wake", `{"error":"no_match"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/v1/speech/wake", `{"transcript":"hey pixel"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuthToken(t *testing.T) {
	env := newEnv(t, httpapi.Options{AuthToken: "s3cret"})

	resp, _ := env.do(t, http.MethodGet, "/v1/usage", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/usage", "", "X-Auth-Token", "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/usage?token=s3cret", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, httpapi.Options{RateLimit: 0.001, RateBurst: 2})
	env.assistant.reply = "ok"

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/v1/usage", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit_ForwardedHeaderFromUntrustedPeer(t *testing.T) {
	env := newEnv(t, httpapi.Options{RateLimit: 0.001, RateBurst: 1})
	env.assistant.reply = "ok"

	resp, _ := env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`, "X-Forwarded-For", "198.51.100.1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`, "X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	trusted, err := httpapi.ParseTrustedProxies([]string{"127.0.0.1", "::1"})
	require.NoError(t, err)
	env := newEnv(t, httpapi.Options{RateLimit: 0.001, RateBurst: 1, TrustedProxies: trusted})
	env.assistant.reply = "ok"

	resp, _ := env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`, "X-Forwarded-For", "198.51.100.1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`, "X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/v1/ask", `{"text":"hi"}`, "X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t, httpapi.Options{})

	resp, body := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["wake_word_running"])

	mresp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, _ := io.ReadAll(mresp.Body)
	assert.Equal(t, "# metrics\n", string(raw))
}

func TestEvents_Websocket(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(env.srv.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.hub.Publish(application.Event{Type: application.EventReply, Text: "hello"})

	var got application.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, application.EventReply, got.Type)
	assert.Equal(t, "hello", got.Text)
	assert.False(t, got.Timestamp.IsZero())
}

func TestEvents_CrossOriginRejected(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events"
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, env.hub.ClientCount())
}

func TestEvents_AllowedOrigin(t *testing.T) {
	env := newEnv(t, httpapi.Options{AllowedOrigins: []string{"ui.example.com"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://ui.example.com"}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_FollowUsage(t *testing.T) {
	env := newEnv(t, httpapi.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(env.srv.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	updates := make(chan []domain.UsageRecord, 2)
	updates <- []domain.UsageRecord{{ID: 1, TotalTokens: 3, Timestamp: 100}}
	updates <- []domain.UsageRecord{{ID: 2, TotalTokens: 7, Timestamp: 200}, {ID: 1, TotalTokens: 3, Timestamp: 100}}
	close(updates)
	env.hub.FollowUsage(updates)

	var got application.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, application.EventUsage, got.Type)
	require.NotNil(t, got.Usage)
	assert.Equal(t, int64(2), got.Usage.ID)
}
