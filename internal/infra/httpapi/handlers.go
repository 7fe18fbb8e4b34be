package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceai/internal/domain"
	"voiceai/internal/infra/speech"
)

const maxBodyBytes = 64 << 10

type askRequest struct {
	Text string `json:"text"`
}

type askResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Detail         string `json:"detail,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := s.deps.Assistant.GetResponse(r.Context(), req.Text)
	if err != nil {
		status, body := askError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("ask failed", "status", status, "error", err)
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{Reply: reply})
}

func askError(err error) (int, errorResponse) {
	body := errorResponse{Error: domain.UserMessage(err), Detail: err.Error()}

	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusPreconditionFailed, body
	case errors.As(err, &apiErr):
		body.UpstreamStatus = apiErr.StatusCode
		return http.StatusBadGateway, body
	case errors.Is(err, domain.ErrParse), errors.Is(err, domain.ErrNoResponse):
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	default:
		return http.StatusInternalServerError, body
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.deps.Usage.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing usage", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read usage history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	totals, err := s.deps.Usage.Totals(r.Context())
	if err != nil {
		s.logger.Error("summing usage", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read usage history")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	_, ok, err := s.deps.Keys.APIKey(r.Context())
	if err != nil {
		s.logger.Error("reading api key", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"configured": ok})
}

func (s *Server) handlePutAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, "api_key must not be empty")
		return
	}

	if err := s.deps.Keys.SetAPIKey(r.Context(), key); err != nil {
		s.logger.Error("saving api key", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save settings")
		return
	}

	s.logger.Info("api key updated")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Keys.SetAPIKey(r.Context(), ""); err != nil {
		s.logger.Error("removing api key", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type wakeWordState struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
}

func (s *Server) handleGetWakeWord(w http.ResponseWriter, r *http.Request) {
	state, err := s.wakeWordState(r.Context())
	if err != nil {
		s.logger.Error("reading wake word setting", "error", err)
		writeError(w, http.StatusInternalServerError, "could not read settings")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePutWakeWord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	toggle := s.deps.Wake.Disable
	if *req.Enabled {
		toggle = s.deps.Wake.Enable
	}
	if err := toggle(r.Context()); err != nil {
		s.logger.Error("toggling wake word", "enabled", *req.Enabled, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save settings")
		return
	}

	s.handleGetWakeWord(w, r)
}

func (s *Server) wakeWordState(ctx context.Context) (wakeWordState, error) {
	enabled, err := s.deps.Settings.WakeWordEnabled(ctx)
	if err != nil {
		return wakeWordState{}, err
	}
	state := wakeWordState{Enabled: enabled}
	if s.deps.Wake != nil {
		state.Running = s.deps.Wake.Running()
	}
	return state, nil
}

type speechRequest struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")

	var req speechRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.deps.Speech.Push(channel, req.Transcript, req.Error)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "channel": channel})
	case errors.Is(err, speech.ErrUnknownChannel):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, speech.ErrEmptyResult):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speech.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue full, try again")
	default:
		s.logger.Error("queueing speech result", "channel", channel, "error", err)
		writeError(w, http.StatusInternalServerError, "could not queue speech result")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	body := map[string]any{
		"status":        "ok",
		"event_clients": s.deps.Events.ClientCount(),
	}
	if running {
		body["uptime_seconds"] = int(time.Since(startedAt).Seconds())
	}
	if s.deps.Wake != nil {
		body["wake_word_running"] = s.deps.Wake.Running()
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
