package server

import (
	"encoding/json"
	"io"
	"net/http"

	gateway "github.com/mattdarbro/studio-api/internal"
)

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []gateway.Message `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, gateway.Invalid("messages is required"))
		return
	}

	completion, _, err := s.execute(r, req.Model, &gateway.Request{
		Kind:        gateway.RequestChat,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

type realtimeRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

// handleRealtimeSession mints an ephemeral realtime session and returns the
// upstream descriptor verbatim; it carries the client token and never the
// server's provider key.
func (s *server) handleRealtimeSession(w http.ResponseWriter, r *http.Request) {
	// An empty body (the GET form) means all defaults.
	var req realtimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}

	completion, _, err := s.execute(r, req.Model, &gateway.Request{
		Kind:  gateway.RequestRealtime,
		Voice: req.Voice,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(completion.Realtime)
}
