// Package elevenlabs implements the gateway.Adapter for ElevenLabs music
// generation and text-to-speech (buffered and streaming).
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/provider"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	providerName   = "elevenlabs"

	defaultVoiceID  = "21m00Tcm4TlvDq8ikWAM"
	defaultDuration = 10 // seconds, when the caller does not specify one
)

var _ gateway.Adapter = (*Client)(nil)

// Client is an ElevenLabs adapter.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an ElevenLabs Client. If baseURL is empty it defaults to the
// public API.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Complete dispatches the normalized request to music generation or
// text-to-speech.
func (c *Client) Complete(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	switch req.Kind {
	case gateway.RequestMusic:
		return c.music(ctx, req, key)
	case gateway.RequestVoice:
		return c.speech(ctx, req, key)
	default:
		return nil, fmt.Errorf("elevenlabs: unsupported request kind %q", req.Kind)
	}
}

// music generates a track from a text prompt and returns it base64-encoded
// alongside a generation ID.
func (c *Client) music(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.AudioTimeout)
	defer cancel()

	duration := req.DurationSeconds
	if duration <= 0 {
		duration = defaultDuration
	}
	body, err := json.Marshal(map[string]any{
		"prompt":          req.Prompt,
		"music_length_ms": duration * 1000,
		"model_id":        req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/music", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	c.setHeaders(httpReq, key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}

	audio := &gateway.Audio{
		GenerationID: resp.Header.Get("Generation-Id"),
		Status:       "completed",
		ContentType:  resp.Header.Get("Content-Type"),
	}
	if audio.GenerationID == "" {
		audio.GenerationID = resp.Header.Get("Request-Id")
	}
	// JSON responses carry a hosted URL; binary responses are inlined.
	if strings.HasPrefix(audio.ContentType, "application/json") {
		var out struct {
			AudioURL     string `json:"audio_url"`
			AudioBase64  string `json:"audio_base64"`
			GenerationID string `json:"generation_id"`
			Status       string `json:"status"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("elevenlabs: decode response: %w", err)
		}
		audio.URL = out.AudioURL
		audio.Base64 = out.AudioBase64
		if out.GenerationID != "" {
			audio.GenerationID = out.GenerationID
		}
		if out.Status != "" {
			audio.Status = out.Status
		}
	} else {
		audio.Base64 = base64.StdEncoding.EncodeToString(data)
	}
	return &gateway.Completion{Model: req.Model, Audio: audio}, nil
}

// speech synthesizes the request text. Streaming requests hand the response
// body through unread; the caller owns closing it.
func (c *Client) speech(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	voice := req.Voice
	if voice == "" {
		voice = defaultVoiceID
	}
	path := "/text-to-speech/" + voice
	if req.Stream {
		path += "/stream"
	}

	body, err := json.Marshal(map[string]any{
		"text":     req.Text,
		"model_id": req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	// Streaming responses outlive this call, so the timeout only applies to
	// the buffered path.
	var cancel context.CancelFunc = func() {}
	if !req.Stream {
		ctx, cancel = context.WithTimeout(ctx, provider.AudioTimeout)
	}
	defer func() {
		if !req.Stream {
			cancel()
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	c.setHeaders(httpReq, key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	if req.Stream {
		return &gateway.Completion{
			Model:       req.Model,
			Audio:       &gateway.Audio{Status: "streaming", ContentType: contentType},
			AudioStream: resp.Body,
		}, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return &gateway.Completion{
		Model: req.Model,
		Audio: &gateway.Audio{
			Status:      "completed",
			Base64:      base64.StdEncoding.EncodeToString(data),
			ContentType: contentType,
		},
	}, nil
}

func (c *Client) setHeaders(r *http.Request, key string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("xi-api-key", key)
}
