package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	gateway "github.com/mattdarbro/studio-api/internal"
)

const (
	maxVoiceTextLen = 5000
	maxMusicSeconds = 300
)

type imageRequest struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	NumOutputs int    `json:"num_outputs,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
}

// imageResponse is the normalized prediction view. Hosted reports whether
// every output URL is a stable local link; false means at least one output
// fell back to the expiring upstream URL.
type imageResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output,omitempty"`
	Hosted bool     `json:"hosted"`
	Error  string   `json:"error,omitempty"`
}

func (s *server) handleImageGeneration(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}
	if req.Prompt == "" {
		writeError(w, gateway.Invalid("prompt is required"))
		return
	}
	if req.Width < 0 || req.Height < 0 {
		writeError(w, gateway.Invalid("width and height must be positive"))
		return
	}
	if req.NumOutputs < 0 {
		writeError(w, gateway.Invalid("num_outputs must be positive"))
		return
	}

	completion, _, err := s.execute(r, req.Model, &gateway.Request{
		Kind:       gateway.RequestImage,
		Prompt:     req.Prompt,
		Width:      req.Width,
		Height:     req.Height,
		NumOutputs: req.NumOutputs,
		Wait:       req.Wait,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.predictionResponse(r, completion.Prediction))
}

// handleImageStatus returns a prediction snapshot by ID. Outputs stay on
// upstream URLs here; persistence happens on the generation path.
func (s *server) handleImageStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predictions == nil {
		writeError(w, gateway.ErrNotFound)
		return
	}
	id := chi.URLParam(r, "id")

	principal := gateway.PrincipalFromContext(r.Context())
	key := principal.ProviderKey("replicate")
	if key == "" {
		key = s.deps.Keys.Key("replicate")
	}
	if key == "" {
		writeError(w, gateway.ErrNoAPIKey)
		return
	}

	pred, err := s.deps.Predictions.GetPrediction(r.Context(), id, key)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := imageResponse{ID: pred.ID, Status: pred.Status, Error: pred.Error}
	var outputs []string
	if json.Unmarshal(pred.Output, &outputs) == nil {
		resp.Output = outputs
	} else {
		var single string
		if json.Unmarshal(pred.Output, &single) == nil && single != "" {
			resp.Output = []string{single}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// predictionResponse persists succeeded outputs to the hosted registry and
// swaps in stable URLs, falling back to upstream URLs when that fails.
func (s *server) predictionResponse(r *http.Request, pred *gateway.Prediction) imageResponse {
	if pred == nil {
		return imageResponse{}
	}
	resp := imageResponse{ID: pred.ID, Status: pred.Status, Error: pred.Error}

	if pred.Status == "succeeded" && s.deps.Images != nil {
		principal := gateway.PrincipalFromContext(r.Context())
		outputs, hosted := s.deps.Images.PersistOutputs(r.Context(), principal.ID, pred)
		resp.Output = outputs
		resp.Hosted = hosted
		if hosted && s.deps.Metrics != nil {
			s.deps.Metrics.ImagesHosted.Add(float64(len(outputs)))
		}
		return resp
	}

	var outputs []string
	if json.Unmarshal(pred.Output, &outputs) == nil {
		resp.Output = outputs
	}
	return resp
}

// handleHostedImage serves a persisted image by ID.
func (s *server) handleHostedImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	img, body, err := s.deps.Images.Open(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	if img.ContentType != "" {
		w.Header().Set("Content-Type", img.ContentType)
	}
	if img.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(img.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

type musicRequest struct {
	Model           string `json:"model"`
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (s *server) handleMusic(w http.ResponseWriter, r *http.Request) {
	var req musicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}
	if req.Prompt == "" {
		writeError(w, gateway.Invalid("prompt is required"))
		return
	}
	// Zero means "not set" and falls back to the default downstream.
	if req.DurationSeconds < 0 || req.DurationSeconds > maxMusicSeconds {
		writeError(w, gateway.Invalid("duration_seconds must be between 1 and %d", maxMusicSeconds))
		return
	}

	completion, _, err := s.execute(r, req.Model, &gateway.Request{
		Kind:            gateway.RequestMusic,
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion.Audio)
}

type voiceRequest struct {
	Model  string `json:"model"`
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Stream bool   `json:"stream,omitempty"`
}

func (s *server) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}
	if req.Text == "" {
		writeError(w, gateway.Invalid("text is required"))
		return
	}
	if len(req.Text) > maxVoiceTextLen {
		writeError(w, gateway.Invalid("text exceeds %d characters", maxVoiceTextLen))
		return
	}
	if r.URL.Query().Get("stream") == "true" {
		req.Stream = true
	}

	completion, _, finish, err := s.executeDeferred(r, req.Model, &gateway.Request{
		Kind:   gateway.RequestVoice,
		Text:   req.Text,
		Voice:  req.Voice,
		Stream: req.Stream,
	})
	if err != nil {
		finish()
		writeError(w, err)
		return
	}

	if completion.AudioStream != nil {
		// Usage is logged when the stream finishes so the duration covers
		// the whole transfer.
		defer finish()
		defer completion.AudioStream.Close()
		w.Header().Set("Content-Type", completion.Audio.ContentType)
		w.WriteHeader(http.StatusOK)
		flushCopy(w, completion.AudioStream)
		return
	}
	finish()
	writeJSON(w, http.StatusOK, completion.Audio)
}

// flushCopy streams audio chunks to the client as they arrive.
func flushCopy(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
