package replicate

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
)

const testVersion = "5c7d5dc6dd8bf75c1acaa8565735e7986bc5b66206b55cca93cb72c9bf15ccaa"

// predictionServer fakes the models and predictions endpoints. modelLookups
// counts version resolutions so caching is observable.
type predictionServer struct {
	srv          *httptest.Server
	modelLookups atomic.Int64
	pollsToDone  int
	polls        atomic.Int64
}

func newPredictionServer(t *testing.T) *predictionServer {
	t.Helper()
	ps := &predictionServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models/", func(w http.ResponseWriter, r *http.Request) {
		ps.modelLookups.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"latest_version": map[string]string{"id": testVersion},
		})
	})
	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		raw := make(map[string]any)
		json.NewDecoder(r.Body).Decode(&raw)
		status := "processing"
		if ps.pollsToDone == 0 {
			status = "succeeded"
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "pred-1",
			"status":  status,
			"version": raw["version"],
			"output":  []string{"https://replicate.delivery/out.png"},
		})
	})
	mux.HandleFunc("GET /predictions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		n := ps.polls.Add(1)
		status := "processing"
		if int(n) >= ps.pollsToDone {
			status = "succeeded"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     r.PathValue("id"),
			"status": status,
			"output": []string{"https://replicate.delivery/out.png"},
		})
	})
	ps.srv = httptest.NewServer(mux)
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *predictionServer) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(ps.srv.URL, ps.srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func imageRequest(wait bool) *gateway.Request {
	return &gateway.Request{
		Kind:   gateway.RequestImage,
		Model:  "black-forest-labs/flux-schnell",
		Prompt: "a lighthouse at dusk",
		Wait:   wait,
	}
}

func TestComplete_ResolvesAndCreates(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	c := ps.client(t)

	comp, err := c.Complete(t.Context(), imageRequest(false), "r8-key")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Prediction == nil || comp.Prediction.ID != "pred-1" {
		t.Fatalf("prediction = %+v", comp.Prediction)
	}
	if comp.Prediction.Status != "succeeded" {
		t.Errorf("status = %q", comp.Prediction.Status)
	}
	if ps.modelLookups.Load() != 1 {
		t.Errorf("model lookups = %d, want 1", ps.modelLookups.Load())
	}
}

func TestComplete_VersionCached(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	c := ps.client(t)

	for range 3 {
		if _, err := c.Complete(t.Context(), imageRequest(false), "r8-key"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if ps.modelLookups.Load() != 1 {
		t.Errorf("model lookups = %d, want 1 (cached)", ps.modelLookups.Load())
	}
}

func TestComplete_VersionHashPassthrough(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	c := ps.client(t)

	req := imageRequest(false)
	req.Model = testVersion
	if _, err := c.Complete(t.Context(), req, "r8-key"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if ps.modelLookups.Load() != 0 {
		t.Errorf("model lookups = %d, want 0 for a raw version hash", ps.modelLookups.Load())
	}
}

func TestComplete_PollsUntilTerminal(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	ps.pollsToDone = 2
	c := ps.client(t)

	comp, err := c.Complete(t.Context(), imageRequest(true), "r8-key")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Prediction.Status != "succeeded" {
		t.Errorf("status = %q", comp.Prediction.Status)
	}
	if ps.polls.Load() < 2 {
		t.Errorf("polls = %d, want at least 2", ps.polls.Load())
	}
}

func TestComplete_WrongKind(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	c := ps.client(t)

	if _, err := c.Complete(t.Context(), &gateway.Request{Kind: gateway.RequestChat}, "k"); err == nil {
		t.Error("chat request should be rejected")
	}
}

func TestComplete_UnknownModel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Complete(t.Context(), imageRequest(false), "r8-key")
	var v *gateway.ValidationError
	if !errors.As(err, &v) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestGetPrediction(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	c := ps.client(t)

	pred, err := c.GetPrediction(t.Context(), "pred-9", "r8-key")
	if err != nil {
		t.Fatalf("GetPrediction: %v", err)
	}
	if pred.ID != "pred-9" {
		t.Errorf("id = %q", pred.ID)
	}
	if len(pred.Output) == 0 {
		t.Error("output should be populated")
	}
}

func TestGetPrediction_NotFound(t *testing.T) {
	t.Parallel()
	ps := newPredictionServer(t)
	c := ps.client(t)

	if _, err := c.GetPrediction(t.Context(), "missing", "r8-key"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreatePrediction_SendsPreferWait(t *testing.T) {
	t.Parallel()
	var prefer string
	var gotAuth string
	var gotInput []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predictions" {
			prefer = r.Header.Get("Prefer")
			gotAuth = r.Header.Get("Authorization")
			buf := make([]byte, r.ContentLength)
			r.Body.Read(buf)
			gotInput = buf
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "pred-1", "status": "succeeded"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"latest_version": map[string]string{"id": testVersion}})
	}))
	defer srv.Close()
	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := imageRequest(false)
	req.Width, req.Height, req.NumOutputs = 1024, 768, 2
	if _, err := c.Complete(t.Context(), req, "r8-key"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if prefer != "wait" {
		t.Errorf("Prefer = %q", prefer)
	}
	if gotAuth != "Bearer r8-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	input := gjson.GetBytes(gotInput, "input")
	if input.Get("prompt").String() != "a lighthouse at dusk" {
		t.Errorf("prompt = %q", input.Get("prompt").String())
	}
	if input.Get("width").Int() != 1024 || input.Get("height").Int() != 768 || input.Get("num_outputs").Int() != 2 {
		t.Errorf("input = %s", input.Raw)
	}
}
