// Package images persists upstream-generated images to local disk and
// serves them through stable URLs, so clients do not depend on expiring
// provider links.
package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/storage"
)

const (
	downloadTimeout = 60 * time.Second
	maxImageBytes   = 32 << 20
)

// Service downloads, stores, and serves hosted images.
type Service struct {
	store      storage.ImageStore
	root       string
	baseURL    string
	maxPerUser int
	maxAge     time.Duration
	http       *http.Client
}

// NewService returns a Service rooted at dir. baseURL is the public prefix
// stable links are built from.
func NewService(store storage.ImageStore, root, baseURL string, maxPerUser int, maxAge time.Duration, client *http.Client) *Service {
	if client == nil {
		client = &http.Client{}
	}
	return &Service{
		store:      store,
		root:       root,
		baseURL:    baseURL,
		maxPerUser: maxPerUser,
		maxAge:     maxAge,
		http:       client,
	}
}

// PersistOutputs downloads every output URL of a terminal prediction and
// replaces them with stable hosted URLs. On any failure the original
// upstream URLs are returned with hosted=false so the client still gets
// a usable (if expiring) link.
func (s *Service) PersistOutputs(ctx context.Context, userID string, pred *gateway.Prediction) (outputs []string, hosted bool) {
	urls := outputURLs(pred)
	if len(urls) == 0 {
		return nil, false
	}

	hosted = true
	for _, u := range urls {
		img, err := s.Persist(ctx, userID, pred.ID, u)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "image persist failed, falling back to upstream url",
				slog.String("prediction_id", pred.ID),
				slog.String("error", err.Error()),
			)
			outputs = append(outputs, u)
			hosted = false
			continue
		}
		outputs = append(outputs, s.URL(img))
	}
	return outputs, hosted
}

// Persist downloads one upstream image, writes it under
// <root>/<user-id>/<image-id><ext>, and records a registry row.
func (s *Service) Persist(ctx context.Context, userID, predictionID, srcURL string) (*gateway.HostedImage, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, fmt.Errorf("images: create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("images: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("images: download: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	id := uuid.Must(uuid.NewV7()).String()
	rel := filepath.Join(userID, id+extFor(contentType))
	full := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("images: create dir: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("images: create file: %w", err)
	}
	size, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(full)
		return nil, fmt.Errorf("images: write file: %w", err)
	}

	img := &gateway.HostedImage{
		ID:           id,
		UserID:       userID,
		PredictionID: predictionID,
		Path:         rel,
		Size:         size,
		ContentType:  contentType,
		CreatedAt:    time.Now(),
	}
	if s.maxAge > 0 {
		exp := img.CreatedAt.Add(s.maxAge)
		img.ExpiresAt = &exp
	}
	if err := s.store.InsertImage(ctx, img); err != nil {
		os.Remove(full)
		return nil, fmt.Errorf("images: register: %w", err)
	}
	return img, nil
}

// Open returns the registry row and file contents for an image ID and
// stamps its access time.
func (s *Service) Open(ctx context.Context, id string) (*gateway.HostedImage, io.ReadCloser, error) {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(s.root, img.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, gateway.ErrNotFound
		}
		return nil, nil, err
	}
	if err := s.store.TouchImageAccess(ctx, id); err != nil {
		slog.Warn("image access touch failed", "id", id, "error", err)
	}
	return img, f, nil
}

// URL builds the stable public link for a hosted image.
func (s *Service) URL(img *gateway.HostedImage) string {
	return s.baseURL + "/" + img.ID
}

// Cull removes images past the age limit or beyond the per-user ceiling,
// deleting both the file and its registry row.
func (s *Service) Cull(ctx context.Context) error {
	cutoff := time.Time{}
	if s.maxAge > 0 {
		cutoff = time.Now().Add(-s.maxAge)
	}
	expired, err := s.store.ListExpiredImages(ctx, cutoff, s.maxPerUser)
	if err != nil {
		return fmt.Errorf("images: list expired: %w", err)
	}

	for _, img := range expired {
		if err := os.Remove(filepath.Join(s.root, img.Path)); err != nil && !os.IsNotExist(err) {
			slog.Warn("image file removal failed", "id", img.ID, "error", err)
			continue
		}
		if err := s.store.DeleteImage(ctx, img.ID); err != nil {
			slog.Warn("image row removal failed", "id", img.ID, "error", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("hosted images culled", "count", len(expired))
	}
	return nil
}

// outputURLs extracts image URLs from a prediction's raw output, which may
// be a single string or an array of strings.
func outputURLs(pred *gateway.Prediction) []string {
	if pred == nil || len(pred.Output) == 0 {
		return nil
	}
	v := gjson.ParseBytes(pred.Output)
	if v.Type == gjson.String {
		return []string{v.String()}
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			out = append(out, item.String())
		}
		return true
	})
	return out
}

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
