// Package gateway defines domain types and interfaces for the studio-api
// AI-provider gateway. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// --- Principals ---

// Principal kinds. A principal is the authenticated identity bound to a request.
const (
	PrincipalAppKey    = "app-key"
	PrincipalUser      = "user"
	PrincipalPlatform  = "platform"
	PrincipalSession   = "session"
	PrincipalAgent     = "agent"
	PrincipalAnonymous = "anonymous"
)

// Principal is the authenticated caller context attached to request context.
type Principal struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	AppID        string            `json:"app_id,omitempty"`
	Channel      string            `json:"channel"`
	ProviderKeys map[string]string `json:"-"` // per-provider override keys, never serialized
}

// Anonymous is the shared principal for un-authenticated, rate-limited paths.
var Anonymous = &Principal{ID: "anonymous", Kind: PrincipalAnonymous, Channel: DefaultChannel}

// ProviderKey returns the caller-supplied key for provider, or "".
func (p *Principal) ProviderKey(provider string) string {
	if p == nil {
		return ""
	}
	return p.ProviderKeys[provider]
}

// --- Routing ---

// DefaultChannel is the catalog column used when the client does not select one.
const DefaultChannel = "stable"

// ModelConfig is the concrete (provider, model) pair a kind resolves to.
type ModelConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// --- Sessions ---

// SessionTTL is the fixed lifetime of an opaque session token.
const SessionTTL = 15 * time.Minute

// Session is a short-lived opaque-token record.
type Session struct {
	Token        string            `json:"-"`
	PrincipalID  string            `json:"principal_id"`
	Kind         string            `json:"kind"`
	Channel      string            `json:"channel"`
	ProviderKeys map[string]string `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Expired reports whether the session has passed its expiration.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// --- Normalized requests and completions ---

// Request kinds, one per forward endpoint.
const (
	RequestChat     = "chat"
	RequestImage    = "image"
	RequestMusic    = "music"
	RequestVoice    = "voice"
	RequestRealtime = "realtime"
)

// Message is a chat message. Content is raw JSON: either a string or an
// array of multimodal parts, forwarded to the adapter for translation.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// Request is the normalized request handed to a provider adapter after
// validation and model resolution.
type Request struct {
	Kind  string // chat | image | music | voice | realtime
	Model string

	// Chat.
	Messages    []Message
	MaxTokens   int
	Temperature *float64

	// Image.
	Prompt     string
	Width      int
	Height     int
	NumOutputs int
	Wait       bool

	// Music.
	DurationSeconds int

	// Voice.
	Text   string
	Voice  string
	Stream bool
}

// Choice is a single completion choice in the normalized response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is token usage in the normalized response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Prediction is an image-generation job snapshot (Replicate's terminology).
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	URLs   json.RawMessage `json:"urls,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Terminal reports whether the prediction has reached a final status.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// Audio is a generated-audio result (music or buffered voice).
type Audio struct {
	GenerationID string `json:"generation_id,omitempty"`
	Status       string `json:"status,omitempty"`
	URL          string `json:"audio_url,omitempty"`
	Base64       string `json:"audio_base64,omitempty"`
	ContentType  string `json:"-"`
}

// Completion is the normalized adapter response. Chat fills ID/Choices/Usage;
// the other request kinds fill exactly one of the payload fields.
type Completion struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`

	Prediction  *Prediction     `json:"-"`
	Audio       *Audio          `json:"-"`
	Realtime    json.RawMessage `json:"-"`
	AudioStream io.ReadCloser   `json:"-"` // streaming voice; caller must close
}

// Adapter is the per-upstream translator. Implementations are pure with
// respect to gateway state: one call in, one normalized completion out.
type Adapter interface {
	// Name returns the provider identifier (e.g. "openai", "replicate").
	Name() string
	// Complete forwards the normalized request using the given provider key.
	// Implementations apply their own per-call timeout.
	Complete(ctx context.Context, req *Request, key string) (*Completion, error)
}

// --- Usage log ---

// UsageEntry is one append-only record per completed request.
// CostCents is estimated cost in integer cents (zero for non-2xx responses).
type UsageEntry struct {
	ID               int64     `json:"id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	UserID           string    `json:"user_id"`
	AppID            string    `json:"app_id,omitempty"`
	Endpoint         string    `json:"endpoint"`
	Method           string    `json:"method"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostCents        int64     `json:"cost_cents"`
	DurationMs       int64     `json:"duration_ms"`
	StatusCode       int       `json:"status_code"`
	Error            string    `json:"error,omitempty"`
}

// UsageFilter selects usage entries for queries.
type UsageFilter struct {
	AppID    string
	UserID   string
	Provider string
	Endpoint string
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// UsageTotals is an aggregate over usage entries.
type UsageTotals struct {
	Requests         int     `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostCents        int64   `json:"cost_cents"`
	AvgDurationMs    float64 `json:"avg_duration_ms"`
	Errors           int     `json:"errors"`
}

// CostUSD returns the aggregate cost in dollars.
func (t UsageTotals) CostUSD() float64 { return float64(t.CostCents) / 100 }

// UsageGroup is one row of a grouped aggregate (per provider, model, app,
// or endpoint).
type UsageGroup struct {
	Key    string      `json:"key"`
	Totals UsageTotals `json:"totals"`
}

// --- Users (platform-verified) ---

// User is a platform-verified user row keyed by the stable platform subject.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email,omitempty"`
	Active     bool      `json:"active"`
	LoginCount int       `json:"login_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// --- Hosted images ---

// HostedImage is a registry row for a persisted upstream image.
type HostedImage struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	PredictionID string     `json:"prediction_id"`
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"content_type"`
	CreatedAt    time.Time  `json:"created_at"`
	AccessedAt   *time.Time `json:"accessed_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// --- Agent sandbox ---

// AgentLimits are per-agent ceilings enforced by the tower.
type AgentLimits struct {
	DailySpendUSD   float64 `json:"daily_spend_usd" yaml:"daily_spend_usd"`
	RequestsPerHour int     `json:"requests_per_hour" yaml:"requests_per_hour"`
	RequestsPerDay  int     `json:"requests_per_day" yaml:"requests_per_day"`
	MaxTokens       int     `json:"max_tokens" yaml:"max_tokens"`
	MaxSessions     int     `json:"max_sessions" yaml:"max_sessions"`
}

// AgentProfile describes one sandboxed agent.
type AgentProfile struct {
	Name         string       `json:"name" yaml:"name"`
	Capabilities Capabilities `json:"capabilities" yaml:"capabilities"`
	Limits       AgentLimits  `json:"limits" yaml:"limits"`
}

// Capabilities is an allow/deny pair. Deny wins; "*" in allow grants any
// capability not denied.
type Capabilities struct {
	Allow []string `json:"allow" yaml:"allow"`
	Deny  []string `json:"deny" yaml:"deny"`
}

// Has reports whether the capability set grants name.
func (c Capabilities) Has(name string) bool {
	for _, d := range c.Deny {
		if d == name {
			return false
		}
	}
	for _, a := range c.Allow {
		if a == "*" || a == name {
			return true
		}
	}
	return false
}

// AuditEntry is one tower request record, kept in a bounded ring.
type AuditEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Agent      string    `json:"agent"`
	Capability string    `json:"capability"`
	Summary    string    `json:"summary"`
	CostUSD    float64   `json:"cost_usd"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Tokens     int       `json:"tokens,omitempty"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Principal field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Principal *Principal
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// PrincipalFromContext extracts the authenticated principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	if m := metaFromContext(ctx); m != nil {
		return m.Principal
	}
	return nil
}

// ContextWithPrincipal stores the principal in the existing requestMeta if
// present, avoiding a new context.WithValue allocation. Falls back to creating
// new metadata if none exists (e.g., in tests).
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Principal = p
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Principal: p})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- ID and token generation ---

// NewRequestID returns 16 random bytes hex-encoded.
func NewRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b[:])
}

// NewSessionToken returns 32 bytes of cryptographic random, base64url-encoded.
func NewSessionToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// TruncateKey returns a short display prefix of a credential for logging.
// The credential itself must never be logged.
func TruncateKey(k string) string {
	if len(k) <= 8 {
		return k
	}
	return k[:8] + "..."
}

// --- Header conventions ---

const (
	HeaderAppKey       = "App-Key"
	HeaderSessionToken = "Session-Token"
	HeaderModelChannel = "Model-Channel"
	HeaderTowerKey     = "Tower-Key"
	HeaderRequestID    = "Request-Id"
)

// UserKeyHeader returns the per-provider override key header name
// (e.g. "User-Openai-Key").
func UserKeyHeader(provider string) string {
	return http.CanonicalHeaderKey("user-" + provider + "-key")
}
