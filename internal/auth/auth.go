// Package auth resolves request credentials to a principal. Three schemes
// are accepted, checked in order: the shared application key, HMAC-signed
// bearer tokens, and opaque session tokens.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/session"
)

// Providers that accept a caller-supplied override key header.
var Providers = []string{"openai", "anthropic", "xai", "replicate", "elevenlabs"}

// Authenticator validates request credentials.
type Authenticator struct {
	appKey        string
	signingSecret []byte
	sessions      *session.Store
}

// New returns an Authenticator. Either credential may be empty; schemes
// without configuration reject with a misconfiguration error rather than
// silently passing.
func New(appKey, signingSecret string, sessions *session.Store) *Authenticator {
	return &Authenticator{
		appKey:        appKey,
		signingSecret: []byte(signingSecret),
		sessions:      sessions,
	}
}

// Authenticate resolves the request's credentials to a principal.
// The app key wins over bearer tokens, which win over session tokens:
// a caller presenting the operator key and a stale session token is the
// operator, not an expired session. A request with no recognized
// credential returns ErrAuthRequired.
func (a *Authenticator) Authenticate(r *http.Request) (*gateway.Principal, error) {
	if key := r.Header.Get(gateway.HeaderAppKey); key != "" {
		return a.fromAppKey(r, key)
	}
	if raw := bearerToken(r); raw != "" {
		return a.fromBearer(r, raw)
	}
	if token := r.Header.Get(gateway.HeaderSessionToken); token != "" {
		return a.fromSession(r, token)
	}
	return nil, gateway.ErrAuthRequired
}

func (a *Authenticator) fromSession(r *http.Request, token string) (*gateway.Principal, error) {
	sess, err := a.sessions.Lookup(token)
	if err != nil {
		return nil, err
	}
	p := &gateway.Principal{
		ID:           sess.PrincipalID,
		Kind:         gateway.PrincipalSession,
		Channel:      channel(r, sess.Channel),
		ProviderKeys: mergeKeys(sess.ProviderKeys, overrideKeys(r)),
	}
	return p, nil
}

func (a *Authenticator) fromAppKey(r *http.Request, key string) (*gateway.Principal, error) {
	if a.appKey == "" {
		return nil, gateway.ErrAuthMisconfigured
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.appKey)) != 1 {
		return nil, gateway.ErrAuthInvalid
	}
	return &gateway.Principal{
		ID:           "app",
		Kind:         gateway.PrincipalAppKey,
		Channel:      channel(r, ""),
		ProviderKeys: overrideKeys(r),
	}, nil
}

// fromBearer validates an HMAC-signed token and extracts the subject.
func (a *Authenticator) fromBearer(r *http.Request, raw string) (*gateway.Principal, error) {
	if len(a.signingSecret) == 0 {
		return nil, gateway.ErrAuthMisconfigured
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, gateway.ErrAuthInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gateway.ErrAuthInvalid
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub, _ = claims["id"].(string)
	}
	if sub == "" {
		return nil, gateway.ErrAuthInvalid
	}

	return &gateway.Principal{
		ID:           sub,
		Kind:         gateway.PrincipalUser,
		Channel:      channel(r, ""),
		ProviderKeys: overrideKeys(r),
	}, nil
}

// Sessions exposes the backing session store for handlers that create,
// refresh, or revoke sessions.
func (a *Authenticator) Sessions() *session.Store { return a.sessions }

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token := strings.TrimPrefix(h, "Bearer ")
	if token == h {
		return ""
	}
	return token
}

// channel picks the model channel: explicit header, then fallback, then stable.
func channel(r *http.Request, fallback string) string {
	if ch := r.Header.Get(gateway.HeaderModelChannel); ch != "" {
		return ch
	}
	if fallback != "" {
		return fallback
	}
	return gateway.DefaultChannel
}

// overrideKeys collects caller-supplied per-provider keys from the
// User-<Provider>-Key headers. Returns nil when none are present.
func overrideKeys(r *http.Request) map[string]string {
	var keys map[string]string
	for _, p := range Providers {
		if v := r.Header.Get(gateway.UserKeyHeader(p)); v != "" {
			if keys == nil {
				keys = make(map[string]string, 1)
			}
			keys[p] = v
		}
	}
	return keys
}

// mergeKeys overlays request overrides on top of session-bound keys.
func mergeKeys(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
