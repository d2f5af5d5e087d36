package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maypok86/otter/v2"

	gateway "github.com/mattdarbro/studio-api/internal"
)

const (
	defaultAppleIssuer = "https://appleid.apple.com"

	jwksTTL    = 24 * time.Hour // Apple rotates keys rarely
	jwksMaxLen = 16
)

// AppleIdentity is the verified identity extracted from an Apple token.
type AppleIdentity struct {
	Subject string // stable per-user platform subject
	Email   string
}

// AppleVerifier validates Sign in with Apple identity tokens against
// Apple's published signing keys. Keys are fetched once and cached.
type AppleVerifier struct {
	issuer  string
	bundles []string
	http    *http.Client
	keys    *otter.Cache[string, *rsa.PublicKey]
}

// NewAppleVerifier returns a verifier accepting tokens for the given bundle
// IDs. An empty issuer defaults to Apple's production issuer.
func NewAppleVerifier(issuer string, bundles []string, client *http.Client) (*AppleVerifier, error) {
	if issuer == "" {
		issuer = defaultAppleIssuer
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	c, err := otter.New(&otter.Options[string, *rsa.PublicKey]{
		MaximumSize:      jwksMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *rsa.PublicKey](jwksTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create jwks cache: %w", err)
	}
	return &AppleVerifier{issuer: issuer, bundles: bundles, http: client, keys: c}, nil
}

// Verify parses and validates the identity token: RSA signature against the
// published key for its kid, issuer match, and audience in the allowed
// bundle set.
func (v *AppleVerifier) Verify(ctx context.Context, raw string) (*AppleIdentity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.signingKey(ctx, kid)
	})
	if err != nil || !token.Valid {
		return nil, gateway.ErrAuthInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gateway.ErrAuthInvalid
	}
	if iss, _ := claims["iss"].(string); iss != v.issuer {
		return nil, gateway.ErrAuthInvalid
	}
	if !v.audienceAllowed(claims) {
		return nil, gateway.ErrUnauthorizedApp
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, gateway.ErrAuthInvalid
	}
	email, _ := claims["email"].(string)
	return &AppleIdentity{Subject: sub, Email: email}, nil
}

func (v *AppleVerifier) audienceAllowed(claims jwt.MapClaims) bool {
	aud, _ := claims["aud"].(string)
	for _, b := range v.bundles {
		if aud == b {
			return true
		}
	}
	return false
}

// signingKey returns the RSA public key for kid, fetching the JWKS document
// on cache miss.
func (v *AppleVerifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := v.keys.GetIfPresent(kid); ok {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys.GetIfPresent(kid)
	if !ok {
		return nil, fmt.Errorf("no signing key for kid %q", kid)
	}
	return key, nil
}

func (v *AppleVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.issuer+"/auth/keys", nil)
	if err != nil {
		return fmt.Errorf("create jwks request: %w", err)
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: HTTP %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := rsaKey(k.N, k.E)
		if err != nil {
			continue
		}
		v.keys.Set(k.Kid, key)
	}
	return nil
}

// rsaKey builds an RSA public key from base64url modulus and exponent.
func rsaKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
