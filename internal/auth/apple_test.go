package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// jwksServer serves a JWKS document for the given key under kid "test-key".
func jwksServer(t *testing.T, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kid": "test-key",
			"kty": "RSA",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/keys" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signAppleToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func appleVerifier(t *testing.T) (*AppleVerifier, *rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := jwksServer(t, &key.PublicKey)
	v, err := NewAppleVerifier(srv.URL, []string{"com.example.studio"}, srv.Client())
	if err != nil {
		t.Fatalf("NewAppleVerifier: %v", err)
	}
	return v, key, srv.URL
}

func TestVerify(t *testing.T) {
	t.Parallel()
	v, key, issuer := appleVerifier(t)

	raw := signAppleToken(t, key, jwt.MapClaims{
		"iss":   issuer,
		"aud":   "com.example.studio",
		"sub":   "001234.abcdef",
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(t.Context(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "001234.abcdef" || id.Email != "user@example.com" {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerify_WrongAudience(t *testing.T) {
	t.Parallel()
	v, key, issuer := appleVerifier(t)

	raw := signAppleToken(t, key, jwt.MapClaims{
		"iss": issuer,
		"aud": "com.example.other",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(t.Context(), raw); !errors.Is(err, gateway.ErrUnauthorizedApp) {
		t.Errorf("err = %v, want ErrUnauthorizedApp", err)
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	t.Parallel()
	v, key, _ := appleVerifier(t)

	raw := signAppleToken(t, key, jwt.MapClaims{
		"iss": "https://attacker.example",
		"aud": "com.example.studio",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(t.Context(), raw); !errors.Is(err, gateway.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestVerify_WrongKey(t *testing.T) {
	t.Parallel()
	v, _, issuer := appleVerifier(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw := signAppleToken(t, other, jwt.MapClaims{
		"iss": issuer,
		"aud": "com.example.studio",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(t.Context(), raw); !errors.Is(err, gateway.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestVerify_HMACRejected(t *testing.T) {
	t.Parallel()
	v, _, issuer := appleVerifier(t)

	// An attacker must not be able to downgrade to a symmetric scheme.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"aud": "com.example.studio",
		"sub": "001234.abcdef",
	}).SignedString([]byte("guessable"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(t.Context(), raw); !errors.Is(err, gateway.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()
	v, key, issuer := appleVerifier(t)

	raw := signAppleToken(t, key, jwt.MapClaims{
		"iss": issuer,
		"aud": "com.example.studio",
		"sub": "001234.abcdef",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := v.Verify(t.Context(), raw); !errors.Is(err, gateway.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}
