package session

import (
	"errors"
	"testing"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

func TestCreateAndLookup(t *testing.T) {
	t.Parallel()
	s := New(15 * time.Minute)

	sess := s.Create("user-1", gateway.PrincipalUser, "beta", map[string]string{"openai": "sk-user"})
	if sess.Token == "" {
		t.Fatal("token should be set")
	}

	got, err := s.Lookup(sess.Token)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.PrincipalID != "user-1" || got.Channel != "beta" {
		t.Errorf("got %+v", got)
	}
	if got.ProviderKeys["openai"] != "sk-user" {
		t.Error("provider keys should survive the round trip")
	}
}

func TestLookup_UnknownToken(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)

	if _, err := s.Lookup("nope"); !errors.Is(err, gateway.ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestLookup_ExpiredEvicts(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)
	sess := s.Create("user-1", gateway.PrincipalUser, "", nil)

	// Advance the clock past expiration.
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := s.Lookup(sess.Token); !errors.Is(err, gateway.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	// The entry is gone even when the clock goes back.
	s.now = time.Now
	if _, err := s.Lookup(sess.Token); !errors.Is(err, gateway.ErrSessionExpired) {
		t.Error("expired session should have been evicted")
	}
}

func TestRefresh_ExtendsWithoutRotation(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)
	sess := s.Create("user-1", gateway.PrincipalUser, "", nil)
	before := sess.ExpiresAt

	s.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	if err := s.Refresh(sess.Token); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got, err := s.Lookup(sess.Token)
	if err != nil {
		t.Fatalf("Lookup after refresh: %v", err)
	}
	if got.Token != sess.Token {
		t.Error("refresh must not rotate the token")
	}
	if !got.ExpiresAt.After(before) {
		t.Error("expiration should move forward")
	}
}

func TestRefresh_Expired(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)
	sess := s.Create("user-1", gateway.PrincipalUser, "", nil)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := s.Refresh(sess.Token); !errors.Is(err, gateway.ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)
	sess := s.Create("user-1", gateway.PrincipalUser, "", nil)

	s.Revoke(sess.Token)
	s.Revoke(sess.Token) // second revoke is a no-op

	if _, err := s.Lookup(sess.Token); err == nil {
		t.Error("revoked session should not resolve")
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)
	s.Create("a", gateway.PrincipalUser, "", nil)
	s.Create("b", gateway.PrincipalUser, "", nil)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	live := s.Create("c", gateway.PrincipalUser, "", nil)

	if n := s.Sweep(); n != 2 {
		t.Errorf("Sweep = %d, want 2", n)
	}
	if _, err := s.Lookup(live.Token); err != nil {
		t.Errorf("live session swept: %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)
	s.Create("a", gateway.PrincipalUser, "", nil)

	st := s.Stats()
	if st.Total != 1 || st.Active != 1 || st.Expired != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTokensAreUnique(t *testing.T) {
	t.Parallel()
	s := New(time.Minute)

	seen := make(map[string]bool)
	for range 100 {
		tok := s.Create("u", gateway.PrincipalUser, "", nil).Token
		if seen[tok] {
			t.Fatal("duplicate session token")
		}
		seen[tok] = true
	}
}
