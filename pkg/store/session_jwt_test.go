package store

import (
	"context"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSessionStore(t *testing.T, revoker TokenRevoker, opts JWTOptions) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore(testSecret, time.Hour, revoker, opts)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSessionStore(t, NewMemoryTokenRevoker(), JWTOptions{})
	token, err := s.NewSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	id, ok, err := s.GetUserIDByToken(ctx, token)
	if err != nil || !ok || id != "user-1" {
		t.Fatalf("get user = %q %v %v", id, ok, err)
	}
}

func TestJWTSessionStoreRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("short", time.Hour, nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	ctx := context.Background()
	signing := newTestSessionStore(t, nil, JWTOptions{Audience: "aud-a"})
	verify := newTestSessionStore(t, nil, JWTOptions{Audience: "aud-b"})
	token, err := signing.NewSession(ctx, "user-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(ctx, token); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
}

func TestJWTSessionStoreRejectsOtherAlgorithms(t *testing.T) {
	ctx := context.Background()
	s := newTestSessionStore(t, nil, JWTOptions{})
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultJWTIssuer,
		Audience:  jwt.ClaimStrings{defaultJWTAudience},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		ID:        "jti-1",
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(ctx, unsigned); err == nil || ok {
		t.Fatalf("expected alg=none token to fail")
	}
}

func TestJWTSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSessionStore(t, nil, JWTOptions{Leeway: time.Second})
	issued := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issued }
	token, err := s.NewSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.now = time.Now
	if _, _, err := s.GetUserIDByToken(ctx, token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	ctx := context.Background()
	s := newTestSessionStore(t, NewMemoryTokenRevoker(), JWTOptions{})
	token, err := s.NewSession(ctx, "user-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(ctx, token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(ctx, token); err == nil || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	ctx := context.Background()
	s := newTestSessionStore(t, NewMemoryTokenRevoker(), JWTOptions{})
	token, err := s.NewSession(ctx, "user-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions(ctx, "user-cutoff", time.Now().UTC()); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(ctx, token); err == nil || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRejectsGarbage(t *testing.T) {
	s := newTestSessionStore(t, nil, JWTOptions{})
	for _, token := range []string{"", "abc", strings.Repeat("x.", 3)} {
		if _, ok, err := s.GetUserIDByToken(context.Background(), token); err == nil || ok {
			t.Fatalf("expected %q to fail", token)
		}
	}
}
