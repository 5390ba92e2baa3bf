package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevokerUserCutoffMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTokenRevoker()
	first := time.Now().UTC().Add(-time.Minute)
	second := time.Now().UTC()

	if err := r.RevokeUser(ctx, "user-1", first); err != nil {
		t.Fatalf("revoke user first: %v", err)
	}
	if err := r.RevokeUser(ctx, "user-1", first.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke user older cutoff: %v", err)
	}
	if got, _ := r.RevokedAfter(ctx, "user-1"); !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}
	if err := r.RevokeUser(ctx, "user-1", second); err != nil {
		t.Fatalf("revoke user second: %v", err)
	}
	if got, _ := r.RevokedAfter(ctx, "user-1"); !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	r, err := NewRedisTokenRevoker(client, "test:revoked", time.Hour)
	if err != nil {
		t.Fatalf("new revoker: %v", err)
	}

	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, err := r.IsRevoked(ctx, "jti-1"); err != nil || !ok {
		t.Fatalf("expected jti-1 revoked, ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := r.IsRevoked(ctx, "jti-1"); ok {
		t.Fatalf("revocation should expire with the token")
	}

	cutoff := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if err := r.RevokeUser(ctx, "user-1", cutoff); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if err := r.RevokeUser(ctx, "user-1", cutoff.Add(-time.Hour)); err != nil {
		t.Fatalf("revoke user older: %v", err)
	}
	got, err := r.RevokedAfter(ctx, "user-1")
	if err != nil {
		t.Fatalf("revoked after: %v", err)
	}
	if !got.Equal(cutoff) {
		t.Fatalf("cutoff = %v, want %v", got, cutoff)
	}
	if got, _ := r.RevokedAfter(ctx, "user-2"); !got.IsZero() {
		t.Fatalf("unknown user should have no cutoff, got %v", got)
	}
}
