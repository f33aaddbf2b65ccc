package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/model"
)

func TestLogin(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()
	u := env.mustUser(t, "alice@example.com", model.RoleUser)

	token, claims, err := env.auth.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if claims.Subject != u.ID || claims.Role != model.RoleUser {
		t.Errorf("claims = %+v", claims)
	}
	if _, err := env.auth.Validate(ctx, token); err != nil {
		t.Errorf("Validate fresh token: %v", err)
	}

	if _, _, err := env.auth.Login(ctx, " Alice@Example.com", "correct-horse"); err != nil {
		t.Errorf("mixed-case email: %v", err)
	}
	if _, _, err := env.auth.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := env.auth.Login(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateRejectsExpiredAndGarbage(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()

	token, _, err := env.auth.Issue("user-1", "", model.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(25 * time.Hour)
	if _, err := env.auth.Validate(ctx, token); !errors.Is(err, ErrTokenExpired) || !errors.Is(err, ErrExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
	if _, err := env.auth.Validate(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestLogoutRevokesOnlyThatToken(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()

	a, claimsA, _ := env.auth.Issue("user-1", "", model.RoleUser)
	b, _, _ := env.auth.Issue("user-1", "", model.RoleUser)

	if err := env.auth.Logout(ctx, a, claimsA); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.auth.Validate(ctx, a); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("logged out token error = %v, want ErrTokenRevoked", err)
	}
	if _, err := env.auth.Validate(ctx, b); err != nil {
		t.Errorf("other token rejected: %v", err)
	}
	if ttl := env.redis.TTL("blacklist:token:" + a); ttl != 24*time.Hour {
		t.Errorf("blacklist TTL = %v, want 24h", ttl)
	}
}

func TestRevokeSubjectBeforeCutoff(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	ctx := context.Background()

	old, _, _ := env.auth.Issue("user-1", "", model.RoleUser)
	other, _, _ := env.auth.Issue("user-2", "", model.RoleUser)
	if _, err := env.auth.Validate(ctx, old); err != nil {
		t.Fatalf("token should be valid before any cutoff: %v", err)
	}

	env.clock.Advance(10 * time.Second)
	if err := env.auth.RevokeSubjectBefore(ctx, "user-1", env.clock.Now()); err != nil {
		t.Fatalf("RevokeSubjectBefore: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.auth.Validate(ctx, old); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("check %d: old token error = %v, want ErrTokenRevoked", i, err)
		}
	}
	fresh, _, _ := env.auth.Issue("user-1", "", model.RoleUser)
	if _, err := env.auth.Validate(ctx, fresh); err != nil {
		t.Errorf("token issued at cutoff rejected: %v", err)
	}
	if _, err := env.auth.Validate(ctx, other); err != nil {
		t.Errorf("other subject affected: %v", err)
	}
	if ttl := env.redis.TTL("blacklist:user:user-1"); ttl != 24*time.Hour {
		t.Errorf("cutoff TTL = %v, want 24h", ttl)
	}

	if err := env.auth.ClearRevocations(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.Validate(ctx, old); err != nil {
		t.Errorf("old token still rejected after clear: %v", err)
	}
}

func TestRevocationFailurePolicy(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		wantErr  error
	}{
		{"fail open accepts", true, nil},
		{"fail closed rejects", false, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, AuthOptions{RevocationFailOpen: tt.failOpen})
			token, _, _ := env.auth.Issue("user-1", "", model.RoleUser)
			env.redis.Close()

			claims, err := env.auth.Validate(context.Background(), token)
			if tt.wantErr == nil {
				if err != nil || claims == nil {
					t.Errorf("Validate = %v, %v; want claims", claims, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFailOpenStillChecksSignature(t *testing.T) {
	env := newTestEnv(t, AuthOptions{RevocationFailOpen: true})
	env.redis.Close()
	if _, err := env.auth.Validate(context.Background(), "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("error = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	env := newTestEnv(t, AuthOptions{APIKey: "service-key"})
	if !env.auth.ValidateAPIKey("service-key") {
		t.Error("configured key rejected")
	}
	if env.auth.ValidateAPIKey("other") || env.auth.ValidateAPIKey("") {
		t.Error("wrong key accepted")
	}

	none := newTestEnv(t, AuthOptions{})
	if none.auth.ValidateAPIKey("") {
		t.Error("empty key accepted with no key configured")
	}
}
