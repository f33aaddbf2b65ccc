package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/revocation"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

// bcryptCost is lowered in tests.
var bcryptCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// AuthOptions configures credential validation.
type AuthOptions struct {
	// RevocationFailOpen accepts structurally valid tokens when the revocation
	// store cannot be reached. When false such tokens are rejected with
	// ErrUnavailable.
	RevocationFailOpen bool
	// APIKey, when set, authenticates service-to-service callers.
	APIKey string
}

// AuthService issues bearer credentials and decides whether a presented one
// is currently usable.
type AuthService struct {
	store       *store.Store
	codec       *credential.Codec
	revocations *revocation.Registry
	opts        AuthOptions
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewAuthService(st *store.Store, codec *credential.Codec, revocations *revocation.Registry, opts AuthOptions, metrics *telemetry.Metrics, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:       st,
		codec:       codec,
		revocations: revocations,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// FailOpen reports the configured revocation failure policy.
func (s *AuthService) FailOpen() bool { return s.opts.RevocationFailOpen }

// Login checks an email and password and issues a credential.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *credential.Claims, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	return s.Issue(u.ID, u.Email, u.Role)
}

// Issue mints a credential for subject.
func (s *AuthService) Issue(subject, email string, role model.Role) (string, *credential.Claims, error) {
	token, claims, err := s.codec.Issue(subject, email, role)
	if err != nil {
		return "", nil, validationf("%v", err)
	}
	return token, claims, nil
}

// Validate decodes token and checks it against the revocation registry.
// Signature and expiry are checked first; the registry is consulted only for
// structurally valid tokens.
func (s *AuthService) Validate(ctx context.Context, token string) (*credential.Claims, error) {
	claims, err := s.codec.Decode(token)
	if err != nil {
		if errors.Is(err, credential.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	revoked, err := s.revocations.IsRevoked(ctx, token, claims.Subject, claims.IssuedAt)
	if err != nil {
		s.metrics.ObserveRevocationError(s.opts.RevocationFailOpen)
		if s.opts.RevocationFailOpen {
			s.logger.Warn("revocation check failed, accepting token", "subject", claims.Subject, "error", err)
			return claims, nil
		}
		s.logger.Error("revocation check failed, rejecting token", "subject", claims.Subject, "error", err)
		return nil, fmt.Errorf("%w: revocation check: %v", ErrUnavailable, err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Logout blacklists token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, token string, claims *credential.Claims) error {
	if err := s.revocations.RevokeToken(ctx, token, claims.TTL(s.now())); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeSubjectBefore rejects every credential for subject issued before
// cutoff. Credentials issued at or after cutoff stay valid.
func (s *AuthService) RevokeSubjectBefore(ctx context.Context, subject string, cutoff time.Time) error {
	if err := s.revocations.RevokeSubjectBefore(ctx, subject, cutoff.Unix(), s.codec.Lifetime()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.logger.Info("revoked credentials", "subject", subject, "cutoff", cutoff.Unix())
	return nil
}

// ClearRevocations removes the subject cutoff, restoring older credentials.
func (s *AuthService) ClearRevocations(ctx context.Context, subject string) error {
	if err := s.revocations.ClearSubject(ctx, subject); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ValidateAPIKey reports whether raw matches the configured service API key.
func (s *AuthService) ValidateAPIKey(raw string) bool {
	if s.opts.APIKey == "" || raw == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(raw), []byte(s.opts.APIKey)) == 1
}
