package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var validate = validator.New()

// AccountService manages users, their roles and bans, and the hardware ban
// list.
type AccountService struct {
	store  *store.Store
	auth   *AuthService
	keys   *KeyIssuer
	logger *slog.Logger
	now    func() time.Time
}

func NewAccountService(st *store.Store, auth *AuthService, keys *KeyIssuer, logger *slog.Logger) *AccountService {
	return &AccountService{store: st, auth: auth, keys: keys, logger: logger, now: time.Now}
}

// CreateUser registers a user with an empty license of their own.
func (s *AccountService) CreateUser(ctx context.Context, email, password string, role model.Role) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, validationf("invalid email address")
	}
	if len(password) < MinPasswordLength {
		return nil, validationf("password must be at least %d characters", MinPasswordLength)
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, validationf("invalid role %q", role)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	for attempt := 0; attempt < MaxAttemptsPerKey; attempt++ {
		key, err := s.keys.NewLicenseKey()
		if err != nil {
			return nil, err
		}
		u := &model.User{
			ID:           newID(),
			Email:        email,
			PasswordHash: hash,
			Role:         role,
			LicenseKey:   key,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err = s.store.CreateUser(ctx, u)
		if err == nil {
			s.logger.Info("user created", "user_id", u.ID, "role", string(role))
			return u, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		if _, lookupErr := s.store.GetUserByEmail(ctx, email); lookupErr == nil {
			return nil, ErrEmailTaken
		}
	}
	return nil, ErrCollisionExhausted
}

func (s *AccountService) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	return u, translate(err, ErrUserNotFound)
}

func (s *AccountService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

// SetRole changes the role of userID and revokes every credential issued to
// that user before the change. actor is nil for operator tooling; otherwise it
// must be an admin, and admins cannot demote themselves.
func (s *AccountService) SetRole(ctx context.Context, actor *credential.Claims, userID string, role model.Role) error {
	if !role.Valid() {
		return validationf("invalid role %q", role)
	}
	if actor != nil {
		if actor.Role != model.RoleAdmin {
			return ErrInsufficientRole
		}
		if actor.Subject == userID && role != model.RoleAdmin {
			return ErrSelfDemotion
		}
	}

	now := s.now()
	if err := s.store.SetUserRole(ctx, userID, role, now.Unix()); err != nil {
		return translate(err, ErrUserNotFound)
	}
	s.logger.Info("user role changed", "user_id", userID, "role", string(role))

	if err := s.auth.RevokeSubjectBefore(ctx, userID, now); err != nil {
		s.logger.Error("role changed but prior credentials were not revoked", "user_id", userID, "error", err)
		return err
	}
	return nil
}

// SetBanned bans or unbans a user. Banning also revokes the user's
// outstanding credentials; a failure there is logged since the ban itself is
// enforced on every authorization.
func (s *AccountService) SetBanned(ctx context.Context, userID string, banned bool) error {
	now := s.now()
	if err := s.store.SetUserBanned(ctx, userID, banned, now.Unix()); err != nil {
		return translate(err, ErrUserNotFound)
	}
	s.logger.Info("user ban updated", "user_id", userID, "banned", banned)
	if banned {
		if err := s.auth.RevokeSubjectBefore(ctx, userID, now); err != nil {
			s.logger.Warn("failed to revoke credentials of banned user", "user_id", userID, "error", err)
		}
	}
	return nil
}

// RevokeCredentials rejects every credential issued to userID before now.
func (s *AccountService) RevokeCredentials(ctx context.Context, userID string) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return translate(err, ErrUserNotFound)
	}
	return s.auth.RevokeSubjectBefore(ctx, userID, s.now())
}

// BanHWID adds a fingerprint to the global ban list.
func (s *AccountService) BanHWID(ctx context.Context, hwid, reason string) error {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" {
		return validationf("hwid is required")
	}
	b := &model.BannedHWID{HWID: hwid, Reason: reason, CreatedAt: s.now().Unix()}
	if err := s.store.BanHWID(ctx, b); err != nil {
		return err
	}
	s.logger.Info("hwid banned", "hwid", hwid)
	return nil
}

func (s *AccountService) UnbanHWID(ctx context.Context, hwid string) error {
	return translate(s.store.UnbanHWID(ctx, hwid), ErrHWIDNotBanned)
}

func (s *AccountService) ListBannedHWIDs(ctx context.Context) ([]model.BannedHWID, error) {
	return s.store.ListBannedHWIDs(ctx)
}
