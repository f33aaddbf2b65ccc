package service

import (
	"errors"
	"fmt"

	"github.com/keygate/keygate/internal/store"
)

// Error categories. Every error returned by this package wraps exactly one of
// them, so callers can branch with errors.Is on the category alone.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrUnavailable     = errors.New("temporarily unavailable")
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	ErrTokenInvalid       = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrTokenRevoked       = fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	ErrTokenExpired       = fmt.Errorf("%w: token expired", ErrExpired)

	ErrInsufficientRole = fmt.Errorf("%w: insufficient role", ErrForbidden)
	ErrSelfDemotion     = fmt.Errorf("%w: cannot demote yourself", ErrValidation)

	ErrInvalidProduct   = fmt.Errorf("%w: invalid product", ErrNotFound)
	ErrInvalidLicense   = fmt.Errorf("%w: invalid license", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("%w: session not found", ErrNotFound)
	ErrInvalidOrUsedKey = fmt.Errorf("%w: invalid or already used key", ErrNotFound)
	ErrHWIDNotBanned    = fmt.Errorf("%w: hwid is not banned", ErrNotFound)

	ErrProductExists   = fmt.Errorf("%w: product already exists", ErrConflict)
	ErrAlreadyFrozen   = fmt.Errorf("%w: product already frozen", ErrConflict)
	ErrAlreadyUnfrozen = fmt.Errorf("%w: product is not frozen", ErrConflict)
	ErrEmailTaken      = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrLicenseOwned    = fmt.Errorf("%w: license is owned by a user", ErrConflict)

	// ErrCollisionExhausted is returned when no unused key could be generated
	// within the retry bound.
	ErrCollisionExhausted = fmt.Errorf("%w: failed to generate a unique key", ErrUnavailable)
)

// translate maps store sentinels onto service errors. notFound replaces
// store.ErrNotFound when non-nil.
func translate(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
