// Package credential mints and decodes signed bearer tokens.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/model"
)

// DefaultLifetime is how long an issued token remains valid.
const DefaultLifetime = 24 * time.Hour

const issuer = "keygate"

var (
	// ErrExpired is returned for a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for any token that fails signature or claims checks.
	ErrInvalid = errors.New("invalid token")
)

// Claims is the decoded, verified content of a token. Timestamps are unix
// seconds.
type Claims struct {
	ID        string     `json:"jti"`
	Subject   string     `json:"sub"`
	Email     string     `json:"email,omitempty"`
	Role      model.Role `json:"role"`
	IssuedAt  int64      `json:"iat"`
	ExpiresAt int64      `json:"exp"`
}

// TTL returns how long the token remains valid after now, or zero once it has
// expired.
func (c *Claims) TTL(now time.Time) time.Duration {
	left := c.ExpiresAt - now.Unix()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}

type tokenClaims struct {
	Email string     `json:"email,omitempty"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 tokens. It holds no per-token state.
type Codec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewCodec creates a codec. A non-positive lifetime selects DefaultLifetime.
func NewCodec(secret []byte, lifetime time.Duration) *Codec {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Codec{secret: secret, lifetime: lifetime, now: time.Now}
}

// WithClock returns a copy of the codec that reads the current time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Lifetime returns the maximum lifetime of any token this codec issues.
func (c *Codec) Lifetime() time.Duration { return c.lifetime }

// Issue mints a token for subject with the given role.
func (c *Codec) Issue(subject, email string, role model.Role) (string, *Claims, error) {
	if subject == "" {
		return "", nil, fmt.Errorf("issue token: empty subject")
	}
	if !role.Valid() {
		return "", nil, fmt.Errorf("issue token: invalid role %q", role)
	}

	now := c.now().Truncate(time.Second)
	claims := tokenClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, claims.toClaims(), nil
}

// Decode verifies the signature and expiry of token and returns its claims.
// It performs no revocation checks.
func (c *Codec) Decode(token string) (*Claims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if claims.Subject == "" || claims.IssuedAt == nil || !claims.Role.Valid() {
		return nil, ErrInvalid
	}
	return claims.toClaims(), nil
}

func (t *tokenClaims) toClaims() *Claims {
	c := &Claims{
		ID:      t.ID,
		Subject: t.Subject,
		Email:   t.Email,
		Role:    t.Role,
	}
	if t.IssuedAt != nil {
		c.IssuedAt = t.IssuedAt.Unix()
	}
	if t.ExpiresAt != nil {
		c.ExpiresAt = t.ExpiresAt.Unix()
	}
	return c
}

// ExtractToken strips an optional "Bearer " prefix from an Authorization
// header value. Bare tokens are accepted as-is.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
