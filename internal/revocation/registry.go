// Package revocation records which bearer tokens may no longer be used.
//
// Two kinds of record exist, both stored with a TTL so the backing store
// garbage-collects them:
//
//   - blacklist:token:<token> marks one token unusable until it would have
//     expired anyway.
//   - blacklist:user:<subject> holds a cutoff in unix seconds; every token
//     for that subject issued strictly before the cutoff is rejected.
package revocation

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	tokenPrefix   = "blacklist:token:"
	subjectPrefix = "blacklist:user:"
)

// KV is the subset of a TTL-capable key/value store the registry needs.
type KV interface {
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
}

// Registry records and answers revocation facts.
type Registry struct {
	kv KV
}

// NewRegistry creates a registry over kv.
func NewRegistry(kv KV) *Registry {
	return &Registry{kv: kv}
}

// RevokeToken blacklists token for ttl, which should be the token's remaining
// lifetime. A non-positive ttl is a no-op since the token is already expired.
func (r *Registry) RevokeToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.kv.SetEx(ctx, tokenPrefix+token, "1", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether token was explicitly blacklisted.
func (r *Registry) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	ok, err := r.kv.Exists(ctx, tokenPrefix+token)
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return ok, nil
}

// RevokeSubjectBefore rejects every token for subject issued before cutoff.
// ttl must be at least the maximum token lifetime.
func (r *Registry) RevokeSubjectBefore(ctx context.Context, subject string, cutoff int64, ttl time.Duration) error {
	if err := r.kv.SetEx(ctx, subjectPrefix+subject, strconv.FormatInt(cutoff, 10), ttl); err != nil {
		return fmt.Errorf("revoke subject: %w", err)
	}
	return nil
}

// SubjectCutoff returns the recorded cutoff for subject. A stored value that
// does not parse as an integer is treated as absent.
func (r *Registry) SubjectCutoff(ctx context.Context, subject string) (int64, bool, error) {
	v, ok, err := r.kv.Get(ctx, subjectPrefix+subject)
	if err != nil {
		return 0, false, fmt.Errorf("get subject cutoff: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	cutoff, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return cutoff, true, nil
}

// ClearSubject removes the cutoff for subject.
func (r *Registry) ClearSubject(ctx context.Context, subject string) error {
	if err := r.kv.Del(ctx, subjectPrefix+subject); err != nil {
		return fmt.Errorf("clear subject: %w", err)
	}
	return nil
}

// IsRevoked reports whether token, issued to subject at issuedAt, has been
// revoked either individually or by a subject cutoff later than issuedAt.
func (r *Registry) IsRevoked(ctx context.Context, token, subject string, issuedAt int64) (bool, error) {
	revoked, err := r.IsTokenRevoked(ctx, token)
	if err != nil || revoked {
		return revoked, err
	}
	cutoff, ok, err := r.SubjectCutoff(ctx, subject)
	if err != nil {
		return false, err
	}
	return ok && issuedAt < cutoff, nil
}
