package store

import (
	"context"
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Login attempts and HWID bans
// ---------------------------------------------------------------------------

// RecordLogin persists an authorization decision.
func (s *Store) RecordLogin(ctx context.Context, a *model.LoginAttempt) error {
	const q = `INSERT INTO login_logs (id, license_key, subject, product_id, hwid, outcome, time)
		VALUES (:id, :license_key, :subject, :product_id, :hwid, :outcome, :time)`
	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// ListLogins returns the most recent attempts, newest first, optionally
// filtered to one license.
func (s *Store) ListLogins(ctx context.Context, licenseKey string, limit int) ([]model.LoginAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	const cols = "id, license_key, subject, product_id, hwid, outcome, time"
	attempts := []model.LoginAttempt{}
	var err error
	if licenseKey == "" {
		err = s.db.SelectContext(ctx, &attempts,
			s.db.Rebind("SELECT "+cols+" FROM login_logs ORDER BY time DESC, id LIMIT ?"), limit)
	} else {
		err = s.db.SelectContext(ctx, &attempts,
			s.db.Rebind("SELECT "+cols+" FROM login_logs WHERE license_key = ? ORDER BY time DESC, id LIMIT ?"),
			licenseKey, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list login attempts: %w", err)
	}
	return attempts, nil
}

// BanHWID adds a fingerprint to the global ban list. Banning an already
// banned fingerprint updates the reason.
func (s *Store) BanHWID(ctx context.Context, b *model.BannedHWID) error {
	const q = `INSERT INTO banned_hwids (hwid, reason, created_at)
		VALUES (:hwid, :reason, :created_at)
		ON CONFLICT (hwid) DO UPDATE SET reason = excluded.reason`
	if _, err := s.db.NamedExecContext(ctx, q, b); err != nil {
		return fmt.Errorf("ban hwid: %w", err)
	}
	return nil
}

// UnbanHWID removes a fingerprint from the ban list.
func (s *Store) UnbanHWID(ctx context.Context, hwid string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM banned_hwids WHERE hwid = ?"), hwid)
	if err != nil {
		return fmt.Errorf("unban hwid: %w", err)
	}
	n, err := rowsAffected(res, "unban hwid")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsHWIDBanned reports whether the fingerprint is on the ban list.
func (s *Store) IsHWIDBanned(ctx context.Context, hwid string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM banned_hwids WHERE hwid = ?"), hwid); err != nil {
		return false, fmt.Errorf("check hwid ban: %w", err)
	}
	return n > 0, nil
}

// ListBannedHWIDs returns the ban list.
func (s *Store) ListBannedHWIDs(ctx context.Context) ([]model.BannedHWID, error) {
	bans := []model.BannedHWID{}
	if err := s.db.SelectContext(ctx, &bans, "SELECT hwid, reason, created_at FROM banned_hwids ORDER BY created_at, hwid"); err != nil {
		return nil, fmt.Errorf("list banned hwids: %w", err)
	}
	return bans, nil
}
