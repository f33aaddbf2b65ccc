package store

import (
	"context"
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession records the start of a client session.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	const q = `INSERT INTO sessions (id, license_key, started, ended)
		VALUES (:id, :license_key, :started, :ended)`
	if _, err := s.db.NamedExecContext(ctx, q, sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession closes an open session belonging to a license.
func (s *Store) EndSession(ctx context.Context, key, id string, now int64) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE sessions SET ended = ? WHERE id = ? AND license_key = ? AND ended IS NULL"),
		now, id, key)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := rowsAffected(res, "end session")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns the sessions of a license, newest first.
func (s *Store) ListSessions(ctx context.Context, key string) ([]model.Session, error) {
	sessions := []model.Session{}
	err := s.db.SelectContext(ctx, &sessions,
		s.db.Rebind("SELECT id, license_key, started, ended FROM sessions WHERE license_key = ? ORDER BY started DESC, id"), key)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListActiveSessions returns every open session across all licenses.
func (s *Store) ListActiveSessions(ctx context.Context) ([]model.Session, error) {
	sessions := []model.Session{}
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT id, license_key, started, ended FROM sessions WHERE ended IS NULL ORDER BY started DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}
