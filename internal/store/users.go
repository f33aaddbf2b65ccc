package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = "id, email, password_hash, role, banned, license_key, created_at, updated_at"

// CreateUser inserts a user and its empty license in one transaction. It
// returns ErrConflict if the email or license key is already taken.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		created, err := tx.CreateLicense(ctx, &model.License{Key: u.LicenseKey, CreatedAt: u.CreatedAt})
		if err != nil {
			return err
		}
		if !created {
			return ErrConflict
		}

		const q = `INSERT INTO users (` + userColumns + `)
			VALUES (:id, :email, :password_hash, :role, :banned, :license_key, :created_at, :updated_at)`
		if _, err := tx.tx.NamedExecContext(ctx, q, u); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *Store) getUser(ctx context.Context, column, value string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind("SELECT "+userColumns+" FROM users WHERE "+column+" = ?"), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns every user ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT "+userColumns+" FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyAdmin reports whether at least one admin account exists.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM users WHERE role = ?"), model.RoleAdmin); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return n > 0, nil
}

// SetUserRole changes the role of a user.
func (s *Store) SetUserRole(ctx context.Context, id string, role model.Role, now int64) error {
	return s.updateUser(ctx, "set user role",
		"UPDATE users SET role = ?, updated_at = ? WHERE id = ?", role, now, id)
}

// SetUserBanned bans or unbans a user.
func (s *Store) SetUserBanned(ctx context.Context, id string, banned bool, now int64) error {
	return s.updateUser(ctx, "set user banned",
		"UPDATE users SET banned = ?, updated_at = ? WHERE id = ?", banned, now, id)
}

// SetUserPassword replaces a user's password hash.
func (s *Store) SetUserPassword(ctx context.Context, id, hash string, now int64) error {
	return s.updateUser(ctx, "set user password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", hash, now, id)
}

func (s *Store) updateUser(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := rowsAffected(res, what)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
