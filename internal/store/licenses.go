package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

// CreateLicense inserts a license together with its product grants. It
// reports false without error when the key already exists, so callers can
// retry with a fresh key.
func (s *Store) CreateLicense(ctx context.Context, l *model.License) (bool, error) {
	created := false
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		created, err = tx.CreateLicense(ctx, l)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// CreateLicense inserts a license and its grants inside the transaction.
func (t *Tx) CreateLicense(ctx context.Context, l *model.License) (bool, error) {
	const q = `INSERT INTO licenses (license_key, hwid, created_at)
		VALUES (:license_key, :hwid, :created_at)
		ON CONFLICT (license_key) DO NOTHING`

	res, err := t.tx.NamedExecContext(ctx, q, l)
	if err != nil {
		return false, fmt.Errorf("insert license: %w", err)
	}
	n, err := rowsAffected(res, "insert license")
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	for i := range l.Products {
		l.Products[i].LicenseKey = l.Key
		if err := t.InsertLicenseProduct(ctx, &l.Products[i]); err != nil {
			return false, err
		}
	}
	return true, nil
}

// LicenseExists reports whether a license with key exists.
func (s *Store) LicenseExists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM licenses WHERE license_key = ?"), key); err != nil {
		return false, fmt.Errorf("check license: %w", err)
	}
	return n > 0, nil
}

// GetLicense returns a license with its product grants and sessions.
func (s *Store) GetLicense(ctx context.Context, key string) (*model.License, error) {
	var l model.License
	err := s.db.GetContext(ctx, &l,
		s.db.Rebind("SELECT license_key, hwid, created_at FROM licenses WHERE license_key = ?"), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}

	if l.Products, err = s.ListLicenseProducts(ctx, key); err != nil {
		return nil, err
	}
	if l.Sessions, err = s.ListSessions(ctx, key); err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLicenses returns every license with its product grants. Sessions are
// not loaded.
func (s *Store) ListLicenses(ctx context.Context) ([]model.License, error) {
	var licenses []model.License
	if err := s.db.SelectContext(ctx, &licenses,
		"SELECT license_key, hwid, created_at FROM licenses ORDER BY created_at, license_key"); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	var grants []model.LicenseProduct
	if err := s.db.SelectContext(ctx, &grants,
		"SELECT license_key, product_id, duration, started_at FROM license_products ORDER BY product_id"); err != nil {
		return nil, fmt.Errorf("list license products: %w", err)
	}
	byKey := make(map[string][]model.LicenseProduct, len(licenses))
	for _, g := range grants {
		byKey[g.LicenseKey] = append(byKey[g.LicenseKey], g)
	}
	for i := range licenses {
		licenses[i].Products = byKey[licenses[i].Key]
		if licenses[i].Products == nil {
			licenses[i].Products = []model.LicenseProduct{}
		}
	}
	return licenses, nil
}

// DeleteLicense removes a license and its grants and sessions. It returns
// ErrConflict while a user account still owns the license.
func (s *Store) DeleteLicense(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM licenses WHERE license_key = ?"), key)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("delete license %s: owned by a user: %w", key, ErrConflict)
		}
		return fmt.Errorf("delete license: %w", err)
	}
	n, err := rowsAffected(res, "delete license")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LicenseHWID returns the bound fingerprint of a license, empty if unbound.
func (s *Store) LicenseHWID(ctx context.Context, key string) (string, error) {
	var hwid string
	err := s.db.GetContext(ctx, &hwid, s.db.Rebind("SELECT hwid FROM licenses WHERE license_key = ?"), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get license hwid: %w", err)
	}
	return hwid, nil
}

// BindHWID records hwid on the license only if no fingerprint is bound yet.
// It reports whether this call performed the bind.
func (s *Store) BindHWID(ctx context.Context, key, hwid string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE licenses SET hwid = ? WHERE license_key = ? AND hwid = ''"), hwid, key)
	if err != nil {
		return false, fmt.Errorf("bind hwid: %w", err)
	}
	n, err := rowsAffected(res, "bind hwid")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ResetHWID clears the bound fingerprint so the next use binds again.
func (s *Store) ResetHWID(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE licenses SET hwid = '' WHERE license_key = ?"), key)
	if err != nil {
		return fmt.Errorf("reset hwid: %w", err)
	}
	n, err := rowsAffected(res, "reset hwid")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// License products
// ---------------------------------------------------------------------------

const licenseProductColumns = "license_key, product_id, duration, started_at"

// ListLicenseProducts returns the grants held by a license.
func (s *Store) ListLicenseProducts(ctx context.Context, key string) ([]model.LicenseProduct, error) {
	grants := []model.LicenseProduct{}
	err := s.db.SelectContext(ctx, &grants,
		s.db.Rebind("SELECT "+licenseProductColumns+" FROM license_products WHERE license_key = ? ORDER BY product_id"), key)
	if err != nil {
		return nil, fmt.Errorf("list license products: %w", err)
	}
	return grants, nil
}

// GetLicenseProduct returns the grant of productID held by a license.
func (s *Store) GetLicenseProduct(ctx context.Context, key, productID string) (*model.LicenseProduct, error) {
	var lp model.LicenseProduct
	err := s.db.GetContext(ctx, &lp,
		s.db.Rebind("SELECT "+licenseProductColumns+" FROM license_products WHERE license_key = ? AND product_id = ?"),
		key, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license product: %w", err)
	}
	return &lp, nil
}

// SetLicenseProduct creates or replaces a grant, restarting its window.
func (t *Tx) SetLicenseProduct(ctx context.Context, lp *model.LicenseProduct) error {
	const q = `INSERT INTO license_products (license_key, product_id, duration, started_at)
		VALUES (:license_key, :product_id, :duration, :started_at)
		ON CONFLICT (license_key, product_id)
		DO UPDATE SET duration = excluded.duration, started_at = excluded.started_at`

	if _, err := t.tx.NamedExecContext(ctx, q, lp); err != nil {
		return fmt.Errorf("set license product: %w", err)
	}
	return nil
}

// InsertLicenseProduct creates a new grant. It fails if one already exists.
func (t *Tx) InsertLicenseProduct(ctx context.Context, lp *model.LicenseProduct) error {
	const q = `INSERT INTO license_products (license_key, product_id, duration, started_at)
		VALUES (:license_key, :product_id, :duration, :started_at)`

	if _, err := t.tx.NamedExecContext(ctx, q, lp); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert license product: %w", err)
	}
	return nil
}

// GrantLicenseProduct creates lp if the license does not hold the product
// yet, otherwise adds lp.Duration to the existing grant and keeps its window
// start. It reports whether an existing grant was extended. The insert skips
// on conflict, so a concurrent grant of the same product is extended rather
// than failing.
func (t *Tx) GrantLicenseProduct(ctx context.Context, lp *model.LicenseProduct) (bool, error) {
	const q = `INSERT INTO license_products (license_key, product_id, duration, started_at)
		VALUES (:license_key, :product_id, :duration, :started_at)
		ON CONFLICT (license_key, product_id) DO NOTHING`

	res, err := t.tx.NamedExecContext(ctx, q, lp)
	if err != nil {
		return false, fmt.Errorf("grant license product: %w", err)
	}
	n, err := rowsAffected(res, "grant license product")
	if err != nil {
		return false, err
	}
	if n == 1 {
		return false, nil
	}
	extended, err := t.ExtendLicenseProduct(ctx, lp.LicenseKey, lp.ProductID, lp.Duration)
	if err != nil {
		return false, err
	}
	if !extended {
		return false, fmt.Errorf("grant license product %s/%s: row vanished", lp.LicenseKey, lp.ProductID)
	}
	return true, nil
}

// ExtendLicenseProduct adds seconds to an existing grant without moving its
// window start. It reports false if the license does not hold the product.
func (t *Tx) ExtendLicenseProduct(ctx context.Context, key, productID string, seconds int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		t.tx.Rebind("UPDATE license_products SET duration = duration + ? WHERE license_key = ? AND product_id = ?"),
		seconds, key, productID)
	if err != nil {
		return false, fmt.Errorf("extend license product: %w", err)
	}
	n, err := rowsAffected(res, "extend license product")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RemoveLicenseProduct deletes a grant.
func (t *Tx) RemoveLicenseProduct(ctx context.Context, key, productID string) error {
	res, err := t.tx.ExecContext(ctx,
		t.tx.Rebind("DELETE FROM license_products WHERE license_key = ? AND product_id = ?"), key, productID)
	if err != nil {
		return fmt.Errorf("remove license product: %w", err)
	}
	n, err := rowsAffected(res, "remove license product")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LicenseExists reports whether the license exists, inside the transaction.
func (t *Tx) LicenseExists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, t.tx.Rebind("SELECT COUNT(*) FROM licenses WHERE license_key = ?"), key); err != nil {
		return false, fmt.Errorf("check license: %w", err)
	}
	return n > 0, nil
}
