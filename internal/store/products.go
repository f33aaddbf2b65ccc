package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

const productColumns = "id, name, frozen, frozen_at, created_at"

// CreateProduct inserts a product. It returns ErrConflict if the id is taken.
func (s *Store) CreateProduct(ctx context.Context, p *model.Product) error {
	const q = `INSERT INTO products (id, name, frozen, frozen_at, created_at)
		VALUES (:id, :name, :frozen, :frozen_at, :created_at)
		ON CONFLICT (id) DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	n, err := rowsAffected(res, "insert product")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// GetProduct returns a product by id.
func (s *Store) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, q queryer, id string) (*model.Product, error) {
	var p model.Product
	err := q.GetContext(ctx, &p, q.Rebind("SELECT "+productColumns+" FROM products WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// ListProducts returns every product ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := s.db.SelectContext(ctx, &products, "SELECT "+productColumns+" FROM products ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// DeleteProduct removes a product. Entitlements and unredeemed keys for the
// product are removed with it.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM products WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	n, err := rowsAffected(res, "delete product")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FreezeProduct marks a product frozen as of now. It returns ErrNotFound for
// an unknown product and ErrConflict if the product is already frozen.
func (s *Store) FreezeProduct(ctx context.Context, id string, now int64) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE products SET frozen = ?, frozen_at = ? WHERE id = ? AND frozen = ?"),
		true, now, id, false)
	if err != nil {
		return fmt.Errorf("freeze product: %w", err)
	}
	n, err := rowsAffected(res, "freeze product")
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetProduct(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

// CountProductHolders returns how many licenses hold the product.
func (s *Store) CountProductHolders(ctx context.Context, productID string) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM license_products WHERE product_id = ?"), productID)
	if err != nil {
		return 0, fmt.Errorf("count product holders: %w", err)
	}
	return n, nil
}

// ExtendProductHolders adds seconds to the duration of every grant of the
// product and returns how many grants were changed.
func (s *Store) ExtendProductHolders(ctx context.Context, productID string, seconds int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE license_products SET duration = duration + ? WHERE product_id = ?"),
		seconds, productID)
	if err != nil {
		return 0, fmt.Errorf("extend product holders: %w", err)
	}
	return rowsAffected(res, "extend product holders")
}

// ---------------------------------------------------------------------------
// Transactional product primitives
// ---------------------------------------------------------------------------

// GetProduct reads a product inside the transaction.
func (t *Tx) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return getProduct(ctx, t.tx, id)
}

// MarkUnfrozen clears the frozen flag if it is set and reports whether it
// was. frozen_at is left intact so the caller can compute the shift.
func (t *Tx) MarkUnfrozen(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		t.tx.Rebind("UPDATE products SET frozen = ? WHERE id = ? AND frozen = ?"),
		false, id, true)
	if err != nil {
		return false, fmt.Errorf("unfreeze product: %w", err)
	}
	n, err := rowsAffected(res, "unfreeze product")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ShiftGrantWindows compensates the holders of a product frozen from
// frozenAt until unfrozenAt in a single statement. A grant started before the
// freeze moves forward by the whole frozen span; a grant started during the
// freeze moves to unfrozenAt; later grants are untouched. It returns the
// number of grants shifted.
func (t *Tx) ShiftGrantWindows(ctx context.Context, productID string, frozenAt, unfrozenAt int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`UPDATE license_products SET started_at = CASE
			WHEN started_at <= ? THEN started_at + ?
			ELSE ?
		END
		WHERE product_id = ? AND started_at < ?`),
		frozenAt, unfrozenAt-frozenAt, unfrozenAt, productID, unfrozenAt)
	if err != nil {
		return 0, fmt.Errorf("shift grant windows: %w", err)
	}
	return rowsAffected(res, "shift grant windows")
}

// ResetFrozenAt zeroes the freeze instant of a product.
func (t *Tx) ResetFrozenAt(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind("UPDATE products SET frozen_at = 0 WHERE id = ?"), id); err != nil {
		return fmt.Errorf("reset frozen_at: %w", err)
	}
	return nil
}
