package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// Redemption keys
// ---------------------------------------------------------------------------

const redemptionKeyColumns = "key, product_id, duration, created_at"

// InsertRedemptionKey stores a new key. It reports false without error if the
// key already exists.
func (s *Store) InsertRedemptionKey(ctx context.Context, k *model.RedemptionKey) (bool, error) {
	const q = `INSERT INTO redemption_keys (` + redemptionKeyColumns + `)
		VALUES (:key, :product_id, :duration, :created_at)
		ON CONFLICT (key) DO NOTHING`

	res, err := s.db.NamedExecContext(ctx, q, k)
	if err != nil {
		return false, fmt.Errorf("insert redemption key: %w", err)
	}
	n, err := rowsAffected(res, "insert redemption key")
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListRedemptionKeys returns unredeemed keys, optionally for one product.
func (s *Store) ListRedemptionKeys(ctx context.Context, productID string) ([]model.RedemptionKey, error) {
	var (
		keys []model.RedemptionKey
		err  error
	)
	if productID == "" {
		err = s.db.SelectContext(ctx, &keys,
			"SELECT "+redemptionKeyColumns+" FROM redemption_keys ORDER BY created_at, key")
	} else {
		err = s.db.SelectContext(ctx, &keys,
			s.db.Rebind("SELECT "+redemptionKeyColumns+" FROM redemption_keys WHERE product_id = ? ORDER BY created_at, key"),
			productID)
	}
	if err != nil {
		return nil, fmt.Errorf("list redemption keys: %w", err)
	}
	return keys, nil
}

// DeleteRedemptionKey withdraws an unredeemed key.
func (s *Store) DeleteRedemptionKey(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM redemption_keys WHERE key = ?"), key)
	if err != nil {
		return fmt.Errorf("delete redemption key: %w", err)
	}
	n, err := rowsAffected(res, "delete redemption key")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeRedemptionKey deletes the key and returns the deleted row in a
// single statement. Of any number of concurrent callers exactly one receives
// the row; the others get ErrNotFound.
func (t *Tx) ConsumeRedemptionKey(ctx context.Context, key string) (*model.RedemptionKey, error) {
	var k model.RedemptionKey
	err := t.tx.GetContext(ctx, &k,
		t.tx.Rebind("DELETE FROM redemption_keys WHERE key = ? RETURNING "+redemptionKeyColumns), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consume redemption key: %w", err)
	}
	return &k, nil
}
