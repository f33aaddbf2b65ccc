package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

// RedeemResult describes a successful redemption.
type RedeemResult struct {
	Outcome    model.RedeemOutcome `json:"outcome"`
	LicenseKey string              `json:"license_key"`
	ProductID  string              `json:"product_id"`
	Duration   int64               `json:"duration"`
}

// Redeemer consumes redemption keys and applies them to licenses.
type Redeemer struct {
	store   *store.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedeemer(st *store.Store, metrics *telemetry.Metrics, logger *slog.Logger) *Redeemer {
	return &Redeemer{store: st, metrics: metrics, logger: logger, now: time.Now}
}

// Redeem applies key to the license owned by subject.
func (r *Redeemer) Redeem(ctx context.Context, key, subject string) (*RedeemResult, error) {
	u, err := r.store.GetUser(ctx, subject)
	if err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	return r.RedeemForLicense(ctx, key, u.LicenseKey)
}

// RedeemForLicense applies key to licenseKey. The key is deleted and the
// grant written in one transaction: if the license already holds the product
// its duration is extended and its window start is kept, otherwise a new
// grant starts now. Concurrent redemptions of the same key succeed at most
// once; the rest get ErrInvalidOrUsedKey.
func (r *Redeemer) RedeemForLicense(ctx context.Context, key, licenseKey string) (*RedeemResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, validationf("key is required")
	}

	now := r.now().Unix()
	var res *RedeemResult
	err := r.store.WithTx(ctx, func(tx *store.Tx) error {
		rk, err := tx.ConsumeRedemptionKey(ctx, key)
		if err != nil {
			return translate(err, ErrInvalidOrUsedKey)
		}
		res = &RedeemResult{LicenseKey: licenseKey, ProductID: rk.ProductID, Duration: rk.Duration}

		exists, err := tx.LicenseExists(ctx, licenseKey)
		if err != nil {
			return err
		}
		if !exists {
			return ErrInvalidLicense
		}

		extended, err := tx.GrantLicenseProduct(ctx, &model.LicenseProduct{
			LicenseKey: licenseKey,
			ProductID:  rk.ProductID,
			Duration:   rk.Duration,
			StartedAt:  now,
		})
		if err != nil {
			return err
		}
		res.Outcome = model.RedeemGranted
		if extended {
			res.Outcome = model.RedeemExtended
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrUsedKey) {
			r.metrics.ObserveRedemption("InvalidOrUsedKey")
			return nil, err
		}
		r.metrics.ObserveRedemption("Error")
		if res != nil {
			r.logger.Error("redemption rolled back, key not consumed", "license_key", licenseKey, "error", err)
		}
		return nil, translate(err, nil)
	}

	r.metrics.ObserveRedemption(string(res.Outcome))
	r.logger.Info("key redeemed",
		"license_key", licenseKey,
		"product_id", res.ProductID,
		"duration", res.Duration,
		"outcome", string(res.Outcome),
	)
	return res, nil
}
