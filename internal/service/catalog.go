package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

// ProductStatus is the entitlement view of one product for one license.
type ProductStatus struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Frozen    bool   `json:"frozen"`
	Duration  int64  `json:"duration"`
	StartedAt int64  `json:"started_at"`
	Remaining int64  `json:"time_remaining"`
	Expired   bool   `json:"expired"`
	ExpiresAt int64  `json:"expires_at"`
}

// UnfreezeResult reports the compensation applied by an unfreeze.
type UnfreezeResult struct {
	ProductID string `json:"product_id"`
	FrozenFor int64  `json:"frozen_for"`
	Shifted   int64  `json:"licenses_compensated"`
}

// Catalog manages products, license grants, and sessions.
type Catalog struct {
	store   *store.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewCatalog(st *store.Store, metrics *telemetry.Metrics, logger *slog.Logger) *Catalog {
	return &Catalog{store: st, metrics: metrics, logger: logger, now: time.Now}
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func (c *Catalog) CreateProduct(ctx context.Context, id, name string) (*model.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, validationf("product id is required")
	}
	if name == "" {
		name = id
	}
	p := &model.Product{ID: id, Name: name, CreatedAt: c.now().Unix()}
	if err := c.store.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrProductExists
		}
		return nil, err
	}
	c.logger.Info("product created", "product_id", id)
	return p, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	return p, translate(err, ErrInvalidProduct)
}

func (c *Catalog) ListProducts(ctx context.Context) ([]model.Product, error) {
	return c.store.ListProducts(ctx)
}

// DeleteProduct removes a product along with every grant and unredeemed key
// for it.
func (c *Catalog) DeleteProduct(ctx context.Context, id string) error {
	if err := c.store.DeleteProduct(ctx, id); err != nil {
		return translate(err, ErrInvalidProduct)
	}
	c.logger.Info("product deleted", "product_id", id)
	return nil
}

// FreezeProduct pauses entitlement time for every holder of the product.
func (c *Catalog) FreezeProduct(ctx context.Context, id string) error {
	err := c.store.FreezeProduct(ctx, id, c.now().Unix())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrInvalidProduct
	case errors.Is(err, store.ErrConflict):
		return ErrAlreadyFrozen
	case err != nil:
		return err
	}
	c.metrics.ObserveFreeze("freeze")
	c.logger.Info("product frozen", "product_id", id)
	return nil
}

// UnfreezeProduct lifts a freeze and moves the grant-window start of every
// holder forward by the frozen time that overlapped its grant, so no holder
// loses entitlement time. Holders from before the freeze shift by the whole
// span. The flag change and the shift commit together.
func (c *Catalog) UnfreezeProduct(ctx context.Context, id string) (*UnfreezeResult, error) {
	now := c.now().Unix()
	res := &UnfreezeResult{ProductID: id}
	err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		wasFrozen, err := tx.MarkUnfrozen(ctx, id)
		if err != nil {
			return err
		}
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return translate(err, ErrInvalidProduct)
		}
		if !wasFrozen {
			return ErrAlreadyUnfrozen
		}

		res.FrozenFor = entitlement.FrozenFor(p.FrozenAt, now)
		if res.FrozenFor > 0 {
			if res.Shifted, err = tx.ShiftGrantWindows(ctx, id, p.FrozenAt, now); err != nil {
				return err
			}
		}
		return tx.ResetFrozenAt(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveFreeze("unfreeze")
	c.logger.Info("product unfrozen",
		"product_id", id,
		"frozen_for", res.FrozenFor,
		"licenses_compensated", res.Shifted,
	)
	return res, nil
}

// CompensateProduct adds hours of entitlement to every holder of a product and
// returns how many grants were extended.
func (c *Catalog) CompensateProduct(ctx context.Context, id string, hours int64) (int64, error) {
	if hours <= 0 {
		return 0, validationf("time_hours must be positive")
	}
	if _, err := c.store.GetProduct(ctx, id); err != nil {
		return 0, translate(err, ErrInvalidProduct)
	}
	n, err := c.store.ExtendProductHolders(ctx, id, hours*3600)
	if err != nil {
		return 0, err
	}
	c.logger.Info("product holders compensated", "product_id", id, "hours", hours, "users_compensated", n)
	return n, nil
}

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

func (c *Catalog) GetLicense(ctx context.Context, key string) (*model.License, error) {
	l, err := c.store.GetLicense(ctx, key)
	return l, translate(err, ErrInvalidLicense)
}

func (c *Catalog) ListLicenses(ctx context.Context) ([]model.License, error) {
	return c.store.ListLicenses(ctx)
}

// DeleteLicense removes a license. Licenses backing a user account are
// refused with ErrLicenseOwned.
func (c *Catalog) DeleteLicense(ctx context.Context, key string) error {
	err := c.store.DeleteLicense(ctx, key)
	if errors.Is(err, store.ErrConflict) {
		return ErrLicenseOwned
	}
	return translate(err, ErrInvalidLicense)
}

// ResetHWID unbinds a license so the next fingerprint presented binds it.
func (c *Catalog) ResetHWID(ctx context.Context, key string) error {
	if err := c.store.ResetHWID(ctx, key); err != nil {
		return translate(err, ErrInvalidLicense)
	}
	c.logger.Info("hardware fingerprint reset", "license_key", key)
	return nil
}

// AddProductsToLicense grants each product its duration in seconds, replacing
// any existing grant and starting every window now.
func (c *Catalog) AddProductsToLicense(ctx context.Context, key string, productDurations map[string]int64) error {
	if len(productDurations) == 0 {
		return validationf("at least one product is required")
	}
	now := c.now().Unix()
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.LicenseExists(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidLicense
		}
		for _, id := range sortedKeys(productDurations) {
			seconds := productDurations[id]
			if seconds < 0 {
				return validationf("duration for product %q must not be negative", id)
			}
			if _, err := tx.GetProduct(ctx, id); err != nil {
				return translate(err, ErrInvalidProduct)
			}
			lp := &model.LicenseProduct{LicenseKey: key, ProductID: id, Duration: seconds, StartedAt: now}
			if err := tx.SetLicenseProduct(ctx, lp); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveProductsFromLicense revokes grants. Every product must be held.
func (c *Catalog) RemoveProductsFromLicense(ctx context.Context, key string, productIDs []string) error {
	if len(productIDs) == 0 {
		return validationf("at least one product is required")
	}
	return c.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.LicenseExists(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidLicense
		}
		for _, id := range productIDs {
			if err := tx.RemoveLicenseProduct(ctx, key, id); err != nil {
				return translate(err, ErrInvalidProduct)
			}
		}
		return nil
	})
}

// LicenseProductStatus reports the entitlement of a license to one product.
func (c *Catalog) LicenseProductStatus(ctx context.Context, key, productID string) (*ProductStatus, error) {
	if ok, err := c.store.LicenseExists(ctx, key); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrInvalidLicense
	}
	grant, err := c.store.GetLicenseProduct(ctx, key, productID)
	if err != nil {
		return nil, translate(err, ErrInvalidProduct)
	}
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, translate(err, ErrInvalidProduct)
	}
	st := c.status(*grant, p)
	return &st, nil
}

// AccountProducts lists the products available to the credential holder.
// Privileged roles see every product with unbounded time; other subjects
// see their unexpired grants.
func (c *Catalog) AccountProducts(ctx context.Context, claims *credential.Claims) ([]ProductStatus, error) {
	products, err := c.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	out := []ProductStatus{}
	if claims.Role.IsPrivileged() {
		for _, p := range products {
			out = append(out, ProductStatus{
				ProductID: p.ID,
				Name:      p.Name,
				Frozen:    p.Frozen,
				Duration:  entitlement.Unbounded,
				Remaining: entitlement.Unbounded,
				ExpiresAt: entitlement.Unbounded,
			})
		}
		return out, nil
	}

	u, err := c.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	grants, err := c.store.ListLicenseProducts(ctx, u.LicenseKey)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		p, ok := byID[g.ProductID]
		if !ok {
			continue
		}
		st := c.status(g, p)
		if st.Expired {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (c *Catalog) status(g model.LicenseProduct, p *model.Product) ProductStatus {
	elapsed, expired := entitlement.Remaining(g.Duration, g.StartedAt, c.now().Unix())
	st := ProductStatus{
		ProductID: g.ProductID,
		Name:      p.Name,
		Frozen:    p.Frozen,
		Duration:  g.Duration,
		StartedAt: g.StartedAt,
		Expired:   expired,
		ExpiresAt: entitlement.ExpiresAt(g.Duration, g.StartedAt),
	}
	if !expired {
		st.Remaining = g.Duration - elapsed
	}
	return st
}

// LoginAttempts returns the newest authorization attempts for a license.
func (c *Catalog) LoginAttempts(ctx context.Context, key string, limit int) ([]model.LoginAttempt, error) {
	return c.store.ListLogins(ctx, key, limit)
}

// ---------------------------------------------------------------------------
// Redemption keys
// ---------------------------------------------------------------------------

// ListRedemptionKeys returns the unredeemed keys, optionally for one product.
func (c *Catalog) ListRedemptionKeys(ctx context.Context, productID string) ([]model.RedemptionKey, error) {
	return c.store.ListRedemptionKeys(ctx, productID)
}

// DeleteRedemptionKey withdraws an unredeemed key.
func (c *Catalog) DeleteRedemptionKey(ctx context.Context, key string) error {
	if err := c.store.DeleteRedemptionKey(ctx, key); err != nil {
		return translate(err, ErrInvalidOrUsedKey)
	}
	c.logger.Info("redemption key deleted", "key", key)
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// StartSession opens a session for a license.
func (c *Catalog) StartSession(ctx context.Context, key string) (*model.Session, error) {
	if ok, err := c.store.LicenseExists(ctx, key); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrInvalidLicense
	}
	sess := &model.Session{ID: newID(), LicenseKey: key, Started: c.now().Unix()}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// EndSession closes an open session of a license.
func (c *Catalog) EndSession(ctx context.Context, key, id string) error {
	return translate(c.store.EndSession(ctx, key, id, c.now().Unix()), ErrSessionNotFound)
}

func (c *Catalog) ListSessions(ctx context.Context, key string) ([]model.Session, error) {
	return c.store.ListSessions(ctx, key)
}

func (c *Catalog) ListActiveSessions(ctx context.Context) ([]model.Session, error) {
	return c.store.ListActiveSessions(ctx)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
