package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

const (
	// MaxAttemptsPerKey bounds collision retries for a single key.
	MaxAttemptsPerKey = 10
	// MaxBatchSize is the largest redemption key batch.
	MaxBatchSize = 1000

	keyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// KeyFormat describes a dash-grouped uppercase alphanumeric key.
type KeyFormat struct {
	Prefix   string
	Groups   int
	GroupLen int
}

var (
	// LicenseKeyFormat yields keys like ABCDE-12345-FGHIJ.
	LicenseKeyFormat = KeyFormat{Groups: 3, GroupLen: 5}
	// RedemptionKeyFormat yields seven groups of five.
	RedemptionKeyFormat = KeyFormat{Groups: 7, GroupLen: 5}
)

// Generate draws a key from r.
func (f KeyFormat) Generate(r io.Reader) (string, error) {
	var b strings.Builder
	b.Grow(len(f.Prefix) + f.Groups*(f.GroupLen+1))
	b.WriteString(f.Prefix)
	base := big.NewInt(int64(len(keyCharset)))
	for g := 0; g < f.Groups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < f.GroupLen; i++ {
			n, err := rand.Int(r, base)
			if err != nil {
				return "", fmt.Errorf("generate key: %w", err)
			}
			b.WriteByte(keyCharset[n.Int64()])
		}
	}
	return b.String(), nil
}

// KeyStore is the storage used for key issuance. Insert methods report false
// without error when the key already exists.
type KeyStore interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	CreateLicense(ctx context.Context, l *model.License) (bool, error)
	InsertRedemptionKey(ctx context.Context, k *model.RedemptionKey) (bool, error)
}

// KeyOptions configures a KeyIssuer.
type KeyOptions struct {
	// RedemptionPrefix is prepended to every redemption key.
	RedemptionPrefix string
	// Random is the entropy source. Defaults to crypto/rand.
	Random io.Reader
}

// KeyIssuer generates collision-free license and redemption keys. Uniqueness
// is enforced by the store; a collision is retried with a fresh key.
type KeyIssuer struct {
	store   KeyStore
	random  io.Reader
	format  KeyFormat
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewKeyIssuer(st KeyStore, opts KeyOptions, metrics *telemetry.Metrics, logger *slog.Logger) *KeyIssuer {
	random := opts.Random
	if random == nil {
		random = rand.Reader
	}
	format := RedemptionKeyFormat
	format.Prefix = opts.RedemptionPrefix
	return &KeyIssuer{
		store:   st,
		random:  random,
		format:  format,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// NewLicenseKey draws a license key without reserving it.
func (k *KeyIssuer) NewLicenseKey() (string, error) {
	return LicenseKeyFormat.Generate(k.random)
}

// GenerateLicense creates a license granting each product its duration in
// seconds, every grant window starting now. All products must exist.
func (k *KeyIssuer) GenerateLicense(ctx context.Context, productDurations map[string]int64) (*model.License, error) {
	now := k.now().Unix()
	grants := make([]model.LicenseProduct, 0, len(productDurations))
	for id, seconds := range productDurations {
		if seconds < 0 {
			return nil, validationf("duration for product %q must not be negative", id)
		}
		if _, err := k.store.GetProduct(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: one or more products do not exist", ErrInvalidProduct)
			}
			return nil, err
		}
		grants = append(grants, model.LicenseProduct{ProductID: id, Duration: seconds, StartedAt: now})
	}

	for attempt := 0; attempt < MaxAttemptsPerKey; attempt++ {
		key, err := k.NewLicenseKey()
		if err != nil {
			return nil, err
		}
		l := &model.License{Key: key, CreatedAt: now, Products: grants}
		created, err := k.store.CreateLicense(ctx, l)
		if err != nil {
			return nil, err
		}
		if created {
			k.metrics.ObserveKeysIssued("license", 1)
			k.logger.Info("license generated", "license_key", key, "products", len(grants))
			return l, nil
		}
		k.logger.Debug("license key collision", "attempt", attempt+1)
	}
	return nil, ErrCollisionExhausted
}

// GenerateRedemptionKeys creates count single-use keys for productID, each
// granting duration seconds. If the collision bound is hit part way through,
// the keys created so far are returned together with an error wrapping
// ErrCollisionExhausted.
func (k *KeyIssuer) GenerateRedemptionKeys(ctx context.Context, productID string, duration int64, count int) ([]string, error) {
	if duration <= 0 {
		return nil, validationf("duration must be positive")
	}
	if count < 1 || count > MaxBatchSize {
		return nil, validationf("count must be between 1 and %d", MaxBatchSize)
	}
	if _, err := k.store.GetProduct(ctx, productID); err != nil {
		return nil, translate(err, ErrInvalidProduct)
	}

	now := k.now().Unix()
	keys := make([]string, 0, count)
	for len(keys) < count {
		key, err := k.insertRedemptionKey(ctx, productID, duration, now)
		if err != nil {
			k.metrics.ObserveKeysIssued("redemption", len(keys))
			return keys, fmt.Errorf("generated %d of %d keys: %w", len(keys), count, err)
		}
		keys = append(keys, key)
	}
	k.metrics.ObserveKeysIssued("redemption", len(keys))
	k.logger.Info("redemption keys generated", "product_id", productID, "count", len(keys), "duration", duration)
	return keys, nil
}

func (k *KeyIssuer) insertRedemptionKey(ctx context.Context, productID string, duration, now int64) (string, error) {
	for attempt := 0; attempt < MaxAttemptsPerKey; attempt++ {
		key, err := k.format.Generate(k.random)
		if err != nil {
			return "", err
		}
		ok, err := k.store.InsertRedemptionKey(ctx, &model.RedemptionKey{
			Key:       key,
			ProductID: productID,
			Duration:  duration,
			CreatedAt: now,
		})
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", ErrCollisionExhausted
}
