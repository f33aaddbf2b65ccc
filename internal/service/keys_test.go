package service

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/keygate/keygate/internal/model"
)

var (
	licenseKeyPattern    = regexp.MustCompile(`^[A-Z0-9]{5}(-[A-Z0-9]{5}){2}$`)
	redemptionKeyPattern = regexp.MustCompile(`^KG-[A-Z0-9]{5}(-[A-Z0-9]{5}){6}$`)
)

func TestKeyFormatGenerate(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	key, err := env.keys.NewLicenseKey()
	if err != nil {
		t.Fatal(err)
	}
	if !licenseKeyPattern.MatchString(key) {
		t.Errorf("license key %q does not match format", key)
	}

	f := RedemptionKeyFormat
	f.Prefix = "KG-"
	key, err = f.Generate(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if !redemptionKeyPattern.MatchString(key) {
		t.Errorf("redemption key %q does not match format", key)
	}
}

func TestGenerateLicense(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	ctx := context.Background()
	env.mustProduct(t, "game")
	env.mustProduct(t, "tool")

	l, err := env.keys.GenerateLicense(ctx, map[string]int64{"game": 3600, "tool": 0})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.catalog.GetLicense(ctx, l.Key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Products) != 2 {
		t.Fatalf("products = %+v, want 2", got.Products)
	}
	for _, g := range got.Products {
		if g.StartedAt != env.unix() {
			t.Errorf("%s started at %d, want %d", g.ProductID, g.StartedAt, env.unix())
		}
	}

	if _, err := env.keys.GenerateLicense(ctx, map[string]int64{"game": 1, "missing": 1}); !errors.Is(err, ErrInvalidProduct) {
		t.Errorf("missing product error = %v, want ErrInvalidProduct", err)
	}
	if _, err := env.keys.GenerateLicense(ctx, map[string]int64{"game": -1}); !errors.Is(err, ErrValidation) {
		t.Errorf("negative duration error = %v, want ErrValidation", err)
	}
	licenses, _ := env.catalog.ListLicenses(ctx)
	if len(licenses) != 1 {
		t.Errorf("failed generations left %d licenses, want 1", len(licenses))
	}
}

func TestGenerateRedemptionKeys(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	ctx := context.Background()
	env.mustProduct(t, "game")

	keys, err := env.keys.GenerateRedemptionKeys(ctx, "game", 86400, 50)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
	stored, _ := env.store.ListRedemptionKeys(ctx, "game")
	if len(stored) != 50 {
		t.Errorf("stored %d keys, want 50", len(stored))
	}

	tests := []struct {
		name     string
		product  string
		duration int64
		count    int
		wantErr  error
	}{
		{"zero count", "game", 60, 0, ErrValidation},
		{"over batch limit", "game", 60, MaxBatchSize + 1, ErrValidation},
		{"zero duration", "game", 0, 1, ErrValidation},
		{"unknown product", "missing", 60, 1, ErrInvalidProduct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.keys.GenerateRedemptionKeys(ctx, tt.product, tt.duration, tt.count); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// fixedReader yields the same bytes on every read, so every generated key is
// identical.
type fixedReader struct{}

func (fixedReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x07
	}
	return len(p), nil
}

func TestGenerateRedemptionKeysCollisionBound(t *testing.T) {
	env := newTestEnv(t, AuthOptions{})
	ctx := context.Background()
	env.mustProduct(t, "game")

	keys := NewKeyIssuer(env.store, KeyOptions{Random: fixedReader{}}, env.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	got, err := keys.GenerateRedemptionKeys(ctx, "game", 60, 3)
	if !errors.Is(err, ErrCollisionExhausted) {
		t.Fatalf("error = %v, want ErrCollisionExhausted", err)
	}
	if len(got) != 1 {
		t.Errorf("returned %d keys before exhaustion, want 1", len(got))
	}

	if _, err := keys.GenerateLicense(ctx, nil); err != nil {
		t.Fatalf("first license: %v", err)
	}
	if _, err := keys.GenerateLicense(ctx, nil); !errors.Is(err, ErrCollisionExhausted) {
		t.Errorf("second license error = %v, want ErrCollisionExhausted", err)
	}
}

type countingKeyStore struct {
	KeyStore
	inserts int
}

func (s *countingKeyStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return &model.Product{ID: id}, nil
}

func (s *countingKeyStore) InsertRedemptionKey(ctx context.Context, k *model.RedemptionKey) (bool, error) {
	s.inserts++
	return false, nil
}

func TestCollisionRetriesAreBounded(t *testing.T) {
	st := &countingKeyStore{}
	keys := NewKeyIssuer(st, KeyOptions{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := keys.GenerateRedemptionKeys(context.Background(), "game", 60, 1); !errors.Is(err, ErrCollisionExhausted) {
		t.Fatalf("error = %v, want ErrCollisionExhausted", err)
	}
	if st.inserts != MaxAttemptsPerKey {
		t.Errorf("insert attempts = %d, want %d", st.inserts, MaxAttemptsPerKey)
	}
}
