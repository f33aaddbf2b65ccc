package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/revocation"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

func init() {
	bcryptCost = bcrypt.MinCost
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store    *store.Store
	redis    *miniredis.Miniredis
	clock    *testClock
	ring     *audit.Ring
	recorder *audit.Recorder
	metrics  *telemetry.Metrics
	auth     *AuthService
	accounts *AccountService
	keys     *KeyIssuer
	authz    *Authorizer
	redeemer *Redeemer
	catalog  *Catalog
}

func newTestEnv(t *testing.T, opts AuthOptions) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ring := audit.NewRing(100)
	logger := slog.New(audit.NewHandler(slog.NewTextHandler(io.Discard, nil), ring))
	metrics := telemetry.New()

	codec := credential.NewCodec(testSecret, 0).WithClock(clock.Now)
	registry := revocation.NewRegistry(revocation.NewRedisKV(client))

	env := &testEnv{store: st, redis: mr, clock: clock, ring: ring, metrics: metrics}
	env.recorder = audit.NewRecorder(st, logger)
	t.Cleanup(env.recorder.Wait)

	env.auth = NewAuthService(st, codec, registry, opts, metrics, logger)
	env.auth.now = clock.Now
	env.keys = NewKeyIssuer(st, KeyOptions{}, metrics, logger)
	env.keys.now = clock.Now
	env.accounts = NewAccountService(st, env.auth, env.keys, logger)
	env.accounts.now = clock.Now
	env.authz = NewAuthorizer(st, NewHWIDPolicy(st), env.recorder, metrics, logger)
	env.authz.now = clock.Now
	env.redeemer = NewRedeemer(st, metrics, logger)
	env.redeemer.now = clock.Now
	env.catalog = NewCatalog(st, metrics, logger)
	env.catalog.now = clock.Now
	return env
}

func (e *testEnv) unix() int64 { return e.clock.Now().Unix() }

func (e *testEnv) mustProduct(t *testing.T, id string) {
	t.Helper()
	if _, err := e.catalog.CreateProduct(context.Background(), id, ""); err != nil {
		t.Fatalf("CreateProduct(%s): %v", id, err)
	}
}

func (e *testEnv) mustUser(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	u, err := e.accounts.CreateUser(context.Background(), email, "correct-horse", role)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

// grant gives the license a product with an explicit window.
func (e *testEnv) grant(t *testing.T, licenseKey, productID string, duration, startedAt int64) {
	t.Helper()
	err := e.store.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.SetLicenseProduct(context.Background(), &model.LicenseProduct{
			LicenseKey: licenseKey,
			ProductID:  productID,
			Duration:   duration,
			StartedAt:  startedAt,
		})
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
}
