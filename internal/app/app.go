// Package app assembles the keygate runtime: the store, the revocation
// client, and every service, shared by the HTTP server, the MCP server and
// the management commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/revocation"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

// Options carries the pieces that are decided outside the config file.
type Options struct {
	// DataDir holds keygate.db when the sqlite DSN is empty. An empty
	// DataDir with an empty DSN opens an in-memory database.
	DataDir string
	// Logger receives every log line. Defaults to slog.Default.
	Logger *slog.Logger
	// Ring buffers recent log lines for the admin API. Defaults to a ring
	// sized by Audit.RingCapacity.
	Ring *audit.Ring
	// Redis overrides Redis.URL.
	Redis redis.UniversalClient
	// EmbeddedRedis starts an in-process revocation store when no Redis
	// URL is configured. Revocations are lost on exit.
	EmbeddedRedis bool
}

// App is a fully wired keygate instance.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    *store.Store
	Redis    redis.UniversalClient
	Ring     *audit.Ring
	Recorder *audit.Recorder
	Metrics  *telemetry.Metrics

	Auth     *service.AuthService
	Accounts *service.AccountService
	Keys     *service.KeyIssuer
	Authz    *service.Authorizer
	Redeemer *service.Redeemer
	Catalog  *service.Catalog

	closers []func() error
}

// New opens the store and the revocation client and builds the services.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ring := opts.Ring
	if ring == nil {
		ring = audit.NewRing(cfg.Audit.RingCapacity)
	}
	a := &App{Config: cfg, Logger: logger, Ring: ring, Metrics: telemetry.New()}

	// 1. Relational store
	var err error
	if cfg.Database.DSN == "" && opts.DataDir != "" && cfg.Database.Driver == store.DriverSQLite {
		a.Store, err = store.OpenDataDir(ctx, opts.DataDir)
	} else {
		a.Store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)
	logger.Info("store initialized", "component", "app", "driver", a.Store.Driver())

	// 2. Revocation store
	if err := a.connectRedis(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	// 3. Services
	codec := credential.NewCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenLifetime)
	registry := revocation.NewRegistry(revocation.NewRedisKV(a.Redis))

	a.Recorder = audit.NewRecorder(a.Store, logger)
	a.closers = append(a.closers, func() error { a.Recorder.Wait(); return nil })

	a.Auth = service.NewAuthService(a.Store, codec, registry, service.AuthOptions{
		RevocationFailOpen: cfg.Auth.RevocationFailOpen,
		APIKey:             cfg.Auth.APIKey,
	}, a.Metrics, logger)
	a.Keys = service.NewKeyIssuer(a.Store, service.KeyOptions{
		RedemptionPrefix: cfg.Keys.RedemptionPrefix,
	}, a.Metrics, logger)
	a.Accounts = service.NewAccountService(a.Store, a.Auth, a.Keys, logger)
	a.Authz = service.NewAuthorizer(a.Store, service.NewHWIDPolicy(a.Store), a.Recorder, a.Metrics, logger)
	a.Redeemer = service.NewRedeemer(a.Store, a.Metrics, logger)
	a.Catalog = service.NewCatalog(a.Store, a.Metrics, logger)
	return a, nil
}

func (a *App) connectRedis(ctx context.Context, opts Options) error {
	switch {
	case opts.Redis != nil:
		a.Redis = opts.Redis
	case a.Config.Redis.URL != "":
		client, err := revocation.Connect(ctx, a.Config.Redis.URL)
		if err != nil {
			if !a.Config.Auth.RevocationFailOpen {
				return fmt.Errorf("init redis: %w", err)
			}
			// Fail-open: keep the client so it reconnects once Redis is back.
			a.Logger.Warn("redis unreachable, continuing fail-open", "component", "app", "error", err)
			opt, perr := redis.ParseURL(a.Config.Redis.URL)
			if perr != nil {
				opt = &redis.Options{Addr: a.Config.Redis.URL}
			}
			client = redis.NewClient(opt)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	case opts.EmbeddedRedis:
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		a.Redis = client
		a.closers = append(a.closers, func() error { mr.Close(); return nil }, client.Close)
		a.Logger.Warn("using embedded revocation store, revocations do not survive restart", "component", "app", "addr", mr.Addr())
	default:
		return errors.New("redis.url is required (or run with --dev)")
	}
	return nil
}

// Ready reports whether the store and the revocation store answer.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
