package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/app"
	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/server"
)

const banner = `
 _  _______   _____  ____ _____ _____
| |/ / ____\ \ / / _|/ _  |_   _| ____|
| ' /|  _|  \ V / | _| (_| | | | |  _|
|_|\_\_____| |_| \___\__,_| |_| |_____|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long: `Start the HTTP server that answers license and account access checks and
exposes the administration API.

Revocations live in Redis (redis.url). With --dev an embedded store is used
instead and a random signing secret is generated when none is configured;
neither survives a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, embedded Redis)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, dev bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ring := audit.NewRing(cfg.Audit.RingCapacity)
	logger := newLogger(cfg, os.Stderr, dev, ring)

	if dev && cfg.Auth.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate dev secret: %w", err)
		}
		cfg.Auth.JWTSecret = hex.EncodeToString(secret)
		logger.Warn("no auth.jwt_secret configured, using a random secret; tokens will not survive a restart")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Print(banner)
	fmt.Println()

	a, err := app.New(ctx, cfg, app.Options{
		DataDir:       resolveDataDir(),
		Logger:        logger,
		Ring:          ring,
		EmbeddedRedis: dev,
	})
	if err != nil {
		return err
	}

	users, err := a.Accounts.ListUsers(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	hasAdmin := false
	for _, u := range users {
		if u.Role.IsPrivileged() {
			hasAdmin = true
			break
		}
	}
	if !hasAdmin && cfg.Auth.APIKey == "" {
		logger.Warn("no admin account or api key configured - run: keygate user create --role admin")
	}

	srv := server.New(a, versionString())

	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	fmt.Printf("→ Metrics:    %s/metrics\n", base)
	fmt.Println()

	return srv.ListenAndServe()
}
