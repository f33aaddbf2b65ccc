// Package config holds the keygate configuration: defaults, loading through
// viper, validation, and the YAML file format.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 32

const redacted = "********"

// Config is the top-level keygate configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Keys      KeysConfig      `yaml:"keys" mapstructure:"keys"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	MCP       MCPConfig       `yaml:"mcp" mapstructure:"mcp"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	TLS             TLSConfig     `yaml:"tls" mapstructure:"tls"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
}

// DatabaseConfig selects the relational store. An empty sqlite DSN stores
// keygate.db in the data directory.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// RedisConfig points at the revocation store.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// AuthConfig controls credential issuance and validation.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenLifetime time.Duration `yaml:"token_lifetime" mapstructure:"token_lifetime"`
	APIKey        string        `yaml:"api_key" mapstructure:"api_key"`
	// RevocationFailOpen accepts credentials when the revocation store is
	// unreachable.
	RevocationFailOpen bool `yaml:"revocation_fail_open" mapstructure:"revocation_fail_open"`
}

// KeysConfig controls redemption key generation.
type KeysConfig struct {
	RedemptionPrefix string `yaml:"redemption_prefix" mapstructure:"redemption_prefix"`
}

// AuditConfig sizes the in-memory log ring.
type AuditConfig struct {
	RingCapacity int `yaml:"ring_capacity" mapstructure:"ring_capacity"`
}

// RateLimitConfig limits login and license authorization attempts per IP.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

// MCPConfig controls the admin MCP server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{Driver: "sqlite"},
		Auth: AuthConfig{
			TokenLifetime:      24 * time.Hour,
			RevocationFailOpen: true,
		},
		Audit:     AuditConfig{RingCapacity: 10000},
		RateLimit: RateLimitConfig{Enabled: true, Limit: 20, Window: time.Minute},
		MCP:       MCPConfig{Transport: "stdio", Addr: ":8081"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every default with v so that environment variables
// can override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", d.Auth.TokenLifetime)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.revocation_fail_open", d.Auth.RevocationFailOpen)
	v.SetDefault("keys.redemption_prefix", "")
	v.SetDefault("audit.ring_capacity", d.Audit.RingCapacity)
	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.limit", d.RateLimit.Limit)
	v.SetDefault("ratelimit.window", d.RateLimit.Window)
	v.SetDefault("mcp.transport", d.MCP.Transport)
	v.SetDefault("mcp.addr", d.MCP.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load decodes the effective configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	return &cfg, nil
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (use sqlite or postgres)", c.Database.Driver))
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required for postgres"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("ratelimit.limit and ratelimit.window must be positive"))
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, fmt.Errorf("mcp.transport %q is not supported (use stdio or http)", c.MCP.Transport))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Auth.JWTSecret != "" {
		cp.Auth.JWTSecret = redacted
	}
	if cp.Auth.APIKey != "" {
		cp.Auth.APIKey = redacted
	}
	if cp.Redis.URL != "" {
		cp.Redis.URL = redactURL(cp.Redis.URL)
	}
	if cp.Database.DSN != "" && cp.Database.Driver != "sqlite" {
		cp.Database.DSN = redactURL(cp.Database.DSN)
	}
	return &cp
}

// redactURL masks the password in a user:password@host URL.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return raw
	}
	scheme := strings.Index(raw, "://")
	start := 0
	if scheme >= 0 {
		start = scheme + 3
	}
	colon := strings.Index(raw[start:at], ":")
	if colon < 0 {
		return raw
	}
	return raw[:start+colon+1] + redacted + raw[at:]
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := Default().Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
