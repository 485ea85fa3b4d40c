// Package config loads runtime settings for the portal identity service.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session keyspace backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr    string         `yaml:"http_addr"`
	DatabaseDSN string         `yaml:"database_dsn"`
	Production  bool           `yaml:"production"`
	LogLevel    string         `yaml:"log_level"`
	Sessions    SessionConfig  `yaml:"sessions"`
	Redis       RedisConfig    `yaml:"redis"`
	Passwords   PasswordConfig `yaml:"passwords"`
	HTTP        HTTPConfig     `yaml:"http"`
	Audit       AuditConfig    `yaml:"audit"`
	Bootstrap   BootstrapAdmin `yaml:"bootstrap"`
}

// BootstrapAdmin is provisioned as a super admin into the in-memory account
// store when no database is configured.
type BootstrapAdmin struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// SessionConfig controls administrator session lifetime and storage.
type SessionConfig struct {
	Backend       string        `yaml:"backend"`
	CookieName    string        `yaml:"cookie_name"`
	ShortTTL      time.Duration `yaml:"short_ttl"`
	LongTTL       time.Duration `yaml:"long_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RedisConfig is used when Sessions.Backend is "redis".
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PasswordConfig tunes the credential hasher.
type PasswordConfig struct {
	MinLength     int    `yaml:"min_length"`
	MemoryKiB     uint32 `yaml:"memory_kib"`
	Iterations    uint32 `yaml:"iterations"`
	Parallelism   uint8  `yaml:"parallelism"`
	MaxConcurrent int64  `yaml:"max_concurrent"`
}

// HTTPConfig holds boundary limits.
type HTTPConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`
	RateBurst        int      `yaml:"rate_burst"`
	RatePerSecond    int      `yaml:"rate_per_second"`
	LoginPerMinute   int      `yaml:"login_per_minute"`
	ResolvePerMinute int      `yaml:"resolve_per_minute"`
	TrustedProxies   []string `yaml:"trusted_proxies"`
}

// ProxyPrefixes parses TrustedProxies. Bare addresses become single-host prefixes.
func (h HTTPConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AuditConfig sizes the asynchronous audit queue.
type AuditConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Sessions: SessionConfig{
			Backend:       BackendPostgres,
			CookieName:    "admin_session",
			ShortTTL:      8 * time.Hour,
			LongTTL:       14 * 24 * time.Hour,
			SweepInterval: 15 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "portal:",
		},
		Passwords: PasswordConfig{
			MinLength:   8,
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: 4,
		},
		HTTP: HTTPConfig{
			AllowedOrigins:   []string{"http://localhost:3000"},
			MaxBodyBytes:     1 << 20,
			RateBurst:        40,
			RatePerSecond:    20,
			LoginPerMinute:   10,
			ResolvePerMinute: 30,
		},
		Audit: AuditConfig{
			QueueSize:    256,
			RetryTimeout: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at path (if non-empty and present), applies
// PORTAL_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Sessions.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return errors.New("config: database_dsn is required for the postgres session backend")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Sessions.Backend)
	}
	if c.Sessions.Backend == BackendRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis.addr is required for the redis session backend")
	}
	if c.Sessions.ShortTTL <= 0 || c.Sessions.LongTTL <= 0 {
		return errors.New("config: session TTLs must be positive")
	}
	if c.Sessions.LongTTL < c.Sessions.ShortTTL {
		return errors.New("config: sessions.long_ttl must not be shorter than sessions.short_ttl")
	}
	if strings.TrimSpace(c.Sessions.CookieName) == "" {
		return errors.New("config: sessions.cookie_name is required")
	}
	if c.Passwords.MinLength < 8 {
		return errors.New("config: passwords.min_length must be at least 8")
	}
	if c.Passwords.MemoryKiB < 64*1024 || c.Passwords.Iterations < 3 || c.Passwords.Parallelism < 4 {
		return errors.New("config: argon2 parameters below the 64MiB/t=3/p=4 floor")
	}
	if _, err := c.HTTP.ProxyPrefixes(); err != nil {
		return err
	}
	if (c.Bootstrap.Email == "") != (c.Bootstrap.Password == "") {
		return errors.New("config: bootstrap.email and bootstrap.password must be set together")
	}
	if c.Audit.QueueSize <= 0 {
		return errors.New("config: audit.queue_size must be positive")
	}
	return nil
}

func applyEnv(c *Config) error {
	setString(&c.HTTPAddr, "PORTAL_HTTP_ADDR")
	setString(&c.DatabaseDSN, "PORTAL_PG_DSN")
	setString(&c.LogLevel, "PORTAL_LOG_LEVEL")
	setString(&c.Sessions.Backend, "PORTAL_SESSION_BACKEND")
	setString(&c.Sessions.CookieName, "PORTAL_SESSION_COOKIE")
	setString(&c.Redis.Addr, "PORTAL_REDIS_ADDR")
	setString(&c.Redis.Password, "PORTAL_REDIS_PASSWORD")
	setString(&c.Bootstrap.Email, "PORTAL_BOOTSTRAP_EMAIL")
	setString(&c.Bootstrap.Name, "PORTAL_BOOTSTRAP_NAME")
	setString(&c.Bootstrap.Password, "PORTAL_BOOTSTRAP_PASSWORD")
	if v := getenv("PORTAL_CORS_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v := getenv("PORTAL_TRUSTED_PROXIES"); v != "" {
		c.HTTP.TrustedProxies = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setBool(&c.Production, "PORTAL_PRODUCTION"),
		setDuration(&c.Sessions.ShortTTL, "PORTAL_SESSION_SHORT_TTL"),
		setDuration(&c.Sessions.LongTTL, "PORTAL_SESSION_LONG_TTL"),
		setDuration(&c.Sessions.SweepInterval, "PORTAL_SESSION_SWEEP_INTERVAL"),
		setInt(&c.Redis.DB, "PORTAL_REDIS_DB"),
		setInt(&c.Passwords.MinLength, "PORTAL_PASSWORD_MIN_LENGTH"),
	)
	return errors.Join(errs...)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = i
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
