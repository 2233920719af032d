// Package config loads gatehouse settings: built-in defaults, then an
// optional YAML file, then GATEHOUSE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/session"
)

// Policy names the HTTP layer looks up.
const (
	PolicyAuditRead  = "audit-read"
	PolicyAuditWrite = "audit-write"
	PolicyAssignRole = "assign-role"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr    string   `yaml:"http_addr"`
	GRPCAddr    string   `yaml:"grpc_addr"`
	LogLevel    string   `yaml:"log_level"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	CORSOrigins []string `yaml:"cors_origins"`

	Redis     RedisConfig     `yaml:"redis"`
	Tokens    TokenConfig     `yaml:"tokens"`
	HTTPLimit HTTPLimitConfig `yaml:"http_limit"`
	Cache     CacheConfig     `yaml:"user_cache"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	Session       session.Config             `yaml:"session"`
	Security      session.SecurityConfig     `yaml:"security"`
	Login         session.LoginLimiterConfig `yaml:"login"`
	SweepSchedule string                     `yaml:"sweep_schedule"`
	AuditCapacity int                        `yaml:"audit_capacity"`
	EventCapacity int                        `yaml:"event_capacity"`

	Hierarchy access.Hierarchy `yaml:"hierarchy"`
	Policies  []access.Policy  `yaml:"policies"`
}

// RedisConfig enables Redis token storage when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// TokenConfig configures token signing.
type TokenConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
}

// HTTPLimitConfig is the per-IP token bucket in front of the HTTP API.
type HTTPLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CacheConfig sizes the user lookup cache.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// BootstrapConfig seeds a super admin into the in-memory user store.
type BootstrapConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",
		Redis:    RedisConfig{Prefix: "gatehouse:tokens"},
		Tokens: TokenConfig{
			Issuer:     "gatehouse",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		HTTPLimit:     HTTPLimitConfig{RPS: 50, Burst: 100},
		Cache:         CacheConfig{Size: 1024, TTL: time.Minute},
		Session:       session.DefaultConfig(),
		Security:      session.DefaultSecurityConfig(),
		Login:         session.DefaultLoginLimiterConfig(),
		SweepSchedule: session.DefaultSweepSchedule,
		AuditCapacity: 1000,
		EventCapacity: session.DefaultEventCapacity,
		Hierarchy:     copyHierarchy(access.DefaultHierarchy),
		Policies:      DefaultPolicies(),
	}
}

// DefaultPolicies guard the audit and role-assignment endpoints.
func DefaultPolicies() []access.Policy {
	return []access.Policy{
		access.RequirePermissions(auth.PermAuditRead).Named(PolicyAuditRead),
		access.RequirePermissions(auth.PermAuditWrite).Named(PolicyAuditWrite),
		access.RequirePermissions(auth.PermRolesAssign).Named(PolicyAssignRole),
	}
}

// Load builds a Config from defaults, the YAML file at path (when not
// empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	defaults := cfg.Hierarchy
	cfg.Hierarchy = nil
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	// A hierarchy in the file replaces the defaults instead of merging.
	if cfg.Hierarchy == nil {
		cfg.Hierarchy = defaults
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("GATEHOUSE_HTTP_ADDR", &cfg.HTTPAddr)
	str("GATEHOUSE_GRPC_ADDR", &cfg.GRPCAddr)
	str("GATEHOUSE_LOG_LEVEL", &cfg.LogLevel)
	str("GATEHOUSE_PG_DSN", &cfg.PostgresDSN)
	str("GATEHOUSE_REDIS_ADDR", &cfg.Redis.Addr)
	str("GATEHOUSE_REDIS_PASSWORD", &cfg.Redis.Password)
	str("GATEHOUSE_ACCESS_SECRET", &cfg.Tokens.AccessSecret)
	str("GATEHOUSE_REFRESH_SECRET", &cfg.Tokens.RefreshSecret)
	str("GATEHOUSE_TOKEN_ISSUER", &cfg.Tokens.Issuer)
	str("GATEHOUSE_SWEEP_SCHEDULE", &cfg.SweepSchedule)
	str("GATEHOUSE_BOOTSTRAP_EMAIL", &cfg.Bootstrap.Email)
	str("GATEHOUSE_BOOTSTRAP_PASSWORD", &cfg.Bootstrap.Password)

	if err := dur("GATEHOUSE_ACCESS_TTL", &cfg.Tokens.AccessTTL); err != nil {
		return err
	}
	if err := dur("GATEHOUSE_REFRESH_TTL", &cfg.Tokens.RefreshTTL); err != nil {
		return err
	}
	if v, ok := lookup("GATEHOUSE_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: GATEHOUSE_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := lookup("GATEHOUSE_CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}
	return nil
}

// Validate checks secrets, the hierarchy and every configured policy.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Tokens.AccessSecret) == "" || strings.TrimSpace(c.Tokens.RefreshSecret) == "" {
		errs = append(errs, errors.New("tokens: access_secret and refresh_secret are required"))
	} else if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("tokens: access_secret and refresh_secret must differ"))
	}
	for role, level := range c.Hierarchy {
		if level < 0 {
			errs = append(errs, fmt.Errorf("hierarchy: %s has negative level %d", role, level))
		}
	}
	seen := make(map[string]struct{}, len(c.Policies))
	for i, p := range c.Policies {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("policies[%d]: name is required", i))
			continue
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = struct{}{}
		if err := access.ValidatePolicy(p); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d] %s: %w", i, p.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Policy returns the named policy, falling back to the built-in one.
func (c Config) Policy(name string) (access.Policy, bool) {
	for _, p := range c.Policies {
		if p.Name == name {
			return p, true
		}
	}
	for _, p := range DefaultPolicies() {
		if p.Name == name {
			return p, true
		}
	}
	return access.Policy{}, false
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

func copyHierarchy(h access.Hierarchy) access.Hierarchy {
	out := make(access.Hierarchy, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
