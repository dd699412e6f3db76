package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when neither -config nor TUBEPILOT_CONFIG is given.
const DefaultPath = "tubepilot.yaml"

// Config is the service configuration. It is loaded once at start-up and
// treated as read-only afterwards.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Access  AccessConfig  `yaml:"access"`
	Billing BillingConfig `yaml:"billing"`
	Auth    AuthConfig    `yaml:"auth"`
	LLM     LLMConfig     `yaml:"llm"`
	Redis   RedisConfig   `yaml:"redis"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr            string  `yaml:"addr"`
	GRPCAddr        string  `yaml:"grpc_addr"`
	BaseURL         string  `yaml:"base_url"`
	ReadTimeout     string  `yaml:"read_timeout"`
	WriteTimeout    string  `yaml:"write_timeout"`
	ShutdownTimeout string  `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64   `yaml:"max_body_bytes"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For. Empty means the peer address is always used.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// AccessConfig holds the operator allow-list.
type AccessConfig struct {
	AdminEmails []string `yaml:"admin_emails"`
}

// BillingConfig configures the Stripe entitlement lookup.
type BillingConfig struct {
	StripeAPIKey string `yaml:"stripe_api_key"`
	UpgradeURL   string `yaml:"upgrade_url"`
	PlanName     string `yaml:"plan_name"`
	Timeout      string `yaml:"timeout"`
	// BackendURL overrides the Stripe API host (stripe-mock, tests).
	BackendURL string `yaml:"backend_url"`
}

// AuthConfig configures Google login and session cookies.
type AuthConfig struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	Issuer             string `yaml:"issuer"`
	SessionSecret      string `yaml:"session_secret"`
	SessionTTL         string `yaml:"session_ttl"`
	StateTTL           string `yaml:"state_ttl"`
}

// LLMConfig configures the language model.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// RedisConfig configures the optional login state store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HistoryConfig configures the optional panel history store.
type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "90s",
			ShutdownTimeout: "10s",
			MaxBodyBytes:    5 << 20,
			RateLimitRPS:    5,
			RateLimitBurst:  20,
		},
		Billing: BillingConfig{
			PlanName: "TubePilot Premium ($15/mo)",
			Timeout:  "5s",
		},
		Auth: AuthConfig{
			SessionTTL: "168h",
			StateTTL:   "10m",
		},
		LLM: LLMConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "60s",
		},
		Redis: RedisConfig{
			KeyPrefix: "tubepilot:oidc:state:",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path (a missing file means defaults) and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PathFromEnv returns TUBEPILOT_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv("TUBEPILOT_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString(&c.Server.Addr, "TUBEPILOT_ADDR")
	setString(&c.Server.GRPCAddr, "TUBEPILOT_GRPC_ADDR")
	setString(&c.Server.BaseURL, "TUBEPILOT_BASE_URL")
	setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	setString(&c.Billing.StripeAPIKey, "STRIPE_API_KEY")
	setString(&c.Billing.UpgradeURL, "STRIPE_UPGRADE_URL")
	setString(&c.Auth.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Auth.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Auth.SessionSecret, "TUBEPILOT_SESSION_SECRET")
	setString(&c.Redis.Addr, "TUBEPILOT_REDIS_ADDR")
	setString(&c.History.PostgresDSN, "TUBEPILOT_PG_DSN")
	setString(&c.Logging.Level, "TUBEPILOT_LOG_LEVEL")

	if v := strings.TrimSpace(os.Getenv("TUBEPILOT_ADMIN_EMAILS")); v != "" {
		c.Access.AdminEmails = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("TUBEPILOT_TRUSTED_PROXIES")); v != "" {
		c.Server.TrustedProxies = splitList(v)
	}
}

func (c *Config) normalize() {
	emails := make([]string, 0, len(c.Access.AdminEmails))
	for _, e := range c.Access.AdminEmails {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, e)
		}
	}
	c.Access.AdminEmails = emails
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	c.Billing.StripeAPIKey = strings.TrimSpace(c.Billing.StripeAPIKey)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"billing.timeout":         c.Billing.Timeout,
		"auth.session_ttl":        c.Auth.SessionTTL,
		"auth.state_ttl":          c.Auth.StateTTL,
		"llm.timeout":             c.LLM.Timeout,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if c.Server.BaseURL != "" {
		if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.base_url: invalid url %q", c.Server.BaseURL))
		}
	}
	if c.Billing.UpgradeURL != "" {
		if u, err := url.Parse(c.Billing.UpgradeURL); err != nil || u.Scheme != "https" {
			errs = append(errs, errors.New("billing.upgrade_url: must be an https url"))
		}
	}
	if c.Auth.GoogleClientID != "" && c.Auth.SessionSecret == "" {
		errs = append(errs, errors.New("auth.session_secret: required when google login is configured"))
	}
	for _, p := range c.Server.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: invalid address or range %q", p))
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes: must be positive"))
	}
	return errors.Join(errs...)
}

// BillingConfigured reports whether a Stripe credential is present.
func (c *Config) BillingConfigured() bool { return c.Billing.StripeAPIKey != "" }

// LLMConfigured reports whether a language model key is present.
func (c *Config) LLMConfigured() bool { return c.LLM.APIKey != "" }

// LoginConfigured reports whether Google login can run.
func (c *Config) LoginConfigured() bool {
	return c.Auth.GoogleClientID != "" && c.Auth.SessionSecret != ""
}

// RedirectURL is the OAuth callback registered with Google.
func (c *Config) RedirectURL() string { return c.Server.BaseURL + "/auth/callback" }

// SecureCookies reports whether the service is served over HTTPS.
func (c *Config) SecureCookies() bool { return strings.HasPrefix(c.Server.BaseURL, "https://") }

func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 90*time.Second)
}
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}
func (c *Config) BillingTimeout() time.Duration {
	return parseDuration(c.Billing.Timeout, 5*time.Second)
}
func (c *Config) SessionTTL() time.Duration { return parseDuration(c.Auth.SessionTTL, 7*24*time.Hour) }
func (c *Config) StateTTL() time.Duration   { return parseDuration(c.Auth.StateTTL, 10*time.Minute) }
func (c *Config) LLMTimeout() time.Duration { return parseDuration(c.LLM.Timeout, 60*time.Second) }

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Access.AdminEmails = append([]string(nil), c.Access.AdminEmails...)
	out.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	mask := func(s *string) {
		if *s != "" {
			*s = "****"
		}
	}
	mask(&out.Billing.StripeAPIKey)
	mask(&out.Auth.GoogleClientSecret)
	mask(&out.Auth.SessionSecret)
	mask(&out.LLM.APIKey)
	mask(&out.Redis.Password)
	if out.History.PostgresDSN != "" {
		if u, err := url.Parse(out.History.PostgresDSN); err == nil && u.User != nil {
			u.User = url.UserPassword(u.User.Username(), "****")
			out.History.PostgresDSN = u.String()
		} else {
			out.History.PostgresDSN = "****"
		}
	}
	return out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	r := c.Redacted()
	return yaml.Marshal(&r)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
