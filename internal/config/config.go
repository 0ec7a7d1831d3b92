// Package config loads desk and ledger settings: built-in defaults, then an
// optional YAML file, then environment variables (a .env file is read into
// the environment first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/paper-desk/internal/model"
)

// Token cache backends.
const (
	CacheMemory = "memory"
	CacheBadger = "badger"
	CacheRedis  = "redis"
)

// Config is the root of the YAML document.
type Config struct {
	Desk   Desk   `yaml:"desk"`
	Ledger Ledger `yaml:"ledger"`
}

// Desk configures cmd/desk.
type Desk struct {
	Port        string        `yaml:"port"`
	APIURL      string        `yaml:"api_url"`
	APITimeout  time.Duration `yaml:"api_timeout"`
	MarketData  MarketData    `yaml:"market_data"`
	TokenCache  TokenCache    `yaml:"token_cache"`
	Instruments []Instrument  `yaml:"instruments"`
}

// MarketData selects where recorded bars come from. URL and Path may contain
// a {ticker} placeholder; URL wins when both are set.
type MarketData struct {
	URL      string        `yaml:"url"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TokenCache selects the session token store.
type TokenCache struct {
	Backend  string        `yaml:"backend"`
	Path     string        `yaml:"path"`
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	Key      string        `yaml:"key"`
}

// Instrument is one selectable ticker.
type Instrument struct {
	Ticker string `yaml:"ticker"`
	Name   string `yaml:"name"`
}

// Ledger configures cmd/ledger.
type Ledger struct {
	Port          string           `yaml:"port"`
	DatabaseURL   string           `yaml:"database_url"`
	RedisURL      string           `yaml:"redis_url"`
	CacheTTL      time.Duration    `yaml:"cache_ttl"`
	JWTSecret     string           `yaml:"jwt_secret"`
	TokenTTL      time.Duration    `yaml:"token_ttl"`
	DefaultLimits model.RiskLimits `yaml:"default_limits"`
	Accounts      []SeedAccount    `yaml:"accounts"`
}

// SeedAccount is created at ledger startup if missing.
type SeedAccount struct {
	Username      string           `yaml:"user_name"`
	Password      string           `yaml:"password"`
	TotalEquity   decimal.Decimal  `yaml:"total_equity"`
	CashAvailable decimal.Decimal  `yaml:"cash_available"`
	RiskLimits    model.RiskLimits `yaml:"risk_limits"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Desk: Desk{
			Port:       "8090",
			APIURL:     "http://localhost:8080",
			APITimeout: 10 * time.Second,
			MarketData: MarketData{
				Path:     "data/{ticker}.json",
				Interval: 60 * time.Second,
				Timeout:  10 * time.Second,
			},
			TokenCache: TokenCache{
				Backend: CacheBadger,
				Path:    ".paper-desk/tokens",
				Prefix:  "paper-desk",
				Key:     "token",
			},
		},
		Ledger: Ledger{
			Port:     "8080",
			CacheTTL: 30 * time.Second,
			TokenTTL: 30 * time.Minute,
		},
	}
}

// LoadEnv reads .env files into the environment. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty), and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
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

	str("PORT", &c.Desk.Port)
	str("DESK_API_URL", &c.Desk.APIURL)
	str("DESK_MARKET_DATA_URL", &c.Desk.MarketData.URL)
	str("DESK_MARKET_DATA_PATH", &c.Desk.MarketData.Path)
	str("DESK_TOKEN_CACHE", &c.Desk.TokenCache.Backend)
	str("DESK_TOKEN_CACHE_PATH", &c.Desk.TokenCache.Path)
	str("REDIS_URL", &c.Desk.TokenCache.RedisURL)
	str("REDIS_URL", &c.Ledger.RedisURL)
	str("LEDGER_PORT", &c.Ledger.Port)
	str("DATABASE_URL", &c.Ledger.DatabaseURL)
	str("LEDGER_JWT_SECRET", &c.Ledger.JWTSecret)
	if v := getenv("DESK_INSTRUMENTS"); v != "" {
		c.Desk.Instruments = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Desk.Instruments = append(c.Desk.Instruments, Instrument{Ticker: t})
			}
		}
	}

	if err := dur("DESK_API_TIMEOUT", &c.Desk.APITimeout); err != nil {
		return err
	}
	if err := dur("DESK_POLL_INTERVAL", &c.Desk.MarketData.Interval); err != nil {
		return err
	}
	return dur("LEDGER_TOKEN_TTL", &c.Ledger.TokenTTL)
}

// ValidateDesk checks the settings cmd/desk needs.
func (c *Config) ValidateDesk() error {
	d := c.Desk
	var errs []error
	if d.Port == "" {
		errs = append(errs, errors.New("desk.port is required"))
	}
	if u, err := url.Parse(d.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("desk.api_url %q is not an absolute URL", d.APIURL))
	}
	if d.MarketData.URL == "" && d.MarketData.Path == "" {
		errs = append(errs, errors.New("desk.market_data needs a url or a path"))
	}
	if d.MarketData.Interval <= 0 {
		errs = append(errs, errors.New("desk.market_data.interval must be positive"))
	}
	switch d.TokenCache.Backend {
	case CacheMemory:
	case CacheBadger:
		if d.TokenCache.Path == "" {
			errs = append(errs, errors.New("desk.token_cache.path is required for badger"))
		}
	case CacheRedis:
		if d.TokenCache.RedisURL == "" {
			errs = append(errs, errors.New("desk.token_cache.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("desk.token_cache.backend %q is not one of memory, badger, redis", d.TokenCache.Backend))
	}
	return joinErrors(errs)
}

// ValidateLedger checks the settings cmd/ledger needs.
func (c *Config) ValidateLedger() error {
	l := c.Ledger
	var errs []error
	if l.Port == "" {
		errs = append(errs, errors.New("ledger.port is required"))
	}
	if l.JWTSecret == "" {
		errs = append(errs, errors.New("ledger.jwt_secret is required (or set LEDGER_JWT_SECRET)"))
	}
	if l.RedisURL != "" && l.DatabaseURL == "" {
		errs = append(errs, errors.New("ledger.redis_url requires ledger.database_url"))
	}
	for i, a := range l.Accounts {
		if a.Username == "" || a.Password == "" {
			errs = append(errs, fmt.Errorf("ledger.accounts[%d] needs user_name and password", i))
		}
		if a.CashAvailable.IsNegative() {
			errs = append(errs, fmt.Errorf("ledger.accounts[%d].cash_available must not be negative", i))
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}
