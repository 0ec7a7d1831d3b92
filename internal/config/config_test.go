package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateDesk(); err != nil {
		t.Errorf("default desk config should validate: %v", err)
	}
	if cfg.Desk.MarketData.Interval != time.Minute {
		t.Errorf("expected 60s poll interval, got %s", cfg.Desk.MarketData.Interval)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "desk.yaml", `
desk:
  api_url: http://ledger:9000
  market_data:
    url: http://data/{ticker}.json
    interval: 30s
  token_cache:
    backend: memory
  instruments:
    - ticker: TICK
      name: Tick Industries
ledger:
  jwt_secret: s3cret
  default_limits:
    max_exposure_per_ticker_pct: 0.2
  accounts:
    - user_name: alice
      password: hunter2
      cash_available: 100000
      risk_limits:
        max_allocation_pct: 0.75
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Desk.APIURL != "http://ledger:9000" {
		t.Errorf("api_url: got %q", cfg.Desk.APIURL)
	}
	if cfg.Desk.MarketData.Interval != 30*time.Second {
		t.Errorf("interval: got %s", cfg.Desk.MarketData.Interval)
	}
	if cfg.Desk.Port != "8090" {
		t.Errorf("expected default port kept, got %q", cfg.Desk.Port)
	}
	if len(cfg.Desk.Instruments) != 1 || cfg.Desk.Instruments[0].Name != "Tick Industries" {
		t.Errorf("instruments: got %+v", cfg.Desk.Instruments)
	}
	if !cfg.Ledger.DefaultLimits.MaxExposurePerTickerPct.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("default limits: got %+v", cfg.Ledger.DefaultLimits)
	}
	if len(cfg.Ledger.Accounts) != 1 || !cfg.Ledger.Accounts[0].CashAvailable.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("accounts: got %+v", cfg.Ledger.Accounts)
	}
	if !cfg.Ledger.Accounts[0].RiskLimits.MaxAllocationPct.Equal(decimal.NewFromFloat(0.75)) {
		t.Errorf("account limits: got %+v", cfg.Ledger.Accounts[0].RiskLimits)
	}
	if err := cfg.ValidateDesk(); err != nil {
		t.Error(err)
	}
	if err := cfg.ValidateLedger(); err != nil {
		t.Error(err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":               "9999",
		"DESK_TOKEN_CACHE":   "redis",
		"REDIS_URL":          "redis://cache:6379/0",
		"DESK_POLL_INTERVAL": "5s",
		"DESK_INSTRUMENTS":   "TICK, ACME,,",
		"LEDGER_JWT_SECRET":  "from-env",
	}
	cfg := Default()
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.Desk.Port != "9999" || cfg.Desk.TokenCache.Backend != "redis" {
		t.Errorf("unexpected desk %+v", cfg.Desk)
	}
	if cfg.Desk.TokenCache.RedisURL != env["REDIS_URL"] || cfg.Ledger.RedisURL != env["REDIS_URL"] {
		t.Error("REDIS_URL should apply to both programs")
	}
	if cfg.Desk.MarketData.Interval != 5*time.Second {
		t.Errorf("interval: got %s", cfg.Desk.MarketData.Interval)
	}
	if len(cfg.Desk.Instruments) != 2 || cfg.Desk.Instruments[1].Ticker != "ACME" {
		t.Errorf("instruments: got %+v", cfg.Desk.Instruments)
	}
	if cfg.Ledger.JWTSecret != "from-env" {
		t.Errorf("jwt secret: got %q", cfg.Ledger.JWTSecret)
	}
}

func TestApplyEnv_BadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) string {
		if k == "DESK_POLL_INTERVAL" {
			return "soon"
		}
		return ""
	})
	if err == nil || !strings.Contains(err.Error(), "DESK_POLL_INTERVAL") {
		t.Errorf("expected DESK_POLL_INTERVAL error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative api url", func(c *Config) { c.Desk.APIURL = "ledger" }, "api_url"},
		{"no market data", func(c *Config) { c.Desk.MarketData = MarketData{Interval: time.Second} }, "market_data"},
		{"zero interval", func(c *Config) { c.Desk.MarketData.Interval = 0 }, "interval"},
		{"unknown backend", func(c *Config) { c.Desk.TokenCache.Backend = "etcd" }, "backend"},
		{"badger without path", func(c *Config) { c.Desk.TokenCache.Path = "" }, "path"},
		{"redis without url", func(c *Config) { c.Desk.TokenCache.Backend = CacheRedis }, "redis_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateDesk()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateLedger(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateLedger(); err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("expected jwt_secret error, got %v", err)
	}

	cfg.Ledger.JWTSecret = "x"
	cfg.Ledger.Accounts = []SeedAccount{{Username: "alice"}}
	if err := cfg.ValidateLedger(); err == nil || !strings.Contains(err.Error(), "accounts[0]") {
		t.Errorf("expected account error, got %v", err)
	}
}

func TestLoadEnv_MissingIgnored(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	path := writeFile(t, ".env", "PAPER_DESK_TEST_VALUE=42\n")
	t.Setenv("PAPER_DESK_TEST_VALUE", "")
	os.Unsetenv("PAPER_DESK_TEST_VALUE")
	if err := LoadEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("PAPER_DESK_TEST_VALUE"); got != "42" {
		t.Errorf("expected 42 from .env, got %q", got)
	}
}
