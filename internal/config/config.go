// Package config loads service configuration from an optional YAML file, an
// optional .env file and the process environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is passed explicitly to every collaborator that needs it
type Config struct {
	Env   string `yaml:"env"`
	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`

	DatabasePath string `yaml:"database_path"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`

	// Credentials for the external scanner and broker quote fetchers. Carried
	// and redacted here; scans are pushed to the API and quotes are simulated.
	OptionSamuraiToken string `yaml:"optionsamurai_bearer_token"`
	TradierToken       string `yaml:"tradier_token"`
	TradierSandbox     bool   `yaml:"tradier_sandbox"`

	ScanIDs      ScanIDs       `yaml:"scan_ids"`
	ScanInterval time.Duration `yaml:"scan_interval"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	QuoteCacheTTL  time.Duration `yaml:"quote_cache_ttl"`
	QuoteRateLimit float64       `yaml:"quote_rate_limit"`
	PriceMode      string        `yaml:"price_mode"`

	MinProfitThreshold decimal.Decimal `yaml:"min_profit_threshold"`
	MaxRiskThreshold   decimal.Decimal `yaml:"max_risk_threshold"`

	ExpirationSweepInterval time.Duration   `yaml:"expiration_sweep_interval"`
	AccountSize             decimal.Decimal `yaml:"account_size"`
	LowCreditThreshold      decimal.Decimal `yaml:"low_credit_threshold"`
}

// ScanIDs maps scanner ids to the strategy their results describe
type ScanIDs struct {
	IronCondor []int `yaml:"iron_condor"`
	BullPut    []int `yaml:"bull_put"`
	BearCall   []int `yaml:"bear_call"`
	BullCall   []int `yaml:"bull_call"`
	BearPut    []int `yaml:"bear_put"`
}

// All returns every configured scan id without duplicates
func (s ScanIDs) All() []int {
	seen := make(map[int]bool)
	var ids []int
	for _, list := range [][]int{s.IronCondor, s.BullPut, s.BearCall, s.BullCall, s.BearPut} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Env:                     "development",
		Port:                    "8080",
		DatabasePath:            "trades.db",
		JWTSecret:               "spreadbook-secret-key",
		TokenTTL:                24 * time.Hour,
		APIKey:                  "test-api-key",
		APISecret:               "test-api-secret",
		TradierSandbox:          true,
		ScanInterval:            5 * time.Minute,
		MaxRetries:              3,
		RetryDelay:              time.Minute,
		QuoteCacheTTL:           time.Hour,
		QuoteRateLimit:          2,
		PriceMode:               "MID",
		MinProfitThreshold:      decimal.RequireFromString("0.1"),
		MaxRiskThreshold:        decimal.RequireFromString("0.5"),
		ExpirationSweepInterval: 5 * time.Minute,
		AccountSize:             decimal.NewFromInt(100000),
		LowCreditThreshold:      decimal.RequireFromString("0.05"),
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A .env file in the working directory is loaded if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().Interface("config", cfg.Redacted()).Msg("configuration loaded")
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	seconds := func(key string, dst *time.Duration, unit time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
				return
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(n) * unit
		}
	}
	dec := func(key string, dst *decimal.Decimal) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	ids := func(key string, dst *[]int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			parsed, err := parseScanIDs(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = parsed
		}
	}

	str("ENV", &c.Env)
	str("PORT", &c.Port)
	boolean("DEBUG", &c.Debug)
	str("DB_PATH", &c.DatabasePath)
	str("JWT_SECRET", &c.JWTSecret)
	seconds("TOKEN_TTL", &c.TokenTTL, time.Second)
	str("API_KEY", &c.APIKey)
	str("API_SECRET", &c.APISecret)
	str("OPTIONSAMURAI_BEARER_TOKEN", &c.OptionSamuraiToken)
	str("TRADIER_TOKEN", &c.TradierToken)
	boolean("TRADIER_SANDBOX", &c.TradierSandbox)
	ids("IRON_CONDOR_SCAN_IDS", &c.ScanIDs.IronCondor)
	ids("BULL_PUT_SCAN_IDS", &c.ScanIDs.BullPut)
	ids("BEAR_CALL_SCAN_IDS", &c.ScanIDs.BearCall)
	ids("BULL_CALL_SCAN_IDS", &c.ScanIDs.BullCall)
	ids("BEAR_PUT_SCAN_IDS", &c.ScanIDs.BearPut)
	seconds("SCAN_INTERVAL_SECONDS", &c.ScanInterval, time.Second)
	integer("MAX_RETRIES", &c.MaxRetries)
	seconds("RETRY_DELAY_SECONDS", &c.RetryDelay, time.Second)
	seconds("CACHE_DURATION_MINUTES", &c.QuoteCacheTTL, time.Minute)
	float("QUOTE_RATE_LIMIT", &c.QuoteRateLimit)
	str("PRICE_MODE", &c.PriceMode)
	dec("MIN_PROFIT_THRESHOLD", &c.MinProfitThreshold)
	dec("MAX_RISK_THRESHOLD", &c.MaxRiskThreshold)
	seconds("EXPIRATION_SWEEP_SECONDS", &c.ExpirationSweepInterval, time.Second)
	dec("ACCOUNT_SIZE", &c.AccountSize)
	dec("LOW_CREDIT_THRESHOLD", &c.LowCreditThreshold)

	return errors.Join(errs...)
}

// parseScanIDs parses a comma separated list of integer scan ids
func parseScanIDs(value string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid scan id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.Env == "production" && c.JWTSecret == Default().JWTSecret {
		errs = append(errs, errors.New("jwt secret must be changed in production"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.QuoteRateLimit <= 0 {
		errs = append(errs, errors.New("quote rate limit must be positive"))
	}
	if c.ExpirationSweepInterval <= 0 {
		errs = append(errs, errors.New("expiration sweep interval must be positive"))
	}
	if p := strings.ToUpper(c.PriceMode); p != "MID" && p != "NATURAL" {
		errs = append(errs, fmt.Errorf("unknown price mode %q", c.PriceMode))
	}
	if c.MinProfitThreshold.IsNegative() || c.MaxRiskThreshold.IsNegative() {
		errs = append(errs, errors.New("thresholds must not be negative"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log: secrets show only their last four characters
func (c *Config) Redacted() Config {
	out := *c
	out.JWTSecret = mask(c.JWTSecret)
	out.APISecret = mask(c.APISecret)
	out.OptionSamuraiToken = mask(c.OptionSamuraiToken)
	out.TradierToken = mask(c.TradierToken)
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}
