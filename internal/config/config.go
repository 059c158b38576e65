// Package config loads the reconciler configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/matching"
	"github.com/wakala/paybytransfer/internal/provider"
	"github.com/wakala/paybytransfer/internal/reconciliation"
)

const (
	DefaultPort          = "8080"
	DefaultDBPath        = "paybytransfer.db"
	DefaultSweepInterval = time.Minute
	MinTimeWindow        = time.Minute

	DedupSQLite = "sqlite"
	DedupMemory = "memory"
)

// Account is the static receiving account used by the manual and mono
// providers.
type Account = provider.Account

// MatchingConfig mirrors matching.Config in file form.
type MatchingConfig struct {
	Strategy        string        `yaml:"strategy"`
	TimeWindow      time.Duration `yaml:"time_window"`
	AmountTolerance int64         `yaml:"amount_tolerance"`
}

// Config is the full runtime configuration.
type Config struct {
	Port   string `yaml:"port"`
	DBPath string `yaml:"db_path"`

	Provider        string        `yaml:"provider"`
	APIKey          string        `yaml:"api_key"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	BaseURL         string        `yaml:"base_url,omitempty"`
	AccountID       string        `yaml:"account_id,omitempty"`
	PreferredBank   string        `yaml:"preferred_bank,omitempty"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	Account         *Account      `yaml:"account,omitempty"`

	// Monitor selects an account-monitoring source for a static account.
	Monitor       string `yaml:"monitor,omitempty"`
	MonitorAPIKey string `yaml:"monitor_api_key,omitempty"`

	SessionTimeout time.Duration  `yaml:"session_timeout"`
	SweepInterval  time.Duration  `yaml:"sweep_interval"`
	Matching       MatchingConfig `yaml:"matching"`
	Dedup          string         `yaml:"dedup"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		DBPath:          DefaultDBPath,
		ProviderTimeout: provider.DefaultTimeout,
		SessionTimeout:  reconciliation.DefaultSessionTimeout,
		SweepInterval:   DefaultSweepInterval,
		Matching: MatchingConfig{
			Strategy:        string(matching.DefaultStrategy),
			TimeWindow:      matching.DefaultTimeWindow,
			AmountTolerance: matching.DefaultAmountTolerance,
		},
		Dedup: DedupSQLite,
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Provider == "" && cfg.Monitor != "" {
		cfg.Provider = cfg.Monitor
		if cfg.APIKey == "" {
			cfg.APIKey = cfg.MonitorAPIKey
		}
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, domain.NewValidationError(key, fmt.Sprintf("invalid duration %q", v)))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("DB_PATH", &c.DBPath)
	str("PBT_PROVIDER", &c.Provider)
	str("PBT_API_KEY", &c.APIKey)
	str("PBT_WEBHOOK_SECRET", &c.WebhookSecret)
	str("PBT_BASE_URL", &c.BaseURL)
	str("PBT_ACCOUNT_ID", &c.AccountID)
	str("PBT_MATCHING_STRATEGY", &c.Matching.Strategy)
	str("PBT_DEDUP", &c.Dedup)
	dur("PBT_SESSION_TIMEOUT", &c.SessionTimeout)
	dur("PBT_TIME_WINDOW", &c.Matching.TimeWindow)
	dur("PBT_SWEEP_INTERVAL", &c.SweepInterval)
	dur("PBT_PROVIDER_TIMEOUT", &c.ProviderTimeout)

	if v, ok := lookup("PBT_AMOUNT_TOLERANCE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, domain.NewValidationError("PBT_AMOUNT_TOLERANCE", fmt.Sprintf("invalid integer %q", v)))
		} else {
			c.Matching.AmountTolerance = n
		}
	}

	if num, ok := lookup("PBT_ACCOUNT_NUMBER"); ok && num != "" {
		if c.Account == nil {
			c.Account = &Account{}
		}
		c.Account.Number = num
		str("PBT_ACCOUNT_NAME", &c.Account.Name)
		str("PBT_BANK_NAME", &c.Account.Bank)
		str("PBT_BANK_CODE", &c.Account.BankCode)
	}

	return errors.Join(errs...)
}

var accountNumberPattern = regexp.MustCompile(`^\d{10}$`)

// Validate checks every field and returns all failures joined, each a
// *domain.ValidationError.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, domain.NewValidationError(field, msg))
	}

	if c.Provider == "" && c.Account == nil {
		add("provider", "either provider or account must be specified")
	}
	switch provider.Kind(c.Provider) {
	case "", provider.KindManual:
		if c.Provider != "" && c.Account == nil {
			add("account", "manual provider requires an account")
		}
	case provider.KindMono:
		if c.APIKey == "" {
			add("api_key", "mono requires an API key")
		}
		if c.Account == nil {
			add("account", "mono requires the monitored account")
		}
	case provider.KindPaystack:
		if c.APIKey == "" {
			add("api_key", "paystack requires an API key")
		}
	default:
		add("provider", fmt.Sprintf("must be one of manual, mono, paystack (got %q)", c.Provider))
	}

	if a := c.Account; a != nil {
		if !accountNumberPattern.MatchString(a.Number) {
			add("account.number", "must be a 10-digit account number")
		}
		if a.Name == "" {
			add("account.name", "is required")
		}
		if a.Bank == "" {
			add("account.bank", "is required")
		}
	}

	if c.SessionTimeout < reconciliation.MinSessionTimeout || c.SessionTimeout > reconciliation.MaxSessionTimeout {
		add("session_timeout", fmt.Sprintf("must be between %s and %s", reconciliation.MinSessionTimeout, reconciliation.MaxSessionTimeout))
	}
	if _, err := matching.ParseStrategy(c.Matching.Strategy); err != nil {
		add("matching.strategy", err.Error())
	}
	if c.Matching.TimeWindow < MinTimeWindow {
		add("matching.time_window", fmt.Sprintf("must be at least %s", MinTimeWindow))
	}
	if c.Matching.AmountTolerance < 0 {
		add("matching.amount_tolerance", "must not be negative")
	}
	if c.SweepInterval <= 0 {
		add("sweep_interval", "must be positive")
	}
	if c.Dedup != DedupSQLite && c.Dedup != DedupMemory {
		add("dedup", fmt.Sprintf("must be %s or %s", DedupSQLite, DedupMemory))
	}

	return errors.Join(errs...)
}

// ProviderConfig builds the provider factory input.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Kind:          provider.Kind(c.Provider),
		APIKey:        c.APIKey,
		WebhookSecret: c.WebhookSecret,
		Account:       c.Account,
		BaseURL:       c.BaseURL,
		AccountID:     c.AccountID,
		PreferredBank: c.PreferredBank,
		Timeout:       c.ProviderTimeout,
	}
}

// EngineConfig builds the matching engine configuration. Call Validate first.
func (c *Config) EngineConfig() matching.Config {
	strategy, _ := matching.ParseStrategy(c.Matching.Strategy)
	return matching.Config{
		Strategy:        strategy,
		TimeWindow:      c.Matching.TimeWindow,
		AmountTolerance: c.Matching.AmountTolerance,
	}
}
