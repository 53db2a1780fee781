// Package config loads the engine's configuration snapshot. Values come from
// an optional glcore.yaml plus environment overrides; the loaded Config is
// passed to components as an explicit value and never re-read at runtime.
package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/minerva-erp/glcore/internal/ledger"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the full configuration snapshot.
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Store        StoreConfig         `mapstructure:"store"`
	Ledger       LedgerConfig        `mapstructure:"ledger"`
	Recon        ReconPolicy         `mapstructure:"recon"`
	BankAccounts []BankAccountConfig `mapstructure:"bank_accounts"`
	Statements   StatementsConfig    `mapstructure:"statements"`
	Events       EventsConfig        `mapstructure:"events"`
	Jobs         JobsConfig          `mapstructure:"jobs"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// EnforceRoles requires X-Caller-Roles capabilities on mutating routes.
	EnforceRoles bool `mapstructure:"enforce_roles"`
}

type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"`
	BoltPath    string `mapstructure:"bolt_path"`
}

type LedgerConfig struct {
	BaseCurrency string `mapstructure:"base_currency"`
	// VATRate is the default rate applied when an event asks for a VAT split,
	// e.g. 0.19. A rate, not an amount; money stays in minor units.
	VATRate float64 `mapstructure:"vat_rate"`
	// VATAccountCode receives the tax part of a split gross line.
	VATAccountCode string `mapstructure:"vat_account_code"`
	DevSeed        bool   `mapstructure:"dev_seed"`
}

// VATRateBPS returns the VAT rate in basis points for integer minor-unit math.
func (l LedgerConfig) VATRateBPS() int64 {
	return int64(math.Round(l.VATRate * 10000))
}

// ReconPolicy holds the matching windows and confidence thresholds. All
// tunable; the zero value is unusable, Load fills defaults.
type ReconPolicy struct {
	DateWindowDays      int     `mapstructure:"date_window_days"`
	FuzzyDateWindowDays int     `mapstructure:"fuzzy_date_window_days"`
	TokenOverlap        float64 `mapstructure:"token_overlap"`
	AutoConfirm         float64 `mapstructure:"auto_confirm"`
	ReviewFlag          float64 `mapstructure:"review_flag"`
}

// BankAccountConfig maps one bank account onto the ledger: the GL account its
// transactions reconcile against and the default dimension tags expected on
// matched lines (type -> value code).
type BankAccountConfig struct {
	ID            string            `mapstructure:"id"`
	Name          string            `mapstructure:"name"`
	GLAccountCode string            `mapstructure:"gl_account_code"`
	Currency      string            `mapstructure:"currency"`
	Dimensions    map[string]string `mapstructure:"dimensions"`
}

// AccountID returns the parsed bank account id. Valid after Load.
func (b BankAccountConfig) AccountID() uuid.UUID {
	id, _ := uuid.Parse(b.ID)
	return id
}

// DefaultDims returns the configured dimension mapping keyed by typed codes.
func (b BankAccountConfig) DefaultDims() map[ledger.DimensionType]string {
	out := make(map[ledger.DimensionType]string, len(b.Dimensions))
	for k, v := range b.Dimensions {
		out[ledger.DimensionType(k)] = v
	}
	return out
}

type StatementsConfig struct {
	WatchDir string `mapstructure:"watch_dir"`
	Format   string `mapstructure:"format"`
	// BankAccountID receives files without a bank account id prefix in
	// their name.
	BankAccountID string `mapstructure:"bank_account_id"`
}

// AccountID parses the configured fallback bank account id.
func (s StatementsConfig) AccountID() (uuid.UUID, error) {
	return uuid.Parse(s.BankAccountID)
}

type EventsConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type JobsConfig struct {
	IntegritySchedule string `mapstructure:"integrity_schedule"`
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
}

// Load reads glcore.yaml from path (and the working directory) plus
// environment overrides. Missing files are fine; env alone is a valid setup.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("glcore")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("ledger.base_currency", "EUR")
	v.SetDefault("ledger.vat_rate", 0.19)
	v.SetDefault("ledger.vat_account_code", "2200")
	v.SetDefault("recon.date_window_days", 3)
	v.SetDefault("recon.fuzzy_date_window_days", 7)
	v.SetDefault("recon.token_overlap", 0.5)
	v.SetDefault("recon.auto_confirm", 0.75)
	v.SetDefault("recon.review_flag", 0.40)
	v.SetDefault("statements.format", "standard")
	v.SetDefault("events.exchange", "erp.events")
	v.SetDefault("events.queue", "glcore.postings")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Common aliases used by deploy environments.
	_ = v.BindEnv("server.addr", "SERVER_ADDR", "ADDR")
	_ = v.BindEnv("store.backend", "STORE_BACKEND")
	_ = v.BindEnv("store.database_url", "DATABASE_URL")
	_ = v.BindEnv("store.bolt_path", "BOLT_PATH")
	_ = v.BindEnv("ledger.base_currency", "BASE_CURRENCY")
	_ = v.BindEnv("ledger.vat_rate", "VAT_RATE")
	_ = v.BindEnv("ledger.dev_seed", "DEV_SEED")
	_ = v.BindEnv("events.amqp_url", "AMQP_URL", "RABBITMQ_URL")
	_ = v.BindEnv("statements.watch_dir", "STATEMENT_WATCH_DIR")
	_ = v.BindEnv("statements.bank_account_id", "STATEMENT_BANK_ACCOUNT_ID")
	_ = v.BindEnv("jobs.integrity_schedule", "INTEGRITY_SCHEDULE")
	_ = v.BindEnv("jobs.reconcile_schedule", "RECONCILE_SCHEDULE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints after loading.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.BoltPath == "" {
			return fmt.Errorf("store.bolt_path required for the %s backend", BackendBolt)
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url required for the %s backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Ledger.BaseCurrency == "" {
		return fmt.Errorf("ledger.base_currency required")
	}
	if c.Ledger.VATRate < 0 || c.Ledger.VATRate >= 1 {
		return fmt.Errorf("ledger.vat_rate out of range: %v", c.Ledger.VATRate)
	}
	if c.Recon.DateWindowDays < 0 || c.Recon.FuzzyDateWindowDays < c.Recon.DateWindowDays {
		return fmt.Errorf("recon windows invalid: exact %d fuzzy %d",
			c.Recon.DateWindowDays, c.Recon.FuzzyDateWindowDays)
	}
	for _, th := range []float64{c.Recon.TokenOverlap, c.Recon.AutoConfirm, c.Recon.ReviewFlag} {
		if th < 0 || th > 1 {
			return fmt.Errorf("recon threshold out of range: %v", th)
		}
	}
	for i, ba := range c.BankAccounts {
		if _, err := uuid.Parse(ba.ID); err != nil {
			return fmt.Errorf("bank_accounts[%d].id: %w", i, err)
		}
		if ba.GLAccountCode == "" {
			return fmt.Errorf("bank_accounts[%d].gl_account_code required", i)
		}
	}
	if c.Statements.WatchDir != "" && c.Statements.BankAccountID != "" {
		if _, err := uuid.Parse(c.Statements.BankAccountID); err != nil {
			return fmt.Errorf("statements.bank_account_id: %w", err)
		}
	}
	return nil
}

// BankAccount looks up the mapping for a bank account id.
func (c Config) BankAccount(id uuid.UUID) (BankAccountConfig, bool) {
	for _, ba := range c.BankAccounts {
		if ba.AccountID() == id {
			return ba, true
		}
	}
	return BankAccountConfig{}, false
}
