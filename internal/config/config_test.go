package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva-erp/glcore/internal/config"
	"github.com/minerva-erp/glcore/internal/ledger"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "EUR", cfg.Ledger.BaseCurrency)
	assert.Equal(t, 0.19, cfg.Ledger.VATRate)
	assert.Equal(t, "2200", cfg.Ledger.VATAccountCode)
	assert.Equal(t, 3, cfg.Recon.DateWindowDays)
	assert.Equal(t, 7, cfg.Recon.FuzzyDateWindowDays)
	assert.Equal(t, 0.75, cfg.Recon.AutoConfirm)
	assert.Equal(t, "standard", cfg.Statements.Format)
	assert.Equal(t, "erp.events", cfg.Events.Exchange)
	assert.Equal(t, "glcore.postings", cfg.Events.Queue)
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	bankID := "6f1b8de0-4f0e-4cba-9e52-2c2b6231a2a4"
	yaml := `
server:
  addr: ":9191"
  enforce_roles: true
store:
  backend: bolt
  bolt_path: /var/lib/glcore/ledger.db
ledger:
  base_currency: GBP
  vat_rate: 0.2
  dev_seed: true
recon:
  date_window_days: 2
  fuzzy_date_window_days: 10
bank_accounts:
  - id: ` + bankID + `
    name: Main EUR
    gl_account_code: "1020"
    currency: EUR
    dimensions:
      cost_center: CC-100
statements:
  watch_dir: /var/lib/glcore/incoming
  bank_account_id: ` + bankID + `
jobs:
  integrity_schedule: "0 3 * * *"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "glcore.yaml"), []byte(yaml), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.Server.Addr)
	assert.True(t, cfg.Server.EnforceRoles)
	assert.Equal(t, config.BackendBolt, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/glcore/ledger.db", cfg.Store.BoltPath)
	assert.Equal(t, "GBP", cfg.Ledger.BaseCurrency)
	assert.True(t, cfg.Ledger.DevSeed)
	assert.Equal(t, 2, cfg.Recon.DateWindowDays)
	assert.Equal(t, 10, cfg.Recon.FuzzyDateWindowDays)
	// Untouched keys keep their defaults.
	assert.Equal(t, 0.5, cfg.Recon.TokenOverlap)
	assert.Equal(t, "0 3 * * *", cfg.Jobs.IntegritySchedule)

	require.Len(t, cfg.BankAccounts, 1)
	ba := cfg.BankAccounts[0]
	assert.Equal(t, uuid.MustParse(bankID), ba.AccountID())
	assert.Equal(t, "1020", ba.GLAccountCode)
	assert.Equal(t, map[ledger.DimensionType]string{"cost_center": "CC-100"}, ba.DefaultDims())

	got, ok := cfg.BankAccount(uuid.MustParse(bankID))
	assert.True(t, ok)
	assert.Equal(t, "Main EUR", got.Name)
	_, ok = cfg.BankAccount(uuid.New())
	assert.False(t, ok)

	fallback, err := cfg.Statements.AccountID()
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse(bankID), fallback)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("STORE_BACKEND", "bolt")
	t.Setenv("BOLT_PATH", "/tmp/override.db")
	t.Setenv("VAT_RATE", "0.21")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, config.BackendBolt, cfg.Store.Backend)
	assert.Equal(t, "/tmp/override.db", cfg.Store.BoltPath)
	assert.Equal(t, 0.21, cfg.Ledger.VATRate)
	assert.Equal(t, int64(2100), cfg.Ledger.VATRateBPS())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "glcore.yaml"), []byte("server: [oops"), 0o644))

	_, err := config.Load(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Server: config.ServerConfig{Addr: ":8080"},
			Store:  config.StoreConfig{Backend: config.BackendMemory},
			Ledger: config.LedgerConfig{BaseCurrency: "EUR", VATRate: 0.19, VATAccountCode: "2200"},
			Recon: config.ReconPolicy{
				DateWindowDays: 3, FuzzyDateWindowDays: 7,
				TokenOverlap: 0.5, AutoConfirm: 0.75, ReviewFlag: 0.40,
			},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*config.Config){
		"unknown backend":        func(c *config.Config) { c.Store.Backend = "etcd" },
		"bolt without path":      func(c *config.Config) { c.Store.Backend = config.BackendBolt },
		"postgres without url":   func(c *config.Config) { c.Store.Backend = config.BackendPostgres },
		"empty base currency":    func(c *config.Config) { c.Ledger.BaseCurrency = "" },
		"vat rate too high":      func(c *config.Config) { c.Ledger.VATRate = 1.0 },
		"vat rate negative":      func(c *config.Config) { c.Ledger.VATRate = -0.1 },
		"fuzzy window too small": func(c *config.Config) { c.Recon.FuzzyDateWindowDays = 1 },
		"threshold out of range": func(c *config.Config) { c.Recon.AutoConfirm = 1.5 },
		"bank account bad id": func(c *config.Config) {
			c.BankAccounts = []config.BankAccountConfig{{ID: "nope", GLAccountCode: "1020"}}
		},
		"bank account without gl code": func(c *config.Config) {
			c.BankAccounts = []config.BankAccountConfig{{ID: uuid.NewString()}}
		},
		"watched statements bad fallback id": func(c *config.Config) {
			c.Statements.WatchDir = "/in"
			c.Statements.BankAccountID = "nope"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestVATRateBPS(t *testing.T) {
	assert.Equal(t, int64(1900), config.LedgerConfig{VATRate: 0.19}.VATRateBPS())
	assert.Equal(t, int64(715), config.LedgerConfig{VATRate: 0.0715}.VATRateBPS())
	assert.Equal(t, int64(0), config.LedgerConfig{}.VATRateBPS())
}
