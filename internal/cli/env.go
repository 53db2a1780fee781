package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/govalues/money"
	"github.com/joho/godotenv"

	"github.com/minerva-erp/glcore/internal/config"
	"github.com/minerva-erp/glcore/internal/importer"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/directory"
	"github.com/minerva-erp/glcore/internal/service/recon"
	"github.com/minerva-erp/glcore/internal/storage"
	"github.com/minerva-erp/glcore/internal/storage/memory"
)

// env bundles the services a command runs against. A command opens it,
// does its work, and closes it before returning.
type env struct {
	cfg       config.Config
	store     storage.Store
	directory directory.Service
	aggregate aggregate.Service
	recon     recon.Service
	importer  *importer.Service
	close     func()
}

// openEnv loads the configuration and opens the backend. Command output
// owns stdout, so the service log goes to stderr at warn level.
func openEnv(ctx context.Context, configDir string) (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, closeStore, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	mappings := make([]recon.Mapping, 0, len(cfg.BankAccounts))
	static := importer.StaticAccounts{}
	for _, b := range cfg.BankAccounts {
		id := b.AccountID()
		mappings = append(mappings, recon.Mapping{
			BankAccountID: id,
			GLAccountCode: b.GLAccountCode,
			DefaultDims:   b.DefaultDims(),
		})
		static[id] = b.Currency
		if mem, ok := store.(*memory.Store); ok {
			mem.RegisterBankAccount(id, b.Currency)
		}
	}
	var accounts importer.Accounts = static
	if mem, ok := store.(*memory.Store); ok {
		accounts = mem
	}

	return &env{
		cfg:       cfg,
		store:     store,
		directory: directory.New(store, store),
		aggregate: aggregate.New(store),
		recon: recon.New(store, store, store, recon.Policy{
			DateWindowDays:      cfg.Recon.DateWindowDays,
			FuzzyDateWindowDays: cfg.Recon.FuzzyDateWindowDays,
			TokenOverlap:        cfg.Recon.TokenOverlap,
			AutoConfirm:         cfg.Recon.AutoConfirm,
			ReviewFlag:          cfg.Recon.ReviewFlag,
		}, mappings),
		importer: importer.New(importer.DefaultRegistry(), store, accounts, log),
		close:    closeStore,
	}, nil
}

// parseDate accepts a plain date or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", raw)
	}
	return t.UTC(), nil
}

// formatMinor renders minor units in the currency's scale, falling back to
// the raw integer when the currency is unknown.
func formatMinor(currency string, minor int64) string {
	amt, err := money.NewAmountFromMinorUnits(strings.ToUpper(currency), minor)
	if err != nil {
		return fmt.Sprintf("%d", minor)
	}
	return amt.String()
}
