// Command glcore runs the general ledger engine: the HTTP API, the posting
// event consumer, the statement watcher and the background jobs, all wired
// onto one storage backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/minerva-erp/glcore/internal/config"
	"github.com/minerva-erp/glcore/internal/events"
	v1 "github.com/minerva-erp/glcore/internal/httpapi/v1"
	"github.com/minerva-erp/glcore/internal/importer"
	"github.com/minerva-erp/glcore/internal/sched"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/dimension"
	"github.com/minerva-erp/glcore/internal/service/directory"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/service/recon"
	"github.com/minerva-erp/glcore/internal/service/report"
	"github.com/minerva-erp/glcore/internal/storage"
	"github.com/minerva-erp/glcore/internal/storage/memory"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := buildLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("GLCORE_CONFIG_DIR"))
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Bank account mappings are shared by the matcher, the importer and the
	// reconciliation job.
	mappings := make([]recon.Mapping, 0, len(cfg.BankAccounts))
	static := importer.StaticAccounts{}
	bankIDs := make([]uuid.UUID, 0, len(cfg.BankAccounts))
	for _, b := range cfg.BankAccounts {
		id := b.AccountID()
		mappings = append(mappings, recon.Mapping{
			BankAccountID: id,
			GLAccountCode: b.GLAccountCode,
			DefaultDims:   b.DefaultDims(),
		})
		static[id] = b.Currency
		bankIDs = append(bankIDs, id)
		if mem, ok := store.(*memory.Store); ok {
			mem.RegisterBankAccount(id, b.Currency)
		}
	}

	var notifier posting.Notifier
	if cfg.Events.AMQPURL != "" {
		producer, err := events.NewEventProducer(cfg.Events.AMQPURL, logger)
		if err != nil {
			logger.Error("amqp connect failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		notifier = events.NewNotifier(producer, cfg.Events.Exchange, logger)
	}

	dims := dimension.New(store)
	dir := directory.New(store, store)
	postingSvc := posting.New(store, store, dims, notifier)
	aggSvc := aggregate.New(store)
	reportSvc := report.New(store)
	reconSvc := recon.New(store, store, store, recon.Policy{
		DateWindowDays:      cfg.Recon.DateWindowDays,
		FuzzyDateWindowDays: cfg.Recon.FuzzyDateWindowDays,
		TokenOverlap:        cfg.Recon.TokenOverlap,
		AutoConfirm:         cfg.Recon.AutoConfirm,
		ReviewFlag:          cfg.Recon.ReviewFlag,
	}, mappings)

	var accounts importer.Accounts = static
	if mem, ok := store.(*memory.Store); ok {
		accounts = mem
	}
	importSvc := importer.New(importer.DefaultRegistry(), store, accounts, logger)

	if cfg.Ledger.DevSeed {
		if err := dir.Seed(ctx, cfg.Ledger.BaseCurrency); err != nil {
			logger.Error("dev seed failed", "error", err)
			os.Exit(1)
		}
		logger.Info("dev seed installed", "currency", cfg.Ledger.BaseCurrency)
	}

	if cfg.Events.AMQPURL != "" {
		consumer, err := events.NewConsumer(cfg.Events.AMQPURL, logger)
		if err != nil {
			logger.Error("amqp connect failed", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		pc := events.NewPostingConsumer(postingSvc, dir,
			cfg.Ledger.VATRateBPS(), cfg.Ledger.VATAccountCode, logger)
		if err := consumer.ConsumeWithBindings(cfg.Events.Exchange, cfg.Events.Queue, pc.Bindings()); err != nil {
			logger.Error("amqp consume failed", "error", err)
			os.Exit(1)
		}
		logger.Info("consuming posting events",
			"exchange", cfg.Events.Exchange, "queue", cfg.Events.Queue)
	}

	if cfg.Statements.WatchDir != "" {
		var fallback uuid.UUID
		if cfg.Statements.BankAccountID != "" {
			fallback, err = cfg.Statements.AccountID()
			if err != nil {
				logger.Error("invalid statements.bank_account_id", "error", err)
				os.Exit(1)
			}
		}
		watcher := importer.NewWatcher(importSvc, cfg.Statements.WatchDir, cfg.Statements.Format, fallback, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("statement watcher stopped", "error", err)
			}
		}()
		logger.Info("watching statement directory", "dir", cfg.Statements.WatchDir)
	}

	scheduler := sched.New(aggSvc, reconSvc, bankIDs, sched.Schedules{
		Integrity: cfg.Jobs.IntegritySchedule,
		Reconcile: cfg.Jobs.ReconcileSchedule,
	}, logger)
	scheduler.Start()

	api := v1.New(v1.Deps{
		Posting:   postingSvc,
		Directory: dir,
		Aggregate: aggSvc,
		Reports:   reportSvc,
		Recon:     reconSvc,
		Importer:  importSvc,
		Ready:     store,
	}, v1.Options{
		EnforceRoles: cfg.Server.EnforceRoles,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()
	logger.Info("stopped")
}

func buildLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(os.Getenv("LOG_LEVEL"))}
	var h slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
