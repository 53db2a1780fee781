// Package importer turns bank statement files into stored bank
// transactions. Format-specific CSV parsing sits behind a registry of
// parsers; every row gets a stable content hash so re-importing the same
// file, or overlapping exports, never duplicates a transaction.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// Parser converts one statement file into bank transactions. The currency
// argument is the bank account's currency, used by formats whose files do
// not carry one.
type Parser interface {
	Parse(r io.Reader, currency string) ([]ledger.BankTransaction, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&StandardParser{})
	r.Register(&RevolutParser{})
	return r
}

// Store persists parsed transactions.
type Store interface {
	// InsertBankTransactions stores rows whose dedupe key is new and
	// returns how many were inserted. Known keys are skipped silently.
	InsertBankTransactions(ctx context.Context, txns []ledger.BankTransaction) (int, error)
}

// Accounts resolves the currency of the mapped bank account.
type Accounts interface {
	BankAccountCurrency(bankAccountID uuid.UUID) (string, bool)
}

// StaticAccounts is an Accounts implementation backed by the configured
// bank account mappings.
type StaticAccounts map[uuid.UUID]string

func (a StaticAccounts) BankAccountCurrency(bankAccountID uuid.UUID) (string, bool) {
	currency, ok := a[bankAccountID]
	return currency, ok
}

// Result summarizes one import.
type Result struct {
	File       string
	Format     string
	Parsed     int
	Imported   int
	Duplicates int
}

// Service drives imports from readers, files, and the watch directory.
type Service struct {
	registry *Registry
	store    Store
	accounts Accounts
	log      *slog.Logger
}

func New(registry *Registry, store Store, accounts Accounts, log *slog.Logger) *Service {
	return &Service{registry: registry, store: store, accounts: accounts, log: log}
}

// ImportReader parses r with the named format and stores the rows for the
// bank account.
func (s *Service) ImportReader(ctx context.Context, bankAccountID uuid.UUID, format string, r io.Reader) (Result, error) {
	p := s.registry.Get(format)
	if p == nil {
		return Result{}, fmt.Errorf("%w: unknown statement format %q", errs.ErrInvalid, format)
	}
	currency, ok := s.accounts.BankAccountCurrency(bankAccountID)
	if !ok {
		return Result{}, fmt.Errorf("%w: bank account %s not configured", errs.ErrNotFound, bankAccountID)
	}

	txns, err := p.Parse(r, currency)
	if err != nil {
		return Result{}, fmt.Errorf("%w: parsing %s statement: %v", errs.ErrUnprocessable, format, err)
	}
	for i := range txns {
		txns[i].ID = uuid.New()
		txns[i].BankAccountID = bankAccountID
		txns[i].Status = ledger.TxnUnmatched
		txns[i].DedupeKey = dedupeKey(txns[i])
	}

	inserted, err := s.store.InsertBankTransactions(ctx, txns)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Format:     format,
		Parsed:     len(txns),
		Imported:   inserted,
		Duplicates: len(txns) - inserted,
	}
	s.log.Info("statement imported",
		"bank_account_id", bankAccountID,
		"format", format,
		"parsed", res.Parsed,
		"imported", res.Imported,
		"duplicates", res.Duplicates)
	observeImport(res)
	return res, nil
}

// ImportFile imports one statement file from disk.
func (s *Service) ImportFile(ctx context.Context, bankAccountID uuid.UUID, format, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening statement: %w", err)
	}
	defer f.Close()

	res, err := s.ImportReader(ctx, bankAccountID, format, f)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	res.File = filepath.Base(path)
	return res, nil
}

// dedupeKey hashes the fields that identify a statement line. Parser output
// for the same line is stable, so the key is too.
func dedupeKey(t ledger.BankTransaction) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s",
		t.BankAccountID, t.Date.UTC().Format(time.DateOnly), t.AmountMinor,
		t.Currency, t.Description, t.Reference)
	return hex.EncodeToString(h.Sum(nil))
}

// processedDir is the subdirectory imported files move into.
const processedDir = "processed"

// FileInfo describes a statement file waiting in the watch directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// Scan returns statement files sitting in dir, ignoring processed/.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading watch dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from dir to dir/processed/.
func MarkProcessed(dir, fileName string) error {
	dstDir := filepath.Join(dir, processedDir)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}
	if err := os.Rename(filepath.Join(dir, fileName), filepath.Join(dstDir, fileName)); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
