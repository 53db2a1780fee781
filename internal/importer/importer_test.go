package importer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva-erp/glcore/internal/ledger"
)

var testAccountID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeStore struct {
	keys map[string]bool
	rows []ledger.BankTransaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]bool)}
}

func (f *fakeStore) InsertBankTransactions(_ context.Context, txns []ledger.BankTransaction) (int, error) {
	inserted := 0
	for _, t := range txns {
		if f.keys[t.DedupeKey] {
			continue
		}
		f.keys[t.DedupeKey] = true
		f.rows = append(f.rows, t)
		inserted++
	}
	return inserted, nil
}

type fakeAccounts map[uuid.UUID]string

func (f fakeAccounts) BankAccountCurrency(id uuid.UUID) (string, bool) {
	c, ok := f[id]
	return c, ok
}

func newTestService(store *fakeStore) *Service {
	return New(DefaultRegistry(), store, fakeAccounts{testAccountID: "EUR"}, testLogger())
}

func TestStandardParser_Parse(t *testing.T) {
	data, err := os.ReadFile("testdata/standard_march.csv")
	require.NoError(t, err)

	p := &StandardParser{}
	txns, err := p.Parse(strings.NewReader(string(data)), "EUR")
	require.NoError(t, err)
	require.Len(t, txns, 6)

	assert.Equal(t, "ACME CONSULTING INVOICE 1042", txns[0].Description)
	assert.Equal(t, "INV-1042", txns[0].Reference)
	assert.Equal(t, int64(350000), txns[0].AmountMinor)
	assert.Equal(t, 2026, txns[0].Date.Year())
	assert.Equal(t, 2, txns[0].Date.Day())

	assert.Equal(t, int64(-45000), txns[1].AmountMinor)
	assert.Equal(t, int64(-99900), txns[3].AmountMinor)
	assert.Equal(t, int64(215025), txns[4].AmountMinor)
	assert.Equal(t, int64(-1250), txns[5].AmountMinor)
	assert.Equal(t, "EUR", txns[5].Currency)
}

func TestStandardParser_EmptyFile(t *testing.T) {
	p := &StandardParser{}
	txns, err := p.Parse(strings.NewReader("Date,Description,Reference,Amount\n"), "EUR")
	require.NoError(t, err)
	assert.Nil(t, txns)
}

func TestStandardParser_BadDate(t *testing.T) {
	csv := "Date,Description,Reference,Amount\nNOTADATE,desc,ref,-4.00\n"
	p := &StandardParser{}
	_, err := p.Parse(strings.NewReader(csv), "EUR")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parsing date")
}

func TestStandardParser_BadAmount(t *testing.T) {
	csv := "Date,Description,Reference,Amount\n2026-03-02,desc,ref,NOTANUMBER\n"
	p := &StandardParser{}
	_, err := p.Parse(strings.NewReader(csv), "EUR")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parsing amount")
}

const revolutCSV = `Type,Product,Started Date,Completed Date,Description,Amount,Fee,Currency,State,Balance
CARD_PAYMENT,Current,2026-03-04 09:11:02,2026-03-05 10:00:00,AWS EMEA,-450.00,0.50,EUR,COMPLETED,12000.00
TRANSFER,Current,2026-03-06 08:00:00,,PENDING PAYOUT,100.00,0.00,EUR,PENDING,12100.00
TOPUP,Current,2026-03-08 12:00:00,2026-03-08 12:00:05,STRIPE PAYOUT,2150.25,0.00,EUR,COMPLETED,14250.25
`

func TestRevolutParser_Parse(t *testing.T) {
	p := &RevolutParser{}
	txns, err := p.Parse(strings.NewReader(revolutCSV), "EUR")
	require.NoError(t, err)
	require.Len(t, txns, 2, "pending rows are skipped")

	assert.Equal(t, int64(-45050), txns[0].AmountMinor, "fee nets against the amount")
	assert.Equal(t, 5, txns[0].Date.Day())
	assert.Equal(t, "revolut_20260305_AWSEMEA", txns[0].Reference)
	assert.Equal(t, int64(215025), txns[1].AmountMinor)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&StandardParser{})
	p := r.Get("standard")
	require.NotNil(t, p)
	assert.Equal(t, "standard", p.Format())
	assert.Nil(t, r.Get("nonexistent"))
}

func TestRegistry_CaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(&RevolutParser{})
	assert.NotNil(t, r.Get("Revolut"))
	assert.NotNil(t, r.Get("REVOLUT"))
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.NotNil(t, r.Get("standard"))
	assert.NotNil(t, r.Get("revolut"))
}

func TestService_ImportAssignsIdentity(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	data, err := os.ReadFile("testdata/standard_march.csv")
	require.NoError(t, err)

	res, err := svc.ImportReader(context.Background(), testAccountID, "standard", strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, 6, res.Parsed)
	assert.Equal(t, 6, res.Imported)
	assert.Zero(t, res.Duplicates)

	for _, row := range store.rows {
		assert.Equal(t, testAccountID, row.BankAccountID)
		assert.Equal(t, ledger.TxnUnmatched, row.Status)
		assert.NotEmpty(t, row.DedupeKey)
		assert.NotEqual(t, uuid.Nil, row.ID)
	}
}

func TestService_ReimportIsNoOp(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	data, err := os.ReadFile("testdata/standard_march.csv")
	require.NoError(t, err)

	_, err = svc.ImportReader(context.Background(), testAccountID, "standard", strings.NewReader(string(data)))
	require.NoError(t, err)

	res, err := svc.ImportReader(context.Background(), testAccountID, "standard", strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, 6, res.Parsed)
	assert.Zero(t, res.Imported)
	assert.Equal(t, 6, res.Duplicates)
	assert.Len(t, store.rows, 6)
}

func TestService_UnknownFormat(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.ImportReader(context.Background(), testAccountID, "nope", strings.NewReader(""))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown statement format")
}

func TestService_UnknownBankAccount(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.ImportReader(context.Background(), uuid.New(), "standard", strings.NewReader(""))
	assert.Error(t, err)
}

func TestScan_FindsCSVs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bank.csv"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("data"), 0o644))

	files, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "bank.csv", files[0].Name)
}

func TestScan_IgnoresProcessedDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "processed"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.csv"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "processed", "old.csv"), []byte("data"), 0o644))

	files, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "new.csv", files[0].Name)
}

func TestScan_MissingDir(t *testing.T) {
	files, err := Scan(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bank.csv"), []byte("data"), 0o644))

	require.NoError(t, MarkProcessed(dir, "bank.csv"))

	_, err := os.Stat(filepath.Join(dir, "bank.csv"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "processed", "bank.csv"))
	assert.NoError(t, err)
}

func TestWatcherSweepImportsAndMoves(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile("testdata/standard_march.csv")
	require.NoError(t, err)
	name := testAccountID.String() + "_march.csv"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))

	store := newFakeStore()
	w := NewWatcher(newTestService(store), dir, "standard", uuid.Nil, testLogger())
	w.sweep(context.Background())

	assert.Len(t, store.rows, 6)
	_, err = os.Stat(filepath.Join(dir, "processed", name))
	assert.NoError(t, err)
}

func TestWatcherAccountFor(t *testing.T) {
	fallback := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	w := NewWatcher(nil, "", "standard", fallback, testLogger())

	id, ok := w.accountFor(testAccountID.String() + "_march.csv")
	require.True(t, ok)
	assert.Equal(t, testAccountID, id)

	id, ok = w.accountFor("random.csv")
	require.True(t, ok)
	assert.Equal(t, fallback, id)

	w.fallback = uuid.Nil
	_, ok = w.accountFor("random.csv")
	assert.False(t, ok)
}
