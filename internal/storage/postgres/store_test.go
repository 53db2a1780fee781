package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func applyInitSQL(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for init: %v", err)
	}
	defer s.Close()
	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	path := filepath.Join(repoRoot, "db", "migrations", "0001_init.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
}

func truncateAll(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for truncate: %v", err)
	}
	defer s.Close()
	_, _ = s.pool.Exec(ctx, `
		truncate table reconciliation_items, bank_reconciliations, bank_transactions,
			entry_idempotency, entry_number_voids, account_balance_days,
			journal_line_dims, journal_lines, journal_entries,
			dimension_values, dimension_types, accounts cascade
	`)
	_, _ = s.pool.Exec(ctx, `update entry_sequence set last_number = 0 where id`)
}

func seedTestAccounts(t *testing.T, s *Store) (cash, revenue ledger.Account) {
	t.Helper()
	ctx := context.Background()
	var err error
	cash, err = s.CreateAccount(ctx, ledger.Account{
		ID: uuid.New(), Code: "1000", Name: "Cash", Currency: "EUR",
		Type: ledger.AccountTypeAsset, NormalSide: ledger.SideDebit, Active: true,
	})
	if err != nil {
		t.Fatalf("create cash: %v", err)
	}
	revenue, err = s.CreateAccount(ctx, ledger.Account{
		ID: uuid.New(), Code: "4000", Name: "Revenue", Currency: "EUR",
		Type: ledger.AccountTypeRevenue, NormalSide: ledger.SideCredit, Active: true,
	})
	if err != nil {
		t.Fatalf("create revenue: %v", err)
	}
	return cash, revenue
}

func balancedTestEntry(t *testing.T, debitAcc, creditAcc uuid.UUID, date time.Time, minor int64) ledger.JournalEntry {
	t.Helper()
	amt, err := money.NewAmountFromMinorUnits("EUR", minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	id := uuid.New()
	return ledger.JournalEntry{
		ID: id, Date: date, Currency: "EUR", Memo: "test-entry",
		Source: ledger.SourceManual, Status: ledger.StatusPosted,
		Lines: []ledger.JournalLine{
			{ID: uuid.New(), EntryID: id, AccountID: debitAcc, Side: ledger.SideDebit, Amount: amt},
			{ID: uuid.New(), EntryID: id, AccountID: creditAcc, Side: ledger.SideCredit, Amount: amt},
		},
	}
}

func TestStore_AccountsAndDimensions(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	cash, _ := seedTestAccounts(t, s)

	_, err := s.CreateAccount(ctx, ledger.Account{
		ID: uuid.New(), Code: "1000", Name: "Dup", Currency: "EUR",
		Type: ledger.AccountTypeAsset, NormalSide: ledger.SideDebit, Active: true,
	})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate code: want ErrConflict, got %v", err)
	}

	cash.Name = "Cash (upd)"
	cash.RequiredDims = []ledger.DimensionType{ledger.DimCostCenter}
	if _, err := s.UpdateAccount(ctx, cash); err != nil {
		t.Fatalf("update account: %v", err)
	}
	got, err := s.AccountByCode(ctx, "1000")
	if err != nil {
		t.Fatalf("account by code: %v", err)
	}
	if got.Name != "Cash (upd)" || len(got.RequiredDims) != 1 {
		t.Fatalf("unexpected account after update: %+v", got)
	}

	list, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(list) != 2 || list[0].Code != "1000" {
		t.Fatalf("unexpected account list: %+v", list)
	}

	if err := s.RegisterDimensionType(ctx, ledger.DimensionTypeDef{Code: ledger.DimCostCenter, Name: "Cost Center", Active: true}); err != nil {
		t.Fatalf("register dim type: %v", err)
	}
	dv, err := s.CreateDimensionValue(ctx, ledger.DimensionValue{
		ID: uuid.New(), Type: ledger.DimCostCenter, Code: "CC-100", Name: "Operations", Active: true,
	})
	if err != nil {
		t.Fatalf("create dim value: %v", err)
	}
	_, err = s.CreateDimensionValue(ctx, ledger.DimensionValue{
		ID: uuid.New(), Type: ledger.DimCostCenter, Code: "CC-100", Name: "Dup", Active: true,
	})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate dim value: want ErrConflict, got %v", err)
	}
	byCode, err := s.DimensionValueByCode(ctx, ledger.DimCostCenter, "CC-100")
	if err != nil || byCode.ID != dv.ID {
		t.Fatalf("dim value by code: %v %+v", err, byCode)
	}
}

func TestStore_JournalFlow(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()

	cash, revenue := seedTestAccounts(t, s)
	d1 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	e1 := balancedTestEntry(t, cash.ID, revenue.ID, d1, 150000)
	created, wasNew, err := s.CreateJournalEntry(ctx, e1, "key-1", "hash-a")
	if err != nil || !wasNew {
		t.Fatalf("create entry: %v new=%v", err, wasNew)
	}
	if created.Number != 1 {
		t.Fatalf("expected number 1, got %d", created.Number)
	}

	// Idempotent replay returns the stored entry without burning a number.
	replay, wasNew, err := s.CreateJournalEntry(ctx, balancedTestEntry(t, cash.ID, revenue.ID, d1, 150000), "key-1", "hash-a")
	if err != nil || wasNew || replay.ID != created.ID {
		t.Fatalf("replay: %v new=%v id=%s", err, wasNew, replay.ID)
	}
	if _, _, err := s.CreateJournalEntry(ctx, e1, "key-1", "hash-b"); !errors.Is(err, errs.ErrDuplicate) {
		t.Fatalf("key reuse with new payload: want ErrDuplicate, got %v", err)
	}

	e2 := balancedTestEntry(t, cash.ID, revenue.ID, d2, 50000)
	second, _, err := s.CreateJournalEntry(ctx, e2, "", "hash-c")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Number != 2 {
		t.Fatalf("expected number 2, got %d", second.Number)
	}

	gotE, err := s.EntryByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("entry by id: %v", err)
	}
	if len(gotE.Lines) != 2 || gotE.Lines[0].Side != ledger.SideDebit {
		t.Fatalf("unexpected lines: %+v", gotE.Lines)
	}

	page, next, err := s.ListEntries(ctx, posting.EntryQuery{Limit: 1})
	if err != nil || len(page) != 1 || next == "" {
		t.Fatalf("page 1: %v len=%d next=%q", err, len(page), next)
	}
	if page[0].Number != 1 {
		t.Fatalf("expected oldest first, got number %d", page[0].Number)
	}
	page2, next2, err := s.ListEntries(ctx, posting.EntryQuery{Limit: 1, Cursor: next})
	if err != nil || len(page2) != 1 || next2 != "" {
		t.Fatalf("page 2: %v len=%d next=%q", err, len(page2), next2)
	}

	facts, err := s.LineFacts(ctx, ledger.FactScope{})
	if err != nil {
		t.Fatalf("line facts: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("expected 4 facts, got %d", len(facts))
	}

	balances, err := s.BalanceFacts(ctx, d2, nil)
	if err != nil {
		t.Fatalf("balance facts: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balance rows, got %+v", balances)
	}
	for _, b := range balances {
		if b.AccountID == cash.ID && b.DebitMinor != 200000 {
			t.Fatalf("cash debit: want 200000, got %d", b.DebitMinor)
		}
	}

	// Reverse the second entry; its contribution drops out everywhere.
	amt, _ := money.NewAmountFromMinorUnits("EUR", 50000)
	revID := uuid.New()
	reversal := ledger.JournalEntry{
		ID: revID, Date: d2, Currency: "EUR", Memo: "reversal of test-entry",
		Source: ledger.SourceManual, Status: ledger.StatusPosted, ReversalOf: &second.ID,
		Lines: []ledger.JournalLine{
			{ID: uuid.New(), EntryID: revID, AccountID: cash.ID, Side: ledger.SideCredit, Amount: amt},
			{ID: uuid.New(), EntryID: revID, AccountID: revenue.ID, Side: ledger.SideDebit, Amount: amt},
		},
	}
	storedRev, err := s.ReverseJournalEntry(ctx, second.ID, reversal)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if storedRev.Number != 3 {
		t.Fatalf("expected reversal number 3, got %d", storedRev.Number)
	}
	if _, err := s.ReverseJournalEntry(ctx, second.ID, reversal); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("double reverse: want ErrConflict, got %v", err)
	}
	origAfter, err := s.EntryByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("entry after reverse: %v", err)
	}
	if origAfter.Status != ledger.StatusReversed || origAfter.ReversedBy == nil {
		t.Fatalf("original not flipped: %+v", origAfter)
	}

	facts, err = s.LineFacts(ctx, ledger.FactScope{})
	if err != nil {
		t.Fatalf("line facts after reverse: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts after reverse, got %d", len(facts))
	}
	balances, err = s.BalanceFacts(ctx, d2, nil)
	if err != nil {
		t.Fatalf("balance facts after reverse: %v", err)
	}
	for _, b := range balances {
		if b.AccountID == cash.ID && (b.DebitMinor != 150000 || b.CreditMinor != 0) {
			t.Fatalf("cash after reverse: %+v", b)
		}
	}

	// Void the next number; the sequence skips it and the gap is explained.
	if err := s.VoidEntryNumber(ctx, 4, "migration skip"); err != nil {
		t.Fatalf("void next: %v", err)
	}
	if err := s.VoidEntryNumber(ctx, 1, "held"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("void held number: want ErrConflict, got %v", err)
	}
	if err := s.VoidEntryNumber(ctx, 10, "future"); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("void future number: want ErrInvalid, got %v", err)
	}
	e3, _, err := s.CreateJournalEntry(ctx, balancedTestEntry(t, cash.ID, revenue.ID, d2, 100), "", "hash-d")
	if err != nil {
		t.Fatalf("create after void: %v", err)
	}
	if e3.Number != 5 {
		t.Fatalf("expected number 5 after void, got %d", e3.Number)
	}
	missing, err := s.MissingEntryNumbers(ctx)
	if err != nil || len(missing) != 1 || missing[0] != 4 {
		t.Fatalf("missing numbers: %v %v", missing, err)
	}
	voids, err := s.NumberVoids(ctx)
	if err != nil || len(voids) != 1 || voids[0].Number != 4 || voids[0].Reason != "migration skip" {
		t.Fatalf("voids: %+v %v", voids, err)
	}
	last, err := s.LastEntryNumber(ctx)
	if err != nil || last != 5 {
		t.Fatalf("last number: %d %v", last, err)
	}
}

func TestStore_Reconciliation(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()

	cash, revenue := seedTestAccounts(t, s)
	d := time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)
	entry, _, err := s.CreateJournalEntry(ctx, balancedTestEntry(t, cash.ID, revenue.ID, d, 25000), "", "hash-r")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	lineID := entry.Lines[0].ID

	bankAcc := uuid.New()
	txns := []ledger.BankTransaction{
		{ID: uuid.New(), BankAccountID: bankAcc, Date: d, AmountMinor: 25000, Currency: "EUR",
			Description: "client payment", Reference: "INV-1", Status: ledger.TxnUnmatched, DedupeKey: "dk-1"},
		{ID: uuid.New(), BankAccountID: bankAcc, Date: d.AddDate(0, 0, 1), AmountMinor: -900, Currency: "EUR",
			Description: "fees", Status: ledger.TxnUnmatched, DedupeKey: "dk-2"},
	}
	n, err := s.InsertBankTransactions(ctx, txns)
	if err != nil || n != 2 {
		t.Fatalf("insert txns: %v n=%d", err, n)
	}
	n, err = s.InsertBankTransactions(ctx, txns)
	if err != nil || n != 0 {
		t.Fatalf("reinsert txns: %v n=%d", err, n)
	}

	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	window, err := s.BankTransactions(ctx, bankAcc, from, to)
	if err != nil || len(window) != 2 {
		t.Fatalf("bank txns: %v len=%d", err, len(window))
	}

	cands, err := s.CandidateLineFacts(ctx, cash.ID, from, to)
	if err != nil || len(cands) != 1 || cands[0].LineID != lineID {
		t.Fatalf("candidates: %v %+v", err, cands)
	}

	rec := ledger.BankReconciliation{
		ID: uuid.New(), BankAccountID: bankAcc, PeriodStart: from, PeriodEnd: to,
		StatementDate: to, ClosingMinor: 24100, CreatedAt: time.Now().UTC(),
		Items: []ledger.ReconciliationItem{{
			ID: uuid.New(), TransactionID: txns[0].ID, LineID: &lineID,
			Confidence: 0.95, Status: ledger.ReconAuto,
		}},
	}
	rec.Items[0].ReconciliationID = rec.ID
	if err := s.SaveReconciliation(ctx, rec, map[uuid.UUID]ledger.TxnStatus{txns[0].ID: ledger.TxnMatched}); err != nil {
		t.Fatalf("save reconciliation: %v", err)
	}

	// The consumed line disappears from the candidate pool.
	cands, err = s.CandidateLineFacts(ctx, cash.ID, from, to)
	if err != nil || len(cands) != 0 {
		t.Fatalf("candidates after save: %v %+v", err, cands)
	}

	stored, found, err := s.ReconciliationByPeriod(ctx, bankAcc, from, to)
	if err != nil || !found || len(stored.Items) != 1 || stored.Items[0].LineID == nil {
		t.Fatalf("by period: %v found=%v %+v", err, found, stored)
	}
	txnsAfter, err := s.BankTransactions(ctx, bankAcc, from, to)
	if err != nil {
		t.Fatalf("txns after save: %v", err)
	}
	if txnsAfter[0].Status != ledger.TxnMatched {
		t.Fatalf("txn status: %+v", txnsAfter[0])
	}

	// A second run cannot consume the same line.
	other := ledger.BankReconciliation{
		ID: uuid.New(), BankAccountID: bankAcc,
		PeriodStart: to.AddDate(0, 0, 1), PeriodEnd: to.AddDate(0, 1, 0),
		StatementDate: to.AddDate(0, 1, 0), CreatedAt: time.Now().UTC(),
		Items: []ledger.ReconciliationItem{{
			ID: uuid.New(), TransactionID: txns[1].ID, LineID: &lineID,
			Confidence: 0.9, Status: ledger.ReconConfirmed,
		}},
	}
	other.Items[0].ReconciliationID = other.ID
	if err := s.SaveReconciliation(ctx, other, nil); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("double consume: want ErrConflict, got %v", err)
	}

	// Rejecting the item releases the line and resets the transaction.
	item := stored.Items[0]
	item.Status = ledger.ReconRejected
	if err := s.UpdateReconciliationItem(ctx, item, ledger.TxnUnmatched); err != nil {
		t.Fatalf("reject item: %v", err)
	}
	cands, err = s.CandidateLineFacts(ctx, cash.ID, from, to)
	if err != nil || len(cands) != 1 {
		t.Fatalf("candidates after reject: %v %+v", err, cands)
	}
	txnsAfter, _ = s.BankTransactions(ctx, bankAcc, from, to)
	if txnsAfter[0].Status != ledger.TxnUnmatched {
		t.Fatalf("txn status after reject: %+v", txnsAfter[0])
	}

	missing := uuid.New()
	if _, err := s.ReconciliationByID(ctx, missing); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing reconciliation: want ErrNotFound, got %v", err)
	}
}
