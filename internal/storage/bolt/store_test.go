package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func seedAccounts(t *testing.T, s *Store) (cash, revenue ledger.Account) {
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

func balancedEntry(t *testing.T, debitAcc, creditAcc uuid.UUID, date time.Time, minor int64) ledger.JournalEntry {
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

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	cash, revenue := seedAccounts(t, s)
	d := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	created, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 150000), "key-1", "hash-a")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.EntryByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("entry after reopen: %v", err)
	}
	if got.Number != 1 || len(got.Lines) != 2 {
		t.Fatalf("unexpected entry after reopen: %+v", got)
	}
	minor, _ := got.Lines[0].Amount.MinorUnits()
	if minor != 150000 || got.Lines[0].Amount.Curr().Code() != "EUR" {
		t.Fatalf("amount did not round-trip: %v", got.Lines[0].Amount)
	}
	last, err := s.LastEntryNumber(ctx)
	if err != nil || last != 1 {
		t.Fatalf("last number after reopen: %d %v", last, err)
	}
	// The sequence survives reopen; the next commit continues it.
	next, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 100), "", "hash-b")
	if err != nil || next.Number != 2 {
		t.Fatalf("number after reopen: %d %v", next.Number, err)
	}
	replay, wasNew, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 150000), "key-1", "hash-a")
	if err != nil || wasNew || replay.ID != created.ID {
		t.Fatalf("idempotency after reopen: %v new=%v", err, wasNew)
	}
}

func TestCreateJournalEntryIdempotency(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	cash, revenue := seedAccounts(t, s)
	d := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	created, wasNew, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 5000), "key-1", "hash-a")
	if err != nil || !wasNew {
		t.Fatalf("create: %v new=%v", err, wasNew)
	}
	replay, wasNew, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 5000), "key-1", "hash-a")
	if err != nil || wasNew || replay.ID != created.ID || replay.Number != 1 {
		t.Fatalf("replay: %v new=%v %+v", err, wasNew, replay)
	}
	if _, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 9999), "key-1", "hash-b"); !errors.Is(err, errs.ErrDuplicate) {
		t.Fatalf("hash mismatch: want ErrDuplicate, got %v", err)
	}
	last, _ := s.LastEntryNumber(ctx)
	if last != 1 {
		t.Fatalf("replays must not burn numbers, last=%d", last)
	}
}

func TestReverseJournalEntryCancelsBalances(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	cash, revenue := seedAccounts(t, s)
	d := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	orig, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 25000), "", "hash-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	amt, _ := money.NewAmountFromMinorUnits("EUR", 25000)
	revID := uuid.New()
	reversal := ledger.JournalEntry{
		ID: revID, Date: d, Currency: "EUR", Source: ledger.SourceManual,
		Status: ledger.StatusPosted, ReversalOf: &orig.ID,
		Lines: []ledger.JournalLine{
			{ID: uuid.New(), EntryID: revID, AccountID: cash.ID, Side: ledger.SideCredit, Amount: amt},
			{ID: uuid.New(), EntryID: revID, AccountID: revenue.ID, Side: ledger.SideDebit, Amount: amt},
		},
	}
	stored, err := s.ReverseJournalEntry(ctx, orig.ID, reversal)
	if err != nil || stored.Number != 2 {
		t.Fatalf("reverse: %v number=%d", err, stored.Number)
	}
	if _, err := s.ReverseJournalEntry(ctx, orig.ID, reversal); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("double reverse: want ErrConflict, got %v", err)
	}
	after, err := s.EntryByID(ctx, orig.ID)
	if err != nil || after.Status != ledger.StatusReversed || after.ReversedBy == nil {
		t.Fatalf("original not flipped: %v %+v", err, after)
	}
	balances, err := s.BalanceFacts(ctx, d, nil)
	if err != nil || len(balances) != 0 {
		t.Fatalf("balances after reverse: %v %+v", err, balances)
	}
	facts, err := s.LineFacts(ctx, ledger.FactScope{})
	if err != nil || len(facts) != 0 {
		t.Fatalf("facts after reverse: %v %+v", err, facts)
	}
}

func TestListEntriesPages(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	cash, revenue := seedAccounts(t, s)

	for i := 0; i < 5; i++ {
		d := time.Date(2025, 3, 10+i, 0, 0, 0, 0, time.UTC)
		if _, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, int64(1000+i)), "", ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	var all []ledger.JournalEntry
	cursor := ""
	pages := 0
	for {
		page, next, err := s.ListEntries(ctx, posting.EntryQuery{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		all = append(all, page...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}
	if pages != 3 || len(all) != 5 {
		t.Fatalf("expected 3 pages of 5 entries, got %d pages %d entries", pages, len(all))
	}
	if all[0].Number != 1 || all[4].Number != 5 {
		t.Fatalf("unexpected order: first=%d last=%d", all[0].Number, all[4].Number)
	}
}

func TestVoidEntryNumberBurnsNext(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	cash, revenue := seedAccounts(t, s)
	d := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	if _, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 100), "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.VoidEntryNumber(ctx, 2, "migration skip"); err != nil {
		t.Fatalf("void next: %v", err)
	}
	if err := s.VoidEntryNumber(ctx, 1, "held"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("void held: want ErrConflict, got %v", err)
	}
	if err := s.VoidEntryNumber(ctx, 2, "again"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("void again: want ErrConflict, got %v", err)
	}
	if err := s.VoidEntryNumber(ctx, 10, "future"); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("void future: want ErrInvalid, got %v", err)
	}
	e, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 200), "", "")
	if err != nil || e.Number != 3 {
		t.Fatalf("number after void: %d %v", e.Number, err)
	}
	missing, err := s.MissingEntryNumbers(ctx)
	if err != nil || len(missing) != 1 || missing[0] != 2 {
		t.Fatalf("missing: %v %v", missing, err)
	}
	voids, err := s.NumberVoids(ctx)
	if err != nil || len(voids) != 1 || voids[0].Number != 2 || voids[0].Reason != "migration skip" {
		t.Fatalf("voids: %+v %v", voids, err)
	}
}

func TestAccountCodeIndex(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	cash, _ := seedAccounts(t, s)

	if _, err := s.CreateAccount(ctx, ledger.Account{ID: uuid.New(), Code: "1000", Name: "Dup", Currency: "EUR", Type: ledger.AccountTypeAsset, NormalSide: ledger.SideDebit, Active: true}); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate code: want ErrConflict, got %v", err)
	}
	cash.Code = "1010"
	if _, err := s.UpdateAccount(ctx, cash); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.AccountByCode(ctx, "1000"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("old code: want ErrNotFound, got %v", err)
	}
	got, err := s.AccountByCode(ctx, "1010")
	if err != nil || got.ID != cash.ID {
		t.Fatalf("new code: %v %+v", err, got)
	}
	list, err := s.ListAccounts(ctx)
	if err != nil || len(list) != 2 || list[0].Code != "1010" {
		t.Fatalf("list order: %v %+v", err, list)
	}
}

func TestReconciliationConsumption(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	cash, revenue := seedAccounts(t, s)
	d := time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)

	entry, _, err := s.CreateJournalEntry(ctx, balancedEntry(t, cash.ID, revenue.ID, d, 25000), "", "")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	lineID := entry.Lines[0].ID

	bankAcc := uuid.New()
	txns := []ledger.BankTransaction{
		{ID: uuid.New(), BankAccountID: bankAcc, Date: d, AmountMinor: 25000, Currency: "EUR",
			Description: "client payment", Reference: "INV-1", Status: ledger.TxnUnmatched, DedupeKey: "dk-1"},
	}
	if n, err := s.InsertBankTransactions(ctx, txns); err != nil || n != 1 {
		t.Fatalf("insert txns: %v n=%d", err, n)
	}
	if n, err := s.InsertBankTransactions(ctx, txns); err != nil || n != 0 {
		t.Fatalf("reinsert txns: %v n=%d", err, n)
	}

	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	rec := ledger.BankReconciliation{
		ID: uuid.New(), BankAccountID: bankAcc, PeriodStart: from, PeriodEnd: to,
		StatementDate: to, CreatedAt: time.Now().UTC(),
		Items: []ledger.ReconciliationItem{{
			ID: uuid.New(), TransactionID: txns[0].ID, LineID: &lineID,
			Confidence: 0.95, Status: ledger.ReconAuto,
		}},
	}
	rec.Items[0].ReconciliationID = rec.ID
	if err := s.SaveReconciliation(ctx, rec, map[uuid.UUID]ledger.TxnStatus{txns[0].ID: ledger.TxnMatched}); err != nil {
		t.Fatalf("save: %v", err)
	}

	cands, err := s.CandidateLineFacts(ctx, cash.ID, from, to)
	if err != nil || len(cands) != 0 {
		t.Fatalf("candidates after save: %v %+v", err, cands)
	}

	other := ledger.BankReconciliation{
		ID: uuid.New(), BankAccountID: bankAcc,
		PeriodStart: to.AddDate(0, 0, 1), PeriodEnd: to.AddDate(0, 1, 0),
		StatementDate: to.AddDate(0, 1, 0), CreatedAt: time.Now().UTC(),
		Items: []ledger.ReconciliationItem{{
			ID: uuid.New(), TransactionID: txns[0].ID, LineID: &lineID,
			Confidence: 0.9, Status: ledger.ReconConfirmed,
		}},
	}
	other.Items[0].ReconciliationID = other.ID
	if err := s.SaveReconciliation(ctx, other, nil); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("double consume: want ErrConflict, got %v", err)
	}

	got, found, err := s.ReconciliationByPeriod(ctx, bankAcc, from, to)
	if err != nil || !found || len(got.Items) != 1 {
		t.Fatalf("by period: %v found=%v %+v", err, found, got)
	}
	item := got.Items[0]
	item.Status = ledger.ReconRejected
	if err := s.UpdateReconciliationItem(ctx, item, ledger.TxnUnmatched); err != nil {
		t.Fatalf("reject: %v", err)
	}
	cands, err = s.CandidateLineFacts(ctx, cash.ID, from, to)
	if err != nil || len(cands) != 1 {
		t.Fatalf("candidates after reject: %v %+v", err, cands)
	}
	window, err := s.BankTransactions(ctx, bankAcc, from, to)
	if err != nil || len(window) != 1 || window[0].Status != ledger.TxnUnmatched {
		t.Fatalf("txn after reject: %v %+v", err, window)
	}
}
