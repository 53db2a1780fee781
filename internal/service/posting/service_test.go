package posting_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/dimension"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/storage/memory"
)

type fakeNotifier struct {
	entries []ledger.JournalEntry
}

func (n *fakeNotifier) EntryPosted(_ context.Context, e ledger.JournalEntry) {
	n.entries = append(n.entries, e)
}

type fixture struct {
	store    *memory.Store
	svc      posting.Service
	notifier *fakeNotifier
	cash     ledger.Account
	revenue  ledger.Account
	expense  ledger.Account
	usd      ledger.Account
	inactive ledger.Account
	cc       ledger.DimensionValue
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	mk := func(code, name, currency string, typ ledger.AccountType, required []ledger.DimensionType, active bool) ledger.Account {
		a, err := store.CreateAccount(ctx, ledger.Account{
			ID: uuid.New(), Code: code, Name: name, Currency: currency,
			Type: typ, NormalSide: typ.NormalSide(), RequiredDims: required, Active: active,
		})
		require.NoError(t, err)
		return a
	}

	require.NoError(t, store.RegisterDimensionType(ctx, ledger.DimensionTypeDef{
		Code: "cost_center", Name: "Cost Center", Active: true,
	}))
	cc, err := store.CreateDimensionValue(ctx, ledger.DimensionValue{
		ID: uuid.New(), Type: "cost_center", Code: "CC-100", Name: "Operations", Active: true,
	})
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		notifier: &fakeNotifier{},
		cash:     mk("1000", "Cash", "EUR", ledger.AccountTypeAsset, nil, true),
		revenue:  mk("4000", "Revenue", "EUR", ledger.AccountTypeRevenue, nil, true),
		expense:  mk("5000", "Travel", "EUR", ledger.AccountTypeExpense, []ledger.DimensionType{"cost_center"}, true),
		usd:      mk("1010", "Cash USD", "USD", ledger.AccountTypeAsset, nil, true),
		inactive: mk("1900", "Old Cash", "EUR", ledger.AccountTypeAsset, nil, false),
		cc:       cc,
	}
	f.svc = posting.New(store, store, dimension.New(store), f.notifier)
	return f
}

func marchRequest(f *fixture, amountMinor int64) posting.PostRequest {
	return posting.PostRequest{
		Date:     time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC),
		Currency: "EUR",
		Memo:     "march invoice",
		Lines: []posting.LineInput{
			{AccountID: f.cash.ID, Side: ledger.SideDebit, AmountMinor: amountMinor},
			{AccountID: f.revenue.ID, Side: ledger.SideCredit, AmountMinor: amountMinor},
		},
	}
}

func TestPostAssignsSequenceAndDefaults(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	e, err := f.svc.Post(ctx, marchRequest(f, 12500))
	require.NoError(t, err)

	assert.Equal(t, int64(1), e.Number)
	assert.Equal(t, ledger.StatusPosted, e.Status)
	assert.Equal(t, ledger.SourceManual, e.Source)
	assert.Len(t, e.Lines, 2)
	assert.Equal(t, f.cash.ID, e.Lines[0].AccountID)
	minor, ok := e.Lines[0].SignedMinor()
	require.True(t, ok)
	assert.Equal(t, int64(12500), minor)

	e2, err := f.svc.Post(ctx, marchRequest(f, 300))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.Number)

	got, err := f.svc.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Len(t, f.notifier.entries, 2)
}

func TestPostNormalizesCurrency(t *testing.T) {
	f := setup(t)
	req := marchRequest(f, 100)
	req.Currency = " eur "

	e, err := f.svc.Post(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "EUR", e.Currency)
}

func TestPostIdempotentReplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := marchRequest(f, 5000)
	req.IdempotencyKey = "batch-42"

	first, err := f.svc.Post(ctx, req)
	require.NoError(t, err)
	again, err := f.svc.Post(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Number, again.Number)
	// The replay commits nothing, so the notifier fires once.
	assert.Len(t, f.notifier.entries, 1)

	changed := req
	changed.Memo = "different payload"
	_, err = f.svc.Post(ctx, changed)
	assert.ErrorIs(t, err, errs.ErrDuplicate)
}

func TestPostValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("single line is unbalanced", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Lines = req.Lines[:1]
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrUnbalanced)
	})

	t.Run("sums must match", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Lines[1].AmountMinor = 99
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrUnbalanced)
	})

	t.Run("missing currency", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Currency = ""
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	})

	t.Run("missing date", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Date = time.Time{}
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	})

	t.Run("unknown source", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Source = "carrier_pigeon"
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	})

	t.Run("zero amount names the line", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Lines[1].AmountMinor = 0
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalid)
		var le *errs.LineError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, 1, le.Index)
	})

	t.Run("unknown account names the line", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Lines[1].AccountID = uuid.New()
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalidAccount)
		var le *errs.LineError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, 1, le.Index)
	})

	t.Run("inactive account rejected", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Lines[0].AccountID = f.inactive.ID
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalidAccount)
	})

	t.Run("currency mismatch rejected", func(t *testing.T) {
		req := marchRequest(f, 100)
		req.Lines[0].AccountID = f.usd.ID
		_, err := f.svc.Post(ctx, req)
		assert.ErrorIs(t, err, errs.ErrInvalidAccount)
	})
}

func TestPostEnforcesRequiredDimensions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req := posting.PostRequest{
		Date:     time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC),
		Currency: "EUR",
		Lines: []posting.LineInput{
			{AccountID: f.expense.ID, Side: ledger.SideDebit, AmountMinor: 4200},
			{AccountID: f.cash.ID, Side: ledger.SideCredit, AmountMinor: 4200},
		},
	}
	_, err := f.svc.Post(ctx, req)
	assert.ErrorIs(t, err, errs.ErrMissingDimension)
	var le *errs.LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 0, le.Index)

	req.Lines[0].Tags = map[ledger.DimensionType]uuid.UUID{"cost_center": f.cc.ID}
	e, err := f.svc.Post(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, f.cc.ID, e.Lines[0].Tags["cost_center"])
}

func TestPostRejectsTagOfWrongType(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.store.RegisterDimensionType(ctx, ledger.DimensionTypeDef{
		Code: "project", Name: "Project", Active: true,
	}))
	proj, err := f.store.CreateDimensionValue(ctx, ledger.DimensionValue{
		ID: uuid.New(), Type: "project", Code: "PRJ-1", Name: "Rollout", Active: true,
	})
	require.NoError(t, err)

	req := marchRequest(f, 100)
	req.Lines[0].Tags = map[ledger.DimensionType]uuid.UUID{"cost_center": proj.ID}
	_, err = f.svc.Post(ctx, req)
	assert.ErrorIs(t, err, errs.ErrMissingDimension)
}

func TestReverseMirrorsAndLinks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	orig, err := f.svc.Post(ctx, marchRequest(f, 7500))
	require.NoError(t, err)

	rev, err := f.svc.Reverse(ctx, posting.ReverseRequest{EntryID: orig.ID, Memo: "wrong amount"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), rev.Number)
	require.NotNil(t, rev.ReversalOf)
	assert.Equal(t, orig.ID, *rev.ReversalOf)
	assert.True(t, rev.Date.Equal(orig.Date))
	require.Len(t, rev.Lines, 2)
	assert.Equal(t, ledger.SideCredit, rev.Lines[0].Side)
	assert.Equal(t, f.cash.ID, rev.Lines[0].AccountID)
	assert.Equal(t, ledger.SideDebit, rev.Lines[1].Side)

	orig, err = f.svc.GetEntry(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, orig.Status)
	require.NotNil(t, orig.ReversedBy)
	assert.Equal(t, rev.ID, *orig.ReversedBy)
	assert.False(t, orig.Reportable())
	assert.False(t, rev.Reportable())
}

func TestReverseGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	orig, err := f.svc.Post(ctx, marchRequest(f, 7500))
	require.NoError(t, err)
	rev, err := f.svc.Reverse(ctx, posting.ReverseRequest{EntryID: orig.ID})
	require.NoError(t, err)

	_, err = f.svc.Reverse(ctx, posting.ReverseRequest{EntryID: orig.ID})
	assert.ErrorIs(t, err, errs.ErrConflict, "second reversal of the same entry")

	_, err = f.svc.Reverse(ctx, posting.ReverseRequest{EntryID: rev.ID})
	assert.ErrorIs(t, err, errs.ErrUnprocessable, "reversing a reversal")

	_, err = f.svc.Reverse(ctx, posting.ReverseRequest{EntryID: uuid.New()})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReverseWithExplicitDate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	orig, err := f.svc.Post(ctx, marchRequest(f, 900))
	require.NoError(t, err)

	later := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	rev, err := f.svc.Reverse(ctx, posting.ReverseRequest{EntryID: orig.ID, Date: later})
	require.NoError(t, err)
	assert.True(t, rev.Date.Equal(later))
}

func TestVoidNumberBurnsNext(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	e1, err := f.svc.Post(ctx, marchRequest(f, 100))
	require.NoError(t, err)
	require.Equal(t, int64(1), e1.Number)

	require.NoError(t, f.svc.VoidNumber(ctx, 2, "misprinted batch"))

	err = f.svc.VoidNumber(ctx, 1, "already allocated")
	assert.ErrorIs(t, err, errs.ErrConflict)

	e3, err := f.svc.Post(ctx, marchRequest(f, 200))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e3.Number, "the voided number stays burnt")
}

func TestListEntriesFiltersAndPages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := marchRequest(f, int64(100+i))
		req.Date = req.Date.AddDate(0, 0, i)
		_, err := f.svc.Post(ctx, req)
		require.NoError(t, err)
	}

	page1, cursor, err := f.svc.ListEntries(ctx, posting.EntryQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.NotEmpty(t, cursor)

	page2, cursor, err := f.svc.ListEntries(ctx, posting.EntryQuery{Limit: 3, Cursor: cursor})
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, cursor)

	seen := map[uuid.UUID]bool{}
	for _, e := range append(page1, page2...) {
		assert.False(t, seen[e.ID], "no entry repeats across pages")
		seen[e.ID] = true
	}

	from := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)
	window, _, err := f.svc.ListEntries(ctx, posting.EntryQuery{From: from})
	require.NoError(t, err)
	assert.Len(t, window, 3)
}

func TestGetEntryNotFound(t *testing.T) {
	f := setup(t)
	_, err := f.svc.GetEntry(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
