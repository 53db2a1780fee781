package directory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/dimension"
	"github.com/minerva-erp/glcore/internal/service/directory"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, directory.Service) {
	t.Helper()
	store := memory.New()
	return store, directory.New(store, store)
}

func cashInput() directory.CreateAccountInput {
	return directory.CreateAccountInput{
		Code: "1000", Name: "Cash", Currency: "EUR", Type: ledger.AccountTypeAsset,
	}
}

func TestCreateAccountNormalizes(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, directory.CreateAccountInput{
		Code: " petty cash 01 ", Name: "Petty Cash", Currency: "eur", Type: ledger.AccountTypeAsset,
	})
	require.NoError(t, err)
	assert.Equal(t, "PETTY-CASH-01", a.Code)
	assert.Equal(t, "EUR", a.Currency)
	assert.Equal(t, ledger.SideDebit, a.NormalSide)
	assert.True(t, a.Active)

	got, err := svc.GetAccountByCode(ctx, "petty cash 01")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestCreateAccountValidation(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	cases := map[string]directory.CreateAccountInput{
		"missing name":   {Code: "1000", Currency: "EUR", Type: ledger.AccountTypeAsset},
		"missing code":   {Name: "Cash", Currency: "EUR", Type: ledger.AccountTypeAsset},
		"short currency": {Code: "1000", Name: "Cash", Currency: "EU", Type: ledger.AccountTypeAsset},
		"unknown type":   {Code: "1000", Name: "Cash", Currency: "EUR", Type: "goodwill"},
		"empty dim":      {Code: "1000", Name: "Cash", Currency: "EUR", Type: ledger.AccountTypeAsset, RequiredDims: []ledger.DimensionType{""}},
		"duplicate dims": {Code: "1000", Name: "Cash", Currency: "EUR", Type: ledger.AccountTypeAsset, RequiredDims: []ledger.DimensionType{"cost_center", "cost_center"}},
	}
	for name, in := range cases {
		_, err := svc.CreateAccount(ctx, in)
		assert.ErrorIs(t, err, errs.ErrUnprocessable, name)
	}
}

func TestCreateAccountDuplicateCode(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, cashInput())
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, cashInput())
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestUpdateAccountDescriptiveFields(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, cashInput())
	require.NoError(t, err)

	name := "House Bank"
	updated, err := svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: a.ID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "House Bank", updated.Name)
	assert.Equal(t, "1000", updated.Code)

	empty := ""
	_, err = svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: a.ID, Name: &empty})
	assert.ErrorIs(t, err, errs.ErrUnprocessable)
}

func TestUpdateAccountIdentityLockedOnceReferenced(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()

	cash, err := svc.CreateAccount(ctx, cashInput())
	require.NoError(t, err)
	rev, err := svc.CreateAccount(ctx, directory.CreateAccountInput{
		Code: "4000", Name: "Revenue", Currency: "EUR", Type: ledger.AccountTypeRevenue,
	})
	require.NoError(t, err)

	// Identity fields are editable while nothing references the account.
	newCode := "1010"
	updated, err := svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: cash.ID, Code: &newCode})
	require.NoError(t, err)
	assert.Equal(t, "1010", updated.Code)

	post := posting.New(store, store, dimension.New(store), nil)
	_, err = post.Post(ctx, posting.PostRequest{
		Date: time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), Currency: "EUR",
		Lines: []posting.LineInput{
			{AccountID: cash.ID, Side: ledger.SideDebit, AmountMinor: 100},
			{AccountID: rev.ID, Side: ledger.SideCredit, AmountMinor: 100},
		},
	})
	require.NoError(t, err)

	backCode := "1000"
	_, err = svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: cash.ID, Code: &backCode})
	assert.ErrorIs(t, err, errs.ErrImmutable)
	typ := ledger.AccountTypeExpense
	_, err = svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: cash.ID, Type: &typ})
	assert.ErrorIs(t, err, errs.ErrImmutable)

	// Descriptive fields stay editable.
	name := "Main Cash"
	_, err = svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: cash.ID, Name: &name})
	assert.NoError(t, err)
}

func TestSystemAccountProtected(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, directory.CreateAccountInput{
		Code: "3900", Name: "Retained Earnings", Currency: "EUR",
		Type: ledger.AccountTypeEquity, System: true,
	})
	require.NoError(t, err)

	name := "Renamed"
	_, err = svc.UpdateAccount(ctx, directory.UpdateAccountInput{ID: a.ID, Name: &name})
	assert.ErrorIs(t, err, errs.ErrSystemAccount)
	_, err = svc.DeactivateAccount(ctx, a.ID)
	assert.ErrorIs(t, err, errs.ErrSystemAccount)
}

func TestDeactivateAccountSoftDeletes(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, cashInput())
	require.NoError(t, err)

	off, err := svc.DeactivateAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)

	// The id and history survive; only new postings are blocked.
	got, err := svc.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestDimensionRegistry(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterDimensionType(ctx, ledger.DimensionTypeDef{
		Code: " Cost_Center ", Name: "Cost Center", Active: true,
	}))
	err := svc.RegisterDimensionType(ctx, ledger.DimensionTypeDef{Code: "cost_center", Name: "Again", Active: true})
	assert.ErrorIs(t, err, errs.ErrConflict)

	types, err := svc.ListDimensionTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, ledger.DimensionType("cost_center"), types[0].Code)

	v, err := svc.CreateDimensionValue(ctx, directory.CreateDimensionValueInput{
		Type: "cost_center", Code: "cc 100", Name: "Operations",
	})
	require.NoError(t, err)
	assert.Equal(t, "CC-100", v.Code)

	_, err = svc.CreateDimensionValue(ctx, directory.CreateDimensionValueInput{
		Type: "cost_center", Code: "CC-100", Name: "Duplicate",
	})
	assert.ErrorIs(t, err, errs.ErrConflict)

	_, err = svc.CreateDimensionValue(ctx, directory.CreateDimensionValueInput{
		Type: "warehouse", Code: "W-1", Name: "Unregistered type",
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	got, err := svc.GetDimensionValueByCode(ctx, "cost_center", "cc 100")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	off, err := svc.DeactivateDimensionValue(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)
}

func TestSeedIsIdempotent(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx, "EUR"))
	accounts, err := svc.ListAccounts(ctx)
	require.NoError(t, err)
	firstCount := len(accounts)
	require.Greater(t, firstCount, 0)

	vat, err := svc.GetAccountByCode(ctx, "2200")
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountTypeLiability, vat.Type)
	retained, err := svc.GetAccountByCode(ctx, "3900")
	require.NoError(t, err)
	assert.True(t, retained.System)

	require.NoError(t, svc.Seed(ctx, "EUR"))
	accounts, err = svc.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, firstCount)

	types, err := svc.ListDimensionTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 4)

	err = svc.Seed(ctx, "x")
	assert.ErrorIs(t, err, errs.ErrInvalid)
}
