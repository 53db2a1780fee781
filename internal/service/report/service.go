// Package report builds statement views on top of the aggregation columns:
// profit and loss, balance sheet, and receivable/payable aging. Netting by
// normal side happens here, in presentation; the columns underneath stay
// independent.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
)

// Filter narrows a profit and loss run by source or by one dimension value.
type Filter struct {
	Source         ledger.EntrySource
	DimensionType  ledger.DimensionType
	DimensionValue uuid.UUID
}

// Row is one account's netted amount. Revenue, liability and equity rows net
// credit minus debit; asset and expense rows net debit minus credit.
type Row struct {
	Account  ledger.Account
	NetMinor int64
}

// ProfitAndLoss lists revenue and expense activity for a period. Totals and
// net income are per currency; accounts never mix currencies.
type ProfitAndLoss struct {
	Period       aggregate.Period
	Revenue      []Row
	Expenses     []Row
	RevenueTotal map[string]int64
	ExpenseTotal map[string]int64
	NetIncome    map[string]int64
}

// BalanceSheet is the position as of a date. CurrentEarnings carries the
// accumulated revenue minus expenses so the statement balances without a
// closing entry; it counts into EquityTotal.
type BalanceSheet struct {
	AsOf            time.Time
	Assets          []Row
	Liabilities     []Row
	Equity          []Row
	AssetTotal      map[string]int64
	LiabilityTotal  map[string]int64
	EquityTotal     map[string]int64
	CurrentEarnings map[string]int64
	Balanced        bool
}

// AgingBucket is one age band of open balance. ToDays is -1 for the open
// oldest band.
type AgingBucket struct {
	Label    string
	FromDays int
	ToDays   int
	NetMinor int64
}

// Aging breaks an account's open debit minus credit down by entry age.
type Aging struct {
	Account    ledger.Account
	AsOf       time.Time
	Buckets    []AgingBucket
	TotalMinor int64
}

// Service exposes the statement projections.
type Service interface {
	ProfitAndLoss(ctx context.Context, p aggregate.Period, f Filter) (ProfitAndLoss, error)
	BalanceSheet(ctx context.Context, asOf time.Time) (BalanceSheet, error)
	Aging(ctx context.Context, accountID uuid.UUID, asOf time.Time) (Aging, error)
}

type service struct {
	reader aggregate.Reader
}

func New(reader aggregate.Reader) Service { return &service{reader: reader} }

func (s *service) ProfitAndLoss(ctx context.Context, p aggregate.Period, f Filter) (ProfitAndLoss, error) {
	if p.From.IsZero() || p.To.IsZero() || p.To.Before(p.From) {
		return ProfitAndLoss{}, fmt.Errorf("%w: invalid period", errs.ErrInvalid)
	}
	facts, err := s.reader.LineFacts(ctx, ledger.FactScope{From: p.From, To: p.To, Source: f.Source})
	if err != nil {
		return ProfitAndLoss{}, err
	}

	type cols struct{ debit, credit int64 }
	byAccount := make(map[uuid.UUID]*cols)
	for _, lf := range facts {
		if f.DimensionType != "" {
			v, ok := lf.Tags[f.DimensionType]
			if !ok {
				continue
			}
			if f.DimensionValue != uuid.Nil && v != f.DimensionValue {
				continue
			}
		}
		c := byAccount[lf.AccountID]
		if c == nil {
			c = &cols{}
			byAccount[lf.AccountID] = c
		}
		if lf.Side == ledger.SideDebit {
			c.debit += lf.AmountMinor
		} else {
			c.credit += lf.AmountMinor
		}
	}

	ids := make([]uuid.UUID, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	accounts, err := s.reader.AccountsByIDs(ctx, ids)
	if err != nil {
		return ProfitAndLoss{}, err
	}

	pl := ProfitAndLoss{
		Period:       p,
		RevenueTotal: make(map[string]int64),
		ExpenseTotal: make(map[string]int64),
		NetIncome:    make(map[string]int64),
	}
	for id, c := range byAccount {
		acc := accounts[id]
		switch acc.Type {
		case ledger.AccountTypeRevenue:
			net := c.credit - c.debit
			pl.Revenue = append(pl.Revenue, Row{Account: acc, NetMinor: net})
			pl.RevenueTotal[acc.Currency] += net
		case ledger.AccountTypeExpense:
			net := c.debit - c.credit
			pl.Expenses = append(pl.Expenses, Row{Account: acc, NetMinor: net})
			pl.ExpenseTotal[acc.Currency] += net
		}
	}
	for cur, rev := range pl.RevenueTotal {
		pl.NetIncome[cur] = rev - pl.ExpenseTotal[cur]
	}
	for cur, exp := range pl.ExpenseTotal {
		if _, ok := pl.RevenueTotal[cur]; !ok {
			pl.NetIncome[cur] = -exp
		}
	}
	sortRows(pl.Revenue)
	sortRows(pl.Expenses)
	return pl, nil
}

func (s *service) BalanceSheet(ctx context.Context, asOf time.Time) (BalanceSheet, error) {
	balances, err := s.reader.BalanceFacts(ctx, asOf, nil)
	if err != nil {
		return BalanceSheet{}, err
	}
	byAccount := make(map[uuid.UUID]ledger.BalanceFact, len(balances))
	ids := make([]uuid.UUID, 0, len(balances))
	for _, bf := range balances {
		if bf.DebitMinor == 0 && bf.CreditMinor == 0 {
			continue
		}
		byAccount[bf.AccountID] = bf
		ids = append(ids, bf.AccountID)
	}
	accounts, err := s.reader.AccountsByIDs(ctx, ids)
	if err != nil {
		return BalanceSheet{}, err
	}

	bs := BalanceSheet{
		AsOf:            asOf,
		AssetTotal:      make(map[string]int64),
		LiabilityTotal:  make(map[string]int64),
		EquityTotal:     make(map[string]int64),
		CurrentEarnings: make(map[string]int64),
	}
	for id, bf := range byAccount {
		acc := accounts[id]
		switch acc.Type {
		case ledger.AccountTypeAsset:
			net := bf.DebitMinor - bf.CreditMinor
			bs.Assets = append(bs.Assets, Row{Account: acc, NetMinor: net})
			bs.AssetTotal[acc.Currency] += net
		case ledger.AccountTypeLiability:
			net := bf.CreditMinor - bf.DebitMinor
			bs.Liabilities = append(bs.Liabilities, Row{Account: acc, NetMinor: net})
			bs.LiabilityTotal[acc.Currency] += net
		case ledger.AccountTypeEquity:
			net := bf.CreditMinor - bf.DebitMinor
			bs.Equity = append(bs.Equity, Row{Account: acc, NetMinor: net})
			bs.EquityTotal[acc.Currency] += net
		case ledger.AccountTypeRevenue, ledger.AccountTypeExpense:
			bs.CurrentEarnings[acc.Currency] += bf.CreditMinor - bf.DebitMinor
		}
	}
	for cur, ce := range bs.CurrentEarnings {
		bs.EquityTotal[cur] += ce
	}
	sortRows(bs.Assets)
	sortRows(bs.Liabilities)
	sortRows(bs.Equity)

	bs.Balanced = true
	for cur, assets := range bs.AssetTotal {
		if assets != bs.LiabilityTotal[cur]+bs.EquityTotal[cur] {
			bs.Balanced = false
		}
	}
	for cur := range bs.EquityTotal {
		if _, ok := bs.AssetTotal[cur]; !ok && bs.LiabilityTotal[cur]+bs.EquityTotal[cur] != 0 {
			bs.Balanced = false
		}
	}
	return bs, nil
}

// agingBands are inclusive day ranges; the last band is open-ended.
var agingBands = []struct {
	label    string
	from, to int
}{
	{"0-30", 0, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"90+", 91, -1},
}

func (s *service) Aging(ctx context.Context, accountID uuid.UUID, asOf time.Time) (Aging, error) {
	if accountID == uuid.Nil {
		return Aging{}, errs.ErrInvalid
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	accounts, err := s.reader.AccountsByIDs(ctx, []uuid.UUID{accountID})
	if err != nil {
		return Aging{}, err
	}
	acc, ok := accounts[accountID]
	if !ok {
		return Aging{}, fmt.Errorf("%w: account %s", errs.ErrNotFound, accountID)
	}
	facts, err := s.reader.LineFacts(ctx, ledger.FactScope{To: asOf, AccountIDs: []uuid.UUID{accountID}})
	if err != nil {
		return Aging{}, err
	}

	out := Aging{Account: acc, AsOf: asOf, Buckets: make([]AgingBucket, len(agingBands))}
	for i, b := range agingBands {
		out.Buckets[i] = AgingBucket{Label: b.label, FromDays: b.from, ToDays: b.to}
	}
	for _, lf := range facts {
		age := ageDays(asOf, lf.Date)
		for i, b := range agingBands {
			if age >= b.from && (b.to < 0 || age <= b.to) {
				out.Buckets[i].NetMinor += lf.SignedMinor()
				break
			}
		}
		out.TotalMinor += lf.SignedMinor()
	}
	return out, nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Account.Code < rows[j].Account.Code })
}

func ageDays(asOf, d time.Time) int {
	age := int(asOf.UTC().Truncate(24*time.Hour).Sub(d.UTC().Truncate(24*time.Hour)).Hours() / 24)
	if age < 0 {
		age = 0
	}
	return age
}
