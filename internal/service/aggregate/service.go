// Package aggregate turns committed journal lines into trial balances and
// dimensional summaries. Debit and credit columns stay independent all the
// way through; netting happens only in presentation layers downstream.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// Mode selects the aggregation strategy. Live scans line facts; materialized
// reads the running balance buckets maintained at commit time. Both must
// return identical numbers, which VerifyIntegrity checks.
type Mode string

const (
	ModeLive         Mode = "live"
	ModeMaterialized Mode = "materialized"
)

// Reader defines the grouped read operations the engine works on. One call
// per report; the engine never fetches per row.
type Reader interface {
	LineFacts(ctx context.Context, scope ledger.FactScope) ([]ledger.LineFact, error)
	// BalanceFacts rolls up the materialized buckets per account up to asOf.
	// A zero asOf means everything.
	BalanceFacts(ctx context.Context, asOf time.Time, accountIDs []uuid.UUID) ([]ledger.BalanceFact, error)
	AccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)
	DimensionValuesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.DimensionValue, error)
	LastEntryNumber(ctx context.Context) (int64, error)
	// MissingEntryNumbers lists numbers in [1, last] not assigned to any entry.
	MissingEntryNumbers(ctx context.Context) ([]int64, error)
	NumberVoids(ctx context.Context) ([]ledger.NumberVoid, error)
}

// Filter narrows a trial balance run. Source and dimension filters force the
// live mode; the buckets only answer unfiltered or account-scoped queries.
type Filter struct {
	Mode           Mode
	AccountIDs     []uuid.UUID
	Source         ledger.EntrySource
	DimensionType  ledger.DimensionType
	DimensionValue uuid.UUID
}

func (f Filter) filtered() bool {
	return f.Source != "" || f.DimensionType != ""
}

// ColumnTotals holds one currency's independent column sums.
type ColumnTotals struct {
	DebitMinor  int64
	CreditMinor int64
}

// TrialBalanceRow is one account's columns as of the report date.
type TrialBalanceRow struct {
	Account     ledger.Account
	DebitMinor  int64
	CreditMinor int64
}

// TrialBalance lists every account with activity, ordered by account code.
type TrialBalance struct {
	AsOf     time.Time
	Mode     Mode
	Rows     []TrialBalanceRow
	Totals   map[string]ColumnTotals
	Balanced bool
}

// Period bounds a dimensional summary, inclusive at day granularity.
type Period struct {
	From time.Time
	To   time.Time
}

// DimensionFilter drives a dimensional summary: Types are the group-by axes
// in presentation order, Values optionally pin one value per type.
type DimensionFilter struct {
	Types      []ledger.DimensionType
	Values     map[ledger.DimensionType]uuid.UUID
	Source     ledger.EntrySource
	AccountIDs []uuid.UUID
}

// SummaryRow is one dimension combination's columns. Lines missing a
// requested type group under the empty code.
type SummaryRow struct {
	Key         map[ledger.DimensionType]string
	Label       string
	Currency    string
	DebitMinor  int64
	CreditMinor int64
}

// DimensionalSummary lists combination rows ordered by label, then currency.
type DimensionalSummary struct {
	Period Period
	Rows   []SummaryRow
	Totals map[string]ColumnTotals
}

// BalanceDrift reports one account where live and materialized disagree.
type BalanceDrift struct {
	AccountID                       uuid.UUID
	Code                            string
	LiveDebitMinor, LiveCreditMinor int64
	MatDebitMinor, MatCreditMinor   int64
}

// IntegrityReport is the result of a full ledger self-check.
type IntegrityReport struct {
	CheckedAt        time.Time
	TotalsByCurrency map[string]ColumnTotals
	Balanced         bool
	Drift            []BalanceDrift
	SequenceGaps     []int64
	LastNumber       int64
}

// Service exposes the report queries and the integrity check.
type Service interface {
	TrialBalance(ctx context.Context, asOf time.Time, f Filter) (TrialBalance, error)
	DimensionalSummary(ctx context.Context, p Period, f DimensionFilter) (DimensionalSummary, error)
	VerifyIntegrity(ctx context.Context) (IntegrityReport, error)
}

type service struct {
	reader Reader
}

func New(reader Reader) Service { return &service{reader: reader} }

func (s *service) TrialBalance(ctx context.Context, asOf time.Time, f Filter) (TrialBalance, error) {
	mode := f.Mode
	switch mode {
	case "":
		if f.filtered() {
			mode = ModeLive
		} else {
			mode = ModeMaterialized
		}
	case ModeMaterialized:
		if f.filtered() {
			mode = ModeLive
		}
	case ModeLive:
	default:
		return TrialBalance{}, fmt.Errorf("%w: unknown mode %q", errs.ErrInvalid, f.Mode)
	}

	type cols struct{ debit, credit int64 }
	byAccount := make(map[uuid.UUID]*cols)

	if mode == ModeMaterialized {
		facts, err := s.reader.BalanceFacts(ctx, asOf, f.AccountIDs)
		if err != nil {
			return TrialBalance{}, err
		}
		for _, bf := range facts {
			byAccount[bf.AccountID] = &cols{debit: bf.DebitMinor, credit: bf.CreditMinor}
		}
	} else {
		facts, err := s.reader.LineFacts(ctx, ledger.FactScope{
			To:         asOf,
			AccountIDs: f.AccountIDs,
			Source:     f.Source,
		})
		if err != nil {
			return TrialBalance{}, err
		}
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
	}

	ids := make([]uuid.UUID, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	accounts, err := s.reader.AccountsByIDs(ctx, ids)
	if err != nil {
		return TrialBalance{}, err
	}

	tb := TrialBalance{
		AsOf:   asOf,
		Mode:   mode,
		Rows:   make([]TrialBalanceRow, 0, len(byAccount)),
		Totals: make(map[string]ColumnTotals),
	}
	for id, c := range byAccount {
		acc := accounts[id]
		tb.Rows = append(tb.Rows, TrialBalanceRow{Account: acc, DebitMinor: c.debit, CreditMinor: c.credit})
		t := tb.Totals[acc.Currency]
		t.DebitMinor += c.debit
		t.CreditMinor += c.credit
		tb.Totals[acc.Currency] = t
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Account.Code < tb.Rows[j].Account.Code })
	tb.Balanced = balanced(tb.Totals)
	return tb, nil
}

func balanced(totals map[string]ColumnTotals) bool {
	for _, t := range totals {
		if t.DebitMinor != t.CreditMinor {
			return false
		}
	}
	return true
}

func (s *service) DimensionalSummary(ctx context.Context, p Period, f DimensionFilter) (DimensionalSummary, error) {
	if len(f.Types) == 0 {
		return DimensionalSummary{}, fmt.Errorf("%w: at least one dimension type", errs.ErrInvalid)
	}
	facts, err := s.reader.LineFacts(ctx, ledger.FactScope{
		From:       p.From,
		To:         p.To,
		AccountIDs: f.AccountIDs,
		Source:     f.Source,
	})
	if err != nil {
		return DimensionalSummary{}, err
	}

	// Resolve every tagged value id of the requested types to its code once.
	idSet := make(map[uuid.UUID]struct{})
	for _, lf := range facts {
		for _, t := range f.Types {
			if v, ok := lf.Tags[t]; ok {
				idSet[v] = struct{}{}
			}
		}
	}
	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	values := map[uuid.UUID]ledger.DimensionValue{}
	if len(ids) > 0 {
		values, err = s.reader.DimensionValuesByIDs(ctx, ids)
		if err != nil {
			return DimensionalSummary{}, err
		}
	}

	type agg struct {
		key      map[ledger.DimensionType]string
		currency string
		debit    int64
		credit   int64
	}
	rows := make(map[string]*agg)
	totals := make(map[string]ColumnTotals)
	for _, lf := range facts {
		if !matchesValues(lf, f.Values) {
			continue
		}
		key := make(map[ledger.DimensionType]string, len(f.Types))
		label := ""
		for i, t := range f.Types {
			vCode := ""
			if vid, ok := lf.Tags[t]; ok {
				vCode = values[vid].Code
			}
			key[t] = vCode
			if i > 0 {
				label += "/"
			}
			label += vCode
		}
		mk := label + "|" + lf.Currency
		a := rows[mk]
		if a == nil {
			a = &agg{key: key, currency: lf.Currency}
			rows[mk] = a
		}
		if lf.Side == ledger.SideDebit {
			a.debit += lf.AmountMinor
		} else {
			a.credit += lf.AmountMinor
		}
		t := totals[lf.Currency]
		if lf.Side == ledger.SideDebit {
			t.DebitMinor += lf.AmountMinor
		} else {
			t.CreditMinor += lf.AmountMinor
		}
		totals[lf.Currency] = t
	}

	out := DimensionalSummary{Period: p, Rows: make([]SummaryRow, 0, len(rows)), Totals: totals}
	for mk, a := range rows {
		label := mk[:len(mk)-len(a.currency)-1]
		out.Rows = append(out.Rows, SummaryRow{
			Key:         a.key,
			Label:       label,
			Currency:    a.currency,
			DebitMinor:  a.debit,
			CreditMinor: a.credit,
		})
	}
	sort.Slice(out.Rows, func(i, j int) bool {
		if out.Rows[i].Label != out.Rows[j].Label {
			return out.Rows[i].Label < out.Rows[j].Label
		}
		return out.Rows[i].Currency < out.Rows[j].Currency
	})
	return out, nil
}

func matchesValues(lf ledger.LineFact, want map[ledger.DimensionType]uuid.UUID) bool {
	for t, v := range want {
		got, ok := lf.Tags[t]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// VerifyIntegrity cross-checks the whole ledger: global balance, live versus
// materialized agreement per account, and sequence gaps not covered by a
// void record. Exposes the results as gauges for alerting.
func (s *service) VerifyIntegrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: time.Now().UTC(), TotalsByCurrency: make(map[string]ColumnTotals)}

	facts, err := s.reader.LineFacts(ctx, ledger.FactScope{})
	if err != nil {
		return IntegrityReport{}, err
	}
	type cols struct{ debit, credit int64 }
	live := make(map[uuid.UUID]*cols)
	for _, lf := range facts {
		c := live[lf.AccountID]
		if c == nil {
			c = &cols{}
			live[lf.AccountID] = c
		}
		if lf.Side == ledger.SideDebit {
			c.debit += lf.AmountMinor
		} else {
			c.credit += lf.AmountMinor
		}
		t := report.TotalsByCurrency[lf.Currency]
		if lf.Side == ledger.SideDebit {
			t.DebitMinor += lf.AmountMinor
		} else {
			t.CreditMinor += lf.AmountMinor
		}
		report.TotalsByCurrency[lf.Currency] = t
	}
	report.Balanced = balanced(report.TotalsByCurrency)

	mat, err := s.reader.BalanceFacts(ctx, time.Time{}, nil)
	if err != nil {
		return IntegrityReport{}, err
	}
	matByAccount := make(map[uuid.UUID]ledger.BalanceFact, len(mat))
	for _, bf := range mat {
		matByAccount[bf.AccountID] = bf
	}
	driftIDs := make([]uuid.UUID, 0)
	for id, c := range live {
		bf := matByAccount[id]
		if bf.DebitMinor != c.debit || bf.CreditMinor != c.credit {
			driftIDs = append(driftIDs, id)
		}
	}
	for id, bf := range matByAccount {
		if _, ok := live[id]; ok {
			continue
		}
		if bf.DebitMinor != 0 || bf.CreditMinor != 0 {
			driftIDs = append(driftIDs, id)
		}
	}
	if len(driftIDs) > 0 {
		accounts, err := s.reader.AccountsByIDs(ctx, driftIDs)
		if err != nil {
			return IntegrityReport{}, err
		}
		for _, id := range driftIDs {
			var l cols
			if c := live[id]; c != nil {
				l = *c
			}
			bf := matByAccount[id]
			report.Drift = append(report.Drift, BalanceDrift{
				AccountID:       id,
				Code:            accounts[id].Code,
				LiveDebitMinor:  l.debit,
				LiveCreditMinor: l.credit,
				MatDebitMinor:   bf.DebitMinor,
				MatCreditMinor:  bf.CreditMinor,
			})
		}
		sort.Slice(report.Drift, func(i, j int) bool { return report.Drift[i].Code < report.Drift[j].Code })
	}

	last, err := s.reader.LastEntryNumber(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.LastNumber = last
	missing, err := s.reader.MissingEntryNumbers(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	voids, err := s.reader.NumberVoids(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	voided := make(map[int64]struct{}, len(voids))
	for _, v := range voids {
		voided[v.Number] = struct{}{}
	}
	for _, n := range missing {
		if _, ok := voided[n]; !ok {
			report.SequenceGaps = append(report.SequenceGaps, n)
		}
	}
	sort.Slice(report.SequenceGaps, func(i, j int) bool { return report.SequenceGaps[i] < report.SequenceGaps[j] })

	observeIntegrity(report)
	return report, nil
}
