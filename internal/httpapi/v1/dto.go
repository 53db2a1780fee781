package v1

import (
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/importer"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/service/report"
)

// Journal entries

type postEntryRequest struct {
	Date           time.Time          `json:"date"`
	Currency       string             `json:"currency"`
	Memo           string             `json:"memo,omitempty"`
	Source         ledger.EntrySource `json:"source,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	Lines          []postEntryLine    `json:"lines"`
}

type postEntryLine struct {
	AccountID   uuid.UUID         `json:"account_id"`
	Side        ledger.Side       `json:"side"`
	AmountMinor int64             `json:"amount_minor"`
	Tags        ledger.Tags       `json:"tags,omitempty"`
	Memo        string            `json:"memo,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toPostRequest(req postEntryRequest) posting.PostRequest {
	lines := make([]posting.LineInput, 0, len(req.Lines))
	for _, ln := range req.Lines {
		lines = append(lines, posting.LineInput{
			AccountID:   ln.AccountID,
			Side:        ln.Side,
			AmountMinor: ln.AmountMinor,
			Tags:        ln.Tags,
			Memo:        ln.Memo,
			Metadata:    ln.Metadata,
		})
	}
	return posting.PostRequest{
		Date:           req.Date,
		Currency:       req.Currency,
		Memo:           req.Memo,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		Lines:          lines,
	}
}

type reverseEntryRequest struct {
	Date *time.Time `json:"date,omitempty"`
	Memo string     `json:"memo,omitempty"`
}

type voidNumberRequest struct {
	Number int64  `json:"number"`
	Reason string `json:"reason"`
}

type entryResponse struct {
	ID         uuid.UUID          `json:"id"`
	Number     int64              `json:"number"`
	Date       time.Time          `json:"date"`
	Currency   string             `json:"currency"`
	Memo       string             `json:"memo,omitempty"`
	Source     ledger.EntrySource `json:"source"`
	Status     ledger.EntryStatus `json:"status"`
	ReversalOf *uuid.UUID         `json:"reversal_of,omitempty"`
	ReversedBy *uuid.UUID         `json:"reversed_by,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	Lines      []lineResponse     `json:"lines"`
}

type lineResponse struct {
	ID          uuid.UUID   `json:"id"`
	AccountID   uuid.UUID   `json:"account_id"`
	Side        ledger.Side `json:"side"`
	AmountMinor int64       `json:"amount_minor"`
	Amount      string      `json:"amount"`
	Tags        ledger.Tags `json:"tags,omitempty"`
	Memo        string      `json:"memo,omitempty"`
}

func toEntryResponse(e ledger.JournalEntry) entryResponse {
	lines := make([]lineResponse, 0, len(e.Lines))
	for _, ln := range e.Lines {
		minor, _ := ln.Amount.MinorUnits()
		lines = append(lines, lineResponse{
			ID:          ln.ID,
			AccountID:   ln.AccountID,
			Side:        ln.Side,
			AmountMinor: minor,
			Amount:      ln.Amount.String(),
			Tags:        ln.Tags,
			Memo:        ln.Memo,
		})
	}
	return entryResponse{
		ID:         e.ID,
		Number:     e.Number,
		Date:       e.Date,
		Currency:   e.Currency,
		Memo:       e.Memo,
		Source:     e.Source,
		Status:     e.Status,
		ReversalOf: e.ReversalOf,
		ReversedBy: e.ReversedBy,
		Metadata:   e.Metadata,
		Lines:      lines,
	}
}

// listEntriesResponse wraps a page of entries with the cursor for the next.
type listEntriesResponse struct {
	Items      []entryResponse `json:"items"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

// Accounts

type postAccountRequest struct {
	Code         string                 `json:"code"`
	Name         string                 `json:"name"`
	Currency     string                 `json:"currency"`
	Type         ledger.AccountType     `json:"type"`
	RequiredDims []ledger.DimensionType `json:"required_dims,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	System       bool                   `json:"system,omitempty"`
}

type updateAccountRequest struct {
	Name         *string                 `json:"name,omitempty"`
	Code         *string                 `json:"code,omitempty"`
	Type         *ledger.AccountType     `json:"type,omitempty"`
	Currency     *string                 `json:"currency,omitempty"`
	RequiredDims *[]ledger.DimensionType `json:"required_dims,omitempty"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
}

type accountResponse struct {
	ID           uuid.UUID              `json:"id"`
	Code         string                 `json:"code"`
	Name         string                 `json:"name"`
	Currency     string                 `json:"currency"`
	Type         ledger.AccountType     `json:"type"`
	NormalSide   ledger.Side            `json:"normal_side"`
	RequiredDims []ledger.DimensionType `json:"required_dims,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	System       bool                   `json:"system"`
	Active       bool                   `json:"active"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Code:         a.Code,
		Name:         a.Name,
		Currency:     a.Currency,
		Type:         a.Type,
		NormalSide:   a.NormalSide,
		RequiredDims: a.RequiredDims,
		Metadata:     a.Metadata,
		System:       a.System,
		Active:       a.Active,
	}
}

// Dimensions

type dimensionTypeRequest struct {
	Code ledger.DimensionType `json:"code"`
	Name string               `json:"name"`
}

type dimensionTypeResponse struct {
	Code   ledger.DimensionType `json:"code"`
	Name   string               `json:"name"`
	Active bool                 `json:"active"`
}

type dimensionValueRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type dimensionValueResponse struct {
	ID     uuid.UUID            `json:"id"`
	Type   ledger.DimensionType `json:"type"`
	Code   string               `json:"code"`
	Name   string               `json:"name"`
	Active bool                 `json:"active"`
}

func toDimensionValueResponse(v ledger.DimensionValue) dimensionValueResponse {
	return dimensionValueResponse{ID: v.ID, Type: v.Type, Code: v.Code, Name: v.Name, Active: v.Active}
}

// Trial balance

// trialBalanceQuery holds validated query params for GET /reports/trial-balance.
type trialBalanceQuery struct {
	AsOf   time.Time
	Filter aggregate.Filter
}

type trialBalanceRow struct {
	AccountID   uuid.UUID          `json:"account_id"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Currency    string             `json:"currency"`
	Type        ledger.AccountType `json:"type"`
	DebitMinor  int64              `json:"debit_minor"`
	CreditMinor int64              `json:"credit_minor"`
}

type columnTotals struct {
	DebitMinor  int64 `json:"debit_minor"`
	CreditMinor int64 `json:"credit_minor"`
}

type trialBalanceResponse struct {
	AsOf     *time.Time              `json:"as_of,omitempty"`
	Mode     aggregate.Mode          `json:"mode"`
	Rows     []trialBalanceRow       `json:"rows"`
	Totals   map[string]columnTotals `json:"totals"`
	Balanced bool                    `json:"balanced"`
}

func toTrialBalanceResponse(tb aggregate.TrialBalance) trialBalanceResponse {
	rows := make([]trialBalanceRow, 0, len(tb.Rows))
	for _, r := range tb.Rows {
		rows = append(rows, trialBalanceRow{
			AccountID:   r.Account.ID,
			Code:        r.Account.Code,
			Name:        r.Account.Name,
			Currency:    r.Account.Currency,
			Type:        r.Account.Type,
			DebitMinor:  r.DebitMinor,
			CreditMinor: r.CreditMinor,
		})
	}
	resp := trialBalanceResponse{
		Mode:     tb.Mode,
		Rows:     rows,
		Totals:   toTotals(tb.Totals),
		Balanced: tb.Balanced,
	}
	if !tb.AsOf.IsZero() {
		asOf := tb.AsOf
		resp.AsOf = &asOf
	}
	return resp
}

func toTotals(in map[string]aggregate.ColumnTotals) map[string]columnTotals {
	out := make(map[string]columnTotals, len(in))
	for cur, t := range in {
		out[cur] = columnTotals{DebitMinor: t.DebitMinor, CreditMinor: t.CreditMinor}
	}
	return out
}

// Dimensional summary

type summaryRow struct {
	Key         map[ledger.DimensionType]string `json:"key"`
	Label       string                          `json:"label"`
	Currency    string                          `json:"currency"`
	DebitMinor  int64                           `json:"debit_minor"`
	CreditMinor int64                           `json:"credit_minor"`
}

type summaryResponse struct {
	From   time.Time               `json:"from"`
	To     time.Time               `json:"to"`
	Rows   []summaryRow            `json:"rows"`
	Totals map[string]columnTotals `json:"totals"`
}

func toSummaryResponse(ds aggregate.DimensionalSummary) summaryResponse {
	rows := make([]summaryRow, 0, len(ds.Rows))
	for _, r := range ds.Rows {
		rows = append(rows, summaryRow{
			Key:         r.Key,
			Label:       r.Label,
			Currency:    r.Currency,
			DebitMinor:  r.DebitMinor,
			CreditMinor: r.CreditMinor,
		})
	}
	return summaryResponse{From: ds.Period.From, To: ds.Period.To, Rows: rows, Totals: toTotals(ds.Totals)}
}

// Statements

type statementRow struct {
	AccountID uuid.UUID          `json:"account_id"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	Currency  string             `json:"currency"`
	Type      ledger.AccountType `json:"type"`
	NetMinor  int64              `json:"net_minor"`
}

func toStatementRows(rows []report.Row) []statementRow {
	out := make([]statementRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, statementRow{
			AccountID: r.Account.ID,
			Code:      r.Account.Code,
			Name:      r.Account.Name,
			Currency:  r.Account.Currency,
			Type:      r.Account.Type,
			NetMinor:  r.NetMinor,
		})
	}
	return out
}

type profitAndLossResponse struct {
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	Revenue      []statementRow   `json:"revenue"`
	Expenses     []statementRow   `json:"expenses"`
	RevenueTotal map[string]int64 `json:"revenue_total"`
	ExpenseTotal map[string]int64 `json:"expense_total"`
	NetIncome    map[string]int64 `json:"net_income"`
}

type balanceSheetResponse struct {
	AsOf            time.Time        `json:"as_of"`
	Assets          []statementRow   `json:"assets"`
	Liabilities     []statementRow   `json:"liabilities"`
	Equity          []statementRow   `json:"equity"`
	AssetTotal      map[string]int64 `json:"asset_total"`
	LiabilityTotal  map[string]int64 `json:"liability_total"`
	EquityTotal     map[string]int64 `json:"equity_total"`
	CurrentEarnings map[string]int64 `json:"current_earnings"`
	Balanced        bool             `json:"balanced"`
}

type agingBucketResponse struct {
	Label    string `json:"label"`
	FromDays int    `json:"from_days"`
	ToDays   int    `json:"to_days"`
	NetMinor int64  `json:"net_minor"`
}

type agingResponse struct {
	AccountID  uuid.UUID             `json:"account_id"`
	Code       string                `json:"code"`
	AsOf       time.Time             `json:"as_of"`
	Buckets    []agingBucketResponse `json:"buckets"`
	TotalMinor int64                 `json:"total_minor"`
}

// Integrity

type driftResponse struct {
	AccountID       uuid.UUID `json:"account_id"`
	Code            string    `json:"code"`
	LiveDebitMinor  int64     `json:"live_debit_minor"`
	LiveCreditMinor int64     `json:"live_credit_minor"`
	MatDebitMinor   int64     `json:"materialized_debit_minor"`
	MatCreditMinor  int64     `json:"materialized_credit_minor"`
}

type integrityResponse struct {
	CheckedAt        time.Time               `json:"checked_at"`
	TotalsByCurrency map[string]columnTotals `json:"totals_by_currency"`
	Balanced         bool                    `json:"balanced"`
	Drift            []driftResponse         `json:"drift,omitempty"`
	SequenceGaps     []int64                 `json:"sequence_gaps,omitempty"`
	LastNumber       int64                   `json:"last_number"`
}

func toIntegrityResponse(rep aggregate.IntegrityReport) integrityResponse {
	drift := make([]driftResponse, 0, len(rep.Drift))
	for _, d := range rep.Drift {
		drift = append(drift, driftResponse{
			AccountID:       d.AccountID,
			Code:            d.Code,
			LiveDebitMinor:  d.LiveDebitMinor,
			LiveCreditMinor: d.LiveCreditMinor,
			MatDebitMinor:   d.MatDebitMinor,
			MatCreditMinor:  d.MatCreditMinor,
		})
	}
	return integrityResponse{
		CheckedAt:        rep.CheckedAt,
		TotalsByCurrency: toTotals(rep.TotalsByCurrency),
		Balanced:         rep.Balanced,
		Drift:            drift,
		SequenceGaps:     rep.SequenceGaps,
		LastNumber:       rep.LastNumber,
	}
}

// Reconciliation

type runReconciliationRequest struct {
	BankAccountID uuid.UUID  `json:"bank_account_id"`
	PeriodStart   time.Time  `json:"period_start"`
	PeriodEnd     time.Time  `json:"period_end"`
	StatementDate *time.Time `json:"statement_date,omitempty"`
	OpeningMinor  int64      `json:"opening_minor"`
	ClosingMinor  int64      `json:"closing_minor"`
}

type confirmItemRequest struct {
	LineID *uuid.UUID `json:"line_id,omitempty"`
}

type reconciliationItemResponse struct {
	ID                uuid.UUID          `json:"id"`
	TransactionID     uuid.UUID          `json:"transaction_id"`
	LineID            *uuid.UUID         `json:"line_id,omitempty"`
	Confidence        float64            `json:"confidence"`
	Status            ledger.ReconStatus `json:"status"`
	DimensionMismatch bool               `json:"dimension_mismatch,omitempty"`
	CandidateLineIDs  []uuid.UUID        `json:"candidate_line_ids,omitempty"`
}

type reconciliationResponse struct {
	ID            uuid.UUID                    `json:"id"`
	BankAccountID uuid.UUID                    `json:"bank_account_id"`
	PeriodStart   time.Time                    `json:"period_start"`
	PeriodEnd     time.Time                    `json:"period_end"`
	StatementDate time.Time                    `json:"statement_date"`
	OpeningMinor  int64                        `json:"opening_minor"`
	ClosingMinor  int64                        `json:"closing_minor"`
	CreatedAt     time.Time                    `json:"created_at"`
	Items         []reconciliationItemResponse `json:"items"`
}

func toReconciliationResponse(rec ledger.BankReconciliation) reconciliationResponse {
	items := make([]reconciliationItemResponse, 0, len(rec.Items))
	for _, it := range rec.Items {
		items = append(items, toItemResponse(it))
	}
	return reconciliationResponse{
		ID:            rec.ID,
		BankAccountID: rec.BankAccountID,
		PeriodStart:   rec.PeriodStart,
		PeriodEnd:     rec.PeriodEnd,
		StatementDate: rec.StatementDate,
		OpeningMinor:  rec.OpeningMinor,
		ClosingMinor:  rec.ClosingMinor,
		CreatedAt:     rec.CreatedAt,
		Items:         items,
	}
}

func toItemResponse(it ledger.ReconciliationItem) reconciliationItemResponse {
	return reconciliationItemResponse{
		ID:                it.ID,
		TransactionID:     it.TransactionID,
		LineID:            it.LineID,
		Confidence:        it.Confidence,
		Status:            it.Status,
		DimensionMismatch: it.DimensionMismatch,
		CandidateLineIDs:  it.CandidateLineIDs,
	}
}

// importResultResponse summarizes one statement upload.
type importResultResponse struct {
	Format     string `json:"format"`
	Parsed     int    `json:"parsed"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
}

func toImportResultResponse(res importer.Result) importResultResponse {
	return importResultResponse{
		Format:     res.Format,
		Parsed:     res.Parsed,
		Imported:   res.Imported,
		Duplicates: res.Duplicates,
	}
}
