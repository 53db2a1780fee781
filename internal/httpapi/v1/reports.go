package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/report"
)

func (s *Server) trialBalance(w http.ResponseWriter, r *http.Request) {
	query, ok := r.Context().Value(ctxKeyTrialBalance).(trialBalanceQuery)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
		return
	}
	tb, err := s.aggregate.TrialBalance(r.Context(), query.AsOf, query.Filter)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toTrialBalanceResponse(tb))
}

func (s *Server) dimensionalSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, ok := parsePeriod(w, q.Get("from"), q.Get("to"))
	if !ok {
		return
	}
	filter := aggregate.DimensionFilter{Source: ledger.EntrySource(q.Get("source"))}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.Types = append(filter.Types, ledger.DimensionType(t))
		}
	}
	// Pins come as repeated pin=<type>:<value-uuid> params.
	for _, raw := range q["pin"] {
		typ, val, found := strings.Cut(raw, ":")
		if !found {
			badRequest(w, "invalid pin, want type:value_id")
			return
		}
		id, err := uuid.Parse(val)
		if err != nil {
			badRequest(w, "invalid pin value id")
			return
		}
		if filter.Values == nil {
			filter.Values = make(map[ledger.DimensionType]uuid.UUID)
		}
		filter.Values[ledger.DimensionType(typ)] = id
	}
	if raw := q.Get("account_ids"); raw != "" {
		ids, err := parseUUIDList(raw)
		if err != nil {
			badRequest(w, "invalid account_ids")
			return
		}
		filter.AccountIDs = ids
	}
	ds, err := s.aggregate.DimensionalSummary(r.Context(), period, filter)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toSummaryResponse(ds))
}

func (s *Server) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, ok := parsePeriod(w, q.Get("from"), q.Get("to"))
	if !ok {
		return
	}
	filter := report.Filter{
		Source:        ledger.EntrySource(q.Get("source")),
		DimensionType: ledger.DimensionType(q.Get("dimension_type")),
	}
	if raw := q.Get("dimension_value"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "invalid dimension_value")
			return
		}
		filter.DimensionValue = id
	}
	pl, err := s.reports.ProfitAndLoss(r.Context(), period, filter)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, profitAndLossResponse{
		From:         pl.Period.From,
		To:           pl.Period.To,
		Revenue:      toStatementRows(pl.Revenue),
		Expenses:     toStatementRows(pl.Expenses),
		RevenueTotal: pl.RevenueTotal,
		ExpenseTotal: pl.ExpenseTotal,
		NetIncome:    pl.NetIncome,
	})
}

func (s *Server) balanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, ok := parseAsOf(w, r.URL.Query().Get("as_of"))
	if !ok {
		return
	}
	bs, err := s.reports.BalanceSheet(r.Context(), asOf)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, balanceSheetResponse{
		AsOf:            bs.AsOf,
		Assets:          toStatementRows(bs.Assets),
		Liabilities:     toStatementRows(bs.Liabilities),
		Equity:          toStatementRows(bs.Equity),
		AssetTotal:      bs.AssetTotal,
		LiabilityTotal:  bs.LiabilityTotal,
		EquityTotal:     bs.EquityTotal,
		CurrentEarnings: bs.CurrentEarnings,
		Balanced:        bs.Balanced,
	})
}

func (s *Server) aging(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accountID, err := uuid.Parse(q.Get("account_id"))
	if err != nil {
		badRequest(w, "invalid account_id")
		return
	}
	asOf, ok := parseAsOf(w, q.Get("as_of"))
	if !ok {
		return
	}
	ag, err := s.reports.Aging(r.Context(), accountID, asOf)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	buckets := make([]agingBucketResponse, 0, len(ag.Buckets))
	for _, b := range ag.Buckets {
		buckets = append(buckets, agingBucketResponse{
			Label:    b.Label,
			FromDays: b.FromDays,
			ToDays:   b.ToDays,
			NetMinor: b.NetMinor,
		})
	}
	toJSON(w, http.StatusOK, agingResponse{
		AccountID:  ag.Account.ID,
		Code:       ag.Account.Code,
		AsOf:       ag.AsOf,
		Buckets:    buckets,
		TotalMinor: ag.TotalMinor,
	})
}

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	rep, err := s.aggregate.VerifyIntegrity(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toIntegrityResponse(rep))
}

// parsePeriod parses required from/to report bounds. Writes the error
// response itself; callers just return on !ok.
func parsePeriod(w http.ResponseWriter, fromRaw, toRaw string) (aggregate.Period, bool) {
	if fromRaw == "" || toRaw == "" {
		badRequest(w, "from and to are required")
		return aggregate.Period{}, false
	}
	from, err := parseTime(fromRaw)
	if err != nil {
		badRequest(w, "invalid from")
		return aggregate.Period{}, false
	}
	to, err := parseTime(toRaw)
	if err != nil {
		badRequest(w, "invalid to")
		return aggregate.Period{}, false
	}
	return aggregate.Period{From: from, To: to}, true
}

// parseAsOf parses an optional as_of param, defaulting to now.
func parseAsOf(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Now().UTC(), true
	}
	t, err := parseTime(raw)
	if err != nil {
		badRequest(w, "invalid as_of")
		return time.Time{}, false
	}
	return t, true
}
