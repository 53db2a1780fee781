// Package recon matches imported bank transactions against journal lines.
// Matching is deterministic: transactions scan in (date, id) order, ties
// resolve to the lowest line id, and identical inputs always produce the
// same items and confidences. A run computes on an in-memory working set
// and persists once at the end, so cancellation never leaves partial state.
package recon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// scoreEpsilon bounds float comparison when detecting tied candidates.
const scoreEpsilon = 1e-9

// Policy holds the matching windows and thresholds. All values come from the
// configuration snapshot; nothing here is hard-coded at call sites.
type Policy struct {
	DateWindowDays      int
	FuzzyDateWindowDays int
	TokenOverlap        float64
	AutoConfirm         float64
	ReviewFlag          float64
}

// Mapping ties one bank account to the ledger: the GL account its
// transactions post against and the default dimension codes expected on
// matched lines.
type Mapping struct {
	BankAccountID uuid.UUID
	GLAccountCode string
	DefaultDims   map[ledger.DimensionType]string
}

// Repo defines read operations needed by the matcher.
type Repo interface {
	BankTransactions(ctx context.Context, bankAccountID uuid.UUID, from, to time.Time) ([]ledger.BankTransaction, error)
	// CandidateLineFacts returns reportable facts on the GL account inside
	// [from, to] that no auto or confirmed reconciliation item consumes.
	CandidateLineFacts(ctx context.Context, glAccountID uuid.UUID, from, to time.Time) ([]ledger.LineFact, error)
	ReconciliationByPeriod(ctx context.Context, bankAccountID uuid.UUID, from, to time.Time) (ledger.BankReconciliation, bool, error)
	ReconciliationByID(ctx context.Context, id uuid.UUID) (ledger.BankReconciliation, error)
	ListReconciliations(ctx context.Context, bankAccountID uuid.UUID) ([]ledger.BankReconciliation, error)
}

// Writer defines the atomic persistence operations of a run.
type Writer interface {
	// SaveReconciliation upserts the run and flips transaction statuses in
	// one transaction.
	SaveReconciliation(ctx context.Context, rec ledger.BankReconciliation, txnStatus map[uuid.UUID]ledger.TxnStatus) error
	// UpdateReconciliationItem persists a confirm or reject decision. The
	// store re-checks that a confirmed line is still unconsumed.
	UpdateReconciliationItem(ctx context.Context, item ledger.ReconciliationItem, txnStatus ledger.TxnStatus) error
}

// Directory resolves reference data for mapping and dimension comparison.
type Directory interface {
	AccountByCode(ctx context.Context, accountCode string) (ledger.Account, error)
	DimensionValuesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.DimensionValue, error)
}

// RunRequest identifies the bank account and statement period to reconcile.
// A zero StatementDate defaults to PeriodEnd.
type RunRequest struct {
	BankAccountID uuid.UUID
	PeriodStart   time.Time
	PeriodEnd     time.Time
	StatementDate time.Time
	OpeningMinor  int64
	ClosingMinor  int64
}

// Service exposes reconciliation runs and the manual decision pass.
type Service interface {
	Reconcile(ctx context.Context, req RunRequest) (ledger.BankReconciliation, error)
	Get(ctx context.Context, id uuid.UUID) (ledger.BankReconciliation, error)
	List(ctx context.Context, bankAccountID uuid.UUID) ([]ledger.BankReconciliation, error)
	// ConfirmItem accepts a review item, or resolves an ambiguous one when
	// lineID picks one of its candidates.
	ConfirmItem(ctx context.Context, reconID, itemID uuid.UUID, lineID *uuid.UUID) (ledger.ReconciliationItem, error)
	RejectItem(ctx context.Context, reconID, itemID uuid.UUID) (ledger.ReconciliationItem, error)
}

type service struct {
	repo     Repo
	writer   Writer
	dir      Directory
	policy   Policy
	mappings map[uuid.UUID]Mapping
}

func New(repo Repo, writer Writer, dir Directory, policy Policy, mappings []Mapping) Service {
	byID := make(map[uuid.UUID]Mapping, len(mappings))
	for _, m := range mappings {
		byID[m.BankAccountID] = m
	}
	return &service{repo: repo, writer: writer, dir: dir, policy: policy, mappings: byID}
}

func (s *service) Reconcile(ctx context.Context, req RunRequest) (ledger.BankReconciliation, error) {
	mapping, ok := s.mappings[req.BankAccountID]
	if !ok {
		return ledger.BankReconciliation{}, fmt.Errorf("%w: no mapping for bank account %s", errs.ErrNotFound, req.BankAccountID)
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() || req.PeriodEnd.Before(req.PeriodStart) {
		return ledger.BankReconciliation{}, fmt.Errorf("%w: invalid period", errs.ErrInvalid)
	}
	glAcc, err := s.dir.AccountByCode(ctx, mapping.GLAccountCode)
	if err != nil {
		return ledger.BankReconciliation{}, fmt.Errorf("mapping gl account %s: %w", mapping.GLAccountCode, err)
	}

	txns, err := s.repo.BankTransactions(ctx, req.BankAccountID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return ledger.BankReconciliation{}, err
	}
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Date.Equal(txns[j].Date) {
			return txns[i].Date.Before(txns[j].Date)
		}
		return txns[i].ID.String() < txns[j].ID.String()
	})

	prior, havePrior, err := s.repo.ReconciliationByPeriod(ctx, req.BankAccountID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return ledger.BankReconciliation{}, err
	}
	recID := uuid.New()
	preserved := make(map[uuid.UUID]ledger.ReconciliationItem)
	if havePrior {
		// Re-runs keep the id stable and never disturb decided items.
		recID = prior.ID
		for _, it := range prior.Items {
			if it.IsMatched() {
				preserved[it.TransactionID] = it
			}
		}
	}

	fuzzyDays := time.Duration(s.policy.FuzzyDateWindowDays) * 24 * time.Hour
	facts, err := s.repo.CandidateLineFacts(ctx, glAcc.ID,
		req.PeriodStart.Add(-fuzzyDays), req.PeriodEnd.Add(fuzzyDays))
	if err != nil {
		return ledger.BankReconciliation{}, err
	}
	// Line-id order makes equal scores resolve to the lowest id.
	sort.Slice(facts, func(i, j int) bool { return facts[i].LineID.String() < facts[j].LineID.String() })

	available := make(map[uuid.UUID]bool, len(facts))
	for _, f := range facts {
		available[f.LineID] = true
	}

	statementDate := req.StatementDate
	if statementDate.IsZero() {
		statementDate = req.PeriodEnd
	}
	rec := ledger.BankReconciliation{
		ID:            recID,
		BankAccountID: req.BankAccountID,
		PeriodStart:   req.PeriodStart,
		PeriodEnd:     req.PeriodEnd,
		StatementDate: statementDate,
		OpeningMinor:  req.OpeningMinor,
		ClosingMinor:  req.ClosingMinor,
		CreatedAt:     time.Now().UTC(),
	}
	txnStatus := make(map[uuid.UUID]ledger.TxnStatus, len(txns))

	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			// Nothing has been persisted; the stored state is untouched.
			return ledger.BankReconciliation{}, err
		}
		if it, ok := preserved[txn.ID]; ok {
			rec.Items = append(rec.Items, it)
			txnStatus[txn.ID] = ledger.TxnMatched
			continue
		}
		item := s.matchOne(txn, glAcc, facts, available)
		item.ID = uuid.New()
		item.ReconciliationID = recID
		item.TransactionID = txn.ID
		if item.LineID != nil {
			available[*item.LineID] = false
		}
		if item.IsMatched() {
			txnStatus[txn.ID] = ledger.TxnMatched
		} else if txn.Status == ledger.TxnDisputed {
			txnStatus[txn.ID] = ledger.TxnDisputed
		} else {
			txnStatus[txn.ID] = ledger.TxnUnmatched
		}
		rec.Items = append(rec.Items, item)
	}

	if err := s.flagDimensionMismatches(ctx, rec.Items, facts, mapping.DefaultDims); err != nil {
		return ledger.BankReconciliation{}, err
	}

	if err := ctx.Err(); err != nil {
		return ledger.BankReconciliation{}, err
	}
	if err := s.writer.SaveReconciliation(ctx, rec, txnStatus); err != nil {
		return ledger.BankReconciliation{}, err
	}
	observeRun(rec)
	return rec, nil
}

// matchOne applies the priority rules to a single transaction: exact match
// first, fuzzy second, unmatched exception last.
func (s *service) matchOne(txn ledger.BankTransaction, glAcc ledger.Account, facts []ledger.LineFact, available map[uuid.UUID]bool) ledger.ReconciliationItem {
	if txn.Status == ledger.TxnDisputed || txn.Currency != glAcc.Currency {
		return ledger.ReconciliationItem{Status: ledger.ReconUnmatched}
	}

	// Exact pass: same signed amount, tight window, token overlap above the
	// threshold. Ties resolve to the lowest line id via scan order.
	bestScore := -1.0
	var bestLine uuid.UUID
	for _, f := range facts {
		if !available[f.LineID] || f.SignedMinor() != txn.AmountMinor {
			continue
		}
		days := daysApart(txn.Date, f.Date)
		if days > s.policy.DateWindowDays {
			continue
		}
		overlap := tokenOverlap(txn.Reference+" "+txn.Description, f.LineMemo+" "+f.EntryMemo)
		if overlap < s.policy.TokenOverlap {
			continue
		}
		score := 0.75 + 0.15*proximity(days, s.policy.DateWindowDays) + 0.10*overlap
		if score > bestScore+scoreEpsilon {
			bestScore = score
			bestLine = f.LineID
		}
	}
	if bestScore >= 0 {
		return s.scoredItem(bestLine, bestScore)
	}

	// Fuzzy pass: same signed amount inside the wider window. Two or more
	// candidates tied at the top score stay ambiguous for a human.
	bestScore = -1.0
	var tied []uuid.UUID
	for _, f := range facts {
		if !available[f.LineID] || f.SignedMinor() != txn.AmountMinor {
			continue
		}
		days := daysApart(txn.Date, f.Date)
		if days > s.policy.FuzzyDateWindowDays {
			continue
		}
		score := 0.40 + 0.20*proximity(days, s.policy.FuzzyDateWindowDays)
		switch {
		case score > bestScore+scoreEpsilon:
			bestScore = score
			bestLine = f.LineID
			tied = tied[:0]
		case score > bestScore-scoreEpsilon:
			if len(tied) == 0 {
				tied = append(tied, bestLine)
			}
			tied = append(tied, f.LineID)
		}
	}
	if bestScore < 0 {
		return ledger.ReconciliationItem{Status: ledger.ReconUnmatched}
	}
	if len(tied) > 1 {
		sort.Slice(tied, func(i, j int) bool { return tied[i].String() < tied[j].String() })
		return ledger.ReconciliationItem{
			Status:           ledger.ReconAmbiguous,
			Confidence:       bestScore,
			CandidateLineIDs: tied,
		}
	}
	return s.scoredItem(bestLine, bestScore)
}

// scoredItem places a single best candidate into the threshold bands.
func (s *service) scoredItem(lineID uuid.UUID, score float64) ledger.ReconciliationItem {
	id := lineID
	switch {
	case score >= s.policy.AutoConfirm:
		return ledger.ReconciliationItem{LineID: &id, Confidence: score, Status: ledger.ReconAuto}
	case score >= s.policy.ReviewFlag:
		return ledger.ReconciliationItem{LineID: &id, Confidence: score, Status: ledger.ReconReview}
	}
	return ledger.ReconciliationItem{Confidence: score, Status: ledger.ReconUnmatched}
}

// flagDimensionMismatches compares matched lines' tags against the bank
// account's default dimension codes. Informational only.
func (s *service) flagDimensionMismatches(ctx context.Context, items []ledger.ReconciliationItem, facts []ledger.LineFact, want map[ledger.DimensionType]string) error {
	if len(want) == 0 {
		return nil
	}
	factByLine := make(map[uuid.UUID]ledger.LineFact, len(facts))
	idSet := make(map[uuid.UUID]struct{})
	for _, f := range facts {
		factByLine[f.LineID] = f
		for _, v := range f.Tags {
			idSet[v] = struct{}{}
		}
	}
	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	values := map[uuid.UUID]ledger.DimensionValue{}
	if len(ids) > 0 {
		var err error
		values, err = s.dir.DimensionValuesByIDs(ctx, ids)
		if err != nil {
			return err
		}
	}
	for i := range items {
		if items[i].LineID == nil {
			continue
		}
		f, ok := factByLine[*items[i].LineID]
		if !ok {
			continue
		}
		for t, wantCode := range want {
			vid, tagged := f.Tags[t]
			if !tagged || values[vid].Code != wantCode {
				items[i].DimensionMismatch = true
				break
			}
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (ledger.BankReconciliation, error) {
	if id == uuid.Nil {
		return ledger.BankReconciliation{}, errs.ErrInvalid
	}
	return s.repo.ReconciliationByID(ctx, id)
}

func (s *service) List(ctx context.Context, bankAccountID uuid.UUID) ([]ledger.BankReconciliation, error) {
	if bankAccountID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.repo.ListReconciliations(ctx, bankAccountID)
}

func (s *service) ConfirmItem(ctx context.Context, reconID, itemID uuid.UUID, lineID *uuid.UUID) (ledger.ReconciliationItem, error) {
	item, err := s.findItem(ctx, reconID, itemID)
	if err != nil {
		return ledger.ReconciliationItem{}, err
	}
	switch item.Status {
	case ledger.ReconReview:
		if lineID != nil && (item.LineID == nil || *lineID != *item.LineID) {
			return ledger.ReconciliationItem{}, fmt.Errorf("%w: line does not match the proposed one", errs.ErrInvalid)
		}
	case ledger.ReconAmbiguous:
		if lineID == nil {
			return ledger.ReconciliationItem{}, fmt.Errorf("%w: ambiguous item needs an explicit line", errs.ErrAmbiguous)
		}
		found := false
		for _, c := range item.CandidateLineIDs {
			if c == *lineID {
				found = true
				break
			}
		}
		if !found {
			return ledger.ReconciliationItem{}, fmt.Errorf("%w: line is not a candidate", errs.ErrInvalid)
		}
		chosen := *lineID
		item.LineID = &chosen
	default:
		return ledger.ReconciliationItem{}, fmt.Errorf("%w: item already decided", errs.ErrConflict)
	}
	item.Status = ledger.ReconConfirmed
	if err := s.writer.UpdateReconciliationItem(ctx, item, ledger.TxnMatched); err != nil {
		return ledger.ReconciliationItem{}, err
	}
	return item, nil
}

func (s *service) RejectItem(ctx context.Context, reconID, itemID uuid.UUID) (ledger.ReconciliationItem, error) {
	item, err := s.findItem(ctx, reconID, itemID)
	if err != nil {
		return ledger.ReconciliationItem{}, err
	}
	if item.Status != ledger.ReconReview && item.Status != ledger.ReconAmbiguous {
		return ledger.ReconciliationItem{}, fmt.Errorf("%w: item already decided", errs.ErrConflict)
	}
	item.Status = ledger.ReconRejected
	if err := s.writer.UpdateReconciliationItem(ctx, item, ledger.TxnUnmatched); err != nil {
		return ledger.ReconciliationItem{}, err
	}
	return item, nil
}

func (s *service) findItem(ctx context.Context, reconID, itemID uuid.UUID) (ledger.ReconciliationItem, error) {
	if reconID == uuid.Nil || itemID == uuid.Nil {
		return ledger.ReconciliationItem{}, errs.ErrInvalid
	}
	rec, err := s.repo.ReconciliationByID(ctx, reconID)
	if err != nil {
		return ledger.ReconciliationItem{}, err
	}
	for _, it := range rec.Items {
		if it.ID == itemID {
			return it, nil
		}
	}
	return ledger.ReconciliationItem{}, errs.ErrNotFound
}

// proximity maps a day distance inside a window onto [0, 1], 1 for same day.
func proximity(days, window int) float64 {
	if window <= 0 {
		if days == 0 {
			return 1
		}
		return 0
	}
	return 1 - float64(days)/float64(window)
}

// daysApart returns the whole-day distance between two dates, ignoring the
// time of day.
func daysApart(a, b time.Time) int {
	au := a.UTC().Truncate(24 * time.Hour)
	bu := b.UTC().Truncate(24 * time.Hour)
	d := int(au.Sub(bu).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}
