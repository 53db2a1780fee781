package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// RegisterBankAccount makes a bank account known to the importer with its
// statement currency.
func (s *Store) RegisterBankAccount(bankAccountID uuid.UUID, currency string) {
	s.mu.Lock()
	s.bankAccounts[bankAccountID] = currency
	s.mu.Unlock()
}

// BankAccountCurrency resolves the statement currency of a registered bank
// account.
func (s *Store) BankAccountCurrency(bankAccountID uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.bankAccounts[bankAccountID]
	return cur, ok
}

// InsertBankTransactions stores rows whose dedupe key is new and returns how
// many were inserted.
func (s *Store) InsertBankTransactions(_ context.Context, txns []ledger.BankTransaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, t := range txns {
		if _, ok := s.txnByDedupe[t.DedupeKey]; ok {
			continue
		}
		s.bankTxns[t.ID] = t
		s.txnByDedupe[t.DedupeKey] = t.ID
		inserted++
	}
	return inserted, nil
}

func (s *Store) BankTransactions(_ context.Context, bankAccountID uuid.UUID, from, to time.Time) ([]ledger.BankTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.BankTransaction, 0)
	for _, t := range s.bankTxns {
		if t.BankAccountID != bankAccountID {
			continue
		}
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// CandidateLineFacts returns reportable facts on the GL account inside
// [from, to] whose lines no reconciliation currently consumes.
func (s *Store) CandidateLineFacts(_ context.Context, glAccountID uuid.UUID, from, to time.Time) ([]ledger.LineFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	facts := s.lineFactsLocked(ledger.FactScope{
		From:       from,
		To:         to,
		AccountIDs: []uuid.UUID{glAccountID},
	})
	out := facts[:0]
	for _, f := range facts {
		if _, taken := s.consumedLines[f.LineID]; taken {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) ReconciliationByPeriod(_ context.Context, bankAccountID uuid.UUID, from, to time.Time) (ledger.BankReconciliation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recons {
		if r.BankAccountID == bankAccountID && r.PeriodStart.Equal(from) && r.PeriodEnd.Equal(to) {
			return cloneRecon(r), true, nil
		}
	}
	return ledger.BankReconciliation{}, false, nil
}

func (s *Store) ReconciliationByID(_ context.Context, id uuid.UUID) (ledger.BankReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recons[id]
	if !ok {
		return ledger.BankReconciliation{}, errs.ErrNotFound
	}
	return cloneRecon(r), nil
}

func (s *Store) ListReconciliations(_ context.Context, bankAccountID uuid.UUID) ([]ledger.BankReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.BankReconciliation, 0)
	for _, r := range s.recons {
		if r.BankAccountID == bankAccountID {
			out = append(out, cloneRecon(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveReconciliation upserts the run, rebuilds this run's line consumption
// and flips transaction statuses, all under one lock. A line already
// consumed by another run fails the whole save with ErrConflict.
func (s *Store) SaveReconciliation(_ context.Context, rec ledger.BankReconciliation, txnStatus map[uuid.UUID]ledger.TxnStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range rec.Items {
		if !it.IsMatched() || it.LineID == nil {
			continue
		}
		if owner, taken := s.consumedLines[*it.LineID]; taken && owner != rec.ID {
			return errs.ErrConflict
		}
	}
	for lineID, owner := range s.consumedLines {
		if owner == rec.ID {
			delete(s.consumedLines, lineID)
		}
	}
	for _, it := range rec.Items {
		if it.IsMatched() && it.LineID != nil {
			s.consumedLines[*it.LineID] = rec.ID
		}
	}
	s.recons[rec.ID] = cloneRecon(rec)
	for txnID, st := range txnStatus {
		if t, ok := s.bankTxns[txnID]; ok {
			t.Status = st
			s.bankTxns[txnID] = t
		}
	}
	return nil
}

// UpdateReconciliationItem persists one confirm or reject decision and
// adjusts line consumption accordingly.
func (s *Store) UpdateReconciliationItem(_ context.Context, item ledger.ReconciliationItem, txnStatus ledger.TxnStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recons[item.ReconciliationID]
	if !ok {
		return errs.ErrNotFound
	}
	idx := -1
	for i, it := range rec.Items {
		if it.ID == item.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errs.ErrNotFound
	}
	prev := rec.Items[idx]

	if item.IsMatched() && item.LineID != nil {
		if owner, taken := s.consumedLines[*item.LineID]; taken && owner != rec.ID {
			return errs.ErrConflict
		}
		s.consumedLines[*item.LineID] = rec.ID
	}
	if prev.IsMatched() && prev.LineID != nil && !item.IsMatched() {
		delete(s.consumedLines, *prev.LineID)
	}

	rec.Items[idx] = item
	s.recons[rec.ID] = rec
	if t, ok := s.bankTxns[item.TransactionID]; ok {
		t.Status = txnStatus
		s.bankTxns[item.TransactionID] = t
	}
	return nil
}

func cloneRecon(r ledger.BankReconciliation) ledger.BankReconciliation {
	out := r
	out.Items = make([]ledger.ReconciliationItem, len(r.Items))
	copy(out.Items, r.Items)
	return out
}
