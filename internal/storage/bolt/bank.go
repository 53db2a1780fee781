package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// InsertBankTransactions stores rows whose dedupe key is new and returns how
// many were inserted.
func (s *Store) InsertBankTransactions(ctx context.Context, txns []ledger.BankTransaction) (int, error) {
	inserted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(bucketBankTxns))
		keys := tx.Bucket([]byte(bucketBankTxnKeys))
		dedupe := tx.Bucket([]byte(bucketBankDedupe))
		for _, t := range txns {
			if dedupe.Get([]byte(t.DedupeKey)) != nil {
				continue
			}
			if err := putJSON(docs, t.ID[:], t); err != nil {
				return err
			}
			if err := keys.Put(txnKey(t.BankAccountID, t.Date, t.ID), t.ID[:]); err != nil {
				return err
			}
			if err := dedupe.Put([]byte(t.DedupeKey), t.ID[:]); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// BankTransactions returns the account's transactions inside [from, to] in
// (date, id) order, which is the byte order of the key index.
func (s *Store) BankTransactions(ctx context.Context, bankAccountID uuid.UUID, from, to time.Time) ([]ledger.BankTransaction, error) {
	low := append(bankAccountID[:], encTime(from.UTC())...)
	hi := encTime(to.UTC())
	out := make([]ledger.BankTransaction, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket([]byte(bucketBankTxns))
		c := tx.Bucket([]byte(bucketBankTxnKeys)).Cursor()
		for k, id := c.Seek(low); k != nil && bytes.HasPrefix(k, bankAccountID[:]); k, id = c.Next() {
			if bytes.Compare(k[16:24], hi) > 0 {
				break
			}
			var t ledger.BankTransaction
			if _, err := getJSON(docs, id, &t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CandidateLineFacts returns reportable facts on the GL account inside
// [from, to] whose lines no reconciliation currently consumes.
func (s *Store) CandidateLineFacts(ctx context.Context, glAccountID uuid.UUID, from, to time.Time) ([]ledger.LineFact, error) {
	out := make([]ledger.LineFact, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		facts, err := lineFactsTx(tx, ledger.FactScope{
			From:       from,
			To:         to,
			AccountIDs: []uuid.UUID{glAccountID},
		})
		if err != nil {
			return err
		}
		consumed := tx.Bucket([]byte(bucketConsumed))
		for _, f := range facts {
			if consumed.Get(f.LineID[:]) != nil {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func reconByIDTx(tx *bolt.Tx, id uuid.UUID) (ledger.BankReconciliation, bool, error) {
	var r ledger.BankReconciliation
	ok, err := getJSON(tx.Bucket([]byte(bucketRecons)), id[:], &r)
	return r, ok, err
}

func (s *Store) ReconciliationByPeriod(ctx context.Context, bankAccountID uuid.UUID, from, to time.Time) (ledger.BankReconciliation, bool, error) {
	var rec ledger.BankReconciliation
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(bucketReconPeriods)).Get(periodKey(bankAccountID, from, to))
		if id == nil {
			return nil
		}
		var rid uuid.UUID
		copy(rid[:], id)
		var err error
		rec, found, err = reconByIDTx(tx, rid)
		return err
	})
	if err != nil {
		return ledger.BankReconciliation{}, false, err
	}
	return rec, found, nil
}

func (s *Store) ReconciliationByID(ctx context.Context, id uuid.UUID) (ledger.BankReconciliation, error) {
	var rec ledger.BankReconciliation
	err := s.db.View(func(tx *bolt.Tx) error {
		r, ok, err := reconByIDTx(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		rec = r
		return nil
	})
	return rec, err
}

func (s *Store) ListReconciliations(ctx context.Context, bankAccountID uuid.UUID) ([]ledger.BankReconciliation, error) {
	out := make([]ledger.BankReconciliation, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		recons := tx.Bucket([]byte(bucketRecons))
		c := tx.Bucket([]byte(bucketReconPeriods)).Cursor()
		for k, id := c.Seek(bankAccountID[:]); k != nil && bytes.HasPrefix(k, bankAccountID[:]); k, id = c.Next() {
			var r ledger.BankReconciliation
			if _, err := getJSON(recons, id, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
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
// and flips transaction statuses in one update. A line already consumed by
// another run fails the whole save with ErrConflict.
func (s *Store) SaveReconciliation(ctx context.Context, rec ledger.BankReconciliation, txnStatus map[uuid.UUID]ledger.TxnStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		consumed := tx.Bucket([]byte(bucketConsumed))
		for _, it := range rec.Items {
			if !it.IsMatched() || it.LineID == nil {
				continue
			}
			if owner := consumed.Get((*it.LineID)[:]); owner != nil && !bytes.Equal(owner, rec.ID[:]) {
				return errs.ErrConflict
			}
		}
		c := consumed.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if bytes.Equal(v, rec.ID[:]) {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		for _, it := range rec.Items {
			if it.IsMatched() && it.LineID != nil {
				if err := consumed.Put((*it.LineID)[:], rec.ID[:]); err != nil {
					return err
				}
			}
		}
		if err := putJSON(tx.Bucket([]byte(bucketRecons)), rec.ID[:], rec); err != nil {
			return err
		}
		key := periodKey(rec.BankAccountID, rec.PeriodStart, rec.PeriodEnd)
		if err := tx.Bucket([]byte(bucketReconPeriods)).Put(key, rec.ID[:]); err != nil {
			return err
		}
		return setTxnStatusesTx(tx, txnStatus)
	})
}

// UpdateReconciliationItem persists one confirm or reject decision and
// adjusts line consumption accordingly.
func (s *Store) UpdateReconciliationItem(ctx context.Context, item ledger.ReconciliationItem, txnStatus ledger.TxnStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rec, ok, err := reconByIDTx(tx, item.ReconciliationID)
		if err != nil {
			return err
		}
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

		consumed := tx.Bucket([]byte(bucketConsumed))
		if item.IsMatched() && item.LineID != nil {
			if owner := consumed.Get((*item.LineID)[:]); owner != nil && !bytes.Equal(owner, rec.ID[:]) {
				return errs.ErrConflict
			}
			if err := consumed.Put((*item.LineID)[:], rec.ID[:]); err != nil {
				return err
			}
		}
		if prev.IsMatched() && prev.LineID != nil && !item.IsMatched() {
			if err := consumed.Delete((*prev.LineID)[:]); err != nil {
				return err
			}
		}

		rec.Items[idx] = item
		if err := putJSON(tx.Bucket([]byte(bucketRecons)), rec.ID[:], rec); err != nil {
			return err
		}
		return setTxnStatusesTx(tx, map[uuid.UUID]ledger.TxnStatus{item.TransactionID: txnStatus})
	})
}

func setTxnStatusesTx(tx *bolt.Tx, statuses map[uuid.UUID]ledger.TxnStatus) error {
	docs := tx.Bucket([]byte(bucketBankTxns))
	for txnID, st := range statuses {
		data := docs.Get(txnID[:])
		if data == nil {
			continue
		}
		var t ledger.BankTransaction
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		t.Status = st
		if err := putJSON(docs, txnID[:], t); err != nil {
			return err
		}
	}
	return nil
}
