package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	bolt "go.etcd.io/bbolt"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

// entryDoc is the stored form of a journal entry. Amounts persist as minor
// units; money values rebuild from them on load.
type entryDoc struct {
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
	Lines      []lineDoc          `json:"lines"`
}

type lineDoc struct {
	ID          uuid.UUID         `json:"id"`
	AccountID   uuid.UUID         `json:"account_id"`
	Side        ledger.Side       `json:"side"`
	AmountMinor int64             `json:"amount_minor"`
	Tags        ledger.Tags       `json:"tags,omitempty"`
	Memo        string            `json:"memo,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type idemDoc struct {
	EntryID     uuid.UUID `json:"entry_id"`
	PayloadHash string    `json:"payload_hash"`
}

type balanceDoc struct {
	DebitMinor  int64 `json:"debit_minor"`
	CreditMinor int64 `json:"credit_minor"`
}

func toDoc(e ledger.JournalEntry) entryDoc {
	d := entryDoc{
		ID: e.ID, Number: e.Number, Date: e.Date, Currency: e.Currency,
		Memo: e.Memo, Source: e.Source, Status: e.Status,
		ReversalOf: e.ReversalOf, ReversedBy: e.ReversedBy, Metadata: e.Metadata,
	}
	for _, ln := range e.Lines {
		minor, _ := ln.Amount.MinorUnits()
		d.Lines = append(d.Lines, lineDoc{
			ID: ln.ID, AccountID: ln.AccountID, Side: ln.Side,
			AmountMinor: minor, Tags: ln.Tags, Memo: ln.Memo, Metadata: ln.Metadata,
		})
	}
	return d
}

func fromDoc(d entryDoc) ledger.JournalEntry {
	e := ledger.JournalEntry{
		ID: d.ID, Number: d.Number, Date: d.Date, Currency: d.Currency,
		Memo: d.Memo, Source: d.Source, Status: d.Status,
		ReversalOf: d.ReversalOf, ReversedBy: d.ReversedBy, Metadata: d.Metadata,
	}
	for _, ln := range d.Lines {
		amt, _ := money.NewAmountFromMinorUnits(d.Currency, ln.AmountMinor)
		e.Lines = append(e.Lines, ledger.JournalLine{
			ID: ln.ID, EntryID: d.ID, AccountID: ln.AccountID, Side: ln.Side,
			Amount: amt, Tags: ln.Tags, Memo: ln.Memo, Metadata: ln.Metadata,
		})
	}
	return e
}

func (d entryDoc) reportable() bool {
	return d.Status == ledger.StatusPosted && d.ReversalOf == nil
}

// CreateJournalEntry commits the entry in one update transaction. The
// entries bucket sequence assigns commit-ordered numbers.
func (s *Store) CreateJournalEntry(ctx context.Context, entry ledger.JournalEntry, idemKey, payloadHash string) (ledger.JournalEntry, bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		idem := tx.Bucket([]byte(bucketEntryIdem))
		if idemKey != "" {
			var rec idemDoc
			ok, err := getJSON(idem, []byte(idemKey), &rec)
			if err != nil {
				return err
			}
			if ok {
				if rec.PayloadHash != payloadHash {
					return errs.ErrDuplicate
				}
				stored, err := entryByIDTx(tx, rec.EntryID)
				if err != nil {
					return err
				}
				entry = stored
				return nil
			}
		}
		entries := tx.Bucket([]byte(bucketEntries))
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		entry.Number = int64(seq)
		if err := putEntryTx(tx, entry); err != nil {
			return err
		}
		if entry.Reportable() {
			if err := applyBalancesTx(tx, entry, +1); err != nil {
				return err
			}
		}
		if idemKey != "" {
			if err := putJSON(idem, []byte(idemKey), idemDoc{EntryID: entry.ID, PayloadHash: payloadHash}); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return ledger.JournalEntry{}, false, err
	}
	return entry, created, nil
}

// ReverseJournalEntry inserts the reversal, flips the original's status and
// subtracts the original's balance contribution in one update.
func (s *Store) ReverseJournalEntry(ctx context.Context, originalID uuid.UUID, reversal ledger.JournalEntry) (ledger.JournalEntry, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket([]byte(bucketEntries))
		var orig entryDoc
		ok, err := getJSON(entries, originalID[:], &orig)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		if orig.Status != ledger.StatusPosted {
			return errs.ErrConflict
		}
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		reversal.Number = int64(seq)
		if err := putEntryTx(tx, reversal); err != nil {
			return err
		}
		orig.Status = ledger.StatusReversed
		orig.ReversedBy = &reversal.ID
		if err := putJSON(entries, originalID[:], orig); err != nil {
			return err
		}
		d := day(orig.Date)
		for _, ln := range orig.Lines {
			debit, credit := int64(0), int64(0)
			if ln.Side == ledger.SideDebit {
				debit = -ln.AmountMinor
			} else {
				credit = -ln.AmountMinor
			}
			if err := addBalanceTx(tx, ln.AccountID, d, debit, credit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	return reversal, nil
}

// VoidEntryNumber records a gap. Voiding the number after the last one
// burns the next sequence value.
func (s *Store) VoidEntryNumber(ctx context.Context, number int64, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket([]byte(bucketEntries))
		last := int64(entries.Sequence())
		if number > last+1 {
			return errs.ErrInvalid
		}
		if tx.Bucket([]byte(bucketEntryNumbers)).Get(itob(number)) != nil {
			return errs.ErrConflict
		}
		voids := tx.Bucket([]byte(bucketNumberVoids))
		if voids.Get(itob(number)) != nil {
			return errs.ErrConflict
		}
		if number == last+1 {
			if err := entries.SetSequence(uint64(number)); err != nil {
				return err
			}
		}
		return putJSON(voids, itob(number), ledger.NumberVoid{
			Number: number, Reason: reason, VoidedAt: time.Now().UTC(),
		})
	})
}

func putEntryTx(tx *bolt.Tx, e ledger.JournalEntry) error {
	if err := putJSON(tx.Bucket([]byte(bucketEntries)), e.ID[:], toDoc(e)); err != nil {
		return err
	}
	if err := tx.Bucket([]byte(bucketEntryKeys)).Put(entryKey(e.Date, e.ID), e.ID[:]); err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketEntryNumbers)).Put(itob(e.Number), e.ID[:])
}

func entryByIDTx(tx *bolt.Tx, id uuid.UUID) (ledger.JournalEntry, error) {
	var d entryDoc
	ok, err := getJSON(tx.Bucket([]byte(bucketEntries)), id[:], &d)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if !ok {
		return ledger.JournalEntry{}, errs.ErrNotFound
	}
	return fromDoc(d), nil
}

func applyBalancesTx(tx *bolt.Tx, e ledger.JournalEntry, sign int64) error {
	d := day(e.Date)
	for _, ln := range e.Lines {
		minor, ok := ln.Amount.MinorUnits()
		if !ok {
			continue
		}
		debit, credit := int64(0), int64(0)
		if ln.Side == ledger.SideDebit {
			debit = sign * minor
		} else {
			credit = sign * minor
		}
		if err := addBalanceTx(tx, ln.AccountID, d, debit, credit); err != nil {
			return err
		}
	}
	return nil
}

func addBalanceTx(tx *bolt.Tx, account uuid.UUID, d time.Time, debit, credit int64) error {
	b := tx.Bucket([]byte(bucketBalanceDays))
	key := balanceKey(account, d)
	var doc balanceDoc
	if _, err := getJSON(b, key, &doc); err != nil {
		return err
	}
	doc.DebitMinor += debit
	doc.CreditMinor += credit
	return putJSON(b, key, doc)
}

func (s *Store) EntryByID(ctx context.Context, id uuid.UUID) (ledger.JournalEntry, error) {
	var e ledger.JournalEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		e, err = entryByIDTx(tx, id)
		return err
	})
	return e, err
}

// ListEntries pages in (date, id) order by seeking the index bucket past the
// cursor key.
func (s *Store) ListEntries(ctx context.Context, q posting.EntryQuery) ([]ledger.JournalEntry, string, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var after []byte
	if q.Cursor != "" {
		date, id, err := posting.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, "", err
		}
		after = entryKey(date, id)
	}
	out := make([]ledger.JournalEntry, 0, q.Limit)
	next := ""
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket([]byte(bucketEntries))
		c := tx.Bucket([]byte(bucketEntryKeys)).Cursor()
		k, id := c.First()
		if after != nil {
			k, id = c.Seek(after)
			if k != nil && bytes.Equal(k, after) {
				k, id = c.Next()
			}
		}
		for ; k != nil; k, id = c.Next() {
			var d entryDoc
			if _, err := getJSON(entries, id, &d); err != nil {
				return err
			}
			e := fromDoc(d)
			if !matchesQuery(e, q) {
				continue
			}
			if len(out) == q.Limit {
				// a further row matched, so the page that just filled is not the last
				next = posting.EncodeCursor(out[len(out)-1].Date, out[len(out)-1].ID)
				return nil
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

func matchesQuery(e ledger.JournalEntry, q posting.EntryQuery) bool {
	if q.Source != "" && e.Source != q.Source {
		return false
	}
	if !q.From.IsZero() && e.Date.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Date.After(q.To) {
		return false
	}
	return true
}

// --- aggregation reads ---

func (s *Store) LineFacts(ctx context.Context, scope ledger.FactScope) ([]ledger.LineFact, error) {
	var out []ledger.LineFact
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = lineFactsTx(tx, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lineFactsTx walks the (date, id) index so facts come out in entry order
// with lines in their stored positions.
func lineFactsTx(tx *bolt.Tx, scope ledger.FactScope) ([]ledger.LineFact, error) {
	var accSet map[uuid.UUID]bool
	if len(scope.AccountIDs) > 0 {
		accSet = make(map[uuid.UUID]bool, len(scope.AccountIDs))
		for _, id := range scope.AccountIDs {
			accSet[id] = true
		}
	}
	entries := tx.Bucket([]byte(bucketEntries))
	out := make([]ledger.LineFact, 0)
	err := tx.Bucket([]byte(bucketEntryKeys)).ForEach(func(_, id []byte) error {
		var d entryDoc
		if _, err := getJSON(entries, id, &d); err != nil {
			return err
		}
		if !d.reportable() || !scope.Contains(d.Date) {
			return nil
		}
		if scope.Source != "" && d.Source != scope.Source {
			return nil
		}
		for _, ln := range d.Lines {
			if accSet != nil && !accSet[ln.AccountID] {
				continue
			}
			out = append(out, ledger.LineFact{
				LineID: ln.ID, EntryID: d.ID, EntryNumber: d.Number,
				AccountID: ln.AccountID, Date: d.Date, Side: ln.Side,
				AmountMinor: ln.AmountMinor, Currency: d.Currency,
				Source: d.Source, Tags: ln.Tags.Clone(),
				EntryMemo: d.Memo, LineMemo: ln.Memo,
			})
		}
		return nil
	})
	return out, err
}

func (s *Store) BalanceFacts(ctx context.Context, asOf time.Time, accountIDs []uuid.UUID) ([]ledger.BalanceFact, error) {
	var cutoff []byte
	if !asOf.IsZero() {
		cutoff = encTime(day(asOf))
	}
	sums := make(map[uuid.UUID]*ledger.BalanceFact)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBalanceDays))
		add := func(k, v []byte) error {
			if cutoff != nil && bytes.Compare(k[16:], cutoff) > 0 {
				return nil
			}
			var doc balanceDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			var id uuid.UUID
			copy(id[:], k[:16])
			f := sums[id]
			if f == nil {
				f = &ledger.BalanceFact{AccountID: id}
				sums[id] = f
			}
			f.DebitMinor += doc.DebitMinor
			f.CreditMinor += doc.CreditMinor
			return nil
		}
		if len(accountIDs) == 0 {
			return b.ForEach(add)
		}
		c := b.Cursor()
		for _, id := range accountIDs {
			for k, v := c.Seek(id[:]); k != nil && bytes.HasPrefix(k, id[:]); k, v = c.Next() {
				if err := add(k, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]ledger.BalanceFact, 0, len(sums))
	for _, f := range sums {
		if f.DebitMinor == 0 && f.CreditMinor == 0 {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

func (s *Store) LastEntryNumber(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.View(func(tx *bolt.Tx) error {
		last = int64(tx.Bucket([]byte(bucketEntries)).Sequence())
		return nil
	})
	return last, err
}

func (s *Store) MissingEntryNumbers(ctx context.Context) ([]int64, error) {
	var out []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		taken := make(map[int64]bool)
		if err := tx.Bucket([]byte(bucketEntryNumbers)).ForEach(func(k, _ []byte) error {
			taken[int64(binary.BigEndian.Uint64(k))] = true
			return nil
		}); err != nil {
			return err
		}
		last := int64(tx.Bucket([]byte(bucketEntries)).Sequence())
		for n := int64(1); n <= last; n++ {
			if !taken[n] {
				out = append(out, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) NumberVoids(ctx context.Context) ([]ledger.NumberVoid, error) {
	out := make([]ledger.NumberVoid, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketNumberVoids)).ForEach(func(_, v []byte) error {
			var nv ledger.NumberVoid
			if err := json.Unmarshal(v, &nv); err != nil {
				return err
			}
			out = append(out, nv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
