// Package memory is the in-memory backend used for development and tests.
// One store satisfies every service repo and writer; a single RWMutex keeps
// commits atomic the way a database transaction would.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

// entryKey orders entries asc by (Date, ID) for scans and keyset paging.
type entryKey struct {
	Date time.Time
	ID   uuid.UUID
}

type dimCodeKey struct {
	Type ledger.DimensionType
	Code string
}

type dayKey struct {
	Account uuid.UUID
	Day     time.Time
}

type cols struct {
	debit  int64
	credit int64
}

type idemRecord struct {
	EntryID uuid.UUID
	Hash    string
}

// Store holds the whole ledger in maps plus the sorted entry index.
type Store struct {
	mu sync.RWMutex

	accounts       map[uuid.UUID]ledger.Account
	accountsByCode map[string]uuid.UUID

	dimTypes  map[ledger.DimensionType]ledger.DimensionTypeDef
	dimValues map[uuid.UUID]ledger.DimensionValue
	dimByCode map[dimCodeKey]uuid.UUID

	entries    map[uuid.UUID]*ledger.JournalEntry
	entryKeys  []entryKey
	entryByNum map[int64]uuid.UUID
	lastNumber int64
	idem       map[string]idemRecord
	voids      map[int64]ledger.NumberVoid

	// balances are the materialized day buckets, one per (account, entry day).
	balances map[dayKey]*cols

	bankAccounts map[uuid.UUID]string
	bankTxns     map[uuid.UUID]ledger.BankTransaction
	txnByDedupe  map[string]uuid.UUID
	recons       map[uuid.UUID]ledger.BankReconciliation
	// consumedLines maps a journal line to the reconciliation whose auto or
	// confirmed item consumes it.
	consumedLines map[uuid.UUID]uuid.UUID
}

// New constructs an empty in-memory store.
func New() *Store {
	s := &Store{}
	s.resetLocked()
	return s
}

// Reset drops everything. Test helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Store) resetLocked() {
	s.accounts = make(map[uuid.UUID]ledger.Account)
	s.accountsByCode = make(map[string]uuid.UUID)
	s.dimTypes = make(map[ledger.DimensionType]ledger.DimensionTypeDef)
	s.dimValues = make(map[uuid.UUID]ledger.DimensionValue)
	s.dimByCode = make(map[dimCodeKey]uuid.UUID)
	s.entries = make(map[uuid.UUID]*ledger.JournalEntry)
	s.entryKeys = nil
	s.entryByNum = make(map[int64]uuid.UUID)
	s.lastNumber = 0
	s.idem = make(map[string]idemRecord)
	s.voids = make(map[int64]ledger.NumberVoid)
	s.balances = make(map[dayKey]*cols)
	s.bankAccounts = make(map[uuid.UUID]string)
	s.bankTxns = make(map[uuid.UUID]ledger.BankTransaction)
	s.txnByDedupe = make(map[string]uuid.UUID)
	s.recons = make(map[uuid.UUID]ledger.BankReconciliation)
	s.consumedLines = make(map[uuid.UUID]uuid.UUID)
}

// Ping reports readiness. Always healthy for the in-memory backend.
func (s *Store) Ping(_ context.Context) error { return nil }

func day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// ---- accounts ----

func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accountsByCode[a.Code]; ok {
		return ledger.Account{}, errs.ErrConflict
	}
	s.accounts[a.ID] = a
	s.accountsByCode[a.Code] = a.ID
	return a, nil
}

func (s *Store) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.accounts[a.ID]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	if a.Code != prev.Code {
		if _, taken := s.accountsByCode[a.Code]; taken {
			return ledger.Account{}, errs.ErrConflict
		}
		delete(s.accountsByCode, prev.Code)
		s.accountsByCode[a.Code] = a.ID
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) AccountByID(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return a, nil
}

func (s *Store) AccountByCode(_ context.Context, accountCode string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accountsByCode[accountCode]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) AccountsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (s *Store) AccountReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		for _, ln := range e.Lines {
			if ln.AccountID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

// ---- dimensions ----

func (s *Store) RegisterDimensionType(_ context.Context, def ledger.DimensionTypeDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dimTypes[def.Code]; ok {
		return errs.ErrConflict
	}
	s.dimTypes[def.Code] = def
	return nil
}

func (s *Store) DimensionTypes(_ context.Context) ([]ledger.DimensionTypeDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.DimensionTypeDef, 0, len(s.dimTypes))
	for _, d := range s.dimTypes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateDimensionValue(_ context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dimCodeKey{Type: v.Type, Code: v.Code}
	if _, ok := s.dimByCode[key]; ok {
		return ledger.DimensionValue{}, errs.ErrConflict
	}
	s.dimValues[v.ID] = v
	s.dimByCode[key] = v.ID
	return v, nil
}

func (s *Store) UpdateDimensionValue(_ context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.dimValues[v.ID]
	if !ok {
		return ledger.DimensionValue{}, errs.ErrNotFound
	}
	if v.Type != prev.Type || v.Code != prev.Code {
		key := dimCodeKey{Type: v.Type, Code: v.Code}
		if _, taken := s.dimByCode[key]; taken {
			return ledger.DimensionValue{}, errs.ErrConflict
		}
		delete(s.dimByCode, dimCodeKey{Type: prev.Type, Code: prev.Code})
		s.dimByCode[key] = v.ID
	}
	s.dimValues[v.ID] = v
	return v, nil
}

func (s *Store) DimensionValueByID(_ context.Context, id uuid.UUID) (ledger.DimensionValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.dimValues[id]
	if !ok {
		return ledger.DimensionValue{}, errs.ErrNotFound
	}
	return v, nil
}

func (s *Store) DimensionValueByCode(_ context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.dimByCode[dimCodeKey{Type: t, Code: valueCode}]
	if !ok {
		return ledger.DimensionValue{}, errs.ErrNotFound
	}
	return s.dimValues[id], nil
}

func (s *Store) ListDimensionValues(_ context.Context, t ledger.DimensionType) ([]ledger.DimensionValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.DimensionValue, 0)
	for _, v := range s.dimValues {
		if v.Type == t {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) DimensionValuesByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.DimensionValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]ledger.DimensionValue, len(ids))
	for _, id := range ids {
		if v, ok := s.dimValues[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// ---- journal entries ----

// CreateJournalEntry commits under one lock: idempotency replay, sequence
// assignment, entry insert and the balance bucket updates.
func (s *Store) CreateJournalEntry(_ context.Context, entry ledger.JournalEntry, idemKey, payloadHash string) (ledger.JournalEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idemKey != "" {
		if rec, ok := s.idem[idemKey]; ok {
			if rec.Hash != payloadHash {
				return ledger.JournalEntry{}, false, errs.ErrDuplicate
			}
			return *s.entries[rec.EntryID], false, nil
		}
	}

	s.lastNumber++
	entry.Number = s.lastNumber
	e := entry
	s.entries[e.ID] = &e
	s.entryByNum[e.Number] = e.ID
	s.insertEntryIndexLocked(entryKey{Date: e.Date, ID: e.ID})
	if e.Reportable() {
		s.applyBalancesLocked(&e, +1)
	}
	if idemKey != "" {
		s.idem[idemKey] = idemRecord{EntryID: e.ID, Hash: payloadHash}
	}
	return e, true, nil
}

// ReverseJournalEntry inserts the reversal, flips the original to reversed
// and removes the original's contribution from the balance buckets, all
// under one lock.
func (s *Store) ReverseJournalEntry(_ context.Context, originalID uuid.UUID, reversal ledger.JournalEntry) (ledger.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orig, ok := s.entries[originalID]
	if !ok {
		return ledger.JournalEntry{}, errs.ErrNotFound
	}
	if orig.Status != ledger.StatusPosted {
		return ledger.JournalEntry{}, errs.ErrConflict
	}

	s.lastNumber++
	reversal.Number = s.lastNumber
	r := reversal
	s.entries[r.ID] = &r
	s.entryByNum[r.Number] = r.ID
	s.insertEntryIndexLocked(entryKey{Date: r.Date, ID: r.ID})

	orig.Status = ledger.StatusReversed
	rid := r.ID
	orig.ReversedBy = &rid
	s.applyBalancesLocked(orig, -1)
	return r, nil
}

func (s *Store) applyBalancesLocked(e *ledger.JournalEntry, sign int64) {
	d := day(e.Date)
	for _, ln := range e.Lines {
		mu, ok := ln.Amount.MinorUnits()
		if !ok {
			continue
		}
		key := dayKey{Account: ln.AccountID, Day: d}
		c := s.balances[key]
		if c == nil {
			c = &cols{}
			s.balances[key] = c
		}
		if ln.Side == ledger.SideDebit {
			c.debit += sign * mu
		} else {
			c.credit += sign * mu
		}
	}
}

func (s *Store) EntryByID(_ context.Context, id uuid.UUID) (ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return ledger.JournalEntry{}, errs.ErrNotFound
	}
	return *e, nil
}

// ListEntries pages in (date, id) order. The next cursor is empty on the
// last page.
func (s *Store) ListEntries(_ context.Context, q posting.EntryQuery) ([]ledger.JournalEntry, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 50
	}
	start := 0
	if q.Cursor != "" {
		cd, cid, err := posting.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, "", err
		}
		after := entryKey{Date: cd, ID: cid}
		start = sort.Search(len(s.entryKeys), func(i int) bool {
			return keyLess(after, s.entryKeys[i])
		})
	}

	out := make([]ledger.JournalEntry, 0, q.Limit)
	for i := start; i < len(s.entryKeys); i++ {
		e := s.entries[s.entryKeys[i].ID]
		if !matchesQuery(e, q) {
			continue
		}
		if len(out) == q.Limit {
			// a further row matched, so the page that just filled is not the last
			return out, posting.EncodeCursor(out[len(out)-1].Date, out[len(out)-1].ID), nil
		}
		out = append(out, *e)
	}
	return out, "", nil
}

func keyLess(a, b entryKey) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.ID.String() < b.ID.String()
}

func matchesQuery(e *ledger.JournalEntry, q posting.EntryQuery) bool {
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

// VoidEntryNumber records a gap. Voiding lastNumber+1 burns the next
// sequence number; numbers held by an entry or already voided conflict.
func (s *Store) VoidEntryNumber(_ context.Context, number int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if number > s.lastNumber+1 {
		return errs.ErrInvalid
	}
	if _, ok := s.entryByNum[number]; ok {
		return errs.ErrConflict
	}
	if _, ok := s.voids[number]; ok {
		return errs.ErrConflict
	}
	if number == s.lastNumber+1 {
		s.lastNumber = number
	}
	s.voids[number] = ledger.NumberVoid{Number: number, Reason: reason, VoidedAt: time.Now().UTC()}
	return nil
}

// ---- aggregation reads ----

func (s *Store) LineFacts(_ context.Context, scope ledger.FactScope) ([]ledger.LineFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lineFactsLocked(scope), nil
}

// lineFactsLocked scans the entry index under a held lock.
func (s *Store) lineFactsLocked(scope ledger.FactScope) []ledger.LineFact {
	var accSet map[uuid.UUID]struct{}
	if len(scope.AccountIDs) > 0 {
		accSet = make(map[uuid.UUID]struct{}, len(scope.AccountIDs))
		for _, id := range scope.AccountIDs {
			accSet[id] = struct{}{}
		}
	}
	out := make([]ledger.LineFact, 0)
	for _, k := range s.entryKeys {
		e := s.entries[k.ID]
		if !e.Reportable() || !scope.Contains(e.Date) {
			continue
		}
		if scope.Source != "" && e.Source != scope.Source {
			continue
		}
		for _, ln := range e.Lines {
			if accSet != nil {
				if _, ok := accSet[ln.AccountID]; !ok {
					continue
				}
			}
			mu, ok := ln.Amount.MinorUnits()
			if !ok {
				continue
			}
			out = append(out, ledger.LineFact{
				LineID:      ln.ID,
				EntryID:     e.ID,
				EntryNumber: e.Number,
				AccountID:   ln.AccountID,
				Date:        e.Date,
				Side:        ln.Side,
				AmountMinor: mu,
				Currency:    e.Currency,
				Source:      e.Source,
				Tags:        ln.Tags.Clone(),
				EntryMemo:   e.Memo,
				LineMemo:    ln.Memo,
			})
		}
	}
	return out
}

func (s *Store) BalanceFacts(_ context.Context, asOf time.Time, accountIDs []uuid.UUID) ([]ledger.BalanceFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var accSet map[uuid.UUID]struct{}
	if len(accountIDs) > 0 {
		accSet = make(map[uuid.UUID]struct{}, len(accountIDs))
		for _, id := range accountIDs {
			accSet[id] = struct{}{}
		}
	}
	var cutoff time.Time
	if !asOf.IsZero() {
		cutoff = day(asOf)
	}
	sums := make(map[uuid.UUID]*cols)
	for key, c := range s.balances {
		if accSet != nil {
			if _, ok := accSet[key.Account]; !ok {
				continue
			}
		}
		if !cutoff.IsZero() && key.Day.After(cutoff) {
			continue
		}
		agg := sums[key.Account]
		if agg == nil {
			agg = &cols{}
			sums[key.Account] = agg
		}
		agg.debit += c.debit
		agg.credit += c.credit
	}
	out := make([]ledger.BalanceFact, 0, len(sums))
	for id, c := range sums {
		if c.debit == 0 && c.credit == 0 {
			continue
		}
		out = append(out, ledger.BalanceFact{AccountID: id, DebitMinor: c.debit, CreditMinor: c.credit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

func (s *Store) LastEntryNumber(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastNumber, nil
}

func (s *Store) MissingEntryNumbers(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0)
	for n := int64(1); n <= s.lastNumber; n++ {
		if _, ok := s.entryByNum[n]; !ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) NumberVoids(_ context.Context) ([]ledger.NumberVoid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.NumberVoid, 0, len(s.voids))
	for _, v := range s.voids {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// insertEntryIndexLocked inserts k keeping the index sorted asc by (Date, ID).
// Caller must hold the write lock.
func (s *Store) insertEntryIndexLocked(k entryKey) {
	i := sort.Search(len(s.entryKeys), func(i int) bool {
		return keyLess(k, s.entryKeys[i])
	})
	if i == len(s.entryKeys) {
		s.entryKeys = append(s.entryKeys, k)
		return
	}
	s.entryKeys = append(s.entryKeys, entryKey{})
	copy(s.entryKeys[i+1:], s.entryKeys[i:])
	s.entryKeys[i] = k
}
