package ledger

import (
	"time"

	"github.com/google/uuid"
)

// LineFact is the flattened read-model row aggregation works on: one posted,
// non-reversed-away journal line joined with its entry header. Stores return
// facts in one grouped read; engines never fetch per row.
type LineFact struct {
	LineID      uuid.UUID
	EntryID     uuid.UUID
	EntryNumber int64
	AccountID   uuid.UUID
	Date        time.Time
	Side        Side
	AmountMinor int64
	Currency    string
	Source      EntrySource
	Tags        Tags
	EntryMemo   string
	LineMemo    string
}

// SignedMinor returns the fact amount signed by side: debit positive,
// credit negative.
func (f LineFact) SignedMinor() int64 {
	if f.Side == SideCredit {
		return -f.AmountMinor
	}
	return f.AmountMinor
}

// FactScope bounds a fact scan. Zero time bounds mean unbounded; To is
// inclusive at day granularity. An empty Source matches all sources.
type FactScope struct {
	From       time.Time
	To         time.Time
	AccountIDs []uuid.UUID
	Source     EntrySource
}

// Contains reports whether a fact dated d falls inside the scope's window.
func (s FactScope) Contains(d time.Time) bool {
	if !s.From.IsZero() && d.Before(s.From) {
		return false
	}
	if !s.To.IsZero() && d.After(s.To) {
		return false
	}
	return true
}

// BalanceFact is one row of the materialized running balances: independent
// debit and credit sums for an account up to a date.
type BalanceFact struct {
	AccountID   uuid.UUID
	DebitMinor  int64
	CreditMinor int64
}
