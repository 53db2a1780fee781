package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/minerva-erp/glcore/internal/meta"
)

// Side represents the accounting position of a journal line.
type Side string

const (
	// SideDebit records a value on the debit side of an account.
	SideDebit Side = "debit"
	// SideCredit records a value on the credit side of an account.
	SideCredit Side = "credit"
)

// Opposite returns the mirroring side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

func (s Side) Valid() bool {
	return s == SideDebit || s == SideCredit
}

// AccountType enumerates the broad classification of an account in the ledger.
type AccountType string

const (
	// AccountTypeAsset increases on the debit side and holds resources owned by the entity.
	AccountTypeAsset AccountType = "asset"
	// AccountTypeLiability increases on the credit side and tracks obligations.
	AccountTypeLiability AccountType = "liability"
	// AccountTypeEquity captures the owner's residual interest in the entity.
	AccountTypeEquity AccountType = "equity"
	// AccountTypeRevenue represents inflows that increase equity.
	AccountTypeRevenue AccountType = "revenue"
	// AccountTypeExpense represents outflows that decrease equity.
	AccountTypeExpense AccountType = "expense"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide returns the side on which balances of this type grow.
func (t AccountType) NormalSide() Side {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return SideDebit
	}
	return SideCredit
}

// EntrySource identifies the upstream module that produced a journal entry.
type EntrySource string

const (
	SourceManual        EntrySource = "manual"
	SourceSales         EntrySource = "sales"
	SourcePurchase      EntrySource = "purchase"
	SourceBanking       EntrySource = "banking"
	SourceManufacturing EntrySource = "manufacturing"
)

func (s EntrySource) Valid() bool {
	switch s {
	case SourceManual, SourceSales, SourcePurchase, SourceBanking, SourceManufacturing:
		return true
	}
	return false
}

// EntryStatus tracks the lifecycle of a journal entry. Posted entries are
// immutable; corrections happen through reversal entries.
type EntryStatus string

const (
	StatusDraft    EntryStatus = "draft"
	StatusPosted   EntryStatus = "posted"
	StatusReversed EntryStatus = "reversed"
)

// Account represents one account in the chart of accounts.
type Account struct {
	ID       uuid.UUID
	Code     string
	Name     string
	Currency string
	Type     AccountType
	// NormalSide is the side on which the account balance grows.
	NormalSide Side
	// RequiredDims lists dimension types every posted line on this account must carry.
	RequiredDims []DimensionType
	// Metadata holds additional key-value attributes for the account.
	Metadata meta.Metadata `json:"metadata,omitempty"`
	// System marks reserved accounts that cannot be edited or deactivated.
	System bool
	// Active indicates whether the account accepts new postings (soft-delete when false).
	Active bool
}

// RequiresDim reports whether lines on this account must carry the given
// dimension type.
func (a Account) RequiresDim(t DimensionType) bool {
	for _, rt := range a.RequiredDims {
		if rt == t {
			return true
		}
	}
	return false
}

// JournalEntry captures the header of a balanced set of journal lines.
type JournalEntry struct {
	ID uuid.UUID
	// Number is the monotonic sequence number assigned at commit. Never reused;
	// gaps exist only alongside an explicit NumberVoid record.
	Number   int64
	Date     time.Time
	Currency string
	Memo     string
	Source   EntrySource
	Status   EntryStatus
	// ReversalOf links a reversing entry back to the entry it cancels.
	ReversalOf *uuid.UUID
	// ReversedBy links a reversed entry forward to its reversal.
	ReversedBy *uuid.UUID
	// Metadata holds additional key-value attributes for the entry.
	Metadata meta.Metadata `json:"metadata,omitempty"`
	// Lines preserve the caller's order; validation errors reference lines by
	// position in this slice.
	Lines []JournalLine
}

// Reportable reports whether the entry contributes to balances and reports.
// A reversed original and its reversing entry cancel exactly, so both drop
// out of every aggregate.
func (e JournalEntry) Reportable() bool {
	return e.Status == StatusPosted && e.ReversalOf == nil
}

// TotalsMinor returns the entry's debit and credit sums in minor units.
// ok is false when any line amount does not fit int64 minor units.
func (e JournalEntry) TotalsMinor() (debit, credit int64, ok bool) {
	for _, ln := range e.Lines {
		mu, muOK := ln.Amount.MinorUnits()
		if !muOK {
			return 0, 0, false
		}
		if ln.Side == SideDebit {
			debit += mu
		} else {
			credit += mu
		}
	}
	return debit, credit, true
}

// JournalLine links a journal entry to an account with an amount on a side.
type JournalLine struct {
	ID        uuid.UUID
	EntryID   uuid.UUID
	AccountID uuid.UUID
	Side      Side
	Amount    money.Amount
	// Tags maps a dimension type to the id of the tagged value.
	Tags Tags
	Memo string
	// Metadata holds additional key-value attributes for the line.
	Metadata meta.Metadata `json:"metadata,omitempty"`
}

// SignedMinor returns the line amount in minor units, positive for debit and
// negative for credit. ok is false when the amount does not fit int64.
func (l JournalLine) SignedMinor() (int64, bool) {
	mu, ok := l.Amount.MinorUnits()
	if !ok {
		return 0, false
	}
	if l.Side == SideCredit {
		return -mu, true
	}
	return mu, true
}

// NumberVoid records a sequence number that will never identify an entry.
// Integrity checks treat any gap without a matching void as corruption.
type NumberVoid struct {
	Number   int64
	Reason   string
	VoidedAt time.Time
}
