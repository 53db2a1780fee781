package ledger

import (
	"time"

	"github.com/google/uuid"
)

// TxnStatus tracks the reconciliation state of a bank transaction.
type TxnStatus string

const (
	TxnUnmatched TxnStatus = "unmatched"
	TxnMatched   TxnStatus = "matched"
	TxnDisputed  TxnStatus = "disputed"
)

// BankTransaction is one imported statement line. AmountMinor is signed:
// negative for money leaving the bank account.
type BankTransaction struct {
	ID            uuid.UUID
	BankAccountID uuid.UUID
	Date          time.Time
	AmountMinor   int64
	Currency      string
	Description   string
	Reference     string
	Status        TxnStatus
	// DedupeKey is a stable content hash; re-importing the same statement
	// line is a no-op.
	DedupeKey string
}

// ReconStatus is the lifecycle state of one reconciliation item.
type ReconStatus string

const (
	// ReconAuto marks a high-confidence match accepted without review.
	ReconAuto ReconStatus = "auto"
	// ReconReview marks a lower-confidence match waiting for a human decision.
	ReconReview    ReconStatus = "review"
	ReconConfirmed ReconStatus = "confirmed"
	ReconRejected  ReconStatus = "rejected"
	// ReconAmbiguous marks equally scored candidates; never decided automatically.
	ReconAmbiguous ReconStatus = "ambiguous"
	ReconUnmatched ReconStatus = "unmatched"
)

// BankReconciliation is one reconciliation run over a bank account period.
// Re-running the same period replaces unresolved items and preserves
// auto/confirmed ones.
type BankReconciliation struct {
	ID            uuid.UUID
	BankAccountID uuid.UUID
	PeriodStart   time.Time
	PeriodEnd     time.Time
	StatementDate time.Time
	OpeningMinor  int64
	ClosingMinor  int64
	CreatedAt     time.Time
	Items         []ReconciliationItem
}

// ReconciliationItem links a bank transaction to a candidate journal line.
// The only mutable record in the model: confirm/reject flip its status.
type ReconciliationItem struct {
	ID               uuid.UUID
	ReconciliationID uuid.UUID
	TransactionID    uuid.UUID
	// LineID is set for matched and proposed items, nil for unmatched ones.
	LineID     *uuid.UUID
	Confidence float64
	Status     ReconStatus
	// DimensionMismatch flags a matched line whose tags differ from the bank
	// account's configured default mapping. Informational, never blocks.
	DimensionMismatch bool
	// CandidateLineIDs lists the tied candidates of an ambiguous item, lowest
	// line id first.
	CandidateLineIDs []uuid.UUID
}

// IsMatched reports whether the item currently consumes its journal line.
func (i ReconciliationItem) IsMatched() bool {
	return i.Status == ReconAuto || i.Status == ReconConfirmed
}
