// Package posting implements the journal posting rules: structural and
// balance validation, dimension legality, idempotent commits and reversal
// entries. Entries are append-only; every mutation is a new balanced entry.
package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/meta"
	"github.com/minerva-erp/glcore/internal/service/dimension"
)

// maxCommitRetries bounds the internal retries on serialization conflicts.
const maxCommitRetries = 3

// Repo defines read operations needed by the service.
type Repo interface {
	AccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)
	EntryByID(ctx context.Context, id uuid.UUID) (ledger.JournalEntry, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]ledger.JournalEntry, string, error)
}

// Writer defines the atomic commit operations needed by the service.
type Writer interface {
	// CreateJournalEntry commits the entry in one transaction: assigns the
	// next sequence number, writes header, lines and tags, updates running
	// balances and records the idempotency key. When the key was already
	// committed with the same payload hash, the stored entry returns with
	// created=false; a different hash returns ErrDuplicate.
	CreateJournalEntry(ctx context.Context, entry ledger.JournalEntry, idemKey, payloadHash string) (ledger.JournalEntry, bool, error)
	// ReverseJournalEntry inserts the reversal and flips the original's
	// status in the same transaction. ErrConflict when the original changed
	// underneath.
	ReverseJournalEntry(ctx context.Context, originalID uuid.UUID, reversal ledger.JournalEntry) (ledger.JournalEntry, error)
	// VoidEntryNumber records a sequence number as intentionally unused. The
	// number must not belong to an entry.
	VoidEntryNumber(ctx context.Context, number int64, reason string) error
}

// Notifier receives successfully committed entries. Best effort; failures
// are the notifier's problem and never roll back a commit.
type Notifier interface {
	EntryPosted(ctx context.Context, e ledger.JournalEntry)
}

// LineInput is one caller-supplied line of a posting request.
type LineInput struct {
	AccountID   uuid.UUID
	Side        ledger.Side
	AmountMinor int64
	Tags        map[ledger.DimensionType]uuid.UUID
	Memo        string
	Metadata    map[string]string
}

// PostRequest carries everything Post needs. Line order is preserved;
// validation errors reference lines by their position here.
type PostRequest struct {
	Date           time.Time
	Currency       string
	Memo           string
	Source         ledger.EntrySource
	IdempotencyKey string
	Metadata       map[string]string
	Lines          []LineInput
}

// ReverseRequest identifies the entry to reverse. A zero Date reuses the
// original entry date so the as-of picture returns to its pre-entry state.
type ReverseRequest struct {
	EntryID uuid.UUID
	Date    time.Time
	Memo    string
}

// EntryQuery pages through entries, newest last. Cursor comes from a prior
// page's next cursor.
type EntryQuery struct {
	Limit  int
	Cursor string
	Source ledger.EntrySource
	From   time.Time
	To     time.Time
}

// Service exposes validation and the append-only entry operations.
type Service interface {
	Post(ctx context.Context, req PostRequest) (ledger.JournalEntry, error)
	Reverse(ctx context.Context, req ReverseRequest) (ledger.JournalEntry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (ledger.JournalEntry, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]ledger.JournalEntry, string, error)
	VoidNumber(ctx context.Context, number int64, reason string) error
}

type service struct {
	repo     Repo
	writer   Writer
	dims     *dimension.Validator
	notifier Notifier
}

// New wires the service. notifier may be nil.
func New(repo Repo, writer Writer, dims *dimension.Validator, notifier Notifier) Service {
	return &service{repo: repo, writer: writer, dims: dims, notifier: notifier}
}

func (s *service) Post(ctx context.Context, req PostRequest) (ledger.JournalEntry, error) {
	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	hash := payloadHash(req)

	var committed ledger.JournalEntry
	var created bool
	for attempt := 0; ; attempt++ {
		committed, created, err = s.writer.CreateJournalEntry(ctx, entry, req.IdempotencyKey, hash)
		if err == nil || !errors.Is(err, errs.ErrConflict) || attempt+1 >= maxCommitRetries {
			break
		}
	}
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if created {
		postedTotal.WithLabelValues(string(committed.Source)).Inc()
		if s.notifier != nil {
			s.notifier.EntryPosted(ctx, committed)
		}
	}
	return committed, nil
}

// buildEntry runs the validation pipeline in order: structural checks,
// balance equality, then dimension legality. The first failure wins and
// carries the offending line index.
func (s *service) buildEntry(ctx context.Context, req PostRequest) (ledger.JournalEntry, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(req.Currency) != 3 {
		return ledger.JournalEntry{}, fmt.Errorf("%w: currency is required", errs.ErrInvalid)
	}
	if req.Date.IsZero() {
		return ledger.JournalEntry{}, fmt.Errorf("%w: date is required", errs.ErrInvalid)
	}
	if req.Source == "" {
		req.Source = ledger.SourceManual
	}
	if !req.Source.Valid() {
		return ledger.JournalEntry{}, fmt.Errorf("%w: unknown source %q", errs.ErrInvalid, req.Source)
	}
	if len(req.Lines) < 2 {
		return ledger.JournalEntry{}, fmt.Errorf("%w: at least 2 lines", errs.ErrUnbalanced)
	}
	md := meta.New(req.Metadata)
	if err := md.Validate(); err != nil {
		return ledger.JournalEntry{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}

	entryID := uuid.New()
	lines := make([]ledger.JournalLine, len(req.Lines))
	ids := make([]uuid.UUID, 0, len(req.Lines))
	var sumDebits, sumCredits int64
	for i, in := range req.Lines {
		if in.AccountID == uuid.Nil {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: account_id required", errs.ErrInvalidAccount))
		}
		if !in.Side.Valid() {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: side must be debit or credit", errs.ErrInvalid))
		}
		if in.AmountMinor <= 0 {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: amount must be > 0", errs.ErrInvalid))
		}
		amt, err := money.NewAmountFromMinorUnits(req.Currency, in.AmountMinor)
		if err != nil {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: %v", errs.ErrInvalid, err))
		}
		if in.Side == ledger.SideDebit {
			sumDebits += in.AmountMinor
		} else {
			sumCredits += in.AmountMinor
		}
		lnMD := meta.New(in.Metadata)
		if err := lnMD.Validate(); err != nil {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: %v", errs.ErrInvalid, err))
		}
		lines[i] = ledger.JournalLine{
			ID:        uuid.New(),
			EntryID:   entryID,
			AccountID: in.AccountID,
			Side:      in.Side,
			Amount:    amt,
			Tags:      ledger.Tags(in.Tags).Clone(),
			Memo:      in.Memo,
			Metadata:  lnMD,
		}
		ids = append(ids, in.AccountID)
	}
	if sumDebits != sumCredits {
		return ledger.JournalEntry{}, fmt.Errorf("%w: debits %d != credits %d", errs.ErrUnbalanced, sumDebits, sumCredits)
	}

	accMap, err := s.repo.AccountsByIDs(ctx, unique(ids))
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	for i, ln := range lines {
		acc, ok := accMap[ln.AccountID]
		if !ok {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: account %s not found", errs.ErrInvalidAccount, ln.AccountID))
		}
		if !acc.Active {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: account %s inactive", errs.ErrInvalidAccount, acc.Code))
		}
		if acc.Currency != req.Currency {
			return ledger.JournalEntry{}, errs.Line(i, fmt.Errorf("%w: account %s currency %s does not match entry currency %s",
				errs.ErrInvalidAccount, acc.Code, acc.Currency, req.Currency))
		}
	}

	snap, err := s.dims.Load(ctx, lines)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	for i, ln := range lines {
		if err := snap.Check(accMap[ln.AccountID], ln.Tags); err != nil {
			return ledger.JournalEntry{}, errs.Line(i, err)
		}
	}

	return ledger.JournalEntry{
		ID:       entryID,
		Date:     req.Date,
		Currency: req.Currency,
		Memo:     req.Memo,
		Source:   req.Source,
		Status:   ledger.StatusPosted,
		Metadata: md,
		Lines:    lines,
	}, nil
}

// Reverse posts the mirror entry of a prior entry and marks the original
// reversed. The original's lines are never touched.
func (s *service) Reverse(ctx context.Context, req ReverseRequest) (ledger.JournalEntry, error) {
	if req.EntryID == uuid.Nil {
		return ledger.JournalEntry{}, errs.ErrInvalid
	}
	var reversal ledger.JournalEntry
	var err error
	for attempt := 0; ; attempt++ {
		reversal, err = s.reverseOnce(ctx, req)
		if err == nil || !errors.Is(err, errs.ErrConflict) || attempt+1 >= maxCommitRetries {
			break
		}
	}
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	reversedTotal.Inc()
	return reversal, nil
}

func (s *service) reverseOnce(ctx context.Context, req ReverseRequest) (ledger.JournalEntry, error) {
	orig, err := s.repo.EntryByID(ctx, req.EntryID)
	if err != nil {
		return ledger.JournalEntry{}, err
	}
	if orig.Status == ledger.StatusReversed {
		return ledger.JournalEntry{}, fmt.Errorf("%w: entry already reversed", errs.ErrConflict)
	}
	if orig.ReversalOf != nil {
		return ledger.JournalEntry{}, fmt.Errorf("%w: cannot reverse a reversal entry", errs.ErrUnprocessable)
	}
	if orig.Status != ledger.StatusPosted {
		return ledger.JournalEntry{}, fmt.Errorf("%w: entry not posted", errs.ErrUnprocessable)
	}

	date := req.Date
	if date.IsZero() {
		date = orig.Date
	}
	memo := req.Memo
	if memo == "" {
		memo = "reversal of " + orig.ID.String() + ": " + orig.Memo
	}
	rid := uuid.New()
	lines := make([]ledger.JournalLine, len(orig.Lines))
	for i, ln := range orig.Lines {
		lines[i] = ledger.JournalLine{
			ID:        uuid.New(),
			EntryID:   rid,
			AccountID: ln.AccountID,
			Side:      ln.Side.Opposite(),
			Amount:    ln.Amount,
			Tags:      ln.Tags.Clone(),
			Memo:      ln.Memo,
			Metadata:  ln.Metadata.Clone(),
		}
	}
	originalID := orig.ID
	reversal := ledger.JournalEntry{
		ID:         rid,
		Date:       date,
		Currency:   orig.Currency,
		Memo:       memo,
		Source:     orig.Source,
		Status:     ledger.StatusPosted,
		ReversalOf: &originalID,
		Lines:      lines,
	}
	return s.writer.ReverseJournalEntry(ctx, originalID, reversal)
}

func (s *service) GetEntry(ctx context.Context, id uuid.UUID) (ledger.JournalEntry, error) {
	if id == uuid.Nil {
		return ledger.JournalEntry{}, errs.ErrInvalid
	}
	return s.repo.EntryByID(ctx, id)
}

func (s *service) ListEntries(ctx context.Context, q EntryQuery) ([]ledger.JournalEntry, string, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	return s.repo.ListEntries(ctx, q)
}

func (s *service) VoidNumber(ctx context.Context, number int64, reason string) error {
	if number <= 0 {
		return errs.ErrInvalid
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reason is required", errs.ErrInvalid)
	}
	return s.writer.VoidEntryNumber(ctx, number, reason)
}

func unique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
