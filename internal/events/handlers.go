package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

// Routing keys bound by the adapter.
const (
	RouteSalesPosted            = "sales.posted"
	RoutePurchasesReceived      = "purchases.received"
	RouteBankingImported        = "banking.imported"
	RouteManufacturingFinalized = "manufacturing.finalized"
	RouteEntryPosted            = "ledger.entry.posted"
)

// eventTimeout bounds the processing of one delivery.
const eventTimeout = 15 * time.Second

// EventLine is one line of an inbound business event. Accounts and
// dimension values arrive as codes; the adapter resolves them to ids.
type EventLine struct {
	AccountCode string            `json:"account_code"`
	Side        string            `json:"side"`
	AmountMinor int64             `json:"amount_minor"`
	Dimensions  map[string]string `json:"dimensions,omitempty"`
	Memo        string            `json:"memo,omitempty"`
	// VATSplit marks a gross credit line to split into net revenue and VAT
	// payable at the configured rate. Honored on sales events only.
	VATSplit bool `json:"vat_split,omitempty"`
}

// PostingEvent is the payload shared by all inbound routing keys. EventID
// doubles as the idempotency key, so broker redeliveries replay cleanly.
type PostingEvent struct {
	EventID  string      `json:"event_id"`
	Date     time.Time   `json:"date"`
	Currency string      `json:"currency"`
	Memo     string      `json:"memo"`
	Lines    []EventLine `json:"lines"`
}

// Directory resolves account and dimension value codes.
type Directory interface {
	GetAccountByCode(ctx context.Context, accountCode string) (ledger.Account, error)
	GetDimensionValueByCode(ctx context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error)
}

// Poster commits the built entry.
type Poster interface {
	Post(ctx context.Context, req posting.PostRequest) (ledger.JournalEntry, error)
}

// PostingConsumer turns business events into posting calls. It owns payload
// building; the posting engine only validates and commits.
type PostingConsumer struct {
	poster         Poster
	dir            Directory
	vatRateBPS     int64
	vatAccountCode string
	log            *slog.Logger
}

func NewPostingConsumer(poster Poster, dir Directory, vatRateBPS int64, vatAccountCode string, log *slog.Logger) *PostingConsumer {
	return &PostingConsumer{
		poster:         poster,
		dir:            dir,
		vatRateBPS:     vatRateBPS,
		vatAccountCode: vatAccountCode,
		log:            log,
	}
}

// Bindings maps routing keys to handlers for ConsumeWithBindings.
func (c *PostingConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		RouteSalesPosted:            c.handle(ledger.SourceSales, true),
		RoutePurchasesReceived:      c.handle(ledger.SourcePurchase, false),
		RouteBankingImported:        c.handle(ledger.SourceBanking, false),
		RouteManufacturingFinalized: c.handle(ledger.SourceManufacturing, false),
	}
}

func (c *PostingConsumer) handle(source ledger.EntrySource, allowVATSplit bool) func([]byte) bool {
	return func(body []byte) bool {
		var ev PostingEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			c.log.Error("event unmarshal failed, dropping", "source", source, "error", err)
			return true
		}
		if ev.EventID == "" {
			c.log.Error("event without id, dropping", "source", source)
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()

		if err := c.process(ctx, source, allowVATSplit, ev); err != nil {
			if permanent(err) {
				c.log.Error("event rejected, dropping", "event_id", ev.EventID, "source", source, "error", err)
				return true
			}
			c.log.Error("event processing failed, requeueing", "event_id", ev.EventID, "source", source, "error", err)
			return false
		}
		return true
	}
}

func (c *PostingConsumer) process(ctx context.Context, source ledger.EntrySource, allowVATSplit bool, ev PostingEvent) error {
	if len(ev.Lines) == 0 {
		return fmt.Errorf("%w: event has no lines", errs.ErrInvalid)
	}
	req := posting.PostRequest{
		Date:           ev.Date,
		Currency:       ev.Currency,
		Memo:           ev.Memo,
		Source:         source,
		IdempotencyKey: ev.EventID,
	}
	for i, el := range ev.Lines {
		lines, err := c.buildLines(ctx, el, allowVATSplit)
		if err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		req.Lines = append(req.Lines, lines...)
	}
	entry, err := c.poster.Post(ctx, req)
	if err != nil {
		return err
	}
	c.log.Info("event posted",
		"event_id", ev.EventID, "source", source,
		"entry_id", entry.ID, "entry_number", entry.Number)
	return nil
}

// buildLines resolves one event line, splitting a flagged gross credit into
// net and VAT payable.
func (c *PostingConsumer) buildLines(ctx context.Context, el EventLine, allowVATSplit bool) ([]posting.LineInput, error) {
	acc, err := c.dir.GetAccountByCode(ctx, el.AccountCode)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", el.AccountCode, err)
	}
	tags, err := c.resolveTags(ctx, el.Dimensions)
	if err != nil {
		return nil, err
	}
	base := posting.LineInput{
		AccountID:   acc.ID,
		Side:        ledger.Side(el.Side),
		AmountMinor: el.AmountMinor,
		Tags:        tags,
		Memo:        el.Memo,
	}
	if !el.VATSplit || !allowVATSplit {
		return []posting.LineInput{base}, nil
	}
	if base.Side != ledger.SideCredit {
		return nil, fmt.Errorf("%w: vat split applies to credit lines only", errs.ErrInvalid)
	}

	net := NetOfVAT(el.AmountMinor, c.vatRateBPS)
	vat := el.AmountMinor - net
	if vat == 0 {
		return []posting.LineInput{base}, nil
	}
	vatAcc, err := c.dir.GetAccountByCode(ctx, c.vatAccountCode)
	if err != nil {
		return nil, fmt.Errorf("vat account %s: %w", c.vatAccountCode, err)
	}
	base.AmountMinor = net
	vatLine := posting.LineInput{
		AccountID:   vatAcc.ID,
		Side:        ledger.SideCredit,
		AmountMinor: vat,
		Memo:        "vat on " + el.AccountCode,
	}
	return []posting.LineInput{base, vatLine}, nil
}

func (c *PostingConsumer) resolveTags(ctx context.Context, dims map[string]string) (map[ledger.DimensionType]uuid.UUID, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	tags := make(map[ledger.DimensionType]uuid.UUID, len(dims))
	for t, valueCode := range dims {
		dt := ledger.DimensionType(t)
		v, err := c.dir.GetDimensionValueByCode(ctx, dt, valueCode)
		if err != nil {
			return nil, fmt.Errorf("dimension %s=%s: %w", t, valueCode, err)
		}
		tags[dt] = v.ID
	}
	return tags, nil
}

// NetOfVAT extracts the net amount from a gross that includes VAT at the
// given basis-point rate, rounding half up.
func NetOfVAT(grossMinor, rateBPS int64) int64 {
	if rateBPS <= 0 {
		return grossMinor
	}
	den := int64(10000) + rateBPS
	return (grossMinor*10000 + den/2) / den
}

// permanent reports whether retrying the event can never succeed.
func permanent(err error) bool {
	for _, sentinel := range []error{
		errs.ErrInvalid, errs.ErrUnbalanced, errs.ErrInvalidAccount,
		errs.ErrMissingDimension, errs.ErrDuplicate, errs.ErrNotFound,
		errs.ErrUnprocessable, errs.ErrForbidden, errs.ErrImmutable,
		errs.ErrSystemAccount,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
