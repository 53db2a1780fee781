package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/govalues/money"

	"github.com/minerva-erp/glcore/internal/ledger"
)

// RevolutParser parses Revolut business account CSV exports. Only COMPLETED
// rows count; the stored amount is the net cash movement, amount minus fee.
type RevolutParser struct{}

const (
	revDateFormat   = "2006-01-02 15:04:05"
	revNumFields    = 10
	revColCompleted = 3
	revColDesc      = 4
	revColAmount    = 5
	revColFee       = 6
	revColCurrency  = 7
	revColState     = 8
)

// Format returns the parser name.
func (p *RevolutParser) Format() string { return "revolut" }

// Parse reads a Revolut CSV and returns bank transactions.
func (p *RevolutParser) Parse(r io.Reader, _ string) ([]ledger.BankTransaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = revNumFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading revolut CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var txns []ledger.BankTransaction
	for i, rec := range records[1:] {
		if !strings.EqualFold(rec[revColState], "COMPLETED") {
			continue
		}
		txn, err := parseRevolutRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func parseRevolutRow(rec []string) (ledger.BankTransaction, error) {
	date, err := time.Parse(revDateFormat, rec[revColCompleted])
	if err != nil {
		return ledger.BankTransaction{}, fmt.Errorf("parsing date %q: %w", rec[revColCompleted], err)
	}

	currency := rec[revColCurrency]
	amount, err := money.ParseAmount(currency, rec[revColAmount])
	if err != nil {
		return ledger.BankTransaction{}, fmt.Errorf("parsing amount %q: %w", rec[revColAmount], err)
	}
	fee, err := money.ParseAmount(currency, rec[revColFee])
	if err != nil {
		return ledger.BankTransaction{}, fmt.Errorf("parsing fee %q: %w", rec[revColFee], err)
	}
	net, err := amount.Sub(fee)
	if err != nil {
		return ledger.BankTransaction{}, fmt.Errorf("net of fee: %w", err)
	}
	minor, ok := net.MinorUnits()
	if !ok {
		return ledger.BankTransaction{}, fmt.Errorf("amount %q does not fit minor units", rec[revColAmount])
	}

	desc := rec[revColDesc]
	return ledger.BankTransaction{
		Date:        date,
		AmountMinor: minor,
		Currency:    currency,
		Description: desc,
		Reference:   makeRevolutRef(date, desc),
	}, nil
}

// makeRevolutRef creates a reference like revolut_20260103_ACMEINVOIC.
func makeRevolutRef(date time.Time, desc string) string {
	prefix := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, desc)
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	return fmt.Sprintf("revolut_%s_%s", date.Format("20060102"), strings.ToUpper(prefix))
}
