package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/govalues/money"

	"github.com/minerva-erp/glcore/internal/ledger"
)

// StandardParser parses the in-house statement format:
// Date,Description,Reference,Amount with ISO dates and decimal amounts,
// negative for money leaving the account.
type StandardParser struct{}

const (
	stdDateFormat = time.DateOnly
	stdNumFields  = 4
	stdColDate    = 0
	stdColDesc    = 1
	stdColRef     = 2
	stdColAmount  = 3
)

// Format returns the parser name.
func (p *StandardParser) Format() string { return "standard" }

// Parse reads a standard CSV and returns bank transactions.
func (p *StandardParser) Parse(r io.Reader, currency string) ([]ledger.BankTransaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = stdNumFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading standard CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var txns []ledger.BankTransaction
	for i, rec := range records[1:] {
		txn, err := parseStandardRow(rec, currency)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func parseStandardRow(rec []string, currency string) (ledger.BankTransaction, error) {
	date, err := time.Parse(stdDateFormat, rec[stdColDate])
	if err != nil {
		return ledger.BankTransaction{}, fmt.Errorf("parsing date %q: %w", rec[stdColDate], err)
	}

	amount, err := money.ParseAmount(currency, rec[stdColAmount])
	if err != nil {
		return ledger.BankTransaction{}, fmt.Errorf("parsing amount %q: %w", rec[stdColAmount], err)
	}
	minor, ok := amount.MinorUnits()
	if !ok {
		return ledger.BankTransaction{}, fmt.Errorf("amount %q does not fit minor units", rec[stdColAmount])
	}

	return ledger.BankTransaction{
		Date:        date,
		AmountMinor: minor,
		Currency:    currency,
		Description: rec[stdColDesc],
		Reference:   rec[stdColRef],
	}, nil
}
