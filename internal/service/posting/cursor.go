package posting

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
)

// EncodeCursor builds the opaque page cursor from the last row of a page.
// Stores return it as the next cursor; keyset order is (date, id) ascending.
func EncodeCursor(date time.Time, id uuid.UUID) string {
	return date.UTC().Format(time.RFC3339Nano) + "|" + id.String()
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (time.Time, uuid.UUID, error) {
	ds, is, ok := strings.Cut(s, "|")
	if !ok {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: malformed cursor", errs.ErrInvalid)
	}
	d, err := time.Parse(time.RFC3339Nano, ds)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: malformed cursor date", errs.ErrInvalid)
	}
	id, err := uuid.Parse(is)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: malformed cursor id", errs.ErrInvalid)
	}
	return d, id, nil
}
