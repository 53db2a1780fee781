// Package dimension decides whether a line's dimension tags are legal for
// its account. Pure decision logic over a pre-resolved snapshot; posting
// loads the snapshot once per entry, never per line.
package dimension

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// Reader resolves the reference data one validation run needs.
type Reader interface {
	DimensionTypes(ctx context.Context) ([]ledger.DimensionTypeDef, error)
	DimensionValuesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.DimensionValue, error)
}

// Snapshot is the resolved reference data for one validation run.
type Snapshot struct {
	Types  map[ledger.DimensionType]ledger.DimensionTypeDef
	Values map[uuid.UUID]ledger.DimensionValue
}

// Validator loads snapshots and checks tag sets against them.
type Validator struct {
	reader Reader
}

func New(reader Reader) *Validator { return &Validator{reader: reader} }

// Load fetches the snapshot covering every tag on the given lines.
func (v *Validator) Load(ctx context.Context, lines []ledger.JournalLine) (Snapshot, error) {
	defs, err := v.reader.DimensionTypes(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	types := make(map[ledger.DimensionType]ledger.DimensionTypeDef, len(defs))
	for _, d := range defs {
		types[d.Code] = d
	}

	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0)
	for _, ln := range lines {
		for _, id := range ln.Tags {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	values := map[uuid.UUID]ledger.DimensionValue{}
	if len(ids) > 0 {
		values, err = v.reader.DimensionValuesByIDs(ctx, ids)
		if err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{Types: types, Values: values}, nil
}

// Check validates one account/tag pair. Every required type must carry an
// existing, active value of that type; extra tags are fine when their type is
// registered. Deterministic order: required dims first, then tag types sorted.
func (s Snapshot) Check(acc ledger.Account, tags ledger.Tags) error {
	for _, rt := range acc.RequiredDims {
		if _, ok := tags[rt]; !ok {
			return fmt.Errorf("%w: dimension %s required by account %s", errs.ErrMissingDimension, rt, acc.Code)
		}
	}
	for _, t := range tags.Types() {
		def, ok := s.Types[t]
		if !ok {
			return fmt.Errorf("%w: unknown dimension type %s", errs.ErrMissingDimension, t)
		}
		if !def.Active {
			return fmt.Errorf("%w: dimension type %s inactive", errs.ErrMissingDimension, t)
		}
		val, ok := s.Values[tags[t]]
		if !ok {
			return fmt.Errorf("%w: dimension %s value %s not found", errs.ErrMissingDimension, t, tags[t])
		}
		if val.Type != t {
			return fmt.Errorf("%w: value %s belongs to dimension %s, not %s", errs.ErrMissingDimension, val.Code, val.Type, t)
		}
		if !val.Active {
			return fmt.Errorf("%w: dimension %s value %s inactive", errs.ErrMissingDimension, t, val.Code)
		}
	}
	return nil
}
