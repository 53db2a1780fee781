package ledger

import (
	"sort"

	"github.com/google/uuid"
)

// DimensionType names an analytical axis. The set is open; the four below are
// registered by the default seed and new types can be added at runtime.
type DimensionType string

const (
	DimCostCenter DimensionType = "cost_center"
	DimProject    DimensionType = "project"
	DimDepartment DimensionType = "department"
	DimLocation   DimensionType = "location"
)

// DimensionTypeDef registers a dimension type so lines may tag values of it.
type DimensionTypeDef struct {
	Code   DimensionType
	Name   string
	Active bool
}

// DimensionValue is one taggable value of a dimension type. Lines reference
// values by id; the value record stays editable without touching history.
type DimensionValue struct {
	ID     uuid.UUID
	Type   DimensionType
	Code   string
	Name   string
	Active bool
}

// Tags maps dimension types to the ids of the tagged values. At most one
// value per type on a line.
type Tags map[DimensionType]uuid.UUID

func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Types returns the tagged dimension types in lexical order.
func (t Tags) Types() []DimensionType {
	out := make([]DimensionType, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
