// Package directory implements the reference-data rules: the chart of
// accounts with unique codes and immutable identity fields once referenced,
// soft-deletes, and the dimension types and values journal lines tag.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/minerva-erp/glcore/internal/code"
	"github.com/minerva-erp/glcore/internal/dictionary"
	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/meta"
)

// Repo defines read operations needed by the service.
type Repo interface {
	AccountByID(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	AccountByCode(ctx context.Context, accountCode string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	// AccountReferenced reports whether any journal line posts to the account.
	AccountReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	DimensionTypes(ctx context.Context) ([]ledger.DimensionTypeDef, error)
	DimensionValueByID(ctx context.Context, id uuid.UUID) (ledger.DimensionValue, error)
	DimensionValueByCode(ctx context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error)
	ListDimensionValues(ctx context.Context, t ledger.DimensionType) ([]ledger.DimensionValue, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	RegisterDimensionType(ctx context.Context, def ledger.DimensionTypeDef) error
	CreateDimensionValue(ctx context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error)
	UpdateDimensionValue(ctx context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error)
}

// CreateAccountInput carries the caller-settable fields of a new account.
type CreateAccountInput struct {
	Code         string
	Name         string
	Currency     string
	Type         ledger.AccountType
	RequiredDims []ledger.DimensionType
	Metadata     map[string]string
	System       bool
}

// UpdateAccountInput updates descriptive fields. Code/Type/Currency may only
// change while no posted line references the account.
type UpdateAccountInput struct {
	ID           uuid.UUID
	Name         *string
	Code         *string
	Type         *ledger.AccountType
	Currency     *string
	RequiredDims *[]ledger.DimensionType
	Metadata     map[string]string
}

// CreateDimensionValueInput carries the fields of a new dimension value.
type CreateDimensionValueInput struct {
	Type ledger.DimensionType
	Code string
	Name string
}

// Service exposes reference-data reads and guarded mutations.
type Service interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (ledger.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)
	GetAccountByCode(ctx context.Context, accountCode string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	UpdateAccount(ctx context.Context, in UpdateAccountInput) (ledger.Account, error)
	DeactivateAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error)

	RegisterDimensionType(ctx context.Context, def ledger.DimensionTypeDef) error
	ListDimensionTypes(ctx context.Context) ([]ledger.DimensionTypeDef, error)
	CreateDimensionValue(ctx context.Context, in CreateDimensionValueInput) (ledger.DimensionValue, error)
	ListDimensionValues(ctx context.Context, t ledger.DimensionType) ([]ledger.DimensionValue, error)
	GetDimensionValueByCode(ctx context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error)
	DeactivateDimensionValue(ctx context.Context, id uuid.UUID) (ledger.DimensionValue, error)

	Seed(ctx context.Context, currency string) error
}

type service struct {
	repo   Repo
	writer Writer
}

func New(repo Repo, writer Writer) Service { return &service{repo: repo, writer: writer} }

func (s *service) CreateAccount(ctx context.Context, in CreateAccountInput) (ledger.Account, error) {
	in.Code = code.Normalize(strings.TrimSpace(in.Code))
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validateAccountInput(in); err != nil {
		return ledger.Account{}, err
	}
	md := meta.New(in.Metadata)
	if err := md.Validate(); err != nil {
		return ledger.Account{}, fmt.Errorf("%w: %v", errs.ErrUnprocessable, err)
	}
	a := ledger.Account{
		ID:           uuid.New(),
		Code:         in.Code,
		Name:         in.Name,
		Currency:     in.Currency,
		Type:         in.Type,
		NormalSide:   in.Type.NormalSide(),
		RequiredDims: normalizeDims(in.RequiredDims),
		Metadata:     md,
		System:       in.System,
		Active:       true,
	}
	// Store enforces code uniqueness and returns ErrConflict on a duplicate.
	return s.writer.CreateAccount(ctx, a)
}

func validateAccountInput(in CreateAccountInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", errs.ErrUnprocessable)
	}
	if !code.IsCode(in.Code) {
		return fmt.Errorf("%w: invalid account code", errs.ErrUnprocessable)
	}
	if len(in.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", errs.ErrUnprocessable)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: invalid account type", errs.ErrUnprocessable)
	}
	seen := make(map[ledger.DimensionType]struct{}, len(in.RequiredDims))
	for _, d := range in.RequiredDims {
		if d == "" {
			return fmt.Errorf("%w: empty dimension type", errs.ErrUnprocessable)
		}
		if _, ok := seen[d]; ok {
			return fmt.Errorf("%w: duplicate required dimension", errs.ErrUnprocessable)
		}
		seen[d] = struct{}{}
	}
	return nil
}

func normalizeDims(dims []ledger.DimensionType) []ledger.DimensionType {
	if len(dims) == 0 {
		return nil
	}
	out := make([]ledger.DimensionType, len(dims))
	copy(out, dims)
	return out
}

func (s *service) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if id == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	return s.repo.AccountByID(ctx, id)
}

func (s *service) GetAccountByCode(ctx context.Context, accountCode string) (ledger.Account, error) {
	accountCode = code.Normalize(strings.TrimSpace(accountCode))
	if accountCode == "" {
		return ledger.Account{}, errs.ErrInvalid
	}
	return s.repo.AccountByCode(ctx, accountCode)
}

func (s *service) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return s.repo.ListAccounts(ctx)
}

func (s *service) UpdateAccount(ctx context.Context, in UpdateAccountInput) (ledger.Account, error) {
	if in.ID == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	current, err := s.repo.AccountByID(ctx, in.ID)
	if err != nil {
		return ledger.Account{}, err
	}
	if current.System {
		return ledger.Account{}, errs.ErrSystemAccount
	}
	// Identity fields may change only while the account is unreferenced.
	if in.Code != nil || in.Type != nil || in.Currency != nil {
		referenced, err := s.repo.AccountReferenced(ctx, in.ID)
		if err != nil {
			return ledger.Account{}, err
		}
		if referenced {
			return ledger.Account{}, errs.ErrImmutable
		}
		if in.Code != nil {
			c := code.Normalize(strings.TrimSpace(*in.Code))
			if !code.IsCode(c) {
				return ledger.Account{}, fmt.Errorf("%w: invalid account code", errs.ErrUnprocessable)
			}
			current.Code = c
		}
		if in.Type != nil {
			if !in.Type.Valid() {
				return ledger.Account{}, fmt.Errorf("%w: invalid account type", errs.ErrUnprocessable)
			}
			current.Type = *in.Type
			current.NormalSide = in.Type.NormalSide()
		}
		if in.Currency != nil {
			c := strings.ToUpper(strings.TrimSpace(*in.Currency))
			if len(c) != 3 {
				return ledger.Account{}, fmt.Errorf("%w: currency must be a 3-letter code", errs.ErrUnprocessable)
			}
			current.Currency = c
		}
	}
	if in.Name != nil {
		if *in.Name == "" {
			return ledger.Account{}, fmt.Errorf("%w: name is required", errs.ErrUnprocessable)
		}
		current.Name = *in.Name
	}
	if in.RequiredDims != nil {
		current.RequiredDims = normalizeDims(*in.RequiredDims)
	}
	if in.Metadata != nil {
		md := current.Metadata.Clone()
		md.Merge(meta.New(in.Metadata))
		if err := md.Validate(); err != nil {
			return ledger.Account{}, fmt.Errorf("%w: %v", errs.ErrUnprocessable, err)
		}
		current.Metadata = md
	}
	return s.writer.UpdateAccount(ctx, current)
}

// DeactivateAccount sets Active=false (soft delete). History keeps the id;
// new postings to the account are rejected.
func (s *service) DeactivateAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if id == uuid.Nil {
		return ledger.Account{}, errs.ErrInvalid
	}
	acc, err := s.repo.AccountByID(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if acc.System {
		return ledger.Account{}, errs.ErrSystemAccount
	}
	acc.Active = false
	return s.writer.UpdateAccount(ctx, acc)
}

func (s *service) RegisterDimensionType(ctx context.Context, def ledger.DimensionTypeDef) error {
	def.Code = ledger.DimensionType(strings.ToLower(strings.TrimSpace(string(def.Code))))
	if def.Code == "" || def.Name == "" {
		return errs.ErrInvalid
	}
	return s.writer.RegisterDimensionType(ctx, def)
}

func (s *service) ListDimensionTypes(ctx context.Context) ([]ledger.DimensionTypeDef, error) {
	return s.repo.DimensionTypes(ctx)
}

func (s *service) CreateDimensionValue(ctx context.Context, in CreateDimensionValueInput) (ledger.DimensionValue, error) {
	in.Code = code.Normalize(strings.TrimSpace(in.Code))
	if in.Type == "" || in.Name == "" {
		return ledger.DimensionValue{}, errs.ErrInvalid
	}
	if !code.IsCode(in.Code) {
		return ledger.DimensionValue{}, fmt.Errorf("%w: invalid dimension value code", errs.ErrUnprocessable)
	}
	if err := s.requireDimensionType(ctx, in.Type); err != nil {
		return ledger.DimensionValue{}, err
	}
	v := ledger.DimensionValue{
		ID:     uuid.New(),
		Type:   in.Type,
		Code:   in.Code,
		Name:   in.Name,
		Active: true,
	}
	// Store enforces (type, code) uniqueness.
	return s.writer.CreateDimensionValue(ctx, v)
}

func (s *service) requireDimensionType(ctx context.Context, t ledger.DimensionType) error {
	defs, err := s.repo.DimensionTypes(ctx)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if d.Code == t {
			return nil
		}
	}
	return errs.ErrNotFound
}

func (s *service) ListDimensionValues(ctx context.Context, t ledger.DimensionType) ([]ledger.DimensionValue, error) {
	return s.repo.ListDimensionValues(ctx, t)
}

func (s *service) GetDimensionValueByCode(ctx context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error) {
	valueCode = code.Normalize(valueCode)
	if t == "" || valueCode == "" {
		return ledger.DimensionValue{}, errs.ErrInvalid
	}
	return s.repo.DimensionValueByCode(ctx, t, valueCode)
}

func (s *service) DeactivateDimensionValue(ctx context.Context, id uuid.UUID) (ledger.DimensionValue, error) {
	if id == uuid.Nil {
		return ledger.DimensionValue{}, errs.ErrInvalid
	}
	v, err := s.repo.DimensionValueByID(ctx, id)
	if err != nil {
		return ledger.DimensionValue{}, err
	}
	v.Active = false
	return s.writer.UpdateDimensionValue(ctx, v)
}

// Seed installs the starter chart, dimension types and values in the given
// currency. Idempotent: existing codes are left untouched.
func (s *service) Seed(ctx context.Context, currency string) error {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return errs.ErrInvalid
	}
	for _, def := range dictionary.DimensionTypes() {
		if err := s.writer.RegisterDimensionType(ctx, def); err != nil && !errors.Is(err, errs.ErrConflict) {
			return err
		}
	}
	for _, dv := range dictionary.DimensionValues() {
		if _, err := s.repo.DimensionValueByCode(ctx, dv.Type, dv.Code); err == nil {
			continue
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		v := ledger.DimensionValue{ID: uuid.New(), Type: dv.Type, Code: dv.Code, Name: dv.Name, Active: true}
		if _, err := s.writer.CreateDimensionValue(ctx, v); err != nil && !errors.Is(err, errs.ErrConflict) {
			return err
		}
	}
	for _, def := range dictionary.Chart() {
		if _, err := s.repo.AccountByCode(ctx, def.Code); err == nil {
			continue
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		a := ledger.Account{
			ID:           uuid.New(),
			Code:         def.Code,
			Name:         def.Name,
			Currency:     currency,
			Type:         def.Type,
			NormalSide:   def.Type.NormalSide(),
			RequiredDims: def.RequiredDims,
			System:       def.System,
			Active:       true,
		}
		if _, err := s.writer.CreateAccount(ctx, a); err != nil && !errors.Is(err, errs.ErrConflict) {
			return err
		}
	}
	return nil
}
