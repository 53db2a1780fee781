// Package postgres is the pgx-backed storage implementation behind the
// service repos and writers. Migrations that create the expected schema live
// under db/migrations; this package maps between the domain entities and SQL
// rows and runs the necessary statements and transactions.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/meta"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity. Readiness probes call this.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// mapErr translates driver errors to the shared sentinels: unique and
// serialization violations become ErrConflict, connectivity and resource
// classes become ErrStorageUnavailable.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return errs.ErrConflict
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errs.ErrConflict
		}
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") {
			return errs.ErrStorageUnavailable
		}
	}
	return err
}

func scanMetadata(b []byte) meta.Metadata {
	if len(b) == 0 {
		return nil
	}
	var m meta.Metadata
	if err := m.UnmarshalJSON(b); err != nil {
		return nil
	}
	return m
}

func dimsToStrings(dims []ledger.DimensionType) []string {
	out := make([]string, len(dims))
	for i, d := range dims {
		out[i] = string(d)
	}
	return out
}

func stringsToDims(ss []string) []ledger.DimensionType {
	if len(ss) == 0 {
		return nil
	}
	out := make([]ledger.DimensionType, len(ss))
	for i, s := range ss {
		out[i] = ledger.DimensionType(s)
	}
	return out
}

// --- accounts ---

const accountCols = `id, code, name, currency, type, normal_side, required_dims, metadata, system, active`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	var dims []string
	var mdBytes []byte
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Currency, &a.Type, &a.NormalSide, &dims, &mdBytes, &a.System, &a.Active)
	if err != nil {
		return ledger.Account{}, err
	}
	a.RequiredDims = stringsToDims(dims)
	a.Metadata = scanMetadata(mdBytes)
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	md, _ := a.Metadata.MarshalStableJSON()
	_, err := s.pool.Exec(ctx, `
		insert into accounts (`+accountCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.Code, a.Name, a.Currency, a.Type, a.NormalSide, dimsToStrings(a.RequiredDims), md, a.System, a.Active)
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	md, _ := a.Metadata.MarshalStableJSON()
	ct, err := s.pool.Exec(ctx, `
		update accounts
		set code=$1, name=$2, currency=$3, type=$4, normal_side=$5, required_dims=$6, metadata=$7, active=$8
		where id=$9
	`, a.Code, a.Name, a.Currency, a.Type, a.NormalSide, dimsToStrings(a.RequiredDims), md, a.Active, a.ID)
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ledger.Account{}, errs.ErrNotFound
	}
	return a, nil
}

func (s *Store) AccountByID(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		select `+accountCols+` from accounts where id = $1
	`, id))
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

func (s *Store) AccountByCode(ctx context.Context, accountCode string) (ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		select `+accountCols+` from accounts where code = $1
	`, accountCode))
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `
		select `+accountCols+` from accounts order by code
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]ledger.Account{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		select `+accountCols+` from accounts where id = any($1)
	`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (s *Store) AccountReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := s.pool.QueryRow(ctx, `
		select exists (select 1 from journal_lines where account_id = $1)
	`, id).Scan(&referenced)
	if err != nil {
		return false, mapErr(err)
	}
	return referenced, nil
}

// --- dimensions ---

func (s *Store) RegisterDimensionType(ctx context.Context, def ledger.DimensionTypeDef) error {
	_, err := s.pool.Exec(ctx, `
		insert into dimension_types (code, name, active) values ($1,$2,$3)
	`, def.Code, def.Name, def.Active)
	return mapErr(err)
}

func (s *Store) DimensionTypes(ctx context.Context) ([]ledger.DimensionTypeDef, error) {
	rows, err := s.pool.Query(ctx, `
		select code, name, active from dimension_types order by code
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.DimensionTypeDef, 0)
	for rows.Next() {
		var d ledger.DimensionTypeDef
		if err := rows.Scan(&d.Code, &d.Name, &d.Active); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDimensionValue(ctx context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error) {
	_, err := s.pool.Exec(ctx, `
		insert into dimension_values (id, type, code, name, active) values ($1,$2,$3,$4,$5)
	`, v.ID, v.Type, v.Code, v.Name, v.Active)
	if err != nil {
		return ledger.DimensionValue{}, mapErr(err)
	}
	return v, nil
}

func (s *Store) UpdateDimensionValue(ctx context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error) {
	ct, err := s.pool.Exec(ctx, `
		update dimension_values set type=$1, code=$2, name=$3, active=$4 where id=$5
	`, v.Type, v.Code, v.Name, v.Active, v.ID)
	if err != nil {
		return ledger.DimensionValue{}, mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ledger.DimensionValue{}, errs.ErrNotFound
	}
	return v, nil
}

func (s *Store) DimensionValueByID(ctx context.Context, id uuid.UUID) (ledger.DimensionValue, error) {
	var v ledger.DimensionValue
	err := s.pool.QueryRow(ctx, `
		select id, type, code, name, active from dimension_values where id = $1
	`, id).Scan(&v.ID, &v.Type, &v.Code, &v.Name, &v.Active)
	if err != nil {
		return ledger.DimensionValue{}, mapErr(err)
	}
	return v, nil
}

func (s *Store) DimensionValueByCode(ctx context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error) {
	var v ledger.DimensionValue
	err := s.pool.QueryRow(ctx, `
		select id, type, code, name, active from dimension_values where type = $1 and code = $2
	`, t, valueCode).Scan(&v.ID, &v.Type, &v.Code, &v.Name, &v.Active)
	if err != nil {
		return ledger.DimensionValue{}, mapErr(err)
	}
	return v, nil
}

func (s *Store) ListDimensionValues(ctx context.Context, t ledger.DimensionType) ([]ledger.DimensionValue, error) {
	rows, err := s.pool.Query(ctx, `
		select id, type, code, name, active from dimension_values where type = $1 order by code
	`, t)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.DimensionValue, 0)
	for rows.Next() {
		var v ledger.DimensionValue
		if err := rows.Scan(&v.ID, &v.Type, &v.Code, &v.Name, &v.Active); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) DimensionValuesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.DimensionValue, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]ledger.DimensionValue{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		select id, type, code, name, active from dimension_values where id = any($1)
	`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]ledger.DimensionValue, len(ids))
	for rows.Next() {
		var v ledger.DimensionValue
		if err := rows.Scan(&v.ID, &v.Type, &v.Code, &v.Name, &v.Active); err != nil {
			return nil, err
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}
