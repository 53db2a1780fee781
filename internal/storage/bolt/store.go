// Package bolt implements the ledger store on a single-file bbolt database
// for the CLI and local mode. Records are JSON documents; index buckets keep
// (date, id) byte order so listing scans like the SQL backend. Mutations run
// in one db.Update, reads see bbolt's snapshot isolation.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

// Bucket names.
const (
	bucketAccounts      = "accounts"
	bucketAccountCodes  = "account_codes"
	bucketDimTypes      = "dimension_types"
	bucketDimValues     = "dimension_values"
	bucketDimValueCodes = "dimension_value_codes"
	bucketEntries       = "entries"
	bucketEntryKeys     = "entry_keys"
	bucketEntryNumbers  = "entry_numbers"
	bucketEntryIdem     = "entry_idempotency"
	bucketNumberVoids   = "number_voids"
	bucketBalanceDays   = "balance_days"
	bucketBankTxns      = "bank_transactions"
	bucketBankTxnKeys   = "bank_transaction_keys"
	bucketBankDedupe    = "bank_transaction_dedupe"
	bucketRecons        = "reconciliations"
	bucketReconPeriods  = "reconciliation_periods"
	bucketConsumed      = "consumed_lines"
)

// Store wraps the bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file and initializes buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			bucketAccounts, bucketAccountCodes,
			bucketDimTypes, bucketDimValues, bucketDimValueCodes,
			bucketEntries, bucketEntryKeys, bucketEntryNumbers,
			bucketEntryIdem, bucketNumberVoids, bucketBalanceDays,
			bucketBankTxns, bucketBankTxnKeys, bucketBankDedupe,
			bucketRecons, bucketReconPeriods, bucketConsumed,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is still open.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// encTime encodes a time as 8 big-endian bytes. The sign bit flip keeps byte
// order equal to time order for pre-1970 dates.
func encTime(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano())^(1<<63))
	return b
}

// itob converts an int64 to a byte slice for use as a key.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func entryKey(date time.Time, id uuid.UUID) []byte {
	return append(encTime(date.UTC()), id[:]...)
}

func balanceKey(account uuid.UUID, day time.Time) []byte {
	return append(account[:], encTime(day)...)
}

func txnKey(bankAccount uuid.UUID, date time.Time, id uuid.UUID) []byte {
	k := append(bankAccount[:], encTime(date.UTC())...)
	return append(k, id[:]...)
}

func periodKey(bankAccount uuid.UUID, from, to time.Time) []byte {
	k := append(bankAccount[:], encTime(from)...)
	return append(k, encTime(to)...)
}

// dimValueCodeKey joins type and code with a NUL separator.
func dimValueCodeKey(t ledger.DimensionType, code string) []byte {
	return []byte(string(t) + "\x00" + code)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return b.Put(key, data)
}

// getJSON loads key into v. ok is false when the key is absent.
func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// day truncates to UTC day granularity for balance bucketing.
func day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// --- accounts ---

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		codes := tx.Bucket([]byte(bucketAccountCodes))
		if codes.Get([]byte(a.Code)) != nil {
			return errs.ErrConflict
		}
		if err := putJSON(tx.Bucket([]byte(bucketAccounts)), a.ID[:], a); err != nil {
			return err
		}
		return codes.Put([]byte(a.Code), a.ID[:])
	})
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(bucketAccounts))
		var prev ledger.Account
		ok, err := getJSON(accounts, a.ID[:], &prev)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		codes := tx.Bucket([]byte(bucketAccountCodes))
		if prev.Code != a.Code {
			if codes.Get([]byte(a.Code)) != nil {
				return errs.ErrConflict
			}
			if err := codes.Delete([]byte(prev.Code)); err != nil {
				return err
			}
			if err := codes.Put([]byte(a.Code), a.ID[:]); err != nil {
				return err
			}
		}
		return putJSON(accounts, a.ID[:], a)
	})
	if err != nil {
		return ledger.Account{}, err
	}
	return a, nil
}

func (s *Store) AccountByID(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	var a ledger.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket([]byte(bucketAccounts)), id[:], &a)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		return nil
	})
	return a, err
}

func (s *Store) AccountByCode(ctx context.Context, accountCode string) (ledger.Account, error) {
	var a ledger.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(bucketAccountCodes)).Get([]byte(accountCode))
		if id == nil {
			return errs.ErrNotFound
		}
		_, err := getJSON(tx.Bucket([]byte(bucketAccounts)), id, &a)
		return err
	})
	return a, err
}

// ListAccounts returns all accounts in code order, which is the byte order
// of the code index bucket.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(bucketAccounts))
		return tx.Bucket([]byte(bucketAccountCodes)).ForEach(func(_, id []byte) error {
			var a ledger.Account
			if _, err := getJSON(accounts, id, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(bucketAccounts))
		for _, id := range ids {
			var a ledger.Account
			ok, err := getJSON(accounts, id[:], &a)
			if err != nil {
				return err
			}
			if ok {
				out[id] = a
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AccountReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	referenced := false
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEntries)).ForEach(func(_, v []byte) error {
			var d entryDoc
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			for _, ln := range d.Lines {
				if ln.AccountID == id {
					referenced = true
				}
			}
			return nil
		})
	})
	return referenced, err
}

// --- dimensions ---

func (s *Store) RegisterDimensionType(ctx context.Context, def ledger.DimensionTypeDef) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		types := tx.Bucket([]byte(bucketDimTypes))
		if types.Get([]byte(def.Code)) != nil {
			return errs.ErrConflict
		}
		return putJSON(types, []byte(def.Code), def)
	})
}

func (s *Store) DimensionTypes(ctx context.Context) ([]ledger.DimensionTypeDef, error) {
	out := make([]ledger.DimensionTypeDef, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDimTypes)).ForEach(func(_, v []byte) error {
			var def ledger.DimensionTypeDef
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			out = append(out, def)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateDimensionValue(ctx context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		codes := tx.Bucket([]byte(bucketDimValueCodes))
		key := dimValueCodeKey(v.Type, v.Code)
		if codes.Get(key) != nil {
			return errs.ErrConflict
		}
		if err := putJSON(tx.Bucket([]byte(bucketDimValues)), v.ID[:], v); err != nil {
			return err
		}
		return codes.Put(key, v.ID[:])
	})
	if err != nil {
		return ledger.DimensionValue{}, err
	}
	return v, nil
}

func (s *Store) UpdateDimensionValue(ctx context.Context, v ledger.DimensionValue) (ledger.DimensionValue, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		values := tx.Bucket([]byte(bucketDimValues))
		var prev ledger.DimensionValue
		ok, err := getJSON(values, v.ID[:], &prev)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		codes := tx.Bucket([]byte(bucketDimValueCodes))
		if prev.Type != v.Type || prev.Code != v.Code {
			key := dimValueCodeKey(v.Type, v.Code)
			if codes.Get(key) != nil {
				return errs.ErrConflict
			}
			if err := codes.Delete(dimValueCodeKey(prev.Type, prev.Code)); err != nil {
				return err
			}
			if err := codes.Put(key, v.ID[:]); err != nil {
				return err
			}
		}
		return putJSON(values, v.ID[:], v)
	})
	if err != nil {
		return ledger.DimensionValue{}, err
	}
	return v, nil
}

func (s *Store) DimensionValueByID(ctx context.Context, id uuid.UUID) (ledger.DimensionValue, error) {
	var v ledger.DimensionValue
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket([]byte(bucketDimValues)), id[:], &v)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
		return nil
	})
	return v, err
}

func (s *Store) DimensionValueByCode(ctx context.Context, t ledger.DimensionType, valueCode string) (ledger.DimensionValue, error) {
	var v ledger.DimensionValue
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(bucketDimValueCodes)).Get(dimValueCodeKey(t, valueCode))
		if id == nil {
			return errs.ErrNotFound
		}
		_, err := getJSON(tx.Bucket([]byte(bucketDimValues)), id, &v)
		return err
	})
	return v, err
}

func (s *Store) ListDimensionValues(ctx context.Context, t ledger.DimensionType) ([]ledger.DimensionValue, error) {
	out := make([]ledger.DimensionValue, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDimValues)).ForEach(func(_, data []byte) error {
			var v ledger.DimensionValue
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			if v.Type == t {
				out = append(out, v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) DimensionValuesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.DimensionValue, error) {
	out := make(map[uuid.UUID]ledger.DimensionValue, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		values := tx.Bucket([]byte(bucketDimValues))
		for _, id := range ids {
			var v ledger.DimensionValue
			ok, err := getJSON(values, id[:], &v)
			if err != nil {
				return err
			}
			if ok {
				out[id] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
