package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
	"github.com/minerva-erp/glcore/internal/service/posting"
)

const entryCols = `id, number, date, currency, memo, source, status, reversal_of, reversed_by, metadata`

// nextNumberLocked bumps the single entry_sequence row inside tx. The row
// update serializes concurrent commits, so two transactions never hold the
// same number and an aborted transaction rolls its number back.
func nextNumberLocked(ctx context.Context, tx pgx.Tx) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `
		update entry_sequence set last_number = last_number + 1 where id returning last_number
	`).Scan(&n)
	return n, err
}

// CreateJournalEntry commits the entry in one transaction: idempotency
// replay check, sequence assignment, header, lines, tags, balance buckets
// and the idempotency record.
func (s *Store) CreateJournalEntry(ctx context.Context, entry ledger.JournalEntry, idemKey, payloadHash string) (ledger.JournalEntry, bool, error) {
	if idemKey != "" {
		stored, ok, err := s.entryByIdemKey(ctx, idemKey, payloadHash)
		if err != nil {
			return ledger.JournalEntry{}, false, err
		}
		if ok {
			return stored, false, nil
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.JournalEntry{}, false, mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry.Number, err = nextNumberLocked(ctx, tx)
	if err != nil {
		return ledger.JournalEntry{}, false, mapErr(err)
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return ledger.JournalEntry{}, false, mapErr(err)
	}
	if entry.Reportable() {
		if err := applyBalances(ctx, tx, entry, +1); err != nil {
			return ledger.JournalEntry{}, false, mapErr(err)
		}
	}
	if idemKey != "" {
		ct, err := tx.Exec(ctx, `
			insert into entry_idempotency (key, entry_id, payload_hash)
			values ($1,$2,$3)
			on conflict (key) do nothing
		`, idemKey, entry.ID, payloadHash)
		if err != nil {
			return ledger.JournalEntry{}, false, mapErr(err)
		}
		if ct.RowsAffected() == 0 {
			// another commit claimed the key first; drop ours and replay
			_ = tx.Rollback(ctx)
			stored, ok, err := s.entryByIdemKey(ctx, idemKey, payloadHash)
			if err != nil {
				return ledger.JournalEntry{}, false, err
			}
			if !ok {
				return ledger.JournalEntry{}, false, errs.ErrConflict
			}
			return stored, false, nil
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.JournalEntry{}, false, mapErr(err)
	}
	return entry, true, nil
}

func (s *Store) entryByIdemKey(ctx context.Context, key, payloadHash string) (ledger.JournalEntry, bool, error) {
	var id uuid.UUID
	var hash string
	err := s.pool.QueryRow(ctx, `
		select entry_id, payload_hash from entry_idempotency where key = $1
	`, key).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.JournalEntry{}, false, nil
	}
	if err != nil {
		return ledger.JournalEntry{}, false, mapErr(err)
	}
	if hash != payloadHash {
		return ledger.JournalEntry{}, false, errs.ErrDuplicate
	}
	e, err := s.EntryByID(ctx, id)
	if err != nil {
		return ledger.JournalEntry{}, false, err
	}
	return e, true, nil
}

// ReverseJournalEntry inserts the reversal, flips the original's status and
// removes the original's balance contribution in one transaction.
func (s *Store) ReverseJournalEntry(ctx context.Context, originalID uuid.UUID, reversal ledger.JournalEntry) (ledger.JournalEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	var origDate time.Time
	err = tx.QueryRow(ctx, `
		select status, date from journal_entries where id = $1 for update
	`, originalID).Scan(&status, &origDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.JournalEntry{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	if ledger.EntryStatus(status) != ledger.StatusPosted {
		return ledger.JournalEntry{}, errs.ErrConflict
	}

	reversal.Number, err = nextNumberLocked(ctx, tx)
	if err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	if err := insertEntry(ctx, tx, reversal); err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
		update journal_entries set status=$1, reversed_by=$2 where id=$3
	`, ledger.StatusReversed, reversal.ID, originalID); err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}

	// subtract the original's lines from the buckets it landed in
	origDay := origDate.UTC().Truncate(24 * time.Hour)
	rows, err := tx.Query(ctx, `
		select account_id, side, amount_minor from journal_lines where entry_id = $1
	`, originalID)
	if err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	type lineDelta struct {
		account uuid.UUID
		side    string
		minor   int64
	}
	deltas := make([]lineDelta, 0, 2)
	for rows.Next() {
		var d lineDelta
		if err := rows.Scan(&d.account, &d.side, &d.minor); err != nil {
			rows.Close()
			return ledger.JournalEntry{}, err
		}
		deltas = append(deltas, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.JournalEntry{}, err
	}
	for _, d := range deltas {
		debit, credit := int64(0), int64(0)
		if ledger.Side(d.side) == ledger.SideDebit {
			debit = -d.minor
		} else {
			credit = -d.minor
		}
		if err := upsertBalance(ctx, tx, d.account, origDay, debit, credit); err != nil {
			return ledger.JournalEntry{}, mapErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	return reversal, nil
}

// VoidEntryNumber records a gap. Voiding last_number+1 burns the next
// sequence number.
func (s *Store) VoidEntryNumber(ctx context.Context, number int64, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var last int64
	if err := tx.QueryRow(ctx, `
		select last_number from entry_sequence where id for update
	`).Scan(&last); err != nil {
		return mapErr(err)
	}
	if number > last+1 {
		return errs.ErrInvalid
	}
	var taken bool
	if err := tx.QueryRow(ctx, `
		select exists (select 1 from journal_entries where number = $1)
	`, number).Scan(&taken); err != nil {
		return mapErr(err)
	}
	if taken {
		return errs.ErrConflict
	}
	if number == last+1 {
		if _, err := tx.Exec(ctx, `update entry_sequence set last_number = $1 where id`, number); err != nil {
			return mapErr(err)
		}
	}
	if _, err := tx.Exec(ctx, `
		insert into entry_number_voids (number, reason, voided_at) values ($1,$2,now())
	`, number, reason); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func insertEntry(ctx context.Context, tx pgx.Tx, e ledger.JournalEntry) error {
	md, _ := e.Metadata.MarshalStableJSON()
	if _, err := tx.Exec(ctx, `
		insert into journal_entries (`+entryCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.Number, e.Date, e.Currency, e.Memo, e.Source, e.Status, e.ReversalOf, e.ReversedBy, md); err != nil {
		return err
	}
	for i, ln := range e.Lines {
		minor, _ := ln.Amount.MinorUnits()
		lnMD, _ := ln.Metadata.MarshalStableJSON()
		if _, err := tx.Exec(ctx, `
			insert into journal_lines (id, entry_id, account_id, position, side, amount_minor, memo, metadata)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, ln.ID, e.ID, ln.AccountID, i, ln.Side, minor, ln.Memo, lnMD); err != nil {
			return err
		}
		for _, t := range ln.Tags.Types() {
			if _, err := tx.Exec(ctx, `
				insert into journal_line_dims (line_id, dim_type, value_id) values ($1,$2,$3)
			`, ln.ID, t, ln.Tags[t]); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyBalances(ctx context.Context, tx pgx.Tx, e ledger.JournalEntry, sign int64) error {
	d := e.Date.UTC().Truncate(24 * time.Hour)
	for _, ln := range e.Lines {
		minor, ok := ln.Amount.MinorUnits()
		if !ok {
			continue
		}
		debit, credit := int64(0), int64(0)
		if ln.Side == ledger.SideDebit {
			debit = sign * minor
		} else {
			credit = sign * minor
		}
		if err := upsertBalance(ctx, tx, ln.AccountID, d, debit, credit); err != nil {
			return err
		}
	}
	return nil
}

func upsertBalance(ctx context.Context, tx pgx.Tx, account uuid.UUID, day time.Time, debit, credit int64) error {
	_, err := tx.Exec(ctx, `
		insert into account_balance_days (account_id, day, debit_minor, credit_minor)
		values ($1,$2,$3,$4)
		on conflict (account_id, day) do update
		set debit_minor = account_balance_days.debit_minor + excluded.debit_minor,
		    credit_minor = account_balance_days.credit_minor + excluded.credit_minor
	`, account, day, debit, credit)
	return err
}

// --- entry reads ---

func (s *Store) EntryByID(ctx context.Context, id uuid.UUID) (ledger.JournalEntry, error) {
	var e ledger.JournalEntry
	var mdBytes []byte
	err := s.pool.QueryRow(ctx, `
		select `+entryCols+` from journal_entries where id = $1
	`, id).Scan(&e.ID, &e.Number, &e.Date, &e.Currency, &e.Memo, &e.Source, &e.Status, &e.ReversalOf, &e.ReversedBy, &mdBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.JournalEntry{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.JournalEntry{}, mapErr(err)
	}
	e.Metadata = scanMetadata(mdBytes)
	entries := []ledger.JournalEntry{e}
	if err := s.loadLines(ctx, entries); err != nil {
		return ledger.JournalEntry{}, err
	}
	return entries[0], nil
}

// ListEntries pages in (date, id) keyset order; the next cursor is empty on
// the last page.
func (s *Store) ListEntries(ctx context.Context, q posting.EntryQuery) ([]ledger.JournalEntry, string, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var curDate *time.Time
	var curID *uuid.UUID
	if q.Cursor != "" {
		cd, cid, err := posting.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, "", err
		}
		curDate, curID = &cd, &cid
	}
	var from, to *time.Time
	if !q.From.IsZero() {
		from = &q.From
	}
	if !q.To.IsZero() {
		to = &q.To
	}

	rows, err := s.pool.Query(ctx, `
		select `+entryCols+` from journal_entries
		where ($1::timestamptz is null or (date, id) > ($1, $2::uuid))
		  and ($3::text = '' or source = $3)
		  and ($4::timestamptz is null or date >= $4)
		  and ($5::timestamptz is null or date <= $5)
		order by date asc, id asc
		limit $6
	`, curDate, curID, string(q.Source), from, to, q.Limit+1)
	if err != nil {
		return nil, "", mapErr(err)
	}
	defer rows.Close()

	entries := make([]ledger.JournalEntry, 0, q.Limit)
	for rows.Next() {
		var e ledger.JournalEntry
		var mdBytes []byte
		if err := rows.Scan(&e.ID, &e.Number, &e.Date, &e.Currency, &e.Memo, &e.Source, &e.Status, &e.ReversalOf, &e.ReversedBy, &mdBytes); err != nil {
			return nil, "", err
		}
		e.Metadata = scanMetadata(mdBytes)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) > q.Limit {
		entries = entries[:q.Limit]
		last := entries[len(entries)-1]
		next = posting.EncodeCursor(last.Date, last.ID)
	}
	if err := s.loadLines(ctx, entries); err != nil {
		return nil, "", err
	}
	return entries, next, nil
}

// loadLines fills Lines and Tags for the given entries in two grouped reads.
func (s *Store) loadLines(ctx context.Context, entries []ledger.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(entries))
	idx := make(map[uuid.UUID]*ledger.JournalEntry, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
		idx[entries[i].ID] = &entries[i]
	}

	rows, err := s.pool.Query(ctx, `
		select id, entry_id, account_id, side, amount_minor, memo, metadata
		from journal_lines
		where entry_id = any($1)
		order by entry_id, position
	`, ids)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	// Tags attach by (entry, position): appending to e.Lines can move its
	// backing array, so a pointer into it would go stale.
	type lineRef struct {
		entry *ledger.JournalEntry
		pos   int
	}
	lineIDs := make([]uuid.UUID, 0)
	lineRefs := make(map[uuid.UUID]lineRef)
	for rows.Next() {
		var id, entryID, accountID uuid.UUID
		var side string
		var minor int64
		var memo string
		var mdBytes []byte
		if err := rows.Scan(&id, &entryID, &accountID, &side, &minor, &memo, &mdBytes); err != nil {
			return err
		}
		e := idx[entryID]
		if e == nil {
			continue
		}
		amt, _ := money.NewAmountFromMinorUnits(e.Currency, minor)
		e.Lines = append(e.Lines, ledger.JournalLine{
			ID: id, EntryID: entryID, AccountID: accountID,
			Side: ledger.Side(side), Amount: amt, Memo: memo,
			Metadata: scanMetadata(mdBytes),
		})
		lineIDs = append(lineIDs, id)
		lineRefs[id] = lineRef{entry: e, pos: len(e.Lines) - 1}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(lineIDs) == 0 {
		return nil
	}

	dimRows, err := s.pool.Query(ctx, `
		select line_id, dim_type, value_id from journal_line_dims where line_id = any($1)
	`, lineIDs)
	if err != nil {
		return mapErr(err)
	}
	defer dimRows.Close()
	for dimRows.Next() {
		var lineID, valueID uuid.UUID
		var dimType string
		if err := dimRows.Scan(&lineID, &dimType, &valueID); err != nil {
			return err
		}
		ref, ok := lineRefs[lineID]
		if !ok {
			continue
		}
		ln := &ref.entry.Lines[ref.pos]
		if ln.Tags == nil {
			ln.Tags = ledger.Tags{}
		}
		ln.Tags[ledger.DimensionType(dimType)] = valueID
	}
	return dimRows.Err()
}

// --- aggregation reads ---

const lineFactCols = `l.id, e.id, e.number, l.account_id, e.date, l.side, l.amount_minor, e.currency, e.source, e.memo, l.memo`

// LineFacts joins reportable lines with their headers in one grouped read,
// then resolves tags in a second.
func (s *Store) LineFacts(ctx context.Context, scope ledger.FactScope) ([]ledger.LineFact, error) {
	var from, to *time.Time
	if !scope.From.IsZero() {
		from = &scope.From
	}
	if !scope.To.IsZero() {
		to = &scope.To
	}
	var accounts []uuid.UUID
	if len(scope.AccountIDs) > 0 {
		accounts = scope.AccountIDs
	}
	rows, err := s.pool.Query(ctx, `
		select `+lineFactCols+`
		from journal_lines l
		join journal_entries e on e.id = l.entry_id
		where e.status = 'posted' and e.reversal_of is null
		  and ($1::timestamptz is null or e.date >= $1)
		  and ($2::timestamptz is null or e.date <= $2)
		  and ($3::text = '' or e.source = $3)
		  and ($4::uuid[] is null or l.account_id = any($4))
		order by e.date, e.id, l.position
	`, from, to, string(scope.Source), accounts)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := scanLineFacts(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanLineFacts(rows pgx.Rows) ([]ledger.LineFact, error) {
	defer rows.Close()
	out := make([]ledger.LineFact, 0)
	for rows.Next() {
		var f ledger.LineFact
		if err := rows.Scan(&f.LineID, &f.EntryID, &f.EntryNumber, &f.AccountID, &f.Date, &f.Side, &f.AmountMinor, &f.Currency, &f.Source, &f.EntryMemo, &f.LineMemo); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) attachTags(ctx context.Context, facts []ledger.LineFact) error {
	if len(facts) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(facts))
	byLine := make(map[uuid.UUID]int, len(facts))
	for i, f := range facts {
		ids[i] = f.LineID
		byLine[f.LineID] = i
	}
	rows, err := s.pool.Query(ctx, `
		select line_id, dim_type, value_id from journal_line_dims where line_id = any($1)
	`, ids)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var lineID, valueID uuid.UUID
		var dimType string
		if err := rows.Scan(&lineID, &dimType, &valueID); err != nil {
			return err
		}
		i, ok := byLine[lineID]
		if !ok {
			continue
		}
		if facts[i].Tags == nil {
			facts[i].Tags = ledger.Tags{}
		}
		facts[i].Tags[ledger.DimensionType(dimType)] = valueID
	}
	return rows.Err()
}

func (s *Store) BalanceFacts(ctx context.Context, asOf time.Time, accountIDs []uuid.UUID) ([]ledger.BalanceFact, error) {
	var cutoff *time.Time
	if !asOf.IsZero() {
		d := asOf.UTC().Truncate(24 * time.Hour)
		cutoff = &d
	}
	var accounts []uuid.UUID
	if len(accountIDs) > 0 {
		accounts = accountIDs
	}
	rows, err := s.pool.Query(ctx, `
		select account_id, sum(debit_minor), sum(credit_minor)
		from account_balance_days
		where ($1::date is null or day <= $1)
		  and ($2::uuid[] is null or account_id = any($2))
		group by account_id
		having sum(debit_minor) <> 0 or sum(credit_minor) <> 0
		order by account_id
	`, cutoff, accounts)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.BalanceFact, 0)
	for rows.Next() {
		var bf ledger.BalanceFact
		if err := rows.Scan(&bf.AccountID, &bf.DebitMinor, &bf.CreditMinor); err != nil {
			return nil, err
		}
		out = append(out, bf)
	}
	return out, rows.Err()
}

func (s *Store) LastEntryNumber(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `select last_number from entry_sequence where id`).Scan(&n)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (s *Store) MissingEntryNumbers(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		select g.n
		from generate_series(1, (select last_number from entry_sequence where id)) g(n)
		left join journal_entries e on e.number = g.n
		where e.id is null
		order by g.n
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) NumberVoids(ctx context.Context) ([]ledger.NumberVoid, error) {
	rows, err := s.pool.Query(ctx, `
		select number, reason, voided_at from entry_number_voids order by number
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.NumberVoid, 0)
	for rows.Next() {
		var v ledger.NumberVoid
		if err := rows.Scan(&v.Number, &v.Reason, &v.VoidedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
