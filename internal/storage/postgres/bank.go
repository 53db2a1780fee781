package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/minerva-erp/glcore/internal/errs"
	"github.com/minerva-erp/glcore/internal/ledger"
)

const txnCols = `id, bank_account_id, date, amount_minor, currency, description, reference, status, dedupe_key`

// InsertBankTransactions stores statement lines, skipping rows whose dedupe
// key is already present. Returns the number actually inserted.
func (s *Store) InsertBankTransactions(ctx context.Context, txns []ledger.BankTransaction) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, t := range txns {
		ct, err := tx.Exec(ctx, `
			insert into bank_transactions (`+txnCols+`)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			on conflict (dedupe_key) do nothing
		`, t.ID, t.BankAccountID, t.Date, t.AmountMinor, t.Currency, t.Description, t.Reference, t.Status, t.DedupeKey)
		if err != nil {
			return 0, mapErr(err)
		}
		inserted += int(ct.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, mapErr(err)
	}
	return inserted, nil
}

func (s *Store) BankTransactions(ctx context.Context, bankAccountID uuid.UUID, from, to time.Time) ([]ledger.BankTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		select `+txnCols+` from bank_transactions
		where bank_account_id = $1 and date >= $2 and date <= $3
		order by date, id
	`, bankAccountID, from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.BankTransaction, 0)
	for rows.Next() {
		var t ledger.BankTransaction
		if err := rows.Scan(&t.ID, &t.BankAccountID, &t.Date, &t.AmountMinor, &t.Currency, &t.Description, &t.Reference, &t.Status, &t.DedupeKey); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CandidateLineFacts returns reportable facts on the GL account inside the
// window that no auto or confirmed reconciliation item has consumed.
func (s *Store) CandidateLineFacts(ctx context.Context, glAccountID uuid.UUID, from, to time.Time) ([]ledger.LineFact, error) {
	rows, err := s.pool.Query(ctx, `
		select `+lineFactCols+`
		from journal_lines l
		join journal_entries e on e.id = l.entry_id
		where e.status = 'posted' and e.reversal_of is null
		  and l.account_id = $1
		  and e.date >= $2 and e.date <= $3
		  and not exists (
		    select 1 from reconciliation_items ri
		    where ri.line_id = l.id and ri.status in ('auto','confirmed')
		  )
		order by e.date, e.id, l.position
	`, glAccountID, from, to)
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

const reconCols = `id, bank_account_id, period_start, period_end, statement_date, opening_minor, closing_minor, created_at`

func scanRecon(row pgx.Row) (ledger.BankReconciliation, error) {
	var r ledger.BankReconciliation
	err := row.Scan(&r.ID, &r.BankAccountID, &r.PeriodStart, &r.PeriodEnd, &r.StatementDate, &r.OpeningMinor, &r.ClosingMinor, &r.CreatedAt)
	return r, err
}

func (s *Store) ReconciliationByPeriod(ctx context.Context, bankAccountID uuid.UUID, from, to time.Time) (ledger.BankReconciliation, bool, error) {
	rec, err := scanRecon(s.pool.QueryRow(ctx, `
		select `+reconCols+` from bank_reconciliations
		where bank_account_id = $1 and period_start = $2 and period_end = $3
	`, bankAccountID, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.BankReconciliation{}, false, nil
	}
	if err != nil {
		return ledger.BankReconciliation{}, false, mapErr(err)
	}
	if err := s.loadItems(ctx, &rec); err != nil {
		return ledger.BankReconciliation{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ReconciliationByID(ctx context.Context, id uuid.UUID) (ledger.BankReconciliation, error) {
	rec, err := scanRecon(s.pool.QueryRow(ctx, `
		select `+reconCols+` from bank_reconciliations where id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.BankReconciliation{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.BankReconciliation{}, mapErr(err)
	}
	if err := s.loadItems(ctx, &rec); err != nil {
		return ledger.BankReconciliation{}, err
	}
	return rec, nil
}

func (s *Store) ListReconciliations(ctx context.Context, bankAccountID uuid.UUID) ([]ledger.BankReconciliation, error) {
	rows, err := s.pool.Query(ctx, `
		select `+reconCols+` from bank_reconciliations
		where bank_account_id = $1
		order by period_start, created_at
	`, bankAccountID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]ledger.BankReconciliation, 0)
	for rows.Next() {
		rec, err := scanRecon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadItems(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

const itemCols = `id, reconciliation_id, transaction_id, line_id, confidence, status, dimension_mismatch, candidate_line_ids`

func (s *Store) loadItems(ctx context.Context, rec *ledger.BankReconciliation) error {
	rows, err := s.pool.Query(ctx, `
		select `+itemCols+` from reconciliation_items
		where reconciliation_id = $1
		order by id
	`, rec.ID)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var it ledger.ReconciliationItem
		if err := rows.Scan(&it.ID, &it.ReconciliationID, &it.TransactionID, &it.LineID, &it.Confidence, &it.Status, &it.DimensionMismatch, &it.CandidateLineIDs); err != nil {
			return err
		}
		rec.Items = append(rec.Items, it)
	}
	return rows.Err()
}

// SaveReconciliation upserts the run header, replaces its items and flips
// transaction statuses in one transaction. The partial unique index on
// consumed line ids rejects a save that would double-consume a line.
func (s *Store) SaveReconciliation(ctx context.Context, rec ledger.BankReconciliation, txnStatus map[uuid.UUID]ledger.TxnStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		insert into bank_reconciliations (`+reconCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (id) do update
		set statement_date=excluded.statement_date,
		    opening_minor=excluded.opening_minor,
		    closing_minor=excluded.closing_minor,
		    created_at=excluded.created_at
	`, rec.ID, rec.BankAccountID, rec.PeriodStart, rec.PeriodEnd, rec.StatementDate, rec.OpeningMinor, rec.ClosingMinor, rec.CreatedAt); err != nil {
		return mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
		delete from reconciliation_items where reconciliation_id = $1
	`, rec.ID); err != nil {
		return mapErr(err)
	}
	for _, it := range rec.Items {
		if _, err := tx.Exec(ctx, `
			insert into reconciliation_items (`+itemCols+`)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, it.ID, it.ReconciliationID, it.TransactionID, it.LineID, it.Confidence, it.Status, it.DimensionMismatch, it.CandidateLineIDs); err != nil {
			return mapErr(err)
		}
	}
	for txnID, status := range txnStatus {
		if _, err := tx.Exec(ctx, `
			update bank_transactions set status = $1 where id = $2
		`, status, txnID); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit(ctx))
}

// UpdateReconciliationItem persists a confirm or reject decision. Confirming
// a line consumed elsewhere trips the partial unique index.
func (s *Store) UpdateReconciliationItem(ctx context.Context, item ledger.ReconciliationItem, txnStatus ledger.TxnStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		update reconciliation_items
		set line_id=$1, confidence=$2, status=$3, dimension_mismatch=$4, candidate_line_ids=$5
		where id=$6 and reconciliation_id=$7
	`, item.LineID, item.Confidence, item.Status, item.DimensionMismatch, item.CandidateLineIDs, item.ID, item.ReconciliationID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `
		update bank_transactions set status = $1 where id = $2
	`, txnStatus, item.TransactionID); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}
