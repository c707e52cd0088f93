package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGRepository persists ledgers in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*txRepository)(nil)
)

type txRepository struct {
	tx pgx.Tx
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const ledgerColumns = `id, invoice_number, consignment_id, customer_name, total_amount, paid_amount, balance_amount, status, version, created_by, created_at, updated_at`

const transactionColumns = `id, ledger_id, transaction_date, amount, payment_mode, upi_id, bank_name, account_number, ifsc, reference, remarks, receipt_ref, created_by, created_at`

const amendmentColumns = `id, ledger_id, invoice_id, consignment_id, amendment_type, amount, reason, status, requested_by, decided_by, decided_at, created_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepository) GetLedger(ctx context.Context, id int64) (Record, error) {
	return getLedger(ctx, r.pool, id, false)
}

func (r *PGRepository) ListLedgers(ctx context.Context, req ListLedgersRequest) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if req.Status != "" {
		args = append(args, string(req.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if req.ConsignmentID > 0 {
		args = append(args, req.ConsignmentID)
		where = append(where, fmt.Sprintf("consignment_id = $%d", len(args)))
	}
	query := `SELECT ` + ledgerColumns + ` FROM ledgers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if req.Limit > 0 {
		args = append(args, req.Limit, req.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PGRepository) ListLedgerIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM ledgers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepository) ListTransactions(ctx context.Context, ledgerID int64) ([]Transaction, error) {
	return listTransactions(ctx, r.pool, ledgerID)
}

func (r *PGRepository) GetAmendment(ctx context.Context, id int64) (Amendment, error) {
	return getAmendment(ctx, r.pool, id, false)
}

func (r *PGRepository) ListAmendments(ctx context.Context, req ListAmendmentsRequest) ([]Amendment, error) {
	var (
		where []string
		args  []any
	)
	if req.LedgerID > 0 {
		args = append(args, req.LedgerID)
		where = append(where, fmt.Sprintf("ledger_id = $%d", len(args)))
	}
	if req.Status != "" {
		args = append(args, string(req.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + amendmentColumns + ` FROM ledger_amendments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if req.Limit > 0 {
		args = append(args, req.Limit, req.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Amendment{}
	for rows.Next() {
		a, err := scanAmendment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertLedger(ctx context.Context, rec Record) (Record, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledgers (invoice_number, consignment_id, customer_name, total_amount, paid_amount, balance_amount, status, version, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8,$9,$10) RETURNING `+ledgerColumns,
		rec.InvoiceNumber, nullInt(rec.ConsignmentID), rec.CustomerName,
		toNumeric(rec.TotalAmount), toNumeric(rec.PaidAmount), toNumeric(rec.BalanceAmount),
		string(rec.Status), nullInt(rec.CreatedBy), rec.CreatedAt, rec.UpdatedAt)
	stored, err := scanLedger(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrDuplicateInvoice
		}
		return Record{}, err
	}
	return stored, nil
}

func (r *txRepository) GetLedger(ctx context.Context, id int64) (Record, error) {
	return getLedger(ctx, r.tx, id, false)
}

func (r *txRepository) GetLedgerForUpdate(ctx context.Context, id int64) (Record, error) {
	return getLedger(ctx, r.tx, id, true)
}

func (r *txRepository) FindLedgerByConsignment(ctx context.Context, consignmentID int64) (Record, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE consignment_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, consignmentID)
	rec, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrLedgerNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (r *txRepository) UpdateLedgerAmounts(ctx context.Context, rec Record) (Record, error) {
	row := r.tx.QueryRow(ctx, `UPDATE ledgers SET total_amount=$2, paid_amount=$3, balance_amount=$4, status=$5, version=version+1, updated_at=$6
WHERE id=$1 RETURNING `+ledgerColumns,
		rec.ID, toNumeric(rec.TotalAmount), toNumeric(rec.PaidAmount), toNumeric(rec.BalanceAmount), string(rec.Status), rec.UpdatedAt)
	stored, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrLedgerNotFound
		}
		return Record{}, err
	}
	return stored, nil
}

func (r *txRepository) DeleteLedger(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM ledgers WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLedgerNotFound
	}
	return nil
}

func (r *txRepository) ListTransactions(ctx context.Context, ledgerID int64) ([]Transaction, error) {
	return listTransactions(ctx, r.tx, ledgerID)
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_transactions (ledger_id, transaction_date, amount, payment_mode, upi_id, bank_name, account_number, ifsc, reference, remarks, receipt_ref, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING `+transactionColumns,
		txn.LedgerID, txn.TransactionDate, toNumeric(txn.Amount), string(txn.PaymentMode),
		txn.UPIID, txn.BankName, txn.AccountNumber, txn.IFSC, txn.Reference, txn.Remarks, txn.ReceiptRef,
		nullInt(txn.CreatedBy), txn.CreatedAt)
	return scanTransaction(row)
}

func (r *txRepository) DeleteTransaction(ctx context.Context, ledgerID, txnID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM ledger_transactions WHERE id=$1 AND ledger_id=$2`, txnID, ledgerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) InsertAmendment(ctx context.Context, a Amendment) (Amendment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_amendments (ledger_id, invoice_id, consignment_id, amendment_type, amount, reason, status, requested_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+amendmentColumns,
		a.LedgerID, nullInt(a.InvoiceID), nullInt(a.ConsignmentID), string(a.Type), toNumeric(a.Amount),
		a.Reason, string(a.Status), nullInt(a.RequestedBy), a.CreatedAt)
	return scanAmendment(row)
}

func (r *txRepository) GetAmendmentForUpdate(ctx context.Context, id int64) (Amendment, error) {
	return getAmendment(ctx, r.tx, id, true)
}

func (r *txRepository) UpdateAmendmentDecision(ctx context.Context, a Amendment) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_amendments SET status=$2, decided_by=$3, decided_at=$4 WHERE id=$1 AND status='PENDING'`,
		a.ID, string(a.Status), a.DecidedBy, a.DecidedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAmendmentAlreadyDecided
	}
	return nil
}

func getLedger(ctx context.Context, q queryer, id int64, forUpdate bool) (Record, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanLedger(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrLedgerNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func getAmendment(ctx context.Context, q queryer, id int64, forUpdate bool) (Amendment, error) {
	query := `SELECT ` + amendmentColumns + ` FROM ledger_amendments WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAmendment(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Amendment{}, ErrAmendmentNotFound
		}
		return Amendment{}, err
	}
	return a, nil
}

func listTransactions(ctx context.Context, q queryer, ledgerID int64) ([]Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE ledger_id=$1 ORDER BY transaction_date ASC, id ASC`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	txns := []Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanLedger(row pgx.Row) (Record, error) {
	var (
		rec                  Record
		consignment, creator pgtype.Int8
		total, paid, balance pgtype.Numeric
		status               string
	)
	if err := row.Scan(&rec.ID, &rec.InvoiceNumber, &consignment, &rec.CustomerName, &total, &paid, &balance,
		&status, &rec.Version, &creator, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.ConsignmentID = consignment.Int64
	rec.CreatedBy = creator.Int64
	rec.TotalAmount = fromNumeric(total)
	rec.PaidAmount = fromNumeric(paid)
	rec.BalanceAmount = fromNumeric(balance)
	rec.Status = Status(status)
	return rec, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		txn     Transaction
		amount  pgtype.Numeric
		mode    string
		creator pgtype.Int8
	)
	if err := row.Scan(&txn.ID, &txn.LedgerID, &txn.TransactionDate, &amount, &mode, &txn.UPIID, &txn.BankName,
		&txn.AccountNumber, &txn.IFSC, &txn.Reference, &txn.Remarks, &txn.ReceiptRef, &creator, &txn.CreatedAt); err != nil {
		return Transaction{}, err
	}
	txn.Amount = fromNumeric(amount)
	txn.PaymentMode = PaymentMode(mode)
	txn.CreatedBy = creator.Int64
	return txn, nil
}

func scanAmendment(row pgx.Row) (Amendment, error) {
	var (
		a                               Amendment
		invoice, consignment, requester pgtype.Int8
		decidedBy                       pgtype.Int8
		decidedAt                       pgtype.Timestamptz
		amount                          pgtype.Numeric
		kind, status                    string
	)
	if err := row.Scan(&a.ID, &a.LedgerID, &invoice, &consignment, &kind, &amount, &a.Reason, &status,
		&requester, &decidedBy, &decidedAt, &a.CreatedAt); err != nil {
		return Amendment{}, err
	}
	a.InvoiceID = invoice.Int64
	a.ConsignmentID = consignment.Int64
	a.RequestedBy = requester.Int64
	a.Type = AmendmentType(kind)
	a.Status = ApprovalStatus(status)
	a.Amount = fromNumeric(amount)
	if decidedBy.Valid {
		v := decidedBy.Int64
		a.DecidedBy = &v
	}
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		a.DecidedAt = &t
	}
	return a, nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
