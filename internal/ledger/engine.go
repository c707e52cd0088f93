package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

//go:generate mockgen -destination=authorizer_mock.go -package=ledger . Authorizer

// Authorizer answers whether a role holds a permission.
type Authorizer interface {
	Authorize(role, permission string) bool
}

// Locker serialises mutations of a single ledger. The returned func releases
// the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// MutationObserver receives the outcome of every engine mutation.
type MutationObserver interface {
	ObserveLedgerMutation(op, outcome string)
}

// Repository defines ledger data access outside of a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLedger(ctx context.Context, id int64) (Record, error)
	ListLedgers(ctx context.Context, req ListLedgersRequest) ([]Record, error)
	ListLedgerIDs(ctx context.Context) ([]int64, error)
	ListTransactions(ctx context.Context, ledgerID int64) ([]Transaction, error)
	GetAmendment(ctx context.Context, id int64) (Amendment, error)
	ListAmendments(ctx context.Context, req ListAmendmentsRequest) ([]Amendment, error)
}

// TxRepository exposes the operations used inside one atomic mutation.
type TxRepository interface {
	InsertLedger(ctx context.Context, rec Record) (Record, error)
	GetLedger(ctx context.Context, id int64) (Record, error)
	GetLedgerForUpdate(ctx context.Context, id int64) (Record, error)
	FindLedgerByConsignment(ctx context.Context, consignmentID int64) (Record, error)
	UpdateLedgerAmounts(ctx context.Context, rec Record) (Record, error)
	DeleteLedger(ctx context.Context, id int64) error
	ListTransactions(ctx context.Context, ledgerID int64) ([]Transaction, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	DeleteTransaction(ctx context.Context, ledgerID, txnID int64) error
	InsertAmendment(ctx context.Context, a Amendment) (Amendment, error)
	GetAmendmentForUpdate(ctx context.Context, id int64) (Amendment, error)
	UpdateAmendmentDecision(ctx context.Context, a Amendment) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Engine enforces the reconciliation rules on every ledger mutation.
type Engine struct {
	repo    Repository
	gate    Authorizer
	locker  Locker
	logger  *slog.Logger
	metrics MutationObserver
	now     func() time.Time
}

// NewEngine wires the reconciliation engine.
func NewEngine(repo Repository, gate Authorizer, locker Locker, logger *slog.Logger) *Engine {
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &Engine{
		repo:   repo,
		gate:   gate,
		locker: locker,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithMetrics attaches a mutation observer.
func (e *Engine) WithMetrics(obs MutationObserver) *Engine {
	e.metrics = obs
	return e
}

// WithNow overrides the clock.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// CreateLedger opens a new record with nothing collected yet.
func (e *Engine) CreateLedger(ctx context.Context, actor shared.Actor, in CreateLedgerInput) (rec Record, err error) {
	defer func() { e.record(ctx, "create_ledger", actor, rec.ID, err) }()
	if err = e.authorize(actor, shared.PermInvoiceCreate); err != nil {
		return Record{}, err
	}
	in.InvoiceNumber = strings.TrimSpace(in.InvoiceNumber)
	if in.InvoiceNumber == "" {
		return Record{}, ErrInvoiceNumberRequired
	}
	if err = checkAmount(in.TotalAmount); err != nil {
		return Record{}, err
	}
	now := e.now()
	draft := Record{
		InvoiceNumber: in.InvoiceNumber,
		ConsignmentID: in.ConsignmentID,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		TotalAmount:   in.TotalAmount,
		CreatedBy:     actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	draft = recomputeDerived(draft, nil)
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.InsertLedger(ctx, draft)
		if err != nil {
			return err
		}
		rec = stored
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetLedger returns one record.
func (e *Engine) GetLedger(ctx context.Context, actor shared.Actor, id int64) (Record, error) {
	if err := e.authorize(actor, shared.PermPaymentView); err != nil {
		return Record{}, err
	}
	return e.repo.GetLedger(ctx, id)
}

// ListLedgers returns records matching the filter.
func (e *Engine) ListLedgers(ctx context.Context, actor shared.Actor, req ListLedgersRequest) ([]Record, error) {
	if err := e.authorize(actor, shared.PermPaymentView); err != nil {
		return nil, err
	}
	req.Limit = clampLimit(req.Limit)
	if req.Offset < 0 {
		req.Offset = 0
	}
	return e.repo.ListLedgers(ctx, req)
}

// GetStatement returns a record with its transactions and amendments.
func (e *Engine) GetStatement(ctx context.Context, actor shared.Actor, id int64) (Statement, error) {
	if err := e.authorize(actor, shared.PermPaymentView); err != nil {
		return Statement{}, err
	}
	rec, err := e.repo.GetLedger(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	txns, err := e.repo.ListTransactions(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	amendments, err := e.repo.ListAmendments(ctx, ListAmendmentsRequest{LedgerID: id})
	if err != nil {
		return Statement{}, err
	}
	return Statement{Record: rec, Transactions: txns, Amendments: amendments}, nil
}

// DeleteLedger removes a record that has no transactions.
func (e *Engine) DeleteLedger(ctx context.Context, actor shared.Actor, id int64) (err error) {
	defer func() { e.record(ctx, "delete_ledger", actor, id, err) }()
	if err = e.authorize(actor, shared.PermInvoiceDelete); err != nil {
		return err
	}
	return e.withLedger(ctx, id, func(ctx context.Context, tx TxRepository, rec Record) error {
		txns, err := tx.ListTransactions(ctx, rec.ID)
		if err != nil {
			return err
		}
		if len(txns) > 0 {
			return ErrLedgerHasTransactions
		}
		return tx.DeleteLedger(ctx, rec.ID)
	})
}

// AddTransaction records a payment and returns it with the updated snapshot.
func (e *Engine) AddTransaction(ctx context.Context, actor shared.Actor, ledgerID int64, in TransactionInput) (txn Transaction, snap Snapshot, err error) {
	defer func() { e.record(ctx, "add_transaction", actor, ledgerID, err) }()
	if err = e.authorize(actor, shared.PermPaymentCreate); err != nil {
		return Transaction{}, Snapshot{}, err
	}
	if err = validateTransaction(in); err != nil {
		return Transaction{}, Snapshot{}, err
	}
	err = e.withLedger(ctx, ledgerID, func(ctx context.Context, tx TxRepository, rec Record) error {
		txns, err := tx.ListTransactions(ctx, rec.ID)
		if err != nil {
			return err
		}
		current := recomputeDerived(rec, txns)
		if in.Amount.GreaterThan(current.BalanceAmount) {
			return &BalanceError{LedgerID: rec.ID, Available: current.BalanceAmount, Requested: in.Amount}
		}
		now := e.now()
		date := in.TransactionDate
		if date.IsZero() {
			date = now
		}
		stored, err := tx.InsertTransaction(ctx, Transaction{
			LedgerID:        rec.ID,
			TransactionDate: date,
			Amount:          in.Amount,
			PaymentMode:     in.PaymentMode,
			UPIID:           strings.TrimSpace(in.UPIID),
			BankName:        strings.TrimSpace(in.BankName),
			AccountNumber:   strings.TrimSpace(in.AccountNumber),
			IFSC:            strings.TrimSpace(in.IFSC),
			Reference:       in.Reference,
			Remarks:         in.Remarks,
			ReceiptRef:      in.ReceiptRef,
			CreatedBy:       actor.UserID,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}
		updated, err := e.persistDerived(ctx, tx, current, append(txns, stored))
		if err != nil {
			return err
		}
		txn = stored
		snap = updated.Snapshot()
		return nil
	})
	if err != nil {
		return Transaction{}, Snapshot{}, err
	}
	return txn, snap, nil
}

// RemoveTransaction deletes a payment and resums the record.
func (e *Engine) RemoveTransaction(ctx context.Context, actor shared.Actor, ledgerID, txnID int64) (snap Snapshot, err error) {
	defer func() { e.record(ctx, "remove_transaction", actor, ledgerID, err) }()
	if err = e.authorize(actor, shared.PermPaymentDelete); err != nil {
		return Snapshot{}, err
	}
	err = e.withLedger(ctx, ledgerID, func(ctx context.Context, tx TxRepository, rec Record) error {
		if err := tx.DeleteTransaction(ctx, rec.ID, txnID); err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, rec.ID)
		if err != nil {
			return err
		}
		updated, err := e.persistDerived(ctx, tx, rec, txns)
		if err != nil {
			return err
		}
		snap = updated.Snapshot()
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// SetTotalAmount replaces the invoice total.
func (e *Engine) SetTotalAmount(ctx context.Context, actor shared.Actor, ledgerID int64, newTotal decimal.Decimal) (snap Snapshot, err error) {
	defer func() { e.record(ctx, "set_total", actor, ledgerID, err) }()
	if err = e.authorize(actor, shared.PermPaymentEdit); err != nil {
		return Snapshot{}, err
	}
	err = e.withLedger(ctx, ledgerID, func(ctx context.Context, tx TxRepository, rec Record) error {
		updated, err := e.setTotal(ctx, tx, rec, newTotal)
		if err != nil {
			return err
		}
		snap = updated.Snapshot()
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ReconcileResult reports what a reconcile pass found.
type ReconcileResult struct {
	LedgerID int64
	Drifted  bool
	Before   Snapshot
	After    Snapshot
}

// Reconcile resums a record from its transactions and repairs cached fields
// that drifted. It is a maintenance operation and is not gated by role.
func (e *Engine) Reconcile(ctx context.Context, ledgerID int64) (ReconcileResult, error) {
	var result ReconcileResult
	err := e.withLedger(ctx, ledgerID, func(ctx context.Context, tx TxRepository, rec Record) error {
		txns, err := tx.ListTransactions(ctx, rec.ID)
		if err != nil {
			return err
		}
		derived := recomputeDerived(rec, txns)
		result = ReconcileResult{LedgerID: rec.ID, Before: rec.Snapshot(), After: derived.Snapshot()}
		if sameDerived(rec, derived) {
			return nil
		}
		result.Drifted = true
		updated, err := e.persistDerived(ctx, tx, rec, txns)
		if err != nil {
			return err
		}
		result.After = updated.Snapshot()
		return nil
	})
	if err != nil {
		e.observe("reconcile", err)
		e.log().Error("ledger reconcile failed", slog.Int64("ledger_id", ledgerID), slog.Any("error", err))
		return ReconcileResult{}, err
	}
	e.observe("reconcile", nil)
	if result.Drifted {
		e.log().Warn("ledger drift repaired",
			slog.Int64("ledger_id", ledgerID),
			slog.String("cached_paid", result.Before.PaidAmount.String()),
			slog.String("paid", result.After.PaidAmount.String()),
			slog.String("status", string(result.After.Status)))
	}
	return result, nil
}

// ListLedgerIDs returns every record id, used by the reconcile sweep.
func (e *Engine) ListLedgerIDs(ctx context.Context) ([]int64, error) {
	return e.repo.ListLedgerIDs(ctx)
}

// CreateAmendment files a PENDING adjustment against the resolved record.
func (e *Engine) CreateAmendment(ctx context.Context, actor shared.Actor, in AmendmentInput) (a Amendment, err error) {
	defer func() { e.record(ctx, "create_amendment", actor, a.LedgerID, err) }()
	if err = e.authorize(actor, shared.PermPaymentAmend); err != nil {
		return Amendment{}, err
	}
	if err = validateAmendment(in); err != nil {
		return Amendment{}, err
	}
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := resolveTarget(ctx, tx, in)
		if err != nil {
			return err
		}
		stored, err := tx.InsertAmendment(ctx, Amendment{
			LedgerID:      rec.ID,
			InvoiceID:     in.InvoiceID,
			ConsignmentID: in.ConsignmentID,
			Type:          in.Type,
			Amount:        in.Amount,
			Reason:        strings.TrimSpace(in.Reason),
			Status:        ApprovalPending,
			RequestedBy:   actor.UserID,
			CreatedAt:     e.now(),
		})
		if err != nil {
			return err
		}
		a = stored
		return nil
	})
	if err != nil {
		return Amendment{}, err
	}
	return a, nil
}

// DecideAmendment approves or rejects a PENDING amendment. Approval applies
// the signed amount to the record total in the same transaction; if the new
// total is refused the amendment stays PENDING.
func (e *Engine) DecideAmendment(ctx context.Context, actor shared.Actor, amendmentID int64, decision ApprovalStatus) (a Amendment, snap Snapshot, err error) {
	var ledgerID int64
	defer func() { e.record(ctx, "decide_amendment", actor, ledgerID, err) }()
	if err = e.authorize(actor, shared.PermPaymentApproveAmendment); err != nil {
		return Amendment{}, Snapshot{}, err
	}
	if decision != ApprovalApproved && decision != ApprovalRejected {
		return Amendment{}, Snapshot{}, ErrInvalidDecision
	}
	// ledger_id is immutable, so reading it before the lock is safe; the
	// status is re-read FOR UPDATE below.
	current, err := e.repo.GetAmendment(ctx, amendmentID)
	if err != nil {
		return Amendment{}, Snapshot{}, err
	}
	ledgerID = current.LedgerID
	err = e.withLedger(ctx, ledgerID, func(ctx context.Context, tx TxRepository, rec Record) error {
		locked, err := tx.GetAmendmentForUpdate(ctx, amendmentID)
		if err != nil {
			return err
		}
		if locked.Status != ApprovalPending {
			return ErrAmendmentAlreadyDecided
		}
		result := rec
		if decision == ApprovalApproved {
			newTotal := rec.TotalAmount.Add(signedDelta(locked.Type, locked.Amount))
			result, err = e.setTotal(ctx, tx, rec, newTotal)
			if err != nil {
				return err
			}
		}
		decidedAt := e.now()
		decidedBy := actor.UserID
		locked.Status = decision
		locked.DecidedAt = &decidedAt
		locked.DecidedBy = &decidedBy
		if err := tx.UpdateAmendmentDecision(ctx, locked); err != nil {
			return err
		}
		a = locked
		snap = result.Snapshot()
		return nil
	})
	if err != nil {
		return Amendment{}, Snapshot{}, err
	}
	return a, snap, nil
}

// GetAmendment returns one amendment.
func (e *Engine) GetAmendment(ctx context.Context, actor shared.Actor, id int64) (Amendment, error) {
	if err := e.authorize(actor, shared.PermPaymentView); err != nil {
		return Amendment{}, err
	}
	return e.repo.GetAmendment(ctx, id)
}

// ListAmendments returns amendments filtered by record and status.
func (e *Engine) ListAmendments(ctx context.Context, actor shared.Actor, req ListAmendmentsRequest) ([]Amendment, error) {
	if err := e.authorize(actor, shared.PermPaymentView); err != nil {
		return nil, err
	}
	req.Limit = clampLimit(req.Limit)
	if req.Offset < 0 {
		req.Offset = 0
	}
	return e.repo.ListAmendments(ctx, req)
}

func (e *Engine) authorize(actor shared.Actor, permission string) error {
	if e.gate == nil || !e.gate.Authorize(actor.Role, permission) {
		return &DeniedError{Role: actor.Role, Permission: permission}
	}
	return nil
}

// withLedger takes the per-ledger lock, opens a transaction and hands fn the
// row read FOR UPDATE.
func (e *Engine) withLedger(ctx context.Context, ledgerID int64, fn func(context.Context, TxRepository, Record) error) error {
	if e == nil || e.repo == nil {
		return errors.New("ledger engine not initialised")
	}
	unlock, err := e.locker.Lock(ctx, shared.LedgerLockKey(ledgerID))
	if err != nil {
		return fmt.Errorf("ledger %d: acquire lock: %w", ledgerID, err)
	}
	defer unlock()
	return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetLedgerForUpdate(ctx, ledgerID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, rec)
	})
}

// setTotal validates newTotal against the resummed paid amount and persists.
func (e *Engine) setTotal(ctx context.Context, tx TxRepository, rec Record, newTotal decimal.Decimal) (Record, error) {
	txns, err := tx.ListTransactions(ctx, rec.ID)
	if err != nil {
		return Record{}, err
	}
	current := recomputeDerived(rec, txns)
	if err := checkTotal(current, newTotal); err != nil {
		return Record{}, err
	}
	current.TotalAmount = newTotal
	return e.persistDerived(ctx, tx, current, txns)
}

func (e *Engine) persistDerived(ctx context.Context, tx TxRepository, rec Record, txns []Transaction) (Record, error) {
	derived := recomputeDerived(rec, txns)
	if derived.BalanceAmount.Sign() < 0 {
		return Record{}, ErrInconsistentLedger
	}
	derived.UpdatedAt = e.now()
	return tx.UpdateLedgerAmounts(ctx, derived)
}

// resolveTarget finds the record an amendment belongs to. The invoice id wins
// when both are given and they must agree.
func resolveTarget(ctx context.Context, tx TxRepository, in AmendmentInput) (Record, error) {
	if in.InvoiceID > 0 {
		rec, err := tx.GetLedger(ctx, in.InvoiceID)
		if err != nil {
			return Record{}, err
		}
		if in.ConsignmentID > 0 && rec.ConsignmentID != in.ConsignmentID {
			return Record{}, ErrAmendmentTargetMismatch
		}
		return rec, nil
	}
	return tx.FindLedgerByConsignment(ctx, in.ConsignmentID)
}

func (e *Engine) record(ctx context.Context, op string, actor shared.Actor, ledgerID int64, err error) {
	e.observe(op, err)
	attrs := []any{
		slog.String("op", op),
		slog.Int64("ledger_id", ledgerID),
		slog.Int64("actor_id", actor.UserID),
		slog.String("role", actor.Role),
	}
	switch {
	case err == nil:
		e.log().InfoContext(ctx, "ledger mutation applied", attrs...)
	case errors.Is(err, ErrPermissionDenied), IsBusinessRule(err), IsNotFound(err):
		e.log().WarnContext(ctx, "ledger mutation rejected", append(attrs, slog.String("kind", errorKind(err)), slog.Any("error", err))...)
	default:
		e.log().ErrorContext(ctx, "ledger mutation failed", append(attrs, slog.Any("error", err))...)
	}
}

func (e *Engine) observe(op string, err error) {
	if e.metrics != nil {
		e.metrics.ObserveLedgerMutation(op, errorKind(err))
	}
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
