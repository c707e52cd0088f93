package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

type memoryLedgerRepo struct {
	mu              sync.Mutex
	ledgers         map[int64]Record
	txns            map[int64]Transaction
	amendments      map[int64]Amendment
	nextLedgerID    int64
	nextTxnID       int64
	nextAmendmentID int64
	failUpdate      error
}

// memoryLedgerTx locks the repo per call, not per transaction, so racing
// transactions interleave unless the engine serialises them. Writes are
// journaled and undone on rollback; ids are not reused, as with sequences.
type memoryLedgerTx struct {
	repo *memoryLedgerRepo
	undo []func()
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		ledgers:    make(map[int64]Record),
		txns:       make(map[int64]Transaction),
		amendments: make(map[int64]Amendment),
	}
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryLedgerTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) GetLedger(ctx context.Context, id int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.ledgers[id]
	if !ok {
		return Record{}, ErrLedgerNotFound
	}
	return rec, nil
}

func (r *memoryLedgerRepo) ListLedgers(ctx context.Context, req ListLedgersRequest) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Record{}
	for _, rec := range r.ledgers {
		if req.Status != "" && rec.Status != req.Status {
			continue
		}
		if req.ConsignmentID > 0 && rec.ConsignmentID != req.ConsignmentID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if req.Offset >= len(out) {
		return []Record{}, nil
	}
	out = out[req.Offset:]
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (r *memoryLedgerRepo) ListLedgerIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.ledgers))
	for id := range r.ledgers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryLedgerRepo) ListTransactions(ctx context.Context, ledgerID int64) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactionsOf(ledgerID), nil
}

func (r *memoryLedgerRepo) GetAmendment(ctx context.Context, id int64) (Amendment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.amendments[id]
	if !ok {
		return Amendment{}, ErrAmendmentNotFound
	}
	return a, nil
}

func (r *memoryLedgerRepo) ListAmendments(ctx context.Context, req ListAmendmentsRequest) ([]Amendment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Amendment{}
	for _, a := range r.amendments {
		if req.LedgerID > 0 && a.LedgerID != req.LedgerID {
			continue
		}
		if req.Status != "" && a.Status != req.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryLedgerRepo) transactionsOf(ledgerID int64) []Transaction {
	out := []Transaction{}
	for _, txn := range r.txns {
		if txn.LedgerID == ledgerID {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out
}

func (t *memoryLedgerTx) lock() func() {
	t.repo.mu.Lock()
	return t.repo.mu.Unlock
}

func (t *memoryLedgerTx) journal(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memoryLedgerTx) InsertLedger(ctx context.Context, rec Record) (Record, error) {
	defer t.lock()()
	for _, existing := range t.repo.ledgers {
		if existing.InvoiceNumber == rec.InvoiceNumber {
			return Record{}, ErrDuplicateInvoice
		}
	}
	t.repo.nextLedgerID++
	rec.ID = t.repo.nextLedgerID
	rec.Version = 1
	t.repo.ledgers[rec.ID] = rec
	t.journal(func() { delete(t.repo.ledgers, rec.ID) })
	return rec, nil
}

func (t *memoryLedgerTx) GetLedger(ctx context.Context, id int64) (Record, error) {
	defer t.lock()()
	rec, ok := t.repo.ledgers[id]
	if !ok {
		return Record{}, ErrLedgerNotFound
	}
	return rec, nil
}

// GetLedgerForUpdate takes no row lock; the engine's ledger lock is the only
// thing serialising writers here.
func (t *memoryLedgerTx) GetLedgerForUpdate(ctx context.Context, id int64) (Record, error) {
	return t.GetLedger(ctx, id)
}

func (t *memoryLedgerTx) FindLedgerByConsignment(ctx context.Context, consignmentID int64) (Record, error) {
	defer t.lock()()
	var found Record
	for _, rec := range t.repo.ledgers {
		if rec.ConsignmentID == consignmentID && rec.ID > found.ID {
			found = rec
		}
	}
	if found.ID == 0 {
		return Record{}, ErrLedgerNotFound
	}
	return found, nil
}

func (t *memoryLedgerTx) UpdateLedgerAmounts(ctx context.Context, rec Record) (Record, error) {
	defer t.lock()()
	if t.repo.failUpdate != nil {
		return Record{}, t.repo.failUpdate
	}
	prev, ok := t.repo.ledgers[rec.ID]
	if !ok {
		return Record{}, ErrLedgerNotFound
	}
	current := prev
	current.TotalAmount = rec.TotalAmount
	current.PaidAmount = rec.PaidAmount
	current.BalanceAmount = rec.BalanceAmount
	current.Status = rec.Status
	current.UpdatedAt = rec.UpdatedAt
	current.Version++
	t.repo.ledgers[rec.ID] = current
	t.journal(func() { t.repo.ledgers[prev.ID] = prev })
	return current, nil
}

func (t *memoryLedgerTx) DeleteLedger(ctx context.Context, id int64) error {
	defer t.lock()()
	rec, ok := t.repo.ledgers[id]
	if !ok {
		return ErrLedgerNotFound
	}
	delete(t.repo.ledgers, id)
	var removed []Amendment
	for aid, a := range t.repo.amendments {
		if a.LedgerID == id {
			removed = append(removed, a)
			delete(t.repo.amendments, aid)
		}
	}
	t.journal(func() {
		t.repo.ledgers[rec.ID] = rec
		for _, a := range removed {
			t.repo.amendments[a.ID] = a
		}
	})
	return nil
}

func (t *memoryLedgerTx) ListTransactions(ctx context.Context, ledgerID int64) ([]Transaction, error) {
	t.repo.mu.Lock()
	txns := t.repo.transactionsOf(ledgerID)
	t.repo.mu.Unlock()
	// Widen the read-then-write window for concurrent callers.
	runtime.Gosched()
	return txns, nil
}

func (t *memoryLedgerTx) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	defer t.lock()()
	t.repo.nextTxnID++
	txn.ID = t.repo.nextTxnID
	t.repo.txns[txn.ID] = txn
	t.journal(func() { delete(t.repo.txns, txn.ID) })
	return txn, nil
}

func (t *memoryLedgerTx) DeleteTransaction(ctx context.Context, ledgerID, txnID int64) error {
	defer t.lock()()
	txn, ok := t.repo.txns[txnID]
	if !ok || txn.LedgerID != ledgerID {
		return ErrTransactionNotFound
	}
	delete(t.repo.txns, txnID)
	t.journal(func() { t.repo.txns[txn.ID] = txn })
	return nil
}

func (t *memoryLedgerTx) InsertAmendment(ctx context.Context, a Amendment) (Amendment, error) {
	defer t.lock()()
	t.repo.nextAmendmentID++
	a.ID = t.repo.nextAmendmentID
	t.repo.amendments[a.ID] = a
	t.journal(func() { delete(t.repo.amendments, a.ID) })
	return a, nil
}

func (t *memoryLedgerTx) GetAmendmentForUpdate(ctx context.Context, id int64) (Amendment, error) {
	defer t.lock()()
	a, ok := t.repo.amendments[id]
	if !ok {
		return Amendment{}, ErrAmendmentNotFound
	}
	return a, nil
}

func (t *memoryLedgerTx) UpdateAmendmentDecision(ctx context.Context, a Amendment) error {
	defer t.lock()()
	prev, ok := t.repo.amendments[a.ID]
	if !ok {
		return ErrAmendmentNotFound
	}
	if prev.Status != ApprovalPending {
		return ErrAmendmentAlreadyDecided
	}
	t.repo.amendments[a.ID] = a
	t.journal(func() { t.repo.amendments[prev.ID] = prev })
	return nil
}

type allowAll struct{}

func (allowAll) Authorize(string, string) bool { return true }

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveLedgerMutation(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+outcome)
}

var (
	testClock = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	cashier   = shared.Actor{UserID: 7, Email: "cashier@example.com", Role: "manager"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *memoryLedgerRepo) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	eng := NewEngine(repo, allowAll{}, NewMutexLocker(), discardLogger()).
		WithNow(func() time.Time { return testClock })
	return eng, repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openLedger(t *testing.T, eng *Engine, invoice, total string) Record {
	t.Helper()
	rec, err := eng.CreateLedger(context.Background(), cashier, CreateLedgerInput{
		InvoiceNumber: invoice,
		ConsignmentID: 501,
		CustomerName:  "Sharma Freight",
		TotalAmount:   dec(total),
	})
	require.NoError(t, err)
	return rec
}

func cash(amount string) TransactionInput {
	return TransactionInput{Amount: dec(amount), PaymentMode: ModeCash}
}

func requireSnapshot(t *testing.T, snap Snapshot, total, paid, balance string, status Status) {
	t.Helper()
	require.True(t, dec(total).Equal(snap.TotalAmount), "total %s", snap.TotalAmount)
	require.True(t, dec(paid).Equal(snap.PaidAmount), "paid %s", snap.PaidAmount)
	require.True(t, dec(balance).Equal(snap.BalanceAmount), "balance %s", snap.BalanceAmount)
	require.Equal(t, status, snap.Status)
}

// requireInvariants checks stored state against the transaction set.
func requireInvariants(t *testing.T, repo *memoryLedgerRepo) {
	t.Helper()
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for id, rec := range repo.ledgers {
		sum := decimal.Zero
		for _, txn := range repo.transactionsOf(id) {
			sum = sum.Add(txn.Amount)
		}
		require.True(t, sum.Equal(rec.PaidAmount), "ledger %d paid %s sum %s", id, rec.PaidAmount, sum)
		require.True(t, rec.TotalAmount.Sub(rec.PaidAmount).Equal(rec.BalanceAmount), "ledger %d balance", id)
		require.True(t, rec.BalanceAmount.Sign() >= 0, "ledger %d negative balance", id)
		require.Equal(t, deriveStatus(rec.TotalAmount, rec.PaidAmount), rec.Status)
	}
}

func TestCreateLedgerStartsPending(t *testing.T) {
	eng, repo := newTestEngine(t)
	rec := openLedger(t, eng, "INV-1001", "1000")
	requireSnapshot(t, rec.Snapshot(), "1000", "0", "1000", StatusPending)
	require.Equal(t, int64(7), rec.CreatedBy)
	requireInvariants(t, repo)
}

func TestCreateLedgerRejectsBadInput(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateLedger(ctx, cashier, CreateLedgerInput{InvoiceNumber: "  ", TotalAmount: dec("10")})
	require.ErrorIs(t, err, ErrInvoiceNumberRequired)

	_, err = eng.CreateLedger(ctx, cashier, CreateLedgerInput{InvoiceNumber: "INV-1", TotalAmount: dec("0")})
	require.ErrorIs(t, err, ErrAmountNotPositive)

	openLedger(t, eng, "INV-2", "10")
	_, err = eng.CreateLedger(ctx, cashier, CreateLedgerInput{InvoiceNumber: "INV-2", TotalAmount: dec("10")})
	require.ErrorIs(t, err, ErrDuplicateInvoice)
}

func TestSubCentAmountsRejected(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateLedger(ctx, cashier, CreateLedgerInput{InvoiceNumber: "INV-CENT-0", TotalAmount: dec("0.001")})
	require.ErrorIs(t, err, ErrAmountPrecision)

	rec := openLedger(t, eng, "INV-CENT", "1000")
	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, cash("0.004"))
	require.ErrorIs(t, err, ErrAmountPrecision)

	_, err = eng.SetTotalAmount(ctx, cashier, rec.ID, dec("999.999"))
	require.ErrorIs(t, err, ErrAmountPrecision)

	_, err = eng.CreateAmendment(ctx, cashier, AmendmentInput{InvoiceID: rec.ID, Type: AmendmentDiscount, Amount: dec("2.505"), Reason: "rounding adjustment request"})
	require.ErrorIs(t, err, ErrAmountPrecision)

	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, cash("0.40"))
	require.NoError(t, err)
	stored, err := eng.GetLedger(ctx, cashier, rec.ID)
	require.NoError(t, err)
	requireSnapshot(t, stored.Snapshot(), "1000", "0.4", "999.6", StatusPartial)
	require.Len(t, repo.ledgers, 1)
	require.Empty(t, repo.amendments)
}

func TestAddTransactionPartialPayment(t *testing.T) {
	eng, repo := newTestEngine(t)
	rec := openLedger(t, eng, "INV-A", "1000")

	txn, snap, err := eng.AddTransaction(context.Background(), cashier, rec.ID, cash("400"))
	require.NoError(t, err)
	requireSnapshot(t, snap, "1000", "400", "600", StatusPartial)
	require.Equal(t, testClock, txn.TransactionDate)
	require.Equal(t, rec.ID, txn.LedgerID)
	requireInvariants(t, repo)
}

func TestAddTransactionExceedingBalanceLeavesStateUnchanged(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-B", "1000")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("400"))
	require.NoError(t, err)

	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, cash("700"))
	require.ErrorIs(t, err, ErrAmountExceedsBalance)
	var balErr *BalanceError
	require.True(t, errors.As(err, &balErr))
	require.True(t, dec("600").Equal(balErr.Available))
	require.True(t, dec("700").Equal(balErr.Requested))

	stored, err := eng.GetLedger(ctx, cashier, rec.ID)
	require.NoError(t, err)
	requireSnapshot(t, stored.Snapshot(), "1000", "400", "600", StatusPartial)
	require.Len(t, repo.transactionsOf(rec.ID), 1)
}

func TestAddTransactionSettlesLedger(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-C", "1000")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("400"))
	require.NoError(t, err)

	_, snap, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("600"))
	require.NoError(t, err)
	requireSnapshot(t, snap, "1000", "1000", "0", StatusCompleted)

	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, cash("0.01"))
	require.ErrorIs(t, err, ErrAmountExceedsBalance)
	requireInvariants(t, repo)
}

func TestAddTransactionPaymentModeRules(t *testing.T) {
	cases := []struct {
		name  string
		input TransactionInput
		want  error
	}{
		{name: "zero amount", input: TransactionInput{Amount: dec("0"), PaymentMode: ModeCash}, want: ErrAmountNotPositive},
		{name: "negative amount", input: TransactionInput{Amount: dec("-5"), PaymentMode: ModeCash}, want: ErrAmountNotPositive},
		{name: "unknown mode", input: TransactionInput{Amount: dec("5"), PaymentMode: "BARTER"}, want: ErrInvalidPaymentMode},
		{name: "upi without id", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeUPI, UPIID: "  "}, want: ErrMissingUPIID},
		{name: "upi with id", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeUPI, UPIID: "shipper@okbank"}},
		{name: "neft without ifsc", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeNEFT, BankName: "SBI", AccountNumber: "001122"}, want: ErrMissingBankDetails},
		{name: "rtgs without bank", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeRTGS, AccountNumber: "001122", IFSC: "SBIN0001234"}, want: ErrMissingBankDetails},
		{name: "imps complete", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeIMPS, BankName: "SBI", AccountNumber: "001122", IFSC: "SBIN0001234"}},
		{name: "cheque without bank", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeCheque, Reference: "CHQ-9"}, want: ErrMissingBankDetails},
		{name: "demand draft with bank", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeDemandDraft, BankName: "HDFC"}},
		{name: "cash", input: TransactionInput{Amount: dec("5"), PaymentMode: ModeCash}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, repo := newTestEngine(t)
			rec := openLedger(t, eng, "INV-MODE", "100")
			_, _, err := eng.AddTransaction(context.Background(), cashier, rec.ID, tc.input)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				require.Empty(t, repo.transactionsOf(rec.ID))
				return
			}
			require.NoError(t, err)
			require.Len(t, repo.transactionsOf(rec.ID), 1)
		})
	}
}

func TestAddTransactionUnknownLedger(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, _, err := eng.AddTransaction(context.Background(), cashier, 404, cash("1"))
	require.ErrorIs(t, err, ErrLedgerNotFound)
}

func TestRemoveTransactionResumsLedger(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-F", "1000")
	txn, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("400"))
	require.NoError(t, err)

	snap, err := eng.RemoveTransaction(ctx, cashier, rec.ID, txn.ID)
	require.NoError(t, err)
	requireSnapshot(t, snap, "1000", "0", "1000", StatusPending)
	requireInvariants(t, repo)

	_, err = eng.RemoveTransaction(ctx, cashier, rec.ID, txn.ID)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRemoveTransactionFromOtherLedger(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	first := openLedger(t, eng, "INV-X1", "100")
	second := openLedger(t, eng, "INV-X2", "100")
	txn, _, err := eng.AddTransaction(ctx, cashier, first.ID, cash("40"))
	require.NoError(t, err)

	_, err = eng.RemoveTransaction(ctx, cashier, second.ID, txn.ID)
	require.ErrorIs(t, err, ErrTransactionNotFound)
	require.Len(t, repo.transactionsOf(first.ID), 1)
}

func TestSetTotalAmount(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-D", "1000")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("400"))
	require.NoError(t, err)

	_, err = eng.SetTotalAmount(ctx, cashier, rec.ID, dec("300"))
	require.ErrorIs(t, err, ErrTotalBelowPaid)
	var totalErr *TotalError
	require.True(t, errors.As(err, &totalErr))
	require.True(t, dec("400").Equal(totalErr.Paid))

	_, err = eng.SetTotalAmount(ctx, cashier, rec.ID, dec("0"))
	require.ErrorIs(t, err, ErrAmountNotPositive)

	stored, err := eng.GetLedger(ctx, cashier, rec.ID)
	require.NoError(t, err)
	requireSnapshot(t, stored.Snapshot(), "1000", "400", "600", StatusPartial)

	snap, err := eng.SetTotalAmount(ctx, cashier, rec.ID, dec("400"))
	require.NoError(t, err)
	requireSnapshot(t, snap, "400", "400", "0", StatusCompleted)

	snap, err = eng.SetTotalAmount(ctx, cashier, rec.ID, dec("1250.50"))
	require.NoError(t, err)
	requireSnapshot(t, snap, "1250.50", "400", "850.50", StatusPartial)
	requireInvariants(t, repo)
}

func TestMutationsBumpVersion(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-V", "100")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("10"))
	require.NoError(t, err)
	_, err = eng.SetTotalAmount(ctx, cashier, rec.ID, dec("90"))
	require.NoError(t, err)
	require.Equal(t, int64(3), repo.ledgers[rec.ID].Version)
}

func TestPermissionDeniedIsNotBusinessError(t *testing.T) {
	ctrl := gomock.NewController(t)
	gate := NewMockAuthorizer(ctrl)
	repo := newMemoryLedgerRepo()
	repo.ledgers[1] = recomputeDerived(Record{ID: 1, InvoiceNumber: "INV-P", TotalAmount: dec("100")}, nil)
	eng := NewEngine(repo, gate, nil, discardLogger())
	viewer := shared.Actor{UserID: 9, Role: "viewer"}

	gate.EXPECT().Authorize("viewer", shared.PermPaymentCreate).Return(false)
	_, _, err := eng.AddTransaction(context.Background(), viewer, 1, cash("10"))
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.False(t, IsBusinessRule(err))
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	require.Equal(t, shared.PermPaymentCreate, denied.Permission)
	require.Empty(t, repo.txns)

	gate.EXPECT().Authorize("viewer", shared.PermPaymentEdit).Return(false)
	_, err = eng.SetTotalAmount(context.Background(), viewer, 1, dec("50"))
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.True(t, dec("100").Equal(repo.ledgers[1].TotalAmount))

	gate.EXPECT().Authorize("viewer", shared.PermPaymentView).Return(true)
	_, err = eng.GetLedger(context.Background(), viewer, 1)
	require.NoError(t, err)
}

func TestPermissionCheckedBeforeValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	gate := NewMockAuthorizer(ctrl)
	eng := NewEngine(newMemoryLedgerRepo(), gate, nil, discardLogger())

	gate.EXPECT().Authorize("viewer", shared.PermPaymentCreate).Return(false)
	_, _, err := eng.AddTransaction(context.Background(), shared.Actor{Role: "viewer"}, 1, cash("-1"))
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestConcurrentAddsNeverExceedBalance(t *testing.T) {
	eng, repo := newTestEngine(t)
	rec := openLedger(t, eng, "INV-RACE", "1000")

	const workers = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := eng.AddTransaction(context.Background(), cashier, rec.ID, cash("200"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrAmountExceedsBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, accepted)
	require.Equal(t, workers-5, rejected)
	stored, err := eng.GetLedger(context.Background(), cashier, rec.ID)
	require.NoError(t, err)
	requireSnapshot(t, stored.Snapshot(), "1000", "1000", "0", StatusCompleted)
	requireInvariants(t, repo)
}

func TestInvariantsHoldAcrossMixedMutations(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-MIX", "500")

	first, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("120.25"))
	require.NoError(t, err)
	requireInvariants(t, repo)
	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, TransactionInput{Amount: dec("79.75"), PaymentMode: ModeUPI, UPIID: "depot@upi"})
	require.NoError(t, err)
	requireInvariants(t, repo)
	_, err = eng.SetTotalAmount(ctx, cashier, rec.ID, dec("200"))
	require.NoError(t, err)
	requireInvariants(t, repo)
	_, err = eng.RemoveTransaction(ctx, cashier, rec.ID, first.ID)
	require.NoError(t, err)
	requireInvariants(t, repo)
	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, cash("500"))
	require.ErrorIs(t, err, ErrAmountExceedsBalance)
	requireInvariants(t, repo)

	stored, err := eng.GetLedger(ctx, cashier, rec.ID)
	require.NoError(t, err)
	requireSnapshot(t, stored.Snapshot(), "200", "79.75", "120.25", StatusPartial)
}

func TestFailedWriteRollsBackTransaction(t *testing.T) {
	eng, repo := newTestEngine(t)
	rec := openLedger(t, eng, "INV-RB", "100")
	repo.failUpdate = errors.New("disk full")

	_, _, err := eng.AddTransaction(context.Background(), cashier, rec.ID, cash("10"))
	require.Error(t, err)
	require.Empty(t, repo.transactionsOf(rec.ID))
	require.True(t, repo.ledgers[rec.ID].PaidAmount.IsZero())
}

func TestDeleteLedger(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-DEL", "100")
	txn, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("10"))
	require.NoError(t, err)

	err = eng.DeleteLedger(ctx, cashier, rec.ID)
	require.ErrorIs(t, err, ErrLedgerHasTransactions)

	_, err = eng.RemoveTransaction(ctx, cashier, rec.ID, txn.ID)
	require.NoError(t, err)
	require.NoError(t, eng.DeleteLedger(ctx, cashier, rec.ID))
	require.Empty(t, repo.ledgers)

	err = eng.DeleteLedger(ctx, cashier, rec.ID)
	require.ErrorIs(t, err, ErrLedgerNotFound)
}

func TestReconcileRepairsDrift(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-DRIFT", "1000")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("250"))
	require.NoError(t, err)

	tampered := repo.ledgers[rec.ID]
	tampered.PaidAmount = dec("900")
	tampered.BalanceAmount = dec("100")
	tampered.Status = StatusPartial
	repo.ledgers[rec.ID] = tampered

	result, err := eng.Reconcile(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, result.Drifted)
	require.True(t, dec("900").Equal(result.Before.PaidAmount))
	requireSnapshot(t, result.After, "1000", "250", "750", StatusPartial)
	requireInvariants(t, repo)

	again, err := eng.Reconcile(ctx, rec.ID)
	require.NoError(t, err)
	require.False(t, again.Drifted)
}

func TestReconcileRefusesNegativeBalance(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-NEG", "100")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("80"))
	require.NoError(t, err)

	broken := repo.ledgers[rec.ID]
	broken.TotalAmount = dec("50")
	repo.ledgers[rec.ID] = broken

	_, err = eng.Reconcile(ctx, rec.ID)
	require.ErrorIs(t, err, ErrInconsistentLedger)
	require.True(t, dec("80").Equal(repo.ledgers[rec.ID].PaidAmount))
}

func TestStatementAndListing(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	first := openLedger(t, eng, "INV-S1", "100")
	openLedger(t, eng, "INV-S2", "300")
	_, _, err := eng.AddTransaction(ctx, cashier, first.ID, cash("30"))
	require.NoError(t, err)
	_, err = eng.CreateAmendment(ctx, cashier, AmendmentInput{InvoiceID: first.ID, Type: AmendmentDiscount, Amount: dec("5"), Reason: "loyalty discount for route"})
	require.NoError(t, err)

	st, err := eng.GetStatement(ctx, cashier, first.ID)
	require.NoError(t, err)
	require.Len(t, st.Transactions, 1)
	require.Len(t, st.Amendments, 1)
	require.Equal(t, StatusPartial, st.Record.Status)

	partial, err := eng.ListLedgers(ctx, cashier, ListLedgersRequest{Status: StatusPartial})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	require.Equal(t, first.ID, partial[0].ID)

	all, err := eng.ListLedgers(ctx, cashier, ListLedgersRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMutationOutcomesObserved(t *testing.T) {
	eng, _ := newTestEngine(t)
	obs := &recordingObserver{}
	eng.WithMetrics(obs)
	ctx := context.Background()
	rec := openLedger(t, eng, "INV-M", "100")
	_, _, err := eng.AddTransaction(ctx, cashier, rec.ID, cash("150"))
	require.Error(t, err)
	_, _, err = eng.AddTransaction(ctx, cashier, rec.ID, cash("50"))
	require.NoError(t, err)

	require.Equal(t, []string{
		"create_ledger:ok",
		"add_transaction:amount_exceeds_balance",
		"add_transaction:ok",
	}, obs.calls)
}
