package ledger

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	minReasonLength = 10
	maxReasonLength = 500

	// moneyScale matches NUMERIC(18,2).
	moneyScale = 2
)

// recomputeDerived resums PaidAmount from txns and rebuilds BalanceAmount and
// Status. It never reads the cached PaidAmount on rec.
func recomputeDerived(rec Record, txns []Transaction) Record {
	paid := decimal.Zero
	for _, txn := range txns {
		if txn.LedgerID != rec.ID {
			continue
		}
		paid = paid.Add(txn.Amount)
	}
	rec.PaidAmount = paid
	rec.BalanceAmount = rec.TotalAmount.Sub(paid)
	rec.Status = deriveStatus(rec.TotalAmount, paid)
	return rec
}

func deriveStatus(total, paid decimal.Decimal) Status {
	switch {
	case paid.Sign() <= 0:
		return StatusPending
	case paid.GreaterThanOrEqual(total):
		return StatusCompleted
	default:
		return StatusPartial
	}
}

// sameDerived reports whether two records agree on every derived field.
func sameDerived(a, b Record) bool {
	return a.PaidAmount.Equal(b.PaidAmount) &&
		a.BalanceAmount.Equal(b.BalanceAmount) &&
		a.Status == b.Status
}

// checkAmount accepts strictly positive amounts representable in cents.
func checkAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrAmountNotPositive
	}
	if !amount.Equal(amount.Truncate(moneyScale)) {
		return ErrAmountPrecision
	}
	return nil
}

func validateTransaction(in TransactionInput) error {
	if err := checkAmount(in.Amount); err != nil {
		return err
	}
	if !in.PaymentMode.Valid() {
		return ErrInvalidPaymentMode
	}
	if in.PaymentMode == ModeUPI && blank(in.UPIID) {
		return ErrMissingUPIID
	}
	if in.PaymentMode.requiresBank() && blank(in.BankName) {
		return ErrMissingBankDetails
	}
	if in.PaymentMode.requiresAccount() && (blank(in.AccountNumber) || blank(in.IFSC)) {
		return ErrMissingBankDetails
	}
	return nil
}

// checkTotal validates a proposed total against the collected amount.
func checkTotal(rec Record, newTotal decimal.Decimal) error {
	if err := checkAmount(newTotal); err != nil {
		return err
	}
	if newTotal.LessThan(rec.PaidAmount) {
		return &TotalError{LedgerID: rec.ID, Paid: rec.PaidAmount, Requested: newTotal}
	}
	return nil
}

// signedDelta applies the amendment sign convention: charges raise the
// total, discounts and corrections lower it.
func signedDelta(t AmendmentType, amount decimal.Decimal) decimal.Decimal {
	if t == AmendmentAdditionalCharge {
		return amount
	}
	return amount.Neg()
}

func validateAmendment(in AmendmentInput) error {
	if in.InvoiceID <= 0 && in.ConsignmentID <= 0 {
		return ErrAmendmentTargetRequired
	}
	if !in.Type.Valid() {
		return ErrInvalidAmendmentType
	}
	if err := checkAmount(in.Amount); err != nil {
		return err
	}
	n := utf8.RuneCountInString(strings.TrimSpace(in.Reason))
	if n < minReasonLength || n > maxReasonLength {
		return ErrInvalidReason
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
