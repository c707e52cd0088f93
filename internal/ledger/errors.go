package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmountNotPositive indicates a supplied amount is zero or negative.
	ErrAmountNotPositive = errors.New("ledger: amount must be positive")
	// ErrAmountPrecision indicates more decimal places than the money columns hold.
	ErrAmountPrecision = errors.New("ledger: amount has more than 2 decimal places")
	// ErrAmountExceedsBalance indicates a payment larger than the outstanding balance.
	ErrAmountExceedsBalance = errors.New("ledger: amount exceeds balance")
	// ErrTotalBelowPaid indicates a total below what was already collected.
	ErrTotalBelowPaid = errors.New("ledger: total below paid amount")
	// ErrMissingUPIID indicates a UPI payment without a UPI id.
	ErrMissingUPIID = errors.New("ledger: upi id required")
	// ErrMissingBankDetails indicates a bank-style payment without bank details.
	ErrMissingBankDetails = errors.New("ledger: bank details required")
	// ErrInvalidPaymentMode indicates an unknown payment mode.
	ErrInvalidPaymentMode = errors.New("ledger: invalid payment mode")
	// ErrLedgerNotFound indicates the record does not exist.
	ErrLedgerNotFound = errors.New("ledger: record not found")
	// ErrTransactionNotFound indicates the transaction does not exist on the record.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrAmendmentNotFound indicates the amendment does not exist.
	ErrAmendmentNotFound = errors.New("ledger: amendment not found")
	// ErrAmendmentAlreadyDecided indicates the amendment left PENDING already.
	ErrAmendmentAlreadyDecided = errors.New("ledger: amendment already decided")
	// ErrAmendmentTargetRequired indicates neither invoice nor consignment was given.
	ErrAmendmentTargetRequired = errors.New("ledger: amendment target required")
	// ErrAmendmentTargetMismatch indicates invoice and consignment point at different records.
	ErrAmendmentTargetMismatch = errors.New("ledger: amendment target mismatch")
	// ErrInvalidAmendmentType indicates an unknown amendment type.
	ErrInvalidAmendmentType = errors.New("ledger: invalid amendment type")
	// ErrInvalidReason indicates a reason outside the accepted length.
	ErrInvalidReason = errors.New("ledger: reason must be between 10 and 500 characters")
	// ErrInvalidDecision indicates a decision other than APPROVED or REJECTED.
	ErrInvalidDecision = errors.New("ledger: invalid decision")
	// ErrLedgerHasTransactions blocks deleting a record that still has payments.
	ErrLedgerHasTransactions = errors.New("ledger: record has transactions")
	// ErrDuplicateInvoice indicates the invoice number is already booked.
	ErrDuplicateInvoice = errors.New("ledger: invoice number already exists")
	// ErrInvoiceNumberRequired indicates a blank invoice number.
	ErrInvoiceNumberRequired = errors.New("ledger: invoice number required")
	// ErrInconsistentLedger indicates stored transactions exceed the total.
	ErrInconsistentLedger = errors.New("ledger: transactions exceed total")
	// ErrPermissionDenied indicates the acting role lacks the permission.
	ErrPermissionDenied = errors.New("ledger: permission denied")
)

// BalanceError details a payment rejected for exceeding the balance.
type BalanceError struct {
	LedgerID  int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("ledger %d: amount %s exceeds balance %s", e.LedgerID, e.Requested.String(), e.Available.String())
}

func (e *BalanceError) Unwrap() error {
	return ErrAmountExceedsBalance
}

// TotalError details a total rejected for falling below the paid amount.
type TotalError struct {
	LedgerID  int64
	Paid      decimal.Decimal
	Requested decimal.Decimal
}

func (e *TotalError) Error() string {
	return fmt.Sprintf("ledger %d: total %s below paid %s", e.LedgerID, e.Requested.String(), e.Paid.String())
}

func (e *TotalError) Unwrap() error {
	return ErrTotalBelowPaid
}

// DeniedError names the permission that was missing.
type DeniedError struct {
	Role       string
	Permission string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("ledger: role %q lacks %q", e.Role, e.Permission)
}

func (e *DeniedError) Unwrap() error {
	return ErrPermissionDenied
}

// IsBusinessRule reports errors caused by the requested change rather than
// by infrastructure or authorization.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrAmountNotPositive) ||
		errors.Is(err, ErrAmountPrecision) ||
		errors.Is(err, ErrAmountExceedsBalance) ||
		errors.Is(err, ErrTotalBelowPaid) ||
		errors.Is(err, ErrMissingUPIID) ||
		errors.Is(err, ErrMissingBankDetails) ||
		errors.Is(err, ErrInvalidPaymentMode) ||
		errors.Is(err, ErrAmendmentAlreadyDecided) ||
		errors.Is(err, ErrAmendmentTargetRequired) ||
		errors.Is(err, ErrAmendmentTargetMismatch) ||
		errors.Is(err, ErrInvalidAmendmentType) ||
		errors.Is(err, ErrInvalidReason) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrLedgerHasTransactions) ||
		errors.Is(err, ErrDuplicateInvoice) ||
		errors.Is(err, ErrInvoiceNumberRequired)
}

// IsNotFound reports missing-entity errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLedgerNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrAmendmentNotFound)
}

// errorKind returns a short label used in logs and metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrAmountNotPositive):
		return "amount_not_positive"
	case errors.Is(err, ErrAmountPrecision):
		return "amount_precision"
	case errors.Is(err, ErrAmountExceedsBalance):
		return "amount_exceeds_balance"
	case errors.Is(err, ErrTotalBelowPaid):
		return "total_below_paid"
	case errors.Is(err, ErrMissingUPIID):
		return "missing_upi_id"
	case errors.Is(err, ErrMissingBankDetails):
		return "missing_bank_details"
	case errors.Is(err, ErrAmendmentAlreadyDecided):
		return "amendment_already_decided"
	case errors.Is(err, ErrInconsistentLedger):
		return "inconsistent"
	case IsNotFound(err):
		return "not_found"
	case IsBusinessRule(err):
		return "rejected"
	default:
		return "error"
	}
}
