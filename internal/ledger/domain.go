package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates ledger settlement states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusCompleted Status = "COMPLETED"
)

// PaymentMode enumerates accepted payment instruments.
type PaymentMode string

const (
	ModeCash         PaymentMode = "CASH"
	ModeUPI          PaymentMode = "UPI"
	ModeNEFT         PaymentMode = "NEFT"
	ModeRTGS         PaymentMode = "RTGS"
	ModeIMPS         PaymentMode = "IMPS"
	ModeBankTransfer PaymentMode = "BANK_TRANSFER"
	ModeCheque       PaymentMode = "CHEQUE"
	ModeDemandDraft  PaymentMode = "DEMAND_DRAFT"
)

// PaymentModes lists every supported mode in display order.
func PaymentModes() []PaymentMode {
	return []PaymentMode{ModeCash, ModeUPI, ModeNEFT, ModeRTGS, ModeIMPS, ModeBankTransfer, ModeCheque, ModeDemandDraft}
}

// Valid reports whether the mode is known.
func (m PaymentMode) Valid() bool {
	for _, known := range PaymentModes() {
		if m == known {
			return true
		}
	}
	return false
}

// requiresAccount reports modes that move money between bank accounts.
func (m PaymentMode) requiresAccount() bool {
	switch m {
	case ModeNEFT, ModeRTGS, ModeIMPS, ModeBankTransfer:
		return true
	}
	return false
}

// requiresBank reports modes that need at least the issuing bank.
func (m PaymentMode) requiresBank() bool {
	return m.requiresAccount() || m == ModeCheque || m == ModeDemandDraft
}

// AmendmentType enumerates adjustment kinds.
type AmendmentType string

const (
	AmendmentAdditionalCharge AmendmentType = "ADDITIONAL_CHARGE"
	AmendmentDiscount         AmendmentType = "DISCOUNT"
	AmendmentCorrection       AmendmentType = "CORRECTION"
)

// Valid reports whether the amendment type is known.
func (t AmendmentType) Valid() bool {
	switch t {
	case AmendmentAdditionalCharge, AmendmentDiscount, AmendmentCorrection:
		return true
	}
	return false
}

// ApprovalStatus tracks the amendment state machine.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Record is the invoice/payment aggregate. PaidAmount, BalanceAmount and Status
// are derived and only written by the Engine.
type Record struct {
	ID            int64
	InvoiceNumber string
	ConsignmentID int64
	CustomerName  string
	TotalAmount   decimal.Decimal
	PaidAmount    decimal.Decimal
	BalanceAmount decimal.Decimal
	Status        Status
	Version       int64
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Snapshot is the outbound view of a record's money fields.
type Snapshot struct {
	LedgerID      int64           `json:"ledger_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	Status        Status          `json:"status"`
}

// Snapshot extracts the outbound view.
func (r Record) Snapshot() Snapshot {
	return Snapshot{
		LedgerID:      r.ID,
		TotalAmount:   r.TotalAmount,
		PaidAmount:    r.PaidAmount,
		BalanceAmount: r.BalanceAmount,
		Status:        r.Status,
	}
}

// Transaction is a single payment event against a record.
type Transaction struct {
	ID              int64
	LedgerID        int64
	TransactionDate time.Time
	Amount          decimal.Decimal
	PaymentMode     PaymentMode
	UPIID           string
	BankName        string
	AccountNumber   string
	IFSC            string
	Reference       string
	Remarks         string
	ReceiptRef      string
	CreatedBy       int64
	CreatedAt       time.Time
}

// Amendment is a proposed adjustment to a record's total.
type Amendment struct {
	ID            int64
	LedgerID      int64
	InvoiceID     int64
	ConsignmentID int64
	Type          AmendmentType
	Amount        decimal.Decimal
	Reason        string
	Status        ApprovalStatus
	RequestedBy   int64
	DecidedBy     *int64
	DecidedAt     *time.Time
	CreatedAt     time.Time
}

// Statement bundles a record with its transaction history and amendments.
type Statement struct {
	Record       Record
	Transactions []Transaction
	Amendments   []Amendment
}

// --- Input DTOs ---

// CreateLedgerInput opens a new record.
type CreateLedgerInput struct {
	InvoiceNumber string
	ConsignmentID int64
	CustomerName  string
	TotalAmount   decimal.Decimal
}

// TransactionInput carries a payment to add.
type TransactionInput struct {
	TransactionDate time.Time
	Amount          decimal.Decimal
	PaymentMode     PaymentMode
	UPIID           string
	BankName        string
	AccountNumber   string
	IFSC            string
	Reference       string
	Remarks         string
	ReceiptRef      string
}

// AmendmentInput proposes an adjustment.
type AmendmentInput struct {
	InvoiceID     int64
	ConsignmentID int64
	Type          AmendmentType
	Amount        decimal.Decimal
	Reason        string
}

// ListLedgersRequest filters record listings.
type ListLedgersRequest struct {
	Status        Status
	ConsignmentID int64
	Limit         int
	Offset        int
}

// ListAmendmentsRequest filters amendment listings.
type ListAmendmentsRequest struct {
	LedgerID int64
	Status   ApprovalStatus
	Limit    int
	Offset   int
}
