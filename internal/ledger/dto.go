package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type createLedgerRequest struct {
	InvoiceNumber string `json:"invoice_number" validate:"required,max=64"`
	ConsignmentID int64  `json:"consignment_id" validate:"omitempty,gt=0"`
	CustomerName  string `json:"customer_name" validate:"max=200"`
	TotalAmount   string `json:"total_amount" validate:"required,numeric"`
}

type addTransactionRequest struct {
	TransactionDate *time.Time `json:"transaction_date"`
	Amount          string     `json:"amount" validate:"required,numeric"`
	PaymentMode     string     `json:"payment_mode" validate:"required,oneof=CASH UPI NEFT RTGS IMPS BANK_TRANSFER CHEQUE DEMAND_DRAFT"`
	UPIID           string     `json:"upi_id" validate:"max=100"`
	BankName        string     `json:"bank_name" validate:"max=120"`
	AccountNumber   string     `json:"account_number" validate:"max=34"`
	IFSC            string     `json:"ifsc" validate:"omitempty,len=11,alphanum"`
	Reference       string     `json:"reference" validate:"max=120"`
	Remarks         string     `json:"remarks" validate:"max=500"`
	ReceiptRef      string     `json:"receipt_ref" validate:"max=255"`
}

type setTotalRequest struct {
	TotalAmount string `json:"total_amount" validate:"required,numeric"`
}

type createAmendmentRequest struct {
	InvoiceID     int64  `json:"invoice_id" validate:"omitempty,gt=0"`
	ConsignmentID int64  `json:"consignment_id" validate:"omitempty,gt=0"`
	Type          string `json:"amendment_type" validate:"required,oneof=ADDITIONAL_CHARGE DISCOUNT CORRECTION"`
	Amount        string `json:"amount" validate:"required,numeric"`
	Reason        string `json:"reason" validate:"required,max=2000"`
}

type decideAmendmentRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
}

type ledgerResponse struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	ConsignmentID int64           `json:"consignment_id,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	Status        Status          `json:"status"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type transactionResponse struct {
	ID              int64           `json:"id"`
	LedgerID        int64           `json:"ledger_id"`
	TransactionDate time.Time       `json:"transaction_date"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMode     PaymentMode     `json:"payment_mode"`
	UPIID           string          `json:"upi_id,omitempty"`
	BankName        string          `json:"bank_name,omitempty"`
	AccountNumber   string          `json:"account_number,omitempty"`
	IFSC            string          `json:"ifsc,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	Remarks         string          `json:"remarks,omitempty"`
	ReceiptRef      string          `json:"receipt_ref,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type amendmentResponse struct {
	ID            int64           `json:"id"`
	LedgerID      int64           `json:"ledger_id"`
	InvoiceID     int64           `json:"invoice_id,omitempty"`
	ConsignmentID int64           `json:"consignment_id,omitempty"`
	Type          AmendmentType   `json:"amendment_type"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Status        ApprovalStatus  `json:"status"`
	RequestedBy   int64           `json:"requested_by"`
	DecidedBy     *int64          `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type transactionResult struct {
	Transaction transactionResponse `json:"transaction"`
	Ledger      Snapshot            `json:"ledger"`
}

type decisionResult struct {
	Amendment amendmentResponse `json:"amendment"`
	Ledger    Snapshot          `json:"ledger"`
}

type statementResponse struct {
	Ledger       ledgerResponse        `json:"ledger"`
	Transactions []transactionResponse `json:"transactions"`
	Amendments   []amendmentResponse   `json:"amendments"`
}

func toLedgerResponse(rec Record) ledgerResponse {
	return ledgerResponse{
		ID:            rec.ID,
		InvoiceNumber: rec.InvoiceNumber,
		ConsignmentID: rec.ConsignmentID,
		CustomerName:  rec.CustomerName,
		TotalAmount:   rec.TotalAmount,
		PaidAmount:    rec.PaidAmount,
		BalanceAmount: rec.BalanceAmount,
		Status:        rec.Status,
		Version:       rec.Version,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func toTransactionResponse(txn Transaction) transactionResponse {
	return transactionResponse{
		ID:              txn.ID,
		LedgerID:        txn.LedgerID,
		TransactionDate: txn.TransactionDate,
		Amount:          txn.Amount,
		PaymentMode:     txn.PaymentMode,
		UPIID:           txn.UPIID,
		BankName:        txn.BankName,
		AccountNumber:   txn.AccountNumber,
		IFSC:            txn.IFSC,
		Reference:       txn.Reference,
		Remarks:         txn.Remarks,
		ReceiptRef:      txn.ReceiptRef,
		CreatedAt:       txn.CreatedAt,
	}
}

func toAmendmentResponse(a Amendment) amendmentResponse {
	return amendmentResponse{
		ID:            a.ID,
		LedgerID:      a.LedgerID,
		InvoiceID:     a.InvoiceID,
		ConsignmentID: a.ConsignmentID,
		Type:          a.Type,
		Amount:        a.Amount,
		Reason:        a.Reason,
		Status:        a.Status,
		RequestedBy:   a.RequestedBy,
		DecidedBy:     a.DecidedBy,
		DecidedAt:     a.DecidedAt,
		CreatedAt:     a.CreatedAt,
	}
}
