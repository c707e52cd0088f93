package shared

// Payment and invoice permissions declared for RBAC.
const (
	PermPaymentView             = "payment.view"
	PermPaymentCreate           = "payment.create"
	PermPaymentEdit             = "payment.edit"
	PermPaymentDelete           = "payment.delete"
	PermPaymentAmend            = "payment.amend"
	PermPaymentApproveAmendment = "payment.approve_amendment"

	PermInvoiceView   = "invoice.view"
	PermInvoiceCreate = "invoice.create"
	PermInvoiceEdit   = "invoice.edit"
	PermInvoiceDelete = "invoice.delete"
)

// PaymentScopes lists permissions guarding payment collection.
func PaymentScopes() []string {
	return []string{
		PermPaymentView,
		PermPaymentCreate,
		PermPaymentEdit,
		PermPaymentDelete,
		PermPaymentAmend,
		PermPaymentApproveAmendment,
	}
}

// InvoiceScopes lists permissions guarding invoice records.
func InvoiceScopes() []string {
	return []string{
		PermInvoiceView,
		PermInvoiceCreate,
		PermInvoiceEdit,
		PermInvoiceDelete,
	}
}
