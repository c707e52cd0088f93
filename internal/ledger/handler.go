package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/logistics-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/logistics-ledger/internal/shared"
)

// IdempotencyModule scopes Idempotency-Key values for payment submissions.
const IdempotencyModule = "ledger.transaction"

// IdempotencyStore records processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the engine over JSON.
type Handler struct {
	logger      *slog.Logger
	engine      *Engine
	idempotency IdempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs a Handler. idem may be nil.
func NewHandler(logger *slog.Logger, engine *Engine, idem IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		engine:      engine,
		idempotency: idem,
		validator:   validator.New(),
	}
}

// MountRoutes registers ledger and amendment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledgers", func(r chi.Router) {
		r.Get("/", h.listLedgers)
		r.Post("/", h.createLedger)
		r.Route("/{ledgerID}", func(r chi.Router) {
			r.Get("/", h.getLedger)
			r.Delete("/", h.deleteLedger)
			r.Get("/statement", h.getStatement)
			r.Put("/total", h.setTotal)
			r.Post("/transactions", h.addTransaction)
			r.Delete("/transactions/{txnID}", h.removeTransaction)
			r.Get("/amendments", h.listLedgerAmendments)
		})
	})
	r.Route("/amendments", func(r chi.Router) {
		r.Get("/", h.listAmendments)
		r.Post("/", h.createAmendment)
		r.Get("/{amendmentID}", h.getAmendment)
		r.Post("/{amendmentID}/decision", h.decideAmendment)
	})
}

func (h *Handler) createLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createLedgerRequest
	if !h.decode(w, r, &req) {
		return
	}
	total, ok := parseAmount(w, "total_amount", req.TotalAmount)
	if !ok {
		return
	}
	rec, err := h.engine.CreateLedger(r.Context(), actor, CreateLedgerInput{
		InvoiceNumber: req.InvoiceNumber,
		ConsignmentID: req.ConsignmentID,
		CustomerName:  req.CustomerName,
		TotalAmount:   total,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLedgerResponse(rec))
}

func (h *Handler) listLedgers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := ListLedgersRequest{
		Status: Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Limit:  atoi(q.Get("limit")),
		Offset: atoi(q.Get("offset")),
	}
	if raw := q.Get("consignment_id"); raw != "" {
		req.ConsignmentID, _ = strconv.ParseInt(raw, 10, 64)
	}
	records, err := h.engine.ListLedgers(r.Context(), actor, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]ledgerResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toLedgerResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	rec, err := h.engine.GetLedger(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLedgerResponse(rec))
}

func (h *Handler) deleteLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	if err := h.engine.DeleteLedger(r.Context(), actor, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	st, err := h.engine.GetStatement(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := statementResponse{
		Ledger:       toLedgerResponse(st.Record),
		Transactions: make([]transactionResponse, 0, len(st.Transactions)),
		Amendments:   make([]amendmentResponse, 0, len(st.Amendments)),
	}
	for _, txn := range st.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(txn))
	}
	for _, a := range st.Amendments {
		resp.Amendments = append(resp.Amendments, toAmendmentResponse(a))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) setTotal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	var req setTotalRequest
	if !h.decode(w, r, &req) {
		return
	}
	total, ok := parseAmount(w, "total_amount", req.TotalAmount)
	if !ok {
		return
	}
	snap, err := h.engine.SetTotalAmount(r.Context(), actor, id, total)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) addTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	var req addTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	input := TransactionInput{
		Amount:        amount,
		PaymentMode:   PaymentMode(req.PaymentMode),
		UPIID:         req.UPIID,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		IFSC:          strings.ToUpper(req.IFSC),
		Reference:     req.Reference,
		Remarks:       req.Remarks,
		ReceiptRef:    req.ReceiptRef,
	}
	if req.TransactionDate != nil {
		input.TransactionDate = req.TransactionDate.UTC()
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, IdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
				return
			}
			h.logger.Error("ledger idempotency check", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}

	txn, snap, err := h.engine.AddTransaction(r.Context(), actor, id, input)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("ledger idempotency rollback", slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transactionResult{Transaction: toTransactionResponse(txn), Ledger: snap})
}

func (h *Handler) removeTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	txnID, ok := pathID(w, r, "txnID")
	if !ok {
		return
	}
	snap, err := h.engine.RemoveTransaction(r.Context(), actor, id, txnID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) listLedgerAmendments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "ledgerID")
	if !ok {
		return
	}
	h.writeAmendments(w, r, id)
}

func (h *Handler) listAmendments(w http.ResponseWriter, r *http.Request) {
	var ledgerID int64
	if raw := r.URL.Query().Get("ledger_id"); raw != "" {
		ledgerID, _ = strconv.ParseInt(raw, 10, 64)
	}
	h.writeAmendments(w, r, ledgerID)
}

func (h *Handler) writeAmendments(w http.ResponseWriter, r *http.Request, ledgerID int64) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	items, err := h.engine.ListAmendments(r.Context(), actor, ListAmendmentsRequest{
		LedgerID: ledgerID,
		Status:   ApprovalStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Limit:    atoi(q.Get("limit")),
		Offset:   atoi(q.Get("offset")),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]amendmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAmendmentResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createAmendment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createAmendmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	a, err := h.engine.CreateAmendment(r.Context(), actor, AmendmentInput{
		InvoiceID:     req.InvoiceID,
		ConsignmentID: req.ConsignmentID,
		Type:          AmendmentType(req.Type),
		Amount:        amount,
		Reason:        req.Reason,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAmendmentResponse(a))
}

func (h *Handler) getAmendment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "amendmentID")
	if !ok {
		return
	}
	a, err := h.engine.GetAmendment(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAmendmentResponse(a))
}

func (h *Handler) decideAmendment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "amendmentID")
	if !ok {
		return
	}
	var req decideAmendmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, snap, err := h.engine.DecideAmendment(r.Context(), actor, id, ApprovalStatus(req.Decision))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResult{Amendment: toAmendmentResponse(a), Ledger: snap})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || actor.Anonymous() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrUnauthenticated.Error())
		return shared.Actor{}, false
	}
	return actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

// fail maps engine errors onto problem responses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		err = httpx.Wrap(httpx.ErrForbidden, err)
	case IsNotFound(err):
		err = httpx.Wrap(httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateInvoice):
		err = httpx.Wrap(httpx.ErrDuplicate, err)
	case errors.Is(err, ErrAmendmentAlreadyDecided), errors.Is(err, ErrLedgerHasTransactions), errors.Is(err, ErrInconsistentLedger):
		err = httpx.Wrap(httpx.ErrConflict, err)
	case IsBusinessRule(err):
		err = httpx.Wrap(httpx.ErrUnprocessable, err)
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Identifier", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseAmount(w http.ResponseWriter, field, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{field: "decimal"})
		return decimal.Decimal{}, false
	}
	return amount, true
}

func atoi(raw string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(raw))
	return n
}
