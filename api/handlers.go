/*
handlers.go - HTTP API handlers for the card ledger

PURPOSE:
  Exposes the card ledger via a JSON API. Handles HTTP request/response,
  JSON serialization, and delegates to the cards services.

ENDPOINTS:
  Cards:
    POST   /api/release                          Issue a card to a holder
    GET    /api/get/balance/{card_number}        Cached balance
    GET    /api/get/transactions/{card_number}   History (?list_size, ?order)
    POST   /api/enroll/{card_number}             Credit {"amount": N}
    POST   /api/write-off/{card_number}          Debit {"amount": N}
    POST   /api/cards/{card_number}/transactions {"type": "ENROLLMENT"|"WRITE_OFF", "amount": N}
    GET    /api/cards/{card_number}/operations   Lifecycle audit trail
    GET    /api/cards/{card_number}/reconcile    Cached vs computed balance

  Holders:
    GET    /api/holders               List holders
    POST   /api/holders               Register holder
    GET    /api/holders/{id}          Holder details
    DELETE /api/holders/{id}          Delete holder and cascade to cards
    GET    /api/holders/{id}/cards    Holder's cards

  Admin:
    POST   /api/admin/reconcile       Reconcile every card

ERROR HANDLING:
  Errors are returned as {"status": "error", "message", "details"}:
  - 400: Validation errors, unknown card number, unknown holder on release
  - 404: Unknown holder on holder routes
  - 409: Store conflict that survived the retries
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/warp/card-ledger/cards"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

const (
	msgInvalidCardNumber = "Invalid card number"
	msgInvalidHolder     = "Invalid card holder"
	msgHolderNotFound    = "Card holder not found"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Holders    *cards.Holders
	Registry   *cards.Registry
	Ledger     *cards.Ledger
	Operations *cards.OperationLog
	Reports    *cards.Reports

	// Ready backs /-/ready; nil means always ready.
	Ready func(ctx context.Context) error

	Log      logrus.FieldLogger
	Exponent int32
	Clock    cards.Clock
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return cards.SystemClock()
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// ReleaseCard issues a new card to an existing holder.
func (h *Handler) ReleaseCard(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	card, err := h.Registry.Issue(r.Context(), cards.HolderID(strings.TrimSpace(req.CardHolder)))
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest, msgInvalidHolder)
		return
	}

	writeJSON(w, http.StatusOK, ReleaseResponse{
		Envelope:          ok("Card released successful"),
		CreatedCardNumber: int64(card.Number),
		Created:           card.CreatedAt,
	})
}

// GetBalance returns the cached balance of a card.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	number, valid := cardNumberParam(w, r)
	if !valid {
		return
	}

	bal, err := h.Reports.GetBalance(r.Context(), number)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest, msgInvalidCardNumber)
		return
	}

	writeJSON(w, http.StatusOK, BalanceResponse{
		Envelope:       ok("Balance got successful"),
		CardNumber:     int64(bal.Number),
		Balance:        bal.Amount,
		BalanceDisplay: cards.FormatMinor(bal.Amount, h.Exponent),
		Time:           bal.AsOf,
	})
}

// GetTransactions lists a card's transactions.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	number, valid := cardNumberParam(w, r)
	if !valid {
		return
	}

	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	txs, err := h.Reports.ListTransactions(r.Context(), number, opts)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest, msgInvalidCardNumber)
		return
	}

	data := make(map[int]TransactionDTO, len(txs))
	for i, tx := range txs {
		data[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{
		Envelope:     ok("Transactions got successful"),
		CardNumber:   int64(number),
		Transactions: data,
		Time:         h.now(),
	})
}

// EnrollMoney credits a card.
func (h *Handler) EnrollMoney(w http.ResponseWriter, r *http.Request) {
	h.applyMoney(w, r, cards.Enrollment, "Money enrolled successful")
}

// WriteOffMoney debits a card. The balance may go negative.
func (h *Handler) WriteOffMoney(w http.ResponseWriter, r *http.Request) {
	h.applyMoney(w, r, cards.WriteOff, "Money written off successful")
}

func (h *Handler) applyMoney(w http.ResponseWriter, r *http.Request, typ cards.TransactionType, message string) {
	number, valid := cardNumberParam(w, r)
	if !valid {
		return
	}

	var req MoneyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.post(w, r, number, req.Amount, typ, message)
}

// PostTransaction applies a transaction whose type is named in the body.
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	number, valid := cardNumberParam(w, r)
	if !valid {
		return
	}

	var req TransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	typ, err := cards.ParseTransactionType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	message := "Money enrolled successful"
	if typ == cards.WriteOff {
		message = "Money written off successful"
	}
	h.post(w, r, number, req.Amount, typ, message)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, number cards.CardNumber, amount *FlexInt, typ cards.TransactionType, message string) {
	if amount == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body",
			&cards.ValidationError{Field: "amount", Reason: "required"})
		return
	}

	receipt, err := h.Ledger.Post(r.Context(), number, int64(*amount), typ)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest, msgInvalidCardNumber)
		return
	}

	writeJSON(w, http.StatusOK, MoneyResponse{
		Envelope:      ok(message),
		TransactionID: string(receipt.Transaction.ID),
		Balance:       receipt.Card.Balance,
		Time:          receipt.Transaction.CreatedAt,
	})
}

// ListOperations returns a card's lifecycle audit trail.
func (h *Handler) ListOperations(w http.ResponseWriter, r *http.Request) {
	number, valid := cardNumberParam(w, r)
	if !valid {
		return
	}

	ops, err := h.Operations.List(r.Context(), number)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest, msgInvalidCardNumber)
		return
	}

	dtos := make([]OperationDTO, len(ops))
	for i, op := range ops {
		dtos[i] = OperationDTO{ID: string(op.ID), Type: string(op.Type), Date: op.CreatedAt}
	}
	writeJSON(w, http.StatusOK, OperationsResponse{
		Envelope:   ok("Operations got successful"),
		CardNumber: int64(number),
		Operations: dtos,
	})
}

// ReconcileCard compares the cached balance with the transaction sum.
func (h *Handler) ReconcileCard(w http.ResponseWriter, r *http.Request) {
	number, valid := cardNumberParam(w, r)
	if !valid {
		return
	}

	rec, err := h.Reports.Reconcile(r.Context(), number)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusBadRequest, msgInvalidCardNumber)
		return
	}

	writeJSON(w, http.StatusOK, ReconcileResponse{
		Envelope:          ok("Card reconciled"),
		ReconciliationDTO: toReconciliationDTO(rec),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ReconcileAll checks every card.
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Reports.ReconcileAll(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusNotFound, "Not found")
		return
	}

	resp := ReconcileAllResponse{
		Envelope: ok("Cards reconciled"),
		Cards:    make([]ReconciliationDTO, len(recs)),
	}
	for i, rec := range recs {
		resp.Cards[i] = toReconciliationDTO(rec)
		if !rec.Consistent {
			resp.Inconsistent++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HOLDER HANDLERS
// =============================================================================

// ListHolders returns all holders ordered by name.
func (h *Handler) ListHolders(w http.ResponseWriter, r *http.Request) {
	holders, err := h.Holders.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusNotFound, msgHolderNotFound)
		return
	}

	dtos := make([]HolderDTO, len(holders))
	for i, holder := range holders {
		dtos[i] = toHolderDTO(holder)
	}
	writeJSON(w, http.StatusOK, HoldersResponse{Envelope: ok("Card holders got successful"), Holders: dtos})
}

// CreateHolder registers a holder.
func (h *Handler) CreateHolder(w http.ResponseWriter, r *http.Request) {
	var req CreateHolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	nh, err := req.toNewHolder()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	holder, err := h.Holders.Register(r.Context(), nh)
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusNotFound, msgHolderNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, HolderResponse{Envelope: ok("Card holder created"), Holder: toHolderDTO(holder)})
}

// GetHolder returns one holder.
func (h *Handler) GetHolder(w http.ResponseWriter, r *http.Request) {
	holder, err := h.Holders.Get(r.Context(), cards.HolderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusNotFound, msgHolderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, HolderResponse{Envelope: ok("Card holder got successful"), Holder: toHolderDTO(holder)})
}

// DeleteHolder removes a holder and every card it owns.
func (h *Handler) DeleteHolder(w http.ResponseWriter, r *http.Request) {
	if err := h.Holders.Delete(r.Context(), cards.HolderID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, r, err, http.StatusNotFound, msgHolderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ok("Card holder deleted"))
}

// HolderCards lists the holder's cards in issue order.
func (h *Handler) HolderCards(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owned, err := h.Holders.Cards(r.Context(), cards.HolderID(id))
	if err != nil {
		h.writeDomainError(w, r, err, http.StatusNotFound, msgHolderNotFound)
		return
	}

	dtos := make([]CardDTO, len(owned))
	for i, c := range owned {
		dtos[i] = CardDTO{
			CardNumber:     int64(c.Number),
			Balance:        c.Balance,
			BalanceDisplay: cards.FormatMinor(c.Balance, h.Exponent),
			Created:        c.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, HolderCardsResponse{Envelope: ok("Cards got successful"), HolderID: id, Cards: dtos})
}

// =============================================================================
// PROBES
// =============================================================================

// Live reports that the process is up.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: "ok"})
}

// ReadyCheck reports whether the store is reachable.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ProbeResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func cardNumberParam(w http.ResponseWriter, r *http.Request) (cards.CardNumber, bool) {
	raw := chi.URLParam(r, "card_number")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, msgInvalidCardNumber, nil)
		return 0, false
	}
	return cards.CardNumber(n), true
}

func listOptions(r *http.Request) (cards.ListOptions, error) {
	var opts cards.ListOptions
	q := r.URL.Query()

	if raw := q.Get("list_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, &cards.ValidationError{Field: "list_size", Reason: "must be a non-negative integer"}
		}
		opts.Limit = n
	}

	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
		opts.Order = cards.OrderAscending
	case "desc":
		opts.Order = cards.OrderDescending
	default:
		return opts, &cards.ValidationError{Field: "order", Reason: "must be asc or desc"}
	}
	return opts, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// writeDomainError maps cards errors to statuses. Not-found status and
// message depend on the route: unknown card numbers are a bad request.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, notFoundStatus int, notFoundMessage string) {
	switch {
	case cards.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case cards.IsNotFound(err):
		writeError(w, notFoundStatus, notFoundMessage, err)
	case cards.IsRetryable(err), errors.Is(err, cards.ErrDuplicateCardNumber):
		writeError(w, http.StatusConflict, "Concurrent update, please retry", err)
	default:
		h.logger().WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Envelope: Envelope{Status: statusError, Message: message}}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
