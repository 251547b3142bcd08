/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Every response shares
  the {"status", "message"} envelope; each endpoint adds its own explicit
  fields rather than dumping model attributes.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Endpoint response wrappers

NUMBERS:
  Amounts and phone numbers accept a JSON number or a numeric string
  ("500" and 500 are equivalent). Fractions are rejected.
*/
package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/warp/card-ledger/cards"
)

const (
	statusOK    = "OK"
	statusError = "error"
)

// Envelope is embedded in every response.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func ok(message string) Envelope { return Envelope{Status: statusOK, Message: message} }

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Envelope
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FLEXIBLE INTEGERS
// =============================================================================

// FlexInt decodes from a JSON integer or a string holding one.
type FlexInt int64

var errNotInteger = errors.New("must be an integer")

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return errNotInteger
		}
		s = strings.TrimSpace(unquoted)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errNotInteger
	}
	*f = FlexInt(n)
	return nil
}

// =============================================================================
// CARDS
// =============================================================================

type ReleaseRequest struct {
	CardHolder string `json:"card_holder"`
}

type ReleaseResponse struct {
	Envelope
	CreatedCardNumber int64     `json:"created_card_number"`
	Created           time.Time `json:"created"`
}

type BalanceResponse struct {
	Envelope
	CardNumber     int64     `json:"card_number"`
	Balance        int64     `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	Time           time.Time `json:"time"`
}

type CardDTO struct {
	CardNumber     int64     `json:"card_number"`
	Balance        int64     `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	Created        time.Time `json:"created"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// MoneyRequest is the body of enroll and write-off calls.
type MoneyRequest struct {
	Amount *FlexInt `json:"amount"`
}

// TransactionRequest names the transaction type; case is ignored.
type TransactionRequest struct {
	Type   string   `json:"type"`
	Amount *FlexInt `json:"amount"`
}

type MoneyResponse struct {
	Envelope
	TransactionID string    `json:"transaction_id"`
	Balance       int64     `json:"balance"`
	Time          time.Time `json:"time"`
}

type TransactionDTO struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Amount int64     `json:"amount"`
	Date   time.Time `json:"date"`
}

// TransactionsResponse keys transactions by their position in the listing.
type TransactionsResponse struct {
	Envelope
	CardNumber   int64                  `json:"card_number"`
	Transactions map[int]TransactionDTO `json:"transactions"`
	Time         time.Time              `json:"time"`
}

func toTransactionDTO(tx cards.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:     string(tx.ID),
		Type:   string(tx.Type),
		Amount: tx.Amount,
		Date:   tx.CreatedAt,
	}
}

// =============================================================================
// OPERATIONS & RECONCILIATION
// =============================================================================

type OperationDTO struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Date time.Time `json:"date"`
}

type OperationsResponse struct {
	Envelope
	CardNumber int64          `json:"card_number"`
	Operations []OperationDTO `json:"operations"`
}

type ReconciliationDTO struct {
	CardNumber      int64 `json:"card_number"`
	CachedBalance   int64 `json:"cached_balance"`
	ComputedBalance int64 `json:"computed_balance"`
	Drift           int64 `json:"drift"`
	Consistent      bool  `json:"consistent"`
}

type ReconcileResponse struct {
	Envelope
	ReconciliationDTO
}

type ReconcileAllResponse struct {
	Envelope
	Cards        []ReconciliationDTO `json:"cards"`
	Inconsistent int                 `json:"inconsistent"`
}

func toReconciliationDTO(r cards.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		CardNumber:      int64(r.Number),
		CachedBalance:   r.Cached,
		ComputedBalance: r.Computed,
		Drift:           r.Drift(),
		Consistent:      r.Consistent,
	}
}

// =============================================================================
// HOLDERS
// =============================================================================

type CreateHolderRequest struct {
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Patronymic  string   `json:"patronymic"`
	PhoneNumber *FlexInt `json:"phone_number"`
}

func (r CreateHolderRequest) toNewHolder() (cards.NewHolder, error) {
	if r.PhoneNumber == nil {
		return cards.NewHolder{}, &cards.ValidationError{Field: "phone_number", Reason: "required"}
	}
	return cards.NewHolder{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Patronymic:  r.Patronymic,
		PhoneNumber: int64(*r.PhoneNumber),
	}, nil
}

type HolderDTO struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Patronymic  string    `json:"patronymic"`
	FullName    string    `json:"full_name"`
	PhoneNumber int64     `json:"phone_number"`
	Created     time.Time `json:"created"`
}

type HolderResponse struct {
	Envelope
	Holder HolderDTO `json:"holder"`
}

type HoldersResponse struct {
	Envelope
	Holders []HolderDTO `json:"holders"`
}

type HolderCardsResponse struct {
	Envelope
	HolderID string    `json:"holder_id"`
	Cards    []CardDTO `json:"cards"`
}

func toHolderDTO(h cards.Holder) HolderDTO {
	return HolderDTO{
		ID:          string(h.ID),
		FirstName:   h.FirstName,
		LastName:    h.LastName,
		Patronymic:  h.Patronymic,
		FullName:    h.FullName(),
		PhoneNumber: h.PhoneNumber,
		Created:     h.CreatedAt,
	}
}

// =============================================================================
// PROBES
// =============================================================================

type ProbeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
