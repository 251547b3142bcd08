/*
Package cards provides the card-accounting ledger core.

PURPOSE:
  Issues payment cards to holders, records balance-changing transactions
  and keeps an audit trail of card lifecycle operations. The cached card
  balance is a projection of the transaction log, kept in step with it by
  writing both inside one store transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Holder: the person owning cards
  - Card: public card number + cached balance (minor currency units)
  - Transaction: immutable ENROLLMENT / WRITE_OFF record
  - Operation: immutable CREATE / DELETE lifecycle record

LEDGER INVARIANT:
  card.Balance == sum(tx.SignedAmount()) over the card's transactions,
  after every committed Apply.

USAGE:
  st := store.NewTxMemory()
  oplog := cards.NewOperationLog(st)
  registry := cards.NewRegistry(st, oplog)
  ledger := cards.NewLedger(st)

  card, _ := registry.Issue(ctx, holder.ID)
  ledger.Apply(ctx, card.Number, 500, cards.Enrollment)

SEE ALSO:
  - store.go: Persistence interfaces
  - registry.go: Card issuance and numbering
  - ledger.go: Balance mutation protocol
  - operations.go: Lifecycle audit trail
  - reports.go: Balance lookup and reconciliation
*/
package cards

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	HolderID      string
	CardID        string
	TransactionID string
	OperationID   string
)

// CardNumber is the public, unique, immutable card identifier.
type CardNumber int64

// FirstCardNumber is assigned when no card has been issued yet.
const FirstCardNumber CardNumber = 5000400030002000

func (n CardNumber) String() string { return fmt.Sprintf("%d", int64(n)) }

// Next returns the number following n.
func (n CardNumber) Next() CardNumber { return n + 1 }

// =============================================================================
// HOLDER
// =============================================================================

// Holder is the identity record of a person owning cards.
type Holder struct {
	ID          HolderID  `db:"id"`
	FirstName   string    `db:"first_name"`
	LastName    string    `db:"last_name"`
	Patronymic  string    `db:"patronymic"`
	PhoneNumber int64     `db:"phone_number"`
	CreatedAt   time.Time `db:"created_at"`
}

// FullName renders "<last> <first> <patronymic>".
func (h Holder) FullName() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", h.LastName, h.FirstName, h.Patronymic))
}

// NewHolder carries the fields needed to register a holder.
type NewHolder struct {
	FirstName   string
	LastName    string
	Patronymic  string
	PhoneNumber int64
}

// =============================================================================
// CARD
// =============================================================================

// Card holds the cached balance in the smallest currency unit.
// Balance is signed: write-offs are not checked against funds.
type Card struct {
	ID        CardID     `db:"id"`
	Number    CardNumber `db:"card_number"`
	Balance   int64      `db:"balance"`
	HolderID  HolderID   `db:"holder_id"`
	CreatedAt time.Time  `db:"created_at"`
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	Enrollment TransactionType = "ENROLLMENT"
	WriteOff   TransactionType = "WRITE_OFF"
)

func (t TransactionType) Valid() bool {
	return t == Enrollment || t == WriteOff
}

// Sign returns +1 for enrollments and -1 for write-offs.
func (t TransactionType) Sign() int64 {
	if t == WriteOff {
		return -1
	}
	return 1
}

// ParseTransactionType accepts the wire names case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "transaction_type", Reason: fmt.Sprintf("unknown type %q", s)}
	}
	return t, nil
}

// Transaction is an immutable balance-changing record. Never updated, never deleted.
type Transaction struct {
	ID        TransactionID   `db:"id"`
	CardID    CardID          `db:"card_id"`
	Type      TransactionType `db:"transaction_type"`
	Amount    int64           `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// SignedAmount is the effect of the transaction on the card balance.
func (t Transaction) SignedAmount() int64 {
	return t.Type.Sign() * t.Amount
}

// SumSigned folds transactions into a balance.
func SumSigned(txs []Transaction) int64 {
	var sum int64
	for _, tx := range txs {
		sum += tx.SignedAmount()
	}
	return sum
}

// =============================================================================
// OPERATION
// =============================================================================

type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationDelete OperationType = "DELETE"
)

func (t OperationType) Valid() bool {
	return t == OperationCreate || t == OperationDelete
}

// Operation is an audit record of a card lifecycle event.
type Operation struct {
	ID        OperationID   `db:"id"`
	CardID    CardID        `db:"card_id"`
	Type      OperationType `db:"operation_type"`
	CreatedAt time.Time     `db:"created_at"`
}

// =============================================================================
// LISTING
// =============================================================================

type Order int

const (
	// OrderAscending lists oldest first (store insertion order).
	OrderAscending Order = iota
	OrderDescending
)

// ListOptions controls transaction listing. Limit <= 0 means no limit.
// The limit is applied after ordering.
type ListOptions struct {
	Limit int
	Order Order
}

// =============================================================================
// MONEY RENDERING
// =============================================================================

// FormatMinor renders an amount of minor units in major units,
// e.g. FormatMinor(12345, 2) == "123.45".
func FormatMinor(amount int64, exponent int32) string {
	if exponent <= 0 {
		return decimal.NewFromInt(amount).String()
	}
	return decimal.New(amount, -exponent).StringFixed(exponent)
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Timestamps are UTC, truncated to
// microseconds so every store round-trips them unchanged.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
