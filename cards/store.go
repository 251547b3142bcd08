/*
store.go - Persistence interfaces for the card ledger

PURPOSE:
  Defines the boundary between ledger logic and the database. The ledger
  composes these primitives into atomic units through TxStore.WithTx.

KEY INTERFACES:
  HolderStore:      Card holder records
  CardStore:        Cards, numbering and the cached balance
  TransactionStore: Append-only transaction log
  OperationStore:   Append-only lifecycle audit trail
  TxStore:          Store + WithTx for all-or-nothing units

APPEND-ONLY CONTRACT:
  Transactions and operations have no Update or Delete methods. They
  disappear only through cascade deletion of their card's holder.

ERROR CONTRACT:
  - Missing rows:           *NotFoundError
  - Unique card number hit: error wrapping ErrDuplicateCardNumber
  - Serialization/lock:     error wrapping ErrConflict
  - Anything else:          *StorageError

IMPLEMENTATIONS:
  - cards/store/memory.go: In-memory for tests and development
  - store/sqlstore:        SQLite and PostgreSQL
*/
package cards

import "context"

type HolderStore interface {
	InsertHolder(ctx context.Context, h Holder) error
	GetHolder(ctx context.Context, id HolderID) (Holder, error)
	ListHolders(ctx context.Context) ([]Holder, error)

	// DeleteHolder removes the holder and cascades to cards, transactions
	// and operations.
	DeleteHolder(ctx context.Context, id HolderID) error
}

type CardStore interface {
	InsertCard(ctx context.Context, c Card) error
	GetCard(ctx context.Context, id CardID) (Card, error)
	GetCardByNumber(ctx context.Context, n CardNumber) (Card, error)

	// ListCards returns cards in issue order. An empty holder id lists all.
	ListCards(ctx context.Context, holder HolderID) ([]Card, error)

	// MaxCardNumber returns the highest issued number; ok is false when no
	// card exists.
	MaxCardNumber(ctx context.Context) (n CardNumber, ok bool, err error)

	// AdjustBalance adds delta to the cached balance as a single-row atomic
	// update and returns the new balance.
	AdjustBalance(ctx context.Context, id CardID, delta int64) (int64, error)
}

type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx Transaction) error

	// ListTransactions returns the card's transactions in insertion order,
	// or reversed for OrderDescending, truncated to opts.Limit.
	ListTransactions(ctx context.Context, card CardID, opts ListOptions) ([]Transaction, error)

	// SumTransactions returns the signed sum of the card's transactions.
	SumTransactions(ctx context.Context, card CardID) (int64, error)
}

type OperationStore interface {
	AppendOperation(ctx context.Context, op Operation) error
	ListOperations(ctx context.Context, card CardID) ([]Operation, error)
}

// Store is the full persistence surface.
type Store interface {
	HolderStore
	CardStore
	TransactionStore
	OperationStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back. If fn returns nil, the writes are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
