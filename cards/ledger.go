/*
ledger.go - Balance mutation protocol

PURPOSE:
  The only write path that changes a card balance. Every change is an
  immutable Transaction; the card's cached balance is adjusted in the same
  store transaction, so the two commit or fail together.

CRITICAL INVARIANTS:
  1. ATOMIC: balance update + transaction insert share one WithTx unit
  2. APPEND-ONLY: transactions are never updated or deleted
  3. CONSISTENT: card.Balance == SumSigned(transactions) after every commit

APPLY FLOW:
  1. Validate amount (> 0) and type (ENROLLMENT | WRITE_OFF), no writes yet
  2. WithTx:
     a. resolve card by number (NotFoundError otherwise)
     b. reject amounts that would take the balance past int64
     c. balance = balance + sign*amount (single-row atomic update)
     d. append the Transaction row
  3. Retry the whole unit on ErrConflict with backoff
  4. Publish transaction.applied after commit

FUNDS:
  WRITE_OFF is not checked against the balance and may drive it negative.

SEE ALSO:
  - reports.go: Reconcile recomputes the sum and compares
*/
package cards

import (
	"context"
	"fmt"
	"math"
)

// Ledger applies balance-changing transactions.
type Ledger struct {
	store TxStore
	opts  options
}

func NewLedger(store TxStore, opts ...Option) *Ledger {
	return &Ledger{store: store, opts: buildOptions(opts)}
}

// Receipt is the outcome of a committed transaction: the transaction and
// the card as it was right after the commit.
type Receipt struct {
	Transaction Transaction
	Card        Card
}

// Apply records a transaction against the card and adjusts its balance.
func (l *Ledger) Apply(ctx context.Context, number CardNumber, amount int64, typ TransactionType) (Transaction, error) {
	r, err := l.Post(ctx, number, amount, typ)
	return r.Transaction, err
}

// Post is Apply returning the post-commit card snapshot as well.
func (l *Ledger) Post(ctx context.Context, number CardNumber, amount int64, typ TransactionType) (Receipt, error) {
	if err := validateApply(amount, typ); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	err := l.opts.retry.retry(ctx, IsRetryable, l.opts.logRetry("apply transaction"), func(ctx context.Context) error {
		return l.store.WithTx(ctx, func(s Store) error {
			c, err := s.GetCardByNumber(ctx, number)
			if err != nil {
				return err
			}
			if err := checkOverflow(c.Balance, amount, typ); err != nil {
				return err
			}

			balance, err := s.AdjustBalance(ctx, c.ID, typ.Sign()*amount)
			if err != nil {
				return err
			}

			tx := Transaction{
				ID:        TransactionID(l.opts.newID()),
				CardID:    c.ID,
				Type:      typ,
				Amount:    amount,
				CreatedAt: l.opts.clock(),
			}
			if err := s.AppendTransaction(ctx, tx); err != nil {
				return err
			}

			c.Balance = balance
			receipt = Receipt{Transaction: tx, Card: c}
			return nil
		})
	})
	if err != nil {
		return Receipt{}, wrapStorage("apply transaction", err)
	}

	applied := receipt.Transaction
	l.opts.notify(ctx, Event{
		Kind:        EventTransactionApplied,
		Card:        receipt.Card,
		Transaction: &applied,
		OccurredAt:  applied.CreatedAt,
	})
	return receipt, nil
}

// Enroll credits the card.
func (l *Ledger) Enroll(ctx context.Context, number CardNumber, amount int64) (Transaction, error) {
	return l.Apply(ctx, number, amount, Enrollment)
}

// WriteOff debits the card.
func (l *Ledger) WriteOff(ctx context.Context, number CardNumber, amount int64) (Transaction, error) {
	return l.Apply(ctx, number, amount, WriteOff)
}

// ListTransactions returns the card's transactions, oldest first unless
// opts.Order is OrderDescending. A positive limit truncates after ordering.
func (l *Ledger) ListTransactions(ctx context.Context, number CardNumber, opts ListOptions) ([]Transaction, error) {
	if opts.Limit < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if opts.Order != OrderAscending && opts.Order != OrderDescending {
		return nil, &ValidationError{Field: "order", Reason: fmt.Sprintf("unknown order %d", opts.Order)}
	}

	card, err := l.store.GetCardByNumber(ctx, number)
	if err != nil {
		return nil, wrapStorage("lookup card", err)
	}

	txs, err := l.store.ListTransactions(ctx, card.ID, opts)
	if err != nil {
		return nil, wrapStorage("list transactions", err)
	}
	return txs, nil
}

// checkOverflow rejects amounts that would take the balance past the int64
// range. amount is already known to be positive.
func checkOverflow(balance, amount int64, typ TransactionType) error {
	if typ == Enrollment && balance > math.MaxInt64-amount {
		return &ValidationError{Field: "amount", Reason: "balance would overflow"}
	}
	if typ == WriteOff && balance < math.MinInt64+amount {
		return &ValidationError{Field: "amount", Reason: "balance would underflow"}
	}
	return nil
}

func validateApply(amount int64, typ TransactionType) error {
	if !typ.Valid() {
		return &ValidationError{Field: "transaction_type", Reason: fmt.Sprintf("unknown type %q", typ)}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be a positive integer"}
	}
	return nil
}
