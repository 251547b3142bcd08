/*
registry.go - Card issuance and lookup

NUMBERING:
  The next card number is max(existing numbers) + 1, or FirstCardNumber
  when no card exists. The derivation and the insert run inside one store
  transaction, and the store enforces uniqueness on card_number. When two
  issuers race, the loser gets ErrDuplicateCardNumber (or ErrConflict),
  and the whole unit is retried, re-deriving the number from fresh state.

SIDE EFFECTS:
  The registered CardObserver (the OperationLog) runs inside the issuing
  transaction, so a card never exists without its CREATE operation.
*/
package cards

import (
	"context"
	"errors"
)

// Registry issues cards and resolves them by number.
type Registry struct {
	store    TxStore
	observer CardObserver
	opts     options
}

// NewRegistry wires the registry. observer may be nil.
func NewRegistry(store TxStore, observer CardObserver, opts ...Option) *Registry {
	return &Registry{store: store, observer: observer, opts: buildOptions(opts)}
}

// Issue creates a zero-balance card for the holder.
func (r *Registry) Issue(ctx context.Context, holder HolderID) (Card, error) {
	if holder == "" {
		return Card{}, &ValidationError{Field: "card_holder", Reason: "required"}
	}

	var issued Card
	err := r.opts.retry.retry(ctx, isIssueRetryable, r.opts.logRetry("issue card"), func(ctx context.Context) error {
		return r.store.WithTx(ctx, func(s Store) error {
			if _, err := s.GetHolder(ctx, holder); err != nil {
				return err
			}

			number, err := nextCardNumber(ctx, s)
			if err != nil {
				return err
			}

			card := Card{
				ID:        CardID(r.opts.newID()),
				Number:    number,
				Balance:   0,
				HolderID:  holder,
				CreatedAt: r.opts.clock(),
			}
			if err := s.InsertCard(ctx, card); err != nil {
				return err
			}

			if r.observer != nil {
				if err := r.observer.CardIssued(ctx, s, card); err != nil {
					return err
				}
			}

			issued = card
			return nil
		})
	})
	if err != nil {
		return Card{}, wrapStorage("issue card", err)
	}

	r.opts.notify(ctx, Event{Kind: EventCardIssued, Card: issued, OccurredAt: issued.CreatedAt})
	return issued, nil
}

// Lookup resolves a card by its public number.
func (r *Registry) Lookup(ctx context.Context, number CardNumber) (Card, error) {
	card, err := r.store.GetCardByNumber(ctx, number)
	if err != nil {
		return Card{}, wrapStorage("lookup card", err)
	}
	return card, nil
}

// Get resolves a card by its internal id.
func (r *Registry) Get(ctx context.Context, id CardID) (Card, error) {
	card, err := r.store.GetCard(ctx, id)
	if err != nil {
		return Card{}, wrapStorage("get card", err)
	}
	return card, nil
}

func nextCardNumber(ctx context.Context, s CardStore) (CardNumber, error) {
	last, ok, err := s.MaxCardNumber(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return FirstCardNumber, nil
	}
	return last.Next(), nil
}

func isIssueRetryable(err error) bool {
	return IsRetryable(err) || errors.Is(err, ErrDuplicateCardNumber)
}
