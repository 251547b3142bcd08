package cards

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Balance is the cached balance of a card at a point in time.
type Balance struct {
	Number CardNumber
	Amount int64
	AsOf   time.Time
}

// Reconciliation compares the cached balance with the transaction sum.
type Reconciliation struct {
	Number     CardNumber
	CardID     CardID
	Cached     int64
	Computed   int64
	Consistent bool
}

// Drift is cached minus computed; zero when consistent.
func (r Reconciliation) Drift() int64 { return r.Cached - r.Computed }

// Reports is the read-only façade used by the API layer.
type Reports struct {
	store  TxStore
	ledger *Ledger
	opts   options
}

func NewReports(store TxStore, ledger *Ledger, opts ...Option) *Reports {
	return &Reports{store: store, ledger: ledger, opts: buildOptions(opts)}
}

// GetBalance returns the cached balance without recomputing it.
func (r *Reports) GetBalance(ctx context.Context, number CardNumber) (Balance, error) {
	card, err := r.store.GetCardByNumber(ctx, number)
	if err != nil {
		return Balance{}, wrapStorage("lookup card", err)
	}
	return Balance{Number: card.Number, Amount: card.Balance, AsOf: r.opts.clock()}, nil
}

// ListTransactions delegates to the ledger.
func (r *Reports) ListTransactions(ctx context.Context, number CardNumber, opts ListOptions) ([]Transaction, error) {
	return r.ledger.ListTransactions(ctx, number, opts)
}

// Reconcile recomputes the card's balance from its transactions.
func (r *Reports) Reconcile(ctx context.Context, number CardNumber) (Reconciliation, error) {
	var rec Reconciliation
	err := r.store.WithTx(ctx, func(s Store) error {
		card, err := s.GetCardByNumber(ctx, number)
		if err != nil {
			return err
		}
		rec, err = reconcile(ctx, s, card)
		return err
	})
	if err != nil {
		return Reconciliation{}, wrapStorage("reconcile card", err)
	}
	r.warnIfDrifted(rec)
	return rec, nil
}

// ReconcileAll checks every card in issue order.
func (r *Reports) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	var out []Reconciliation
	err := r.store.WithTx(ctx, func(s Store) error {
		all, err := s.ListCards(ctx, "")
		if err != nil {
			return err
		}
		out = make([]Reconciliation, 0, len(all))
		for _, card := range all {
			rec, err := reconcile(ctx, s, card)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("reconcile cards", err)
	}
	for _, rec := range out {
		r.warnIfDrifted(rec)
	}
	return out, nil
}

func reconcile(ctx context.Context, s Store, card Card) (Reconciliation, error) {
	sum, err := s.SumTransactions(ctx, card.ID)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{
		Number:     card.Number,
		CardID:     card.ID,
		Cached:     card.Balance,
		Computed:   sum,
		Consistent: card.Balance == sum,
	}, nil
}

func (r *Reports) warnIfDrifted(rec Reconciliation) {
	if rec.Consistent {
		return
	}
	r.opts.logger.WithFields(logrus.Fields{
		"card_number": rec.Number,
		"cached":      rec.Cached,
		"computed":    rec.Computed,
	}).Warn("card balance drifted from transaction sum")
}
