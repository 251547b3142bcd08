package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/warp/card-ledger/cards"
)

// LogNotifier writes one Info line per event.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, e cards.Event) error {
	fields := logrus.Fields{
		"event":       e.Kind,
		"card_number": e.Card.Number,
		"balance":     e.Card.Balance,
	}
	if e.Transaction != nil {
		fields["transaction_type"] = e.Transaction.Type
		fields["amount"] = e.Transaction.Amount
	}
	n.log.WithFields(fields).Info("ledger event")
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []cards.Notifier

func (m Multi) Notify(ctx context.Context, e cards.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ cards.Notifier = (*LogNotifier)(nil)
	_ cards.Notifier = Multi(nil)
)
