package cards

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// EVENTS - Post-commit notifications
// =============================================================================

type EventKind string

const (
	EventCardIssued         EventKind = "card.issued"
	EventTransactionApplied EventKind = "transaction.applied"
)

// Event describes a committed ledger change. Transaction is set for
// EventTransactionApplied; Card always carries the post-commit snapshot.
type Event struct {
	Kind        EventKind
	Card        Card
	Transaction *Transaction
	OccurredAt  time.Time
}

// Notifier receives events after commit. Its failures are logged and never
// undo the committed change.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// CardObserver is told about a card inside the issuing store transaction.
// Returning an error rolls the issuance back.
type CardObserver interface {
	CardIssued(ctx context.Context, s Store, card Card) error
}

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	clock    Clock
	newID    func() string
	logger   logrus.FieldLogger
	retry    RetryPolicy
	notifier Notifier
}

// Option configures the ledger services.
type Option func(*options)

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator overrides uuid generation for records.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithLogger sets the logger used for retries and notifier failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryPolicy sets the backoff used around store transactions.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithNotifier registers the post-commit event sink.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  SystemClock,
		newID:  uuid.NewString,
		retry:  DefaultRetryPolicy(),
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (o options) notify(ctx context.Context, e Event) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, e); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"event":       e.Kind,
			"card_number": e.Card.Number,
		}).Warn("ledger event not published")
	}
}

func (o options) logRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
		}).Warn("retrying after store conflict")
	}
}
