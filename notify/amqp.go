/*
Package notify publishes committed ledger events.

PURPOSE:
  Implements cards.Notifier. The ledger calls Notify after a unit commits;
  a failure here is logged by the caller and never undoes the change.

IMPLEMENTATIONS:
  AMQPPublisher: JSON messages on a durable topic exchange (RabbitMQ)
  LogNotifier:   Structured log line per event (default when no broker)
  Multi:         Fan-out to several notifiers

ROUTING:
  routing key = event kind ("card.issued", "transaction.applied")

RECONNECT:
  DialAMQP publishers watch the connection and redial after a drop
  (up to 10 attempts, growing delay). A publish that finds the channel
  closed redials once before giving up.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/warp/card-ledger/cards"
)

const publishTimeout = 5 * time.Second

// Message is the wire payload of a ledger event.
type Message struct {
	Event       string              `json:"event"`
	CardID      string              `json:"card_id"`
	CardNumber  int64               `json:"card_number"`
	HolderID    string              `json:"holder_id"`
	Balance     int64               `json:"balance"`
	Transaction *TransactionMessage `json:"transaction,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

type TransactionMessage struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// NewMessage converts an event into its wire form.
func NewMessage(e cards.Event) Message {
	m := Message{
		Event:      string(e.Kind),
		CardID:     string(e.Card.ID),
		CardNumber: int64(e.Card.Number),
		HolderID:   string(e.Card.HolderID),
		Balance:    e.Card.Balance,
		OccurredAt: e.OccurredAt,
	}
	if e.Transaction != nil {
		m.Transaction = &TransactionMessage{
			ID:     string(e.Transaction.ID),
			Type:   string(e.Transaction.Type),
			Amount: e.Transaction.Amount,
		}
	}
	return m
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a connection and a channel. closed fires when the
// connection drops.
type dialFunc func() (ch channel, conn io.Closer, closed <-chan *amqp.Error, err error)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
)

// AMQPPublisher publishes events to a topic exchange. When it was built by
// DialAMQP it reconnects after the broker drops the connection.
type AMQPPublisher struct {
	exchange string
	log      logrus.FieldLogger

	dial           dialFunc
	reconnectDelay time.Duration
	done           chan struct{}

	mu     sync.Mutex
	ch     channel
	conn   io.Closer
	closed bool
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	return newDialingPublisher(func() (channel, io.Closer, <-chan *amqp.Error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, nil, fmt.Errorf("failed to open channel: %w", err)
		}
		return ch, conn, conn.NotifyClose(make(chan *amqp.Error, 1)), nil
	}, exchange, log)
}

func newDialingPublisher(dial dialFunc, exchange string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		exchange:       exchange,
		log:            log,
		dial:           dial,
		reconnectDelay: reconnectDelay,
		done:           make(chan struct{}),
	}

	p.mu.Lock()
	err := p.connectLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewAMQPPublisher declares the exchange on an open channel. The result
// does not reconnect.
func NewAMQPPublisher(ch channel, exchange string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, log: log, done: make(chan struct{})}, nil
}

func declareExchange(ch channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// connectLocked dials, declares the exchange and starts watching the
// connection. p.mu must be held.
func (p *AMQPPublisher) connectLocked() error {
	ch, conn, closed, err := p.dial()
	if err != nil {
		return err
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.ch, p.conn = ch, conn
	p.log.WithField("exchange", p.exchange).Info("connected to RabbitMQ")

	if closed != nil {
		go p.watch(conn, closed)
	}
	return nil
}

// watch waits for conn to drop and then reconnects in the background.
func (p *AMQPPublisher) watch(conn io.Closer, closed <-chan *amqp.Error) {
	select {
	case err := <-closed:
		if err == nil {
			// Closed by us.
			return
		}
		p.log.WithError(err).Error("RabbitMQ connection closed unexpectedly")

		p.mu.Lock()
		if p.conn == conn {
			p.dropLocked()
		}
		p.mu.Unlock()

		p.reconnect()
	case <-p.done:
	}
}

func (p *AMQPPublisher) reconnect() {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		p.mu.Lock()
		if p.closed || p.ch != nil {
			p.mu.Unlock()
			return
		}
		p.log.WithField("attempt", attempt).Info("attempting to reconnect to RabbitMQ")
		err := p.connectLocked()
		p.mu.Unlock()
		if err == nil {
			return
		}

		delay := p.reconnectDelay * time.Duration(attempt)
		p.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-p.done:
			return
		}
	}
	p.log.Error("max reconnection attempts reached, publishing will redial on demand")
}

func (p *AMQPPublisher) dropLocked() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Notify implements cards.Notifier.
func (p *AMQPPublisher) Notify(ctx context.Context, e cards.Event) error {
	body, err := jsoniter.ConfigFastest.Marshal(NewMessage(e))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("failed to publish %s: %w", e.Kind, amqp.ErrClosed)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    e.OccurredAt,
		Type:         string(e.Kind),
		Body:         body,
	}

	err = p.publishLocked(ctx, string(e.Kind), msg)
	if errors.Is(err, amqp.ErrClosed) && p.dial != nil {
		p.dropLocked()
		err = p.publishLocked(ctx, string(e.Kind), msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Kind, err)
	}

	p.log.WithFields(logrus.Fields{
		"event":       e.Kind,
		"card_number": e.Card.Number,
	}).Debug("event published")
	return nil
}

// publishLocked redials first when the channel is gone.
func (p *AMQPPublisher) publishLocked(ctx context.Context, key string, msg amqp.Publishing) error {
	if p.ch == nil {
		if p.dial == nil {
			return amqp.ErrClosed
		}
		if err := p.connectLocked(); err != nil {
			return err
		}
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
}

// Close stops reconnecting and closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	p.ch, p.conn = nil, nil
	return err
}

var _ cards.Notifier = (*AMQPPublisher)(nil)
