package cards

import (
	"context"
	"fmt"
)

// OperationLog is the audit trail of card lifecycle events.
// It records CREATE when registered as the Registry's CardObserver.
// Nothing records DELETE today: holder deletion cascades without an entry.
type OperationLog struct {
	store TxStore
	opts  options
}

func NewOperationLog(store TxStore, opts ...Option) *OperationLog {
	return &OperationLog{store: store, opts: buildOptions(opts)}
}

// Record appends an operation for the card.
func (o *OperationLog) Record(ctx context.Context, card CardID, typ OperationType) (Operation, error) {
	var op Operation
	err := o.store.WithTx(ctx, func(s Store) error {
		var err error
		op, err = o.record(ctx, s, card, typ)
		return err
	})
	if err != nil {
		return Operation{}, wrapStorage("record operation", err)
	}
	return op, nil
}

// CardIssued implements CardObserver.
func (o *OperationLog) CardIssued(ctx context.Context, s Store, card Card) error {
	_, err := o.record(ctx, s, card.ID, OperationCreate)
	return err
}

// List returns the card's operations oldest first.
func (o *OperationLog) List(ctx context.Context, number CardNumber) ([]Operation, error) {
	card, err := o.store.GetCardByNumber(ctx, number)
	if err != nil {
		return nil, wrapStorage("lookup card", err)
	}
	ops, err := o.store.ListOperations(ctx, card.ID)
	if err != nil {
		return nil, wrapStorage("list operations", err)
	}
	return ops, nil
}

func (o *OperationLog) record(ctx context.Context, s Store, card CardID, typ OperationType) (Operation, error) {
	if !typ.Valid() {
		return Operation{}, &ValidationError{Field: "operation_type", Reason: fmt.Sprintf("unknown type %q", typ)}
	}
	if _, err := s.GetCard(ctx, card); err != nil {
		return Operation{}, err
	}

	op := Operation{
		ID:        OperationID(o.opts.newID()),
		CardID:    card,
		Type:      typ,
		CreatedAt: o.opts.clock(),
	}
	if err := s.AppendOperation(ctx, op); err != nil {
		return Operation{}, err
	}
	return op, nil
}
