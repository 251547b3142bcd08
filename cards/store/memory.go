// Package store provides in-process cards.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/card-ledger/cards"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one RWMutex.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

// memoryData is the unlocked state. Callers hold Memory.mu.
type memoryData struct {
	holders    map[cards.HolderID]cards.Holder
	cards      map[cards.CardID]cards.Card
	cardOrder  []cards.CardID
	byNumber   map[cards.CardNumber]cards.CardID
	txs        map[cards.CardID][]cards.Transaction
	operations map[cards.CardID][]cards.Operation
}

func newMemoryData() *memoryData {
	return &memoryData{
		holders:    make(map[cards.HolderID]cards.Holder),
		cards:      make(map[cards.CardID]cards.Card),
		byNumber:   make(map[cards.CardNumber]cards.CardID),
		txs:        make(map[cards.CardID][]cards.Transaction),
		operations: make(map[cards.CardID][]cards.Operation),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func (m *Memory) InsertHolder(ctx context.Context, h cards.Holder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertHolder(ctx, h)
}

func (m *Memory) GetHolder(ctx context.Context, id cards.HolderID) (cards.Holder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetHolder(ctx, id)
}

func (m *Memory) ListHolders(ctx context.Context) ([]cards.Holder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListHolders(ctx)
}

func (m *Memory) DeleteHolder(ctx context.Context, id cards.HolderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteHolder(ctx, id)
}

func (m *Memory) InsertCard(ctx context.Context, c cards.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertCard(ctx, c)
}

func (m *Memory) GetCard(ctx context.Context, id cards.CardID) (cards.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetCard(ctx, id)
}

func (m *Memory) GetCardByNumber(ctx context.Context, n cards.CardNumber) (cards.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetCardByNumber(ctx, n)
}

func (m *Memory) ListCards(ctx context.Context, holder cards.HolderID) ([]cards.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListCards(ctx, holder)
}

func (m *Memory) MaxCardNumber(ctx context.Context) (cards.CardNumber, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.MaxCardNumber(ctx)
}

func (m *Memory) AdjustBalance(ctx context.Context, id cards.CardID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AdjustBalance(ctx, id, delta)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx cards.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendTransaction(ctx, tx)
}

func (m *Memory) ListTransactions(ctx context.Context, card cards.CardID, opts cards.ListOptions) ([]cards.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTransactions(ctx, card, opts)
}

func (m *Memory) SumTransactions(ctx context.Context, card cards.CardID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.SumTransactions(ctx, card)
}

func (m *Memory) AppendOperation(ctx context.Context, op cards.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendOperation(ctx, op)
}

func (m *Memory) ListOperations(ctx context.Context, card cards.CardID) ([]cards.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListOperations(ctx, card)
}

// =============================================================================
// UNLOCKED STATE
// =============================================================================

func (d *memoryData) InsertHolder(_ context.Context, h cards.Holder) error {
	if _, ok := d.holders[h.ID]; ok {
		return &cards.StorageError{Op: "insert holder", Err: fmt.Errorf("holder %s already exists", h.ID)}
	}
	d.holders[h.ID] = h
	return nil
}

func (d *memoryData) GetHolder(_ context.Context, id cards.HolderID) (cards.Holder, error) {
	h, ok := d.holders[id]
	if !ok {
		return cards.Holder{}, &cards.NotFoundError{Resource: "holder", Key: string(id)}
	}
	return h, nil
}

func (d *memoryData) ListHolders(_ context.Context) ([]cards.Holder, error) {
	out := make([]cards.Holder, 0, len(d.holders))
	for _, h := range d.holders {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		if a.Patronymic != b.Patronymic {
			return a.Patronymic < b.Patronymic
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (d *memoryData) DeleteHolder(_ context.Context, id cards.HolderID) error {
	if _, ok := d.holders[id]; !ok {
		return &cards.NotFoundError{Resource: "holder", Key: string(id)}
	}
	delete(d.holders, id)

	kept := d.cardOrder[:0]
	for _, cid := range d.cardOrder {
		c := d.cards[cid]
		if c.HolderID != id {
			kept = append(kept, cid)
			continue
		}
		delete(d.cards, cid)
		delete(d.byNumber, c.Number)
		delete(d.txs, cid)
		delete(d.operations, cid)
	}
	d.cardOrder = kept
	return nil
}

func (d *memoryData) InsertCard(_ context.Context, c cards.Card) error {
	if _, ok := d.holders[c.HolderID]; !ok {
		return &cards.NotFoundError{Resource: "holder", Key: string(c.HolderID)}
	}
	if _, ok := d.byNumber[c.Number]; ok {
		return fmt.Errorf("insert card %s: %w", c.Number, cards.ErrDuplicateCardNumber)
	}
	if _, ok := d.cards[c.ID]; ok {
		return &cards.StorageError{Op: "insert card", Err: fmt.Errorf("card %s already exists", c.ID)}
	}
	d.cards[c.ID] = c
	d.byNumber[c.Number] = c.ID
	d.cardOrder = append(d.cardOrder, c.ID)
	return nil
}

func (d *memoryData) GetCard(_ context.Context, id cards.CardID) (cards.Card, error) {
	c, ok := d.cards[id]
	if !ok {
		return cards.Card{}, &cards.NotFoundError{Resource: "card", Key: string(id)}
	}
	return c, nil
}

func (d *memoryData) GetCardByNumber(_ context.Context, n cards.CardNumber) (cards.Card, error) {
	id, ok := d.byNumber[n]
	if !ok {
		return cards.Card{}, &cards.NotFoundError{Resource: "card", Key: n.String()}
	}
	return d.cards[id], nil
}

func (d *memoryData) ListCards(_ context.Context, holder cards.HolderID) ([]cards.Card, error) {
	out := make([]cards.Card, 0, len(d.cardOrder))
	for _, id := range d.cardOrder {
		c := d.cards[id]
		if holder == "" || c.HolderID == holder {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *memoryData) MaxCardNumber(_ context.Context) (cards.CardNumber, bool, error) {
	var (
		max   cards.CardNumber
		found bool
	)
	for n := range d.byNumber {
		if !found || n > max {
			max, found = n, true
		}
	}
	return max, found, nil
}

func (d *memoryData) AdjustBalance(_ context.Context, id cards.CardID, delta int64) (int64, error) {
	c, ok := d.cards[id]
	if !ok {
		return 0, &cards.NotFoundError{Resource: "card", Key: string(id)}
	}
	c.Balance += delta
	d.cards[id] = c
	return c.Balance, nil
}

func (d *memoryData) AppendTransaction(_ context.Context, tx cards.Transaction) error {
	if _, ok := d.cards[tx.CardID]; !ok {
		return &cards.NotFoundError{Resource: "card", Key: string(tx.CardID)}
	}
	d.txs[tx.CardID] = append(d.txs[tx.CardID], tx)
	return nil
}

func (d *memoryData) ListTransactions(_ context.Context, card cards.CardID, opts cards.ListOptions) ([]cards.Transaction, error) {
	src := d.txs[card]
	out := make([]cards.Transaction, len(src))
	if opts.Order == cards.OrderDescending {
		for i, tx := range src {
			out[len(src)-1-i] = tx
		}
	} else {
		copy(out, src)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (d *memoryData) SumTransactions(_ context.Context, card cards.CardID) (int64, error) {
	return cards.SumSigned(d.txs[card]), nil
}

func (d *memoryData) AppendOperation(_ context.Context, op cards.Operation) error {
	if _, ok := d.cards[op.CardID]; !ok {
		return &cards.NotFoundError{Resource: "card", Key: string(op.CardID)}
	}
	d.operations[op.CardID] = append(d.operations[op.CardID], op)
	return nil
}

func (d *memoryData) ListOperations(_ context.Context, card cards.CardID) ([]cards.Operation, error) {
	return append([]cards.Operation{}, d.operations[card]...), nil
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.holders {
		c.holders[k] = v
	}
	for k, v := range d.cards {
		c.cards[k] = v
	}
	for k, v := range d.byNumber {
		c.byNumber[k] = v
	}
	for k, v := range d.txs {
		c.txs[k] = append([]cards.Transaction{}, v...)
	}
	for k, v := range d.operations {
		c.operations[k] = append([]cards.Operation{}, v...)
	}
	c.cardOrder = append([]cards.CardID{}, d.cardOrder...)
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// Units are serialized; rollback restores a snapshot taken before fn ran.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(cards.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := tm.data.clone()
	if err := fn(tm.data); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

var (
	_ cards.Store   = (*Memory)(nil)
	_ cards.TxStore = (*TxMemory)(nil)
)
