package cards_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/card-ledger/cards"
	"github.com/warp/card-ledger/cards/store"
	"github.com/warp/card-ledger/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func fastRetry() cards.RetryPolicy {
	return cards.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
}

func newMemoryStore() cards.TxStore { return store.NewTxMemory() }

// backends runs fn once per store implementation.
func backends(t *testing.T, fn func(t *testing.T, st cards.TxStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewTxMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

// env wires every service over one store, the way cmd/server does.
type env struct {
	store    cards.TxStore
	holders  *cards.Holders
	registry *cards.Registry
	ledger   *cards.Ledger
	oplog    *cards.OperationLog
	reports  *cards.Reports
	events   *recordingNotifier
}

func newEnv(st cards.TxStore, extra ...cards.Option) *env {
	events := &recordingNotifier{}
	opts := append([]cards.Option{
		cards.WithClock(fixedClock),
		cards.WithRetryPolicy(fastRetry()),
		cards.WithNotifier(events),
	}, extra...)

	oplog := cards.NewOperationLog(st, opts...)
	ledger := cards.NewLedger(st, opts...)
	return &env{
		store:    st,
		holders:  cards.NewHolders(st, opts...),
		registry: cards.NewRegistry(st, oplog, opts...),
		ledger:   ledger,
		oplog:    oplog,
		reports:  cards.NewReports(st, ledger, opts...),
		events:   events,
	}
}

func (e *env) holder(t *testing.T, last string) cards.Holder {
	t.Helper()
	h, err := e.holders.Register(context.Background(), cards.NewHolder{
		FirstName:   "Ivan",
		LastName:    last,
		Patronymic:  "Petrovich",
		PhoneNumber: 79990001122,
	})
	require.NoError(t, err)
	return h
}

func (e *env) card(t *testing.T, holder cards.HolderID) cards.Card {
	t.Helper()
	c, err := e.registry.Issue(context.Background(), holder)
	require.NoError(t, err)
	return c
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []cards.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, e cards.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) kinds() []cards.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]cards.EventKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errInjected = errors.New("injected storage failure")

// failingAppendStore lets the balance update through and then fails the
// transaction insert inside the same unit.
type failingAppendStore struct {
	cards.TxStore
}

func (f failingAppendStore) WithTx(ctx context.Context, fn func(cards.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s cards.Store) error {
		return fn(appendFails{Store: s})
	})
}

type appendFails struct {
	cards.Store
}

func (appendFails) AppendTransaction(context.Context, cards.Transaction) error {
	return errInjected
}

// conflictingStore fails the first n units with a retryable conflict.
type conflictingStore struct {
	cards.TxStore
	remaining atomic.Int32
	calls     atomic.Int32
}

func newConflictingStore(st cards.TxStore, n int32) *conflictingStore {
	c := &conflictingStore{TxStore: st}
	c.remaining.Store(n)
	return c
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(cards.Store) error) error {
	c.calls.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return &cards.StorageError{Op: "commit", Err: errors.Join(cards.ErrConflict, errors.New("database is locked"))}
	}
	return c.TxStore.WithTx(ctx, fn)
}

// staleNumberStore hides existing cards from MaxCardNumber for one unit.
type staleNumberStore struct {
	cards.TxStore
	stale atomic.Bool
}

func (s *staleNumberStore) WithTx(ctx context.Context, fn func(cards.Store) error) error {
	return s.TxStore.WithTx(ctx, func(inner cards.Store) error {
		if s.stale.CompareAndSwap(true, false) {
			return fn(noCardsYet{Store: inner})
		}
		return fn(inner)
	})
}

type noCardsYet struct {
	cards.Store
}

func (noCardsYet) MaxCardNumber(context.Context) (cards.CardNumber, bool, error) {
	return 0, false, nil
}
