package cards_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/card-ledger/cards"
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioA_EnrollThenWriteOff(t *testing.T) {
	// GIVEN: A freshly issued card (balance 0)
	// WHEN: ENROLLMENT 500 then WRITE_OFF 200 are applied
	// THEN: Balance is 500 then 300, with one then two transactions recorded

	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)
		assert.Zero(t, card.Balance)

		tx, err := e.ledger.Apply(ctx, card.Number, 500, cards.Enrollment)
		require.NoError(t, err)
		assert.Equal(t, cards.Enrollment, tx.Type)
		assert.Equal(t, int64(500), tx.Amount)
		assert.Equal(t, card.ID, tx.CardID)

		bal, err := e.reports.GetBalance(ctx, card.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(500), bal.Amount)

		txs, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, cards.Enrollment, txs[0].Type)
		assert.Equal(t, int64(500), txs[0].Amount)

		_, err = e.ledger.Apply(ctx, card.Number, 200, cards.WriteOff)
		require.NoError(t, err)

		bal, err = e.reports.GetBalance(ctx, card.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(300), bal.Amount)

		txs, err = e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, txs, 2)
	})
}

func TestScenarioD_WriteOffBeyondBalance_GoesNegative(t *testing.T) {
	// GIVEN: A card with balance 100
	// WHEN: A WRITE_OFF of 250 is applied
	// THEN: It succeeds and the balance becomes -150 (no funds check)

	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)

		_, err := e.ledger.Enroll(ctx, card.Number, 100)
		require.NoError(t, err)

		_, err = e.ledger.WriteOff(ctx, card.Number, 250)
		require.NoError(t, err)

		got, err := e.registry.Lookup(ctx, card.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(-150), got.Balance)
	})
}

// =============================================================================
// INVARIANT
// =============================================================================

func TestApply_BalanceEqualsSignedSum(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		h := e.holder(t, "Sidorov")
		a := e.card(t, h.ID)
		b := e.card(t, h.ID)

		steps := []struct {
			card   cards.Card
			amount int64
			typ    cards.TransactionType
		}{
			{a, 1000, cards.Enrollment},
			{b, 70, cards.Enrollment},
			{a, 333, cards.WriteOff},
			{a, 1, cards.WriteOff},
			{b, 900, cards.WriteOff},
			{a, 45, cards.Enrollment},
		}
		for _, s := range steps {
			_, err := e.ledger.Apply(ctx, s.card.Number, s.amount, s.typ)
			require.NoError(t, err)
		}

		for _, c := range []cards.Card{a, b} {
			got, err := e.registry.Lookup(ctx, c.Number)
			require.NoError(t, err)
			txs, err := e.ledger.ListTransactions(ctx, c.Number, cards.ListOptions{})
			require.NoError(t, err)
			assert.Equal(t, cards.SumSigned(txs), got.Balance)
		}

		recs, err := e.reports.ReconcileAll(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		for _, r := range recs {
			assert.True(t, r.Consistent, "card %s drifted by %d", r.Number, r.Drift())
		}
	})
}

func TestApply_ConcurrentUpdatesKeepInvariant(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				typ := cards.Enrollment
				if i%4 == 0 {
					typ = cards.WriteOff
				}
				_, err := e.ledger.Apply(ctx, card.Number, int64(10+i), typ)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		rec, err := e.reports.Reconcile(ctx, card.Number)
		require.NoError(t, err)
		assert.True(t, rec.Consistent)

		txs, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, txs, 20)
	})
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestApply_FailureAfterBalanceUpdate_CommitsNothing(t *testing.T) {
	// GIVEN: A card with balance 500
	// WHEN: The transaction insert fails after the balance was adjusted
	// THEN: Apply fails and neither the balance nor the log changed

	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)
		_, err := e.ledger.Enroll(ctx, card.Number, 500)
		require.NoError(t, err)

		broken := cards.NewLedger(failingAppendStore{TxStore: st}, cards.WithRetryPolicy(fastRetry()))
		_, err = broken.Apply(ctx, card.Number, 200, cards.WriteOff)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errInjected))
		assert.True(t, errors.Is(err, cards.ErrStorage))

		got, err := e.registry.Lookup(ctx, card.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(500), got.Balance)

		txs, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})
}

func TestApply_RetriesConflicts(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)

		flaky := newConflictingStore(st, 2)
		ledger := cards.NewLedger(flaky, cards.WithRetryPolicy(fastRetry()))

		_, err := ledger.Enroll(ctx, card.Number, 40)
		require.NoError(t, err)
		assert.Equal(t, int32(3), flaky.calls.Load())

		got, err := e.registry.Lookup(ctx, card.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(40), got.Balance)
	})
}

func TestApply_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(newMemoryStore())
	card := e.card(t, e.holder(t, "Sidorov").ID)

	flaky := newConflictingStore(e.store, 100)
	ledger := cards.NewLedger(flaky, cards.WithRetryPolicy(cards.RetryPolicy{MaxAttempts: 3}))

	_, err := ledger.Enroll(ctx, card.Number, 40)
	require.Error(t, err)
	assert.True(t, cards.IsRetryable(err))
	assert.Equal(t, int32(3), flaky.calls.Load())
}

// =============================================================================
// VALIDATION & LOOKUP
// =============================================================================

func TestApply_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	e := newEnv(newMemoryStore())
	card := e.card(t, e.holder(t, "Sidorov").ID)

	cases := []struct {
		name   string
		amount int64
		typ    cards.TransactionType
		field  string
	}{
		{"zero amount", 0, cards.Enrollment, "amount"},
		{"negative amount", -5, cards.WriteOff, "amount"},
		{"unknown type", 10, cards.TransactionType("REFUND"), "transaction_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.ledger.Apply(ctx, card.Number, tc.amount, tc.typ)
			var verr *cards.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	txs, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, txs, "rejected input must not write")
}

func TestApply_UnknownCard(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		e := newEnv(st)
		_, err := e.ledger.Enroll(context.Background(), 999999, 10)
		var nf *cards.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "card", nf.Resource)
		assert.Empty(t, e.events.kinds())
	})
}

func TestApply_RejectsBalanceOverflow(t *testing.T) {
	// GIVEN: A card at the int64 ceiling and a card one above the floor
	// WHEN: Another credit or debit would cross the range
	// THEN: A ValidationError on amount is returned and nothing is written

	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		holder := e.holder(t, "Sidorov").ID

		rich := e.card(t, holder)
		_, err := e.ledger.Enroll(ctx, rich.Number, math.MaxInt64)
		require.NoError(t, err)

		_, err = e.ledger.Enroll(ctx, rich.Number, 1)
		var verr *cards.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "amount", verr.Field)

		bal, err := e.reports.GetBalance(ctx, rich.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), bal.Amount)
		txs, err := e.ledger.ListTransactions(ctx, rich.Number, cards.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, txs, 1)

		poor := e.card(t, holder)
		_, err = e.ledger.WriteOff(ctx, poor.Number, math.MaxInt64)
		require.NoError(t, err)

		_, err = e.ledger.WriteOff(ctx, poor.Number, 2)
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "amount", verr.Field)

		_, err = e.ledger.WriteOff(ctx, poor.Number, 1)
		require.NoError(t, err, "reaching MinInt64 exactly is allowed")

		bal, err = e.reports.GetBalance(ctx, poor.Number)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MinInt64), bal.Amount)
		txs, err = e.ledger.ListTransactions(ctx, poor.Number, cards.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, txs, 2)
	})
}

func TestPost_ReturnsPostCommitCard(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)

		_, err := e.ledger.Enroll(ctx, card.Number, 500)
		require.NoError(t, err)

		receipt, err := e.ledger.Post(ctx, card.Number, 120, cards.WriteOff)
		require.NoError(t, err)
		assert.Equal(t, card.ID, receipt.Card.ID)
		assert.Equal(t, card.Number, receipt.Card.Number)
		assert.Equal(t, int64(380), receipt.Card.Balance)
		assert.Equal(t, cards.WriteOff, receipt.Transaction.Type)
		assert.Equal(t, int64(120), receipt.Transaction.Amount)

		_, err = e.ledger.Post(ctx, 999999, 1, cards.Enrollment)
		assert.True(t, cards.IsNotFound(err))
	})
}

func TestListTransactions_OrderAndLimit(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		card := e.card(t, e.holder(t, "Sidorov").ID)
		for _, amount := range []int64{1, 2, 3, 4} {
			_, err := e.ledger.Enroll(ctx, card.Number, amount)
			require.NoError(t, err)
		}

		amounts := func(txs []cards.Transaction) []int64 {
			out := make([]int64, 0, len(txs))
			for _, tx := range txs {
				out = append(out, tx.Amount)
			}
			return out
		}

		first, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, amounts(first))

		recent, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{Limit: 3, Order: cards.OrderDescending})
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3, 2}, amounts(recent))

		all, err := e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 4}, amounts(all))

		_, err = e.ledger.ListTransactions(ctx, card.Number, cards.ListOptions{Limit: -1})
		assert.True(t, cards.IsValidation(err))
	})
}

func TestApply_PublishesEventAfterCommit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(newMemoryStore())
	card := e.card(t, e.holder(t, "Sidorov").ID)

	tx, err := e.ledger.Enroll(ctx, card.Number, 75)
	require.NoError(t, err)

	require.Equal(t, []cards.EventKind{cards.EventCardIssued, cards.EventTransactionApplied}, e.events.kinds())
	applied := e.events.events[1]
	require.NotNil(t, applied.Transaction)
	assert.Equal(t, tx.ID, applied.Transaction.ID)
	assert.Equal(t, int64(75), applied.Card.Balance)
}

func TestApply_NotifierFailureDoesNotUndoCommit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(newMemoryStore())
	e.events.err = errors.New("broker down")
	card := e.card(t, e.holder(t, "Sidorov").ID)

	_, err := e.ledger.Enroll(ctx, card.Number, 75)
	require.NoError(t, err)

	got, err := e.registry.Lookup(ctx, card.Number)
	require.NoError(t, err)
	assert.Equal(t, int64(75), got.Balance)
}
