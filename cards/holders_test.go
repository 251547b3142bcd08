package cards_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/card-ledger/cards"
)

func TestHolders_RegisterTrimsAndStores(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)

		h, err := e.holders.Register(ctx, cards.NewHolder{
			FirstName:   "  Anna ",
			LastName:    "Ivanova",
			PhoneNumber: 79001234567,
		})
		require.NoError(t, err)
		assert.Equal(t, "Anna", h.FirstName)
		assert.Equal(t, "Ivanova Anna", h.FullName())

		got, err := e.holders.Get(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	})
}

func TestHolders_Validation(t *testing.T) {
	e := newEnv(newMemoryStore())
	valid := cards.NewHolder{FirstName: "Anna", LastName: "Ivanova", PhoneNumber: 1}

	cases := []struct {
		name  string
		edit  func(*cards.NewHolder)
		field string
	}{
		{"missing first name", func(h *cards.NewHolder) { h.FirstName = " " }, "first_name"},
		{"missing last name", func(h *cards.NewHolder) { h.LastName = "" }, "last_name"},
		{"first name too long", func(h *cards.NewHolder) { h.FirstName = strings.Repeat("я", 51) }, "first_name"},
		{"last name too long", func(h *cards.NewHolder) { h.LastName = strings.Repeat("a", 101) }, "last_name"},
		{"patronymic too long", func(h *cards.NewHolder) { h.Patronymic = strings.Repeat("a", 101) }, "patronymic"},
		{"phone not positive", func(h *cards.NewHolder) { h.PhoneNumber = 0 }, "phone_number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.edit(&req)
			_, err := e.holders.Register(context.Background(), req)
			var verr *cards.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	all, err := e.holders.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHolders_ListAndCards(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		s := e.holder(t, "Sidorov")
		a := e.holder(t, "Abramov")
		c1 := e.card(t, s.ID)
		e.card(t, a.ID)
		c3 := e.card(t, s.ID)

		list, err := e.holders.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a.ID, list[0].ID)
		assert.Equal(t, s.ID, list[1].ID)

		owned, err := e.holders.Cards(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, owned, 2)
		assert.Equal(t, c1.Number, owned[0].Number)
		assert.Equal(t, c3.Number, owned[1].Number)

		_, err = e.holders.Cards(ctx, "missing")
		assert.True(t, cards.IsNotFound(err))
	})
}

func TestHolders_DeleteCascadesToCards(t *testing.T) {
	backends(t, func(t *testing.T, st cards.TxStore) {
		ctx := context.Background()
		e := newEnv(st)
		h := e.holder(t, "Sidorov")
		card := e.card(t, h.ID)
		_, err := e.ledger.Enroll(ctx, card.Number, 10)
		require.NoError(t, err)

		require.NoError(t, e.holders.Delete(ctx, h.ID))

		_, err = e.registry.Lookup(ctx, card.Number)
		assert.True(t, cards.IsNotFound(err))
		_, err = e.holders.Get(ctx, h.ID)
		assert.True(t, cards.IsNotFound(err))
		assert.True(t, cards.IsNotFound(e.holders.Delete(ctx, h.ID)))
	})
}
