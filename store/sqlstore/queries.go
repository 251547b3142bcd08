package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"github.com/warp/card-ledger/cards"
)

var (
	holderCols      = []any{"id", "first_name", "last_name", "patronymic", "phone_number", "created_at"}
	cardCols        = []any{"id", "card_number", "balance", "holder_id", "created_at"}
	transactionCols = []any{"id", "card_id", "transaction_type", "amount", "created_at"}
	operationCols   = []any{"id", "card_id", "operation_type", "created_at"}
)

// conn runs the cards.Store queries against a *sqlx.DB or a *sqlx.Tx.
type conn struct {
	q       sqlx.ExtContext
	dialect goqu.DialectWrapper
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (c *conn) get(ctx context.Context, op string, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return &cards.StorageError{Op: op, Err: err}
	}
	if err := sqlx.GetContext(ctx, c.q, dest, query, args...); err != nil {
		return classify(op, err)
	}
	return nil
}

func (c *conn) selectAll(ctx context.Context, op string, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return &cards.StorageError{Op: op, Err: err}
	}
	if err := sqlx.SelectContext(ctx, c.q, dest, query, args...); err != nil {
		return classify(op, err)
	}
	return nil
}

func (c *conn) exec(ctx context.Context, op string, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, &cards.StorageError{Op: op, Err: err}
	}
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

// =============================================================================
// HOLDERS
// =============================================================================

func (c *conn) InsertHolder(ctx context.Context, h cards.Holder) error {
	_, err := c.exec(ctx, "insert holder", c.dialect.Insert(tableHolders).Rows(goqu.Record{
		"id":           string(h.ID),
		"first_name":   h.FirstName,
		"last_name":    h.LastName,
		"patronymic":   h.Patronymic,
		"phone_number": h.PhoneNumber,
		"created_at":   h.CreatedAt,
	}).Prepared(true))
	return err
}

func (c *conn) GetHolder(ctx context.Context, id cards.HolderID) (cards.Holder, error) {
	var h cards.Holder
	err := c.get(ctx, "get holder", &h, c.dialect.From(tableHolders).
		Select(holderCols...).
		Where(goqu.C("id").Eq(string(id))).
		Prepared(true))
	if errors.Is(err, sql.ErrNoRows) {
		return cards.Holder{}, &cards.NotFoundError{Resource: "holder", Key: string(id)}
	}
	h.CreatedAt = utc(h.CreatedAt)
	return h, err
}

func (c *conn) ListHolders(ctx context.Context) ([]cards.Holder, error) {
	var out []cards.Holder
	err := c.selectAll(ctx, "list holders", &out, c.dialect.From(tableHolders).
		Select(holderCols...).
		Order(
			goqu.C("last_name").Asc(),
			goqu.C("first_name").Asc(),
			goqu.C("patronymic").Asc(),
			goqu.C("id").Asc(),
		).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = utc(out[i].CreatedAt)
	}
	return out, nil
}

func (c *conn) DeleteHolder(ctx context.Context, id cards.HolderID) error {
	n, err := c.exec(ctx, "delete holder", c.dialect.Delete(tableHolders).
		Where(goqu.C("id").Eq(string(id))).
		Prepared(true))
	if err != nil {
		return err
	}
	if n == 0 {
		return &cards.NotFoundError{Resource: "holder", Key: string(id)}
	}
	return nil
}

// =============================================================================
// CARDS
// =============================================================================

func (c *conn) InsertCard(ctx context.Context, card cards.Card) error {
	_, err := c.exec(ctx, "insert card", c.dialect.Insert(tableCards).Rows(goqu.Record{
		"id":          string(card.ID),
		"card_number": int64(card.Number),
		"balance":     card.Balance,
		"holder_id":   string(card.HolderID),
		"created_at":  card.CreatedAt,
	}).Prepared(true))
	return err
}

func (c *conn) GetCard(ctx context.Context, id cards.CardID) (cards.Card, error) {
	card, err := c.getCard(ctx, goqu.C("id").Eq(string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return cards.Card{}, &cards.NotFoundError{Resource: "card", Key: string(id)}
	}
	return card, err
}

func (c *conn) GetCardByNumber(ctx context.Context, n cards.CardNumber) (cards.Card, error) {
	card, err := c.getCard(ctx, goqu.C("card_number").Eq(int64(n)))
	if errors.Is(err, sql.ErrNoRows) {
		return cards.Card{}, &cards.NotFoundError{Resource: "card", Key: n.String()}
	}
	return card, err
}

func (c *conn) getCard(ctx context.Context, where exp.Expression) (cards.Card, error) {
	var card cards.Card
	err := c.get(ctx, "get card", &card, c.dialect.From(tableCards).
		Select(cardCols...).
		Where(where).
		Prepared(true))
	card.CreatedAt = utc(card.CreatedAt)
	return card, err
}

func (c *conn) ListCards(ctx context.Context, holder cards.HolderID) ([]cards.Card, error) {
	stmt := c.dialect.From(tableCards).
		Select(cardCols...).
		Order(goqu.C(colSeq).Asc())
	if holder != "" {
		stmt = stmt.Where(goqu.C("holder_id").Eq(string(holder)))
	}

	var out []cards.Card
	if err := c.selectAll(ctx, "list cards", &out, stmt.Prepared(true)); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = utc(out[i].CreatedAt)
	}
	return out, nil
}

func (c *conn) MaxCardNumber(ctx context.Context) (cards.CardNumber, bool, error) {
	var max sql.NullInt64
	err := c.get(ctx, "max card number", &max, c.dialect.From(tableCards).
		Select(goqu.MAX("card_number")).
		Prepared(true))
	if err != nil {
		return 0, false, err
	}
	return cards.CardNumber(max.Int64), max.Valid, nil
}

func (c *conn) AdjustBalance(ctx context.Context, id cards.CardID, delta int64) (int64, error) {
	n, err := c.exec(ctx, "adjust balance", c.dialect.Update(tableCards).
		Set(goqu.Record{"balance": goqu.L("balance + ?", delta)}).
		Where(goqu.C("id").Eq(string(id))).
		Prepared(true))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, &cards.NotFoundError{Resource: "card", Key: string(id)}
	}

	var balance int64
	err = c.get(ctx, "read balance", &balance, c.dialect.From(tableCards).
		Select("balance").
		Where(goqu.C("id").Eq(string(id))).
		Prepared(true))
	return balance, err
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (c *conn) AppendTransaction(ctx context.Context, tx cards.Transaction) error {
	_, err := c.exec(ctx, "append transaction", c.dialect.Insert(tableTransactions).Rows(goqu.Record{
		"id":               string(tx.ID),
		"card_id":          string(tx.CardID),
		"transaction_type": string(tx.Type),
		"amount":           tx.Amount,
		"created_at":       tx.CreatedAt,
	}).Prepared(true))
	return err
}

func (c *conn) ListTransactions(ctx context.Context, card cards.CardID, opts cards.ListOptions) ([]cards.Transaction, error) {
	order := goqu.C(colSeq).Asc()
	if opts.Order == cards.OrderDescending {
		order = goqu.C(colSeq).Desc()
	}

	stmt := c.dialect.From(tableTransactions).
		Select(transactionCols...).
		Where(goqu.C("card_id").Eq(string(card))).
		Order(order)
	if opts.Limit > 0 {
		stmt = stmt.Limit(uint(opts.Limit))
	}

	out := []cards.Transaction{}
	if err := c.selectAll(ctx, "list transactions", &out, stmt.Prepared(true)); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = utc(out[i].CreatedAt)
	}
	return out, nil
}

func (c *conn) SumTransactions(ctx context.Context, card cards.CardID) (int64, error) {
	var sum int64
	err := c.get(ctx, "sum transactions", &sum, c.dialect.From(tableTransactions).
		Select(goqu.L(
			"CAST(COALESCE(SUM(CASE WHEN transaction_type = ? THEN amount ELSE -amount END), 0) AS BIGINT)",
			string(cards.Enrollment),
		)).
		Where(goqu.C("card_id").Eq(string(card))).
		Prepared(true))
	return sum, err
}

// =============================================================================
// OPERATIONS (append-only)
// =============================================================================

func (c *conn) AppendOperation(ctx context.Context, op cards.Operation) error {
	_, err := c.exec(ctx, "append operation", c.dialect.Insert(tableOperations).Rows(goqu.Record{
		"id":             string(op.ID),
		"card_id":        string(op.CardID),
		"operation_type": string(op.Type),
		"created_at":     op.CreatedAt,
	}).Prepared(true))
	return err
}

func (c *conn) ListOperations(ctx context.Context, card cards.CardID) ([]cards.Operation, error) {
	out := []cards.Operation{}
	err := c.selectAll(ctx, "list operations", &out, c.dialect.From(tableOperations).
		Select(operationCols...).
		Where(goqu.C("card_id").Eq(string(card))).
		Order(goqu.C(colSeq).Asc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = utc(out[i].CreatedAt)
	}
	return out, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

var _ cards.Store = (*conn)(nil)
