package sqlstore

import (
	"context"
	"strings"
)

const (
	tableHolders      = "card_holders"
	tableCards        = "cards"
	tableTransactions = "transactions"
	tableOperations   = "operations"

	colSeq = "seq"

	// Postgres reports the constraint by name, SQLite by table.column.
	constraintCardNumber = "uq_cards_card_number"
	sqliteCardNumberCol  = "cards.card_number"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS card_holders (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		patronymic TEXT NOT NULL DEFAULT '',
		phone_number INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_card_holders_name
		ON card_holders(last_name, first_name, patronymic);

	CREATE TABLE IF NOT EXISTS cards (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		card_number INTEGER NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		holder_id TEXT NOT NULL REFERENCES card_holders(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_cards_card_number UNIQUE (card_number)
	);

	CREATE INDEX IF NOT EXISTS idx_cards_holder ON cards(holder_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('ENROLLMENT', 'WRITE_OFF')),
		amount INTEGER NOT NULL CHECK (amount > 0),
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_id, seq);

	-- Operations (append-only audit trail)
	CREATE TABLE IF NOT EXISTS operations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		operation_type TEXT NOT NULL CHECK (operation_type IN ('CREATE', 'DELETE')),
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_card ON operations(card_id, seq);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS card_holders (
		id TEXT PRIMARY KEY,
		first_name VARCHAR(50) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		patronymic VARCHAR(100) NOT NULL DEFAULT '',
		phone_number BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_card_holders_name
		ON card_holders(last_name, first_name, patronymic);

	CREATE TABLE IF NOT EXISTS cards (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		card_number BIGINT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		holder_id TEXT NOT NULL REFERENCES card_holders(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_cards_card_number UNIQUE (card_number)
	);

	CREATE INDEX IF NOT EXISTS idx_cards_holder ON cards(holder_id);

	CREATE TABLE IF NOT EXISTS transactions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		transaction_type TEXT NOT NULL CHECK (transaction_type IN ('ENROLLMENT', 'WRITE_OFF')),
		amount BIGINT NOT NULL CHECK (amount > 0),
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_id, seq);

	CREATE TABLE IF NOT EXISTS operations (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		operation_type TEXT NOT NULL CHECK (operation_type IN ('CREATE', 'DELETE')),
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_card ON operations(card_id, seq);
`

// migrate creates the database schema, one statement per Exec.
func (s *Store) migrate(ctx context.Context, dialect string) error {
	schema := sqliteSchema
	if dialect == "postgres" {
		schema = postgresSchema
	}

	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, part := range strings.Split(schema, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
