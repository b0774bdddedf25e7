package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upLedgerShape, downLedgerShape)
}

const createLedgerTable = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id BIGSERIAL PRIMARY KEY,
    payment_id TEXT NOT NULL UNIQUE,
    user_id BIGINT NOT NULL,
    username TEXT,
    status TEXT NOT NULL,
    amount_rub DOUBLE PRECISION NOT NULL,
    amount_currency DOUBLE PRECISION,
    currency_name TEXT,
    payment_method TEXT,
    metadata TEXT,
    created_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created_date ON transactions (created_date);
`

func upLedgerShape(ctx context.Context, tx *sql.Tx) error {
	return EnsureLedgerShape(ctx, tx)
}

func downLedgerShape(ctx context.Context, tx *sql.Tx) error {
	return nil
}

// EnsureLedgerShape makes the transactions table match the current ledger
// layout. A table predating the ledger columns is renamed to a timestamped
// backup, never dropped, and a fresh table is created in its place.
func EnsureLedgerShape(ctx context.Context, tx *sql.Tx) error {
	cols, err := tableColumns(ctx, tx, "transactions")
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		_, err := tx.ExecContext(ctx, createLedgerTable)
		return err
	}
	if cols["payment_id"] && cols["status"] && cols["username"] {
		return nil
	}

	backup := "transactions_backup_" + time.Now().Format("20060102150405")
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE transactions RENAME TO %s", backup)); err != nil {
		return fmt.Errorf("rename legacy transactions table: %w", err)
	}
	_, err = tx.ExecContext(ctx, createLedgerTable)
	return err
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
