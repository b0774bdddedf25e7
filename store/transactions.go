package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/TheNotus/vless-shopbot/types"
)

const txColumns = `transaction_id, payment_id, user_id, username, status, amount_rub,
       amount_currency, currency_name, payment_method, metadata, created_date`

// CreatePendingTransaction opens a ledger entry for an expected payment.
// The provisioning intent is validated and captured here; the completion
// path only ever reads it back. Returns ErrDuplicate when the payment id
// was already registered.
func (s *PostgresStore) CreatePendingTransaction(paymentID string, userID int64, amountRUB float64, intent *types.PurchaseIntent) (int64, error) {
	if err := intent.Validate(); err != nil {
		return 0, err
	}
	metadata, err := json.Marshal(intent)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var id int64
	err = s.pool.QueryRow(ctx, `
INSERT INTO transactions (payment_id, user_id, status, amount_rub, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING transaction_id
`, paymentID, userID, types.TxPending, amountRUB, string(metadata)).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// CompleteTransaction flips a pending entry to paid and returns the intent
// stored at creation time. The transition is a single conditional UPDATE,
// so two concurrent completions of the same payment id resolve to exactly
// one OutcomeCompleted; the loser sees OutcomeAlreadyDone.
func (s *PostgresStore) CompleteTransaction(paymentID string, settlement types.Settlement) (*types.PurchaseIntent, types.CompleteOutcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var metadata *string
	err := s.pool.QueryRow(ctx, `
UPDATE transactions
SET status = $2, amount_currency = $3, currency_name = $4, payment_method = $5
WHERE payment_id = $1 AND status = $6
RETURNING metadata
`, paymentID, types.TxPaid, settlement.AmountCurrency,
		nullIfEmpty(settlement.CurrencyName), nullIfEmpty(settlement.Method),
		types.TxPending).Scan(&metadata)
	if err == nil {
		intent, perr := decodeIntent(metadata)
		if perr != nil {
			return nil, types.OutcomeCompleted, fmt.Errorf("transaction %s completed but its intent is unreadable: %w", paymentID, perr)
		}
		return intent, types.OutcomeCompleted, nil
	}
	if !isNoRows(err) {
		// A transient failure of the UPDATE itself is a storage error;
		// the follow-up status read must not reclassify it as a no-op.
		return nil, types.OutcomeUnknown, err
	}

	outcome, cerr := s.classifyNoTransition(ctx, paymentID)
	if cerr != nil {
		return nil, outcome, cerr
	}
	return nil, outcome, nil
}

// FailTransaction flips a pending entry to failed. Terminal entries and
// unknown payment ids are no-ops, mirroring CompleteTransaction.
func (s *PostgresStore) FailTransaction(paymentID string) (types.CompleteOutcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
UPDATE transactions
SET status = $2
WHERE payment_id = $1 AND status = $3
`, paymentID, types.TxFailed, types.TxPending)
	if err != nil {
		return types.OutcomeUnknown, err
	}
	if tag.RowsAffected() > 0 {
		return types.OutcomeCompleted, nil
	}
	return s.classifyNoTransition(ctx, paymentID)
}

// isNoRows reports whether the conditional transition missed its row, the
// only case classifyNoTransition may explain away.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// classifyNoTransition distinguishes a redelivered notification from a
// stray one once the conditional update matched nothing.
func (s *PostgresStore) classifyNoTransition(ctx context.Context, paymentID string) (types.CompleteOutcome, error) {
	var status types.TxStatus
	err := s.pool.QueryRow(ctx, "SELECT status FROM transactions WHERE payment_id = $1", paymentID).Scan(&status)
	switch mapError(err) {
	case nil:
		return types.OutcomeAlreadyDone, nil
	case ErrNotFound:
		return types.OutcomeUnknown, nil
	default:
		return types.OutcomeUnknown, err
	}
}

func (s *PostgresStore) GetTransactionByPaymentID(paymentID string) (*types.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE payment_id = $1", paymentID)
	return scanTransaction(row)
}

func (s *PostgresStore) GetLatestTransaction(userID int64) (*types.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	row := s.pool.QueryRow(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_date DESC LIMIT 1", userID)
	return scanTransaction(row)
}

// GetTransactions lists ledger entries newest first, with the total count
// for pagination.
func (s *PostgresStore) GetTransactions(page, perPage int) ([]types.Transaction, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 15
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+txColumns+" FROM transactions ORDER BY created_date DESC LIMIT $1 OFFSET $2",
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []types.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, *tx)
	}
	return txs, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*types.Transaction, error) {
	var t types.Transaction
	var metadata *string
	err := row.Scan(&t.ID, &t.PaymentID, &t.UserID, &t.Username, &t.Status, &t.AmountRUB,
		&t.AmountCurrency, &t.CurrencyName, &t.PaymentMethod, &metadata, &t.CreatedDate)
	if err != nil {
		return nil, mapError(err)
	}
	if metadata != nil {
		t.Metadata = []byte(*metadata)
		intent, err := decodeIntent(metadata)
		if err != nil {
			// Old rows may carry blobs written by earlier versions.
			log.Printf("transaction %s: unreadable metadata: %v", t.PaymentID, err)
		} else {
			t.Intent = intent
		}
	}
	return &t, nil
}

func decodeIntent(metadata *string) (*types.PurchaseIntent, error) {
	if metadata == nil || *metadata == "" {
		return nil, fmt.Errorf("empty metadata")
	}
	var intent types.PurchaseIntent
	if err := json.Unmarshal([]byte(*metadata), &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
