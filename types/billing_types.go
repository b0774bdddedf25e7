package types

import "time"

// Transaction is one payment attempt in the ledger. PaymentID is the
// external provider id and the idempotency key: at most one row per id,
// at most one terminal transition per row.
type Transaction struct {
	ID             int64
	PaymentID      string
	UserID         int64
	Username       *string
	Status         TxStatus
	AmountRUB      float64
	AmountCurrency *float64
	CurrencyName   *string
	PaymentMethod  *string
	Metadata       []byte
	CreatedDate    time.Time

	// Intent is decoded from Metadata on reads, best effort. Nil when the
	// blob is absent or unparseable.
	Intent *PurchaseIntent
}

// Settlement carries what the provider reported at completion time. The
// settlement amount in RUB was already captured at pending time.
type Settlement struct {
	AmountCurrency *float64
	CurrencyName   string
	Method         string
}

// CompleteOutcome reports what a terminal-transition attempt actually did.
// AlreadyDone and Unknown are both no-ops; they are distinguished so
// callers can log redeliveries and stray notifications differently.
type CompleteOutcome int

const (
	OutcomeCompleted CompleteOutcome = iota
	OutcomeAlreadyDone
	OutcomeUnknown
)

func (o CompleteOutcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAlreadyDone:
		return "already done"
	case OutcomeUnknown:
		return "unknown payment"
	default:
		return "invalid"
	}
}

// LedgerStore is the transaction ledger surface exposed to the payment
// processor.
type LedgerStore interface {
	CreatePendingTransaction(paymentID string, userID int64, amountRUB float64, intent *PurchaseIntent) (int64, error)
	CompleteTransaction(paymentID string, settlement Settlement) (*PurchaseIntent, CompleteOutcome, error)
	FailTransaction(paymentID string) (CompleteOutcome, error)
	GetTransactionByPaymentID(paymentID string) (*Transaction, error)
}
