package types

type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxPaid    TxStatus = "paid"
	TxFailed  TxStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TxStatus) Terminal() bool {
	return s == TxPaid || s == TxFailed
}

type IntentKind string

const (
	IntentPurchase IntentKind = "purchase"
	IntentTrial    IntentKind = "trial"
)
