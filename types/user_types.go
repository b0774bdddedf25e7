package types

import "time"

type User struct {
	TelegramID       int64
	Username         string
	TotalSpent       float64
	TotalMonths      int
	TrialUsed        bool
	AgreedToTerms    bool
	RegistrationDate time.Time
	IsBanned         bool
	ReferredBy       *int64
}

// UserStore is the store surface the payment processor needs for the
// owning user of a completed transaction.
type UserStore interface {
	GetUser(telegramID int64) (*User, error)
	AddUserStats(telegramID int64, amountSpent float64, monthsPurchased int) error
	SetTrialUsed(telegramID int64) error
}
