package types

import (
	"context"
	"time"
)

// Host is an external x-ui provisioning endpoint. Hosts are referenced by
// name from keys and plans, never by surrogate id.
type Host struct {
	Name      string
	URL       string
	Username  string
	Password  string
	InboundID int
}

type Plan struct {
	ID       int64
	HostName string
	Name     string
	Months   int
	Price    float64
}

// Key is a provisioned access credential. Email is the unique label that
// matches the local row to the client on the panel side.
type Key struct {
	ID          int64
	UserID      int64
	HostName    string
	ClientUUID  string
	Email       string
	ExpiryDate  time.Time
	CreatedDate time.Time
	Name        *string
}

type SupportThread struct {
	UserID   int64
	ThreadID int64
}

// KeyActivity is a recently issued key joined with its owner, for the
// admin dashboard.
type KeyActivity struct {
	KeyID       int64
	HostName    string
	CreatedDate time.Time
	TelegramID  int64
	Username    string
}

// DailyStats holds per-day registration and key issue counts keyed by
// YYYY-MM-DD.
type DailyStats struct {
	Users map[string]int
	Keys  map[string]int
}

// ProvisionStore is the store surface the provisioning coordinator needs.
type ProvisionStore interface {
	GetHost(name string) (*Host, error)
	GetKeyByEmail(email string) (*Key, error)
	AddKey(userID int64, hostName, clientUUID, email string, expiryMs int64) (int64, error)
	UpdateKey(keyID int64, clientUUID string, expiryMs int64) error
}

// ReferralStore is the store surface the referral bonus workflow needs.
type ReferralStore interface {
	GetUserKeys(userID int64) ([]Key, error)
}

// KeyLocker serializes credential operations against the same label.
// Lock blocks until the label is held or ctx is done; the returned func
// releases it.
type KeyLocker interface {
	Lock(ctx context.Context, label string) (func(), error)
}
