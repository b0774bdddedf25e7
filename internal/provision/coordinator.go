// Package provision orchestrates credential creation and extension against
// a named host and mirrors the authoritative result into the local store.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheNotus/vless-shopbot/internal/xui"
	"github.com/TheNotus/vless-shopbot/store"
	"github.com/TheNotus/vless-shopbot/types"
)

var (
	// ErrHostNotFound means no host record exists for the requested name.
	// Nothing external was contacted.
	ErrHostNotFound = errors.New("host not found")

	// ErrExternalFailure wraps a panel call that failed or was rejected.
	// The local key row is untouched and the whole operation can be
	// retried.
	ErrExternalFailure = errors.New("provisioning host failure")
)

// Panel is the external capability: extend or create a credential by
// label, reporting the resulting id and expiry.
type Panel interface {
	ExtendOrCreateClient(ctx context.Context, host *types.Host, email string, addDays int) (*xui.ClientUpdate, error)
}

type Coordinator struct {
	store types.ProvisionStore
	panel Panel
	locks types.KeyLocker
}

func NewCoordinator(st types.ProvisionStore, panel Panel, locks types.KeyLocker) *Coordinator {
	if locks == nil {
		locks = NewLabelLocker()
	}
	return &Coordinator{store: st, panel: panel, locks: locks}
}

// IssueOrExtendKey extends the credential labelled email on hostName by
// days, creating it when absent, and writes the panel-reported credential
// id and expiry into the matching key row (inserting one if needed). The
// panel's expiry is adopted as is; it is never recomputed locally.
func (c *Coordinator) IssueOrExtendKey(ctx context.Context, hostName string, userID int64, email string, days int) (*types.Key, error) {
	host, err := c.store.GetHost(hostName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostName)
		}
		return nil, err
	}

	unlock, err := c.locks.Lock(ctx, email)
	if err != nil {
		return nil, err
	}
	defer unlock()

	upd, err := c.panel.ExtendOrCreateClient(ctx, host, email, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalFailure, err)
	}

	return c.writeBack(userID, hostName, email, upd)
}

func (c *Coordinator) writeBack(userID int64, hostName, email string, upd *xui.ClientUpdate) (*types.Key, error) {
	existing, err := c.store.GetKeyByEmail(email)
	if err == nil {
		if err := c.store.UpdateKey(existing.ID, upd.ClientUUID, upd.ExpiryMs); err != nil {
			return nil, err
		}
		existing.ClientUUID = upd.ClientUUID
		existing.ExpiryDate = time.UnixMilli(upd.ExpiryMs).UTC()
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	id, err := c.store.AddKey(userID, hostName, upd.ClientUUID, email, upd.ExpiryMs)
	if err != nil {
		return nil, err
	}
	return &types.Key{
		ID:         id,
		UserID:     userID,
		HostName:   hostName,
		ClientUUID: upd.ClientUUID,
		Email:      email,
		ExpiryDate: time.UnixMilli(upd.ExpiryMs).UTC(),
	}, nil
}
