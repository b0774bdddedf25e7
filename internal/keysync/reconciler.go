// Package keysync periodically reconciles local key rows with the panel
// state on each host. The panel wins: changed credentials are copied down
// and labels the panel no longer knows are removed locally.
package keysync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/TheNotus/vless-shopbot/internal/xui"
	"github.com/TheNotus/vless-shopbot/types"
)

type Store interface {
	GetAllHosts() ([]types.Host, error)
	GetKeysForHost(hostName string) ([]types.Key, error)
	UpdateKey(keyID int64, clientUUID string, expiryMs int64) error
	DeleteKeyByID(keyID int64) error
}

type Panel interface {
	GetClient(ctx context.Context, host *types.Host, email string) (*xui.ClientUpdate, error)
}

type Reconciler struct {
	store    Store
	panel    Panel
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewReconciler(store Store, panel Panel, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reconciler{store: store, panel: panel, interval: interval}
}

func (r *Reconciler) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	log.Printf("keysync: started, interval %s", r.interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	log.Println("keysync: stopped")
}

// RunOnce sweeps every host. Per-host and per-key failures are logged and
// skipped; a sweep never aborts because one host is unreachable.
func (r *Reconciler) RunOnce(ctx context.Context) {
	hosts, err := r.store.GetAllHosts()
	if err != nil {
		log.Printf("keysync: failed to list hosts: %v", err)
		return
	}
	for _, host := range hosts {
		if ctx.Err() != nil {
			return
		}
		r.reconcileHost(ctx, host)
	}
}

func (r *Reconciler) reconcileHost(ctx context.Context, host types.Host) {
	keys, err := r.store.GetKeysForHost(host.Name)
	if err != nil {
		log.Printf("keysync: failed to list keys for host %q: %v", host.Name, err)
		return
	}

	updated, removed := 0, 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		remote, err := r.panel.GetClient(ctx, &host, key.Email)
		if err != nil {
			log.Printf("keysync: host %q key %s: %v", host.Name, key.Email, err)
			continue
		}
		if remote == nil {
			if err := r.store.DeleteKeyByID(key.ID); err != nil {
				log.Printf("keysync: failed to remove stale key %s: %v", key.Email, err)
				continue
			}
			removed++
			continue
		}
		if remote.ClientUUID == key.ClientUUID && remote.ExpiryMs == key.ExpiryDate.UnixMilli() {
			continue
		}
		if err := r.store.UpdateKey(key.ID, remote.ClientUUID, remote.ExpiryMs); err != nil {
			log.Printf("keysync: failed to update key %s: %v", key.Email, err)
			continue
		}
		updated++
	}
	if updated > 0 || removed > 0 {
		log.Printf("keysync: host %q reconciled, updated=%d removed=%d (keys=%d)", host.Name, updated, removed, len(keys))
	}
}
