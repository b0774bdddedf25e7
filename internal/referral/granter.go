// Package referral applies the bonus a referrer earns when someone they
// invited completes a first purchase: every key the referrer owns gets
// extra days on its host.
package referral

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/TheNotus/vless-shopbot/internal/provision"
	"github.com/TheNotus/vless-shopbot/types"
)

// Extender is the single-key extension capability, satisfied by
// *provision.Coordinator.
type Extender interface {
	IssueOrExtendKey(ctx context.Context, hostName string, userID int64, email string, days int) (*types.Key, error)
}

// Result counts per-key outcomes of one grant. Attempted - Succeeded keys
// were skipped or failed and were left untouched.
type Result struct {
	Attempted int
	Succeeded int
}

type Granter struct {
	keys    types.ReferralStore
	ext     Extender
	workers int
}

func NewGranter(keys types.ReferralStore, ext Extender, workers int) *Granter {
	if workers <= 0 {
		workers = 3
	}
	return &Granter{keys: keys, ext: ext, workers: workers}
}

// GrantReferralBonus extends every key owned by referrerID by bonusDays.
// Keys are processed independently: a missing host or a failing panel on
// one key never blocks the others, and there is no rollback. A referrer
// with no keys earns nothing; that is not an error.
func (g *Granter) GrantReferralBonus(ctx context.Context, referrerID int64, bonusDays int) (Result, error) {
	keys, err := g.keys.GetUserKeys(referrerID)
	if err != nil {
		return Result{}, err
	}
	if len(keys) == 0 {
		log.Printf("referral: no keys for referrer %d, nothing to extend", referrerID)
		return Result{}, nil
	}

	var succeeded atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)

	for _, key := range keys {
		key := key
		eg.Go(func() error {
			_, err := g.ext.IssueOrExtendKey(egCtx, key.HostName, referrerID, key.Email, bonusDays)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, provision.ErrHostNotFound):
				log.Printf("referral: key %s skipped, host %q is gone", key.Email, key.HostName)
			default:
				log.Printf("referral: key %s not extended: %v", key.Email, err)
			}
			// Per-key failures are counted, never propagated past the
			// loop boundary.
			return nil
		})
	}
	_ = eg.Wait()

	res := Result{Attempted: len(keys), Succeeded: int(succeeded.Load())}
	log.Printf("referral: referrer %d granted %d day(s) on %d/%d key(s)", referrerID, bonusDays, res.Succeeded, res.Attempted)
	return res, nil
}
