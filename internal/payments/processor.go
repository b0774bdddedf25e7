// Package payments consumes the normalized payment event feed and drives
// the ledger plus the provisioning intent captured at pending time.
// Delivery is at least once and unordered; everything here is safe to
// replay.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/TheNotus/vless-shopbot/internal/notify"
	"github.com/TheNotus/vless-shopbot/internal/referral"
	"github.com/TheNotus/vless-shopbot/store"
	"github.com/TheNotus/vless-shopbot/types"
)

// Event is the normalized notification produced by the provider-specific
// webhook layer upstream of this process.
type Event struct {
	PaymentID      string   `json:"payment_id"`
	Status         string   `json:"status"`
	Amount         float64  `json:"amount"`
	AmountCurrency *float64 `json:"amount_currency,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	Method         string   `json:"method,omitempty"`
}

// BonusGranter is satisfied by *referral.Granter.
type BonusGranter interface {
	GrantReferralBonus(ctx context.Context, referrerID int64, bonusDays int) (referral.Result, error)
}

// KeyReader checks whether a paid intent was actually fulfilled. Satisfied
// by the postgres store.
type KeyReader interface {
	GetKeyByEmail(email string) (*types.Key, error)
}

type Processor struct {
	ledger    types.LedgerStore
	users     types.UserStore
	keys      KeyReader
	ext       referral.Extender
	bonus     BonusGranter
	notifier  *notify.Notifier
	bonusDays int
}

func NewProcessor(ledger types.LedgerStore, users types.UserStore, keys KeyReader, ext referral.Extender, bonus BonusGranter, notifier *notify.Notifier, bonusDays int) *Processor {
	if bonusDays <= 0 {
		bonusDays = 7
	}
	return &Processor{
		ledger:    ledger,
		users:     users,
		keys:      keys,
		ext:       ext,
		bonus:     bonus,
		notifier:  notifier,
		bonusDays: bonusDays,
	}
}

// HandlePaid completes the ledger entry and resumes the stored intent:
// issue or extend the key, accumulate the payer's stats, and trigger the
// referrer's bonus on a first purchase. Unknown payment ids are no-ops; a
// redelivered id re-checks fulfillment and resumes it when the first
// delivery recorded the money but lost the key.
func (p *Processor) HandlePaid(ctx context.Context, ev Event) error {
	settlement := types.Settlement{
		AmountCurrency: ev.AmountCurrency,
		CurrencyName:   ev.Currency,
		Method:         ev.Method,
	}
	intent, outcome, err := p.ledger.CompleteTransaction(ev.PaymentID, settlement)
	if err != nil {
		p.notifier.StorageAlert("complete transaction", err)
		return err
	}
	switch outcome {
	case types.OutcomeCompleted:
		return p.fulfill(ctx, ev, intent)
	case types.OutcomeAlreadyDone:
		return p.resumeStranded(ctx, ev)
	default:
		log.Printf("payments: %s for payment %s, nothing to do", outcome, ev.PaymentID)
		return nil
	}
}

// resumeStranded handles a redelivered success notification. The entry is
// already terminal, so the only work left is a fulfillment the previous
// delivery failed to finish: paid entry, intent present, no key row.
func (p *Processor) resumeStranded(ctx context.Context, ev Event) error {
	tx, err := p.ledger.GetTransactionByPaymentID(ev.PaymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		p.notifier.StorageAlert("load transaction", err)
		return err
	}
	if tx.Status != types.TxPaid || tx.Intent == nil {
		log.Printf("payments: payment %s already settled, nothing to do", ev.PaymentID)
		return nil
	}
	if _, err := p.keys.GetKeyByEmail(tx.Intent.KeyEmail); err == nil {
		log.Printf("payments: redelivered payment %s, key %s already provisioned", ev.PaymentID, tx.Intent.KeyEmail)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		p.notifier.StorageAlert("check fulfillment", err)
		return err
	}

	log.Printf("payments: payment %s is paid but key %s is missing, resuming fulfillment", ev.PaymentID, tx.Intent.KeyEmail)
	return p.fulfill(ctx, ev, tx.Intent)
}

func (p *Processor) fulfill(ctx context.Context, ev Event, intent *types.PurchaseIntent) error {
	user, err := p.users.GetUser(intent.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.notifier.StorageAlert("load payer", err)
		return err
	}
	firstPurchase := user != nil && user.TotalMonths == 0

	key, err := p.ext.IssueOrExtendKey(ctx, intent.HostName, intent.UserID, intent.KeyEmail, intent.DurationDays())
	if err != nil {
		// The payment is recorded; only fulfillment failed. The caller
		// retries the whole event, which replays as a no-op completion
		// followed by another provisioning attempt.
		return fmt.Errorf("payment %s recorded but key %s not provisioned: %w", ev.PaymentID, intent.KeyEmail, err)
	}
	log.Printf("payments: payment %s fulfilled, key %s valid until %s", ev.PaymentID, key.Email, key.ExpiryDate.Format("2006-01-02"))

	if intent.Kind == types.IntentTrial {
		if err := p.users.SetTrialUsed(intent.UserID); err != nil {
			p.notifier.StorageAlert("mark trial used", err)
			return err
		}
	}
	if err := p.users.AddUserStats(intent.UserID, ev.Amount, intent.Months); err != nil {
		p.notifier.StorageAlert("accumulate user stats", err)
		return err
	}
	p.notifier.PaymentCompleted(intent.UserID, ev.Amount, ev.Method)

	if firstPurchase && user.ReferredBy != nil {
		res, err := p.bonus.GrantReferralBonus(ctx, *user.ReferredBy, p.bonusDays)
		if err != nil {
			log.Printf("payments: referral bonus for referrer %d failed: %v", *user.ReferredBy, err)
		} else if res.Attempted > 0 {
			p.notifier.ReferralGranted(*user.ReferredBy, p.bonusDays, res)
		}
	}
	return nil
}

// HandleFailed flips the ledger entry to failed. Like HandlePaid it
// tolerates redelivery and stray payment ids.
func (p *Processor) HandleFailed(ctx context.Context, ev Event) error {
	outcome, err := p.ledger.FailTransaction(ev.PaymentID)
	if err != nil {
		p.notifier.StorageAlert("fail transaction", err)
		return err
	}
	if outcome != types.OutcomeCompleted {
		log.Printf("payments: %s for failed payment %s, nothing to do", outcome, ev.PaymentID)
	}
	return nil
}
