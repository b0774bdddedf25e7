// Package notify pushes operator alerts to a Telegram chat. All methods
// are nil-receiver safe so callers can run without a notifier configured.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-telegram/bot"

	"github.com/TheNotus/vless-shopbot/internal/referral"
)

type Notifier struct {
	bot    *bot.Bot
	chatID int64
}

func New(token string, chatID int64) (*Notifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, err
	}
	return &Notifier{bot: b, chatID: chatID}, nil
}

func (n *Notifier) PaymentCompleted(userID int64, amountRUB float64, method string) {
	if method == "" {
		method = "unknown method"
	}
	n.send(fmt.Sprintf("Payment completed: user %d, %.2f RUB via %s", userID, amountRUB, method))
}

func (n *Notifier) ReferralGranted(referrerID int64, bonusDays int, res referral.Result) {
	n.send(fmt.Sprintf("Referral bonus: referrer %d, +%d day(s), %d/%d key(s) extended",
		referrerID, bonusDays, res.Succeeded, res.Attempted))
}

func (n *Notifier) StorageAlert(op string, err error) {
	n.send(fmt.Sprintf("Storage failure in %s: %v", op, err))
}

func (n *Notifier) send(text string) {
	if n == nil || n.bot == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		log.Printf("notify: failed to send alert: %v", err)
	}
}
