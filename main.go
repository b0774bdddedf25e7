package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/TheNotus/vless-shopbot/internal/config"
	"github.com/TheNotus/vless-shopbot/internal/keysync"
	"github.com/TheNotus/vless-shopbot/internal/notify"
	"github.com/TheNotus/vless-shopbot/internal/payments"
	"github.com/TheNotus/vless-shopbot/internal/provision"
	"github.com/TheNotus/vless-shopbot/internal/referral"
	"github.com/TheNotus/vless-shopbot/internal/xui"
	"github.com/TheNotus/vless-shopbot/store"
	"github.com/TheNotus/vless-shopbot/types"
)

func main() {
	_ = config.LoadEnvFile("config.env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := config.FromEnv()

	pgStore, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer pgStore.Close()

	var locker types.KeyLocker
	if cfg.RedisAddr != "" {
		redisLocker, err := store.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "shop_bot")
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	var notifier *notify.Notifier
	if cfg.BotToken != "" && cfg.AdminChatID != 0 {
		notifier, err = notify.New(cfg.BotToken, cfg.AdminChatID)
		if err != nil {
			log.Fatalf("Failed to create notifier bot: %v", err)
		}
	} else {
		log.Println("Operator notifications disabled: BOT_TOKEN or ADMIN_CHAT_ID not set")
	}

	panel := xui.NewClient(cfg.PanelTimeout)
	coordinator := provision.NewCoordinator(pgStore, panel, locker)
	granter := referral.NewGranter(pgStore, coordinator, 3)
	processor := payments.NewProcessor(pgStore, pgStore, pgStore, coordinator, granter, notifier, cfg.ReferralBonusDays)

	reconciler := keysync.NewReconciler(pgStore, panel, cfg.SyncInterval)
	reconciler.Start()
	defer reconciler.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/payment", paymentIntake(processor))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Payment intake listening on %s. Press Ctrl+C to stop.", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Intake server failed: %v", err)
	}
}

// paymentIntake accepts the normalized event feed. Provider-specific
// webhook payloads are parsed upstream; only {payment_id, status, amounts}
// arrive here, at least once and in any order.
func paymentIntake(processor *payments.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev payments.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		if ev.PaymentID == "" {
			http.Error(w, "missing payment_id", http.StatusBadRequest)
			return
		}

		var err error
		switch ev.Status {
		case "paid":
			err = processor.HandlePaid(r.Context(), ev)
		case "failed":
			err = processor.HandleFailed(r.Context(), ev)
		default:
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Printf("intake: payment %s: %v", ev.PaymentID, err)
			// Non-2xx makes the upstream deliverer retry; the ledger
			// keeps the retry idempotent.
			http.Error(w, "event not processed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
