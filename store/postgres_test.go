package store

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheNotus/vless-shopbot/types"
)

// These tests run against a real database and skip when
// TEST_POSTGRES_DSN is not set. Every test uses its own random
// identifiers so they can share one database.

func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func randomUserID() int64 {
	return 1_000_000_000 + rand.Int63n(1_000_000_000)
}

func newTestUser(t *testing.T, s *PostgresStore, referredBy *int64) int64 {
	t.Helper()
	id := randomUserID()
	require.NoError(t, s.RegisterUserIfNotExists(id, fmt.Sprintf("user_%d", id), referredBy))
	t.Cleanup(func() { _ = s.DeleteUserData(id) })
	return id
}

func newTestHost(t *testing.T, s *PostgresStore) string {
	t.Helper()
	name := "test-host-" + uuid.NewString()[:8]
	require.NoError(t, s.CreateHost(types.Host{
		Name: name, URL: "http://panel.local", Username: "admin", Password: "admin", InboundID: 1,
	}))
	t.Cleanup(func() { _ = s.DeleteHost(name) })
	return name
}

func testIntent(userID int64, host string) *types.PurchaseIntent {
	return &types.PurchaseIntent{
		Kind:     types.IntentPurchase,
		UserID:   userID,
		HostName: host,
		Months:   1,
		KeyEmail: fmt.Sprintf("%d-1@shop.bot", userID),
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)

	host := newTestHost(t, s)

	// New already ran the migrations once; a second and third pass must
	// change nothing and lose nothing.
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.EnsureSchema(context.Background()))

	got, err := s.GetHost(host)
	require.NoError(t, err)
	assert.Equal(t, host, got.Name)
}

func TestSettingsSeededAndUpserted(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetSetting("trial_duration_days")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	all, err := s.GetAllSettings()
	require.NoError(t, err)
	assert.Equal(t, "admin", all["panel_login"])
	assert.Contains(t, all, "tonapi_key")

	key := "test_setting_" + uuid.NewString()[:8]
	require.NoError(t, s.UpdateSetting(key, "1"))
	require.NoError(t, s.UpdateSetting(key, "2"))
	v, err = s.GetSetting(key)
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	_, err = s.GetSetting("no_such_setting_" + uuid.NewString()[:8])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterUserUpsertsUsernameOnly(t *testing.T) {
	s := newTestStore(t)

	referrer := newTestUser(t, s, nil)
	id := newTestUser(t, s, &referrer)

	require.NoError(t, s.AddUserStats(id, 50, 1))

	// Re-registration with a new name and a different referrer must only
	// refresh the name.
	other := newTestUser(t, s, nil)
	require.NoError(t, s.RegisterUserIfNotExists(id, "renamed", &other))

	u, err := s.GetUser(id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Username)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, referrer, *u.ReferredBy, "referred_by is set once at creation")
	assert.Equal(t, 50.0, u.TotalSpent)
	assert.Equal(t, 1, u.TotalMonths)

	n, err := s.GetReferralCount(referrer)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(randomUserID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddUserStatsConcurrent(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddUserStats(id, 10, 1))
		}()
	}
	wg.Wait()

	u, err := s.GetUser(id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, u.TotalSpent, "server-side increments must not lose updates")
	assert.Equal(t, 10, u.TotalMonths)
}

func TestKeyEmailUnique(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)
	host := newTestHost(t, s)

	email := fmt.Sprintf("%d-1@shop.bot", id)
	expiry := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	keyID, err := s.AddKey(id, host, uuid.NewString(), email, expiry)
	require.NoError(t, err)

	_, err = s.AddKey(id, host, uuid.NewString(), email, expiry)
	require.ErrorIs(t, err, ErrDuplicate)

	// The first key is unaffected by the rejected insert.
	k, err := s.GetKeyByEmail(email)
	require.NoError(t, err)
	assert.Equal(t, keyID, k.ID)
	assert.WithinDuration(t, time.UnixMilli(expiry), k.ExpiryDate, time.Millisecond)
}

func TestUpdateKeyLeavesNameAlone(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)
	host := newTestHost(t, s)

	email := fmt.Sprintf("%d-1@shop.bot", id)
	keyID, err := s.AddKey(id, host, uuid.NewString(), email, time.Now().Add(24*time.Hour).UnixMilli())
	require.NoError(t, err)
	require.NoError(t, s.RenameKey(keyID, "my main key"))

	newUUID := uuid.NewString()
	newExpiry := time.Now().Add(60 * 24 * time.Hour).UnixMilli()
	require.NoError(t, s.UpdateKey(keyID, newUUID, newExpiry))

	k, err := s.GetKeyByID(keyID)
	require.NoError(t, err)
	assert.Equal(t, newUUID, k.ClientUUID)
	assert.WithinDuration(t, time.UnixMilli(newExpiry), k.ExpiryDate, time.Millisecond)
	require.NotNil(t, k.Name)
	assert.Equal(t, "my main key", *k.Name, "extension must not touch the display name")
}

func TestLedgerExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)
	paymentID := "pay_" + uuid.NewString()

	_, err := s.CreatePendingTransaction(paymentID, id, 100, testIntent(id, "de-1"))
	require.NoError(t, err)

	_, err = s.CreatePendingTransaction(paymentID, id, 100, testIntent(id, "de-1"))
	require.ErrorIs(t, err, ErrDuplicate)

	amount := 0.42
	settlement := types.Settlement{AmountCurrency: &amount, CurrencyName: "TON", Method: "TON"}

	// Two concurrent completions of the same payment: exactly one wins.
	type result struct {
		intent  *types.PurchaseIntent
		outcome types.CompleteOutcome
		err     error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			intent, outcome, err := s.CompleteTransaction(paymentID, settlement)
			results <- result{intent, outcome, err}
		}()
	}
	wg.Wait()
	close(results)

	completed, alreadyDone := 0, 0
	for r := range results {
		require.NoError(t, r.err)
		switch r.outcome {
		case types.OutcomeCompleted:
			completed++
			require.NotNil(t, r.intent)
			assert.Equal(t, id, r.intent.UserID)
		case types.OutcomeAlreadyDone:
			alreadyDone++
			assert.Nil(t, r.intent)
		default:
			t.Fatalf("unexpected outcome %v", r.outcome)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, alreadyDone)

	tx, err := s.GetTransactionByPaymentID(paymentID)
	require.NoError(t, err)
	assert.Equal(t, types.TxPaid, tx.Status)
	require.NotNil(t, tx.AmountCurrency)
	assert.Equal(t, amount, *tx.AmountCurrency)
	require.NotNil(t, tx.PaymentMethod)
	assert.Equal(t, "TON", *tx.PaymentMethod)
}

func TestCompleteUnknownPayment(t *testing.T) {
	s := newTestStore(t)
	paymentID := "pay_" + uuid.NewString()

	intent, outcome, err := s.CompleteTransaction(paymentID, types.Settlement{})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUnknown, outcome)
	assert.Nil(t, intent)

	_, err = s.GetTransactionByPaymentID(paymentID)
	assert.ErrorIs(t, err, ErrNotFound, "a stray completion must write nothing")
}

func TestFailTransactionTerminal(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)
	paymentID := "pay_" + uuid.NewString()

	_, err := s.CreatePendingTransaction(paymentID, id, 100, testIntent(id, "de-1"))
	require.NoError(t, err)

	outcome, err := s.FailTransaction(paymentID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompleted, outcome)

	// failed is terminal: a late success notification is a no-op.
	intent, outcome, err := s.CompleteTransaction(paymentID, types.Settlement{})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAlreadyDone, outcome)
	assert.Nil(t, intent)

	tx, err := s.GetTransactionByPaymentID(paymentID)
	require.NoError(t, err)
	assert.Equal(t, types.TxFailed, tx.Status)
}

func TestTransactionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)

	var payIDs []string
	for i := 0; i < 3; i++ {
		paymentID := "pay_" + uuid.NewString()
		payIDs = append(payIDs, paymentID)
		_, err := s.CreatePendingTransaction(paymentID, id, float64(10*(i+1)), testIntent(id, "de-1"))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	latest, err := s.GetLatestTransaction(id)
	require.NoError(t, err)
	assert.Equal(t, payIDs[2], latest.PaymentID)
	require.NotNil(t, latest.Intent, "list reads decode the stored intent")
	assert.Equal(t, id, latest.Intent.UserID)

	txs, total, err := s.GetTransactions(1, 1000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 3)

	pos := make(map[string]int)
	for i, tx := range txs {
		pos[tx.PaymentID] = i
	}
	require.Contains(t, pos, payIDs[0])
	require.Contains(t, pos, payIDs[2])
	assert.Less(t, pos[payIDs[2]], pos[payIDs[0]], "newer transactions come first")
}

func TestDeleteUserDataCascades(t *testing.T) {
	s := newTestStore(t)
	host := newTestHost(t, s)

	victim := newTestUser(t, s, nil)
	bystander := newTestUser(t, s, nil)

	seed := func(id int64) (string, string) {
		email := fmt.Sprintf("%d-1@shop.bot", id)
		_, err := s.AddKey(id, host, uuid.NewString(), email, time.Now().Add(24*time.Hour).UnixMilli())
		require.NoError(t, err)
		paymentID := "pay_" + uuid.NewString()
		_, err = s.CreatePendingTransaction(paymentID, id, 100, testIntent(id, host))
		require.NoError(t, err)
		require.NoError(t, s.SetSupportThread(id, rand.Int63n(1_000_000)))
		return email, paymentID
	}
	victimEmail, victimPayment := seed(victim)
	bystanderEmail, bystanderPayment := seed(bystander)

	require.NoError(t, s.DeleteUserData(victim))

	_, err := s.GetUser(victim)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetKeyByEmail(victimEmail)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTransactionByPaymentID(victimPayment)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSupportThreadID(victim)
	assert.ErrorIs(t, err, ErrNotFound)

	// The bystander's data is untouched.
	_, err = s.GetUser(bystander)
	assert.NoError(t, err)
	_, err = s.GetKeyByEmail(bystanderEmail)
	assert.NoError(t, err)
	_, err = s.GetTransactionByPaymentID(bystanderPayment)
	assert.NoError(t, err)
}

func TestDeleteHostKeepsKeys(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)
	host := newTestHost(t, s)

	_, err := s.CreatePlan(host, "1 month", 1, 100)
	require.NoError(t, err)

	email := fmt.Sprintf("%d-1@shop.bot", id)
	_, err = s.AddKey(id, host, uuid.NewString(), email, time.Now().Add(24*time.Hour).UnixMilli())
	require.NoError(t, err)

	require.NoError(t, s.DeleteHost(host))

	_, err = s.GetHost(host)
	assert.ErrorIs(t, err, ErrNotFound)
	plans, err := s.GetPlansForHost(host)
	require.NoError(t, err)
	assert.Empty(t, plans, "plans die with their host")

	k, err := s.GetKeyByEmail(email)
	require.NoError(t, err, "keys outlive their host as a tolerated degraded state")
	assert.Equal(t, host, k.HostName)
}

func TestPlansOrderedByMonths(t *testing.T) {
	s := newTestStore(t)
	host := newTestHost(t, s)

	for _, months := range []int{12, 1, 6} {
		_, err := s.CreatePlan(host, fmt.Sprintf("%d months", months), months, float64(months)*90)
		require.NoError(t, err)
	}

	plans, err := s.GetPlansForHost(host)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, []int{1, 6, 12}, []int{plans[0].Months, plans[1].Months, plans[2].Months})

	p, err := s.GetPlanByID(plans[0].ID)
	require.NoError(t, err)
	assert.Equal(t, host, p.HostName)

	require.NoError(t, s.DeletePlan(plans[0].ID))
	_, err = s.GetPlanByID(plans[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupportThreadMapping(t *testing.T) {
	s := newTestStore(t)
	id := newTestUser(t, s, nil)
	threadID := rand.Int63n(1_000_000)

	require.NoError(t, s.SetSupportThread(id, threadID))
	require.NoError(t, s.SetSupportThread(id, threadID+1))

	got, err := s.GetSupportThreadID(id)
	require.NoError(t, err)
	assert.Equal(t, threadID+1, got)

	back, err := s.GetUserIDByThread(threadID + 1)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}
