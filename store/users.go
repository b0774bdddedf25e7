package store

import (
	"context"
	"strings"
	"time"

	"github.com/TheNotus/vless-shopbot/types"
)

// RegisterUserIfNotExists creates the user on first contact. On repeat
// contact only the username is refreshed; stats, flags and referred_by are
// never overwritten by registration.
func (s *PostgresStore) RegisterUserIfNotExists(telegramID int64, username string, referredBy *int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (telegram_id, username, referred_by)
VALUES ($1, $2, $3)
ON CONFLICT (telegram_id) DO UPDATE SET
  username = EXCLUDED.username;
`, telegramID, strings.TrimSpace(username), referredBy)
	return err
}

func (s *PostgresStore) GetUser(telegramID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var u types.User
	err := s.pool.QueryRow(ctx, `
SELECT telegram_id, username, total_spent, total_months, trial_used,
       agreed_to_terms, registration_date, is_banned, referred_by
FROM users
WHERE telegram_id = $1
`, telegramID).Scan(&u.TelegramID, &u.Username, &u.TotalSpent, &u.TotalMonths,
		&u.TrialUsed, &u.AgreedToTerms, &u.RegistrationDate, &u.IsBanned, &u.ReferredBy)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *PostgresStore) GetAllUsers() ([]types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT telegram_id, username, total_spent, total_months, trial_used,
       agreed_to_terms, registration_date, is_banned, referred_by
FROM users
ORDER BY registration_date DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.TelegramID, &u.Username, &u.TotalSpent, &u.TotalMonths,
			&u.TrialUsed, &u.AgreedToTerms, &u.RegistrationDate, &u.IsBanned, &u.ReferredBy); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SetTermsAgreed(telegramID int64) error {
	return s.setUserFlag(telegramID, "agreed_to_terms")
}

func (s *PostgresStore) SetTrialUsed(telegramID int64) error {
	return s.setUserFlag(telegramID, "trial_used")
}

func (s *PostgresStore) setUserFlag(telegramID int64, column string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "UPDATE users SET "+column+" = TRUE WHERE telegram_id = $1", telegramID)
	return err
}

func (s *PostgresStore) BanUser(telegramID int64) error {
	return s.setBanned(telegramID, true)
}

func (s *PostgresStore) UnbanUser(telegramID int64) error {
	return s.setBanned(telegramID, false)
}

func (s *PostgresStore) setBanned(telegramID int64, banned bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "UPDATE users SET is_banned = $2 WHERE telegram_id = $1", telegramID, banned)
	return err
}

// AddUserStats accumulates spend and purchased months. The increment runs
// server side so concurrent callers never lose updates.
func (s *PostgresStore) AddUserStats(telegramID int64, amountSpent float64, monthsPurchased int) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE users
SET total_spent = total_spent + $2,
    total_months = total_months + $3
WHERE telegram_id = $1
`, telegramID, amountSpent, monthsPurchased)
	return err
}

func (s *PostgresStore) GetReferralCount(telegramID int64) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE referred_by = $1", telegramID).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetUserCount() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

func (s *PostgresStore) GetTotalSpentSum() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var sum float64
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(SUM(total_spent), 0) FROM users").Scan(&sum)
	return sum, err
}

// DeleteUserData erases the user and everything tied to them (ledger
// rows, keys, support thread, the user row itself) in one transaction.
func (s *PostgresStore) DeleteUserData(telegramID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		"DELETE FROM transactions WHERE user_id = $1",
		"DELETE FROM vpn_keys WHERE user_id = $1",
		"DELETE FROM support_threads WHERE user_id = $1",
		"DELETE FROM users WHERE telegram_id = $1",
	} {
		if _, err := tx.Exec(ctx, stmt, telegramID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DailyStats returns per-day registration and key issue counts for the
// last days days, for the dashboard charts.
func (s *PostgresStore) DailyStats(days int) (*types.DailyStats, error) {
	if days <= 0 {
		days = 30
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	stats := &types.DailyStats{
		Users: make(map[string]int),
		Keys:  make(map[string]int),
	}
	fill := func(query string, dst map[string]int) error {
		rows, err := s.pool.Query(ctx, query, days)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var day string
			var n int
			if err := rows.Scan(&day, &n); err != nil {
				return err
			}
			dst[day] = n
		}
		return rows.Err()
	}

	if err := fill(`
SELECT to_char(registration_date::date, 'YYYY-MM-DD') AS day, COUNT(*)
FROM users
WHERE registration_date >= NOW() - make_interval(days => $1)
GROUP BY day ORDER BY day
`, stats.Users); err != nil {
		return nil, err
	}
	if err := fill(`
SELECT to_char(created_date::date, 'YYYY-MM-DD') AS day, COUNT(*)
FROM vpn_keys
WHERE created_date >= NOW() - make_interval(days => $1)
GROUP BY day ORDER BY day
`, stats.Keys); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PostgresStore) RecentKeyActivity(limit int) ([]types.KeyActivity, error) {
	if limit <= 0 {
		limit = 15
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT k.key_id, k.host_name, k.created_date, u.telegram_id, u.username
FROM vpn_keys k
JOIN users u ON k.user_id = u.telegram_id
ORDER BY k.created_date DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.KeyActivity
	for rows.Next() {
		var a types.KeyActivity
		if err := rows.Scan(&a.KeyID, &a.HostName, &a.CreatedDate, &a.TelegramID, &a.Username); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
