package store

import "context"

func (s *PostgresStore) SetSupportThread(userID, threadID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO support_threads (user_id, thread_id)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET thread_id = EXCLUDED.thread_id
`, userID, threadID)
	return err
}

func (s *PostgresStore) GetSupportThreadID(userID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var threadID int64
	err := s.pool.QueryRow(ctx, "SELECT thread_id FROM support_threads WHERE user_id = $1", userID).Scan(&threadID)
	if err != nil {
		return 0, mapError(err)
	}
	return threadID, nil
}

func (s *PostgresStore) GetUserIDByThread(threadID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var userID int64
	err := s.pool.QueryRow(ctx, "SELECT user_id FROM support_threads WHERE thread_id = $1", threadID).Scan(&userID)
	if err != nil {
		return 0, mapError(err)
	}
	return userID, nil
}
