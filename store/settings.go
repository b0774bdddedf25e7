package store

import "context"

// GetSetting returns the value for key, or ErrNotFound. A seeded-but-null
// value comes back as the empty string.
func (s *PostgresStore) GetSetting(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var value *string
	err := s.pool.QueryRow(ctx, "SELECT value FROM bot_settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		return "", mapError(err)
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

func (s *PostgresStore) GetAllSettings() (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, "SELECT key, value FROM bot_settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key string
		var value *string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if value != nil {
			settings[key] = *value
		} else {
			settings[key] = ""
		}
	}
	return settings, rows.Err()
}

func (s *PostgresStore) UpdateSetting(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO bot_settings (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`, key, value)
	return err
}
