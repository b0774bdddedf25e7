package store

import (
	"context"
	"time"

	"github.com/TheNotus/vless-shopbot/types"
)

const keyColumns = "key_id, user_id, host_name, xui_client_uuid, key_email, expiry_date, created_date, key_name"

// AddKey inserts a provisioned key. expiryMs is the panel-reported expiry
// in epoch milliseconds; the panel, not the caller, is authoritative for
// it. Returns ErrDuplicate when the label is already taken.
func (s *PostgresStore) AddKey(userID int64, hostName, clientUUID, email string, expiryMs int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO vpn_keys (user_id, host_name, xui_client_uuid, key_email, expiry_date)
VALUES ($1, $2, $3, $4, $5)
RETURNING key_id
`, userID, hostName, clientUUID, email, time.UnixMilli(expiryMs).UTC()).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// UpdateKey overwrites the credential id and expiry. A key is never
// partially updated: extension always carries a fresh expiry, and the
// display name is left alone.
func (s *PostgresStore) UpdateKey(keyID int64, clientUUID string, expiryMs int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE vpn_keys
SET xui_client_uuid = $2, expiry_date = $3
WHERE key_id = $1
`, keyID, clientUUID, time.UnixMilli(expiryMs).UTC())
	return err
}

func (s *PostgresStore) RenameKey(keyID int64, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "UPDATE vpn_keys SET key_name = $2 WHERE key_id = $1", keyID, name)
	return err
}

func (s *PostgresStore) GetKeyByID(keyID int64) (*types.Key, error) {
	return s.getKey("key_id", keyID)
}

func (s *PostgresStore) GetKeyByEmail(email string) (*types.Key, error) {
	return s.getKey("key_email", email)
}

func (s *PostgresStore) getKey(column string, value any) (*types.Key, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var k types.Key
	err := s.pool.QueryRow(ctx,
		"SELECT "+keyColumns+" FROM vpn_keys WHERE "+column+" = $1", value,
	).Scan(&k.ID, &k.UserID, &k.HostName, &k.ClientUUID, &k.Email, &k.ExpiryDate, &k.CreatedDate, &k.Name)
	if err != nil {
		return nil, mapError(err)
	}
	return &k, nil
}

func (s *PostgresStore) GetUserKeys(userID int64) ([]types.Key, error) {
	return s.listKeys("SELECT "+keyColumns+" FROM vpn_keys WHERE user_id = $1 ORDER BY key_id", userID)
}

func (s *PostgresStore) GetKeysForHost(hostName string) ([]types.Key, error) {
	return s.listKeys("SELECT "+keyColumns+" FROM vpn_keys WHERE host_name = $1 ORDER BY key_id", hostName)
}

func (s *PostgresStore) GetAllKeys() ([]types.Key, error) {
	return s.listKeys("SELECT " + keyColumns + " FROM vpn_keys ORDER BY key_id")
}

func (s *PostgresStore) listKeys(query string, args ...any) ([]types.Key, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []types.Key
	for rows.Next() {
		var k types.Key
		if err := rows.Scan(&k.ID, &k.UserID, &k.HostName, &k.ClientUUID, &k.Email, &k.ExpiryDate, &k.CreatedDate, &k.Name); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) DeleteKeyByID(keyID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "DELETE FROM vpn_keys WHERE key_id = $1", keyID)
	return err
}

func (s *PostgresStore) DeleteKeyByEmail(email string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "DELETE FROM vpn_keys WHERE key_email = $1", email)
	return err
}

func (s *PostgresStore) DeleteUserKeys(userID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "DELETE FROM vpn_keys WHERE user_id = $1", userID)
	return err
}

func (s *PostgresStore) CountKeys() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vpn_keys").Scan(&n)
	return n, err
}

// NextKeyNumber is the ordinal used to build a fresh key label for a user.
func (s *PostgresStore) NextKeyNumber(userID int64) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) + 1 FROM vpn_keys WHERE user_id = $1", userID).Scan(&n)
	return n, err
}
