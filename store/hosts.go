package store

import (
	"context"
	"strings"

	"github.com/TheNotus/vless-shopbot/types"
)

func (s *PostgresStore) CreateHost(h types.Host) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO xui_hosts (host_name, host_url, host_username, host_pass, host_inbound_id)
VALUES ($1, $2, $3, $4, $5)
`, strings.TrimSpace(h.Name), strings.TrimSpace(h.URL), h.Username, h.Password, h.InboundID)
	return mapError(err)
}

// DeleteHost removes the host and its plans. Keys issued against the host
// stay behind; provisioning against them degrades to host-not-found until
// the host record is recreated.
func (s *PostgresStore) DeleteHost(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM plans WHERE host_name = $1", name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM xui_hosts WHERE host_name = $1", name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetHost(name string) (*types.Host, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var h types.Host
	err := s.pool.QueryRow(ctx, `
SELECT host_name, host_url, host_username, host_pass, host_inbound_id
FROM xui_hosts
WHERE host_name = $1
`, name).Scan(&h.Name, &h.URL, &h.Username, &h.Password, &h.InboundID)
	if err != nil {
		return nil, mapError(err)
	}
	return &h, nil
}

func (s *PostgresStore) GetAllHosts() ([]types.Host, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT host_name, host_url, host_username, host_pass, host_inbound_id
FROM xui_hosts
ORDER BY host_name
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []types.Host
	for rows.Next() {
		var h types.Host
		if err := rows.Scan(&h.Name, &h.URL, &h.Username, &h.Password, &h.InboundID); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}
