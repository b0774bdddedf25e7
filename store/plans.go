package store

import (
	"context"

	"github.com/TheNotus/vless-shopbot/types"
)

func (s *PostgresStore) CreatePlan(hostName, planName string, months int, price float64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO plans (host_name, plan_name, months, price)
VALUES ($1, $2, $3, $4)
RETURNING plan_id
`, hostName, planName, months, price).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetPlansForHost(hostName string) ([]types.Plan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT plan_id, host_name, plan_name, months, price
FROM plans
WHERE host_name = $1
ORDER BY months
`, hostName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []types.Plan
	for rows.Next() {
		var p types.Plan
		if err := rows.Scan(&p.ID, &p.HostName, &p.Name, &p.Months, &p.Price); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *PostgresStore) GetPlanByID(planID int64) (*types.Plan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	var p types.Plan
	err := s.pool.QueryRow(ctx, `
SELECT plan_id, host_name, plan_name, months, price
FROM plans
WHERE plan_id = $1
`, planID).Scan(&p.ID, &p.HostName, &p.Name, &p.Months, &p.Price)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (s *PostgresStore) DeletePlan(planID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, "DELETE FROM plans WHERE plan_id = $1", planID)
	return err
}
