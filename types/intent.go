package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PurchaseIntent is the provisioning intent captured when a pending
// transaction is created. It is the single source of truth for what should
// happen once the payment completes; the completion callback never
// re-derives it from provider data.
//
// Unknown JSON fields survive a decode/encode round trip so older rows and
// newer writers can coexist.
type PurchaseIntent struct {
	Kind     IntentKind
	UserID   int64
	HostName string
	PlanID   int64
	PlanName string
	Months   int
	Days     int
	KeyEmail string

	extra map[string]json.RawMessage
}

var ErrInvalidIntent = errors.New("invalid purchase intent")

var intentKnownFields = []string{
	"kind", "user_id", "host_name", "plan_id", "plan_name", "months", "days", "key_email",
}

// Validate is run at write time: a pending transaction never stores an
// intent that cannot be resumed later.
func (p *PurchaseIntent) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty", ErrInvalidIntent)
	}
	switch p.Kind {
	case IntentPurchase, IntentTrial:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidIntent, p.Kind)
	}
	if p.UserID == 0 {
		return fmt.Errorf("%w: missing user id", ErrInvalidIntent)
	}
	if p.HostName == "" {
		return fmt.Errorf("%w: missing host name", ErrInvalidIntent)
	}
	if p.KeyEmail == "" {
		return fmt.Errorf("%w: missing key email", ErrInvalidIntent)
	}
	if p.Months <= 0 && p.Days <= 0 {
		return fmt.Errorf("%w: missing duration", ErrInvalidIntent)
	}
	return nil
}

// DurationDays is the number of days this intent provisions. Months are
// billed as 30-day blocks on the panel side.
func (p *PurchaseIntent) DurationDays() int {
	if p.Days > 0 {
		return p.Days
	}
	return p.Months * 30
}

func (p *PurchaseIntent) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.extra)+8)
	for k, v := range p.extra {
		out[k] = v
	}
	put := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = raw
		return nil
	}
	if err := put("kind", p.Kind); err != nil {
		return nil, err
	}
	if err := put("user_id", p.UserID); err != nil {
		return nil, err
	}
	if err := put("host_name", p.HostName); err != nil {
		return nil, err
	}
	if err := put("key_email", p.KeyEmail); err != nil {
		return nil, err
	}
	if p.PlanID != 0 {
		if err := put("plan_id", p.PlanID); err != nil {
			return nil, err
		}
	}
	if p.PlanName != "" {
		if err := put("plan_name", p.PlanName); err != nil {
			return nil, err
		}
	}
	if p.Months != 0 {
		if err := put("months", p.Months); err != nil {
			return nil, err
		}
	}
	if p.Days != 0 {
		if err := put("days", p.Days); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (p *PurchaseIntent) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	take := func(key string, dst any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}
	if err := take("kind", &p.Kind); err != nil {
		return err
	}
	if err := take("user_id", &p.UserID); err != nil {
		return err
	}
	if err := take("host_name", &p.HostName); err != nil {
		return err
	}
	if err := take("plan_id", &p.PlanID); err != nil {
		return err
	}
	if err := take("plan_name", &p.PlanName); err != nil {
		return err
	}
	if err := take("months", &p.Months); err != nil {
		return err
	}
	if err := take("days", &p.Days); err != nil {
		return err
	}
	if err := take("key_email", &p.KeyEmail); err != nil {
		return err
	}
	for _, k := range intentKnownFields {
		delete(fields, k)
	}
	if len(fields) > 0 {
		p.extra = fields
	} else {
		p.extra = nil
	}
	return nil
}
