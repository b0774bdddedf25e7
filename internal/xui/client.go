// Package xui talks to the 3x-ui panel that owns the actual credentials.
// The panel is authoritative: whatever expiry it ends up holding is what
// gets written back into the local store.
package xui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheNotus/vless-shopbot/types"
)

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// ClientUpdate is the panel's answer for one credential.
type ClientUpdate struct {
	ClientUUID string
	ExpiryMs   int64
}

type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

type inboundObj struct {
	Settings string `json:"settings"`
}

type inboundSettings struct {
	Clients []panelClient `json:"clients"`
}

type panelClient struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	Flow       string `json:"flow,omitempty"`
}

// ExtendOrCreateClient adds addDays to the panel-side client identified by
// email, creating it when absent. A still-valid remote expiry is extended
// from its current value, not from now.
func (c *Client) ExtendOrCreateClient(ctx context.Context, host *types.Host, email string, addDays int) (*ClientUpdate, error) {
	session, err := c.login(ctx, host)
	if err != nil {
		return nil, err
	}

	existing, err := c.findClient(ctx, host, session, email)
	if err != nil {
		return nil, err
	}

	nowMs := time.Now().UnixMilli()
	addMs := int64(addDays) * 24 * int64(time.Hour/time.Millisecond)

	if existing != nil {
		base := existing.ExpiryTime
		if base < nowMs {
			base = nowMs
		}
		existing.ExpiryTime = base + addMs
		existing.Enable = true
		if err := c.postClient(ctx, host, session, "updateClient/"+existing.ID, *existing); err != nil {
			return nil, err
		}
		return &ClientUpdate{ClientUUID: existing.ID, ExpiryMs: existing.ExpiryTime}, nil
	}

	fresh := panelClient{
		ID:         uuid.New().String(),
		Email:      email,
		ExpiryTime: nowMs + addMs,
		Enable:     true,
	}
	if err := c.postClient(ctx, host, session, "addClient", fresh); err != nil {
		return nil, err
	}
	return &ClientUpdate{ClientUUID: fresh.ID, ExpiryMs: fresh.ExpiryTime}, nil
}

// GetClient returns the panel-side state for email, or nil when the panel
// no longer knows the label.
func (c *Client) GetClient(ctx context.Context, host *types.Host, email string) (*ClientUpdate, error) {
	session, err := c.login(ctx, host)
	if err != nil {
		return nil, err
	}
	existing, err := c.findClient(ctx, host, session, email)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	return &ClientUpdate{ClientUUID: existing.ID, ExpiryMs: existing.ExpiryTime}, nil
}

func (c *Client) login(ctx context.Context, host *types.Host) ([]*http.Cookie, error) {
	form := url.Values{}
	form.Set("username", host.Username)
	form.Set("password", host.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(host.URL, "/")+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login to host %q: %w", host.Name, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&api); err != nil {
		return nil, fmt.Errorf("login to host %q: %w", host.Name, err)
	}
	if !api.Success {
		return nil, fmt.Errorf("login to host %q rejected: %s", host.Name, api.Msg)
	}
	return resp.Cookies(), nil
}

func (c *Client) findClient(ctx context.Context, host *types.Host, session []*http.Cookie, email string) (*panelClient, error) {
	api, err := c.call(ctx, host, session, http.MethodGet,
		"/panel/api/inbounds/get/"+strconv.Itoa(host.InboundID), nil)
	if err != nil {
		return nil, err
	}

	var obj inboundObj
	if err := json.Unmarshal(api.Obj, &obj); err != nil {
		return nil, fmt.Errorf("host %q inbound %d: %w", host.Name, host.InboundID, err)
	}
	var settings inboundSettings
	if err := json.Unmarshal([]byte(obj.Settings), &settings); err != nil {
		return nil, fmt.Errorf("host %q inbound %d settings: %w", host.Name, host.InboundID, err)
	}
	for i := range settings.Clients {
		if settings.Clients[i].Email == email {
			return &settings.Clients[i], nil
		}
	}
	return nil, nil
}

func (c *Client) postClient(ctx context.Context, host *types.Host, session []*http.Cookie, action string, client panelClient) error {
	settings, err := json.Marshal(inboundSettings{Clients: []panelClient{client}})
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("id", strconv.Itoa(host.InboundID))
	form.Set("settings", string(settings))

	_, err = c.call(ctx, host, session, http.MethodPost,
		"/panel/api/inbounds/"+action, strings.NewReader(form.Encode()))
	return err
}

func (c *Client) call(ctx context.Context, host *types.Host, session []*http.Cookie, method, path string, body io.Reader) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(host.URL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, cookie := range session {
		req.AddCookie(cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("host %q: %w", host.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("host %q: %s returned %s", host.Name, path, resp.Status)
	}
	var api apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&api); err != nil {
		return nil, fmt.Errorf("host %q: %s: %w", host.Name, path, err)
	}
	if !api.Success {
		return nil, fmt.Errorf("host %q: %s rejected: %s", host.Name, path, api.Msg)
	}
	return &api, nil
}
