// Package gateway abstracts the remote chat backend. Every call returns
// a success/failure value; transport errors and non-success responses
// look the same to callers, which only need the error path.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
)

// OutboundMessage is the minimal wire payload for a send.
type OutboundMessage struct {
	ID             string `json:"_id"`
	RoomID         string `json:"rid"`
	Body           string `json:"msg"`
	ThreadID       string `json:"tmid,omitempty"`
	EncryptionType string `json:"t,omitempty"`
}

// ServerMessage carries the server-derived fields echoed on a
// successful send.
type ServerMessage struct {
	ID       string   `json:"_id"`
	Mentions []string `json:"mentions,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// SendResult is the outcome of a sendMessage call.
type SendResult struct {
	Success bool           `json:"success"`
	Message *ServerMessage `json:"message,omitempty"`
}

// Keys is the server-held E2E key material for the current user.
// Absence of either field is a valid response, not an error.
type Keys struct {
	PublicKey  string `json:"public_key,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// ServerInfo reports the capabilities relevant to this subsystem.
type ServerInfo struct {
	E2EEnabled bool `json:"e2e_enabled"`
}

// Client talks to one chat server. Calls are paced by a client-side
// rate limiter so the reconciliation runner cannot stampede the
// backend.
type Client struct {
	baseURL   string
	authToken string
	userID    string
	timeout   time.Duration

	hc      *fasthttp.Client
	limiter *rate.Limiter
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	AuthToken string
	UserID    string
	Timeout   time.Duration
	RateRPS   float64
	RateBurst int
}

// New returns a Client for the given server.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateRPS <= 0 {
		opts.RateRPS = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	return &Client{
		baseURL:   opts.BaseURL,
		authToken: opts.AuthToken,
		userID:    opts.UserID,
		timeout:   opts.Timeout,
		hc:        &fasthttp.Client{},
		limiter:   rate.NewLimiter(rate.Limit(opts.RateRPS), opts.RateBurst),
	}
}

// SendMessage posts a message. A transport error, a non-2xx status and
// success=false in the body are all reported as a failed result.
func (c *Client) SendMessage(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	var res SendResult
	body, err := json.Marshal(map[string]any{"message": msg})
	if err != nil {
		return res, err
	}
	raw, err := c.do(ctx, "POST", "/api/v1/chat.sendMessage", body)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return SendResult{}, fmt.Errorf("invalid sendMessage response: %w", err)
	}
	return res, nil
}

// GetMessage asks whether the server holds a message with the given id.
// Used by the reconciliation runner to detect sends that were acked
// remotely but failed to commit locally.
func (c *Client) GetMessage(ctx context.Context, id string) (*ServerMessage, bool, error) {
	raw, err := c.do(ctx, "GET", "/api/v1/chat.getMessage?msgId="+id, nil)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Success bool           `json:"success"`
		Message *ServerMessage `json:"message,omitempty"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("invalid getMessage response: %w", err)
	}
	if !out.Success || out.Message == nil {
		return nil, false, nil
	}
	return out.Message, true, nil
}

// FetchMyKeys retrieves the user's server-held E2E keys.
func (c *Client) FetchMyKeys(ctx context.Context) (Keys, error) {
	var keys Keys
	raw, err := c.do(ctx, "GET", "/api/v1/e2e.fetchMyKeys", nil)
	if err != nil {
		return keys, err
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Keys{}, fmt.Errorf("invalid fetchMyKeys response: %w", err)
	}
	return keys, nil
}

// StoreMyKeys uploads the public key and the password-wrapped private
// key blob so the user can recover on another device.
func (c *Client) StoreMyKeys(ctx context.Context, publicKey, wrappedPrivateKey string) error {
	body, err := json.Marshal(Keys{PublicKey: publicKey, PrivateKey: wrappedPrivateKey})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "POST", "/api/v1/e2e.setUserPublicAndPrivateKeys", body)
	return err
}

// ServerInfo fetches the server capability flags.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	raw, err := c.do(ctx, "GET", "/api/v1/e2e.info", nil)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return ServerInfo{}, fmt.Errorf("invalid server info response: %w", err)
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
		req.Header.Set("X-User-Id", c.userID)
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	if err := c.hc.DoTimeout(req, resp, c.timeout); err != nil {
		logger.Warn("gateway_request_failed", "method", method, "path", path, "error", err)
		return nil, err
	}
	if sc := resp.StatusCode(); sc < 200 || sc > 299 {
		logger.Warn("gateway_request_rejected", "method", method, "path", path, "status", sc)
		return nil, fmt.Errorf("gateway: %s %s returned %d", method, path, sc)
	}
	return append([]byte(nil), resp.Body()...), nil
}
