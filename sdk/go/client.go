// Package sdk provides typed access to the rankboard HTTP + WebSocket
// API: the public directory view for viewers and the admin console
// routes for authenticated tooling.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rankboard/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the rankboard HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL: baseURL,
		wsURL:   deriveWSURL(baseURL),
		// The session gate answers unauthorized console calls with a 303
		// to the sign-in or public route. Following it would hide the
		// gate's error body, so redirects are surfaced, not chased.
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// SetAuthToken replaces the bearer token, e.g. after SignIn.
func (c *Client) SetAuthToken(token string) {
	if strings.TrimSpace(token) == "" {
		c.headers.Del("Authorization")
		return
	}
	c.headers.Set("Authorization", "Bearer "+token)
}

// Directory fetches the public leaderboard view.
func (c *Client) Directory(ctx context.Context) (DirectoryView, error) {
	var out DirectoryView
	err := c.call(ctx, http.MethodGet, "/leaderboards", nil, &out)
	return out, err
}

// RefreshDirectory forces a server-side refetch and returns the
// resulting view.
func (c *Client) RefreshDirectory(ctx context.Context) (DirectoryView, error) {
	var out DirectoryView
	err := c.call(ctx, http.MethodPost, "/leaderboards/refresh", nil, &out)
	return out, err
}

// SignIn exchanges credentials for a bearer token and installs it on
// the client.
func (c *Client) SignIn(ctx context.Context, email, password string) (SessionInfo, error) {
	var out SessionInfo
	err := c.call(ctx, http.MethodPost, "/auth/session",
		map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return SessionInfo{}, err
	}
	c.SetAuthToken(out.Token)
	return out, nil
}

// SessionState reports the gate's view of the current token.
func (c *Client) SessionState(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	err := c.call(ctx, http.MethodGet, "/auth/session", nil, &out)
	return out, err
}

// SignOut invalidates the current session and clears the token.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.call(ctx, http.MethodDelete, "/auth/session", nil, nil); err != nil {
		return err
	}
	c.SetAuthToken("")
	return nil
}

// ConsoleState fetches the admin console's confirmed state.
func (c *Client) ConsoleState(ctx context.Context) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodGet, "/admin/state", nil, &out)
	return out, err
}

// CreateLeaderboard creates a leaderboard. An empty description is
// stored as absent.
func (c *Client) CreateLeaderboard(ctx context.Context, name, description string) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodPost, "/admin/leaderboards",
		map[string]string{"name": name, "description": description}, &out)
	return out, err
}

// UpdateLeaderboard replaces a leaderboard's name and description.
func (c *Client) UpdateLeaderboard(ctx context.Context, id core.LeaderboardID, name, description string) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodPut, "/admin/leaderboards/"+url.PathEscape(string(id)),
		map[string]string{"name": name, "description": description}, &out)
	return out, err
}

// DeleteLeaderboard deletes a leaderboard and, store-side, its entries.
func (c *Client) DeleteLeaderboard(ctx context.Context, id core.LeaderboardID) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodDelete, "/admin/leaderboards/"+url.PathEscape(string(id)), nil, &out)
	return out, err
}

// SelectLeaderboard sets the console's current leaderboard.
func (c *Client) SelectLeaderboard(ctx context.Context, id core.LeaderboardID) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodPost, "/admin/leaderboards/"+url.PathEscape(string(id))+"/select", nil, &out)
	return out, err
}

// CreateEntry adds an entry under the selected leaderboard. Score is
// passed as typed text; the server rejects non-numeric input before any
// store call.
func (c *Client) CreateEntry(ctx context.Context, playerName, score string) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodPost, "/admin/entries",
		map[string]string{"player_name": playerName, "score": score}, &out)
	return out, err
}

// UpdateEntry performs the full edit. A non-empty delta takes
// precedence over the absolute score.
func (c *Client) UpdateEntry(ctx context.Context, id core.EntryID, playerName, score, delta string) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodPut, "/admin/entries/"+url.PathEscape(string(id)),
		map[string]string{"player_name": playerName, "score": score, "delta": delta}, &out)
	return out, err
}

// AddPoints applies a signed delta to an entry's score.
func (c *Client) AddPoints(ctx context.Context, id core.EntryID, delta string) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodPost, "/admin/entries/"+url.PathEscape(string(id))+"/points",
		map[string]string{"delta": delta}, &out)
	return out, err
}

// DeleteEntry removes one entry.
func (c *Client) DeleteEntry(ctx context.Context, id core.EntryID) (ConsoleState, error) {
	var out ConsoleState
	err := c.call(ctx, http.MethodDelete, "/admin/entries/"+url.PathEscape(string(id)), nil, &out)
	return out, err
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.call(ctx, http.MethodGet, "/healthz", nil, &hs)
	return hs, err
}

// SubscribeChanges connects to the WebSocket stream and emits
// core.Change values. The returned channel closes when ctx is done or
// the connection drops. Viewers should treat each change as an
// invalidation signal and refetch.
func (c *Client) SubscribeChanges(ctx context.Context) (<-chan core.Change, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Change, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var change core.Change
				if err := conn.ReadJSON(&change); err != nil {
					return
				}
				select {
				case out <- change:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, target any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
