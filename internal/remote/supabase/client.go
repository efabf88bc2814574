// Package supabase implements the remote client against a hosted Supabase project:
// PostgREST for tables, GoTrue for auth and Realtime for change feeds.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ipimonitor/ipi-api/internal/remote"
)

// Config holds project settings shared by every client instance
type Config struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is one browser session's view of the backend. It holds that session's
// tokens, so instances must not be shared between users.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	refreshMu sync.Mutex

	mu        sync.RWMutex
	session   *remote.Session
	listeners map[int]func(remote.AuthEvent, *remote.Session)
	nextID    int
	rt        *realtime
	heartbeat time.Duration
	closed    bool
}

// New creates a signed-out client
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		cfg:       cfg,
		http:      httpClient,
		now:       time.Now,
		listeners: make(map[int]func(remote.AuthEvent, *remote.Session)),
		heartbeat: heartbeatPeriod,
	}
}

// Close tears down the realtime connection and drops listeners
func (c *Client) Close() error {
	c.mu.Lock()
	rt := c.rt
	c.rt = nil
	c.closed = true
	c.listeners = make(map[int]func(remote.AuthEvent, *remote.Session))
	c.mu.Unlock()

	if rt != nil {
		rt.close()
	}
	return nil
}

// currentSession returns a copy-safe pointer to the held session
func (c *Client) currentSession() *remote.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// bearer returns the token data requests run under: the user's access token when
// signed in (refreshed if needed), the anon key otherwise.
func (c *Client) bearer(ctx context.Context) (string, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return c.cfg.AnonKey, nil
	}
	return sess.AccessToken, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   interface{}
	token  string
	header http.Header
}

// do sends req and decodes a 2xx JSON body into dest
func (c *Client) do(ctx context.Context, req request, dest interface{}) error {
	u := c.cfg.URL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("apikey", c.cfg.AnonKey)
	token := req.token
	if token == "" {
		token = c.cfg.AnonKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.header {
		httpReq.Header[k] = v
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &remote.Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &remote.Error{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, raw)
	}
	if dest == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", req.method, req.path, err)
	}
	return nil
}

// errorBody covers both PostgREST and GoTrue error shapes
type errorBody struct {
	Code             interface{} `json:"code"`
	ErrorCode        string      `json:"error_code"`
	Message          string      `json:"message"`
	Msg              string      `json:"msg"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
	Details          string      `json:"details"`
	Hint             string      `json:"hint"`
}

func decodeError(status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	out := &remote.Error{Status: status, Details: eb.Details, Hint: eb.Hint}
	switch code := eb.Code.(type) {
	case string:
		out.Code = code
	case float64:
		out.Code = fmt.Sprintf("%d", int(code))
	}
	if eb.ErrorCode != "" {
		out.Code = eb.ErrorCode
	}

	for _, m := range []string{eb.Message, eb.Msg, eb.ErrorDescription, eb.Error} {
		if m != "" {
			out.Message = m
			break
		}
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
