package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ipimonitor/ipi-api/internal/remote"
)

const authPath = "/auth/v1"

type credentials struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// normalize fills ExpiresAt when the server only sent expires_in
func (c *Client) normalize(s *remote.Session) *remote.Session {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}
	return s
}

// setSession swaps the held session and notifies listeners outside the lock
func (c *Client) setSession(s *remote.Session, event remote.AuthEvent) {
	c.mu.Lock()
	c.session = s
	rt := c.rt
	listeners := make([]func(remote.AuthEvent, *remote.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if rt != nil && s != nil {
		rt.setToken(s.AccessToken)
	}
	for _, fn := range listeners {
		fn(event, s)
	}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*remote.Session, error) {
	var sess remote.Session
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   credentials{Email: email, Password: password},
	}, &sess)
	if err != nil {
		return nil, err
	}

	c.setSession(c.normalize(&sess), remote.EventSignedIn)
	return &sess, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]interface{}) (*remote.User, *remote.Session, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/signup",
		body:   credentials{Email: email, Password: password, Data: metadata},
	}, &raw)
	if err != nil {
		return nil, nil, err
	}

	// With auto-confirm the response is a session, otherwise the bare user
	var sess remote.Session
	if err := json.Unmarshal(raw, &sess); err == nil && sess.AccessToken != "" {
		c.setSession(c.normalize(&sess), remote.EventSignedIn)
		user := sess.User
		return &user, &sess, nil
	}

	var user remote.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, err
	}
	if user.ID == "" {
		return nil, nil, &remote.Error{Status: http.StatusBadGateway, Message: "sign up returned no user"}
	}
	return &user, nil, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	sess := c.currentSession()
	if sess == nil {
		return nil
	}

	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/logout",
		token:  sess.AccessToken,
	}, nil)

	// The local session is dropped even when the server already forgot it
	c.setSession(nil, remote.EventSignedOut)

	var re *remote.Error
	if errors.As(err, &re) {
		switch re.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil
		}
	}
	return err
}

func (c *Client) GetSession(ctx context.Context) (*remote.Session, error) {
	sess := c.currentSession()
	if sess == nil || !sess.Expired(c.now()) {
		return sess, nil
	}

	// Refresh tokens are single use, so only one caller may spend it
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	sess = c.currentSession()
	if sess == nil || !sess.Expired(c.now()) {
		return sess, nil
	}

	refreshed, err := c.refresh(ctx, sess.RefreshToken)
	if err != nil {
		c.setSession(nil, remote.EventSignedOut)
		return nil, err
	}
	c.setSession(refreshed, remote.EventTokenRefreshed)
	return refreshed, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*remote.Session, error) {
	var sess remote.Session
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &sess)
	if err != nil {
		return nil, err
	}
	return c.normalize(&sess), nil
}

// tokenExpiry reads exp from an access token without verifying it;
// the auth server verifies the token when the user is fetched.
func tokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}

func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*remote.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, &remote.Error{Status: http.StatusBadRequest, Message: "access token and refresh token are required"}
	}

	exp, err := tokenExpiry(accessToken)
	if err != nil {
		return nil, &remote.Error{Status: http.StatusUnauthorized, Message: "invalid access token"}
	}

	now := c.now()
	candidate := &remote.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}
	if !exp.IsZero() {
		candidate.ExpiresAt = exp.Unix()
		candidate.ExpiresIn = int(exp.Sub(now).Seconds())
	}

	if candidate.Expired(now) {
		refreshed, err := c.refresh(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		c.setSession(refreshed, remote.EventSignedIn)
		return refreshed, nil
	}

	var user remote.User
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   authPath + "/user",
		token:  accessToken,
	}, &user); err != nil {
		return nil, err
	}
	candidate.User = user

	c.setSession(candidate, remote.EventSignedIn)
	return candidate, nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	q := url.Values{}
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/recover",
		query:  q,
		body:   map[string]string{"email": email},
	}, nil)
}

func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return remote.ErrNoSession
	}

	var user remote.User
	if err := c.do(ctx, request{
		method: http.MethodPut,
		path:   authPath + "/user",
		body:   map[string]string{"password": newPassword},
		token:  sess.AccessToken,
	}, &user); err != nil {
		return err
	}

	updated := *sess
	if user.ID != "" {
		updated.User = user
	}
	c.setSession(&updated, remote.EventUserUpdated)
	return nil
}

func (c *Client) NotifyRecovery() {
	if sess := c.currentSession(); sess != nil {
		c.setSession(sess, remote.EventPasswordRecovery)
	}
}

func (c *Client) OnAuthStateChange(fn func(remote.AuthEvent, *remote.Session)) remote.Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return remote.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	})
}
