// Package recovery establishes a session from a password-reset link.
package recovery

import (
	"context"
	"log"
	"net/url"

	"github.com/ipimonitor/ipi-api/internal/remote"
)

// State of a recovery handshake
type State string

const (
	Checking    State = "checking"
	Established State = "established"
	Failed      State = "failed"
)

const (
	// RemediationMessage is shown for every handshake failure
	RemediationMessage = "Invalid or expired password reset link. Please request a new one."
	// RestartPath is where a new reset link can be requested
	RestartPath = "/reset-password"
	// FlowType is the link type the handshake accepts
	FlowType = "recovery"
)

// recoveryParams are removed from the visible URL once handled
var recoveryParams = []string{
	"access_token", "refresh_token", "type", "expires_in", "expires_at",
	"token_type", "provider_token", "provider_refresh_token",
}

// SessionClient is the part of the auth client the handshake needs
type SessionClient interface {
	GetSession(ctx context.Context) (*remote.Session, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*remote.Session, error)
	NotifyRecovery()
}

// Tokens are the credentials carried by a reset link
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Type         string
}

// Result is the terminal state of a handshake
type Result struct {
	State       State           `json:"state"`
	Message     string          `json:"message,omitempty"`
	RestartPath string          `json:"restart_path,omitempty"`
	CleanURL    string          `json:"clean_url,omitempty"`
	Session     *remote.Session `json:"-"`
}

func failed() Result {
	return Result{State: Failed, Message: RemediationMessage, RestartPath: RestartPath}
}

// ParseTokens reads the link credentials from the fragment, falling back to
// the query string when the fragment carries no access token.
func ParseTokens(u *url.URL) Tokens {
	frag, _ := url.ParseQuery(u.Fragment)
	t := Tokens{
		AccessToken:  frag.Get("access_token"),
		RefreshToken: frag.Get("refresh_token"),
		Type:         frag.Get("type"),
	}
	if t.AccessToken != "" {
		return t
	}

	q := u.Query()
	return Tokens{
		AccessToken:  q.Get("access_token"),
		RefreshToken: q.Get("refresh_token"),
		Type:         q.Get("type"),
	}
}

// Scrub drops the fragment and every recovery parameter, keeping the path and
// unrelated query parameters. The result is relative (path plus query).
func Scrub(u *url.URL) string {
	q := u.Query()
	for _, p := range recoveryParams {
		q.Del(p)
	}
	clean := url.URL{Path: u.Path, RawQuery: q.Encode()}
	if clean.Path == "" {
		clean.Path = "/"
	}
	return clean.String()
}

// Handshake runs the recovery flow against one session's auth client
type Handshake struct {
	client SessionClient
}

func NewHandshake(client SessionClient) *Handshake {
	return &Handshake{client: client}
}

// Run resolves rawURL (the full reset link as the browser saw it, fragment included)
// to Established or Failed. It never returns Checking.
func (h *Handshake) Run(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil {
		return failed()
	}

	// The client may already hold a session, e.g. from an earlier run of this link
	sess, err := h.client.GetSession(ctx)
	if err != nil {
		log.Printf("⚠️  recovery: existing session check failed: %v", err)
	}
	if sess != nil {
		return Result{State: Established, CleanURL: Scrub(u), Session: sess}
	}

	tokens := ParseTokens(u)
	if tokens.Type != FlowType || tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return failed()
	}

	sess, err = h.client.SetSession(ctx, tokens.AccessToken, tokens.RefreshToken)
	if err != nil || sess == nil {
		if err != nil {
			log.Printf("⚠️  recovery: session exchange failed: %v", err)
		}
		return failed()
	}
	// Listeners learn the session came from a reset link, not a sign-in
	h.client.NotifyRecovery()
	return Result{State: Established, CleanURL: Scrub(u), Session: sess}
}
