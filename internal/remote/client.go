// Package remote defines the boundary to the hosted data and auth backend.
// Everything above this package talks to the backend only through these interfaces.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DataClient executes table operations and change-feed subscriptions
type DataClient interface {
	// Query decodes the matching rows into dest (a pointer to a slice)
	Query(ctx context.Context, q Query, dest interface{}) error
	// Insert adds one row or a slice of rows; inserted rows are decoded into dest when non-nil
	Insert(ctx context.Context, table string, rows interface{}, dest interface{}) error
	// Update patches the rows matched by q and always stamps updated_at
	Update(ctx context.Context, q Query, patch map[string]interface{}, dest interface{}) error
	Delete(ctx context.Context, q Query) error
	// Subscribe delivers change events for table, optionally narrowed by an eq filter
	Subscribe(ctx context.Context, table string, filter *Filter, handler func(ChangeEvent)) (Subscription, error)
}

// AuthClient manages one identity session
type AuthClient interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns the created identity; the session is nil when email confirmation is required
	SignUp(ctx context.Context, email, password string, metadata map[string]interface{}) (*User, *Session, error)
	SignOut(ctx context.Context) error
	// GetSession returns the current session, refreshing it when expired; nil when signed out
	GetSession(ctx context.Context) (*Session, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error
	UpdatePassword(ctx context.Context, newPassword string) error
	// NotifyRecovery announces the held session as opened from a password-reset link
	NotifyRecovery()
	OnAuthStateChange(fn func(AuthEvent, *Session)) Subscription
}

// Client is the single typed client a browser session works with
type Client interface {
	DataClient
	AuthClient
	Close() error
}

// Subscription is a cancellable registration
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// ChangeType is the kind of row change
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a pushed row change
type ChangeEvent struct {
	Type      ChangeType      `json:"type"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	At        time.Time       `json:"commit_timestamp"`
}

// AuthEvent names an auth state transition
type AuthEvent string

const (
	EventSignedIn         AuthEvent = "SIGNED_IN"
	EventSignedOut        AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed   AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEvent = "USER_UPDATED"
	EventPasswordRecovery AuthEvent = "PASSWORD_RECOVERY"
)

// User is the auth identity
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// MetadataString reads a string field from the identity metadata
func (u User) MetadataString(key string) string {
	if v, ok := u.UserMetadata[key].(string); ok {
		return v
	}
	return ""
}

// Session is an issued token pair
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// expiryMargin refreshes tokens slightly before they lapse
const expiryMargin = 30 * time.Second

// Expired reports whether the access token is (about to be) unusable
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(expiryMargin).Unix() >= s.ExpiresAt
}

var (
	// ErrNotFound is returned when a single-row lookup matched nothing
	ErrNotFound = errors.New("no rows returned")
	// ErrNoSession is returned by operations that need a signed-in user
	ErrNoSession = errors.New("auth session missing")
)

// Error is a backend error; Message is meant to be shown to the user as is
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Message extracts the user-facing text of err
func Message(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}

// IsUniqueViolation reports a duplicate-key error from the database
func IsUniqueViolation(err error) bool {
	var re *Error
	return errors.As(err, &re) && (re.Code == "23505" || re.Status == 409)
}

type combined struct {
	AuthClient
	DataClient
}

// Combine serves auth and data from different backends
func Combine(auth AuthClient, data DataClient) Client {
	return &combined{AuthClient: auth, DataClient: data}
}

func (c *combined) Close() error {
	if closer, ok := c.AuthClient.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
