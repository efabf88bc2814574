// Package session owns the per-browser session: its remote client, the
// current auth session and the values derived from it.
package session

import (
	"context"
	"sync"

	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/selection"
)

// State is one browser session. It is created with its own remote client,
// started once, read concurrently and closed when the session ends.
type State struct {
	id     string
	client remote.Client

	mu       sync.RWMutex
	session  *remote.Session
	loading  bool
	profile  *model.AppUser
	sub      remote.Subscription
	watchers []func(remote.AuthEvent, *remote.Session)
	closed   bool

	selection *selection.State
}

// NewState wraps client; the state reports Loading until Start returns
func NewState(id string, client remote.Client) *State {
	return &State{id: id, client: client, loading: true}
}

// ID is the session id carried by the browser token
func (s *State) ID() string { return s.id }

// Client is the remote client bound to this session
func (s *State) Client() remote.Client { return s.client }

// Start reads the current session and follows auth state changes
func (s *State) Start(ctx context.Context) error {
	sub := s.client.OnAuthStateChange(s.onAuthChange)

	sess, err := s.client.GetSession(ctx)

	s.mu.Lock()
	s.sub = sub
	s.loading = false
	if err == nil && sess != nil {
		s.session = sess
	}
	s.mu.Unlock()
	return err
}

func (s *State) onAuthChange(event remote.AuthEvent, sess *remote.Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if event == remote.EventSignedOut {
		s.session = nil
		s.profile = nil
	} else if sess != nil {
		s.session = sess
	}
	watchers := append([]func(remote.AuthEvent, *remote.Session){}, s.watchers...)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(event, sess)
	}
}

// Watch registers fn for every auth change seen after Start
func (s *State) Watch(fn func(remote.AuthEvent, *remote.Session)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Session is the current auth session, nil when signed out
func (s *State) Session() *remote.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// User is the signed-in identity, nil when signed out
func (s *State) User() *remote.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	u := s.session.User
	return &u
}

// Loading is true until the initial session check finished
func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Profile is the cached app_user row, nil until resolved
func (s *State) Profile() *model.AppUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *State) SetProfile(p *model.AppUser) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// Selection returns the device selection of the user currently signed in.
// The owner is read from the live session on every call, so a selection
// taken before sign-in (or by a previous user) is replaced, never reused.
func (s *State) Selection(store selection.Store) *selection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := ""
	if s.session != nil {
		owner = s.session.User.ID
	}
	if s.selection == nil || s.selection.Owner() != owner {
		s.selection = selection.New(store, owner)
	}
	return s.selection
}

// Close stops following auth changes and releases the client
func (s *State) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.watchers = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	_ = s.client.Close()
}
