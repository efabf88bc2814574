package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipimonitor/ipi-api/internal/remote"
	"github.com/ipimonitor/ipi-api/internal/repository"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown or revoked session ids
var ErrNotFound = errors.New("session not found")

// TokenStore persists the remote tokens of each session
type TokenStore interface {
	Save(ctx context.Context, sid string, s repository.StoredSession, ttl time.Duration) error
	UpdateTokens(ctx context.Context, sid, accessToken, refreshToken string) error
	Find(ctx context.Context, sid string) (*repository.StoredSession, error)
	Delete(ctx context.Context, sid string) error
}

// ClientFactory builds a fresh, signed-out remote client
type ClientFactory func() remote.Client

// Registry maps session ids to live States. States evicted from memory
// (or created on another instance) are rebuilt from the token store.
type Registry struct {
	newClient ClientFactory
	store     TokenStore
	ttl       time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*entry
}

// entry is a live state and the moment its browser token stops being valid
type entry struct {
	state   *State
	expires time.Time
}

func NewRegistry(newClient ClientFactory, store TokenStore, ttl time.Duration) *Registry {
	return &Registry{
		newClient: newClient,
		store:     store,
		ttl:       ttl,
		now:       time.Now,
		states:    make(map[string]*entry),
	}
}

// NewClient hands out a client for a sign-in attempt
func (r *Registry) NewClient() remote.Client {
	return r.newClient()
}

// Create registers a signed-in client under a new session id.
// On error the client has been closed.
func (r *Registry) Create(ctx context.Context, client remote.Client) (*State, error) {
	sid := uuid.NewString()
	state := NewState(sid, client)
	if err := state.Start(ctx); err != nil {
		state.Close()
		return nil, err
	}
	sess := state.Session()
	if sess == nil {
		state.Close()
		return nil, remote.ErrNoSession
	}

	stored := repository.StoredSession{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		AuthUser:     sess.User.ID,
		Email:        sess.User.Email,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.store.Save(ctx, sid, stored, r.ttl); err != nil {
		state.Close()
		return nil, err
	}

	r.track(state, stored.CreatedAt.Add(r.ttl))
	return state, nil
}

// track keeps the token store in step with refreshes and registers the state
// until expires, when Sweep drops it
func (r *Registry) track(state *State, expires time.Time) {
	sid := state.ID()
	state.Watch(func(event remote.AuthEvent, sess *remote.Session) {
		switch event {
		case remote.EventSignedOut:
			r.Forget(sid)
		case remote.EventTokenRefreshed, remote.EventSignedIn, remote.EventUserUpdated, remote.EventPasswordRecovery:
			if sess == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.store.UpdateTokens(ctx, sid, sess.AccessToken, sess.RefreshToken); err != nil {
				log.Printf("⚠️  session %s: failed to persist refreshed tokens: %v", sid, err)
			}
		}
	})

	r.mu.Lock()
	old := r.states[sid]
	r.states[sid] = &entry{state: state, expires: expires}
	r.mu.Unlock()

	if old != nil && old.state != state {
		old.state.Close()
	}
}

// Get returns the live state of sid, rebuilding it from stored tokens if needed
func (r *Registry) Get(ctx context.Context, sid string) (*State, error) {
	r.mu.Lock()
	e, ok := r.states[sid]
	r.mu.Unlock()
	if ok {
		if r.now().Before(e.expires) {
			return e.state, nil
		}
		r.Forget(sid)
		return nil, ErrNotFound
	}

	stored, err := r.store.Find(ctx, sid)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Tokens saved without a creation time get a full ttl from now
	expires := r.now().Add(r.ttl)
	if !stored.CreatedAt.IsZero() {
		expires = stored.CreatedAt.Add(r.ttl)
	}
	if !r.now().Before(expires) {
		_ = r.store.Delete(ctx, sid)
		return nil, ErrNotFound
	}

	client := r.newClient()
	if _, err := client.SetSession(ctx, stored.AccessToken, stored.RefreshToken); err != nil {
		_ = client.Close()
		log.Printf("⚠️  session %s: stored tokens rejected: %v", sid, err)
		_ = r.store.Delete(ctx, sid)
		return nil, ErrNotFound
	}

	state := NewState(sid, client)
	if err := state.Start(ctx); err != nil {
		state.Close()
		return nil, err
	}
	if state.Session() == nil {
		state.Close()
		return nil, ErrNotFound
	}

	// Another request may have rebuilt the same session meanwhile
	r.mu.Lock()
	if existing, ok := r.states[sid]; ok {
		r.mu.Unlock()
		state.Close()
		return existing.state, nil
	}
	r.mu.Unlock()

	r.track(state, expires)
	log.Printf("🔄 Session %s restored", sid)
	return state, nil
}

// Revoke ends sid everywhere: the state is closed and its tokens deleted
func (r *Registry) Revoke(ctx context.Context, sid string) error {
	r.Forget(sid)
	return r.store.Delete(ctx, sid)
}

// Forget closes the in-memory state of sid without touching the store
func (r *Registry) Forget(sid string) {
	r.mu.Lock()
	e := r.states[sid]
	delete(r.states, sid)
	r.mu.Unlock()

	if e != nil {
		e.state.Close()
	}
}

// Sweep closes every state whose token expired by now and returns how many
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*State
	for sid, e := range r.states {
		if !now.Before(e.expires) {
			expired = append(expired, e.state)
			delete(r.states, sid)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// Run sweeps expired states every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				log.Printf("🧹 Swept %d expired session(s), %d live", n, r.Len())
			}
		}
	}
}

// Listen forgets sessions revoked on any instance. Revocations arrive as
// session ids on channel; the call blocks until ctx is done.
func (r *Registry) Listen(ctx context.Context, rdb *redis.Client, channel string) {
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("⚠️  Session revocation subscribe failed: %v", err)
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.Forget(msg.Payload)
		}
	}
}

// Len is the number of live states
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Close closes every live state
func (r *Registry) Close() {
	r.mu.Lock()
	states := r.states
	r.states = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range states {
		e.state.Close()
	}
}
