// Package controller drives the data of one screen: it fetches on every filter
// change, refetches on realtime changes and publishes loading, error and success states.
package controller

import (
	"context"
	"log"
	"sync"

	"github.com/ipimonitor/ipi-api/internal/remote"
)

// Status of a screen's data
type Status string

const (
	StatusLoading Status = "loading"
	StatusError   Status = "error"
	StatusSuccess Status = "success"
)

// State is what a screen renders. Generation identifies the filter the data belongs to.
type State[T any] struct {
	Status     Status `json:"status"`
	Data       T      `json:"data"`
	Error      string `json:"error,omitempty"`
	Generation uint64 `json:"generation"`

	err error
}

// Err is the fetch error behind an error state
func (s State[T]) Err() error { return s.err }

// Source describes where a controller's data comes from
type Source[F, T any] struct {
	Fetch func(ctx context.Context, filter F) (T, error)
	// Watch subscribes to changes relevant to filter; nil disables realtime
	Watch func(ctx context.Context, filter F, changed func()) (remote.Subscription, error)
	// Key identifies the subscription a filter needs; equal keys share one subscription
	Key func(filter F) string
}

// Controller runs a Source for the current filter. Responses for an older
// filter than the current one are dropped.
type Controller[F, T any] struct {
	ctx context.Context
	src Source[F, T]

	mu        sync.Mutex
	filter    F
	gen       uint64
	state     State[T]
	sub       remote.Subscription
	subKey    string
	stopped   bool
	listeners []func(State[T])
}

// New creates an idle controller; ctx bounds every fetch and subscription
func New[F, T any](ctx context.Context, src Source[F, T]) *Controller[F, T] {
	return &Controller[F, T]{
		ctx:   ctx,
		src:   src,
		state: State[T]{Status: StatusLoading},
	}
}

// OnChange registers fn for every published state
func (c *Controller[F, T]) OnChange(fn func(State[T])) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller[F, T]) publish(s State[T]) {
	c.mu.Lock()
	listeners := append([]func(State[T]){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// SetFilter switches to filter, moves the subscription if its key changed and fetches
func (c *Controller[F, T]) SetFilter(filter F) State[T] {
	c.mu.Lock()
	if c.stopped {
		s := c.state
		c.mu.Unlock()
		return s
	}
	c.filter = filter
	c.mu.Unlock()

	c.resubscribe(filter)
	return c.Refetch()
}

// Load fetches filter once without subscribing to changes
func (c *Controller[F, T]) Load(filter F) State[T] {
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
	return c.Refetch()
}

// Refetch reloads the current filter under a new generation
func (c *Controller[F, T]) Refetch() State[T] {
	c.mu.Lock()
	if c.stopped {
		s := c.state
		c.mu.Unlock()
		return s
	}
	c.gen++
	gen := c.gen
	filter := c.filter
	loading := State[T]{Status: StatusLoading, Data: c.state.Data, Generation: gen}
	c.state = loading
	c.mu.Unlock()

	c.publish(loading)

	data, err := c.src.Fetch(c.ctx, filter)
	return c.apply(gen, data, err)
}

// apply stores a response unless a newer generation started meanwhile
func (c *Controller[F, T]) apply(gen uint64, data T, err error) State[T] {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		s := c.state
		c.mu.Unlock()
		return s
	}
	var next State[T]
	if err != nil {
		next = State[T]{Status: StatusError, Error: remote.Message(err), Generation: gen, err: err}
	} else {
		next = State[T]{Status: StatusSuccess, Data: data, Generation: gen}
	}
	c.state = next
	c.mu.Unlock()

	c.publish(next)
	return next
}

// Update rewrites the data of the current success state without a fetch
func (c *Controller[F, T]) Update(fn func(T) T) State[T] {
	c.mu.Lock()
	if c.stopped || c.state.Status != StatusSuccess {
		s := c.state
		c.mu.Unlock()
		return s
	}
	c.state.Data = fn(c.state.Data)
	s := c.state
	c.mu.Unlock()

	c.publish(s)
	return s
}

func (c *Controller[F, T]) resubscribe(filter F) {
	if c.src.Watch == nil {
		return
	}
	key := ""
	if c.src.Key != nil {
		key = c.src.Key(filter)
	}

	c.mu.Lock()
	if c.sub != nil && key == c.subKey {
		c.mu.Unlock()
		return
	}
	old := c.sub
	c.sub = nil
	c.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}

	sub, err := c.src.Watch(c.ctx, filter, func() { go c.Refetch() })
	if err != nil {
		log.Printf("⚠️  controller: subscribe %q failed: %v", key, err)
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	prev := c.sub
	c.sub = sub
	c.subKey = key
	c.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
}

// State is the last published state
func (c *Controller[F, T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Filter is the current filter
func (c *Controller[F, T]) Filter() F {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Stop drops the subscription; later responses and filter changes are ignored
func (c *Controller[F, T]) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	sub := c.sub
	c.sub = nil
	c.listeners = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
