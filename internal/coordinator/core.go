package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/stream"
)

// State is the lifecycle of a coordinator.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateConnected
	StateReceiving
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateTornDown:
		return "tornDown"
	}
	return "unknown"
}

// DropError marks a delta that was discarded without affecting the cache.
type DropError struct {
	Reason string
}

func (e *DropError) Error() string {
	return "delta dropped: " + e.Reason
}

func drop(reason string) error {
	return &DropError{Reason: reason}
}

// IsDrop reports whether err is a DropError and returns its reason.
func IsDrop(err error) (string, bool) {
	var d *DropError
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}

// Drop reasons.
const (
	ReasonStaleToken      = "stale_token"
	ReasonNotMaterialized = "not_materialized"
	ReasonUnknownOutcome  = "unknown_outcome"
	ReasonUnknownMarket   = "unknown_market"
	ReasonForeignEntity   = "foreign_entity"
	ReasonIgnoredKind     = "ignored_kind"
	ReasonUnexpectedKind  = "unexpected_kind"
	ReasonUnknownEvent    = "unknown_event"
)

// Core is the subscription state machine shared by every coordinator:
// idle, subscribing, connected, receiving, torn down. It owns the registry
// handle, the cached value and the consumer stream.
type Core[T any] struct {
	id     content.Identifier
	reg    *registry.Registry
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	handle     *registry.Handle
	token      string
	hub        *stream.Hub[content.Message[T]]
	current    T
	hasCurrent bool
	consumers  map[string]*Subscription[T]
	observers  []func(T)
	onTeardown []func()

	// Token from a rotation that arrived before the handle was set.
	pendingToken string
	waiters      int
	stale        bool

	startOnce   sync.Once
	startDone   chan struct{}
	startCancel context.CancelFunc
	startErr    error
}

// NewCore creates an idle Core for id.
func NewCore[T any](id content.Identifier, reg *registry.Registry, logger *zap.Logger) *Core[T] {
	return &Core[T]{
		id:        id,
		reg:       reg,
		logger:    logger.With(zap.String("content", id.String())),
		hub:       stream.NewHub[content.Message[T]](id.String(), false, logger),
		consumers: make(map[string]*Subscription[T]),
		startDone: make(chan struct{}),
	}
}

func (c *Core[T]) Identifier() content.Identifier {
	return c.id
}

func (c *Core[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the backend subscription. Concurrent callers share one
// acquisition that outlives any single caller's ctx; each caller waits on
// its own. The core tears down when the acquisition fails or when every
// waiter gives up first.
func (c *Core[T]) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		acquireCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.mu.Lock()
		c.state = StateSubscribing
		c.startCancel = cancel
		c.mu.Unlock()
		go c.acquire(acquireCtx)
	})

	c.mu.Lock()
	c.waiters++
	c.mu.Unlock()

	select {
	case <-c.startDone:
		c.mu.Lock()
		c.waiters--
		c.mu.Unlock()
		return c.startErr
	case <-ctx.Done():
		c.mu.Lock()
		c.waiters--
		if c.waiters == 0 && c.state == StateSubscribing && len(c.consumers) == 0 {
			c.logger.Debug("subscribe abandoned")
			c.teardownLocked(false)
		} else {
			c.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (c *Core[T]) acquire(ctx context.Context) {
	defer close(c.startDone)
	defer c.startCancel()

	h, err := c.reg.Acquire(ctx, c.id)
	if err != nil {
		c.startErr = err
		c.logger.Debug("subscribe failed", zap.Error(err))
		c.mu.Lock()
		if c.state == StateTornDown {
			c.startErr = content.ErrSubscriptionNotFound
		}
		c.teardownLocked(false)
		return
	}

	token := h.Token()
	for {
		c.mu.Lock()
		if c.state == StateTornDown {
			c.mu.Unlock()
			h.Release()
			c.startErr = content.ErrSubscriptionNotFound
			return
		}
		pending := c.pendingToken
		c.pendingToken = ""
		if pending == "" || pending == token {
			c.handle = h
			c.token = token
			c.state = StateConnected
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		// The session rotated while the subscription was being acquired
		token = pending
		if err := h.Reissue(ctx, token); err != nil {
			c.logger.Warn("reissue failed", zap.Error(err))
		}
	}
}

// Attach registers a consumer. The returned stream starts with
// Connected(subscription) followed by the cached value, if any.
func (c *Core[T]) Attach() (*Subscription[T], *stream.Subscriber[content.Message[T]], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown || c.handle == nil {
		return nil, nil, content.ErrSubscriptionNotFound
	}

	sub := &Subscription[T]{id: uuid.NewString(), core: c}
	initial := []content.Message[T]{content.Connected[T](sub)}
	if c.hasCurrent {
		initial = append(initial, content.ContentUpdate(c.current))
	}
	sub.stream = c.hub.SubscribeWith(initial...)
	c.consumers[sub.id] = sub
	return sub, sub.stream, nil
}

// Update merges under the per-core lock. Updates carrying a token other than
// the one the subscription was issued under are dropped. fn returning a
// DropError leaves the cache untouched; any other error is terminal and is
// published as Failed before the core tears down.
func (c *Core[T]) Update(token string, fn func(cur T, has bool) (T, error)) error {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return content.ErrSubscriptionNotFound
	}
	if token != c.token {
		c.mu.Unlock()
		return drop(ReasonStaleToken)
	}

	next, err := fn(c.current, c.hasCurrent)
	if err != nil {
		if _, ok := IsDrop(err); ok {
			c.mu.Unlock()
			return err
		}
		c.logger.Info("content failed", zap.Error(err))
		c.hub.Publish(content.Failed[T](err))
		c.teardownLocked(false)
		return err
	}

	c.current = next
	c.hasCurrent = true
	c.state = StateReceiving
	c.hub.Publish(content.ContentUpdate(next))
	observers := append([]func(T){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return nil
}

// Snapshot returns the cached value.
func (c *Core[T]) Snapshot() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasCurrent
}

// Token returns the session token updates must carry.
func (c *Core[T]) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Observe registers fn to run after every accepted update.
func (c *Core[T]) Observe(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// OnTeardown registers fn to run once the core is torn down. If it already
// is, fn runs immediately.
func (c *Core[T]) OnTeardown(fn func()) {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		fn()
		return
	}
	c.onTeardown = append(c.onTeardown, fn)
	c.mu.Unlock()
}

// Reconnect re-issues the subscription under token. The cache is kept, so
// consumers see no flush.
func (c *Core[T]) Reconnect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return content.ErrSubscriptionNotFound
	}
	if c.handle == nil {
		// Start applies it once the handle exists
		c.pendingToken = token
		c.mu.Unlock()
		return nil
	}
	c.token = token
	h := c.handle
	c.mu.Unlock()

	if err := h.Reissue(ctx, token); err != nil {
		c.logger.Warn("reissue failed", zap.Error(err))
		return err
	}
	return nil
}

// SetConnected records whether the socket is up. Losing it sends consumers
// a Disconnected without tearing anything down. Getting it back sends each
// consumer Connected again, then the cached value, which stays stale until
// fresh deltas arrive.
func (c *Core[T]) SetConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown || c.handle == nil || c.stale == !up {
		return
	}
	c.stale = !up
	if !up {
		c.logger.Debug("content stale")
		c.hub.Publish(content.Disconnected[T]())
		return
	}

	c.logger.Debug("content live again")
	for _, sub := range c.consumers {
		c.hub.PublishTo(sub.stream, content.Connected[T](sub))
	}
	if c.hasCurrent {
		c.hub.Publish(content.ContentUpdate(c.current))
	}
}

// Stale reports whether the cached value predates a connection loss.
func (c *Core[T]) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Consumers returns the number of attached consumers.
func (c *Core[T]) Consumers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

// Shutdown tears the core down regardless of attached consumers.
func (c *Core[T]) Shutdown() {
	c.mu.Lock()
	if c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(true)
}

func (c *Core[T]) detach(id string) {
	c.mu.Lock()
	sub, ok := c.consumers[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.consumers, id)
	sub.stream.Close()

	if len(c.consumers) > 0 || c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(true)
}

// teardownLocked closes the stream, releases the handle and runs the
// teardown callbacks. Caller holds mu; it is released on return.
func (c *Core[T]) teardownLocked(announce bool) {
	if c.state == StateTornDown {
		c.mu.Unlock()
		return
	}
	c.state = StateTornDown
	if c.startCancel != nil {
		c.startCancel()
	}
	if announce {
		c.hub.Publish(content.Disconnected[T]())
	}
	c.hub.Close()
	h := c.handle
	c.handle = nil
	callbacks := c.onTeardown
	c.onTeardown = nil
	c.consumers = make(map[string]*Subscription[T])
	c.mu.Unlock()

	if h != nil {
		h.Release()
	}
	c.logger.Debug("coordinator torn down")
	for _, fn := range callbacks {
		fn()
	}
}

// Subscription is a consumer's claim on a coordinator. Release detaches the
// consumer; the last release tears the coordinator down.
type Subscription[T any] struct {
	id     string
	core   *Core[T]
	stream *stream.Subscriber[content.Message[T]]
	once   sync.Once
}

func (s *Subscription[T]) ID() string {
	return s.id
}

func (s *Subscription[T]) Identifier() content.Identifier {
	return s.core.id
}

func (s *Subscription[T]) Release() {
	s.once.Do(func() {
		s.core.detach(s.id)
	})
}
