package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/api"
	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/metrics"
	"github.com/dgnsrekt/livefeed/internal/session"
)

const unsubscribeTimeout = 10 * time.Second

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("registry closed")

// TokenSource supplies the current session token.
type TokenSource interface {
	Current() (session.Token, bool)
}

// Registry reference-counts backend subscriptions. However many handles are
// acquired for one identifier, at most one subscribe call is in flight and
// exactly one unsubscribe follows the last release.
type Registry struct {
	mu      sync.Mutex
	entries map[content.Identifier]*entry
	pending map[content.Identifier]chan struct{}
	closed  bool

	client  api.Client
	tokens  TokenSource
	metrics *metrics.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	id          content.Identifier
	refs        int
	token       string
	gen         uint64
	ready       chan struct{}
	err         error
	cancel      context.CancelFunc
	established bool
	dead        bool
	created     time.Time
}

// Info describes one live backend subscription.
type Info struct {
	Identifier  content.Identifier `json:"identifier"`
	Refs        int                `json:"refs"`
	Token       string             `json:"token"`
	Established bool               `json:"established"`
	Since       time.Time          `json:"since"`
}

// New creates a Registry. m may be nil.
func New(client api.Client, tokens TokenSource, m *metrics.Metrics, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		entries: make(map[content.Identifier]*entry),
		pending: make(map[content.Identifier]chan struct{}),
		client:  client,
		tokens:  tokens,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Acquire returns a handle for id, subscribing with the backend if this is
// the first holder. Concurrent callers for the same id share one call and
// all observe its outcome.
func (r *Registry) Acquire(ctx context.Context, id content.Identifier) (*Handle, error) {
	tok, ok := r.tokens.Current()
	if !ok {
		return nil, content.ErrUserSessionNotFound
	}

	var e *entry
	for e == nil {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		// Wait for a teardown of the same id to reach the backend first
		if wait := r.pending[id]; wait != nil {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		e = r.entries[id]
		if e == nil {
			e = &entry{id: id, created: time.Now()}
			r.entries[id] = e
			r.startSubscribe(e, tok.Hash)
			r.metrics.SetActiveSubscriptions(len(r.entries))
			r.logger.Debug("subscription created", zap.String("content", id.String()))
		} else if e.err != nil && settled(e.ready) {
			// A failed reissue left the entry without a backend subscription
			r.startSubscribe(e, tok.Hash)
		}
		e.refs++
		r.mu.Unlock()
	}

	if err := r.await(ctx, e); err != nil {
		r.release(e)
		return nil, err
	}
	return &Handle{id: uuid.NewString(), reg: r, e: e}, nil
}

// await blocks until the newest subscribe attempt for e settles.
func (r *Registry) await(ctx context.Context, e *entry) error {
	for {
		r.mu.Lock()
		ready := e.ready
		r.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}

		r.mu.Lock()
		if e.ready != ready {
			// Superseded by a reissue
			r.mu.Unlock()
			continue
		}
		err := e.err
		r.mu.Unlock()
		return err
	}
}

func settled(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// startSubscribe launches a subscribe call for e under token. Caller holds mu.
func (r *Registry) startSubscribe(e *entry, token string) {
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(r.ctx)
	ready := make(chan struct{})
	e.cancel = cancel
	e.ready = ready
	e.err = nil
	e.token = token

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		err := r.client.Subscribe(ctx, token, e.id)

		r.mu.Lock()
		if e.gen == gen {
			if err == nil {
				e.established = true
				r.metrics.SubscribeCall("ok")
			} else {
				e.err = translate(err)
				r.metrics.SubscribeCall("error")
				r.logger.Warn("subscribe failed",
					zap.String("content", e.id.String()),
					zap.Error(err),
				)
				if !e.established && !e.dead {
					e.dead = true
					if r.entries[e.id] == e {
						delete(r.entries, e.id)
					}
					r.metrics.SetActiveSubscriptions(len(r.entries))
				}
			}
		}
		r.mu.Unlock()
		close(ready)
	}()
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs > 0 || e.dead {
		r.mu.Unlock()
		return
	}
	e.dead = true
	if r.entries[e.id] == e {
		delete(r.entries, e.id)
	}
	if e.cancel != nil {
		e.cancel()
	}
	token := e.token
	done := make(chan struct{})
	r.pending[e.id] = done
	r.metrics.SetActiveSubscriptions(len(r.entries))
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("subscription released", zap.String("content", e.id.String()))

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.pending[e.id] == done {
				delete(r.pending, e.id)
			}
			r.mu.Unlock()
			close(done)
		}()

		ctx, cancel := context.WithTimeout(r.ctx, unsubscribeTimeout)
		defer cancel()
		if err := r.client.Unsubscribe(ctx, token, e.id); err != nil {
			r.metrics.UnsubscribeCall("error")
			r.logger.Warn("unsubscribe failed",
				zap.String("content", e.id.String()),
				zap.Error(err),
			)
			return
		}
		r.metrics.UnsubscribeCall("ok")
	}()
}

// reissue subscribes e again under token, cancelling any attempt still in
// flight for an older token.
func (r *Registry) reissue(ctx context.Context, e *entry, token string) error {
	r.mu.Lock()
	if e.dead {
		r.mu.Unlock()
		return content.ErrSubscriptionNotFound
	}
	if e.token != token || e.err != nil {
		r.startSubscribe(e, token)
	}
	r.mu.Unlock()
	return r.await(ctx, e)
}

// Resubscribe reissues every live subscription under token.
func (r *Registry) Resubscribe(ctx context.Context, token string) error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := r.reissue(ctx, e, token); err != nil && !errors.Is(err, content.ErrSubscriptionNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}

// Active lists live subscriptions ordered by identifier.
func (r *Registry) Active() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			Identifier:  e.id,
			Refs:        e.refs,
			Token:       session.MaskToken(e.token),
			Established: e.established,
			Since:       e.created,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier.String() < out[j].Identifier.String()
	})
	return out
}

// Close stops new acquisitions, cancels in-flight subscribes and waits for
// pending unsubscribes.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()
}

func translate(err error) error {
	switch {
	case errors.Is(err, api.ErrNotFound):
		return fmt.Errorf("%w: %w", content.ErrOnSubscribe, content.ErrResourceNotFound)
	case errors.Is(err, api.ErrGone):
		return fmt.Errorf("%w: %w", content.ErrOnSubscribe, content.ErrResourceUnavailableOrDeleted)
	}
	return fmt.Errorf("%w: %w", content.ErrOnSubscribe, err)
}
