package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/coordinator"
	"github.com/dgnsrekt/livefeed/internal/metrics"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/stream"
	"github.com/dgnsrekt/livefeed/internal/ws"
)

const resubscribeDelay = time.Second

// Connection is the part of the socket connector the provider consumes.
type Connection interface {
	Updates() *stream.Subscriber[content.Update]
	States() *stream.Subscriber[ws.State]
	State() ws.State
	RefreshConnection()
}

// Mirror receives every merged snapshot the provider publishes.
type Mirror interface {
	Publish(kind, key string, v any)
}

type Options struct {
	EventsPerPage int
	Workers       int
}

// owns is implemented by coordinators that accept updates for identifiers
// other than their own.
type owns interface {
	Owns(id content.Identifier) bool
}

// Provider owns every live coordinator and paginator, routes socket
// updates to them and re-issues their subscriptions when the session token
// rotates.
type Provider struct {
	reg     *registry.Registry
	tokens  *session.Store
	conn    Connection
	metrics *metrics.Metrics
	mirror  Mirror
	opts    Options
	logger  *zap.Logger

	mu     sync.RWMutex
	owners map[content.Identifier]coordinator.Coordinator

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	token   string
}

// New creates a Provider. m and mirror may be nil.
func New(reg *registry.Registry, tokens *session.Store, conn Connection, m *metrics.Metrics, mirror Mirror, opts Options, logger *zap.Logger) *Provider {
	if opts.EventsPerPage <= 0 {
		opts.EventsPerPage = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Provider{
		reg:     reg,
		tokens:  tokens,
		conn:    conn,
		metrics: m,
		mirror:  mirror,
		opts:    opts,
		logger:  logger,
		owners:  make(map[content.Identifier]coordinator.Coordinator),
	}
}

// Init starts the update router and the token and connection watchers.
// Calling it twice is a no-op.
func (p *Provider) Init(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	if tok, ok := p.tokens.Current(); ok {
		p.token = tok.Hash
	}

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.routeUpdates(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.watchTokens(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.watchConnection(ctx)
	}()

	p.logger.Info("provider started",
		zap.Int("events_per_page", p.opts.EventsPerPage),
		zap.Int("workers", p.opts.Workers),
	)
}

// Shutdown tears down every coordinator, then closes the registry, which
// waits for pending unsubscribes.
func (p *Provider) Shutdown() {
	p.runMu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	for _, c := range p.snapshotOwners() {
		c.Shutdown()
	}
	p.reg.Close()
	p.logger.Info("provider stopped")
}

// RefreshConnection forces the connector to reconnect. Subscriptions are
// re-issued if the new session carries a different token.
func (p *Provider) RefreshConnection() {
	p.conn.RefreshConnection()
}

func (p *Provider) snapshotOwners() []coordinator.Coordinator {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]content.Identifier, 0, len(p.owners))
	for k := range p.owners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]coordinator.Coordinator, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.owners[k])
	}
	return out
}

func (p *Provider) evict(key content.Identifier, c coordinator.Coordinator) {
	p.mu.Lock()
	if cur, ok := p.owners[key]; ok && cur == c {
		delete(p.owners, key)
	}
	n := len(p.owners)
	p.mu.Unlock()

	p.logger.Debug("coordinator evicted", zap.String("content", key.String()), zap.Int("remaining", n))
	p.metrics.SetActiveSubscriptions(len(p.reg.Active()))
}

func (p *Provider) routeUpdates(ctx context.Context) {
	for {
		sub := p.conn.Updates()
		p.drain(ctx, sub)
		sub.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
			p.logger.Warn("update stream closed, resubscribing")
		}
	}
}

func (p *Provider) drain(ctx context.Context, sub *stream.Subscriber[content.Update]) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.C():
			if !ok {
				return
			}
			p.route(u)
		}
	}
}

// route hands u to its owner: the coordinator keyed by the update's
// identifier, then one that claims the identifier, then the first that
// holds the entity the delta targets.
func (p *Provider) route(u content.Update) {
	owner := p.ownerOf(u)
	if owner == nil {
		p.dropped(u, "no_owner")
		return
	}

	err := owner.Apply(u)
	switch {
	case err == nil:
	case errors.Is(err, content.ErrSubscriptionNotFound):
		p.dropped(u, "torn_down")
	default:
		if reason, ok := coordinator.IsDrop(err); ok {
			p.dropped(u, reason)
			return
		}
		p.logger.Info("content failed",
			zap.String("content", u.ID.String()),
			zap.Error(err),
		)
	}
}

func (p *Provider) dropped(u content.Update, reason string) {
	p.metrics.DeltaDropped(reason)
	p.logger.Debug("delta dropped",
		zap.String("content", u.ID.String()),
		zap.String("kind", string(u.Delta.Kind())),
		zap.String("reason", reason),
	)
}

func (p *Provider) ownerOf(u content.Update) coordinator.Coordinator {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if c, ok := p.owners[u.ID.Pageable()]; ok {
		return c
	}
	for _, c := range p.owners {
		if o, ok := c.(owns); ok && o.Owns(u.ID) {
			return c
		}
	}

	var match func(coordinator.Coordinator) bool
	switch d := u.Delta.(type) {
	case content.OutcomeRef:
		match = func(c coordinator.Coordinator) bool { return c.ContainsOutcome(d.OutcomeRef()) }
	case content.MarketRef:
		match = func(c coordinator.Coordinator) bool { return c.ContainsMarket(d.MarketRef()) }
	case content.EventRef:
		match = func(c coordinator.Coordinator) bool { return c.ContainsEvent(d.EventRef()) }
	default:
		return nil
	}
	for _, c := range p.owners {
		if match(c) {
			return c
		}
	}
	return nil
}

func (p *Provider) watchTokens(ctx context.Context) {
	sub := p.tokens.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-sub.C():
			if !ok {
				return
			}
			if tok.IsZero() {
				continue
			}
			p.runMu.Lock()
			changed := tok.Hash != p.token
			p.token = tok.Hash
			p.runMu.Unlock()
			if changed {
				p.rotate(ctx, tok.Hash)
			}
		}
	}
}

// rotate re-issues every live subscription under token. Coordinators go
// first so associated pages follow their owner; the registry then sweeps
// whatever is left.
func (p *Provider) rotate(ctx context.Context, token string) {
	start := time.Now()
	owners := p.snapshotOwners()

	result := p.reconnectAll(ctx, owners, token)
	if err := p.reg.Resubscribe(ctx, token); err != nil {
		p.logger.Warn("resubscribe incomplete", zap.Error(err))
	}
	p.metrics.TokenRotated()

	p.logger.Info("session token rotated",
		zap.String("token", session.MaskToken(token)),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("gone", result.Gone),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	for _, e := range result.Errors {
		p.logger.Warn("reconnect failed", zap.String("error", e))
	}
}

// watchConnection marks every coordinator stale while the socket is down
// and live again once it is back.
func (p *Provider) watchConnection(ctx context.Context) {
	sub := p.conn.States()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sub.C():
			if !ok {
				return
			}
			p.logger.Debug("connection state observed", zap.Stringer("state", s))
			up := s == ws.StateConnected
			for _, c := range p.snapshotOwners() {
				c.SetConnected(up)
			}
			p.metrics.SetActiveSubscriptions(len(p.reg.Active()))
		}
	}
}
