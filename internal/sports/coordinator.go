package sports

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/coordinator"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/registry"
)

// Coordinator publishes the merged sport list. The alpha feed is its main
// subscription; the numeric and live feeds are associated handles.
type Coordinator struct {
	*coordinator.Core[[]data.Sport]

	reg        *registry.Registry
	merger     *Merger
	associated []content.Identifier
	logger     *zap.Logger

	mu       sync.Mutex
	handles  []*registry.Handle
	released bool

	link   sync.Once
	linked chan struct{}
	unlink context.CancelFunc
}

// NewCoordinator creates a sports coordinator. numeric is the numeric-id
// feed to associate; the live feed is always associated.
func NewCoordinator(numeric content.Identifier, reg *registry.Registry, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		Core:       coordinator.NewCore[[]data.Sport](content.AllSports(), reg, logger),
		reg:        reg,
		merger:     NewMerger(),
		associated: []content.Identifier{numeric, content.LiveSports()},
		logger:     logger,
		linked:     make(chan struct{}),
	}
	c.OnTeardown(c.releaseAssociated)
	return c
}

// Start subscribes the main feed, then the associated ones. The associated
// feeds are acquired once however many callers race here. A failing
// associated feed is logged; the merged list works without it.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Core.Start(ctx); err != nil {
		return err
	}

	c.link.Do(func() {
		linkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.mu.Lock()
		c.unlink = cancel
		c.mu.Unlock()
		go c.acquireAssociated(linkCtx)
	})

	select {
	case <-c.linked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) acquireAssociated(ctx context.Context) {
	defer close(c.linked)

	for _, id := range c.associated {
		h, err := c.reg.Acquire(ctx, id)
		if err != nil {
			c.logger.Warn("sports feed unavailable",
				zap.String("content", id.String()),
				zap.Error(err),
			)
			continue
		}
		c.mu.Lock()
		if c.released {
			c.mu.Unlock()
			h.Release()
			continue
		}
		c.handles = append(c.handles, h)
		c.mu.Unlock()
	}
}

// Owns reports whether updates for id belong to this coordinator.
func (c *Coordinator) Owns(id content.Identifier) bool {
	if id == c.Identifier() {
		return true
	}
	for _, a := range c.associated {
		if id == a {
			return true
		}
	}
	return id.Type == content.TypeInplaySportList
}

func (c *Coordinator) Apply(u content.Update) error {
	return c.Update(u.Token, func(_ []data.Sport, _ bool) ([]data.Sport, error) {
		switch v := u.Delta.(type) {
		case content.SportList:
			switch u.ID.Type {
			case content.TypeAllSports:
				c.merger.UpdateAlphaFeed(v.Sports)
			case content.TypeSportTypeByDate:
				c.merger.UpdateNumericFeed(v.Sports)
			case content.TypeLiveSports, content.TypeInplaySportList:
				c.merger.UpdateLiveFeed(v.Sports)
			default:
				return nil, &coordinator.DropError{Reason: coordinator.ReasonUnexpectedKind}
			}

		case content.SportCount:
			var ok bool
			if v.Live {
				ok = c.merger.UpdateSportLiveCount(v.NodeID, v.Count)
			} else {
				ok = c.merger.UpdateSportEventCount(v.NodeID, v.Count)
			}
			if !ok {
				return nil, &coordinator.DropError{Reason: coordinator.ReasonNotMaterialized}
			}

		default:
			return nil, &coordinator.DropError{Reason: coordinator.ReasonIgnoredKind}
		}
		return c.merger.Sports(), nil
	})
}

func (c *Coordinator) ContainsEvent(string) bool   { return false }
func (c *Coordinator) ContainsMarket(string) bool  { return false }
func (c *Coordinator) ContainsOutcome(string) bool { return false }

// Reconnect re-issues the main and associated feeds under token.
func (c *Coordinator) Reconnect(ctx context.Context, token string) error {
	if err := c.Core.Reconnect(ctx, token); err != nil {
		return err
	}

	c.mu.Lock()
	handles := append([]*registry.Handle(nil), c.handles...)
	c.mu.Unlock()

	for _, h := range handles {
		if err := h.Reissue(ctx, token); err != nil {
			c.logger.Warn("sports feed reissue failed",
				zap.String("content", h.Identifier().String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (c *Coordinator) releaseAssociated() {
	c.mu.Lock()
	c.released = true
	handles := c.handles
	c.handles = nil
	unlink := c.unlink
	c.mu.Unlock()

	if unlink != nil {
		unlink()
	}

	for _, h := range handles {
		h.Release()
	}
}

var _ coordinator.Coordinator = (*Coordinator)(nil)
