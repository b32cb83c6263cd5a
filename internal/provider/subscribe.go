package provider

import (
	"context"
	"errors"
	"time"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/coordinator"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/paginator"
	"github.com/dgnsrekt/livefeed/internal/sports"
	"github.com/dgnsrekt/livefeed/internal/stream"
)

const subscribeAttempts = 2

// Stream is one consumer's attachment to a coordinator. The first message
// is Connected, followed by the cached value when there is one. Release
// detaches; the last release tears the coordinator down.
type Stream[T any] struct {
	*coordinator.Subscription[T]
	messages *stream.Subscriber[content.Message[T]]
}

func (s *Stream[T]) C() <-chan content.Message[T] {
	return s.messages.C()
}

type attachable[T any] interface {
	coordinator.Coordinator
	Start(ctx context.Context) error
	Attach() (*coordinator.Subscription[T], *stream.Subscriber[content.Message[T]], error)
}

// subscribe attaches to the coordinator keyed by key, creating and starting
// it if needed. A coordinator torn down between lookup and attach is
// replaced once.
func subscribe[T any, C attachable[T]](ctx context.Context, p *Provider, key content.Identifier, create func() C) (*Stream[T], error) {
	var lastErr error
	for attempt := 0; attempt < subscribeAttempts; attempt++ {
		c, err := ownerFor(p, key, create)
		if err != nil {
			return nil, err
		}

		if err := c.Start(ctx); err != nil {
			if errors.Is(err, content.ErrSubscriptionNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}

		sub, messages, err := c.Attach()
		if err != nil {
			if errors.Is(err, content.ErrSubscriptionNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}
		p.metrics.SetActiveSubscriptions(len(p.reg.Active()))
		return &Stream[T]{Subscription: sub, messages: messages}, nil
	}
	return nil, lastErr
}

func ownerFor[C coordinator.Coordinator](p *Provider, key content.Identifier, create func() C) (C, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, ok := p.owners[key]; ok && cur.State() != coordinator.StateTornDown {
		if c, ok := cur.(C); ok {
			return c, nil
		}
		var zero C
		return zero, content.ErrSubscriptionNotFound
	}

	c := create()
	p.owners[key] = c
	c.OnTeardown(func() { p.evict(key, c) })
	return c, nil
}

func (p *Provider) SubscribeEventDetails(ctx context.Context, eventID string) (*Stream[*data.Event], error) {
	id := content.EventDetails(eventID)
	return subscribe[*data.Event](ctx, p, id, func() *coordinator.EventDetails {
		c := coordinator.NewEventDetails(eventID, p.reg, p.logger)
		mirrorTo(p.mirror, c.Core, "event", id.Route)
		return c
	})
}

func (p *Provider) SubscribeLiveEventData(ctx context.Context, eventID string) (*Stream[*data.LiveData], error) {
	return subscribe[*data.LiveData](ctx, p, content.EventLiveData(eventID), func() *coordinator.LiveEventData {
		return coordinator.NewLiveEventData(eventID, p.reg, p.logger)
	})
}

func (p *Provider) SubscribeMarketDetails(ctx context.Context, marketID string) (*Stream[*data.Market], error) {
	return subscribe[*data.Market](ctx, p, content.Market(marketID), func() *coordinator.MarketDetails {
		return coordinator.NewMarketDetails(marketID, p.reg, p.logger)
	})
}

func (p *Provider) SubscribeEventMarkets(ctx context.Context, eventID string) (*Stream[[]data.MarketGroup], error) {
	return subscribe[[]data.MarketGroup](ctx, p, content.EventMarkets(eventID), func() *coordinator.EventMarkets {
		return coordinator.NewEventMarkets(eventID, p.reg, p.logger)
	})
}

// SubscribePreLiveMatches attaches to the first page of the pre-live list
// for sport between start and end.
func (p *Provider) SubscribePreLiveMatches(ctx context.Context, sport string, start, end time.Time, sort content.SortType) (*Stream[*data.EventsGroup], error) {
	id, err := content.PreLiveEvents(sport, start, end, 0, p.opts.EventsPerPage, sort)
	if err != nil {
		return nil, err
	}
	return p.subscribeList(ctx, id)
}

// SubscribeLiveMatches attaches to the first page of the live list for
// sport.
func (p *Provider) SubscribeLiveMatches(ctx context.Context, sport string) (*Stream[*data.EventsGroup], error) {
	id, err := content.LiveEvents(sport, 0)
	if err != nil {
		return nil, err
	}
	return p.subscribeList(ctx, id)
}

func (p *Provider) subscribeList(ctx context.Context, first content.Identifier) (*Stream[*data.EventsGroup], error) {
	key := first.Pageable()
	return subscribe[*data.EventsGroup](ctx, p, key, func() *paginator.Paginator {
		pg := paginator.New(first, p.opts.EventsPerPage, p.reg, p.logger)
		mirrorTo(p.mirror, pg.Core, "list", key.String())
		return pg
	})
}

// SubscribeSports attaches to the merged sport list. The numeric feed
// covers the current UTC day.
func (p *Provider) SubscribeSports(ctx context.Context) (*Stream[[]data.Sport], error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	numeric := content.SportsByDate(day, day.Add(24*time.Hour-time.Minute))
	return subscribe[[]data.Sport](ctx, p, content.AllSports(), func() *sports.Coordinator {
		c := sports.NewCoordinator(numeric, p.reg, p.logger)
		mirrorTo(p.mirror, c.Core, "sports", "all")
		return c
	})
}

// RequestNextPage extends the list whose pageable key is pageable. See
// paginator.RequestNextPage.
func (p *Provider) RequestNextPage(ctx context.Context, pageable content.Identifier) (bool, error) {
	pg, ok := p.listFor(pageable.Pageable())
	if !ok {
		return false, content.ErrSubscriptionNotFound
	}
	return pg.RequestNextPage(ctx)
}

// SubscribeToEventOnListsLiveDataUpdates streams changes to eventID from
// the first live list that holds it.
func (p *Provider) SubscribeToEventOnListsLiveDataUpdates(eventID string) (*stream.Subscriber[*data.Event], error) {
	for _, c := range p.snapshotOwners() {
		pg, ok := c.(*paginator.Paginator)
		if !ok || !pg.ContainsEvent(eventID) {
			continue
		}
		return pg.SubscribeToEventLiveDataUpdates(eventID)
	}
	return nil, content.ErrSubscriptionNotFound
}

// SubscribeCompetitionMatches is not offered by this backend.
func (p *Provider) SubscribeCompetitionMatches(ctx context.Context, groupID string) (*Stream[*data.EventsGroup], error) {
	return nil, content.ErrNotSupportedForProvider
}

func (p *Provider) listFor(key content.Identifier) (*paginator.Paginator, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pg, ok := p.owners[key].(*paginator.Paginator)
	return pg, ok
}

// mirrorTo forwards every accepted snapshot of core to m.
func mirrorTo[T any](m Mirror, core *coordinator.Core[T], kind, key string) {
	if m == nil {
		return
	}
	core.Observe(func(v T) {
		m.Publish(kind, key, v)
	})
}
