package paginator

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/coordinator"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/stream"
)

// Paginator owns a growing window over a paged event list. The first page
// is held by the embedded core; later pages are associated handles that
// live and die with it.
type Paginator struct {
	*coordinator.Core[*data.EventsGroup]

	reg      *registry.Registry
	logger   *zap.Logger
	first    content.Identifier
	pageable content.Identifier
	perPage  int
	group    singleflight.Group
	idx      *index

	// Merge state, only touched inside Core.Update.
	events *data.OrderedMap[string, *data.Event]

	mu          sync.Mutex
	currentPage int
	hasNextPage bool
	pages       map[content.Identifier]*registry.Handle
	liveHubs    map[string]*stream.Hub[*data.Event]
	closed      bool
}

// New creates a paginator for the list starting at first. defaultPerPage is
// used when the route does not encode a page size.
func New(first content.Identifier, defaultPerPage int, reg *registry.Registry, logger *zap.Logger) *Paginator {
	perPage, ok := first.EventsPerPage()
	if !ok {
		perPage = defaultPerPage
	}
	page, _ := first.PageIndex()

	p := &Paginator{
		Core:        coordinator.NewCore[*data.EventsGroup](first, reg, logger),
		reg:         reg,
		logger:      logger.With(zap.String("list", first.Pageable().String())),
		first:       first,
		pageable:    first.Pageable(),
		perPage:     perPage,
		idx:         newIndex(),
		events:      data.NewOrderedMap[string, *data.Event](),
		currentPage: page,
		pages:       make(map[content.Identifier]*registry.Handle),
		liveHubs:    make(map[string]*stream.Hub[*data.Event]),
	}
	p.OnTeardown(p.releasePages)
	return p
}

// Pageable is the key shared by every page of this list.
func (p *Paginator) Pageable() content.Identifier {
	return p.pageable
}

func (p *Paginator) EventsPerPage() int {
	return p.perPage
}

// HasNextPage reports whether the last received page was full.
func (p *Paginator) HasNextPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasNextPage
}

// CurrentPage is the highest page requested so far.
func (p *Paginator) CurrentPage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPage
}

// RequestNextPage subscribes to the page after the current one. Concurrent
// calls share one request and its result. It returns false when the list
// has no further pages.
func (p *Paginator) RequestNextPage(ctx context.Context) (bool, error) {
	v, err, _ := p.group.Do("next", func() (any, error) {
		p.mu.Lock()
		if p.closed || !p.hasNextPage {
			p.mu.Unlock()
			return false, nil
		}
		next := p.currentPage + 1
		p.mu.Unlock()

		id, ok := p.first.WithPage(next)
		if !ok {
			return false, nil
		}
		h, err := p.reg.Acquire(ctx, id)
		if err != nil {
			return false, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			h.Release()
			return false, content.ErrSubscriptionNotFound
		}
		p.pages[id] = h
		p.currentPage = next
		p.hasNextPage = false
		p.mu.Unlock()

		p.logger.Debug("next page subscribed", zap.Int("page", next))
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Apply merges an update addressed to any page of the list.
func (p *Paginator) Apply(u content.Update) error {
	var changed []*data.Event

	err := p.Update(u.Token, func(cur *data.EventsGroup, _ bool) (*data.EventsGroup, error) {
		var err error
		changed, err = p.merge(u.Delta)
		if err != nil {
			return nil, err
		}
		p.idx.reset(p.events.Values())
		return &data.EventsGroup{ID: p.pageable.String(), Events: p.events.Values()}, nil
	})
	if err != nil {
		return err
	}

	if list, ok := u.Delta.(content.EventList); ok {
		p.mu.Lock()
		if page, ok := u.ID.PageIndex(); !ok || page == p.currentPage {
			p.hasNextPage = len(list.Events) >= p.perPage
		}
		p.mu.Unlock()
	}
	p.publishLive(changed)
	return nil
}

// UpdateEventsList merges a flattened page into the window by event id.
// Unchanged events keep their pointer, changed ones take their existing
// slot, new ones are appended in order. Absent events are kept.
func (p *Paginator) UpdateEventsList(events []*data.Event) []*data.Event {
	var changed []*data.Event
	for _, e := range events {
		if e == nil || e.ID == "" {
			continue
		}
		if cur, ok := p.events.Get(e.ID); ok && reflect.DeepEqual(cur, e) {
			continue
		}
		p.events.Set(e.ID, e)
		changed = append(changed, e)
	}
	return changed
}

func (p *Paginator) merge(d content.Delta) ([]*data.Event, error) {
	switch v := d.(type) {
	case content.EventList:
		return p.UpdateEventsList(v.Events), nil

	case content.AddEvent:
		if v.Event == nil || v.Event.ID == "" {
			return nil, &coordinator.DropError{Reason: coordinator.ReasonUnexpectedKind}
		}
		if p.events.Has(v.Event.ID) {
			return nil, &coordinator.DropError{Reason: coordinator.ReasonIgnoredKind}
		}
		p.events.Set(v.Event.ID, v.Event)
		return []*data.Event{v.Event}, nil

	case content.RemoveEvent:
		if !p.events.Delete(v.EventID) {
			return nil, &coordinator.DropError{Reason: coordinator.ReasonUnknownEvent}
		}
		return nil, nil

	case content.FullEvent:
		if v.Event == nil || !p.events.Has(v.Event.ID) {
			return nil, &coordinator.DropError{Reason: coordinator.ReasonUnknownEvent}
		}
		p.events.Set(v.Event.ID, v.Event)
		return []*data.Event{v.Event}, nil
	}

	eventID, d := p.target(d)
	if eventID == "" {
		return nil, &coordinator.DropError{Reason: coordinator.ReasonNotMaterialized}
	}
	cur, ok := p.events.Get(eventID)
	if !ok {
		return nil, &coordinator.DropError{Reason: coordinator.ReasonUnknownEvent}
	}
	next, err := coordinator.MergeEvent(cur, d)
	if err != nil {
		return nil, err
	}
	p.events.Set(eventID, next)
	return []*data.Event{next}, nil
}

// target finds the event a delta applies to. Market add/remove/enable in a
// list only toggle tradability.
func (p *Paginator) target(d content.Delta) (string, content.Delta) {
	switch v := d.(type) {
	case content.OutcomeRef:
		return p.idx.eventOfOutcome(v.OutcomeRef()), d
	case content.RemoveMarket:
		return p.idx.eventOfMarket(v.MarketID), content.MarketTradability{MarketID: v.MarketID, IsTradable: false}
	case content.EnableMarket:
		return p.idx.eventOfMarket(v.MarketID), content.MarketTradability{MarketID: v.MarketID, IsTradable: true}
	case content.AddMarket:
		if v.Market == nil {
			return "", d
		}
		if eventID := p.idx.eventOfMarket(v.Market.ID); eventID != "" {
			return eventID, content.MarketTradability{MarketID: v.Market.ID, IsTradable: true}
		}
		return v.EventID, d
	case content.MarketRef:
		return p.idx.eventOfMarket(v.MarketRef()), d
	case content.EventRef:
		return v.EventRef(), d
	}
	return "", d
}

// ContainsEvent reports whether the window holds the event.
func (p *Paginator) ContainsEvent(id string) bool {
	return p.idx.hasEvent(id)
}

func (p *Paginator) ContainsMarket(id string) bool {
	return p.idx.eventOfMarket(id) != ""
}

func (p *Paginator) ContainsOutcome(id string) bool {
	return p.idx.eventOfOutcome(id) != ""
}

// SubscribeToEventLiveDataUpdates streams changes to one event of the
// window without a second backend subscription.
func (p *Paginator) SubscribeToEventLiveDataUpdates(eventID string) (*stream.Subscriber[*data.Event], error) {
	if !p.ContainsEvent(eventID) {
		return nil, content.ErrResourceNotFound
	}
	group, _ := p.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, content.ErrSubscriptionNotFound
	}
	hub, ok := p.liveHubs[eventID]
	if !ok {
		hub = stream.NewHub[*data.Event]("live:"+eventID, true, p.logger)
		p.liveHubs[eventID] = hub
		if group != nil {
			for _, e := range group.Events {
				if e.ID == eventID {
					hub.Publish(e)
					break
				}
			}
		}
	}
	return hub.Subscribe(), nil
}

func (p *Paginator) publishLive(changed []*data.Event) {
	if len(changed) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range changed {
		if hub, ok := p.liveHubs[e.ID]; ok {
			hub.Publish(e)
		}
	}
}

// Reconnect re-issues the first page and every associated page under token.
func (p *Paginator) Reconnect(ctx context.Context, token string) error {
	if err := p.Core.Reconnect(ctx, token); err != nil {
		return err
	}

	p.mu.Lock()
	handles := make([]*registry.Handle, 0, len(p.pages))
	for _, h := range p.pages {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		if err := h.Reissue(ctx, token); err != nil {
			p.logger.Warn("page reissue failed",
				zap.String("page", h.Identifier().String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (p *Paginator) releasePages() {
	p.mu.Lock()
	p.closed = true
	pages := p.pages
	p.pages = make(map[content.Identifier]*registry.Handle)
	hubs := p.liveHubs
	p.liveHubs = make(map[string]*stream.Hub[*data.Event])
	p.mu.Unlock()

	for _, h := range pages {
		h.Release()
	}
	for _, hub := range hubs {
		hub.Close()
	}
}

var _ coordinator.Coordinator = (*Paginator)(nil)
