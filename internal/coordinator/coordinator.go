package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/registry"
)

// Coordinator is the routing surface the provider sees for every live
// subscription owner.
type Coordinator interface {
	Identifier() content.Identifier
	State() State
	Apply(u content.Update) error
	ContainsEvent(id string) bool
	ContainsMarket(id string) bool
	ContainsOutcome(id string) bool
	Reconnect(ctx context.Context, token string) error
	SetConnected(up bool)
	Stale() bool
	OnTeardown(fn func())
	Shutdown()
}

// EventDetails merges the full event-details feed of one event.
type EventDetails struct {
	*Core[*data.Event]
	*index
}

func NewEventDetails(eventID string, reg *registry.Registry, logger *zap.Logger) *EventDetails {
	c := &EventDetails{
		Core:  NewCore[*data.Event](content.EventDetails(eventID), reg, logger),
		index: newIndex(),
	}
	c.index.setEvent(c.id.Route)
	return c
}

func (c *EventDetails) Apply(u content.Update) error {
	return c.Update(u.Token, func(cur *data.Event, _ bool) (*data.Event, error) {
		next, err := MergeEvent(cur, u.Delta)
		if err != nil {
			return nil, err
		}
		c.index.reset([]*data.Event{next}, nil)
		return next, nil
	})
}

// LiveEventData merges the scoreboard feed of one event.
type LiveEventData struct {
	*Core[*data.LiveData]
	*index
}

func NewLiveEventData(eventID string, reg *registry.Registry, logger *zap.Logger) *LiveEventData {
	c := &LiveEventData{
		Core:  NewCore[*data.LiveData](content.EventLiveData(eventID), reg, logger),
		index: newIndex(),
	}
	c.index.setEvent(c.id.Route)
	return c
}

func (c *LiveEventData) Apply(u content.Update) error {
	return c.Update(u.Token, func(cur *data.LiveData, _ bool) (*data.LiveData, error) {
		return MergeLiveData(cur, u.Delta)
	})
}

// MarketDetails merges the feed of one standalone market.
type MarketDetails struct {
	*Core[*data.Market]
	*index
}

func NewMarketDetails(marketID string, reg *registry.Registry, logger *zap.Logger) *MarketDetails {
	c := &MarketDetails{
		Core:  NewCore[*data.Market](content.Market(marketID), reg, logger),
		index: newIndex(),
	}
	c.index.reset(nil, []*data.Market{{ID: c.id.Route}})
	return c
}

func (c *MarketDetails) Apply(u content.Update) error {
	return c.Update(u.Token, func(cur *data.Market, _ bool) (*data.Market, error) {
		next, err := MergeMarket(cur, u.Delta)
		if err != nil {
			return nil, err
		}
		c.index.reset(nil, []*data.Market{next})
		return next, nil
	})
}

// EventMarkets merges an event's markets and publishes them grouped.
type EventMarkets struct {
	*Core[[]data.MarketGroup]
	*index
	event *data.Event
}

func NewEventMarkets(eventID string, reg *registry.Registry, logger *zap.Logger) *EventMarkets {
	c := &EventMarkets{
		Core:  NewCore[[]data.MarketGroup](content.EventMarkets(eventID), reg, logger),
		index: newIndex(),
	}
	c.index.setEvent(c.id.Route)
	return c
}

func (c *EventMarkets) Apply(u content.Update) error {
	return c.Update(u.Token, func(_ []data.MarketGroup, _ bool) ([]data.MarketGroup, error) {
		next, err := MergeEvent(c.event, u.Delta)
		if err != nil {
			return nil, err
		}
		c.event = next
		c.index.reset([]*data.Event{next}, nil)
		return GroupMarkets(next), nil
	})
}

var (
	_ Coordinator = (*EventDetails)(nil)
	_ Coordinator = (*LiveEventData)(nil)
	_ Coordinator = (*MarketDetails)(nil)
	_ Coordinator = (*EventMarkets)(nil)
)
