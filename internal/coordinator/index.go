package coordinator

import (
	"sync"

	"github.com/dgnsrekt/livefeed/internal/data"
)

// index answers ownership queries without taking the core lock.
type index struct {
	mu       sync.RWMutex
	events   map[string]struct{}
	markets  map[string]struct{}
	outcomes map[string]struct{}
}

func newIndex() *index {
	return &index{
		events:   make(map[string]struct{}),
		markets:  make(map[string]struct{}),
		outcomes: make(map[string]struct{}),
	}
}

func (x *index) reset(events []*data.Event, markets []*data.Market) {
	ev := make(map[string]struct{}, len(events))
	mk := make(map[string]struct{})
	oc := make(map[string]struct{})

	addMarket := func(m *data.Market) {
		mk[m.ID] = struct{}{}
		for _, o := range m.Outcomes {
			oc[o.ID] = struct{}{}
		}
	}
	for _, e := range events {
		if e == nil {
			continue
		}
		ev[e.ID] = struct{}{}
		for _, m := range e.Markets {
			addMarket(m)
		}
	}
	for _, m := range markets {
		if m != nil {
			addMarket(m)
		}
	}

	x.mu.Lock()
	x.events, x.markets, x.outcomes = ev, mk, oc
	x.mu.Unlock()
}

func (x *index) setEvent(id string) {
	x.mu.Lock()
	x.events = map[string]struct{}{id: {}}
	x.mu.Unlock()
}

func (x *index) ContainsEvent(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.events[id]
	return ok
}

func (x *index) ContainsMarket(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.markets[id]
	return ok
}

func (x *index) ContainsOutcome(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.outcomes[id]
	return ok
}
