package paginator

import (
	"sync"

	"github.com/dgnsrekt/livefeed/internal/data"
)

// index maps markets and outcomes to the event that owns them.
type index struct {
	mu       sync.RWMutex
	events   map[string]struct{}
	markets  map[string]string
	outcomes map[string]string
}

func newIndex() *index {
	return &index{
		events:   make(map[string]struct{}),
		markets:  make(map[string]string),
		outcomes: make(map[string]string),
	}
}

func (x *index) reset(events []*data.Event) {
	ev := make(map[string]struct{}, len(events))
	mk := make(map[string]string)
	oc := make(map[string]string)
	for _, e := range events {
		ev[e.ID] = struct{}{}
		for _, m := range e.Markets {
			mk[m.ID] = e.ID
			for _, o := range m.Outcomes {
				oc[o.ID] = e.ID
			}
		}
	}

	x.mu.Lock()
	x.events, x.markets, x.outcomes = ev, mk, oc
	x.mu.Unlock()
}

func (x *index) hasEvent(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.events[id]
	return ok
}

func (x *index) eventOfMarket(id string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.markets[id]
}

func (x *index) eventOfOutcome(id string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.outcomes[id]
}
