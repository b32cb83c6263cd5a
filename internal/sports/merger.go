package sports

import (
	"strings"
	"sync"

	"github.com/dgnsrekt/livefeed/internal/data"
)

// Merger reconciles the alpha-id, numeric-id and live-count sport feeds
// into one list keyed by case-insensitive sport name. Each feed only writes
// the fields it owns.
type Merger struct {
	mu      sync.Mutex
	records map[string]*data.Sport
	alpha   []string
	numeric []string
	live    []string
}

func NewMerger() *Merger {
	return &Merger{records: make(map[string]*data.Sport)}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m *Merger) record(s data.Sport) (string, *data.Sport) {
	key := nameKey(s.Name)
	if key == "" {
		return "", nil
	}
	rec, ok := m.records[key]
	if !ok {
		rec = &data.Sport{Name: strings.TrimSpace(s.Name)}
		m.records[key] = rec
	}
	return key, rec
}

// UpdateAlphaFeed replaces the alpha feed. It owns AlphaID, IconID,
// OutrightEventsCount and EventsCount when it carries one.
func (m *Merger) UpdateAlphaFeed(sports []data.Sport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alpha = m.alpha[:0]
	for _, s := range sports {
		key, rec := m.record(s)
		if rec == nil {
			continue
		}
		rec.AlphaID = s.AlphaID
		rec.IconID = s.IconID
		rec.OutrightEventsCount = s.OutrightEventsCount
		if s.EventsCount > 0 {
			rec.EventsCount = s.EventsCount
		}
		m.alpha = append(m.alpha, key)
	}
	m.prune()
}

// UpdateNumericFeed replaces the numeric feed. It owns NumericID and
// EventsCount.
func (m *Merger) UpdateNumericFeed(sports []data.Sport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.numeric = m.numeric[:0]
	for _, s := range sports {
		key, rec := m.record(s)
		if rec == nil {
			continue
		}
		if s.NumericID != "" {
			rec.NumericID = s.NumericID
		}
		rec.EventsCount = s.EventsCount
		m.numeric = append(m.numeric, key)
	}
	m.prune()
}

// UpdateLiveFeed replaces the live feed. It owns LiveEventsCount only.
func (m *Merger) UpdateLiveFeed(sports []data.Sport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live = m.live[:0]
	for _, s := range sports {
		key, rec := m.record(s)
		if rec == nil {
			continue
		}
		rec.LiveEventsCount = s.LiveEventsCount
		m.live = append(m.live, key)
	}
	m.prune()
}

// UpdateSportLiveCount sets the live count of the sport whose alpha or
// numeric id is nodeID.
func (m *Merger) UpdateSportLiveCount(nodeID string, count int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.byNode(nodeID)
	if rec == nil {
		return false
	}
	rec.LiveEventsCount = count
	return true
}

// UpdateSportEventCount sets the event count of the sport whose alpha or
// numeric id is nodeID.
func (m *Merger) UpdateSportEventCount(nodeID string, count int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.byNode(nodeID)
	if rec == nil {
		return false
	}
	rec.EventsCount = count
	return true
}

func (m *Merger) byNode(nodeID string) *data.Sport {
	if nodeID == "" {
		return nil
	}
	for _, rec := range m.records {
		if strings.EqualFold(rec.AlphaID, nodeID) || rec.NumericID == nodeID {
			return rec
		}
	}
	return nil
}

// prune forgets sports no feed mentions any more.
func (m *Merger) prune() {
	seen := make(map[string]struct{}, len(m.records))
	for _, feed := range [][]string{m.alpha, m.numeric, m.live} {
		for _, key := range feed {
			seen[key] = struct{}{}
		}
	}
	for key := range m.records {
		if _, ok := seen[key]; !ok {
			delete(m.records, key)
		}
	}
}

// Sports returns the merged list: alpha feed order, then numeric-only
// sports, then live-only sports.
func (m *Merger) Sports() []data.Sport {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]data.Sport, 0, len(m.records))
	added := make(map[string]struct{}, len(m.records))
	for _, feed := range [][]string{m.alpha, m.numeric, m.live} {
		for _, key := range feed {
			if _, ok := added[key]; ok {
				continue
			}
			added[key] = struct{}{}
			out = append(out, *m.records[key])
		}
	}
	return out
}
