package data

// Entities are shared read-only once published. The helpers below never
// modify their receiver: they return a copy where only the touched path
// (event -> market -> outcome) is new and every other pointer is reused.

// UpdateOutcome returns a copy of m with fn applied to a copy of the outcome.
func (m *Market) UpdateOutcome(outcomeID string, fn func(*Outcome)) (*Market, bool) {
	for i, o := range m.Outcomes {
		if o.ID != outcomeID {
			continue
		}
		next := *o
		fn(&next)

		cp := *m
		cp.Outcomes = make([]*Outcome, len(m.Outcomes))
		copy(cp.Outcomes, m.Outcomes)
		cp.Outcomes[i] = &next
		return &cp, true
	}
	return m, false
}

// HasOutcome reports whether the market carries the outcome.
func (m *Market) HasOutcome(outcomeID string) bool {
	for _, o := range m.Outcomes {
		if o.ID == outcomeID {
			return true
		}
	}
	return false
}

// UpdateMarket returns a copy of e with fn applied to a copy of the market.
func (e *Event) UpdateMarket(marketID string, fn func(*Market)) (*Event, bool) {
	for i, m := range e.Markets {
		if m.ID != marketID {
			continue
		}
		next := *m
		fn(&next)
		return e.replaceMarketAt(i, &next), true
	}
	return e, false
}

// UpdateOutcome returns a copy of e with fn applied to the outcome wherever
// it lives among the event's markets.
func (e *Event) UpdateOutcome(outcomeID string, fn func(*Outcome)) (*Event, bool) {
	for i, m := range e.Markets {
		next, ok := m.UpdateOutcome(outcomeID, fn)
		if ok {
			return e.replaceMarketAt(i, next), true
		}
	}
	return e, false
}

// WithMarket replaces the market with the same id in place, or appends it.
func (e *Event) WithMarket(m *Market) *Event {
	for i, existing := range e.Markets {
		if existing.ID == m.ID {
			return e.replaceMarketAt(i, m)
		}
	}
	cp := *e
	cp.Markets = make([]*Market, len(e.Markets), len(e.Markets)+1)
	copy(cp.Markets, e.Markets)
	cp.Markets = append(cp.Markets, m)
	return &cp
}

// WithoutMarket drops the market from the event.
func (e *Event) WithoutMarket(marketID string) (*Event, bool) {
	for i, m := range e.Markets {
		if m.ID != marketID {
			continue
		}
		cp := *e
		cp.Markets = make([]*Market, 0, len(e.Markets)-1)
		cp.Markets = append(cp.Markets, e.Markets[:i]...)
		cp.Markets = append(cp.Markets, e.Markets[i+1:]...)
		return &cp, true
	}
	return e, false
}

// With returns a copy of e with fn applied to the event's own fields.
func (e *Event) With(fn func(*Event)) *Event {
	cp := *e
	fn(&cp)
	return &cp
}

func (e *Event) replaceMarketAt(i int, m *Market) *Event {
	cp := *e
	cp.Markets = make([]*Market, len(e.Markets))
	copy(cp.Markets, e.Markets)
	cp.Markets[i] = m
	return &cp
}
