package coordinator

import (
	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/data"
)

// MergeEvent applies d to cur and returns the new event. cur is never
// modified. Deltas that target entities missing from cur are dropped.
func MergeEvent(cur *data.Event, d content.Delta) (*data.Event, error) {
	if full, ok := d.(content.FullEvent); ok {
		if full.Event == nil {
			return nil, content.ErrResourceUnavailableOrDeleted
		}
		return full.Event, nil
	}
	if cur == nil {
		return nil, drop(ReasonNotMaterialized)
	}

	if mi, ok := content.AsMatchInfo(d); ok {
		if mi.EventID != "" && mi.EventID != cur.ID {
			return nil, drop(ReasonForeignEntity)
		}
		return cur.With(mi.ApplyToEvent), nil
	}

	switch v := d.(type) {
	case content.OutcomeOdds:
		return updateOutcome(cur, v.OutcomeID, func(o *data.Outcome) {
			o.Offer = v.ApplyTo(o.Offer)
		})

	case content.OutcomeTradability:
		return updateOutcome(cur, v.OutcomeID, func(o *data.Outcome) {
			o.Offer.IsAvailable = v.IsTradable
		})

	case content.MarketTradability:
		return updateMarket(cur, v.MarketID, func(m *data.Market) {
			m.IsTradable = v.IsTradable
		})

	case content.MarketStatus:
		return updateMarket(cur, v.MarketID, func(m *data.Market) {
			if v.IsAvailable != nil {
				m.IsTradable = *v.IsAvailable
			}
			if v.IsClosed != nil {
				m.IsClosed = *v.IsClosed
			}
		})

	case content.EnableMarket:
		return updateMarket(cur, v.MarketID, func(m *data.Market) {
			m.IsTradable = true
		})

	case content.AddMarket:
		if v.Market == nil {
			return nil, drop(ReasonUnexpectedKind)
		}
		if v.EventID != "" && v.EventID != cur.ID {
			return nil, drop(ReasonForeignEntity)
		}
		return cur.WithMarket(v.Market), nil

	case content.RemoveMarket:
		next, ok := cur.WithoutMarket(v.MarketID)
		if !ok {
			return nil, drop(ReasonUnknownMarket)
		}
		return next, nil

	case content.FullMatchInfo:
		if v.LiveData == nil || (v.LiveData.EventID != "" && v.LiveData.EventID != cur.ID) {
			return nil, drop(ReasonForeignEntity)
		}
		return cur.With(func(e *data.Event) {
			e.Status = v.LiveData.Status
			e.MatchTime = v.LiveData.MatchTime
			e.Score = v.LiveData.Score
		}), nil

	case content.EventMarketCount:
		if v.EventID != cur.ID {
			return nil, drop(ReasonForeignEntity)
		}
		return cur.With(func(e *data.Event) {
			e.NumMarkets = v.Count
		}), nil

	case content.Cashout, content.Unknown:
		return nil, drop(ReasonIgnoredKind)
	}
	return nil, drop(ReasonUnexpectedKind)
}

func updateOutcome(cur *data.Event, id string, fn func(*data.Outcome)) (*data.Event, error) {
	next, ok := cur.UpdateOutcome(id, fn)
	if !ok {
		return nil, drop(ReasonUnknownOutcome)
	}
	return next, nil
}

func updateMarket(cur *data.Event, id string, fn func(*data.Market)) (*data.Event, error) {
	next, ok := cur.UpdateMarket(id, fn)
	if !ok {
		return nil, drop(ReasonUnknownMarket)
	}
	return next, nil
}

// MergeMarket applies d to a standalone market.
func MergeMarket(cur *data.Market, d content.Delta) (*data.Market, error) {
	if full, ok := d.(content.FullMarket); ok {
		if full.Market == nil {
			return nil, content.ErrResourceUnavailableOrDeleted
		}
		return full.Market, nil
	}
	if cur == nil {
		return nil, drop(ReasonNotMaterialized)
	}

	with := func(fn func(*data.Market)) *data.Market {
		cp := *cur
		fn(&cp)
		return &cp
	}
	sameMarket := func(id string) bool {
		return id == "" || id == cur.ID
	}

	switch v := d.(type) {
	case content.OutcomeOdds:
		next, ok := cur.UpdateOutcome(v.OutcomeID, func(o *data.Outcome) {
			o.Offer = v.ApplyTo(o.Offer)
		})
		if !ok {
			return nil, drop(ReasonUnknownOutcome)
		}
		return next, nil

	case content.OutcomeTradability:
		next, ok := cur.UpdateOutcome(v.OutcomeID, func(o *data.Outcome) {
			o.Offer.IsAvailable = v.IsTradable
		})
		if !ok {
			return nil, drop(ReasonUnknownOutcome)
		}
		return next, nil

	case content.MarketTradability:
		if !sameMarket(v.MarketID) {
			return nil, drop(ReasonForeignEntity)
		}
		return with(func(m *data.Market) { m.IsTradable = v.IsTradable }), nil

	case content.MarketStatus:
		if !sameMarket(v.MarketID) {
			return nil, drop(ReasonForeignEntity)
		}
		return with(func(m *data.Market) {
			if v.IsAvailable != nil {
				m.IsTradable = *v.IsAvailable
			}
			if v.IsClosed != nil {
				m.IsClosed = *v.IsClosed
			}
		}), nil

	case content.EnableMarket:
		if !sameMarket(v.MarketID) {
			return nil, drop(ReasonForeignEntity)
		}
		return with(func(m *data.Market) { m.IsTradable = true }), nil

	case content.RemoveMarket:
		if !sameMarket(v.MarketID) {
			return nil, drop(ReasonForeignEntity)
		}
		return with(func(m *data.Market) { m.IsTradable = false }), nil

	case content.Cashout, content.Unknown:
		return nil, drop(ReasonIgnoredKind)
	}
	return nil, drop(ReasonUnexpectedKind)
}

// MergeLiveData applies d to an event scoreboard.
func MergeLiveData(cur *data.LiveData, d content.Delta) (*data.LiveData, error) {
	switch v := d.(type) {
	case content.FullLiveData:
		if v.LiveData == nil {
			return nil, content.ErrResourceUnavailableOrDeleted
		}
		return v.LiveData, nil
	case content.FullEvent:
		if v.Event == nil {
			return nil, content.ErrResourceUnavailableOrDeleted
		}
	}
	if cur == nil {
		return nil, drop(ReasonNotMaterialized)
	}

	if mi, ok := content.AsMatchInfo(d); ok {
		if mi.EventID != "" && mi.EventID != cur.EventID {
			return nil, drop(ReasonForeignEntity)
		}
		cp := *cur
		mi.ApplyToLiveData(&cp)
		return &cp, nil
	}

	switch v := d.(type) {
	case content.FullMatchInfo:
		if v.LiveData == nil || (v.LiveData.EventID != "" && v.LiveData.EventID != cur.EventID) {
			return nil, drop(ReasonForeignEntity)
		}
		next := *v.LiveData
		next.EventID = cur.EventID
		return &next, nil

	case content.Cashout, content.Unknown:
		return nil, drop(ReasonIgnoredKind)
	}
	return nil, drop(ReasonUnexpectedKind)
}

// GroupMarkets groups an event's markets by GroupKey in first-seen order.
func GroupMarkets(e *data.Event) []data.MarketGroup {
	if e == nil {
		return nil
	}
	groups := data.NewOrderedMap[string, []*data.Market]()
	for _, m := range e.Markets {
		cur, _ := groups.Get(m.GroupKey)
		groups.Set(m.GroupKey, append(cur, m))
	}

	out := make([]data.MarketGroup, 0, groups.Len())
	for _, key := range groups.Keys() {
		markets, _ := groups.Get(key)
		out = append(out, data.MarketGroup{Key: key, Markets: markets})
	}
	return out
}
