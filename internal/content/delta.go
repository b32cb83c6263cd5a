package content

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/livefeed/internal/data"
)

// UpdateKind is the coarse category of an inbound delta. The first five and
// KindUnknown are the values an explicit container names. KindFullPayload
// and KindListChange label deltas decoded from path containers that no
// explicit kind describes.
type UpdateKind string

const (
	KindBettingOfferUpdate  UpdateKind = "bettingOfferUpdate"
	KindMarketUpdate        UpdateKind = "marketUpdate"
	KindMatchInfo           UpdateKind = "matchInfo"
	KindFullMatchInfoUpdate UpdateKind = "fullMatchInfoUpdate"
	KindCashoutUpdate       UpdateKind = "cashoutUpdate"
	KindFullPayload         UpdateKind = "fullPayload"
	KindListChange          UpdateKind = "listChange"
	KindUnknown             UpdateKind = "unknown"
)

// Update is one decoded content change as received from the socket. Token is
// the session token of the connection that delivered it.
type Update struct {
	ID       Identifier
	Token    string
	Delta    Delta
	Received time.Time
}

// Delta is implemented by every decoded change type.
type Delta interface {
	Kind() UpdateKind
}

// EventRef, MarketRef and OutcomeRef are implemented by deltas that target a
// single entity, so they can be routed by ownership.
type (
	EventRef interface {
		EventRef() string
	}
	MarketRef interface {
		MarketRef() string
	}
	OutcomeRef interface {
		OutcomeRef() string
	}
)

type (
	// FullEvent is an initial or refreshed event payload. A nil Event means the
	// backend no longer has it.
	FullEvent struct {
		Event *data.Event
	}

	// EventList is the full payload of one page of a list subscription.
	EventList struct {
		Events []*data.Event
	}

	FullMarket struct {
		Market *data.Market
	}

	FullLiveData struct {
		LiveData *data.LiveData
	}

	SportList struct {
		Sports []data.Sport
	}

	// OutcomeOdds changes the betting offer of one outcome. Nil fields are
	// left untouched.
	OutcomeOdds struct {
		EventID     string
		MarketID    string
		OutcomeID   string
		Odd         *decimal.Decimal
		Numerator   string
		Denominator string
		IsLive      *bool
		IsAvailable *bool
	}

	OutcomeTradability struct {
		OutcomeID  string
		IsTradable bool
	}

	MarketTradability struct {
		MarketID   string
		IsTradable bool
	}

	MarketStatus struct {
		MarketID    string
		IsAvailable *bool
		IsClosed    *bool
	}

	AddMarket struct {
		EventID string
		Market  *data.Market
	}

	EnableMarket struct {
		MarketID string
	}

	RemoveMarket struct {
		MarketID string
	}

	EventScore struct {
		EventID string
		Home    *int
		Away    *int
	}

	EventTime struct {
		EventID   string
		MatchTime string
	}

	EventState struct {
		EventID string
		Status  data.EventStatus
	}

	EventMarketCount struct {
		EventID string
		Count   int
	}

	// MatchInfo carries any subset of the scoreboard fields at once.
	MatchInfo struct {
		EventID   string
		Status    *data.EventStatus
		MatchTime *string
		Home      *int
		Away      *int
	}

	// FullMatchInfo replaces the whole scoreboard of an event.
	FullMatchInfo struct {
		LiveData *data.LiveData
	}

	AddEvent struct {
		Event *data.Event
	}

	RemoveEvent struct {
		EventID string
	}

	// SportCount is a targeted count change for one sport node.
	SportCount struct {
		NodeID string
		Live   bool
		Count  int
	}

	Cashout struct {
		EventID   string
		Available bool
	}

	Unknown struct {
		Path       string
		ChangeType string
	}
)

func (FullEvent) Kind() UpdateKind          { return KindFullPayload }
func (EventList) Kind() UpdateKind          { return KindFullPayload }
func (FullMarket) Kind() UpdateKind         { return KindFullPayload }
func (FullLiveData) Kind() UpdateKind       { return KindFullPayload }
func (SportList) Kind() UpdateKind          { return KindFullPayload }
func (OutcomeOdds) Kind() UpdateKind        { return KindBettingOfferUpdate }
func (OutcomeTradability) Kind() UpdateKind { return KindBettingOfferUpdate }
func (MarketTradability) Kind() UpdateKind  { return KindMarketUpdate }
func (MarketStatus) Kind() UpdateKind       { return KindMarketUpdate }
func (AddMarket) Kind() UpdateKind          { return KindMarketUpdate }
func (EnableMarket) Kind() UpdateKind       { return KindMarketUpdate }
func (RemoveMarket) Kind() UpdateKind       { return KindMarketUpdate }
func (EventScore) Kind() UpdateKind         { return KindMatchInfo }
func (EventTime) Kind() UpdateKind          { return KindMatchInfo }
func (EventState) Kind() UpdateKind         { return KindMatchInfo }
func (EventMarketCount) Kind() UpdateKind   { return KindMatchInfo }
func (MatchInfo) Kind() UpdateKind          { return KindMatchInfo }
func (FullMatchInfo) Kind() UpdateKind      { return KindFullMatchInfoUpdate }
func (AddEvent) Kind() UpdateKind           { return KindListChange }
func (RemoveEvent) Kind() UpdateKind        { return KindListChange }
func (SportCount) Kind() UpdateKind         { return KindListChange }
func (Cashout) Kind() UpdateKind            { return KindCashoutUpdate }
func (Unknown) Kind() UpdateKind            { return KindUnknown }

func (d OutcomeOdds) OutcomeRef() string        { return d.OutcomeID }
func (d OutcomeTradability) OutcomeRef() string { return d.OutcomeID }
func (d MarketTradability) MarketRef() string   { return d.MarketID }
func (d MarketStatus) MarketRef() string        { return d.MarketID }
func (d EnableMarket) MarketRef() string        { return d.MarketID }
func (d RemoveMarket) MarketRef() string        { return d.MarketID }
func (d AddMarket) EventRef() string            { return d.EventID }
func (d EventScore) EventRef() string           { return d.EventID }
func (d EventTime) EventRef() string            { return d.EventID }
func (d EventState) EventRef() string           { return d.EventID }
func (d EventMarketCount) EventRef() string     { return d.EventID }
func (d MatchInfo) EventRef() string            { return d.EventID }
func (d RemoveEvent) EventRef() string          { return d.EventID }
func (d Cashout) EventRef() string              { return d.EventID }

func (d FullMatchInfo) EventRef() string {
	if d.LiveData == nil {
		return ""
	}
	return d.LiveData.EventID
}

// ApplyTo returns offer with the delta's non-nil fields replaced.
func (d OutcomeOdds) ApplyTo(offer data.BettingOffer) data.BettingOffer {
	if d.Odd != nil {
		offer.Odd = *d.Odd
		offer.Numerator = d.Numerator
		offer.Denominator = d.Denominator
	}
	if d.IsLive != nil {
		offer.IsLive = *d.IsLive
	}
	if d.IsAvailable != nil {
		offer.IsAvailable = *d.IsAvailable
	}
	return offer
}

// ApplyToEvent copies the scoreboard fields carried by d onto e.
func (d MatchInfo) ApplyToEvent(e *data.Event) {
	if d.Status != nil {
		e.Status = *d.Status
	}
	if d.MatchTime != nil {
		e.MatchTime = *d.MatchTime
	}
	e.Score = mergeScore(e.Score, d.Home, d.Away)
}

// ApplyToLiveData copies the scoreboard fields carried by d onto l.
func (d MatchInfo) ApplyToLiveData(l *data.LiveData) {
	if d.Status != nil {
		l.Status = *d.Status
	}
	if d.MatchTime != nil {
		l.MatchTime = *d.MatchTime
	}
	l.Score = mergeScore(l.Score, d.Home, d.Away)
}

// AsMatchInfo folds the single-field scoreboard deltas into a MatchInfo.
func AsMatchInfo(d Delta) (MatchInfo, bool) {
	switch v := d.(type) {
	case MatchInfo:
		return v, true
	case EventScore:
		return MatchInfo{EventID: v.EventID, Home: v.Home, Away: v.Away}, true
	case EventTime:
		t := v.MatchTime
		return MatchInfo{EventID: v.EventID, MatchTime: &t}, true
	case EventState:
		s := v.Status
		return MatchInfo{EventID: v.EventID, Status: &s}, true
	}
	return MatchInfo{}, false
}

func mergeScore(cur *data.Score, home, away *int) *data.Score {
	if home == nil && away == nil {
		return cur
	}
	next := data.Score{}
	if cur != nil {
		next = *cur
	}
	if home != nil {
		next.Home = *home
	}
	if away != nil {
		next.Away = *away
	}
	return &next
}
