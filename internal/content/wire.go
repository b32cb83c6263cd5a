package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/livefeed/internal/data"
)

// ErrMalformedContainer is returned for containers without a content id.
var ErrMalformedContainer = errors.New("malformed content container")

var (
	eventIDPattern     = regexp.MustCompile(`idfoevent=([^\],\s]+)`)
	marketIDPattern    = regexp.MustCompile(`idfomarket=([^\],\s]+)`)
	selectionIDPattern = regexp.MustCompile(`idfoselection=([^\],\s]+)`)
	sportIDPattern     = regexp.MustCompile(`idfosporttype=([^\],\s]+)`)
)

type container struct {
	ContentID  Identifier      `json:"contentId"`
	Path       *string         `json:"path"`
	ChangeType string          `json:"changeType"`
	Change     json.RawMessage `json:"change"`
	UpdateKind string          `json:"updateKind"`
	Payload    json.RawMessage `json:"payload"`
}

// flexString accepts ids sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type wireSelection struct {
	ID         flexString `json:"idfoselection"`
	MarketID   flexString `json:"idfomarket"`
	Name       string     `json:"name"`
	PriceUp    flexString `json:"currentpriceup"`
	PriceDown  flexString `json:"currentpricedown"`
	IsTradable *bool      `json:"istradable"`
	IsLive     bool       `json:"islive"`
}

type wireMarket struct {
	ID         flexString      `json:"idfomarket"`
	EventID    flexString      `json:"idfoevent"`
	Name       string          `json:"name"`
	GroupName  string          `json:"marketgroupname"`
	IsTradable bool            `json:"istradable"`
	IsClosed   bool            `json:"isclosed"`
	Selections []wireSelection `json:"selections"`
}

type wireScore struct {
	Home *int `json:"home"`
	Away *int `json:"away"`
}

type wireLiveData struct {
	EventID   flexString           `json:"idfoevent"`
	Status    string               `json:"status"`
	MatchTime string               `json:"matchTime"`
	Scores    map[string]wireScore `json:"scores"`
}

type wireEvent struct {
	ID              flexString    `json:"idfoevent"`
	SportCode       flexString    `json:"idfosporttype"`
	SportName       string        `json:"sporttypename"`
	CompetitionID   flexString    `json:"idfotournament"`
	CompetitionName string        `json:"tournamentname"`
	HomeName        string        `json:"participantname_home"`
	AwayName        string        `json:"participantname_away"`
	StartTime       string        `json:"tsstart"`
	NumMarkets      int           `json:"numMarkets"`
	Markets         []wireMarket  `json:"markets"`
	LiveData        *wireLiveData `json:"liveDataSummary"`
}

type wireSport struct {
	ID                flexString `json:"idfosporttype"`
	AlphaID           flexString `json:"alphaId"`
	Name              string     `json:"sporttypename"`
	IconID            string     `json:"iconId"`
	NumEvents         int        `json:"numEvents"`
	NumLiveEvents     int        `json:"numLiveEvents"`
	NumOutrightEvents int        `json:"numOutrightEvents"`
}

type wireEventGroup struct {
	Events []json.RawMessage `json:"events"`
}

// DecodeContainer turns one content container from a CONTENT_CHANGES
// notification into a typed delta. Unrecognized changes decode to Unknown.
func DecodeContainer(raw []byte) (Identifier, Delta, error) {
	var c container
	if err := json.Unmarshal(raw, &c); err != nil {
		return Identifier{}, nil, fmt.Errorf("decode container: %w", err)
	}
	if c.ContentID.Type == "" {
		return Identifier{}, nil, ErrMalformedContainer
	}

	var (
		d   Delta
		err error
	)
	switch {
	case c.UpdateKind != "":
		d, err = decodeExplicit(c.UpdateKind, c.Payload)
	case c.Path == nil:
		d, err = decodeInitial(c.ContentID, c.Change)
	default:
		d, err = decodePathUpdate(c.ContentID, *c.Path, c.ChangeType, c.Change)
	}
	if err != nil {
		return c.ContentID, nil, fmt.Errorf("decode %s: %w", c.ContentID, err)
	}
	return c.ContentID, d, nil
}

func isEmpty(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func decodeInitial(id Identifier, change json.RawMessage) (Delta, error) {
	switch id.Type {
	case TypePreLiveEvents, TypeLiveEvents:
		if isEmpty(change) {
			return EventList{}, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(change, &items); err != nil {
			return nil, fmt.Errorf("event list: %w", err)
		}
		return EventList{Events: decodeEvents(items)}, nil

	case TypeEventGroup:
		if isEmpty(change) {
			return EventList{}, nil
		}
		var group wireEventGroup
		if err := json.Unmarshal(change, &group); err != nil {
			return nil, fmt.Errorf("event group: %w", err)
		}
		return EventList{Events: decodeEvents(group.Events)}, nil

	case TypeEventDetails, TypeEventSummary, TypeEventMarkets:
		if isEmpty(change) {
			return FullEvent{}, nil
		}
		var we wireEvent
		if err := json.Unmarshal(change, &we); err != nil {
			return nil, fmt.Errorf("event: %w", err)
		}
		return FullEvent{Event: we.toModel()}, nil

	case TypeMarket:
		if isEmpty(change) {
			return FullMarket{}, nil
		}
		var wm wireMarket
		if err := json.Unmarshal(change, &wm); err != nil {
			return nil, fmt.Errorf("market: %w", err)
		}
		return FullMarket{Market: wm.toModel("")}, nil

	case TypeEventLiveData:
		if isEmpty(change) {
			return FullLiveData{}, nil
		}
		var wl wireLiveData
		if err := json.Unmarshal(change, &wl); err != nil {
			return nil, fmt.Errorf("live data: %w", err)
		}
		return FullLiveData{LiveData: wl.toModel(id.Route)}, nil

	case TypeAllSports, TypeLiveSports, TypeInplaySportList, TypeSportTypeByDate:
		if isEmpty(change) {
			return SportList{}, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(change, &items); err != nil {
			return nil, fmt.Errorf("sports: %w", err)
		}
		sports := make([]data.Sport, 0, len(items))
		for _, item := range items {
			var ws wireSport
			if err := json.Unmarshal(item, &ws); err != nil {
				continue
			}
			sports = append(sports, ws.toModel())
		}
		return SportList{Sports: sports}, nil
	}
	return Unknown{ChangeType: "initial"}, nil
}

// decodeEvents skips entries that fail to decode so one bad event does not
// discard a whole page.
func decodeEvents(items []json.RawMessage) []*data.Event {
	events := make([]*data.Event, 0, len(items))
	for _, item := range items {
		var we wireEvent
		if err := json.Unmarshal(item, &we); err != nil || we.ID == "" {
			continue
		}
		events = append(events, we.toModel())
	}
	return events
}

func extract(p *regexp.Regexp, path string) string {
	m := p.FindStringSubmatch(path)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func decodePathUpdate(id Identifier, path, changeType string, change json.RawMessage) (Delta, error) {
	lower := strings.ToLower(path)
	pathEventID := extract(eventIDPattern, path)
	eventID := pathEventID
	marketID := extract(marketIDPattern, path)
	selectionID := extract(selectionIDPattern, path)

	if eventID == "" {
		switch id.Type {
		case TypeEventDetails, TypeEventLiveData, TypeEventMarkets, TypeEventSummary:
			eventID = id.Route
		}
	}

	added := strings.Contains(changeType, "added")
	removed := strings.Contains(changeType, "removed")
	updated := strings.Contains(changeType, "updated") || strings.Contains(changeType, "refreshed")
	tradable := strings.Contains(lower, "istradable")
	liveSummary := strings.Contains(lower, "livedatasummary")

	switch id.Type {
	case TypeAllSports, TypeLiveSports, TypeInplaySportList, TypeSportTypeByDate:
		return decodeSportPath(path, lower, changeType, change)
	}

	switch {
	case marketID != "" && selectionID == "" && added:
		var wm wireMarket
		if err := json.Unmarshal(change, &wm); err != nil {
			return nil, fmt.Errorf("added market: %w", err)
		}
		return AddMarket{EventID: eventID, Market: wm.toModel(eventID)}, nil

	case marketID != "" && selectionID == "" && removed:
		return RemoveMarket{MarketID: marketID}, nil

	case marketID != "" && selectionID == "" && tradable && updated:
		var v bool
		if err := json.Unmarshal(change, &v); err != nil {
			return nil, fmt.Errorf("market tradability: %w", err)
		}
		return MarketTradability{MarketID: marketID, IsTradable: v}, nil

	case selectionID != "" && tradable:
		var v bool
		if err := json.Unmarshal(change, &v); err != nil {
			return nil, fmt.Errorf("outcome tradability: %w", err)
		}
		return OutcomeTradability{OutcomeID: selectionID, IsTradable: v}, nil

	case strings.Contains(lower, "idfoselection"):
		var ws wireSelection
		if err := json.Unmarshal(change, &ws); err != nil {
			return nil, fmt.Errorf("selection: %w", err)
		}
		odds := OutcomeOdds{
			EventID:     eventID,
			MarketID:    firstNonEmpty(string(ws.MarketID), marketID),
			OutcomeID:   firstNonEmpty(string(ws.ID), selectionID),
			Numerator:   string(ws.PriceUp),
			Denominator: string(ws.PriceDown),
		}
		if odd, ok := FractionToDecimal(odds.Numerator, odds.Denominator); ok {
			odds.Odd = &odd
		}
		if ws.IsTradable != nil {
			odds.IsAvailable = ws.IsTradable
		}
		if odds.OutcomeID == "" {
			return Unknown{Path: path, ChangeType: changeType}, nil
		}
		return odds, nil

	case strings.Contains(lower, "nummarkets") && eventID != "":
		var n int
		if err := json.Unmarshal(change, &n); err != nil {
			return nil, fmt.Errorf("market count: %w", err)
		}
		return EventMarketCount{EventID: eventID, Count: n}, nil

	case liveSummary && strings.Contains(lower, "scores") &&
		(strings.Contains(path, "MATCH_SCORE") || strings.Contains(path, "CURRENT_SCORE")):
		var sc wireScore
		if err := json.Unmarshal(change, &sc); err != nil {
			return nil, fmt.Errorf("score: %w", err)
		}
		return EventScore{EventID: eventID, Home: sc.Home, Away: sc.Away}, nil

	case liveSummary && strings.Contains(lower, "matchtime"):
		var s string
		if err := json.Unmarshal(change, &s); err != nil {
			return nil, fmt.Errorf("match time: %w", err)
		}
		return EventTime{EventID: eventID, MatchTime: MatchMinutes(s)}, nil

	case liveSummary && strings.Contains(lower, "status"):
		var s string
		if err := json.Unmarshal(change, &s); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		return EventState{EventID: eventID, Status: ParseStatus(s)}, nil

	case liveSummary:
		var wl wireLiveData
		if err := json.Unmarshal(change, &wl); err != nil {
			return nil, fmt.Errorf("live summary: %w", err)
		}
		return FullMatchInfo{LiveData: wl.toModel(eventID)}, nil

	case tradable && id.Type == TypeMarket && updated:
		var v bool
		if err := json.Unmarshal(change, &v); err != nil {
			return nil, fmt.Errorf("market state: %w", err)
		}
		if v {
			return EnableMarket{MarketID: id.Route}, nil
		}
		return RemoveMarket{MarketID: id.Route}, nil

	case strings.Contains(lower, "cashout"):
		var v bool
		if err := json.Unmarshal(change, &v); err != nil {
			return nil, fmt.Errorf("cashout: %w", err)
		}
		return Cashout{EventID: eventID, Available: v}, nil

	case pathEventID != "" && added:
		var we wireEvent
		if err := json.Unmarshal(change, &we); err != nil {
			return nil, fmt.Errorf("added event: %w", err)
		}
		return AddEvent{Event: we.toModel()}, nil

	case pathEventID != "" && removed:
		return RemoveEvent{EventID: eventID}, nil
	}

	return Unknown{Path: path, ChangeType: changeType}, nil
}

func decodeSportPath(path, lower, changeType string, change json.RawMessage) (Delta, error) {
	nodeID := extract(sportIDPattern, path)
	live := strings.Contains(lower, "numliveevents")
	if nodeID == "" || (!live && !strings.Contains(lower, "numevents")) {
		return Unknown{Path: path, ChangeType: changeType}, nil
	}
	var n int
	if err := json.Unmarshal(change, &n); err != nil {
		return nil, fmt.Errorf("sport count: %w", err)
	}
	return SportCount{NodeID: nodeID, Live: live, Count: n}, nil
}

type explicitOffer struct {
	EventID     string           `json:"eventId"`
	MarketID    string           `json:"marketId"`
	OutcomeID   string           `json:"outcomeId"`
	Odd         *decimal.Decimal `json:"odd"`
	IsLive      *bool            `json:"isLive"`
	IsAvailable *bool            `json:"isAvailable"`
}

type explicitMarket struct {
	MarketID    string `json:"marketId"`
	IsAvailable *bool  `json:"isAvailable"`
	IsClosed    *bool  `json:"isClosed"`
}

type explicitMatchInfo struct {
	EventID   string  `json:"eventId"`
	Status    *string `json:"status"`
	MatchTime *string `json:"matchTime"`
	HomeScore *int    `json:"homeScore"`
	AwayScore *int    `json:"awayScore"`
}

type explicitCashout struct {
	EventID   string `json:"eventId"`
	Available bool   `json:"available"`
}

// decodeExplicit handles containers that name their update kind directly.
func decodeExplicit(kind string, payload json.RawMessage) (Delta, error) {
	switch UpdateKind(kind) {
	case KindBettingOfferUpdate:
		var p explicitOffer
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("betting offer: %w", err)
		}
		return OutcomeOdds{
			EventID:     p.EventID,
			MarketID:    p.MarketID,
			OutcomeID:   p.OutcomeID,
			Odd:         p.Odd,
			IsLive:      p.IsLive,
			IsAvailable: p.IsAvailable,
		}, nil

	case KindMarketUpdate:
		var p explicitMarket
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("market update: %w", err)
		}
		return MarketStatus{MarketID: p.MarketID, IsAvailable: p.IsAvailable, IsClosed: p.IsClosed}, nil

	case KindMatchInfo:
		var p explicitMatchInfo
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("match info: %w", err)
		}
		mi := MatchInfo{EventID: p.EventID, MatchTime: p.MatchTime, Home: p.HomeScore, Away: p.AwayScore}
		if p.Status != nil {
			s := ParseStatus(*p.Status)
			mi.Status = &s
		}
		return mi, nil

	case KindFullMatchInfoUpdate:
		var wl wireLiveData
		if err := json.Unmarshal(payload, &wl); err != nil {
			return nil, fmt.Errorf("full match info: %w", err)
		}
		return FullMatchInfo{LiveData: wl.toModel("")}, nil

	case KindCashoutUpdate:
		var p explicitCashout
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("cashout: %w", err)
		}
		return Cashout{EventID: p.EventID, Available: p.Available}, nil
	}
	return Unknown{ChangeType: kind}, nil
}

// FractionToDecimal converts fractional odds ("17", "20") to decimal odds (1.85).
func FractionToDecimal(numerator, denominator string) (decimal.Decimal, bool) {
	if numerator == "" || denominator == "" {
		return decimal.Decimal{}, false
	}
	num, err := decimal.NewFromString(numerator)
	if err != nil {
		return decimal.Decimal{}, false
	}
	den, err := decimal.NewFromString(denominator)
	if err != nil || den.IsZero() {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromInt(1).Add(num.Div(den)), true
}

// MatchMinutes keeps the minutes part of a "mm:ss" match clock.
func MatchMinutes(clock string) string {
	clock = strings.TrimSpace(clock)
	if i := strings.Index(clock, ":"); i > 0 {
		return clock[:i]
	}
	return clock
}

// ParseStatus maps backend status strings onto EventStatus.
func ParseStatus(s string) data.EventStatus {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "":
		return data.StatusUnknown
	case "not_started", "notstarted", "pending", "scheduled":
		return data.StatusNotStarted
	case "in_progress", "inprogress", "live", "started":
		return data.StatusInProgress
	case "suspended", "interrupted", "paused":
		return data.StatusSuspended
	case "ended", "finished", "closed", "complete":
		return data.StatusEnded
	}
	return data.EventStatus(norm)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (ws wireSelection) toModel(marketID string) *data.Outcome {
	o := &data.Outcome{
		ID:       string(ws.ID),
		MarketID: firstNonEmpty(string(ws.MarketID), marketID),
		Name:     ws.Name,
		Offer: data.BettingOffer{
			Numerator:   string(ws.PriceUp),
			Denominator: string(ws.PriceDown),
			IsLive:      ws.IsLive,
			IsAvailable: ws.IsTradable == nil || *ws.IsTradable,
		},
	}
	if odd, ok := FractionToDecimal(o.Offer.Numerator, o.Offer.Denominator); ok {
		o.Offer.Odd = odd
	}
	return o
}

func (wm wireMarket) toModel(eventID string) *data.Market {
	m := &data.Market{
		ID:         string(wm.ID),
		EventID:    firstNonEmpty(string(wm.EventID), eventID),
		Name:       wm.Name,
		GroupKey:   wm.GroupName,
		IsTradable: wm.IsTradable,
		IsClosed:   wm.IsClosed,
		Outcomes:   make([]*data.Outcome, 0, len(wm.Selections)),
	}
	for _, s := range wm.Selections {
		m.Outcomes = append(m.Outcomes, s.toModel(m.ID))
	}
	return m
}

func (wl wireLiveData) toModel(eventID string) *data.LiveData {
	l := &data.LiveData{
		EventID:   firstNonEmpty(string(wl.EventID), eventID),
		Status:    ParseStatus(wl.Status),
		MatchTime: MatchMinutes(wl.MatchTime),
	}
	for name, sc := range wl.Scores {
		score := data.Score{}
		if sc.Home != nil {
			score.Home = *sc.Home
		}
		if sc.Away != nil {
			score.Away = *sc.Away
		}
		if name == "CURRENT_SCORE" || (name == "MATCH_SCORE" && l.Score == nil) {
			cur := score
			l.Score = &cur
			continue
		}
		if l.PeriodScores == nil {
			l.PeriodScores = make(map[string]data.Score)
		}
		l.PeriodScores[name] = score
	}
	return l
}

func (we wireEvent) toModel() *data.Event {
	e := &data.Event{
		ID:              string(we.ID),
		SportCode:       string(we.SportCode),
		SportName:       we.SportName,
		CompetitionID:   string(we.CompetitionID),
		CompetitionName: we.CompetitionName,
		HomeName:        we.HomeName,
		AwayName:        we.AwayName,
		NumMarkets:      we.NumMarkets,
		Markets:         make([]*data.Market, 0, len(we.Markets)),
	}
	if t, err := time.Parse(time.RFC3339, we.StartTime); err == nil {
		e.StartTime = t
	}
	for _, wm := range we.Markets {
		e.Markets = append(e.Markets, wm.toModel(e.ID))
	}
	if we.LiveData != nil {
		ld := we.LiveData.toModel(e.ID)
		e.Status = ld.Status
		e.MatchTime = ld.MatchTime
		e.Score = ld.Score
	}
	return e
}

func (ws wireSport) toModel() data.Sport {
	s := data.Sport{
		Name:                strings.TrimSpace(ws.Name),
		AlphaID:             string(ws.AlphaID),
		IconID:              ws.IconID,
		EventsCount:         ws.NumEvents,
		LiveEventsCount:     ws.NumLiveEvents,
		OutrightEventsCount: ws.NumOutrightEvents,
	}
	id := string(ws.ID)
	if isNumeric(id) {
		s.NumericID = id
	} else if s.AlphaID == "" {
		s.AlphaID = id
	}
	return s
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
