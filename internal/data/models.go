package data

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the lifecycle state reported for a match.
type EventStatus string

const (
	StatusUnknown    EventStatus = ""
	StatusNotStarted EventStatus = "not_started"
	StatusInProgress EventStatus = "in_progress"
	StatusSuspended  EventStatus = "suspended"
	StatusEnded      EventStatus = "ended"
)

// Score is a home/away pair.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// BettingOffer holds the priced part of an outcome.
type BettingOffer struct {
	Odd         decimal.Decimal `json:"odd"`
	Numerator   string          `json:"numerator,omitempty"`
	Denominator string          `json:"denominator,omitempty"`
	IsLive      bool            `json:"isLive"`
	IsAvailable bool            `json:"isAvailable"`
}

type Outcome struct {
	ID       string       `json:"id"`
	MarketID string       `json:"marketId"`
	Name     string       `json:"name"`
	Offer    BettingOffer `json:"offer"`
}

type Market struct {
	ID         string     `json:"id"`
	EventID    string     `json:"eventId"`
	Name       string     `json:"name"`
	GroupKey   string     `json:"groupKey,omitempty"`
	IsTradable bool       `json:"isTradable"`
	IsClosed   bool       `json:"isClosed"`
	Outcomes   []*Outcome `json:"outcomes"`
}

type Event struct {
	ID              string      `json:"id"`
	SportCode       string      `json:"sportCode"`
	SportName       string      `json:"sportName,omitempty"`
	CompetitionID   string      `json:"competitionId,omitempty"`
	CompetitionName string      `json:"competitionName,omitempty"`
	HomeName        string      `json:"homeName"`
	AwayName        string      `json:"awayName"`
	StartTime       time.Time   `json:"startTime"`
	Status          EventStatus `json:"status"`
	MatchTime       string      `json:"matchTime,omitempty"`
	Score           *Score      `json:"score,omitempty"`
	NumMarkets      int         `json:"numMarkets"`
	Markets         []*Market   `json:"markets"`
}

// LiveData is the scoreboard of a live event.
type LiveData struct {
	EventID      string           `json:"eventId"`
	Status       EventStatus      `json:"status"`
	MatchTime    string           `json:"matchTime,omitempty"`
	Score        *Score           `json:"score,omitempty"`
	PeriodScores map[string]Score `json:"periodScores,omitempty"`
}

// Sport is one node of the sport taxonomy. AlphaID and NumericID come from
// different feeds and either may be empty.
type Sport struct {
	Name                string `json:"name"`
	AlphaID             string `json:"alphaId,omitempty"`
	NumericID           string `json:"numericId,omitempty"`
	IconID              string `json:"iconId,omitempty"`
	EventsCount         int    `json:"eventsCount"`
	LiveEventsCount     int    `json:"liveEventsCount"`
	OutrightEventsCount int    `json:"outrightEventsCount"`
}

// EventsGroup is an ordered list of events published by a list subscription.
type EventsGroup struct {
	ID     string   `json:"id"`
	Events []*Event `json:"events"`
}

// MarketGroup is an ordered list of markets sharing a display group.
type MarketGroup struct {
	Key     string    `json:"key"`
	Markets []*Market `json:"markets"`
}
