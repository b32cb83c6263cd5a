package content

import (
	"strconv"
	"strings"
)

// Type tags the kind of content a subscription delivers.
type Type string

const (
	TypePreLiveEvents   Type = "eventListBySportTypeDate"
	TypeLiveEvents      Type = "liveDataSummaryAdvancedListBySportType"
	TypeEventDetails    Type = "eventDetails"
	TypeEventLiveData   Type = "eventDetailsLiveData"
	TypeEventMarkets    Type = "eventMarkets"
	TypeMarket          Type = "market"
	TypeEventGroup      Type = "eventGroup"
	TypeEventSummary    Type = "eventSummary"
	TypeAllSports       Type = "allSports"
	TypeLiveSports      Type = "liveSports"
	TypeInplaySportList Type = "inplaySportList"
	TypeSportTypeByDate Type = "sportTypeByDate"
)

const (
	pageWildcard   = "*"
	routeSeparator = "/"

	// Route segment positions for paged lists.
	preLivePageSegment    = 3
	preLivePerPageSegment = 4
	liveEventsPageSegment = 1
)

// Identifier names one logical subscription. Two semantically equal
// requests produce equal identifiers, so it is safe to use as a map key.
type Identifier struct {
	Type  Type   `json:"type"`
	Route string `json:"id"`
}

func New(t Type, route string) Identifier {
	return Identifier{Type: t, Route: route}
}

// String is the canonical key form, "type/route".
func (id Identifier) String() string {
	return string(id.Type) + routeSeparator + id.Route
}

func (id Identifier) IsZero() bool {
	return id.Type == "" && id.Route == ""
}

// IsList reports whether the identifier addresses a paged event list.
func (id Identifier) IsList() bool {
	return id.Type == TypePreLiveEvents || id.Type == TypeLiveEvents
}

func (id Identifier) pageSegment() int {
	switch id.Type {
	case TypePreLiveEvents:
		return preLivePageSegment
	case TypeLiveEvents:
		return liveEventsPageSegment
	}
	return -1
}

// PageIndex returns the page encoded in a list route.
func (id Identifier) PageIndex() (int, bool) {
	seg := id.pageSegment()
	if seg < 0 {
		return 0, false
	}
	parts := strings.Split(id.Route, routeSeparator)
	if len(parts) <= seg {
		return 0, false
	}
	n, err := strconv.Atoi(parts[seg])
	if err != nil {
		return 0, false
	}
	return n, true
}

// WithPage returns the same list identifier pointing at another page.
func (id Identifier) WithPage(page int) (Identifier, bool) {
	return id.replaceSegment(id.pageSegment(), strconv.Itoa(page))
}

// Pageable returns the identifier with its page index wildcarded. Every page
// of one list shares the same pageable identifier. Non-list identifiers are
// returned unchanged.
func (id Identifier) Pageable() Identifier {
	p, ok := id.replaceSegment(id.pageSegment(), pageWildcard)
	if !ok {
		return id
	}
	return p
}

// EventsPerPage returns the page size encoded in the route, if any.
func (id Identifier) EventsPerPage() (int, bool) {
	if id.Type != TypePreLiveEvents {
		return 0, false
	}
	parts := strings.Split(id.Route, routeSeparator)
	if len(parts) <= preLivePerPageSegment {
		return 0, false
	}
	n, err := strconv.Atoi(parts[preLivePerPageSegment])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (id Identifier) replaceSegment(seg int, value string) (Identifier, bool) {
	if seg < 0 {
		return id, false
	}
	parts := strings.Split(id.Route, routeSeparator)
	if len(parts) <= seg {
		return id, false
	}
	parts[seg] = value
	return Identifier{Type: id.Type, Route: strings.Join(parts, routeSeparator)}, true
}
