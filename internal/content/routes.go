package content

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const routeTimeLayout = "200601021504"

// SortType orders pre-live event lists.
type SortType string

const (
	SortByTime       SortType = "T"
	SortByPopularity SortType = "P"
)

func normalizeSport(sport string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(sport))
	if s == "" {
		return "", fmt.Errorf("%w: empty sport code", ErrIncompleteSportData)
	}
	return s, nil
}

func routeTime(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(routeTimeLayout)
}

// PreLiveEvents addresses one page of upcoming events for a sport in a date
// window, e.g. "FBL/202210210000/202210212359/0/20/T".
func PreLiveEvents(sport string, start, end time.Time, page, perPage int, sort SortType) (Identifier, error) {
	code, err := normalizeSport(sport)
	if err != nil {
		return Identifier{}, err
	}
	if sort == "" {
		sort = SortByTime
	}
	if page < 0 {
		page = 0
	}
	route := strings.Join([]string{
		code,
		routeTime(start),
		routeTime(end),
		strconv.Itoa(page),
		strconv.Itoa(perPage),
		string(sort),
	}, routeSeparator)
	return New(TypePreLiveEvents, route), nil
}

// LiveEvents addresses one page of in-play events, e.g. "FBL/0".
func LiveEvents(sport string, page int) (Identifier, error) {
	code, err := normalizeSport(sport)
	if err != nil {
		return Identifier{}, err
	}
	if page < 0 {
		page = 0
	}
	return New(TypeLiveEvents, code+routeSeparator+strconv.Itoa(page)), nil
}

func EventDetails(eventID string) Identifier {
	return New(TypeEventDetails, strings.TrimSpace(eventID))
}

func EventLiveData(eventID string) Identifier {
	return New(TypeEventLiveData, strings.TrimSpace(eventID))
}

func EventMarkets(eventID string) Identifier {
	return New(TypeEventMarkets, strings.TrimSpace(eventID))
}

func Market(marketID string) Identifier {
	return New(TypeMarket, strings.TrimSpace(marketID))
}

func EventGroup(groupID string) Identifier {
	return New(TypeEventGroup, strings.TrimSpace(groupID))
}

func EventSummary(eventID string) Identifier {
	return New(TypeEventSummary, strings.TrimSpace(eventID))
}

func AllSports() Identifier {
	return New(TypeAllSports, "all")
}

func LiveSports() Identifier {
	return New(TypeLiveSports, "live")
}

func InplaySports(language string) Identifier {
	return New(TypeInplaySportList, strings.ToLower(strings.TrimSpace(language)))
}

func SportsByDate(start, end time.Time) Identifier {
	return New(TypeSportTypeByDate, routeTime(start)+routeSeparator+routeTime(end))
}
