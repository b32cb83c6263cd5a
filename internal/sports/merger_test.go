package sports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/livefeed/internal/data"
)

func names(sports []data.Sport) []string {
	out := make([]string, 0, len(sports))
	for _, s := range sports {
		out = append(out, s.Name)
	}
	return out
}

func TestMerger_FeedOwnership(t *testing.T) {
	m := NewMerger()

	m.UpdateAlphaFeed([]data.Sport{
		{Name: "Football", AlphaID: "FBL", IconID: "ic-fbl", OutrightEventsCount: 2},
		{Name: "Tennis", AlphaID: "TEN", EventsCount: 9},
	})
	m.UpdateNumericFeed([]data.Sport{
		{Name: "football", NumericID: "1", EventsCount: 40},
		{Name: "Darts", NumericID: "22", EventsCount: 3},
	})
	m.UpdateLiveFeed([]data.Sport{
		{Name: "FOOTBALL", LiveEventsCount: 5, EventsCount: 999},
		{Name: "Snooker", LiveEventsCount: 1},
	})

	got := m.Sports()
	assert.Equal(t, []string{"Football", "Tennis", "Darts", "Snooker"}, names(got))

	fbl := got[0]
	assert.Equal(t, "FBL", fbl.AlphaID)
	assert.Equal(t, "1", fbl.NumericID)
	assert.Equal(t, "ic-fbl", fbl.IconID)
	assert.Equal(t, 40, fbl.EventsCount)
	assert.Equal(t, 5, fbl.LiveEventsCount)
	assert.Equal(t, 2, fbl.OutrightEventsCount)

	assert.Equal(t, 9, got[1].EventsCount)
}

func TestMerger_PrunesForgottenSports(t *testing.T) {
	m := NewMerger()
	m.UpdateAlphaFeed([]data.Sport{{Name: "Football", AlphaID: "FBL"}, {Name: "Golf", AlphaID: "GLF"}})
	m.UpdateLiveFeed([]data.Sport{{Name: "Golf", LiveEventsCount: 1}})

	m.UpdateAlphaFeed([]data.Sport{{Name: "Football", AlphaID: "FBL"}})
	assert.Equal(t, []string{"Football", "Golf"}, names(m.Sports()))

	m.UpdateLiveFeed(nil)
	assert.Equal(t, []string{"Football"}, names(m.Sports()))
}

func TestMerger_TargetedCounts(t *testing.T) {
	m := NewMerger()
	m.UpdateAlphaFeed([]data.Sport{{Name: "Football", AlphaID: "FBL"}})
	m.UpdateNumericFeed([]data.Sport{{Name: "Football", NumericID: "1", EventsCount: 4}})

	require.True(t, m.UpdateSportLiveCount("fbl", 7))
	require.True(t, m.UpdateSportEventCount("1", 11))
	assert.False(t, m.UpdateSportLiveCount("BSK", 1))
	assert.False(t, m.UpdateSportEventCount("", 1))

	got := m.Sports()
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].LiveEventsCount)
	assert.Equal(t, 11, got[0].EventsCount)
}
