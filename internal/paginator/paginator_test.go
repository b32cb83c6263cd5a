package paginator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/stream"
)

const testToken = "tok-1"

type slowClient struct {
	mu     sync.Mutex
	subs   map[content.Identifier]int
	unsubs int
	delay  time.Duration
}

func (c *slowClient) Subscribe(ctx context.Context, token string, id content.Identifier) error {
	c.mu.Lock()
	c.subs[id]++
	delay := c.delay
	c.mu.Unlock()

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *slowClient) Unsubscribe(ctx context.Context, token string, id content.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs++
	return nil
}

func (c *slowClient) subCount(id content.Identifier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *slowClient) unsubCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubs
}

func firstPage(t *testing.T) content.Identifier {
	t.Helper()
	start := time.Date(2022, 10, 21, 0, 0, 0, 0, time.UTC)
	id, err := content.PreLiveEvents("FBL", start, start.Add(24*time.Hour-time.Minute), 0, 10, content.SortByTime)
	require.NoError(t, err)
	return id
}

func makeEvents(from, n int) []*data.Event {
	events := make([]*data.Event, 0, n)
	for i := from; i < from+n; i++ {
		id := fmt.Sprintf("E%d", i)
		events = append(events, &data.Event{
			ID:        id,
			SportCode: "FBL",
			Markets: []*data.Market{{
				ID:       "M" + id,
				EventID:  id,
				Outcomes: []*data.Outcome{{ID: "O" + id, MarketID: "M" + id}},
			}},
		})
	}
	return events
}

func recvGroup(t *testing.T, s *stream.Subscriber[content.Message[*data.EventsGroup]]) content.Message[*data.EventsGroup] {
	t.Helper()
	select {
	case m, ok := <-s.C():
		require.True(t, ok, "stream closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return content.Message[*data.EventsGroup]{}
}

func ids(events []*data.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

type fixture struct {
	p      *Paginator
	client *slowClient
	sub    content.Subscription
	stream *stream.Subscriber[content.Message[*data.EventsGroup]]
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store := session.NewStore(logger)
	store.Set(testToken)
	client := &slowClient{subs: make(map[content.Identifier]int), delay: delay}
	reg := registry.New(client, store, nil, logger)
	t.Cleanup(func() {
		reg.Close()
		store.Close()
	})

	p := New(firstPage(t), 20, reg, logger)
	require.NoError(t, p.Start(context.Background()))
	sub, s, err := p.Attach()
	require.NoError(t, err)
	t.Cleanup(sub.Release)
	require.Equal(t, content.StateConnected, recvGroup(t, s).State)

	return &fixture{p: p, client: client, sub: sub, stream: s}
}

func TestPaginator_NextPageScenario(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	first := firstPage(t)
	assert.Equal(t, 10, f.p.EventsPerPage())

	initial := makeEvents(0, 10)
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: initial}}))

	m := recvGroup(t, f.stream)
	require.Len(t, m.Content.Events, 10)
	assert.Equal(t, ids(initial), ids(m.Content.Events))
	assert.True(t, f.p.HasNextPage())

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := f.p.RequestNextPage(context.Background())
			if err != nil {
				t.Errorf("request next page: %v", err)
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []bool{true, true}, results)
	second, _ := first.WithPage(1)
	assert.Equal(t, 1, f.client.subCount(second))
	assert.Equal(t, 1, f.p.CurrentPage())
	assert.False(t, f.p.HasNextPage())

	more := makeEvents(10, 10)
	require.NoError(t, f.p.Apply(content.Update{ID: second, Token: testToken, Delta: content.EventList{Events: more}}))

	m = recvGroup(t, f.stream)
	require.Len(t, m.Content.Events, 20)
	for i := 0; i < 10; i++ {
		assert.Same(t, initial[i], m.Content.Events[i])
	}
	assert.Equal(t, ids(more), ids(m.Content.Events[10:]))
	assert.True(t, f.p.HasNextPage())
}

func TestPaginator_NoMorePages(t *testing.T) {
	f := newFixture(t, 0)
	first := firstPage(t)

	ok, err := f.p.RequestNextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "no page has arrived yet")

	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: makeEvents(0, 4)}}))
	recvGroup(t, f.stream)

	ok, err = f.p.RequestNextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaginator_ListDeltas(t *testing.T) {
	f := newFixture(t, 0)
	first := firstPage(t)
	initial := makeEvents(0, 3)
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: initial}}))
	recvGroup(t, f.stream)

	odd := decimal.RequireFromString("2.2")
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.OutcomeOdds{OutcomeID: "OE1", Odd: &odd}}))
	m := recvGroup(t, f.stream)
	assert.True(t, m.Content.Events[1].Markets[0].Outcomes[0].Offer.Odd.Equal(odd))
	assert.Same(t, initial[0], m.Content.Events[0])
	assert.Same(t, initial[2], m.Content.Events[2])

	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.RemoveMarket{MarketID: "ME2"}}))
	m = recvGroup(t, f.stream)
	require.Len(t, m.Content.Events[2].Markets, 1)
	assert.False(t, m.Content.Events[2].Markets[0].IsTradable)

	added := makeEvents(7, 1)[0]
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.AddEvent{Event: added}}))
	m = recvGroup(t, f.stream)
	assert.Equal(t, []string{"E0", "E1", "E2", "E7"}, ids(m.Content.Events))

	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.RemoveEvent{EventID: "E1"}}))
	m = recvGroup(t, f.stream)
	assert.Equal(t, []string{"E0", "E2", "E7"}, ids(m.Content.Events))
	assert.False(t, f.p.ContainsOutcome("OE1"))

	// A partial resend does not drop absent events
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: makeEvents(2, 1)}}))
	m = recvGroup(t, f.stream)
	assert.Equal(t, []string{"E0", "E2", "E7"}, ids(m.Content.Events))

	err := f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.OutcomeOdds{OutcomeID: "missing", Odd: &odd}})
	assert.Error(t, err)
}

func TestPaginator_LiveDataUpdates(t *testing.T) {
	f := newFixture(t, 0)
	first := firstPage(t)

	_, err := f.p.SubscribeToEventLiveDataUpdates("E0")
	assert.ErrorIs(t, err, content.ErrResourceNotFound)

	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: makeEvents(0, 2)}}))
	recvGroup(t, f.stream)

	live, err := f.p.SubscribeToEventLiveDataUpdates("E0")
	require.NoError(t, err)
	defer live.Close()

	select {
	case e := <-live.C():
		assert.Equal(t, "E0", e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected current event")
	}

	home, away := 1, 0
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventScore{EventID: "E0", Home: &home, Away: &away}}))
	select {
	case e := <-live.C():
		require.NotNil(t, e.Score)
		assert.Equal(t, 1, e.Score.Home)
	case <-time.After(time.Second):
		t.Fatal("expected live update")
	}
}

func TestPaginator_TeardownReleasesPages(t *testing.T) {
	f := newFixture(t, 0)
	first := firstPage(t)
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: makeEvents(0, 10)}}))
	recvGroup(t, f.stream)

	ok, err := f.p.RequestNextPage(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	f.sub.Release()
	assert.Eventually(t, func() bool {
		return f.client.unsubCount() == 2
	}, time.Second, 10*time.Millisecond)

	ok, err = f.p.RequestNextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaginator_ReconnectReissuesPages(t *testing.T) {
	f := newFixture(t, 0)
	first := firstPage(t)
	require.NoError(t, f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: makeEvents(0, 10)}}))
	recvGroup(t, f.stream)

	ok, err := f.p.RequestNextPage(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.p.Reconnect(context.Background(), "tok-2"))
	second, _ := first.WithPage(1)
	assert.Equal(t, 2, f.client.subCount(first))
	assert.Equal(t, 2, f.client.subCount(second))

	err = f.p.Apply(content.Update{ID: first, Token: testToken, Delta: content.EventList{Events: makeEvents(0, 1)}})
	assert.Error(t, err)
}
