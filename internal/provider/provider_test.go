package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/metrics"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/stream"
	"github.com/dgnsrekt/livefeed/internal/ws"
)

type call struct {
	token string
	id    content.Identifier
}

type fakeClient struct {
	mu     sync.Mutex
	delay  time.Duration
	subs   []call
	unsubs []call
}

func (c *fakeClient) Subscribe(ctx context.Context, token string, id content.Identifier) error {
	c.mu.Lock()
	c.subs = append(c.subs, call{token, id})
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *fakeClient) Unsubscribe(ctx context.Context, token string, id content.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs, call{token, id})
	return nil
}

func (c *fakeClient) count(calls func(*fakeClient) []call, id content.Identifier, token string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, cl := range calls(c) {
		if cl.id == id && (token == "" || cl.token == token) {
			n++
		}
	}
	return n
}

func subsOf(c *fakeClient) []call   { return c.subs }
func unsubsOf(c *fakeClient) []call { return c.unsubs }

type fakeConn struct {
	updates   *stream.Hub[content.Update]
	states    *stream.Hub[ws.State]
	refreshes int
	mu        sync.Mutex
}

func newFakeConn() *fakeConn {
	logger := zap.NewNop()
	c := &fakeConn{
		updates: stream.NewLosslessHub[content.Update]("updates", logger),
		states:  stream.NewHub[ws.State]("states", true, logger),
	}
	c.states.Publish(ws.StateConnected)
	return c
}

func (c *fakeConn) Updates() *stream.Subscriber[content.Update] { return c.updates.Subscribe() }
func (c *fakeConn) States() *stream.Subscriber[ws.State]        { return c.states.Subscribe() }
func (c *fakeConn) State() ws.State                             { return ws.StateConnected }

func (c *fakeConn) RefreshConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *fakeMirror) Publish(kind, key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, kind+":"+key)
}

func (m *fakeMirror) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

type harness struct {
	p      *Provider
	client *fakeClient
	conn   *fakeConn
	store  *session.Store
	mirror *fakeMirror
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store := session.NewStore(logger)
	store.Set("tok-1")

	client := &fakeClient{}
	m := metrics.New()
	reg := registry.New(client, store, m, logger)
	conn := newFakeConn()
	mirror := &fakeMirror{}

	p := New(reg, store, conn, m, mirror, Options{EventsPerPage: 2, Workers: 2}, logger)
	p.Init(context.Background())
	t.Cleanup(func() {
		p.Shutdown()
		store.Close()
	})
	return &harness{p: p, client: client, conn: conn, store: store, mirror: mirror}
}

func recv[T any](t *testing.T, s *Stream[T]) content.Message[T] {
	t.Helper()
	select {
	case m, ok := <-s.C():
		require.True(t, ok, "stream closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return content.Message[T]{}
}

func sampleEvent(id string) *data.Event {
	odd := decimal.RequireFromString("2.5")
	return &data.Event{
		ID:       id,
		HomeName: "Lions",
		AwayName: "Tigers",
		Markets: []*data.Market{{
			ID: "M-" + id, EventID: id, IsTradable: true,
			Outcomes: []*data.Outcome{{
				ID: "O-" + id, MarketID: "M-" + id,
				Offer: data.BettingOffer{Odd: odd, IsAvailable: true},
			}},
		}},
	}
}

func TestSubscribeEventDetails_Dedup(t *testing.T) {
	h := newHarness(t)
	h.client.delay = 50 * time.Millisecond
	id := content.EventDetails("E1")

	const callers = 10
	streams := make([]*Stream[*data.Event], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.p.SubscribeEventDetails(context.Background(), "E1")
			assert.NoError(t, err)
			streams[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range streams {
		require.NotNil(t, s)
	}

	assert.Equal(t, 1, h.client.count(subsOf, id, ""))
	for _, s := range streams {
		assert.Equal(t, content.StateConnected, recv(t, s).State)
	}
	require.Len(t, h.p.Status().Coordinators, 1)

	for _, s := range streams {
		s.Release()
	}
	require.Eventually(t, func() bool {
		return h.client.count(unsubsOf, id, "") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, h.p.Status().Coordinators)

	// A later subscribe starts over.
	s, err := h.p.SubscribeEventDetails(context.Background(), "E1")
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, 2, h.client.count(subsOf, id, ""))
}

func TestRouting_ByIdentifierAndContains(t *testing.T) {
	h := newHarness(t)
	s, err := h.p.SubscribeEventDetails(context.Background(), "E1")
	require.NoError(t, err)
	defer s.Release()
	recv(t, s)

	h.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-1",
		Delta: content.FullEvent{Event: sampleEvent("E1")},
	})
	m := recv(t, s)
	require.Equal(t, content.StateContentUpdate, m.State)

	// Delivered on an identifier nobody owns; routed by outcome ownership.
	odd := decimal.RequireFromString("1.85")
	h.conn.updates.Publish(content.Update{
		ID:    content.EventSummary("E1"),
		Token: "tok-1",
		Delta: content.OutcomeOdds{OutcomeID: "O-E1", Odd: &odd},
	})
	m = recv(t, s)
	require.Equal(t, content.StateContentUpdate, m.State)
	assert.True(t, m.Content.Markets[0].Outcomes[0].Offer.Odd.Equal(odd))

	snap, ok := h.p.EventSnapshot("E1")
	require.True(t, ok)
	assert.True(t, snap.Markets[0].Outcomes[0].Offer.Odd.Equal(odd))

	assert.Contains(t, h.mirror.published(), "event:E1")
}

func TestTokenRotation(t *testing.T) {
	h := newHarness(t)
	s, err := h.p.SubscribeEventDetails(context.Background(), "E1")
	require.NoError(t, err)
	defer s.Release()
	recv(t, s)

	h.store.Set("tok-2")
	require.Eventually(t, func() bool {
		return h.client.count(subsOf, content.EventDetails("E1"), "tok-2") == 1
	}, time.Second, 10*time.Millisecond)

	// Old-token deltas are ignored.
	h.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-1",
		Delta: content.FullEvent{Event: sampleEvent("E1")},
	})
	h.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-2",
		Delta: content.FullEvent{Event: sampleEvent("E1")},
	})
	m := recv(t, s)
	require.Equal(t, content.StateContentUpdate, m.State)

	select {
	case extra := <-s.C():
		t.Fatalf("unexpected message %s", extra.State)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPreLiveMatches_NextPage(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2022, 10, 21, 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Minute)

	s, err := h.p.SubscribePreLiveMatches(context.Background(), "fbl", start, end, content.SortByTime)
	require.NoError(t, err)
	defer s.Release()
	recv(t, s)

	first, err := content.PreLiveEvents("FBL", start, end, 0, 2, content.SortByTime)
	require.NoError(t, err)
	h.conn.updates.Publish(content.Update{
		ID:    first,
		Token: "tok-1",
		Delta: content.EventList{Events: []*data.Event{sampleEvent("E1"), sampleEvent("E2")}},
	})
	m := recv(t, s)
	require.Len(t, m.Content.Events, 2)

	ok, err := h.p.RequestNextPage(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, ok)

	second, _ := first.WithPage(1)
	assert.Equal(t, 1, h.client.count(subsOf, second, ""))

	h.conn.updates.Publish(content.Update{
		ID:    second,
		Token: "tok-1",
		Delta: content.EventList{Events: []*data.Event{sampleEvent("E3")}},
	})
	m = recv(t, s)
	require.Len(t, m.Content.Events, 3)
	assert.Equal(t, "E3", m.Content.Events[2].ID)

	live, err := h.p.SubscribeToEventOnListsLiveDataUpdates("E3")
	require.NoError(t, err)
	defer live.Close()
	select {
	case e := <-live.C():
		assert.Equal(t, "E3", e.ID)
	case <-time.After(time.Second):
		t.Fatal("no live data")
	}

	assert.Contains(t, h.mirror.published(), "list:"+first.Pageable().String())
}

func TestRequestNextPage_Unknown(t *testing.T) {
	h := newHarness(t)
	id, err := content.LiveEvents("TEN", 0)
	require.NoError(t, err)

	_, err = h.p.RequestNextPage(context.Background(), id)
	assert.ErrorIs(t, err, content.ErrSubscriptionNotFound)

	_, err = h.p.SubscribeToEventOnListsLiveDataUpdates("E1")
	assert.ErrorIs(t, err, content.ErrSubscriptionNotFound)
}

func TestSubscribeCompetitionMatches_NotSupported(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.SubscribeCompetitionMatches(context.Background(), "G1")
	assert.ErrorIs(t, err, content.ErrNotSupportedForProvider)
}

func TestSubscribeSports(t *testing.T) {
	h := newHarness(t)
	s, err := h.p.SubscribeSports(context.Background())
	require.NoError(t, err)
	defer s.Release()
	recv(t, s)

	h.conn.updates.Publish(content.Update{
		ID:    content.LiveSports(),
		Token: "tok-1",
		Delta: content.SportList{Sports: []data.Sport{{Name: "Football", LiveEventsCount: 2}}},
	})
	m := recv(t, s)
	require.Len(t, m.Content, 1)
	assert.Equal(t, 2, m.Content[0].LiveEventsCount)

	got, ok := h.p.SportsSnapshot()
	require.True(t, ok)
	assert.Equal(t, "Football", got[0].Name)
}

func TestSubscribe_NoSession(t *testing.T) {
	h := newHarness(t)
	h.store.Clear()

	_, err := h.p.SubscribeMarketDetails(context.Background(), "M1")
	assert.ErrorIs(t, err, content.ErrUserSessionNotFound)
	assert.Empty(t, h.p.Status().Coordinators)
}

func TestShutdown_DisconnectsConsumers(t *testing.T) {
	h := newHarness(t)
	s, err := h.p.SubscribeEventMarkets(context.Background(), "E1")
	require.NoError(t, err)
	recv(t, s)

	h.p.Shutdown()
	m := recv(t, s)
	assert.Equal(t, content.StateDisconnected, m.State)
	assert.Equal(t, 1, h.client.count(unsubsOf, content.EventMarkets("E1"), ""))
}

func TestConnectionLossMarksStreamsStale(t *testing.T) {
	h := newHarness(t)
	s, err := h.p.SubscribeEventDetails(context.Background(), "E1")
	require.NoError(t, err)
	defer s.Release()
	require.Equal(t, content.StateConnected, recv(t, s).State)

	h.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-1",
		Delta: content.FullEvent{Event: sampleEvent("E1")},
	})
	require.Equal(t, content.StateContentUpdate, recv(t, s).State)

	h.conn.states.Publish(ws.StateDisconnected)
	m := recv(t, s)
	assert.Equal(t, content.StateDisconnected, m.State)
	owners := h.p.Status().Coordinators
	require.Len(t, owners, 1)
	assert.True(t, owners[0].Stale)

	h.conn.states.Publish(ws.StateConnected)
	m = recv(t, s)
	require.Equal(t, content.StateConnected, m.State)
	assert.Equal(t, s.ID(), m.Subscription.ID())
	m = recv(t, s)
	require.Equal(t, content.StateContentUpdate, m.State)
	assert.Equal(t, "E1", m.Content.ID)
	assert.False(t, h.p.Status().Coordinators[0].Stale)

	// The stream keeps flowing after recovery.
	odd := decimal.RequireFromString("3.1")
	h.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-1",
		Delta: content.OutcomeOdds{OutcomeID: "O-E1", Odd: &odd},
	})
	m = recv(t, s)
	require.Equal(t, content.StateContentUpdate, m.State)
	assert.True(t, m.Content.Markets[0].Outcomes[0].Offer.Odd.Equal(odd))
}

func TestRefreshConnection(t *testing.T) {
	h := newHarness(t)
	h.p.RefreshConnection()
	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	assert.Equal(t, 1, h.conn.refreshes)
}
