package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/data"
	"github.com/dgnsrekt/livefeed/internal/metrics"
	"github.com/dgnsrekt/livefeed/internal/provider"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/stream"
	"github.com/dgnsrekt/livefeed/internal/ws"
)

type nopClient struct{}

func (nopClient) Subscribe(context.Context, string, content.Identifier) error   { return nil }
func (nopClient) Unsubscribe(context.Context, string, content.Identifier) error { return nil }

type fakeConn struct {
	updates *stream.Hub[content.Update]
	states  *stream.Hub[ws.State]

	mu        sync.Mutex
	reconnect bool
}

func (c *fakeConn) Updates() *stream.Subscriber[content.Update] { return c.updates.Subscribe() }
func (c *fakeConn) States() *stream.Subscriber[ws.State]        { return c.states.Subscribe() }
func (c *fakeConn) State() ws.State {
	s, _ := c.states.Last()
	return s
}

func (c *fakeConn) RefreshConnection() {
	c.mu.Lock()
	reconnect := c.reconnect
	c.mu.Unlock()
	if !reconnect {
		return
	}
	go func() {
		c.states.Publish(ws.StateDisconnected)
		time.Sleep(10 * time.Millisecond)
		c.states.Publish(ws.StateConnected)
	}()
}

type testEnv struct {
	srv  *httptest.Server
	p    *provider.Provider
	conn *fakeConn
}

func newTestEnv(t *testing.T, refreshTimeout time.Duration) *testEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	store := session.NewStore(logger)
	store.Set("tok-1")
	m := metrics.New()
	reg := registry.New(nopClient{}, store, m, logger)

	conn := &fakeConn{
		updates:   stream.NewLosslessHub[content.Update]("updates", logger),
		states:    stream.NewHub[ws.State]("states", true, logger),
		reconnect: true,
	}
	conn.states.Publish(ws.StateConnected)

	p := provider.New(reg, store, conn, m, nil, provider.Options{}, logger)
	p.Init(context.Background())

	refresh := NewRefreshManager(conn, refreshTimeout, logger)
	srv := httptest.NewServer(NewRouter(NewServer(p, refresh, logger), m, logger))

	t.Cleanup(func() {
		srv.Close()
		p.Shutdown()
		store.Close()
	})
	return &testEnv{srv: srv, p: p, conn: conn}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, time.Second)
	status, body := get(t, env.srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, time.Second)
	sub, err := env.p.SubscribeMarketDetails(context.Background(), "M1")
	require.NoError(t, err)
	defer sub.Release()

	status, body := get(t, env.srv.URL+"/status")
	require.Equal(t, http.StatusOK, status)

	var st provider.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "connected", st.Connection)
	assert.Equal(t, "tok-****", st.Token)
	require.Len(t, st.Subscriptions, 1)
	assert.Equal(t, content.Market("M1"), st.Subscriptions[0].Identifier)
	require.Len(t, st.Coordinators, 1)
}

func TestGetEvent(t *testing.T) {
	env := newTestEnv(t, time.Second)

	status, _ := get(t, env.srv.URL+"/events/E1")
	assert.Equal(t, http.StatusNotFound, status)

	sub, err := env.p.SubscribeEventDetails(context.Background(), "E1")
	require.NoError(t, err)
	defer sub.Release()

	env.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-1",
		Delta: content.FullEvent{Event: &data.Event{ID: "E1", HomeName: "Lions"}},
	})

	require.Eventually(t, func() bool {
		status, _ := get(t, env.srv.URL+"/events/E1")
		return status == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	_, body := get(t, env.srv.URL+"/events/E1")
	assert.Contains(t, string(body), `"homeName":"Lions"`)
}

func TestGetSports_NotCached(t *testing.T) {
	env := newTestEnv(t, time.Second)
	status, _ := get(t, env.srv.URL+"/sports")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRefreshConnection(t *testing.T) {
	env := newTestEnv(t, time.Second)

	resp, err := http.Post(env.srv.URL+"/connection/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshConnection_Timeout(t *testing.T) {
	env := newTestEnv(t, 50*time.Millisecond)
	env.conn.mu.Lock()
	env.conn.reconnect = false
	env.conn.mu.Unlock()

	resp, err := http.Post(env.srv.URL+"/connection/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestRefreshManager_RejectsConcurrent(t *testing.T) {
	logger := zap.NewNop()
	conn := &fakeConn{
		updates: stream.NewHub[content.Update]("updates", false, logger),
		states:  stream.NewHub[ws.State]("states", true, logger),
	}
	rm := NewRefreshManager(conn, 200*time.Millisecond, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rm.Refresh(context.Background())
	}()
	require.Eventually(t, rm.IsRefreshing, time.Second, 5*time.Millisecond)

	_, err := rm.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInProgress)
	<-done
}

func TestStreamEvent(t *testing.T) {
	env := newTestEnv(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/stream/events/E1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, payload string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				payload = strings.TrimPrefix(line, "data: ")
			case line == "":
				return name, payload
			}
		}
	}

	name, _ := readEvent()
	assert.Equal(t, "connected", name)

	env.conn.updates.Publish(content.Update{
		ID:    content.EventDetails("E1"),
		Token: "tok-1",
		Delta: content.FullEvent{Event: &data.Event{ID: "E1", AwayName: "Tigers"}},
	})

	name, payload := readEvent()
	assert.Equal(t, "contentUpdate", name)
	assert.Contains(t, payload, `"awayName":"Tigers"`)

	// A socket blip keeps the stream open.
	env.conn.states.Publish(ws.StateDisconnected)
	name, _ = readEvent()
	assert.Equal(t, "disconnected", name)

	env.conn.states.Publish(ws.StateConnected)
	name, payload = readEvent()
	assert.Equal(t, "connected", name)
	assert.Contains(t, payload, `"subscription"`)
	name, payload = readEvent()
	assert.Equal(t, "contentUpdate", name)
	assert.Contains(t, payload, `"awayName":"Tigers"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Second)
	status, body := get(t, env.srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "livefeed_socket_connected")
}

func TestMaskQueryToken(t *testing.T) {
	assert.Equal(t, "", maskQueryToken(""))
	assert.Equal(t, "token=abcd****", maskQueryToken("token=abcdefgh"))
	assert.Equal(t, "token=****", maskQueryToken("token=ab"))
	assert.Equal(t, "a=1&token=abcd****&z=2", maskQueryToken("z=2&token=abcdefgh&a=1"))
}
