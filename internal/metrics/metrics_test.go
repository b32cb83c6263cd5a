package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.UpdateReceived("bettingOfferUpdate")
	m.UpdateReceived("bettingOfferUpdate")
	m.DeltaDropped("stale_token")
	m.SetActiveSubscriptions(3)
	m.SetConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.updatesReceived.WithLabelValues("bettingOfferUpdate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deltasDropped.WithLabelValues("stale_token")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSubscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.UpdateReceived("x")
	m.SubscribeCall("ok")
	m.SetConnected(false)
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.Reconnect()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "livefeed_socket_reconnects_total 1"))
}
