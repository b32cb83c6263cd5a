package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/metrics"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	// Upper bound on a decompressed frame.
	maxFrameSize = 8 * maxMessageSize
)

// ErrConnectorClosed is returned by Connect after Close.
var ErrConnectorClosed = errors.New("connector closed")

// State is the connection state observed by coordinators.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Options configures a Connector.
type Options struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	Compression      Compression
}

// Connector owns the single socket session. It reconnects with backoff,
// records the session token announced by the backend and republishes
// decoded content updates tagged with that token.
type Connector struct {
	opts    Options
	dialer  *websocket.Dialer
	decoder *FrameDecoder
	tokens  *session.Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	states  *stream.Hub[State]
	updates *stream.Hub[content.Update]

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConnector creates a Connector. m may be nil.
func NewConnector(opts Options, tokens *session.Store, m *metrics.Metrics, logger *zap.Logger) (*Connector, error) {
	decoder, err := NewFrameDecoder(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = opts.ReconnectMin
	}

	states := stream.NewHub[State]("connection", true, logger)
	states.Publish(StateDisconnected)

	return &Connector{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		decoder: decoder,
		tokens:  tokens,
		metrics: m,
		logger:  logger,
		states:  states,
		updates: stream.NewLosslessHub[content.Update]("updates", logger),
	}, nil
}

// Connect starts the connection loop. Calling it while already running is
// a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectorClosed
	}
	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
	return nil
}

// RefreshConnection drops the current socket so the loop reconnects.
// Subscription intent is kept by the owners of the subscriptions.
func (c *Connector) RefreshConnection() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.logger.Info("refreshing connection")
		_ = conn.Close()
	}
}

// States streams connection state changes, starting with the current one.
func (c *Connector) States() *stream.Subscriber[State] {
	return c.states.Subscribe()
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Updates streams decoded content updates.
func (c *Connector) Updates() *stream.Subscriber[content.Update] {
	return c.updates.Subscribe()
}

// Close stops the loop and closes all streams.
func (c *Connector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	c.states.Close()
	c.updates.Close()
	c.decoder.Close()
}

func (c *Connector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	limiter := rate.NewLimiter(rate.Every(c.opts.ReconnectMin), 1)
	attempt := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := c.backoff(attempt)
			c.metrics.Reconnect()
			c.logger.Warn("socket dial failed",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.logger.Info("socket connected", zap.String("url", c.opts.URL))
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		c.metrics.Reconnect()
		c.logger.Info("socket disconnected, reconnecting")
	}
}

func (c *Connector) backoff(attempt int) time.Duration {
	delay := c.opts.ReconnectMin * time.Duration(1<<min(attempt-1, 16)) // Exponential backoff
	if delay > c.opts.ReconnectMax {
		delay = c.opts.ReconnectMax
	}
	return delay
}

// serve reads frames until the connection fails or ctx is cancelled.
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(conn, stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var token string
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("socket read error", zap.Error(err))
			}
			_ = conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := c.decoder.Decode(msgType, payload)
		if err != nil {
			c.logger.Warn("failed to decode frame", zap.Error(err))
			continue
		}
		c.handleFrame(frame, &token)
	}
}

func (c *Connector) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// handleFrame processes one notification. token is the session token of
// the connection the frame arrived on.
func (c *Connector) handleFrame(frame []byte, token *string) {
	msg, err := parseNotification(frame)
	if err != nil {
		c.logger.Debug("failed to parse notification", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case *listeningStarted:
		*token = m.token
		c.tokens.Set(m.token)
		c.setState(StateConnected)

	case *contentChanges:
		now := time.Now()
		for _, raw := range m.containers {
			id, delta, err := content.DecodeContainer(raw)
			if err != nil {
				c.metrics.DeltaDropped("malformed")
				c.logger.Debug("skipping content container", zap.Error(err))
				continue
			}
			c.metrics.UpdateReceived(string(delta.Kind()))
			c.updates.Publish(content.Update{
				ID:       id,
				Token:    *token,
				Delta:    delta,
				Received: now,
			})
		}

	case *ignoredNotification:
		c.logger.Debug("ignoring notification", zap.String("type", m.kind))
	}
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if !changed {
		return
	}
	c.metrics.SetConnected(s == StateConnected)
	c.logger.Info("connection state changed", zap.Stringer("state", s))
	c.states.Publish(s)
}
