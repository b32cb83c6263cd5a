package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/stream"
	"github.com/dgnsrekt/livefeed/internal/ws"
)

var (
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrRefreshTimeout    = errors.New("connection not re-established in time")
)

// Reconnector is the connector surface a refresh needs.
type Reconnector interface {
	RefreshConnection()
	States() *stream.Subscriber[ws.State]
}

// RefreshManager serializes forced reconnects. Only one runs at a time;
// concurrent requests fail fast.
type RefreshManager struct {
	conn    Reconnector
	timeout time.Duration
	logger  *zap.Logger

	isRefreshing atomic.Bool
	refreshMu    sync.Mutex

	lastRefresh time.Time
	stateMu     sync.RWMutex
}

func NewRefreshManager(conn Reconnector, timeout time.Duration, logger *zap.Logger) *RefreshManager {
	return &RefreshManager{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
	}
}

// IsRefreshing returns true while a refresh is running.
func (rm *RefreshManager) IsRefreshing() bool {
	return rm.isRefreshing.Load()
}

// LastRefresh returns when the last successful refresh completed.
func (rm *RefreshManager) LastRefresh() time.Time {
	rm.stateMu.RLock()
	defer rm.stateMu.RUnlock()
	return rm.lastRefresh
}

// RefreshResult describes one completed refresh.
type RefreshResult struct {
	RequestedAt   time.Time     `json:"requestedAt"`
	ReconnectedAt time.Time     `json:"reconnectedAt"`
	Took          time.Duration `json:"took"`
}

// Refresh drops the current socket and waits until the connector reports a
// new session.
func (rm *RefreshManager) Refresh(ctx context.Context) (*RefreshResult, error) {
	if !rm.refreshMu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer rm.refreshMu.Unlock()

	rm.isRefreshing.Store(true)
	defer rm.isRefreshing.Store(false)

	states := rm.conn.States()
	defer states.Close()

	requested := time.Now()
	rm.logger.Info("refreshing connection")
	rm.conn.RefreshConnection()

	ctx, cancel := context.WithTimeout(ctx, rm.timeout)
	defer cancel()

	dropped := false
	for {
		select {
		case <-ctx.Done():
			rm.logger.Warn("connection refresh timed out", zap.Duration("timeout", rm.timeout))
			return nil, ErrRefreshTimeout
		case s, ok := <-states.C():
			if !ok {
				return nil, ErrRefreshTimeout
			}
			if s == ws.StateDisconnected {
				dropped = true
				continue
			}
			if !dropped {
				continue
			}

			now := time.Now()
			rm.stateMu.Lock()
			rm.lastRefresh = now
			rm.stateMu.Unlock()

			rm.logger.Info("connection refreshed", zap.Duration("took", now.Sub(requested)))
			return &RefreshResult{
				RequestedAt:   requested,
				ReconnectedAt: now,
				Took:          now.Sub(requested),
			}, nil
		}
	}
}
