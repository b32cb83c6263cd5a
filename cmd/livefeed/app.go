package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/api"
	"github.com/dgnsrekt/livefeed/internal/config"
	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/metrics"
	"github.com/dgnsrekt/livefeed/internal/mirror"
	"github.com/dgnsrekt/livefeed/internal/provider"
	"github.com/dgnsrekt/livefeed/internal/registry"
	"github.com/dgnsrekt/livefeed/internal/session"
	"github.com/dgnsrekt/livefeed/internal/ws"
)

// app is the wired sync layer shared by every command.
type app struct {
	metrics   *metrics.Metrics
	tokens    *session.Store
	registry  *registry.Registry
	connector *ws.Connector
	provider  *provider.Provider
	mirror    *mirror.RedisMirror
	logger    *zap.Logger
}

// newApp builds the stack from cfg, starts the provider and opens the
// socket. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		metrics: metrics.New(),
		tokens:  session.NewStore(logger),
		logger:  logger,
	}

	client := api.NewClient(cfg.Backend.RestURL, api.Options{
		Language:      cfg.Backend.Language,
		IPAddress:     cfg.Backend.IPAddress,
		RatePerSecond: cfg.Backend.RatePerSecond,
		Timeout:       cfg.Backend.Timeout(),
		RetryCount:    cfg.Backend.RetryCount,
		RetryDelay:    cfg.Backend.RetryDelay(),
	}, logger)
	a.registry = registry.New(client, a.tokens, a.metrics, logger)

	connector, err := ws.NewConnector(ws.Options{
		URL:              cfg.Backend.SocketURL,
		HandshakeTimeout: cfg.Socket.HandshakeTimeout(),
		ReconnectMin:     cfg.Socket.ReconnectMin(),
		ReconnectMax:     cfg.Socket.ReconnectMax(),
		Compression:      ws.Compression(cfg.Socket.Compression),
	}, a.tokens, a.metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("creating connector: %w", err)
	}
	a.connector = connector

	// A nil *RedisMirror must not reach the provider as a non-nil interface.
	var snapshots provider.Mirror
	if cfg.Mirror.Enabled {
		rdb, err := mirror.Connect(ctx, cfg.Mirror.RedisAddr)
		if err != nil {
			connector.Close()
			return nil, fmt.Errorf("connecting mirror: %w", err)
		}
		a.mirror = mirror.New(rdb, cfg.Mirror.Stream, cfg.Mirror.MaxLen, logger)
		snapshots = a.mirror
		logger.Info("snapshot mirror enabled",
			zap.String("addr", cfg.Mirror.RedisAddr),
			zap.String("stream", cfg.Mirror.Stream),
		)
	}

	a.provider = provider.New(a.registry, a.tokens, connector, a.metrics, snapshots, provider.Options{
		EventsPerPage: cfg.Pagination.EventsPerPage,
		Workers:       cfg.Provider.Workers,
	}, logger)
	a.provider.Init(ctx)

	if err := connector.Connect(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("connecting socket: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	a.provider.Shutdown()
	a.connector.Close()
	a.tokens.Close()
	if a.mirror != nil {
		a.mirror.Close()
	}
}

// waitForSession blocks until the socket has announced a session token.
func (a *app) waitForSession(ctx context.Context, timeout time.Duration) error {
	if _, ok := a.tokens.Current(); ok {
		return nil
	}

	sub := a.tokens.Subscribe()
	defer sub.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case tok, ok := <-sub.C():
			if !ok {
				return content.ErrUserSessionNotFound
			}
			if !tok.IsZero() {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no session after %s: %w", timeout, content.ErrUserSessionNotFound)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
