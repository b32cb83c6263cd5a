package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier sends connection alerts.
type Notifier interface {
	SendDisconnected(ctx context.Context, downFor time.Duration, subscriptions int) error
	SendRecovered(ctx context.Context, downFor time.Duration, subscriptions int) error
}

// Client posts alerts to an ntfy topic.
type Client struct {
	httpClient *http.Client
	config     *Config
	topicURL   string
	logger     *zap.Logger
}

func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		topicURL:   strings.TrimSuffix(cfg.Server, "/") + "/" + cfg.Topic,
		logger:     logger.With(zap.String("topic", cfg.Topic)),
	}
}

func (c *Client) SendDisconnected(ctx context.Context, downFor time.Duration, subscriptions int) error {
	return c.Send(ctx, DisconnectAlert(c.config, downFor, subscriptions))
}

func (c *Client) SendRecovered(ctx context.Context, downFor time.Duration, subscriptions int) error {
	return c.Send(ctx, RecoveredAlert(c.config, downFor, subscriptions))
}

// Send posts the alert to the configured topic. It is a no-op when
// notifications are disabled.
func (c *Client) Send(ctx context.Context, a Alert) error {
	if !c.config.Enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL, strings.NewReader(a.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", a.Title)
	req.Header.Set("Priority", a.Priority)
	req.Header.Set("Tags", strings.Join(a.Tags, ","))
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("alert not delivered", zap.String("title", a.Title), zap.Error(err))
		return fmt.Errorf("sending alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("alert rejected", zap.String("title", a.Title), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("alert rejected with status %d", resp.StatusCode)
	}

	c.logger.Debug("alert sent", zap.String("title", a.Title))
	return nil
}

// NoopNotifier drops every alert.
type NoopNotifier struct{}

func (NoopNotifier) SendDisconnected(context.Context, time.Duration, int) error { return nil }
func (NoopNotifier) SendRecovered(context.Context, time.Duration, int) error    { return nil }

// New returns a Client when cfg is enabled and a NoopNotifier otherwise.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
