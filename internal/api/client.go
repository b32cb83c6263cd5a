package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/session"
)

const (
	subscribePath   = "/services/content/subscribe"
	unsubscribePath = "/services/content/unsubscribe"
)

// Client interface for testability
type Client interface {
	Subscribe(ctx context.Context, token string, id content.Identifier) error
	Unsubscribe(ctx context.Context, token string, id content.Identifier) error
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	language   string
	ipAddress  string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Options configures an HTTPClient.
type Options struct {
	Language      string
	IPAddress     string
	RatePerSecond int
	Timeout       time.Duration
	RetryCount    int
	RetryDelay    time.Duration
}

type clientContext struct {
	Language  string `json:"language"`
	IPAddress string `json:"ipAddress"`
}

type subscriptionRequest struct {
	SubscriberID  string             `json:"subscriberId"`
	ContentID     content.Identifier `json:"contentId"`
	ClientContext clientContext      `json:"clientContext"`
}

func NewClient(baseURL string, opts Options, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	ratePerSec := opts.RatePerSecond
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   opts.Language,
		ipAddress:  opts.IPAddress,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		logger:     logger,
	}
}

// Subscribe asks the backend to start pushing changes for id to the socket
// session identified by token.
func (c *HTTPClient) Subscribe(ctx context.Context, token string, id content.Identifier) error {
	return c.post(ctx, subscribePath, token, id)
}

// Unsubscribe asks the backend to stop pushing changes for id.
func (c *HTTPClient) Unsubscribe(ctx context.Context, token string, id content.Identifier) error {
	return c.post(ctx, unsubscribePath, token, id)
}

func (c *HTTPClient) post(ctx context.Context, path, token string, id content.Identifier) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(subscriptionRequest{
		SubscriberID:  token,
		ContentID:     id,
		ClientContext: clientContext{Language: c.language, IPAddress: c.ipAddress},
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	url := c.baseURL + path
	c.logger.Debug("requesting",
		zap.String("url", url),
		zap.String("content", id.String()),
		zap.String("token", session.MaskToken(token)),
	)

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusGone:
			return ErrGone
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
