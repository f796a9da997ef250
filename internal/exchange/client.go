package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// budgetSafetyFactor keeps the effective request budget below the
// exchange's advertised limits.
const budgetSafetyFactor = 0.9

// CandleCache fronts kline fetches with a short TTL. Implementations log
// and swallow their own errors; a miss just falls through to HTTP.
type CandleCache interface {
	GetCandles(ctx context.Context, symbol, interval string) ([]*models.Candle, bool)
	SetCandles(ctx context.Context, symbol, interval string, candles []*models.Candle)
}

// Client is the rate-limited REST market data client
type Client struct {
	cfg    *config.ExchangeConfig
	http   *http.Client
	logger *logrus.Entry
	cache  CandleCache

	perSec *rate.Limiter
	perMin *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewClient creates a new market data client. cache may be nil.
func NewClient(cfg *config.ExchangeConfig, cache CandleCache, logger *logrus.Logger) *Client {
	rps := float64(cfg.RequestsPerSecond) * budgetSafetyFactor
	rpm := float64(cfg.RequestsPerMinute) * budgetSafetyFactor / 60.0

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger.WithField("component", "exchange-client"),
		cache:  cache,
		perSec: rate.NewLimiter(rate.Limit(rps), cfg.RequestsPerSecond),
		perMin: rate.NewLimiter(rate.Limit(rpm), cfg.RequestsPerSecond),
	}
}

// FetchTickers fetches the bulk 24hr ticker and filters it to the
// configured quote currencies and minimum quote volume.
func (c *Client) FetchTickers(ctx context.Context) ([]*Ticker24h, error) {
	body, err := c.doRequest(ctx, "/api/v3/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	var all []*Ticker24h
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("failed to decode ticker response: %w", ErrExchangeUnavailable)
	}

	filtered := make([]*Ticker24h, 0, len(all))
	for _, t := range all {
		if _, ok := t.QuoteCurrency(c.cfg.QuoteCurrencies); !ok {
			continue
		}
		if t.QuoteVolume < c.cfg.MinQuoteVolume {
			continue
		}
		filtered = append(filtered, t)
	}

	c.logger.WithFields(logrus.Fields{
		"total":    len(all),
		"filtered": len(filtered),
	}).Debug("Fetched 24hr tickers")

	return filtered, nil
}

// FetchCandles fetches klines for one symbol, serving from the cache when
// fresh enough.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	if c.cache != nil {
		if candles, ok := c.cache.GetCandles(ctx, symbol, interval); ok && len(candles) >= limit {
			return candles, nil
		}
	}

	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", interval)
	params.Add("limit", strconv.Itoa(limit))

	body, err := c.doRequest(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines for %s: %w", symbol, ErrExchangeUnavailable)
	}

	candles := parseKlines(raw)

	if c.cache != nil {
		c.cache.SetCandles(ctx, symbol, interval, candles)
	}

	return candles, nil
}

// Ping checks exchange reachability
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, "/api/v3/ping", nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.waitForBudget(ctx); err != nil {
		return nil, err
	}

	fullURL := c.cfg.APIURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v: %w", err, ErrExchangeUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.pause(retryAfter)
		c.logger.WithFields(logrus.Fields{
			"status":      resp.StatusCode,
			"retry_after": retryAfter,
		}).Warn("Exchange rate limit hit, backing off")
		return nil, &RateLimitError{RetryAfter: retryAfter, Status: resp.StatusCode}
	default:
		body, _ := io.ReadAll(resp.Body)
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"path":   path,
			"body":   truncate(string(body), 200),
		}).Warn("Exchange request failed")
		return nil, fmt.Errorf("status %d on %s: %w", resp.StatusCode, path, ErrExchangeUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v: %w", err, ErrExchangeUnavailable)
	}

	return body, nil
}

// waitForBudget blocks until both limiters admit a request and any
// exchange-imposed pause has elapsed.
func (c *Client) waitForBudget(ctx context.Context) error {
	c.mu.Lock()
	pausedUntil := c.pausedUntil
	c.mu.Unlock()

	if wait := time.Until(pausedUntil); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.perMin.Wait(ctx); err != nil {
		return err
	}
	return c.perSec.Wait(ctx)
}

func (c *Client) pause(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}

func parseRetryAfter(header string) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
