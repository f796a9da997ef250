package metrics

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/exchange"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

type fakeMarketData struct {
	mu          sync.Mutex
	tickers     []*exchange.Ticker24h
	candles     map[string][]*models.Candle
	tickerErr   error
	candleCalls map[string]int
}

func (f *fakeMarketData) FetchTickers(ctx context.Context) ([]*exchange.Ticker24h, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	return f.tickers, nil
}

func (f *fakeMarketData) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candleCalls == nil {
		f.candleCalls = make(map[string]int)
	}
	f.candleCalls[symbol]++
	candles, ok := f.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	return candles, nil
}

func (f *fakeMarketData) calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candleCalls[symbol]
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testTicker(symbol string, last, change, quoteVolume float64) *exchange.Ticker24h {
	return &exchange.Ticker24h{
		Symbol:             symbol,
		LastPrice:          last,
		BidPrice:           last * 0.999,
		AskPrice:           last * 1.001,
		HighPrice:          last * 1.05,
		LowPrice:           last * 0.95,
		Volume:             quoteVolume / last,
		QuoteVolume:        quoteVolume,
		PriceChangePercent: change,
		TradeCount:         1000,
	}
}

// steadyCandles builds n 1m candles ending at lastClose with a constant
// per-candle increment.
func steadyCandles(n int, lastClose, step float64) []*models.Candle {
	candles := make([]*models.Candle, n)
	now := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < n; i++ {
		c := lastClose - float64(n-1-i)*step
		candles[i] = &models.Candle{
			OpenTime:     now.Add(time.Duration(i-n) * time.Minute),
			Open:         c - step,
			High:         c + step/2,
			Low:          c - step,
			Close:        c,
			Volume:       10,
			QuoteVolume:  10 * c,
			TakerBuyBase: 6,
		}
	}
	return candles
}

func newTestCalculator(client MarketData, table *Table) *Calculator {
	cfg := &config.MetricsConfig{
		TickerInterval: time.Hour,
		CandleInterval: time.Hour,
		Workers:        2,
		CandleSymbols:  1,
	}
	return NewCalculator(cfg, []string{"USDT", "USDC"}, client, table, nil, nil, testLogger())
}

func TestCycleExactAndEstimatedProvenance(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{
			testTicker("BTCUSDT", 50000, 2.5, 1e9),
			testTicker("ETHUSDT", 3000, -1.0, 5e8),
		},
		candles: map[string][]*models.Candle{
			"BTCUSDT": steadyCandles(240, 50000, 10),
		},
	}

	table := NewTable()
	calc := newTestCalculator(client, table)

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	btc, ok := table.Get("BTCUSDT")
	if !ok {
		t.Fatal("Expected BTCUSDT row")
	}
	if btc.Estimated {
		t.Error("Expected BTCUSDT to be exact with full candle coverage")
	}
	for _, h := range models.MetricHorizons {
		if btc.Horizons[h] == nil {
			t.Errorf("Expected horizon %dm to be present", h)
		}
	}
	for _, tf := range models.RSITimeframes {
		if _, ok := btc.RSI[tf]; !ok {
			t.Errorf("Expected RSI timeframe %dm to be present", tf)
		}
	}

	eth, ok := table.Get("ETHUSDT")
	if !ok {
		t.Fatal("Expected ETHUSDT row")
	}
	if !eth.Estimated {
		t.Error("Expected ETHUSDT to be estimated without candle data")
	}
	if eth.QuoteCurrency != "USDT" {
		t.Errorf("Expected quote currency USDT, got %s", eth.QuoteCurrency)
	}
}

func TestCycleCandleFetchOnlyForTopSymbols(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{
			testTicker("BTCUSDT", 50000, 2.5, 1e9),
			testTicker("ETHUSDT", 3000, -1.0, 5e8),
		},
		candles: map[string][]*models.Candle{
			"BTCUSDT": steadyCandles(240, 50000, 10),
			"ETHUSDT": steadyCandles(240, 3000, 1),
		},
	}

	table := NewTable()
	calc := newTestCalculator(client, table) // CandleSymbols: 1

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if client.calls("BTCUSDT") != 1 {
		t.Errorf("Expected one candle fetch for the top symbol, got %d", client.calls("BTCUSDT"))
	}
	if client.calls("ETHUSDT") != 0 {
		t.Errorf("Expected no candle fetch below the cutoff, got %d", client.calls("ETHUSDT"))
	}
}

func TestCycleRateLimitedKeepsTable(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{testTicker("BTCUSDT", 50000, 2.5, 1e9)},
	}

	table := NewTable()
	calc := newTestCalculator(client, table)

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	client.mu.Lock()
	client.tickerErr = &exchange.RateLimitError{RetryAfter: time.Second, Status: 429}
	client.mu.Unlock()

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Errorf("Expected rate limited cycle to be skipped without error, got %v", err)
	}
	if _, ok := table.Get("BTCUSDT"); !ok {
		t.Error("Expected previous rows to survive a rate limited cycle")
	}
}

func TestCyclePrunesDelistedSymbols(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{
			testTicker("BTCUSDT", 50000, 2.5, 1e9),
			testTicker("DOGEUSDT", 0.1, 5.0, 1e7),
		},
	}

	table := NewTable()
	calc := newTestCalculator(client, table)

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	client.mu.Lock()
	client.tickers = client.tickers[:1]
	client.mu.Unlock()

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if _, ok := table.Get("DOGEUSDT"); ok {
		t.Error("Expected delisted symbol to be pruned")
	}
	if _, ok := table.Get("BTCUSDT"); !ok {
		t.Error("Expected active symbol to remain")
	}
}

func TestTickerCycleCarriesHorizons(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{testTicker("BTCUSDT", 50000, 2.5, 1e9)},
		candles: map[string][]*models.Candle{
			"BTCUSDT": steadyCandles(240, 50000, 10),
		},
	}

	table := NewTable()
	calc := newTestCalculator(client, table)

	if err := calc.cycle(context.Background(), true); err != nil {
		t.Fatalf("Exact cycle failed: %v", err)
	}
	before, _ := table.Get("BTCUSDT")

	client.mu.Lock()
	client.tickers = []*exchange.Ticker24h{testTicker("BTCUSDT", 51000, 3.0, 1.1e9)}
	client.mu.Unlock()

	if err := calc.cycle(context.Background(), false); err != nil {
		t.Fatalf("Ticker cycle failed: %v", err)
	}

	after, _ := table.Get("BTCUSDT")
	if after.LastPrice != 51000 {
		t.Errorf("Expected refreshed last price, got %f", after.LastPrice)
	}
	if after.Horizons[60].ChangePct != before.Horizons[60].ChangePct {
		t.Error("Expected ticker cycle to carry previous horizon values")
	}
	if client.calls("BTCUSDT") != 1 {
		t.Errorf("Expected no candle fetch on ticker cycle, got %d", client.calls("BTCUSDT"))
	}
}

func TestBuildRowExactHorizonChange(t *testing.T) {
	// 61 candles, step 1: close 60m ago is lastClose-60.
	candles := steadyCandles(61, 1060, 1)
	ticker := testTicker("BTCUSDT", 1060, 0, 1e6)

	row := buildRow(ticker, "USDT", candles)

	h := row.Horizons[60]
	ref := 1000.0
	expected := (1060.0 - ref) / ref * 100.0
	if diff := h.ChangePct - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected change %f, got %f", expected, h.ChangePct)
	}

	// 60 candles at 10 base volume each, 6 taker buy each.
	if h.Volume != 600 {
		t.Errorf("Expected 600 volume over 60m, got %f", h.Volume)
	}
	if h.BuyVolume != 360 || h.SellVolume != 240 || h.NetVolume != 120 {
		t.Errorf("Expected buy/sell/net 360/240/120, got %f/%f/%f", h.BuyVolume, h.SellVolume, h.NetVolume)
	}
}

func TestExactHorizonZeroPricesStayFinite(t *testing.T) {
	// A freshly listed symbol can report zero lows and a zero
	// reference close; percentages must stay at zero, not blow up.
	candles := steadyCandles(61, 1060, 1)
	for _, c := range candles {
		c.Low = 0
		c.Close = 0
		c.Open = 0
	}
	ticker := testTicker("NEWUSDT", 1060, 0, 1e6)

	h := exactHorizon(ticker, candles, 60)

	if h.ChangePct != 0 {
		t.Errorf("Expected zero change with zero reference close, got %f", h.ChangePct)
	}
	if h.RangePct != 0 {
		t.Errorf("Expected zero range with zero low, got %f", h.RangePct)
	}
	if h.ReturnPct != 0 {
		t.Errorf("Expected zero return with zero open, got %f", h.ReturnPct)
	}
}

func TestBuildRowMarksEstimatedOnPartialCoverage(t *testing.T) {
	// Enough candles for short horizons but not for 60m.
	candles := steadyCandles(20, 50000, 10)
	ticker := testTicker("BTCUSDT", 50000, 2.0, 1e9)

	row := buildRow(ticker, "USDT", candles)

	if !row.Estimated {
		t.Error("Expected partial coverage to mark the row estimated")
	}
	if row.Horizons[5] == nil || row.Horizons[60] == nil {
		t.Fatal("Expected all horizons to be populated")
	}
}

func TestEstimatedHorizonScalesWithWindow(t *testing.T) {
	ticker := testTicker("BTCUSDT", 50000, 10.0, 1e9)

	m := estimatedHorizon(ticker, 60)
	frac := 60.0 / 1440.0

	if m.VolumePct != frac*100.0 {
		t.Errorf("Expected volume pct %f, got %f", frac*100.0, m.VolumePct)
	}
	// The change estimate is jittered between 0.5x and 1.5x of the scaled change.
	scaled := 10.0 * frac
	if m.ChangePct < scaled*0.5 || m.ChangePct > scaled*1.5 {
		t.Errorf("Expected change in [%f, %f], got %f", scaled*0.5, scaled*1.5, m.ChangePct)
	}
	if m.High <= m.Low {
		t.Errorf("Expected high above low, got %f <= %f", m.High, m.Low)
	}
}

func TestSpread(t *testing.T) {
	withBook := &exchange.Ticker24h{LastPrice: 100, BidPrice: 99.9, AskPrice: 100.1}
	if got := spread(withBook); got < 0.199 || got > 0.201 {
		t.Errorf("Expected ask minus bid spread, got %f", got)
	}

	emptyBook := &exchange.Ticker24h{LastPrice: 100}
	if got := spread(emptyBook); got < 0.0099 || got > 0.0101 {
		t.Errorf("Expected fallback spread near 0.01, got %f", got)
	}
}

func TestBuyRatio(t *testing.T) {
	tests := []struct {
		name     string
		change   float64
		expected float64
	}{
		{"Flat", 0, 0.50},
		{"Moderate pump", 10, 0.55},
		{"Extreme pump clamps", 100, 0.70},
		{"Extreme dump clamps", -100, 0.30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buyRatio(tt.change)
			if diff := got - tt.expected; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestRefreshNowRequiresRunning(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{testTicker("BTCUSDT", 50000, 2.5, 1e9)},
	}
	calc := newTestCalculator(client, NewTable())

	if err := calc.RefreshNow(context.Background()); err == nil {
		t.Error("Expected error when calculator is not running")
	}
}

func TestStartStop(t *testing.T) {
	client := &fakeMarketData{
		tickers: []*exchange.Ticker24h{testTicker("BTCUSDT", 50000, 2.5, 1e9)},
	}
	table := NewTable()
	calc := newTestCalculator(client, table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := calc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := calc.Start(ctx); err == nil {
		t.Error("Expected second start to fail")
	}

	// The initial cycle primes the table.
	if err := calc.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow failed: %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("Expected primed table, got %d rows", table.Len())
	}

	calc.Stop()
	calc.Stop() // idempotent
}
