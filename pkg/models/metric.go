package models

import (
	"time"
)

// Candle represents OHLCV candlestick data
type Candle struct {
	OpenTime      time.Time `json:"open_time"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	CloseTime     time.Time `json:"close_time"`
	QuoteVolume   float64   `json:"quote_volume"`
	TradeCount    int64     `json:"trade_count"`
	TakerBuyBase  float64   `json:"taker_buy_base"`
	TakerBuyQuote float64   `json:"taker_buy_quote"`
}

// HorizonMetrics holds rolling metrics for one lookback horizon
type HorizonMetrics struct {
	ChangePct  float64 `json:"change_pct"`
	ReturnPct  float64 `json:"return_pct"`
	VolumePct  float64 `json:"volume_pct"` // share of 24h volume
	Volume     float64 `json:"volume"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	RangePct   float64 `json:"range_pct"`
	NetVolume  float64 `json:"net_volume"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
}

// TradeStats holds per-symbol trade flow statistics
type TradeStats struct {
	BuyRatio   float64 `json:"buy_ratio"`
	TradeCount int64   `json:"trade_count"`
}

// SymbolMetrics is one row of the metric table
type SymbolMetrics struct {
	Symbol         string                  `json:"symbol"`
	QuoteCurrency  string                  `json:"quote_currency"`
	LastPrice      float64                 `json:"last_price"`
	BidPrice       float64                 `json:"bid_price"`
	AskPrice       float64                 `json:"ask_price"`
	Spread         float64                 `json:"spread"`
	High24h        float64                 `json:"high_24h"`
	Low24h         float64                 `json:"low_24h"`
	ChangePct24h   float64                 `json:"change_pct_24h"`
	QuoteVolume24h float64                 `json:"quote_volume_24h"`
	BaseVolume24h  float64                 `json:"base_volume_24h"`
	Horizons       map[int]*HorizonMetrics `json:"horizons"` // keyed by minutes
	RSI            map[int]float64         `json:"rsi"`      // keyed by timeframe minutes
	TradeStats     *TradeStats             `json:"trade_stats,omitempty"`
	Estimated      bool                    `json:"estimated"`
	UpdatedAt      time.Time               `json:"updated_at"`

	// Revision is bumped by the table on every effective change.
	Revision uint64 `json:"-"`
}

// MetricHorizons lists the lookback horizons in minutes, ascending
var MetricHorizons = []int{1, 2, 3, 5, 10, 15, 60}

// RSITimeframes lists the RSI timeframes in minutes, ascending
var RSITimeframes = []int{1, 3, 5, 15}

// SymbolSummary is the reduced row sent to free-plan sessions
type SymbolSummary struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"last_price"`
	High24h        float64 `json:"high_24h"`
	Low24h         float64 `json:"low_24h"`
	ChangePct24h   float64 `json:"change_pct_24h"`
	QuoteVolume24h float64 `json:"quote_volume_24h"`
}

// Summary returns the free-plan view of the row
func (m *SymbolMetrics) Summary() *SymbolSummary {
	return &SymbolSummary{
		Symbol:         m.Symbol,
		LastPrice:      m.LastPrice,
		High24h:        m.High24h,
		Low24h:         m.Low24h,
		ChangePct24h:   m.ChangePct24h,
		QuoteVolume24h: m.QuoteVolume24h,
	}
}

// WithoutTradeStats returns a shallow copy with trade flow fields removed,
// the basic-plan view of the row.
func (m *SymbolMetrics) WithoutTradeStats() *SymbolMetrics {
	cp := *m
	cp.TradeStats = nil
	return &cp
}
