package exchange

import (
	"fmt"
	"strconv"
	"time"

	"github.com/screener-back/pkg/models"
)

// Ticker24h represents one row of the bulk 24hr ticker endpoint
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"lastPrice,string"`
	BidPrice           float64 `json:"bidPrice,string"`
	AskPrice           float64 `json:"askPrice,string"`
	OpenPrice          float64 `json:"openPrice,string"`
	HighPrice          float64 `json:"highPrice,string"`
	LowPrice           float64 `json:"lowPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	PriceChange        float64 `json:"priceChange,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	TradeCount         int64   `json:"count"`
	OpenTime           int64   `json:"openTime"`
	CloseTime          int64   `json:"closeTime"`
}

// QuoteCurrency returns the quote asset suffix if the symbol ends in one of
// the given currencies, longest match first.
func (t *Ticker24h) QuoteCurrency(quotes []string) (string, bool) {
	best := ""
	for _, q := range quotes {
		if len(t.Symbol) > len(q) && t.Symbol[len(t.Symbol)-len(q):] == q {
			if len(q) > len(best) {
				best = q
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// parseKlines converts the raw kline payload into candles. Rows with an
// unexpected shape are skipped.
func parseKlines(raw [][]interface{}) []*models.Candle {
	candles := make([]*models.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 11 {
			continue
		}

		openTime, ok0 := row[0].(float64)
		closeTime, ok6 := row[6].(float64)
		trades, ok8 := row[8].(float64)
		if !ok0 || !ok6 || !ok8 {
			continue
		}

		open, err1 := parseFloatField(row[1])
		high, err2 := parseFloatField(row[2])
		low, err3 := parseFloatField(row[3])
		closePrice, err4 := parseFloatField(row[4])
		volume, err5 := parseFloatField(row[5])
		quoteVol, err7 := parseFloatField(row[7])
		takerBase, err9 := parseFloatField(row[9])
		takerQuote, err10 := parseFloatField(row[10])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil ||
			err5 != nil || err7 != nil || err9 != nil || err10 != nil {
			continue
		}

		candles = append(candles, &models.Candle{
			OpenTime:      time.Unix(int64(openTime)/1000, 0).UTC(),
			Open:          open,
			High:          high,
			Low:           low,
			Close:         closePrice,
			Volume:        volume,
			CloseTime:     time.Unix(int64(closeTime)/1000, 0).UTC(),
			QuoteVolume:   quoteVol,
			TradeCount:    int64(trades),
			TakerBuyBase:  takerBase,
			TakerBuyQuote: takerQuote,
		})
	}
	return candles
}

func parseFloatField(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected string field, got %T", v)
	}
	return strconv.ParseFloat(s, 64)
}
