package metrics

import (
	"github.com/screener-back/pkg/models"
)

const rsiPeriod = 14

// rsi computes a 14-period RSI over the given closes. Fewer than period+1
// samples yields a neutral 50; zero average loss yields 100.
func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}

	closes = closes[len(closes)-(period+1):]

	var gains, losses float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// resampleCloses reduces 1m candles to the closing price of each
// tf-minute bucket, most recent last. Partial leading buckets are dropped.
func resampleCloses(candles []*models.Candle, tfMinutes int) []float64 {
	if tfMinutes <= 1 {
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		return closes
	}

	n := len(candles) / tfMinutes
	if n == 0 {
		return nil
	}

	closes := make([]float64, 0, n)
	// Align buckets to the most recent candle.
	for i := len(candles) - n*tfMinutes + tfMinutes - 1; i < len(candles); i += tfMinutes {
		closes = append(closes, candles[i].Close)
	}
	return closes
}

// estimateRSI approximates RSI from the 24h change when candle data is
// unavailable: 50 shifted by half the change, jittered per timeframe.
func estimateRSI(change24h float64, tfMinutes int, jitter float64) float64 {
	base := clamp(50.0+change24h/2.0, 0, 100)
	return clamp(base+jitter*float64(tfMinutes)/15.0, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
