package metrics

import (
	"testing"

	"github.com/screener-back/pkg/models"
)

func TestRSINeutralOnShortSeries(t *testing.T) {
	closes := []float64{100, 101, 102}
	if got := rsi(closes, rsiPeriod); got != 50.0 {
		t.Errorf("Expected neutral 50 for short series, got %f", got)
	}
}

func TestRSIAllGains(t *testing.T) {
	closes := make([]float64, rsiPeriod+1)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	if got := rsi(closes, rsiPeriod); got != 100.0 {
		t.Errorf("Expected 100 when there are no losses, got %f", got)
	}
}

func TestRSIAllLosses(t *testing.T) {
	closes := make([]float64, rsiPeriod+1)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	if got := rsi(closes, rsiPeriod); got != 0.0 {
		t.Errorf("Expected 0 when there are no gains, got %f", got)
	}
}

func TestRSIBalanced(t *testing.T) {
	// Alternate equal gains and losses over an even number of moves.
	closes := make([]float64, rsiPeriod+1)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 1
		} else {
			closes[i] = closes[i-1] - 1
		}
	}
	if got := rsi(closes, rsiPeriod); got != 50.0 {
		t.Errorf("Expected 50 for balanced gains and losses, got %f", got)
	}
}

func TestRSIUsesTrailingWindow(t *testing.T) {
	// Early values outside the window must not affect the result.
	closes := append([]float64{1, 500, 2, 700}, make([]float64, rsiPeriod+1)...)
	for i := 4; i < len(closes); i++ {
		closes[i] = 100 + float64(i)
	}
	if got := rsi(closes, rsiPeriod); got != 100.0 {
		t.Errorf("Expected 100 over the trailing window, got %f", got)
	}
}

func candlesWithCloses(closes []float64) []*models.Candle {
	candles := make([]*models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = &models.Candle{Close: c}
	}
	return candles
}

func TestResampleClosesOneMinute(t *testing.T) {
	candles := candlesWithCloses([]float64{1, 2, 3})
	got := resampleCloses(candles, 1)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Expected pass-through closes, got %v", got)
	}
}

func TestResampleClosesBuckets(t *testing.T) {
	// 10 candles at 3m buckets: 3 full buckets, one leading candle dropped.
	candles := candlesWithCloses([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	got := resampleCloses(candles, 3)

	if len(got) != 3 {
		t.Fatalf("Expected 3 buckets, got %d", len(got))
	}
	// Buckets align to the most recent candle.
	if got[0] != 3 || got[1] != 6 || got[2] != 9 {
		t.Errorf("Expected bucket closes [3 6 9], got %v", got)
	}
}

func TestResampleClosesTooFewCandles(t *testing.T) {
	candles := candlesWithCloses([]float64{1, 2})
	if got := resampleCloses(candles, 5); got != nil {
		t.Errorf("Expected nil when no full bucket fits, got %v", got)
	}
}

func TestEstimateRSI(t *testing.T) {
	tests := []struct {
		name     string
		change   float64
		tf       int
		jitter   float64
		expected float64
	}{
		{"Flat market", 0, 15, 0, 50},
		{"Strong pump clamps at 100", 150, 15, 0, 100},
		{"Strong dump clamps at 0", -150, 15, 0, 0},
		{"Moderate change shifts base", 10, 15, 0, 55},
		{"Jitter scales with timeframe", 0, 15, 2, 52},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateRSI(tt.change, tt.tf, tt.jitter)
			if got != tt.expected {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if got := clamp(-5, 0, 100); got != 0 {
		t.Errorf("Expected clamp to lower bound, got %f", got)
	}
	if got := clamp(150, 0, 100); got != 100 {
		t.Errorf("Expected clamp to upper bound, got %f", got)
	}
	if got := clamp(42, 0, 100); got != 42 {
		t.Errorf("Expected in-range value unchanged, got %f", got)
	}
}
