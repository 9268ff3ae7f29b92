package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
)

func flatBars(n int, px float64) []market.PriceBar {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.PriceBar, n)
	for i := range bars {
		bars[i] = market.PriceBar{
			Time: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: px, High: px, Low: px, Close: px, Volume: 10,
		}
	}
	return bars
}

func trendingBars(n int, start, step float64) []market.PriceBar {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.PriceBar, n)
	px := start
	for i := range bars {
		bars[i] = market.PriceBar{
			Time: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: px, High: px + step, Low: px - step/2, Close: px + step, Volume: 10,
		}
		px += step
	}
	return bars
}

func fallingBars(n int, start, step float64) []market.PriceBar {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.PriceBar, n)
	px := start
	for i := range bars {
		bars[i] = market.PriceBar{
			Time: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: px, High: px + step/2, Low: px - step, Close: px - step, Volume: 10,
		}
		px -= step
	}
	return bars
}

func testConfig() Config {
	return Config{
		EMAFast: 5, EMASlow: 10, EMATrend: 20,
		RSIPeriod: 14, ADXPeriod: 14, StochK: 14, StochD: 3,
		BollPer: 20, BollStd: 2, ATRPeriod: 14,
	}
}

func TestComputeInsufficientBars(t *testing.T) {
	_, err := Compute(flatBars(10, 1.08), testConfig())
	if err == nil {
		t.Fatalf("expected error for insufficient history")
	}
}

func TestComputeFlatSeries(t *testing.T) {
	snap, err := Compute(flatBars(100, 1.08), testConfig())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if math.Abs(snap.EMAFast-1.08) > 1e-9 || math.Abs(snap.EMATrend-1.08) > 1e-9 {
		t.Fatalf("flat series EMA should equal price, got %+v", snap)
	}
	if snap.ATR != 0 {
		t.Fatalf("flat series ATR should be zero, got %.6f", snap.ATR)
	}
	if snap.BollUpper != snap.BollLower {
		t.Fatalf("flat series bands should collapse: %+v", snap)
	}
}

func TestComputeUptrend(t *testing.T) {
	snap, err := Compute(trendingBars(120, 1.0000, 0.0010), testConfig())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if snap.EMAFast <= snap.EMASlow {
		t.Fatalf("fast EMA should lead slow in uptrend: fast=%.5f slow=%.5f", snap.EMAFast, snap.EMASlow)
	}
	if snap.Close <= snap.EMATrend {
		t.Fatalf("price should sit above trend EMA in uptrend")
	}
	if snap.RSI < 95 {
		t.Fatalf("monotone gains should push RSI toward 100, got %.2f", snap.RSI)
	}
	if snap.ADX < 25 {
		t.Fatalf("persistent trend should produce strong ADX, got %.2f", snap.ADX)
	}
	if snap.StochK < 60 {
		t.Fatalf("uptrend close should sit high in range, got %.2f", snap.StochK)
	}
	if snap.ATR <= 0 {
		t.Fatalf("trending series should have positive ATR")
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	bars := trendingBars(120, 1.0000, 0.0010)
	a, err := Compute(bars, testConfig())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	b, err := Compute(bars, testConfig())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if a != b {
		t.Fatalf("identical inputs produced different snapshots:\n%+v\n%+v", a, b)
	}
}

func TestATRKnownValue(t *testing.T) {
	// Each bar has a 10-pip range and gaps are contained within it.
	bars := trendingBars(20, 1.0000, 0.0010)
	atr := ATR(bars, 14)
	if atr <= 0 {
		t.Fatalf("expected positive ATR")
	}
	// TR per bar = max(H-L, |H-prevC|, |L-prevC|) = 0.0015 for this series.
	if math.Abs(atr-0.0015) > 1e-9 {
		t.Fatalf("unexpected ATR: %.6f", atr)
	}
}

func TestRSIDownTrendLow(t *testing.T) {
	bars := fallingBars(120, 1.2000, 0.0010)
	snap, err := Compute(bars, testConfig())
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if snap.RSI > 5 {
		t.Fatalf("monotone losses should push RSI toward 0, got %.2f", snap.RSI)
	}
	if snap.EMAFast >= snap.EMASlow {
		t.Fatalf("fast EMA should trail slow in downtrend")
	}
}
