// Package indicator computes technical indicator snapshots over candle data.
//
// Compute is a pure function of the bar series and its configuration: identical
// inputs always yield an identical Snapshot, which keeps signal evaluation
// deterministic and unit-testable.
package indicator

import (
	"fmt"
	"math"

	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
)

// Config holds the periods for every indicator in the snapshot.
type Config struct {
	EMAFast   int
	EMASlow   int
	EMATrend  int
	RSIPeriod int
	ADXPeriod int
	StochK    int
	StochD    int
	BollPer   int
	BollStd   float64
	ATRPeriod int
}

// Snapshot is the set of current indicator values over the trailing window
// ending at the latest bar. Recomputed each tick, never persisted.
type Snapshot struct {
	Close      float64
	EMAFast    float64
	EMASlow    float64
	EMATrend   float64
	RSI        float64
	ADX        float64
	StochK     float64
	StochD     float64
	BollUpper  float64
	BollMiddle float64
	BollLower  float64
	ATR        float64
}

// MinBars returns the minimum history Compute needs for this configuration.
func (c Config) MinBars() int {
	min := c.EMATrend
	for _, n := range []int{c.EMAFast, c.EMASlow, c.RSIPeriod + 1, 2*c.ADXPeriod + 1, c.StochK + c.StochD, c.BollPer, c.ATRPeriod + 1} {
		if n > min {
			min = n
		}
	}
	return min
}

// Compute evaluates every configured indicator over bars.
func Compute(bars []market.PriceBar, cfg Config) (Snapshot, error) {
	if need := cfg.MinBars(); len(bars) < need {
		return Snapshot{}, fmt.Errorf("need %d bars, have %d", need, len(bars))
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	kSeries := stochK(highs, lows, closes, cfg.StochK)
	snap := Snapshot{
		Close:    closes[len(closes)-1],
		EMAFast:  last(ema(closes, cfg.EMAFast)),
		EMASlow:  last(ema(closes, cfg.EMASlow)),
		EMATrend: last(ema(closes, cfg.EMATrend)),
		RSI:      rsi(closes, cfg.RSIPeriod),
		ADX:      adx(highs, lows, closes, cfg.ADXPeriod),
		StochK:   last(kSeries),
		StochD:   last(sma(kSeries, cfg.StochD)),
		ATR:      ATR(bars, cfg.ATRPeriod),
	}
	snap.BollUpper, snap.BollMiddle, snap.BollLower = bollinger(closes, cfg.BollPer, cfg.BollStd)
	return snap, nil
}

// ATR returns the Average True Range over the trailing period. Exposed
// separately because the engine also needs ATR on its own for volatility-mode
// switching and stop placement.
func ATR(bars []market.PriceBar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}
	// Simple mean of the trailing true ranges, matching the stop engine.
	sum := 0.0
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period)
}

func last(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// ema seeds with the SMA of the first period values, then applies the standard
// recursive form.
func ema(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out = append(out, seed)

	k := 2.0 / float64(period+1)
	prev := seed
	for _, v := range values[period:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

func sma(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// rsi uses Wilder smoothing of average gains and losses.
func rsi(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 0
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// adx follows Wilder's construction: smoothed +DM/-DM and TR produce the
// directional indexes, DX is their normalized spread, and ADX smooths DX.
func adx(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < 2*period+1 {
		return 0
	}

	var smTR, smPlusDM, smMinusDM float64
	dxs := make([]float64, 0, n)

	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))

		if i <= period {
			smTR += tr
			smPlusDM += plusDM
			smMinusDM += minusDM
			if i < period {
				continue
			}
		} else {
			smTR = smTR - smTR/float64(period) + tr
			smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
			smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM
		}

		if smTR == 0 {
			dxs = append(dxs, 0)
			continue
		}
		plusDI := 100 * smPlusDM / smTR
		minusDI := 100 * smMinusDM / smTR
		if plusDI+minusDI == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}

	if len(dxs) < period {
		return 0
	}
	adxVal := 0.0
	for _, dx := range dxs[:period] {
		adxVal += dx
	}
	adxVal /= float64(period)
	for _, dx := range dxs[period:] {
		adxVal = (adxVal*float64(period-1) + dx) / float64(period)
	}
	return adxVal
}

// stochK returns the raw %K series: position of each close within the
// trailing kPeriod high/low range.
func stochK(highs, lows, closes []float64, kPeriod int) []float64 {
	if kPeriod <= 0 || len(closes) < kPeriod {
		return nil
	}
	out := make([]float64, 0, len(closes)-kPeriod+1)
	for i := kPeriod - 1; i < len(closes); i++ {
		hh, ll := highs[i], lows[i]
		for j := i - kPeriod + 1; j < i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		if hh == ll {
			out = append(out, 50)
			continue
		}
		out = append(out, 100*(closes[i]-ll)/(hh-ll))
	}
	return out
}

func bollinger(closes []float64, period int, stdMult float64) (upper, middle, lower float64) {
	if period <= 0 || len(closes) < period {
		return 0, 0, 0
	}
	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return mean + stdMult*sd, mean, mean - stdMult*sd
}
