// Package strategy turns indicator snapshots into entry signals.
//
// Buy-side and sell-side conditions are evaluated independently: each side gets
// its own satisfied count and reason list, never a single combined score.
// Evaluation is a pure function of the snapshot, the clock, and configuration.
package strategy

import (
	"time"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/indicator"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
)

// Condition tags attached to reasons. The trend set is what the trend filter
// can demand alignment with.
const (
	TagEMACross      = "EMA_CROSS"
	TagAboveTrend    = "ABOVE_TREND"
	TagBelowTrend    = "BELOW_TREND"
	TagRSIOversold   = "RSI_OVERSOLD"
	TagRSIOverbought = "RSI_OVERBOUGHT"
	TagStrongTrend   = "STRONG_TREND"
	TagStochBullish  = "STOCH_BULLISH"
	TagStochBearish  = "STOCH_BEARISH"
	TagBBLower       = "BB_LOWER"
	TagBBUpper       = "BB_UPPER"
)

var trendTags = map[string]struct{}{
	TagAboveTrend:  {},
	TagBelowTrend:  {},
	TagStrongTrend: {},
}

// Result is one side's evaluation: how many of its conditions passed and why.
type Result struct {
	Side    market.Side
	Met     int
	Total   int
	Reasons []string
}

// HasTrendTag reports whether any satisfied condition is a trend-alignment one.
func (r Result) HasTrendTag() bool {
	for _, reason := range r.Reasons {
		if _, ok := trendTags[reason]; ok {
			return true
		}
	}
	return false
}

// Direction is the final decision for a tick.
type Direction string

const (
	// Flat means no entry this tick.
	Flat Direction = "FLAT"
	// LongEntry requests a buy entry.
	LongEntry Direction = "BUY"
	// ShortEntry requests a sell entry.
	ShortEntry Direction = "SELL"
)

// Decision pairs the chosen direction with the winning side's evaluation.
type Decision struct {
	Direction Direction
	Result    Result
}

// Evaluator applies configured thresholds to indicator snapshots.
type Evaluator struct {
	cfg config.Strategy
}

// NewEvaluator builds an evaluator from strategy configuration.
func NewEvaluator(cfg config.Strategy) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate scores both sides independently against the snapshot.
func (e *Evaluator) Evaluate(snap indicator.Snapshot) (buy, sell Result) {
	buy = Result{Side: market.Buy}
	sell = Result{Side: market.Sell}

	vote := func(r *Result, met bool, tag string) {
		r.Total++
		if met {
			r.Met++
			r.Reasons = append(r.Reasons, tag)
		}
	}

	vote(&buy, snap.EMAFast > snap.EMASlow, TagEMACross)
	vote(&buy, snap.Close > snap.EMATrend, TagAboveTrend)
	vote(&buy, snap.RSI < e.cfg.RSIOversold, TagRSIOversold)
	vote(&buy, snap.ADX > e.cfg.ADXThreshold, TagStrongTrend)
	vote(&buy, snap.StochK < e.cfg.StochasticOversold && snap.StochK > snap.StochD, TagStochBullish)

	vote(&sell, snap.EMAFast < snap.EMASlow, TagEMACross)
	vote(&sell, snap.Close < snap.EMATrend, TagBelowTrend)
	vote(&sell, snap.RSI > e.cfg.RSIOverbought, TagRSIOverbought)
	vote(&sell, snap.ADX > e.cfg.ADXThreshold, TagStrongTrend)
	vote(&sell, snap.StochK > e.cfg.StochasticOverbought && snap.StochK < snap.StochD, TagStochBearish)

	if e.cfg.UseBollingerCondition {
		vote(&buy, snap.Close < snap.BollLower, TagBBLower)
		vote(&sell, snap.Close > snap.BollUpper, TagBBUpper)
	}
	return buy, sell
}

// Decide applies the per-side firing thresholds and resolves conflicts.
// A side fires when its count reaches the (possibly window-adjusted) minimum;
// when both fire, the strictly higher count wins and an exact tie is flat.
func (e *Evaluator) Decide(buy, sell Result, now time.Time) Decision {
	buyOK := e.allowed(buy, now)
	sellOK := e.allowed(sell, now)

	switch {
	case buyOK && sellOK:
		if buy.Met > sell.Met {
			return Decision{Direction: LongEntry, Result: buy}
		}
		if sell.Met > buy.Met {
			return Decision{Direction: ShortEntry, Result: sell}
		}
		return Decision{Direction: Flat}
	case buyOK:
		return Decision{Direction: LongEntry, Result: buy}
	case sellOK:
		return Decision{Direction: ShortEntry, Result: sell}
	default:
		return Decision{Direction: Flat}
	}
}

func (e *Evaluator) allowed(r Result, now time.Time) bool {
	required := e.cfg.MinConditionsRequired
	requireTrend := false

	if tf := e.cfg.TrendFilter; tf.Enabled && e.inWindow(now) {
		if r.Side == market.Buy {
			required += tf.ExtraBuy
		} else {
			required += tf.ExtraSell
		}
		requireTrend = tf.RequireTrendFlag
	}

	if r.Met < required {
		return false
	}
	if requireTrend && !r.HasTrendTag() {
		return false
	}
	return true
}

func (e *Evaluator) inWindow(now time.Time) bool {
	tf := e.cfg.TrendFilter
	if int(now.Weekday()) != tf.Weekday {
		return false
	}
	h := now.Hour()
	return h >= tf.StartHour && h < tf.EndHour
}
