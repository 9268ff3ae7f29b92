// Package risk guards every entry: pre-trade admission (sizing, stops,
// exposure) and the account-level pause/resume state machine driven by daily
// and weekly P&L caps.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
)

// Rejection reasons reported on disallowed admissions.
const (
	ReasonPaused          = "account paused"
	ReasonMaxPositions    = "max open positions reached"
	ReasonMaxExposure     = "max exposure exceeded"
	ReasonDrawdown        = "max drawdown reached"
	ReasonLotBelowMinimum = "computed lot below broker minimum"
	ReasonInvalidStops    = "invalid stop distance"
)

// Request carries everything admission needs, captured from one tick snapshot.
type Request struct {
	Side      market.Side
	Entry     float64
	ATR       float64
	Account   market.AccountSnapshot
	OpenCount int
	OpenLots  float64
	Info      market.SymbolInfo
	Paused    bool
}

// Decision is the admission outcome. Allowed=false always carries a reason;
// a rejection is never clamped into an approval.
type Decision struct {
	Allowed    bool
	Reason     string
	Lot        float64
	StopLoss   float64
	TakeProfit float64
}

func reject(reason string) Decision { return Decision{Reason: reason} }

// Admission validates entries against configured limits and computes sizing.
type Admission struct {
	risk    config.Risk
	trading config.Trading
	log     zerolog.Logger
}

// NewAdmission builds the pre-trade gate.
func NewAdmission(riskCfg config.Risk, tradingCfg config.Trading, log zerolog.Logger) *Admission {
	return &Admission{risk: riskCfg, trading: tradingCfg, log: log}
}

// Evaluate runs every configured limit against the same snapshot and either
// rejects with a specific reason or returns the lot size and protective levels.
func (a *Admission) Evaluate(req Request) Decision {
	if req.Paused {
		return reject(ReasonPaused)
	}
	if req.OpenCount >= a.trading.MaxPositions {
		return reject(ReasonMaxPositions)
	}
	if req.Account.Balance > 0 && a.risk.MaxDrawdownPercent > 0 {
		drawdownPct := (req.Account.Balance - req.Account.Equity) / req.Account.Balance * 100
		if drawdownPct >= a.risk.MaxDrawdownPercent {
			return reject(ReasonDrawdown)
		}
	}
	if req.ATR <= 0 || req.Entry <= 0 {
		return reject(ReasonInvalidStops)
	}

	stopDistance := req.ATR * a.trading.StopLossATRMultiple
	targetDistance := req.ATR * a.trading.TakeProfitATRMultiple
	// Widen to the broker minimum; sizing uses the widened distance so risk
	// per trade stays honest.
	if stopDistance < req.Info.StopsLevel {
		stopDistance = req.Info.StopsLevel
	}
	if targetDistance < req.Info.StopsLevel {
		targetDistance = req.Info.StopsLevel
	}

	var sl, tp float64
	if req.Side == market.Buy {
		sl = req.Entry - stopDistance
		tp = req.Entry + targetDistance
	} else {
		sl = req.Entry + stopDistance
		tp = req.Entry - targetDistance
	}
	if err := validateLevels(req.Side, req.Entry, sl, tp); err != nil {
		a.log.Warn().Err(err).Msg("stop validation failed")
		return reject(ReasonInvalidStops)
	}

	lot, err := a.lotSize(req.Account.Equity, stopDistance, req.Info)
	if err != nil {
		return reject(err.Error())
	}
	if a.risk.MaxExposureLots > 0 && req.OpenLots+lot > a.risk.MaxExposureLots {
		return reject(ReasonMaxExposure)
	}

	return Decision{Allowed: true, Lot: lot, StopLoss: sl, TakeProfit: tp}
}

func (a *Admission) lotSize(equity, stopDistance float64, info market.SymbolInfo) (float64, error) {
	lot := a.trading.LotSize
	if a.risk.RiskPerTradePct > 0 {
		if equity <= 0 || stopDistance <= 0 || info.ContractSize <= 0 {
			return 0, fmt.Errorf("%s", ReasonInvalidStops)
		}
		riskAmount := equity * a.risk.RiskPerTradePct / 100
		lot = riskAmount / (stopDistance * info.ContractSize)
	}
	if info.LotStep > 0 {
		lot = math.Floor(lot/info.LotStep) * info.LotStep
	}
	if lot > info.MaxLot && info.MaxLot > 0 {
		lot = info.MaxLot
	}
	if lot < info.MinLot {
		return 0, fmt.Errorf("%s", ReasonLotBelowMinimum)
	}
	return lot, nil
}

func validateLevels(side market.Side, entry, sl, tp float64) error {
	if entry <= 0 || sl <= 0 || tp <= 0 {
		return fmt.Errorf("non-positive level: entry=%.5f sl=%.5f tp=%.5f", entry, sl, tp)
	}
	if side == market.Buy {
		if sl >= entry {
			return fmt.Errorf("buy stop %.5f not below entry %.5f", sl, entry)
		}
		if tp <= entry {
			return fmt.Errorf("buy target %.5f not above entry %.5f", tp, entry)
		}
		return nil
	}
	if sl <= entry {
		return fmt.Errorf("sell stop %.5f not above entry %.5f", sl, entry)
	}
	if tp >= entry {
		return fmt.Errorf("sell target %.5f not below entry %.5f", tp, entry)
	}
	return nil
}
