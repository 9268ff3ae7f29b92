// Package position manages the lifecycle of open positions: breakeven
// promotion, chandelier trailing, scalp exits, and close detection.
package position

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
)

// State is the lifecycle stage of a tracked position. Stops only ever tighten
// as a position moves through the stages.
type State string

const (
	// StateInitial means the entry stop is still in force.
	StateInitial State = "initial"
	// StateBreakeven means the stop has been moved to lock a small profit.
	StateBreakeven State = "breakeven"
	// StateTrailing means the chandelier trail owns the stop.
	StateTrailing State = "trailing"
	// StateClosing means a close was requested but not yet confirmed gone.
	StateClosing State = "closing"
)

// Close reasons reported on KindClosed events.
const (
	CloseStopLoss   = "stop_loss"
	CloseTakeProfit = "take_profit"
	CloseScalp      = "scalp_target"
	CloseManual     = "manual"
)

// Kind tags lifecycle events for logging and notification.
type Kind string

const (
	// KindBreakevenSet fires when the stop moves to the breakeven lock.
	KindBreakevenSet Kind = "breakeven_set"
	// KindTrailTightened fires on each successful trail adjustment.
	KindTrailTightened Kind = "trail_tightened"
	// KindScalpExit fires when a scalp-mode profit target close is requested.
	KindScalpExit Kind = "scalp_exit"
	// KindClosed fires when a tracked position is confirmed gone.
	KindClosed Kind = "closed"
)

// Event is one lifecycle transition, emitted for the notifier and stats.
type Event struct {
	Kind   Kind
	Ticket int64
	Side   market.Side
	Price  float64
	Stop   float64
	Profit float64
	Reason string
	At     time.Time
}

// Tracked is the manager's view of one open position. ConfirmedStop is the
// last stop the venue acknowledged; a rejected modify never advances it.
type Tracked struct {
	Ticket        int64
	Side          market.Side
	Entry         float64
	Volume        float64
	State         State
	ConfirmedStop float64
	TakeProfit    float64
	Extreme       float64 // highest high (buy) or lowest low (sell) since entry
	OpenedAt      time.Time
}

// Manager drives stop management for every open position on each tick.
type Manager struct {
	venue   market.Venue
	trading config.Trading
	info    market.SymbolInfo
	log     zerolog.Logger
	tracked map[int64]*Tracked
}

// NewManager builds a lifecycle manager bound to one venue and symbol.
func NewManager(venue market.Venue, trading config.Trading, info market.SymbolInfo, log zerolog.Logger) *Manager {
	return &Manager{
		venue:   venue,
		trading: trading,
		info:    info,
		log:     log,
		tracked: make(map[int64]*Tracked),
	}
}

// Track registers a freshly filled or adopted position.
func (m *Manager) Track(pos market.Position) {
	extreme := pos.OpenPrice
	m.tracked[pos.Ticket] = &Tracked{
		Ticket:        pos.Ticket,
		Side:          pos.Side,
		Entry:         pos.OpenPrice,
		Volume:        pos.Volume,
		State:         StateInitial,
		ConfirmedStop: pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		Extreme:       extreme,
		OpenedAt:      pos.OpenedAt,
	}
}

// Get returns the tracked record for a ticket, if any.
func (m *Manager) Get(ticket int64) (*Tracked, bool) {
	tr, ok := m.tracked[ticket]
	return tr, ok
}

// Count returns the number of tracked positions.
func (m *Manager) Count() int { return len(m.tracked) }

// Sync reconciles tracking against the venue's open set. Unknown venue
// positions (restart, manual trade under our magic) are adopted; tracked
// positions no longer open are confirmed closed and classified. Emits a
// KindClosed event per disappearance.
func (m *Manager) Sync(open []market.Position, closed []market.ClosedTrade, now time.Time) []Event {
	live := make(map[int64]market.Position, len(open))
	for _, pos := range open {
		live[pos.Ticket] = pos
		if _, ok := m.tracked[pos.Ticket]; !ok {
			m.log.Info().Int64("ticket", pos.Ticket).Msg("adopting untracked position")
			m.Track(pos)
		}
	}

	var events []Event
	for ticket, tr := range m.tracked {
		if _, ok := live[ticket]; ok {
			continue
		}
		ev := Event{
			Kind:   KindClosed,
			Ticket: ticket,
			Side:   tr.Side,
			At:     now,
			Reason: CloseManual,
		}
		if ct, ok := findClosed(closed, ticket); ok {
			ev.Price = ct.Exit
			ev.Profit = ct.Profit
			ev.Reason = m.classifyClose(tr, ct)
		}
		events = append(events, ev)
		delete(m.tracked, ticket)
	}
	return events
}

func findClosed(closed []market.ClosedTrade, ticket int64) (market.ClosedTrade, bool) {
	for _, ct := range closed {
		if ct.Ticket == ticket {
			return ct, true
		}
	}
	return market.ClosedTrade{}, false
}

// classifyClose decides why a position ended, preferring the venue comment and
// falling back to exit-price proximity within a pip of the tracked levels.
func (m *Manager) classifyClose(tr *Tracked, ct market.ClosedTrade) string {
	switch ct.Comment {
	case "sl":
		return CloseStopLoss
	case "tp":
		return CloseTakeProfit
	case CloseScalp:
		return CloseScalp
	}
	tol := m.info.PipSize
	if tol <= 0 {
		tol = 0.0001
	}
	if tr.ConfirmedStop > 0 && math.Abs(ct.Exit-tr.ConfirmedStop) <= tol {
		return CloseStopLoss
	}
	if tr.TakeProfit > 0 && math.Abs(ct.Exit-tr.TakeProfit) <= tol {
		return CloseTakeProfit
	}
	return CloseManual
}

// Manage runs one management pass over the venue's open positions using the
// latest bar and ATR. At most one stop modification per position per tick.
func (m *Manager) Manage(ctx context.Context, open []market.Position, bar market.PriceBar, atr float64, scalpMode bool) []Event {
	var events []Event
	for _, pos := range open {
		tr, ok := m.tracked[pos.Ticket]
		if !ok {
			continue
		}
		tr.updateExtreme(bar)

		if tr.State == StateClosing {
			continue
		}
		if ev, ok := m.tryScalpExit(ctx, tr, pos, scalpMode, bar.Time); ok {
			events = append(events, ev)
			continue
		}
		if atr <= 0 {
			continue
		}
		if ev, ok := m.tryTrail(ctx, tr, bar, atr); ok {
			events = append(events, ev)
			continue
		}
		if ev, ok := m.tryBreakeven(ctx, tr, bar, atr); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (tr *Tracked) updateExtreme(bar market.PriceBar) {
	if tr.Side == market.Buy {
		if bar.High > tr.Extreme {
			tr.Extreme = bar.High
		}
		return
	}
	if tr.Extreme == 0 || bar.Low < tr.Extreme {
		tr.Extreme = bar.Low
	}
}

// profitDistance is the favorable price move since entry, negative when losing.
func (tr *Tracked) profitDistance(price float64) float64 {
	if tr.Side == market.Buy {
		return price - tr.Entry
	}
	return tr.Entry - price
}

// tighter reports whether candidate improves on the confirmed stop by at least
// one point. The stop is monotone: it only ever moves toward price.
func (tr *Tracked) tighter(candidate, point float64) bool {
	if point <= 0 {
		point = 1e-9
	}
	if tr.ConfirmedStop == 0 {
		return true
	}
	if tr.Side == market.Buy {
		return candidate >= tr.ConfirmedStop+point
	}
	return candidate <= tr.ConfirmedStop-point
}

func (m *Manager) tryScalpExit(ctx context.Context, tr *Tracked, pos market.Position, scalpMode bool, at time.Time) (Event, bool) {
	v := m.trading.Volatility
	if !scalpMode || !v.Enabled || v.ScalpProfitTarget <= 0 {
		return Event{}, false
	}
	if pos.Profit < v.ScalpProfitTarget {
		return Event{}, false
	}
	res, err := m.venue.ClosePosition(ctx, tr.Ticket, CloseScalp)
	if err != nil || !res.Done {
		m.log.Warn().Err(err).Int64("ticket", tr.Ticket).Msg("scalp close failed, retrying next tick")
		return Event{}, false
	}
	tr.State = StateClosing
	return Event{
		Kind:   KindScalpExit,
		Ticket: tr.Ticket,
		Side:   tr.Side,
		Price:  res.Price,
		Profit: res.Profit,
		At:     at,
	}, true
}

func (m *Manager) tryBreakeven(ctx context.Context, tr *Tracked, bar market.PriceBar, atr float64) (Event, bool) {
	if !m.trading.UseSmartBreakeven || tr.State != StateInitial {
		return Event{}, false
	}
	if tr.profitDistance(bar.Close) < m.trading.BreakevenProfitMult*atr {
		return Event{}, false
	}

	lock := m.trading.BreakevenLockMult * atr
	candidate := tr.Entry + lock
	if tr.Side == market.Sell {
		candidate = tr.Entry - lock
	}
	if !tr.tighter(candidate, m.info.Point) {
		// Entry stop already at or past the lock level; just promote.
		tr.State = StateBreakeven
		return Event{}, false
	}

	res, err := m.venue.ModifyStop(ctx, tr.Ticket, candidate)
	if err != nil || !res.Done {
		m.log.Warn().Err(err).Str("reason", res.Reason).Int64("ticket", tr.Ticket).
			Msg("breakeven modify rejected, keeping confirmed stop")
		return Event{}, false
	}
	tr.ConfirmedStop = candidate
	tr.State = StateBreakeven
	return Event{
		Kind:   KindBreakevenSet,
		Ticket: tr.Ticket,
		Side:   tr.Side,
		Price:  bar.Close,
		Stop:   candidate,
		At:     bar.Time,
	}, true
}

func (m *Manager) tryTrail(ctx context.Context, tr *Tracked, bar market.PriceBar, atr float64) (Event, bool) {
	if !m.trading.UseTrailingStop {
		return Event{}, false
	}
	if tr.State != StateTrailing && tr.profitDistance(bar.Close) < m.trading.TrailActivationMult*atr {
		return Event{}, false
	}

	// Chandelier: hang the stop off the favorable extreme, not the close.
	trail := m.trading.TrailingATRMultiple * atr
	candidate := tr.Extreme - trail
	if tr.Side == market.Sell {
		candidate = tr.Extreme + trail
	}
	if !tr.tighter(candidate, m.info.Point) {
		return Event{}, false
	}

	res, err := m.venue.ModifyStop(ctx, tr.Ticket, candidate)
	if err != nil || !res.Done {
		m.log.Warn().Err(err).Str("reason", res.Reason).Int64("ticket", tr.Ticket).
			Msg("trail modify rejected, keeping confirmed stop")
		return Event{}, false
	}
	tr.ConfirmedStop = candidate
	tr.State = StateTrailing
	return Event{
		Kind:   KindTrailTightened,
		Ticket: tr.Ticket,
		Side:   tr.Side,
		Price:  bar.Close,
		Stop:   candidate,
		At:     bar.Time,
	}, true
}
