package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/util"
)

// PauseState is the account-level trading gate.
type PauseState string

const (
	// Active allows new entries.
	Active PauseState = "active"
	// PausedDailyLoss blocks entries until the next day rollover.
	PausedDailyLoss PauseState = "paused_daily_loss"
	// PausedDailyProfit blocks entries until the next day rollover after the
	// profit target was banked.
	PausedDailyProfit PauseState = "paused_daily_profit"
	// PausedWeekly blocks entries until the next week rollover.
	PausedWeekly PauseState = "paused_weekly_limit"
)

// Snapshot is the persisted limits state, written atomically after every
// transition so a restart mid-day cannot forget an active pause.
type Snapshot struct {
	State          PauseState `json:"state"`
	PausedAt       time.Time  `json:"paused_at,omitempty"`
	DayOpen        time.Time  `json:"day_open"`
	WeekOpen       time.Time  `json:"week_open"`
	StartingEquity float64    `json:"starting_equity"`
	DailyPnL       float64    `json:"daily_pnl"`
	WeeklyPnL      float64    `json:"weekly_pnl"`
}

// Limits tracks realized P&L against the configured daily and weekly caps and
// drives the pause state machine. Pauses latch: once entered, a paused state is
// cleared only by the matching rollover boundary, never by P&L recovering.
type Limits struct {
	cfg config.Risk
	loc *time.Location
	log zerolog.Logger

	state          PauseState
	pausedAt       time.Time
	dayOpen        time.Time
	weekOpen       time.Time
	startingEquity float64
	dailyPnL       float64
	weeklyPnL      float64
}

// NewLimits restores persisted state when it belongs to the current day and
// week, otherwise starts fresh at the given clock and equity.
func NewLimits(cfg config.Risk, now time.Time, equity float64, log zerolog.Logger) (*Limits, error) {
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("risk timezone: %w", err)
	}

	l := &Limits{
		cfg:            cfg,
		loc:            loc,
		log:            log,
		state:          Active,
		dayOpen:        dayOpen(now, loc),
		weekOpen:       weekOpen(now, loc, time.Weekday(cfg.WeekStartDay)),
		startingEquity: equity,
	}

	snap, err := loadSnapshot(cfg.StatePath)
	switch {
	case err == nil:
		l.restore(snap)
	case errors.Is(err, os.ErrNotExist):
	default:
		log.Warn().Err(err).Str("path", cfg.StatePath).Msg("limits state unreadable, starting fresh")
	}
	return l, nil
}

func (l *Limits) restore(snap Snapshot) {
	if !snap.WeekOpen.IsZero() && snap.WeekOpen.Equal(l.weekOpen) {
		l.weeklyPnL = snap.WeeklyPnL
		if snap.State == PausedWeekly {
			l.state = snap.State
			l.pausedAt = snap.PausedAt
		}
	}
	if !snap.DayOpen.IsZero() && snap.DayOpen.Equal(l.dayOpen) {
		l.dailyPnL = snap.DailyPnL
		l.startingEquity = snap.StartingEquity
		if snap.State == PausedDailyLoss || snap.State == PausedDailyProfit {
			l.state = snap.State
			l.pausedAt = snap.PausedAt
		}
	}
	if l.state != Active {
		l.log.Warn().Str("state", string(l.state)).Msg("restored active pause from disk")
	}
}

// State returns the current pause state.
func (l *Limits) State() PauseState { return l.state }

// Paused reports whether new entries are blocked.
func (l *Limits) Paused() bool { return l.state != Active }

// DailyPnL returns realized P&L since the day open.
func (l *Limits) DailyPnL() float64 { return l.dailyPnL }

// WeeklyPnL returns realized P&L since the week open.
func (l *Limits) WeeklyPnL() float64 { return l.weeklyPnL }

// DayOpen returns the start of the current trading day in the risk timezone.
func (l *Limits) DayOpen() time.Time { return l.dayOpen }

// WeekOpen returns the start of the current trading week.
func (l *Limits) WeekOpen() time.Time { return l.weekOpen }

// Rollover advances the day and week windows when now has crossed a boundary.
// Daily pauses clear at the day boundary and the weekly pause at the week
// boundary; this is the only way out of a paused state. Returns which
// boundaries were crossed.
func (l *Limits) Rollover(now time.Time, equity float64) (dayRolled, weekRolled bool) {
	if wo := weekOpen(now, l.loc, time.Weekday(l.cfg.WeekStartDay)); wo.After(l.weekOpen) {
		l.weekOpen = wo
		l.weeklyPnL = 0
		weekRolled = true
		if l.state == PausedWeekly {
			l.resume("week rollover")
		}
	}
	if do := dayOpen(now, l.loc); do.After(l.dayOpen) {
		l.dayOpen = do
		l.dailyPnL = 0
		l.startingEquity = equity
		dayRolled = true
		if l.state == PausedDailyLoss || l.state == PausedDailyProfit {
			l.resume("day rollover")
		}
	}
	if dayRolled || weekRolled {
		l.persist()
	}
	return dayRolled, weekRolled
}

func (l *Limits) resume(cause string) {
	l.log.Info().Str("from", string(l.state)).Str("cause", cause).Msg("trading resumed")
	l.state = Active
	l.pausedAt = time.Time{}
}

// Observe updates realized P&L and applies the cap checks. It returns true only
// on the tick that enters a paused state, so callers can notify exactly once.
// While already paused it records P&L but never re-triggers.
func (l *Limits) Observe(now time.Time, dailyPnL, weeklyPnL, equity float64) bool {
	l.dailyPnL = dailyPnL
	l.weeklyPnL = weeklyPnL
	if l.state != Active {
		return false
	}

	next := Active
	switch {
	case l.cfg.MaxWeeklyLoss > 0 && weeklyPnL <= -l.cfg.MaxWeeklyLoss:
		next = PausedWeekly
	case l.cfg.MaxDailyLoss > 0 && dailyPnL <= -l.cfg.MaxDailyLoss:
		next = PausedDailyLoss
	case l.cfg.LossLimitByEquity && l.cfg.MaxDailyLoss > 0 && l.startingEquity > 0 && l.startingEquity-equity >= l.cfg.MaxDailyLoss:
		// Equity-based variant counts floating losses toward the daily cap.
		next = PausedDailyLoss
	case l.cfg.DailyProfitTarget > 0 && dailyPnL >= l.cfg.DailyProfitTarget:
		next = PausedDailyProfit
	}
	if next == Active {
		return false
	}

	l.state = next
	l.pausedAt = now
	l.persist()
	l.log.Warn().
		Str("state", string(next)).
		Float64("daily_pnl", dailyPnL).
		Float64("weekly_pnl", weeklyPnL).
		Msg("trading paused")
	return true
}

// Snapshot returns the current persisted view of the limits state.
func (l *Limits) Snapshot() Snapshot {
	return Snapshot{
		State:          l.state,
		PausedAt:       l.pausedAt,
		DayOpen:        l.dayOpen,
		WeekOpen:       l.weekOpen,
		StartingEquity: l.startingEquity,
		DailyPnL:       l.dailyPnL,
		WeeklyPnL:      l.weeklyPnL,
	}
}

func (l *Limits) persist() {
	if l.cfg.StatePath == "" {
		return
	}
	data, err := json.MarshalIndent(l.Snapshot(), "", "  ")
	if err != nil {
		l.log.Error().Err(err).Msg("marshal limits state")
		return
	}
	if err := util.WriteFileAtomic(l.cfg.StatePath, data, 0o644); err != nil {
		l.log.Error().Err(err).Str("path", l.cfg.StatePath).Msg("persist limits state")
	}
}

func loadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	if path == "" {
		return snap, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode limits state: %w", err)
	}
	return snap, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// dayOpen returns local midnight for now.
func dayOpen(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// weekOpen returns local midnight of the most recent week start day.
func weekOpen(now time.Time, loc *time.Location, start time.Weekday) time.Time {
	day := dayOpen(now, loc)
	offset := (int(day.Weekday()) - int(start) + 7) % 7
	return day.AddDate(0, 0, -offset)
}
