// Package engine runs the polling control loop: one market/account snapshot
// per tick, flowing in strict order through rollover, limit checks, position
// lifecycle, blackout gating, signal evaluation, admission, and order
// placement. All engine state is owned by the loop goroutine; collaborators
// only ever see copies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/indicator"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
	"github.com/MrADeveci/fusion-sniper-bot/internal/metrics"
	"github.com/MrADeveci/fusion-sniper-bot/internal/news"
	"github.com/MrADeveci/fusion-sniper-bot/internal/notify"
	"github.com/MrADeveci/fusion-sniper-bot/internal/position"
	"github.com/MrADeveci/fusion-sniper-bot/internal/risk"
	"github.com/MrADeveci/fusion-sniper-bot/internal/schedule"
	"github.com/MrADeveci/fusion-sniper-bot/internal/stats"
	"github.com/MrADeveci/fusion-sniper-bot/internal/status"
	"github.com/MrADeveci/fusion-sniper-bot/internal/strategy"
)

// ErrInvariantViolation means engine state tracking is broken (for example
// more concurrent positions than the limit allows). The loop halts rather
// than trade on corrupted state.
var ErrInvariantViolation = errors.New("engine invariant violated")

// Tick outcomes, used as the metrics label and for interval selection.
const (
	OutcomeEntry       = "entry"
	OutcomeIdle        = "idle"
	OutcomeBlackout    = "blackout"
	OutcomeCooldown    = "cooldown"
	OutcomeRejected    = "rejected"
	OutcomePaused      = "paused"
	OutcomeDataError   = "data_unavailable"
	OutcomeMarketShut  = "market_closed"
	OutcomeExtremeATR  = "extreme_atr"
	OutcomeNoHistory   = "insufficient_history"
)

// Engine wires every collaborator into the tick loop.
type Engine struct {
	cfg       *config.Config
	venue     market.Venue
	info      market.SymbolInfo
	evaluator *strategy.Evaluator
	admission *risk.Admission
	limits    *risk.Limits
	positions *position.Manager
	calendar  *news.Filter
	sched     *schedule.Schedule
	notifier  *notify.Notifier
	tracker   *stats.Tracker
	statusW   *status.Writer
	log       zerolog.Logger

	indCfg        indicator.Config
	lastEntry     map[market.Side]time.Time
	lastNewsAlert string
	lastSummaryAt time.Time
	haltErr       error
}

// New builds the engine and restores risk state. The venue is queried once for
// symbol constraints and the starting equity.
func New(ctx context.Context, cfg *config.Config, venue market.Venue, calendar *news.Filter,
	notifier *notify.Notifier, tracker *stats.Tracker, log zerolog.Logger) (*Engine, error) {

	info, err := venue.SymbolInfo(ctx, cfg.Broker.Symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol info: %w", err)
	}
	account, err := venue.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	limits, err := risk.NewLimits(cfg.Risk, time.Now(), account.Equity, log)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(cfg.Trading, cfg.Broker.TimezoneOffset)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		venue:     venue,
		info:      info,
		evaluator: strategy.NewEvaluator(cfg.Strategy),
		admission: risk.NewAdmission(cfg.Risk, cfg.Trading, log),
		limits:    limits,
		positions: position.NewManager(venue, cfg.Trading, info, log),
		calendar:  calendar,
		sched:     sched,
		notifier:  notifier,
		tracker:   tracker,
		statusW:   status.NewWriter(cfg.System.StatusFile),
		log:       log,
		indCfg: indicator.Config{
			EMAFast:   cfg.Strategy.EMAFastPeriod,
			EMASlow:   cfg.Strategy.EMASlowPeriod,
			EMATrend:  cfg.Strategy.EMATrendPeriod,
			RSIPeriod: cfg.Strategy.RSIPeriod,
			ADXPeriod: cfg.Strategy.ADXPeriod,
			StochK:    cfg.Strategy.StochasticK,
			StochD:    cfg.Strategy.StochasticD,
			BollPer:   cfg.Strategy.BollingerPeriod,
			BollStd:   cfg.Strategy.BollingerStd,
			ATRPeriod: cfg.Trading.Volatility.ATRPeriod,
		},
		lastEntry: make(map[market.Side]time.Time),
	}, nil
}

// Limits exposes the risk state machine for status and tests.
func (e *Engine) Limits() *risk.Limits { return e.limits }

// Positions exposes the lifecycle manager for tests.
func (e *Engine) Positions() *position.Manager { return e.positions }

// Halted reports whether an invariant violation stopped admissions.
func (e *Engine) Halted() bool { return e.haltErr != nil }

// Run drives Tick until ctx is canceled or an invariant violation halts the
// loop. The sleep between ticks follows the engine's current mode.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().
		Str("symbol", e.cfg.Broker.Symbol).
		Int64("magic", e.cfg.Broker.MagicNumber).
		Msg("engine started")
	e.notifier.Send(fmt.Sprintf("sniper started on %s", e.cfg.Broker.Symbol))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		outcome, err := e.Tick(ctx, time.Now())
		if err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				e.notifier.Send(fmt.Sprintf("HALTED: %v", err))
				return err
			}
			e.log.Error().Err(err).Msg("tick failed")
		}
		timer.Reset(e.interval(outcome))
	}
}

func (e *Engine) interval(outcome string) time.Duration {
	switch outcome {
	case OutcomePaused:
		return e.cfg.PausedLoopInterval()
	case OutcomeMarketShut:
		return e.cfg.IdleLoopInterval()
	default:
		return e.cfg.MainLoopInterval()
	}
}

// Tick executes one full iteration against a single consistent snapshot taken
// at its start. Recoverable failures skip the remainder of the tick; the next
// tick retries from a fresh snapshot.
func (e *Engine) Tick(ctx context.Context, now time.Time) (string, error) {
	if e.haltErr != nil {
		return OutcomePaused, e.haltErr
	}

	outcome, err := e.tick(ctx, now)
	metrics.TicksTotal.WithLabelValues(outcome).Inc()
	return outcome, err
}

func (e *Engine) tick(ctx context.Context, now time.Time) (string, error) {
	// One snapshot per tick: bars, account, and open positions are fetched
	// here and every downstream step reads only these.
	bars, err := e.venue.PriceSeries(ctx, e.cfg.Broker.Symbol, e.cfg.Trading.MarketDataBars)
	if err != nil {
		e.writeStatus(0, 0, err)
		return OutcomeDataError, fmt.Errorf("price series: %w", err)
	}
	account, err := e.venue.Account(ctx)
	if err != nil {
		e.writeStatus(0, 0, err)
		return OutcomeDataError, fmt.Errorf("account: %w", err)
	}
	open, err := e.venue.OpenPositions(ctx, e.cfg.Broker.Symbol, e.cfg.Broker.MagicNumber)
	if err != nil {
		e.writeStatus(0, account.Equity, err)
		return OutcomeDataError, fmt.Errorf("open positions: %w", err)
	}

	if len(open) > e.cfg.Trading.MaxPositions {
		// State-tracking bug, not a market condition. Leave the last good
		// status on disk and stop admitting.
		e.haltErr = fmt.Errorf("%w: %d open positions with limit %d",
			ErrInvariantViolation, len(open), e.cfg.Trading.MaxPositions)
		e.log.Error().Err(e.haltErr).Msg("halting")
		return OutcomePaused, e.haltErr
	}

	if day, week := e.limits.Rollover(now, account.Equity); day || week {
		e.log.Info().Bool("week", week).Msg("rollover")
		if !e.limits.Paused() {
			e.notifier.Send("limits reset, trading resumed")
		}
	}

	dailyPnL, weeklyPnL := e.realizedPnL(ctx, now)
	if e.limits.Observe(now, dailyPnL, weeklyPnL, account.Equity) {
		e.notifier.Send(fmt.Sprintf("trading paused (%s): daily %.2f weekly %.2f",
			e.limits.State(), dailyPnL, weeklyPnL))
	}
	// Gauge tracks the current state, not transitions, so a pause restored
	// from disk reports immediately.
	if e.limits.Paused() {
		metrics.PauseGauge.Set(1)
	} else {
		metrics.PauseGauge.Set(0)
	}
	metrics.DailyPnL.Set(dailyPnL)
	metrics.Equity.Set(account.Equity)

	if err := e.calendar.Refresh(ctx); err != nil {
		e.log.Warn().Err(err).Msg("calendar refresh failed")
	}
	e.maybeNewsSummary(now)

	// Reconcile tracked positions before managing: closes are recorded and
	// reported exactly once.
	closed, err := e.venue.ClosedTrades(ctx, e.brokerTime(e.limits.DayOpen()), e.brokerTime(now), e.cfg.Broker.MagicNumber)
	if err != nil {
		e.log.Warn().Err(err).Msg("closed trades fetch failed")
	}
	e.handleEvents(e.positions.Sync(open, closed, now), closed)

	atr := indicator.ATR(bars, e.indCfg.ATRPeriod)
	scalpMode := e.cfg.Trading.Volatility.Enabled && e.cfg.Trading.Volatility.ScalpThreshold > 0 &&
		atr > e.cfg.Trading.Volatility.ScalpThreshold

	// Lifecycle management runs on every tick, blackout or not: stop updates
	// are safety-relevant.
	if len(bars) > 0 {
		e.handleEvents(e.positions.Manage(ctx, open, bars[len(bars)-1], atr, scalpMode), closed)
	}

	defer func() { e.writeStatus(len(open), account.Equity, nil) }()

	if e.limits.Paused() {
		return OutcomePaused, nil
	}
	if allowed, reason := e.sched.EntryAllowed(now); !allowed {
		if reason == schedule.ReasonMarketClosed {
			return OutcomeMarketShut, nil
		}
		metrics.RejectionsTotal.WithLabelValues(reason).Inc()
		return OutcomeBlackout, nil
	}
	if blocked, ev := e.calendar.Blocked(now); blocked {
		// Alert once per event, not once per tick inside its window.
		key := ev.Title + ev.Time.Format(time.RFC3339)
		if key != e.lastNewsAlert {
			e.lastNewsAlert = key
			e.log.Info().Str("event", ev.Title).Str("currency", ev.Currency).Msg("news blackout")
			e.notifier.Send(fmt.Sprintf("news blackout: %s %s (%s)", ev.Currency, ev.Title, ev.Impact))
		}
		metrics.RejectionsTotal.WithLabelValues("news blackout").Inc()
		return OutcomeBlackout, nil
	}
	if v := e.cfg.Trading.Volatility; v.Enabled && v.SkipOnExtremeATR && v.ATRMaxForTrading > 0 && atr > v.ATRMaxForTrading {
		metrics.RejectionsTotal.WithLabelValues("extreme atr").Inc()
		return OutcomeExtremeATR, nil
	}

	snap, err := indicator.Compute(bars, e.indCfg)
	if err != nil {
		e.log.Debug().Err(err).Msg("waiting for history")
		return OutcomeNoHistory, nil
	}
	buy, sell := e.evaluator.Evaluate(snap)
	decision := e.evaluator.Decide(buy, sell, now)
	if decision.Direction == strategy.Flat {
		return OutcomeIdle, nil
	}
	side := market.Side(decision.Direction)
	metrics.SignalsTotal.WithLabelValues(string(side)).Inc()

	if !e.cooldownElapsed(side, now, scalpMode) {
		metrics.RejectionsTotal.WithLabelValues("cooldown").Inc()
		return OutcomeCooldown, nil
	}

	openLots := 0.0
	for _, p := range open {
		openLots += p.Volume
	}
	admit := e.admission.Evaluate(risk.Request{
		Side:      side,
		Entry:     snap.Close,
		ATR:       atr,
		Account:   account,
		OpenCount: len(open),
		OpenLots:  openLots,
		Info:      e.info,
		Paused:    e.limits.Paused(),
	})
	if !admit.Allowed {
		e.log.Info().Str("side", string(side)).Str("reason", admit.Reason).
			Int("met", decision.Result.Met).Msg("entry rejected")
		metrics.RejectionsTotal.WithLabelValues(admit.Reason).Inc()
		return OutcomeRejected, nil
	}

	fill, err := e.venue.SubmitOrder(ctx, market.OrderRequest{
		Symbol:     e.cfg.Broker.Symbol,
		Side:       side,
		Volume:     admit.Lot,
		Price:      snap.Close,
		StopLoss:   admit.StopLoss,
		TakeProfit: admit.TakeProfit,
		Magic:      e.cfg.Broker.MagicNumber,
		Comment:    fmt.Sprintf("sniper %d/%d", decision.Result.Met, decision.Result.Total),
	})
	if err != nil {
		e.log.Error().Err(err).Str("side", string(side)).Msg("order submit failed")
		return OutcomeRejected, fmt.Errorf("submit order: %w", err)
	}

	e.positions.Track(market.Position{
		Ticket:     fill.Ticket,
		Symbol:     e.cfg.Broker.Symbol,
		Magic:      e.cfg.Broker.MagicNumber,
		Side:       side,
		Volume:     admit.Lot,
		OpenPrice:  fill.Price,
		StopLoss:   admit.StopLoss,
		TakeProfit: admit.TakeProfit,
		OpenedAt:   fill.At,
	})
	e.lastEntry[side] = now
	metrics.OrdersTotal.WithLabelValues(string(side)).Inc()
	e.log.Info().
		Str("side", string(side)).
		Float64("lot", admit.Lot).
		Float64("price", fill.Price).
		Float64("sl", admit.StopLoss).
		Float64("tp", admit.TakeProfit).
		Strs("reasons", decision.Result.Reasons).
		Msg("position opened")
	e.notifier.Send(fmt.Sprintf("%s %s %.2f @ %.5f sl %.5f tp %.5f (%d/%d)",
		side, e.cfg.Broker.Symbol, admit.Lot, fill.Price, admit.StopLoss, admit.TakeProfit,
		decision.Result.Met, decision.Result.Total))
	return OutcomeEntry, nil
}

// maybeNewsSummary sends the week's monitored calendar once, during the
// configured weekday hour.
func (e *Engine) maybeNewsSummary(now time.Time) {
	n := e.cfg.News
	if !n.Enabled || !n.WeeklySummary {
		return
	}
	at := now.UTC()
	if int(at.Weekday()) != n.WeeklySummaryDay || at.Hour() != n.WeeklySummaryHour {
		return
	}
	if !e.lastSummaryAt.IsZero() && at.Sub(e.lastSummaryAt) < 24*time.Hour {
		return
	}
	e.lastSummaryAt = at

	events := e.calendar.Upcoming(now, 7*24*time.Hour)
	var b strings.Builder
	fmt.Fprintf(&b, "week ahead: %d monitored events", len(events))
	for i, ev := range events {
		if i == 10 {
			fmt.Fprintf(&b, "\nand %d more", len(events)-i)
			break
		}
		fmt.Fprintf(&b, "\n%s %s %s (%s)",
			ev.Time.Format("Mon 15:04"), ev.Currency, ev.Title, ev.Impact)
	}
	e.notifier.Send(b.String())
}

func (e *Engine) cooldownElapsed(side market.Side, now time.Time, scalpMode bool) bool {
	last, ok := e.lastEntry[side]
	if !ok {
		return true
	}
	secs := e.cfg.Trading.Volatility.NormalCooldownSecs
	if scalpMode {
		secs = e.cfg.Trading.Volatility.ScalpCooldownSecs
	}
	return now.Sub(last) >= time.Duration(secs)*time.Second
}

// brokerTime maps a local instant onto the venue's clock. Deal history is
// stamped in broker server time, offset hours ahead of UTC.
func (e *Engine) brokerTime(t time.Time) time.Time {
	return t.Add(time.Duration(e.cfg.Broker.TimezoneOffset) * time.Hour)
}

// realizedPnL sums closed-trade profits since the day and week opens.
func (e *Engine) realizedPnL(ctx context.Context, now time.Time) (daily, weekly float64) {
	weekTrades, err := e.venue.ClosedTrades(ctx, e.brokerTime(e.limits.WeekOpen()), e.brokerTime(now), e.cfg.Broker.MagicNumber)
	if err != nil {
		e.log.Warn().Err(err).Msg("weekly trades fetch failed")
		return e.limits.DailyPnL(), e.limits.WeeklyPnL()
	}
	dayOpen := e.brokerTime(e.limits.DayOpen())
	for _, tr := range weekTrades {
		weekly += tr.Profit
		if !tr.ClosedAt.Before(dayOpen) {
			daily += tr.Profit
		}
	}
	return daily, weekly
}

func (e *Engine) handleEvents(events []position.Event, closed []market.ClosedTrade) {
	for _, ev := range events {
		switch ev.Kind {
		case position.KindClosed:
			metrics.ClosesTotal.WithLabelValues(ev.Reason).Inc()
			e.recordClose(ev, closed)
			e.notifier.Send(fmt.Sprintf("closed #%d (%s) %.2f", ev.Ticket, ev.Reason, ev.Profit))
		case position.KindScalpExit:
			metrics.ClosesTotal.WithLabelValues(position.CloseScalp).Inc()
			e.notifier.Send(fmt.Sprintf("scalp exit #%d +%.2f", ev.Ticket, ev.Profit))
		case position.KindBreakevenSet:
			metrics.StopModsTotal.WithLabelValues("breakeven").Inc()
			e.notifier.Send(fmt.Sprintf("breakeven set #%d @ %.5f", ev.Ticket, ev.Stop))
		case position.KindTrailTightened:
			metrics.StopModsTotal.WithLabelValues("trail").Inc()
		}
		e.log.Info().
			Str("kind", string(ev.Kind)).
			Int64("ticket", ev.Ticket).
			Str("reason", ev.Reason).
			Float64("stop", ev.Stop).
			Float64("profit", ev.Profit).
			Msg("position event")
	}
}

func (e *Engine) recordClose(ev position.Event, closed []market.ClosedTrade) {
	for _, tr := range closed {
		if tr.Ticket != ev.Ticket {
			continue
		}
		e.tracker.Record(stats.TradeRecord{
			Ticket:   tr.Ticket,
			Side:     tr.Side,
			Volume:   tr.Volume,
			Entry:    tr.Entry,
			Exit:     tr.Exit,
			Profit:   tr.Profit,
			Reason:   ev.Reason,
			ClosedAt: tr.ClosedAt,
		})
		return
	}
}

func (e *Engine) writeStatus(openCount int, equity float64, tickErr error) {
	rec := status.Record{
		Symbol:        e.cfg.Broker.Symbol,
		Paused:        e.limits.Paused(),
		OpenPositions: openCount,
		DailyPnL:      e.limits.DailyPnL(),
		WeeklyPnL:     e.limits.WeeklyPnL(),
		Equity:        equity,
	}
	if e.limits.Paused() {
		rec.PauseReason = string(e.limits.State())
	}
	if tickErr != nil {
		rec.LastTickError = tickErr.Error()
	}
	if err := e.statusW.Write(rec); err != nil {
		e.log.Warn().Err(err).Msg("status write failed")
	}
}
