package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/engine"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
	"github.com/MrADeveci/fusion-sniper-bot/internal/news"
	"github.com/MrADeveci/fusion-sniper-bot/internal/notify"
	"github.com/MrADeveci/fusion-sniper-bot/internal/stats"
	"github.com/MrADeveci/fusion-sniper-bot/internal/status"
)

func flowConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Broker.Symbol = "EURUSD"
	cfg.Broker.MagicNumber = 790412
	cfg.Trading.Timeframe = "M5"
	cfg.Trading.MarketDataBars = 300
	cfg.Trading.MaxPositions = 1
	cfg.Trading.StopLossATRMultiple = 0.4
	cfg.Trading.TakeProfitATRMultiple = 20
	cfg.Trading.Volatility.ATRPeriod = 14
	cfg.Trading.Volatility.NormalCooldownSecs = 1
	cfg.Strategy.MinConditionsRequired = 3
	cfg.Strategy.EMAFastPeriod = 5
	cfg.Strategy.EMASlowPeriod = 10
	cfg.Strategy.EMATrendPeriod = 20
	cfg.Strategy.RSIPeriod = 14
	cfg.Strategy.RSIOversold = 30
	cfg.Strategy.RSIOverbought = 70
	cfg.Strategy.ADXPeriod = 14
	cfg.Strategy.ADXThreshold = 25
	cfg.Strategy.StochasticK = 14
	cfg.Strategy.StochasticD = 3
	cfg.Strategy.StochasticOversold = 20
	cfg.Strategy.StochasticOverbought = 80
	cfg.Strategy.BollingerPeriod = 20
	cfg.Strategy.BollingerStd = 2
	cfg.Risk.RiskPerTradePct = 1.0
	cfg.Risk.MaxDailyLoss = 40
	cfg.Risk.MaxWeeklyLoss = 1000
	cfg.Risk.WeekStartDay = int(time.Monday)
	cfg.Risk.Timezone = "UTC"
	cfg.Risk.StatePath = filepath.Join(dir, "risk.json")
	cfg.Statistics.Enabled = true
	cfg.Statistics.MaxTradesHistory = 50
	cfg.Statistics.LogFile = filepath.Join(dir, "trades.json")
	cfg.System.MainLoopIntervalSecs = 10
	cfg.System.PausedLoopIntervalSecs = 30
	cfg.System.IdleLoopIntervalSecs = 60
	cfg.System.StatusFile = filepath.Join(dir, "status.json")
	cfg.System.DataMode = "sim"
	return cfg
}

func trendBars(n int, start, step float64) []market.PriceBar {
	base := time.Now().Add(-time.Duration(n) * 5 * time.Minute)
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

// The full trade-to-pause path: a trend entry, a stop-loss hit big enough to
// cross the daily cap, the resulting pause, and the pause rejecting the next
// signal even though the trend still qualifies.
func TestEntryStopLossAndDailyPause(t *testing.T) {
	cfg := flowConfig(t)
	info := market.SymbolInfo{
		Point: 0.00001, PipSize: 0.0001, LotStep: 0.01,
		MinLot: 0.01, MaxLot: 50, ContractSize: 100000,
	}
	sim := market.NewSim(cfg.Broker.Symbol, info, 10000, trendBars(120, 1.0000, 0.0010))

	eng, err := engine.New(context.Background(), cfg, sim,
		news.NewFilter(cfg.News, zerolog.Nop()),
		notify.New(cfg.Telegram, zerolog.Nop()),
		stats.NewTracker(cfg.Statistics, zerolog.Nop()),
		zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	now := time.Now()
	outcome, err := eng.Tick(context.Background(), now)
	if err != nil || outcome != engine.OutcomeEntry {
		t.Fatalf("expected entry, got %s err=%v", outcome, err)
	}
	open, _ := sim.OpenPositions(context.Background(), cfg.Broker.Symbol, cfg.Broker.MagicNumber)
	if len(open) != 1 {
		t.Fatalf("expected one open position")
	}
	entry := open[0].OpenPrice
	stop := open[0].StopLoss
	// 1% risk against the 0.4x ATR stop: losing this trade realizes about
	// -100, past the 40 cap.
	lossIfStopped := (entry - stop) * open[0].Volume * info.ContractSize
	if lossIfStopped <= cfg.Risk.MaxDailyLoss {
		t.Fatalf("test setup: stop loss %.2f must exceed the daily cap", lossIfStopped)
	}

	// Crash through the stop.
	last := sim.LastClose()
	sim.Advance(market.PriceBar{
		Time: time.Now(), Open: last,
		High: last, Low: stop - 0.0010, Close: stop - 0.0005, Volume: 10,
	})

	outcome, err = eng.Tick(context.Background(), now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if outcome != engine.OutcomePaused {
		t.Fatalf("stop-out past the cap should pause, got %s", outcome)
	}
	if eng.Limits().State() != "paused_daily_loss" {
		t.Fatalf("unexpected state %s", eng.Limits().State())
	}

	// Fresh trend bars keep the signal alive, but the pause holds.
	sim.Advance(market.PriceBar{
		Time: time.Now(), Open: stop, High: stop + 0.0015,
		Low: stop - 0.0005, Close: stop + 0.0010, Volume: 10,
	})
	outcome, err = eng.Tick(context.Background(), now.Add(20*time.Second))
	if err != nil || outcome != engine.OutcomePaused {
		t.Fatalf("paused engine must stay flat, got %s err=%v", outcome, err)
	}
	open, _ = sim.OpenPositions(context.Background(), cfg.Broker.Symbol, cfg.Broker.MagicNumber)
	if len(open) != 0 {
		t.Fatalf("no positions may open while paused")
	}

	// Side effects: the close reached statistics and the status surface
	// reflects the pause.
	tracker := stats.NewTracker(cfg.Statistics, zerolog.Nop())
	if tracker.Count() != 1 {
		t.Fatalf("expected one recorded trade, got %d", tracker.Count())
	}
	if s := tracker.Summary(); s.NetProfit >= 0 {
		t.Fatalf("recorded trade should be a loss, got %.2f", s.NetProfit)
	}
	rec, err := status.Read(cfg.System.StatusFile)
	if err != nil {
		t.Fatalf("status.Read: %v", err)
	}
	if !rec.Paused || rec.PauseReason != "paused_daily_loss" {
		t.Fatalf("status surface wrong: %+v", rec)
	}
	if rec.DailyPnL >= 0 {
		t.Fatalf("status daily pnl should be negative, got %.2f", rec.DailyPnL)
	}
}
