package position

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
)

const (
	testSymbol = "EURUSD"
	testMagic  = int64(790412)
)

func fxInfo() market.SymbolInfo {
	return market.SymbolInfo{
		Point:        0.00001,
		PipSize:      0.0001,
		LotStep:      0.01,
		MinLot:       0.01,
		MaxLot:       50,
		ContractSize: 100000,
	}
}

func tradingConfig() config.Trading {
	return config.Trading{
		UseSmartBreakeven:   true,
		BreakevenProfitMult: 1.0,
		BreakevenLockMult:   0.1,
		UseTrailingStop:     true,
		TrailingATRMultiple: 2.0,
		TrailActivationMult: 3.0,
		Volatility: config.Volatility{
			Enabled:           true,
			ScalpProfitTarget: 50,
		},
	}
}

func bar(at time.Time, o, h, l, c float64) market.PriceBar {
	return market.PriceBar{Time: at, Open: o, High: h, Low: l, Close: c, Volume: 10}
}

func t0() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

// openBuy seeds a sim with one long at 1.0800 and tracks it. Pass tp=0 for
// tests whose bars would otherwise trade through the target.
func openBuy(t *testing.T, trading config.Trading, tp float64) (*market.Sim, *Manager, int64) {
	t.Helper()
	sim := market.NewSim(testSymbol, fxInfo(), 10000, []market.PriceBar{
		bar(t0(), 1.0800, 1.0801, 1.0799, 1.0800),
	})
	fill, err := sim.SubmitOrder(context.Background(), market.OrderRequest{
		Symbol: testSymbol, Side: market.Buy, Volume: 1.0,
		Price: 1.0800, StopLoss: 1.0796, TakeProfit: tp, Magic: testMagic,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	mgr := NewManager(sim, trading, fxInfo(), zerolog.Nop())
	open, err := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	if err != nil || len(open) != 1 {
		t.Fatalf("OpenPositions: %v (%d)", err, len(open))
	}
	mgr.Track(open[0])
	return sim, mgr, fill.Ticket
}

func managed(t *testing.T, sim *market.Sim, mgr *Manager, b market.PriceBar, atr float64, scalp bool) []Event {
	t.Helper()
	sim.Advance(b)
	open, err := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	return mgr.Manage(context.Background(), open, b, atr, scalp)
}

func TestBreakevenPromotion(t *testing.T) {
	sim, mgr, ticket := openBuy(t, tradingConfig(), 1.0820)
	atr := 0.0010

	// 5 pips up: below the 10-pip (1.0 ATR) breakeven trigger.
	evs := managed(t, sim, mgr, bar(t0().Add(time.Minute), 1.0800, 1.0806, 1.0800, 1.0805), atr, false)
	if len(evs) != 0 {
		t.Fatalf("no transition expected below trigger, got %+v", evs)
	}

	// 10 pips up: trigger hit, stop moves to entry + 0.1*ATR = 1.08010.
	evs = managed(t, sim, mgr, bar(t0().Add(2*time.Minute), 1.0805, 1.0811, 1.0804, 1.0810), atr, false)
	if len(evs) != 1 || evs[0].Kind != KindBreakevenSet {
		t.Fatalf("expected breakeven event, got %+v", evs)
	}
	if math.Abs(evs[0].Stop-1.0801) > 1e-9 {
		t.Fatalf("unexpected lock level: %.5f", evs[0].Stop)
	}
	tr, _ := mgr.Get(ticket)
	if tr.State != StateBreakeven {
		t.Fatalf("expected breakeven state, got %s", tr.State)
	}
	if math.Abs(tr.ConfirmedStop-1.0801) > 1e-9 {
		t.Fatalf("confirmed stop not advanced: %.5f", tr.ConfirmedStop)
	}
}

func TestTrailingActivatesAndTightensMonotonically(t *testing.T) {
	sim, mgr, ticket := openBuy(t, tradingConfig(), 0)
	atr := 0.0010

	// 30 pips up activates the trail; stop = high - 2*ATR = 1.0831 - 0.0020.
	evs := managed(t, sim, mgr, bar(t0().Add(time.Minute), 1.0800, 1.0831, 1.0800, 1.0830), atr, false)
	if len(evs) != 1 || evs[0].Kind != KindTrailTightened {
		t.Fatalf("expected trail event, got %+v", evs)
	}
	if math.Abs(evs[0].Stop-1.0811) > 1e-9 {
		t.Fatalf("unexpected trail level: %.5f", evs[0].Stop)
	}

	// New high drags the stop up with it.
	evs = managed(t, sim, mgr, bar(t0().Add(2*time.Minute), 1.0830, 1.0841, 1.0829, 1.0840), atr, false)
	if len(evs) != 1 || math.Abs(evs[0].Stop-1.0821) > 1e-9 {
		t.Fatalf("expected tightened trail at 1.0821, got %+v", evs)
	}

	// Retreat: extreme is unchanged, so the stop must not move.
	evs = managed(t, sim, mgr, bar(t0().Add(3*time.Minute), 1.0840, 1.0840, 1.0826, 1.0828), atr, false)
	if len(evs) != 0 {
		t.Fatalf("retreating price must not loosen the stop, got %+v", evs)
	}
	tr, _ := mgr.Get(ticket)
	if math.Abs(tr.ConfirmedStop-1.0821) > 1e-9 {
		t.Fatalf("stop moved on retreat: %.5f", tr.ConfirmedStop)
	}
	if tr.State != StateTrailing {
		t.Fatalf("expected trailing state, got %s", tr.State)
	}
}

func TestRejectedModifyKeepsConfirmedStop(t *testing.T) {
	sim, mgr, ticket := openBuy(t, tradingConfig(), 0)
	atr := 0.0010
	sim.RejectModifies = true

	evs := managed(t, sim, mgr, bar(t0().Add(time.Minute), 1.0800, 1.0831, 1.0800, 1.0830), atr, false)
	if len(evs) != 0 {
		t.Fatalf("rejected modify must not emit events, got %+v", evs)
	}
	tr, _ := mgr.Get(ticket)
	if math.Abs(tr.ConfirmedStop-1.0796) > 1e-9 {
		t.Fatalf("confirmed stop must stay at entry stop, got %.5f", tr.ConfirmedStop)
	}
	if tr.State != StateInitial {
		t.Fatalf("state must not advance on rejection, got %s", tr.State)
	}

	// Venue recovers: the same tick's logic retries and succeeds.
	sim.RejectModifies = false
	evs = managed(t, sim, mgr, bar(t0().Add(2*time.Minute), 1.0830, 1.0832, 1.0829, 1.0830), atr, false)
	if len(evs) != 1 || evs[0].Kind != KindTrailTightened {
		t.Fatalf("expected retry to succeed, got %+v", evs)
	}
}

func TestScalpExitClosesAtCurrencyTarget(t *testing.T) {
	sim, mgr, ticket := openBuy(t, tradingConfig(), 1.0820)
	atr := 0.0010

	// 6 pips on 1 lot = 60 GBP, past the 50 target. Scalp mode closes it.
	evs := managed(t, sim, mgr, bar(t0().Add(time.Minute), 1.0800, 1.0807, 1.0800, 1.0806), atr, true)
	if len(evs) != 1 || evs[0].Kind != KindScalpExit {
		t.Fatalf("expected scalp exit, got %+v", evs)
	}
	if evs[0].Profit < 50 {
		t.Fatalf("expected >= 50 profit, got %.2f", evs[0].Profit)
	}

	open, _ := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	if len(open) != 0 {
		t.Fatalf("position should be closed at the venue")
	}
	tr, _ := mgr.Get(ticket)
	if tr.State != StateClosing {
		t.Fatalf("expected closing state, got %s", tr.State)
	}
}

func TestScalpExitIgnoredOutsideScalpMode(t *testing.T) {
	sim, mgr, _ := openBuy(t, tradingConfig(), 1.0820)

	evs := managed(t, sim, mgr, bar(t0().Add(time.Minute), 1.0800, 1.0807, 1.0800, 1.0806), 0.0010, false)
	for _, ev := range evs {
		if ev.Kind == KindScalpExit {
			t.Fatalf("scalp exit must not fire in normal mode")
		}
	}
	open, _ := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	if len(open) != 1 {
		t.Fatalf("position should remain open")
	}
}

func TestSyncDetectsStopLossClose(t *testing.T) {
	sim, mgr, ticket := openBuy(t, tradingConfig(), 1.0820)

	// Bar trades through the 1.0796 stop; the sim fills and closes it.
	crash := bar(t0().Add(time.Minute), 1.0800, 1.0800, 1.0790, 1.0792)
	sim.Advance(crash)

	open, _ := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	closed, _ := sim.ClosedTrades(context.Background(), t0(), t0().Add(time.Hour), testMagic)
	evs := mgr.Sync(open, closed, crash.Time)

	if len(evs) != 1 || evs[0].Kind != KindClosed {
		t.Fatalf("expected one close event, got %+v", evs)
	}
	if evs[0].Reason != CloseStopLoss {
		t.Fatalf("expected stop_loss reason, got %q", evs[0].Reason)
	}
	if evs[0].Profit >= 0 {
		t.Fatalf("stopped long must realize a loss, got %.2f", evs[0].Profit)
	}
	if _, ok := mgr.Get(ticket); ok {
		t.Fatalf("closed position should be untracked")
	}
}

func TestSyncDetectsTakeProfitClose(t *testing.T) {
	sim, mgr, _ := openBuy(t, tradingConfig(), 1.0820)

	rally := bar(t0().Add(time.Minute), 1.0800, 1.0825, 1.0800, 1.0822)
	sim.Advance(rally)

	open, _ := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	closed, _ := sim.ClosedTrades(context.Background(), t0(), t0().Add(time.Hour), testMagic)
	evs := mgr.Sync(open, closed, rally.Time)

	if len(evs) != 1 || evs[0].Reason != CloseTakeProfit {
		t.Fatalf("expected take_profit close, got %+v", evs)
	}
	if evs[0].Profit <= 0 {
		t.Fatalf("target hit must realize a gain, got %.2f", evs[0].Profit)
	}
}

func TestSyncAdoptsUntrackedPosition(t *testing.T) {
	sim := market.NewSim(testSymbol, fxInfo(), 10000, []market.PriceBar{
		bar(t0(), 1.0800, 1.0801, 1.0799, 1.0800),
	})
	fill, err := sim.SubmitOrder(context.Background(), market.OrderRequest{
		Symbol: testSymbol, Side: market.Sell, Volume: 0.5,
		Price: 1.0800, StopLoss: 1.0810, Magic: testMagic,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	// Fresh manager, as after a restart: Sync adopts the live position.
	mgr := NewManager(sim, tradingConfig(), fxInfo(), zerolog.Nop())
	open, _ := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	if evs := mgr.Sync(open, nil, t0()); len(evs) != 0 {
		t.Fatalf("adoption must not emit close events, got %+v", evs)
	}
	tr, ok := mgr.Get(fill.Ticket)
	if !ok {
		t.Fatalf("position not adopted")
	}
	if tr.Side != market.Sell || tr.ConfirmedStop != 1.0810 {
		t.Fatalf("adopted record wrong: %+v", tr)
	}
}

func TestSellTrailUsesLowExtreme(t *testing.T) {
	sim := market.NewSim(testSymbol, fxInfo(), 10000, []market.PriceBar{
		bar(t0(), 1.0800, 1.0801, 1.0799, 1.0800),
	})
	_, err := sim.SubmitOrder(context.Background(), market.OrderRequest{
		Symbol: testSymbol, Side: market.Sell, Volume: 1.0,
		Price: 1.0800, StopLoss: 1.0804, Magic: testMagic,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	mgr := NewManager(sim, tradingConfig(), fxInfo(), zerolog.Nop())
	open, _ := sim.OpenPositions(context.Background(), testSymbol, testMagic)
	mgr.Track(open[0])

	atr := 0.0010
	// 30 pips down: trail hangs off the low, stop = 1.0769 + 0.0020.
	evs := managed(t, sim, mgr, bar(t0().Add(time.Minute), 1.0800, 1.0800, 1.0769, 1.0770), atr, false)
	if len(evs) != 1 || evs[0].Kind != KindTrailTightened {
		t.Fatalf("expected trail event, got %+v", evs)
	}
	if math.Abs(evs[0].Stop-1.0789) > 1e-9 {
		t.Fatalf("unexpected sell trail level: %.5f", evs[0].Stop)
	}
}
