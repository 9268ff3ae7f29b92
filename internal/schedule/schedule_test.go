package schedule

import (
	"testing"
	"time"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
)

func testTrading() config.Trading {
	return config.Trading{
		Hours: config.TradingHours{
			SaturdayClosed:  true,
			SundayClosed:    false,
			SundayOpenHour:  22,
			MondayOpenHour:  1,
			FridayCloseHour: 21,
		},
		SwapAvoidanceEnabled: true,
		SwapWindows: []config.SwapWindow{
			{Start: "23:45", End: "00:15"}, // wraps midnight
			{Start: "16:55", End: "17:05"},
		},
	}
}

func mustNew(t *testing.T, trading config.Trading, offset int) *Schedule {
	t.Helper()
	s, err := New(trading, offset)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func at(day time.Weekday, hour, min int) time.Time {
	// 2026-03-02 is a Monday.
	base := time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
	return base.AddDate(0, 0, (int(day)-int(time.Monday)+7)%7)
}

func TestMarketOpenWeeklyCalendar(t *testing.T) {
	s := mustNew(t, testTrading(), 0)

	cases := []struct {
		name string
		when time.Time
		want bool
	}{
		{"saturday closed", at(time.Saturday, 12, 0), false},
		{"sunday before open", at(time.Sunday, 21, 0), false},
		{"sunday after open", at(time.Sunday, 22, 30), true},
		{"monday before open", at(time.Monday, 0, 30), false},
		{"monday after open", at(time.Monday, 1, 0), true},
		{"midweek", at(time.Wednesday, 12, 0), true},
		{"friday before close", at(time.Friday, 20, 59), true},
		{"friday after close", at(time.Friday, 21, 0), false},
	}
	for _, tc := range cases {
		if got := s.MarketOpen(tc.when); got != tc.want {
			t.Fatalf("%s: MarketOpen=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSwapWindowWrapsMidnight(t *testing.T) {
	s := mustNew(t, testTrading(), 0)

	if !s.InSwapWindow(at(time.Wednesday, 23, 50)) {
		t.Fatalf("23:50 should be inside the wrapping window")
	}
	if !s.InSwapWindow(at(time.Wednesday, 0, 10)) {
		t.Fatalf("00:10 should be inside the wrapping window")
	}
	if s.InSwapWindow(at(time.Wednesday, 0, 15)) {
		t.Fatalf("00:15 is the exclusive end")
	}
	if !s.InSwapWindow(at(time.Wednesday, 17, 0)) {
		t.Fatalf("17:00 should be inside the rollover window")
	}
	if s.InSwapWindow(at(time.Wednesday, 12, 0)) {
		t.Fatalf("midday should be clear")
	}
}

func TestSwapWindowDisabled(t *testing.T) {
	trading := testTrading()
	trading.SwapAvoidanceEnabled = false
	s := mustNew(t, trading, 0)

	if s.InSwapWindow(at(time.Wednesday, 23, 50)) {
		t.Fatalf("disabled swap avoidance must never block")
	}
}

func TestBrokerOffsetShiftsChecks(t *testing.T) {
	// Broker runs 2h ahead: local Friday 19:30 is server 21:30, past close.
	s := mustNew(t, testTrading(), 2)
	if s.MarketOpen(at(time.Friday, 19, 30)) {
		t.Fatalf("server time past Friday close should be closed")
	}
	if s.MarketOpen(at(time.Friday, 21, 30)) {
		t.Fatalf("local 21:30 is server Friday 23:30, still closed")
	}
	// Local Wednesday 22:00 is server Thursday 00:00, inside the wrap window.
	if !s.InSwapWindow(at(time.Wednesday, 22, 0)) {
		t.Fatalf("offset should land inside the wrapping swap window")
	}
}

func TestEntryAllowedReasons(t *testing.T) {
	s := mustNew(t, testTrading(), 0)

	ok, reason := s.EntryAllowed(at(time.Saturday, 12, 0))
	if ok || reason != ReasonMarketClosed {
		t.Fatalf("expected market-closed veto, got ok=%v reason=%q", ok, reason)
	}
	ok, reason = s.EntryAllowed(at(time.Wednesday, 17, 0))
	if ok || reason != ReasonSwapWindow {
		t.Fatalf("expected swap veto, got ok=%v reason=%q", ok, reason)
	}
	if ok, _ = s.EntryAllowed(at(time.Wednesday, 12, 0)); !ok {
		t.Fatalf("midweek midday should allow entries")
	}
}

func TestNewRejectsMalformedWindow(t *testing.T) {
	trading := testTrading()
	trading.SwapWindows = append(trading.SwapWindows, config.SwapWindow{Start: "25:00", End: "01:00"})
	if _, err := New(trading, 0); err == nil {
		t.Fatalf("expected parse error for hour 25")
	}
}
