// Package schedule gates entries on the weekly trading calendar and the
// configured swap-avoidance windows, all evaluated in broker server time.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
)

// Reasons returned by EntryAllowed.
const (
	ReasonMarketClosed = "market closed"
	ReasonSwapWindow   = "inside swap avoidance window"
)

type window struct {
	start int // minutes since midnight, server time
	end   int
}

// contains handles windows that wrap past midnight (start > end).
func (w window) contains(minute int) bool {
	if w.start <= w.end {
		return minute >= w.start && minute < w.end
	}
	return minute >= w.start || minute < w.end
}

// Schedule answers whether the market is open and entries are allowed at a
// given wall-clock instant.
type Schedule struct {
	hours       config.TradingHours
	swapEnabled bool
	windows     []window
	offset      time.Duration
}

// New parses the swap windows up front so malformed config fails at startup.
func New(trading config.Trading, brokerOffsetHours int) (*Schedule, error) {
	s := &Schedule{
		hours:       trading.Hours,
		swapEnabled: trading.SwapAvoidanceEnabled,
		offset:      time.Duration(brokerOffsetHours) * time.Hour,
	}
	for _, sw := range trading.SwapWindows {
		start, err := parseClock(sw.Start)
		if err != nil {
			return nil, fmt.Errorf("swap window start %q: %w", sw.Start, err)
		}
		end, err := parseClock(sw.End)
		if err != nil {
			return nil, fmt.Errorf("swap window end %q: %w", sw.End, err)
		}
		s.windows = append(s.windows, window{start: start, end: end})
	}
	return s, nil
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute")
	}
	return h*60 + m, nil
}

// ServerTime converts local wall-clock time to broker server time.
func (s *Schedule) ServerTime(now time.Time) time.Time {
	return now.Add(s.offset)
}

// MarketOpen reports whether the instrument trades at this instant.
func (s *Schedule) MarketOpen(now time.Time) bool {
	st := s.ServerTime(now)
	switch st.Weekday() {
	case time.Saturday:
		return !s.hours.SaturdayClosed
	case time.Sunday:
		if s.hours.SundayClosed {
			return false
		}
		return st.Hour() >= s.hours.SundayOpenHour
	case time.Monday:
		return st.Hour() >= s.hours.MondayOpenHour
	case time.Friday:
		if s.hours.FridayCloseHour > 0 {
			return st.Hour() < s.hours.FridayCloseHour
		}
		return true
	default:
		return true
	}
}

// InSwapWindow reports whether server time sits inside any avoidance window.
func (s *Schedule) InSwapWindow(now time.Time) bool {
	if !s.swapEnabled || len(s.windows) == 0 {
		return false
	}
	st := s.ServerTime(now)
	minute := st.Hour()*60 + st.Minute()
	for _, w := range s.windows {
		if w.contains(minute) {
			return true
		}
	}
	return false
}

// EntryAllowed combines the calendar and swap checks. Existing positions are
// still managed when this returns false; only new entries are gated.
func (s *Schedule) EntryAllowed(now time.Time) (bool, string) {
	if !s.MarketOpen(now) {
		return false, ReasonMarketClosed
	}
	if s.InSwapWindow(now) {
		return false, ReasonSwapWindow
	}
	return true, ""
}
