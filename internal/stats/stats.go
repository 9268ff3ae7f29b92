// Package stats keeps a rolling history of closed trades and derives the
// performance summary reported on shutdown and in weekly notifications.
package stats

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/market"
	"github.com/MrADeveci/fusion-sniper-bot/internal/util"
)

// TradeRecord is one completed round trip.
type TradeRecord struct {
	Ticket   int64       `json:"ticket"`
	Side     market.Side `json:"side"`
	Volume   float64     `json:"volume"`
	Entry    float64     `json:"entry"`
	Exit     float64     `json:"exit"`
	Profit   float64     `json:"profit"`
	Reason   string      `json:"reason"`
	ClosedAt time.Time   `json:"closed_at"`
}

// Summary aggregates the tracked history.
type Summary struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRatePct   float64 `json:"win_rate_pct"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	NetProfit    float64 `json:"net_profit"`
	ProfitFactor float64 `json:"profit_factor"`
	BestTrade    float64 `json:"best_trade"`
	WorstTrade   float64 `json:"worst_trade"`
}

// Tracker is a bounded append-only trade log persisted as JSON.
type Tracker struct {
	cfg config.Statistics
	log zerolog.Logger

	mu      sync.Mutex
	records []TradeRecord
}

// NewTracker loads any existing history from the configured log file.
func NewTracker(cfg config.Statistics, log zerolog.Logger) *Tracker {
	t := &Tracker{cfg: cfg, log: log}
	if cfg.LogFile == "" {
		return t
	}
	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", cfg.LogFile).Msg("stats history unreadable")
		}
		return t
	}
	if err := json.Unmarshal(data, &t.records); err != nil {
		log.Warn().Err(err).Str("path", cfg.LogFile).Msg("stats history corrupt, starting fresh")
		t.records = nil
	}
	return t
}

// Record appends a trade, trims to the configured history bound, and persists.
func (t *Tracker) Record(rec TradeRecord) {
	if !t.cfg.Enabled {
		return
	}
	t.mu.Lock()
	t.records = append(t.records, rec)
	if max := t.cfg.MaxTradesHistory; max > 0 && len(t.records) > max {
		t.records = t.records[len(t.records)-max:]
	}
	snapshot := make([]TradeRecord, len(t.records))
	copy(snapshot, t.records)
	t.mu.Unlock()

	t.persist(snapshot)
}

func (t *Tracker) persist(records []TradeRecord) {
	if t.cfg.LogFile == "" {
		return
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		t.log.Error().Err(err).Msg("marshal stats history")
		return
	}
	if err := util.WriteFileAtomic(t.cfg.LogFile, data, 0o644); err != nil {
		t.log.Error().Err(err).Str("path", t.cfg.LogFile).Msg("persist stats history")
	}
}

// Count returns the number of tracked trades.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Summary computes performance aggregates over the tracked history.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	s.Trades = len(t.records)
	if s.Trades == 0 {
		return s
	}
	s.BestTrade = math.Inf(-1)
	s.WorstTrade = math.Inf(1)
	for _, rec := range t.records {
		if rec.Profit >= 0 {
			s.Wins++
			s.GrossProfit += rec.Profit
		} else {
			s.Losses++
			s.GrossLoss += -rec.Profit
		}
		if rec.Profit > s.BestTrade {
			s.BestTrade = rec.Profit
		}
		if rec.Profit < s.WorstTrade {
			s.WorstTrade = rec.Profit
		}
	}
	s.NetProfit = s.GrossProfit - s.GrossLoss
	s.WinRatePct = float64(s.Wins) / float64(s.Trades) * 100
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	} else if s.GrossProfit > 0 {
		s.ProfitFactor = math.Inf(1)
	}
	return s
}
