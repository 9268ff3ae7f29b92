// Package status maintains the heartbeat file the watchdog reads to decide
// whether the engine is alive.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/MrADeveci/fusion-sniper-bot/internal/util"
)

// Record is the on-disk status surface, rewritten atomically every tick.
type Record struct {
	HeartbeatTS   time.Time `json:"heartbeat_ts"`
	PID           int       `json:"pid"`
	Symbol        string    `json:"symbol"`
	Paused        bool      `json:"paused"`
	PauseReason   string    `json:"pause_reason,omitempty"`
	OpenPositions int       `json:"open_position_count"`
	DailyPnL      float64   `json:"daily_pnl"`
	WeeklyPnL     float64   `json:"weekly_pnl"`
	Equity        float64   `json:"equity"`
	LastTickError string    `json:"last_tick_error,omitempty"`
}

// Writer owns the status file path.
type Writer struct {
	path string
}

// NewWriter builds a writer; an empty path disables the surface.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write stamps the record with the clock and pid and persists it atomically,
// so the watchdog never observes a torn file.
func (w *Writer) Write(rec Record) error {
	if w.path == "" {
		return nil
	}
	rec.HeartbeatTS = time.Now()
	rec.PID = os.Getpid()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return util.WriteFileAtomic(w.path, data, 0o644)
}

// Read loads a status record from disk.
func Read(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode status: %w", err)
	}
	return rec, nil
}

// Stale reports whether the heartbeat is older than maxAge at now.
func (r Record) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.HeartbeatTS) > maxAge
}
