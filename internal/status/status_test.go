package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "status.json")
	w := NewWriter(path)

	err := w.Write(Record{
		Symbol:        "EURUSD",
		Paused:        true,
		PauseReason:   "paused_daily_loss",
		OpenPositions: 1,
		DailyPnL:      -150,
		Equity:        9850,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	rec, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if rec.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", rec.PID, os.Getpid())
	}
	if rec.HeartbeatTS.IsZero() {
		t.Fatalf("heartbeat not stamped")
	}
	if !rec.Paused || rec.PauseReason != "paused_daily_loss" || rec.DailyPnL != -150 {
		t.Fatalf("record round trip lost fields: %+v", rec)
	}
}

func TestStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := Record{HeartbeatTS: now.Add(-4 * time.Minute)}
	if rec.Stale(now, 5*time.Minute) {
		t.Fatalf("4m old heartbeat should not be stale at 5m")
	}
	if !rec.Stale(now, 3*time.Minute) {
		t.Fatalf("4m old heartbeat should be stale at 3m")
	}
}

func TestEmptyPathIsNoOp(t *testing.T) {
	w := NewWriter("")
	if err := w.Write(Record{}); err != nil {
		t.Fatalf("empty path must be a no-op: %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
