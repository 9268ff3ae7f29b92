// Package news blocks entries around scheduled economic events. The calendar
// comes from the ForexFactory weekly XML feed, cached on disk so a feed outage
// never leaves the engine blind to already-known events.
package news

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
	"github.com/MrADeveci/fusion-sniper-bot/internal/util"
)

// ImpactHoliday marks bank-holiday calendar rows, which get a wider buffer
// than regular releases.
const ImpactHoliday = "Holiday"

// Event is one calendar row. Time is UTC; AllDay rows carry noon.
type Event struct {
	Title    string    `json:"title"`
	Currency string    `json:"currency"`
	Impact   string    `json:"impact"`
	Time     time.Time `json:"time"`
	AllDay   bool      `json:"all_day"`
}

type xmlEvent struct {
	Title   string `xml:"title"`
	Country string `xml:"country"`
	Date    string `xml:"date"`
	Time    string `xml:"time"`
	Impact  string `xml:"impact"`
}

type xmlCalendar struct {
	Events []xmlEvent `xml:"event"`
}

type diskCache struct {
	FetchedAt time.Time `json:"fetched_at"`
	Events    []Event   `json:"events"`
}

// Filter fetches, caches, and queries the calendar.
type Filter struct {
	cfg    config.News
	client *http.Client
	log    zerolog.Logger

	mu        sync.Mutex
	events    []Event
	fetchedAt time.Time
}

// NewFilter builds a calendar filter. It loads the disk cache immediately so a
// restart has events before the first fetch completes.
func NewFilter(cfg config.News, log zerolog.Logger) *Filter {
	f := &Filter{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.APITimeoutSecs) * time.Second},
		log:    log,
	}
	if cached, err := loadCache(cfg.CachePath); err == nil {
		f.events = cached.Events
		f.fetchedAt = cached.FetchedAt
		log.Info().Int("events", len(cached.Events)).Msg("loaded news cache")
	}
	return f
}

// Refresh fetches the feed unless the in-memory copy is still fresh. Fetch
// failures are tolerated while cached events exist.
func (f *Filter) Refresh(ctx context.Context) error {
	if !f.cfg.Enabled {
		return nil
	}
	f.mu.Lock()
	maxAge := time.Duration(f.cfg.CacheMaxAgeMins) * time.Minute
	fresh := !f.fetchedAt.IsZero() && time.Since(f.fetchedAt) < maxAge
	haveEvents := len(f.events) > 0
	f.mu.Unlock()
	if fresh {
		return nil
	}

	events, err := f.fetch(ctx)
	if err != nil {
		if haveEvents {
			f.log.Warn().Err(err).Msg("news fetch failed, serving cached events")
			return nil
		}
		return fmt.Errorf("news fetch: %w", err)
	}

	f.mu.Lock()
	f.events = events
	f.fetchedAt = time.Now()
	f.mu.Unlock()

	f.persist(events)
	f.log.Info().Int("events", len(events)).Msg("news calendar refreshed")
	return nil
}

func (f *Filter) fetch(ctx context.Context) ([]Event, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(f.cfg.RetryDelaySecs) * time.Second):
			}
		}
		events, err := f.fetchOnce(ctx)
		if err == nil {
			return events, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *Filter) fetchOnce(ctx context.Context) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.APIURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar feed status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return ParseCalendar(body)
}

// ParseCalendar decodes the weekly XML feed. Rows with unparseable dates are
// dropped rather than failing the whole feed.
func ParseCalendar(data []byte) ([]Event, error) {
	var cal xmlCalendar
	if err := xml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("decode calendar xml: %w", err)
	}
	events := make([]Event, 0, len(cal.Events))
	for _, raw := range cal.Events {
		ev, ok := parseEvent(raw)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEvent(raw xmlEvent) (Event, bool) {
	ev := Event{
		Title:    strings.TrimSpace(raw.Title),
		Currency: strings.ToUpper(strings.TrimSpace(raw.Country)),
		Impact:   strings.TrimSpace(raw.Impact),
	}
	date := strings.TrimSpace(raw.Date)
	clock := strings.TrimSpace(raw.Time)

	switch strings.ToLower(clock) {
	case "tentative":
		// No scheduled time means no usable blackout window.
		return Event{}, false
	case "", "all day":
		t, err := time.ParseInLocation("01-02-2006", date, time.UTC)
		if err != nil {
			return Event{}, false
		}
		// Anchored at noon so the hour-denominated buffer spans the whole day.
		ev.Time = t.Add(12 * time.Hour)
		ev.AllDay = true
		return ev, true
	}
	t, err := time.ParseInLocation("01-02-2006 3:04pm", date+" "+strings.ToLower(clock), time.UTC)
	if err != nil {
		return Event{}, false
	}
	ev.Time = t
	return ev, true
}

// Seed replaces the in-memory calendar and marks it fresh. Used by tests and
// warm starts that already hold events.
func (f *Filter) Seed(events []Event) {
	f.mu.Lock()
	f.events = events
	f.fetchedAt = time.Now()
	f.mu.Unlock()
}

func (f *Filter) persist(events []Event) {
	if f.cfg.CachePath == "" {
		return
	}
	data, err := json.Marshal(diskCache{FetchedAt: time.Now(), Events: events})
	if err != nil {
		return
	}
	if err := util.WriteFileAtomic(f.cfg.CachePath, data, 0o644); err != nil {
		f.log.Warn().Err(err).Str("path", f.cfg.CachePath).Msg("persist news cache")
	}
}

func loadCache(path string) (diskCache, error) {
	var cache diskCache
	if path == "" {
		return cache, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cache, err
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		return cache, err
	}
	return cache, nil
}

func (f *Filter) monitored(ev Event) bool {
	if len(f.cfg.MonitoredCurrencies) > 0 {
		found := false
		for _, c := range f.cfg.MonitoredCurrencies {
			if strings.EqualFold(c, ev.Currency) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if ev.Impact == ImpactHoliday {
		return true
	}
	for _, lvl := range f.cfg.ImpactLevels {
		if strings.EqualFold(lvl, ev.Impact) {
			return true
		}
	}
	return false
}

// window returns the blackout interval around an event. Holidays get the wider
// hour-denominated buffer on both sides.
func (f *Filter) window(ev Event) (time.Time, time.Time) {
	if ev.Impact == ImpactHoliday {
		buf := time.Duration(f.cfg.HolidayBufferHours) * time.Hour
		return ev.Time.Add(-buf), ev.Time.Add(buf)
	}
	before := time.Duration(f.cfg.BufferBeforeMins) * time.Minute
	after := time.Duration(f.cfg.BufferAfterMins) * time.Minute
	return ev.Time.Add(-before), ev.Time.Add(after)
}

// Blocked reports whether now falls inside any monitored event's blackout,
// returning the first matching event.
func (f *Filter) Blocked(now time.Time) (bool, Event) {
	if !f.cfg.Enabled {
		return false, Event{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if !f.monitored(ev) {
			continue
		}
		start, end := f.window(ev)
		if !now.Before(start) && now.Before(end) {
			return true, ev
		}
	}
	return false, Event{}
}

// Upcoming lists monitored events starting within the horizon, for summaries.
func (f *Filter) Upcoming(now time.Time, horizon time.Duration) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	until := now.Add(horizon)
	for _, ev := range f.events {
		if !f.monitored(ev) {
			continue
		}
		if ev.Time.After(now) && ev.Time.Before(until) {
			out = append(out, ev)
		}
	}
	return out
}
