// Package news serves the economic calendar the entry gate consults. The
// calendar is a JSONL export: one event per line, in the feed's loosely
// normalized shape.
package news

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alphaguard/internal/broker"
	"github.com/sawpanic/alphaguard/internal/clock"
)

// rawEvent tolerates the field aliases seen across feed exports.
type rawEvent struct {
	EventName     string          `json:"event_name"`
	Name          string          `json:"name"`
	EventDate     string          `json:"event_date"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	Currency      string          `json:"currency"`
	Impact        string          `json:"impact"`
	AffectedPairs json.RawMessage `json:"affected_pairs"`
}

// dateFormats are tried in order; all are read as UTC.
var dateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
}

func (r rawEvent) normalize() (broker.NewsEvent, error) {
	name := r.EventName
	if name == "" {
		name = r.Name
	}
	if name == "" {
		return broker.NewsEvent{}, fmt.Errorf("event without a name")
	}

	dateStr := r.EventDate
	if dateStr == "" {
		dateStr = r.Date
	}
	if dateStr == "" {
		dateStr = r.Time
	}
	if dateStr == "" {
		return broker.NewsEvent{}, fmt.Errorf("event %q without a date", name)
	}
	at, err := parseDate(dateStr)
	if err != nil {
		return broker.NewsEvent{}, fmt.Errorf("event %q: %w", name, err)
	}

	return broker.NewsEvent{
		Currency:      strings.ToUpper(strings.TrimSpace(r.Currency)),
		Title:         name,
		Impact:        normalizeImpact(r.Impact),
		AffectedPairs: parsePairs(r.AffectedPairs),
		Time:          at,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, f := range dateFormats {
		if t, err := time.ParseInLocation(f, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func normalizeImpact(impact string) string {
	up := strings.ToUpper(strings.TrimSpace(impact))
	switch up {
	case "LOW", "MEDIUM", "HIGH":
		return up
	default:
		return "LOW"
	}
}

// parsePairs accepts either a JSON array or a comma-joined string, and
// strips the slash notation ("EUR/USD" becomes "EURUSD").
func parsePairs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil
		}
		list = strings.Split(joined, ",")
	}
	var out []string
	for _, p := range list {
		p = strings.ReplaceAll(strings.TrimSpace(p), "/", "")
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

// Calendar is an in-memory event schedule loaded from a JSONL file. It
// satisfies the broker news-source contract.
type Calendar struct {
	mu     sync.RWMutex
	events []broker.NewsEvent
	path   string
	clk    clock.Clock
}

// NewCalendar wraps an already-loaded event list.
func NewCalendar(events []broker.NewsEvent, clk clock.Clock) *Calendar {
	if clk == nil {
		clk = clock.Real()
	}
	c := &Calendar{clk: clk}
	c.replace(events)
	return c
}

// Load reads the JSONL file at path. Malformed lines are skipped and
// counted, not fatal: a partly readable calendar beats none.
func Load(path string, clk clock.Clock) (*Calendar, error) {
	if clk == nil {
		clk = clock.Real()
	}
	c := &Calendar{path: path, clk: clk}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the backing file. A calendar built with NewCalendar has
// no file and cannot reload.
func (c *Calendar) Reload() error {
	if c.path == "" {
		return fmt.Errorf("calendar has no backing file")
	}
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open calendar: %w", err)
	}
	defer f.Close()

	var events []broker.NewsEvent
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var raw rawEvent
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			skipped++
			continue
		}
		ev, err := raw.normalize()
		if err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read calendar: %w", err)
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("path", c.path).Msg("news: malformed calendar lines skipped")
	}
	log.Info().Int("events", len(events)).Str("path", c.path).Msg("news: calendar loaded")

	c.replace(events)
	return nil
}

func (c *Calendar) replace(events []broker.NewsEvent) {
	cp := make([]broker.NewsEvent, len(events))
	copy(cp, events)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Time.Before(cp[j].Time) })

	c.mu.Lock()
	c.events = cp
	c.mu.Unlock()
}

// Len reports how many events the calendar holds.
func (c *Calendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Upcoming returns events scheduled in [now, now+within], all impacts.
// Callers filter by impact themselves.
func (c *Calendar) Upcoming(ctx context.Context, within time.Duration) ([]broker.NewsEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := c.clk.Now()
	horizon := now.Add(within)

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []broker.NewsEvent
	for _, ev := range c.events {
		if ev.Time.Before(now) {
			continue
		}
		if ev.Time.After(horizon) {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}
