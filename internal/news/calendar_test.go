package news

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alphaguard/internal/broker"
	"github.com/sawpanic/alphaguard/internal/clock"
)

func writeCalendar(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestLoad_ToleratesFeedVariants(t *testing.T) {
	path := writeCalendar(t, `
{"event_name":"Non-Farm Payrolls","event_date":"2025-03-10 13:30:00","currency":"usd","impact":"High","affected_pairs":["EUR/USD","GBP/USD"]}
{"name":"BoJ Rate Decision","date":"2025-03-10T04:00:00","currency":"JPY","impact":"HIGH","affected_pairs":"USD/JPY, EUR/JPY"}
{"event_name":"Minor Print","event_date":"2025-03-10 15:00","currency":"EUR","impact":"whatever"}
{"event_name":"No Date Here","currency":"EUR","impact":"HIGH"}
not even json
{"name":"Bad Date","date":"soon","currency":"USD"}
`)

	cal, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Len(), "unreadable lines are skipped, not fatal")

	events, err := cal.Upcoming(context.Background(), 48*time.Hour)
	require.NoError(t, err)
	// Real clock: everything here is in the past, so nothing is upcoming.
	assert.Empty(t, events)
}

func TestLoad_NormalizesFields(t *testing.T) {
	path := writeCalendar(t,
		`{"event_name":"CPI","event_date":"2025-03-10 13:30:00","currency":"usd","impact":"high","affected_pairs":"EUR/USD"}`+"\n")

	clk := clock.NewFixed(time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC))
	cal, err := Load(path, clk)
	require.NoError(t, err)

	events, err := cal.Upcoming(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "USD", ev.Currency)
	assert.Equal(t, "HIGH", ev.Impact)
	assert.Equal(t, []string{"EURUSD"}, ev.AffectedPairs)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC), ev.Time)
}

func TestUpcoming_WindowsAndOrder(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	cal := NewCalendar([]broker.NewsEvent{
		{Title: "later", Impact: "HIGH", Time: now.Add(2 * time.Hour)},
		{Title: "soon", Impact: "HIGH", Time: now.Add(10 * time.Minute)},
		{Title: "passed", Impact: "HIGH", Time: now.Add(-10 * time.Minute)},
		{Title: "edge", Impact: "LOW", Time: now.Add(30 * time.Minute)},
	}, clk)

	events, err := cal.Upcoming(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "soon", events[0].Title, "events come back in schedule order")
	assert.Equal(t, "edge", events[1].Title, "the window is inclusive at the horizon")

	clk.Advance(3 * time.Hour)
	events, err = cal.Upcoming(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReload_PicksUpNewEvents(t *testing.T) {
	path := writeCalendar(t,
		`{"event_name":"CPI","event_date":"2025-03-10 13:30:00","currency":"USD","impact":"HIGH"}`+"\n")

	clk := clock.NewFixed(time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC))
	cal, err := Load(path, clk)
	require.NoError(t, err)
	require.Equal(t, 1, cal.Len())

	more := `{"event_name":"CPI","event_date":"2025-03-10 13:30:00","currency":"USD","impact":"HIGH"}
{"event_name":"Retail Sales","event_date":"2025-03-10 13:45:00","currency":"USD","impact":"MEDIUM"}
`
	require.NoError(t, os.WriteFile(path, []byte(more), 0o644))
	require.NoError(t, cal.Reload())
	assert.Equal(t, 2, cal.Len())

	events, err := cal.Upcoming(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestNewCalendar_CannotReload(t *testing.T) {
	cal := NewCalendar(nil, nil)
	assert.ErrorContains(t, cal.Reload(), "no backing file")
}
