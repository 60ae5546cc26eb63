package guard

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/alphaguard/internal/clock"
)

// AuditEntry is one immutable protection event: a fired trigger, an applied
// action, a skipped position, or a rejected entry.
type AuditEntry struct {
	ID      string                 `json:"id"`
	Ticket  string                 `json:"ticket,omitempty"`
	Time    time.Time              `json:"time"`
	Action  string                 `json:"action"`
	Reason  string                 `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// AuditLog is a bounded in-memory ring of protection events. When full, the
// oldest entry is evicted. Subscribers receive entries as they are appended;
// a slow subscriber drops entries rather than blocking the writer.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	head    int
	count   int
	seq     int
	subs    map[int]chan AuditEntry
	now     func() time.Time
}

func NewAuditLog(size int, clk clock.Clock) *AuditLog {
	if size < 1 {
		size = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &AuditLog{
		entries: make([]AuditEntry, size),
		subs:    make(map[int]chan AuditEntry),
		now:     clk.Now,
	}
}

// Append records an event and fans it out to subscribers.
func (l *AuditLog) Append(ticket, action, reason string, details map[string]interface{}) AuditEntry {
	e := AuditEntry{
		ID:      uuid.New().String(),
		Ticket:  ticket,
		Time:    l.now(),
		Action:  action,
		Reason:  reason,
		Details: details,
	}

	l.mu.Lock()
	idx := (l.head + l.count) % len(l.entries)
	l.entries[idx] = e
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.head = (l.head + 1) % len(l.entries)
	}
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	l.mu.Unlock()

	return e
}

// Entries returns the retained events, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEntry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.entries[(l.head+i)%len(l.entries)])
	}
	return out
}

// Len reports how many events are currently retained.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. The channel is closed on cancel.
func (l *AuditLog) Subscribe(buffer int) (<-chan AuditEntry, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan AuditEntry, buffer)

	l.mu.Lock()
	id := l.seq
	l.seq++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
