// Package journal persists protection decisions and realized trades.
// Writes are asynchronous and lossy under pressure: the risk loop must
// never block on the database.
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// TradeRecord is one realized close, full or partial.
type TradeRecord struct {
	ID         string    `db:"id" json:"id"`
	PositionID string    `db:"position_id" json:"position_id"`
	AlphaID    string    `db:"alpha_id" json:"alpha_id"`
	Symbol     string    `db:"symbol" json:"symbol"`
	Side       string    `db:"side" json:"side"`
	Volume     float64   `db:"volume" json:"volume"`
	Profit     float64   `db:"profit" json:"profit"`
	Reason     string    `db:"reason" json:"reason"`
	ClosedAt   time.Time `db:"closed_at" json:"closed_at"`
}

// AllocationRecord is one alpha's weight from a rebalance decision.
type AllocationRecord struct {
	AlphaID   string    `db:"alpha_id" json:"alpha_id"`
	Weight    float64   `db:"weight" json:"weight"`
	Score     float64   `db:"score" json:"score"`
	Excluded  bool      `db:"excluded" json:"excluded"`
	Reason    string    `db:"reason" json:"reason"`
	DecidedAt time.Time `db:"decided_at" json:"decided_at"`
}

type Store interface {
	SaveTrade(ctx context.Context, rec TradeRecord) error
	SaveAllocations(ctx context.Context, recs []AllocationRecord) error
	ListTrades(ctx context.Context, limit int) ([]TradeRecord, error)
	Close() error
}

// Nop discards everything. It stands in when persistence is disabled.
type Nop struct{}

func (Nop) SaveTrade(context.Context, TradeRecord) error              { return nil }
func (Nop) SaveAllocations(context.Context, []AllocationRecord) error { return nil }
func (Nop) ListTrades(context.Context, int) ([]TradeRecord, error)    { return nil, nil }
func (Nop) Close() error                                              { return nil }

const writeTimeout = 5 * time.Second

type job struct {
	trade  *TradeRecord
	allocs []AllocationRecord
}

// Writer drains records to a Store on a background goroutine. When the
// queue is full the record is dropped and counted, not waited on.
type Writer struct {
	store Store
	ch    chan job
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewWriter(store Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{store: store, ch: make(chan job, queueSize)}
	w.wg.Add(1)
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for j := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		switch {
		case j.trade != nil:
			err = w.store.SaveTrade(ctx, *j.trade)
		default:
			err = w.store.SaveAllocations(ctx, j.allocs)
		}
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("journal: write failed")
		}
	}
}

func (w *Writer) enqueue(j job) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- j:
	default:
		n := w.dropped.Add(1)
		log.Warn().Int64("dropped", n).Msg("journal: queue full, record dropped")
	}
}

// RecordTrade queues a realized trade for persistence.
func (w *Writer) RecordTrade(rec TradeRecord) {
	w.enqueue(job{trade: &rec})
}

// RecordAllocations queues a rebalance decision for persistence.
func (w *Writer) RecordAllocations(recs []AllocationRecord) {
	if len(recs) == 0 {
		return
	}
	cp := make([]AllocationRecord, len(recs))
	copy(cp, recs)
	w.enqueue(job{allocs: cp})
}

// Dropped reports how many records were discarded because the queue was full.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Close drains the queue, then closes the store.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
	return w.store.Close()
}
