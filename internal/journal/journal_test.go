package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	trades  []TradeRecord
	batches [][]AllocationRecord
	closed  bool

	entered chan struct{}
	release chan struct{}
}

func newMemStore() *memStore {
	return &memStore{entered: make(chan struct{}, 16)}
}

func (m *memStore) SaveTrade(ctx context.Context, rec TradeRecord) error {
	m.entered <- struct{}{}
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, rec)
	return nil
}

func (m *memStore) SaveAllocations(ctx context.Context, recs []AllocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, recs)
	return nil
}

func (m *memStore) ListTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out, nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) tradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

func TestWriter_PersistsTradesInOrder(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, 8)

	for _, id := range []string{"t1", "t2", "t3"} {
		w.RecordTrade(TradeRecord{ID: id, Symbol: "EURUSD", ClosedAt: time.Now()})
	}
	require.NoError(t, w.Close())

	require.Len(t, store.trades, 3)
	assert.Equal(t, "t1", store.trades[0].ID)
	assert.Equal(t, "t3", store.trades[2].ID)
	assert.True(t, store.closed)
	assert.Zero(t, w.Dropped())
}

func TestWriter_DropsWhenQueueFull(t *testing.T) {
	store := newMemStore()
	store.release = make(chan struct{})
	w := NewWriter(store, 1)

	// First record occupies the drain goroutine.
	w.RecordTrade(TradeRecord{ID: "busy"})
	<-store.entered

	// Second fills the queue, third has nowhere to go.
	w.RecordTrade(TradeRecord{ID: "queued"})
	w.RecordTrade(TradeRecord{ID: "dropped"})
	assert.Equal(t, int64(1), w.Dropped())

	close(store.release)
	require.NoError(t, w.Close())

	require.Equal(t, 2, store.tradeCount())
	assert.Equal(t, "busy", store.trades[0].ID)
	assert.Equal(t, "queued", store.trades[1].ID)
}

func TestWriter_RecordAfterCloseIsIgnored(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, 4)
	require.NoError(t, w.Close())

	w.RecordTrade(TradeRecord{ID: "late"})
	assert.Zero(t, store.tradeCount())
	assert.NoError(t, w.Close(), "double close is safe")
}

func TestWriter_AllocationBatchesKeptIntact(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, 4)

	recs := []AllocationRecord{
		{AlphaID: "trend", Weight: 0.6, DecidedAt: time.Now()},
		{AlphaID: "meanrev", Weight: 0.4, DecidedAt: time.Now()},
	}
	w.RecordAllocations(recs)
	w.RecordAllocations(nil)
	require.NoError(t, w.Close())

	require.Len(t, store.batches, 1)
	assert.Equal(t, "trend", store.batches[0][0].AlphaID)
	assert.Equal(t, 0.4, store.batches[0][1].Weight)
}

func TestNopStore(t *testing.T) {
	var s Store = Nop{}
	assert.NoError(t, s.SaveTrade(context.Background(), TradeRecord{}))
	assert.NoError(t, s.SaveAllocations(context.Background(), nil))
	trades, err := s.ListTrades(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, trades)
	assert.NoError(t, s.Close())
}
