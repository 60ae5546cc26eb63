package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := New()
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte("v"), 0)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryCache_TTLExpires(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })

	c.Set("atr:EURUSD", []byte("0.0042"), time.Minute)
	_, ok := c.Get("atr:EURUSD")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("atr:EURUSD")
	assert.False(t, ok, "entry past its ttl must not be served")
}

func TestMemoryCache_CopiesValue(t *testing.T) {
	c := New()
	buf := []byte("abc")
	c.Set("k", buf, 0)
	buf[0] = 'z'

	got, _ := c.Get("k")
	assert.Equal(t, []byte("abc"), got, "mutating the caller's slice must not change the cached value")
}

func TestFloatHelpers(t *testing.T) {
	c := New()
	_, ok := GetFloat(c, "missing")
	assert.False(t, ok)

	SetFloat(c, "baseline", 0.00185, time.Hour)
	v, ok := GetFloat(c, "baseline")
	require.True(t, ok)
	assert.InDelta(t, 0.00185, v, 1e-12)

	c.Set("garbage", []byte("not-a-float"), 0)
	_, ok = GetFloat(c, "garbage")
	assert.False(t, ok)
}

func TestFetchFloat(t *testing.T) {
	c := New()
	calls := 0
	load := func() (float64, error) {
		calls++
		return 1.25, nil
	}

	v, err := FetchFloat(c, "k", time.Hour, load)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)
	assert.Equal(t, 1, calls)

	// Second read is served from cache.
	v, err = FetchFloat(c, "k", time.Hour, load)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)
	assert.Equal(t, 1, calls)
}

func TestFetchFloat_LoaderErrorNotCached(t *testing.T) {
	c := New()
	boom := errors.New("feed down")
	calls := 0
	load := func() (float64, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 2.5, nil
	}

	_, err := FetchFloat(c, "k", time.Hour, load)
	assert.ErrorIs(t, err, boom)

	v, err := FetchFloat(c, "k", time.Hour, load)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	assert.Equal(t, 2, calls)
}
