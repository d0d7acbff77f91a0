package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache(4)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("x"), 10))
	require.NoError(t, c.Set(ctx, "forever", []byte("y"), 0))

	now = now.Add(11 * time.Second)
	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(2, time.Second)
	tb.now = func() time.Time { return now }

	for range 2 {
		release, err := tb.Acquire(ctx, "gpt-4")
		require.NoError(t, err)
		release()
	}
	_, err := tb.Acquire(ctx, "gpt-4")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	_, err = tb.Acquire(ctx, "gpt-3.5-turbo")
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = tb.Acquire(ctx, "gpt-4")
	assert.NoError(t, err)
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	_, err := tb.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tb.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingCompleter struct{ calls int }

func (c *countingCompleter) Complete(ctx context.Context, msgs []ports.RequestMessage, maxTokens int, params ports.SamplingParams) (string, error) {
	c.calls++
	return "ok", nil
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, ErrRateLimitExceeded
}

func TestRateLimitedCompleter(t *testing.T) {
	inner := &countingCompleter{}
	c := NewRateLimitedCompleter(inner, NewTokenBucket(1, time.Millisecond))

	for range 3 {
		text, err := c.Complete(context.Background(), nil, 1, ports.SamplingParams{Model: "gpt-4"})
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	}
	assert.Equal(t, 3, inner.calls)

	denied := NewRateLimitedCompleter(inner, denyLimiter{})
	_, err := denied.Complete(context.Background(), nil, 1, ports.SamplingParams{Model: "gpt-4"})
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 3, inner.calls)
}

func TestZerologTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "weave", map[string]any{"conversation": "c1"})
	tracer.Event(ctx, "compacted", map[string]any{"fragment_tokens": 17})
	finish(errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &event))
	assert.Equal(t, "weave", event["span"])
	assert.Equal(t, "c1", event["conversation"])
	assert.Equal(t, "compacted", event["event"])
	assert.EqualValues(t, 17, event["fragment_tokens"])

	var end map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &end))
	assert.Equal(t, "error", end["level"])
	assert.Equal(t, "boom", end["error"])
	assert.Equal(t, "span_end", end["event"])
}

func TestZerologTracerEventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "orphan", nil)

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "orphan", event["event"])
	assert.NotContains(t, event, "span")
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics("lw", reg)

	m.ObserveTurn("ok", true, 150*time.Millisecond)
	m.ObserveTurn("ok", false, time.Second)
	m.ObserveTurn("storage_failed", false, time.Second)
	m.ObserveTokens("incoming", 12)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("ok", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("storage_failed", "false")))

	count, err := testutil.GatherAndCount(reg, "lw_turns_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(reg, "lw_tokens")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
