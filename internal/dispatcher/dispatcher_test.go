package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pauseLog struct {
	mu     sync.Mutex
	delays []time.Duration
	pauses []time.Duration
}

func newTestDispatcher(cfg Config) (*Dispatcher, *pauseLog) {
	d := New(cfg)
	log := &pauseLog{}
	d.pause = func(ctx context.Context, wait time.Duration) error {
		log.mu.Lock()
		defer log.mu.Unlock()
		if wait == cfg.DispatchDelay {
			log.delays = append(log.delays, wait)
		} else {
			log.pauses = append(log.pauses, wait)
		}
		return ctx.Err()
	}
	d.jitter = func(lo, _ time.Duration) time.Duration { return lo + 123*time.Millisecond }
	return d, log
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://site.com/wiki/%d", i)
	}
	return out
}

func TestRunBatchSizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n      int
		pauses int
	}{
		{0, 0},
		{1, 0},
		{14, 0},
		{15, 1},
		{16, 1},
		{30, 2},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d", tc.n), func(t *testing.T) {
			t.Parallel()
			d, log := newTestDispatcher(DefaultConfig())

			var visited sync.Map
			var count atomic.Int64
			err := d.Run(context.Background(), urls(tc.n), func(_ context.Context, u string) {
				visited.Store(u, true)
				count.Add(1)
			})
			require.NoError(t, err)
			assert.EqualValues(t, tc.n, count.Load())
			assert.Len(t, log.delays, tc.n, "one dispatch delay per item")
			assert.Len(t, log.pauses, tc.pauses, "one pause per full batch only")
			for _, p := range log.pauses {
				assert.Equal(t, DefaultPauseMin+123*time.Millisecond, p)
			}
			for _, u := range urls(tc.n) {
				_, ok := visited.Load(u)
				assert.True(t, ok, u)
			}
		})
	}
}

func TestRunBatchSettlesBeforeNextStarts(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(Config{BatchSize: 3})

	var (
		inFlight atomic.Int64
		maxSeen  atomic.Int64
	)
	err := d.Run(context.Background(), urls(9), func(context.Context, string) {
		cur := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
}

// batchBarrier makes every visit wait until all members of its batch have
// started, and records visits that began before the previous batch settled.
type batchBarrier struct {
	size     int
	total    int
	index    map[string]int
	started  []atomic.Int64
	finished []atomic.Int64
	ready    []chan struct{}
	timeouts atomic.Int64
	overlaps atomic.Int64
}

func newBatchBarrier(items []string, size int) *batchBarrier {
	batches := (len(items) + size - 1) / size
	b := &batchBarrier{
		size:     size,
		total:    len(items),
		index:    make(map[string]int, len(items)),
		started:  make([]atomic.Int64, batches),
		finished: make([]atomic.Int64, batches),
		ready:    make([]chan struct{}, batches),
	}
	for i, item := range items {
		b.index[item] = i
	}
	for i := range b.ready {
		b.ready[i] = make(chan struct{})
	}
	return b
}

func (b *batchBarrier) members(batch int) int64 {
	return int64(min(b.size, b.total-batch*b.size))
}

func (b *batchBarrier) visit(_ context.Context, u string) {
	batch := b.index[u] / b.size
	if batch > 0 && b.finished[batch-1].Load() != b.members(batch-1) {
		b.overlaps.Add(1)
	}
	if b.started[batch].Add(1) == b.members(batch) {
		close(b.ready[batch])
	}
	select {
	case <-b.ready[batch]:
	case <-time.After(5 * time.Second):
		b.timeouts.Add(1)
	}
	b.finished[batch].Add(1)
}

func TestRunDispatchesWholeBatchConcurrently(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 14, 15, 31} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			d, _ := newTestDispatcher(DefaultConfig())
			items := urls(n)
			barrier := newBatchBarrier(items, DefaultBatchSize)

			require.NoError(t, d.Run(context.Background(), items, barrier.visit))

			assert.Zero(t, barrier.timeouts.Load(), "every batch member must be in flight together")
			assert.Zero(t, barrier.overlaps.Load(), "a batch must not start before the previous one settles")
			for i := range barrier.finished {
				assert.Equal(t, barrier.members(i), barrier.finished[i].Load())
			}
		})
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	var count atomic.Int64
	err := d.Run(ctx, urls(40), func(context.Context, string) {
		if count.Add(1) == 15 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 15, count.Load())
}

func TestRunWithRealPause(t *testing.T) {
	t.Parallel()
	d := New(Config{BatchSize: 2, PauseMin: time.Millisecond, PauseMax: 2 * time.Millisecond})

	var count atomic.Int64
	require.NoError(t, d.Run(context.Background(), urls(5), func(context.Context, string) { count.Add(1) }))
	assert.EqualValues(t, 5, count.Load())
}

func TestNewNormalizesConfig(t *testing.T) {
	t.Parallel()
	d := New(Config{BatchSize: 0, DispatchDelay: -1, PauseMin: time.Second, PauseMax: time.Millisecond})
	assert.Equal(t, DefaultBatchSize, d.cfg.BatchSize)
	assert.Zero(t, d.cfg.DispatchDelay)
	assert.Equal(t, time.Second, d.cfg.PauseMax)
}
