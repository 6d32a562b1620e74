package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls buffering and flushing for the Hub. Zero values take the
// defaults noted on each field.
type Config struct {
	// BufferSize is the capacity of the event channel (4096).
	BufferSize int
	// MaxBatchEvents flushes as soon as this many events are pending (1000).
	MaxBatchEvents int
	// FlushInterval bounds how long a pending event waits for delivery (500ms).
	FlushInterval time.Duration
	// SinkTimeout is the deadline of one Consume call (10s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultFlushInterval  = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
)

// Stats counts what the Hub has done with emitted events.
type Stats struct {
	Forwarded int64
	Dropped   int64
}

// Hub buffers events from concurrent crawl branches and delivers them in
// batches to every sink. Emit never blocks: when the buffer is full the event
// is counted as dropped.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context

	forwarded atomic.Int64
	dropped   atomic.Int64
	// reported is owned by the run goroutine.
	reported int64
}

// NewHub starts the delivery goroutine for sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.Named("progress"),
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Stats returns delivery counters.
func (h *Hub) Stats() Stats {
	return Stats{Forwarded: h.forwarded.Load(), Dropped: h.dropped.Load()}
}

// Close stops accepting events, delivers everything still buffered, closes
// the sinks and waits for the delivery goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.events:
			pending = h.add(pending, evt)
		case <-ticker.C:
			pending = h.flush(pending)
		case <-h.stop:
			h.flush(h.drain(pending))
			h.closeSinks()
			return
		}
	}
}

// drain moves whatever is still buffered into pending.
func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			pending = h.add(pending, evt)
		default:
			return pending
		}
	}
}

func (h *Hub) add(pending []Event, evt Event) []Event {
	pending = append(pending, evt)
	if len(pending) >= h.cfg.MaxBatchEvents {
		return h.flush(pending)
	}
	return pending
}

// flush hands pending to every sink concurrently and returns it emptied.
func (h *Hub) flush(pending []Event) []Event {
	h.reportDrops()
	if len(pending) == 0 {
		return pending
	}
	batch := slices.Clone(pending)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, batch); err != nil {
				h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // sink errors are logged above
	h.forwarded.Add(int64(len(batch)))
	return pending[:0]
}

func (h *Hub) reportDrops() {
	total := h.dropped.Load()
	if total == h.reported {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", total-h.reported),
		zap.Int64("dropped_total", total),
	)
	h.reported = total
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
