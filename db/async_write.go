package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultChannelCapacity is the default buffer size for async writes.
const DefaultChannelCapacity = 100

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      any
	Timestamp time.Time
}

// WriteHandler applies one operation. Errors are logged and dropped.
type WriteHandler func(ctx context.Context, op WriteOperation) error

// AsyncWriter applies writes on a background goroutine so callers on the
// queue's hot path never wait for SQLite.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	logger    *zap.Logger

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool
	dropped uint64
}

// NewAsyncWriter creates a writer with capacity slots. Start begins
// processing.
func NewAsyncWriter(handler WriteHandler, capacity int, logger *zap.Logger) *AsyncWriter {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, capacity),
		handler:   handler,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Extra calls are no-ops.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.apply(op)
		}
	}
}

func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.apply(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) apply(op WriteOperation) {
	// The writer's own context is already cancelled while draining.
	if err := w.handler(context.Background(), op); err != nil {
		w.logger.Error("async write failed", zap.Error(err))
	}
}

// Write queues data without blocking. It returns false when the buffer is
// full or the writer has been stopped.
func (w *AsyncWriter) Write(data any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		w.dropped++
		return false
	}
}

// Pending returns the number of buffered operations.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Dropped returns how many writes were refused because the buffer was full.
func (w *AsyncWriter) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Stop drains buffered writes and waits for the goroutine, giving up when
// ctx ends. It reports whether the drain finished.
func (w *AsyncWriter) Stop(ctx context.Context) bool {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
