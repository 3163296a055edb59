package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdqueue/core"
)

type shutdownEntry struct {
	name     string
	fn       core.ShutdownFunc
	priority int
	seq      int
}

// ShutdownRegistry holds cleanups ordered by priority, then registration
// order.
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []shutdownEntry
	closed  bool
}

// NewShutdownRegistry creates an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn. Registrations after Shutdown are ignored.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, shutdownEntry{
		name:     name,
		fn:       fn,
		priority: priority,
		seq:      len(r.entries),
	})
}

func (r *ShutdownRegistry) sorted() []shutdownEntry {
	out := make([]shutdownEntry, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Shutdown runs every cleanup once, in order, even when earlier ones fail.
// A panicking cleanup is reported as an error. Errors are wrapped with the
// handler name.
func (r *ShutdownRegistry) Shutdown(ctx context.Context, logger *zap.Logger) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	if logger == nil {
		logger = zap.NewNop()
	}

	var errs []error
	for _, e := range entries {
		start := time.Now()
		if err := runCleanup(ctx, e); err != nil {
			logger.Error("shutdown handler failed",
				zap.String("name", e.name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Debug("shutdown handler done",
			zap.String("name", e.name),
			zap.Duration("duration", time.Since(start)))
	}
	return errs
}

func runCleanup(ctx context.Context, e shutdownEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", e.name, r)
		}
	}()
	if err := e.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

// Names lists handler names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered cleanups.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
