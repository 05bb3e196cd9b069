package ledger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RecorderConfig contains configuration for the async recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout is the timeout for writing one transition.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Recorder writes transitions to storage on a background goroutine.
// Record never blocks: when the buffer is full the transition is dropped
// and counted.
type Recorder struct {
	storage Storage
	config  RecorderConfig
	ch      chan *Transition
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder starts a recorder writing to storage.
func NewRecorder(storage Storage, config RecorderConfig) *Recorder {
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		ch:      make(chan *Transition, config.AsyncBuffer),
		done:    make(chan struct{}),
		logger:  logger.With("component", "ledger.recorder"),
	}

	r.wg.Add(1)
	go r.worker()
	return r
}

// Record enqueues t for writing. Missing IDs and timestamps are filled in.
// It reports whether the transition was accepted.
func (r *Recorder) Record(t *Transition) bool {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		r.logger.Warn("recorder closed, dropping transition", "domain", t.Domain, "variant", t.Variant)
		return false
	}

	select {
	case r.ch <- t:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Error("ledger buffer full, dropping transition",
			"domain", t.Domain,
			"variant", t.Variant,
			"to", t.To,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return false
	}
}

// Dropped returns how many transitions were dropped.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Written returns how many transitions reached storage.
func (r *Recorder) Written() int64 {
	return r.written.Load()
}

// Close drains the buffer and waits for pending writes. The storage is
// not closed.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		close(r.done)
		r.wg.Wait()
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case t := <-r.ch:
			r.write(t)

		case <-r.done:
			for {
				select {
				case t := <-r.ch:
					r.write(t)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(t *Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.storage.Store(ctx, t); err != nil {
		r.logger.Error("failed to store transition",
			"id", t.ID,
			"domain", t.Domain,
			"variant", t.Variant,
			"error", err,
		)
		return
	}
	r.written.Add(1)
	r.logger.Info("transition recorded",
		"id", t.ID,
		"domain", t.Domain,
		"variant", t.Variant,
		"from", t.From,
		"to", t.To,
		"trigger", t.Trigger,
	)
}
