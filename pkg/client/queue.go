package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// Submitter is the part of Client the queue needs
type Submitter interface {
	Submit(ctx context.Context, sub telemetry.Submission) (uint64, error)
}

// QueueConfig holds configuration for the queue
type QueueConfig struct {
	// MaxPending caps buffered snapshots; the oldest are dropped beyond it
	MaxPending int
	// FlushEvery is the send interval
	FlushEvery time.Duration
}

// Queue buffers snapshots while the server is unreachable and sends them
// in order on every flush. A snapshot the server rejects as invalid is
// dropped; any other failure keeps it for the next flush.
type Queue struct {
	config    QueueConfig
	submitter Submitter

	pending []queued
	nextSeq uint64
	dropped int
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool
}

type queued struct {
	seq uint64
	sub telemetry.Submission
}

// NewQueue creates a queue
func NewQueue(submitter Submitter, config QueueConfig) *Queue {
	if config.MaxPending <= 0 {
		config.MaxPending = 1000
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 5 * time.Second
	}
	return &Queue{
		config:    config,
		submitter: submitter,
		done:      make(chan struct{}),
	}
}

// Start starts the periodic flush loop
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	go q.flushLoop()
}

// Add enqueues a snapshot
func (q *Queue) Add(sub telemetry.Submission) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	q.pending = append(q.pending, queued{seq: q.nextSeq, sub: sub})
	if over := len(q.pending) - q.config.MaxPending; over > 0 {
		q.pending = q.pending[over:]
		q.dropped += over
	}
}

// Pending returns the number of buffered snapshots
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns how many snapshots were discarded (overflow or invalid)
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Flush sends pending snapshots in order, stopping at the first transport
// failure. Returns that failure.
func (q *Queue) Flush(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		head := q.pending[0]
		q.mu.Unlock()

		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := q.submitter.Submit(sendCtx, head.sub)
		cancel()

		var statusErr *StatusError
		switch {
		case err == nil:
		case isInvalid(err) || errors.As(err, &statusErr) && statusErr.Code == 400:
			log.Printf("Dropping invalid snapshot: %v", err)
			q.mu.Lock()
			q.dropped++
			q.mu.Unlock()
		default:
			return err
		}

		q.mu.Lock()
		// Add may have trimmed the head while we were sending
		if len(q.pending) > 0 && q.pending[0].seq == head.seq {
			q.pending = q.pending[1:]
		}
		q.mu.Unlock()
	}
}

// Stop stops the loop and makes a final flush attempt
func (q *Queue) Stop(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	return q.Flush(ctx)
}

func (q *Queue) flushLoop() {
	defer close(q.done)

	ticker := time.NewTicker(q.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if q.flushing.CompareAndSwap(false, true) {
				if err := q.Flush(q.ctx); err != nil && q.ctx.Err() == nil {
					log.Printf("Snapshot flush failed, %d pending: %v", q.Pending(), err)
				}
				q.flushing.Store(false)
			}
		}
	}
}

func isInvalid(err error) bool {
	return errors.Is(err, telemetry.ErrTimestampMissing) ||
		errors.Is(err, telemetry.ErrPayloadMissing) ||
		errors.Is(err, telemetry.ErrDeviceIDTooLong)
}
