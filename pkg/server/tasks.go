package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/storage/badger"
)

// Retention retry policy: 30s, 60s, 120s between attempts
var (
	retentionMaxRetries = 3
	retentionBaseDelay  = 30 * time.Second
)

// StartBackground launches the retention scheduler, badger GC and the
// Kafka consumer. All of them stop when ctx is cancelled; wg tracks them.
func (a *App) StartBackground(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.RunRetention(ctx, a.Config.RetentionInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		RunBadgerGC(ctx, a.Store, config.BadgerGCInterval)
	}()

	if a.Kafka != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Kafka.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Kafka consumer exited: %v", err)
			}
		}()
	}
}

// RunRetention deletes expired records once on startup and then every
// interval until ctx is cancelled.
func (a *App) RunRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Retention scheduler started (keep %v, runs every %v)", a.Cleaner.Expiry(), interval)
	a.runRetentionWithRetry(ctx, true)

	for {
		select {
		case <-ticker.C:
			log.Println("Scheduled retention pass started...")
			a.runRetentionWithRetry(ctx, false)
		case <-ctx.Done():
			log.Println("Stopping retention scheduler")
			return
		}
	}
}

// runRetentionWithRetry runs one pass with exponential backoff between
// failed attempts.
func (a *App) runRetentionWithRetry(ctx context.Context, isInitial bool) {
	for attempt := 0; attempt <= retentionMaxRetries; attempt++ {
		if attempt > 0 {
			delay := retentionBaseDelay * time.Duration(1<<(attempt-1))
			log.Printf("Retrying retention in %v (attempt %d/%d)...", delay, attempt+1, retentionMaxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		res, err := a.Cleaner.Run(ctx)
		a.Metrics.RetentionPass(res.Deleted, err)
		if err == nil {
			a.RetentionMonitor.RecordSuccess(res.Deleted)
			if isInitial {
				log.Printf("Initial retention pass removed %d records in %v", res.Deleted, res.Duration.Round(time.Millisecond))
			} else {
				log.Printf("Retention pass removed %d records received before %s in %v",
					res.Deleted, res.Cutoff.Format(time.RFC3339), res.Duration.Round(time.Millisecond))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		a.RetentionMonitor.RecordFailure(err)
		log.Printf("Retention failed (attempt %d/%d): %v", attempt+1, retentionMaxRetries+1, err)

		if status := a.RetentionMonitor.Status(); status.ConsecutiveErrors > 3 {
			log.Printf("ALERT: Retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
		}
	}

	log.Printf("Retention failed after %d attempts, will retry on next schedule", retentionMaxRetries+1)
}

// RunBadgerGC runs BadgerDB value log GC periodically to reclaim disk
// space. Other backends return immediately.
func RunBadgerGC(ctx context.Context, store storage.Store, interval time.Duration) {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", interval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Reclaim a value log file when half of it is garbage
			if err := badgerStore.RunGC(0.5); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-ctx.Done():
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
