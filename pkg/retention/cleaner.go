package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

// ErrInvalidExpiry is returned by New for a non-positive retention period
var ErrInvalidExpiry = errors.New("retention period must be positive")

// Cleaner deletes records older than the retention period
type Cleaner struct {
	storage storage.Store
	expiry  time.Duration
	clock   telemetry.Clock
}

// Result describes one retention pass
type Result struct {
	Cutoff   time.Time     `json:"cutoff"`
	Deleted  int           `json:"deleted"`
	Duration time.Duration `json:"duration"`
}

// New creates a cleaner. A nil clock uses the system clock.
func New(store storage.Store, expiry time.Duration, clock telemetry.Clock) (*Cleaner, error) {
	if expiry <= 0 {
		return nil, ErrInvalidExpiry
	}
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Cleaner{storage: store, expiry: expiry, clock: clock}, nil
}

// Expiry returns the retention period
func (c *Cleaner) Expiry() time.Duration {
	return c.expiry
}

// Cutoff returns the receipt time before which records are expired
func (c *Cleaner) Cutoff() time.Time {
	return c.clock.Now().UTC().Add(-c.expiry)
}

// Run deletes every record received before Cutoff
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{Cutoff: c.Cutoff()}

	deleted, err := c.storage.DeleteBefore(ctx, res.Cutoff)
	res.Deleted = deleted
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("failed to delete records before %s: %w", res.Cutoff.Format(time.RFC3339), err)
	}
	return res, nil
}
