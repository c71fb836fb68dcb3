package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/devicepulse/pkg/storage"
)

// Window is the [Start, End] range a request looked back over.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overview is a whole-store snapshot. Only RecentCount and ActiveDevices
// are limited to Window.
type Overview struct {
	TotalCount    int        `json:"total_count"`
	RecentCount   int        `json:"recent_count"`
	ActiveDevices int        `json:"active_devices"`
	TotalDevices  int        `json:"total_devices"`
	LatestTime    *time.Time `json:"latest_time"`
	Window        Window     `json:"time_range"`
}

// BuildOverview composes store counts for the window ending at now.
func BuildOverview(ctx context.Context, store storage.Store, now time.Time, hours int) (Overview, error) {
	since := now.Add(-time.Duration(hours) * time.Hour)
	ov := Overview{Window: Window{Start: since, End: now}}

	var err error
	if ov.TotalCount, err = store.CountAll(ctx); err != nil {
		return Overview{}, fmt.Errorf("failed to count records: %w", err)
	}

	if ov.RecentCount, err = store.CountSince(ctx, since); err != nil {
		return Overview{}, fmt.Errorf("failed to count window: %w", err)
	}

	if ov.ActiveDevices, err = store.CountDistinctDevices(ctx, &since); err != nil {
		return Overview{}, fmt.Errorf("failed to count active devices: %w", err)
	}
	if ov.TotalDevices, err = store.CountDistinctDevices(ctx, nil); err != nil {
		return Overview{}, fmt.Errorf("failed to count devices: %w", err)
	}

	latest, err := store.Latest(ctx, "")
	if err != nil {
		return Overview{}, fmt.Errorf("failed to read latest record: %w", err)
	}
	if latest != nil {
		t := latest.ReceivedAt
		ov.LatestTime = &t
	}
	return ov, nil
}
