package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/devicepulse/pkg/payload"
	"github.com/nicktill/devicepulse/pkg/storage"
	"github.com/nicktill/devicepulse/pkg/storage/memory"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

var now = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, records ...telemetry.Record) *Service {
	t.Helper()
	store := memory.New()
	for i := range records {
		_, err := store.Append(context.Background(), &records[i])
		require.NoError(t, err)
	}
	return NewService(store, telemetry.FixedClock(now))
}

func TestService_OverviewEmptyStore(t *testing.T) {
	svc := newService(t)

	ov, err := svc.Overview(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, ov.TotalCount)
	assert.Zero(t, ov.RecentCount)
	assert.Zero(t, ov.ActiveDevices)
	assert.Zero(t, ov.TotalDevices)
	assert.Nil(t, ov.LatestTime)
	assert.True(t, ov.Window.End.Equal(now))
	assert.True(t, ov.Window.Start.Equal(now.Add(-24*time.Hour)))
}

func TestService_OverviewWindowAsymmetry(t *testing.T) {
	svc := newService(t,
		record("old-phone", now.Add(-48*time.Hour), nil),
		record("phone-1", now.Add(-3*time.Hour), nil),
		record("phone-1", now.Add(-2*time.Hour), nil),
		record("", now.Add(-time.Hour), nil),
	)

	ov, err := svc.Overview(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 4, ov.TotalCount)
	assert.Equal(t, 3, ov.RecentCount)
	assert.Equal(t, 2, ov.ActiveDevices)
	assert.Equal(t, 3, ov.TotalDevices)
	require.NotNil(t, ov.LatestTime)
	assert.True(t, ov.LatestTime.Equal(now.Add(-time.Hour)))

	// Latest and totals ignore the window
	ov, err = svc.Overview(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, ov.TotalCount)
	assert.Zero(t, ov.RecentCount)
	assert.Zero(t, ov.ActiveDevices)
	assert.NotNil(t, ov.LatestTime)
}

func TestService_Histogram(t *testing.T) {
	svc := newService(t,
		record("phone-1", now.Add(-30*time.Hour), nil),
		record("phone-1", now.Add(-90*time.Minute), nil),
		record("phone-2", now.Add(-80*time.Minute), nil),
		record("phone-1", now.Add(-10*time.Minute), nil),
	)
	ctx := context.Background()

	buckets, err := svc.Histogram(ctx, "", 24, IntervalHour)
	require.NoError(t, err)
	assert.Equal(t, []Bucket{
		{Label: "2026-05-02 10:00:00", Count: 2},
		{Label: "2026-05-02 11:00:00", Count: 1},
	}, buckets)

	buckets, err = svc.Histogram(ctx, "phone-1", 48, IntervalDay)
	require.NoError(t, err)
	assert.Equal(t, []Bucket{
		{Label: "2026-05-01", Count: 1},
		{Label: "2026-05-02", Count: 2},
	}, buckets)
}

func TestService_ScalarSeriesBattery(t *testing.T) {
	var records []telemetry.Record
	for i := 0; i < 250; i++ {
		records = append(records, record("phone-1", now.Add(-time.Duration(250-i)*time.Minute), battery(float64(i), i%2 == 0)))
	}
	svc := newService(t, records...)

	summary, err := svc.ScalarSeries(context.Background(), 24, FieldBattery)
	require.NoError(t, err)
	require.Equal(t, 125, summary.Count)
	require.Len(t, summary.Points, 125)
	assert.Equal(t, 0.0, summary.Points[0].Value)
	assert.Equal(t, 248.0, summary.Points[124].Value)
	assert.Equal(t, Stats{Min: 0, Max: 248, Avg: 124}, summary.Stats)
	assert.Equal(t, true, summary.Points[0].Extras["isCharging"])
}

func TestService_ScalarSeriesWifi(t *testing.T) {
	wifi := func(strength float64) payload.Object {
		return payload.Object{"networkInfo": map[string]any{
			"wifiInfo": map[string]any{"signalStrength": strength},
		}}
	}
	svc := newService(t,
		record("phone-1", now.Add(-time.Hour), wifi(-60)),
		record("phone-1", now.Add(-30*time.Minute), battery(50, false)),
		record("phone-1", now.Add(-10*time.Minute), wifi(-71)),
	)

	summary, err := svc.ScalarSeries(context.Background(), 24, FieldWifiSignal)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, Stats{Min: -71, Max: -60, Avg: -65.5}, summary.Stats)
	assert.Equal(t, payload.NotAvailable, summary.Points[0].Extras["ssid"])
	assert.Equal(t, "signalStrength", FieldWifiSignal.ValueKey())
}

func TestService_ScalarSeriesEmptyWindow(t *testing.T) {
	svc := newService(t, record("phone-1", now.Add(-72*time.Hour), battery(50, false)))

	summary, err := svc.ScalarSeries(context.Background(), 24, FieldBattery)
	require.NoError(t, err)
	assert.Empty(t, summary.Points)
	assert.Zero(t, summary.Count)
	assert.Equal(t, Stats{}, summary.Stats)
}

func TestService_LocationsCapped(t *testing.T) {
	var records []telemetry.Record
	for i := 0; i < MaxLocations+5; i++ {
		records = append(records, record("phone-1", now.Add(-time.Duration(i)*time.Second), payload.Object{
			"location": map[string]any{"latitude": 39.9, "longitude": 116.4},
		}))
	}
	records = append(records, record("phone-1", now, payload.Object{"location": "unknown"}))
	svc := newService(t, records...)

	summary, err := svc.Locations(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, MaxLocations+5, summary.Count)
	assert.Len(t, summary.Locations, MaxLocations)
}

func TestService_TopAppsAndDevices(t *testing.T) {
	svc := newService(t,
		record("phone-1", now.Add(-48*time.Hour), app("com.old")),
		record("phone-1", now.Add(-time.Hour), app("com.maps")),
		record("phone-2", now.Add(-time.Hour), app("com.chat")),
		record("phone-2", now.Add(-time.Minute), app("com.chat")),
	)
	ctx := context.Background()

	apps, err := svc.TopApps(ctx, 24, 10)
	require.NoError(t, err)
	assert.Equal(t, []RankedEntry{{Key: "com.chat", Count: 2}, {Key: "com.maps", Count: 1}}, apps)

	devices, err := svc.TopDevices(ctx, 10)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "phone-1", devices[0].Key, "whole store, ties keep first-seen order")
	assert.Equal(t, 2, devices[0].Count)
}

type failingStore struct {
	storage.Store
}

var errBackend = errors.New("backend down")

func (failingStore) Query(context.Context, storage.QueryRequest) ([]telemetry.Record, error) {
	return nil, errBackend
}

func (failingStore) CountAll(context.Context) (int, error) {
	return 0, errBackend
}

func (failingStore) CountSince(context.Context, time.Time) (int, error) {
	return 0, errBackend
}

func (failingStore) Latest(context.Context, string) (*telemetry.Record, error) {
	return nil, errBackend
}

func TestService_StoreFailuresSurface(t *testing.T) {
	svc := NewService(failingStore{}, telemetry.FixedClock(now))
	ctx := context.Background()

	_, err := svc.Histogram(ctx, "", 24, IntervalHour)
	assert.ErrorIs(t, err, errBackend)
	_, err = svc.ScalarSeries(ctx, 24, FieldBattery)
	assert.ErrorIs(t, err, errBackend)
	_, err = svc.Locations(ctx, 24)
	assert.ErrorIs(t, err, errBackend)
	_, err = svc.TopApps(ctx, 24, 10)
	assert.ErrorIs(t, err, errBackend)
	_, err = svc.TopDevices(ctx, 10)
	assert.ErrorIs(t, err, errBackend)
	_, err = svc.Overview(ctx, 24)
	assert.ErrorIs(t, err, errBackend)
	_, err = svc.Latest(ctx, "")
	assert.ErrorIs(t, err, errBackend)
}

// countOnlyStore refuses record loads, so anything it serves must come from
// the counting methods.
type countOnlyStore struct {
	storage.Store
}

func (countOnlyStore) Query(context.Context, storage.QueryRequest) ([]telemetry.Record, error) {
	return nil, errBackend
}

func TestService_OverviewCountsWithoutLoadingRecords(t *testing.T) {
	store := memory.New()
	for _, rec := range []telemetry.Record{
		record("phone-1", now.Add(-30*time.Hour), nil),
		record("phone-1", now.Add(-2*time.Hour), nil),
		record("phone-2", now.Add(-time.Hour), nil),
	} {
		_, err := store.Append(context.Background(), &rec)
		require.NoError(t, err)
	}

	svc := NewService(countOnlyStore{store}, telemetry.FixedClock(now))
	ov, err := svc.Overview(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 3, ov.TotalCount)
	assert.Equal(t, 2, ov.RecentCount)
	assert.Equal(t, 2, ov.ActiveDevices)
}
