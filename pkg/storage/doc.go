/*
Package storage provides the pluggable record store behind devicepulse.

# Store Interface

Every backend stores telemetry.Record values keyed by a store-assigned ID
and indexed by receive time and device:
  - memory: In-memory storage for tests and throwaway deployments
  - badger: BadgerDB (LSM tree, CBOR values) for single-node persistence
  - postgres: the collected_data table, for shared deployments

The analytics layer only needs Query and the counting methods; ingest,
retention and export use the rest.

# Receive Time

ReceivedAt is stamped by the server clock at ingest and is the only time
the store indexes. Device-supplied timestamps (CapturedAtMs) are stored
as-is and never used for windowing or ordering.

Query windows are half-open: Since is inclusive, Until is exclusive. Zero
values leave that side open.

# Unattributed Records

Records without a device ID are stored with a nil DeviceID (NULL in SQL).
They count as one distinct device in CountDistinctDevices and appear
under a nil device_id in DeviceCounts, matching COUNT(DISTINCT) and
GROUP BY over a nullable column.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	id, err := store.Append(ctx, &telemetry.Record{
	    DeviceID:     telemetry.DeviceRef("phone-1"),
	    CapturedAtMs: time.Now().UnixMilli(),
	    Payload:      payload.Object{"battery": map[string]any{"level": 80}},
	    ReceivedAt:   time.Now().UTC(),
	})

	// Last 24 hours for one device, oldest first
	recs, err := store.Query(ctx, storage.QueryRequest{
	    DeviceID: "phone-1",
	    Since:    time.Now().Add(-24 * time.Hour),
	})

# Retention

DeleteBefore removes everything received before a cutoff. The retention
package calls it on a schedule; badger additionally needs value log GC
(RunGC) to give the space back to the filesystem.

# Contract Tests

storagetest.RunContract exercises the ordering, window and counting rules above;
each backend runs it from its own tests.
*/
package storage
