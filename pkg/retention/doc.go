/*
Package retention removes expired telemetry records.

Records are kept for a fixed period measured on the server receipt time
(ReceivedAt), never the device-reported timestamp, since device clocks can
be skewed or reset:

	Receipt time                          Outcome
	─────────────────────────────────────────────────────────────
	now - expiry .. now                   kept
	before now - expiry                   deleted on the next pass

The host schedules passes (see pkg/server) and every pass is idempotent:
running it twice with the same clock deletes nothing the second time, so
a failed pass can simply be retried.

# Usage

	cleaner := retention.New(store, 30*24*time.Hour, telemetry.SystemClock{})
	res, err := cleaner.Run(ctx)
	if err != nil {
	    log.Printf("Retention pass failed: %v", err)
	}
	log.Printf("Removed %d records received before %s", res.Deleted, res.Cutoff)
*/
package retention
