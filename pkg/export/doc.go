// Package export provides backup and restore of raw telemetry records.
//
// # Formats
//
// JSON:
//   - Every record field (device_id, timestamp, created_at, data)
//   - Export metadata (time range, record count, version)
//   - Can be re-imported
//
// CSV:
//   - One row per record with the well-known payload values pulled into
//     their own columns (battery level, Wi-Fi signal, location, app)
//   - Raw payload JSON in the last column
//   - Export-only
//
// Either format can be gzip-compressed on the way out; imports accept a
// gzip body when Content-Encoding says so.
//
// # HTTP API
//
// Export endpoint: GET /api/export
// Query parameters:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
//   - device_id: device filter (optional)
//   - gzip: "true" to compress the download
//
// Example:
//
//	curl "http://localhost:8000/api/export?format=json&gzip=true" -o backup.json.gz
//
// Import endpoint: POST /api/import
//
//	curl -X POST "http://localhost:8000/api/import" \
//	  -H "Content-Type: application/json" \
//	  -H "Content-Encoding: gzip" \
//	  --data-binary @backup.json.gz
//
// Imported records keep their original receipt time, so windowed
// analytics see them where they were, but get fresh IDs. Invalid records
// are skipped and reported in ImportResult.Errors rather than failing the
// whole import.
package export
