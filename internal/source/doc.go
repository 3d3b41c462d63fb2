// Package source is the Record Source Adapter for the Teable table-record
// API. It reads records by status and writes status values back in batches.
// It holds no state between calls.
package source
