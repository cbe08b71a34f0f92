// Package tasks runs long playlist operations with progress reporting.
//
// [BulkExport] exports many playlists concurrently through a [services.Service].
// A bounded worker group fetches each playlist (the engine underneath handles
// token refresh, retries and pagination) and renders it with the formatter
// package. Failures are recorded per playlist; the run only stops early when
// its context is cancelled. A manifest summarizing every outcome is written
// to the output directory.
//
// Progress is reported on an optional channel. Sends never block, so a slow
// reader misses updates instead of stalling the workers.
package tasks
