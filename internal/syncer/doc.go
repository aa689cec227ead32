// Package syncer moves queued production records and mutations to the
// hosted backend.
//
// A record travels pending -> photo_pending -> synced. The row is inserted
// with the record's local UUID as its primary key, so a repeated insert after
// a lost response comes back as a conflict and counts as confirmed. Records
// with a photo then upload the staged JPEG (upsert) and patch photo_path;
// a failure at either step leaves the record in photo_pending for the next
// flush. Only a fully confirmed record leaves the queue.
//
// Flush is non-reentrant: a call made while another flush runs returns
// ErrFlushInProgress without touching the queue. After records, queued
// mutations are replayed in insertion order with the same failure rules.
// When a flush changes anything, the refresh continuation re-fetches the
// affected and watched lines in the same goroutine.
package syncer
