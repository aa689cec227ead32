// Package services defines shared utilities consumed by the sync pipeline and
// its backend integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queued record IDs, line IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can decide
//     whether a failure is worth retrying on the next flush.
package services
