// Package logging assembles structured slog loggers for linesync.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that tag log lines with queued record IDs, line IDs and
// correlation IDs. NewNop gives tests and optional wiring a logger that
// cannot fail.
package logging
