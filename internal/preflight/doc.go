// Package preflight provides readiness checks run when the daemon starts
// and shown by "linesync status".
//
// Directory and backend configuration failures are fatal. Low disk space,
// a missing session passphrase and an unreachable backend are warnings:
// the daemon still queues records locally.
package preflight
