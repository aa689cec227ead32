// Package daemon coordinates the long-running linesync process.
//
// It wires the offline queue, the flush engine, the connectivity observer
// and the realtime change feed into a single lifecycle with flock-based
// locking to prevent multiple instances. On every offline to online
// transition the daemon drains the queue, refreshes watched lines and
// disables lines whose expiry date has passed. It also serves the local
// HTTP API and the queue maintenance helpers used by the IPC server.
//
// Keep orchestration here: flush rules belong to syncer, listing rules to
// records, finance and members.
package daemon
