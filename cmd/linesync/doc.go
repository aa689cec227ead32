// Package main hosts the linesync CLI entrypoint and command graph.
//
// Commands prefer the running daemon over IPC so the daemon's connectivity
// state decides between sending and queueing. When no daemon answers, the
// same services are wired in-process and the command runs against the local
// queue directly, which keeps every command usable offline.
package main
