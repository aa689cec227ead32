// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Most
// responses alias the HTTP API types so both surfaces report identical
// shapes.
package ipc
