// Package api defines wire-format types and converters shared by the IPC
// and HTTP API layers. It translates queue and syncer models into DTOs so
// the CLI and other consumers can render them without importing internals.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Mutations whose kind cannot be decoded are still listed with their decode
// error so an operator can see and remove them.
package api
