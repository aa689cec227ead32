// Package queue persists the offline record queue in SQLite.
//
// The Store keeps three kinds of state: production records awaiting
// submission (with their pending/photo_pending/failed lifecycle), typed
// mutations awaiting replay, and JSON snapshots of the last remote listings
// so reads keep working offline. A record is deleted only after its row and
// photo have both been confirmed by the backend, or on explicit user request.
//
// Schema changes bump schemaVersion in schema.go together with schema.sql.
package queue
