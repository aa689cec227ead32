package ipc

import (
	"linesync/internal/api"
	"linesync/internal/records"
)

// StopRequest asks the daemon process to stop background work.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse mirrors the HTTP API status payload.
type StatusResponse = api.DaemonStatus

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queued records and mutations.
type QueueListResponse = api.QueueListResponse

// QueueRemoveRequest removes specific records by local ID.
type QueueRemoveRequest struct {
	LocalIDs []string `json:"local_ids"`
}

// QueueRemoveResponse reports per-record outcomes.
type QueueRemoveResponse = api.RemoveRecordsResult

// MutationRemoveRequest removes one queued mutation.
type MutationRemoveRequest struct {
	ID int64 `json:"id"`
}

// MutationRemoveResponse reports whether the mutation existed.
type MutationRemoveResponse struct {
	Removed bool `json:"removed"`
}

// QueueRetryRequest retries failed records. Empty list means every failed
// record and every failed mutation.
type QueueRetryRequest struct {
	LocalIDs []string `json:"local_ids"`
}

// QueueRetryResponse reports how many entries went back to pending.
type QueueRetryResponse struct {
	Records   int64 `json:"records"`
	Mutations int64 `json:"mutations"`
}

// QueueClearFailedRequest removes failed records.
type QueueClearFailedRequest struct{}

// QueueClearFailedResponse reports number of removed entries.
type QueueClearFailedResponse struct {
	Removed int `json:"removed"`
}

// FlushRequest drains the queue now.
type FlushRequest struct{}

// FlushResponse summarizes the flush.
type FlushResponse = api.FlushSummary

// EnqueueRequest carries a production record entered at the CLI.
type EnqueueRequest struct {
	LineID   string `json:"line_id"`
	Date     string `json:"date"`
	Quantity int    `json:"quantity"`
	Operator string `json:"operator"`
	Notes    string `json:"notes"`
	// Photo is an absolute path readable by the daemon.
	Photo string `json:"photo"`
}

// EnqueueResponse reports where the record ended up.
type EnqueueResponse = api.SubmitResponse

// LineRecordsRequest fetches the merged listing of a line.
type LineRecordsRequest struct {
	LineID string `json:"line_id"`
}

// LineRecordsResponse is the merged listing.
type LineRecordsResponse = records.Listing

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	SchemaVersion    int    `json:"schema_version"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalRecords     int    `json:"total_records"`
	Error            string `json:"error"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
