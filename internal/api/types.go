package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueRecord describes a queued production record in a transport-friendly format.
type QueueRecord struct {
	LocalID         string `json:"localId"`
	LineID          string `json:"lineId"`
	UserID          string `json:"userId,omitempty"`
	Date            string `json:"date"`
	Quantity        int    `json:"quantity"`
	Operator        string `json:"operator,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Status          string `json:"status"`
	HasPhoto        bool   `json:"hasPhoto"`
	LocalPhoto      string `json:"localPhoto,omitempty"`
	RemotePhotoPath string `json:"remotePhotoPath,omitempty"`
	RemoteID        string `json:"remoteId,omitempty"`
	Attempts        int    `json:"attempts"`
	LastError       string `json:"lastError,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
	UpdatedAt       string `json:"updatedAt,omitempty"`
}

// QueueMutation describes a stored mutation awaiting replay.
type QueueMutation struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	LineID      string `json:"lineId,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"lastError,omitempty"`
	DecodeError string `json:"decodeError,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// QueueStats summarizes queue counts.
type QueueStats struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	PhotoPending     int `json:"photoPending"`
	Failed           int `json:"failed"`
	PendingMutations int `json:"pendingMutations"`
	FailedMutations  int `json:"failedMutations"`
}

// FlushSummary reports what a flush did.
type FlushSummary struct {
	Skipped          bool     `json:"skipped"`
	Synced           int      `json:"synced"`
	Pending          int      `json:"pending"`
	PhotoPending     int      `json:"photoPending"`
	Failed           int      `json:"failed"`
	MutationsApplied int      `json:"mutationsApplied"`
	MutationsPending int      `json:"mutationsPending"`
	MutationsFailed  int      `json:"mutationsFailed"`
	MutationsUnknown int      `json:"mutationsUnknown"`
	RefreshedLines   []string `json:"refreshedLines,omitempty"`
	StartedAt        string   `json:"startedAt,omitempty"`
	DurationMillis   int64    `json:"durationMillis"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Warning bool   `json:"warning"`
	Detail  string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running           bool          `json:"running"`
	PID               int           `json:"pid"`
	Connectivity      string        `json:"connectivity"`
	ConnectivitySince string        `json:"connectivitySince,omitempty"`
	Flushing          bool          `json:"flushing"`
	RealtimeConnected bool          `json:"realtimeConnected"`
	WatchLines        []string      `json:"watchLines,omitempty"`
	QueueDBPath       string        `json:"queueDbPath"`
	LockFilePath      string        `json:"lockFilePath"`
	Queue             QueueStats    `json:"queue"`
	LastFlush         *FlushSummary `json:"lastFlush,omitempty"`
	Preflight         []CheckResult `json:"preflight,omitempty"`
}

// QueueListResponse wraps queued records and mutations.
type QueueListResponse struct {
	Records   []QueueRecord   `json:"records"`
	Mutations []QueueMutation `json:"mutations"`
}

// ErrorResponse is the body of a failed HTTP API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitResponse reports where a newly entered record ended up.
type SubmitResponse struct {
	LocalID   string `json:"localId"`
	Status    string `json:"status"`
	Queued    bool   `json:"queued"`
	LastError string `json:"lastError,omitempty"`
}
