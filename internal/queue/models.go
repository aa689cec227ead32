package queue

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status represents the lifecycle of a queued production record.
type Status string

const (
	// StatusPending means the backend row has not been confirmed.
	StatusPending Status = "pending"
	// StatusPhotoPending means the row exists remotely but the photo upload or
	// the photo_path update has not been confirmed.
	StatusPhotoPending Status = "photo_pending"
	// StatusSynced is reported for records removed after both steps succeeded.
	StatusSynced Status = "synced"
	// StatusFailed is the dead-letter state used when sync.max_attempts is exhausted.
	StatusFailed Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusPhotoPending,
	StatusSynced,
	StatusFailed,
}

// AllStatuses returns the record statuses in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// Unsynced reports whether the status still awaits backend confirmation.
func (s Status) Unsynced() bool {
	return s == StatusPending || s == StatusPhotoPending
}

// Record is a production record waiting in the offline queue.
type Record struct {
	LocalID  string
	LineID   string
	UserID   string
	Date     string
	Quantity int
	Operator string
	Notes    string
	// LocalPhoto is the staged photo file awaiting upload.
	LocalPhoto string
	// RemotePhotoPath is the storage path once the upload has been confirmed.
	RemotePhotoPath string
	RemoteID        string
	Status          Status
	Attempts        int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPhoto reports whether the record carries photo evidence.
func (r *Record) HasPhoto() bool {
	return r.LocalPhoto != "" || r.RemotePhotoPath != ""
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate checks the payload fields required before a record may be queued.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.LineID) == "" {
		return fmt.Errorf("line id is required")
	}
	if !datePattern.MatchString(r.Date) {
		return fmt.Errorf("date %q must use YYYY-MM-DD", r.Date)
	}
	if _, err := time.Parse("2006-01-02", r.Date); err != nil {
		return fmt.Errorf("date %q is not a calendar date", r.Date)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", r.Quantity)
	}
	return nil
}

// StoragePath returns the object path the record's photo is uploaded to.
func StoragePath(lineID, localID string) string {
	return lineID + "/" + localID + ".jpg"
}

// HealthSummary describes aggregated queue counts.
type HealthSummary struct {
	Total            int
	Pending          int
	PhotoPending     int
	Failed           int
	PendingMutations int
	FailedMutations  int
}

// Unsynced returns the number of records still awaiting a flush.
func (h HealthSummary) Unsynced() int {
	return h.Pending + h.PhotoPending
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalRecords     int
	Error            string
}
