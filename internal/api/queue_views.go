package api

import (
	"sort"
	"time"
)

// SortRecordsNewestFirst orders queued records by CreatedAt descending,
// breaking ties by LocalID.
func SortRecordsNewestFirst(items []QueueRecord) []QueueRecord {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]QueueRecord, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := ParseQueueTime(sorted[i].CreatedAt)
		tj := ParseQueueTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].LocalID > sorted[j].LocalID
		}
		return ti.After(tj)
	})
	return sorted
}

// ParseQueueTime parses a payload timestamp. Unparseable values yield the
// zero time.
func ParseQueueTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateTimeFormat, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
