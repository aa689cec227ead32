package notifications

import (
	"fmt"
	"strings"
	"time"
)

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

// formatMessage renders the ntfy text for event. Events that are too chatty
// for a phone notification report ok=false.
//
// Payload keys:
//   - flush_completed: synced, failed (int), duration (time.Duration)
//   - record_failed: localID, lineID, error
//   - mutation_failed: kind, error
//   - connectivity_changed: online (bool)
func formatMessage(event Event, payload Payload) (message, bool) {
	switch event {
	case EventFlushCompleted:
		synced := intValue(payload["synced"])
		failed := intValue(payload["failed"])
		if synced == 0 && failed == 0 {
			return message{}, false
		}
		took := durationText(payload["duration"])
		if failed == 0 {
			return message{
				title: "linesync - Synced",
				body:  fmt.Sprintf("Uploaded %d production records in %s", synced, took),
				tags:  []string{"linesync", "sync", "completed"},
			}, true
		}
		return message{
			title: "linesync - Synced (with failures)",
			body:  fmt.Sprintf("Uploaded %d production records, %d failed permanently in %s", synced, failed, took),
			tags:  []string{"linesync", "sync", "failed"},
		}, true
	case EventRecordFailed:
		body := fmt.Sprintf("Record %s on line %s gave up after repeated failures", stringValue(payload["localID"]), stringValue(payload["lineID"]))
		if reason := stringValue(payload["error"]); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "linesync - Record Failed",
			body:     body,
			tags:     []string{"linesync", "record", "failed"},
			priority: "high",
		}, true
	case EventMutationFailed:
		body := fmt.Sprintf("Queued %s change gave up after repeated failures", stringValue(payload["kind"]))
		if reason := stringValue(payload["error"]); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "linesync - Change Failed",
			body:     body,
			tags:     []string{"linesync", "mutation", "failed"},
			priority: "high",
		}, true
	case EventConnectivityChanged:
		// Transitions can flap on weak links; only dashboards want them.
		return message{}, false
	case EventTest:
		return message{
			title:    "linesync - Test",
			body:     "Notification system test",
			tags:     []string{"linesync", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case error:
		return strings.TrimSpace(value.Error())
	default:
		return fmt.Sprint(value)
	}
}

func intValue(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func durationText(v any) string {
	d, _ := v.(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}
