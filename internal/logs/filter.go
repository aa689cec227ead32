package logs

import (
	"strconv"
	"strings"

	"linesync/internal/logging"
)

// Filter selects log lines. Empty fields match everything.
type Filter struct {
	LocalID   string
	LineID    string
	Component string
	// MinLevel is one of DEBUG, INFO, WARN, ERROR.
	MinLevel string
}

func (f Filter) empty() bool {
	return f.LocalID == "" && f.LineID == "" && f.Component == "" && f.MinLevel == ""
}

// Match reports whether line passes every set field.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	if f.LocalID != "" && !hasField(line, logging.FieldLocalID, f.LocalID) {
		return false
	}
	if f.LineID != "" && !hasField(line, logging.FieldLineID, f.LineID) {
		return false
	}
	if f.Component != "" && !hasComponent(line, f.Component) {
		return false
	}
	if f.MinLevel != "" && levelRank(lineLevel(line)) < levelRank(strings.ToUpper(f.MinLevel)) {
		return false
	}
	return true
}

func (f Filter) apply(lines []string) []string {
	if f.empty() {
		return lines
	}
	kept := lines[:0]
	for _, line := range lines {
		if f.Match(line) {
			kept = append(kept, line)
		}
	}
	return kept
}

// hasField matches key=value in console lines and "key":"value" in JSON lines.
func hasField(line, key, value string) bool {
	console := key + "=" + value
	if idx := strings.Index(line, console); idx >= 0 {
		end := idx + len(console)
		if end == len(line) || line[end] == ' ' {
			return true
		}
	}
	quoted := key + "=" + strconv.Quote(value)
	if strings.Contains(line, quoted) {
		return true
	}
	return strings.Contains(line, `"`+key+`":`+strconv.Quote(value))
}

func hasComponent(line, component string) bool {
	if strings.Contains(line, " "+component+": ") {
		return true
	}
	return strings.Contains(line, `"`+logging.FieldComponent+`":`+strconv.Quote(component))
}

func lineLevel(line string) string {
	if strings.HasPrefix(line, "{") {
		for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
			if strings.Contains(line, `"level":"`+level+`"`) {
				return level
			}
		}
		return ""
	}
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func levelRank(level string) int {
	switch level {
	case "DEBUG":
		return 0
	case "INFO":
		return 1
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return 1
	}
}
