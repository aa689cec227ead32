package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"linesync/internal/queue"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

type palette struct {
	enabled bool
}

func newPalette(w io.Writer) palette {
	return palette{enabled: shouldColorize(w)}
}

func (p palette) paint(attr color.Attribute, s string) string {
	c := color.New(attr)
	if p.enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(s)
}

func (p palette) status(kind statusKind, s string) string {
	switch kind {
	case statusOK:
		return p.paint(color.FgGreen, s)
	case statusWarn:
		return p.paint(color.FgYellow, s)
	case statusError:
		return p.paint(color.FgRed, s)
	default:
		return p.paint(color.FgBlue, s)
	}
}

func renderStatusLine(p palette, label string, kind statusKind, message string) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	return p.status(kind, fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText))
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func renderSectionHeader(p palette, title string) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	return []string{p.paint(color.FgBlue, line), p.paint(color.FgBlue, rule)}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func queueStatusKind(status queue.Status) statusKind {
	switch status {
	case queue.StatusFailed:
		return statusError
	case queue.StatusPhotoPending:
		return statusWarn
	case queue.StatusSynced:
		return statusOK
	default:
		return statusInfo
	}
}

// sourceNote describes where a listing came from, e.g. "live" or
// "cached 5 minutes ago".
func sourceNote(source queue.Source, fetchedAt time.Time) string {
	if source == queue.SourceRemote {
		return "live"
	}
	if fetchedAt.IsZero() {
		return string(source)
	}
	return fmt.Sprintf("%s %s", source, humanize.Time(fetchedAt))
}

func printSourceNote(out io.Writer, p palette, source queue.Source, fetchedAt time.Time) {
	note := sourceNote(source, fetchedAt)
	if source == queue.SourceRemote {
		fmt.Fprintln(out, p.paint(color.FgGreen, "Source: "+note))
		return
	}
	fmt.Fprintln(out, p.paint(color.FgYellow, "Source: "+note+" (backend unreachable)"))
}
