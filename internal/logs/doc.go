// Package logs reads the daemon log file for `linesync logs`.
//
// Tail returns the last N lines or everything after a byte offset, and in
// follow mode polls until new lines arrive or the wait expires. A Filter
// narrows output to one record or line, matching both the console and JSON
// encodings written by the logging package.
package logs
