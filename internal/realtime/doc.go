// Package realtime subscribes to row changes of the watched production
// lines over the backend's Phoenix websocket and refreshes their cached
// listings when something changes.
package realtime
