// Package config loads, normalizes, and validates linesync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LINESYNC_BACKEND_URL and LINESYNC_API_KEY. The Config type centralizes every
// knob the daemon and CLI need so the queue database, photo staging area and
// backend credentials are discovered in one pass.
package config
