// Package backend talks to the hosted row and object API.
//
// Client wraps the PostgREST-style row endpoints under /rest/v1 and the
// object storage endpoints under /storage/v1. It never retries; failures are
// tagged with the services error markers so the sync pipeline can decide
// whether the next flush should try again.
package backend
