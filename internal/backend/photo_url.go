package backend

import (
	"context"
	"time"

	"linesync/internal/config"
)

// PhotoURLResolver turns stored photo paths into URLs a reader can open. It is
// the single place that knows whether the bucket is public or private.
type PhotoURLResolver struct {
	client *Client
	bucket string
	mode   string
	ttl    time.Duration
}

// NewPhotoURLResolver builds a resolver using photos.url_mode from cfg.
func NewPhotoURLResolver(client *Client, cfg *config.Config) *PhotoURLResolver {
	return &PhotoURLResolver{
		client: client,
		bucket: cfg.Backend.PhotoBucket,
		mode:   cfg.Photos.URLMode,
		ttl:    cfg.SignedURLTTL(),
	}
}

// Mode returns the configured URL mode.
func (r *PhotoURLResolver) Mode() string {
	return r.mode
}

// Resolve returns the URL for path, or an empty string when path is empty.
func (r *PhotoURLResolver) Resolve(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if r.mode == config.URLModeSigned {
		return r.client.SignedURL(ctx, r.bucket, path, r.ttl)
	}
	return r.client.PublicURL(r.bucket, path), nil
}
