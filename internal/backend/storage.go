package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linesync/internal/services"
)

func escapeObjectPath(path string) string {
	parts := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Upload stores an object, replacing any existing object at the same path so
// a repeated upload after a partial failure is harmless.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) error {
	if err := c.checkConfigured("upload"); err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, url.PathEscape(bucket), escapeObjectPath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "3600")
	return c.do(ctx, "upload "+bucket, req, nil)
}

// PublicURL returns the permanent URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, url.PathEscape(bucket), escapeObjectPath(path))
}

type signRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

// SignedURL requests an expiring URL for an object in a private bucket.
func (c *Client) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if err := c.checkConfigured("sign"); err != nil {
		return "", err
	}
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		return "", services.Wrap(services.ErrValidation, "backend", "sign", "ttl must be at least one second", nil)
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.baseURL, url.PathEscape(bucket), escapeObjectPath(path))
	req, err := c.newJSONRequest(ctx, http.MethodPost, endpoint, signRequest{ExpiresIn: seconds})
	if err != nil {
		return "", err
	}
	var out signResponse
	if err := c.do(ctx, "sign "+bucket, req, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", services.Wrap(services.ErrTransient, "backend", "sign", "empty signed url", nil)
	}
	if strings.HasPrefix(out.SignedURL, "http://") || strings.HasPrefix(out.SignedURL, "https://") {
		return out.SignedURL, nil
	}
	return c.baseURL + "/storage/v1" + "/" + strings.TrimLeft(out.SignedURL, "/"), nil
}
