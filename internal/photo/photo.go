// Package photo validates and stages production photos before they are queued.
//
// Only JPEG and PNG sources are accepted. Every staged file is a JPEG at
// <photo_dir>/<localID>.jpg, downscaled and re-encoded when it exceeds the
// configured byte or dimension limits.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"linesync/internal/config"
	"linesync/internal/fileutil"
	"linesync/internal/services"
)

const stagedFileMode = 0o644

// ErrUnsupportedType is returned for sources that are not JPEG or PNG.
var ErrUnsupportedType = errors.New("unsupported photo type")

const (
	mimeJPEG       = "image/jpeg"
	mimePNG        = "image/png"
	minJPEGQuality = 40
	qualityStep    = 10
	shrinkFactor   = 0.75
)

// Preparer stages photos into the local photo directory.
type Preparer struct {
	dir          string
	maxBytes     int64
	maxDimension int
	quality      int
}

// NewPreparer builds a Preparer from the photo settings in cfg.
func NewPreparer(cfg *config.Config) *Preparer {
	return &Preparer{
		dir:          cfg.Paths.PhotoDir,
		maxBytes:     cfg.Photos.MaxBytes,
		maxDimension: cfg.Photos.MaxDimension,
		quality:      cfg.Photos.JPEGQuality,
	}
}

// StagedPath returns where the photo of a queued record lives.
func (p *Preparer) StagedPath(localID string) string {
	return filepath.Join(p.dir, localID+".jpg")
}

// DetectType returns the sniffed MIME type of path when it is an accepted image.
func DetectType(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect photo type: %w", err)
	}
	switch {
	case mtype.Is(mimeJPEG):
		return mimeJPEG, nil
	case mtype.Is(mimePNG):
		return mimePNG, nil
	default:
		return "", services.Wrap(services.ErrValidation, "photo", "detect", mtype.String(), ErrUnsupportedType)
	}
}

// Stage validates src and writes the upload-ready JPEG for localID. JPEG
// sources already within limits are copied unchanged.
func (p *Preparer) Stage(localID, src string) (string, error) {
	if localID == "" {
		return "", errors.New("stage photo: local id is required")
	}
	kind, err := DetectType(src)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("create photo dir: %w", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat photo: %w", err)
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "photo", "decode", src, err)
	}

	dest := p.StagedPath(localID)
	bounds := img.Bounds()
	withinLimits := info.Size() <= p.maxBytes && max(bounds.Dx(), bounds.Dy()) <= p.maxDimension
	if kind == mimeJPEG && withinLimits {
		if err := fileutil.CopyVerified(src, dest, stagedFileMode); err != nil {
			return "", fmt.Errorf("copy staged photo: %w", err)
		}
		return dest, nil
	}

	data, err := p.encode(img)
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteAtomic(dest, data, stagedFileMode); err != nil {
		return "", fmt.Errorf("write staged photo: %w", err)
	}
	return dest, nil
}

// encode fits img into the dimension limit, then lowers quality and finally
// dimensions until the JPEG fits in maxBytes.
func (p *Preparer) encode(img image.Image) ([]byte, error) {
	img = imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)
	quality := p.quality
	for {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode photo: %w", err)
		}
		if int64(buf.Len()) <= p.maxBytes {
			return buf.Bytes(), nil
		}
		if quality-qualityStep >= minJPEGQuality {
			quality -= qualityStep
			continue
		}
		bounds := img.Bounds()
		width := int(float64(bounds.Dx()) * shrinkFactor)
		if width < 64 {
			return nil, services.Wrap(services.ErrValidation, "photo", "encode", "cannot fit photo under size limit", nil)
		}
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
}

// Discard removes a staged photo. Missing files are not an error.
func (p *Preparer) Discard(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staged photo: %w", err)
	}
	return nil
}
