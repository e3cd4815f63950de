// Package imaging prepares uploaded photos: validation, background removal
// through an upstream model and the watermarked preview.
package imaging

import (
	"bytes"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
)

const (
	// MaxUploadSize is the largest upload accepted for processing
	MaxUploadSize = 20 << 20
	// MaxDimension bounds either side of an accepted image
	MaxDimension = 8192
)

var (
	ErrEmptyImage         = errors.New("imaging: empty image")
	ErrImageTooLarge      = errors.New("imaging: image too large")
	ErrUnsupportedFormat  = errors.New("imaging: unsupported image format")
	ErrInvalidDimensions  = errors.New("imaging: invalid image dimensions")
	ErrNoImageInResponse  = errors.New("imaging: no image in upstream response")
	ErrUpstreamFailed     = errors.New("imaging: upstream request failed")
	ErrUpstreamBadRequest = errors.New("imaging: upstream rejected request")
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Validate checks that data is a JPEG or PNG of sane size and returns its format
func Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if len(data) > MaxUploadSize {
		return "", ErrImageTooLarge
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", ErrUnsupportedFormat
	}
	if format != "jpeg" && format != "png" {
		return "", ErrUnsupportedFormat
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", ErrInvalidDimensions
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return "", ErrImageTooLarge
	}
	return format, nil
}

// IsImageDocument reports whether an uploaded document looks like an image
// by its MIME type or file extension
func IsImageDocument(fileName, mimeType string) bool {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(fileName))]
}
