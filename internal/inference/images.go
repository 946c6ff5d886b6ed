package inference

import (
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/pkg/anthropic"
)

var supportedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageLoader turns image references into API image sources. http(s) refs
// are passed through for the API to fetch; data URIs and local files are
// sent inline.
type ImageLoader struct {
	maxBytes int64
}

// NewImageLoader creates a loader rejecting local files above maxBytes.
// Zero means 5 MiB.
func NewImageLoader(maxBytes int64) *ImageLoader {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	return &ImageLoader{maxBytes: maxBytes}
}

// Load resolves one reference.
func (l *ImageLoader) Load(ref string) (anthropic.ImageSource, error) {
	switch {
	case ref == "":
		return anthropic.ImageSource{}, apperr.Validation("image reference is empty")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return anthropic.ImageSource{URL: ref}, nil
	case strings.HasPrefix(ref, "data:"):
		return parseDataURI(ref)
	default:
		return l.loadFile(strings.TrimPrefix(ref, "file://"))
	}
}

// Check reports whether ref would load, without keeping the image.
func (l *ImageLoader) Check(ref string) error {
	_, err := l.Load(ref)
	return err
}

func (l *ImageLoader) loadFile(path string) (anthropic.ImageSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return anthropic.ImageSource{}, apperr.Validation("image %s: %v", path, err)
	}
	if info.Size() > l.maxBytes {
		return anthropic.ImageSource{}, apperr.Validation("image %s is %d bytes, limit %d", path, info.Size(), l.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return anthropic.ImageSource{}, apperr.Validation("image %s: %v", path, err)
	}

	mediaType := http.DetectContentType(data)
	if !supportedMediaTypes[mediaType] {
		return anthropic.ImageSource{}, apperr.Validation("image %s has unsupported type %s", path, mediaType)
	}
	return anthropic.ImageSource{
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// parseDataURI accepts data:<media>;base64,<payload>.
func parseDataURI(ref string) (anthropic.ImageSource, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return anthropic.ImageSource{}, apperr.Validation("image data URI must be base64 encoded")
	}
	mediaType := strings.TrimSuffix(header, ";base64")
	if !supportedMediaTypes[mediaType] {
		return anthropic.ImageSource{}, apperr.Validation("image data URI has unsupported type %s", mediaType)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return anthropic.ImageSource{}, apperr.Validation("image data URI: %v", err)
	}
	return anthropic.ImageSource{MediaType: mediaType, Data: payload}, nil
}
