package sniff

import (
	"errors"
	"fmt"
	"strings"
)

// Category partitions allowed content types. It decides the storage directory
// and which validation and metadata strategies apply.
type Category string

// Known categories.
const (
	Image    Category = "image"
	Audio    Category = "audio"
	Video    Category = "video"
	Document Category = "document"
)

// categoryOrder fixes lookup order so that a type listed twice resolves deterministically.
var categoryOrder = []Category{Image, Audio, Video, Document}

// Dir returns the directory name used for files of this category.
func (c Category) Dir() string {
	switch c {
	case Image:
		return "images"
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return "files"
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range categoryOrder {
		if c == k {
			return true
		}
	}
	return false
}

// AllowList maps each category to the MIME types accepted for it.
// Patterns may use a trailing wildcard, e.g. "image/*".
type AllowList map[Category][]string

var (
	ErrEmptyAllowList  = errors.New("sniff: allow-list is empty")
	ErrUnknownCategory = errors.New("sniff: unknown category")
)

// DefaultAllowList returns the types accepted when nothing is configured.
// Every image type listed has a registered structural decoder.
func DefaultAllowList() AllowList {
	return AllowList{
		Image: {"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff"},
		Audio: {"audio/mpeg", "audio/wav", "audio/ogg", "audio/flac", "audio/aac", "audio/x-m4a"},
		Video: {"video/mp4", "video/webm", "video/quicktime", "video/x-matroska", "video/ogg"},
	}
}

// Validate checks that the list names only known categories and is not empty.
func (a AllowList) Validate() error {
	total := 0
	for c, types := range a {
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
		total += len(types)
	}
	if total == 0 {
		return ErrEmptyAllowList
	}
	return nil
}

// CategoryOf returns the category whose allow-list accepts mimeType.
func (a AllowList) CategoryOf(mimeType string) (Category, bool) {
	mimeType = normalizeMIME(mimeType)
	if mimeType == "" {
		return "", false
	}
	for _, c := range categoryOrder {
		if matchesMIME(mimeType, a[c]) {
			return c, true
		}
	}
	return "", false
}

// normalizeMIME extracts the base MIME type, removing parameters like charset.
func normalizeMIME(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.TrimSpace(strings.ToLower(mimeType))
}

// matchesMIME checks if a normalised MIME type matches any of the allowed patterns.
func matchesMIME(mimeType string, allowed []string) bool {
	for _, pattern := range allowed {
		pattern = normalizeMIME(pattern)
		if mimeType == pattern {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(mimeType, prefix) {
				return true
			}
		}
	}
	return false
}
