// Package naming builds stored file names and tenant-scoped storage paths.
//
// Paths have the shape {tenant}/{category dir}/{YYYY}/{MM}/{name}. The tenant
// segment is never rewritten: an identifier that is not already a safe path
// segment is rejected, so the first segment of a path always identifies
// exactly one tenant.
package naming

import (
	"errors"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/dmitrymomot/filegate/pkg/id"
	"github.com/dmitrymomot/filegate/pkg/sniff"
)

const (
	// DefaultMaxNameLength caps sanitised names, in bytes, extension included.
	DefaultMaxNameLength = 255

	maxExtLength   = 10
	fallbackPrefix = "file_"
)

var (
	ErrInvalidTenant = errors.New("naming: tenant id is not a safe path segment")
	ErrInvalidName   = errors.New("naming: resolved name is not a safe path segment")
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// reservedChars are removed from client-supplied name stems.
const reservedChars = `./\:*?"<>|`

// reservedNames are device names that some filesystems refuse.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Resolver turns client file names into stored names and storage paths.
type Resolver struct {
	now        func() time.Time
	newToken   func() string
	maxNameLen int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the time source used for date segments and fallback names.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMaxNameLength caps sanitised names at n bytes.
func WithMaxNameLength(n int) Option {
	return func(r *Resolver) {
		if n > maxExtLength+1 {
			r.maxNameLen = n
		}
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		now:        time.Now,
		newToken:   id.NewULID,
		maxNameLen: DefaultMaxNameLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveName returns the name under which an upload is stored.
// With unique set, the name is a random token plus the original extension and
// carries nothing else from the client. Otherwise the client name is sanitised.
func (r *Resolver) ResolveName(clientFilename string, unique bool) string {
	stem, ext := splitExt(clientFilename)
	if unique {
		return strings.ToLower(r.newToken()) + ext
	}

	stem = sanitizeStem(stem)
	if degenerate(stem) {
		stem = fallbackPrefix + strconv.FormatInt(r.now().UnixMilli(), 10)
	}

	if limit := r.maxNameLen - len(ext); len(stem) > limit {
		stem = truncateUTF8(stem, limit)
	}
	return stem + ext
}

// ResolvePath builds the storage path of a resolved name for a tenant.
// The category directory comes from the validated content category, never
// from anything the client declared.
func (r *Resolver) ResolvePath(resolvedName, tenantID string, category sniff.Category) (string, error) {
	if !ValidTenant(tenantID) {
		return "", ErrInvalidTenant
	}
	if resolvedName == "" || resolvedName != path.Base(resolvedName) || strings.ContainsAny(resolvedName, `/\`) ||
		resolvedName == "." || resolvedName == ".." {
		return "", ErrInvalidName
	}

	now := r.now().UTC()
	return path.Join(
		tenantID,
		category.Dir(),
		strconv.Itoa(now.Year()),
		twoDigits(int(now.Month())),
		resolvedName,
	), nil
}

// ValidTenant reports whether tenantID can be used as the root path segment.
func ValidTenant(tenantID string) bool {
	return tenantPattern.MatchString(tenantID)
}

// TenantOf returns the tenant segment of a storage path.
func TenantOf(storagePath string) string {
	tenant, _, _ := strings.Cut(storagePath, "/")
	return tenant
}

// splitExt separates the extension of the last path element and sanitises it.
// Extensions that are not short lowercase alphanumerics are dropped.
func splitExt(name string) (string, string) {
	name = norm.NFC.String(name)
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return name, ""
	}

	ext := strings.ToLower(base[dot+1:])
	stem := name[:len(name)-len(base)+dot]
	if len(ext) > maxExtLength {
		return stem, ""
	}
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return stem, ""
		}
	}
	return stem, "." + ext
}

// sanitizeStem strips traversal and reserved characters, control characters
// and NUL bytes, and collapses whitespace runs into a single underscore.
func sanitizeStem(stem string) string {
	var b strings.Builder
	b.Grow(len(stem))

	space := false
	for _, c := range norm.NFC.String(stem) {
		switch {
		case c == utf8.RuneError, unicode.IsControl(c), strings.ContainsRune(reservedChars, c):
			continue
		case unicode.IsSpace(c):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte('_')
		}
		space = false
		b.WriteRune(c)
	}
	return b.String()
}

// degenerate reports whether a sanitised stem is unusable as a file name.
func degenerate(stem string) bool {
	if strings.Trim(stem, "_-") == "" {
		return true
	}
	_, reserved := reservedNames[strings.ToUpper(stem)]
	return reserved
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
