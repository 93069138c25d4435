package sniff

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"io"

	// Structural decoders used by Reverify.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
)

// Reason codes carried by a failed Outcome.
const (
	CodeUndetectable       = "UNDETECTABLE_TYPE"
	CodeNotAllowed         = "TYPE_NOT_ALLOWED"
	CodeMismatch           = "TYPE_MISMATCH"
	CodeChanged            = "TYPE_CHANGED_DURING_UPLOAD"
	CodeCorrupted          = "CORRUPTED_PAYLOAD"
	CodeDimensionsExceeded = "DIMENSIONS_EXCEEDED"
)

const (
	// DefaultSniffSize is how many leading bytes Sniff inspects.
	DefaultSniffSize = 3072
	// DefaultMaxPixels bounds width*height accepted by the image decode.
	DefaultMaxPixels = 50_000_000

	mimeOctetStream = "application/octet-stream"
)

// ErrRead is returned by Reverify when the payload cannot be read back.
var ErrRead = errors.New("sniff: failed to read payload")

// declaredAliases maps common non-canonical client claims to detected names.
var declaredAliases = map[string]string{
	"image/jpg":    "image/jpeg",
	"image/pjpeg":  "image/jpeg",
	"audio/mp3":    "audio/mpeg",
	"audio/x-flac": "audio/flac",
	"audio/m4a":    "audio/x-m4a",
}

// Outcome is the result of a validation pass.
type Outcome struct {
	Detected string
	Category Category
	Code     string // empty when Valid
	Message  string
	Valid    bool
}

func fail(code, detected, format string, args ...any) Outcome {
	return Outcome{Code: code, Detected: detected, Message: fmt.Sprintf(format, args...)}
}

// Validator determines the true content type of a payload from its bytes and
// checks it against an allow-list and the client's claim.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	allow     AllowList
	sniffSize int
	maxPixels int64
}

// Option configures a Validator.
type Option func(*Validator)

// WithSniffSize sets how many leading bytes Sniff inspects.
func WithSniffSize(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.sniffSize = n
		}
	}
}

// WithMaxPixels bounds the decoded image area accepted by Reverify.
func WithMaxPixels(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPixels = n
		}
	}
}

// New creates a Validator for the given allow-list.
func New(allow AllowList, opts ...Option) (*Validator, error) {
	if err := allow.Validate(); err != nil {
		return nil, err
	}
	copied := make(AllowList, len(allow))
	for c, types := range allow {
		copied[c] = append([]string(nil), types...)
	}
	v := &Validator{
		allow:     copied,
		sniffSize: DefaultSniffSize,
		maxPixels: DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// SniffSize returns the number of leading bytes Sniff needs.
func (v *Validator) SniffSize() int { return v.sniffSize }

// Sniff detects the content type of head, which should hold the first
// SniffSize bytes of the payload (or the whole payload if shorter).
// File names and declared headers play no part in detection; declared is only
// compared against the detected type afterwards.
func (v *Validator) Sniff(head []byte, declared string) Outcome {
	if len(head) > v.sniffSize {
		head = head[:v.sniffSize]
	}
	if len(head) == 0 {
		return fail(CodeUndetectable, "", "content type could not be determined from an empty payload")
	}

	m := mimetype.Detect(head)
	detected := normalizeMIME(m.String())
	if detected == mimeOctetStream {
		return fail(CodeUndetectable, "", "content type could not be determined")
	}

	category, ok := v.allow.CategoryOf(detected)
	if !ok {
		return fail(CodeNotAllowed, detected, "file type %q is not allowed", detected)
	}

	if !sameType(m, declared) {
		return fail(CodeMismatch, detected, "declared type %q does not match content type %q", normalizeMIME(declared), detected)
	}

	return Outcome{Valid: true, Detected: detected, Category: category}
}

// Reverify re-checks the complete payload against previous, the type accepted
// by Sniff. Signature detection only ever sees mimetype's read limit, so the
// checks that cover the whole payload are type specific: images are decoded in
// full, and text types are scanned for binary bytes past the detected prefix
// (TYPE_CHANGED_DURING_UPLOAD).
// The returned error is reserved for I/O failures on rs.
func (v *Validator) Reverify(rs io.ReadSeeker, previous string) (Outcome, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return Outcome{}, errors.Join(ErrRead, err)
	}
	m, err := mimetype.DetectReader(rs)
	if err != nil {
		return Outcome{}, errors.Join(ErrRead, err)
	}

	detected := normalizeMIME(m.String())
	previous = normalizeMIME(previous)
	if detected != previous && !m.Is(previous) {
		return fail(CodeChanged, detected, "content type changed from %q to %q during upload", previous, detected), nil
	}

	category, ok := v.allow.CategoryOf(previous)
	if !ok {
		return fail(CodeNotAllowed, detected, "file type %q is not allowed", previous), nil
	}

	switch {
	case category == Image:
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return Outcome{}, errors.Join(ErrRead, err)
		}
		if out := v.decodeImage(rs, previous); !out.Valid {
			return out, nil
		}
	case isText(m):
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return Outcome{}, errors.Join(ErrRead, err)
		}
		ok, err := textual(rs)
		if err != nil {
			return Outcome{}, errors.Join(ErrRead, err)
		}
		if !ok {
			return fail(CodeChanged, mimeOctetStream, "content type changed from %q to binary data during upload", previous), nil
		}
	}

	return Outcome{Valid: true, Detected: previous, Category: category}, nil
}

// decodeImage performs the structural decode of an image payload.
func (v *Validator) decodeImage(rs io.ReadSeeker, mimeType string) Outcome {
	cfg, _, err := image.DecodeConfig(rs)
	if err != nil {
		return fail(CodeCorrupted, mimeType, "image header could not be decoded")
	}
	if int64(cfg.Width)*int64(cfg.Height) > v.maxPixels {
		return fail(CodeDimensionsExceeded, mimeType, "image dimensions %dx%d exceed the allowed area", cfg.Width, cfg.Height)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return fail(CodeCorrupted, mimeType, "image could not be re-read")
	}

	// GIF frames beyond the first are only checked by DecodeAll.
	if mimeType == "image/gif" {
		_, err = gif.DecodeAll(rs)
	} else {
		_, _, err = image.Decode(rs)
	}
	if err != nil {
		return fail(CodeCorrupted, mimeType, "image data could not be decoded")
	}

	return Outcome{Valid: true, Detected: mimeType}
}

func isText(m *mimetype.MIME) bool {
	for p := m; p != nil; p = p.Parent() {
		if p.Is("text/plain") {
			return true
		}
	}
	return false
}

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF32BE = []byte{0x00, 0x00, 0xFE, 0xFF}
)

// textual reports whether r holds no byte that marks binary data, using the
// same byte classes as mimetype's text detection. Wide encodings, recognised
// by their byte order mark, legitimately contain such bytes and pass.
func textual(r io.Reader) (bool, error) {
	br := bufio.NewReaderSize(r, 32<<10)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if bytes.HasPrefix(head, bomUTF16BE) || bytes.HasPrefix(head, bomUTF16LE) || bytes.HasPrefix(head, bomUTF32BE) {
		return true, nil
	}

	buf := make([]byte, 32<<10)
	for {
		n, err := br.Read(buf)
		for _, b := range buf[:n] {
			if binaryByte(b) {
				return false, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

func binaryByte(b byte) bool {
	return b <= 0x08 || b == 0x0B || (b >= 0x0E && b <= 0x1A) || (b >= 0x1C && b <= 0x1F)
}

// sameType compares a detected type with the client's declared type,
// accepting registered aliases.
func sameType(m *mimetype.MIME, declared string) bool {
	declared = normalizeMIME(declared)
	if declared == "" {
		return false
	}
	if canonical, ok := declaredAliases[declared]; ok {
		declared = canonical
	}
	return normalizeMIME(m.String()) == declared || m.Is(declared)
}
