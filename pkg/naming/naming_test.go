package naming

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/pkg/id"
	"github.com/dmitrymomot/filegate/pkg/sniff"
)

var fixedNow = time.Date(2026, time.March, 7, 10, 30, 0, 0, time.UTC)

func newTestResolver(opts ...Option) *Resolver {
	return New(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestResolver_ResolveName_Unique(t *testing.T) {
	t.Parallel()

	r := newTestResolver()

	tests := []struct {
		name    string
		input   string
		wantExt string
	}{
		{"keeps extension", "holiday photo.JPG", ".jpg"},
		{"traversal", "../../etc/passwd.png", ".png"},
		{"no extension", "README", ""},
		{"hostile extension", "x.p/n\\g", ""},
		{"long extension", "x.abcdefghijklmnop", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := r.ResolveName(tt.input, true)
			token, ext, _ := strings.Cut(got, ".")
			if tt.wantExt == "" {
				assert.Equal(t, got, token)
			} else {
				assert.Equal(t, tt.wantExt, "."+ext)
			}
			assert.True(t, id.IsULID(strings.ToUpper(token)), "token %q", token)
			assert.NotContains(t, got, "passwd")
		})
	}

	a := r.ResolveName("same.png", true)
	b := r.ResolveName("same.png", true)
	assert.NotEqual(t, a, b)
}

func TestResolver_ResolveName_Sanitized(t *testing.T) {
	t.Parallel()

	r := newTestResolver()
	fallback := "file_1772879400000"

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"traversal", "../../etc/passwd.png", "etcpasswd.png"},
		{"windows traversal", `..\..\boot.ini`, "boot.ini"},
		{"reserved characters", `a:b*c?d"e<f>g|h.png`, "abcdefgh.png"},
		{"control and nul", "ev\x00il\x07name.gif", "evilname.gif"},
		{"whitespace collapsed", "  my   holiday\tphoto .jpg", "my_holidayphoto.jpg"},
		{"inner dots removed", "archive.tar.gz", "archivetar.gz"},
		{"hidden file", ".bashrc", "bashrc"},
		{"only dots", "...", fallback},
		{"only reserved", `/\:*?.png`, fallback + ".png"},
		{"only underscores", "___.png", fallback + ".png"},
		{"device name", "CON.png", fallback + ".png"},
		{"empty", "", fallback},
		{"unicode kept", "café.png", "café.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, r.ResolveName(tt.input, false))
		})
	}
}

func TestResolver_ResolveName_Truncates(t *testing.T) {
	t.Parallel()

	r := newTestResolver(WithMaxNameLength(20))

	got := r.ResolveName(strings.Repeat("a", 50)+".png", false)
	assert.Equal(t, strings.Repeat("a", 16)+".png", got)

	got = r.ResolveName(strings.Repeat("é", 30)+".png", false)
	assert.LessOrEqual(t, len(got), 20)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, ".png"))
}

func TestResolver_ResolveName_NormalizesUnicode(t *testing.T) {
	t.Parallel()

	r := newTestResolver()
	decomposed := "cafe\u0301.png"
	assert.Equal(t, "café.png", r.ResolveName(decomposed, false))
}

func TestResolver_ResolvePath(t *testing.T) {
	t.Parallel()

	r := newTestResolver()

	tests := []struct {
		name     string
		file     string
		tenant   string
		category sniff.Category
		want     string
		wantErr  error
	}{
		{"image", "a.png", "tenant-1", sniff.Image, "tenant-1/images/2026/03/a.png", nil},
		{"audio", "a.mp3", "tenant_2", sniff.Audio, "tenant_2/audio/2026/03/a.mp3", nil},
		{"video", "a.mp4", "T3", sniff.Video, "T3/video/2026/03/a.mp4", nil},
		{"document", "a.pdf", "t4", sniff.Document, "t4/files/2026/03/a.pdf", nil},
		{"tenant traversal", "a.png", "../other", sniff.Image, "", ErrInvalidTenant},
		{"tenant with slash", "a.png", "a/b", sniff.Image, "", ErrInvalidTenant},
		{"empty tenant", "a.png", "", sniff.Image, "", ErrInvalidTenant},
		{"name with slash", "x/a.png", "t1", sniff.Image, "", ErrInvalidName},
		{"dotdot name", "..", "t1", sniff.Image, "", ErrInvalidName},
		{"empty name", "", "t1", sniff.Image, "", ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := r.ResolvePath(tt.file, tt.tenant, tt.category)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.tenant, TenantOf(got))
		})
	}
}

func TestResolver_TraversalStaysInTenantRoot(t *testing.T) {
	t.Parallel()

	r := newTestResolver()
	name := r.ResolveName("../../etc/passwd.png", false)
	p, err := r.ResolvePath(name, "tenant-a", sniff.Image)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p, "tenant-a/"))
	assert.NotContains(t, p, "..")
	assert.Equal(t, "tenant-a/images/2026/03/etcpasswd.png", p)
}

func TestValidTenant(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidTenant("acme-01_x"))
	assert.False(t, ValidTenant(strings.Repeat("a", 65)))
	assert.False(t, ValidTenant("a b"))
	assert.False(t, ValidTenant("."))
}
