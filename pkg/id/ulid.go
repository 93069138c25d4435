// Package id generates the unguessable, sortable tokens used as stored file names.
package id

import (
	"crypto/rand"
	"errors"
	"time"
)

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDLength is the length of a token returned by NewULID.
const ULIDLength = 26

// ErrEntropy is returned when the system random source cannot be read.
var ErrEntropy = errors.New("id: failed to read random bytes")

// NewULID generates a ULID: 10 chars of millisecond timestamp followed by
// 16 chars (80 bits) of crypto/rand entropy.
// It panics if the random source fails; stored names must never fall back to
// predictable values.
func NewULID() string {
	s, err := newULID(time.Now(), rand.Read)
	if err != nil {
		panic(err)
	}
	return s
}

func newULID(now time.Time, read func([]byte) (int, error)) (string, error) {
	var entropy [10]byte
	if _, err := read(entropy[:]); err != nil {
		return "", errors.Join(ErrEntropy, err)
	}

	var out [ULIDLength]byte

	ms := uint64(now.UnixMilli())
	for i := 9; i >= 0; i-- {
		out[i] = crockfordBase32[ms&0x1F]
		ms >>= 5
	}

	// 80 random bits split into sixteen 5-bit groups, most significant first.
	hi := uint64(entropy[0])<<32 | uint64(entropy[1])<<24 | uint64(entropy[2])<<16 | uint64(entropy[3])<<8 | uint64(entropy[4])
	lo := uint64(entropy[5])<<32 | uint64(entropy[6])<<24 | uint64(entropy[7])<<16 | uint64(entropy[8])<<8 | uint64(entropy[9])
	for i := 7; i >= 0; i-- {
		out[10+i] = crockfordBase32[hi&0x1F]
		out[18+i] = crockfordBase32[lo&0x1F]
		hi >>= 5
		lo >>= 5
	}

	return string(out[:]), nil
}

// IsULID reports whether s has the shape of a token produced by NewULID.
func IsULID(s string) bool {
	if len(s) != ULIDLength {
		return false
	}
	for i := range len(s) {
		if indexOf(s[i]) < 0 {
			return false
		}
	}
	return true
}

func indexOf(c byte) int {
	for i := range len(crockfordBase32) {
		if crockfordBase32[i] == c {
			return i
		}
	}
	return -1
}
