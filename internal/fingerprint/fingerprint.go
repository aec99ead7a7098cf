// Package fingerprint computes the content digest used as the deduplication key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Size is the length of a hex encoded fingerprint.
const Size = sha256.Size * 2

// Compute returns the hex encoded SHA-256 digest of the complete buffer.
func Compute(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Reader fingerprints everything read through it
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

func (fr *Reader) Read(p []byte) (int, error) {
	n, err := fr.r.Read(p)
	fr.h.Write(p[:n])
	fr.n += int64(n)
	return n, err
}

// N is the number of bytes read so far
func (fr *Reader) N() int64 { return fr.n }

// Sum is the fingerprint of the bytes read so far
func (fr *Reader) Sum() string {
	return hex.EncodeToString(fr.h.Sum(nil))
}
