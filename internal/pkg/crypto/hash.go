package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
)

// HashReader wraps an io.Reader and computes a SHA-256 digest while reading.
type HashReader struct {
	reader io.Reader
	sha256 hash.Hash
	size   int64
}

// NewHashReader creates a new HashReader.
func NewHashReader(r io.Reader) *HashReader {
	return &HashReader{
		reader: r,
		sha256: sha256.New(),
	}
}

// Read implements io.Reader and updates the digest.
func (h *HashReader) Read(p []byte) (n int, err error) {
	n, err = h.reader.Read(p)
	if n > 0 {
		h.sha256.Write(p[:n])
		h.size += int64(n)
	}
	return n, err
}

// SHA256 returns the hex-encoded SHA-256 digest.
// Should only be called after reading is complete.
func (h *HashReader) SHA256() string {
	return hex.EncodeToString(h.sha256.Sum(nil))
}

// SHA256Base64 returns the base64-encoded digest, the form S3 checksums use.
func (h *HashReader) SHA256Base64() string {
	return base64.StdEncoding.EncodeToString(h.sha256.Sum(nil))
}

// Size returns the number of bytes read so far.
func (h *HashReader) Size() int64 {
	return h.size
}
