package convert

import (
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

// checksumWriter hashes and counts everything that reaches the target.
type checksumWriter struct {
	w io.Writer
	h *xxh3.Hasher
	n int64
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, h: xxh3.New()}
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		_, _ = c.h.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

func (c *checksumWriter) Sum() string { return fmt.Sprintf("%016x", c.h.Sum64()) }

// ChecksumBytes returns the digest Result.Checksum would carry for a target
// holding exactly b.
func ChecksumBytes(b []byte) string { return fmt.Sprintf("%016x", xxh3.Hash(b)) }
