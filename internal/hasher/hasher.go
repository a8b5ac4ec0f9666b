// Package hasher derives stable content identities for source images and
// generated tiles. Identities are xxHash64 digests rendered as 16 hex
// chars, which is collision-safe for a single user's image library.
package hasher

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// copyBufSize is the read buffer used when streaming large source images.
const copyBufSize = 1 << 20

// ContentHash computes the xxHash64 of data and returns a hex string
// truncated to hexLen (0 keeps all 16 chars).
func ContentHash(data []byte, hexLen int) string {
	return format(xxhash.Sum64(data), hexLen)
}

// ContentHashReader computes xxHash64 from a reader, streaming.
func ContentHashReader(r io.Reader, hexLen int) (string, error) {
	h := xxhash.New()
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return format(h.Sum64(), hexLen), nil
}

// FileHash streams the file at path and returns its full 16 char identity.
// Multi-gigabyte slides are hashed without being held in memory.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := ContentHashReader(f, 0)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

func format(v uint64, hexLen int) string {
	full := fmt.Sprintf("%016x", v)
	if hexLen > 0 && hexLen < len(full) {
		return full[:hexLen]
	}
	return full
}
