package blob

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint computes the BLAKE3 hash of data as a lowercase hex string.
func Fingerprint(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// FingerprintFile computes the BLAKE3 hash of a file's contents
// without loading it into memory.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintParts hashes a set of labeled parts into one fingerprint.
// Parts are joined with NUL separators so reordering or boundary
// shifts produce different digests.
func FingerprintParts(parts ...string) string {
	return Fingerprint([]byte(strings.Join(parts, "\x00")))
}
