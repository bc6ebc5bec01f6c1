package checkpoint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint hashes the content of path with BLAKE2b-256.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(n))
	h.Write(size[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes hashes an in-memory copy of a file, matching Fingerprint.
func FingerprintBytes(data []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write(data)
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(data)))
	h.Write(size[:])
	return hex.EncodeToString(h.Sum(nil))
}
