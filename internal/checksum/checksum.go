package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex SHA-256 of an uploaded statement file. It is stored
// on the upload batch so operators can tell re-uploads of the same export
// apart from genuinely new files.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Matches reports whether data hashes to the recorded digest.
func Matches(data []byte, expected string) bool {
	return expected != "" && Digest(data) == expected
}
