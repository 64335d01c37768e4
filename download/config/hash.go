package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// ConfigHashLen is the number of hex characters in a config hash (first 16 of SHA256).
const ConfigHashLen = 16

// HashFromBytes computes the short content hash used to detect config
// file changes between reloads. Same bytes always yield the same hash.
func HashFromBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:ConfigHashLen]
}

// HashFromPath reads the file at path and returns its content hash.
// Raw file bytes are hashed without normalization, so the hash tracks
// the file exactly as stored on disk.
func HashFromPath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashFromBytes(data), nil
}
