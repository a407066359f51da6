package store

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const hashPrefix = "sha256:"

// ContentHash returns the store key for an MCUboot image hash.
func ContentHash(imageHash []byte) (string, error) {
	if len(imageHash) == 0 {
		return "", fmt.Errorf("image has no hash")
	}
	return hashPrefix + hex.EncodeToString(imageHash), nil
}

// DecodeHash returns the raw image hash behind a store key.
func DecodeHash(key string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(key), hashPrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid image hash %q: %w", key, err)
	}
	return b, nil
}

// ShortHash returns a shortened version of the hash for display purposes.
func ShortHash(fullHash string) string {
	h := strings.TrimPrefix(fullHash, hashPrefix)
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// hashToFilename converts a full hash to a safe filename.
func hashToFilename(hash string) string {
	return strings.TrimPrefix(hash, hashPrefix)
}
