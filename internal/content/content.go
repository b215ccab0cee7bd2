// Package content is the engine's view of physical content storage. The
// engine never interprets content bytes: it only asks whether content with a
// given hash exists and, on a device, fetches it before reporting
// availability. Everything else about block storage is out of scope.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Backend is the external content storage collaborator.
type Backend interface {
	// Exists reports whether content with this hash is stored.
	Exists(ctx context.Context, hash string) (bool, error)
	// Fetch returns the content bytes for hash.
	Fetch(ctx context.Context, hash string) ([]byte, error)
}

var ErrNotFound = errors.New("content not found")

// HashBytes returns the content hash (sha256, hex) used throughout the
// metadata log.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// shardKey places a hash under aa/bb/<hash> to keep directories and S3
// listings shallow.
func shardKey(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return hash[:2] + "/" + hash[2:4] + "/" + hash
}
