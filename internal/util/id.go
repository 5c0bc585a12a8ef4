package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random hex correlation id. These back the request ids
// the middleware threads through logs and into pipeline task headers;
// entity ids (projects, assets, tasks) are UUIDs from pkg-level code.
func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
