// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
)

// ConnectionID computes a stable 64-bit identifier from a peer endpoint
// string ("address:port"). The hash is used solely for identification and
// does not need to be reversible.
func ConnectionID(endpoint string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(endpoint))
	return h.Sum64()
}
