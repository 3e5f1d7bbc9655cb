// Package hash computes the content fingerprints used to detect changes in feeds.
//
// The values are compared for equality against what's stored, so the function must never change
// between releases: doing so would make every feed look modified once.
package hash

import "github.com/cespare/xxhash/v2"

// Compute returns the xxHash64 of b, reinterpreted as a signed integer so it fits an SQLite
// INTEGER column.
func Compute(b []byte) int64 {
	return int64(xxhash.Sum64(b))
}

// String hashes the UTF-8 bytes of s.
func String(s string) int64 {
	return int64(xxhash.Sum64String(s))
}
