// Package hasher implements [domain.Hasher] by hashing a value's JSON
// encoding, so that deep-equal-but-distinct slices and maps land in the same
// bucket.
package hasher

import (
	"encoding/json"
	"hash/fnv"

	"satchel/domain"
)

// Hasher implements [domain.Hasher].
type Hasher struct{}

// NewHasher returns a new [domain.Hasher].
func NewHasher() domain.Hasher {
	return &Hasher{}
}

// Hash implements [domain.Hasher].
func (h *Hasher) Hash(v any) (uint64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	sum := fnv.New64a()
	if _, err := sum.Write(b); err != nil {
		return 0, err
	}
	return sum.Sum64(), nil
}
