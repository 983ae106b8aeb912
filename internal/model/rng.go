package model

import (
	"hash/fnv"
	"math/rand"
)

// newRand returns a named deterministic stream. Two streams with the same
// base seed and name always produce the same sequence.
func newRand(base int64, name string) *rand.Rand {
	return rand.New(rand.NewSource(deriveSeed(base, name)))
}

func deriveSeed(base int64, name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64()) ^ base
}
