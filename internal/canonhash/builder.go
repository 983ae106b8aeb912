// Package canonhash builds canonical byte sequences and hashes them with
// SHA-256. It is used wherever a value must be derived deterministically
// from structured input (fallback confidence perturbation, seeds).
//
// Encoding rules:
//   - fixed-width numbers: big-endian, floats by IEEE-754 bits
//   - bytes/strings: u32(len) big-endian + bytes
package canonhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Hash32 is a SHA-256 digest.
type Hash32 [32]byte

// Hex returns the lowercase hex form.
func (h Hash32) Hex() string { return hex.EncodeToString(h[:]) }

// Uint64 returns the first 8 bytes big-endian.
func (h Hash32) Uint64() uint64 { return binary.BigEndian.Uint64(h[:8]) }

// Unit maps the digest onto [0, 1).
func (h Hash32) Unit() float64 {
	// top 53 bits fill a float64 mantissa exactly
	return float64(h.Uint64()>>11) / (1 << 53)
}

// Builder accumulates a canonical byte sequence.
type Builder struct {
	b []byte
}

func NewBuilder() *Builder { return &Builder{b: make([]byte, 0, 256)} }

func (d *Builder) Reset() { d.b = d.b[:0] }

func (d *Builder) PutU64(v uint64) *Builder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	d.b = append(d.b, buf[:]...)
	return d
}

func (d *Builder) PutI64(v int64) *Builder { return d.PutU64(uint64(v)) }

// PutFloat64 appends the IEEE-754 bits. -0 is folded into +0 so equal
// values hash equally.
func (d *Builder) PutFloat64(v float64) *Builder {
	if v == 0 {
		v = 0
	}
	return d.PutU64(math.Float64bits(v))
}

// PutBytes appends u32(len) + bytes.
func (d *Builder) PutBytes(p []byte) *Builder {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(p)))
	d.b = append(d.b, buf[:]...)
	d.b = append(d.b, p...)
	return d
}

func (d *Builder) PutString(s string) *Builder { return d.PutBytes([]byte(s)) }

func (d *Builder) Sum32() Hash32 {
	return sha256.Sum256(d.b)
}

// SumStrings hashes a sequence of length-prefixed strings.
func SumStrings(vals ...string) Hash32 {
	b := NewBuilder()
	for _, v := range vals {
		b.PutString(v)
	}
	return b.Sum32()
}
