// Package id generates 16-byte, time-ordered message identifiers.
//
// An ID is big-endian [8 bytes unix_ms][8 bytes sequence], so byte-wise
// (and hex-string) comparison preserves generation order. A Generator is
// monotonic per process: a clock that moves backwards pins to the last
// observed millisecond and keeps incrementing the sequence instead.
package id

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Size is the length of an ID in bytes.
const Size = 16

// ID is a lexicographically sortable 128-bit identifier.
type ID [Size]byte

// String returns the lowercase hex encoding.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Bytes returns a copy of the raw 16 bytes.
func (i ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, i[:])
	return b
}

// UnixMs returns the millisecond timestamp embedded in the ID.
func (i ID) UnixMs() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == ID{} }

// Parse decodes a 32-character hex string produced by String.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != Size*2 {
		return out, fmt.Errorf("id: want %d hex chars, got %d", Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("id: %w", err)
	}
	copy(out[:], b)
	return out, nil
}

// Generator produces monotonically increasing IDs.
// The zero value is ready to use.
type Generator struct {
	mu   sync.Mutex
	ms   int64
	seq  uint64
	clk  func() int64
}

// NewGenerator returns a Generator using the wall clock.
func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) now() int64 {
	if g.clk != nil {
		return g.clk()
	}
	return time.Now().UnixMilli()
}

// Next returns the next ID.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	switch {
	case ms > g.ms:
		g.ms = ms
		g.seq = 0
	default:
		// same millisecond, or the clock regressed: stay monotonic
		g.seq++
	}

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(g.ms))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}
