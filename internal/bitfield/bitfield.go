// Package bitfield tracks which pieces of the shared file a peer owns.
package bitfield

import (
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Bitfield is a fixed-size ownership map over piece indices. Bits are only
// ever turned on. It is safe for concurrent use.
type Bitfield struct {
	mu   sync.RWMutex
	n    int
	bits *roaring.Bitmap
}

func New(n int) *Bitfield {
	if n < 0 {
		n = 0
	}
	return &Bitfield{n: n, bits: roaring.New()}
}

// Len is the number of pieces tracked.
func (b *Bitfield) Len() int {
	return b.n
}

// ByteLen is the size of the packed encoding.
func (b *Bitfield) ByteLen() int {
	return (b.n + 7) / 8
}

func (b *Bitfield) inRange(i int) bool {
	return i >= 0 && i < b.n
}

func (b *Bitfield) Has(i int) bool {
	if !b.inRange(i) {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bits.ContainsInt(i)
}

// Set turns on bit i and reports whether it was previously off.
func (b *Bitfield) Set(i int) bool {
	if !b.inRange(i) {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bits.CheckedAdd(uint32(i))
}

// SetAll marks every piece as owned.
func (b *Bitfield) SetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits.AddRange(0, uint64(b.n))
}

func (b *Bitfield) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.bits.GetCardinality())
}

func (b *Bitfield) Remaining() int {
	return b.n - b.Count()
}

func (b *Bitfield) Finished() bool {
	return b.Count() == b.n
}

// Encode packs the bitfield LSB-first: piece i lives in byte i/8, bit i%8.
func (b *Bitfield) Encode() []byte {
	buf := make([]byte, b.ByteLen())
	b.mu.RLock()
	defer b.mu.RUnlock()
	for it := b.bits.Iterator(); it.HasNext(); {
		i := it.Next()
		buf[i/8] |= 1 << (i % 8)
	}
	return buf
}

// Decode turns on every bit set in the packed buffer. Bits past Len are
// ignored and bits already on stay on.
func (b *Bitfield) Decode(buf []byte) {
	decoded := roaring.New()
	for i := 0; i < b.n && i/8 < len(buf); i++ {
		if buf[i/8]&(1<<(i%8)) != 0 {
			decoded.AddInt(i)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bits.Or(decoded)
}

// Bitmap returns a copy of the owned set.
func (b *Bitfield) Bitmap() *roaring.Bitmap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bits.Clone()
}

// Missing returns the pieces other has that b lacks.
func (b *Bitfield) Missing(other *Bitfield) *roaring.Bitmap {
	// snapshot other before locking b so two bitfields compared in opposite
	// directions never hold both locks.
	theirs := other.Bitmap()
	b.mu.RLock()
	defer b.mu.RUnlock()
	theirs.AndNot(b.bits)
	return theirs
}

// InterestingIndex returns the lowest piece other has that b lacks, or -1.
func (b *Bitfield) InterestingIndex(other *Bitfield) int {
	missing := b.Missing(other)
	if missing.IsEmpty() {
		return -1
	}
	return int(missing.Minimum())
}

// String renders the bitfield as a row of 0s and 1s.
func (b *Bitfield) String() string {
	var sb strings.Builder
	sb.Grow(b.n)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := 0; i < b.n; i++ {
		if b.bits.ContainsInt(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
