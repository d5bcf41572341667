// Package bitmap implements the free-block bitmap: one bit per block in an
// element, set when the block is in use (INUSE or SEALED) or reserved, and
// clear when the block is free to allocate. Grounded on the source's
// char *free_blocks array (original_source/ssdmodel/ssd.h), reshaped into
// a byte-packed Go type.
package bitmap

// Bitmap is a fixed-size bit vector indexed by block number.
type Bitmap struct {
	bits []byte
	n    int
}

// New returns a Bitmap with n bits, all initially clear (free).
func New(n int) *Bitmap {
	return &Bitmap{bits: make([]byte, (n+7)/8), n: n}
}

// Len returns the number of bits this bitmap holds.
func (b *Bitmap) Len() int { return b.n }

// Set marks bit i as used (1).
func (b *Bitmap) Set(i int) { b.bits[i/8] |= 1 << uint(i%8) }

// Clear marks bit i as free (0).
func (b *Bitmap) Clear(i int) { b.bits[i/8] &^= 1 << uint(i%8) }

// Test reports whether bit i is set (used).
func (b *Bitmap) Test(i int) bool { return b.bits[i/8]&(1<<uint(i%8)) != 0 }

// CountClear returns the number of clear (free) bits.
func (b *Bitmap) CountClear() int {
	free := 0
	for i := 0; i < b.n; i++ {
		if !b.Test(i) {
			free++
		}
	}
	return free
}

// Bytes returns a copy of the underlying bit-packed storage, for
// checkpoint serialization.
func (b *Bitmap) Bytes() []byte {
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// FromBytes reconstructs a Bitmap of n bits from previously-saved byte
// storage (see Bytes), for checkpoint restore.
func FromBytes(bits []byte, n int) *Bitmap {
	out := make([]byte, (n+7)/8)
	copy(out, bits)
	return &Bitmap{bits: out, n: n}
}

// FirstClearFrom scans forward from start, wrapping once around the full
// range, and returns the index of the first clear bit for which accept
// returns true. Returns -1 if none match. This grounds
// alloc_active_block's "scan the free-block bitmap starting at the
// plane's allocation cursor, wrapping, for the first clear bit that also
// belongs to plane" (spec §4.3).
func (b *Bitmap) FirstClearFrom(start int, accept func(i int) bool) int {
	if b.n == 0 {
		return -1
	}
	start = ((start % b.n) + b.n) % b.n
	for k := 0; k < b.n; k++ {
		i := (start + k) % b.n
		if !b.Test(i) && accept(i) {
			return i
		}
	}
	return -1
}
