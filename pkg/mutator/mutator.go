// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator implements the deterministic, RNG-backed primitive
// mutation toolkit described in the core's Mutable contract: bit-flip,
// multi-flip, wrapping arithmetic, dangerous-constant substitution, ranges,
// a Bernoulli gate, and sticky indices. Every Mutator is seeded explicitly
// so that two Mutators constructed with the same seed and driven by the
// same sequence of calls produce byte-identical mutation traces.
package mutator

import (
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// Mutator is the per-campaign mutation toolkit. It is not safe to share a
// single instance between goroutines that mutate concurrently without
// accepting interleaved (but still deterministic-per-call) results; the
// engine itself only ever touches one Mutator from its single cooperative
// task, and the lock exists purely to make that contract explicit and safe
// for incidental concurrent reads (e.g. Chances from a UI thread).
type Mutator struct {
	mu      sync.Mutex
	stream  *chacha20.Cipher
	sticky  map[string]int
	chances []bool
}

// Seed is the 32-byte key that determines the entire mutation trace.
type Seed [32]byte

// ZeroSeed is the default, all-zero seed used when the operator does not
// configure one explicitly, matching the core's reproducibility contract.
var ZeroSeed = Seed{}

// New constructs a Mutator seeded with the given 32-byte key, using
// ChaCha20 as the underlying stream cipher RNG. A fixed all-zero nonce is
// used: the seed alone determines the keystream, and a Mutator is a
// single-use sequential consumer of that keystream, so nonce reuse across
// distinct Mutators is intentional and safe (there's no encryption
// purpose here, only deterministic randomness).
func New(seed Seed) *Mutator {
	nonce := make([]byte, chacha20.NonceSize)
	stream, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce)
	if err != nil {
		// Seed and nonce are always the sizes chacha20 requires; this
		// cannot fail.
		panic(err)
	}
	return &Mutator{
		stream: stream,
		sticky: make(map[string]int),
	}
}

// nextUint64 draws the next 8 bytes of keystream. Must be called with mu
// held.
func (m *Mutator) nextUint64() uint64 {
	var buf [8]byte
	m.stream.XORKeyStream(buf[:], buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// uniformFloat returns a uniform draw in [0, 1). Must be called with mu
// held.
func (m *Mutator) uniformFloat() float64 {
	// Keep 53 bits of randomness, the mantissa width of a float64, so every
	// representable value in [0,1) is reachable.
	return float64(m.nextUint64()>>11) / (1 << 53)
}

// Chance is a Bernoulli draw: true with probability p. p<=0 always returns
// false and p>=1 always returns true without consuming randomness. Every
// call, including the clamped ones, is appended to the chances log.
func (m *Mutator) Chance(p float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := m.chanceLocked(p)
	m.chances = append(m.chances, result)
	return result
}

func (m *Mutator) chanceLocked(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return m.uniformFloat() < p
}

// Range returns a uniform draw in [lo, hi). hi<=lo returns lo.
func (m *Mutator) Range(lo, hi int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hi <= lo {
		return lo
	}
	span := uint64(hi - lo)
	return lo + int(m.nextUint64()%span)
}

// StickyIndex returns an index in [0, max) associated with key. The first
// call for a given key picks uniformly and memoizes the choice. Later
// calls re-pick (and re-memoize) with probability 0.4, otherwise return the
// memoized value — this biases exploration towards drilling into whatever
// variant was already chosen, rather than flipping it every call.
func (m *Mutator) StickyIndex(key string, max int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max <= 0 {
		return 0
	}
	cur, ok := m.sticky[key]
	if !ok {
		cur = int(m.nextUint64() % uint64(max))
		m.sticky[key] = cur
		return cur
	}
	if m.chanceLocked(0.4) {
		cur = int(m.nextUint64() % uint64(max))
		m.sticky[key] = cur
	}
	return cur
}

// Chances returns a copy of the Bernoulli draws made so far, in call order.
// It exists to let a caller reproduce or audit a mutation trace; the
// engine itself never reads it.
func (m *Mutator) Chances() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.chances))
	copy(out, m.chances)
	return out
}

// shuffle performs an in-place Fisher-Yates shuffle using the Mutator's own
// keystream. Must be called with mu held.
func (m *Mutator) shuffleLocked(idx []int) {
	for i := len(idx) - 1; i > 0; i-- {
		j := int(m.nextUint64() % uint64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
}

// variant picks among the three non-dangerous-constant mutation strategies
// for a `width`-bit unsigned value: bit-flip, multi-flip (XOR of a random
// subset of bit indices), and wrapping arithmetic add/sub of an amount in
// [1,16]. Must be called with mu held.
func (m *Mutator) variantLocked(bits uint64, width int) uint64 {
	switch int(m.nextUint64() % 3) {
	case 0: // bit-flip
		idx := int(m.nextUint64() % uint64(width))
		return bits ^ (uint64(1) << uint(idx))
	case 1: // multi-flip: XOR a random subset of all bit indices
		order := make([]int, width)
		for i := range order {
			order[i] = i
		}
		m.shuffleLocked(order)
		k := 1 + int(m.nextUint64()%uint64(width))
		var mask uint64
		for _, i := range order[:k] {
			mask ^= uint64(1) << uint(i)
		}
		return bits ^ mask
	default: // wrapping arithmetic
		delta := uint64(1 + m.nextUint64()%16)
		sum := bits
		if m.chanceLocked(0.5) {
			sum += delta
		} else {
			sum -= delta
		}
		return sum & widthMask(width)
	}
}

func widthMask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

const dangerousConstantChance = 0.001

// mutateUintWidth applies mutate_num to an unsigned value of the given bit
// width, using the shared dangerous-constant table for that width.
func (m *Mutator) mutateUintWidth(n uint64, width int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chanceLocked(dangerousConstantChance) {
		table := dangerousBits(width)
		return table[int(m.nextUint64()%uint64(len(table)))]
	}
	return m.variantLocked(n&widthMask(width), width)
}

func (m *Mutator) MutateUint8(n uint8) uint8 { return uint8(m.mutateUintWidth(uint64(n), 8)) }

func (m *Mutator) MutateUint16(n uint16) uint16 { return uint16(m.mutateUintWidth(uint64(n), 16)) }

func (m *Mutator) MutateUint32(n uint32) uint32 { return uint32(m.mutateUintWidth(uint64(n), 32)) }

func (m *Mutator) MutateUint64(n uint64) uint64 { return m.mutateUintWidth(n, 64) }

func (m *Mutator) MutateInt8(n int8) int8 { return int8(m.mutateUintWidth(uint64(uint8(n)), 8)) }

func (m *Mutator) MutateInt16(n int16) int16 { return int16(m.mutateUintWidth(uint64(uint16(n)), 16)) }

func (m *Mutator) MutateInt32(n int32) int32 { return int32(m.mutateUintWidth(uint64(uint32(n)), 32)) }

func (m *Mutator) MutateInt64(n int64) int64 { return int64(m.mutateUintWidth(uint64(n), 64)) }
