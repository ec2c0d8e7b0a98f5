// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package blob is a reference Corpus/Mutable pair over a simple
// length-prefixed wire format: a 16-bit big-endian length, the payload
// itself, and a 16-bit additive checksum trailer. It exists to give the
// engine and the CLI something concrete to run end to end without needing
// a real protocol's wire format; operators implementing a real target
// copy this package's shape rather than using it directly.
package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/bbfuzz/profuzz/pkg/traits"
)

// Item is one corpus item: an opaque payload, framed on Build into the
// wire format described above.
type Item struct {
	payload []byte
	built   []byte
}

// Corpus parses the wire format back into an Item.
type Corpus struct{}

const headerSize = 2
const trailerSize = 2

func (Corpus) Parse(data []byte) (traits.Mutable, bool) {
	if len(data) < headerSize+trailerSize {
		return nil, false
	}
	n := int(binary.BigEndian.Uint16(data[:headerSize]))
	need := headerSize + n + trailerSize
	if len(data) < need {
		return nil, false
	}
	payload := make([]byte, n)
	copy(payload, data[headerSize:headerSize+n])
	item := &Item{payload: payload}
	item.Build()
	return item, true
}

func (b *Item) Clone() traits.Mutable {
	cp := &Item{payload: append([]byte{}, b.payload...)}
	cp.Build()
	return cp
}

// Mutate resizes the payload (rarely to up to 1000 bytes, more often to up
// to 50, mostly leaving the length alone) and then perturbs individual
// bytes, mirroring the resize-then-perturb shape of a typical payload
// mutator.
func (b *Item) Mutate(m traits.Mutator) {
	switch {
	case m.Chance(0.01):
		b.resize(m.Range(0, 1000))
	case m.Chance(0.5):
		b.resize(m.Range(0, 50))
	}
	for i := range b.payload {
		if m.Chance(0.1) {
			b.payload[i] = m.MutateUint8(b.payload[i])
		}
	}
}

func (b *Item) resize(n int) {
	if n == len(b.payload) {
		return
	}
	if n < len(b.payload) {
		b.payload = b.payload[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, b.payload)
	b.payload = grown
}

// Build recomputes the length prefix and checksum trailer from the current
// payload and caches the full wire-format buffer for Serialize.
func (b *Item) Build() {
	buf := make([]byte, headerSize+len(b.payload)+trailerSize)
	binary.BigEndian.PutUint16(buf[:headerSize], uint16(len(b.payload)))
	copy(buf[headerSize:], b.payload)
	binary.BigEndian.PutUint16(buf[headerSize+len(b.payload):], checksum(b.payload))
	b.built = buf
}

func (b *Item) Serialize() []byte { return b.built }

func (b *Item) Show() string {
	return fmt.Sprintf("len=%d checksum=%04x payload=%x", len(b.payload), checksum(b.payload), b.payload)
}

func checksum(payload []byte) uint16 {
	var sum uint16
	for _, v := range payload {
		sum += uint16(v)
	}
	return sum
}
