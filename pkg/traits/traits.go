// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package traits defines the collaborator contracts the fuzzing core is
// generic over: Transport, HealthCheck, ResetHandler, and the Corpus/Mutable
// pair. The core never depends on a concrete implementation of any of them.
package traits

import "context"

// Transport moves bytes to and from the target. Connect is idempotent:
// calling it while already connected must succeed without side effects.
// Read returning (0, nil) means the peer closed the channel cleanly.
type Transport interface {
	// Title is a short human-readable name, used in logs and the UI.
	Title() string
	Connect(ctx context.Context) error
	Close() error
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, data []byte) error
}

// HealthCheck reports whether the target is still alive. It is
// self-contained: it may open its own side channel to do so. Any error is
// treated the same as a false result: the target is unhealthy.
type HealthCheck interface {
	IsOK(ctx context.Context) (bool, error)
}

// ResetHandler recovers the target after a detected crash. Reset must not
// return until the target has been restarted; the engine re-probes health
// immediately afterwards.
type ResetHandler interface {
	Reset(ctx context.Context) error
}

// Mutable is a single corpus item. It is opaque to the engine beyond this
// contract. Serialize must be stable under identity: calling it twice
// without an intervening Mutate/Build must return byte-identical results,
// so that a captured crash buffer is byte-exact reproducible.
type Mutable interface {
	// Clone returns an independent copy; mutating the copy must not affect
	// the original.
	Clone() Mutable
	// Mutate applies one round of primitive mutation in place.
	Mutate(m Mutator)
	// Build finalizes derived fields (checksums, lengths) in place.
	Build()
	// Serialize renders the current value as the bytes that would be sent
	// on the wire.
	Serialize() []byte
	// Show renders a human-readable form, used for triage diffing.
	Show() string
}

// Corpus knows how to parse a seed file's raw bytes into a Mutable. It is
// the only factory the engine needs; everything else goes through Mutable.
type Corpus interface {
	Parse(data []byte) (Mutable, bool)
}

// Mutator is the minimal surface pkg/traits needs from the mutation
// toolkit, kept here (rather than importing pkg/mutator) so that Mutable
// implementations and the engine can both depend on this narrow interface
// without a direct dependency between pkg/traits and pkg/mutator.
type Mutator interface {
	Chance(p float64) bool
	Range(lo, hi int) int
	StickyIndex(key string, max int) int
	MutateUint8(n uint8) uint8
	MutateUint16(n uint16) uint16
	MutateUint32(n uint32) uint32
	MutateUint64(n uint64) uint64
	MutateInt8(n int8) int8
	MutateInt16(n int16) int16
	MutateInt32(n int32) int32
	MutateInt64(n int64) int64
	MutateFloat32(n float32) float32
	MutateFloat64(n float64) float64
}
