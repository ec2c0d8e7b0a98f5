// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"testing"

	"github.com/bbfuzz/profuzz/pkg/traits"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

type stubMutable struct{ tag string }

func (s *stubMutable) Clone() traits.Mutable        { return &stubMutable{tag: s.tag} }
func (s *stubMutable) Mutate(traits.Mutator)        {}
func (s *stubMutable) Build()                       {}
func (s *stubMutable) Serialize() []byte            { return []byte(s.tag) }
func (s *stubMutable) Show() string                 { return s.tag }

func TestQueuePopAdvanceCycle(t *testing.T) {
	q := NewQueue([]traits.Mutable{&stubMutable{tag: "a"}, &stubMutable{tag: "b"}})
	assert.Equal(t, 2, q.Len())
	first := q.Pop()
	assert.Equal(t, "a", first.Show())
	q.PushNext(first)
	second := q.Pop()
	assert.Equal(t, "b", second.Show())
	q.PushNext(second)
	assert.Nil(t, q.Pop())
	assert.Equal(t, 2, q.Advance())
}

func TestQueuePushIsReachableSameCycle(t *testing.T) {
	q := NewQueue([]traits.Mutable{&stubMutable{tag: "a"}})
	first := q.Pop()
	assert.Equal(t, "a", first.Show())

	// A clone discovered while exploring "a" is pushed onto the active
	// generation, not deferred to the next one: Pop must reach it before
	// the cycle ends.
	q.Push(&stubMutable{tag: "a-clone"})
	assert.Equal(t, 1, q.Len())
	next := q.Pop()
	assert.Equal(t, "a-clone", next.Show())
	assert.Nil(t, q.Pop())
}

func TestNovelResponseSet(t *testing.T) {
	s := NewNovelResponseSet()
	assert.True(t, s.Insert([]byte("a")))
	assert.False(t, s.Insert([]byte("a")))
	assert.True(t, s.Insert([]byte("b")))
	assert.Equal(t, 2, s.Len())
}

func TestUniqueCrashSet(t *testing.T) {
	s := NewUniqueCrashSet()
	assert.True(t, s.Insert([]byte{0xDE, 0xAD}))
	assert.False(t, s.Insert([]byte{0xDE, 0xAD}))
	assert.Equal(t, 1, s.Len())
}

func TestRecentSendWindowTruncateAndOrder(t *testing.T) {
	w := NewRecentSendWindow()
	w.Push([]byte("1"))
	w.Push([]byte("2"))
	w.Push([]byte("3"))
	assert.Equal(t, []byte("3"), w.Last())
	assert.Equal(t, 3, w.Len())
	w.Truncate(2)
	assert.Equal(t, 2, w.Len())
	snap := w.Snapshot()
	assert.Equal(t, []byte("3"), snap[0])
	assert.Equal(t, []byte("2"), snap[1])
}

func TestRecentSendWindowSnapshotOrder(t *testing.T) {
	w := NewRecentSendWindow()
	w.Push([]byte("x"))
	w.Push([]byte("y"))

	want := [][]byte{[]byte("y"), []byte("x")}
	got := w.Snapshot()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Snapshot() mismatch (-want +got):\n%s", diff)
	}

	w.Push([]byte("z"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pushing after Snapshot() mutated the earlier snapshot (-want +got):\n%s", diff)
	}
}
