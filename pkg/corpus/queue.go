// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus holds the engine-owned, in-memory state that survives
// across cycles: the exploration Queue, the RecentSendWindow kept for
// post-hoc triage, the NovelResponseSet used to detect newly reached
// target states, and the UniqueCrashSet used purely to count distinct
// crashes. None of these are shared outside the engine.
package corpus

import "github.com/bbfuzz/profuzz/pkg/traits"

// Queue is the ordered sequence of corpus items awaiting exploration. Pop
// drains the active generation in FIFO order so the engine can expand each
// one. Push appends directly to that same active generation, so an item
// discovered mid-cycle (a clone that reached a novel response) is reachable
// by a later Pop in this same cycle, not deferred to the next one.
// PushNext instead appends to the next generation: the one root per popped
// item that Advance promotes to become the active generation once the
// current one is fully drained.
//
// Backed by a single slice plus a read position, periodically compacted
// instead of reallocating on every pop.
type Queue struct {
	items []traits.Mutable
	pos   int
	next  []traits.Mutable
}

// NewQueue builds a Queue pre-populated with the given seeds.
func NewQueue(seeds []traits.Mutable) *Queue {
	return &Queue{items: seeds}
}

// Len reports how many items remain to be popped from the active
// generation, including any appended mid-cycle by Push.
func (q *Queue) Len() int {
	return len(q.items) - q.pos
}

const minSizeToCompact = 128

// Pop removes and returns the head item of the current generation, or nil
// if the generation is exhausted.
func (q *Queue) Pop() traits.Mutable {
	if q.pos >= len(q.items) {
		return nil
	}
	item := q.items[q.pos]
	q.items[q.pos] = nil
	q.pos++
	if q.pos > len(q.items)/2 && len(q.items) >= minSizeToCompact {
		copy(q.items, q.items[q.pos:])
		q.items = q.items[:len(q.items)-q.pos]
		q.pos = 0
	}
	return item
}

// Push appends an item to the active generation being drained this cycle,
// so a later Pop in this same cycle can reach it.
func (q *Queue) Push(item traits.Mutable) {
	q.items = append(q.items, item)
}

// PushNext appends an item to the next generation (the tail the current
// cycle's exploration writes to).
func (q *Queue) PushNext(item traits.Mutable) {
	q.next = append(q.next, item)
}

// Advance makes the next generation the current one, starting a new cycle.
// It returns the number of items that will be explored in the new cycle.
func (q *Queue) Advance() int {
	q.items = q.next
	q.next = nil
	q.pos = 0
	return len(q.items)
}
