// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

// RecentSendWindow is the bounded, most-recent-first trail of serialized
// buffers kept for post-hoc triage. Its capacity is on the order of 10^4
// entries during a mutation burst and is truncated back down after every
// successful health check.
type RecentSendWindow struct {
	// buf holds entries most-recent-first: buf[0] is the latest push.
	buf [][]byte
}

func NewRecentSendWindow() *RecentSendWindow {
	return &RecentSendWindow{}
}

// Push adds a serialized buffer to the front of the window. The caller
// owns data and must not mutate it afterwards; Push takes ownership of the
// slice as-is (it does not copy), matching the "serialize must be stable"
// contract on Mutable — a fresh serialization is expected per push.
func (w *RecentSendWindow) Push(data []byte) {
	w.buf = append([][]byte{data}, w.buf...)
}

func (w *RecentSendWindow) Len() int {
	return len(w.buf)
}

// Truncate keeps only the first n (most recent) entries, discarding the
// rest. Called after every successful health check to bring the window
// back down from its high-water mark.
func (w *RecentSendWindow) Truncate(n int) {
	if n < len(w.buf) {
		w.buf = w.buf[:n]
	}
}

// Last returns the most recently pushed buffer, or nil if the window is
// empty.
func (w *RecentSendWindow) Last() []byte {
	if len(w.buf) == 0 {
		return nil
	}
	return w.buf[0]
}

// Snapshot returns the window's contents, most-recent-first, as an
// independent slice safe to embed in a CrashRecord.
func (w *RecentSendWindow) Snapshot() [][]byte {
	out := make([][]byte, len(w.buf))
	copy(out, w.buf)
	return out
}
