// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stats holds the single shared record the engine and an optional
// UI/log consumer both touch. The execs/sec window needs no separate
// resetter: its buckets are time-stamped (see execwindow.go). The engine is
// the sole writer of most fields; everything is guarded by one
// sync.RWMutex so a reader never blocks the engine for longer than one
// acquire/release.
package stats

import (
	"sync"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/google/uuid"
)

// Stats is the engine's shared counters-and-timestamps record, described in
// the core's data model. All reads/writes go through the methods below;
// the zero value is not ready for use, construct with New.
type Stats struct {
	mu sync.RWMutex

	// RunID correlates log lines and crash records back to one campaign;
	// it has no bearing on engine logic.
	RunID uuid.UUID

	executions           uint64
	totalUniqueResponses  uint64
	totalCrashes          uint64
	totalTimeouts         uint64
	cyclesDone            uint64
	corpusCount           uint64
	backoffMillis         uint64

	started         time.Time
	lastNewPath     time.Time
	lastUniqueCrash time.Time
	lastHealthCheck time.Time

	running bool

	execWindow   *execWindow
	responseSize *gohistogram.NumericHistogram
}

// New constructs a fresh Stats with Started set to now and Running set to
// true; the caller clears Running to signal the engine to stop at its next
// iteration boundary.
func New() *Stats {
	return &Stats{
		RunID:        uuid.New(),
		started:      time.Now(),
		running:      true,
		execWindow:   newExecWindow(),
		responseSize: gohistogram.NewHistogram(20),
	}
}

// Snapshot is an immutable, lock-free copy of Stats suitable for embedding
// in a CrashRecord or rendering in a UI.
type Snapshot struct {
	RunID                 uuid.UUID
	Executions            uint64
	TotalUniqueResponses   uint64
	TotalCrashes           uint64
	TotalTimeouts          uint64
	CyclesDone            uint64
	CorpusCount           uint64
	BackoffMillis         uint64
	Started               time.Time
	LastNewPath           time.Time
	LastUniqueCrash       time.Time
	LastHealthCheck       time.Time
	Running               bool
	ExecsPerSecond        uint64
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		RunID:                s.RunID,
		Executions:           s.executions,
		TotalUniqueResponses: s.totalUniqueResponses,
		TotalCrashes:         s.totalCrashes,
		TotalTimeouts:        s.totalTimeouts,
		CyclesDone:           s.cyclesDone,
		CorpusCount:          s.corpusCount,
		BackoffMillis:        s.backoffMillis,
		Started:              s.started,
		LastNewPath:          s.lastNewPath,
		LastUniqueCrash:      s.lastUniqueCrash,
		LastHealthCheck:      s.lastHealthCheck,
		Running:              s.running,
		ExecsPerSecond:       s.execWindow.rate(time.Now()),
	}
}

func (s *Stats) BumpExecutions() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions++
	s.execWindow.bump(now)
}

func (s *Stats) Executions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executions
}

// ObserveNovelResponse records a newly-seen response digest: it bumps
// TotalUniqueResponses, sets LastNewPath, and bumps CorpusCount by the
// fixed display bonus (see DESIGN.md for why this is +3, not +1).
func (s *Stats) ObserveNovelResponse(corpusCountBonus uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalUniqueResponses++
	s.lastNewPath = time.Now()
	s.corpusCount += corpusCountBonus
}

func (s *Stats) TotalUniqueResponses() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalUniqueResponses
}

func (s *Stats) BumpTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTimeouts++
}

// ObserveCrash records a crash. unique indicates whether the caller already
// determined (via UniqueCrashSet) that this is a newly seen crashing
// buffer; only unique crashes bump TotalCrashes, preserving the invariant
// TotalCrashes <= |UniqueCrashSet|.
func (s *Stats) ObserveCrash(unique bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unique {
		s.lastUniqueCrash = time.Now()
		s.totalCrashes++
	}
}

func (s *Stats) TotalCrashes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalCrashes
}

func (s *Stats) MarkHealthCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHealthCheck = time.Now()
}

func (s *Stats) BumpCycles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclesDone++
}

func (s *Stats) SetBackoffMillis(ms uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoffMillis = ms
}

func (s *Stats) ObserveResponseSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseSize.Add(float64(n))
}

// ResponseSizeQuantile reports the histogram's estimate of the q-th
// quantile (0<=q<=1) of observed response sizes, purely for operator
// observability; the engine never consults it.
func (s *Stats) ResponseSizeQuantile(q float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responseSize.Quantile(q)
}

func (s *Stats) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Stats) SetRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
}

// ExecsPerSecond reports executions observed within the trailing ~1s
// window (see execWindow).
func (s *Stats) ExecsPerSecond() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execWindow.rate(time.Now())
}
