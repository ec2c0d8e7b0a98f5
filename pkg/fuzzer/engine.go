// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the FuzzEngine main loop: the single
// cooperative task that connects, mutates, sends, reads, detects response
// novelty, periodically health-checks, and — on failure — captures a crash
// and resets the target. It is generic over the four collaborators in
// pkg/traits and touches no concrete transport, health check, reset
// handler, or corpus format.
package fuzzer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bbfuzz/profuzz/pkg/corpus"
	"github.com/bbfuzz/profuzz/pkg/log"
	"github.com/bbfuzz/profuzz/pkg/mutator"
	"github.com/bbfuzz/profuzz/pkg/output"
	"github.com/bbfuzz/profuzz/pkg/stats"
	"github.com/bbfuzz/profuzz/pkg/traits"
)

// Config holds the engine-fixed tunables from the core's main-loop
// description. Their defaults are contractual for reproducibility;
// operators may override them (e.g. from pkg/config), but two campaigns
// run with different values are not expected to behave identically.
type Config struct {
	RootIterations        int
	MutationsPerRoot      int
	WindowHighWater       int
	WindowTruncateTo      int
	HealthCheckSkipWindow time.Duration
	ReadBufferSize        int
	BackoffBase           time.Duration
	BackoffCap            time.Duration
	BackoffAttempts       int
	CorpusCountBonus      uint64
	PostResetSleep        time.Duration
}

// DefaultConfig returns the contractual tunables described in spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		RootIterations:        50,
		MutationsPerRoot:      1000,
		WindowHighWater:       20000,
		WindowTruncateTo:      5000,
		HealthCheckSkipWindow: 4 * time.Second,
		ReadBufferSize:        4096,
		BackoffBase:           100 * time.Millisecond,
		BackoffCap:            5 * time.Second,
		BackoffAttempts:       3,
		CorpusCountBonus:      3,
		PostResetSleep:        time.Second,
	}
}

// Deps bundles the engine's collaborators: the four pluggable interfaces
// plus the shared Stats and the on-disk Store.
type Deps struct {
	Transport    traits.Transport
	HealthCheck  traits.HealthCheck
	ResetHandler traits.ResetHandler
	Corpus       traits.Corpus
	Mutator      *mutator.Mutator
	Stats        *stats.Stats
	Store        *output.Store
}

// Engine is the fuzzing main loop. It exclusively owns the Queue,
// RecentSendWindow, NovelResponseSet, and UniqueCrashSet; Stats is the one
// field shared with the outside world, and only ever through its own
// locking.
type Engine struct {
	cfg Config

	transport traits.Transport
	health    traits.HealthCheck
	reset     traits.ResetHandler
	corpus    traits.Corpus
	mut       *mutator.Mutator

	st    *stats.Stats
	store *output.Store

	queue   *corpus.Queue
	window  *corpus.RecentSendWindow
	novel   *corpus.NovelResponseSet
	crashes *corpus.UniqueCrashSet

	lastHealthCheck time.Time
}

// New constructs an Engine. Call LoadSeeds and then Run.
func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		transport: deps.Transport,
		health:    deps.HealthCheck,
		reset:     deps.ResetHandler,
		corpus:    deps.Corpus,
		mut:       deps.Mutator,
		st:        deps.Stats,
		store:     deps.Store,
		window:    corpus.NewRecentSendWindow(),
		novel:     corpus.NewNovelResponseSet(),
		crashes:   corpus.NewUniqueCrashSet(),
	}
}

// preflight performs the one-time connect/close/health-check the engine
// insists on before touching the corpus: spec.md's "If any fails, abort
// with ConnectionFailed."
func (e *Engine) preflight(ctx context.Context) error {
	if err := e.transport.Connect(ctx); err != nil {
		return traits.ConnectionFailed(err.Error())
	}
	if err := e.transport.Close(); err != nil {
		return traits.ConnectionFailed(err.Error())
	}
	ok, err := e.health.IsOK(ctx)
	if err != nil {
		return traits.ConnectionFailed(err.Error())
	}
	if !ok {
		return traits.ConnectionFailed("initial health check reported the target unhealthy")
	}
	return nil
}

// LoadSeeds reads every regular file under dir, parses each with the
// Corpus collaborator, and skips (logging, not failing) any file that
// fails to parse. It fails with a Custom error if nothing parsed.
func (e *Engine) LoadSeeds(dir string) ([]traits.Mutable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, traits.IO("read input directory", err)
	}
	var seeds []traits.Mutable
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Logf(0, "skipping seed %s: %v", path, err)
			continue
		}
		item, ok := e.corpus.Parse(data)
		if !ok {
			log.Logf(0, "skipping seed %s: failed to parse", path)
			continue
		}
		seeds = append(seeds, item)
	}
	if len(seeds) == 0 {
		return nil, traits.Custom("no input corpus")
	}
	e.queue = corpus.NewQueue(seeds)
	return seeds, nil
}

// Run drives the engine to completion: preflight, seed load, initial
// exposure, then cycles until Stats.Running() is cleared externally or ctx
// is cancelled. inputDir is only consulted once, at startup.
func (e *Engine) Run(ctx context.Context, inputDir string) error {
	if err := e.preflight(ctx); err != nil {
		return err
	}
	seeds, err := e.LoadSeeds(inputDir)
	if err != nil {
		return err
	}
	e.lastHealthCheck = time.Now()

	// Initial exposure: prime the novel-response set with each seed.
	for _, seed := range seeds {
		e.sendCorpus(ctx, seed)
	}

	for e.st.Running() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		// Pop drains whatever is active right now; a novel-response clone
		// pushed mid-cycle (pkg/fuzzer/transport.go's sendCorpus) extends
		// this same drain instead of waiting for the next cycle.
		for e.st.Running() {
			item := e.queue.Pop()
			if item == nil {
				break
			}
			if err := e.explore(ctx, item); err != nil {
				return err
			}
			e.queue.PushNext(item)
		}
		e.queue.Advance()
		e.st.BumpCycles()
	}
	return nil
}

// explore runs the root-mutation / mutations-per-root budget against one
// popped queue element, per spec.md §4.3's nested repeat loops.
func (e *Engine) explore(ctx context.Context, root traits.Mutable) error {
	for r := 0; r < e.cfg.RootIterations && e.st.Running(); r++ {
		clone := root.Clone()
		for i := 0; i < e.cfg.MutationsPerRoot && e.st.Running(); i++ {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			clone.Mutate(e.mut)
			clone.Build()
			e.window.Push(clone.Serialize())
			ok := e.sendCorpus(ctx, clone)
			if err := e.arbitrateHealth(ctx, ok); err != nil {
				return err
			}
		}
	}
	return nil
}

// arbitrateHealth implements the "health-check arbitration" inner loop: it
// decides whether the last send needs an immediate health check, and if
// the target turns out unhealthy, captures a crash and resets. Returning a
// non-nil error means the run must abort (the reset handler failed).
func (e *Engine) arbitrateHealth(ctx context.Context, sendOK bool) error {
	afterReset := false
	for {
		e.st.BumpExecutions()
		if e.window.Len() < e.cfg.WindowHighWater &&
			time.Since(e.lastHealthCheck) <= e.cfg.HealthCheckSkipWindow &&
			sendOK {
			return nil
		}
		healthy, herr := e.health.IsOK(ctx)
		if herr == nil && healthy {
			e.lastHealthCheck = time.Now()
			e.st.MarkHealthCheck()
			e.window.Truncate(e.cfg.WindowTruncateTo)
			return nil
		}
		if afterReset {
			// The target is still unhealthy right after a reset attempt;
			// stop arbitrating rather than loop forever resetting. explore
			// then goes on to the next mutation of the same clone.
			return nil
		}
		if err := e.captureCrash(); err != nil {
			log.Logf(0, "failed to journal crash: %v", err)
		}
		if err := e.reset.Reset(ctx); err != nil {
			return traits.Custom("reset handler failed: " + err.Error())
		}
		time.Sleep(e.cfg.PostResetSleep)
		afterReset = true
	}
}

// captureCrash journals the current RecentSendWindow as a CrashRecord.
// RecentSendBuffers is stored oldest-first so its last element is the
// triggering buffer, satisfying the journal's invariant.
func (e *Engine) captureCrash() error {
	triggering := e.window.Last()
	recent := e.window.Snapshot()
	oldestFirst := make([][]byte, len(recent))
	for i, b := range recent {
		oldestFirst[len(recent)-1-i] = b
	}
	record := output.CrashRecord{
		TriggeringBuffer:  triggering,
		RecentSendBuffers: oldestFirst,
		Stats:             e.st.Snapshot(),
	}
	unique := e.crashes.Insert(triggering)
	e.st.ObserveCrash(unique)
	return e.store.AppendCrash(record)
}
