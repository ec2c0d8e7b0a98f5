// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package triage implements DynamicTriage: post-hoc isolation of the single
// buffer responsible for each journaled crash, run against the same
// collaborator contracts the engine uses, but driven by a linear replay
// rather than the engine's mutation loop.
package triage

import (
	"context"
	"math/bits"
	"time"

	"github.com/bbfuzz/profuzz/pkg/log"
	"github.com/bbfuzz/profuzz/pkg/output"
	"github.com/bbfuzz/profuzz/pkg/traits"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Config holds the triager's one tunable: the pacing between health-check
// polls while waiting for the target to come back up.
type Config struct {
	HealthPacing time.Duration
}

func DefaultConfig() Config {
	return Config{HealthPacing: time.Second}
}

// Deps bundles the collaborators DynamicTriage drives. They're the same
// contracts the engine uses; a triage run and a fuzz run against the same
// target share this surface, not an implementation.
type Deps struct {
	Transport    traits.Transport
	HealthCheck  traits.HealthCheck
	ResetHandler traits.ResetHandler
	Corpus       traits.Corpus
	Store        *output.Store
}

// Result is one isolated reproducer, with its nearest non-crashing
// neighbor (if any) and a human-readable diff against it.
type Result struct {
	Reproducer   []byte
	Path         string
	Neighbor     []byte
	NeighborDiff string
}

type Triager struct {
	cfg       Config
	transport traits.Transport
	health    traits.HealthCheck
	reset     traits.ResetHandler
	corpus    traits.Corpus
	store     *output.Store
}

func New(cfg Config, deps Deps) *Triager {
	return &Triager{
		cfg:       cfg,
		transport: deps.Transport,
		health:    deps.HealthCheck,
		reset:     deps.ResetHandler,
		corpus:    deps.Corpus,
		store:     deps.Store,
	}
}

// RunAll loads the crash journal and attempts isolation for every record.
// A record that fails to isolate is logged and skipped; it does not abort
// the remaining records.
func (t *Triager) RunAll(ctx context.Context) ([]Result, error) {
	records, err := t.store.LoadJournal()
	if err != nil {
		return nil, err
	}
	var results []Result
	var seen [][]byte
	for i, rec := range records {
		res, err := t.isolate(ctx, rec, &seen)
		if err != nil {
			log.Logf(0, "triage: skipping record %d: %v", i, err)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// isolate drives Phase A and, if needed, Phase B against one CrashRecord,
// then finds the nearest non-crashing neighbor and stores the reproducer.
func (t *Triager) isolate(ctx context.Context, rec output.CrashRecord, seen *[][]byte) (*Result, error) {
	if err := t.waitHealthy(ctx); err != nil {
		return nil, err
	}

	reproducer, nonCrashing, err := t.phaseA(ctx, rec)
	if err != nil {
		return nil, err
	}
	*seen = append(*seen, nonCrashing...)

	if reproducer == nil {
		var phaseBNonCrashing [][]byte
		reproducer, phaseBNonCrashing, err = t.phaseB(ctx, rec)
		if err != nil {
			return nil, err
		}
		*seen = append(*seen, phaseBNonCrashing...)
	}
	if reproducer == nil {
		return nil, traits.Custom("crash record did not reproduce under triage")
	}

	result := &Result{Reproducer: reproducer}
	if neighbor, ok := nearestNeighbor(reproducer, *seen); ok {
		result.Neighbor = neighbor
		result.NeighborDiff = t.renderDiff(reproducer, neighbor)
	}

	path, err := t.store.WriteReproducer(reproducer)
	if err != nil {
		return nil, err
	}
	result.Path = path

	if err := t.reset.Reset(ctx); err != nil {
		return nil, err
	}
	if err := t.waitHealthy(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// phaseA replays the triggering buffer alone. If it alone reproduces the
// crash, it is the reproducer and Phase B never runs.
func (t *Triager) phaseA(ctx context.Context, rec output.CrashRecord) ([]byte, [][]byte, error) {
	if err := t.sendTest(ctx, rec.TriggeringBuffer); err != nil {
		return nil, nil, err
	}
	healthy, err := t.health.IsOK(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !healthy {
		return rec.TriggeringBuffer, nil, nil
	}
	return nil, [][]byte{rec.TriggeringBuffer}, nil
}

// phaseB replays RecentSendBuffers forward, in the oldest-first order they
// are stored in, stopping at the first buffer whose send is followed by a
// failed health check. Health is confirmed before each test send so a
// pre-existing failure is never attributed to that send.
func (t *Triager) phaseB(ctx context.Context, rec output.CrashRecord) ([]byte, [][]byte, error) {
	var nonCrashing [][]byte
	for _, buf := range rec.RecentSendBuffers {
		if err := t.waitHealthy(ctx); err != nil {
			return nil, nonCrashing, err
		}
		if err := t.sendTest(ctx, buf); err != nil {
			return nil, nonCrashing, err
		}
		healthy, err := t.health.IsOK(ctx)
		if err != nil {
			return nil, nonCrashing, err
		}
		if !healthy {
			return buf, nonCrashing, nil
		}
		nonCrashing = append(nonCrashing, buf)
	}
	return nil, nonCrashing, nil
}

func (t *Triager) sendTest(ctx context.Context, buf []byte) error {
	if err := t.transport.Connect(ctx); err != nil {
		return err
	}
	defer t.transport.Close()
	return t.transport.Write(ctx, buf)
}

// waitHealthy polls HealthCheck.IsOK at cfg.HealthPacing until it reports
// healthy, or ctx is done.
func (t *Triager) waitHealthy(ctx context.Context) error {
	for {
		healthy, err := t.health.IsOK(ctx)
		if err == nil && healthy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.cfg.HealthPacing):
		}
	}
}

// maxDiffRender bounds how much of each side's Show() text feeds the diff
// engine; past this, a giant reproducer buries the actual mismatch in noise.
const maxDiffRender = 4096

// renderDiff shows candidate against neighbor via the Corpus collaborator's
// Show(), falling back to the raw buffers if either fails to parse. Long
// text is cut down with log.Truncate before diffing.
func (t *Triager) renderDiff(candidate, neighbor []byte) string {
	candidateText := string(candidate)
	if item, ok := t.corpus.Parse(candidate); ok {
		candidateText = item.Show()
	}
	neighborText := string(neighbor)
	if item, ok := t.corpus.Parse(neighbor); ok {
		neighborText = item.Show()
	}
	candidateText = string(log.Truncate([]byte(candidateText), maxDiffRender/2, maxDiffRender/2))
	neighborText = string(log.Truncate([]byte(neighborText), maxDiffRender/2, maxDiffRender/2))
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(candidateText, neighborText, false)
	return dmp.DiffPrettyText(diffs)
}

// hammingDistance counts differing bits between a and b, bitwise XOR then
// popcount. Buffers of different length are compared over their common
// prefix, with every bit of the longer buffer's tail counted as a
// difference.
func hammingDistance(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	for i := 0; i < n; i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	longer := a
	if len(b) > len(a) {
		longer = b
	}
	for i := n; i < len(longer); i++ {
		dist += bits.OnesCount8(longer[i])
	}
	return dist
}

// nearestNeighbor returns the entry of seen with the smallest Hamming
// distance to candidate. ok is false if seen is empty.
func nearestNeighbor(candidate []byte, seen [][]byte) (nearest []byte, ok bool) {
	best := -1
	for _, s := range seen {
		d := hammingDistance(candidate, s)
		if best == -1 || d < best {
			best = d
			nearest = s
		}
	}
	return nearest, best != -1
}
