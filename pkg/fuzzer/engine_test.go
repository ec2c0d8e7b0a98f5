// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bbfuzz/profuzz/pkg/mutator"
	"github.com/bbfuzz/profuzz/pkg/output"
	"github.com/bbfuzz/profuzz/pkg/stats"
	"github.com/bbfuzz/profuzz/pkg/traits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobItem is a trivial Mutable: an opaque byte string that a single
// mutation perturbs one byte of, with no derived fields to finalize.
type blobItem struct {
	data []byte
}

func (b *blobItem) Clone() traits.Mutable {
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return &blobItem{data: cp}
}

func (b *blobItem) Mutate(m traits.Mutator) {
	if len(b.data) == 0 {
		return
	}
	i := m.Range(0, len(b.data))
	b.data[i] = m.MutateUint8(b.data[i])
}

func (b *blobItem) Build() {}

func (b *blobItem) Serialize() []byte { return b.data }

func (b *blobItem) Show() string { return string(b.data) }

type blobCorpus struct{}

func (blobCorpus) Parse(data []byte) (traits.Mutable, bool) {
	if len(data) == 0 {
		return nil, false
	}
	return &blobItem{data: data}, true
}

// scriptedTransport replies with a fixed response unless crashAfter sends
// have occurred, at which point it reports a connect failure (simulating
// the target going down) until reset.
type scriptedTransport struct {
	mu         sync.Mutex
	sends      int
	connects   int
	crashAfter int
	down       bool
	response   []byte
}

func (t *scriptedTransport) Title() string { return "scripted" }

func (t *scriptedTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.down {
		return traits.ConnectionFailed("target down")
	}
	return nil
}

func (t *scriptedTransport) Close() error { return nil }

func (t *scriptedTransport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends++
	if t.crashAfter > 0 && t.sends >= t.crashAfter {
		t.down = true
	}
	return nil
}

func (t *scriptedTransport) Read(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(buf, t.response)
	return n, nil
}

type scriptedHealth struct {
	transport *scriptedTransport
}

func (h *scriptedHealth) IsOK(ctx context.Context) (bool, error) {
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	return !h.transport.down, nil
}

type countingReset struct {
	transport *scriptedTransport
	resets    int
}

func (r *countingReset) Reset(ctx context.Context) error {
	r.transport.mu.Lock()
	r.transport.down = false
	r.transport.mu.Unlock()
	r.resets++
	return nil
}

func writeSeedFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func newTestEngine(t *testing.T, transport *scriptedTransport, health traits.HealthCheck, reset traits.ResetHandler) (*Engine, *output.Store) {
	t.Helper()
	store, err := output.Open(filepath.Join(t.TempDir(), "out"), false)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.PostResetSleep = time.Millisecond
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 4 * time.Millisecond
	st := stats.New()
	eng := New(cfg, Deps{
		Transport:    transport,
		HealthCheck:  health,
		ResetHandler: reset,
		Corpus:       blobCorpus{},
		Mutator:      mutator.New(mutator.ZeroSeed),
		Stats:        st,
		Store:        store,
	})
	return eng, store
}

func TestCleanRunObservesNoCrashes(t *testing.T) {
	transport := &scriptedTransport{response: []byte("pong")}
	health := &scriptedHealth{transport: transport}
	reset := &countingReset{transport: transport}
	eng, _ := newTestEngine(t, transport, health, reset)
	eng.cfg.RootIterations = 1
	eng.cfg.MutationsPerRoot = 5

	dir := t.TempDir()
	writeSeedFile(t, dir, "seed1", []byte("hello"))

	eng.st.SetRunning(true)
	go func() {
		time.Sleep(20 * time.Millisecond)
		eng.st.SetRunning(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := eng.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, reset.resets)
	assert.Equal(t, uint64(0), eng.st.TotalCrashes())
}

func TestCrashIsCapturedAndJournaled(t *testing.T) {
	transport := &scriptedTransport{response: []byte("pong"), crashAfter: 3}
	health := &scriptedHealth{transport: transport}
	reset := &countingReset{transport: transport}
	eng, store := newTestEngine(t, transport, health, reset)
	eng.cfg.RootIterations = 1
	eng.cfg.MutationsPerRoot = 10
	eng.cfg.WindowHighWater = 1
	eng.cfg.HealthCheckSkipWindow = 0

	dir := t.TempDir()
	writeSeedFile(t, dir, "seed1", []byte("hello"))

	eng.st.SetRunning(true)
	go func() {
		time.Sleep(30 * time.Millisecond)
		eng.st.SetRunning(false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := eng.Run(ctx, dir)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, reset.resets, 1)
	journal, err := store.LoadJournal()
	require.NoError(t, err)
	require.NotEmpty(t, journal)
	last := journal[len(journal)-1]
	assert.Equal(t, last.RecentSendBuffers[len(last.RecentSendBuffers)-1], last.TriggeringBuffer)
}

func TestNovelResponseReEnqueuesAndBumpsCorpusCount(t *testing.T) {
	transport := &scriptedTransport{response: []byte("pong")}
	health := &scriptedHealth{transport: transport}
	reset := &countingReset{transport: transport}
	eng, _ := newTestEngine(t, transport, health, reset)

	dir := t.TempDir()
	writeSeedFile(t, dir, "seed1", []byte("hello"))
	seeds, err := eng.LoadSeeds(dir)
	require.NoError(t, err)
	require.Len(t, seeds, 1)

	ctx := context.Background()
	ok := eng.sendCorpus(ctx, seeds[0])
	assert.True(t, ok)
	assert.Equal(t, uint64(1), eng.st.TotalUniqueResponses())

	transport.response = []byte("different")
	ok = eng.sendCorpus(ctx, seeds[0])
	assert.True(t, ok)
	assert.Equal(t, uint64(2), eng.st.TotalUniqueResponses())
	assert.Equal(t, uint64(2*eng.cfg.CorpusCountBonus), eng.st.Snapshot().CorpusCount)
	// The original seed plus a re-enqueued clone from each of the two novel
	// responses: both are reachable by Pop in this same cycle, not
	// deferred to the next one.
	assert.Equal(t, 3, eng.queue.Len())

	ok = eng.sendCorpus(ctx, seeds[0])
	assert.True(t, ok)
	assert.Equal(t, uint64(2), eng.st.TotalUniqueResponses())
	assert.Equal(t, uint64(2*eng.cfg.CorpusCountBonus), eng.st.Snapshot().CorpusCount)
	assert.Equal(t, 3, eng.queue.Len())
}

func TestConnectBackoffGivesUpAfterConfiguredAttempts(t *testing.T) {
	transport := &scriptedTransport{response: []byte("pong")}
	transport.down = true
	health := &scriptedHealth{transport: transport}
	reset := &countingReset{transport: transport}
	eng, _ := newTestEngine(t, transport, health, reset)
	eng.cfg.BackoffAttempts = 3

	ok := eng.connectWithBackoff(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 3, transport.connects)
}

func TestBackoffDelaySequence(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 5 * time.Second
	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, capDur, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, capDur, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, capDur, 2))
}

func TestLoadSeedsFailsWithNoInputCorpus(t *testing.T) {
	transport := &scriptedTransport{response: []byte("pong")}
	health := &scriptedHealth{transport: transport}
	reset := &countingReset{transport: transport}
	eng, _ := newTestEngine(t, transport, health, reset)

	_, err := eng.LoadSeeds(t.TempDir())
	require.Error(t, err)
	var profErr *traits.Error
	require.ErrorAs(t, err, &profErr)
	assert.Equal(t, traits.KindCustom, profErr.Kind)
}
