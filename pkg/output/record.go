// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package output implements the on-disk layout for the crash journal and
// crash-buffer files, and the serializable CrashRecord that journal holds.
package output

import (
	"encoding/json"
	"time"

	"github.com/bbfuzz/profuzz/pkg/stats"
)

// CrashRecord is the serializable evidence captured the moment a health
// check fails: the single buffer that was in flight, the recent-send
// window as it stood at that instant, and a stats snapshot. The invariant
// RecentSendBuffers[last] == TriggeringBuffer must hold: RecentSendBuffers
// is stored oldest-first so the triggering buffer — the newest send — is
// the last element.
type CrashRecord struct {
	TriggeringBuffer []byte
	RecentSendBuffers [][]byte
	Stats             stats.Snapshot
}

// jsonStats mirrors spec.md's "Timestamps inside stats are serialized as
// unsigned integer nanoseconds-since-now-at-serialize-time" rule: each
// timestamp becomes the elapsed duration, in nanoseconds, between it and
// the moment the record is marshaled, not an absolute time. A zero
// timestamp (the event never happened) serializes as 0.
type jsonStats struct {
	Executions           uint64 `json:"executions"`
	UniqueResponses       uint64 `json:"unique_responses"`
	UniqueCrashes         uint64 `json:"unique_crashes"`
	Timeouts              uint64 `json:"timeouts"`
	Cycles                uint64 `json:"cycles"`
	CorpusCount           uint64 `json:"corpus_count"`
	BackoffMs             uint64 `json:"backoff_ms"`
	StartedNsAgo          uint64 `json:"started_ns_ago"`
	LastNewPathNsAgo      uint64 `json:"last_new_path_ns_ago"`
	LastUniqueCrashNsAgo  uint64 `json:"last_unique_crash_ns_ago"`
	LastHealthCheckNsAgo  uint64 `json:"last_health_check_ns_ago"`
	Running               bool   `json:"running"`
}

func nsAgo(t time.Time, now time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	elapsed := now.Sub(t)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed.Nanoseconds())
}

func toJSONStats(s stats.Snapshot, now time.Time) jsonStats {
	return jsonStats{
		Executions:           s.Executions,
		UniqueResponses:      s.TotalUniqueResponses,
		UniqueCrashes:        s.TotalCrashes,
		Timeouts:             s.TotalTimeouts,
		Cycles:               s.CyclesDone,
		CorpusCount:          s.CorpusCount,
		BackoffMs:            s.BackoffMillis,
		StartedNsAgo:         nsAgo(s.Started, now),
		LastNewPathNsAgo:     nsAgo(s.LastNewPath, now),
		LastUniqueCrashNsAgo: nsAgo(s.LastUniqueCrash, now),
		LastHealthCheckNsAgo: nsAgo(s.LastHealthCheck, now),
		Running:              s.Running,
	}
}

// jsonCrashRecord mirrors the wire schema literally: byte buffers are
// emitted as JSON arrays of small integers (`"buffer": [u8, ...]`), not as
// the base64 strings Go's encoding/json would otherwise produce for
// []byte.
type jsonCrashRecord struct {
	Buffer            []int   `json:"buffer"`
	LastSendBuffers   [][]int `json:"last_send_buffers"`
	Stats             jsonStats `json:"stats"`
}

func toIntSlice(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func fromIntSlice(ints []int) []byte {
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	return out
}

// MarshalJSON implements the literal wire schema for one CrashRecord.
func (r CrashRecord) MarshalJSON() ([]byte, error) {
	now := time.Now()
	sendBufs := make([][]int, len(r.RecentSendBuffers))
	for i, b := range r.RecentSendBuffers {
		sendBufs[i] = toIntSlice(b)
	}
	return json.Marshal(jsonCrashRecord{
		Buffer:          toIntSlice(r.TriggeringBuffer),
		LastSendBuffers: sendBufs,
		Stats:           toJSONStats(r.Stats, now),
	})
}

// UnmarshalJSON restores a CrashRecord from the wire schema. Stats
// timestamps cannot be recovered exactly (only elapsed-at-serialize-time
// was stored), so they are reconstructed relative to the moment of
// unmarshaling; callers that need the original wall-clock times should
// keep the raw JSON instead.
func (r *CrashRecord) UnmarshalJSON(data []byte) error {
	var parsed jsonCrashRecord
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	now := time.Now()
	r.TriggeringBuffer = fromIntSlice(parsed.Buffer)
	r.RecentSendBuffers = make([][]byte, len(parsed.LastSendBuffers))
	for i, b := range parsed.LastSendBuffers {
		r.RecentSendBuffers[i] = fromIntSlice(b)
	}
	r.Stats = stats.Snapshot{
		Executions:           parsed.Stats.Executions,
		TotalUniqueResponses: parsed.Stats.UniqueResponses,
		TotalCrashes:         parsed.Stats.UniqueCrashes,
		TotalTimeouts:        parsed.Stats.Timeouts,
		CyclesDone:           parsed.Stats.Cycles,
		CorpusCount:          parsed.Stats.CorpusCount,
		BackoffMillis:        parsed.Stats.BackoffMs,
		Started:              now.Add(-time.Duration(parsed.Stats.StartedNsAgo)),
		LastNewPath:          now.Add(-time.Duration(parsed.Stats.LastNewPathNsAgo)),
		LastUniqueCrash:      now.Add(-time.Duration(parsed.Stats.LastUniqueCrashNsAgo)),
		LastHealthCheck:      now.Add(-time.Duration(parsed.Stats.LastHealthCheckNsAgo)),
		Running:              parsed.Stats.Running,
	}
	return nil
}
