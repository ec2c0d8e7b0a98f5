// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBumpExecutions(t *testing.T) {
	s := New()
	for i := 0; i < 50; i++ {
		s.BumpExecutions()
	}
	assert.Equal(t, uint64(50), s.Executions())
	assert.True(t, s.ExecsPerSecond() > 0)
}

func TestObserveNovelResponseBonus(t *testing.T) {
	s := New()
	s.ObserveNovelResponse(3)
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.TotalUniqueResponses)
	assert.Equal(t, uint64(3), snap.CorpusCount)
	assert.WithinDuration(t, time.Now(), snap.LastNewPath, time.Second)
}

func TestObserveCrashOnlyCountsUnique(t *testing.T) {
	s := New()
	s.ObserveCrash(true)
	s.ObserveCrash(false)
	s.ObserveCrash(false)
	assert.Equal(t, uint64(1), s.TotalCrashes())
}

func TestExecWindowEmptiesAfterGap(t *testing.T) {
	w := newExecWindow()
	base := time.Unix(1000, 0)
	w.bump(base)
	assert.Equal(t, uint64(1), w.rate(base))
	assert.Equal(t, uint64(0), w.rate(base.Add(2*time.Second)))
}

func TestRunningToggle(t *testing.T) {
	s := New()
	assert.True(t, s.Running())
	s.SetRunning(false)
	assert.False(t, s.Running())
}
