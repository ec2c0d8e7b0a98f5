// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"errors"
	"time"

	"github.com/bbfuzz/profuzz/pkg/traits"
)

// backoffDelay is the general doubling sequence the connect retry follows:
// base, 2*base, 4*base, ... capped at cap. attempt is zero-based.
func backoffDelay(base, capDur time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > capDur {
			return capDur
		}
	}
	if d > capDur {
		return capDur
	}
	return d
}

// connectWithBackoff retries Transport.Connect up to cfg.BackoffAttempts
// times, sleeping backoffDelay(attempt) between tries. It reports whether a
// connection was ultimately established.
func (e *Engine) connectWithBackoff(ctx context.Context) bool {
	for attempt := 0; attempt < e.cfg.BackoffAttempts; attempt++ {
		if err := e.transport.Connect(ctx); err == nil {
			return true
		}
		if attempt == e.cfg.BackoffAttempts-1 {
			break
		}
		delay := backoffDelay(e.cfg.BackoffBase, e.cfg.BackoffCap, attempt)
		e.st.SetBackoffMillis(uint64(delay.Milliseconds()))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	e.st.SetBackoffMillis(0)
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var profErr *traits.Error
	if errors.As(err, &profErr) {
		return profErr.Kind == traits.KindTimeout
	}
	return false
}

// sendCorpus connects (with backoff), writes item's serialized bytes,
// reads one response, and reports whether the exchange should be
// considered a success. A clean peer close (Read returning (0, nil)) is a
// success: the target accepted and processed the input without needing to
// reply. Any write/read error beyond that is a failure; timeouts are
// additionally counted in Stats.
func (e *Engine) sendCorpus(ctx context.Context, item traits.Mutable) bool {
	if !e.connectWithBackoff(ctx) {
		return false
	}
	defer e.transport.Close()

	data := item.Serialize()
	if err := e.transport.Write(ctx, data); err != nil {
		if isTimeout(err) {
			e.st.BumpTimeouts()
		}
		return false
	}

	buf := make([]byte, e.cfg.ReadBufferSize)
	n, err := e.transport.Read(ctx, buf)
	if err != nil {
		if isTimeout(err) {
			e.st.BumpTimeouts()
		}
		return false
	}
	if n == 0 {
		return true
	}

	resp := buf[:n]
	e.st.ObserveResponseSize(n)
	if e.novel.Insert(resp) {
		e.st.ObserveNovelResponse(e.cfg.CorpusCountBonus)
		// Reachable by a later Pop this same cycle, not deferred to the next
		// one: the clone that found a new path gets explored further now.
		e.queue.Push(item.Clone())
	}
	return true
}
