// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tcp

import (
	"context"
	"net"
	"time"
)

// HealthCheck probes liveness with a short-lived TCP connection independent
// of the fuzzing Transport's own connection: dial, and if it succeeds,
// close immediately. A target that accepts connections is considered
// healthy; a refused or timed-out dial means unhealthy, never an error —
// per the collaborator contract, health failure and I/O failure are the
// same signal.
type HealthCheck struct {
	addr    string
	timeout time.Duration
}

func NewHealthCheck(addr string, timeout time.Duration) *HealthCheck {
	return &HealthCheck{addr: addr, timeout: timeout}
}

func (h *HealthCheck) IsOK(ctx context.Context) (bool, error) {
	d := net.Dialer{Timeout: h.timeout}
	conn, err := d.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}
