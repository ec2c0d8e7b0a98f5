// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tcp is a reference Transport/HealthCheck/ResetHandler set over
// plain TCP: connect, write-with-deadline, read-with-deadline, and a
// separate short-lived probe connection used as the health check. It is
// grounded on profuzz_common's TcpTransport (connect/close/read/write with
// timeouts) and DummyResetHandler.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/bbfuzz/profuzz/pkg/traits"
	"golang.org/x/sys/unix"
)

// Config holds the reference transport's dial address and per-operation
// timeouts.
type Config struct {
	Addr         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// Transport is a TCP client transport: Connect dials once, Close tears the
// connection down, and each Read/Write enforces its own deadline so a wedged
// target surfaces as a traits.Timeout rather than hanging the engine.
type Transport struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
}

func NewTransport(cfg Config) *Transport {
	return &Transport{cfg: cfg}
}

func (t *Transport) Title() string {
	return "tcp_client(" + t.cfg.Addr + ")"
}

// reuseAddrDialer returns a Dialer whose sockets set SO_REUSEADDR, so a
// fuzzing campaign that reconnects thousands of times doesn't exhaust local
// ephemeral ports waiting out TIME_WAIT.
func reuseAddrDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := reuseAddrDialer(t.cfg.DialTimeout).DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return traits.ConnectionFailed(err.Error())
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	t.conn = conn
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return traits.IO("close tcp connection", err)
	}
	return nil
}

func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return traits.ConnectionFailed("tcp stream not connected")
	}
	if err := conn.SetWriteDeadline(deadlineFor(ctx, t.cfg.WriteTimeout)); err != nil {
		return traits.IO("set write deadline", err)
	}
	if _, err := conn.Write(data); err != nil {
		if isNetTimeout(err) {
			return traits.Timeout(t.cfg.WriteTimeout)
		}
		return traits.TransportWrite(err)
	}
	return nil
}

// Read follows the core's "clean close is success" rule: io.EOF is reported
// as (0, nil), not an error.
func (t *Transport) Read(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, traits.ConnectionFailed("tcp stream not connected")
	}
	if err := conn.SetReadDeadline(deadlineFor(ctx, t.cfg.ReadTimeout)); err != nil {
		return 0, traits.IO("set read deadline", err)
	}
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if isNetTimeout(err) {
			return n, traits.Timeout(t.cfg.ReadTimeout)
		}
		return n, traits.TransportRead(err)
	}
	return n, nil
}

func deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	return deadline
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
