// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer runs a trivial accept-one-connection-and-echo server on
// loopback and returns its address. It stops when the listener is closed.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestTransportWriteReadRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	tr := NewTransport(DefaultConfig(addr))
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	require.NoError(t, tr.Write(ctx, []byte("hello")))
	buf := make([]byte, 16)
	n, err := tr.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestTransportConnectFailsWhenNothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := DefaultConfig(addr)
	cfg.DialTimeout = 200 * time.Millisecond
	tr := NewTransport(cfg)
	err = tr.Connect(context.Background())
	assert.Error(t, err)
}

func TestTransportReadReturnsCleanCloseAsSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	tr := NewTransport(DefaultConfig(ln.Addr().String()))
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	buf := make([]byte, 16)
	n, err := tr.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHealthCheckReportsTargetUp(t *testing.T) {
	addr := startEchoServer(t)
	hc := NewHealthCheck(addr, time.Second)
	ok, err := hc.IsOK(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHealthCheckReportsTargetDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	hc := NewHealthCheck(addr, 200*time.Millisecond)
	ok, err := hc.IsOK(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDummyResetHandlerAlwaysSucceeds(t *testing.T) {
	var r DummyResetHandler
	assert.NoError(t, r.Reset(context.Background()))
}

func TestExecResetHandlerRunsCommandToCompletion(t *testing.T) {
	r := ExecResetHandler{Name: "true"}
	assert.NoError(t, r.Reset(context.Background()))
}

func TestExecResetHandlerReportsNonZeroExit(t *testing.T) {
	r := ExecResetHandler{Name: "false"}
	err := r.Reset(context.Background())
	require.Error(t, err)
}
