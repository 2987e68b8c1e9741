// Copyright (C) 2025 Proofcraft Labs (oss@proofcraft.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lean

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer speaks framed JSON-RPC over in-memory pipes, standing in for a
// language server process.
type fakeServer struct {
	in  *io.PipeReader // client -> server
	out *io.PipeWriter // server -> client

	mu sync.Mutex
}

func newFakeServerConn(onNotify notifyFunc) (*rpcConn, *fakeServer, func()) {
	c2sRead, c2sWrite := io.Pipe()
	s2cRead, s2cWrite := io.Pipe()

	conn := newRPCConn(s2cRead, c2sWrite, onNotify)
	srv := &fakeServer{in: c2sRead, out: s2cWrite}
	cleanup := func() {
		c2sRead.Close()
		c2sWrite.Close()
		s2cRead.Close()
		s2cWrite.Close()
	}
	return conn, srv, cleanup
}

// readRequest parses one framed message off the client's stream.
func (s *fakeServer) readRequest(t *testing.T) map[string]interface{} {
	t.Helper()
	r := bufio.NewReader(s.in)

	var contentLength int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			contentLength, err = strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				t.Fatalf("bad Content-Length: %v", err)
			}
		}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	return msg
}

func (s *fakeServer) send(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "Content-Length: %d\r\n\r\n%s", len(data), data); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestRPCCallRoundTrip(t *testing.T) {
	conn, srv, cleanup := newFakeServerConn(nil)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.readLoop(ctx)

	go func() {
		req := srv.readRequest(t)
		srv.send(t, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]interface{}{"ok": true},
		})
	}()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	resp, err := conn.call(callCtx, "initialize", map[string]interface{}{"processId": 1})
	if err != nil {
		t.Fatalf("call() error = %v", err)
	}
	if !strings.Contains(string(resp.Result), "ok") {
		t.Errorf("Result = %s, want ok payload", resp.Result)
	}
}

func TestRPCCallServerError(t *testing.T) {
	conn, srv, cleanup := newFakeServerConn(nil)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.readLoop(ctx)

	go func() {
		req := srv.readRequest(t)
		srv.send(t, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
		})
	}()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	_, err := conn.call(callCtx, "bogus/method", nil)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("call() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Code = %d, want -32601", rpcErr.Code)
	}
}

func TestRPCNotificationDispatch(t *testing.T) {
	type notification struct {
		method string
		params json.RawMessage
	}
	got := make(chan notification, 1)

	conn, srv, cleanup := newFakeServerConn(func(method string, params json.RawMessage) {
		got <- notification{method, params}
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.readLoop(ctx)

	srv.send(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params":  map[string]interface{}{"uri": "file:///x.lean"},
	})

	select {
	case n := <-got:
		if n.method != "textDocument/publishDiagnostics" {
			t.Errorf("method = %q", n.method)
		}
		if !strings.Contains(string(n.params), "x.lean") {
			t.Errorf("params = %s", n.params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never dispatched")
	}
}

func TestRPCNotifyFramesMessage(t *testing.T) {
	conn, srv, cleanup := newFakeServerConn(nil)
	defer cleanup()

	done := make(chan map[string]interface{}, 1)
	go func() { done <- srv.readRequest(t) }()

	if err := conn.notify("initialized", struct{}{}); err != nil {
		t.Fatalf("notify() error = %v", err)
	}

	select {
	case msg := <-done:
		if msg["method"] != "initialized" {
			t.Errorf("method = %v, want initialized", msg["method"])
		}
		if _, hasID := msg["id"]; hasID {
			t.Errorf("notification carries an id: %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never reached the server")
	}
}

func TestRPCCloseFailsInflightCalls(t *testing.T) {
	conn, srv, cleanup := newFakeServerConn(nil)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.readLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer callCancel()
		_, err := conn.call(callCtx, "shutdown", nil)
		errCh <- err
	}()

	// Let the request land before closing.
	srv.readRequest(t)
	conn.close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("call() error = nil, want connection-closed error")
		}
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			t.Fatalf("call() error = %v, want *RPCError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call hung after close")
	}
}

func TestRPCCallAfterClose(t *testing.T) {
	conn, _, cleanup := newFakeServerConn(nil)
	defer cleanup()

	conn.close()
	if _, err := conn.call(context.Background(), "anything", nil); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("call() error = %v, want ErrServerNotRunning", err)
	}
	if err := conn.notify("anything", nil); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("notify() error = %v, want ErrServerNotRunning", err)
	}
}
