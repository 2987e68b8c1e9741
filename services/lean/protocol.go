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
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// jsonrpcVersion is the JSON-RPC version used by LSP.
const jsonrpcVersion = "2.0"

// rpcRequest is a JSON-RPC request. ID is omitted for notifications.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcWireError   `json:"error,omitempty"`
}

type rpcWireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcIncoming is the minimal shape needed to dispatch a server message:
// responses carry an ID, notifications carry a method.
type rpcIncoming struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// notifyFunc receives server-initiated notifications from the read loop.
type notifyFunc func(method string, params json.RawMessage)

// rpcConn frames JSON-RPC messages with Content-Length headers over a
// child process's stdio, correlates responses to in-flight requests, and
// hands server notifications to a callback.
//
// Safe for concurrent sends; ReadLoop must run in exactly one goroutine.
type rpcConn struct {
	reader   *bufio.Reader
	writer   io.Writer
	writeMu  sync.Mutex
	nextID   int64
	inflight map[int64]chan rpcResponse
	flightMu sync.Mutex
	onNotify notifyFunc
	closed   atomic.Bool
}

func newRPCConn(r io.Reader, w io.Writer, onNotify notifyFunc) *rpcConn {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &rpcConn{
		reader:   reader,
		writer:   w,
		inflight: make(map[int64]chan rpcResponse),
		onNotify: onNotify,
	}
}

// call sends a request and blocks until the matching response arrives or
// the context is done.
func (c *rpcConn) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	if c.closed.Load() {
		return nil, ErrServerNotRunning
	}

	id := atomic.AddInt64(&c.nextID, 1)
	respCh := make(chan rpcResponse, 1)

	c.flightMu.Lock()
	c.inflight[id] = respCh
	c.flightMu.Unlock()
	defer func() {
		c.flightMu.Lock()
		delete(c.inflight, id)
		c.flightMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
	if err := c.write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s: %w", method, ctx.Err())
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return &resp, nil
	}
}

// notify sends a notification; no response is expected.
func (c *rpcConn) notify(method string, params interface{}) error {
	if c.closed.Load() {
		return ErrServerNotRunning
	}
	return c.write(rpcRequest{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *rpcConn) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := c.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readLoop reads server messages until the stream closes. Responses resolve
// in-flight calls; notifications go to the callback.
func (c *rpcConn) readLoop(ctx context.Context) error {
	if c.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.readMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			if err == io.EOF {
				return ErrServerCrashed
			}
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(msg)
	}
}

func (c *rpcConn) readMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			contentLength, err = strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length %q: %w", v, err)
			}
		}
		// Other headers (Content-Type) are ignored.
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("missing or invalid Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *rpcConn) dispatch(msg json.RawMessage) {
	var in rpcIncoming
	if err := json.Unmarshal(msg, &in); err != nil {
		return
	}

	// Server notification or server-to-client request.
	if in.Method != "" {
		if c.onNotify != nil {
			c.onNotify(in.Method, in.Params)
		}
		return
	}

	if in.ID == 0 {
		return
	}
	var resp rpcResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return
	}

	c.flightMu.Lock()
	ch, ok := c.inflight[resp.ID]
	c.flightMu.Unlock()
	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// close marks the connection closed and fails all in-flight calls so
// waiters never hang on a dead server.
func (c *rpcConn) close() {
	c.closed.Store(true)

	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	for id, ch := range c.inflight {
		select {
		case ch <- rpcResponse{
			JSONRPC: jsonrpcVersion,
			ID:      id,
			Error:   &rpcWireError{Code: -32099, Message: "server connection closed"},
		}:
		default:
		}
		delete(c.inflight, id)
	}
}
