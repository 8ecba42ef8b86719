// Package rpc implements the duplex RPC layer on top of a framed socket:
// symmetric CALL/RESPONSE envelopes correlated by monotonic ids, with
// schema-validated inputs and returns on both the calling and responding
// sides.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/relaydash/hostsdk/internal/wire"
)

// Transport is the subset of transport.Socket the RPC layer depends on.
// Keeping it as a small interface, rather than importing
// internal/transport directly, is what makes Rebind possible across a
// reconnect without the RPC layer caring about dial/handshake details.
type Transport interface {
	Send(ctx context.Context, data string) error
}

// Handler answers one inbound CALL. It receives the already
// schema-validated input payload and returns the (unvalidated — the
// caller validates against the return schema before sending) return
// payload.
type Handler func(ctx context.Context, data json.RawMessage) (json.RawMessage, error)

type pendingCall struct {
	result chan callResult
}

type callResult struct {
	data json.RawMessage
	err  string // local failure only (unmarshal, timeout); never sent over the wire
}

// Client is a duplex RPC endpoint: it both issues CALLs to the dashboard
// and answers CALLs the dashboard issues to it, over whatever Transport
// is currently bound.
type Client struct {
	validator *wire.Validator

	mu        sync.RWMutex
	transport Transport
	handlers  map[wire.ServerMethod]Handler

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	nextID atomic.Uint64
	logger *slog.Logger
}

// NewClient constructs an RPC client bound to an initial transport. Use
// Rebind after a reconnect swaps the underlying socket.
func NewClient(transport Transport, validator *wire.Validator) *Client {
	return &Client{
		validator: validator,
		transport: transport,
		handlers:  make(map[wire.ServerMethod]Handler),
		pending:   make(map[string]*pendingCall),
		logger:    slog.Default(),
	}
}

// Rebind swaps the transport a reconnected socket replaced, preserving
// every call still waiting on a RESPONSE. Mirrors
// DuplexRPCClient.set_communicator in the original implementation.
func (c *Client) Rebind(transport Transport) {
	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()
}

// Handle registers the handler invoked for an inbound CALL to method.
func (c *Client) Handle(method wire.ServerMethod, h Handler) {
	c.mu.Lock()
	c.handlers[method] = h
	c.mu.Unlock()
}

// Send issues a CALL for method with inputs, validates inputs and the
// eventual return against method's schema, and blocks until the
// corresponding RESPONSE envelope arrives (or ctx is done).
func (c *Client) Send(ctx context.Context, method wire.HostMethod, inputs any) (json.RawMessage, error) {
	def, ok := wire.HostCallable[method]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown host method %q", method)
	}

	inputData, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal inputs for %s: %w", method, err)
	}
	if err := c.validator.Validate(def.InputSchema, inputData); err != nil {
		return nil, fmt.Errorf("rpc: invalid inputs for %s: %w", method, err)
	}

	id := fmt.Sprintf("%d", c.nextID.Add(1))
	env := wire.Envelope{
		ID:         id,
		MethodName: string(method),
		Data:       inputData,
		Kind:       wire.EnvelopeCall,
	}
	envData, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal envelope for %s: %w", method, err)
	}

	pc := &pendingCall{result: make(chan callResult, 1)}
	c.pendingMu.Lock()
	c.pending[id] = pc
	c.pendingMu.Unlock()

	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()
	if t == nil {
		c.forgetPending(id)
		return nil, fmt.Errorf("rpc: no transport bound for %s", method)
	}

	if err := t.Send(ctx, string(envData)); err != nil {
		c.forgetPending(id)
		return nil, fmt.Errorf("rpc: send %s: %w", method, err)
	}

	select {
	case res := <-pc.result:
		if res.err != "" {
			return nil, fmt.Errorf("rpc: %s failed: %s", method, res.err)
		}
		if len(def.ReturnSchema) > 0 {
			if err := c.validator.Validate(def.ReturnSchema, res.data); err != nil {
				return nil, fmt.Errorf("rpc: invalid return for %s: %w", method, err)
			}
		}
		return res.data, nil
	case <-ctx.Done():
		c.forgetPending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forgetPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// OnMessage is the Socket.OnMessage callback: it parses one application
// MESSAGE payload as an Envelope and dispatches it as either an inbound
// CALL or a RESPONSE to a call this client issued.
func (c *Client) OnMessage(ctx context.Context, raw string) {
	env, err := wire.ParseEnvelope(raw)
	if err != nil {
		return
	}

	switch env.Kind {
	case wire.EnvelopeResponse:
		c.handleResponse(env)
	case wire.EnvelopeCall:
		c.handleCall(ctx, env)
	}
}

func (c *Client) handleResponse(env wire.Envelope) {
	c.pendingMu.Lock()
	pc, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	// The envelope's data is the bare return value, not a wrapper object;
	// see DuplexMessage(data=return_value, kind="RESPONSE") upstream.
	pc.result <- callResult{data: env.Data}
}

// handleCall answers one inbound CALL. Per the wire contract, an unknown
// method, a missing handler, a schema-validation failure, or a handler
// exception are all logged locally and the frame is dropped — the
// protocol has no error-RESPONSE shape, so the connection just never
// sees a reply for that id.
func (c *Client) handleCall(ctx context.Context, env wire.Envelope) {
	method := wire.ServerMethod(env.MethodName)

	def, ok := wire.HostRespondsTo[method]
	if !ok {
		c.logger.Warn("rpc: dropping call for unknown method", "method", env.MethodName, "id", env.ID)
		return
	}

	c.mu.RLock()
	handler, ok := c.handlers[method]
	t := c.transport
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("rpc: dropping call, no handler registered", "method", env.MethodName, "id", env.ID)
		return
	}

	if err := c.validator.Validate(def.InputSchema, env.Data); err != nil {
		c.logger.Warn("rpc: dropping call, invalid inputs", "method", env.MethodName, "id", env.ID, "error", err)
		return
	}

	out, err := handler(ctx, env.Data)
	if err != nil {
		c.logger.Error("rpc: dropping call, handler failed", "method", env.MethodName, "id", env.ID, "error", err)
		return
	}

	if len(def.ReturnSchema) > 0 && len(out) > 0 {
		if err := c.validator.Validate(def.ReturnSchema, out); err != nil {
			c.logger.Error("rpc: dropping call, invalid return", "method", env.MethodName, "id", env.ID, "error", err)
			return
		}
	}

	// The envelope's data is the bare return value, matching the CALL
	// side's read of a RESPONSE.
	respEnv := wire.Envelope{ID: env.ID, MethodName: env.MethodName, Data: out, Kind: wire.EnvelopeResponse}
	respBytes, err := respEnv.Marshal()
	if err != nil || t == nil {
		return
	}
	_ = t.Send(ctx, string(respBytes))
}
