// Package ioengine implements the transaction engine: it renders
// batches of components to the dashboard and drives their RETURN/
// SET_STATE/CANCELED responses back into typed component results.
package ioengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/relaydash/hostsdk/component"
)

// ErrTransactionClosed is returned by RenderComponents once the
// transaction has been canceled by the dashboard or the operator.
var ErrTransactionClosed = fmt.Errorf("ioengine: transaction closed")

// GroupValidator runs after every component in a render batch has
// individually validated, letting the caller reject a submission based
// on cross-component invariants. A non-empty return value is shown as
// the batch-level validation error and triggers a re-render.
type GroupValidator func(ctx context.Context) (string, error)

// IORender is one SEND_IO_CALL payload: the full description of what
// the dashboard should currently display for a transaction.
type IORender struct {
	ID                     string                  `json:"id"`
	InputGroupKey          string                  `json:"inputGroupKey"`
	ToRender               []component.RenderInfo  `json:"toRender"`
	Kind                   string                  `json:"kind"`
	ValidationErrorMessage *string                 `json:"validationErrorMessage,omitempty"`
	ContinueButton         *component.ButtonConfig `json:"continueButton,omitempty"`
}

// ResponseKind distinguishes the three shapes an IO_RESPONSE can take.
type ResponseKind string

const (
	ResponseReturn   ResponseKind = "RETURN"
	ResponseSetState ResponseKind = "SET_STATE"
	ResponseCanceled ResponseKind = "CANCELED"
)

// Response is a parsed IO_RESPONSE payload.
type Response struct {
	Kind          ResponseKind      `json:"kind"`
	InputGroupKey string            `json:"inputGroupKey"`
	Values        []json.RawMessage `json:"values,omitempty"`
}

// SendFunc delivers one IORender to the dashboard, via SEND_IO_CALL.
type SendFunc func(ctx context.Context, render IORender) error

// IOClient drives one transaction's component render/response cycle.
// Grounded on IOClient/io_client.py: render(), on_response_handler().
type IOClient struct {
	send SendFunc

	mu                sync.Mutex
	canceled          bool
	components        []component.Handle
	inputGroupKey     string
	group             GroupValidator
	continueBtn       *component.ButtonConfig
	validationMessage *string
	outcome           chan error
}

// NewIOClient constructs an IOClient that delivers render batches via
// send.
func NewIOClient(send SendFunc) *IOClient {
	return &IOClient{send: send}
}

// OnResponse feeds one parsed IO_RESPONSE into the engine. It is safe to
// call from the RPC layer's own goroutine; RenderComponents blocks on
// its own goroutine until a terminal outcome arrives.
func (c *IOClient) OnResponse(ctx context.Context, resp Response) error {
	c.mu.Lock()
	if resp.InputGroupKey != c.inputGroupKey {
		c.mu.Unlock()
		return nil // stale response for a superseded render; ignore
	}
	components := c.components
	outcome := c.outcome
	c.mu.Unlock()

	switch resp.Kind {
	case ResponseCanceled:
		c.mu.Lock()
		c.canceled = true
		c.mu.Unlock()
		for _, comp := range components {
			comp.Reject(ErrTransactionClosed)
		}
		if outcome != nil {
			select {
			case outcome <- ErrTransactionClosed:
			default:
			}
		}
		return nil

	case ResponseSetState:
		if len(resp.Values) != len(components) {
			return fmt.Errorf("ioengine: SET_STATE value count %d != component count %d", len(resp.Values), len(components))
		}
		for i, raw := range resp.Values {
			if !components[i].IsStateful() || string(raw) == "null" {
				continue
			}
			if err := components[i].HandleStateChange(raw); err != nil {
				return fmt.Errorf("ioengine: apply state change: %w", err)
			}
		}
		return c.render(ctx)

	case ResponseReturn:
		return c.handleReturn(ctx, resp, components, outcome)

	default:
		return fmt.Errorf("ioengine: unknown response kind %q", resp.Kind)
	}
}

func (c *IOClient) handleReturn(ctx context.Context, resp Response, components []component.Handle, outcome chan error) error {
	if len(resp.Values) != len(components) {
		return fmt.Errorf("ioengine: RETURN value count %d != component count %d", len(resp.Values), len(components))
	}

	type check struct {
		msg string
		err error
	}
	results := make([]check, len(components))
	var wg sync.WaitGroup
	for i := range components {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := components[i].CheckValue(resp.Values[i])
			results[i] = check{msg: msg, err: err}
		}(i)
	}
	wg.Wait()

	anyInvalid := false
	for i, r := range results {
		if r.err != nil {
			msg := "Received invalid response."
			components[i].SetValidationErrorMessage(&msg)
			anyInvalid = true
			continue
		}
		if r.msg != "" {
			msg := r.msg
			components[i].SetValidationErrorMessage(&msg)
			anyInvalid = true
		} else {
			components[i].SetValidationErrorMessage(nil)
		}
	}
	if anyInvalid {
		return c.render(ctx)
	}

	c.mu.Lock()
	group := c.group
	c.mu.Unlock()
	if group != nil {
		msg, err := group(ctx)
		if err != nil {
			return fmt.Errorf("ioengine: group validator: %w", err)
		}
		if msg != "" {
			c.mu.Lock()
			c.validationMessage = &msg
			c.mu.Unlock()
			return c.render(ctx)
		}
	}
	c.mu.Lock()
	c.validationMessage = nil
	c.mu.Unlock()

	for i, comp := range components {
		if err := comp.Resolve(resp.Values[i]); err != nil {
			comp.Reject(err)
		}
	}
	if outcome != nil {
		select {
		case outcome <- nil:
		default:
		}
	}
	return nil
}

func (c *IOClient) render(ctx context.Context) error {
	c.mu.Lock()
	toRender := make([]component.RenderInfo, len(c.components))
	for i, comp := range c.components {
		info, err := comp.RenderInfo()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("ioengine: render info for component %d: %w", i, err)
		}
		toRender[i] = info
	}
	render := IORender{
		ID:                     uuid.NewString(),
		InputGroupKey:          c.inputGroupKey,
		ToRender:               toRender,
		Kind:                   "RENDER",
		ValidationErrorMessage: c.validationMessage,
		ContinueButton:         c.continueBtn,
	}
	c.mu.Unlock()

	return c.send(ctx, render)
}

// RenderComponents sends components for display and blocks until they
// either all RETURN, the transaction is CANCELED, or ctx is done.
func (c *IOClient) RenderComponents(ctx context.Context, components []component.Handle, group GroupValidator, continueButton *component.ButtonConfig) error {
	c.mu.Lock()
	if c.canceled {
		c.mu.Unlock()
		return ErrTransactionClosed
	}
	c.components = components
	c.inputGroupKey = uuid.NewString()
	c.group = group
	c.continueBtn = continueButton
	c.validationMessage = nil
	c.outcome = make(chan error, 1)
	outcome := c.outcome
	c.mu.Unlock()

	if err := c.render(ctx); err != nil {
		return err
	}

	select {
	case err := <-outcome:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCanceled reports whether the dashboard (or the operator) has
// canceled this transaction.
func (c *IOClient) IsCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// Resend re-delivers the most recent render batch unchanged. Used after
// a reconnect replaces the underlying transport, so the dashboard's
// view of an in-flight transaction does not go stale.
func (c *IOClient) Resend(ctx context.Context) error {
	c.mu.Lock()
	hasRender := c.components != nil
	c.mu.Unlock()
	if !hasRender {
		return nil
	}
	return c.render(ctx)
}
