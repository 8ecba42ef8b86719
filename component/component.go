// Package component defines the closed vocabulary of interactive and
// display component kinds, and the generic component type the
// transaction engine renders and collects responses for.
//
// The high-level builder API (io.input.text(...), io.display.table(...)
// and friends) is a separate concern this package does not provide;
// callers construct components directly with New.
package component

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MethodName is the closed set of component kinds the dashboard knows
// how to render, mirroring io_schema.py's InputMethodName and
// DisplayMethodName literals.
type MethodName string

const (
	InputText           MethodName = "INPUT_TEXT"
	InputEmail          MethodName = "INPUT_EMAIL"
	InputNumber         MethodName = "INPUT_NUMBER"
	InputBoolean        MethodName = "INPUT_BOOLEAN"
	InputRichText       MethodName = "INPUT_RICH_TEXT"
	InputSpreadsheet    MethodName = "INPUT_SPREADSHEET"
	InputURL            MethodName = "INPUT_URL"
	InputDate           MethodName = "INPUT_DATE"
	InputTime           MethodName = "INPUT_TIME"
	InputDatetime       MethodName = "INPUT_DATETIME"
	Confirm             MethodName = "CONFIRM"
	ConfirmIdentity     MethodName = "CONFIRM_IDENTITY"
	SelectTable         MethodName = "SELECT_TABLE"
	SelectSingle        MethodName = "SELECT_SINGLE"
	SelectMultiple      MethodName = "SELECT_MULTIPLE"
	Search              MethodName = "SEARCH"
	UploadFile          MethodName = "UPLOAD_FILE"
	DisplayCode         MethodName = "DISPLAY_CODE"
	DisplayHeading      MethodName = "DISPLAY_HEADING"
	DisplayImage        MethodName = "DISPLAY_IMAGE"
	DisplayLink         MethodName = "DISPLAY_LINK"
	DisplayMarkdown     MethodName = "DISPLAY_MARKDOWN"
	DisplayMetadata     MethodName = "DISPLAY_METADATA"
	DisplayObject       MethodName = "DISPLAY_OBJECT"
	DisplayTable        MethodName = "DISPLAY_TABLE"
	DisplayVideo        MethodName = "DISPLAY_VIDEO"
	DisplayProgressSteps         MethodName = "DISPLAY_PROGRESS_STEPS"
	DisplayProgressIndeterminate MethodName = "DISPLAY_PROGRESS_INDETERMINATE"
	DisplayProgressThroughList   MethodName = "DISPLAY_PROGRESS_THROUGH_LIST"
)

// ButtonTheme is the visual treatment of a continue button.
type ButtonTheme string

const (
	ThemePrimary   ButtonTheme = "primary"
	ThemeSecondary ButtonTheme = "secondary"
	ThemeDanger    ButtonTheme = "danger"
)

// ButtonConfig customizes a render batch's continue button.
type ButtonConfig struct {
	Label string      `json:"label,omitempty"`
	Theme ButtonTheme `json:"theme,omitempty"`
}

// RenderInfo is the wire-shaped description of one component's current
// state, ready to be codec-serialized as part of a render batch.
type RenderInfo struct {
	MethodName             MethodName `json:"methodName"`
	Label                  any        `json:"label"`
	Props                  any        `json:"props"`
	IsStateful             bool       `json:"isStateful"`
	IsOptional             bool       `json:"isOptional"`
	IsMultiple             bool       `json:"isMultiple"`
	ValidationErrorMessage *string    `json:"validationErrorMessage,omitempty"`
	MultipleProps          any        `json:"multipleProps,omitempty"`
}

// Handle is the non-generic surface the transaction engine drives every
// component through, regardless of its concrete Props/State/Return
// types. Generic[P, S, R] is the only implementation.
type Handle interface {
	MethodName() MethodName
	Label() string
	IsStateful() bool
	IsOptional() bool
	IsMultiple() bool

	// SetValidationErrorMessage attaches (or clears, with nil) the
	// message shown beneath the component on its next render.
	SetValidationErrorMessage(msg *string)

	// RenderInfo snapshots the component's current state for
	// inclusion in a render batch.
	RenderInfo() (RenderInfo, error)

	// HandleStateChange applies a SET_STATE update: it unmarshals raw
	// into the component's state type and invokes the registered
	// on-state-change callback, which typically mutates Props and
	// triggers a re-render.
	HandleStateChange(raw json.RawMessage) error

	// CheckValue unmarshals raw as a candidate return value and runs
	// the component's validator against it, without resolving
	// anything. It returns a non-empty message if the value is
	// considered invalid, or an error if raw could not be parsed at
	// all (always invalid, no validator invoked).
	CheckValue(raw json.RawMessage) (msg string, err error)

	// Resolve unmarshals raw (assumed already checked valid via
	// CheckValue) and completes the component's result with it.
	Resolve(raw json.RawMessage) error

	// Reject completes the component's result with an error, e.g. when
	// the transaction is canceled.
	Reject(err error)

	// Result returns a channel that is closed once Resolve or Reject
	// completes the component.
	Result() <-chan struct{}
}

// Validator runs the host-side business validation for one candidate
// return value, returning a human-readable message if invalid, or "" if
// valid.
type Validator[R any] func(value R) string

// Generic is a component parameterized over its Props, State and Return
// types. It satisfies Handle through the methods below; its State and
// Return generic parameters never appear in the Handle interface itself
// since Go cannot express a method whose signature varies with the
// implementing type the way handle_validation/set_state did in the
// original's pydantic.Generic-based Component.
type Generic[P, S, R any] struct {
	method MethodName
	label  string

	mu                     sync.Mutex
	props                  P
	state                  S
	isStateful             bool
	isOptional             bool
	isMultiple             bool
	validationErrorMessage *string
	multipleProps          *P
	validator              Validator[R]
	onStateChange          func()

	resolved bool
	done     chan struct{}
	value    R
	err      error
}

// New constructs a component in its initial (unresolved) state.
func New[P, S, R any](method MethodName, label string, props P) *Generic[P, S, R] {
	return &Generic[P, S, R]{
		method: method,
		label:  label,
		props:  props,
		done:   make(chan struct{}),
	}
}

// WithValidator attaches a business validator run against every
// candidate return value before it is accepted.
func (c *Generic[P, S, R]) WithValidator(v Validator[R]) *Generic[P, S, R] {
	c.mu.Lock()
	c.validator = v
	c.mu.Unlock()
	return c
}

// WithOnStateChange registers the callback invoked after a SET_STATE
// update has been applied; it typically reads State and mutates Props.
func (c *Generic[P, S, R]) WithOnStateChange(fn func()) *Generic[P, S, R] {
	c.mu.Lock()
	c.onStateChange = fn
	c.isStateful = true
	c.mu.Unlock()
	return c
}

// Optional allows the dashboard operator to submit no value at all.
func (c *Generic[P, S, R]) Optional() *Generic[P, S, R] {
	c.mu.Lock()
	c.isOptional = true
	c.mu.Unlock()
	return c
}

// Multiple turns this component into a repeatable group, rendered with
// multipleProps describing the template for each repetition.
func (c *Generic[P, S, R]) Multiple(multipleProps P) *Generic[P, S, R] {
	c.mu.Lock()
	c.isMultiple = true
	c.multipleProps = &multipleProps
	c.mu.Unlock()
	return c
}

// SetProps replaces this component's props, e.g. from within an
// on-state-change callback.
func (c *Generic[P, S, R]) SetProps(p P) {
	c.mu.Lock()
	c.props = p
	c.mu.Unlock()
}

// State returns the component's current state, zero-valued until a
// SET_STATE update has arrived.
func (c *Generic[P, S, R]) State() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Generic[P, S, R]) MethodName() MethodName { return c.method }
func (c *Generic[P, S, R]) Label() string           { return c.label }

func (c *Generic[P, S, R]) IsStateful() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStateful
}

func (c *Generic[P, S, R]) IsOptional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOptional
}

func (c *Generic[P, S, R]) IsMultiple() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isMultiple
}

func (c *Generic[P, S, R]) SetValidationErrorMessage(msg *string) {
	c.mu.Lock()
	c.validationErrorMessage = msg
	c.mu.Unlock()
}

func (c *Generic[P, S, R]) RenderInfo() (RenderInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var multipleProps any
	if c.multipleProps != nil {
		multipleProps = *c.multipleProps
	}

	return RenderInfo{
		MethodName:             c.method,
		Label:                  c.label,
		Props:                  c.props,
		IsStateful:             c.isStateful,
		IsOptional:             c.isOptional,
		IsMultiple:             c.isMultiple,
		ValidationErrorMessage: c.validationErrorMessage,
		MultipleProps:          multipleProps,
	}, nil
}

func (c *Generic[P, S, R]) HandleStateChange(raw json.RawMessage) error {
	var s S
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("component: unmarshal state for %s: %w", c.method, err)
	}

	c.mu.Lock()
	c.state = s
	onChange := c.onStateChange
	c.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return nil
}

// CheckValue parses raw into R and, if isMultiple, into []R instead;
// either way it reports the result through the single-value path's
// validator for simplicity, matching the original's practice of
// validating each element of a multiple-component submission
// independently before accepting the whole batch.
func (c *Generic[P, S, R]) CheckValue(raw json.RawMessage) (string, error) {
	c.mu.Lock()
	isMultiple := c.isMultiple
	isOptional := c.isOptional
	validator := c.validator
	c.mu.Unlock()

	if isOptional && string(raw) == "null" {
		return "", nil
	}

	if isMultiple {
		var values []R
		if err := json.Unmarshal(raw, &values); err != nil {
			return "", fmt.Errorf("component: unmarshal multiple return for %s: %w", c.method, err)
		}
		if validator != nil {
			for _, v := range values {
				if msg := validator(v); msg != "" {
					return msg, nil
				}
			}
		}
		return "", nil
	}

	var value R
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("component: unmarshal return for %s: %w", c.method, err)
	}
	if validator != nil {
		return validator(value), nil
	}
	return "", nil
}

func (c *Generic[P, S, R]) Resolve(raw json.RawMessage) error {
	c.mu.Lock()
	isOptional := c.isOptional
	c.mu.Unlock()

	if isOptional && string(raw) == "null" {
		return c.finish(*new(R), nil)
	}

	var value R
	if err := json.Unmarshal(raw, &value); err != nil {
		err = fmt.Errorf("component: unmarshal return for %s: %w", c.method, err)
		return c.finish(value, err)
	}
	return c.finish(value, nil)
}

func (c *Generic[P, S, R]) Reject(err error) {
	var zero R
	_ = c.finish(zero, err)
}

func (c *Generic[P, S, R]) finish(value R, err error) error {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return nil
	}
	c.resolved = true
	c.value = value
	c.err = err
	c.mu.Unlock()
	close(c.done)
	return nil
}

func (c *Generic[P, S, R]) Result() <-chan struct{} {
	return c.done
}

// Value returns the resolved return value and error. Callers must wait
// on Result() first.
func (c *Generic[P, S, R]) Value() (R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}
