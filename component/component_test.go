package component

import (
	"encoding/json"
	"testing"
	"time"
)

type textProps struct {
	Placeholder string `json:"placeholder,omitempty"`
}

func TestGeneric_RenderInfo_ReflectsInitialState(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{Placeholder: "Jane"})

	info, err := c.RenderInfo()
	if err != nil {
		t.Fatalf("RenderInfo: %v", err)
	}
	if info.MethodName != InputText {
		t.Errorf("MethodName = %q, want %q", info.MethodName, InputText)
	}
	if info.Label != "Name" {
		t.Errorf("Label = %v, want %q", info.Label, "Name")
	}
	props, ok := info.Props.(textProps)
	if !ok || props.Placeholder != "Jane" {
		t.Errorf("Props = %+v, want textProps{Placeholder: Jane}", info.Props)
	}
	if info.IsOptional || info.IsMultiple || info.IsStateful {
		t.Errorf("expected all flags false by default, got %+v", info)
	}
}

func TestGeneric_Optional_SetsFlag(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})
	c.Optional()
	if !c.IsOptional() {
		t.Error("expected IsOptional true after Optional()")
	}
}

func TestGeneric_Multiple_SetsFlagAndTemplate(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Names", textProps{})
	c.Multiple(textProps{Placeholder: "one per row"})

	if !c.IsMultiple() {
		t.Error("expected IsMultiple true after Multiple()")
	}
	info, err := c.RenderInfo()
	if err != nil {
		t.Fatalf("RenderInfo: %v", err)
	}
	props, ok := info.MultipleProps.(textProps)
	if !ok || props.Placeholder != "one per row" {
		t.Errorf("MultipleProps = %+v, want textProps{Placeholder: one per row}", info.MultipleProps)
	}
}

func TestGeneric_WithOnStateChange_MarksStateful(t *testing.T) {
	c := New[textProps, struct{ Query string }, string](Search, "Find", textProps{})
	c.WithOnStateChange(func() {})

	if !c.IsStateful() {
		t.Error("expected IsStateful true after WithOnStateChange")
	}
}

func TestGeneric_HandleStateChange_InvokesCallback(t *testing.T) {
	type state struct {
		Query string `json:"query"`
	}
	var seen string
	c := New[textProps, state, string](Search, "Find", textProps{})
	c.WithOnStateChange(func() {
		seen = c.State().Query
	})

	if err := c.HandleStateChange(json.RawMessage(`{"query":"widgets"}`)); err != nil {
		t.Fatalf("HandleStateChange: %v", err)
	}
	if seen != "widgets" {
		t.Errorf("callback saw query = %q, want %q", seen, "widgets")
	}
	if c.State().Query != "widgets" {
		t.Errorf("State().Query = %q, want %q", c.State().Query, "widgets")
	}
}

func TestGeneric_HandleStateChange_BadJSON(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})
	if err := c.HandleStateChange(json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error unmarshaling malformed state")
	}
}

func TestGeneric_CheckValue_RunsValidator(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})
	c.WithValidator(func(v string) string {
		if v == "" {
			return "required"
		}
		return ""
	})

	msg, err := c.CheckValue(json.RawMessage(`""`))
	if err != nil {
		t.Fatalf("CheckValue: %v", err)
	}
	if msg != "required" {
		t.Errorf("msg = %q, want %q", msg, "required")
	}

	msg, err = c.CheckValue(json.RawMessage(`"ok"`))
	if err != nil {
		t.Fatalf("CheckValue: %v", err)
	}
	if msg != "" {
		t.Errorf("msg = %q, want empty", msg)
	}
}

func TestGeneric_CheckValue_Optional_AcceptsNull(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})
	c.Optional()
	c.WithValidator(func(v string) string { return "should never run" })

	msg, err := c.CheckValue(json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("CheckValue: %v", err)
	}
	if msg != "" {
		t.Errorf("msg = %q, want empty for optional null", msg)
	}
}

func TestGeneric_CheckValue_Multiple_ValidatesEachElement(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Names", textProps{})
	c.Multiple(textProps{})
	c.WithValidator(func(v string) string {
		if v == "bad" {
			return "not allowed"
		}
		return ""
	})

	msg, err := c.CheckValue(json.RawMessage(`["ok","bad"]`))
	if err != nil {
		t.Fatalf("CheckValue: %v", err)
	}
	if msg != "not allowed" {
		t.Errorf("msg = %q, want %q", msg, "not allowed")
	}
}

func TestGeneric_CheckValue_MalformedAlwaysInvalid(t *testing.T) {
	c := New[textProps, struct{}, string](InputNumber, "Age", textProps{})
	if _, err := c.CheckValue(json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for malformed return value")
	}
}

func TestGeneric_Resolve_CompletesResult(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})

	if err := c.Resolve(json.RawMessage(`"Jane"`)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case <-c.Result():
	case <-time.After(time.Second):
		t.Fatal("Result() channel never closed after Resolve")
	}

	v, err := c.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "Jane" {
		t.Errorf("Value() = %q, want %q", v, "Jane")
	}
}

func TestGeneric_Resolve_Optional_AcceptsNull(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})
	c.Optional()

	if err := c.Resolve(json.RawMessage(`null`)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v, err := c.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "" {
		t.Errorf("Value() = %q, want zero value", v)
	}
}

func TestGeneric_Reject_CompletesResultWithError(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})
	want := errCanceled{}
	c.Reject(want)

	select {
	case <-c.Result():
	case <-time.After(time.Second):
		t.Fatal("Result() channel never closed after Reject")
	}

	_, err := c.Value()
	if err != want {
		t.Errorf("Value() err = %v, want %v", err, want)
	}
}

func TestGeneric_Finish_OnlyCompletesOnce(t *testing.T) {
	c := New[textProps, struct{}, string](InputText, "Name", textProps{})

	if err := c.Resolve(json.RawMessage(`"first"`)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c.Reject(errCanceled{})

	v, err := c.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "first" {
		t.Errorf("Value() = %q, want the first resolution to stick", v)
	}
}

type errCanceled struct{}

func (errCanceled) Error() string { return "canceled" }

func TestGeneric_SatisfiesHandle(t *testing.T) {
	var _ Handle = New[textProps, struct{}, string](InputText, "Name", textProps{})
}
