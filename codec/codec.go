// Package codec implements the payload codec adapter contract: a
// presentation-preserving JSON dialect (in the style of superjson) used
// to carry component props and return values over the wire without
// losing the distinction between, say, a Date and the ISO string that
// represents it.
//
// Every envelope is a {"json": ..., "meta": ...} pair. "json" is a
// plain, wire-safe JSON value. "meta" holds a "values" object mapping
// escaped dotted paths into that value (e.g. "rows.0.deletedAt") to a
// type tag ("Date", "set", "map", "regexp", "undefined", "number")
// telling the reader how to reinterpret the plain value the path points
// to.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Tag is a type annotation recorded in an Envelope's Meta.
type Tag string

const (
	TagDate      Tag = "Date"
	TagSet       Tag = "set"
	TagMap       Tag = "map"
	TagRegExp    Tag = "regexp"
	TagUndefined Tag = "undefined"
	TagNumber    Tag = "number" // NaN / Infinity / -Infinity
)

// Set marks a Go slice as representing a JS Set: serialized as a JSON
// array, annotated so the far end reconstructs it as a set.
type Set []any

// OrderedMap marks a Go value as representing a JS Map, whose keys may
// not be strings and whose iteration order matters. Go's native map
// type cannot express either, so callers needing Map semantics build
// one of these explicitly.
type OrderedMap struct {
	Keys   []any
	Values []any
}

// Undefined is a sentinel for the JS `undefined` value, distinct from
// JSON null. A struct field typed as Undefined is always serialized as
// null with a TagUndefined annotation.
type Undefined struct{}

// metaValues wraps the dotted-path tag map under a "values" key, the
// shape the dashboard's codec reader expects: {"meta": {"values": {...}}}
// rather than a bare map directly under "meta".
type metaValues struct {
	Values map[string]Tag `json:"values"`
}

// Envelope is the wire form of a codec-serialized value.
type Envelope struct {
	JSON json.RawMessage `json:"json"`
	Meta map[string]Tag  `json:"-"`
}

// MarshalJSON nests Meta under "meta":{"values": ...}, matching the
// dashboard's documented {json, meta.values} codec envelope shape.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSON json.RawMessage `json:"json"`
		Meta *metaValues     `json:"meta,omitempty"`
	}
	w := wire{JSON: e.JSON}
	if len(e.Meta) > 0 {
		w.Meta = &metaValues{Values: e.Meta}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reverses MarshalJSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w struct {
		JSON json.RawMessage `json:"json"`
		Meta *metaValues     `json:"meta,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.JSON = w.JSON
	if w.Meta != nil {
		e.Meta = w.Meta.Values
	} else {
		e.Meta = nil
	}
	return nil
}

// Codec serializes Go values into Envelopes and back. The zero value of
// Default is ready to use.
type Codec interface {
	Serialize(value any) (Envelope, error)
	Deserialize(env Envelope, out any) error
}

// Default is the reflect-based Codec implementation used throughout the
// SDK for component props, state and return values.
type Default struct{}

// Serialize walks value with reflection, producing a plain-JSON tree
// plus the meta annotations needed to recover any Date/Set/Map/regexp/
// undefined/number-special values it contained.
func (Default) Serialize(value any) (Envelope, error) {
	meta := make(map[string]Tag)
	plain, err := serializeValue("", reflect.ValueOf(value), meta)
	if err != nil {
		return Envelope{}, fmt.Errorf("codec: serialize: %w", err)
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return Envelope{}, fmt.Errorf("codec: marshal plain value: %w", err)
	}

	return Envelope{JSON: data, Meta: meta}, nil
}

// Deserialize reverses Serialize: it reconstructs the annotated special
// values from env.Meta, then unmarshals the result into out.
func (Default) Deserialize(env Envelope, out any) error {
	var plain any
	if len(env.JSON) > 0 {
		if err := json.Unmarshal(env.JSON, &plain); err != nil {
			return fmt.Errorf("codec: unmarshal envelope json: %w", err)
		}
	}

	reconstructed, err := applyMeta("", plain, env.Meta)
	if err != nil {
		return fmt.Errorf("codec: apply meta: %w", err)
	}

	data, err := json.Marshal(reconstructed)
	if err != nil {
		return fmt.Errorf("codec: remarshal reconstructed value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("codec: unmarshal into target: %w", err)
	}
	return nil
}

func serializeValue(path string, rv reflect.Value, meta map[string]Tag) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	switch v := rv.Interface().(type) {
	case Undefined:
		meta[path] = TagUndefined
		return nil, nil
	case time.Time:
		meta[path] = TagDate
		return v.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	case *regexp.Regexp:
		if v == nil {
			return nil, nil
		}
		meta[path] = TagRegExp
		return v.String(), nil
	case Set:
		meta[path] = TagSet
		out := make([]any, len(v))
		for i, el := range v {
			child, err := serializeValue(joinPath(path, strconv.Itoa(i)), reflect.ValueOf(el), meta)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	case OrderedMap:
		meta[path] = TagMap
		entries := make([]any, len(v.Keys))
		for i := range v.Keys {
			k, err := serializeValue(joinPath(path, fmt.Sprintf("%d.0", i)), reflect.ValueOf(v.Keys[i]), meta)
			if err != nil {
				return nil, err
			}
			val, err := serializeValue(joinPath(path, fmt.Sprintf("%d.1", i)), reflect.ValueOf(v.Values[i]), meta)
			if err != nil {
				return nil, err
			}
			entries[i] = []any{k, val}
		}
		return entries, nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return serializeValue(path, rv.Elem(), meta)

	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			meta[path] = TagNumber
			return "NaN", nil
		}
		if math.IsInf(f, 1) {
			meta[path] = TagNumber
			return "Infinity", nil
		}
		if math.IsInf(f, -1) {
			meta[path] = TagNumber
			return "-Infinity", nil
		}
		return f, nil

	case reflect.Struct:
		out := make(map[string]any)
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported
			}
			name, omitempty, skip := jsonFieldName(field)
			if skip {
				continue
			}
			fv := rv.Field(i)
			if omitempty && isEmptyValue(fv) {
				continue
			}
			child, err := serializeValue(joinPath(path, name), fv, meta)
			if err != nil {
				return nil, err
			}
			out[name] = child
		}
		return out, nil

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			child, err := serializeValue(joinPath(path, key), iter.Value(), meta)
			if err != nil {
				return nil, err
			}
			out[key] = child
		}
		return out, nil

	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			child, err := serializeValue(joinPath(path, strconv.Itoa(i)), rv.Index(i), meta)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil

	default:
		return rv.Interface(), nil
	}
}

func applyMeta(path string, value any, meta map[string]Tag) (any, error) {
	switch m := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			child, err := applyMeta(joinPath(path, k), v, meta)
			if err != nil {
				return nil, err
			}
			out[k] = child
		}
		value = out
	case []any:
		out := make([]any, len(m))
		for i, v := range m {
			child, err := applyMeta(joinPath(path, strconv.Itoa(i)), v, meta)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		value = out
	}

	tag, ok := meta[path]
	if !ok {
		return value, nil
	}

	switch tag {
	case TagUndefined:
		return nil, nil
	case TagDate:
		s, _ := value.(string)
		return s, nil // target field (time.Time) parses RFC3339 natively
	case TagRegExp:
		s, _ := value.(string)
		return s, nil
	case TagNumber:
		s, _ := value.(string)
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return value, nil
	case TagSet, TagMap:
		return value, nil
	default:
		return value, nil
	}
}

// joinPath appends name to path, escaping any literal "." in name so
// the dotted-path encoding stays unambiguous.
func joinPath(path, name string) string {
	escaped := strings.ReplaceAll(name, ".", `\.`)
	if path == "" {
		return escaped
	}
	return path + "." + escaped
}

func jsonFieldName(field reflect.StructField) (name string, omitempty bool, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = field.Name
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}
