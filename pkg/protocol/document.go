package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// maxDocumentDepth bounds how deeply values may nest inside a document
const maxDocumentDepth = 1000

// Errors returned when a document cannot be encoded
var (
	ErrDocumentCycle   = errors.New("document contains a cycle")
	ErrDocumentTooDeep = errors.New("document nests too deeply")
)

// Document is an insertion-ordered JSON object. Structured tool output is
// built with it so clients see keys in the order the handler wrote them.
type Document struct {
	keys   []string
	values map[string]interface{}
}

// NewDocument creates an empty document
func NewDocument() *Document {
	return &Document{values: make(map[string]interface{})}
}

// Set stores value under key. Overwriting a key keeps its original position.
func (d *Document) Set(key string, value interface{}) *Document {
	if d.values == nil {
		d.values = make(map[string]interface{})
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get returns the value stored under key
func (d *Document) Get(key string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	return keys
}

// Len returns the number of keys
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Validate reports whether every value can be encoded as JSON
func (d *Document) Validate() error {
	_, err := d.MarshalJSON()
	return err
}

// MarshalJSON encodes the document with keys in insertion order. Documents
// that reach themselves through their values are rejected with
// ErrDocumentCycle.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	if err := walkAcyclic(reflect.ValueOf(d), make(map[visitKey]struct{}), 0); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(d.values[key])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

var (
	documentType  = reflect.TypeOf((*Document)(nil))
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// walkAcyclic follows v the way encoding/json would and fails if a pointer,
// map or slice is reached again while still being encoded. path holds the
// values on the current branch only, so shared acyclic values are allowed.
func walkAcyclic(v reflect.Value, path map[visitKey]struct{}, depth int) error {
	if depth > maxDocumentDepth {
		return ErrDocumentTooDeep
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkAcyclic(v.Elem(), path, depth)

	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() || (v.Kind() == reflect.Slice && v.Len() == 0) {
			return nil
		}
		key := visitKey{ptr: v.Pointer(), typ: v.Type()}
		if v.Kind() == reflect.Slice {
			key.len = v.Len()
		}
		if _, seen := path[key]; seen {
			return ErrDocumentCycle
		}
		path[key] = struct{}{}
		defer delete(path, key)

		if v.Type() == documentType && v.CanInterface() {
			doc := v.Interface().(*Document)
			for _, k := range doc.keys {
				if err := walkAcyclic(reflect.ValueOf(doc.values[k]), path, depth+1); err != nil {
					return fmt.Errorf("field %q: %w", k, err)
				}
			}
			return nil
		}
		if v.Type().Implements(marshalerType) {
			return nil
		}

		switch v.Kind() {
		case reflect.Pointer:
			return walkAcyclic(v.Elem(), path, depth+1)
		case reflect.Map:
			iter := v.MapRange()
			for iter.Next() {
				if err := walkAcyclic(iter.Value(), path, depth+1); err != nil {
					return err
				}
			}
			return nil
		default:
			return walkElements(v, path, depth)
		}

	case reflect.Array:
		return walkElements(v, path, depth)

	case reflect.Struct:
		if v.Type().Implements(marshalerType) {
			return nil
		}
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := walkAcyclic(v.Field(i), path, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkElements(v reflect.Value, path map[visitKey]struct{}, depth int) error {
	for i := 0; i < v.Len(); i++ {
		if err := walkAcyclic(v.Index(i), path, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalJSON decodes a JSON object preserving key order. Nested objects
// decode as *Document.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document must be a JSON object")
	}

	d.keys = nil
	d.values = make(map[string]interface{})

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}

		value, err := decodeDocumentValue(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		d.Set(key, value)
	}

	_, err = dec.Token()
	return err
}

func decodeDocumentValue(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		nested := NewDocument()
		if err := nested.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return nested, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
