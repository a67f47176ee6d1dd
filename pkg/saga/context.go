// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package saga

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ExecutionContext is the append-only, insertion-ordered payload carried by
// an Execution. Each executed step writes its output under the step's name;
// compensation reads those outputs back. The engine never interprets the
// stored values.
//
// Entries are write-once: an existing key is never overwritten, so an
// idempotent re-execution of a step cannot clobber the recorded output.
// ExecutionContext is not safe for concurrent use; exactly one worker
// drives a given execution at a time.
type ExecutionContext struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewExecutionContext creates an empty execution context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		values: make(map[string]json.RawMessage),
	}
}

// NewExecutionContextFromMap creates an execution context seeded with the
// given entries. Keys are inserted in sorted order so the initial context
// serializes deterministically.
func NewExecutionContextFromMap(initial map[string]any) (*ExecutionContext, error) {
	ec := NewExecutionContext()
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ec.Set(k, initial[k]); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

// Set records a value under the given name. The value is marshaled to JSON
// unless it already is a json.RawMessage. If the name is already present the
// existing entry is kept and Set is a no-op, preserving the write-once
// invariant.
func (ec *ExecutionContext) Set(name string, value any) error {
	if name == "" {
		return fmt.Errorf("context entry name must not be empty")
	}
	if _, exists := ec.values[name]; exists {
		return nil
	}

	var raw json.RawMessage
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal context entry %q: %w", name, err)
		}
		raw = data
	}

	ec.keys = append(ec.keys, name)
	ec.values[name] = raw
	return nil
}

// Get returns the raw value stored under name.
func (ec *ExecutionContext) Get(name string) (json.RawMessage, bool) {
	raw, ok := ec.values[name]
	return raw, ok
}

// Decode unmarshals the value stored under name into out. It returns an
// error if the entry is absent.
func (ec *ExecutionContext) Decode(name string, out any) error {
	raw, ok := ec.values[name]
	if !ok {
		return fmt.Errorf("context entry %q not found", name)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode context entry %q: %w", name, err)
	}
	return nil
}

// Has reports whether an entry exists under name.
func (ec *ExecutionContext) Has(name string) bool {
	_, ok := ec.values[name]
	return ok
}

// Keys returns the entry names in insertion order.
func (ec *ExecutionContext) Keys() []string {
	out := make([]string, len(ec.keys))
	copy(out, ec.keys)
	return out
}

// Len returns the number of entries.
func (ec *ExecutionContext) Len() int {
	return len(ec.keys)
}

// Clone returns a deep copy of the context.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	cp := &ExecutionContext{
		keys:   make([]string, len(ec.keys)),
		values: make(map[string]json.RawMessage, len(ec.values)),
	}
	copy(cp.keys, ec.keys)
	for k, v := range ec.values {
		raw := make(json.RawMessage, len(v))
		copy(raw, v)
		cp.values[k] = raw
	}
	return cp
}

// MarshalJSON serializes the context as a JSON object whose members appear
// in insertion order.
func (ec *ExecutionContext) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range ec.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(ec.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores the context from a JSON object, preserving the
// member order of the document.
func (ec *ExecutionContext) UnmarshalJSON(data []byte) error {
	ec.keys = nil
	ec.values = make(map[string]json.RawMessage)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("execution context must be a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("execution context key must be a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode context entry %q: %w", key, err)
		}

		if _, exists := ec.values[key]; !exists {
			ec.keys = append(ec.keys, key)
		}
		ec.values[key] = raw
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
