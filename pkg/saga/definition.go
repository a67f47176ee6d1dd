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
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Step defines one unit of forward work and its inverse. Execute must be
// safe to call more than once with the same idempotency key (the downstream
// service deduplicates); Compensate must be safe to call zero or more times.
// Both read from and Execute's output is merged back into the shared
// ExecutionContext under the step's name.
type Step interface {
	// Name returns the step's unique name within its Definition.
	Name() string

	// Execute performs the forward action against an external collaborator
	// and returns the output to record under the step's name.
	Execute(ctx context.Context, ec *ExecutionContext, idempotencyKey string) (json.RawMessage, error)

	// Compensate semantically undoes a previously executed forward action.
	Compensate(ctx context.Context, ec *ExecutionContext, idempotencyKey string) error
}

// IdempotencyKeyFunc derives the stable key tagged onto every collaborator
// call for a given (execution, step) pair. Retries and crash-recovery
// re-invocations reuse the same key so downstream services can deduplicate.
type IdempotencyKeyFunc func(sagaID, stepName string) string

// DefaultIdempotencyKey joins the execution ID and step name.
func DefaultIdempotencyKey(sagaID, stepName string) string {
	return sagaID + ":" + stepName
}

// StepFuncs adapts plain functions to the Step interface. A nil
// CompensateFunc yields a no-op compensation, which is appropriate for a
// final step whose success is never unwound.
type StepFuncs struct {
	StepName       string
	ExecuteFunc    func(ctx context.Context, ec *ExecutionContext, idempotencyKey string) (json.RawMessage, error)
	CompensateFunc func(ctx context.Context, ec *ExecutionContext, idempotencyKey string) error
}

// Name returns the step name.
func (s *StepFuncs) Name() string { return s.StepName }

// Execute invokes ExecuteFunc.
func (s *StepFuncs) Execute(ctx context.Context, ec *ExecutionContext, idempotencyKey string) (json.RawMessage, error) {
	if s.ExecuteFunc == nil {
		return nil, fmt.Errorf("step %q has no execute function", s.StepName)
	}
	return s.ExecuteFunc(ctx, ec, idempotencyKey)
}

// Compensate invokes CompensateFunc, or does nothing if none is set.
func (s *StepFuncs) Compensate(ctx context.Context, ec *ExecutionContext, idempotencyKey string) error {
	if s.CompensateFunc == nil {
		return nil
	}
	return s.CompensateFunc(ctx, ec, idempotencyKey)
}

// Definition is an ordered, immutable sequence of named steps for one saga
// type. Definitions are built once at process start and never mutated at
// runtime.
type Definition struct {
	sagaType string
	steps    []Step
	keyFn    IdempotencyKeyFunc
}

// SagaType returns the type name this definition describes.
func (d *Definition) SagaType() string { return d.sagaType }

// Steps returns the steps in execution order. The returned slice is a copy;
// the definition itself stays immutable.
func (d *Definition) Steps() []Step {
	out := make([]Step, len(d.steps))
	copy(out, d.steps)
	return out
}

// StepCount returns the number of steps.
func (d *Definition) StepCount() int { return len(d.steps) }

// StepAt returns the step at the given index.
func (d *Definition) StepAt(index int) (Step, error) {
	if index < 0 || index >= len(d.steps) {
		return nil, fmt.Errorf("step index %d out of range [0,%d)", index, len(d.steps))
	}
	return d.steps[index], nil
}

// IdempotencyKey derives the key for one step of one execution.
func (d *Definition) IdempotencyKey(sagaID string, step Step) string {
	return d.keyFn(sagaID, step.Name())
}

// DefinitionBuilder assembles a Definition from an explicit ordered list of
// steps.
type DefinitionBuilder struct {
	sagaType string
	steps    []Step
	keyFn    IdempotencyKeyFunc
	err      error
}

// NewDefinitionBuilder starts a builder for the given saga type.
func NewDefinitionBuilder(sagaType string) *DefinitionBuilder {
	return &DefinitionBuilder{sagaType: sagaType, keyFn: DefaultIdempotencyKey}
}

// AddStep appends a step. Steps execute in the order they are added.
func (b *DefinitionBuilder) AddStep(step Step) *DefinitionBuilder {
	if b.err != nil {
		return b
	}
	if step == nil {
		b.err = fmt.Errorf("saga %q: step must not be nil", b.sagaType)
		return b
	}
	if step.Name() == "" {
		b.err = fmt.Errorf("saga %q: step name must not be empty", b.sagaType)
		return b
	}
	for _, existing := range b.steps {
		if existing.Name() == step.Name() {
			b.err = fmt.Errorf("saga %q: duplicate step name %q", b.sagaType, step.Name())
			return b
		}
	}
	b.steps = append(b.steps, step)
	return b
}

// WithIdempotencyKeyFunc overrides the default key derivation.
func (b *DefinitionBuilder) WithIdempotencyKeyFunc(fn IdempotencyKeyFunc) *DefinitionBuilder {
	if b.err == nil && fn != nil {
		b.keyFn = fn
	}
	return b
}

// Build validates and returns the immutable Definition.
func (b *DefinitionBuilder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.sagaType == "" {
		return nil, fmt.Errorf("saga type must not be empty")
	}
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("saga %q: definition requires at least one step", b.sagaType)
	}
	steps := make([]Step, len(b.steps))
	copy(steps, b.steps)
	return &Definition{sagaType: b.sagaType, steps: steps, keyFn: b.keyFn}, nil
}

// Registry maps saga types to their definitions. Registration happens at
// process start; lookups are concurrent-safe.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Registering the same saga type twice is an
// error; definitions are immutable once published.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.SagaType()]; exists {
		return fmt.Errorf("saga type %q already registered", def.SagaType())
	}
	r.defs[def.SagaType()] = def
	return nil
}

// Get returns the definition for a saga type.
func (r *Registry) Get(sagaType string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[sagaType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSagaTypeNotRegistered, sagaType)
	}
	return def, nil
}

// Types returns the registered saga type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	return out
}
