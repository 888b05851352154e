// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflowengine

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ryansmccoy/spine-core-sub007/internal/errs"
)

// evaluator compiles and caches expr-lang/expr programs for choice-step
// predicates and map-step item-extraction expressions. Grounded on the
// teacher's pkg/workflow/expression.Evaluator, generalized from a
// boolean-only evaluator to one that also returns arbitrary values for
// map-step item extraction.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newEvaluator() *evaluator {
	return &evaluator{cache: make(map[string]*vm.Program)}
}

func (e *evaluator) compile(src string, opts ...expr.Option) (*vm.Program, error) {
	e.mu.RLock()
	prog, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := expr.Compile(src, append([]expr.Option{expr.AllowUndefinedVariables()}, opts...)...)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryValidation, "workflowengine.evaluator.compile", "compile expression: "+src)
	}

	e.mu.Lock()
	e.cache[src] = prog
	e.mu.Unlock()
	return prog, nil
}

// evalBool evaluates src against env and requires a boolean result, used
// for choice-step predicates. An empty expression defaults to true.
func (e *evaluator) evalBool(src string, env map[string]any) (bool, error) {
	if src == "" {
		return true, nil
	}
	prog, err := e.compile(src, expr.AsBool())
	if err != nil {
		return false, err
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, errs.Wrap(err, errs.CategoryValidation, "workflowengine.evaluator.evalBool", "evaluate: "+src)
	}
	b, ok := result.(bool)
	if !ok {
		return false, errs.New(errs.CategoryValidation, "workflowengine.evaluator.evalBool",
			fmt.Sprintf("expression %q must return bool, got %T", src, result))
	}
	return b, nil
}

// evalItems evaluates src against env and requires a slice result, used
// for map-step item extraction.
func (e *evaluator) evalItems(src string, env map[string]any) ([]any, error) {
	prog, err := e.compile(src)
	if err != nil {
		return nil, err
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryValidation, "workflowengine.evaluator.evalItems", "evaluate: "+src)
	}

	// expr-lang/expr returns whatever concrete slice/array type the
	// expression produced (e.g. []string), not always []any, so items
	// are collected by reflection rather than a direct type assertion.
	v := reflect.ValueOf(result)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, errs.New(errs.CategoryValidation, "workflowengine.evaluator.evalItems",
			fmt.Sprintf("expression %q must return a list, got %T", src, result))
	}
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, nil
}
