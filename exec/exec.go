// Copyright 2025 The dgx authors
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

// Package exec defines the runtime surface the scheduler executes against:
// the execution context, assignments, and futures for asynchronous
// instructions.
package exec

type (
	// Value is an opaque runtime field value. The scheduler moves values
	// between instructions and the context without interpreting them.
	Value any

	// Context maps variable names to their runtime values. A context is
	// exclusively owned by the caller for the duration of one execution;
	// the scheduler inserts and deletes bindings but never retains the
	// context after returning.
	Context map[string]Value

	// Assignment is one (name, value) pair produced by an instruction.
	Assignment struct {
		Name  string
		Value Value
	}

	// Future is a pending asynchronous instruction outcome. The scheduler
	// polls Ready while other instructions run and calls Complete either
	// when Ready reports true or when no other instruction can make
	// progress, in which case Complete blocks.
	Future interface {
		// Ready reports whether Complete can finish without blocking.
		Ready() bool
		// Complete finishes the asynchronous operation, yielding its
		// assignments and any follow-up futures. A future is discarded
		// after completion.
		Complete() ([]Assignment, []Future, error)
	}

	// PreAssign is called with each (name, value) pair before it is
	// written to the context. Returning an error aborts the execution.
	PreAssign func(name string, value Value) error
)
