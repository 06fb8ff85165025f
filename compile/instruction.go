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

// Package compile lowers symbolic operator expressions into schedulable
// instruction streams and executes them against a runtime engine.
package compile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	basefmt "github.com/dgx-org/dgx/base/fmt"
	"github.com/dgx-org/dgx/exchange"
	"github.com/dgx-org/dgx/exec"
	"github.com/dgx-org/dgx/sym"
)

type (
	// Instruction is one schedulable unit of computation. An instruction
	// never assigns a name it also depends on, and no two instructions of
	// one Code object assign the same name.
	Instruction interface {
		fmt.Stringer

		// Assignees returns the names the instruction writes.
		Assignees() []string
		// Dependencies returns the names of the variables that must be
		// present in the context before the instruction can run.
		Dependencies() []string
		// Priority orders otherwise tied instructions; higher runs sooner.
		Priority() int
		// Execute runs the instruction against the engine, returning the
		// produced assignments and any futures it started.
		Execute(Engine) ([]exec.Assignment, []exec.Future, error)
	}

	// Engine binds instructions to the runtime methods that perform them.
	// Implementations own the numeric kernels; this package only
	// sequences calls into them.
	Engine interface {
		// Context returns the execution context of the current run.
		Context() exec.Context
		// CacheID identifies the discretization cache backing the engine.
		CacheID() uuid.UUID
		// EvalExpr evaluates a shallow expression against the context.
		EvalExpr(expr sym.Node) (exec.Value, error)

		ExecAssign(*Assign) ([]exec.Assignment, []exec.Future, error)
		ExecToDiscrScopedAssign(*ToDiscrScopedAssign) ([]exec.Assignment, []exec.Future, error)
		ExecFromDiscrScopedAssign(*FromDiscrScopedAssign) ([]exec.Assignment, []exec.Future, error)
		ExecDiffBatchAssign(*DiffBatchAssign) ([]exec.Assignment, []exec.Future, error)
		ExecExchangeBatchAssign(*ExchangeBatchAssign) ([]exec.Assignment, []exec.Future, error)
	}
)

// Assign evaluates an ordered list of (name, expression) pairs together.
// Entries flagged do-not-return are computed only to satisfy a sibling
// in the same instruction and are not written to the context.
type Assign struct {
	Names       []string
	Exprs       []sym.Node
	DoNotReturn []bool

	priority int
	deps     []string
}

// NewAssign returns an assignment of the given expressions to the given names.
func NewAssign(names []string, exprs []sym.Node, priority int) *Assign {
	return &Assign{
		Names:       names,
		Exprs:       exprs,
		DoNotReturn: make([]bool, len(names)),
		priority:    priority,
	}
}

// Assignees returns the assigned names.
func (a *Assign) Assignees() []string {
	return a.Names
}

// Dependencies returns the free variables of the expressions, minus the
// instruction's own assignees.
func (a *Assign) Dependencies() []string {
	if a.deps == nil {
		a.deps = assignDeps(a.Names, a.Exprs)
	}
	return a.deps
}

func assignDeps(names []string, exprs []sym.Node) []string {
	deps := []string{}
	for dep := range sym.Deps(exprs...).Iter() {
		if !slices.Contains(names, dep) {
			deps = append(deps, dep)
		}
	}
	return deps
}

// Priority of the assignment.
func (a *Assign) Priority() int {
	return a.priority
}

// FlopCount returns the number of arithmetic operations the assignment
// performs. Zero-cost assignments are exempt from aggregation.
func (a *Assign) FlopCount() int {
	count := 0
	for _, expr := range a.Exprs {
		count += flops(expr)
	}
	return count
}

func flops(expr sym.Node) int {
	switch exprT := expr.(type) {
	case *sym.Sum:
		count := len(exprT.Terms) - 1
		for _, term := range exprT.Terms {
			count += flops(term)
		}
		return count
	case *sym.Product:
		count := len(exprT.Factors) - 1
		for _, factor := range exprT.Factors {
			count += flops(factor)
		}
		return count
	case *sym.Call:
		count := 0
		for _, arg := range exprT.Args {
			count += flops(arg)
		}
		return count
	case *sym.OperatorBinding:
		return flops(exprT.Field)
	case *sym.CommonSubexpression:
		return flops(exprT.Child)
	default:
		return 0
	}
}

func (a *Assign) strings(scopeIndicator string) []string {
	lines := make([]string, len(a.Names))
	for i, name := range a.Names {
		dnr := ""
		if a.DoNotReturn[i] {
			dnr = "-#"
		}
		lines[i] = fmt.Sprintf("%s <%s-%s %s", name, dnr, scopeIndicator, a.Exprs[i])
	}
	return lines
}

func (a *Assign) String() string {
	return basefmt.Block(a.strings(""))
}

// Execute evaluates the assignment on the engine.
func (a *Assign) Execute(engine Engine) ([]exec.Assignment, []exec.Future, error) {
	return engine.ExecAssign(a)
}

// ToDiscrScopedAssign is an assignment whose values are also written into
// the discretization-owned cache, persisting across compilations.
type ToDiscrScopedAssign struct {
	Assign
}

// NewToDiscrScopedAssign returns a discretization-scoped assignment.
func NewToDiscrScopedAssign(names []string, exprs []sym.Node, priority int) *ToDiscrScopedAssign {
	return &ToDiscrScopedAssign{Assign: *NewAssign(names, exprs, priority)}
}

func (a *ToDiscrScopedAssign) String() string {
	return basefmt.Block(a.strings("(to discr)-"))
}

// Execute evaluates the assignment and stores the values in the
// discretization cache.
func (a *ToDiscrScopedAssign) Execute(engine Engine) ([]exec.Assignment, []exec.Future, error) {
	return engine.ExecToDiscrScopedAssign(a)
}

// FromDiscrScopedAssign copies a named value from the discretization cache
// into the evaluation context. It depends on nothing locally.
type FromDiscrScopedAssign struct {
	Name string

	priority int
}

// NewFromDiscrScopedAssign returns a read of a discretization-scoped name.
func NewFromDiscrScopedAssign(name string, priority int) *FromDiscrScopedAssign {
	return &FromDiscrScopedAssign{Name: name, priority: priority}
}

// Assignees returns the single copied name.
func (a *FromDiscrScopedAssign) Assignees() []string {
	return []string{a.Name}
}

// Dependencies returns no names: the value comes from the cache, not the context.
func (a *FromDiscrScopedAssign) Dependencies() []string {
	return nil
}

// Priority of the read.
func (a *FromDiscrScopedAssign) Priority() int {
	return a.priority
}

func (a *FromDiscrScopedAssign) String() string {
	return fmt.Sprintf("%s <-(from discr)", a.Name)
}

// Execute copies the value out of the discretization cache.
func (a *FromDiscrScopedAssign) Execute(engine Engine) ([]exec.Assignment, []exec.Future, error) {
	return engine.ExecFromDiscrScopedAssign(a)
}

// DiffBatchAssign applies several differential operators to one field in a
// single batched kernel call. All operators are equal except for their
// reference axis; Names holds the per-axis results.
type DiffBatchAssign struct {
	Names     []string
	Operators []*sym.DiffOperator
	Field     sym.Node

	priority int
	deps     []string
}

// NewDiffBatchAssign returns a batched differential-operator assignment.
func NewDiffBatchAssign(names []string, operators []*sym.DiffOperator, field sym.Node, priority int) *DiffBatchAssign {
	return &DiffBatchAssign{Names: names, Operators: operators, Field: field, priority: priority}
}

// Assignees returns the per-axis result names.
func (d *DiffBatchAssign) Assignees() []string {
	return d.Names
}

// Dependencies returns the free variables of the field expression.
func (d *DiffBatchAssign) Dependencies() []string {
	if d.deps == nil {
		d.deps = assignDeps(nil, []sym.Node{d.Field})
	}
	return d.deps
}

// Priority of the batch.
func (d *DiffBatchAssign) Priority() int {
	return d.priority
}

func (d *DiffBatchAssign) String() string {
	lines := make([]string, len(d.Names))
	for i, name := range d.Names {
		lines[i] = fmt.Sprintf("%s <- %s(%s)", name, d.Operators[i], d.Field)
	}
	return basefmt.Block(lines)
}

// Execute runs the batched kernel on the engine.
func (d *DiffBatchAssign) Execute(engine Engine) ([]exec.Assignment, []exec.Future, error) {
	return engine.ExecDiffBatchAssign(d)
}

// ExchangeBatchAssign starts an asynchronous cross-partition exchange: the
// argument fields are sent out and each receive lands in its local name
// once the remote data arrives. Exchanges run at a raised priority so the
// communication overlaps as much local work as possible.
type ExchangeBatchAssign struct {
	Receives  []exchange.Receive
	ArgFields []*sym.Variable

	deps []string
}

// ExchangePriority is the scheduling priority of exchange instructions.
const ExchangePriority = 1

// NewExchangeBatchAssign returns a batched exchange assignment.
func NewExchangeBatchAssign(receives []exchange.Receive, argFields []*sym.Variable) *ExchangeBatchAssign {
	return &ExchangeBatchAssign{Receives: receives, ArgFields: argFields}
}

// Assignees returns the names receiving remote values.
func (e *ExchangeBatchAssign) Assignees() []string {
	names := make([]string, len(e.Receives))
	for i, recv := range e.Receives {
		names[i] = recv.Name
	}
	return names
}

// Dependencies returns the locally-known argument field names to send.
func (e *ExchangeBatchAssign) Dependencies() []string {
	if e.deps == nil {
		exprs := make([]sym.Node, len(e.ArgFields))
		for i, field := range e.ArgFields {
			exprs[i] = field
		}
		e.deps = assignDeps(nil, exprs)
	}
	return e.deps
}

// Priority of the exchange.
func (e *ExchangeBatchAssign) Priority() int {
	return ExchangePriority
}

// ReceivesByRank groups the receives per remote rank, the granularity at
// which the transport layer operates.
func (e *ExchangeBatchAssign) ReceivesByRank() map[int][]exchange.Receive {
	byRank := make(map[int][]exchange.Receive)
	for _, recv := range e.Receives {
		byRank[recv.Rank] = append(byRank[recv.Rank], recv)
	}
	return byRank
}

func (e *ExchangeBatchAssign) String() string {
	args := make([]string, len(e.ArgFields))
	for i, field := range e.ArgFields {
		args[i] = field.Name
	}
	lines := make([]string, len(e.Receives))
	for i, recv := range e.Receives {
		lines[i] = fmt.Sprintf("%s <- receive index %d from rank %d [%s]",
			recv.Name, recv.Index, recv.Rank, strings.Join(args, ", "))
	}
	return basefmt.Block(lines)
}

// Execute starts the exchange on the engine.
func (e *ExchangeBatchAssign) Execute(engine Engine) ([]exec.Assignment, []exec.Future, error) {
	return engine.ExecExchangeBatchAssign(e)
}
