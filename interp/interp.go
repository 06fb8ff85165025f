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

// Package interp provides a host-side execution engine for compiled
// instruction streams, operating on scalars and float64 vectors.
//
// It is the reference implementation of compile.Engine; production
// backends supply their own kernels behind the same interface.
package interp

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dgx-org/dgx/compile"
	"github.com/dgx-org/dgx/discr"
	"github.com/dgx-org/dgx/exchange"
	"github.com/dgx-org/dgx/exec"
	"github.com/dgx-org/dgx/sym"
)

type (
	// Function evaluates a call against already-evaluated arguments.
	Function func(args []exec.Value) (exec.Value, error)

	// DiffFunc applies a batch of differential operators to one field,
	// returning one value per operator.
	DiffFunc func(ops []*sym.DiffOperator, field exec.Value) ([]exec.Value, error)

	// ApplyFunc applies a non-differential operator to a field.
	ApplyFunc func(op sym.Operator, field exec.Value) (exec.Value, error)

	// Engine executes one instruction stream against one context.
	// Create a fresh engine per execution.
	Engine struct {
		ctx       exec.Context
		cache     *discr.Cache
		transport exchange.Transport

		functions map[string]Function
		diff      DiffFunc
		applyOp   ApplyFunc
	}

	// Option configures an Engine.
	Option func(*Engine)
)

var _ compile.Engine = (*Engine)(nil)

// WithFunction registers a function implementation under its symbol name.
func WithFunction(name string, fn Function) Option {
	return func(e *Engine) {
		e.functions[name] = fn
	}
}

// WithDiff sets the batched differential-operator kernel.
func WithDiff(diff DiffFunc) Option {
	return func(e *Engine) {
		e.diff = diff
	}
}

// WithApply sets the kernel applying non-differential operators.
func WithApply(applyOp ApplyFunc) Option {
	return func(e *Engine) {
		e.applyOp = applyOp
	}
}

// WithTransport sets the transport backing exchange instructions.
func WithTransport(transport exchange.Transport) Option {
	return func(e *Engine) {
		e.transport = transport
	}
}

// New returns an engine executing against ctx, with values cached in the
// given discretization cache.
func New(cache *discr.Cache, ctx exec.Context, opts ...Option) *Engine {
	e := &Engine{
		ctx:       ctx,
		cache:     cache,
		functions: builtins(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func builtins() map[string]Function {
	fns := make(map[string]Function)
	for name, fn := range map[string]func(float64) float64{
		"sqrt": math.Sqrt,
		"exp":  math.Exp,
		"sin":  math.Sin,
		"cos":  math.Cos,
		"fabs": math.Abs,
	} {
		fns[name] = elementwise1(name, fn)
	}
	return fns
}

func elementwise1(name string, fn func(float64) float64) Function {
	return func(args []exec.Value) (exec.Value, error) {
		if len(args) != 1 {
			return nil, errors.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		switch arg := args[0].(type) {
		case float64:
			return fn(arg), nil
		case []float64:
			out := make([]float64, len(arg))
			for i, x := range arg {
				out[i] = fn(x)
			}
			return out, nil
		default:
			return nil, errors.Errorf("%s cannot be applied to %T", name, args[0])
		}
	}
}

// Context returns the execution context of the current run.
func (e *Engine) Context() exec.Context {
	return e.ctx
}

// CacheID identifies the discretization cache backing the engine.
func (e *Engine) CacheID() uuid.UUID {
	return e.cache.ID()
}

// EvalExpr evaluates a shallow expression against the context.
func (e *Engine) EvalExpr(expr sym.Node) (exec.Value, error) {
	return e.eval(expr, nil)
}

func (e *Engine) lookup(name string, locals map[string]exec.Value) (exec.Value, error) {
	if value, ok := locals[name]; ok {
		return value, nil
	}
	if value, ok := e.ctx[name]; ok {
		return value, nil
	}
	return nil, errors.Errorf("variable %q is not in the context", name)
}

func (e *Engine) eval(expr sym.Node, locals map[string]exec.Value) (exec.Value, error) {
	switch exprT := expr.(type) {
	case *sym.Variable:
		return e.lookup(exprT.Name, locals)
	case *sym.Subscript:
		value, err := e.lookup(exprT.Var.Name, locals)
		if err != nil {
			return nil, err
		}
		collection, ok := value.([]exec.Value)
		if !ok {
			return nil, errors.Errorf("cannot subscript %q: %T is not a collection", exprT.Var.Name, value)
		}
		if exprT.Index < 0 || exprT.Index >= len(collection) {
			return nil, errors.Errorf("index %d out of range for %q", exprT.Index, exprT.Var.Name)
		}
		return collection[exprT.Index], nil
	case *sym.Constant:
		return exprT.Value, nil
	case *sym.Sum:
		return e.evalNary(exprT.Terms, locals, func(a, b float64) float64 { return a + b })
	case *sym.Product:
		return e.evalNary(exprT.Factors, locals, func(a, b float64) float64 { return a * b })
	case *sym.Call:
		fn, ok := e.functions[exprT.Fn.Name]
		if !ok {
			return nil, errors.Errorf("no implementation registered for function %q", exprT.Fn.Name)
		}
		args := make([]exec.Value, len(exprT.Args))
		for i, arg := range exprT.Args {
			value, err := e.eval(arg, locals)
			if err != nil {
				return nil, err
			}
			args[i] = value
		}
		return fn(args)
	case *sym.OperatorBinding:
		if e.applyOp == nil {
			return nil, errors.Errorf("no kernel registered for operator %s", exprT.Op)
		}
		field, err := e.eval(exprT.Field, locals)
		if err != nil {
			return nil, err
		}
		return e.applyOp(exprT.Op, field)
	default:
		return nil, errors.Errorf("cannot evaluate %T", expr)
	}
}

func (e *Engine) evalNary(exprs []sym.Node, locals map[string]exec.Value, combine func(a, b float64) float64) (exec.Value, error) {
	values := make([]exec.Value, len(exprs))
	for i, expr := range exprs {
		value, err := e.eval(expr, locals)
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	acc := values[0]
	for _, value := range values[1:] {
		var err error
		acc, err = combineValues(acc, value, combine)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func combineValues(a, b exec.Value, combine func(a, b float64) float64) (exec.Value, error) {
	switch aT := a.(type) {
	case float64:
		switch bT := b.(type) {
		case float64:
			return combine(aT, bT), nil
		case []float64:
			out := make([]float64, len(bT))
			for i, x := range bT {
				out[i] = combine(aT, x)
			}
			return out, nil
		}
	case []float64:
		switch bT := b.(type) {
		case float64:
			out := make([]float64, len(aT))
			for i, x := range aT {
				out[i] = combine(x, bT)
			}
			return out, nil
		case []float64:
			if len(aT) != len(bT) {
				return nil, errors.Errorf("vector length mismatch: %d vs %d", len(aT), len(bT))
			}
			out := make([]float64, len(aT))
			for i, x := range aT {
				out[i] = combine(x, bT[i])
			}
			return out, nil
		}
	}
	return nil, errors.Errorf("cannot combine %T and %T", a, b)
}

// execAssign evaluates sub-assignments in order, with earlier siblings
// visible to later ones, and returns the entries to persist.
func (e *Engine) execAssign(a *compile.Assign) ([]exec.Assignment, []exec.Value, error) {
	locals := make(map[string]exec.Value, len(a.Names))
	values := make([]exec.Value, len(a.Names))
	var assignments []exec.Assignment
	for i, name := range a.Names {
		value, err := e.eval(a.Exprs[i], locals)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot evaluate assignment of %q", name)
		}
		locals[name] = value
		values[i] = value
		if !a.DoNotReturn[i] {
			assignments = append(assignments, exec.Assignment{Name: name, Value: value})
		}
	}
	return assignments, values, nil
}

// ExecAssign evaluates a plain assignment.
func (e *Engine) ExecAssign(a *compile.Assign) ([]exec.Assignment, []exec.Future, error) {
	assignments, _, err := e.execAssign(a)
	return assignments, nil, err
}

// ExecToDiscrScopedAssign evaluates the assignment and stores every value
// in the discretization cache as well as the context.
func (e *Engine) ExecToDiscrScopedAssign(a *compile.ToDiscrScopedAssign) ([]exec.Assignment, []exec.Future, error) {
	assignments, values, err := e.execAssign(&a.Assign)
	if err != nil {
		return nil, nil, err
	}
	for i, name := range a.Names {
		e.cache.Store(name, values[i])
	}
	return assignments, nil, nil
}

// ExecFromDiscrScopedAssign copies a cached value into the context.
func (e *Engine) ExecFromDiscrScopedAssign(a *compile.FromDiscrScopedAssign) ([]exec.Assignment, []exec.Future, error) {
	value, err := e.cache.Load(a.Name)
	if err != nil {
		return nil, nil, err
	}
	return []exec.Assignment{{Name: a.Name, Value: value}}, nil, nil
}

// ExecDiffBatchAssign applies the batched differential kernel.
func (e *Engine) ExecDiffBatchAssign(d *compile.DiffBatchAssign) ([]exec.Assignment, []exec.Future, error) {
	if e.diff == nil {
		return nil, nil, errors.Errorf("no differential kernel registered")
	}
	field, err := e.EvalExpr(d.Field)
	if err != nil {
		return nil, nil, err
	}
	values, err := e.diff(d.Operators, field)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != len(d.Names) {
		return nil, nil, errors.Errorf("differential kernel returned %d values for %d operators",
			len(values), len(d.Names))
	}
	assignments := make([]exec.Assignment, len(d.Names))
	for i, name := range d.Names {
		assignments[i] = exec.Assignment{Name: name, Value: values[i]}
	}
	return assignments, nil, nil
}

// ExecExchangeBatchAssign posts the argument fields to every involved rank
// and returns a future completing the receives. No assignment happens
// until the future completes.
func (e *Engine) ExecExchangeBatchAssign(x *compile.ExchangeBatchAssign) ([]exec.Assignment, []exec.Future, error) {
	if e.transport == nil {
		return nil, nil, errors.Errorf("no transport registered for exchange")
	}
	var sends []exchange.Send
	byRank := x.ReceivesByRank()
	ranks := make([]int, 0, len(byRank))
	for rank := range byRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	for _, rank := range ranks {
		for _, field := range x.ArgFields {
			value, err := e.lookup(field.Name, nil)
			if err != nil {
				return nil, nil, err
			}
			sends = append(sends, exchange.Send{Rank: rank, Field: field.Name, Value: value})
		}
	}
	future, err := exchange.Begin(e.transport, sends, x.Receives)
	if err != nil {
		return nil, nil, err
	}
	return nil, []exec.Future{future}, nil
}
