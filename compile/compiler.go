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

package compile

import (
	"github.com/pkg/errors"

	"github.com/dgx-org/dgx/base/ordered"
	"github.com/dgx-org/dgx/base/uname"
	"github.com/dgx-org/dgx/discr"
	"github.com/dgx-org/dgx/sym"
)

// ErrUnsupported signals an expression shape the compiler has no lowering
// rule for. Compilation aborts immediately.
var ErrUnsupported = errors.New("unsupported expression")

type (
	// Compiler lowers an operator expression tree into two instruction
	// streams: one computing discretization-scoped values shared across
	// compilations, one evaluated on every execution.
	Compiler struct {
		cache *discr.Cache

		prefix            string
		maxVectorsInBatch int
		aggregate         bool

		names *uname.Unique

		discrCode             []Instruction
		discrScopeNamesCopied *ordered.Set[string]
		evalCode              []Instruction
		exprToVar             map[string]sym.Node
		diffBindings          []*sym.OperatorBinding
	}

	// Option configures a Compiler.
	Option func(*Compiler)

	// codegenState is threaded through every rewrite call; it selects the
	// instruction stream the current subexpression lowers into.
	codegenState struct {
		generatingDiscrCode bool
	}
)

// WithPrefix sets the base name of compiler-generated temporaries.
func WithPrefix(prefix string) Option {
	return func(c *Compiler) {
		c.prefix = prefix
	}
}

// WithMaxVectorsInBatch bounds the combined assignee and dependency count
// of instructions produced by the aggregation pass. Zero means unbounded.
func WithMaxVectorsInBatch(max int) Option {
	return func(c *Compiler) {
		c.maxVectorsInBatch = max
	}
}

// WithoutAggregation disables the assignment-aggregation pass on the
// evaluation stream.
func WithoutAggregation() Option {
	return func(c *Compiler) {
		c.aggregate = false
	}
}

// New returns a compiler bound to a discretization cache.
func New(cache *discr.Cache, opts ...Option) *Compiler {
	c := &Compiler{
		cache:     cache,
		prefix:    "expr",
		aggregate: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (s codegenState) codeList(c *Compiler) *[]Instruction {
	if s.generatingDiscrCode {
		return &c.discrCode
	}
	return &c.evalCode
}

// Compile lowers expr, returning the discretization-scoped Code and the
// evaluation-scoped Code. The discretization Code must execute once per
// discretization lifetime before the evaluation Code runs; its results are
// the values it computes itself, which can be fewer than the names the
// evaluation Code reads when earlier compilations already populated the
// cache.
func (c *Compiler) Compile(expr sym.Node) (*Code, *Code, error) {
	c.names = uname.New()
	// Generated temporaries must not shadow input variables.
	for name := range sym.Deps(expr).Iter() {
		c.names.Register(name)
	}
	c.discrCode = nil
	c.discrScopeNamesCopied = ordered.NewSet[string]()
	c.evalCode = nil
	c.exprToVar = make(map[string]sym.Node)

	// Results are cached like any other subexpression.
	expr = sym.CSE(expr, "_result")

	c.diffBindings = sym.CollectDiffBindings(expr)

	result, err := c.rec(expr, codegenState{generatingDiscrCode: false})
	if err != nil {
		return nil, nil, err
	}

	var discrResults []sym.Node
	for _, insn := range c.discrCode {
		for _, name := range insn.Assignees() {
			discrResults = append(discrResults, sym.Var(name))
		}
	}

	evalCode := c.evalCode
	if c.aggregate {
		evalCode, err = c.aggregateAssignments(evalCode, result)
		if err != nil {
			return nil, nil, err
		}
	}

	setup := NewCode(c.discrCode, discrResults)
	setup.cacheID = c.cache.ID()
	run := NewCode(evalCode, []sym.Node{result})
	run.cacheID = c.cache.ID()
	return setup, run, nil
}

func (c *Compiler) rec(expr sym.Node, state codegenState) (sym.Node, error) {
	switch exprT := expr.(type) {
	case *sym.Variable, *sym.Subscript, *sym.Constant:
		return expr, nil
	case *sym.Sum:
		terms, err := c.recAll(exprT.Terms, state)
		if err != nil {
			return nil, err
		}
		return &sym.Sum{Terms: terms}, nil
	case *sym.Product:
		factors, err := c.recAll(exprT.Factors, state)
		if err != nil {
			return nil, err
		}
		return &sym.Product{Factors: factors}, nil
	case *sym.Call:
		return c.mapCall(exprT, state)
	case *sym.OperatorBinding:
		return c.mapOperatorBinding(exprT, state, "")
	case *sym.CommonSubexpression:
		return c.mapCommonSubexpression(exprT, state)
	default:
		return nil, errors.Wrapf(ErrUnsupported, "no lowering rule for %T", expr)
	}
}

func (c *Compiler) recAll(exprs []sym.Node, state codegenState) ([]sym.Node, error) {
	rec := make([]sym.Node, len(exprs))
	for i, expr := range exprs {
		var err error
		rec[i], err = c.rec(expr, state)
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// assignToNewVar forces expr into its own assignment and returns the
// variable referencing it. Only bare variable and indexed-variable
// references may appear as operands inside composed expressions; anything
// else goes through here, keeping every instruction's expressions shallow.
func (c *Compiler) assignToNewVar(expr sym.Node, state codegenState, priority int, prefix string) sym.Node {
	switch expr.(type) {
	case *sym.Variable, *sym.Subscript:
		return expr
	}
	if prefix == "" {
		prefix = c.prefix
	}
	name := c.names.Name(prefix)
	codeList := state.codeList(c)
	*codeList = append(*codeList, NewAssign([]string{name}, []sym.Node{expr}, priority))
	return sym.Var(name)
}

func (c *Compiler) mapCall(expr *sym.Call, state codegenState) (sym.Node, error) {
	if expr.Fn.Primitive {
		args, err := c.recAll(expr.Args, state)
		if err != nil {
			return nil, err
		}
		return &sym.Call{Fn: expr.Fn, Args: args}, nil
	}
	// Calls outside the numeric-kernel primitive set must not get muddled
	// up into vector math: normalize every argument, then the call itself.
	args := make([]sym.Node, len(expr.Args))
	for i, arg := range expr.Args {
		rec, err := c.rec(arg, state)
		if err != nil {
			return nil, err
		}
		args[i] = c.assignToNewVar(rec, state, 0, "")
	}
	return c.assignToNewVar(&sym.Call{Fn: expr.Fn, Args: args}, state, 0, ""), nil
}

func (c *Compiler) mapOperatorBinding(expr *sym.OperatorBinding, state codegenState, nameHint string) (sym.Node, error) {
	if _, isDiff := expr.Op.(*sym.DiffOperator); isDiff {
		return c.mapDiffOpBinding(expr, state)
	}
	// Operator applications stand alone: normalize the field first, then
	// bind the operator to the resulting reference.
	field, err := c.rec(expr.Field, state)
	if err != nil {
		return nil, err
	}
	fieldVar := c.assignToNewVar(field, state, 0, "")
	return c.assignToNewVar(sym.Bind(expr.Op, fieldVar), state, 0, nameHint), nil
}

// mapDiffOpBinding lowers a differential-operator binding. The first
// encounter of any group member lowers the whole group as one batched
// instruction; later encounters are satisfied from the cache.
func (c *Compiler) mapDiffOpBinding(expr *sym.OperatorBinding, state codegenState) (sym.Node, error) {
	if v, ok := c.exprToVar[sym.Key(expr)]; ok {
		return v, nil
	}

	op := expr.Op.(*sym.DiffOperator)
	fieldKey := sym.Key(expr.Field)
	var group []*sym.OperatorBinding
	for _, binding := range c.diffBindings {
		if op.EqualExceptForAxis(binding.Op) && sym.Key(binding.Field) == fieldKey {
			group = append(group, binding)
		}
	}
	if len(group) == 0 {
		// The pre-scan missed the binding: it was built after collection.
		return nil, errors.Wrapf(ErrUnsupported, "differential operator %s was not collected", expr)
	}

	operators := make([]*sym.DiffOperator, len(group))
	names := make([]string, len(group))
	for i, binding := range group {
		groupOp := binding.Op.(*sym.DiffOperator)
		if groupOp.Axis < 0 || groupOp.Axis >= c.cache.Dim() {
			return nil, errors.Wrapf(ErrUnsupported, "axis %d of %s outside the discretization's %d axes",
				groupOp.Axis, binding, c.cache.Dim())
		}
		operators[i] = groupOp
		names[i] = c.names.Name(c.prefix)
	}

	field, err := c.rec(group[0].Field, state)
	if err != nil {
		return nil, err
	}
	codeList := state.codeList(c)
	*codeList = append(*codeList, NewDiffBatchAssign(names, operators, field, 0))

	for i, binding := range group {
		c.exprToVar[sym.Key(binding)] = sym.Var(names[i])
	}
	return c.exprToVar[sym.Key(expr)], nil
}

func (c *Compiler) mapCommonSubexpression(expr *sym.CommonSubexpression, state codegenState) (sym.Node, error) {
	recChild := func(state codegenState) (sym.Node, error) {
		if binding, ok := expr.Child.(*sym.OperatorBinding); ok {
			// Operator bindings get their own variable anyway; hand the
			// CSE prefix down so the generated name stays readable.
			return c.mapOperatorBinding(binding, state, expr.Prefix)
		}
		return c.rec(expr.Child, state)
	}

	if expr.Scope == sym.ScopeDiscretization {
		return c.mapDiscrScopedCSE(expr, state, recChild)
	}

	if v, ok := c.exprToVar[sym.Key(expr.Child)]; ok {
		return v, nil
	}
	child, err := recChild(state)
	if err != nil {
		return nil, err
	}
	cseVar := c.assignToNewVar(child, state, expr.Priority, expr.Prefix)
	c.exprToVar[sym.Key(expr.Child)] = cseVar
	return cseVar, nil
}

func (c *Compiler) mapDiscrScopedCSE(expr *sym.CommonSubexpression, state codegenState, recChild func(codegenState) (sym.Node, error)) (sym.Node, error) {
	name, existed := c.cache.NameFor(expr.Child, expr.Prefix)

	if !existed {
		discrState := codegenState{generatingDiscrCode: true}
		child, err := recChild(discrState)
		if err != nil {
			return nil, err
		}
		c.discrCode = append(c.discrCode,
			NewToDiscrScopedAssign([]string{name}, []sym.Node{child}, expr.Priority))
	}

	if state.generatingDiscrCode {
		return sym.Var(name), nil
	}
	if !c.discrScopeNamesCopied.Has(name) {
		// Copy the cached value into the evaluation context, once per
		// compilation.
		c.evalCode = append(c.evalCode, NewFromDiscrScopedAssign(name, expr.Priority))
		c.discrScopeNamesCopied.Insert(name)
	}
	return sym.Var(name), nil
}
