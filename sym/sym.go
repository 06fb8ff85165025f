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

// Package sym defines the symbolic expression model consumed by the compiler.
//
// The node-kind set is closed: consumers dispatch over nodes with an
// exhaustive type switch rather than open-ended virtual dispatch.
package sym

import (
	"fmt"
	"strconv"
	"strings"
)

type (
	// Node is a node of a symbolic expression tree.
	// Its String method returns a canonical form that doubles
	// as the node's structural identity (see Key).
	Node interface {
		fmt.Stringer
		node()
	}

	// Variable references a named field in the execution context.
	Variable struct {
		Name string
	}

	// Subscript references one component of a named field collection.
	Subscript struct {
		Var   *Variable
		Index int
	}

	// Constant is a scalar literal.
	Constant struct {
		Value float64
	}

	// Sum adds its terms elementwise.
	Sum struct {
		Terms []Node
	}

	// Product multiplies its factors elementwise.
	Product struct {
		Factors []Node
	}

	// FunctionSymbol names a callable. Primitive marks functions from the
	// numeric-kernel primitive set, which may appear inside composed
	// expressions; all other calls are assigned to their own instruction.
	FunctionSymbol struct {
		Name      string
		Primitive bool
	}

	// Call applies a function symbol to arguments.
	Call struct {
		Fn   *FunctionSymbol
		Args []Node
	}

	// OperatorBinding applies an operator to a field expression.
	OperatorBinding struct {
		Op    Operator
		Field Node
	}

	// CommonSubexpression marks its child as cacheable. Scope selects the
	// lifetime of the cached value, Prefix seeds the generated name.
	CommonSubexpression struct {
		Child    Node
		Prefix   string
		Scope    Scope
		Priority int
	}
)

// Scope is the lifetime of a cached common subexpression.
type Scope int

const (
	// ScopeEvaluation caches for the duration of one compilation.
	ScopeEvaluation Scope = iota
	// ScopeDiscretization caches for the lifetime of the discretization,
	// shared across compilations.
	ScopeDiscretization
)

func (s Scope) String() string {
	if s == ScopeDiscretization {
		return "discr"
	}
	return "eval"
}

func (*Variable) node()            {}
func (*Subscript) node()           {}
func (*Constant) node()            {}
func (*Sum) node()                 {}
func (*Product) node()             {}
func (*Call) node()                {}
func (*OperatorBinding) node()     {}
func (*CommonSubexpression) node() {}

// Var returns a variable reference.
func Var(name string) *Variable {
	return &Variable{Name: name}
}

func (v *Variable) String() string {
	return v.Name
}

func (s *Subscript) String() string {
	return fmt.Sprintf("%s[%d]", s.Var.Name, s.Index)
}

func (c *Constant) String() string {
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

// IsZero reports whether the expression is provably the additive identity.
func IsZero(n Node) bool {
	c, ok := n.(*Constant)
	return ok && c.Value == 0
}

func joinNodes(ns []Node, sep string) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = n.String()
	}
	return strings.Join(parts, sep)
}

// Add returns the sum of the given terms.
func Add(terms ...Node) *Sum {
	return &Sum{Terms: terms}
}

func (s *Sum) String() string {
	return "(" + joinNodes(s.Terms, " + ") + ")"
}

// Mul returns the product of the given factors.
func Mul(factors ...Node) *Product {
	return &Product{Factors: factors}
}

func (p *Product) String() string {
	return "(" + joinNodes(p.Factors, " * ") + ")"
}

func (f *FunctionSymbol) String() string {
	return f.Name
}

// NewCall applies fn to the given arguments.
func NewCall(fn *FunctionSymbol, args ...Node) *Call {
	return &Call{Fn: fn, Args: args}
}

func (c *Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Fn.Name, joinNodes(c.Args, ", "))
}

// Bind applies op to a field expression.
func Bind(op Operator, field Node) *OperatorBinding {
	return &OperatorBinding{Op: op, Field: field}
}

func (b *OperatorBinding) String() string {
	return fmt.Sprintf("%s(%s)", b.Op, b.Field)
}

func (c *CommonSubexpression) String() string {
	return fmt.Sprintf("cse[%s, %s](%s)", c.Prefix, c.Scope, c.Child)
}

// CSE marks child as an evaluation-scoped common subexpression.
// An already tagged child is returned unchanged.
func CSE(child Node, prefix string) Node {
	return CSEScoped(child, prefix, ScopeEvaluation)
}

// CSEScoped marks child as a common subexpression with an explicit scope.
func CSEScoped(child Node, prefix string, scope Scope) Node {
	if cse, ok := child.(*CommonSubexpression); ok && cse.Scope == scope {
		return child
	}
	return &CommonSubexpression{Child: child, Prefix: prefix, Scope: scope}
}

// Key returns the structural identity of an expression. Two expressions
// with the same key are interchangeable for caching purposes.
func Key(n Node) string {
	return n.String()
}
