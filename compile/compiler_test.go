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

package compile_test

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/dgx-org/dgx/compile"
	"github.com/dgx-org/dgx/discr"
	"github.com/dgx-org/dgx/exec"
	"github.com/dgx-org/dgx/interp"
	"github.com/dgx-org/dgx/sym"
)

func countByType[T compile.Instruction](code *compile.Code) int {
	count := 0
	for _, insn := range code.Instructions() {
		if _, ok := insn.(T); ok {
			count++
		}
	}
	return count
}

func TestDiffBatching(t *testing.T) {
	u := sym.Var("u")
	expr := sym.Add(
		sym.Bind(sym.Diff(0, "r"), u),
		sym.Bind(sym.Diff(1, "r"), u),
		sym.Bind(sym.Diff(2, "r"), u),
	)

	_, evalCode, err := compile.New(discr.NewCache(3)).Compile(expr)
	require.NoError(t, err)

	require.Equal(t, 1, countByType[*compile.DiffBatchAssign](evalCode))
	for _, insn := range evalCode.Instructions() {
		if batch, ok := insn.(*compile.DiffBatchAssign); ok {
			require.Len(t, batch.Names, 3)
			require.Len(t, batch.Operators, 3)
		}
	}
}

func TestDiffBatchingSplitsUnrelatedGroups(t *testing.T) {
	// Same axes on different fields, or different connection tags,
	// are separate batches.
	expr := sym.Add(
		sym.Bind(sym.Diff(0, "r"), sym.Var("u")),
		sym.Bind(sym.Diff(1, "r"), sym.Var("u")),
		sym.Bind(sym.Diff(0, "r"), sym.Var("v")),
		sym.Bind(sym.Diff(0, "faces"), sym.Var("u")),
	)

	_, evalCode, err := compile.New(discr.NewCache(3)).Compile(expr)
	require.NoError(t, err)
	require.Equal(t, 3, countByType[*compile.DiffBatchAssign](evalCode))
}

func TestDiscrScopedCSEIdempotence(t *testing.T) {
	cache := discr.NewCache(2)
	newExpr := func() sym.Node {
		area := sym.CSEScoped(sym.Mul(sym.Var("jac"), sym.Var("w")), "area", sym.ScopeDiscretization)
		return sym.Mul(area, sym.Var("u"))
	}

	discrCode, evalCode, err := compile.New(cache).Compile(newExpr())
	require.NoError(t, err)
	require.Equal(t, 1, countByType[*compile.ToDiscrScopedAssign](discrCode))
	require.Equal(t, 1, countByType[*compile.FromDiscrScopedAssign](evalCode))
	require.Len(t, discrCode.Results(), 1)

	// An independent compilation against the same discretization reuses
	// the cached name instead of re-emitting the assignment.
	discrCode2, evalCode2, err := compile.New(cache).Compile(newExpr())
	require.NoError(t, err)
	require.Equal(t, 0, countByType[*compile.ToDiscrScopedAssign](discrCode2))
	require.Equal(t, 1, countByType[*compile.FromDiscrScopedAssign](evalCode2))
	require.Empty(t, discrCode2.Instructions())
	require.Empty(t, discrCode2.Results())
}

func TestEvalScopedCSEReuse(t *testing.T) {
	shared := sym.CSE(sym.Mul(sym.Var("u"), sym.Var("u")), "usq")
	expr := sym.Add(shared, sym.Mul(shared, sym.Var("v")))

	_, evalCode, err := compile.New(discr.NewCache(2), compile.WithoutAggregation()).Compile(expr)
	require.NoError(t, err)

	// One assignment computes u*u; everything else references it.
	count := 0
	for _, insn := range evalCode.Instructions() {
		assign, ok := insn.(*compile.Assign)
		if !ok {
			continue
		}
		for _, expr := range assign.Exprs {
			if sym.Key(expr) == "(u * u)" {
				count++
			}
		}
	}
	require.Equal(t, 1, count)
}

// assertShallow checks the operand-normalization rule: operator fields and
// non-primitive call arguments are bare or indexed variable references.
func assertShallow(t *testing.T, expr sym.Node) {
	t.Helper()
	switch exprT := expr.(type) {
	case *sym.Variable, *sym.Subscript, *sym.Constant:
	case *sym.Sum:
		for _, term := range exprT.Terms {
			assertShallow(t, term)
		}
	case *sym.Product:
		for _, factor := range exprT.Factors {
			assertShallow(t, factor)
		}
	case *sym.Call:
		for _, arg := range exprT.Args {
			if !exprT.Fn.Primitive {
				requireReference(t, arg)
			}
			assertShallow(t, arg)
		}
	case *sym.OperatorBinding:
		requireReference(t, exprT.Field)
	default:
		t.Fatalf("instruction expression contains %T", expr)
	}
}

func requireReference(t *testing.T, expr sym.Node) {
	t.Helper()
	switch expr.(type) {
	case *sym.Variable, *sym.Subscript:
	default:
		t.Fatalf("operand %s is not a variable reference", expr)
	}
}

func TestOperandNormalization(t *testing.T) {
	mass := &sym.ApplyOperator{Name: "mass"}
	filter := &sym.FunctionSymbol{Name: "filter"}
	expr := sym.Add(
		sym.Bind(mass, sym.Add(sym.Var("u"), sym.Var("v"))),
		sym.NewCall(filter, sym.Mul(sym.Var("u"), &sym.Constant{Value: 2})),
	)

	_, evalCode, err := compile.New(discr.NewCache(2)).Compile(expr)
	require.NoError(t, err)

	for _, insn := range evalCode.Instructions() {
		assign, ok := insn.(*compile.Assign)
		if !ok {
			continue
		}
		for _, expr := range assign.Exprs {
			assertShallow(t, expr)
		}
	}
}

func TestAssigneesDisjointFromDependencies(t *testing.T) {
	expr := sym.Add(
		sym.Bind(sym.Diff(0, "r"), sym.Var("u")),
		sym.CSE(sym.Mul(sym.Var("u"), sym.Var("v")), "uv"),
	)
	_, evalCode, err := compile.New(discr.NewCache(1)).Compile(expr)
	require.NoError(t, err)

	assigned := make(map[string]bool)
	for _, insn := range evalCode.Instructions() {
		for _, name := range insn.Assignees() {
			require.False(t, assigned[name], "name %q assigned twice", name)
			assigned[name] = true
		}
		for _, dep := range insn.Dependencies() {
			for _, name := range insn.Assignees() {
				require.NotEqual(t, dep, name)
			}
		}
	}
}

func TestAxisOutOfRange(t *testing.T) {
	expr := sym.Bind(sym.Diff(5, "r"), sym.Var("u"))
	_, _, err := compile.New(discr.NewCache(2)).Compile(expr)
	require.True(t, errors.Is(err, compile.ErrUnsupported))
}

func TestCompileGolden(t *testing.T) {
	area := sym.CSEScoped(sym.Mul(sym.Var("jac"), sym.Var("w")), "area", sym.ScopeDiscretization)
	u := sym.Var("u")
	expr := sym.Mul(area, sym.Add(
		sym.Bind(sym.Diff(0, "r"), u),
		sym.Bind(sym.Diff(1, "r"), u),
	))

	discrCode, evalCode, err := compile.New(discr.NewCache(2)).Compile(expr)
	require.NoError(t, err)

	dump := fmt.Sprintf("-- discr --\n%s\n-- eval --\n%s\n", discrCode, evalCode)
	g := goldie.New(t)
	g.Assert(t, "compile_dump", []byte(dump))
}

func TestExecuteRejectsForeignCache(t *testing.T) {
	area := sym.CSEScoped(sym.Mul(sym.Var("jac"), sym.Var("w")), "area", sym.ScopeDiscretization)
	expr := sym.Mul(area, sym.Var("u"))

	cache := discr.NewCache(1)
	discrCode, evalCode, err := compile.New(cache).Compile(expr)
	require.NoError(t, err)

	// A second discretization assigns the same scoped name to its own
	// subexpression and holds a different value for it.
	other := discr.NewCache(1)
	name, existed := other.NameFor(sym.Mul(sym.Var("jac"), sym.Var("w")), "area")
	require.False(t, existed)
	other.Store(name, 10000.0)

	_, err = evalCode.Execute(interp.New(other, exec.Context{"u": 4.0}), nil)
	require.True(t, errors.Is(err, compile.ErrCacheMismatch))

	// The discretization the code was compiled against is accepted.
	_, err = discrCode.Execute(interp.New(cache, exec.Context{"jac": 2.0, "w": 3.0}), nil)
	require.NoError(t, err)
	results, err := evalCode.Execute(interp.New(cache, exec.Context{"u": 4.0}), nil)
	require.NoError(t, err)
	require.Equal(t, []exec.Value{24.0}, results)
}

func TestGeneratedNamesAvoidInputs(t *testing.T) {
	// An input named like a generated temporary must not be shadowed by
	// the diff batch assignee.
	expr := sym.Add(sym.Var("expr"), sym.Bind(sym.Diff(0, "r"), sym.Var("expr")))
	_, evalCode, err := compile.New(discr.NewCache(1)).Compile(expr)
	require.NoError(t, err)

	for _, insn := range evalCode.Instructions() {
		for _, name := range insn.Assignees() {
			require.NotEqual(t, "expr", name)
		}
	}
}
