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

package sym_test

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dgx-org/dgx/sym"
)

func TestDeps(t *testing.T) {
	sqrt := &sym.FunctionSymbol{Name: "sqrt", Primitive: true}
	tests := []struct {
		expr sym.Node
		want []string
	}{
		{
			expr: sym.Var("u"),
			want: []string{"u"},
		},
		{
			expr: &sym.Constant{Value: 2},
			want: []string{},
		},
		{
			expr: sym.Add(sym.Var("u"), sym.Mul(sym.Var("v"), sym.Var("u"))),
			want: []string{"u", "v"},
		},
		{
			expr: &sym.Subscript{Var: sym.Var("w"), Index: 1},
			want: []string{"w"},
		},
		{
			expr: sym.NewCall(sqrt, sym.Add(sym.Var("a"), sym.Var("b"))),
			want: []string{"a", "b"},
		},
		{
			expr: sym.CSE(sym.Bind(sym.Diff(0, "r"), sym.Var("u")), "du"),
			want: []string{"u"},
		},
	}
	for i, test := range tests {
		got := slices.Collect(sym.Deps(test.expr).Iter())
		if got == nil {
			got = []string{}
		}
		if !cmp.Equal(got, test.want) {
			t.Errorf("test %d: dependencies of %s: %s", i, test.expr, cmp.Diff(test.want, got))
		}
	}
}

func TestCollectDiffBindings(t *testing.T) {
	u := sym.Var("u")
	d0 := sym.Bind(sym.Diff(0, "r"), u)
	d1 := sym.Bind(sym.Diff(1, "r"), u)
	expr := sym.Add(d0, d1, sym.Mul(d0, sym.Var("v")))

	got := sym.CollectDiffBindings(expr)
	if len(got) != 2 {
		t.Fatalf("collected %d bindings but want 2", len(got))
	}
	if got[0].String() != d0.String() || got[1].String() != d1.String() {
		t.Errorf("collected %v, want [%s %s]", got, d0, d1)
	}
}

func TestKeyEquality(t *testing.T) {
	a := sym.Add(sym.Var("u"), sym.Var("v"))
	b := sym.Add(sym.Var("u"), sym.Var("v"))
	if sym.Key(a) != sym.Key(b) {
		t.Errorf("structurally equal expressions have different keys: %q vs %q", sym.Key(a), sym.Key(b))
	}
	c := sym.Add(sym.Var("v"), sym.Var("u"))
	if sym.Key(a) == sym.Key(c) {
		t.Errorf("structurally distinct expressions share the key %q", sym.Key(a))
	}
}

func TestCSEIdempotentWrap(t *testing.T) {
	inner := sym.CSE(sym.Var("u"), "a")
	outer := sym.CSE(inner, "b")
	if outer != inner {
		t.Errorf("re-tagging a tagged expression must return it unchanged")
	}
	discr := sym.CSEScoped(inner, "c", sym.ScopeDiscretization)
	if discr == inner {
		t.Errorf("tagging with a different scope must wrap again")
	}
}

func TestEqualExceptForAxis(t *testing.T) {
	d0 := sym.Diff(0, "r")
	d1 := sym.Diff(1, "r")
	other := sym.Diff(1, "faces")
	if !d0.EqualExceptForAxis(d1) {
		t.Errorf("%s and %s must group", d0, d1)
	}
	if d0.EqualExceptForAxis(other) {
		t.Errorf("%s and %s must not group", d0, other)
	}
	if d0.EqualExceptForAxis(&sym.ApplyOperator{Name: "mass"}) {
		t.Errorf("a differential operator must not group with a generic operator")
	}
}
