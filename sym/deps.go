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

package sym

import "github.com/dgx-org/dgx/base/ordered"

func deps(done *ordered.Set[string], expr Node) {
	switch exprT := expr.(type) {
	case *Variable:
		if exprT == nil {
			return
		}
		done.Insert(exprT.Name)
	case *Subscript:
		done.Insert(exprT.Var.Name)
	case *Constant:
	case *Sum:
		for _, term := range exprT.Terms {
			deps(done, term)
		}
	case *Product:
		for _, factor := range exprT.Factors {
			deps(done, factor)
		}
	case *Call:
		for _, arg := range exprT.Args {
			deps(done, arg)
		}
	case *OperatorBinding:
		deps(done, exprT.Field)
	case *CommonSubexpression:
		deps(done, exprT.Child)
	}
}

// Deps returns the names of all variables an expression depends on,
// in first-occurrence order.
func Deps(exprs ...Node) *ordered.Set[string] {
	done := ordered.NewSet[string]()
	for _, expr := range exprs {
		deps(done, expr)
	}
	return done
}
