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

func collectDiffBindings(done *ordered.Map[string, *OperatorBinding], expr Node) {
	switch exprT := expr.(type) {
	case *Variable, *Subscript, *Constant:
	case *Sum:
		for _, term := range exprT.Terms {
			collectDiffBindings(done, term)
		}
	case *Product:
		for _, factor := range exprT.Factors {
			collectDiffBindings(done, factor)
		}
	case *Call:
		for _, arg := range exprT.Args {
			collectDiffBindings(done, arg)
		}
	case *OperatorBinding:
		if _, isDiff := exprT.Op.(*DiffOperator); isDiff {
			done.Store(Key(exprT), exprT)
		}
		collectDiffBindings(done, exprT.Field)
	case *CommonSubexpression:
		collectDiffBindings(done, exprT.Child)
	}
}

// CollectDiffBindings returns all differential-operator bindings in an
// expression, deduplicated by structural identity, in first-occurrence order.
func CollectDiffBindings(exprs ...Node) []*OperatorBinding {
	done := ordered.NewMap[string, *OperatorBinding]()
	for _, expr := range exprs {
		collectDiffBindings(done, expr)
	}
	bindings := make([]*OperatorBinding, 0, done.Size())
	for binding := range done.Values() {
		bindings = append(bindings, binding)
	}
	return bindings
}
