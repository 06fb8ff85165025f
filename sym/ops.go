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

import "fmt"

type (
	// Operator transforms one field into another. The compiler does not
	// interpret operators beyond their identity and, for differential
	// operators, their reference axis.
	Operator interface {
		fmt.Stringer
		operator()
	}

	// DiffOperator differentiates a field along one reference axis.
	// ConnectionTag names the discretization connection the operator
	// was built against; it takes part in grouping but is otherwise
	// opaque to the compiler.
	DiffOperator struct {
		Axis          int
		ConnectionTag string
	}

	// ApplyOperator is a generic named operator with no structure the
	// compiler can exploit. Bindings of it are lowered one by one.
	ApplyOperator struct {
		Name string
	}
)

func (*DiffOperator) operator()  {}
func (*ApplyOperator) operator() {}

// Diff returns a differential operator along the given reference axis.
func Diff(axis int, connectionTag string) *DiffOperator {
	return &DiffOperator{Axis: axis, ConnectionTag: connectionTag}
}

func (d *DiffOperator) String() string {
	return fmt.Sprintf("diff[%d, %s]", d.Axis, d.ConnectionTag)
}

// EqualExceptForAxis reports whether other is a differential operator
// identical to d up to its reference axis. Such operators can be
// applied to a field in one batched kernel call.
func (d *DiffOperator) EqualExceptForAxis(other Operator) bool {
	otherDiff, ok := other.(*DiffOperator)
	if !ok {
		return false
	}
	return d.ConnectionTag == otherDiff.ConnectionTag
}

func (a *ApplyOperator) String() string {
	return a.Name
}
