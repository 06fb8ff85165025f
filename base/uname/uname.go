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

// Package uname provides unique names.
package uname

import "fmt"

// Unique generates unique names.
type Unique struct {
	names map[string]int
}

// New name generator.
func New() *Unique {
	return &Unique{names: make(map[string]int)}
}

// Name returns a unique name given a desired base name.
// If the base name is available, it is returned directly.
// Else, a unique numeric suffix is appended.
func (n *Unique) Name(root string) string {
	nextIndex, ok := n.names[root]
	if !ok {
		n.names[root] = 1
		return root
	}
	name := fmt.Sprintf("%s_%d", root, nextIndex)
	n.names[root] = nextIndex + 1
	return name
}

// Register marks a name as taken without generating it,
// so that Name never returns it.
func (n *Unique) Register(name string) {
	if _, ok := n.names[name]; !ok {
		n.names[name] = 1
	}
}

// Prefixed wraps a generator so that every name it returns
// carries a fixed prefix. The prefix separates namespaces that
// share one generator, e.g. discretization-scoped names.
type Prefixed struct {
	prefix string
	gen    *Unique
}

// WithPrefix returns a generator prepending prefix to all names.
func (n *Unique) WithPrefix(prefix string) *Prefixed {
	return &Prefixed{prefix: prefix, gen: n}
}

// Name returns a unique name with the generator's prefix.
func (p *Prefixed) Name(root string) string {
	return p.prefix + p.gen.Name(root)
}
