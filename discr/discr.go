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

// Package discr provides the cache a discretization object owns on behalf
// of the compiler.
//
// The cache lives exactly as long as its discretization: created with it,
// shared by every Code object compiled against it, cleared only by
// discarding the discretization. It is mutated during compilation only and
// is not safe for concurrent writers.
package discr

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dgx-org/dgx/base/ordered"
	"github.com/dgx-org/dgx/base/uname"
	"github.com/dgx-org/dgx/exec"
	"github.com/dgx-org/dgx/sym"
)

// NamePrefix prefixes every discretization-scoped name, keeping the
// namespace disjoint from compiler-generated evaluation names.
const NamePrefix = "discr."

// Cache holds the discretization-scoped state shared across compilations:
// the subexpression-to-name table and the values computed for those names.
type Cache struct {
	id  uuid.UUID
	dim int

	names         *uname.Prefixed
	subexprToName *ordered.Map[string, string]
	nameToValue   map[string]exec.Value
}

// NewCache returns an empty cache for a discretization with the given
// number of reference axes.
func NewCache(dim int) *Cache {
	return &Cache{
		id:            uuid.New(),
		dim:           dim,
		names:         uname.New().WithPrefix(NamePrefix),
		subexprToName: ordered.NewMap[string, string](),
		nameToValue:   make(map[string]exec.Value),
	}
}

// ID identifies the cache. A Code object compiled against one cache must
// not execute against another; the identity token makes that check cheap.
func (c *Cache) ID() uuid.UUID {
	return c.id
}

// Dim returns the number of reference axes of the discretization.
// Differential operators along axes outside [0, Dim) are rejected
// at compile time.
func (c *Cache) Dim() int {
	return c.dim
}

// NameFor returns the discretization-scoped name assigned to expr,
// generating a fresh one on first encounter. The second return value
// reports whether the name already existed.
func (c *Cache) NameFor(expr sym.Node, prefix string) (string, bool) {
	key := sym.Key(expr)
	if name, ok := c.subexprToName.Load(key); ok {
		return name, true
	}
	if prefix == "" {
		prefix = "expr"
	}
	name := c.names.Name(prefix)
	c.subexprToName.Store(key, name)
	return name, false
}

// Store records the value computed for a discretization-scoped name.
func (c *Cache) Store(name string, value exec.Value) {
	c.nameToValue[name] = value
}

// Load returns the value stored for a discretization-scoped name.
func (c *Cache) Load(name string) (exec.Value, error) {
	value, ok := c.nameToValue[name]
	if !ok {
		return nil, errors.Errorf("no discretization-scoped value for %q", name)
	}
	return value, nil
}
