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

package ordered

// Set is an ordered set. Iteration follows insertion order,
// which keeps set-derived decisions deterministic.
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet returns a new ordered set with the given initial elements.
func NewSet[K comparable](ks ...K) *Set[K] {
	s := &Set[K]{m: NewMap[K, struct{}]()}
	for _, k := range ks {
		s.Insert(k)
	}
	return s
}

// Insert an element. Inserting an element already in the set is a no-op.
func (s *Set[K]) Insert(k K) {
	s.m.Store(k, struct{}{})
}

// Remove an element from the set.
func (s *Set[K]) Remove(k K) {
	s.m.Delete(k)
}

// Has returns true if the element is in the set.
func (s *Set[K]) Has(k K) bool {
	_, ok := s.m.Load(k)
	return ok
}

// Iter returns an iterator over the elements in insertion order.
func (s *Set[K]) Iter() func(func(K) bool) {
	return s.m.Keys()
}

// Size returns the number of elements in the set.
func (s *Set[K]) Size() int {
	return s.m.Size()
}

