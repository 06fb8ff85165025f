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

package discr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgx-org/dgx/discr"
	"github.com/dgx-org/dgx/sym"
)

func TestNameFor(t *testing.T) {
	cache := discr.NewCache(2)
	expr := sym.Mul(sym.Var("jacobian"), sym.Var("weights"))

	name, existed := cache.NameFor(expr, "area")
	require.False(t, existed)
	require.Equal(t, "discr.area", name)

	again, existed := cache.NameFor(sym.Mul(sym.Var("jacobian"), sym.Var("weights")), "area")
	require.True(t, existed)
	require.Equal(t, name, again)

	other, existed := cache.NameFor(sym.Var("jacobian"), "area")
	require.False(t, existed)
	require.Equal(t, "discr.area_1", other)
}

func TestNameForDefaultPrefix(t *testing.T) {
	cache := discr.NewCache(2)
	name, _ := cache.NameFor(sym.Var("u"), "")
	require.Equal(t, "discr.expr", name)
}

func TestStoreLoad(t *testing.T) {
	cache := discr.NewCache(3)
	cache.Store("discr.area", []float64{1, 2, 3})

	value, err := cache.Load("discr.area")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, value)

	_, err = cache.Load("discr.normal")
	require.Error(t, err)
}

func TestCacheIdentity(t *testing.T) {
	a, b := discr.NewCache(2), discr.NewCache(2)
	require.NotEqual(t, a.ID(), b.ID())
}
