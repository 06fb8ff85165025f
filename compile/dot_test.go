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
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/dgx-org/dgx/compile"
	"github.com/dgx-org/dgx/sym"
)

func newDotCode() *compile.Code {
	b := compile.NewAssign([]string{"b"},
		[]sym.Node{sym.Add(sym.Var("a"), &sym.Constant{Value: 1})}, 0)
	c := compile.NewAssign([]string{"c"},
		[]sym.Node{sym.Mul(sym.Var("b"), &sym.Constant{Value: 2})}, 2)
	return compile.NewCode([]compile.Instruction{b, c}, []sym.Node{sym.Var("c")})
}

func TestDotDataflowGraph(t *testing.T) {
	dot := compile.DotDataflowGraph(newDotCode(), 0)
	g := goldie.New(t)
	g.Assert(t, "dot_dump", []byte(dot))
}

func TestDotLabelTruncation(t *testing.T) {
	dot := compile.DotDataflowGraph(newDotCode(), 4)
	require.Contains(t, dot, `label="p0: b <-\l"`)
}

func TestDumpDataflowGraph(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(compile.DebugDirEnv, dir)
	code := newDotCode()

	path, err := code.DumpDataflowGraph()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dataflow-0.dot"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, compile.DotDataflowGraph(code, 0), string(content))

	// An existing dump is never overwritten.
	path, err = code.DumpDataflowGraph()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dataflow-1.dot"), path)
}
