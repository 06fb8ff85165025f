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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPipeline(t *testing.T) {
	path := writePipeline(t, `
dim: 2
result:
  mul:
    - cse:
        prefix: area
        scope: discr
        child:
          mul:
            - var: jac
            - var: w
    - sum:
        - diff: {axis: 0, tag: r, field: {var: u}}
        - diff: {axis: 1, tag: r, field: {var: u}}
`)
	p, err := loadPipeline(path)
	require.NoError(t, err)
	require.Equal(t, 2, p.Dim)

	expr, err := p.Result.build()
	require.NoError(t, err)
	want := "(cse[area, discr]((jac * w)) * (diff[0, r](u) + diff[1, r](u)))"
	require.Equal(t, want, expr.String())
}

func TestLoadPipelineCallAndConst(t *testing.T) {
	path := writePipeline(t, `
dim: 1
result:
  call:
    fn: sqrt
    primitive: true
    args:
      - sum:
          - var: u
          - const: 1.5
`)
	p, err := loadPipeline(path)
	require.NoError(t, err)

	expr, err := p.Result.build()
	require.NoError(t, err)
	require.Equal(t, "sqrt((u + 1.5))", expr.String())
}

func TestLoadPipelineRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing dim",
			content: "result: {var: u}\n",
			want:    "dim must be positive",
		},
		{
			name:    "missing result",
			content: "dim: 2\n",
			want:    "no result expression",
		},
		{
			name:    "bad scope",
			content: "dim: 2\nresult: {cse: {scope: global, child: {var: u}}}\n",
			want:    "", // surfaces from build, not load
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writePipeline(t, test.content)
			p, err := loadPipeline(path)
			if test.want != "" {
				require.ErrorContains(t, err, test.want)
				return
			}
			require.NoError(t, err)
			_, err = p.Result.build()
			require.ErrorContains(t, err, "unknown cse scope")
		})
	}
}

func TestEmptyNode(t *testing.T) {
	n := &node{}
	_, err := n.build()
	require.ErrorContains(t, err, "sets no field")
}

func TestDumpNumbered(t *testing.T) {
	path := writePipeline(t, "dim: 1\nresult: {sum: [{var: u}, {const: 1}]}\n")
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"dump", "-f", path, "--numbered"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "1 _result <- (u + 1)\n2 RESULT: _result\n")
}
