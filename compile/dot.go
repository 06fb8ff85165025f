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

package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"

	"github.com/dgx-org/dgx/sym"
)

// DebugDirEnv names the environment variable selecting the directory
// DumpDataflowGraph writes into.
const DebugDirEnv = "DGX_DEBUG_DIR"

// DotDataflowGraph renders the value flow of a Code object in Graphviz dot:
// nodes are instructions, edges are named values. maxNodeLabelLength
// truncates node labels; zero keeps them whole.
func DotDataflowGraph(code *Code, maxNodeLabelLength int) string {
	var s strings.Builder
	s.WriteString("digraph dataflow {\n")
	s.WriteString("initial [label=\"initial\"];\n")
	s.WriteString("result [label=\"result\"];\n")

	origins := make(map[string]string)
	nodeNames := make(map[Instruction]string)
	for num, insn := range code.Instructions() {
		nodeName := fmt.Sprintf("node%d", num)
		nodeNames[insn] = nodeName

		label := insn.String()
		if maxNodeLabelLength > 0 && len(label) > maxNodeLabelLength {
			label = label[:maxNodeLabelLength]
		}
		label = strings.ReplaceAll(label, "\"", "\\\"")
		label = strings.ReplaceAll(label, "\n", "\\l") + "\\l"
		s.WriteString(fmt.Sprintf("%s [ label=\"p%d: %s\" shape=box ];\n",
			nodeName, insn.Priority(), label))

		for _, assignee := range insn.Assignees() {
			origins[assignee] = nodeName
		}
	}

	originNode := func(name string) string {
		if node, ok := origins[name]; ok {
			return node
		}
		return "initial"
	}

	for _, insn := range code.Instructions() {
		for _, dep := range insn.Dependencies() {
			s.WriteString(fmt.Sprintf("%s -> %s [label=\"%s\"];\n",
				originNode(dep), nodeNames[insn], dep))
		}
	}
	for _, result := range code.Results() {
		for dep := range sym.Deps(result).Iter() {
			s.WriteString(fmt.Sprintf("%s -> result [label=\"%s\"];\n",
				originNode(dep), dep))
		}
	}

	s.WriteString("}\n")
	return s.String()
}

// DumpDataflowGraph writes the dot rendering into a uniquely named file
// under the directory named by DGX_DEBUG_DIR (default: the working
// directory) and returns the file's path.
func (c *Code) DumpDataflowGraph() (string, error) {
	dir := env.Str(DebugDirEnv, ".")
	for i := 0; ; i++ {
		path := filepath.Join(dir, fmt.Sprintf("dataflow-%d.dot", i))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "cannot create debug file in %q", dir)
		}
		defer f.Close()
		if _, err := f.WriteString(DotDataflowGraph(c, 0)); err != nil {
			return "", errors.Wrapf(err, "cannot write debug file %q", path)
		}
		return path, nil
	}
}
