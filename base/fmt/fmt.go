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

// Package fmt provides utility methods for building string representations of dgx objects.
package fmt

import (
	"fmt"
	"math"
	"strings"
)

// Number adds a number prefix to all lines in a string.
func Number(x string) string {
	lines := strings.Split(strings.TrimSuffix(x, "\n"), "\n")
	numDigits := int(math.Log10(float64(len(lines)))) + 1
	fmtString := fmt.Sprintf("%%0%dd %%s\n", numDigits)
	var s strings.Builder
	for i, line := range lines {
		s.WriteString(fmt.Sprintf(fmtString, i+1, line))
	}
	return s.String()
}

// Indent indents every line of the given string with two spaces.
func Indent(x string) string {
	var y strings.Builder
	for line := range strings.Lines(x) {
		y.WriteString("  ")
		y.WriteString(line)
	}
	return y.String()
}

// Block renders lines as a braced block. A single line is returned
// as is; multiple lines are wrapped in { } and indented.
func Block(lines []string) string {
	if len(lines) == 1 {
		return lines[0]
	}
	var s strings.Builder
	s.WriteString("{\n")
	for _, line := range lines {
		s.WriteString(Indent(line))
		s.WriteString("\n")
	}
	s.WriteString("}")
	return s.String()
}
