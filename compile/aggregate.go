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
	"slices"
	"sort"

	"github.com/pkg/errors"

	"github.com/dgx-org/dgx/sym"
)

// aggregateAssignments merges compatible independent assignments of the
// evaluation stream into multi-output instructions, preserving observable
// semantics. Only plain assignments take part; zero-cost and
// zero-valued assignments pass through unmerged.
func (c *Compiler) aggregateAssignments(instructions []Instruction, result sym.Node) ([]Instruction, error) {
	origins := make(map[string]Instruction)
	for _, insn := range instructions {
		for _, name := range insn.Assignees() {
			origins[name] = insn
		}
	}

	var unprocessed []*Assign
	var others []Instruction
	for _, insn := range instructions {
		if assign, ok := insn.(*Assign); ok {
			unprocessed = append(unprocessed, assign)
		} else {
			others = append(others, insn)
		}
	}

	// Zero-cost and zero-valued assignments are not worth merging.
	var processed []*Assign
	i := 0
	for i < len(unprocessed) {
		assign := unprocessed[i]
		if assign.FlopCount() == 0 || slices.ContainsFunc(assign.Exprs, sym.IsZero) {
			processed = append(processed, assign)
			unprocessed = slices.Delete(unprocessed, i, i+1)
		} else {
			i++
		}
	}

	// Greedy aggregation.
	for len(unprocessed) > 0 {
		myAssign := unprocessed[len(unprocessed)-1]
		unprocessed = unprocessed[:len(unprocessed)-1]

		myDeps := nameSet(myAssign.Dependencies())
		myAssignees := nameSet(myAssign.Names)

		type candidate struct {
			index  int
			assign *Assign
		}
		var candidates []candidate
		for i, other := range unprocessed {
			otherDeps := nameSet(other.Dependencies())
			otherAssignees := nameSet(other.Names)
			related := intersects(myDeps, otherDeps) ||
				intersects(myDeps, otherAssignees) ||
				intersects(otherDeps, myAssignees)
			if related && myAssign.Priority() == other.Priority() {
				candidates = append(candidates, candidate{index: i, assign: other})
			}
		}

		didWork := false
		if len(candidates) > 0 {
			myIndirectOrigins := make(map[Instruction]bool)
			indirectOrigins(origins, myAssign, 1, myIndirectOrigins)

			for _, cand := range candidates {
				if c.maxVectorsInBatch > 0 {
					assigneeCount := len(union(myAssignees, nameSet(cand.assign.Names)))
					depCount := len(union(myDeps, nameSet(cand.assign.Dependencies())))
					if assigneeCount+depCount > c.maxVectorsInBatch {
						continue
					}
				}

				otherIndirectOrigins := make(map[Instruction]bool)
				indirectOrigins(origins, cand.assign, 1, otherIndirectOrigins)

				if myIndirectOrigins[cand.assign] || otherIndirectOrigins[myAssign] {
					continue
				}

				merged := mergeAssignments(myAssign, cand.assign)
				unprocessed = slices.Delete(unprocessed, cand.index, cand.index+1)
				unprocessed = append(unprocessed, merged)
				for _, name := range merged.Names {
					origins[name] = merged
				}
				didWork = true
				break
			}
		}

		if !didWork {
			processed = append(processed, myAssign)
		}
	}

	externallyUsed := make(map[string]bool)
	for _, assign := range processed {
		for _, dep := range assign.Dependencies() {
			externallyUsed[dep] = true
		}
	}
	for _, insn := range others {
		for _, dep := range insn.Dependencies() {
			externallyUsed[dep] = true
		}
	}
	for name := range sym.Deps(result).Iter() {
		externallyUsed[name] = true
	}

	finalized := make([]Instruction, 0, len(processed)+len(others))
	for _, assign := range processed {
		final, err := finalizeAssignment(assign, externallyUsed)
		if err != nil {
			return nil, err
		}
		finalized = append(finalized, final)
	}
	return append(finalized, others...), nil
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func intersects(a, b map[string]bool) bool {
	for name := range a {
		if b[name] {
			return true
		}
	}
	return false
}

func union(a, b map[string]bool) map[string]bool {
	u := make(map[string]bool, len(a)+len(b))
	for name := range a {
		u[name] = true
	}
	for name := range b {
		u[name] = true
	}
	return u
}

// indirectOrigins collects the writers an instruction transitively depends
// on, skipping the first skipLevels levels. Skipping direct origins keeps
// genuinely related assignments mergeable; the remaining closure is what
// the merge must not create a cycle through.
func indirectOrigins(origins map[string]Instruction, insn Instruction, skipLevels int, result map[Instruction]bool) {
	for _, dep := range insn.Dependencies() {
		origin, ok := origins[dep]
		if !ok {
			continue
		}
		if skipLevels <= 0 && !result[origin] {
			result[origin] = true
		}
		indirectOrigins(origins, origin, skipLevels-1, result)
	}
}

func mergeAssignments(a, b *Assign) *Assign {
	names := slices.Concat(a.Names, b.Names)
	exprs := slices.Concat(a.Exprs, b.Exprs)
	merged := NewAssign(names, exprs, max(a.Priority(), b.Priority()))
	merged.deps = assignDeps(names, exprs)
	return merged
}

// finalizeAssignment orders the sub-assignments of a merged instruction so
// siblings are computed before they are referenced, and flags values
// nobody outside the instruction reads as do-not-return.
func finalizeAssignment(assign *Assign, externallyUsed map[string]bool) (*Assign, error) {
	myAssignees := nameSet(assign.Names)

	type entry struct {
		name string
		expr sym.Node
		deps map[string]bool
	}
	pending := make([]entry, len(assign.Names))
	for i, name := range assign.Names {
		deps := make(map[string]bool)
		for dep := range sym.Deps(assign.Exprs[i]).Iter() {
			if myAssignees[dep] && dep != name {
				deps[dep] = true
			}
		}
		pending[i] = entry{name: name, expr: assign.Exprs[i], deps: deps}
	}

	available := make(map[string]bool)
	var orderedNames []string
	var orderedExprs []sym.Node
	for len(pending) > 0 {
		var schedulable []entry
		i := 0
		for i < len(pending) {
			satisfied := true
			for dep := range pending[i].deps {
				if !available[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				schedulable = append(schedulable, pending[i])
				pending = slices.Delete(pending, i, i+1)
			} else {
				i++
			}
		}
		if len(schedulable) == 0 {
			return nil, errors.Errorf("aggregation resulted in an impossible assignment: %s", assign)
		}
		// Constant order, independent of merge history.
		sort.Slice(schedulable, func(i, j int) bool {
			iKey, jKey := sym.Key(schedulable[i].expr), sym.Key(schedulable[j].expr)
			if iKey != jKey {
				return iKey < jKey
			}
			return schedulable[i].name < schedulable[j].name
		})
		for _, e := range schedulable {
			orderedNames = append(orderedNames, e.name)
			orderedExprs = append(orderedExprs, e.expr)
			available[e.name] = true
		}
	}

	final := NewAssign(orderedNames, orderedExprs, assign.Priority())
	for i, name := range orderedNames {
		final.DoNotReturn[i] = !externallyUsed[name]
	}
	return final, nil
}
