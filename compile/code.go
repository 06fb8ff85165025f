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
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"

	"github.com/dgx-org/dgx/base/ordered"
	"github.com/dgx-org/dgx/exec"
	"github.com/dgx-org/dgx/sym"
)

// staticScheduleAttempts is the number of failed replays tolerated before
// a Code object stops recording schedules for good.
const staticScheduleAttempts = 5

type (
	// Code owns an unordered instruction list and the result expressions
	// evaluated once every instruction has run. Execution order is
	// decided at run time; a successful run records its schedule, which
	// later runs replay as long as its timing assumptions hold.
	Code struct {
		instructions []Instruction
		results      []sym.Node

		// cacheID is the discretization cache the code was compiled
		// against; the zero value disables the execution-time check.
		cacheID uuid.UUID

		lastSchedule           []scheduleStep
		staticScheduleAttempts int
	}

	// scheduleStep is one recorded scheduling decision: evict the dead
	// names, run the instruction (or complete the identified future),
	// then adopt the recorded number of new futures. A step with no
	// instruction and a negative future identifier only evicts.
	scheduleStep struct {
		discardable    []string
		insn           Instruction // nil marks a future evaluation
		futureID       int
		newFutureCount int
	}

	pendingFuture struct {
		id     int
		future exec.Future
	}
)

// NewCode returns a Code object over the given instructions and results.
func NewCode(instructions []Instruction, results []sym.Node) *Code {
	return &Code{
		instructions:           instructions,
		results:                results,
		staticScheduleAttempts: staticScheduleAttempts,
	}
}

// Instructions returns the unordered instruction list.
func (c *Code) Instructions() []Instruction {
	return c.instructions
}

// Results returns the result expressions.
func (c *Code) Results() []sym.Node {
	return c.results
}

// HasSchedule reports whether a recorded schedule is available for replay.
func (c *Code) HasSchedule() bool {
	return c.lastSchedule != nil
}

// String renders the instructions in a valid dependency order, for
// human consumption only: execution does not follow this order.
func (c *Code) String() string {
	varToWriter := make(map[string]Instruction)
	for _, insn := range c.instructions {
		for _, name := range insn.Assignees() {
			varToWriter[name] = insn
		}
	}

	added := make(map[Instruction]bool)
	var ordered []Instruction
	var insert func(insn Instruction)
	insert = func(insn Instruction) {
		if added[insn] {
			return
		}
		added[insn] = true
		for _, dep := range insn.Dependencies() {
			// Input variables have no writer.
			if writer, ok := varToWriter[dep]; ok {
				insert(writer)
			}
		}
		ordered = append(ordered, insn)
	}
	for _, insn := range c.instructions {
		insert(insn)
	}

	var s strings.Builder
	for _, insn := range ordered {
		s.WriteString(insn.String())
		s.WriteString("\n")
	}
	results := make([]string, len(c.results))
	for i, result := range c.results {
		results[i] = result.String()
	}
	s.WriteString("RESULT: " + strings.Join(results, ", "))
	return s.String()
}

// UnreachableError reports instructions that dynamic scheduling could not
// run: some dependency was never produced, typically a variable the caller
// forgot to supply in the context.
type UnreachableError struct {
	Instructions []Instruction
	errs         error
}

func (e *UnreachableError) Error() string {
	return "not all instructions are reachable (did you forget to pass a value for an input variable?): " +
		e.errs.Error()
}

// Unwrap returns the per-instruction diagnostics.
func (e *UnreachableError) Unwrap() error {
	return e.errs
}

func newUnreachableError(insns []Instruction) *UnreachableError {
	var errs error
	for _, insn := range insns {
		errs = multierr.Append(errs, errors.Errorf("unreachable instruction: %s", insn))
	}
	return &UnreachableError{Instructions: insns, errs: errs}
}

// ErrScheduleContract signals a replay observing a different number of new
// futures than recorded. Instructions must behave deterministically; this
// is a programming error, never expected in normal operation.
var ErrScheduleContract = errors.New("static schedule got an unexpected number of futures")

// ErrCacheMismatch signals a Code executing against an engine bound to a
// different discretization cache than the one it was compiled against.
// Discretization-scoped names are only unique per cache, so crossing
// caches would silently read the wrong values.
var ErrCacheMismatch = errors.New("code and engine belong to different discretizations")

// nextStep selects the highest-priority instruction whose dependencies are
// all available, ties broken by instruction order, along with the names
// that become dead once the remaining instructions are known. The boolean
// reports whether any instruction was ready.
func (c *Code) nextStep(available exec.Context, done map[Instruction]bool) (Instruction, []string, bool) {
	var best Instruction
	for _, insn := range c.instructions {
		if done[insn] {
			continue
		}
		satisfied := true
		for _, dep := range insn.Dependencies() {
			if _, ok := available[dep]; !ok {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		if best == nil || insn.Priority() > best.Priority() {
			best = insn
		}
	}
	if best == nil {
		return nil, nil, false
	}
	return best, c.discardableVars(available, done), true
}

// discardableVars returns the context names that no remaining instruction
// (the chosen one included) nor the result expressions still reference.
// Sorted so recorded schedules are deterministic.
func (c *Code) discardableVars(available exec.Context, done map[Instruction]bool) []string {
	live := ordered.NewSet[string]()
	for _, insn := range c.instructions {
		if done[insn] {
			continue
		}
		for _, dep := range insn.Dependencies() {
			live.Insert(dep)
		}
	}
	for name := range sym.Deps(c.results...).Iter() {
		live.Insert(name)
	}

	var discardable []string
	for _, name := range maps.Keys(available) {
		if !live.Has(name) {
			discardable = append(discardable, name)
		}
	}
	slices.Sort(discardable)
	return discardable
}

// Execute runs the instruction stream against the engine's context and
// returns the evaluated result expressions. A recorded schedule is
// replayed when available; otherwise scheduling decisions are made
// dynamically and recorded. The context is mutated in place and never
// retained after the call.
func (c *Code) Execute(engine Engine, preAssign exec.PreAssign) ([]exec.Value, error) {
	if c.cacheID != (uuid.UUID{}) && engine.CacheID() != c.cacheID {
		return nil, errors.Wrapf(ErrCacheMismatch, "code compiled against cache %s, engine bound to cache %s",
			c.cacheID, engine.CacheID())
	}
	if c.lastSchedule == nil {
		return c.executeDynamic(engine, preAssign)
	}
	return c.executeStatic(engine, preAssign)
}

func assign(ctx exec.Context, assignments []exec.Assignment, preAssign exec.PreAssign) error {
	for _, assignment := range assignments {
		if preAssign != nil {
			if err := preAssign(assignment.Name, assignment.Value); err != nil {
				return errors.Wrapf(err, "assignment of %q rejected", assignment.Name)
			}
		}
		ctx[assignment.Name] = assignment.Value
	}
	return nil
}

func (c *Code) executeDynamic(engine Engine, preAssign exec.PreAssign) ([]exec.Value, error) {
	ctx := engine.Context()

	var schedule []scheduleStep
	nextFutureID := 0
	var futures []pendingFuture
	done := make(map[Instruction]bool)
	forceFuture := false

	for {
		var step scheduleStep
		var assignments []exec.Assignment
		var newFutures []exec.Future
		stepTaken := false

		// Check pending futures for completion first.
		for i, pending := range futures {
			if !forceFuture && !pending.future.Ready() {
				continue
			}
			futures = slices.Delete(futures, i, i+1)
			forceFuture = false

			var err error
			assignments, newFutures, err = pending.future.Complete()
			if err != nil {
				return nil, err
			}
			step = scheduleStep{insn: nil, futureID: pending.id}
			stepTaken = true
			break
		}

		// If no future got processed, pick the next instruction.
		if !stepTaken {
			insn, discardable, ok := c.nextStep(ctx, done)
			if !ok {
				if len(futures) > 0 {
					// No instruction ready: a future has to complete
					// before anything else can run. The only blocking
					// point of the protocol.
					forceFuture = true
					continue
				}
				break
			}

			for _, name := range discardable {
				delete(ctx, name)
			}
			done[insn] = true
			var err error
			assignments, newFutures, err = insn.Execute(engine)
			if err != nil {
				return nil, err
			}
			step = scheduleStep{discardable: discardable, insn: insn}
		}

		if err := assign(ctx, assignments, preAssign); err != nil {
			return nil, err
		}
		step.newFutureCount = len(newFutures)
		schedule = append(schedule, step)
		for _, future := range newFutures {
			futures = append(futures, pendingFuture{id: nextFutureID, future: future})
			nextFutureID++
		}
	}

	if len(done) < len(c.instructions) {
		var unreachable []Instruction
		for _, insn := range c.instructions {
			if !done[insn] {
				unreachable = append(unreachable, insn)
			}
		}
		return nil, newUnreachableError(unreachable)
	}

	// The last instruction's inputs went dead with nothing left to
	// trigger an eviction: sweep them so the context ends up holding
	// result values only.
	if stale := c.discardableVars(ctx, done); len(stale) > 0 {
		for _, name := range stale {
			delete(ctx, name)
		}
		schedule = append(schedule, scheduleStep{discardable: stale, insn: nil, futureID: -1})
	}

	if c.staticScheduleAttempts > 0 {
		c.lastSchedule = schedule
	}

	return c.evalResults(engine)
}

func (c *Code) executeStatic(engine Engine, preAssign exec.PreAssign) ([]exec.Value, error) {
	ctx := engine.Context()

	idToFuture := make(map[int]exec.Future)
	nextFutureID := 0
	delayFree := true

	for _, step := range c.lastSchedule {
		for _, name := range step.discardable {
			delete(ctx, name)
		}

		var assignments []exec.Assignment
		var newFutures []exec.Future
		var err error
		if step.insn == nil && step.futureID < 0 {
			// Eviction-only step.
			continue
		}
		if step.insn == nil {
			future := idToFuture[step.futureID]
			delete(idToFuture, step.futureID)
			if !future.Ready() {
				delayFree = false
			}
			assignments, newFutures, err = future.Complete()
		} else {
			assignments, newFutures, err = step.insn.Execute(engine)
		}
		if err != nil {
			return nil, err
		}

		if err := assign(ctx, assignments, preAssign); err != nil {
			return nil, err
		}

		if len(newFutures) != step.newFutureCount {
			return nil, errors.Wrapf(ErrScheduleContract, "got %d new futures but the schedule recorded %d",
				len(newFutures), step.newFutureCount)
		}
		for _, future := range newFutures {
			idToFuture[nextFutureID] = future
			nextFutureID++
		}
	}

	if !delayFree {
		// The schedule's timing assumption broke: fall back to dynamic
		// scheduling and stop replaying altogether once the attempts
		// are used up.
		c.lastSchedule = nil
		c.staticScheduleAttempts--
	}

	return c.evalResults(engine)
}

func (c *Code) evalResults(engine Engine) ([]exec.Value, error) {
	results := make([]exec.Value, len(c.results))
	for i, result := range c.results {
		value, err := engine.EvalExpr(result)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot evaluate result %s", result)
		}
		results[i] = value
	}
	return results, nil
}
