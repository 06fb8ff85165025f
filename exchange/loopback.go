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

package exchange

import (
	"github.com/pkg/errors"

	"github.com/dgx-org/dgx/exec"
)

// Loopback is an in-memory transport where every rank is the local
// process. Posted sends become receivable after a configurable number of
// readiness checks, which makes transfer latency reproducible in tests
// and single-partition runs.
type Loopback struct {
	// Delay is the number of CheckReceive calls a pending value stays
	// invisible for. Zero means values arrive immediately.
	Delay int

	sent map[int][]exec.Value
	seen map[[2]int]int
}

var _ Transport = (*Loopback)(nil)

// NewLoopback returns a loopback transport with the given arrival delay.
func NewLoopback(delay int) *Loopback {
	return &Loopback{
		Delay: delay,
		sent:  make(map[int][]exec.Value),
		seen:  make(map[[2]int]int),
	}
}

// PostSend appends the value to the rank's outgoing queue. On a loopback
// the outgoing queue is also the incoming one: index i receives the i-th
// value posted for that rank.
func (l *Loopback) PostSend(rank int, field string, value exec.Value) error {
	l.sent[rank] = append(l.sent[rank], value)
	return nil
}

// CheckReceive reports arrival once the value has been posted and the
// configured delay has elapsed.
func (l *Loopback) CheckReceive(rank, index int) bool {
	if index >= len(l.sent[rank]) {
		return false
	}
	key := [2]int{rank, index}
	l.seen[key]++
	return l.seen[key] > l.Delay
}

// CompleteReceive returns the posted value. A completion before the value
// was posted is an error: a loopback has nobody else to wait for.
func (l *Loopback) CompleteReceive(rank, index int) (exec.Value, error) {
	if index >= len(l.sent[rank]) {
		return nil, errors.Errorf("no value posted for rank %d index %d", rank, index)
	}
	return l.sent[rank][index], nil
}
