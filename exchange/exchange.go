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

// Package exchange sequences cross-partition data exchanges.
//
// The transport itself is an external collaborator: this package only
// drives its post-send/check-receive/complete-receive calls and wraps the
// pending receives in a future for the scheduler.
package exchange

import (
	"github.com/pkg/errors"

	"github.com/dgx-org/dgx/exec"
)

type (
	// Transport is the communication layer surface, per remote rank.
	Transport interface {
		// PostSend hands a locally-known field value to the transport
		// for delivery to a remote rank. It must not block.
		PostSend(rank int, field string, value exec.Value) error
		// CheckReceive reports whether the value at a remote index has
		// arrived from the given rank. It must not block.
		CheckReceive(rank, index int) bool
		// CompleteReceive returns the value at a remote index from the
		// given rank, blocking until it arrives.
		CompleteReceive(rank, index int) (exec.Value, error)
	}

	// Receive describes one value to pull from a remote partition and the
	// local name it is assigned to.
	Receive struct {
		Name  string
		Index int
		Rank  int
	}

	// Send describes one locally-known field value to push to a remote rank.
	Send struct {
		Rank  int
		Field string
		Value exec.Value
	}

	// Future tracks a batch of posted receives until they all arrive.
	Future struct {
		transport Transport
		receives  []Receive
	}
)

var _ exec.Future = (*Future)(nil)

// Begin posts all sends on the transport and returns a future completing
// the receives. Begin itself never blocks.
func Begin(transport Transport, sends []Send, receives []Receive) (*Future, error) {
	for _, send := range sends {
		if err := transport.PostSend(send.Rank, send.Field, send.Value); err != nil {
			return nil, errors.Wrapf(err, "cannot post send of %q to rank %d", send.Field, send.Rank)
		}
	}
	return &Future{transport: transport, receives: receives}, nil
}

// Ready reports whether every receive in the batch has arrived.
func (f *Future) Ready() bool {
	for _, recv := range f.receives {
		if !f.transport.CheckReceive(recv.Rank, recv.Index) {
			return false
		}
	}
	return true
}

// Complete pulls every receive in the batch, blocking on those that have
// not arrived yet.
func (f *Future) Complete() ([]exec.Assignment, []exec.Future, error) {
	assignments := make([]exec.Assignment, len(f.receives))
	for i, recv := range f.receives {
		value, err := f.transport.CompleteReceive(recv.Rank, recv.Index)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot complete receive of %q from rank %d", recv.Name, recv.Rank)
		}
		assignments[i] = exec.Assignment{Name: recv.Name, Value: value}
	}
	return assignments, nil, nil
}
