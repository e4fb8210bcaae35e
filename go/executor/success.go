// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/log"
)

// failedSignature is the query answering whether a test recorded a failed
// assertion.
const failedSignature = "failed()(bool)"

// IsSuccess decides whether a test execution is accepted. A test passes if
// it succeeded and was not expected to fail, or if it failed while it was
// expected to. Besides reverts, failures are detected through the test's
// failed() query, which covers assertions recorded in the test contract's
// own storage and through the global failure flag.
func (e *Executor) IsSuccess(address kiln.Address, reverted bool, changes state.Changeset, shouldFail bool) bool {
	return e.ensureSuccess(address, reverted, changes, shouldFail)
}

// IsRawCallSuccess is like IsSuccess but also considers failures which were
// hidden by reverting to a snapshot during the given execution.
func (e *Executor) IsRawCallSuccess(address kiln.Address, changes state.Changeset, outcome *RawOutcome, shouldFail bool) bool {
	if outcome.SnapshotFailure {
		return shouldFail
	}
	return e.ensureSuccess(address, outcome.Reverted, changes, shouldFail)
}

func (e *Executor) ensureSuccess(address kiln.Address, reverted bool, changes state.Changeset, shouldFail bool) bool {
	if e.backend.HasSnapshotFailure() {
		return shouldFail
	}

	success := !reverted
	if success {
		backend := e.backend.CloneEmpty()
		for _, addr := range []kiln.Address{address, kiln.CheatCodeAddress} {
			copyAccount(backend, e.backend, addr)
		}
		backend.Commit(changes)
		if e.queryFailed(backend, address) {
			success = false
		}
	}
	return shouldFail != success
}

// queryFailed runs the failed() query of the test contract on the given
// backend. Errors of the query itself are not reported as failures.
func (e *Executor) queryFailed(backend *state.MemoryBackend, address kiln.Address) bool {
	executor := New(backend, e.env.Clone(), e.observers, e.gasLimit, e.interpreter)
	outcome, err := executor.Call(kiln.DefaultCaller, address, failedSignature, nil, kiln.Value{})
	if err != nil {
		log.Debug("Failure query did not complete", "address", address, "error", err)
		return false
	}
	if len(outcome.Decoded) != 1 {
		return false
	}
	failed, ok := outcome.Decoded[0].(bool)
	return ok && failed
}

func copyAccount(dst, src *state.MemoryBackend, addr kiln.Address) {
	info, found, err := src.Basic(addr)
	if err != nil || !found {
		return
	}
	dst.InsertAccountInfo(addr, info)
	for key, value := range src.StorageSlots(addr) {
		dst.InsertAccountStorage(addr, key, value)
	}
}
