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
	"errors"
	"fmt"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrSkip is returned when a test asked to be excluded from the results.
var ErrSkip = errors.New("test skipped")

// IsSkip reports whether err signals a skipped test.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSkip)
}

var (
	ErrIntrinsicGas       = errors.New("intrinsic gas too low")
	ErrInsufficientFunds  = errors.New("insufficient funds for gas * price + value")
	ErrNonceMismatch      = errors.New("nonce mismatch")
	ErrUnsupportedTarget  = errors.New("unsupported transaction target")
	ErrInterpreterFailure = errors.New("interpreter failure")
)

// AbiError reports a failure to encode a call or to decode its result.
type AbiError struct {
	Method string
	Err    error
}

func (e *AbiError) Error() string {
	return fmt.Sprintf("abi error for %s: %v", e.Method, e.Err)
}

func (e *AbiError) Unwrap() error {
	return e.Err
}

// ExecutionFailure is returned when a call expected to produce a result
// reverted or halted instead. It carries everything known about the failed
// execution.
type ExecutionFailure struct {
	Reason         string
	Reverted       bool
	GasUsed        kiln.Gas
	GasRefunded    kiln.Gas
	Stipend        kiln.Gas
	Logs           []*types.Log
	Traces         *observer.CallTraceArena
	Debug          *observer.DebugArena
	Labels         map[kiln.Address]string
	Transactions   observer.BroadcastableTransactions
	StateChangeset state.Changeset
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution reverted: %s (gas: %d)", e.Reason, e.GasUsed)
}

func newExecutionFailure(reason string, outcome *RawOutcome, changes state.Changeset) *ExecutionFailure {
	return &ExecutionFailure{
		Reason:         reason,
		Reverted:       outcome.Reverted,
		GasUsed:        outcome.GasUsed,
		GasRefunded:    outcome.GasRefunded,
		Stipend:        outcome.Stipend,
		Logs:           outcome.Logs,
		Traces:         outcome.Traces,
		Debug:          outcome.Debug,
		Labels:         outcome.Labels,
		Transactions:   outcome.Transactions,
		StateChangeset: changes,
	}
}
