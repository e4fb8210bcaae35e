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
	"bytes"
	"fmt"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/core/types"
)

// Output is the typed result payload of an execution.
type Output struct {
	Kind           kiln.CallKind
	Data           kiln.Data
	CreatedAddress *kiln.Address // < only set for successful creations
}

// RawOutcome is the normalized result of any execution, committing or not.
type RawOutcome struct {
	ExitReason      kiln.ExitStatus
	Reverted        bool
	SnapshotFailure bool
	Result          kiln.Data
	GasUsed         kiln.Gas
	GasRefunded     kiln.Gas
	Stipend         kiln.Gas
	Logs            []*types.Log
	Labels          map[kiln.Address]string
	Traces          *observer.CallTraceArena
	Coverage        observer.HitMaps
	Debug           *observer.DebugArena
	Transactions    observer.BroadcastableTransactions
	StateChangeset  state.Changeset // < only set by non-committing executions
	Env             Env
	Harness         *observer.Harness
	Out             *Output
}

// IsSkip reports whether the execution ended by the test asking to be
// skipped.
func (o *RawOutcome) IsSkip() bool {
	return bytes.Equal(o.Result, kiln.SkipMarker)
}

// CallOutcome is the result of a call with an ABI decoded return value.
type CallOutcome struct {
	*RawOutcome
	Decoded []any // < nil if the call reverted
}

// DeployOutcome is the result of a successful deployment.
type DeployOutcome struct {
	*RawOutcome
	Address kiln.Address
}

// convertExecutedResult normalizes a transaction result and the artifacts
// collected by the observers. Snapshot failures are taken from the database
// the transaction ran on.
func convertExecutedResult(env Env, observers *observer.Stack, result transactionResult, hasSnapshotFailure bool) *RawOutcome {
	artifacts := observers.Collect()

	logs := artifacts.Logs
	if observers.Logs == nil {
		logs = make([]*types.Log, 0, len(result.Logs))
		for i, log := range result.Logs {
			logs = append(logs, observer.ToGethLog(log, uint(i)))
		}
	}

	var transactions observer.BroadcastableTransactions
	if artifacts.Harness != nil {
		if recorded := artifacts.Harness.Transactions(); len(recorded) > 0 {
			transactions = recorded
		}
	}

	return &RawOutcome{
		ExitReason:      result.Status,
		Reverted:        !result.Status.IsSuccess(),
		SnapshotFailure: hasSnapshotFailure,
		Result:          result.Output,
		GasUsed:         result.GasUsed,
		GasRefunded:     result.GasRefunded,
		Stipend:         CalcStipend(env.Tx.Data, env.Cfg.Revision),
		Logs:            logs,
		Labels:          artifacts.Labels,
		Traces:          artifacts.Traces,
		Coverage:        artifacts.Coverage,
		Debug:           artifacts.Debug,
		Transactions:    transactions,
		StateChangeset:  result.Changeset,
		Env:             env,
		Harness:         artifacts.Harness,
		Out: &Output{
			Kind:           env.Tx.TransactTo.Kind,
			Data:           result.Output,
			CreatedAddress: result.CreatedAddress,
		},
	}
}

func newDeployOutcome(raw *RawOutcome) (*DeployOutcome, error) {
	if raw.Out == nil || !raw.Out.Kind.IsCreate() || raw.Out.CreatedAddress == nil {
		return nil, fmt.Errorf("deployment succeeded, but no address was returned")
	}
	return &DeployOutcome{RawOutcome: raw, Address: *raw.Out.CreatedAddress}, nil
}
