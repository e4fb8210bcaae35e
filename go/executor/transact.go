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
	"fmt"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
)

const (
	TxGas                    = 21_000
	TxGasContractCreation    = 53_000
	TxDataNonZeroGasEIP2028  = 16
	TxDataNonZeroGasFrontier = 68
	TxDataZeroGas            = 4
	InitCodeWordGas          = 2

	maxRefundQuotient        = 2
	maxRefundQuotientEIP3529 = 5
)

// CalcStipend computes the base cost of a call carrying the given calldata.
// It is 21000 plus 4 per zero byte and, depending on the revision, 16 or 68
// per non-zero byte.
func CalcStipend(calldata kiln.Data, revision kiln.Revision) kiln.Gas {
	nonZeroCost := kiln.Gas(TxDataNonZeroGasEIP2028)
	if revision < kiln.R07_Istanbul {
		nonZeroCost = TxDataNonZeroGasFrontier
	}
	gas := kiln.Gas(TxGas)
	for _, b := range calldata {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += nonZeroCost
		}
	}
	return gas
}

func intrinsicGas(env *Env) kiln.Gas {
	gas := CalcStipend(env.Tx.Data, env.Cfg.Revision)
	if env.Tx.TransactTo.Kind.IsCreate() {
		gas += TxGasContractCreation - TxGas
		if env.Cfg.Revision >= kiln.R12_Shanghai {
			words := (len(env.Tx.Data) + 31) / 32
			gas += kiln.Gas(words * InitCodeWordGas)
		}
	}
	return gas
}

// transactionResult is the outcome of a single transaction before any
// observer data is attached.
type transactionResult struct {
	Status         kiln.ExitStatus
	Output         kiln.Data
	CreatedAddress *kiln.Address
	GasUsed        kiln.Gas
	GasRefunded    kiln.Gas
	Changeset      state.Changeset
	Logs           []kiln.Log
}

// transact runs the transaction described by env on top of the given
// database. The database itself is only modified by cheat codes; all other
// effects are reported through the resulting changeset. Errors are reserved
// for invalid transactions and infrastructure failures.
func transact(
	interpreter kiln.Interpreter,
	db state.Database,
	env *Env,
	observers *observer.Stack,
) (transactionResult, error) {
	target := env.Tx.TransactTo
	if target.Kind != kiln.Call && target.Kind != kiln.Create {
		return transactionResult{}, fmt.Errorf("%w: %v", ErrUnsupportedTarget, target.Kind)
	}
	if target.Kind == kiln.Create && env.Cfg.Revision >= kiln.R12_Shanghai && len(env.Tx.Data) > maxInitCodeSize {
		return transactionResult{}, fmt.Errorf("%w: init code size %d exceeds %d", ErrUnsupportedTarget, len(env.Tx.Data), maxInitCodeSize)
	}

	gasLimit := env.Tx.GasLimit
	intrinsic := intrinsicGas(env)
	if gasLimit < intrinsic {
		return transactionResult{}, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, gasLimit, intrinsic)
	}

	journal := newJournal(db, observers)
	context := runContext{
		transaction: &transaction{
			journal:     journal,
			interpreter: interpreter,
			env:         env,
			observers:   observers,
		},
	}
	caller := env.Tx.Caller

	if nonce := env.Tx.Nonce; nonce != nil {
		if current := context.GetNonce(caller); *nonce != current {
			return transactionResult{}, fmt.Errorf("%w: %d != %d", ErrNonceMismatch, *nonce, current)
		}
	}

	if err := buyGas(env, context); err != nil {
		return transactionResult{}, err
	}

	revision := env.Cfg.Revision
	if revision >= kiln.R09_Berlin {
		journal.AccessAccount(caller)
		if target.Kind == kiln.Call {
			journal.AccessAccount(target.Address)
		}
		for _, addr := range precompiledAddresses(revision) {
			journal.AccessAccount(addr)
		}
	}
	if revision >= kiln.R12_Shanghai {
		journal.AccessAccount(env.Block.Coinbase)
	}

	if target.Kind == kiln.Call {
		if err := incrementNonce(context, caller); err != nil {
			return transactionResult{}, err
		}
	}

	result, err := context.Call(target.Kind, kiln.CallParameters{
		Sender:      caller,
		Recipient:   target.Address,
		Value:       env.Tx.Value,
		Input:       env.Tx.Data,
		Gas:         gasLimit - intrinsic,
		CodeAddress: target.Address,
	})
	if err != nil {
		return transactionResult{}, fmt.Errorf("%w: %w", ErrInterpreterFailure, err)
	}
	if journal.err != nil {
		return transactionResult{}, journal.err
	}

	gasUsed := gasLimit - result.GasLeft
	var refund kiln.Gas
	if result.Success() && result.GasRefund > 0 {
		quotient := kiln.Gas(maxRefundQuotient)
		if revision >= kiln.R10_London {
			quotient = maxRefundQuotientEIP3529
		}
		refund = min(result.GasRefund, gasUsed/quotient)
	}
	gasUsed -= refund
	refundGas(env, context, gasLimit-gasUsed)

	res := transactionResult{
		Status:      result.Status,
		Output:      result.Output,
		GasUsed:     gasUsed,
		GasRefunded: refund,
		Changeset:   journal.changeset(),
		Logs:        journal.GetLogs(),
	}
	if target.Kind.IsCreate() && result.Success() {
		created := result.CreatedAddress
		res.CreatedAddress = &created
	}
	return res, nil
}

// buyGas charges the caller for the full gas limit; it is a no-op for the
// zero gas price used by test executions.
func buyGas(env *Env, context kiln.TransactionContext) error {
	if env.Tx.GasPrice.IsZero() {
		return nil
	}
	cost := env.Tx.GasPrice.Scale(uint64(env.Tx.GasLimit))
	total, overflow := kiln.AddOverflow(cost, env.Tx.Value)
	balance := context.GetBalance(env.Tx.Caller)
	if overflow || balance.Cmp(total) < 0 {
		return fmt.Errorf("%w: address %v have %v want %v", ErrInsufficientFunds, env.Tx.Caller, balance, total)
	}
	context.SetBalance(env.Tx.Caller, kiln.Sub(balance, cost))
	return nil
}

func refundGas(env *Env, context kiln.TransactionContext, gasLeft kiln.Gas) {
	if env.Tx.GasPrice.IsZero() || gasLeft <= 0 {
		return
	}
	refund := env.Tx.GasPrice.Scale(uint64(gasLeft))
	context.SetBalance(env.Tx.Caller, kiln.Add(context.GetBalance(env.Tx.Caller), refund))
}
