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
	"strconv"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	MaxRecursiveDepth    = 1024
	maxCodeSize          = 24576
	maxInitCodeSize      = 2 * maxCodeSize
	createGasCostPerByte = 200
)

// transaction is the state shared by all frames of a single execution.
type transaction struct {
	*journal
	interpreter kiln.Interpreter
	env         *Env
	observers   *observer.Stack
}

// runContext is the view of a single call frame. It is passed by value so
// depth and static mode are frame local.
type runContext struct {
	*transaction
	depth  int
	static bool
}

func (r runContext) Call(kind kiln.CallKind, parameters kiln.CallParameters) (kiln.CallResult, error) {
	if kind.IsCreate() {
		return r.executeCreate(kind, parameters)
	}
	return r.executeCall(kind, parameters)
}

func (r runContext) executeCall(kind kiln.CallKind, parameters kiln.CallParameters) (kiln.CallResult, error) {
	if r.depth > MaxRecursiveDepth {
		return kiln.CallResult{Status: kiln.CallTooDeep, GasLeft: parameters.Gas}, nil
	}
	revision := r.env.Cfg.Revision

	if kind == kiln.Call || kind == kiln.CallCode {
		if !canTransferValue(r, parameters.Value, parameters.Sender, &parameters.Recipient) {
			return kiln.CallResult{Status: kiln.OutOfFunds, GasLeft: parameters.Gas}, nil
		}
	}
	snapshot := r.CreateSnapshot()
	recipient := parameters.Recipient

	codeAddress := recipient
	if kind == kiln.DelegateCall || kind == kiln.CallCode {
		codeAddress = parameters.CodeAddress
	}
	code := r.GetCode(codeAddress)
	codeHash := r.GetCodeHash(codeAddress)

	frame := observer.Frame{
		Depth:    r.depth,
		Kind:     kind,
		From:     parameters.Sender,
		To:       recipient,
		Input:    parameters.Input,
		Value:    parameters.Value,
		Gas:      parameters.Gas,
		Code:     code,
		CodeHash: codeHash,
	}
	r.depth++
	if kind == kiln.StaticCall {
		r.static = true
	}

	if kind == kiln.Call || kind == kiln.CallCode {
		transferValue(r, parameters.Value, parameters.Sender, recipient)
	}

	r.observers.OnEnter(frame)
	if result, handled := r.observers.Intercept(r, frame); handled {
		return r.finish(snapshot, result), nil
	}

	if revision >= kiln.R09_Berlin &&
		!isPrecompiled(recipient, revision) &&
		!r.AccountExists(recipient) &&
		parameters.Value.IsZero() {
		return r.finish(snapshot, kiln.CallResult{Status: kiln.Stopped, GasLeft: parameters.Gas}), nil
	}

	if result, isPrecompiled := handlePrecompiled(revision, parameters.Input, codeAddress, parameters.Gas); isPrecompiled {
		return r.finish(snapshot, result), nil
	}

	interpreterParameters := kiln.Parameters{
		BlockParameters:       r.env.blockParameters(),
		TransactionParameters: r.env.transactionParameters(),
		Context:               r,
		Kind:                  kind,
		Static:                r.static,
		Depth:                 r.depth - 1, // depth has already been incremented
		Gas:                   parameters.Gas,
		Recipient:             recipient,
		Sender:                parameters.Sender,
		Input:                 parameters.Input,
		Value:                 parameters.Value,
		CodeHash:              &codeHash,
		Code:                  code,
		Observer:              r.observers.StepObserver(),
	}

	interpreterResult, err := r.interpreter.Run(interpreterParameters)
	if err != nil {
		r.RestoreSnapshot(snapshot)
		r.observers.OnExit(observer.FrameResult{Status: kiln.Failed})
		return kiln.CallResult{}, err
	}
	return r.finish(snapshot, kiln.CallResult{
		Status:    interpreterResult.Status,
		Output:    interpreterResult.Output,
		GasLeft:   interpreterResult.GasLeft,
		GasRefund: interpreterResult.GasRefund,
	}), nil
}

// finish completes a call frame. Failed frames are rolled back; unless the
// failure is a revert, all remaining gas is consumed.
func (r runContext) finish(snapshot kiln.Snapshot, result kiln.CallResult) kiln.CallResult {
	if !result.Success() {
		r.RestoreSnapshot(snapshot)
		result.GasRefund = 0
		if !result.Status.IsRevert() {
			result.GasLeft = 0
			result.Output = nil
		}
	}
	r.observers.OnExit(observer.FrameResult{
		Status:  result.Status,
		Output:  result.Output,
		GasLeft: result.GasLeft,
	})
	return result
}

func (r runContext) executeCreate(kind kiln.CallKind, parameters kiln.CallParameters) (kiln.CallResult, error) {
	if r.depth > MaxRecursiveDepth {
		return kiln.CallResult{Status: kiln.CallTooDeep, GasLeft: parameters.Gas}, nil
	}
	revision := r.env.Cfg.Revision

	if !canTransferValue(r, parameters.Value, parameters.Sender, nil) {
		return kiln.CallResult{Status: kiln.OutOfFunds, GasLeft: parameters.Gas}, nil
	}
	if err := incrementNonce(r, parameters.Sender); err != nil {
		return kiln.CallResult{Status: kiln.Failed, GasLeft: parameters.Gas}, nil
	}

	code := kiln.Code(parameters.Input)
	codeHash := kiln.HashCode(code)

	createdAddress := createAddress(kind, parameters.Sender, r.GetNonce(parameters.Sender)-1,
		parameters.Salt, codeHash)

	if revision >= kiln.R09_Berlin {
		r.AccessAccount(createdAddress)
	}

	if r.GetNonce(createdAddress) != 0 ||
		(r.GetCodeHash(createdAddress) != (kiln.Hash{}) &&
			r.GetCodeHash(createdAddress) != kiln.EmptyCodeHash) {
		return kiln.CallResult{Status: kiln.CreateCollision}, nil
	}
	snapshot := r.CreateSnapshot()

	frame := observer.Frame{
		Depth:    r.depth,
		Kind:     kind,
		From:     parameters.Sender,
		To:       createdAddress,
		Input:    parameters.Input,
		Value:    parameters.Value,
		Gas:      parameters.Gas,
		Code:     code,
		CodeHash: codeHash,
	}
	r.depth++

	r.markCreated(createdAddress)
	r.SetNonce(createdAddress, 1)
	transferValue(r, parameters.Value, parameters.Sender, createdAddress)

	r.observers.OnEnter(frame)
	interpreterParameters := kiln.Parameters{
		BlockParameters:       r.env.blockParameters(),
		TransactionParameters: r.env.transactionParameters(),
		Context:               r,
		Kind:                  kind,
		Static:                r.static,
		Depth:                 r.depth - 1, // depth has already been incremented
		Gas:                   parameters.Gas,
		Recipient:             createdAddress,
		Sender:                parameters.Sender,
		Input:                 nil,
		Value:                 parameters.Value,
		CodeHash:              &codeHash,
		Code:                  code,
		Observer:              r.observers.StepObserver(),
	}

	interpreterResult, err := r.interpreter.Run(interpreterParameters)
	if err != nil {
		r.RestoreSnapshot(snapshot)
		r.observers.OnExit(observer.FrameResult{Status: kiln.Failed})
		return kiln.CallResult{}, err
	}
	result := kiln.CallResult{
		Status:    interpreterResult.Status,
		Output:    interpreterResult.Output,
		GasLeft:   interpreterResult.GasLeft,
		GasRefund: interpreterResult.GasRefund,
	}
	if !result.Success() {
		return r.finish(snapshot, result), nil
	}

	outCode := result.Output
	createGas := kiln.Gas(len(outCode) * createGasCostPerByte)
	switch {
	case len(outCode) > maxCodeSize:
		result.Status = kiln.MaxCodeSize
	case revision >= kiln.R10_London && len(outCode) > 0 && outCode[0] == 0xEF:
		result.Status = kiln.InvalidCode
	case result.GasLeft < createGas:
		result.Status = kiln.OutOfGas
	default:
		result.GasLeft -= createGas
		result.Status = kiln.Returned
		result.CreatedAddress = createdAddress
		r.SetCode(createdAddress, kiln.Code(outCode))
	}
	return r.finish(snapshot, result), nil
}

// SelfDestruct transfers the balance of addr to the beneficiary. Starting
// with Cancun the account is only removed if it was created in the ongoing
// transaction.
func (r runContext) SelfDestruct(addr kiln.Address, beneficiary kiln.Address) bool {
	destroy := r.env.Cfg.Revision < kiln.R13_Cancun || r.createdInTransaction(addr)
	return r.selfDestruct(addr, beneficiary, destroy)
}

// GetBlockHash derives a hash for the most recent 256 blocks from their
// number, zero for all others.
func (r runContext) GetBlockHash(number int64) kiln.Hash {
	current := r.env.Block.Number
	if number < 0 || number >= current || number < current-256 {
		return kiln.Hash{}
	}
	return kiln.Hash(crypto.Keccak256Hash([]byte(strconv.FormatInt(number, 10))))
}

// BlockParameters exposes the current block environment, which cheat codes
// may change while a frame is running.
func (r runContext) BlockParameters() kiln.BlockParameters {
	return r.env.blockParameters()
}

func (r runContext) SetTimestamp(timestamp int64) {
	r.env.Block.Timestamp = timestamp
}

func (r runContext) SetBlockNumber(number int64) {
	r.env.Block.Number = number
}

func (r runContext) SetChainID(id kiln.Word) {
	r.env.Cfg.ChainID = id
}

func (r runContext) SetBaseFee(fee kiln.Value) {
	r.env.Block.BaseFee = fee
}

// Snapshot records the buffered changes and the environment in the database.
func (r runContext) Snapshot() uint64 {
	return uint64(r.db.Snapshot(r.changeset(), r.env.Clone()))
}

// RevertTo restores a snapshot recorded by Snapshot. The transaction being
// executed is not affected.
func (r runContext) RevertTo(id uint64) bool {
	changes, env, found := r.db.RevertTo(state.SnapshotID(id), r.changeset())
	if !found {
		return false
	}
	r.replaceChanges(changes)
	if env, ok := env.(Env); ok {
		r.env.Cfg = env.Cfg
		r.env.Block = env.Block
	}
	return true
}

func createAddress(
	kind kiln.CallKind,
	sender kiln.Address,
	nonce uint64,
	salt kiln.Hash,
	initHash kiln.Hash,
) kiln.Address {
	if kind == kiln.Create {
		return kiln.Address(crypto.CreateAddress(common.Address(sender), nonce))
	}
	return kiln.Address(crypto.CreateAddress2(common.Address(sender), common.Hash(salt), initHash[:]))
}

func canTransferValue(
	context kiln.TransactionContext,
	value kiln.Value,
	sender kiln.Address,
	recipient *kiln.Address,
) bool {
	if value.IsZero() {
		return true
	}

	senderBalance := context.GetBalance(sender)
	if senderBalance.Cmp(value) < 0 {
		return false
	}

	if recipient == nil || sender == *recipient {
		return true
	}

	receiverBalance := context.GetBalance(*recipient)
	_, overflow := kiln.AddOverflow(receiverBalance, value)
	return !overflow
}

func incrementNonce(context kiln.TransactionContext, address kiln.Address) error {
	nonce := context.GetNonce(address)
	if nonce+1 < nonce {
		return fmt.Errorf("nonce overflow")
	}
	context.SetNonce(address, nonce+1)
	return nil
}

// Only to be called after canTransferValue
func transferValue(
	context kiln.TransactionContext,
	value kiln.Value,
	sender kiln.Address,
	recipient kiln.Address,
) {
	if value.IsZero() || sender == recipient {
		return
	}
	context.SetBalance(sender, kiln.Sub(context.GetBalance(sender), value))
	context.SetBalance(recipient, kiln.Add(context.GetBalance(recipient), value))
}
