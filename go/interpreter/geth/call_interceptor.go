// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package geth

import (
	"math/big"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// callInterceptor hands nested calls and creations issued by the geth
// interpreter back to the run context, so they are executed, observed and
// accounted for by the engine rather than by geth's EVM.
type callInterceptor struct {
	parameters kiln.Parameters
	stateDb    *stateDbAdapter
	evm        *geth.EVM
	err        error // < the first infrastructure error of a nested call
}

// blockParameterSource is implemented by run contexts whose block
// environment may be modified by nested calls.
type blockParameterSource interface {
	BlockParameters() kiln.BlockParameters
}

func (i *callInterceptor) makeCall(kind kiln.CallKind, callParam kiln.CallParameters) (kiln.CallResult, error) {
	res, err := i.parameters.Context.Call(kind, callParam)
	if err != nil {
		if i.err == nil {
			i.err = err
		}
		return kiln.CallResult{}, geth.ErrExecutionReverted
	}
	i.refreshBlockContext()
	i.handleGasRefund(res.GasRefund)
	return res, statusToError(res.Status)
}

// refreshBlockContext makes block environment changes of nested calls, like
// cheat codes, visible to the running frame.
func (i *callInterceptor) refreshBlockContext() {
	source, ok := i.parameters.Context.(blockParameterSource)
	if !ok || i.evm == nil {
		return
	}
	block := source.BlockParameters()
	i.evm.Context.BlockNumber = big.NewInt(max(block.BlockNumber, 0))
	i.evm.Context.Time = uint64(max(block.Timestamp, 0))
	i.evm.Context.BaseFee = block.BaseFee.ToBig()
	i.evm.ChainConfig().ChainID = new(big.Int).SetBytes(block.ChainID[:])
}

func (i *callInterceptor) Call(env *geth.EVM, me geth.ContractRef, addr common.Address, data []byte, gas uint64, value *uint256.Int) ([]byte, uint64, error) {
	res, err := i.makeCall(kiln.Call, kiln.CallParameters{
		Sender:      kiln.Address(me.Address()),
		Recipient:   kiln.Address(addr),
		Value:       kiln.ValueFromUint256(value),
		Input:       data,
		Gas:         kiln.Gas(gas),
		CodeAddress: kiln.Address(addr),
	})
	return res.Output, uint64(res.GasLeft), err
}

func (i *callInterceptor) CallCode(env *geth.EVM, me geth.ContractRef, addr common.Address, data []byte, gas uint64, value *uint256.Int) ([]byte, uint64, error) {
	res, err := i.makeCall(kiln.CallCode, kiln.CallParameters{
		Sender:      kiln.Address(me.Address()),
		Recipient:   kiln.Address(me.Address()),
		Value:       kiln.ValueFromUint256(value),
		Input:       data,
		Gas:         kiln.Gas(gas),
		CodeAddress: kiln.Address(addr),
	})
	return res.Output, uint64(res.GasLeft), err
}

func (i *callInterceptor) DelegateCall(env *geth.EVM, me geth.ContractRef, addr common.Address, data []byte, gas uint64) ([]byte, uint64, error) {
	res, err := i.makeCall(kiln.DelegateCall, kiln.CallParameters{
		Sender:      i.parameters.Sender,
		Recipient:   i.parameters.Recipient,
		Value:       i.parameters.Value,
		Input:       data,
		Gas:         kiln.Gas(gas),
		CodeAddress: kiln.Address(addr),
	})
	return res.Output, uint64(res.GasLeft), err
}

func (i *callInterceptor) StaticCall(env *geth.EVM, me geth.ContractRef, addr common.Address, input []byte, gas uint64) ([]byte, uint64, error) {
	res, err := i.makeCall(kiln.StaticCall, kiln.CallParameters{
		Sender:      kiln.Address(me.Address()),
		Recipient:   kiln.Address(addr),
		Input:       input,
		Gas:         kiln.Gas(gas),
		CodeAddress: kiln.Address(addr),
	})
	return res.Output, uint64(res.GasLeft), err
}

func (i *callInterceptor) Create(env *geth.EVM, me geth.ContractRef, code []byte, gas uint64, value *uint256.Int) ([]byte, common.Address, uint64, error) {
	res, err := i.makeCall(kiln.Create, kiln.CallParameters{
		Sender: kiln.Address(me.Address()),
		Value:  kiln.ValueFromUint256(value),
		Gas:    kiln.Gas(gas),
		Input:  code,
	})
	return res.Output, common.Address(res.CreatedAddress), uint64(res.GasLeft), err
}

func (i *callInterceptor) Create2(env *geth.EVM, me geth.ContractRef, code []byte, gas uint64, value *uint256.Int, salt *uint256.Int) ([]byte, common.Address, uint64, error) {
	res, err := i.makeCall(kiln.Create2, kiln.CallParameters{
		Sender: kiln.Address(me.Address()),
		Value:  kiln.ValueFromUint256(value),
		Gas:    kiln.Gas(gas),
		Input:  code,
		Salt:   salt.Bytes32(),
	})
	return res.Output, common.Address(res.CreatedAddress), uint64(res.GasLeft), err
}

func (i *callInterceptor) handleGasRefund(refund kiln.Gas) {
	if refund < 0 {
		i.stateDb.SubRefund(uint64(-refund))
	} else {
		i.stateDb.AddRefund(uint64(refund))
	}
}

// statusToError converts the status of a nested frame into the error geth's
// instructions expect. Only reverts keep their output.
func statusToError(status kiln.ExitStatus) error {
	switch status {
	case kiln.Stopped, kiln.Returned, kiln.SelfDestructed:
		return nil
	case kiln.Reverted:
		return geth.ErrExecutionReverted
	case kiln.OutOfFunds:
		return geth.ErrInsufficientBalance
	case kiln.CallTooDeep:
		return geth.ErrDepth
	case kiln.CreateCollision:
		return geth.ErrContractAddressCollision
	case kiln.MaxCodeSize:
		return geth.ErrMaxCodeSizeExceeded
	case kiln.InvalidCode:
		return geth.ErrInvalidCode
	case kiln.StaticViolation:
		return geth.ErrWriteProtection
	case kiln.InvalidJump:
		return geth.ErrInvalidJump
	}
	return geth.ErrOutOfGas
}
