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
	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/core/vm"
)

func handlePrecompiled(revision kiln.Revision, input kiln.Data, address kiln.Address, gas kiln.Gas) (kiln.CallResult, bool) {
	contract, ok := precompiledContract(address, revision)
	if !ok {
		return kiln.CallResult{}, false
	}
	gasCost := contract.RequiredGas(input)
	if gasCost > uint64(gas) {
		return kiln.CallResult{Status: kiln.OutOfGas}, true
	}
	gas -= kiln.Gas(gasCost)
	output, err := contract.Run(input)
	if err != nil {
		// precompiled contracts only return errors on invalid input
		return kiln.CallResult{Status: kiln.Failed}, true
	}
	return kiln.CallResult{
		Status:  kiln.Returned,
		Output:  output,
		GasLeft: gas,
	}, true
}

func isPrecompiled(address kiln.Address, revision kiln.Revision) bool {
	_, ok := precompiledContract(address, revision)
	return ok
}

func precompiledContract(address kiln.Address, revision kiln.Revision) (geth.PrecompiledContract, bool) {
	var precompiles map[common.Address]geth.PrecompiledContract
	switch revision {
	case kiln.R13_Cancun:
		precompiles = geth.PrecompiledContractsCancun
	case kiln.R12_Shanghai, kiln.R11_Paris, kiln.R10_London, kiln.R09_Berlin:
		precompiles = geth.PrecompiledContractsBerlin
	case kiln.R07_Istanbul:
		precompiles = geth.PrecompiledContractsIstanbul
	default:
		precompiles = geth.PrecompiledContractsByzantium
	}
	contract, ok := precompiles[common.Address(address)]
	return contract, ok
}

// precompiledAddresses lists the precompiled contracts warm at the start of
// every transaction.
func precompiledAddresses(revision kiln.Revision) []kiln.Address {
	var res []kiln.Address
	for i := 1; i <= 0xff; i++ {
		addr := kiln.Address{19: byte(i)}
		if isPrecompiled(addr, revision) {
			res = append(res, addr)
		}
	}
	return res
}
