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
	"errors"
	"fmt"
	"math/big"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	geth "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

func init() {
	kiln.MustRegisterInterpreterFactory("geth", func(any) (kiln.Interpreter, error) {
		return &gethVm{}, nil
	})
}

// gethVm runs single call frames on the go-ethereum interpreter. Nested calls
// and creations are handed back to the run context.
type gethVm struct{}

// Defines the newest supported revision for this interpreter implementation
const newestSupportedRevision = kiln.R13_Cancun

func (m *gethVm) Run(parameters kiln.Parameters) (kiln.Result, error) {
	if parameters.Revision > newestSupportedRevision {
		return kiln.Result{}, &kiln.ErrUnsupportedRevision{Revision: parameters.Revision}
	}
	evm, contract, frame := createGethInterpreterContext(parameters)

	output, err := evm.Interpreter().Run(contract, parameters.Input, parameters.Static)
	if frame.calls.err != nil {
		return kiln.Result{}, frame.calls.err
	}

	result := kiln.Result{
		Output:    output,
		GasLeft:   kiln.Gas(contract.Gas),
		GasRefund: kiln.Gas(frame.stateDb.refund),
	}

	// If no error is reported, the execution ended with a STOP, RETURN, or SELFDESTRUCT.
	if err == nil {
		result.Status = frame.steps.successStatus()
		return result, nil
	}

	if errors.Is(err, geth.ErrExecutionReverted) {
		result.Status = kiln.Reverted
		return result, nil
	}

	// Issues caused by the executed code end the frame but are no errors.
	if status, found := haltStatus(err); found {
		return kiln.Result{Status: status}, nil
	}

	return kiln.Result{}, fmt.Errorf("internal EVM error in geth: %v", err)
}

func haltStatus(err error) (kiln.ExitStatus, bool) {
	switch {
	case errors.Is(err, geth.ErrOutOfGas),
		errors.Is(err, geth.ErrCodeStoreOutOfGas),
		errors.Is(err, geth.ErrGasUintOverflow):
		return kiln.OutOfGas, true
	case errors.Is(err, geth.ErrDepth):
		return kiln.CallTooDeep, true
	case errors.Is(err, geth.ErrInsufficientBalance):
		return kiln.OutOfFunds, true
	case errors.Is(err, geth.ErrContractAddressCollision):
		return kiln.CreateCollision, true
	case errors.Is(err, geth.ErrMaxCodeSizeExceeded):
		return kiln.MaxCodeSize, true
	case errors.Is(err, geth.ErrInvalidJump):
		return kiln.InvalidJump, true
	case errors.Is(err, geth.ErrWriteProtection):
		return kiln.StaticViolation, true
	case errors.Is(err, geth.ErrInvalidCode):
		return kiln.InvalidCode, true
	case errors.Is(err, geth.ErrReturnDataOutOfBounds):
		return kiln.Failed, true
	}

	var overflow *geth.ErrStackOverflow
	if errors.As(err, &overflow) {
		return kiln.StackOverflow, true
	}
	var underflow *geth.ErrStackUnderflow
	if errors.As(err, &underflow) {
		return kiln.StackUnderflow, true
	}
	var invalid *geth.ErrInvalidOpCode
	if errors.As(err, &invalid) {
		return kiln.InvalidInstruction, true
	}
	return kiln.Failed, false
}

// MakeChainConfig returns a chain config for the given chain ID and target revision.
// The baseline config is used as a starting point, so that any prefilled configuration
// from go-ethereum:params/config.go can be used. All forks up to the target revision
// are activated from genesis on, later ones are disabled.
func MakeChainConfig(baseline params.ChainConfig, chainId *big.Int, targetRevision kiln.Revision) params.ChainConfig {
	zero := uint64(0)
	forkBlock := func(revision kiln.Revision) *big.Int {
		if targetRevision >= revision {
			return big.NewInt(0)
		}
		return nil
	}

	chainConfig := baseline
	chainConfig.ChainID = chainId
	chainConfig.ByzantiumBlock = big.NewInt(0)
	chainConfig.ConstantinopleBlock = big.NewInt(0)
	chainConfig.PetersburgBlock = big.NewInt(0)
	chainConfig.IstanbulBlock = forkBlock(kiln.R07_Istanbul)
	chainConfig.MuirGlacierBlock = forkBlock(kiln.R07_Istanbul)
	chainConfig.BerlinBlock = forkBlock(kiln.R09_Berlin)
	chainConfig.LondonBlock = forkBlock(kiln.R10_London)
	chainConfig.ArrowGlacierBlock = forkBlock(kiln.R10_London)
	chainConfig.GrayGlacierBlock = forkBlock(kiln.R10_London)
	chainConfig.MergeNetsplitBlock = forkBlock(kiln.R11_Paris)
	chainConfig.ShanghaiTime = nil
	chainConfig.CancunTime = nil
	chainConfig.PragueTime = nil
	chainConfig.VerkleTime = nil

	if targetRevision >= kiln.R12_Shanghai {
		chainConfig.ShanghaiTime = &zero
	}
	if targetRevision >= kiln.R13_Cancun {
		chainConfig.CancunTime = &zero
	}
	return chainConfig
}

// frameState bundles the adapters attached to the EVM running a frame.
type frameState struct {
	stateDb *stateDbAdapter
	calls   *callInterceptor
	steps   *stepRecorder
}

func createGethInterpreterContext(parameters kiln.Parameters) (*geth.EVM, *geth.Contract, *frameState) {
	chainConfig :=
		MakeChainConfig(*params.AllEthashProtocolChanges,
			new(big.Int).SetBytes(parameters.ChainID[:]),
			parameters.Revision)

	// Hashing function used in the context for BLOCKHASH instruction
	getHash := func(num uint64) common.Hash {
		return common.Hash(parameters.Context.GetBlockHash(int64(num)))
	}

	blockCtx := geth.BlockContext{
		BlockNumber: big.NewInt(max(parameters.BlockNumber, 0)),
		Time:        uint64(max(parameters.Timestamp, 0)),
		Coinbase:    common.Address(parameters.Coinbase),
		Difficulty:  new(big.Int).SetBytes(parameters.PrevRandao[:]),
		GasLimit:    uint64(parameters.GasLimit),
		GetHash:     getHash,
		BaseFee:     parameters.BaseFee.ToBig(),
		BlobBaseFee: parameters.BlobBaseFee.ToBig(),
		Transfer:    transferFunc,
		CanTransfer: canTransferFunc,
	}

	if parameters.Revision >= kiln.R11_Paris {
		// Setting the random signals to geth that a post-merge (Paris) revision should be utilized.
		hash := common.Hash(parameters.PrevRandao)
		blockCtx.Random = &hash
	}

	txCtx := geth.TxContext{
		Origin:     common.Address(parameters.Origin),
		GasPrice:   parameters.GasPrice.ToBig(),
		BlobFeeCap: parameters.BlobBaseFee.ToBig(),
	}
	for _, hash := range parameters.BlobHashes {
		txCtx.BlobHashes = append(txCtx.BlobHashes, common.Hash(hash))
	}

	steps := &stepRecorder{observer: parameters.Observer, depth: parameters.Depth}
	config := geth.Config{
		Tracer: &tracing.Hooks{OnOpcode: steps.onOpcode},
	}

	stateDb := &stateDbAdapter{context: parameters.Context}
	calls := &callInterceptor{parameters: parameters, stateDb: stateDb}
	evm := geth.NewEVM(blockCtx, txCtx, stateDb, &chainConfig, config)
	evm.CallInterceptor = calls
	calls.evm = evm

	value := parameters.Value.ToUint256()
	addr := geth.AccountRef(parameters.Recipient)
	contract := geth.NewContract(addr, addr, value, uint64(parameters.Gas))
	contract.CallerAddress = common.Address(parameters.Sender)
	contract.Code = parameters.Code
	if parameters.CodeHash != nil {
		contract.CodeHash = common.Hash(*parameters.CodeHash)
	} else {
		contract.CodeHash = common.Hash(kiln.HashCode(parameters.Code))
	}
	contract.Input = parameters.Input

	return evm, contract, &frameState{stateDb: stateDb, calls: calls, steps: steps}
}

// stepRecorder forwards executed instructions to the step observer and
// remembers the last one to classify successful runs.
type stepRecorder struct {
	observer kiln.StepObserver
	depth    int
	lastOp   geth.OpCode
}

func (r *stepRecorder) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, _ []byte, _ int, _ error) {
	r.lastOp = geth.OpCode(op)
	if r.observer == nil {
		return
	}
	r.observer.OnStep(kiln.Step{
		Pc:        pc,
		Op:        op,
		Gas:       kiln.Gas(gas),
		Cost:      kiln.Gas(cost),
		StackSize: len(scope.StackData()),
		Depth:     r.depth,
	})
}

func (r *stepRecorder) successStatus() kiln.ExitStatus {
	switch r.lastOp {
	case geth.RETURN:
		return kiln.Returned
	case geth.SELFDESTRUCT:
		return kiln.SelfDestructed
	}
	return kiln.Stopped
}

// transferFunc subtracts amount from sender and adds amount to recipient using the given Db
func transferFunc(stateDB geth.StateDB, callerAddress common.Address, to common.Address, value *uint256.Int) {
	stateDB.SubBalance(callerAddress, value, tracing.BalanceChangeTransfer)
	stateDB.AddBalance(to, value, tracing.BalanceChangeTransfer)
}

// canTransferFunc is the signature of a transfer function
func canTransferFunc(stateDB geth.StateDB, callerAddress common.Address, value *uint256.Int) bool {
	return stateDB.GetBalance(callerAddress).Cmp(value) >= 0
}
