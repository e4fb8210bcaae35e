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
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/Fantom-foundation/Kiln/go/executor"
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/mock/gomock"
)

var (
	caller = kiln.Address{0xca}
	target = kiln.Address{0x10}
	callee = kiln.Address{0x20}
)

// asm concatenates instructions and their immediate arguments.
func asm(parts ...[]byte) kiln.Code {
	return kiln.Code(bytes.Join(parts, nil))
}

func op(codes ...byte) []byte {
	return codes
}

// callTo is the code for a value-less CALL to addr forwarding all gas and
// passing the first argsSize bytes of memory.
func callTo(addr kiln.Address, argsSize byte) []byte {
	return asm(
		op(0x60, 0x00), // retSize
		op(0x60, 0x00), // retOffset
		op(0x60, argsSize),
		op(0x60, 0x00), // argsOffset
		op(0x60, 0x00), // value
		op(0x73), addr[:],
		op(0x5a, 0xf1), // GAS CALL
	)
}

func word(x uint64) kiln.Data {
	return common.LeftPadBytes(new(big.Int).SetUint64(x).Bytes(), 32)
}

func newTestExecutor(t *testing.T, tracing bool) *executor.Executor {
	t.Helper()
	exec, err := executor.NewBuilder().
		WithInterpreter(&gethVm{}).
		WithGasLimit(1_000_000).
		WithTracing(tracing).
		Build(nil)
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}
	return exec
}

func TestGethVm_IsRegistered(t *testing.T) {
	interpreter, err := kiln.NewInterpreter("geth")
	if err != nil {
		t.Fatalf("failed to create interpreter: %v", err)
	}
	if _, ok := interpreter.(*gethVm); !ok {
		t.Errorf("unexpected interpreter type %T", interpreter)
	}
}

func TestGethVm_RejectsUnsupportedRevision(t *testing.T) {
	vm := &gethVm{}
	_, err := vm.Run(kiln.Parameters{
		BlockParameters: kiln.BlockParameters{Revision: newestSupportedRevision + 1},
	})
	var unsupported *kiln.ErrUnsupportedRevision
	if !errors.As(err, &unsupported) {
		t.Errorf("expected an unsupported revision error, got %v", err)
	}
}

func TestGethVm_ReportsSteps(t *testing.T) {
	ctrl := gomock.NewController(t)
	steps := kiln.NewMockStepObserver(ctrl)

	gomock.InOrder(
		steps.EXPECT().OnStep(kiln.Step{Pc: 0, Op: 0x60, Gas: 100, Cost: 3, StackSize: 0, Depth: 2}),
		steps.EXPECT().OnStep(kiln.Step{Pc: 2, Op: 0x60, Gas: 97, Cost: 3, StackSize: 1, Depth: 2}),
		steps.EXPECT().OnStep(kiln.Step{Pc: 4, Op: 0x01, Gas: 94, Cost: 3, StackSize: 2, Depth: 2}),
		steps.EXPECT().OnStep(kiln.Step{Pc: 5, Op: 0x00, Gas: 91, Cost: 0, StackSize: 1, Depth: 2}),
	)

	vm := &gethVm{}
	result, err := vm.Run(kiln.Parameters{
		BlockParameters: kiln.BlockParameters{Revision: kiln.R13_Cancun},
		Code:            asm(op(0x60, 0x01), op(0x60, 0x02), op(0x01), op(0x00)),
		Gas:             100,
		Depth:           2,
		Observer:        steps,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != kiln.Stopped || result.GasLeft != 91 {
		t.Errorf("unexpected result %v", result)
	}
}

func TestGethVm_ExitStatus(t *testing.T) {
	tests := map[string]struct {
		code   kiln.Code
		status kiln.ExitStatus
		output kiln.Data
	}{
		"stop": {
			code:   asm(op(0x00)),
			status: kiln.Stopped,
		},
		"return empty": {
			code:   asm(op(0x60, 0x00, 0x60, 0x00, 0xf3)),
			status: kiln.Returned,
		},
		"return data": {
			code:   asm(op(0x60, 0x2a, 0x60, 0x00, 0x52), op(0x60, 0x20, 0x60, 0x00, 0xf3)),
			status: kiln.Returned,
			output: word(42),
		},
		"revert": {
			code:   asm(op(0x60, 0x2a, 0x60, 0x00, 0x52), op(0x60, 0x20, 0x60, 0x00, 0xfd)),
			status: kiln.Reverted,
			output: word(42),
		},
		"self destruct": {
			code:   asm(op(0x33, 0xff)),
			status: kiln.SelfDestructed,
		},
		"invalid instruction": {
			code:   asm(op(0xfe)),
			status: kiln.InvalidInstruction,
		},
		"stack underflow": {
			code:   asm(op(0x01)),
			status: kiln.StackUnderflow,
		},
		"invalid jump": {
			code:   asm(op(0x60, 0x00, 0x56)),
			status: kiln.InvalidJump,
		},
		"out of gas": {
			code:   asm(op(0x5b, 0x60, 0x00, 0x56)),
			status: kiln.OutOfGas,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			exec := newTestExecutor(t, false)
			exec.Backend().InsertAccountInfo(target, state.NewAccountInfo(kiln.Value{}, 0, test.code))

			outcome, err := exec.CallRaw(caller, target, nil, kiln.Value{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want, got := test.status, outcome.ExitReason; want != got {
				t.Errorf("unexpected status, wanted %v, got %v", want, got)
			}
			if !bytes.Equal(test.output, outcome.Result) {
				t.Errorf("unexpected output, wanted %x, got %x", test.output, outcome.Result)
			}
			if outcome.ExitReason.IsHalt() && outcome.GasUsed != exec.GasLimit() {
				t.Errorf("halts should consume all gas, used %d", outcome.GasUsed)
			}
		})
	}
}

func TestGethVm_NestedCallsAreExecutedByRunContext(t *testing.T) {
	exec := newTestExecutor(t, true)
	backend := exec.Backend()
	backend.InsertAccountInfo(target, state.NewAccountInfo(kiln.Value{}, 0, asm(callTo(callee, 0), op(0x00))))
	// SSTORE(0, 1)
	backend.InsertAccountInfo(callee, state.NewAccountInfo(kiln.Value{}, 0, asm(op(0x60, 0x01, 0x60, 0x00, 0x55, 0x00))))

	outcome, err := exec.CallRaw(caller, target, nil, kiln.Value{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ExitReason != kiln.Stopped {
		t.Fatalf("unexpected status %v", outcome.ExitReason)
	}
	change := outcome.StateChangeset[callee]
	if change == nil || change.Storage[kiln.Key{}] != kiln.NewWord(1) {
		t.Errorf("nested call did not update the storage of the callee")
	}
	if got := len(outcome.Traces.Nodes); got != 2 {
		t.Fatalf("unexpected number of traced frames %d", got)
	}
	nested := outcome.Traces.Nodes[1]
	if nested.From != target || nested.To != callee || nested.Depth != 1 {
		t.Errorf("unexpected nested frame %+v", nested)
	}
}

func TestGethVm_RevertedNestedCallIsRolledBack(t *testing.T) {
	exec := newTestExecutor(t, false)
	backend := exec.Backend()
	// CALL callee, SSTORE(1, result of the call)
	backend.InsertAccountInfo(target, state.NewAccountInfo(kiln.Value{}, 0, asm(callTo(callee, 0), op(0x60, 0x01, 0x55, 0x00))))
	// SSTORE(0, 1) REVERT(0, 0)
	backend.InsertAccountInfo(callee, state.NewAccountInfo(kiln.Value{}, 0, asm(op(0x60, 0x01, 0x60, 0x00, 0x55), op(0x60, 0x00, 0x60, 0x00, 0xfd))))

	outcome, err := exec.CallRaw(caller, target, nil, kiln.Value{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ExitReason != kiln.Stopped {
		t.Fatalf("unexpected status %v", outcome.ExitReason)
	}
	if change := outcome.StateChangeset[callee]; change != nil && change.Storage[kiln.Key{}] != (kiln.Word{}) {
		t.Errorf("storage of the reverted call was kept")
	}
	if change := outcome.StateChangeset[target]; change == nil || change.Storage[kiln.Key{31: 1}] != (kiln.Word{}) {
		t.Errorf("call should have been reported as failed")
	}
}

func TestGethVm_CheatCodesAffectRunningFrame(t *testing.T) {
	exec := newTestExecutor(t, false)
	code := asm(
		op(0x63), observer.CheatCodeSelector("warp"), // PUSH4 selector
		op(0x60, 0xe0, 0x1b, 0x60, 0x00, 0x52),       // SHL by 224, MSTORE at 0
		op(0x61, 0x03, 0xe8, 0x60, 0x04, 0x52),       // MSTORE 1000 at 4
		callTo(kiln.CheatCodeAddress, 0x24),
		op(0x50),                         // POP
		op(0x42, 0x60, 0x00, 0x52),       // MSTORE TIMESTAMP at 0
		op(0x60, 0x20, 0x60, 0x00, 0xf3), // RETURN 32 bytes
	)
	exec.Backend().InsertAccountInfo(target, state.NewAccountInfo(kiln.Value{}, 0, code))

	outcome, err := exec.CallRaw(caller, target, nil, kiln.Value{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ExitReason != kiln.Returned {
		t.Fatalf("unexpected status %v", outcome.ExitReason)
	}
	if want, got := word(1000), outcome.Result; !bytes.Equal(want, got) {
		t.Errorf("unexpected timestamp, wanted %x, got %x", want, got)
	}
	if want, got := int64(1000), outcome.Env.Block.Timestamp; want != got {
		t.Errorf("environment was not updated, wanted %d, got %d", want, got)
	}
}

func TestGethVm_StorageRefundsAreReported(t *testing.T) {
	exec := newTestExecutor(t, false)
	backend := exec.Backend()
	// SSTORE(0, 0)
	backend.InsertAccountInfo(target, state.NewAccountInfo(kiln.Value{}, 0, asm(op(0x60, 0x00, 0x60, 0x00, 0x55, 0x00))))
	backend.InsertAccountStorage(target, kiln.Key{}, kiln.NewWord(1))

	outcome, err := exec.CallRaw(caller, target, nil, kiln.Value{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, got := kiln.Gas(params.SstoreClearsScheduleRefundEIP3529), outcome.GasRefunded; want != got {
		t.Errorf("unexpected refund, wanted %d, got %d", want, got)
	}
}

func TestGethVm_DeploysContracts(t *testing.T) {
	exec := newTestExecutor(t, false)
	runtime := asm(op(0x60, 0x2a, 0x60, 0x00, 0x52), op(0x60, 0x20, 0x60, 0x00, 0xf3))
	initCode := asm(
		op(0x60, byte(len(runtime)), 0x60, 0x0c, 0x60, 0x00, 0x39), // CODECOPY runtime to 0
		op(0x60, byte(len(runtime)), 0x60, 0x00, 0xf3),             // RETURN runtime
		runtime,
	)

	deployed, err := exec.Deploy(caller, kiln.Data(initCode), kiln.Value{})
	if err != nil {
		t.Fatalf("failed to deploy: %v", err)
	}
	outcome, err := exec.CallRaw(caller, deployed.Address, nil, kiln.Value{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want, got := word(42), outcome.Result; !bytes.Equal(want, got) {
		t.Errorf("unexpected result, wanted %x, got %x", want, got)
	}
}

func TestMakeChainConfig_ActivatesForksUpToRevision(t *testing.T) {
	for _, revision := range kiln.GetAllKnownRevisions() {
		t.Run(revision.String(), func(t *testing.T) {
			config := MakeChainConfig(*params.AllEthashProtocolChanges, big.NewInt(42), revision)
			rules := config.Rules(big.NewInt(1), revision >= kiln.R11_Paris, 1)

			if want, got := big.NewInt(42), config.ChainID; want.Cmp(got) != 0 {
				t.Errorf("unexpected chain id, wanted %v, got %v", want, got)
			}
			checks := map[string]struct {
				want, got bool
			}{
				"istanbul": {revision >= kiln.R07_Istanbul, rules.IsIstanbul},
				"berlin":   {revision >= kiln.R09_Berlin, rules.IsBerlin},
				"london":   {revision >= kiln.R10_London, rules.IsLondon},
				"merge":    {revision >= kiln.R11_Paris, rules.IsMerge},
				"shanghai": {revision >= kiln.R12_Shanghai, rules.IsShanghai},
				"cancun":   {revision >= kiln.R13_Cancun, rules.IsCancun},
			}
			for name, check := range checks {
				if check.want != check.got {
					t.Errorf("unexpected %s activation, wanted %t, got %t", name, check.want, check.got)
				}
			}
		})
	}
}

func TestStatusToError(t *testing.T) {
	tests := map[kiln.ExitStatus]error{
		kiln.Stopped:            nil,
		kiln.Returned:           nil,
		kiln.SelfDestructed:     nil,
		kiln.Reverted:           geth.ErrExecutionReverted,
		kiln.OutOfFunds:         geth.ErrInsufficientBalance,
		kiln.CallTooDeep:        geth.ErrDepth,
		kiln.InvalidInstruction: geth.ErrOutOfGas,
	}
	for status, want := range tests {
		if got := statusToError(status); got != want {
			t.Errorf("unexpected error for %v, wanted %v, got %v", status, want, got)
		}
	}
}

func TestGethVm_NestedCallErrorsAbortExecution(t *testing.T) {
	ctrl := gomock.NewController(t)
	context := kiln.NewMockRunContext(ctrl)
	injected := errors.New("injected")
	context.EXPECT().Call(kiln.Call, gomock.Any()).Return(kiln.CallResult{}, injected)

	vm := &gethVm{}
	_, err := vm.Run(kiln.Parameters{
		BlockParameters: kiln.BlockParameters{Revision: kiln.R07_Istanbul},
		Context:         context,
		Code:            asm(callTo(callee, 0), op(0x00)),
		CodeHash:        &kiln.Hash{},
		Gas:             100_000,
		Recipient:       target,
		Sender:          caller,
	})
	if !errors.Is(err, injected) {
		t.Errorf("expected the nested call error, got %v", err)
	}
}

func TestGethVm_NestedCallResultIsVisibleToCaller(t *testing.T) {
	ctrl := gomock.NewController(t)
	context := kiln.NewMockRunContext(ctrl)
	context.EXPECT().Call(kiln.Call, gomock.Any()).DoAndReturn(
		func(_ kiln.CallKind, params kiln.CallParameters) (kiln.CallResult, error) {
			if params.Sender != target || params.Recipient != callee {
				t.Errorf("unexpected call parameters %v", params)
			}
			return kiln.CallResult{
				Status:  kiln.Returned,
				Output:  kiln.Data{1, 2, 3},
				GasLeft: params.Gas,
			}, nil
		})

	// Returns RETURNDATASIZE as a single word.
	code := asm(
		callTo(callee, 0),
		op(0x3d, 0x60, 0x00, 0x52),
		op(0x60, 0x20, 0x60, 0x00, 0xf3),
	)
	vm := &gethVm{}
	result, err := vm.Run(kiln.Parameters{
		BlockParameters: kiln.BlockParameters{Revision: kiln.R07_Istanbul},
		Context:         context,
		Code:            code,
		CodeHash:        &kiln.Hash{},
		Gas:             100_000,
		Recipient:       target,
		Sender:          caller,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != kiln.Returned {
		t.Errorf("unexpected status %v", result.Status)
	}
	if want, got := word(3), result.Output; !bytes.Equal(want, got) {
		t.Errorf("unexpected output, wanted %x, got %x", want, got)
	}
}
