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
	"math/big"
	"strings"
	"testing"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// fakeInterpreter runs contracts implemented in Go, selected by the code
// being executed. Code starting with "init:" is treated as init code
// returning the rest of the code as runtime code. Unknown code stops.
type fakeInterpreter struct {
	contracts map[string]fakeContract
}

type fakeContract func(p kiln.Parameters) (kiln.Result, error)

func (f *fakeInterpreter) Run(p kiln.Parameters) (kiln.Result, error) {
	code := string(p.Code)
	if runtime, found := strings.CutPrefix(code, "init:"); found {
		return kiln.Result{Status: kiln.Returned, Output: kiln.Data(runtime), GasLeft: p.Gas - 1000}, nil
	}
	if contract, found := f.contracts[code]; found {
		return contract(p)
	}
	return kiln.Result{Status: kiln.Stopped, GasLeft: p.Gas}, nil
}

const (
	testerCode    = "tester"
	revertingCode = "reverting"
)

var (
	ownFailedSlot = kiln.Key{}
	setUpSlot     = kiln.Key{31: 1}
	counterSlot   = kiln.Key{31: 2}
)

func newFakeInterpreter() *fakeInterpreter {
	return &fakeInterpreter{contracts: map[string]fakeContract{
		testerCode:    tester,
		revertingCode: func(p kiln.Parameters) (kiln.Result, error) { return revertWith(p, errorData("boom")) },
		string(kiln.Create2DeployerInitCode): func(p kiln.Parameters) (kiln.Result, error) {
			return kiln.Result{Status: kiln.Returned, Output: kiln.Data("proxy"), GasLeft: p.Gas - 1000}, nil
		},
	}}
}

// tester is a test contract exercising the cheat codes and both ways of
// recording failures.
func tester(p kiln.Parameters) (kiln.Result, error) {
	ctx := p.Context
	cheat := func(name string, args ...any) (kiln.CallResult, error) {
		input, err := observer.EncodeCheatCode(name, args...)
		if err != nil {
			return kiln.CallResult{}, err
		}
		return ctx.Call(kiln.Call, kiln.CallParameters{
			Sender:      p.Recipient,
			Recipient:   kiln.CheatCodeAddress,
			CodeAddress: kiln.CheatCodeAddress,
			Input:       input,
			Gas:         p.Gas / 2,
		})
	}
	if len(p.Input) < 4 {
		return revertWith(p, nil)
	}

	switch string(p.Input[:4]) {
	case selector("setUp()"):
		ctx.SetStorage(p.Recipient, setUpSlot, kiln.NewWord(1))
		if _, err := cheat("warp", big.NewInt(1000)); err != nil {
			return kiln.Result{}, err
		}
		return returnWith(p, nil)

	case selector("failed()"):
		failed := ctx.GetStorage(p.Recipient, ownFailedSlot) == kiln.NewWord(1)
		res, err := cheat("load", common.Address(kiln.CheatCodeAddress), [32]byte(kiln.GlobalFailureSlot))
		if err != nil {
			return kiln.Result{}, err
		}
		one := kiln.NewWord(1)
		if res.Success() && bytes.Equal(res.Output, one[:]) {
			failed = true
		}
		return returnWith(p, abiBool(failed))

	case selector("testPass()"):
		return returnWith(p, nil)

	case selector("testRevert()"):
		return revertWith(p, errorData("boom"))

	case selector("testHalt()"):
		return kiln.Result{Status: kiln.InvalidInstruction}, nil

	case selector("testLocalFailure()"):
		ctx.SetStorage(p.Recipient, ownFailedSlot, kiln.NewWord(1))
		return returnWith(p, nil)

	case selector("testGlobalFailure()"):
		if _, err := cheat("store", common.Address(kiln.CheatCodeAddress), [32]byte(kiln.GlobalFailureSlot), [32]byte(kiln.NewWord(1))); err != nil {
			return kiln.Result{}, err
		}
		return returnWith(p, nil)

	case selector("testSnapshotFailure()"):
		res, err := cheat("snapshot")
		if err != nil {
			return kiln.Result{}, err
		}
		id := new(big.Int).SetBytes(res.Output)
		if _, err := cheat("store", common.Address(kiln.CheatCodeAddress), [32]byte(kiln.GlobalFailureSlot), [32]byte(kiln.NewWord(1))); err != nil {
			return kiln.Result{}, err
		}
		if _, err := cheat("revertTo", id); err != nil {
			return kiln.Result{}, err
		}
		return returnWith(p, nil)

	case selector("testSkip()"):
		res, err := cheat("skip", true)
		if err != nil {
			return kiln.Result{}, err
		}
		return revertWith(p, res.Output)

	case selector("timestamp()"):
		return returnWith(p, word(uint64(p.Timestamp)))

	case selector("increment()"):
		current := ctx.GetStorage(p.Recipient, counterSlot)
		next := kiln.Word(kiln.Add(kiln.Value(current), kiln.NewValue(1)))
		ctx.SetStorage(p.Recipient, counterSlot, next)
		return returnWith(p, next[:])

	case selector("emitLog()"):
		ctx.EmitLog(kiln.Log{Address: p.Recipient, Topics: []kiln.Hash{{1}}, Data: kiln.Data("hello")})
		return returnWith(p, nil)

	case selector("testBroadcast()"):
		if _, err := cheat("broadcast"); err != nil {
			return kiln.Result{}, err
		}
		other := kiln.Address{0x42}
		if _, err := ctx.Call(kiln.Call, kiln.CallParameters{
			Sender:      p.Recipient,
			Recipient:   other,
			CodeAddress: other,
			Input:       kiln.Data("ping"),
			Gas:         p.Gas / 2,
		}); err != nil {
			return kiln.Result{}, err
		}
		return returnWith(p, nil)
	}
	return revertWith(p, nil)
}

func returnWith(p kiln.Parameters, output kiln.Data) (kiln.Result, error) {
	return kiln.Result{Status: kiln.Returned, Output: output, GasLeft: p.Gas - 100}, nil
}

func revertWith(p kiln.Parameters, output kiln.Data) (kiln.Result, error) {
	return kiln.Result{Status: kiln.Reverted, Output: output, GasLeft: p.Gas - 100}, nil
}

func selector(signature string) string {
	method, err := ParseMethod(signature)
	if err != nil {
		panic(err)
	}
	return string(method.ID)
}

func word(x uint64) kiln.Data {
	w := kiln.NewWord(x)
	return w[:]
}

func abiBool(b bool) kiln.Data {
	if b {
		return word(1)
	}
	return word(0)
}

func errorData(reason string) kiln.Data {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(common.FromHex("0x08c379a0"), packed...)
}

// newTestExecutor creates an executor running the fake interpreter with the
// tester contract deployed. The contract address is returned as well.
func newTestExecutor(t *testing.T) (*Executor, kiln.Address) {
	t.Helper()
	executor, err := NewBuilder().
		WithInterpreter(newFakeInterpreter()).
		WithGasLimit(10_000_000).
		Build(state.NewMemoryBackend())
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}
	deployed, err := executor.Deploy(kiln.DefaultCaller, kiln.Data("init:"+testerCode), kiln.Value{})
	if err != nil {
		t.Fatalf("failed to deploy tester: %v", err)
	}
	return executor, deployed.Address
}

func observerStack() observer.Stack {
	return observer.Stack{
		Logs:    observer.NewLogCollector(),
		Harness: observer.NewHarness(),
	}
}
