// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package observer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/exp/maps"
)

// Host is the view of the running execution offered to the harness.
type Host interface {
	kiln.WorldState

	SetTimestamp(int64)
	SetBlockNumber(int64)
	SetChainID(kiln.Word)
	SetBaseFee(kiln.Value)

	// Snapshot records the full state of the execution, RevertTo restores it.
	Snapshot() uint64
	RevertTo(id uint64) bool
}

// BroadcastableTransaction is a call recorded while broadcasting was enabled.
type BroadcastableTransaction struct {
	From        kiln.Address
	Transaction *types.Transaction
}

type BroadcastableTransactions []BroadcastableTransaction

// Harness implements the cheat codes reachable at kiln.CheatCodeAddress.
type Harness struct {
	labels       map[kiln.Address]string
	transactions BroadcastableTransactions
	broadcast    *broadcastState
	skipped      bool
}

type broadcastState struct {
	origin kiln.Address // < the contract which enabled broadcasting
	sender kiln.Address
	depth  int
	nonce  uint64
	single bool
}

func NewHarness() *Harness {
	return &Harness{labels: map[kiln.Address]string{}}
}

func (h *Harness) Clone() *Harness {
	res := &Harness{
		labels:       maps.Clone(h.labels),
		transactions: append(BroadcastableTransactions(nil), h.transactions...),
		skipped:      h.skipped,
	}
	if h.broadcast != nil {
		state := *h.broadcast
		res.broadcast = &state
	}
	return res
}

// Labels returns the address labels registered so far.
func (h *Harness) Labels() map[kiln.Address]string {
	return maps.Clone(h.labels)
}

// Transactions returns the recorded broadcast transactions.
func (h *Harness) Transactions() BroadcastableTransactions {
	return append(BroadcastableTransactions(nil), h.transactions...)
}

// ClearTransactions drops all recorded broadcast transactions.
func (h *Harness) ClearTransactions() {
	h.transactions = nil
}

// Skipped reports whether a test requested to be skipped.
func (h *Harness) Skipped() bool {
	return h.skipped
}

// harnessABI is the interface of the cheat code contract.
const harnessABI = `[
{"type":"function","name":"warp","inputs":[{"name":"timestamp","type":"uint256"}],"outputs":[]},
{"type":"function","name":"roll","inputs":[{"name":"number","type":"uint256"}],"outputs":[]},
{"type":"function","name":"chainId","inputs":[{"name":"id","type":"uint256"}],"outputs":[]},
{"type":"function","name":"fee","inputs":[{"name":"baseFee","type":"uint256"}],"outputs":[]},
{"type":"function","name":"deal","inputs":[{"name":"account","type":"address"},{"name":"balance","type":"uint256"}],"outputs":[]},
{"type":"function","name":"store","inputs":[{"name":"account","type":"address"},{"name":"slot","type":"bytes32"},{"name":"value","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"load","inputs":[{"name":"account","type":"address"},{"name":"slot","type":"bytes32"}],"outputs":[{"name":"value","type":"bytes32"}]},
{"type":"function","name":"label","inputs":[{"name":"account","type":"address"},{"name":"name","type":"string"}],"outputs":[]},
{"type":"function","name":"snapshot","inputs":[],"outputs":[{"name":"id","type":"uint256"}]},
{"type":"function","name":"revertTo","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"success","type":"bool"}]},
{"type":"function","name":"broadcast","inputs":[],"outputs":[]},
{"type":"function","name":"broadcast","inputs":[{"name":"sender","type":"address"}],"outputs":[]},
{"type":"function","name":"stopBroadcast","inputs":[],"outputs":[]},
{"type":"function","name":"skip","inputs":[{"name":"skip","type":"bool"}],"outputs":[]}
]`

var (
	cheatCodes   abi.ABI
	errorMethod  abi.Arguments
	errorMessage = []byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
)

func init() {
	var err error
	cheatCodes, err = abi.JSON(strings.NewReader(harnessABI))
	if err != nil {
		panic(fmt.Errorf("failed to parse harness ABI: %w", err))
	}
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	errorMethod = abi.Arguments{{Type: stringType}}
}

// CheatCodeSelector returns the 4-byte selector of the named cheat code. For
// overloaded methods the go-ethereum naming applies (e.g. "broadcast0").
func CheatCodeSelector(name string) []byte {
	method, found := cheatCodes.Methods[name]
	if !found {
		panic(fmt.Sprintf("unknown cheat code %s", name))
	}
	return common.CopyBytes(method.ID)
}

// EncodeCheatCode builds the call data of the named cheat code.
func EncodeCheatCode(name string, args ...any) ([]byte, error) {
	return cheatCodes.Pack(name, args...)
}

// Call executes a cheat code. Unknown selectors and malformed arguments
// revert with an Error(string) payload.
func (h *Harness) Call(host Host, frame Frame) kiln.CallResult {
	output, err := h.dispatch(host, frame)
	if err != nil {
		log.Trace("Cheat code reverted", "error", err)
		return kiln.CallResult{Status: kiln.Reverted, Output: revertReason(err), GasLeft: frame.Gas}
	}
	return kiln.CallResult{Status: kiln.Returned, Output: output, GasLeft: frame.Gas}
}

// errSkip is returned internally once a test requests to be skipped.
type errSkip struct{}

func (errSkip) Error() string { return "skipped" }

func (h *Harness) dispatch(host Host, frame Frame) ([]byte, error) {
	if len(frame.Input) < 4 {
		return nil, fmt.Errorf("missing cheat code selector")
	}
	method, err := cheatCodes.MethodById(frame.Input[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown cheat code selector %x", frame.Input[:4])
	}
	args, err := method.Inputs.Unpack(frame.Input[4:])
	if err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", method.Sig, err)
	}

	switch method.Name {
	case "warp":
		timestamp, err := toInt64(method.Name, args[0])
		if err != nil {
			return nil, err
		}
		host.SetTimestamp(timestamp)
	case "roll":
		number, err := toInt64(method.Name, args[0])
		if err != nil {
			return nil, err
		}
		host.SetBlockNumber(number)
	case "chainId":
		host.SetChainID(kiln.Word(kiln.ValueFromBig(args[0].(*big.Int))))
	case "fee":
		host.SetBaseFee(kiln.ValueFromBig(args[0].(*big.Int)))
	case "deal":
		host.SetBalance(kiln.Address(args[0].(common.Address)), kiln.ValueFromBig(args[1].(*big.Int)))
	case "store":
		host.SetStorage(kiln.Address(args[0].(common.Address)), kiln.Key(args[1].([32]byte)), kiln.Word(args[2].([32]byte)))
	case "load":
		value := host.GetStorage(kiln.Address(args[0].(common.Address)), kiln.Key(args[1].([32]byte)))
		return method.Outputs.Pack([32]byte(value))
	case "label":
		h.labels[kiln.Address(args[0].(common.Address))] = args[1].(string)
	case "snapshot":
		return method.Outputs.Pack(new(big.Int).SetUint64(host.Snapshot()))
	case "revertTo":
		id := args[0].(*big.Int)
		success := id.IsUint64() && host.RevertTo(id.Uint64())
		return method.Outputs.Pack(success)
	case "broadcast":
		h.startBroadcast(host, frame, frame.From)
	case "broadcast0":
		h.startBroadcast(host, frame, kiln.Address(args[0].(common.Address)))
	case "stopBroadcast":
		if h.broadcast == nil {
			return nil, fmt.Errorf("no broadcast in progress")
		}
		h.broadcast = nil
	case "skip":
		if args[0].(bool) {
			h.skipped = true
			return nil, errSkip{}
		}
	default:
		return nil, fmt.Errorf("unsupported cheat code %s", method.Sig)
	}
	return nil, nil
}

func (h *Harness) startBroadcast(host Host, frame Frame, sender kiln.Address) {
	h.broadcast = &broadcastState{
		origin: frame.From,
		sender: sender,
		depth:  frame.Depth,
		nonce:  host.GetNonce(sender),
		single: true,
	}
}

// enter records the frame as a broadcast transaction if it is issued by the
// contract which enabled broadcasting.
func (h *Harness) enter(frame Frame) {
	state := h.broadcast
	if state == nil || frame.Depth != state.depth || frame.From != state.origin {
		return
	}
	if frame.To == kiln.CheatCodeAddress {
		return
	}
	if frame.Kind != kiln.Call && !frame.Kind.IsCreate() {
		return
	}
	var to *common.Address
	if !frame.Kind.IsCreate() {
		addr := common.Address(frame.To)
		to = &addr
	}
	h.transactions = append(h.transactions, BroadcastableTransaction{
		From: state.sender,
		Transaction: types.NewTx(&types.LegacyTx{
			Nonce: state.nonce,
			To:    to,
			Value: frame.Value.ToBig(),
			Gas:   uint64(frame.Gas),
			Data:  common.CopyBytes(frame.Input),
		}),
	})
	state.nonce++
	if state.single {
		h.broadcast = nil
	}
}

func revertReason(err error) []byte {
	if _, ok := err.(errSkip); ok {
		return common.CopyBytes(kiln.SkipMarker)
	}
	packed, packErr := errorMethod.Pack(err.Error())
	if packErr != nil {
		return nil
	}
	return append(common.CopyBytes(errorMessage), packed...)
}

func toInt64(name string, arg any) (int64, error) {
	value := arg.(*big.Int)
	if !value.IsInt64() {
		return 0, fmt.Errorf("%s: value %v out of range", name, value)
	}
	return value.Int64(), nil
}
