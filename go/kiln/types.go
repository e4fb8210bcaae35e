// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package kiln

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the hash of an empty byte sequence.
var EmptyCodeHash = Hash(crypto.Keccak256Hash(nil))

// HashCode computes the keccak256 hash of the given code.
func HashCode(code Code) Hash {
	return Hash(crypto.Keccak256Hash(code))
}

// HexToAddress parses an address, ignoring a missing 0x prefix. Use it for
// well known constants only; invalid input is not reported.
func HexToAddress(s string) Address {
	return Address(common.HexToAddress(s))
}

func (a Address) String() string {
	return common.Address(a).Hex()
}

func (a Address) MarshalText() ([]byte, error) {
	return hexutil.Bytes(a[:]).MarshalText()
}

func (a *Address) UnmarshalText(data []byte) error {
	return hexutil.UnmarshalFixedText("Address", data, a[:])
}

func (k Key) String() string {
	return fmt.Sprintf("0x%x", k[:])
}

func (w Word) String() string {
	return fmt.Sprintf("0x%x", w[:])
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

func (h *Hash) UnmarshalText(data []byte) error {
	return hexutil.UnmarshalFixedText("Hash", data, h[:])
}

// NewWord creates a word holding the given number in its least significant
// bytes.
func NewWord(x uint64) Word {
	return Word(NewValue(x))
}

// NewValue creates a new Value instance from up to 4 uint64 arguments. The
// arguments are given in the order from most significant to least significant
// by padding leading zeros as needed. No argument results in a value of zero.
func NewValue(args ...uint64) Value {
	if len(args) > 4 {
		panic("too many arguments")
	}
	var z uint256.Int
	for i, arg := range args {
		z[len(args)-1-i] = arg
	}
	return z.Bytes32()
}

// ValueFromUint256 converts a *uint256.Int to a Value.
// If the input is nil, it returns 0.
func ValueFromUint256(value *uint256.Int) Value {
	if value == nil {
		return Value{}
	}
	return value.Bytes32()
}

// ValueFromBig converts a big integer into a Value. Values exceeding 256 bit
// are truncated.
func ValueFromBig(value *big.Int) Value {
	if value == nil {
		return Value{}
	}
	res, _ := uint256.FromBig(value)
	return ValueFromUint256(res)
}

// MaxValue is the largest representable Value.
func MaxValue() Value {
	var res Value
	for i := range res {
		res[i] = 0xff
	}
	return res
}

func (v Value) ToBig() *big.Int {
	return new(big.Int).SetBytes(v[:])
}

func (v Value) ToUint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(v[:])
}

func (v Value) IsZero() bool {
	return v == Value{}
}

func (v Value) String() string {
	return v.ToUint256().Dec()
}

func (v Value) Cmp(o Value) int {
	return v.ToUint256().Cmp(o.ToUint256())
}

// Add computes a+b modulo 2^256.
func Add(a, b Value) Value {
	return ValueFromUint256(new(uint256.Int).Add(a.ToUint256(), b.ToUint256()))
}

// Sub computes a-b modulo 2^256.
func Sub(a, b Value) Value {
	return ValueFromUint256(new(uint256.Int).Sub(a.ToUint256(), b.ToUint256()))
}

// AddOverflow computes a+b and reports whether the result overflowed.
func AddOverflow(a, b Value) (Value, bool) {
	res, overflow := new(uint256.Int).AddOverflow(a.ToUint256(), b.ToUint256())
	return ValueFromUint256(res), overflow
}

func (v Value) Scale(s uint64) Value {
	return ValueFromUint256(new(uint256.Int).Mul(v.ToUint256(), uint256.NewInt(s)))
}

func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.ToUint256().Hex()), nil
}

func (v *Value) UnmarshalText(data []byte) error {
	res, err := uint256.FromHex(string(data))
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", data, err)
	}
	*v = res.Bytes32()
	return nil
}

var callKindNames = map[CallKind]string{
	Call:         "call",
	StaticCall:   "static_call",
	DelegateCall: "delegate_call",
	CallCode:     "call_code",
	Create:       "create",
	Create2:      "create2",
}

func (k CallKind) String() string {
	if name, found := callKindNames[k]; found {
		return name
	}
	return "unknown"
}

func (k CallKind) MarshalJSON() ([]byte, error) {
	name, found := callKindNames[k]
	if !found {
		return nil, fmt.Errorf("invalid call kind: %d", int(k))
	}
	return json.Marshal(name)
}

func (k *CallKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, cur := range callKindNames {
		if cur == strings.ToLower(name) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown call kind: %s", name)
}
