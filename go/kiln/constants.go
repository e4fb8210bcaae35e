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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CheatCodeAddress hosts the test harness cheat codes and the global failure
// flag. It is derived from keccak256("hevm cheat code"), which results in
// 0x7109709ECfa91a80626fF3989D68f67F5b1DD12D.
var CheatCodeAddress = Address(common.BytesToAddress(crypto.Keccak256([]byte("hevm cheat code"))))

// CheatCodePlaceholder is the code seeded into the cheat code account so
// code-existence checks on it succeed.
var CheatCodePlaceholder = Code{0x00}

// DefaultCaller is the sender of setup calls and failure queries.
var DefaultCaller = HexToAddress("0x1804c8AB1F12E6bbf3894d4083f33e07309d1f38")

// DefaultCreate2Deployer is the address of the deterministic deployment proxy.
var DefaultCreate2Deployer = HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")

// Create2DeployerCreator is the account the deterministic deployment proxy
// is deployed from.
var Create2DeployerCreator = HexToAddress("0x3fAB184622Dc19b6109349B94811493BF2a45362")

// Create2DeployerInitCode is the init code of the deterministic deployment
// proxy.
var Create2DeployerInitCode = Code(common.FromHex(
	"0x604580600e600039806000f350fe7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3"))

// GlobalFailureSlot is the slot of CheatCodeAddress set to 1 by assertion
// libraries once any check failed. Its key is the string "failed" padded
// with zeros on the right.
var GlobalFailureSlot = Key(common.RightPadBytes([]byte("failed"), 32))

// SkipMarker is the revert payload signalling that a test asked to be skipped.
var SkipMarker = Data("KILN::SKIP")

// DefaultChainID is the chain id used unless configured otherwise.
const DefaultChainID = 31337
