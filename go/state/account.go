// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"bytes"

	"github.com/Fantom-foundation/Kiln/go/kiln"
)

// AccountInfo is the non-storage part of an account record.
type AccountInfo struct {
	Balance  kiln.Value
	Nonce    uint64
	Code     kiln.Code
	CodeHash kiln.Hash
}

// NewAccountInfo creates an account record with the given code, filling in
// the code hash.
func NewAccountInfo(balance kiln.Value, nonce uint64, code kiln.Code) AccountInfo {
	return AccountInfo{
		Balance:  balance,
		Nonce:    nonce,
		Code:     bytes.Clone(code),
		CodeHash: kiln.HashCode(code),
	}
}

// IsEmpty follows the EIP-161 definition of an empty account.
func (a AccountInfo) IsEmpty() bool {
	return a.Balance.IsZero() && a.Nonce == 0 && len(a.Code) == 0
}

// Clone returns a copy not sharing the code buffer.
func (a AccountInfo) Clone() AccountInfo {
	a.Code = bytes.Clone(a.Code)
	return a
}

// Equal compares two records including their code.
func (a AccountInfo) Equal(b AccountInfo) bool {
	return a.Balance == b.Balance &&
		a.Nonce == b.Nonce &&
		a.CodeHash == b.CodeHash &&
		bytes.Equal(a.Code, b.Code)
}
