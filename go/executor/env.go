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

	"github.com/Fantom-foundation/Kiln/go/kiln"
)

// Env is the complete environment of a single call or deployment.
type Env struct {
	Cfg   CfgEnv
	Block BlockEnv
	Tx    TxEnv
}

// CfgEnv holds chain wide settings.
type CfgEnv struct {
	ChainID  kiln.Word
	Revision kiln.Revision
}

// BlockEnv describes the block a call is executed in.
type BlockEnv struct {
	Number      int64
	Timestamp   int64
	Coinbase    kiln.Address
	GasLimit    kiln.Gas
	BaseFee     kiln.Value
	PrevRandao  kiln.Hash
	BlobBaseFee kiln.Value
}

// TxEnv describes the transaction to execute.
type TxEnv struct {
	Caller     kiln.Address
	TransactTo TransactTo
	Data       kiln.Data
	Value      kiln.Value
	GasPrice   kiln.Value
	GasLimit   kiln.Gas
	Nonce      *uint64 // < checked against the caller's nonce if set
}

// TransactTo is the target of a transaction: a call to an address or the
// creation of a new contract.
type TransactTo struct {
	Kind    kiln.CallKind
	Address kiln.Address // < ignored for creations
}

// CallTo targets a call to the given address.
func CallTo(addr kiln.Address) TransactTo {
	return TransactTo{Kind: kiln.Call, Address: addr}
}

// CreateTo targets the creation of a new contract.
func CreateTo() TransactTo {
	return TransactTo{Kind: kiln.Create}
}

// DefaultEnv is the environment used by executors unless configured
// otherwise.
func DefaultEnv() Env {
	return Env{
		Cfg: CfgEnv{
			ChainID:  kiln.NewWord(kiln.DefaultChainID),
			Revision: kiln.NewestSupportedRevision,
		},
		Block: BlockEnv{
			Number:    1,
			Timestamp: 1,
		},
	}
}

// Clone creates a copy not sharing any buffers with the original.
func (e Env) Clone() Env {
	e.Tx.Data = bytes.Clone(e.Tx.Data)
	if e.Tx.Nonce != nil {
		nonce := *e.Tx.Nonce
		e.Tx.Nonce = &nonce
	}
	return e
}

func (e *Env) blockParameters() kiln.BlockParameters {
	return kiln.BlockParameters{
		ChainID:     e.Cfg.ChainID,
		BlockNumber: e.Block.Number,
		Timestamp:   e.Block.Timestamp,
		Coinbase:    e.Block.Coinbase,
		GasLimit:    e.Block.GasLimit,
		PrevRandao:  e.Block.PrevRandao,
		BaseFee:     e.Block.BaseFee,
		BlobBaseFee: e.Block.BlobBaseFee,
		Revision:    e.Cfg.Revision,
	}
}

func (e *Env) transactionParameters() kiln.TransactionParameters {
	return kiln.TransactionParameters{
		Origin:   e.Tx.Caller,
		GasPrice: e.Tx.GasPrice,
	}
}
