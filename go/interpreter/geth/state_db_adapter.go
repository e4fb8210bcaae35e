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
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"
)

// stateDbAdapter adapts the kiln.TransactionContext of a running frame for
// its usage as a geth.StateDB. Refunds are tracked per frame; the frame's
// total is reported in the interpreter result.
type stateDbAdapter struct {
	context       kiln.TransactionContext
	refund        uint64
	refundBackups map[kiln.Snapshot]uint64
}

func (s *stateDbAdapter) CreateAccount(common.Address) {
	// ignored: accounts are created by the run context
}

func (s *stateDbAdapter) CreateContract(common.Address) {
	// ignored: contract creation is handled by the run context
}

func (s *stateDbAdapter) SubBalance(addr common.Address, diff *uint256.Int, _ tracing.BalanceChangeReason) {
	account := kiln.Address(addr)
	cur := s.context.GetBalance(account)
	s.context.SetBalance(account, kiln.Sub(cur, kiln.ValueFromUint256(diff)))
}

func (s *stateDbAdapter) AddBalance(addr common.Address, diff *uint256.Int, _ tracing.BalanceChangeReason) {
	account := kiln.Address(addr)
	cur := s.context.GetBalance(account)
	s.context.SetBalance(account, kiln.Add(cur, kiln.ValueFromUint256(diff)))
}

func (s *stateDbAdapter) GetBalance(addr common.Address) *uint256.Int {
	value := s.context.GetBalance(kiln.Address(addr))
	return value.ToUint256()
}

func (s *stateDbAdapter) GetNonce(addr common.Address) uint64 {
	return s.context.GetNonce(kiln.Address(addr))
}

func (s *stateDbAdapter) SetNonce(addr common.Address, nonce uint64) {
	s.context.SetNonce(kiln.Address(addr), nonce)
}

func (s *stateDbAdapter) GetCodeHash(addr common.Address) common.Hash {
	return common.Hash(s.context.GetCodeHash(kiln.Address(addr)))
}

func (s *stateDbAdapter) GetCode(addr common.Address) []byte {
	return s.context.GetCode(kiln.Address(addr))
}

func (s *stateDbAdapter) SetCode(addr common.Address, code []byte) {
	s.context.SetCode(kiln.Address(addr), code)
}

func (s *stateDbAdapter) GetCodeSize(addr common.Address) int {
	return s.context.GetCodeSize(kiln.Address(addr))
}

func (s *stateDbAdapter) AddRefund(value uint64) {
	s.refund += value
}

// SubRefund may underflow; the wrapped counter is reported as a negative
// refund of the frame.
func (s *stateDbAdapter) SubRefund(value uint64) {
	s.refund -= value
}

func (s *stateDbAdapter) GetRefund() uint64 {
	return s.refund
}

func (s *stateDbAdapter) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	return common.Hash(s.context.GetCommittedStorage(kiln.Address(addr), kiln.Key(key)))
}

func (s *stateDbAdapter) GetState(addr common.Address, key common.Hash) common.Hash {
	return common.Hash(s.context.GetStorage(kiln.Address(addr), kiln.Key(key)))
}

func (s *stateDbAdapter) SetState(addr common.Address, key common.Hash, value common.Hash) {
	s.context.SetStorage(kiln.Address(addr), kiln.Key(key), kiln.Word(value))
}

func (s *stateDbAdapter) GetStorageRoot(addr common.Address) common.Hash {
	// ignored: storage roots are not maintained
	return common.Hash{}
}

func (s *stateDbAdapter) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return common.Hash(s.context.GetTransientStorage(kiln.Address(addr), kiln.Key(key)))
}

func (s *stateDbAdapter) SetTransientState(addr common.Address, key, value common.Hash) {
	s.context.SetTransientStorage(kiln.Address(addr), kiln.Key(key), kiln.Word(value))
}

// SelfDestruct is called after geth credited the beneficiary, so the
// remaining balance is burned with the destroyed account.
func (s *stateDbAdapter) SelfDestruct(addr common.Address) {
	s.context.SelfDestruct(kiln.Address(addr), kiln.Address(addr))
}

func (s *stateDbAdapter) HasSelfDestructed(addr common.Address) bool {
	return s.context.HasSelfDestructed(kiln.Address(addr))
}

// Selfdestruct6780 is called after geth moved the balance to the beneficiary.
// The run context decides whether the account is removed.
func (s *stateDbAdapter) Selfdestruct6780(addr common.Address) {
	s.context.SelfDestruct(kiln.Address(addr), kiln.Address(addr))
}

func (s *stateDbAdapter) Exist(addr common.Address) bool {
	return s.context.AccountExists(kiln.Address(addr))
}

func (s *stateDbAdapter) Empty(addr common.Address) bool {
	return s.GetBalance(addr).IsZero() && s.GetNonce(addr) == 0 && s.GetCodeSize(addr) == 0
}

func (s *stateDbAdapter) AddressInAccessList(addr common.Address) bool {
	return s.context.IsAddressInAccessList(kiln.Address(addr))
}

func (s *stateDbAdapter) SlotInAccessList(addr common.Address, slot common.Hash) (addressOk bool, slotOk bool) {
	return s.context.IsSlotInAccessList(kiln.Address(addr), kiln.Key(slot))
}

func (s *stateDbAdapter) AddAddressToAccessList(addr common.Address) {
	s.context.AccessAccount(kiln.Address(addr))
}

func (s *stateDbAdapter) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.context.AccessStorage(kiln.Address(addr), kiln.Key(slot))
}

func (s *stateDbAdapter) PrepareAccessList(sender common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	s.context.AccessAccount(kiln.Address(sender))
	if dest != nil {
		s.context.AccessAccount(kiln.Address(*dest))
	}
	for _, addr := range precompiles {
		s.context.AccessAccount(kiln.Address(addr))
	}
	for _, el := range txAccesses {
		s.context.AccessAccount(kiln.Address(el.Address))
		for _, key := range el.StorageKeys {
			s.context.AccessStorage(kiln.Address(el.Address), kiln.Key(key))
		}
	}
}

func (s *stateDbAdapter) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	s.PrepareAccessList(sender, dest, precompiles, txAccesses)
}

func (s *stateDbAdapter) RevertToSnapshot(snapshot int) {
	s.context.RestoreSnapshot(kiln.Snapshot(snapshot))
	s.refund = s.refundBackups[kiln.Snapshot(snapshot)]
}

func (s *stateDbAdapter) Snapshot() int {
	id := s.context.CreateSnapshot()
	if s.refundBackups == nil {
		s.refundBackups = make(map[kiln.Snapshot]uint64)
	}
	s.refundBackups[id] = s.refund
	return int(id)
}

func (s *stateDbAdapter) AddLog(log *types.Log) {
	topics := make([]kiln.Hash, 0, len(log.Topics))
	for _, cur := range log.Topics {
		topics = append(topics, kiln.Hash(cur))
	}
	s.context.EmitLog(kiln.Log{
		Address: kiln.Address(log.Address),
		Topics:  topics,
		Data:    log.Data,
	})
}

func (s *stateDbAdapter) AddPreimage(common.Hash, []byte) {
	// ignored: preimages are not recorded
}

func (s *stateDbAdapter) ForEachStorage(common.Address, func(common.Hash, common.Hash) bool) error {
	panic("should not be needed by a single frame")
}

func (s *stateDbAdapter) PointCache() *utils.PointCache {
	// see https://eips.ethereum.org/EIPS/eip-4762
	panic("should not be needed by revisions up to Cancun")
}

func (s *stateDbAdapter) Witness() *stateless.Witness {
	// this should not be relevant for revisions up to Cancun
	return nil
}
