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

import "fmt"

// WorldState is an interface to access and manipulate the account state seen
// by a running call. The state is a collection of accounts, each with a
// balance, a nonce, optional code and storage.
type WorldState interface {
	AccountExists(Address) bool

	GetBalance(Address) Value
	SetBalance(Address, Value)

	GetNonce(Address) uint64
	SetNonce(Address, uint64)

	GetCode(Address) Code
	GetCodeHash(Address) Hash
	GetCodeSize(Address) int
	SetCode(Address, Code)

	GetStorage(Address, Key) Word
	SetStorage(Address, Key, Word) StorageStatus

	// SelfDestruct marks addr as destroyed and transfers its balance to the
	// beneficiary. Returns true if it is the first time addr is destroyed in
	// the ongoing transaction.
	SelfDestruct(addr Address, beneficiary Address) bool
}

// Address represents the 160-bit (20 bytes) address of an account.
type Address [20]byte

// Key represents the 256-bit (32 bytes) key of a storage slot.
type Key [32]byte

// Word represents an arbitrary 256-bit (32 byte) word in the EVM.
type Word [32]byte

// Value represents an amount of chain currency, typically wei.
type Value [32]byte

// Hash represents the 256-bit (32 bytes) hash of a code, a block, a topic
// or similar sequence of cryptographic summary information.
type Hash [32]byte

// Code represents the byte-code of a contract.
type Code []byte

// StorageStatus is an enum utilized to indicate the effect of a storage
// slot update on the respective slot in the context of the current
// transaction. Interpreters need it for SSTORE gas calculations.
type StorageStatus int

const (
	// <original> -> <current> -> <new>, with X, Y, Z distinct non-zero values.
	StorageAssigned         StorageStatus = iota
	StorageAdded                          // 0 -> 0 -> Z
	StorageDeleted                        // X -> X -> 0
	StorageModified                       // X -> X -> Z
	StorageDeletedAdded                   // X -> 0 -> Z
	StorageModifiedDeleted                // X -> Y -> 0
	StorageDeletedRestored                // X -> 0 -> X
	StorageAddedDeleted                   // 0 -> Y -> 0
	StorageModifiedRestored               // X -> Y -> X
)

var storageStatusNames = map[StorageStatus]string{
	StorageAssigned:         "StorageAssigned",
	StorageAdded:            "StorageAdded",
	StorageDeleted:          "StorageDeleted",
	StorageModified:         "StorageModified",
	StorageDeletedAdded:     "StorageDeletedAdded",
	StorageModifiedDeleted:  "StorageModifiedDeleted",
	StorageDeletedRestored:  "StorageDeletedRestored",
	StorageAddedDeleted:     "StorageAddedDeleted",
	StorageModifiedRestored: "StorageModifiedRestored",
}

func (s StorageStatus) String() string {
	if name, found := storageStatusNames[s]; found {
		return name
	}
	return fmt.Sprintf("StorageStatus(%d)", s)
}

// GetStorageStatus obtains the status code to be returned by a
// TransactionContext when mutating a storage slot with the given
// original (=committed), current, and new value.
func GetStorageStatus(original, current, new Word) StorageStatus {
	var zero Word
	if current == new {
		return StorageAssigned
	}
	switch {
	case original == zero && current == zero:
		return StorageAdded
	case original == zero && new == zero:
		return StorageAddedDeleted
	case original == zero:
		return StorageAssigned
	case current == original && new == zero:
		return StorageDeleted
	case current == original:
		return StorageModified
	case current == zero && new == original:
		return StorageDeletedRestored
	case current == zero:
		return StorageDeletedAdded
	case new == zero:
		return StorageModifiedDeleted
	case new == original:
		return StorageModifiedRestored
	}
	return StorageAssigned
}
