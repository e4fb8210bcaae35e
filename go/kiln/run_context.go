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

//go:generate mockgen -source run_context.go -destination run_context_mock.go -package kiln

// RunContext provides an interface to access and manipulate state and transaction
// properties as needed by individual EVM instructions. Nested calls and
// contract creations are delegated back to the executing engine through Call.
type RunContext interface {
	TransactionContext

	Call(kind CallKind, parameter CallParameters) (CallResult, error)
}

// TransactionContext is an interface to access and manipulate the world state
// within a transaction. All modifications are buffered in the context, which
// can be snapshot and restored. Additionally, a transaction context tracks
// transient storage, access lists and logs.
type TransactionContext interface {
	WorldState

	CreateSnapshot() Snapshot
	RestoreSnapshot(Snapshot)

	GetTransientStorage(Address, Key) Word
	SetTransientStorage(Address, Key, Word)

	AccessAccount(Address) AccessStatus
	AccessStorage(Address, Key) AccessStatus

	EmitLog(Log)
	GetLogs() []Log

	// GetBlockHash returns the hash of the block with the given number.
	GetBlockHash(number int64) Hash

	// GetCommittedStorage returns the value of a slot at the start of the
	// transaction.
	GetCommittedStorage(addr Address, key Key) Word
	IsAddressInAccessList(addr Address) bool
	IsSlotInAccessList(addr Address, key Key) (addressPresent, slotPresent bool)
	HasSelfDestructed(addr Address) bool
}

// AccessStatus is an enum utilized to indicate cold and warm account or
// storage slot accesses.
type AccessStatus bool

const (
	ColdAccess AccessStatus = false
	WarmAccess AccessStatus = true
)

// Snapshot is a type used to represent a snapshot of the world state in a
// transaction context.
type Snapshot int
