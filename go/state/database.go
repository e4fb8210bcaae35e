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

import "github.com/Fantom-foundation/Kiln/go/kiln"

// SnapshotID identifies a backend snapshot taken by the snapshot cheat code.
type SnapshotID uint64

// Database is the contract between an execution and the account state it
// runs on. Reads never modify the state. Mutating operations are only used by
// test harness cheat codes and bootstrapping code; the effects of regular
// execution are collected in a Changeset instead.
type Database interface {
	// Basic returns the account record of addr, false if it does not exist.
	Basic(addr kiln.Address) (AccountInfo, bool, error)
	// Storage returns the value of a storage slot, zero if it was never set.
	Storage(addr kiln.Address, key kiln.Key) (kiln.Word, error)

	// HasSnapshotFailure reports whether a global failure was observed while
	// reverting to a snapshot. The flag is sticky and survives the revert.
	HasSnapshotFailure() bool

	// Snapshot records the current state together with the in-flight
	// journal and environment of the running execution.
	Snapshot(journal Changeset, env any) SnapshotID
	// RevertTo restores the state recorded by the given snapshot and returns
	// the journal and environment stored with it. If the current journal has
	// the global failure flag set, the snapshot failure flag is set before
	// restoring. The result is false if the snapshot is unknown.
	RevertTo(id SnapshotID, current Changeset) (Changeset, any, bool)

	InsertAccountInfo(addr kiln.Address, info AccountInfo)
	InsertAccountStorage(addr kiln.Address, key kiln.Key, value kiln.Word)

	// Persistent accounts survive fork swaps.
	AddPersistentAccount(addr kiln.Address) bool
	RemovePersistentAccount(addr kiln.Address) bool
	IsPersistent(addr kiln.Address) bool
}

// DefaultPersistentAccounts are marked persistent in every new backend.
func DefaultPersistentAccounts() []kiln.Address {
	return []kiln.Address{
		kiln.CheatCodeAddress,
		kiln.DefaultCreate2Deployer,
		kiln.DefaultCaller,
	}
}
