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
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"golang.org/x/exp/maps"
)

// journal buffers all effects of a single transaction on top of a database.
// Frame snapshots are full copies of the buffered state, so restoring one
// also discards logs, access list entries and transient storage written by
// the reverted frame.
type journal struct {
	db        state.Database
	observers *observer.Stack
	current   journalState
	snapshots []journalState
	err       error // < the first database error encountered
}

type journalState struct {
	changes      state.Changeset
	transient    map[kiln.Address]map[kiln.Key]kiln.Word
	warmAccounts map[kiln.Address]struct{}
	warmSlots    map[kiln.Address]map[kiln.Key]struct{}
	logs         []kiln.Log
}

func newJournal(db state.Database, observers *observer.Stack) *journal {
	return &journal{
		db:        db,
		observers: observers,
		current:   newJournalState(),
	}
}

func newJournalState() journalState {
	return journalState{
		changes:      state.Changeset{},
		transient:    map[kiln.Address]map[kiln.Key]kiln.Word{},
		warmAccounts: map[kiln.Address]struct{}{},
		warmSlots:    map[kiln.Address]map[kiln.Key]struct{}{},
	}
}

func (s *journalState) clone() journalState {
	res := journalState{
		changes:      s.changes.Clone(),
		transient:    make(map[kiln.Address]map[kiln.Key]kiln.Word, len(s.transient)),
		warmAccounts: maps.Clone(s.warmAccounts),
		warmSlots:    make(map[kiln.Address]map[kiln.Key]struct{}, len(s.warmSlots)),
		logs:         append([]kiln.Log(nil), s.logs...),
	}
	for addr, slots := range s.transient {
		res.transient[addr] = maps.Clone(slots)
	}
	for addr, slots := range s.warmSlots {
		res.warmSlots[addr] = maps.Clone(slots)
	}
	return res
}

// changeset returns a copy of the buffered account changes.
func (j *journal) changeset() state.Changeset {
	return j.current.changes.Clone()
}

// replaceChanges swaps the buffered account changes, as needed when the
// database reverts to a snapshot taken during the transaction.
func (j *journal) replaceChanges(changes state.Changeset) {
	if changes == nil {
		changes = state.Changeset{}
	}
	j.current.changes = changes
}

func (j *journal) recordError(err error) {
	if err != nil && j.err == nil {
		j.err = err
	}
}

// account returns the current record of addr and whether it exists.
func (j *journal) account(addr kiln.Address) (state.AccountInfo, bool) {
	if change, found := j.current.changes[addr]; found {
		return change.Info, true
	}
	info, found, err := j.db.Basic(addr)
	j.recordError(err)
	return info, found && err == nil
}

// touch returns the change record of addr, creating it if needed.
func (j *journal) touch(addr kiln.Address) *state.AccountChange {
	if change, found := j.current.changes[addr]; found {
		return change
	}
	info, found, err := j.db.Basic(addr)
	j.recordError(err)
	if !found || err != nil {
		info = state.AccountInfo{CodeHash: kiln.EmptyCodeHash}
	}
	change := &state.AccountChange{
		Info:    info.Clone(),
		Storage: map[kiln.Key]kiln.Word{},
	}
	j.current.changes[addr] = change
	return change
}

// markCreated flags addr as created by the ongoing transaction; storage
// present before is discarded.
func (j *journal) markCreated(addr kiln.Address) {
	change := j.touch(addr)
	change.Created = true
	change.Destroyed = false
	change.Storage = map[kiln.Key]kiln.Word{}
}

func (j *journal) AccountExists(addr kiln.Address) bool {
	_, exists := j.account(addr)
	return exists
}

func (j *journal) GetBalance(addr kiln.Address) kiln.Value {
	info, _ := j.account(addr)
	return info.Balance
}

func (j *journal) SetBalance(addr kiln.Address, value kiln.Value) {
	j.touch(addr).Info.Balance = value
}

func (j *journal) GetNonce(addr kiln.Address) uint64 {
	info, _ := j.account(addr)
	return info.Nonce
}

func (j *journal) SetNonce(addr kiln.Address, nonce uint64) {
	j.touch(addr).Info.Nonce = nonce
}

func (j *journal) GetCode(addr kiln.Address) kiln.Code {
	info, _ := j.account(addr)
	return info.Code
}

func (j *journal) GetCodeHash(addr kiln.Address) kiln.Hash {
	info, exists := j.account(addr)
	if !exists {
		return kiln.Hash{}
	}
	if info.CodeHash == (kiln.Hash{}) {
		return kiln.HashCode(info.Code)
	}
	return info.CodeHash
}

func (j *journal) GetCodeSize(addr kiln.Address) int {
	return len(j.GetCode(addr))
}

func (j *journal) SetCode(addr kiln.Address, code kiln.Code) {
	change := j.touch(addr)
	change.Info.Code = append(kiln.Code(nil), code...)
	change.Info.CodeHash = kiln.HashCode(code)
}

func (j *journal) GetStorage(addr kiln.Address, key kiln.Key) kiln.Word {
	if change, found := j.current.changes[addr]; found {
		if value, found := change.Storage[key]; found {
			return value
		}
		if change.Created {
			return kiln.Word{}
		}
	}
	return j.storage(addr, key)
}

func (j *journal) SetStorage(addr kiln.Address, key kiln.Key, value kiln.Word) kiln.StorageStatus {
	original := j.GetCommittedStorage(addr, key)
	current := j.GetStorage(addr, key)
	j.touch(addr).Storage[key] = value
	return kiln.GetStorageStatus(original, current, value)
}

func (j *journal) GetCommittedStorage(addr kiln.Address, key kiln.Key) kiln.Word {
	if change, found := j.current.changes[addr]; found && change.Created {
		return kiln.Word{}
	}
	return j.storage(addr, key)
}

func (j *journal) storage(addr kiln.Address, key kiln.Key) kiln.Word {
	value, err := j.db.Storage(addr, key)
	j.recordError(err)
	return value
}

// selfDestruct moves the balance of addr to the beneficiary. If both are the
// same, the balance is only burned when the account is destroyed. Starting
// with Cancun, the account itself is only removed if it was created within
// the ongoing transaction; the caller decides through the destroy flag.
func (j *journal) selfDestruct(addr, beneficiary kiln.Address, destroy bool) bool {
	change := j.touch(addr)
	if beneficiary != addr {
		target := j.touch(beneficiary)
		target.Info.Balance = kiln.Add(target.Info.Balance, change.Info.Balance)
		change.Info.Balance = kiln.Value{}
	} else if destroy {
		change.Info.Balance = kiln.Value{}
	}
	if !destroy || change.Destroyed {
		return false
	}
	change.Destroyed = true
	return true
}

func (j *journal) HasSelfDestructed(addr kiln.Address) bool {
	change, found := j.current.changes[addr]
	return found && change.Destroyed
}

func (j *journal) createdInTransaction(addr kiln.Address) bool {
	change, found := j.current.changes[addr]
	return found && change.Created
}

func (j *journal) CreateSnapshot() kiln.Snapshot {
	j.snapshots = append(j.snapshots, j.current.clone())
	return kiln.Snapshot(len(j.snapshots) - 1)
}

func (j *journal) RestoreSnapshot(snapshot kiln.Snapshot) {
	id := int(snapshot)
	if id < 0 || id >= len(j.snapshots) {
		return
	}
	j.current = j.snapshots[id]
	j.snapshots = j.snapshots[:id]
}

func (j *journal) GetTransientStorage(addr kiln.Address, key kiln.Key) kiln.Word {
	return j.current.transient[addr][key]
}

func (j *journal) SetTransientStorage(addr kiln.Address, key kiln.Key, value kiln.Word) {
	slots, found := j.current.transient[addr]
	if !found {
		slots = map[kiln.Key]kiln.Word{}
		j.current.transient[addr] = slots
	}
	if value == (kiln.Word{}) {
		delete(slots, key)
		return
	}
	slots[key] = value
}

func (j *journal) AccessAccount(addr kiln.Address) kiln.AccessStatus {
	if _, found := j.current.warmAccounts[addr]; found {
		return kiln.WarmAccess
	}
	j.current.warmAccounts[addr] = struct{}{}
	return kiln.ColdAccess
}

func (j *journal) AccessStorage(addr kiln.Address, key kiln.Key) kiln.AccessStatus {
	j.current.warmAccounts[addr] = struct{}{}
	slots, found := j.current.warmSlots[addr]
	if !found {
		slots = map[kiln.Key]struct{}{}
		j.current.warmSlots[addr] = slots
	}
	if _, found := slots[key]; found {
		return kiln.WarmAccess
	}
	slots[key] = struct{}{}
	return kiln.ColdAccess
}

func (j *journal) IsAddressInAccessList(addr kiln.Address) bool {
	_, found := j.current.warmAccounts[addr]
	return found
}

func (j *journal) IsSlotInAccessList(addr kiln.Address, key kiln.Key) (addressPresent, slotPresent bool) {
	_, addressPresent = j.current.warmAccounts[addr]
	_, slotPresent = j.current.warmSlots[addr][key]
	return addressPresent, slotPresent
}

func (j *journal) EmitLog(log kiln.Log) {
	j.current.logs = append(j.current.logs, cloneLog(log))
	if j.observers != nil {
		j.observers.OnLog(log)
	}
}

func (j *journal) GetLogs() []kiln.Log {
	return append([]kiln.Log(nil), j.current.logs...)
}

func cloneLog(log kiln.Log) kiln.Log {
	return kiln.Log{
		Address: log.Address,
		Topics:  append([]kiln.Hash(nil), log.Topics...),
		Data:    append(kiln.Data(nil), log.Data...),
	}
}
