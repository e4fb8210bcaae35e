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
	"sync/atomic"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MemoryBackend is an in-memory Database. It is not safe for concurrent use;
// executions on different goroutines need their own clones.
type MemoryBackend struct {
	accounts     map[kiln.Address]*memoryAccount
	persistent   map[kiln.Address]struct{}
	snapshots    map[SnapshotID]backendSnapshot
	nextSnapshot SnapshotID
	// failure is shared with all clones created by Clone().
	failure *atomic.Bool
}

type memoryAccount struct {
	info    AccountInfo
	storage map[kiln.Key]kiln.Word
}

type backendSnapshot struct {
	accounts map[kiln.Address]*memoryAccount
	journal  Changeset
	env      any
}

// NewMemoryBackend creates an empty backend with the default persistent
// accounts.
func NewMemoryBackend() *MemoryBackend {
	persistent := map[kiln.Address]struct{}{}
	for _, addr := range DefaultPersistentAccounts() {
		persistent[addr] = struct{}{}
	}
	return &MemoryBackend{
		accounts:   map[kiln.Address]*memoryAccount{},
		persistent: persistent,
		snapshots:  map[SnapshotID]backendSnapshot{},
		failure:    new(atomic.Bool),
	}
}

// Clone creates an independent copy of the backend's accounts. The snapshot
// failure flag stays shared with the origin.
func (b *MemoryBackend) Clone() *MemoryBackend {
	return &MemoryBackend{
		accounts:     cloneAccounts(b.accounts),
		persistent:   maps.Clone(b.persistent),
		snapshots:    maps.Clone(b.snapshots),
		nextSnapshot: b.nextSnapshot,
		failure:      b.failure,
	}
}

// CloneEmpty creates a backend without accounts and snapshots but with the
// same persistent account configuration and a fresh failure flag.
func (b *MemoryBackend) CloneEmpty() *MemoryBackend {
	res := NewMemoryBackend()
	res.persistent = maps.Clone(b.persistent)
	return res
}

func (b *MemoryBackend) Basic(addr kiln.Address) (AccountInfo, bool, error) {
	account, found := b.accounts[addr]
	if !found {
		return AccountInfo{}, false, nil
	}
	return account.info.Clone(), true, nil
}

func (b *MemoryBackend) Storage(addr kiln.Address, key kiln.Key) (kiln.Word, error) {
	account, found := b.accounts[addr]
	if !found {
		return kiln.Word{}, nil
	}
	return account.storage[key], nil
}

// StorageSlots returns a copy of all non-default slots of an account.
func (b *MemoryBackend) StorageSlots(addr kiln.Address) map[kiln.Key]kiln.Word {
	account, found := b.accounts[addr]
	if !found {
		return nil
	}
	return maps.Clone(account.storage)
}

// Accounts lists all known accounts in ascending order.
func (b *MemoryBackend) Accounts() []kiln.Address {
	res := maps.Keys(b.accounts)
	slices.SortFunc(res, func(a, b kiln.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return res
}

func (b *MemoryBackend) HasSnapshotFailure() bool {
	return b.failure.Load()
}

func (b *MemoryBackend) SetSnapshotFailure(failed bool) {
	b.failure.Store(failed)
}

func (b *MemoryBackend) Snapshot(journal Changeset, env any) SnapshotID {
	id := b.nextSnapshot
	b.nextSnapshot++
	b.snapshots[id] = backendSnapshot{
		accounts: cloneAccounts(b.accounts),
		journal:  journal.Clone(),
		env:      env,
	}
	return id
}

func (b *MemoryBackend) RevertTo(id SnapshotID, current Changeset) (Changeset, any, bool) {
	snapshot, found := b.snapshots[id]
	if !found {
		return nil, nil, false
	}
	if current.HasGlobalFailure() {
		b.failure.Store(true)
	}
	delete(b.snapshots, id)
	b.accounts = cloneAccounts(snapshot.accounts)
	return snapshot.journal.Clone(), snapshot.env, true
}

func (b *MemoryBackend) InsertAccountInfo(addr kiln.Address, info AccountInfo) {
	b.getOrCreate(addr).info = info.Clone()
}

func (b *MemoryBackend) InsertAccountStorage(addr kiln.Address, key kiln.Key, value kiln.Word) {
	account := b.getOrCreate(addr)
	if value == (kiln.Word{}) {
		delete(account.storage, key)
		return
	}
	account.storage[key] = value
}

func (b *MemoryBackend) AddPersistentAccount(addr kiln.Address) bool {
	if _, found := b.persistent[addr]; found {
		return false
	}
	b.persistent[addr] = struct{}{}
	return true
}

func (b *MemoryBackend) RemovePersistentAccount(addr kiln.Address) bool {
	if _, found := b.persistent[addr]; !found {
		return false
	}
	delete(b.persistent, addr)
	return true
}

func (b *MemoryBackend) IsPersistent(addr kiln.Address) bool {
	_, found := b.persistent[addr]
	return found
}

// Commit durably applies all changes of the given changeset.
func (b *MemoryBackend) Commit(changes Changeset) {
	for addr, change := range changes {
		if change.Destroyed {
			delete(b.accounts, addr)
			continue
		}
		account := b.getOrCreate(addr)
		if change.Created {
			account.storage = map[kiln.Key]kiln.Word{}
		}
		account.info = change.Info.Clone()
		for key, value := range change.Storage {
			if value == (kiln.Word{}) {
				delete(account.storage, key)
			} else {
				account.storage[key] = value
			}
		}
	}
}

// SelectFork replaces all non-persistent accounts with the accounts of the
// given backend. Persistent accounts keep their current state.
func (b *MemoryBackend) SelectFork(other *MemoryBackend) {
	accounts := cloneAccounts(other.accounts)
	for addr := range b.persistent {
		if account, found := b.accounts[addr]; found {
			accounts[addr] = account.clone()
		} else {
			delete(accounts, addr)
		}
	}
	b.accounts = accounts
}

// Equal compares the account state of two backends.
func (b *MemoryBackend) Equal(other *MemoryBackend) bool {
	if len(b.accounts) != len(other.accounts) {
		return false
	}
	for addr, account := range b.accounts {
		o, found := other.accounts[addr]
		if !found || !account.info.Equal(o.info) || !maps.Equal(account.storage, o.storage) {
			return false
		}
	}
	return true
}

func (b *MemoryBackend) getOrCreate(addr kiln.Address) *memoryAccount {
	account, found := b.accounts[addr]
	if !found {
		account = &memoryAccount{
			info:    AccountInfo{CodeHash: kiln.EmptyCodeHash},
			storage: map[kiln.Key]kiln.Word{},
		}
		b.accounts[addr] = account
	}
	return account
}

func (a *memoryAccount) clone() *memoryAccount {
	return &memoryAccount{
		info:    a.info.Clone(),
		storage: maps.Clone(a.storage),
	}
}

func cloneAccounts(accounts map[kiln.Address]*memoryAccount) map[kiln.Address]*memoryAccount {
	res := make(map[kiln.Address]*memoryAccount, len(accounts))
	for addr, account := range accounts {
		res[addr] = account.clone()
	}
	return res
}
