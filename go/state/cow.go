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

// CowBackend is a copy-on-write view of a MemoryBackend. Reads are served by
// the borrowed backend until the first mutating operation, which switches the
// view to a private clone. The borrowed backend is never modified, except for
// the snapshot failure flag it shares with the clone.
type CowBackend struct {
	borrowed *MemoryBackend
	owned    *MemoryBackend
}

func NewCowBackend(backend *MemoryBackend) *CowBackend {
	return &CowBackend{borrowed: backend}
}

// IsMaterialized reports whether the view switched to a private clone.
func (c *CowBackend) IsMaterialized() bool {
	return c.owned != nil
}

// Backend returns the backend currently serving reads.
func (c *CowBackend) Backend() *MemoryBackend {
	if c.owned != nil {
		return c.owned
	}
	return c.borrowed
}

func (c *CowBackend) materialize() *MemoryBackend {
	if c.owned == nil {
		c.owned = c.borrowed.Clone()
	}
	return c.owned
}

func (c *CowBackend) Basic(addr kiln.Address) (AccountInfo, bool, error) {
	return c.Backend().Basic(addr)
}

func (c *CowBackend) Storage(addr kiln.Address, key kiln.Key) (kiln.Word, error) {
	return c.Backend().Storage(addr, key)
}

func (c *CowBackend) HasSnapshotFailure() bool {
	return c.Backend().HasSnapshotFailure()
}

func (c *CowBackend) IsPersistent(addr kiln.Address) bool {
	return c.Backend().IsPersistent(addr)
}

func (c *CowBackend) Snapshot(journal Changeset, env any) SnapshotID {
	return c.materialize().Snapshot(journal, env)
}

func (c *CowBackend) RevertTo(id SnapshotID, current Changeset) (Changeset, any, bool) {
	return c.materialize().RevertTo(id, current)
}

func (c *CowBackend) InsertAccountInfo(addr kiln.Address, info AccountInfo) {
	c.materialize().InsertAccountInfo(addr, info)
}

func (c *CowBackend) InsertAccountStorage(addr kiln.Address, key kiln.Key, value kiln.Word) {
	c.materialize().InsertAccountStorage(addr, key, value)
}

func (c *CowBackend) AddPersistentAccount(addr kiln.Address) bool {
	return c.materialize().AddPersistentAccount(addr)
}

func (c *CowBackend) RemovePersistentAccount(addr kiln.Address) bool {
	return c.materialize().RemovePersistentAccount(addr)
}
