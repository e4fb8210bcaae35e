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
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Changeset is the set of account deltas produced by one execution. It only
// contains touched accounts, and for each of those only the written slots.
type Changeset map[kiln.Address]*AccountChange

// AccountChange is the post-execution state of a touched account.
type AccountChange struct {
	Info      AccountInfo
	Storage   map[kiln.Key]kiln.Word
	Destroyed bool // < the account is removed when the changeset is applied
	Created   bool // < storage present before the execution is discarded
}

// Clone creates a deep copy of the changeset.
func (c Changeset) Clone() Changeset {
	if c == nil {
		return nil
	}
	res := make(Changeset, len(c))
	for addr, change := range c {
		res[addr] = change.Clone()
	}
	return res
}

// Addresses lists the touched accounts in ascending order.
func (c Changeset) Addresses() []kiln.Address {
	res := maps.Keys(c)
	slices.SortFunc(res, func(a, b kiln.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return res
}

// HasGlobalFailure checks whether the changeset sets the global failure flag
// hosted by the cheat code account.
func (c Changeset) HasGlobalFailure() bool {
	change, found := c[kiln.CheatCodeAddress]
	if !found {
		return false
	}
	return change.Storage[kiln.GlobalFailureSlot] == kiln.NewWord(1)
}

// Equal compares two changesets.
func (c Changeset) Equal(other Changeset) bool {
	if len(c) != len(other) {
		return false
	}
	for addr, change := range c {
		o, found := other[addr]
		if !found || !change.Equal(o) {
			return false
		}
	}
	return true
}

func (a *AccountChange) Clone() *AccountChange {
	return &AccountChange{
		Info:      a.Info.Clone(),
		Storage:   maps.Clone(a.Storage),
		Destroyed: a.Destroyed,
		Created:   a.Created,
	}
}

func (a *AccountChange) Equal(b *AccountChange) bool {
	return a.Info.Equal(b.Info) &&
		a.Destroyed == b.Destroyed &&
		a.Created == b.Created &&
		maps.Equal(a.Storage, b.Storage)
}
