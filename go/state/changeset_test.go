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
	"slices"
	"testing"

	"github.com/Fantom-foundation/Kiln/go/kiln"
)

func TestChangeset_CloneIsDeep(t *testing.T) {
	original := Changeset{
		kiln.Address{1}: {
			Info:    NewAccountInfo(kiln.NewValue(1), 1, kiln.Code{1}),
			Storage: map[kiln.Key]kiln.Word{{1}: kiln.NewWord(1)},
		},
	}
	clone := original.Clone()
	if !clone.Equal(original) {
		t.Fatalf("clone differs from original")
	}
	clone[kiln.Address{1}].Storage[kiln.Key{1}] = kiln.NewWord(2)
	clone[kiln.Address{1}].Info.Code[0] = 2
	clone[kiln.Address{2}] = &AccountChange{}

	if want, got := kiln.NewWord(1), original[kiln.Address{1}].Storage[kiln.Key{1}]; want != got {
		t.Errorf("storage of original modified, got %v", got)
	}
	if original[kiln.Address{1}].Info.Code[0] != 1 {
		t.Errorf("code of original modified")
	}
	if len(original) != 1 {
		t.Errorf("accounts of original modified")
	}
	if Changeset(nil).Clone() != nil {
		t.Errorf("clone of nil should be nil")
	}
}

func TestChangeset_AddressesAreSorted(t *testing.T) {
	changes := Changeset{{3}: {}, {1}: {}, {2}: {}}
	if want, got := []kiln.Address{{1}, {2}, {3}}, changes.Addresses(); !slices.Equal(want, got) {
		t.Errorf("unexpected addresses, wanted %v, got %v", want, got)
	}
}

func TestChangeset_HasGlobalFailure(t *testing.T) {
	tests := map[string]struct {
		changes Changeset
		want    bool
	}{
		"empty": {Changeset{}, false},
		"other account": {Changeset{
			kiln.Address{1}: {Storage: map[kiln.Key]kiln.Word{kiln.GlobalFailureSlot: kiln.NewWord(1)}},
		}, false},
		"other slot": {Changeset{
			kiln.CheatCodeAddress: {Storage: map[kiln.Key]kiln.Word{{1}: kiln.NewWord(1)}},
		}, false},
		"cleared": {Changeset{
			kiln.CheatCodeAddress: {Storage: map[kiln.Key]kiln.Word{kiln.GlobalFailureSlot: {}}},
		}, false},
		"set": {Changeset{
			kiln.CheatCodeAddress: {Storage: map[kiln.Key]kiln.Word{kiln.GlobalFailureSlot: kiln.NewWord(1)}},
		}, true},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			if got := test.changes.HasGlobalFailure(); test.want != got {
				t.Errorf("unexpected result, wanted %t, got %t", test.want, got)
			}
		})
	}
}
