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

import (
	"strings"
	"testing"
)

func TestGetStorageStatus_Transitions(t *testing.T) {
	zero, x, y, z := Word{}, NewWord(1), NewWord(2), NewWord(3)
	tests := map[string]struct {
		original, current, new Word
		want                   StorageStatus
	}{
		"unchanged":         {x, x, x, StorageAssigned},
		"added":             {zero, zero, z, StorageAdded},
		"deleted":           {x, x, zero, StorageDeleted},
		"modified":          {x, x, z, StorageModified},
		"deleted added":     {x, zero, z, StorageDeletedAdded},
		"modified deleted":  {x, y, zero, StorageModifiedDeleted},
		"deleted restored":  {x, zero, x, StorageDeletedRestored},
		"added deleted":     {zero, y, zero, StorageAddedDeleted},
		"modified restored": {x, y, x, StorageModifiedRestored},
		"modified twice":    {x, y, z, StorageAssigned},
		"added twice":       {zero, y, z, StorageAssigned},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := GetStorageStatus(test.original, test.current, test.new)
			if got != test.want {
				t.Errorf("unexpected status, wanted %v, got %v", test.want, got)
			}
		})
	}
}

func TestStorageStatus_String(t *testing.T) {
	for status, name := range storageStatusNames {
		if status.String() != name {
			t.Errorf("unexpected name for %d: %v", int(status), status)
		}
	}
	if got := StorageStatus(42).String(); !strings.HasPrefix(got, "StorageStatus(") {
		t.Errorf("unexpected name for unknown status: %v", got)
	}
}
