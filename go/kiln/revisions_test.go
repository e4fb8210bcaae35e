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
	"encoding/json"
	"testing"
)

func TestRevisions_JSONRoundTrip(t *testing.T) {
	for _, revision := range GetAllKnownRevisions() {
		encoded, err := json.Marshal(revision)
		if err != nil {
			t.Fatalf("failed to marshal %v: %v", revision, err)
		}
		if want, got := "\""+revision.String()+"\"", string(encoded); want != got {
			t.Errorf("unexpected encoding, wanted %v, got %v", want, got)
		}
		var restored Revision
		if err := json.Unmarshal(encoded, &restored); err != nil {
			t.Fatalf("failed to unmarshal %s: %v", encoded, err)
		}
		if restored != revision {
			t.Errorf("unexpected revision, wanted %v, got %v", revision, restored)
		}
	}
}

func TestRevisions_MarshalError(t *testing.T) {
	for _, revision := range []Revision{Revision(42), Revision(-1)} {
		if marshaled, err := json.Marshal(revision); err == nil {
			t.Errorf("expected error but got: %s", marshaled)
		}
	}
}

func TestRevisions_UnmarshalError(t *testing.T) {
	var revision Revision
	for _, input := range []string{"\"Frontier\"", "42", "\"\""} {
		if err := json.Unmarshal([]byte(input), &revision); err == nil {
			t.Errorf("expected error for %v", input)
		}
	}
}

func TestRevisions_ParseIsCaseInsensitive(t *testing.T) {
	tests := map[string]Revision{
		"petersburg": R06_Petersburg,
		"ISTANBUL":   R07_Istanbul,
		"Berlin":     R09_Berlin,
		"london":     R10_London,
		"paris":      R11_Paris,
		"Shanghai":   R12_Shanghai,
		"cancun":     R13_Cancun,
	}
	for input, want := range tests {
		got, err := ParseRevision(input)
		if err != nil {
			t.Fatalf("failed to parse %v: %v", input, err)
		}
		if want != got {
			t.Errorf("unexpected revision for %v, wanted %v, got %v", input, want, got)
		}
	}
}

func TestRevisions_AreOrdered(t *testing.T) {
	all := GetAllKnownRevisions()
	if want, got := len(revisionNames), len(all); want != got {
		t.Fatalf("unexpected number of revisions, wanted %d, got %d", want, got)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Errorf("revisions not in ascending order: %v", all)
		}
	}
	if all[len(all)-1] != NewestSupportedRevision {
		t.Errorf("newest revision should be last")
	}
}
