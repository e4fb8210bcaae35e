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
	"fmt"
	"strings"
)

// Revision is an enumeration for EVM specification revisions (aka. Hard-Forks).
type Revision int

// The list of revisions supported so far by Kiln. Petersburg is only retained
// as the last revision charging 68 gas per non-zero calldata byte.
const (
	R06_Petersburg Revision = iota
	R07_Istanbul
	R09_Berlin
	R10_London
	R11_Paris
	R12_Shanghai
	R13_Cancun
	NewestSupportedRevision = R13_Cancun
)

var revisionNames = map[Revision]string{
	R06_Petersburg: "Petersburg",
	R07_Istanbul:   "Istanbul",
	R09_Berlin:     "Berlin",
	R10_London:     "London",
	R11_Paris:      "Paris",
	R12_Shanghai:   "Shanghai",
	R13_Cancun:     "Cancun",
}

// GetAllKnownRevisions returns all revisions in ascending order.
func GetAllKnownRevisions() []Revision {
	res := make([]Revision, 0, len(revisionNames))
	for r := R06_Petersburg; r <= NewestSupportedRevision; r++ {
		res = append(res, r)
	}
	return res
}

// ParseRevision resolves a revision by its case-insensitive name.
func ParseRevision(name string) (Revision, error) {
	for revision, cur := range revisionNames {
		if strings.EqualFold(cur, name) {
			return revision, nil
		}
	}
	return 0, fmt.Errorf("unknown revision: %s", name)
}

func (r Revision) String() string {
	if name, found := revisionNames[r]; found {
		return name
	}
	return fmt.Sprintf("Revision(%d)", int(r))
}

func (r Revision) MarshalJSON() ([]byte, error) {
	name, found := revisionNames[r]
	if !found {
		return nil, &json.UnsupportedValueError{Str: r.String()}
	}
	return json.Marshal(name)
}

func (r *Revision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	revision, err := ParseRevision(s)
	if err != nil {
		return err
	}
	*r = revision
	return nil
}
