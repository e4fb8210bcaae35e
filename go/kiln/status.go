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
)

// ExitStatus classifies how the execution of a call frame ended. The zero
// value is a generic failure so an uninitialized result is never mistaken
// for a successful one.
type ExitStatus int

const (
	Failed ExitStatus = iota

	// success family
	Stopped
	Returned
	SelfDestructed

	Reverted

	// halts
	OutOfGas
	InvalidInstruction
	StackOverflow
	StackUnderflow
	InvalidJump
	StaticViolation
	CreateCollision
	OutOfFunds
	CallTooDeep
	MaxCodeSize
	InvalidCode
)

var exitStatusNames = map[ExitStatus]string{
	Failed:             "Failed",
	Stopped:            "Stopped",
	Returned:           "Returned",
	SelfDestructed:     "SelfDestructed",
	Reverted:           "Reverted",
	OutOfGas:           "OutOfGas",
	InvalidInstruction: "InvalidInstruction",
	StackOverflow:      "StackOverflow",
	StackUnderflow:     "StackUnderflow",
	InvalidJump:        "InvalidJump",
	StaticViolation:    "StaticViolation",
	CreateCollision:    "CreateCollision",
	OutOfFunds:         "OutOfFunds",
	CallTooDeep:        "CallTooDeep",
	MaxCodeSize:        "MaxCodeSize",
	InvalidCode:        "InvalidCode",
}

// IsSuccess is true for STOP, RETURN and SELFDESTRUCT.
func (s ExitStatus) IsSuccess() bool {
	return s == Stopped || s == Returned || s == SelfDestructed
}

// IsRevert is true for explicit REVERTs.
func (s ExitStatus) IsRevert() bool {
	return s == Reverted
}

// IsHalt is true for any abnormal termination other than a revert.
func (s ExitStatus) IsHalt() bool {
	return !s.IsSuccess() && !s.IsRevert()
}

func (s ExitStatus) String() string {
	if name, found := exitStatusNames[s]; found {
		return name
	}
	return fmt.Sprintf("ExitStatus(%d)", int(s))
}

func (s ExitStatus) MarshalJSON() ([]byte, error) {
	name, found := exitStatusNames[s]
	if !found {
		return nil, &json.UnsupportedValueError{Str: s.String()}
	}
	return json.Marshal(name)
}

func (s *ExitStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, cur := range exitStatusNames {
		if cur == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown exit status: %s", name)
}
