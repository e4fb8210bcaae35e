// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package observer

import (
	"fmt"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/core/vm"
	"golang.org/x/exp/slices"
)

// DebugArena holds the executed instructions of each frame of an execution.
type DebugArena struct {
	Nodes []DebugNode
}

type DebugNode struct {
	Parent  int // < -1 for the root
	Depth   int
	Kind    kiln.CallKind
	Address kiln.Address
	Steps   []DebugStep
}

type DebugStep struct {
	Pc        uint64
	Op        byte
	Gas       kiln.Gas
	Cost      kiln.Gas
	StackSize int
}

func (s DebugStep) String() string {
	return fmt.Sprintf("%d: %v gas=%d cost=%d stack=%d", s.Pc, vm.OpCode(s.Op), s.Gas, s.Cost, s.StackSize)
}

// Debugger records every executed instruction grouped by call frame.
type Debugger struct {
	arena DebugArena
	open  []int
}

func NewDebugger() *Debugger {
	return &Debugger{}
}

func (d *Debugger) Clone() *Debugger {
	return &Debugger{
		arena: *d.arena.Clone(),
		open:  slices.Clone(d.open),
	}
}

// Arena returns a copy of the steps recorded so far.
func (d *Debugger) Arena() *DebugArena {
	return d.arena.Clone()
}

func (d *Debugger) enter(frame Frame) {
	parent := -1
	if len(d.open) > 0 {
		parent = d.open[len(d.open)-1]
	}
	d.open = append(d.open, len(d.arena.Nodes))
	d.arena.Nodes = append(d.arena.Nodes, DebugNode{
		Parent:  parent,
		Depth:   frame.Depth,
		Kind:    frame.Kind,
		Address: frame.To,
	})
}

func (d *Debugger) exit() {
	if len(d.open) > 0 {
		d.open = d.open[:len(d.open)-1]
	}
}

func (d *Debugger) step(step kiln.Step) {
	if len(d.open) == 0 {
		return
	}
	node := &d.arena.Nodes[d.open[len(d.open)-1]]
	node.Steps = append(node.Steps, DebugStep{
		Pc:        step.Pc,
		Op:        step.Op,
		Gas:       step.Gas,
		Cost:      step.Cost,
		StackSize: step.StackSize,
	})
}

func (a *DebugArena) Clone() *DebugArena {
	res := &DebugArena{Nodes: make([]DebugNode, 0, len(a.Nodes))}
	for _, node := range a.Nodes {
		node.Steps = slices.Clone(node.Steps)
		res.Nodes = append(res.Nodes, node)
	}
	return res
}
