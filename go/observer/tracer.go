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
	"strings"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"golang.org/x/exp/slices"
)

// CallTraceArena holds the call tree of an execution. Nodes reference their
// parent and children by index; the first node is the root.
type CallTraceArena struct {
	Nodes []CallTraceNode
}

type CallTraceNode struct {
	Parent   int // < -1 for the root
	Children []int
	Depth    int
	Kind     kiln.CallKind
	From     kiln.Address
	To       kiln.Address
	Input    kiln.Data
	Value    kiln.Value
	Gas      kiln.Gas
	Output   kiln.Data
	Status   kiln.ExitStatus
	GasUsed  kiln.Gas
	Logs     []kiln.Log
}

// Tracer builds a CallTraceArena from the frames of an execution.
type Tracer struct {
	arena CallTraceArena
	open  []int
}

func NewTracer() *Tracer {
	return &Tracer{}
}

func (t *Tracer) Clone() *Tracer {
	return &Tracer{
		arena: *t.arena.Clone(),
		open:  slices.Clone(t.open),
	}
}

// Arena returns a copy of the trace recorded so far.
func (t *Tracer) Arena() *CallTraceArena {
	return t.arena.Clone()
}

func (t *Tracer) enter(frame Frame) {
	parent := -1
	if len(t.open) > 0 {
		parent = t.open[len(t.open)-1]
	}
	idx := len(t.arena.Nodes)
	t.arena.Nodes = append(t.arena.Nodes, CallTraceNode{
		Parent: parent,
		Depth:  frame.Depth,
		Kind:   frame.Kind,
		From:   frame.From,
		To:     frame.To,
		Input:  slices.Clone(frame.Input),
		Value:  frame.Value,
		Gas:    frame.Gas,
	})
	if parent >= 0 {
		t.arena.Nodes[parent].Children = append(t.arena.Nodes[parent].Children, idx)
	}
	t.open = append(t.open, idx)
}

func (t *Tracer) exit(frame Frame, result FrameResult) {
	if len(t.open) == 0 {
		return
	}
	node := &t.arena.Nodes[t.open[len(t.open)-1]]
	t.open = t.open[:len(t.open)-1]
	node.Output = slices.Clone(result.Output)
	node.Status = result.Status
	node.GasUsed = frame.Gas - result.GasLeft
}

func (t *Tracer) log(log kiln.Log) {
	if len(t.open) == 0 {
		return
	}
	node := &t.arena.Nodes[t.open[len(t.open)-1]]
	node.Logs = append(node.Logs, cloneLog(log))
}

func (a *CallTraceArena) Clone() *CallTraceArena {
	res := &CallTraceArena{Nodes: make([]CallTraceNode, 0, len(a.Nodes))}
	for _, node := range a.Nodes {
		node.Children = slices.Clone(node.Children)
		node.Input = slices.Clone(node.Input)
		node.Output = slices.Clone(node.Output)
		node.Logs = cloneLogs(node.Logs)
		res.Nodes = append(res.Nodes, node)
	}
	return res
}

// Root returns the outermost call, nil for an empty arena.
func (a *CallTraceArena) Root() *CallTraceNode {
	if len(a.Nodes) == 0 {
		return nil
	}
	return &a.Nodes[0]
}

// Render produces a human readable rendering of the call tree. Addresses
// with a label are printed using the label.
func (a *CallTraceArena) Render(labels map[kiln.Address]string) string {
	var builder strings.Builder
	if len(a.Nodes) > 0 {
		a.render(&builder, 0, "", labels)
	}
	return builder.String()
}

func (a *CallTraceArena) render(builder *strings.Builder, idx int, indent string, labels map[kiln.Address]string) {
	node := a.Nodes[idx]
	name := node.To.String()
	if label, found := labels[node.To]; found {
		name = label
	}
	selector := ""
	if len(node.Input) >= 4 && !node.Kind.IsCreate() {
		selector = fmt.Sprintf("::%x", node.Input[:4])
	}
	fmt.Fprintf(builder, "%s[%d] %s %s%s -> %v\n", indent, node.GasUsed, node.Kind, name, selector, node.Status)
	for _, log := range node.Logs {
		fmt.Fprintf(builder, "%s  emit %d topics, %d bytes\n", indent, len(log.Topics), len(log.Data))
	}
	for _, child := range node.Children {
		a.render(builder, child, indent+"  ", labels)
	}
}
