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
	"strings"
	"testing"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/common"
)

func newFullStack() *Stack {
	return &Stack{
		Logs:     NewLogCollector(),
		Tracer:   NewTracer(),
		Coverage: NewCoverageCollector(),
		Debugger: NewDebugger(),
		Harness:  NewHarness(),
	}
}

// runNestedCalls simulates an outer call with one nested call emitting a log.
func runNestedCalls(stack *Stack) {
	outer := kiln.Code{0x60, 0x01, 0x00}
	inner := kiln.Code{0x00}
	stack.OnEnter(Frame{Depth: 0, Kind: kiln.Call, From: kiln.Address{1}, To: kiln.Address{2}, Gas: 100, Code: outer, CodeHash: kiln.HashCode(outer)})
	stack.OnStep(kiln.Step{Pc: 0, Op: 0x60, Gas: 100, Cost: 3})
	stack.OnEnter(Frame{Depth: 1, Kind: kiln.StaticCall, From: kiln.Address{2}, To: kiln.Address{3}, Gas: 50, Code: inner, CodeHash: kiln.HashCode(inner)})
	stack.OnStep(kiln.Step{Pc: 0, Op: 0x00, Gas: 50, Depth: 1})
	stack.OnLog(kiln.Log{Address: kiln.Address{3}, Topics: []kiln.Hash{{1}}, Data: []byte{1}})
	stack.OnExit(FrameResult{Status: kiln.Stopped, GasLeft: 50})
	stack.OnStep(kiln.Step{Pc: 2, Op: 0x00, Gas: 97})
	stack.OnExit(FrameResult{Status: kiln.Returned, Output: []byte{7}, GasLeft: 90})
}

func TestStack_DisabledComponentsCollectNothing(t *testing.T) {
	stack := &Stack{}
	runNestedCalls(stack)
	artifacts := stack.Collect()
	if artifacts.Logs != nil || artifacts.Traces != nil || artifacts.Coverage != nil || artifacts.Debug != nil || artifacts.Harness != nil {
		t.Errorf("unexpected artifacts: %+v", artifacts)
	}
	if stack.StepObserver() != nil {
		t.Errorf("steps should not be observed without coverage or debugger")
	}
}

func TestStack_ComponentsCollectArtifacts(t *testing.T) {
	stack := newFullStack()
	runNestedCalls(stack)
	artifacts := stack.Collect()

	if len(artifacts.Logs) != 1 || artifacts.Logs[0].Address != (common.Address{3}) {
		t.Errorf("unexpected logs: %v", artifacts.Logs)
	}

	traces := artifacts.Traces
	if traces == nil || len(traces.Nodes) != 2 {
		t.Fatalf("unexpected traces: %v", traces)
	}
	root := traces.Root()
	if root.Status != kiln.Returned || root.GasUsed != 10 || len(root.Children) != 1 {
		t.Errorf("unexpected root node: %+v", root)
	}
	if child := traces.Nodes[root.Children[0]]; child.Parent != 0 || len(child.Logs) != 1 || child.Kind != kiln.StaticCall {
		t.Errorf("unexpected child node: %+v", child)
	}

	if len(artifacts.Coverage) != 2 {
		t.Errorf("unexpected coverage: %v", artifacts.Coverage)
	}
	outer := artifacts.Coverage[kiln.HashCode(kiln.Code{0x60, 0x01, 0x00})]
	if outer == nil || outer.Covered() != 2 || outer.Instructions != 2 {
		t.Errorf("unexpected outer coverage: %+v", outer)
	}

	if debug := artifacts.Debug; debug == nil || len(debug.Nodes) != 2 || len(debug.Nodes[0].Steps) != 2 || len(debug.Nodes[1].Steps) != 1 {
		t.Errorf("unexpected debug arena: %+v", debug)
	}
	if artifacts.Harness != stack.Harness {
		t.Errorf("harness not exposed")
	}
	if stack.StepObserver() == nil {
		t.Errorf("steps should be observed")
	}
}

func TestStack_CloneDoesNotShareCollectedData(t *testing.T) {
	template := newFullStack()
	clone := template.Clone()
	runNestedCalls(clone)

	artifacts := template.Collect()
	if len(artifacts.Logs) != 0 || len(artifacts.Traces.Nodes) != 0 || len(artifacts.Coverage) != 0 || len(artifacts.Debug.Nodes) != 0 {
		t.Errorf("template modified by clone: %+v", artifacts)
	}
	if artifacts := clone.Collect(); len(artifacts.Traces.Nodes) != 2 {
		t.Errorf("clone did not record")
	}
}

func TestStack_InterceptOnlyHandlesCheatCodeCalls(t *testing.T) {
	stack := newFullStack()
	host := newFakeHost()

	if _, handled := stack.Intercept(host, Frame{Kind: kiln.Call, To: kiln.Address{1}}); handled {
		t.Errorf("ordinary calls should not be intercepted")
	}
	if _, handled := stack.Intercept(host, Frame{Kind: kiln.Create, To: kiln.CheatCodeAddress}); handled {
		t.Errorf("creations should not be intercepted")
	}
	input, _ := EncodeCheatCode("warp", common.Big1)
	result, handled := stack.Intercept(host, Frame{Kind: kiln.Call, To: kiln.CheatCodeAddress, Input: input})
	if !handled || !result.Success() || host.timestamp != 1 {
		t.Errorf("cheat code call not handled: %v", result)
	}
	if _, handled := (&Stack{}).Intercept(host, Frame{Kind: kiln.Call, To: kiln.CheatCodeAddress, Input: input}); handled {
		t.Errorf("calls should not be intercepted without harness")
	}
}

func TestTracer_RenderUsesLabels(t *testing.T) {
	stack := newFullStack()
	runNestedCalls(stack)
	rendered := stack.Tracer.Arena().Render(map[kiln.Address]string{{3}: "Inner"})
	if want := "Inner"; !strings.Contains(rendered, want) {
		t.Errorf("rendering does not contain %q:\n%s", want, rendered)
	}
}

func TestCoverage_HashIsComputedForFramesWithoutHash(t *testing.T) {
	collector := NewCoverageCollector()
	code := kiln.Code{0x5b, 0x00}
	collector.hit(&Frame{Code: code}, kiln.Step{Pc: 1})
	if _, found := collector.HitMaps()[kiln.HashCode(code)]; !found {
		t.Errorf("hits not recorded under the code hash")
	}
}

func TestCoverage_CountInstructionsSkipsPushData(t *testing.T) {
	tests := map[string]struct {
		code kiln.Code
		want int
	}{
		"empty":        {nil, 0},
		"single":       {kiln.Code{0x00}, 1},
		"push1":        {kiln.Code{0x60, 0x01, 0x00}, 2},
		"push32":       {append(append(kiln.Code{0x7f}, make([]byte, 32)...), 0x00), 2},
		"truncated":    {kiln.Code{0x61, 0x01}, 1},
		"push as data": {kiln.Code{0x60, 0x60, 0x60}, 2},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			if got := countInstructions(test.code); test.want != got {
				t.Errorf("unexpected count, wanted %d, got %d", test.want, got)
			}
		})
	}
}

func TestCoverage_MergeAddsHits(t *testing.T) {
	a := HitMaps{{1}: {Hits: map[uint64]uint64{0: 1}}}
	b := HitMaps{{1}: {Hits: map[uint64]uint64{0: 2, 3: 1}}, {2}: {Hits: map[uint64]uint64{1: 1}}}
	a.Merge(b)
	if got := a[kiln.Hash{1}].Hits[0]; got != 3 {
		t.Errorf("unexpected hits, got %d", got)
	}
	if len(a) != 2 || a[kiln.Hash{1}].Covered() != 2 {
		t.Errorf("unexpected merge result: %v", a)
	}
}
