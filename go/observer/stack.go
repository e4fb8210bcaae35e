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
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Frame describes a call frame when it is entered.
type Frame struct {
	Depth    int
	Kind     kiln.CallKind
	From     kiln.Address
	To       kiln.Address // < the new address for creations
	Input    kiln.Data
	Value    kiln.Value
	Gas      kiln.Gas
	Code     kiln.Code
	CodeHash kiln.Hash
}

// FrameResult describes how a call frame ended.
type FrameResult struct {
	Status  kiln.ExitStatus
	Output  kiln.Data
	GasLeft kiln.Gas
}

// Stack is the fixed set of observers attached to an execution. A nil
// component is disabled. Observers only record; they never change the
// status or the gas accounting of an execution.
type Stack struct {
	Logs     *LogCollector
	Tracer   *Tracer
	Coverage *CoverageCollector
	Debugger *Debugger
	Harness  *Harness

	frames []Frame
}

// Artifacts is the data collected by a Stack during an execution.
type Artifacts struct {
	Logs     []*types.Log
	Labels   map[kiln.Address]string
	Traces   *CallTraceArena
	Coverage HitMaps
	Debug    *DebugArena
	Harness  *Harness
}

// Clone creates a copy of the stack with cloned components. Components
// keep the data they collected so far.
func (s *Stack) Clone() *Stack {
	res := &Stack{}
	if s.Logs != nil {
		res.Logs = s.Logs.Clone()
	}
	if s.Tracer != nil {
		res.Tracer = s.Tracer.Clone()
	}
	if s.Coverage != nil {
		res.Coverage = s.Coverage.Clone()
	}
	if s.Debugger != nil {
		res.Debugger = s.Debugger.Clone()
	}
	if s.Harness != nil {
		res.Harness = s.Harness.Clone()
	}
	return res
}

// Collect returns the artifacts gathered by the enabled components.
func (s *Stack) Collect() Artifacts {
	var res Artifacts
	if s.Logs != nil {
		res.Logs = s.Logs.Logs()
	}
	if s.Tracer != nil {
		res.Traces = s.Tracer.Arena()
	}
	if s.Coverage != nil {
		res.Coverage = s.Coverage.HitMaps()
	}
	if s.Debugger != nil {
		res.Debug = s.Debugger.Arena()
	}
	if s.Harness != nil {
		res.Harness = s.Harness
		res.Labels = s.Harness.Labels()
	}
	return res
}

// StepObserver returns the stack as a step observer if any component is
// interested in individual instructions, nil otherwise.
func (s *Stack) StepObserver() kiln.StepObserver {
	if s.Coverage == nil && s.Debugger == nil {
		return nil
	}
	return s
}

// Intercept offers a call to the harness. The result is false if the call
// is not handled by it and should be executed normally.
func (s *Stack) Intercept(host Host, frame Frame) (kiln.CallResult, bool) {
	if s.Harness == nil || frame.To != kiln.CheatCodeAddress || frame.Kind.IsCreate() {
		return kiln.CallResult{}, false
	}
	return s.Harness.Call(host, frame), true
}

func (s *Stack) OnEnter(frame Frame) {
	s.frames = append(s.frames, frame)
	if s.Tracer != nil {
		s.Tracer.enter(frame)
	}
	if s.Debugger != nil {
		s.Debugger.enter(frame)
	}
	if s.Harness != nil {
		s.Harness.enter(frame)
	}
}

func (s *Stack) OnExit(result FrameResult) {
	if len(s.frames) == 0 {
		return
	}
	frame := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	if s.Tracer != nil {
		s.Tracer.exit(frame, result)
	}
	if s.Debugger != nil {
		s.Debugger.exit()
	}
}

func (s *Stack) OnLog(log kiln.Log) {
	if s.Logs != nil {
		s.Logs.collect(log)
	}
	if s.Tracer != nil {
		s.Tracer.log(log)
	}
}

func (s *Stack) OnStep(step kiln.Step) {
	if len(s.frames) == 0 {
		return
	}
	frame := &s.frames[len(s.frames)-1]
	if s.Coverage != nil {
		s.Coverage.hit(frame, step)
	}
	if s.Debugger != nil {
		s.Debugger.step(step)
	}
}

// LogCollector records all emitted logs in emission order, including logs of
// frames which got reverted later on.
type LogCollector struct {
	logs []kiln.Log
}

func NewLogCollector() *LogCollector {
	return &LogCollector{}
}

func (c *LogCollector) Clone() *LogCollector {
	return &LogCollector{logs: cloneLogs(c.logs)}
}

func (c *LogCollector) collect(log kiln.Log) {
	c.logs = append(c.logs, cloneLog(log))
}

// Logs returns the collected logs in the go-ethereum representation.
func (c *LogCollector) Logs() []*types.Log {
	res := make([]*types.Log, 0, len(c.logs))
	for i, log := range c.logs {
		res = append(res, ToGethLog(log, uint(i)))
	}
	return res
}

// ToGethLog converts a log into the go-ethereum representation.
func ToGethLog(log kiln.Log, index uint) *types.Log {
	topics := make([]common.Hash, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, common.Hash(topic))
	}
	return &types.Log{
		Address: common.Address(log.Address),
		Topics:  topics,
		Data:    common.CopyBytes(log.Data),
		Index:   index,
	}
}

func cloneLog(log kiln.Log) kiln.Log {
	return kiln.Log{
		Address: log.Address,
		Topics:  append([]kiln.Hash(nil), log.Topics...),
		Data:    common.CopyBytes(log.Data),
	}
}

func cloneLogs(logs []kiln.Log) []kiln.Log {
	if logs == nil {
		return nil
	}
	res := make([]kiln.Log, 0, len(logs))
	for _, log := range logs {
		res = append(res, cloneLog(log))
	}
	return res
}
