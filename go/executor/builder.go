// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"fmt"
	"math"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
)

// DefaultInterpreter is the name of the interpreter used unless configured
// otherwise. Its package needs to be imported for it to be registered.
const DefaultInterpreter = "geth"

// DefaultGasLimit is the gas ceiling of every execution unless configured
// otherwise.
const DefaultGasLimit = kiln.Gas(math.MaxInt64)

// Builder assembles an Executor. Log collection and the cheat code harness
// are enabled by default; tracing, coverage and step debugging are not.
type Builder struct {
	env             Env
	gasLimit        kiln.Gas
	interpreter     kiln.Interpreter
	interpreterName string
	logs            bool
	harness         bool
	tracing         bool
	coverage        bool
	debugger        bool
}

func NewBuilder() *Builder {
	return &Builder{
		env:             DefaultEnv(),
		gasLimit:        DefaultGasLimit,
		interpreterName: DefaultInterpreter,
		logs:            true,
		harness:         true,
	}
}

func (b *Builder) WithEnv(env Env) *Builder {
	b.env = env.Clone()
	return b
}

func (b *Builder) WithRevision(revision kiln.Revision) *Builder {
	b.env.Cfg.Revision = revision
	return b
}

func (b *Builder) WithChainID(id uint64) *Builder {
	b.env.Cfg.ChainID = kiln.NewWord(id)
	return b
}

func (b *Builder) WithGasLimit(gasLimit kiln.Gas) *Builder {
	b.gasLimit = gasLimit
	return b
}

// WithInterpreter uses the given interpreter instance, taking precedence
// over a configured interpreter name.
func (b *Builder) WithInterpreter(interpreter kiln.Interpreter) *Builder {
	b.interpreter = interpreter
	return b
}

// WithInterpreterName selects a registered interpreter by name.
func (b *Builder) WithInterpreterName(name string) *Builder {
	b.interpreterName = name
	return b
}

func (b *Builder) WithLogs(enabled bool) *Builder {
	b.logs = enabled
	return b
}

func (b *Builder) WithHarness(enabled bool) *Builder {
	b.harness = enabled
	return b
}

func (b *Builder) WithTracing(enabled bool) *Builder {
	b.tracing = enabled
	return b
}

func (b *Builder) WithCoverage(enabled bool) *Builder {
	b.coverage = enabled
	return b
}

func (b *Builder) WithDebugger(enabled bool) *Builder {
	b.debugger = enabled
	return b
}

// Build creates an executor on the given backend. A new in-memory backend is
// used if none is provided.
func (b *Builder) Build(backend *state.MemoryBackend) (*Executor, error) {
	if b.gasLimit <= 0 {
		return nil, fmt.Errorf("invalid gas limit %d", b.gasLimit)
	}
	interpreter := b.interpreter
	if interpreter == nil {
		var err error
		interpreter, err = kiln.NewInterpreter(b.interpreterName)
		if err != nil {
			return nil, err
		}
	}
	if backend == nil {
		backend = state.NewMemoryBackend()
	}

	var observers observer.Stack
	if b.logs {
		observers.Logs = observer.NewLogCollector()
	}
	if b.harness {
		observers.Harness = observer.NewHarness()
	}
	if b.tracing {
		observers.Tracer = observer.NewTracer()
	}
	if b.coverage {
		observers.Coverage = observer.NewCoverageCollector()
	}
	if b.debugger {
		observers.Debugger = observer.NewDebugger()
	}
	return New(backend, b.env.Clone(), observers, b.gasLimit, interpreter), nil
}
