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

import "fmt"

//go:generate mockgen -source interpreter.go -destination interpreter_mock.go -package kiln

// Interpreter is a component capable of executing EVM byte-code. Kiln does not
// define instruction semantics itself; it orchestrates one or more runs of an
// Interpreter and isolates the resulting state changes.
// To obtain an Interpreter instance, client code should use NewInterpreter()
// provided by the registry file in this package.
type Interpreter interface {
	// Run executes the code provided by the parameters in the specified context
	// and returns the processing result. The resulting error is nil whenever the
	// code was correctly executed, even if the execution ended in a revert or a
	// halt. A non-nil error signals an infrastructure problem within the
	// interpreter, in which case the result is undefined. During a call with an
	// unsupported Revision an ErrUnsupportedRevision error is returned.
	Run(Parameters) (Result, error)
}

// StepObserver is an optional hook receiving a notification for every
// instruction executed by an interpreter. Interpreters not supporting step
// observation may ignore it.
type StepObserver interface {
	OnStep(Step)
}

// Step describes a single executed instruction.
type Step struct {
	Pc        uint64
	Op        byte
	Gas       Gas // gas available before the instruction
	Cost      Gas
	StackSize int
	Depth     int
}

// Parameters summarizes the list of input parameters required for executing code.
type Parameters struct {
	BlockParameters
	TransactionParameters
	Context   RunContext
	Kind      CallKind
	Static    bool
	Depth     int
	Gas       Gas
	Recipient Address
	Sender    Address
	Input     Data
	Value     Value
	CodeHash  *Hash
	Code      Code
	Observer  StepObserver // < nil if steps are not observed
}

// BlockParameters contains information about the current block.
type BlockParameters struct {
	ChainID     Word
	BlockNumber int64
	Timestamp   int64
	Coinbase    Address
	GasLimit    Gas
	PrevRandao  Hash
	BaseFee     Value
	BlobBaseFee Value
	Revision    Revision
}

// TransactionParameters contains information about current transaction.
type TransactionParameters struct {
	Origin     Address
	GasPrice   Value
	BlobHashes []Hash
}

// Result summarizes the result of a EVM code computation.
type Result struct {
	Status    ExitStatus
	Output    Data
	GasLeft   Gas
	GasRefund Gas
}

// Success is true if the execution ended with STOP, RETURN or SELFDESTRUCT.
func (r Result) Success() bool {
	return r.Status.IsSuccess()
}

// Data represents the input or output of contract invocations.
type Data []byte

// Gas represents the type used to represent the Gas values.
type Gas int64

// Log is the type summarizing a log message emitted as a side effect of a
// contract execution.
type Log struct {
	Address Address
	Topics  []Hash
	Data    Data
}

// CallKind is an enum enabling the differentiation of the different types
// of recursive contract calls supported in the EVM.
type CallKind int

const (
	Call CallKind = iota
	DelegateCall
	StaticCall
	CallCode
	Create
	Create2
)

// IsCreate is true for Create and Create2.
func (k CallKind) IsCreate() bool {
	return k == Create || k == Create2
}

type CallParameters struct {
	Sender      Address
	Recipient   Address // < not relevant for CREATE and CREATE2
	Value       Value   // < ignored by static calls, considered to be 0
	Input       Data
	Gas         Gas
	Salt        Hash // < only relevant for CREATE2 calls
	CodeAddress Address
}

type CallResult struct {
	Status         ExitStatus
	Output         Data
	GasLeft        Gas
	GasRefund      Gas
	CreatedAddress Address // < only meaningful for CREATE and CREATE2
}

// Success is true if the nested call or creation was successful.
func (r CallResult) Success() bool {
	return r.Status.IsSuccess()
}

// ErrUnsupportedRevision is reported for runs with a revision an interpreter
// can not handle.
type ErrUnsupportedRevision struct {
	Revision Revision
}

func (e *ErrUnsupportedRevision) Error() string {
	return fmt.Sprintf("unsupported revision %v", e.Revision)
}
