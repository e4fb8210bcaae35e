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

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/Fantom-foundation/Kiln/go/state"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/log"
)

// setUpSignature is the fixture entry point invoked by Setup.
const setUpSignature = "setUp()"

// Executor runs calls and deployments against an in-memory backend.
//
// Committing operations apply their state changes to the backend and persist
// the environment and harness state they leave behind. Non-committing
// operations run on a copy-on-write view of the backend and return their
// changes in the outcome; only a snapshot failure observed during such a
// call is carried back.
//
// An Executor is not safe for concurrent use.
type Executor struct {
	backend     *state.MemoryBackend
	env         Env
	observers   observer.Stack
	gasLimit    kiln.Gas
	interpreter kiln.Interpreter
}

// New creates an executor on the given backend. The cheat code account gets
// placeholder code so existence checks on it succeed; its storage is kept.
func New(
	backend *state.MemoryBackend,
	env Env,
	observers observer.Stack,
	gasLimit kiln.Gas,
	interpreter kiln.Interpreter,
) *Executor {
	info, _, err := backend.Basic(kiln.CheatCodeAddress)
	if err != nil {
		log.Warn("Failed to read cheat code account, resetting it", "error", err)
		info = state.AccountInfo{}
	}
	info.Code = kiln.CheatCodePlaceholder
	info.CodeHash = kiln.HashCode(kiln.CheatCodePlaceholder)
	backend.InsertAccountInfo(kiln.CheatCodeAddress, info)

	return &Executor{
		backend:     backend,
		env:         env,
		observers:   observers,
		gasLimit:    gasLimit,
		interpreter: interpreter,
	}
}

// Backend returns the backend the executor commits to.
func (e *Executor) Backend() *state.MemoryBackend {
	return e.backend
}

// Env returns a copy of the base environment.
func (e *Executor) Env() Env {
	return e.env.Clone()
}

func (e *Executor) GasLimit() kiln.Gas {
	return e.gasLimit
}

func (e *Executor) SetGasLimit(gasLimit kiln.Gas) {
	e.gasLimit = gasLimit
}

// SetTracing enables or disables call tracing for subsequent executions.
func (e *Executor) SetTracing(enabled bool) {
	e.observers.Tracer = nil
	if enabled {
		e.observers.Tracer = observer.NewTracer()
	}
}

// SetDebugger enables or disables step recording for subsequent executions.
func (e *Executor) SetDebugger(enabled bool) {
	e.observers.Debugger = nil
	if enabled {
		e.observers.Debugger = observer.NewDebugger()
	}
}

// SetCoverage enables or disables coverage collection for subsequent
// executions.
func (e *Executor) SetCoverage(enabled bool) {
	e.observers.Coverage = nil
	if enabled {
		e.observers.Coverage = observer.NewCoverageCollector()
	}
}

// SelectFork replaces the state of the executor by the accounts of the
// given backend. Persistent accounts, like deployed test contracts and the
// cheat code account, keep their current state.
func (e *Executor) SelectFork(fork *state.MemoryBackend) {
	log.Debug("Selecting fork", "accounts", len(fork.Accounts()))
	e.backend.SelectFork(fork)
}

func (e *Executor) SetBalance(addr kiln.Address, balance kiln.Value) error {
	log.Trace("Setting account balance", "address", addr, "balance", balance)
	info, found, err := e.backend.Basic(addr)
	if err != nil {
		return err
	}
	if !found {
		info.CodeHash = kiln.EmptyCodeHash
	}
	info.Balance = balance
	e.backend.InsertAccountInfo(addr, info)
	return nil
}

func (e *Executor) GetBalance(addr kiln.Address) (kiln.Value, error) {
	info, _, err := e.backend.Basic(addr)
	return info.Balance, err
}

func (e *Executor) SetNonce(addr kiln.Address, nonce uint64) error {
	info, found, err := e.backend.Basic(addr)
	if err != nil {
		return err
	}
	if !found {
		info.CodeHash = kiln.EmptyCodeHash
	}
	info.Nonce = nonce
	e.backend.InsertAccountInfo(addr, info)
	return nil
}

func (e *Executor) GetNonce(addr kiln.Address) (uint64, error) {
	info, _, err := e.backend.Basic(addr)
	return info.Nonce, err
}

// DeployCreate2Deployer installs the deterministic deployment proxy unless it
// has code already. The proxy account must exist in the backend.
func (e *Executor) DeployCreate2Deployer() error {
	info, found, err := e.backend.Basic(kiln.DefaultCreate2Deployer)
	if err != nil {
		return err
	}
	if !found {
		return &state.MissingAccountError{Address: kiln.DefaultCreate2Deployer}
	}
	if len(info.Code) > 0 {
		return nil
	}

	creator := kiln.Create2DeployerCreator
	initial, err := e.GetBalance(creator)
	if err != nil {
		return err
	}
	if err := e.SetBalance(creator, kiln.MaxValue()); err != nil {
		return err
	}
	_, deployErr := e.Deploy(creator, kiln.Data(kiln.Create2DeployerInitCode), kiln.Value{})
	if err := e.SetBalance(creator, initial); err != nil {
		return err
	}
	return deployErr
}

// Setup runs the setUp() fixture of the contract at to and commits its
// effects. The block environment and chain id left behind by the fixture
// become the base environment of the executor.
func (e *Executor) Setup(from *kiln.Address, to kiln.Address) (*CallOutcome, error) {
	log.Trace("Setting up contract", "address", to)

	caller := kiln.DefaultCaller
	if from != nil {
		caller = *from
	}
	method, err := ParseMethod(setUpSignature)
	if err != nil {
		return nil, err
	}
	calldata, err := EncodeCall(method)
	if err != nil {
		return nil, err
	}

	env := e.buildTestEnv(caller, CallTo(to), calldata, kiln.Value{})
	outcome, changes, err := e.transactCommitting(env)
	if err != nil {
		return nil, err
	}
	if outcome.IsSkip() {
		return nil, ErrSkip
	}
	if !e.IsSuccess(to, outcome.Reverted, changes, false) {
		reason := "execution error"
		if outcome.Reverted {
			reason = DecodeRevert(outcome.Result)
		}
		return nil, newExecutionFailure(reason, outcome, changes)
	}
	return &CallOutcome{RawOutcome: outcome, Decoded: []any{}}, nil
}

// Call performs a non-committing call of the method described by the given
// signature, e.g. "balanceOf(address)(uint256)". Reverts are reported as an
// ExecutionFailure, a skip request as ErrSkip.
func (e *Executor) Call(from, to kiln.Address, signature string, args []any, value kiln.Value) (*CallOutcome, error) {
	method, calldata, err := e.prepareCall(signature, args)
	if err != nil {
		return nil, err
	}
	raw, err := e.CallRaw(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	return convertCallResult(method, raw)
}

// CallCommitting is like Call but applies the resulting state changes.
func (e *Executor) CallCommitting(from, to kiln.Address, signature string, args []any, value kiln.Value) (*CallOutcome, error) {
	method, calldata, err := e.prepareCall(signature, args)
	if err != nil {
		return nil, err
	}
	raw, err := e.CallRawCommitting(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	return convertCallResult(method, raw)
}

// ExecuteTest runs a test function without committing. Unlike Call, a
// revert is not an error: the outcome is returned with Reverted set so the
// caller can evaluate it through IsRawCallSuccess.
func (e *Executor) ExecuteTest(from, to kiln.Address, signature string, args []any, value kiln.Value) (*CallOutcome, error) {
	method, calldata, err := e.prepareCall(signature, args)
	if err != nil {
		return nil, err
	}
	raw, err := e.CallRaw(from, to, calldata, value)
	if err != nil {
		return nil, err
	}
	if raw.IsSkip() {
		return nil, ErrSkip
	}
	if raw.Reverted {
		return &CallOutcome{RawOutcome: raw}, nil
	}
	return convertCallResult(method, raw)
}

func (e *Executor) prepareCall(signature string, args []any) (abi.Method, kiln.Data, error) {
	method, err := ParseMethod(signature)
	if err != nil {
		return abi.Method{}, nil, &AbiError{Method: signature, Err: err}
	}
	calldata, err := EncodeCall(method, args...)
	if err != nil {
		return abi.Method{}, nil, err
	}
	return method, calldata, nil
}

func convertCallResult(method abi.Method, raw *RawOutcome) (*CallOutcome, error) {
	if raw.IsSkip() {
		return nil, ErrSkip
	}
	if raw.Reverted {
		return nil, newExecutionFailure(DecodeRevert(raw.Result), raw, raw.StateChangeset)
	}
	decoded, err := DecodeResult(method, raw.Result)
	if err != nil {
		return nil, err
	}
	return &CallOutcome{RawOutcome: raw, Decoded: decoded}, nil
}

// CallRaw performs a non-committing call with raw calldata.
func (e *Executor) CallRaw(from, to kiln.Address, calldata kiln.Data, value kiln.Value) (*RawOutcome, error) {
	return e.CallRawWithEnv(e.buildTestEnv(from, CallTo(to), calldata, value))
}

// CallRawWithEnv performs a non-committing execution in the given
// environment. The backend is left untouched, except for the snapshot
// failure flag which is carried back if the execution raised it.
func (e *Executor) CallRawWithEnv(env Env) (*RawOutcome, error) {
	view := state.NewCowBackend(e.backend)
	observers := e.observers.Clone()
	result, err := transact(e.interpreter, view, &env, observers)
	if err != nil {
		return nil, err
	}
	if view.HasSnapshotFailure() {
		e.backend.SetSnapshotFailure(true)
	}
	return convertExecutedResult(env, observers, result, view.HasSnapshotFailure()), nil
}

// CallRawCommitting performs a call with raw calldata and applies its
// effects.
func (e *Executor) CallRawCommitting(from, to kiln.Address, calldata kiln.Data, value kiln.Value) (*RawOutcome, error) {
	return e.CommitTxWithEnv(e.buildTestEnv(from, CallTo(to), calldata, value))
}

// CommitTxWithEnv executes a transaction in the given environment and
// applies its effects. The returned outcome carries no changeset.
func (e *Executor) CommitTxWithEnv(env Env) (*RawOutcome, error) {
	outcome, _, err := e.transactCommitting(env)
	return outcome, err
}

// transactCommitting executes a transaction directly on the backend and
// commits its result. The applied changes are returned separately.
func (e *Executor) transactCommitting(env Env) (*RawOutcome, state.Changeset, error) {
	observers := e.observers.Clone()
	result, err := transact(e.interpreter, e.backend, &env, observers)
	if err != nil {
		return nil, nil, err
	}
	outcome := convertExecutedResult(env, observers, result, e.backend.HasSnapshotFailure())
	changes := outcome.StateChangeset
	e.commit(outcome)
	return outcome, changes, nil
}

// commit applies the changes of an outcome to the backend and persists the
// environment and harness state it left behind. Recorded broadcast
// transactions are not carried over into later executions.
func (e *Executor) commit(outcome *RawOutcome) {
	if outcome.StateChangeset != nil {
		e.backend.Commit(outcome.StateChangeset)
		log.Debug("Committed state changes", "accounts", len(outcome.StateChangeset))
	}
	outcome.StateChangeset = nil

	e.env.Block = outcome.Env.Block
	e.env.Cfg.ChainID = outcome.Env.Cfg.ChainID

	if outcome.Harness != nil {
		harness := outcome.Harness.Clone()
		harness.ClearTransactions()
		e.observers.Harness = harness
	}
}

// Deploy creates a contract from the given init code and commits the
// result. The new contract is marked persistent.
func (e *Executor) Deploy(from kiln.Address, code kiln.Data, value kiln.Value) (*DeployOutcome, error) {
	return e.DeployWithEnv(e.buildTestEnv(from, CreateTo(), code, value))
}

// DeployWithEnv is like Deploy but uses the given environment, which must
// describe a creation.
func (e *Executor) DeployWithEnv(env Env) (*DeployOutcome, error) {
	if !env.Tx.TransactTo.Kind.IsCreate() {
		return nil, fmt.Errorf("%w: expected a creation, got %v", ErrUnsupportedTarget, env.Tx.TransactTo.Kind)
	}
	log.Trace("Deploying contract", "from", env.Tx.Caller, "size", len(env.Tx.Data))

	outcome, changes, err := e.transactCommitting(env)
	if err != nil {
		return nil, err
	}
	if outcome.Reverted {
		return nil, newExecutionFailure(DecodeRevert(outcome.Result), outcome, changes)
	}
	deployed, err := newDeployOutcome(outcome)
	if err != nil {
		return nil, err
	}
	e.backend.AddPersistentAccount(deployed.Address)
	log.Trace("Deployed contract", "address", deployed.Address)
	return deployed, nil
}

// buildTestEnv derives the environment of a test execution from the base
// environment. Gas is free and limited by the executor's gas limit.
func (e *Executor) buildTestEnv(caller kiln.Address, to TransactTo, data kiln.Data, value kiln.Value) Env {
	env := e.env.Clone()
	env.Block.BaseFee = kiln.Value{}
	env.Block.GasLimit = e.gasLimit
	env.Tx = TxEnv{
		Caller:     caller,
		TransactTo: to,
		Data:       data,
		Value:      value,
		GasLimit:   e.gasLimit,
	}
	return env
}
