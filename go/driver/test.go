// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cliUtils "github.com/Fantom-foundation/Kiln/go/driver/cli"
	"github.com/Fantom-foundation/Kiln/go/executor"
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/Fantom-foundation/Kiln/go/observer"
	"github.com/dsnet/golib/unitconv"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	// Registers the default interpreter.
	_ "github.com/Fantom-foundation/Kiln/go/interpreter/geth"
)

var TestCmd = cliUtils.AddCommonFlags(cli.Command{
	Action: doTest,
	Name:   "test",
	Usage:  "Deploy a test contract and run its test functions",
	Flags: []cli.Flag{
		cliUtils.CodeFlag,
		cliUtils.TestFlag,
		cliUtils.SetupFlag,
		cliUtils.GasLimitFlag,
		cliUtils.RevisionFlag,
		cliUtils.ChainIdFlag,
		cliUtils.InterpreterFlag,
		cliUtils.TraceFlag,
		cliUtils.CoverageFlag,
	},
})

// expectFailurePrefix marks tests which pass only if they fail.
const expectFailurePrefix = "testFail"

type testStatus int

const (
	testPassed testStatus = iota
	testFailed
	testSkipped
	testErrored
)

func (s testStatus) String() string {
	switch s {
	case testPassed:
		return "PASS"
	case testFailed:
		return "FAIL"
	case testSkipped:
		return "SKIP"
	case testErrored:
		return "ERROR"
	}
	return fmt.Sprintf("testStatus(%d)", int(s))
}

func doTest(context *cli.Context) error {
	code, err := cliUtils.CodeFlag.Fetch(context)
	if err != nil {
		return err
	}
	gasLimit, err := cliUtils.GasLimitFlag.Fetch(context)
	if err != nil {
		return err
	}
	revision, err := cliUtils.RevisionFlag.Fetch(context)
	if err != nil {
		return err
	}
	trace := cliUtils.TraceFlag.Fetch(context)
	coverage := cliUtils.CoverageFlag.Fetch(context)

	exec, err := executor.NewBuilder().
		WithGasLimit(gasLimit).
		WithRevision(revision).
		WithChainID(cliUtils.ChainIdFlag.Fetch(context)).
		WithInterpreterName(cliUtils.InterpreterFlag.Fetch(context)).
		WithTracing(trace).
		WithCoverage(coverage).
		Build(nil)
	if err != nil {
		return err
	}

	deployed, err := exec.Deploy(kiln.DefaultCaller, code, kiln.Value{})
	if err != nil {
		return fmt.Errorf("failed to deploy test contract: %w", err)
	}
	log.Info("Deployed test contract", "address", deployed.Address, "gas", deployed.GasUsed)

	if cliUtils.SetupFlag.Fetch(context) {
		if _, err := exec.Setup(nil, deployed.Address); err != nil {
			if executor.IsSkip(err) {
				fmt.Fprintln(context.App.Writer, "setUp() requested to skip all tests")
				return nil
			}
			return fmt.Errorf("setUp() failed: %w", err)
		}
	}

	tests := cliUtils.TestFlag.Fetch(context)
	counts := map[testStatus]int{}
	hits := observer.HitMaps{}
	start := time.Now()
	for _, signature := range tests {
		status, outcome, err := runTest(exec, deployed.Address, signature)
		counts[status]++
		printTestResult(context.App.Writer, signature, status, outcome, err, trace)
		if outcome != nil {
			hits.Merge(outcome.Coverage)
		}
	}

	fmt.Fprintf(context.App.Writer,
		"%d passed, %d failed, %d errored, %d skipped; finished in %v\n",
		counts[testPassed], counts[testFailed], counts[testErrored], counts[testSkipped],
		time.Since(start).Round(time.Millisecond),
	)
	if coverage {
		printCoverage(context.App.Writer, hits)
	}
	if counts[testFailed] > 0 || counts[testErrored] > 0 {
		return fmt.Errorf("%d of %d tests failed, %d errored", counts[testFailed], len(tests), counts[testErrored])
	}
	return nil
}

// runTest executes a single test function. Infrastructure errors, like
// undecodable results, get the errored status, never the failed one.
func runTest(exec *executor.Executor, address kiln.Address, signature string) (testStatus, *executor.RawOutcome, error) {
	outcome, err := exec.ExecuteTest(kiln.DefaultCaller, address, signature, nil, kiln.Value{})
	if errors.Is(err, executor.ErrSkip) {
		return testSkipped, nil, nil
	}
	if err != nil {
		return testErrored, nil, err
	}
	shouldFail := strings.HasPrefix(signature, expectFailurePrefix)
	if exec.IsRawCallSuccess(address, outcome.StateChangeset, outcome.RawOutcome, shouldFail) {
		return testPassed, outcome.RawOutcome, nil
	}
	return testFailed, outcome.RawOutcome, nil
}

func printTestResult(out io.Writer, signature string, status testStatus, outcome *executor.RawOutcome, err error, trace bool) {
	if outcome == nil {
		if err != nil {
			fmt.Fprintf(out, "[%v] %s: %v\n", status, signature, err)
		} else {
			fmt.Fprintf(out, "[%v] %s\n", status, signature)
		}
		return
	}

	gas := unitconv.FormatPrefix(float64(outcome.GasUsed), unitconv.SI, 2)
	if status == testFailed && outcome.Reverted {
		fmt.Fprintf(out, "[%v. Reason: %s] %s (gas: %s)\n", status, executor.DecodeRevert(outcome.Result), signature, gas)
	} else {
		fmt.Fprintf(out, "[%v] %s (gas: %s)\n", status, signature, gas)
	}
	if status == testFailed && trace && outcome.Traces != nil {
		fmt.Fprint(out, outcome.Traces.Render(outcome.Labels))
	}
}

// printCoverage lists the share of executed instructions per code hash.
func printCoverage(out io.Writer, hits observer.HitMaps) {
	hashes := maps.Keys(hits)
	slices.SortFunc(hashes, func(a, b kiln.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
	for _, hash := range hashes {
		hitMap := hits[hash]
		fmt.Fprintf(out, "coverage %x: %d of %d instructions\n", hash[:4], hitMap.Covered(), hitMap.Instructions)
	}
}
