// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package cliUtils

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/Fantom-foundation/Kiln/go/executor"
	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

type codeFlagType struct {
	cli.StringFlag
}

var CodeFlag = &codeFlagType{
	cli.StringFlag{
		Name:      "code",
		Aliases:   []string{"c"},
		Usage:     "file containing the hex encoded init code of the test contract",
		Required:  true,
		TakesFile: true,
	},
}

// Fetch reads and decodes the init code. A 0x prefix and surrounding
// whitespace are optional.
func (f *codeFlagType) Fetch(context *cli.Context) (kiln.Data, error) {
	filename := context.String(f.Name)
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read code: %w", err)
	}
	text := strings.TrimSpace(string(content))
	if !strings.HasPrefix(text, "0x") && !strings.HasPrefix(text, "0X") {
		text = "0x" + text
	}
	code, err := hexutil.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("invalid code in %s: %w", filename, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("no code in %s", filename)
	}
	return code, nil
}

type testFlagType struct {
	cli.StringSliceFlag
}

var TestFlag = &testFlagType{
	cli.StringSliceFlag{
		Name:    "test",
		Aliases: []string{"t"},
		Usage:   "signature of a test function to run, e.g. \"testTransfer()\"; may be repeated",
	},
}

func (f *testFlagType) Fetch(context *cli.Context) []string {
	return context.StringSlice(f.Name)
}

type setupFlagType struct {
	cli.BoolFlag
}

var SetupFlag = &setupFlagType{
	cli.BoolFlag{
		Name:  "setup",
		Usage: "run the setUp() fixture of the contract before the tests",
		Value: true,
	},
}

func (f *setupFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

type gasLimitFlagType struct {
	cli.Int64Flag
}

var GasLimitFlag = &gasLimitFlagType{
	cli.Int64Flag{
		Name:  "gas-limit",
		Usage: "gas limit of every call",
		Value: int64(executor.DefaultGasLimit),
	},
}

func (f *gasLimitFlagType) Fetch(context *cli.Context) (kiln.Gas, error) {
	gas := context.Int64(f.Name)
	if gas <= 0 {
		return 0, fmt.Errorf("invalid gas limit %d", gas)
	}
	return kiln.Gas(gas), nil
}

type revisionFlagType struct {
	cli.StringFlag
}

var RevisionFlag = &revisionFlagType{
	cli.StringFlag{
		Name:  "revision",
		Usage: "EVM revision to execute with",
		Value: kiln.NewestSupportedRevision.String(),
	},
}

func (f *revisionFlagType) Fetch(context *cli.Context) (kiln.Revision, error) {
	return kiln.ParseRevision(context.String(f.Name))
}

type chainIdFlagType struct {
	cli.Uint64Flag
}

var ChainIdFlag = &chainIdFlagType{
	cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "chain id of the execution environment",
		Value: kiln.DefaultChainID,
	},
}

func (f *chainIdFlagType) Fetch(context *cli.Context) uint64 {
	return context.Uint64(f.Name)
}

type interpreterFlagType struct {
	cli.StringFlag
}

var InterpreterFlag = &interpreterFlagType{
	cli.StringFlag{
		Name:  "interpreter",
		Usage: "name of the registered interpreter running the code",
		Value: executor.DefaultInterpreter,
	},
}

func (f *interpreterFlagType) Fetch(context *cli.Context) string {
	return context.String(f.Name)
}

type traceFlagType struct {
	cli.BoolFlag
}

var TraceFlag = &traceFlagType{
	cli.BoolFlag{
		Name:  "trace",
		Usage: "print the call trace of failed tests",
	},
}

func (f *traceFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

type coverageFlagType struct {
	cli.BoolFlag
}

var CoverageFlag = &coverageFlagType{
	cli.BoolFlag{
		Name:  "coverage",
		Usage: "print the instruction coverage accumulated over all tests",
	},
}

func (f *coverageFlagType) Fetch(context *cli.Context) bool {
	return context.Bool(f.Name)
}

type logFlagType struct {
	cli.StringFlag
}

var LogFlag = &logFlagType{
	cli.StringFlag{
		Name:  "log",
		Usage: "log level, one of trace, debug, info, warn, error or crit",
		Value: "warn",
	},
}

var logLevels = map[string]slog.Level{
	"trace": log.LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
	"crit":  log.LevelCrit,
}

func (f *logFlagType) Fetch(context *cli.Context) (slog.Level, error) {
	name := context.String(f.Name)
	level, found := logLevels[strings.ToLower(name)]
	if !found {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

var commonFlags = []cli.Flag{
	cpuProfileFlag,
	LogFlag,
}

var cpuProfileFlag = &cli.StringFlag{
	Name:  "cpuprofile",
	Usage: "store CPU profile in the provided filename",
}

// AddCommonFlags extends the command by profiling and logging flags, which
// are applied before the command's action runs.
func AddCommonFlags(command cli.Command) cli.Command {
	command.Flags = append(command.Flags, commonFlags...)

	action := command.Action
	command.Action = func(ctx *cli.Context) (err error) {
		level, err := LogFlag.Fetch(ctx)
		if err != nil {
			return err
		}
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(ctx.App.ErrWriter, level, false)))

		if cpuprofileFilename := ctx.String(cpuProfileFlag.Name); cpuprofileFilename != "" {
			f, err := os.Create(cpuprofileFilename)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %w", err)
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %w", err)
			}
			defer pprof.StopCPUProfile()
		}

		return action(ctx)
	}
	return command
}
