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
	"bytes"
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Kiln/go/kiln"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseMethod parses a human readable function signature of the form
// "name(type,...)(type,...)" into an ABI method. The list of return types is
// optional and may be preceded by the keyword "returns". Tuple types are not
// supported.
func ParseMethod(signature string) (abi.Method, error) {
	signature = strings.TrimSpace(signature)
	open := strings.IndexByte(signature, '(')
	if open <= 0 {
		return abi.Method{}, fmt.Errorf("invalid signature %q", signature)
	}
	name := strings.TrimSpace(signature[:open])

	inputTypes, rest, err := splitTypeList(signature[open:])
	if err != nil {
		return abi.Method{}, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), "returns"))
	var outputTypes []string
	if rest != "" {
		outputTypes, rest, err = splitTypeList(rest)
		if err != nil {
			return abi.Method{}, fmt.Errorf("invalid signature %q: %w", signature, err)
		}
		if strings.TrimSpace(rest) != "" {
			return abi.Method{}, fmt.Errorf("invalid signature %q: unexpected trailing %q", signature, rest)
		}
	}

	inputs, err := toArguments(inputTypes)
	if err != nil {
		return abi.Method{}, err
	}
	outputs, err := toArguments(outputTypes)
	if err != nil {
		return abi.Method{}, err
	}
	return abi.NewMethod(name, name, abi.Function, "nonpayable", false, false, inputs, outputs), nil
}

// splitTypeList splits a parenthesized, comma separated list of types and
// returns the remainder of the input.
func splitTypeList(s string) ([]string, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("expected '(' at %q", s)
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("missing ')' in %q", s)
	}
	inner := s[1:end]
	if strings.ContainsAny(inner, "(") {
		return nil, "", fmt.Errorf("tuple types are not supported")
	}
	var types []string
	if strings.TrimSpace(inner) != "" {
		for _, part := range strings.Split(inner, ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				return nil, "", fmt.Errorf("empty type in %q", s)
			}
			types = append(types, fields[0])
		}
	}
	return types, s[end+1:], nil
}

func toArguments(types []string) (abi.Arguments, error) {
	res := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("invalid type %q: %w", name, err)
		}
		res = append(res, abi.Argument{Type: typ})
	}
	return res, nil
}

// EncodeCall produces the calldata for invoking method with the given
// arguments.
func EncodeCall(method abi.Method, args ...any) (kiln.Data, error) {
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, &AbiError{Method: method.Sig, Err: err}
	}
	return append(append(kiln.Data(nil), method.ID...), packed...), nil
}

// DecodeResult decodes the return data of method.
func DecodeResult(method abi.Method, data kiln.Data) ([]any, error) {
	values, err := method.Outputs.Unpack(data)
	if err != nil {
		return nil, &AbiError{Method: method.Sig, Err: err}
	}
	return values, nil
}

// DecodeRevert produces a human readable reason from revert data.
func DecodeRevert(data kiln.Data) string {
	if len(data) == 0 {
		return "reverted without a reason"
	}
	if bytes.Equal(data, kiln.SkipMarker) {
		return "skipped"
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return "custom error " + hexutil.Encode(data)
}
