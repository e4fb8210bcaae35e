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

import (
	"slices"
	"testing"
)

func TestInterpreterRegistry_RegisteredFactoriesCanBeRetrieved(t *testing.T) {
	const name = "registry-test-lookup"
	want := NewMockInterpreter(nil)
	err := RegisterInterpreterFactory(name, func(any) (Interpreter, error) {
		return want, nil
	})
	if err != nil {
		t.Fatalf("failed to register factory: %v", err)
	}

	got, err := NewInterpreter("Registry-Test-Lookup")
	if err != nil {
		t.Fatalf("failed to create interpreter: %v", err)
	}
	if got != want {
		t.Errorf("unexpected interpreter instance")
	}
	if _, found := GetAllRegisteredInterpreters()[name]; !found {
		t.Errorf("factory missing in list of all factories")
	}
	if !slices.Contains(GetRegisteredInterpreterNames(), name) {
		t.Errorf("name missing in list of registered names")
	}
}

func TestInterpreterRegistry_ConfigurationIsForwarded(t *testing.T) {
	const name = "registry-test-config"
	var seen any
	MustRegisterInterpreterFactory(name, func(config any) (Interpreter, error) {
		seen = config
		return NewMockInterpreter(nil), nil
	})
	if _, err := NewInterpreter(name, "config"); err != nil {
		t.Fatalf("failed to create interpreter: %v", err)
	}
	if seen != "config" {
		t.Errorf("configuration not forwarded, got %v", seen)
	}
	if _, err := NewInterpreter(name, 1, 2); err == nil {
		t.Errorf("expected error for too many configuration arguments")
	}
}

func TestInterpreterRegistry_UnknownNamesAreReported(t *testing.T) {
	if _, err := NewInterpreter("registry-test-unknown"); err == nil {
		t.Errorf("expected error, got nil")
	}
	if GetInterpreterFactory("registry-test-unknown") != nil {
		t.Errorf("expected no factory")
	}
}

func TestInterpreterRegistry_MultipleRegistrationsAreRejected(t *testing.T) {
	const name = "registry-test-duplicate"
	factory := func(any) (Interpreter, error) { return nil, nil }
	if err := RegisterInterpreterFactory(name, factory); err != nil {
		t.Fatalf("failed to register factory: %v", err)
	}
	if err := RegisterInterpreterFactory(name, factory); err == nil {
		t.Fatalf("expected error, got nil")
	}
	defer func() {
		if recover() == nil {
			t.Errorf("expected a panic")
		}
	}()
	MustRegisterInterpreterFactory(name, factory)
}

func TestInterpreterRegistry_NilFactoriesAreRejected(t *testing.T) {
	if err := RegisterInterpreterFactory("registry-test-nil", nil); err == nil {
		t.Fatalf("expected error, got nil")
	}
}
