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
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// This file provides a registry for Interpreter implementations usable by
// the executor. An implementation becomes available by registering a factory
// in the init code of its package; importing the package is then enough to
// make it selectable by name.

// InterpreterFactory is the type of a function that creates a new Interpreter
// using a interpreter specific configuration.
type InterpreterFactory func(config any) (Interpreter, error)

var (
	interpreterRegistry     = map[string]InterpreterFactory{}
	interpreterRegistryLock sync.Mutex
)

// NewInterpreter performs a lookup for the given name (case-insensitive) in
// the registry and creates a new Interpreter using the given optional
// configuration. An error is returned if no factory was registered under the
// given name.
func NewInterpreter(name string, config ...any) (Interpreter, error) {
	if len(config) > 1 {
		return nil, fmt.Errorf("invalid configuration: too many arguments")
	}
	factory := GetInterpreterFactory(name)
	if factory == nil {
		return nil, fmt.Errorf("interpreter not found: %s", name)
	}
	var c any
	if len(config) > 0 {
		c = config[0]
	}
	return factory(c)
}

// GetInterpreterFactory performs a lookup for the given name (case-insensitive)
// in the registry. The result is nil if no factory was registered under the
// given name.
func GetInterpreterFactory(name string) InterpreterFactory {
	interpreterRegistryLock.Lock()
	defer interpreterRegistryLock.Unlock()
	return interpreterRegistry[strings.ToLower(name)]
}

// GetAllRegisteredInterpreters obtains all registered factories.
func GetAllRegisteredInterpreters() map[string]InterpreterFactory {
	interpreterRegistryLock.Lock()
	defer interpreterRegistryLock.Unlock()
	return maps.Clone(interpreterRegistry)
}

// GetRegisteredInterpreterNames lists the registered names in sorted order.
func GetRegisteredInterpreterNames() []string {
	names := maps.Keys(GetAllRegisteredInterpreters())
	slices.Sort(names)
	return names
}

// RegisterInterpreterFactory registers a new Interpreter implementation. The
// name is not case-sensitive. An error is returned if a factory was bound to
// the same name before, or the factory is nil.
func RegisterInterpreterFactory(name string, factory InterpreterFactory) error {
	key := strings.ToLower(name)
	if factory == nil {
		return fmt.Errorf("invalid initialization: cannot register nil-factory using `%s`", key)
	}
	interpreterRegistryLock.Lock()
	defer interpreterRegistryLock.Unlock()
	if _, found := interpreterRegistry[key]; found {
		return fmt.Errorf("invalid initialization: multiple factories registered for `%s`", key)
	}
	interpreterRegistry[key] = factory
	return nil
}

// MustRegisterInterpreterFactory is like RegisterInterpreterFactory but panics
// on errors. It is intended to be used by package initialization code.
func MustRegisterInterpreterFactory(name string, factory InterpreterFactory) {
	if err := RegisterInterpreterFactory(name, factory); err != nil {
		panic(err)
	}
}
