// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package protocol

import (
	"github.com/pkg/errors"
)

type (
	// StateConfig is the config for accessing the state store
	StateConfig struct {
		Namespace string // namespace used by state's storage
		Key       []byte
	}

	// StateOption sets parameter for accessing a state
	StateOption func(*StateConfig) error

	// StateReader defines an interface to read the state store
	StateReader interface {
		// Version returns the number of committed working sets
		Version() (uint64, error)
		// State reads a state into the given struct
		State(interface{}, ...StateOption) (uint64, error)
	}

	// StateManager defines the mutable state interface the components operate on.
	// All writes are staged; the enclosing working set commits or discards them
	// as one unit.
	StateManager interface {
		StateReader
		// Snapshot takes a snapshot of the staged writes
		Snapshot() int
		// Revert reverts the staged writes to the given snapshot
		Revert(int) error
		// PutState writes a state
		PutState(interface{}, ...StateOption) (uint64, error)
		// DelState deletes a state
		DelState(...StateOption) (uint64, error)
	}
)

// NamespaceOption creates an option for the given namespace
func NamespaceOption(ns string) StateOption {
	return func(sc *StateConfig) error {
		sc.Namespace = ns
		return nil
	}
}

// KeyOption sets the key for call
func KeyOption(key []byte) StateOption {
	return func(cfg *StateConfig) error {
		cfg.Key = make([]byte, len(key))
		copy(cfg.Key, key)
		return nil
	}
}

// CreateStateConfig creates a config for accessing the state store
func CreateStateConfig(opts ...StateOption) (*StateConfig, error) {
	cfg := StateConfig{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to execute state option")
		}
	}
	return &cfg, nil
}
