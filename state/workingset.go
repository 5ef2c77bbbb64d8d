// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package state

import (
	"github.com/pkg/errors"

	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/protocol"
)

// defaultNamespace is used when state options carry no explicit namespace
const defaultNamespace = "state"

// WorkingSet buffers all writes of one logical transaction. It implements
// protocol.StateManager; reads fall through the write buffer to the backing
// store.
type WorkingSet struct {
	version uint64
	factory *Factory
	batch   db.CachedBatch
}

// Version returns the store version the working set was created at
func (ws *WorkingSet) Version() (uint64, error) {
	return ws.version, nil
}

// State reads a state into the given struct
func (ws *WorkingSet) State(s interface{}, opts ...protocol.StateOption) (uint64, error) {
	cfg, err := protocol.CreateStateConfig(opts...)
	if err != nil {
		return ws.version, err
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	value, err := ws.batch.Get(ns, cfg.Key)
	switch errors.Cause(err) {
	case nil:
		// pending write in this working set
	case db.ErrAlreadyDeleted:
		return ws.version, errors.Wrapf(ErrStateNotExist, "namespace = %s, key = %x", ns, cfg.Key)
	case db.ErrNotExist:
		if value, err = ws.factory.get(ns, cfg.Key); err != nil {
			cause := errors.Cause(err)
			if cause == db.ErrNotExist || cause == db.ErrBucketNotExist {
				return ws.version, errors.Wrapf(ErrStateNotExist, "namespace = %s, key = %x", ns, cfg.Key)
			}
			return ws.version, err
		}
	default:
		return ws.version, err
	}
	return ws.version, Deserialize(s, value)
}

// PutState writes a state
func (ws *WorkingSet) PutState(s interface{}, opts ...protocol.StateOption) (uint64, error) {
	cfg, err := protocol.CreateStateConfig(opts...)
	if err != nil {
		return ws.version, err
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	value, err := Serialize(s)
	if err != nil {
		return ws.version, err
	}
	ws.batch.Put(ns, cfg.Key, value)
	return ws.version, nil
}

// DelState deletes a state
func (ws *WorkingSet) DelState(opts ...protocol.StateOption) (uint64, error) {
	cfg, err := protocol.CreateStateConfig(opts...)
	if err != nil {
		return ws.version, err
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	ws.batch.Delete(ns, cfg.Key)
	return ws.version, nil
}

// Snapshot takes a snapshot of the staged writes
func (ws *WorkingSet) Snapshot() int {
	return ws.batch.Snapshot()
}

// Revert reverts the staged writes to the given snapshot
func (ws *WorkingSet) Revert(snapshot int) error {
	return ws.batch.Revert(snapshot)
}

// Commit applies the staged writes to the backing store atomically. It fails
// with ErrStaleWorkingSet if another working set committed in between.
func (ws *WorkingSet) Commit() error {
	return ws.factory.commit(ws)
}
