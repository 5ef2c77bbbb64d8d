// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package state

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/dlp-protocol/dlp-core/db"
)

// ErrStaleWorkingSet indicates the working set was created against an older version
// of the store and lost the optimistic exclusion race
var ErrStaleWorkingSet = errors.New("working set is stale")

// Factory produces working sets against the backing store. Each working set is
// a single logical transaction: all of its writes commit atomically, or none
// do. Commit is guarded by an optimistic version check so two working sets
// created from the same version cannot both land.
type Factory struct {
	mutex   sync.Mutex
	store   db.KVStore
	version uint64
}

// NewFactory creates a factory atop the given store
func NewFactory(store db.KVStore) *Factory {
	return &Factory{store: store}
}

// Version returns the number of committed working sets
func (f *Factory) Version() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.version
}

// NewWorkingSet creates a working set bound to the factory's current version
func (f *Factory) NewWorkingSet() *WorkingSet {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return &WorkingSet{
		factory: f,
		version: f.version,
		batch:   db.NewCachedBatch(),
	}
}

func (f *Factory) commit(ws *WorkingSet) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if ws.version != f.version {
		return errors.Wrapf(ErrStaleWorkingSet, "working set version = %d, store version = %d", ws.version, f.version)
	}
	if err := f.store.WriteBatch(ws.batch); err != nil {
		return errors.Wrap(err, "failed to write working set batch")
	}
	f.version++
	return nil
}

func (f *Factory) get(namespace string, key []byte) ([]byte, error) {
	return f.store.Get(namespace, key)
}
