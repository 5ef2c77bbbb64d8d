// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package db

import (
	"sync"

	"github.com/pkg/errors"
)

const (
	// Put indicate the type of write operation to be Put
	Put WriteType = iota
	// Delete indicate the type of write operation to be Delete
	Delete
)

var (
	// ErrAlreadyDeleted indicates the key has been deleted within the batch
	ErrAlreadyDeleted = errors.New("already deleted from DB")
	// ErrOutOfBound indicates an out-of-range batch entry index
	ErrOutOfBound = errors.New("index out of range")
	// ErrInvalidSnapshot indicates the snapshot number does not exist
	ErrInvalidSnapshot = errors.New("invalid snapshot number")
)

type (
	// WriteType is the type of a staged write
	WriteType uint8

	// writeInfo stores a single Put/Delete operation
	writeInfo struct {
		writeType WriteType
		namespace string
		key       []byte
		value     []byte
	}

	// KVStoreBatch defines a batch buffer that stages Put/Delete entries in sequential order.
	// Entries are applied atomically by KVStore.WriteBatch(); on success the batch is cleared,
	// otherwise it is kept intact so the caller can attempt a re-commit later.
	KVStoreBatch interface {
		// Lock locks the batch
		Lock()
		// Unlock unlocks the batch
		Unlock()
		// ClearAndUnlock clears the write queue and unlocks the batch
		ClearAndUnlock()
		// Put insert or update a record identified by (namespace, key)
		Put(string, []byte, []byte)
		// Delete deletes a record by (namespace, key)
		Delete(string, []byte)
		// Size returns the size of batch
		Size() int
		// Entry returns the entry at the index
		Entry(int) (*writeInfo, error)
		// Clear clears entries staged in batch
		Clear()
		// batch puts an entry into the write queue
		batch(op WriteType, namespace string, key, value []byte)
	}

	// baseKVStoreBatch is the base implementation of KVStoreBatch
	baseKVStoreBatch struct {
		mutex      sync.RWMutex
		writeQueue []writeInfo
	}

	// CachedBatch adds a local cache atop KVStoreBatch for fast retrieval of pending
	// entries, plus snapshot/revert so an enclosing operation can roll back to a
	// known point without losing earlier staged writes
	CachedBatch interface {
		KVStoreBatch
		// Get gets a record by (namespace, key)
		Get(string, []byte) ([]byte, error)
		// Snapshot takes a snapshot of current cached batch
		Snapshot() int
		// Revert sets the cached batch to the state at the given snapshot
		Revert(int) error
	}

	// cachedBatch implements the CachedBatch interface
	cachedBatch struct {
		lock sync.RWMutex
		*baseKVStoreBatch
		cache     KVStoreCache
		tag       int // latest snapshot + 1
		snapshots []snapshot
	}

	snapshot struct {
		queueLen int
		cache    KVStoreCache
	}
)

// NewBatch returns a batch
func NewBatch() KVStoreBatch {
	return &baseKVStoreBatch{}
}

func (b *baseKVStoreBatch) Lock() {
	b.mutex.Lock()
}

func (b *baseKVStoreBatch) Unlock() {
	b.mutex.Unlock()
}

func (b *baseKVStoreBatch) ClearAndUnlock() {
	defer b.mutex.Unlock()
	b.writeQueue = nil
}

// Put inserts a <key, value> record
func (b *baseKVStoreBatch) Put(namespace string, key, value []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.batch(Put, namespace, key, value)
}

// Delete deletes a record
func (b *baseKVStoreBatch) Delete(namespace string, key []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.batch(Delete, namespace, key, nil)
}

func (b *baseKVStoreBatch) Size() int {
	return len(b.writeQueue)
}

func (b *baseKVStoreBatch) Entry(index int) (*writeInfo, error) {
	if index < 0 || index >= len(b.writeQueue) {
		return nil, ErrOutOfBound
	}
	return &b.writeQueue[index], nil
}

func (b *baseKVStoreBatch) Clear() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.writeQueue = nil
}

// batch puts an entry into the write queue
func (b *baseKVStoreBatch) batch(op WriteType, namespace string, key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.writeQueue = append(
		b.writeQueue,
		writeInfo{
			writeType: op,
			namespace: namespace,
			key:       k,
			value:     v,
		})
}

// truncate cuts the write queue back to the given length
func (b *baseKVStoreBatch) truncate(size int) {
	b.writeQueue = b.writeQueue[:size]
}

//======================================
// CachedBatch implementation
//======================================

// NewCachedBatch returns a new cached batch buffer
func NewCachedBatch() CachedBatch {
	return &cachedBatch{
		baseKVStoreBatch: &baseKVStoreBatch{},
		cache:            NewKVCache(),
	}
}

func (cb *cachedBatch) Lock() {
	cb.lock.Lock()
}

func (cb *cachedBatch) Unlock() {
	cb.lock.Unlock()
}

func (cb *cachedBatch) ClearAndUnlock() {
	defer cb.lock.Unlock()
	cb.cache.Clear()
	cb.baseKVStoreBatch.writeQueue = nil
	cb.tag = 0
	cb.snapshots = nil
}

// Put inserts a <key, value> record
func (cb *cachedBatch) Put(namespace string, key, value []byte) {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	cb.cache.Write(namespace, key, value)
	cb.batch(Put, namespace, key, value)
}

// Delete deletes a record
func (cb *cachedBatch) Delete(namespace string, key []byte) {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	cb.cache.Evict(namespace, key)
	cb.batch(Delete, namespace, key, nil)
}

func (cb *cachedBatch) Clear() {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	cb.cache.Clear()
	cb.baseKVStoreBatch.writeQueue = nil
	cb.tag = 0
	cb.snapshots = nil
}

// Get retrieves a record
func (cb *cachedBatch) Get(namespace string, key []byte) ([]byte, error) {
	cb.lock.RLock()
	defer cb.lock.RUnlock()
	return cb.cache.Read(namespace, key)
}

// Snapshot takes a snapshot of current cached batch
func (cb *cachedBatch) Snapshot() int {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	defer func() { cb.tag++ }()
	cb.snapshots = append(cb.snapshots, snapshot{
		queueLen: cb.Size(),
		cache:    cb.cache.Clone(),
	})
	return cb.tag
}

// Revert sets the cached batch to the state at the given snapshot
func (cb *cachedBatch) Revert(snapshot int) error {
	cb.lock.Lock()
	defer cb.lock.Unlock()
	if snapshot < 0 || snapshot >= cb.tag {
		return errors.Wrapf(ErrInvalidSnapshot, "snapshot number = %d", snapshot)
	}
	cb.tag = snapshot
	cb.truncate(cb.snapshots[snapshot].queueLen)
	cb.cache = cb.snapshots[snapshot].cache
	cb.snapshots = cb.snapshots[:snapshot]
	return nil
}
