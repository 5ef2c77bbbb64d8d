// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package db

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrBucketNotExist indicates certain bucket does not exist in db
	ErrBucketNotExist = errors.New("bucket not exist in DB")
	// ErrNotExist indicates certain item does not exist in db
	ErrNotExist = errors.New("not exist in DB")
	// ErrIO indicates the generic error of DB I/O operation
	ErrIO = errors.New("DB I/O operation error")
)

// KVStore is a key-value store with namespace support
type KVStore interface {
	// Start starts the store
	Start(context.Context) error
	// Stop stops the store
	Stop(context.Context) error
	// Put insert or update a record identified by (namespace, key)
	Put(string, []byte, []byte) error
	// Get gets a record by (namespace, key)
	Get(string, []byte) ([]byte, error)
	// Delete deletes a record by (namespace, key)
	Delete(string, []byte) error
	// WriteBatch commits a batch atomically
	WriteBatch(KVStoreBatch) error
}

// memKVStore is the in-memory implementation of KVStore for testing purpose
type memKVStore struct {
	mutex  sync.RWMutex
	bucket map[string]map[string][]byte
}

// NewMemKVStore instantiates an in-memory KV store
func NewMemKVStore() KVStore {
	return &memKVStore{
		bucket: make(map[string]map[string][]byte),
	}
}

func (m *memKVStore) Start(_ context.Context) error { return nil }

func (m *memKVStore) Stop(_ context.Context) error { return nil }

func (m *memKVStore) Put(namespace string, key, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.put(namespace, key, value)
}

func (m *memKVStore) put(namespace string, key, value []byte) error {
	ns, ok := m.bucket[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.bucket[namespace] = ns
	}
	v := make([]byte, len(value))
	copy(v, value)
	ns[string(key)] = v
	return nil
}

func (m *memKVStore) Get(namespace string, key []byte) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ns, ok := m.bucket[namespace]
	if !ok {
		return nil, errors.Wrapf(ErrBucketNotExist, "namespace = %s", namespace)
	}
	value, ok := ns[string(key)]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "key = %x", key)
	}
	v := make([]byte, len(value))
	copy(v, value)
	return v, nil
}

func (m *memKVStore) Delete(namespace string, key []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ns, ok := m.bucket[namespace]
	if !ok {
		return nil
	}
	delete(ns, string(key))
	return nil
}

func (m *memKVStore) WriteBatch(kvsb KVStoreBatch) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	kvsb.Lock()
	defer kvsb.ClearAndUnlock()
	for i := 0; i < kvsb.Size(); i++ {
		write, err := kvsb.Entry(i)
		if err != nil {
			return err
		}
		switch write.writeType {
		case Put:
			if err := m.put(write.namespace, write.key, write.value); err != nil {
				return err
			}
		case Delete:
			ns, ok := m.bucket[write.namespace]
			if !ok {
				continue
			}
			delete(ns, string(write.key))
		}
	}
	return nil
}
