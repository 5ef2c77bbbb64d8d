// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package db

import (
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const _fileMode = 0600

// boltDB is KVStore implementation based bolt DB
type boltDB struct {
	db         *bolt.DB
	path       string
	numRetries uint8
}

// NewBoltDB creates a bolt DB backed KVStore at the given path
func NewBoltDB(path string, numRetries uint8) KVStore {
	if numRetries == 0 {
		numRetries = 1
	}
	return &boltDB{
		path:       path,
		numRetries: numRetries,
	}
}

// Start opens the BoltDB (creates new file if not existing yet)
func (b *boltDB) Start(_ context.Context) error {
	db, err := bolt.Open(b.path, _fileMode, nil)
	if err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	b.db = db
	return nil
}

// Stop closes the BoltDB
func (b *boltDB) Stop(_ context.Context) error {
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return errors.Wrap(ErrIO, err.Error())
		}
	}
	return nil
}

// Put inserts a <key, value> record
func (b *boltDB) Put(namespace string, key, value []byte) (err error) {
	for c := uint8(0); c < b.numRetries; c++ {
		if err = b.db.Update(func(tx *bolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
			if err != nil {
				return err
			}
			return bucket.Put(key, value)
		}); err == nil {
			break
		}
	}
	if err != nil {
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}

// Get retrieves a record
func (b *boltDB) Get(namespace string, key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return errors.Wrapf(ErrBucketNotExist, "bucket = %s", namespace)
		}
		v := bucket.Get(key)
		if v == nil {
			return errors.Wrapf(ErrNotExist, "key = %x", key)
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err == nil {
		return value, nil
	}
	cause := errors.Cause(err)
	if cause == ErrNotExist || cause == ErrBucketNotExist {
		return nil, err
	}
	return nil, errors.Wrap(ErrIO, err.Error())
}

// Delete deletes a record
func (b *boltDB) Delete(namespace string, key []byte) (err error) {
	for c := uint8(0); c < b.numRetries; c++ {
		err = b.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket([]byte(namespace))
			if bucket == nil {
				return nil
			}
			return bucket.Delete(key)
		})
		if err == nil {
			break
		}
	}
	if err != nil {
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}

// WriteBatch commits a batch atomically in a single transaction
func (b *boltDB) WriteBatch(kvsb KVStoreBatch) (err error) {
	succeed := true
	kvsb.Lock()
	defer func() {
		if succeed {
			kvsb.ClearAndUnlock()
		} else {
			kvsb.Unlock()
		}
	}()

	for c := uint8(0); c < b.numRetries; c++ {
		if err = b.db.Update(func(tx *bolt.Tx) error {
			for i := 0; i < kvsb.Size(); i++ {
				write, err := kvsb.Entry(i)
				if err != nil {
					return err
				}
				switch write.writeType {
				case Put:
					bucket, err := tx.CreateBucketIfNotExists([]byte(write.namespace))
					if err != nil {
						return err
					}
					if err := bucket.Put(write.key, write.value); err != nil {
						return err
					}
				case Delete:
					bucket := tx.Bucket([]byte(write.namespace))
					if bucket == nil {
						continue
					}
					if err := bucket.Delete(write.key); err != nil {
						return err
					}
				}
			}
			return nil
		}); err == nil {
			break
		}
	}
	if err != nil {
		succeed = false
		err = errors.Wrap(ErrIO, err.Error())
	}
	return err
}
