// Copyright (c) 2023 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package db

type (
	// KVStoreCache is a local cache of batched <k, v> for fast query
	KVStoreCache interface {
		// Read retrieves a record
		Read(string, []byte) ([]byte, error)
		// Write puts a record into cache
		Write(string, []byte, []byte)
		// Evict marks a record as deleted
		Evict(string, []byte)
		// Clear clears the cache
		Clear()
		// Clone makes a deep copy of the cache
		Clone() KVStoreCache
	}

	cacheNode struct {
		value   []byte
		deleted bool
	}

	// kvCache implements KVStoreCache interface
	kvCache struct {
		cache map[string]map[string]*cacheNode
	}
)

// NewKVCache returns a KVCache
func NewKVCache() KVStoreCache {
	return &kvCache{
		cache: make(map[string]map[string]*cacheNode),
	}
}

// Read retrieves a record
func (c *kvCache) Read(namespace string, key []byte) ([]byte, error) {
	if ns, ok := c.cache[namespace]; ok {
		if node, ok := ns[string(key)]; ok {
			if node.deleted {
				return nil, ErrAlreadyDeleted
			}
			return node.value, nil
		}
	}
	return nil, ErrNotExist
}

// Write puts a record into cache
func (c *kvCache) Write(namespace string, key, value []byte) {
	ns, ok := c.cache[namespace]
	if !ok {
		ns = make(map[string]*cacheNode)
		c.cache[namespace] = ns
	}
	v := make([]byte, len(value))
	copy(v, value)
	ns[string(key)] = &cacheNode{value: v}
}

// Evict marks a record as deleted
func (c *kvCache) Evict(namespace string, key []byte) {
	ns, ok := c.cache[namespace]
	if !ok {
		ns = make(map[string]*cacheNode)
		c.cache[namespace] = ns
	}
	ns[string(key)] = &cacheNode{deleted: true}
}

// Clear clears the cache
func (c *kvCache) Clear() {
	c.cache = make(map[string]map[string]*cacheNode)
}

// Clone makes a deep copy of the cache
func (c *kvCache) Clone() KVStoreCache {
	clone := kvCache{
		cache: make(map[string]map[string]*cacheNode, len(c.cache)),
	}
	for namespace, ns := range c.cache {
		clone.cache[namespace] = make(map[string]*cacheNode, len(ns))
		for key, node := range ns {
			v := make([]byte, len(node.value))
			copy(v, node.value)
			clone.cache[namespace][key] = &cacheNode{value: v, deleted: node.deleted}
		}
	}
	return &clone
}
