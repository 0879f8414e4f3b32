// Package hashtable implements a chained hash table with per-bucket
// locking and a lock-free Get, used by the VFS dentry and inode
// caches (spec.md §4.5).
package hashtable

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type elem_t[K comparable, V any] struct {
	key     K
	value   V
	keyHash uint32
	next    atomic.Pointer[elem_t[K, V]]
}

type bucket_t[K comparable, V any] struct {
	sync.RWMutex
	first atomic.Pointer[elem_t[K, V]]
}

func (b *bucket_t[K, V]) len() int {
	b.RLock()
	defer b.RUnlock()
	n := 0
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		n++
	}
	return n
}

func (b *bucket_t[K, V]) elems() []Pair[K, V] {
	b.RLock()
	defer b.RUnlock()
	var p []Pair[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		p = append(p, Pair[K, V]{Key: e.key, Value: e.value})
	}
	return p
}

// Pair is a key/value tuple returned by Elems.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Hashtable is a fixed-bucket-count hash table mapping comparable keys
// to values of any type. Get is lock-free with respect to concurrent
// Set/Del; Set and Del serialize per bucket.
type Hashtable[K comparable, V any] struct {
	table    []*bucket_t[K, V]
	hashFn   func(K) uint32
	maxchain int32
}

// New allocates a hash table with size buckets, hashing keys with hf.
func New[K comparable, V any](size int, hf func(K) uint32) *Hashtable[K, V] {
	if size <= 0 {
		panic("hashtable: bad size")
	}
	ht := &Hashtable[K, V]{
		table:  make([]*bucket_t[K, V], size),
		hashFn: hf,
	}
	for i := range ht.table {
		ht.table[i] = &bucket_t[K, V]{}
	}
	return ht
}

func (ht *Hashtable[K, V]) bucketFor(kh uint32) *bucket_t[K, V] {
	return ht.table[kh%uint32(len(ht.table))]
}

func khash(h uint32) uint32 {
	return 2654435761 * h
}

// Size returns the total number of stored elements.
func (ht *Hashtable[K, V]) Size() int {
	n := 0
	for _, b := range ht.table {
		n += b.len()
	}
	return n
}

// Elems returns every stored key/value pair.
func (ht *Hashtable[K, V]) Elems() []Pair[K, V] {
	var p []Pair[K, V]
	for _, b := range ht.table {
		p = append(p, b.elems()...)
	}
	return p
}

// Get looks up key, returning its value and whether it was found.
func (ht *Hashtable[K, V]) Get(key K) (V, bool) {
	kh := khash(ht.hashFn(key))
	b := ht.bucketFor(kh)
	n := int32(0)
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
		n++
	}
	if n > atomic.LoadInt32(&ht.maxchain) {
		atomic.StoreInt32(&ht.maxchain, n)
	}
	var zero V
	return zero, false
}

// Set inserts key/value, keeping each bucket's chain sorted by hash.
// Returns false without modifying the table if the key already
// existed.
func (ht *Hashtable[K, V]) Set(key K, value V) bool {
	kh := khash(ht.hashFn(key))
	b := ht.bucketFor(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return false
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	n := &elem_t[K, V]{key: key, value: value, keyHash: kh}
	if last == nil {
		n.next.Store(b.first.Load())
		b.first.Store(n)
	} else {
		n.next.Store(last.next.Load())
		last.next.Store(n)
	}
	return true
}

// Del removes key from the table. It panics if the key is absent,
// mirroring the invariant that callers only delete entries they know
// are cached (spec.md §4.5's dput/iput protocol).
func (ht *Hashtable[K, V]) Del(key K) {
	kh := khash(ht.hashFn(key))
	b := ht.bucketFor(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				b.first.Store(e.next.Load())
			} else {
				last.next.Store(e.next.Load())
			}
			return
		}
		last = e
	}
	panic(fmt.Sprintf("hashtable: del of non-existing key %v", key))
}

// Iter applies f to each key/value pair, stopping early if f returns
// true.
func (ht *Hashtable[K, V]) Iter(f func(K, V) bool) bool {
	for _, b := range ht.table {
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			if f(e.key, e.value) {
				return true
			}
		}
	}
	return false
}
