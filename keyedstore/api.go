// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package keyedstore provides maps keyed by an optional string.
//
// A Key is either the null key (NullKey) or a string. Store holds one value
// per key and hands every value it lets go of (overwritten, removed or freed)
// to a destructor supplied at creation. ListStore holds an ordered list of
// values per key.
//
// Neither type is safe for concurrent use; callers serialize access.
//
package keyedstore

import (
	"github.com/NVIDIA/sortedmap"
)

// Key is an optional string. The zero value is the null key.
//
type Key struct {
	name  string
	isSet bool
}

// NullKey is the key with no name.
var NullKey = Key{}

// StringKey returns the key named name. Note that StringKey("") is not NullKey.
//
func StringKey(name string) Key {
	return Key{name: name, isSet: true}
}

// Name returns the key's name and false for the null key.
func (key Key) Name() (name string, ok bool) {
	name = key.name
	ok = key.isSet
	return
}

func (key Key) IsNull() bool {
	return !key.isSet
}

func (key Key) String() string {
	if !key.isSet {
		return "<null>"
	}
	return key.name
}

// Store maps a Key to a single value.
//
type Store struct {
	tree    sortedmap.LLRBTree // key is Key; value is the stored interface{}
	destroy func(value interface{})
}

// New returns an empty Store. If destroy is non-nil, it is called with each
// value the store releases.
//
func New(destroy func(value interface{})) (store *Store) {
	store = &Store{
		destroy: destroy,
	}
	store.tree = sortedmap.NewLLRBTree(compareKey, store)
	return
}

// Lookup returns the value stored under key.
func (store *Store) Lookup(key Key) (value interface{}, ok bool) {
	return store.lookup(key)
}

// Replace stores value under key. A prior value under key is destroyed first.
//
func (store *Store) Replace(key Key, value interface{}) {
	store.replace(key, value)
}

// Remove destroys and removes the value stored under key, if any.
func (store *Store) Remove(key Key) {
	store.remove(key)
}

// Keys returns the keys present, NullKey first and named keys ascending.
//
func (store *Store) Keys() (keys []Key) {
	return store.keys()
}

func (store *Store) Len() int {
	return treeLen(store.tree)
}

// Free destroys every value, NullKey's first, and empties the store.
//
func (store *Store) Free() {
	store.free()
}

// ListStore maps a Key to an ordered list of values. No destructor is run; a
// ListStore only indexes values owned elsewhere.
//
type ListStore struct {
	tree sortedmap.LLRBTree // key is Key; value is *[]interface{}
}

func NewListStore() (listStore *ListStore) {
	listStore = &ListStore{}
	listStore.tree = sortedmap.NewLLRBTree(compareKey, listStore)
	return
}

// Insert appends value to the list under key, creating the list if needed.
// Duplicates are kept.
//
func (listStore *ListStore) Insert(key Key, value interface{}) {
	listStore.insert(key, value)
}

// Remove deletes the first entry under key equal to value. When the list
// becomes empty, key is removed. It reports whether an entry was found.
//
func (listStore *ListStore) Remove(key Key, value interface{}) (removed bool) {
	return listStore.removeValue(key, value)
}

// Lookup returns a copy of the list under key (nil if key is absent).
func (listStore *ListStore) Lookup(key Key) (values []interface{}) {
	return listStore.lookup(key)
}

// RemoveKey drops key and its whole list, returning the list.
func (listStore *ListStore) RemoveKey(key Key) (values []interface{}) {
	return listStore.removeKey(key)
}

func (listStore *ListStore) Keys() (keys []Key) {
	return treeKeys(listStore.tree)
}

func (listStore *ListStore) Len() int {
	return treeLen(listStore.tree)
}
