// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package keyedstore

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/pagecache/logger"
)

// compareKey orders NullKey before every named key and named keys by name.
//
func compareKey(key1 sortedmap.Key, key2 sortedmap.Key) (result int, err error) {
	var (
		key1AsKey Key
		key2AsKey Key
		ok        bool
	)

	key1AsKey, ok = key1.(Key)
	if !ok {
		err = fmt.Errorf("compareKey(non-Key,) not supported")
		return
	}
	key2AsKey, ok = key2.(Key)
	if !ok {
		err = fmt.Errorf("compareKey(,non-Key) not supported")
		return
	}

	switch {
	case !key1AsKey.isSet && !key2AsKey.isSet:
		result = 0
	case !key1AsKey.isSet:
		result = -1
	case !key2AsKey.isSet:
		result = 1
	default:
		result = strings.Compare(key1AsKey.name, key2AsKey.name)
	}

	err = nil
	return
}

func (store *Store) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString = fmt.Sprintf("%v", key)
	err = nil
	return
}

func (store *Store) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsString = fmt.Sprintf("%v", value)
	err = nil
	return
}

func (listStore *ListStore) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString = fmt.Sprintf("%v", key)
	err = nil
	return
}

func (listStore *ListStore) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsString = fmt.Sprintf("%v", *value.(*[]interface{}))
	err = nil
	return
}

func treeLen(tree sortedmap.LLRBTree) (numKeys int) {
	numKeys, err := tree.Len()
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: tree.Len() failed")
	}
	return
}

func treeKeys(tree sortedmap.LLRBTree) (keys []Key) {
	var (
		err     error
		index   int
		key     sortedmap.Key
		numKeys int
		ok      bool
	)

	numKeys = treeLen(tree)
	keys = make([]Key, 0, numKeys)

	for index = 0; index < numKeys; index++ {
		key, _, ok, err = tree.GetByIndex(index)
		if nil != err {
			logger.PanicfWithError(err, "keyedstore: tree.GetByIndex(%d) failed", index)
		}
		if !ok {
			logger.PanicfWithError(nil, "keyedstore: tree.GetByIndex(%d) returned !ok with %d keys", index, numKeys)
		}
		keys = append(keys, key.(Key))
	}

	return
}

func (store *Store) lookup(key Key) (value interface{}, ok bool) {
	value, ok, err := store.tree.GetByKey(key)
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: GetByKey(%v) failed", key)
	}
	return
}

func (store *Store) replace(key Key, value interface{}) {
	var (
		err      error
		ok       bool
		oldValue interface{}
	)

	oldValue, ok = store.lookup(key)
	if ok {
		ok, err = store.tree.PatchByKey(key, value)
	} else {
		ok, err = store.tree.Put(key, value)
	}
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: store of %v failed", key)
	}
	if !ok {
		logger.PanicfWithError(nil, "keyedstore: store of %v returned !ok", key)
	}

	if (nil != oldValue) && (nil != store.destroy) {
		store.destroy(oldValue)
	}
}

func (store *Store) remove(key Key) {
	value, ok := store.lookup(key)
	if !ok {
		return
	}

	_, err := store.tree.DeleteByKey(key)
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: DeleteByKey(%v) failed", key)
	}

	if (nil != value) && (nil != store.destroy) {
		store.destroy(value)
	}
}

func (store *Store) keys() (keys []Key) {
	return treeKeys(store.tree)
}

func (store *Store) free() {
	var (
		key   Key
		keys  []Key
		ok    bool
		value interface{}
	)

	// NullKey sorts first
	keys = store.keys()

	values := make([]interface{}, 0, len(keys))
	for _, key = range keys {
		value, ok = store.lookup(key)
		if ok {
			values = append(values, value)
		}
	}

	store.tree.Reset()

	if nil == store.destroy {
		return
	}
	for _, value = range values {
		if nil != value {
			store.destroy(value)
		}
	}
}

func (listStore *ListStore) list(key Key) (list *[]interface{}, ok bool) {
	value, ok, err := listStore.tree.GetByKey(key)
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: GetByKey(%v) failed", key)
	}
	if ok {
		list = value.(*[]interface{})
	}
	return
}

func (listStore *ListStore) insert(key Key, value interface{}) {
	list, ok := listStore.list(key)
	if ok {
		*list = append(*list, value)
		return
	}

	newList := []interface{}{value}
	ok, err := listStore.tree.Put(key, &newList)
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: Put(%v) failed", key)
	}
	if !ok {
		logger.PanicfWithError(nil, "keyedstore: Put(%v) returned !ok", key)
	}
}

func (listStore *ListStore) removeValue(key Key, value interface{}) (removed bool) {
	list, ok := listStore.list(key)
	if !ok {
		removed = false
		return
	}

	for index, listValue := range *list {
		if listValue == value {
			*list = append((*list)[:index], (*list)[index+1:]...)
			removed = true
			break
		}
	}

	if 0 == len(*list) {
		_, err := listStore.tree.DeleteByKey(key)
		if nil != err {
			logger.PanicfWithError(err, "keyedstore: DeleteByKey(%v) failed", key)
		}
	}

	return
}

func (listStore *ListStore) lookup(key Key) (values []interface{}) {
	list, ok := listStore.list(key)
	if !ok {
		return
	}

	values = make([]interface{}, len(*list))
	copy(values, *list)
	return
}

func (listStore *ListStore) removeKey(key Key) (values []interface{}) {
	list, ok := listStore.list(key)
	if !ok {
		return
	}

	values = *list

	_, err := listStore.tree.DeleteByKey(key)
	if nil != err {
		logger.PanicfWithError(err, "keyedstore: DeleteByKey(%v) failed", key)
	}
	return
}
