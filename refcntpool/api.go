// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package refcntpool

// refcntpool provides interfaces and objects to implement pools of reference
// counted items, where the item is handed back to its pool when its reference
// count drops to zero (upon the final call to object.Release()).
//
// There are two ways to use reference counted items: 1) embed a RefCntItem in
// the object you want reference counted and use the generic RefCntItemPool
// with a custom New() routine; or 2) embed a RefCntItem and write your own pool
// that supports the RefCntItemPooler interface. The second approach allows
// more flexible actions to be taken when objects are released (e.g. page
// requests that are torn down rather than recycled).
//
// The interned Content pool is also provided here. It is the process-wide
// registry of the shared content buffers that documents hand to readers.

import (
	"sync"
)

// A object implementing the RefCntItemer interface is acquired from a
// RefCntItemPooler. Hold() increments the reference count and Release()
// decrements it. Upon final release it is handed to the pool from whence
// it came.
//
// An object returned by Get() starts with one hold. When all the holds are
// released the object must not be accessed.
//
type RefCntItemer interface {
	Init(RefCntItemPooler, interface{}) // invoked by RefCntItemPooler.Get() before the item is returned
	Hold()                              // get an additional hold on the item
	Release()                           // release a hold on the item
	RefCnt() int32                      // current number of holds
}

// The RefCntItemPooler interface defines Get() and Put() methods for objects
// that support the RefCntItemer interface.
//
// While Get() is called to get a new object, Put() should only be called via
// the object's final Release() and not called directly.
//
type RefCntItemPooler interface {
	Get() interface{}
	Put(interface{})
}

// RefCntItem is an object that implements the RefCntItemer interface. It can
// be embedded in other objects to allow them to be reference counted.
//
type RefCntItem struct {
	pool    RefCntItemPooler
	cntItem interface{} // the actual item this is embedded in
	refCnt  int32       // updated atomically
	_       sync.Mutex  // insure a RefCntItem is not copied
}

// RefCntItemPool is an object that implements a pool of reference counted items.
// Items are "allocated" by calling Get() on the pool and recycled when their
// reference count drops to zero.
//
// Like sync.Pool, the user must supply a New() routine to allocate new objects.
// The optional Reset() routine is called with each item as it is recycled.
//
type RefCntItemPool struct {
	itemPool sync.Pool
	_        sync.Mutex // insure a RefCntItemPool is not copied

	New   func() interface{}
	Reset func(interface{})
}

// Content is an interned, reference counted, immutable string. Handles are
// compared by identity: two Contents with equal text are distinct buffers.
//
type Content struct {
	RefCntItem
	str string
}

// InternContent places str in the process-wide content pool and returns its
// handle holding one reference.
//
func InternContent(str string) (content *Content) {
	return globals.contentPool.intern(str)
}

// RetainContent adds a reference to content and returns the same handle.
//
func RetainContent(content *Content) *Content {
	content.Hold()
	return content
}

// ReleaseContent drops a reference to content. The final release discards the
// buffer and its pool entry; releasing a handle the pool no longer tracks panics.
//
func ReleaseContent(content *Content) {
	content.Release()
}

// ContentRefCnt returns the reference count the pool tracks for content (zero
// if it is no longer tracked).
//
func ContentRefCnt(content *Content) int32 {
	return globals.contentPool.refCnt(content)
}

// ContentsTracked returns the number of content handles currently in the pool.
//
func ContentsTracked() int {
	return globals.contentPool.tracked()
}

// String returns the content text. It must only be called while a reference
// is held.
//
func (content *Content) String() string {
	content.AssertIsHeld()
	return content.str
}

// Len returns the length of the content text.
func (content *Content) Len() int {
	content.AssertIsHeld()
	return len(content.str)
}
