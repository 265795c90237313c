// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package refcntpool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type contentPoolStruct struct {
	sync.Mutex
	contents map[*Content]struct{} // all live handles; count lives in each handle
}

type globalsStruct struct {
	contentPool contentPoolStruct
}

var globals = globalsStruct{
	contentPool: contentPoolStruct{
		contents: make(map[*Content]struct{}),
	},
}

// RefCntItem implementation
//
func (item *RefCntItem) Hold() {
	newCnt := atomic.AddInt32(&item.refCnt, 1)
	if newCnt < 2 {
		panic(fmt.Sprintf("RefCntItem.Hold(): item %T at %p was not held when called: newCnt %d",
			item.cntItem, item.cntItem, newCnt))
	}
}

func (item *RefCntItem) Release() {
	// Even if two goroutines do this concurrently only one will see newCnt == 0
	newCnt := atomic.AddInt32(&item.refCnt, -1)

	if 0 == newCnt {
		item.pool.Put(item.cntItem)
	} else if newCnt < 0 {
		panic(fmt.Sprintf("RefCntItem.Release(): item %T at %p was not held when called: newCnt %d",
			item.cntItem, item.cntItem, newCnt))
	}
}

func (item *RefCntItem) RefCnt() int32 {
	return atomic.LoadInt32(&item.refCnt)
}

func (item *RefCntItem) AssertIsHeld() {
	refCnt := atomic.LoadInt32(&item.refCnt)
	if refCnt < 1 {
		panic(fmt.Sprintf("(*RefCntItem).AssertIsHeld(): refCnt %d < 1 for RefCntItem at %p",
			refCnt, item))
	}
}

// Init is invoked by a pool's Get() with the pool and the object item is
// embedded in. The item must be free.
//
func (item *RefCntItem) Init(pool RefCntItemPooler, cntItem interface{}) {
	newCnt := atomic.AddInt32(&item.refCnt, 1)
	if 1 != newCnt {
		panic(fmt.Sprintf("RefCntItem.Init(): item %T at %p in pool %T at %p was not free: newCnt %d",
			cntItem, cntItem, pool, pool, newCnt))
	}
	item.pool = pool
	item.cntItem = cntItem
}

// RefCntItemPool implementation
//
func (refCntPool *RefCntItemPool) Get() (item interface{}) {
	item = refCntPool.itemPool.Get()
	if nil == item {
		item = refCntPool.New()
	}

	item.(RefCntItemer).Init(refCntPool, item)

	return
}

func (refCntPool *RefCntItemPool) Put(item interface{}) {
	if nil != refCntPool.Reset {
		refCntPool.Reset(item)
	}

	refCntPool.itemPool.Put(item)
}

// Content pool implementation. Contents are never recycled: a released handle
// might still be compared against by a stale reader, so each intern allocates.
//
func (contentPool *contentPoolStruct) Get() (item interface{}) {
	content := &Content{}
	content.Init(contentPool, content)

	contentPool.Lock()
	contentPool.contents[content] = struct{}{}
	contentPool.Unlock()

	item = content
	return
}

func (contentPool *contentPoolStruct) Put(item interface{}) {
	content := item.(*Content)

	contentPool.Lock()
	_, ok := contentPool.contents[content]
	if !ok {
		contentPool.Unlock()
		panic(fmt.Sprintf("refcntpool: released Content at %p is not tracked", content))
	}
	delete(contentPool.contents, content)
	contentPool.Unlock()

	content.str = ""
}

func (contentPool *contentPoolStruct) intern(str string) (content *Content) {
	content = contentPool.Get().(*Content)
	content.str = str
	return
}

func (contentPool *contentPoolStruct) refCnt(content *Content) (refCnt int32) {
	contentPool.Lock()
	_, ok := contentPool.contents[content]
	contentPool.Unlock()

	if !ok {
		refCnt = 0
		return
	}

	refCnt = content.RefCnt()
	return
}

func (contentPool *contentPoolStruct) tracked() (numContents int) {
	contentPool.Lock()
	numContents = len(contentPool.contents)
	contentPool.Unlock()
	return
}
