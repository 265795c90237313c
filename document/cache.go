// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"container/list"

	"github.com/NVIDIA/pagecache/bucketstats"
	"github.com/NVIDIA/pagecache/idlequeue"
	"github.com/NVIDIA/pagecache/keyedstore"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/refcntpool"
	"github.com/NVIDIA/pagecache/trackedlock"
)

type documentStatsStruct struct {
	RequestsCreated     bucketstats.Total
	RequestsCancelled   bucketstats.Total
	RequestsFreed       bucketstats.Total
	RequestsMigrated    bucketstats.Total
	ContentsDelivered   bucketstats.Total
	InfoDelivered       bucketstats.Total
	ErrorsDelivered     bucketstats.Total
	DeliveriesSkipped   bucketstats.Total
	ContentsGiven       bucketstats.Total
	ReadContentsHits    bucketstats.Total
	ReadContentsMisses  bucketstats.Total
	RequestLifetimeUsec bucketstats.BucketLog2Round
}

// Document is the page cache of one document. Create it with New() or
// Registry.GetForURI().
//
type Document struct {
	trackedlock.Mutex
	uri         string
	queue       *idlequeue.Queue
	backend     Backend
	closed      bool
	requestPool *requestPoolStruct

	pageIDs   *keyedstore.Store // value is PageKey (canonical id)
	titles    *keyedstore.Store // value is string
	mimeTypes *keyedstore.Store // value is string
	contents  *keyedstore.Store // value is *refcntpool.Content
	rootIDs   *keyedstore.Store // value is string
	prevIDs   *keyedstore.Store // value is string
	nextIDs   *keyedstore.Store // value is string
	upIDs     *keyedstore.Store // value is string

	reqsByPageID *keyedstore.ListStore // value is *requestStruct; indexes only
	reqsAll      *list.List            // of *requestStruct; holds one reference on each
	reqsPending  *list.List            // of *requestStruct not yet sent contents or an error

	statsGroupName string // non-empty while stats are registered
	stats          documentStatsStruct
}

func releaseContent(value interface{}) {
	refcntpool.ReleaseContent(value.(*refcntpool.Content))
}

func newDocument(uri string, queue *idlequeue.Queue) (document *Document) {
	document = &Document{
		uri:          uri,
		queue:        queue,
		pageIDs:      keyedstore.New(nil),
		titles:       keyedstore.New(nil),
		mimeTypes:    keyedstore.New(nil),
		contents:     keyedstore.New(releaseContent),
		rootIDs:      keyedstore.New(nil),
		prevIDs:      keyedstore.New(nil),
		nextIDs:      keyedstore.New(nil),
		upIDs:        keyedstore.New(nil),
		reqsByPageID: keyedstore.NewListStore(),
		reqsAll:      list.New(),
		reqsPending:  list.New(),
	}
	document.requestPool = &requestPoolStruct{document: document}

	logger.Tracef("document: created %s", uri)

	return
}

func (document *Document) registerStats() {
	document.statsGroupName = document.uri
	bucketstats.Register("document", document.statsGroupName, &document.stats)
}

func (document *Document) unRegisterStats() {
	if "" == document.statsGroupName {
		return
	}
	bucketstats.UnRegister("document", document.statsGroupName)
	document.statsGroupName = ""
}

// resolve maps id to its canonical id. Caller holds the lock.
//
func (document *Document) resolve(id PageKey) (pageID PageKey, ok bool) {
	pageIDAsValue, ok := document.pageIDs.Lookup(id)
	if ok {
		pageID = pageIDAsValue.(PageKey)
	}
	return
}

func (document *Document) setPageID(id PageKey, pageID PageKey) {
	document.Lock()
	defer document.Unlock()

	document.pageIDs.Replace(id, pageID)

	if id.IsNull() || (id == pageID) {
		return
	}

	requests := document.reqsByPageID.RemoveKey(id)
	for _, requestAsValue := range requests {
		request := requestAsValue.(*requestStruct)
		request.pageID = pageID
		document.reqsByPageID.Insert(pageID, request)
		document.stats.RequestsMigrated.Increment()
	}

	if 0 < len(requests) {
		logger.Tracef("document: %s moved %d requests from %v to %v", document.uri, len(requests), id, pageID)
	}
}

func (document *Document) getString(store *keyedstore.Store, id PageKey) (value string, ok bool) {
	document.Lock()
	defer document.Unlock()

	pageID, ok := document.resolve(id)
	if !ok {
		return
	}

	valueAsValue, ok := store.Lookup(pageID)
	if ok {
		value = valueAsValue.(string)
	}
	return
}

func (document *Document) setString(store *keyedstore.Store, id PageKey, value string) {
	document.Lock()
	store.Replace(id, value)
	document.Unlock()
}

func (document *Document) giveContents(pageID PageKey, contents string, mimeType string) {
	document.Lock()
	defer document.Unlock()

	if document.closed {
		logger.Warnf("document: %s is closed, discarding contents of %v", document.uri, pageID)
		return
	}

	document.contents.Replace(pageID, refcntpool.InternContent(contents))
	document.mimeTypes.Replace(pageID, mimeType)

	document.stats.ContentsGiven.Increment()
}

func (document *Document) readContents(id PageKey) (contents *refcntpool.Content) {
	document.Lock()
	defer document.Unlock()

	pageID, ok := document.resolve(id)
	if ok {
		var contentsAsValue interface{}

		contentsAsValue, ok = document.contents.Lookup(pageID)
		if ok {
			contents = refcntpool.RetainContent(contentsAsValue.(*refcntpool.Content))
		}
	}

	if nil == contents {
		document.stats.ReadContentsMisses.Increment()
	} else {
		document.stats.ReadContentsHits.Increment()
	}
	return
}

func (document *Document) pageKeys() (pageKeys []PageKey) {
	document.Lock()
	defer document.Unlock()

	pageKeys = make([]PageKey, 0)
	for _, id := range document.pageIDs.Keys() {
		pageID, _ := document.resolve(id)
		if pageID == id {
			pageKeys = append(pageKeys, id)
		}
	}
	return
}

func (document *Document) freeStores() {
	document.pageIDs.Free()
	document.titles.Free()
	document.mimeTypes.Free()
	document.contents.Free()
	document.rootIDs.Free()
	document.prevIDs.Free()
	document.nextIDs.Free()
	document.upIDs.Free()
}
