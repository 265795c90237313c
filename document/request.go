// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"container/list"
	"context"

	"github.com/NVIDIA/pagecache/blunder"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/refcntpool"
	"github.com/NVIDIA/pagecache/utils"
)

// requestStruct is one consumer's outstanding interest in a page.
//
// References: one owned by document.reqsAll (dropped on cancellation), one
// per scheduled delivery and one owned by the goroutine watching ctx. The
// final Release() hands the request to its pool, which frees it.
//
type requestStruct struct {
	refcntpool.RefCntItem
	document       *Document
	pageID         PageKey // canonical once known
	ctx            context.Context
	cancel         context.CancelFunc
	callback       Callback
	userData       interface{}
	err            error // captured for the next error delivery
	idleFuncs      int   // deliveries scheduled but not yet run
	cancelled      bool  // removed from the document's indexes
	allElement     *list.Element
	pendingElement *list.Element
	lifetime       *utils.Stopwatch
}

type requestPoolStruct struct {
	document *Document
}

func (requestPool *requestPoolStruct) Get() (item interface{}) {
	request := &requestStruct{
		document: requestPool.document,
		lifetime: utils.NewStopwatch(),
	}
	request.Init(requestPool, request)

	item = request
	return
}

// Put is only reached via the final Release(). Requests are not reused.
//
func (requestPool *requestPoolStruct) Put(item interface{}) {
	request := item.(*requestStruct)

	if 0 != request.idleFuncs {
		logger.PanicfWithError(nil, "document: request for %v freed with %d deliveries scheduled",
			request.pageID, request.idleFuncs)
	}

	request.lifetime.Stop()
	requestPool.document.stats.RequestLifetimeUsec.Add(request.lifetime.ElapsedUs())
	requestPool.document.stats.RequestsFreed.Increment()

	logger.Tracef("document: %s freed request for %v", requestPool.document.uri, request.pageID)

	request.callback = nil
	request.userData = nil
	request.err = nil
}

func (document *Document) requestPage(ctx context.Context, id PageKey, callback Callback, userData interface{}) (contentsCached bool) {
	var (
		backend Backend
		pageID  PageKey
	)

	document.Lock()

	if document.closed {
		document.Unlock()
		logger.Warnf("document: RequestPage(%v) on closed document %s", id, document.uri)
		contentsCached = false
		return
	}

	pageID, ok := document.resolve(id)
	if !ok {
		pageID = id
	}

	request := document.requestPool.Get().(*requestStruct)
	request.pageID = pageID
	request.ctx, request.cancel = context.WithCancel(ctx)
	request.callback = callback
	request.userData = userData

	request.allElement = document.reqsAll.PushBack(request)
	document.reqsByPageID.Insert(pageID, request)
	request.pendingElement = document.reqsPending.PushBack(request)

	if _, ok = document.titles.Lookup(pageID); ok {
		document.schedule(request, SignalInfo)
	}

	if _, ok = document.contents.Lookup(pageID); ok {
		document.schedule(request, SignalContents)
		contentsCached = true
	}

	request.Hold()
	go request.watch()

	backend = document.backend

	document.stats.RequestsCreated.Increment()

	document.Unlock()

	logger.Tracef("document: %s requested %v (as %v) contentsCached: %v", document.uri, id, pageID, contentsCached)

	if nil != backend {
		backend.PageRequested(document, pageID)
	}

	return
}

// watch tears the request down once its context is done, whether by the
// consumer or by Document.Close().
//
func (request *requestStruct) watch() {
	<-request.ctx.Done()
	request.document.requestCancel(request)
	request.Release()
}

// requestCancel removes request from every index and drops the reference
// held by reqsAll. Only the first call has any effect.
//
func (document *Document) requestCancel(request *requestStruct) {
	document.Lock()

	if request.cancelled {
		document.Unlock()
		return
	}
	request.cancelled = true

	if nil != request.pendingElement {
		document.reqsPending.Remove(request.pendingElement)
		request.pendingElement = nil
	}
	_ = document.reqsByPageID.Remove(request.pageID, request)
	document.reqsAll.Remove(request.allElement)
	request.allElement = nil

	document.stats.RequestsCancelled.Increment()

	document.Unlock()

	request.cancel()
	request.Release()
}

// schedule queues a delivery of signal to request. Caller holds the lock.
//
func (document *Document) schedule(request *requestStruct, signal Signal) {
	request.idleFuncs++
	request.Hold()
	document.queue.IdleAdd(func() { document.deliver(request, signal) })
}

// deliver runs on the queue. A cancelled request, or an error delivery that
// finds no captured error, only drops its reference.
//
func (document *Document) deliver(request *requestStruct, signal Signal) {
	var (
		callback Callback
		err      error
		userData interface{}
	)

	defer request.Release()

	document.Lock()

	request.idleFuncs--

	if nil != request.ctx.Err() {
		document.stats.DeliveriesSkipped.Increment()
		document.Unlock()
		return
	}

	switch signal {
	case SignalContents:
		document.removePending(request)
		document.stats.ContentsDelivered.Increment()
	case SignalInfo:
		document.stats.InfoDelivered.Increment()
	case SignalError:
		if nil == request.err {
			document.stats.DeliveriesSkipped.Increment()
			document.Unlock()
			return
		}
		err = request.err
		request.err = nil
		document.removePending(request)
		document.stats.ErrorsDelivered.Increment()
		logger.Tracef("document: %s delivering error for %v raised at %s", document.uri, request.pageID, blunder.SourceLine(err))
	}

	callback = request.callback
	userData = request.userData

	document.Unlock()

	if nil != callback {
		callback(document, signal, userData, err)
	}
}

func (document *Document) removePending(request *requestStruct) {
	if nil != request.pendingElement {
		document.reqsPending.Remove(request.pendingElement)
		request.pendingElement = nil
	}
}

func (document *Document) signal(pageID PageKey, kind Signal, err error) {
	document.Lock()
	defer document.Unlock()

	requests := document.reqsByPageID.Lookup(pageID)
	for _, requestAsValue := range requests {
		request := requestAsValue.(*requestStruct)
		switch kind {
		case SignalContents, SignalInfo:
			document.schedule(request, kind)
		case SignalError:
			request.err = blunder.Copy(err)
			document.schedule(request, kind)
		default:
			logger.Warnf("document: %s Signal(%v) with unknown kind %d", document.uri, pageID, kind)
			return
		}
	}

	logger.Tracef("document: %s signalled %v to %d requests for %v", document.uri, kind, len(requests), pageID)
}

func (document *Document) errorPending(err error) {
	document.Lock()
	defer document.Unlock()

	numPending := document.reqsPending.Len()

	for element := document.reqsPending.Front(); nil != element; element = element.Next() {
		request := element.Value.(*requestStruct)
		request.err = blunder.Copy(err)
		request.pendingElement = nil
		document.schedule(request, SignalError)
	}
	document.reqsPending.Init()

	if 0 < numPending {
		logger.TracefWithError(err, "document: %s error sent to %d pending requests", document.uri, numPending)
	}
}

func (document *Document) close() {
	var (
		requests []*requestStruct
	)

	document.Lock()
	if document.closed {
		document.Unlock()
		return
	}
	document.closed = true

	requests = make([]*requestStruct, 0, document.reqsAll.Len())
	for element := document.reqsAll.Front(); nil != element; element = element.Next() {
		requests = append(requests, element.Value.(*requestStruct))
	}
	document.Unlock()

	for _, request := range requests {
		request.cancel()
		document.requestCancel(request)
	}

	document.Lock()
	document.freeStores()
	document.Unlock()

	document.unRegisterStats()

	logger.Tracef("document: %s closed, %d requests cancelled", document.uri, len(requests))
}
