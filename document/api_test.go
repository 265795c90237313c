// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/pagecache/blunder"
	"github.com/NVIDIA/pagecache/idlequeue"
	"github.com/NVIDIA/pagecache/refcntpool"
)

type deliveryStruct struct {
	signal   Signal
	userData interface{}
	err      error
}

type recorderStruct struct {
	deliveries []deliveryStruct
}

// callback runs on the queue, which the tests drain with RunPending() on the
// test goroutine.
//
func (recorder *recorderStruct) callback(document *Document, signal Signal, userData interface{}, err error) {
	recorder.deliveries = append(recorder.deliveries, deliveryStruct{signal: signal, userData: userData, err: err})
}

func (recorder *recorderStruct) count(signal Signal) (n int) {
	for _, delivery := range recorder.deliveries {
		if signal == delivery.signal {
			n++
		}
	}
	return
}

func waitForFreed(t *testing.T, document *Document, numFreed uint64) {
	assert.Eventually(t, func() bool {
		return numFreed == document.stats.RequestsFreed.TotalGet()
	}, 10*time.Second, time.Millisecond)
}

func TestCacheAccessors(t *testing.T) {
	assert := assert.New(t)

	document := New("test://accessors", idlequeue.New())
	defer document.Close()

	assert.Equal("test://accessors", document.URI())

	_, ok := document.GetPageID(Page("p1"))
	assert.False(ok)
	assert.False(document.HasPage(Page("p1")))

	document.SetPageID(Page("p1"), Page("p1"))
	document.SetPageID(Page("p2"), Page("p2"))
	document.SetPageID(Page("p1#frag"), Page("p1"))
	document.SetPageID(DefaultPage, Page("p1"))

	pageID, ok := document.GetPageID(Page("p1#frag"))
	assert.True(ok)
	assert.Equal(Page("p1"), pageID)
	pageID, ok = document.GetPageID(DefaultPage)
	assert.True(ok)
	assert.Equal(Page("p1"), pageID)
	assert.True(document.HasPage(Page("p1#frag")))
	assert.True(document.HasPage(DefaultPage))
	assert.Equal([]PageKey{Page("p1"), Page("p2")}, document.PageKeys())

	document.SetTitle(Page("p1"), "Page One")
	document.SetMimeType(Page("p1"), "text/html")
	document.SetRootID(Page("p1"), "p1")
	document.SetNextID(Page("p1"), "p2")
	document.SetPrevID(Page("p2"), "p1")
	document.SetUpID(Page("p2"), "p1")

	// getters resolve aliases
	title, ok := document.GetTitle(Page("p1#frag"))
	assert.True(ok)
	assert.Equal("Page One", title)
	title, ok = document.GetTitle(DefaultPage)
	assert.True(ok)
	assert.Equal("Page One", title)
	mimeType, ok := document.GetMimeType(Page("p1#frag"))
	assert.True(ok)
	assert.Equal("text/html", mimeType)
	rootID, ok := document.GetRootID(Page("p1#frag"))
	assert.True(ok)
	assert.Equal("p1", rootID)
	nextID, ok := document.GetNextID(Page("p1"))
	assert.True(ok)
	assert.Equal("p2", nextID)
	_, ok = document.GetPrevID(Page("p1"))
	assert.False(ok)
	prevID, ok := document.GetPrevID(Page("p2"))
	assert.True(ok)
	assert.Equal("p1", prevID)
	upID, ok := document.GetUpID(Page("p2"))
	assert.True(ok)
	assert.Equal("p1", upID)

	// setters do not resolve: metadata stored under an alias is not seen
	document.SetTitle(Page("p2#frag"), "orphan")
	document.SetPageID(Page("p2#frag"), Page("p2"))
	_, ok = document.GetTitle(Page("p2#frag"))
	assert.False(ok)

	// unknown ids resolve to nothing
	_, ok = document.GetTitle(Page("p3"))
	assert.False(ok)
}

func TestContents(t *testing.T) {
	assert := assert.New(t)

	tracked := refcntpool.ContentsTracked()

	document := New("test://contents", idlequeue.New())

	document.GiveContents(Page("p1"), "<html>one</html>", "text/html")
	assert.Equal(tracked+1, refcntpool.ContentsTracked())

	// not readable until the id is known
	assert.Nil(document.ReadContents(Page("p1")))

	document.SetPageID(Page("p1"), Page("p1"))
	document.SetPageID(Page("one"), Page("p1"))

	contents := document.ReadContents(Page("one"))
	if assert.NotNil(contents) {
		assert.Equal("<html>one</html>", contents.String())
		assert.Equal(int32(2), refcntpool.ContentRefCnt(contents))
	}
	mimeType, ok := document.GetMimeType(Page("one"))
	assert.True(ok)
	assert.Equal("text/html", mimeType)

	// replacing contents keeps the reader's buffer alive
	document.GiveContents(Page("p1"), "<html>uno</html>", "application/xhtml+xml")
	assert.Equal(int32(1), refcntpool.ContentRefCnt(contents))
	assert.Equal("<html>one</html>", contents.String())
	document.FinishRead(contents)
	assert.Equal(int32(0), refcntpool.ContentRefCnt(contents))
	assert.Equal(tracked+1, refcntpool.ContentsTracked())

	contents = document.ReadContents(Page("p1"))
	if assert.NotNil(contents) {
		assert.Equal("<html>uno</html>", contents.String())
	}

	// Close() releases the cache's reference but not the reader's
	document.Close()
	assert.Equal(int32(1), refcntpool.ContentRefCnt(contents))
	document.FinishRead(contents)
	assert.Equal(tracked, refcntpool.ContentsTracked())

	// contents given to a closed document are dropped
	document.GiveContents(Page("p1"), "late", "text/plain")
	assert.Equal(tracked, refcntpool.ContentsTracked())
}

func TestRequestPageCached(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://cached", queue)
	defer document.Close()

	document.SetPageID(Page("p1"), Page("p1"))
	document.SetTitle(Page("p1"), "Page One")
	document.GiveContents(Page("p1"), "<p/>", "text/html")

	recorder := &recorderStruct{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.True(document.RequestPage(ctx, Page("p1"), recorder.callback, "ud"))

	// nothing is delivered inline
	assert.Empty(recorder.deliveries)
	assert.Equal(2, queue.RunPending())

	if assert.Equal(2, len(recorder.deliveries)) {
		assert.Equal(SignalInfo, recorder.deliveries[0].signal)
		assert.Equal(SignalContents, recorder.deliveries[1].signal)
		assert.Equal("ud", recorder.deliveries[1].userData)
		assert.Nil(recorder.deliveries[1].err)
	}

	numLive, numPending := document.NumRequests()
	assert.Equal(1, numLive)
	assert.Equal(0, numPending)
}

func TestRequestPageSignal(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://signal", queue)
	defer document.Close()

	recorder := &recorderStruct{}

	assert.False(document.RequestPage(context.Background(), Page("p1"), recorder.callback, nil))
	assert.Equal(0, queue.RunPending())
	assert.Empty(recorder.deliveries)

	numLive, numPending := document.NumRequests()
	assert.Equal(1, numLive)
	assert.Equal(1, numPending)

	document.SetPageID(Page("p1"), Page("p1"))
	document.GiveContents(Page("p1"), "<p/>", "text/html")
	document.Signal(Page("p1"), SignalContents, nil)

	// signals for other pages reach nobody
	document.Signal(Page("p2"), SignalContents, nil)

	assert.Equal(1, queue.RunPending())
	assert.Equal(1, recorder.count(SignalContents))
	assert.Equal(1, len(recorder.deliveries))

	_, numPending = document.NumRequests()
	assert.Equal(0, numPending)
}

func TestMigration(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://migration", queue)
	defer document.Close()

	recorder1 := &recorderStruct{}
	recorder2 := &recorderStruct{}

	assert.False(document.RequestPage(context.Background(), Page("p1"), recorder1.callback, nil))
	assert.False(document.RequestPage(context.Background(), Page("p1"), recorder2.callback, nil))
	assert.Equal(2, len(document.reqsByPageID.Lookup(Page("p1"))))

	document.SetPageID(Page("p1"), Page("p1-real"))

	assert.Nil(document.reqsByPageID.Lookup(Page("p1")))
	migrated := document.reqsByPageID.Lookup(Page("p1-real"))
	if assert.Equal(2, len(migrated)) {
		assert.Equal(Page("p1-real"), migrated[0].(*requestStruct).pageID)
		assert.Equal(Page("p1-real"), migrated[1].(*requestStruct).pageID)
	}

	document.SetPageID(Page("p1-real"), Page("p1-real"))
	document.GiveContents(Page("p1-real"), "<html/>", "text/html")
	document.Signal(Page("p1-real"), SignalContents, nil)
	queue.RunPending()

	for _, recorder := range []*recorderStruct{recorder1, recorder2} {
		assert.Equal(1, len(recorder.deliveries))
		assert.Equal(SignalContents, recorder.deliveries[0].signal)
	}

	mimeType, ok := document.GetMimeType(Page("p1"))
	assert.True(ok)
	assert.Equal("text/html", mimeType)
}

func TestCancel(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://cancel", queue)
	defer document.Close()

	document.SetPageID(Page("p1"), Page("p1"))
	document.SetTitle(Page("p1"), "Page One")
	document.GiveContents(Page("p1"), "<p/>", "text/html")

	recorder := &recorderStruct{}
	ctx, cancel := context.WithCancel(context.Background())

	assert.True(document.RequestPage(ctx, Page("p1"), recorder.callback, nil))
	document.Signal(Page("p1"), SignalContents, nil)
	document.Signal(Page("p1"), SignalError, blunder.NewError(blunder.IOError, "late failure"))
	assert.Equal(4, queue.Pending())

	cancel()
	cancel()

	assert.Equal(4, queue.RunPending())
	assert.Empty(recorder.deliveries)

	waitForFreed(t, document, 1)
	assert.Equal(uint64(1), document.stats.RequestsCancelled.TotalGet())
	assert.Equal(uint64(4), document.stats.DeliveriesSkipped.TotalGet())

	numLive, numPending := document.NumRequests()
	assert.Equal(0, numLive)
	assert.Equal(0, numPending)
	assert.Nil(document.reqsByPageID.Lookup(Page("p1")))

	// a request whose context is already done is never delivered to
	assert.True(document.RequestPage(ctx, Page("p1"), recorder.callback, nil))
	queue.RunPending()
	assert.Empty(recorder.deliveries)
	waitForFreed(t, document, 2)
}

func TestErrorPending(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://errors", queue)
	defer document.Close()

	recorder := &recorderStruct{}
	for i := 0; i < 3; i++ {
		assert.False(document.RequestPage(context.Background(), Page("p1"), recorder.callback, i))
	}

	// an answered request is no longer pending
	answered := &recorderStruct{}
	document.SetPageID(Page("p2"), Page("p2"))
	document.GiveContents(Page("p2"), "<p/>", "text/html")
	assert.True(document.RequestPage(context.Background(), Page("p2"), answered.callback, nil))
	queue.RunPending()

	fetchErr := blunder.NewError(blunder.NotFoundError, "document could not be fetched")
	document.ErrorPending(fetchErr)
	assert.Equal(3, queue.RunPending())

	if assert.Equal(3, recorder.count(SignalError)) {
		for i, delivery := range recorder.deliveries {
			assert.True(blunder.Is(delivery.err, blunder.NotFoundError))
			assert.Contains(delivery.err.Error(), "document could not be fetched")
			assert.False(fetchErr == delivery.err)
			for _, other := range recorder.deliveries[i+1:] {
				assert.False(delivery.err == other.err)
			}
		}
	}
	assert.Equal(1, len(answered.deliveries))

	// the pending list was emptied
	document.ErrorPending(fetchErr)
	assert.Equal(0, queue.RunPending())
	assert.Equal(3, len(recorder.deliveries))
}

func TestErrorDeliveredOnce(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://once", queue)
	defer document.Close()

	recorder := &recorderStruct{}
	assert.False(document.RequestPage(context.Background(), Page("p1"), recorder.callback, nil))

	document.Signal(Page("p1"), SignalError, blunder.NewError(blunder.InvalidArgError, "bad page"))
	document.ErrorPending(blunder.NewError(blunder.IOError, "document failed"))
	assert.Equal(2, queue.Pending())

	assert.Equal(2, queue.RunPending())
	if assert.Equal(1, len(recorder.deliveries)) {
		assert.Equal(SignalError, recorder.deliveries[0].signal)
		assert.True(blunder.Is(recorder.deliveries[0].err, blunder.IOError))
	}

	// an error signal without an error is not delivered
	document.Signal(Page("p1"), SignalError, nil)
	assert.Equal(1, queue.RunPending())
	assert.Equal(1, len(recorder.deliveries))
}

func TestClose(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://close", queue)

	document.SetPageID(Page("p1"), Page("p1"))
	document.GiveContents(Page("p1"), "<p/>", "text/html")

	recorder := &recorderStruct{}
	for i := 0; i < 5; i++ {
		assert.True(document.RequestPage(context.Background(), Page("p1"), recorder.callback, nil))
	}
	assert.Equal(5, queue.Pending())

	document.Close()
	document.Close()

	numLive, numPending := document.NumRequests()
	assert.Equal(0, numLive)
	assert.Equal(0, numPending)
	assert.False(document.HasPage(Page("p1")))

	assert.Equal(5, queue.RunPending())
	assert.Empty(recorder.deliveries)
	waitForFreed(t, document, 5)

	assert.False(document.RequestPage(context.Background(), Page("p1"), recorder.callback, nil))
	assert.Equal(0, queue.Pending())
}

type testBackendStruct struct {
	requested []PageKey
}

func (backend *testBackendStruct) PageRequested(document *Document, pageID PageKey) {
	backend.requested = append(backend.requested, pageID)
}

func TestBackend(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://backend", queue)
	defer document.Close()

	backend := &testBackendStruct{}
	document.SetBackend(backend)

	document.SetPageID(Page("p1#frag"), Page("p1"))

	recorder := &recorderStruct{}
	document.RequestPage(context.Background(), Page("p1#frag"), recorder.callback, nil)
	document.RequestPage(context.Background(), DefaultPage, recorder.callback, nil)

	assert.Equal([]PageKey{Page("p1"), DefaultPage}, backend.requested)
}

func TestRegistry(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	registry := NewRegistry(queue)

	backends := 0
	registry.RegisterBackend("test", func(document *Document) (Backend, error) {
		backends++
		return &testBackendStruct{}, nil
	})
	registry.RegisterBackend("broken", func(document *Document) (Backend, error) {
		return nil, blunder.NewError(blunder.IOError, "cannot open")
	})

	document1, err := registry.GetForURI("test://b", "test")
	assert.Nil(err)
	document2, err := registry.GetForURI("test://b", "test")
	assert.Nil(err)
	assert.True(document1 == document2)
	document3, err := registry.GetForURI("test://a", "test")
	assert.Nil(err)
	assert.False(document1 == document3)
	assert.Equal(2, backends)

	_, err = registry.GetForURI("test://c", "unknown")
	assert.True(blunder.Is(err, blunder.NotSupportedError))
	assert.Equal(501, blunder.HTTPCode(err))

	_, err = registry.GetForURI("test://d", "broken")
	assert.True(blunder.Is(err, blunder.IOError))

	assert.Equal([]string{"test://a", "test://b"}, registry.URIs())

	recorder := &recorderStruct{}
	document1.RequestPage(context.Background(), Page("p1"), recorder.callback, nil)

	assert.True(registry.Forget("test://b"))
	assert.False(registry.Forget("test://b"))
	numLive, _ := document1.NumRequests()
	assert.Equal(0, numLive)

	// a forgotten URI gets a fresh document
	document4, err := registry.GetForURI("test://b", "test")
	assert.Nil(err)
	assert.False(document1 == document4)

	registry.Close()
	assert.Empty(registry.URIs())
}

// reentrantStruct is a consumer whose callback reads from and requests on the
// document that is delivering to it.
//
type reentrantStruct struct {
	titles     []string
	contents   []string
	errs       []error
	requested  bool
	numLive    int
	numPending int
}

func (reentrant *reentrantStruct) callback(document *Document, signal Signal, userData interface{}, err error) {
	pageID := userData.(PageKey)

	switch signal {
	case SignalInfo:
		title, _ := document.GetTitle(pageID)
		reentrant.titles = append(reentrant.titles, title)
	case SignalContents:
		contents := document.ReadContents(pageID)
		if nil != contents {
			reentrant.contents = append(reentrant.contents, contents.String())
			document.FinishRead(contents)
		}
		if !reentrant.requested {
			reentrant.requested = true
			document.RequestPage(context.Background(), Page("p2"), reentrant.callback, Page("p2"))
		}
	case SignalError:
		reentrant.errs = append(reentrant.errs, err)
		reentrant.numLive, reentrant.numPending = document.NumRequests()
		document.ErrorPending(err)
		document.Signal(Page("p1"), SignalInfo, nil)
	}
}

func runPendingWithin(t *testing.T, queue *idlequeue.Queue, timeout time.Duration) (numRun int) {
	doneChan := make(chan int, 1)

	go func() {
		doneChan <- queue.RunPending()
	}()

	select {
	case numRun = <-doneChan:
	case <-time.After(timeout):
		t.Fatalf("queue.RunPending() did not return within %v", timeout)
	}

	return
}

func TestCallbackReentersDocument(t *testing.T) {
	assert := assert.New(t)

	queue := idlequeue.New()
	document := New("test://reentrant", queue)
	defer document.Close()

	document.SetPageID(Page("p1"), Page("p1"))
	document.SetTitle(Page("p1"), "Page One")
	document.GiveContents(Page("p1"), "<p>one</p>", "text/html")

	reentrant := &reentrantStruct{}
	assert.True(document.RequestPage(context.Background(), Page("p1"), reentrant.callback, Page("p1")))

	// info then contents; the contents callback requests p2, which has nothing cached
	assert.Equal(2, runPendingWithin(t, queue, 10*time.Second))
	assert.Equal([]string{"Page One"}, reentrant.titles)
	assert.Equal([]string{"<p>one</p>"}, reentrant.contents)
	assert.True(reentrant.requested)

	numLive, numPending := document.NumRequests()
	assert.Equal(2, numLive)
	assert.Equal(1, numPending)

	// the error callback queries, broadcasts and signals from the queue
	document.ErrorPending(blunder.NewError(blunder.NotFoundError, "p2 is missing"))
	assert.Equal(2, runPendingWithin(t, queue, 10*time.Second))
	if assert.Equal(1, len(reentrant.errs)) {
		assert.True(blunder.Is(reentrant.errs[0], blunder.NotFoundError))
	}
	assert.Equal(2, reentrant.numLive)
	assert.Equal(0, reentrant.numPending)
	assert.Equal([]string{"Page One", "Page One"}, reentrant.titles)
}

func TestRegistryCreatesBackendUnlocked(t *testing.T) {
	assert := assert.New(t)

	registry := NewRegistry(idlequeue.New())
	defer registry.Close()

	enteredChan := make(chan struct{}, 2)
	releaseChan := make(chan struct{})

	registry.RegisterBackend("test", func(document *Document) (Backend, error) {
		return &testBackendStruct{}, nil
	})
	registry.RegisterBackend("slow", func(document *Document) (Backend, error) {
		enteredChan <- struct{}{}
		<-releaseChan
		return &testBackendStruct{}, nil
	})

	slowChan := make(chan *Document, 2)
	getSlow := func() {
		document, err := registry.GetForURI("test://slow", "slow")
		assert.Nil(err)
		slowChan <- document
	}

	go getSlow()
	<-enteredChan

	// another document opens while the slow backend is still being created
	fastChan := make(chan error, 1)
	go func() {
		_, err := registry.GetForURI("test://fast", "test")
		fastChan <- err
	}()
	select {
	case err := <-fastChan:
		assert.Nil(err)
	case <-time.After(10 * time.Second):
		t.Fatalf("GetForURI(\"test://fast\") blocked behind a backend being created")
	}
	assert.Equal([]string{"test://fast"}, registry.URIs())

	// two racing opens of one URI end up with the same document
	go getSlow()
	<-enteredChan
	close(releaseChan)

	document1 := <-slowChan
	document2 := <-slowChan
	if assert.NotNil(document1) {
		assert.True(document1 == document2)
	}
	assert.Equal([]string{"test://fast", "test://slow"}, registry.URIs())
}
