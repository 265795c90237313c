// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package document implements the per-document page cache and the
// asynchronous page request dispatcher.
//
// A Document records what is known about each of its pages: the alias map from
// any page id to its canonical id, and per canonical id the title, mime type,
// interned contents and the root/prev/next/up navigation ids. Backends fill
// it in as they parse (GiveContents, SetTitle, ..., SetPageID) and announce
// new data with Signal() or ErrorPending(). Consumers ask for pages with
// RequestPage() and are called back on the Document's idlequeue, never on
// the goroutine that produced the data.
//
// All state of a Document, including its outstanding requests, is guarded by
// a single mutex. Callbacks are never invoked with that mutex held.
//
package document

import (
	"context"

	"github.com/NVIDIA/pagecache/idlequeue"
	"github.com/NVIDIA/pagecache/keyedstore"
	"github.com/NVIDIA/pagecache/refcntpool"
)

// PageKey identifies a page. The null key (DefaultPage) is the document's
// default page.
//
type PageKey = keyedstore.Key

// DefaultPage is the key of the document's default page.
var DefaultPage = keyedstore.NullKey

// Page returns the key for page id.
func Page(id string) PageKey {
	return keyedstore.StringKey(id)
}

type Signal int

const (
	SignalContents Signal = iota // contents of the page are available via ReadContents()
	SignalInfo                   // title and navigation ids of the page are available
	SignalError                  // the page could not be produced; err says why
)

func (signal Signal) String() string {
	switch signal {
	case SignalContents:
		return "CONTENTS"
	case SignalInfo:
		return "INFO"
	case SignalError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Callback is invoked on the document's idlequeue for each delivery to a
// request. err is only non-nil for SignalError and is owned by the callee.
//
type Callback func(document *Document, signal Signal, userData interface{}, err error)

// Backend is the producer side of a Document. PageRequested is called, without
// the document's mutex held, each time a consumer requests pageID (already
// resolved to its canonical id if one is known).
//
type Backend interface {
	PageRequested(document *Document, pageID PageKey)
}

// New returns an empty Document for uri that delivers on queue.
//
func New(uri string, queue *idlequeue.Queue) (document *Document) {
	return newDocument(uri, queue)
}

// SetBackend attaches the producer that is told about requested pages.
func (document *Document) SetBackend(backend Backend) {
	document.Lock()
	document.backend = backend
	document.Unlock()
}

func (document *Document) URI() string {
	return document.uri
}

// GetPageID resolves id to its canonical page id.
//
func (document *Document) GetPageID(id PageKey) (pageID PageKey, ok bool) {
	document.Lock()
	pageID, ok = document.resolve(id)
	document.Unlock()
	return
}

// SetPageID records that id resolves to pageID. Backends register every
// canonical id as an alias of itself. If id already had requests outstanding
// under it, they are moved to pageID.
//
func (document *Document) SetPageID(id PageKey, pageID PageKey) {
	document.setPageID(id, pageID)
}

func (document *Document) GetTitle(id PageKey) (title string, ok bool) {
	return document.getString(document.titles, id)
}

// SetTitle and the other metadata setters store under id as given. Callers
// pass canonical ids.
//
func (document *Document) SetTitle(id PageKey, title string) {
	document.setString(document.titles, id, title)
}

func (document *Document) GetMimeType(id PageKey) (mimeType string, ok bool) {
	return document.getString(document.mimeTypes, id)
}

func (document *Document) SetMimeType(id PageKey, mimeType string) {
	document.setString(document.mimeTypes, id, mimeType)
}

func (document *Document) GetRootID(id PageKey) (rootID string, ok bool) {
	return document.getString(document.rootIDs, id)
}

func (document *Document) SetRootID(id PageKey, rootID string) {
	document.setString(document.rootIDs, id, rootID)
}

func (document *Document) GetPrevID(id PageKey) (prevID string, ok bool) {
	return document.getString(document.prevIDs, id)
}

func (document *Document) SetPrevID(id PageKey, prevID string) {
	document.setString(document.prevIDs, id, prevID)
}

func (document *Document) GetNextID(id PageKey) (nextID string, ok bool) {
	return document.getString(document.nextIDs, id)
}

func (document *Document) SetNextID(id PageKey, nextID string) {
	document.setString(document.nextIDs, id, nextID)
}

func (document *Document) GetUpID(id PageKey) (upID string, ok bool) {
	return document.getString(document.upIDs, id)
}

func (document *Document) SetUpID(id PageKey, upID string) {
	document.setString(document.upIDs, id, upID)
}

// GiveContents interns contents and stores it, along with mimeType, under
// pageID as given. Contents previously stored there are released.
//
func (document *Document) GiveContents(pageID PageKey, contents string, mimeType string) {
	document.giveContents(pageID, contents, mimeType)
}

// ReadContents returns the contents of the page id resolves to, or nil. The
// returned handle carries its own reference; pass it to FinishRead() when
// done with it.
//
func (document *Document) ReadContents(id PageKey) (contents *refcntpool.Content) {
	return document.readContents(id)
}

// FinishRead releases the reference returned by ReadContents().
//
func (document *Document) FinishRead(contents *refcntpool.Content) {
	refcntpool.ReleaseContent(contents)
}

func (document *Document) HasPage(id PageKey) (hasPage bool) {
	document.Lock()
	_, hasPage = document.resolve(id)
	document.Unlock()
	return
}

// PageKeys returns the canonical page ids known to the document in order,
// DefaultPage first.
//
func (document *Document) PageKeys() (pageKeys []PageKey) {
	return document.pageKeys()
}

// RequestPage registers a request for the page id resolves to (or id itself
// if it is not yet known). callback is invoked later on the document's queue:
// with SignalInfo if a title is cached, with SignalContents if contents are
// cached, and again as Signal() or ErrorPending() report progress. The
// request lives until ctx is cancelled or the document is closed.
//
// The return value reports whether contents were already cached.
//
func (document *Document) RequestPage(ctx context.Context, id PageKey, callback Callback, userData interface{}) (contentsCached bool) {
	return document.requestPage(ctx, id, callback, userData)
}

// Signal schedules the delivery of kind to every request outstanding under
// pageID. For SignalError each request receives its own copy of err.
//
func (document *Document) Signal(pageID PageKey, kind Signal, err error) {
	document.signal(pageID, kind, err)
}

// ErrorPending schedules a copy of err for delivery to every request that has
// not yet received contents or an error, then forgets those requests as
// pending.
//
func (document *Document) ErrorPending(err error) {
	document.errorPending(err)
}

// NumRequests returns the number of live and of pending requests.
func (document *Document) NumRequests() (numLive int, numPending int) {
	document.Lock()
	numLive = document.reqsAll.Len()
	numPending = document.reqsPending.Len()
	document.Unlock()
	return
}

// Close cancels every outstanding request and drops all cached state,
// releasing cached contents to the pool. Close is idempotent.
//
func (document *Document) Close() {
	document.close()
}
