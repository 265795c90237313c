// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/pagecache/blunder"
	"github.com/NVIDIA/pagecache/idlequeue"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/trackedlock"
)

// NewBackendFunc creates the backend for a freshly created document. It runs
// without the registry lock held and may be called more than once for the same
// URI when lookups race; the documents of the losing calls are closed, so a
// backend should defer real work until Backend.PageRequested().
//
type NewBackendFunc func(document *Document) (backend Backend, err error)

// Registry hands out one Document per document URI.
//
type Registry struct {
	trackedlock.Mutex
	queue     *idlequeue.Queue
	backends  map[string]NewBackendFunc // key is document type
	documents sortedmap.LLRBTree        // key is URI; value is *Document
}

func NewRegistry(queue *idlequeue.Queue) (registry *Registry) {
	registry = &Registry{
		queue:    queue,
		backends: make(map[string]NewBackendFunc),
	}
	registry.documents = sortedmap.NewLLRBTree(sortedmap.CompareString, registry)
	return
}

func (registry *Registry) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString = fmt.Sprintf("%v", key)
	err = nil
	return
}

func (registry *Registry) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsString = fmt.Sprintf("%p", value)
	err = nil
	return
}

// RegisterBackend makes documents of docType be created with newBackend.
//
func (registry *Registry) RegisterBackend(docType string, newBackend NewBackendFunc) {
	registry.Lock()
	registry.backends[docType] = newBackend
	registry.Unlock()
}

// GetForURI returns the Document for uri, creating it with the backend
// registered for docType if this is the first request for uri.
//
func (registry *Registry) GetForURI(uri string, docType string) (document *Document, err error) {
	var (
		backend    Backend
		existing   *Document
		newBackend NewBackendFunc
		ok         bool
	)

	registry.Lock()
	existing = registry.lookup(uri)
	newBackend, ok = registry.backends[docType]
	registry.Unlock()

	if nil != existing {
		document = existing
		err = nil
		return
	}
	if !ok {
		err = blunder.NewError(blunder.NotSupportedError, "document type \"%s\" of %s is not supported", docType, uri)
		return
	}

	// the backend may touch the filesystem, so it is created unlocked
	document = newDocument(uri, registry.queue)

	backend, err = newBackend(document)
	if nil != err {
		document.Close()
		document = nil
		return
	}
	document.SetBackend(backend)

	registry.Lock()

	existing = registry.lookup(uri)
	if nil != existing {
		registry.Unlock()
		logger.Tracef("document: lost the race to open %s", uri)
		document.Close()
		document = existing
		err = nil
		return
	}

	ok, err = registry.documents.Put(uri, document)
	if nil != err {
		logger.PanicfWithError(err, "document: registry Put(%s) failed", uri)
	}
	if !ok {
		logger.PanicfWithError(nil, "document: registry Put(%s) returned !ok", uri)
	}

	document.registerStats()

	registry.Unlock()

	logger.Infof("document: opened %s as %s", uri, docType)

	err = nil
	return
}

// lookup returns the open Document for uri, or nil. Caller holds the lock.
//
func (registry *Registry) lookup(uri string) (document *Document) {
	documentAsItem, ok, err := registry.documents.GetByKey(uri)
	if nil != err {
		logger.PanicfWithError(err, "document: registry GetByKey(%s) failed", uri)
	}
	if ok {
		document = documentAsItem.(*Document)
	}

	return
}

// Forget closes and drops the Document for uri. It reports whether one was
// present.
//
func (registry *Registry) Forget(uri string) (ok bool) {
	registry.Lock()

	document := registry.lookup(uri)
	if nil == document {
		registry.Unlock()
		ok = false
		return
	}

	_, err := registry.documents.DeleteByKey(uri)
	if nil != err {
		logger.PanicfWithError(err, "document: registry DeleteByKey(%s) failed", uri)
	}

	registry.Unlock()

	document.Close()

	logger.Infof("document: closed %s", uri)

	ok = true
	return
}

// URIs returns the URIs of the open documents in order.
func (registry *Registry) URIs() (uris []string) {
	registry.Lock()
	defer registry.Unlock()

	numDocuments, err := registry.documents.Len()
	if nil != err {
		logger.PanicfWithError(err, "document: registry Len() failed")
	}

	uris = make([]string, 0, numDocuments)

	for index := 0; index < numDocuments; index++ {
		uriAsKey, _, ok, err := registry.documents.GetByIndex(index)
		if nil != err {
			logger.PanicfWithError(err, "document: registry GetByIndex(%d) failed", index)
		}
		if !ok {
			logger.PanicfWithError(nil, "document: registry GetByIndex(%d) returned !ok", index)
		}
		uris = append(uris, uriAsKey.(string))
	}

	return
}

// Close closes every open document.
func (registry *Registry) Close() {
	for _, uri := range registry.URIs() {
		_ = registry.Forget(uri)
	}
}
