// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package dirbackend is a document backend that publishes every regular file
// of a directory as a page.
//
// A file's page id is its name without extension; its full name is an alias.
// When several files share a base name, the first by file name keeps it and
// the others use their full names as ids. Pages are ordered by file name to
// form the prev/next chain. The first page (or index.html, if present) is the
// root, the up page of every other page and the document's default page.
//
// The title of an XML or HTML page is the text of its first <title> element;
// other pages, and pages without one, are titled by their page id. Mime types
// follow the file extension.
//
// The directory is loaded once, on its own goroutine, when the first page is
// requested.
//
package dirbackend

import (
	"github.com/NVIDIA/pagecache/document"
)

// DocType is the document type dirbackend registers for.
const DocType = "dir"

// NewBackendFunc returns the constructor for documents whose URI names a
// directory below documentRoot.
//
func NewBackendFunc(documentRoot string) document.NewBackendFunc {
	return func(doc *document.Document) (backend document.Backend, err error) {
		dirBackend, err := newBackend(documentRoot, doc)
		if nil != err {
			return
		}
		backend = dirBackend
		return
	}
}

// Loaded reports whether the directory has been published (successfully or
// not).
//
func (backend *Backend) Loaded() bool {
	backend.Lock()
	defer backend.Unlock()
	return backend.state == stateLoaded
}

// PageRequested starts loading on the first request and answers requests for
// pages the directory does not have.
//
func (backend *Backend) PageRequested(doc *document.Document, pageID document.PageKey) {
	backend.pageRequested(doc, pageID)
}

// Wait blocks until loading has published every page and answered every
// request made meanwhile.
//
func (backend *Backend) Wait() {
	<-backend.doneChan
}
