// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package dirbackend

import (
	"bytes"
	"io/ioutil"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/dustin/go-humanize"
	"github.com/google/btree"

	"github.com/NVIDIA/pagecache/blunder"
	"github.com/NVIDIA/pagecache/document"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/trackedlock"
	"github.com/NVIDIA/pagecache/utils"
)

const (
	btreeDegree     = 16
	indexFileName   = "index.html"
	defaultMimeType = "text/plain"
)

type loadStateType int

const (
	stateIdle loadStateType = iota
	stateLoading
	stateLoaded
)

// Backend loads one directory into one document.
//
type Backend struct {
	trackedlock.Mutex
	dirPath   string
	state     loadStateType
	requested map[document.PageKey]struct{} // pages requested while loading
	doneChan  chan struct{}                 // closed once loading has signalled everything
}

// pageItem is a btree.Item ordered by file name.
//
type pageItem struct {
	fileName string
	id       string
	mimeType string
}

func (item *pageItem) Less(than btree.Item) bool {
	return item.fileName < than.(*pageItem).fileName
}

func newBackend(documentRoot string, doc *document.Document) (backend *Backend, err error) {
	// rooted before joining so ".." cannot climb out of documentRoot
	dirPath := filepath.Join(documentRoot, filepath.FromSlash(path.Clean("/"+doc.URI())))

	fileInfo, err := os.Stat(dirPath)
	if nil != err {
		err = blunder.AddError(err, blunder.NotFoundError)
		return
	}
	if !fileInfo.IsDir() {
		err = blunder.NewError(blunder.NotFoundError, "%s is not a directory", doc.URI())
		return
	}

	backend = &Backend{
		dirPath:   dirPath,
		state:     stateIdle,
		requested: make(map[document.PageKey]struct{}),
		doneChan:  make(chan struct{}),
	}

	err = nil
	return
}

func (backend *Backend) pageRequested(doc *document.Document, pageID document.PageKey) {
	backend.Lock()

	switch backend.state {
	case stateIdle:
		backend.state = stateLoading
		backend.requested[pageID] = struct{}{}
		backend.Unlock()
		go backend.load(doc)
	case stateLoading:
		backend.requested[pageID] = struct{}{}
		backend.Unlock()
	case stateLoaded:
		backend.Unlock()
		if !doc.HasPage(pageID) {
			doc.Signal(pageID, document.SignalError, pageNotFound(doc, pageID))
		}
	}
}

func pageNotFound(doc *document.Document, pageID document.PageKey) error {
	return blunder.NewError(blunder.NotFoundError, "page %v not found in %s", pageID, doc.URI())
}

// scan returns the directory's regular files ordered by name.
//
func (backend *Backend) scan() (pages *btree.BTree, err error) {
	fileInfos, err := ioutil.ReadDir(backend.dirPath)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	pages = btree.New(btreeDegree)
	ids := make(map[string]struct{}, len(fileInfos))

	// fileInfos is sorted by name, so of several files sharing a base name
	// the first keeps it as page id and the rest are known by file name
	for _, fileInfo := range fileInfos {
		if !fileInfo.Mode().IsRegular() || strings.HasPrefix(fileInfo.Name(), ".") {
			continue
		}

		ext := filepath.Ext(fileInfo.Name())
		mimeType := mime.TypeByExtension(ext)
		if "" == mimeType {
			mimeType = defaultMimeType
		}

		id := strings.TrimSuffix(fileInfo.Name(), ext)
		if _, taken := ids[id]; taken || ("" == id) {
			id = fileInfo.Name()
		}
		ids[id] = struct{}{}

		_ = pages.ReplaceOrInsert(&pageItem{
			fileName: fileInfo.Name(),
			id:       id,
			mimeType: mimeType,
		})
	}

	err = nil
	return
}

func (backend *Backend) load(doc *document.Document) {
	var (
		err      error
		numBytes uint64
		numPages int
		pages    *btree.BTree
		prevItem *pageItem
		rootID   string
	)

	stopwatch := utils.NewStopwatch()

	pages, err = backend.scan()
	if nil == err && 0 == pages.Len() {
		err = blunder.NewError(blunder.NotFoundError, "%s has no pages", doc.URI())
	}
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			logger.ErrorfWithError(err, "dirbackend: loading %s failed", backend.dirPath)
		} else {
			logger.InfofWithError(err, "dirbackend: %s is empty", backend.dirPath)
		}
		_ = backend.finish()
		doc.ErrorPending(err)
		close(backend.doneChan)
		return
	}

	rootID = pages.Min().(*pageItem).id
	if indexItem := pages.Get(&pageItem{fileName: indexFileName}); nil != indexItem {
		rootID = indexItem.(*pageItem).id
	}

	// aliases first so that requests made by file name move to their page id
	pages.Ascend(func(item btree.Item) bool {
		page := item.(*pageItem)
		doc.SetPageID(document.Page(page.id), document.Page(page.id))
		if page.fileName != page.id {
			doc.SetPageID(document.Page(page.fileName), document.Page(page.id))
		}
		return true
	})
	doc.SetPageID(document.DefaultPage, document.Page(rootID))

	pages.Ascend(func(item btree.Item) bool {
		page := item.(*pageItem)

		contents, readErr := ioutil.ReadFile(filepath.Join(backend.dirPath, page.fileName))
		if nil != readErr {
			logger.WarnfWithError(readErr, "dirbackend: reading %s failed", page.fileName)
			doc.Signal(document.Page(page.id), document.SignalError, blunder.AddError(readErr, blunder.IOError))
			return true
		}

		pageKey := document.Page(page.id)

		doc.SetTitle(pageKey, pageTitle(contents, page.mimeType, page.id))
		doc.SetRootID(pageKey, rootID)
		if page.id != rootID {
			doc.SetUpID(pageKey, rootID)
		}
		if nil != prevItem {
			doc.SetPrevID(pageKey, prevItem.id)
			doc.SetNextID(document.Page(prevItem.id), page.id)
		}
		doc.GiveContents(pageKey, string(contents), page.mimeType)

		doc.Signal(pageKey, document.SignalInfo, nil)
		doc.Signal(pageKey, document.SignalContents, nil)
		if page.id == rootID {
			doc.Signal(document.DefaultPage, document.SignalInfo, nil)
			doc.Signal(document.DefaultPage, document.SignalContents, nil)
		}

		prevItem = page
		numBytes += uint64(len(contents))
		numPages++
		return true
	})

	for _, pageID := range backend.finish() {
		if !doc.HasPage(pageID) {
			doc.Signal(pageID, document.SignalError, pageNotFound(doc, pageID))
		}
	}

	close(backend.doneChan)

	logger.Infof("dirbackend: loaded %d pages (%s) of %s in %v", numPages, humanize.Bytes(numBytes), backend.dirPath, stopwatch.Stop())
}

// finish marks the directory loaded and returns the pages requested meanwhile.
//
func (backend *Backend) finish() (requested []document.PageKey) {
	backend.Lock()
	defer backend.Unlock()

	requested = make([]document.PageKey, 0, len(backend.requested))
	for pageID := range backend.requested {
		requested = append(requested, pageID)
	}
	backend.requested = nil
	backend.state = stateLoaded

	return
}

// pageTitle returns the text of the first <title> of an XML or HTML page,
// or id when the page has none or does not parse.
//
func pageTitle(contents []byte, mimeType string, id string) (title string) {
	if !strings.Contains(mimeType, "xml") && !strings.Contains(mimeType, "html") {
		return id
	}

	root, err := xmlquery.Parse(bytes.NewReader(contents))
	if nil != err {
		logger.TracefWithError(err, "dirbackend: page %s does not parse", id)
		return id
	}

	titleNode := xmlquery.FindOne(root, "//title")
	if nil == titleNode {
		return id
	}

	title = strings.Join(strings.Fields(titleNode.InnerText()), " ")
	if "" == title {
		title = id
	}

	return
}
