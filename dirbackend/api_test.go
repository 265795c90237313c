// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package dirbackend

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/pagecache/blunder"
	"github.com/NVIDIA/pagecache/document"
	"github.com/NVIDIA/pagecache/idlequeue"
)

type recorderStruct struct {
	signals []document.Signal
	errs    []error
}

func (recorder *recorderStruct) callback(doc *document.Document, signal document.Signal, userData interface{}, err error) {
	recorder.signals = append(recorder.signals, signal)
	if nil != err {
		recorder.errs = append(recorder.errs, err)
	}
}

func makeTestDir(t *testing.T) (documentRoot string) {
	documentRoot, err := ioutil.TempDir("", "dirbackend")
	if nil != err {
		t.Fatalf("ioutil.TempDir() failed: %v", err)
	}

	guideDir := filepath.Join(documentRoot, "guide")
	err = os.Mkdir(guideDir, 0755)
	if nil != err {
		t.Fatalf("os.Mkdir() failed: %v", err)
	}
	err = os.Mkdir(filepath.Join(guideDir, "images"), 0755)
	if nil != err {
		t.Fatalf("os.Mkdir() failed: %v", err)
	}

	for fileName, contents := range map[string]string{
		"index.html": "<html>index</html>",
		"intro.html": "<html>intro</html>",
		"notes.txt":  "notes",
		".hidden":    "hidden",
	} {
		err = ioutil.WriteFile(filepath.Join(guideDir, fileName), []byte(contents), 0644)
		if nil != err {
			t.Fatalf("ioutil.WriteFile() failed: %v", err)
		}
	}

	return
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	documentRoot := makeTestDir(t)
	defer os.RemoveAll(documentRoot)

	queue := idlequeue.New()
	doc := document.New("guide", queue)
	defer doc.Close()

	backend, err := newBackend(documentRoot, doc)
	if !assert.Nil(err) {
		return
	}
	doc.SetBackend(backend)
	assert.False(backend.Loaded())

	// requested by file name before the page ids are known
	intro := &recorderStruct{}
	assert.False(doc.RequestPage(context.Background(), document.Page("intro.html"), intro.callback, nil))
	backend.Wait()
	assert.True(backend.Loaded())

	assert.Equal(2, queue.RunPending())
	assert.Equal([]document.Signal{document.SignalInfo, document.SignalContents}, intro.signals)

	// the default page is the index
	index := &recorderStruct{}
	assert.True(doc.RequestPage(context.Background(), document.DefaultPage, index.callback, nil))
	assert.Equal(2, queue.RunPending())
	assert.Equal([]document.Signal{document.SignalInfo, document.SignalContents}, index.signals)

	contents := doc.ReadContents(document.DefaultPage)
	if assert.NotNil(contents) {
		assert.Equal("<html>index</html>", contents.String())
		doc.FinishRead(contents)
	}

	assert.Equal([]document.PageKey{document.Page("index"), document.Page("intro"), document.Page("notes")}, doc.PageKeys())

	mimeType, ok := doc.GetMimeType(document.Page("intro.html"))
	assert.True(ok)
	assert.Contains(mimeType, "text/html")
	mimeType, ok = doc.GetMimeType(document.Page("notes"))
	assert.True(ok)
	assert.Contains(mimeType, "text/plain")

	title, ok := doc.GetTitle(document.Page("intro"))
	assert.True(ok)
	assert.Equal("intro", title)

	rootID, _ := doc.GetRootID(document.Page("notes"))
	assert.Equal("index", rootID)
	upID, _ := doc.GetUpID(document.Page("notes"))
	assert.Equal("index", upID)
	_, ok = doc.GetUpID(document.Page("index"))
	assert.False(ok)
	_, ok = doc.GetPrevID(document.Page("index"))
	assert.False(ok)
	nextID, _ := doc.GetNextID(document.Page("index"))
	assert.Equal("intro", nextID)
	prevID, _ := doc.GetPrevID(document.Page("notes"))
	assert.Equal("intro", prevID)
	_, ok = doc.GetNextID(document.Page("notes"))
	assert.False(ok)

	assert.False(doc.HasPage(document.Page(".hidden")))
	assert.False(doc.HasPage(document.Page("images")))

	// unknown pages are answered with an error
	missing := &recorderStruct{}
	assert.False(doc.RequestPage(context.Background(), document.Page("missing"), missing.callback, nil))
	assert.Equal(1, queue.RunPending())
	assert.Equal([]document.Signal{document.SignalError}, missing.signals)
	if assert.Equal(1, len(missing.errs)) {
		assert.True(blunder.Is(missing.errs[0], blunder.NotFoundError))
	}
}

func TestMissingPageDuringLoad(t *testing.T) {
	documentRoot := makeTestDir(t)
	defer os.RemoveAll(documentRoot)

	queue := idlequeue.New()
	doc := document.New("guide", queue)
	defer doc.Close()

	backend, err := newBackend(documentRoot, doc)
	if !assert.Nil(t, err) {
		return
	}
	doc.SetBackend(backend)

	missing := &recorderStruct{}
	doc.RequestPage(context.Background(), document.Page("missing"), missing.callback, nil)
	backend.Wait()

	assert.Equal(t, 1, queue.RunPending())
	assert.Equal(t, []document.Signal{document.SignalError}, missing.signals)
}

func TestLoadFailure(t *testing.T) {
	assert := assert.New(t)

	documentRoot := makeTestDir(t)
	defer os.RemoveAll(documentRoot)

	queue := idlequeue.New()
	doc := document.New("guide", queue)
	defer doc.Close()

	backend, err := newBackend(documentRoot, doc)
	if !assert.Nil(err) {
		return
	}
	doc.SetBackend(backend)

	err = os.RemoveAll(filepath.Join(documentRoot, "guide"))
	assert.Nil(err)

	recorder := &recorderStruct{}
	doc.RequestPage(context.Background(), document.DefaultPage, recorder.callback, nil)
	backend.Wait()

	assert.Equal(1, queue.RunPending())
	assert.Equal([]document.Signal{document.SignalError}, recorder.signals)
	if assert.Equal(1, len(recorder.errs)) {
		assert.True(blunder.Is(recorder.errs[0], blunder.IOError))
	}
}

func TestRegistry(t *testing.T) {
	assert := assert.New(t)

	documentRoot := makeTestDir(t)
	defer os.RemoveAll(documentRoot)

	registry := document.NewRegistry(idlequeue.New())
	defer registry.Close()
	registry.RegisterBackend(DocType, NewBackendFunc(documentRoot))

	doc, err := registry.GetForURI("guide", DocType)
	assert.Nil(err)
	assert.NotNil(doc)

	_, err = registry.GetForURI("absent", DocType)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	_, err = registry.GetForURI("../../../etc", DocType)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	_, err = registry.GetForURI("guide/index.html", DocType)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	assert.Equal([]string{"guide"}, registry.URIs())
}

func TestPageTitle(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("Getting Started",
		pageTitle([]byte("<html><head><title>\n  Getting\n  Started </title></head><body/></html>"), "text/html; charset=utf-8", "intro"))
	assert.Equal("Topic",
		pageTitle([]byte("<page xmlns=\"http://projectmallard.org/1.0/\"><info/><title>Topic</title></page>"), "application/xml", "topic"))
	assert.Equal("index", pageTitle([]byte("<html>index</html>"), "text/html", "index"))
	assert.Equal("empty", pageTitle([]byte("<html><title> </title></html>"), "text/html", "empty"))
	assert.Equal("notes", pageTitle([]byte("<title>not parsed</title>"), "text/plain", "notes"))
}

func TestSharedBaseName(t *testing.T) {
	assert := assert.New(t)

	documentRoot, err := ioutil.TempDir("", "dirbackend")
	if nil != err {
		t.Fatalf("ioutil.TempDir() failed: %v", err)
	}
	defer os.RemoveAll(documentRoot)

	err = os.Mkdir(filepath.Join(documentRoot, "shared"), 0755)
	if nil != err {
		t.Fatalf("os.Mkdir() failed: %v", err)
	}
	for fileName, contents := range map[string]string{
		"a.html": "<html>a</html>",
		"a.txt":  "a as text",
		"b.html": "<html>b</html>",
	} {
		err = ioutil.WriteFile(filepath.Join(documentRoot, "shared", fileName), []byte(contents), 0644)
		if nil != err {
			t.Fatalf("ioutil.WriteFile() failed: %v", err)
		}
	}

	queue := idlequeue.New()
	doc := document.New("shared", queue)
	defer doc.Close()

	backend, err := newBackend(documentRoot, doc)
	if !assert.Nil(err) {
		return
	}
	doc.SetBackend(backend)

	recorder := &recorderStruct{}
	doc.RequestPage(context.Background(), document.Page("a.txt"), recorder.callback, nil)
	backend.Wait()
	queue.RunPending()
	assert.Equal([]document.Signal{document.SignalInfo, document.SignalContents}, recorder.signals)

	// the first file keeps the base name; the second is known by its file name
	assert.Equal([]document.PageKey{document.Page("a"), document.Page("a.txt"), document.Page("b")}, doc.PageKeys())

	pageID, ok := doc.GetPageID(document.Page("a.html"))
	assert.True(ok)
	assert.Equal(document.Page("a"), pageID)

	for _, expected := range []struct {
		id       string
		contents string
		mimeType string
	}{
		{"a.html", "<html>a</html>", "text/html"},
		{"a.txt", "a as text", "text/plain"},
		{"b", "<html>b</html>", "text/html"},
	} {
		contents := doc.ReadContents(document.Page(expected.id))
		if assert.NotNil(contents, expected.id) {
			assert.Equal(expected.contents, contents.String(), expected.id)
			doc.FinishRead(contents)
		}
		mimeType, _ := doc.GetMimeType(document.Page(expected.id))
		assert.Contains(mimeType, expected.mimeType, expected.id)
	}

	// a -> a.txt -> b with no page its own neighbour
	nextID, _ := doc.GetNextID(document.Page("a"))
	assert.Equal("a.txt", nextID)
	prevID, _ := doc.GetPrevID(document.Page("a.txt"))
	assert.Equal("a", prevID)
	nextID, _ = doc.GetNextID(document.Page("a.txt"))
	assert.Equal("b", nextID)
	prevID, _ = doc.GetPrevID(document.Page("b"))
	assert.Equal("a.txt", prevID)
	_, ok = doc.GetPrevID(document.Page("a"))
	assert.False(ok)

	rootID, _ := doc.GetRootID(document.Page("b"))
	assert.Equal("a", rootID)
}
