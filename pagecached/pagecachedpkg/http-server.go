// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package pagecachedpkg

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/cityhash"
	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/NVIDIA/pagecache/blunder"
	"github.com/NVIDIA/pagecache/bucketstats"
	"github.com/NVIDIA/pagecache/document"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/refcntpool"
	"github.com/NVIDIA/pagecache/utils"
)

// pageWaiterStruct carries the outcome of one page request from the delivery
// queue to the HTTP handler waiting for it.
//
// The handler holds one reference and the page request another; the latter is
// dropped by a task queued behind any delivery that could still reach the
// waiter, so a waiter is never recycled while a callback may use it.
//
type pageWaiterStruct struct {
	refcntpool.RefCntItem
	resultChan chan error // nil for SignalContents; buffered, first outcome wins
}

func (waiter *pageWaiterStruct) reset() {
	select {
	case <-waiter.resultChan:
	default:
	}
}

func (waiter *pageWaiterStruct) post(err error) {
	select {
	case waiter.resultChan <- err:
	default:
	}
}

// deliverToWaiter is the document.Callback of every page request made here.
//
func deliverToWaiter(doc *document.Document, signal document.Signal, userData interface{}, err error) {
	waiter := userData.(*pageWaiterStruct)

	switch signal {
	case document.SignalContents:
		waiter.post(nil)
	case document.SignalError:
		waiter.post(err)
	case document.SignalInfo:
		// headers are read after contents arrive
	}
}

func startHTTPServer() (err error) {
	var (
		ipAddrTCPPort string
		listener      net.Listener
	)

	ipAddrTCPPort = net.JoinHostPort(globals.config.PrivateIPAddr, strconv.Itoa(int(globals.config.HTTPServerPort)))

	listener, err = net.Listen("tcp", ipAddrTCPPort)
	if nil != err {
		logger.ErrorfWithError(err, "net.Listen(\"tcp\", %s) failed", ipAddrTCPPort)
		return
	}
	if 0 != globals.config.HTTPServerMaxConnections {
		listener = netutil.LimitListener(listener, int(globals.config.HTTPServerMaxConnections))
	}

	globals.httpServer = &http.Server{
		Addr:    ipAddrTCPPort,
		Handler: &globals,
	}

	globals.httpServerWG.Add(1)

	go func() {
		var (
			err error
		)

		err = globals.httpServer.Serve(listener)
		if http.ErrServerClosed != err {
			logger.Fatalf("httpServer.Serve() exited unexpectedly: %v", err)
		}

		globals.httpServerWG.Done()
	}()

	err = nil
	return
}

func stopHTTPServer() (err error) {
	err = globals.httpServer.Shutdown(context.TODO())
	if nil == err {
		globals.httpServerWG.Wait()
	}

	return
}

func (dummy *globalsStruct) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	requestID := uuid.New().String()
	responseWriter.Header().Set("X-Request-Id", requestID)
	logger.Tracef("%s %s [%s]", request.Method, request.URL.String(), requestID)

	switch request.Method {
	case http.MethodGet:
		serveHTTPGet(responseWriter, request)
	default:
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func serveHTTPGet(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		path string
	)

	path = strings.TrimRight(request.URL.Path, "/")

	switch {
	case "/config" == path:
		serveHTTPGetOfConfig(responseWriter, request)
	case "/stats" == path:
		serveHTTPGetOfStats(responseWriter, request)
	case "/document" == path:
		serveHTTPGetOfDocumentList(responseWriter, request)
	case strings.HasPrefix(path, "/document/"):
		serveHTTPGetOfPage(responseWriter, request, strings.TrimPrefix(path, "/document/"))
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func writeBody(responseWriter http.ResponseWriter, contentType string, body string) {
	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	responseWriter.Header().Set("Content-Type", contentType)
	responseWriter.WriteHeader(http.StatusOK)

	_, err := responseWriter.Write([]byte(body))
	if nil != err {
		logger.WarnfWithError(err, "responseWriter.Write() failed")
	}
}

func writeError(responseWriter http.ResponseWriter, err error) {
	body := err.Error() + "\n"

	logger.Debugf("pagecachedpkg: responding %d [%s]: %s",
		blunder.HTTPCode(err), responseWriter.Header().Get("X-Request-Id"), blunder.Details(err))

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	responseWriter.Header().Set("Content-Type", "text/plain")
	responseWriter.WriteHeader(blunder.HTTPCode(err))

	_, writeErr := responseWriter.Write([]byte(body))
	if nil != writeErr {
		logger.WarnfWithError(writeErr, "responseWriter.Write() failed")
	}
}

func serveHTTPGetOfConfig(responseWriter http.ResponseWriter, request *http.Request) {
	startTime := time.Now()
	defer func() {
		globals.stats.GetConfigUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	writeBody(responseWriter, "application/json", utils.JSONify(globals.config, false))
}

func serveHTTPGetOfStats(responseWriter http.ResponseWriter, request *http.Request) {
	startTime := time.Now()
	defer func() {
		globals.stats.GetStatsUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	statsAsString := bucketstats.SprintStats(bucketstats.StatFormatParsable1, "*", "*")
	statsAsString += fmt.Sprintf("refcntpool.ContentsTracked total:%d\n", refcntpool.ContentsTracked())

	writeBody(responseWriter, "text/plain", statsAsString)
}

func serveHTTPGetOfDocumentList(responseWriter http.ResponseWriter, request *http.Request) {
	startTime := time.Now()
	defer func() {
		globals.stats.GetDocumentListUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	writeBody(responseWriter, "application/json", utils.JSONify(globals.registry.URIs(), false))
}

// pageETag hashes the contents; equal contents give equal tags.
//
func pageETag(contents string) string {
	return fmt.Sprintf("\"%016x\"", cityhash.Hash64([]byte(contents)))
}

// awaitPage requests pageKey and waits for its contents (nil), an error
// delivered by the backend, or the timeout.
//
func awaitPage(ctx context.Context, doc *document.Document, pageKey document.PageKey) (err error) {
	waiter := globals.waiterPool.Get().(*pageWaiterStruct)
	defer waiter.Release()

	requestCtx, cancel := context.WithTimeout(ctx, globals.config.DeliveryTimeout)

	waiter.Hold()
	_ = doc.RequestPage(requestCtx, pageKey, deliverToWaiter, waiter)

	select {
	case err = <-waiter.resultChan:
	case <-requestCtx.Done():
		if context.DeadlineExceeded == requestCtx.Err() {
			globals.stats.PageTimeouts.Increment()
			err = blunder.NewError(blunder.TimedOutError, "page %v of %s not delivered within %v",
				pageKey, doc.URI(), globals.config.DeliveryTimeout)
		} else {
			err = blunder.NewError(blunder.CanceledError, "page %v of %s canceled", pageKey, doc.URI())
		}
	}

	cancel()
	globals.queue.IdleAdd(waiter.Release)

	return
}

func serveHTTPGetOfPage(responseWriter http.ResponseWriter, request *http.Request, docTypeAndURI string) {
	var (
		contents *refcntpool.Content
		doc      *document.Document
		err      error
		pageKey  document.PageKey
	)

	startTime := time.Now()
	defer func() {
		globals.stats.GetPageUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
		if nil != err {
			globals.stats.PageErrors.Increment()
		}
	}()

	docTypeAndURISplit := strings.SplitN(docTypeAndURI, "/", 2)
	if (2 != len(docTypeAndURISplit)) || ("" == docTypeAndURISplit[1]) {
		err = blunder.NewError(blunder.InvalidArgError, "expected /document/<docType>/<uri>")
		writeError(responseWriter, err)
		return
	}

	doc, err = globals.registry.GetForURI(docTypeAndURISplit[1], docTypeAndURISplit[0])
	if nil != err {
		writeError(responseWriter, err)
		return
	}

	pageKey = document.DefaultPage
	if pageParam, ok := request.URL.Query()["page"]; ok && (0 < len(pageParam)) {
		pageKey = document.Page(pageParam[0])
	}

	err = awaitPage(request.Context(), doc, pageKey)
	if nil != err {
		logger.InfofWithError(err, "GET %s page %v failed [%s]", request.URL.Path, pageKey, responseWriter.Header().Get("X-Request-Id"))
		writeError(responseWriter, err)
		return
	}

	contents = doc.ReadContents(pageKey)
	if nil == contents {
		err = blunder.NewError(blunder.NotFoundError, "page %v of %s has no contents", pageKey, doc.URI())
		writeError(responseWriter, err)
		return
	}
	defer doc.FinishRead(contents)

	eTag := pageETag(contents.String())
	responseWriter.Header().Set("ETag", eTag)

	for _, header := range []struct {
		name   string
		getter func(document.PageKey) (string, bool)
	}{
		{"X-Page-Title", doc.GetTitle},
		{"X-Page-Root", doc.GetRootID},
		{"X-Page-Prev", doc.GetPrevID},
		{"X-Page-Next", doc.GetNextID},
		{"X-Page-Up", doc.GetUpID},
	} {
		if value, ok := header.getter(pageKey); ok {
			responseWriter.Header().Set(header.name, value)
		}
	}

	if request.Header.Get("If-None-Match") == eTag {
		globals.stats.PagesNotModified.Increment()
		responseWriter.WriteHeader(http.StatusNotModified)
		return
	}

	mimeType, ok := doc.GetMimeType(pageKey)
	if !ok {
		mimeType = "application/octet-stream"
	}

	globals.stats.PagesServed.Increment()

	writeBody(responseWriter, mimeType, contents.String())
}
