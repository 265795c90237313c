// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package pagecachedpkg

import (
	"net/http"
	"sync"
	"time"

	"github.com/NVIDIA/pagecache/bucketstats"
	"github.com/NVIDIA/pagecache/conf"
	"github.com/NVIDIA/pagecache/document"
	"github.com/NVIDIA/pagecache/idlequeue"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/refcntpool"
	"github.com/NVIDIA/pagecache/utils"
)

type configStruct struct {
	PrivateIPAddr            string
	HTTPServerPort           uint16 // To be served only on PrivateIPAddr via TCP
	HTTPServerMaxConnections uint32 // 0 means unlimited
	DocumentRoot             string
	DeliveryTimeout          time.Duration
}

type statsStruct struct {
	GetConfigUsecs       bucketstats.BucketLog2Round // GET /config
	GetStatsUsecs        bucketstats.BucketLog2Round // GET /stats
	GetDocumentListUsecs bucketstats.BucketLog2Round // GET /document
	GetPageUsecs         bucketstats.BucketLog2Round // GET /document/<docType>/<uri>

	PagesServed      bucketstats.Total
	PagesNotModified bucketstats.Total
	PageErrors       bucketstats.Total
	PageTimeouts     bucketstats.Total
}

type globalsStruct struct {
	sync.Mutex                              //
	config       configStruct               //
	confMap      conf.ConfMap               // kept for transitions.Signaled()
	queue        *idlequeue.Queue           // all page deliveries run here
	registry     *document.Registry         //
	waiterPool   *refcntpool.RefCntItemPool // of *pageWaiterStruct
	httpServer   *http.Server               //
	httpServerWG sync.WaitGroup             //
	stats        *statsStruct               //
}

var globals globalsStruct

func initializeGlobals(confMap conf.ConfMap) (err error) {
	globals.confMap = confMap

	globals.config.PrivateIPAddr, err = confMap.FetchOptionValueString("PageCache", "PrivateIPAddr")
	if nil != err {
		logger.ErrorfWithError(err, "[PageCache]PrivateIPAddr missing")
		return
	}
	globals.config.HTTPServerPort, err = confMap.FetchOptionValueUint16("PageCache", "HTTPServerPort")
	if nil != err {
		logger.ErrorfWithError(err, "[PageCache]HTTPServerPort missing or invalid")
		return
	}
	globals.config.HTTPServerMaxConnections, err = confMap.FetchOptionValueUint32("PageCache", "HTTPServerMaxConnections")
	if nil != err {
		logger.Warnf("config variable 'PageCache.HTTPServerMaxConnections' defaulting to '%v': %v", defaultHTTPServerMaxConnections, err)
		globals.config.HTTPServerMaxConnections = defaultHTTPServerMaxConnections
	}
	globals.config.DocumentRoot, err = confMap.FetchOptionValueString("PageCache", "DocumentRoot")
	if nil != err {
		logger.ErrorfWithError(err, "[PageCache]DocumentRoot missing")
		return
	}
	globals.config.DeliveryTimeout, err = confMap.FetchOptionValueDuration("PageCache", "DeliveryTimeout")
	if nil != err {
		logger.Warnf("config variable 'PageCache.DeliveryTimeout' defaulting to '%v': %v", defaultDeliveryTimeout, err)
		globals.config.DeliveryTimeout = defaultDeliveryTimeout
	}

	logger.Infof("pagecachedpkg: config %s", utils.JSONify(globals.config, false))

	globals.queue = idlequeue.New()
	globals.queue.RegisterStats("pagecached")

	globals.registry = document.NewRegistry(globals.queue)

	globals.waiterPool = &refcntpool.RefCntItemPool{
		New: func() interface{} {
			return &pageWaiterStruct{resultChan: make(chan error, 1)}
		},
		Reset: func(item interface{}) {
			item.(*pageWaiterStruct).reset()
		},
	}

	globals.stats = &statsStruct{}
	bucketstats.Register("pagecached", "", globals.stats)

	err = nil
	return
}

func uninitializeGlobals() (err error) {
	bucketstats.UnRegister("pagecached", "")
	globals.queue.UnRegisterStats("pagecached")

	globals.config = configStruct{}
	globals.confMap = nil
	globals.queue = nil
	globals.registry = nil
	globals.waiterPool = nil
	globals.httpServer = nil
	globals.stats = nil

	err = nil
	return
}
