// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package pagecachedpkg

import (
	"time"

	"github.com/NVIDIA/pagecache/conf"
	"github.com/NVIDIA/pagecache/dirbackend"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/transitions"
)

const (
	defaultDeliveryTimeout          = 10 * time.Second
	defaultHTTPServerMaxConnections = 128
)

func start(confMap conf.ConfMap) (err error) {
	err = transitions.Up(confMap)
	if nil != err {
		return
	}

	err = initializeGlobals(confMap)
	if nil != err {
		_ = transitions.Down(confMap)
		return
	}

	globals.registry.RegisterBackend(dirbackend.DocType, dirbackend.NewBackendFunc(globals.config.DocumentRoot))

	globals.queue.Start()

	err = startHTTPServer()
	if nil != err {
		globals.queue.Stop()
		_ = uninitializeGlobals()
		_ = transitions.Down(confMap)
		return
	}

	logger.Infof("pagecachedpkg: serving %s", globals.config.DocumentRoot)

	return
}

func stop() (err error) {
	var (
		confMap conf.ConfMap
	)

	err = stopHTTPServer()
	if nil != err {
		return
	}

	globals.registry.Close()
	globals.queue.Stop()

	confMap = globals.confMap

	err = uninitializeGlobals()
	if nil != err {
		return
	}

	err = transitions.Down(confMap)

	return
}

func signal() (err error) {
	logger.Infof("pagecachedpkg: received signal")

	err = transitions.Signaled(globals.confMap)

	return
}
