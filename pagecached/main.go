// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program pagecached serves cached documents over HTTP.
//
// Usage:
//
//   pagecached <conf file> [<Section>.<Option>=<value> ...]
//
// Trailing arguments override values read from the conf file. SIGHUP re-reads
// log settings; SIGINT or SIGTERM stops the server.
//
package main

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pagecache/conf"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/pagecached/pagecachedpkg"
)

func loadConfMap(args []string) (confMap conf.ConfMap, err error) {
	if 0 == len(args) {
		err = fmt.Errorf("no .conf file specified")
		return
	}

	confMap, err = conf.MakeConfMapFromFile(args[0])
	if nil != err {
		err = fmt.Errorf("failed to load %s: %v", args[0], err)
		return
	}

	err = confMap.UpdateFromStrings(args[1:])
	if nil != err {
		err = fmt.Errorf("failed to apply config overrides: %v", err)
	}

	return
}

// serveUntilStopped blocks until SIGINT or SIGTERM, passing each SIGHUP on to
// pagecachedpkg.Signal().
//
func serveUntilStopped() {
	// buffered so a signal arriving before the first receive is not lost
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
	defer signal.Stop(signalChan)

	for signalReceived := range signalChan {
		if unix.SIGHUP != signalReceived {
			logger.Infof("pagecached: received %v", signalReceived)
			return
		}

		err := pagecachedpkg.Signal()
		if nil != err {
			logger.WarnfWithError(err, "pagecachedpkg.Signal() failed")
		}
	}
}

func main() {
	confMap, err := loadConfMap(os.Args[1:])
	if nil != err {
		fmt.Fprintf(os.Stderr, "pagecached: %v\n", err)
		os.Exit(1)
	}

	err = pagecachedpkg.Start(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "pagecachedpkg.Start() failed: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("pagecached: UP")

	serveUntilStopped()

	logger.Infof("pagecached: DOWN")

	err = pagecachedpkg.Stop()
	if nil != err {
		fmt.Fprintf(os.Stderr, "pagecachedpkg.Stop() failed: %v\n", err)
		os.Exit(1)
	}
}
