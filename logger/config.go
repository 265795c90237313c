// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/pagecache/conf"
)

// multiWriter fans each log entry out to every added io.Writer.
//
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

var (
	logFile          *os.File
	logOutput        = &multiWriter{}
	logTargetWriters []io.Writer
)

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	mw.writers = append(mw.writers, writer)
	mw.Unlock()
}

func (mw *multiWriter) reset() {
	mw.Lock()
	mw.writers = nil
	mw.Unlock()
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()

	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		if nil != err {
			return
		}
	}

	n = len(p)
	err = nil
	return
}

func addLogTarget(writer io.Writer) {
	logTargetWriters = append(logTargetWriters, writer)
	logOutput.addWriter(writer)
}

// Up configures logging from the [Logging] section of confMap:
//
//   LogFilePath       - optional; appended to if present
//   LogToConsole      - optional; defaults to false unless no LogFilePath is given
//   TraceLevelLogging - optional list of packages (or "none")
//   DebugLevelLogging - optional list of packages (or "none")
//
func Up(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")

	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = false
	}

	logOutput.reset()

	if "" != logFilePath {
		logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			log.Errorf("couldn't open log file: %v", err)
			return
		}
		logOutput.addWriter(logFile)
	}

	if logToConsole || ("" == logFilePath) {
		logOutput.addWriter(os.Stderr)
	}

	for _, writer := range logTargetWriters {
		logOutput.addWriter(writer)
	}

	log.SetOutput(logOutput)

	// logrus always logs at maximum verbosity; per package enablement happens here
	log.SetLevel(log.DebugLevel)

	err = applyLevels(confMap)

	return
}

func applyLevels(confMap conf.ConfMap) (err error) {
	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	debugConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "DebugLevelLogging")
	setDebugLoggingLevel(debugConfSlice)

	tracePackages, debugPackages := EnabledPackages()
	for _, pkg := range tracePackages {
		Infof("Package %v trace logging is enabled.", pkg)
	}
	for _, pkg := range debugPackages {
		Infof("Package %v debug logging is enabled.", pkg)
	}

	err = nil
	return
}

func SignaledStart(confMap conf.ConfMap) (err error) {
	err = nil
	return
}

// SignaledFinish re-reads the trace and debug package lists.
func SignaledFinish(confMap conf.ConfMap) (err error) {
	err = applyLevels(confMap)
	return
}

func Down(confMap conf.ConfMap) (err error) {
	if nil != logFile {
		err = logFile.Close()
		logFile = nil
	}

	logOutput.reset()
	log.SetOutput(os.Stderr)

	return
}
