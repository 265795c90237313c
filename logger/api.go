// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is currently implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package, calling function and goroutine to all logs.
//
// Logging of trace and debug logs are enabled/disabled on a per package basis
// via the Logging.TraceLevelLogging and Logging.DebugLevelLogging options.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/pagecache/utils"
)

type Level int

// Our logging levels map onto logrus levels except that TraceLevel is logged at
// logrus.InfoLevel once enabled for the calling package.
//
const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	TraceLevel
	DebugLevel
)

// Log fields supported by logger
const (
	packageKey  string = "package"
	functionKey string = "function"
	errorKey    string = "error"
	gidKey      string = "goroutine"
	pidKey      string = "pid"
)

type settingsStruct struct {
	sync.Mutex
	traceLevelEnabled bool
	debugLevelEnabled bool
	packageTrace      map[string]bool // Key: package name; only packages listed may be enabled
	packageDebug      map[string]bool // Key: package name; only packages listed may be enabled
}

var settings = settingsStruct{
	packageTrace: map[string]bool{
		"dirbackend":    false,
		"document":      false,
		"idlequeue":     false,
		"keyedstore":    false,
		"logger":        false,
		"pagecachedpkg": false,
		"refcntpool":    false,
		"trackedlock":   false,
		"transitions":   false,
	},
	packageDebug: map[string]bool{
		"dirbackend":    false,
		"document":      false,
		"idlequeue":     false,
		"logger":        false,
		"pagecachedpkg": false,
	},
}

var pid = fmt.Sprint(os.Getpid())

// setPackageLevels resets packageSettings then enables each listed package.
// "none" (or an empty list) disables the level altogether. The return
// indicates whether any package ended up enabled.
//
func setPackageLevels(packageSettings map[string]bool, confStrSlice []string) (enabled bool) {
	for pkg := range packageSettings {
		packageSettings[pkg] = false
	}

	for _, pkg := range confStrSlice {
		if "none" == pkg {
			for pkg = range packageSettings {
				packageSettings[pkg] = false
			}
			enabled = false
			return
		}
		if _, ok := packageSettings[pkg]; ok {
			packageSettings[pkg] = true
			enabled = true
		}
	}

	return
}

func setTraceLoggingLevel(confStrSlice []string) {
	settings.Lock()
	settings.traceLevelEnabled = setPackageLevels(settings.packageTrace, confStrSlice)
	settings.Unlock()
}

func setDebugLoggingLevel(confStrSlice []string) {
	settings.Lock()
	settings.debugLevelEnabled = setPackageLevels(settings.packageDebug, confStrSlice)
	settings.Unlock()
}

// EnabledPackages returns the packages with trace and debug logging enabled.
//
func EnabledPackages() (tracePackages []string, debugPackages []string) {
	settings.Lock()
	defer settings.Unlock()

	tracePackages = make([]string, 0)
	for pkg, enabled := range settings.packageTrace {
		if enabled {
			tracePackages = append(tracePackages, pkg)
		}
	}

	debugPackages = make([]string, 0)
	for pkg, enabled := range settings.packageDebug {
		if enabled {
			debugPackages = append(debugPackages, pkg)
		}
	}

	return
}

func levelEnabled(level Level, pkg string) (enabled bool) {
	switch level {
	case TraceLevel:
		settings.Lock()
		enabled = settings.traceLevelEnabled && settings.packageTrace[pkg]
		settings.Unlock()
	case DebugLevel:
		settings.Lock()
		enabled = settings.debugLevelEnabled && settings.packageDebug[pkg]
		settings.Unlock()
	default:
		enabled = true
	}

	return
}

// emit is the common low-level logging function. It must be called directly
// by one of the exported APIs so that the frame above that API is the one
// whose package and function get logged.
//
func emit(level Level, err error, format string, args ...interface{}) {
	fn, pkg, gid := utils.GetFuncPackage(2)

	if !levelEnabled(level, pkg) {
		return
	}

	fields := log.Fields{
		functionKey: fn,
		packageKey:  pkg,
		gidKey:      gid,
		pidKey:      pid,
	}
	if nil != err {
		fields[errorKey] = err
	}

	entry := log.WithFields(fields)
	message := fmt.Sprintf(format, args...)

	switch level {
	case PanicLevel:
		entry.Panic(message)
	case FatalLevel:
		entry.Fatal(message)
	case ErrorLevel:
		entry.Error(message)
	case WarnLevel:
		entry.Warn(message)
	case InfoLevel, TraceLevel:
		entry.Info(message)
	case DebugLevel:
		entry.Debug(message)
	}
}

func Tracef(format string, args ...interface{}) {
	emit(TraceLevel, nil, format, args...)
}

func Debugf(format string, args ...interface{}) {
	emit(DebugLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	emit(InfoLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	emit(WarnLevel, nil, format, args...)
}

func Errorf(format string, args ...interface{}) {
	emit(ErrorLevel, nil, format, args...)
}

// Fatalf logs and then exits the process via logrus.
func Fatalf(format string, args ...interface{}) {
	emit(FatalLevel, nil, format, args...)
}

func TracefWithError(err error, format string, args ...interface{}) {
	emit(TraceLevel, err, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	emit(InfoLevel, err, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	emit(WarnLevel, err, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	emit(ErrorLevel, err, format, args...)
}

func ErrorWithError(err error, args ...interface{}) {
	emit(ErrorLevel, err, "%s", fmt.Sprint(args...))
}

// PanicfWithError logs and then panics with the formatted message.
func PanicfWithError(err error, format string, args ...interface{}) {
	emit(PanicLevel, err, format, args...)
}

// AddLogTarget adds another destination for log messages. writer is called
// once for each log message.
//
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// LogBuffer holds the most recent log entries, most recent at [0].
//
type LogBuffer struct {
	sync.Mutex
	LogEntries   []string
	TotalEntries int
}

// LogTarget captures log entries into a LogBuffer. Useful for writing test cases.
//
type LogTarget struct {
	LogBuf *LogBuffer
}

// Init prepares logTarget to hold up to nEntry log entries.
func (logTarget *LogTarget) Init(nEntry int) {
	logTarget.LogBuf = &LogBuffer{LogEntries: make([]string, nEntry)}
}

func (logTarget LogTarget) Write(p []byte) (n int, err error) {
	logBuf := logTarget.LogBuf

	logBuf.Lock()
	defer logBuf.Unlock()

	if 0 < len(logBuf.LogEntries) {
		copy(logBuf.LogEntries[1:], logBuf.LogEntries[:len(logBuf.LogEntries)-1])
		logBuf.LogEntries[0] = strings.TrimRight(string(p), " \t\n")
	}
	logBuf.TotalEntries++

	n = len(p)
	err = nil
	return
}

// Contains reports whether any held log entry contains substr.
func (logTarget LogTarget) Contains(substr string) bool {
	logBuf := logTarget.LogBuf

	logBuf.Lock()
	defer logBuf.Unlock()

	for _, logEntry := range logBuf.LogEntries {
		if strings.Contains(logEntry, substr) {
			return true
		}
	}

	return false
}
