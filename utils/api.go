// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities for pagecache.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

var (
	fnNameRE  = regexp.MustCompile(`[^\/]*$`)
	pkgNameRE = regexp.MustCompile(`^[^.]*`)
	fnOnlyRE  = regexp.MustCompile(`[^.]*$`)
)

// GetGoId returns the id of the calling goroutine.
//
// Logging the goroutine context is useful when debugging lock hold times
// and delivery ordering on the cooperative queue.
//
func GetGoId() (goId uint64) {
	var (
		buf [64]byte
	)

	goId = StackTraceToGoId(buf[:runtime.Stack(buf[:], false)])

	return
}

// StackTraceToGoId extracts the goroutine id from the header line of a
// stack trace as captured by runtime.Stack(). Zero is returned if the
// header is not recognized.
//
func StackTraceToGoId(stackTrace []byte) (goId uint64) {
	var (
		err   error
		space int
	)

	stackTrace = bytes.TrimPrefix(stackTrace, []byte("goroutine "))

	space = bytes.IndexByte(stackTrace, ' ')
	if 0 > space {
		goId = 0
		return
	}

	goId, err = strconv.ParseUint(string(stackTrace[:space]), 10, 64)
	if nil != err {
		goId = 0
	}

	return
}

// GetAFnName returns "<package>.<function>" for the caller level frames up.
func GetAFnName(level int) string {
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "unknown.unknown"
	}

	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return "unknown.unknown"
	}

	return fnNameRE.FindString(functionObject.Name())
}

// GetFuncPackage returns separate function and package names for the caller
// level frames up along with the current goroutine id.
//
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = pkgNameRE.FindString(funcPkg)
	fn = fnOnlyRE.FindString(funcPkg)
	gid = GetGoId()

	return
}

// GetFnName returns a string containing the name of the running function and its package.
func GetFnName() string {
	return GetAFnName(1)
}

type Stopwatch struct {
	StartTime   time.Time
	StopTime    time.Time
	ElapsedTime time.Duration
	IsRunning   bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

// Stop freezes the elapsed time; stopping a stopped Stopwatch is a no-op.
func (sw *Stopwatch) Stop() time.Duration {
	if sw.IsRunning {
		sw.StopTime = time.Now()
		sw.ElapsedTime = sw.StopTime.Sub(sw.StartTime)
		sw.IsRunning = false
	}

	return sw.ElapsedTime
}

func (sw *Stopwatch) Elapsed() time.Duration {
	if !sw.IsRunning {
		return sw.ElapsedTime
	}

	return time.Since(sw.StartTime)
}

func (sw *Stopwatch) ElapsedUs() uint64 {
	return uint64(sw.Elapsed() / time.Microsecond)
}

// JSONify renders input as JSON, optionally indented with tabs. Marshalling
// failures are rendered inline rather than returned.
//
func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err             error
		inputJSON       bytes.Buffer
		inputJSONPacked []byte
	)

	inputJSONPacked, err = json.Marshal(input)
	if nil != err {
		output = fmt.Sprintf("<<<json.Marshal failed: %v>>>", err)
		return
	}

	if !indentify {
		output = string(inputJSONPacked)
		return
	}

	err = json.Indent(&inputJSON, inputJSONPacked, "", "\t")
	if nil != err {
		output = fmt.Sprintf("<<<json.Indent failed: %v>>>", err)
		return
	}

	output = inputJSON.String()

	return
}
