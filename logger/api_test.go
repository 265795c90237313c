// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/pagecache/conf"
	"github.com/NVIDIA/pagecache/utils"
)

func testNestedFunc() {
	Infof("nested %d", 3)
}

func TestAPI(t *testing.T) {
	var (
		logTarget LogTarget
	)

	assert := assert.New(t)

	logTarget.Init(10)
	AddLogTarget(logTarget)

	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogFilePath=",
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=logger",
		"Logging.DebugLevelLogging=none",
	})
	assert.Nil(err)

	err = Up(confMap)
	assert.Nil(err)

	tracePackages, debugPackages := EnabledPackages()
	assert.Equal([]string{"logger"}, tracePackages)
	assert.Equal([]string{}, debugPackages)

	Tracef("hello there!")
	assert.True(logTarget.Contains("hello there!"))
	assert.True(logTarget.Contains("function=TestAPI"))
	assert.True(logTarget.Contains("package=logger"))

	Debugf("should not appear")
	assert.False(logTarget.Contains("should not appear"))

	Warnf("%v: %v", utils.GetFnName(), "this is the warning")
	assert.True(logTarget.Contains("logger.TestAPI: this is the warning"))

	ErrorfWithError(fmt.Errorf("this is the error"), "we had an error!")
	assert.True(logTarget.Contains("we had an error!"))
	assert.True(logTarget.Contains("this is the error"))

	testNestedFunc()
	assert.True(logTarget.Contains("function=testNestedFunc"))

	assert.Panics(func() { PanicfWithError(fmt.Errorf("boom"), "panicking %s", "now") })
	assert.True(logTarget.Contains("panicking now"))

	err = confMap.UpdateFromString("Logging.TraceLevelLogging=none")
	assert.Nil(err)
	err = SignaledFinish(confMap)
	assert.Nil(err)

	entriesBefore := logTarget.LogBuf.TotalEntries
	Tracef("trace now disabled")
	assert.Equal(entriesBefore, logTarget.LogBuf.TotalEntries)

	err = Down(confMap)
	assert.Nil(err)
}
