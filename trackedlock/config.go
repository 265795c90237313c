// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/pagecache/conf"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/transitions"
)

const (
	minLockHoldTimeLimit     = 10 * time.Millisecond
	defaultLockHoldTimeLimit = 40 * time.Second
	minLockCheckPeriod       = 10 * time.Millisecond
	defaultLockCheckPeriod   = 20 * time.Second
)

func parseConfMap(confMap conf.ConfMap) (err error) {
	var (
		checkPeriod   time.Duration
		holdTimeLimit time.Duration
	)

	holdTimeLimit, err = confMap.FetchOptionValueDuration("TrackedLock", "LockHoldTimeLimit")
	if nil != err {
		logger.Warnf("config variable 'TrackedLock.LockHoldTimeLimit' defaulting to '0s': %v", err)
		holdTimeLimit = 0
	}
	if (0 != holdTimeLimit) && (minLockHoldTimeLimit > holdTimeLimit) {
		logger.Warnf("config variable 'TrackedLock.LockHoldTimeLimit' value less than %v; defaulting to '%v'", minLockHoldTimeLimit, defaultLockHoldTimeLimit)
		holdTimeLimit = defaultLockHoldTimeLimit
	}

	checkPeriod, err = confMap.FetchOptionValueDuration("TrackedLock", "LockCheckPeriod")
	if nil != err {
		logger.Warnf("config variable 'TrackedLock.LockCheckPeriod' defaulting to '0s': %v", err)
		checkPeriod = 0
	}
	if (0 != checkPeriod) && (minLockCheckPeriod > checkPeriod) {
		logger.Warnf("config variable 'TrackedLock.LockCheckPeriod' value less than %v; defaulting to '%v'", minLockCheckPeriod, defaultLockCheckPeriod)
		checkPeriod = defaultLockCheckPeriod
	}

	atomic.StoreInt64(&globals.lockHoldTimeLimit, int64(holdTimeLimit))
	atomic.StoreInt64(&globals.lockCheckPeriod, int64(checkPeriod))

	// log information upto 16 locks
	globals.lockWatcherLocksLogged = 16

	err = nil
	return
}

func init() {
	transitions.Register("trackedlock", &globals)
}

func startWatcher() {
	if (0 == lockCheckPeriod()) || (0 == lockHoldTimeLimit()) {
		return
	}

	globals.lockCheckTicker = time.NewTicker(lockCheckPeriod())
	globals.lockCheckChan = globals.lockCheckTicker.C
	go lockWatcher()
}

func stopWatcher() {
	if nil == globals.lockCheckTicker {
		return
	}

	globals.lockCheckTicker.Stop()
	globals.lockCheckTicker = nil
	globals.stopChan <- struct{}{}
	<-globals.doneChan
}

// Up initializes the package. Locks can be used before it is called but
// tracking will not start until the first Lock() call after it returns.
//
func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	err = parseConfMap(confMap)
	if nil != err {
		return
	}

	logger.Infof("trackedlock.Up(): LockHoldTimeLimit %v  LockCheckPeriod %v", lockHoldTimeLimit(), lockCheckPeriod())

	globals.mapMutex.Lock()
	globals.mutexMap = make(map[*MutexTrack]interface{}, 128)
	globals.mapMutex.Unlock()

	globals.stopChan = make(chan struct{})
	globals.doneChan = make(chan struct{})

	startWatcher()

	return
}

// SignaledStart does nothing (lock tracking is not changed until SignaledFinish())
func (dummy *globalsStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	return
}

func (dummy *globalsStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	return dummy.updateStateFromConfMap(confMap)
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	logger.Infof("trackedlock.Down() called")

	stopWatcher()

	atomic.StoreInt64(&globals.lockHoldTimeLimit, 0)
	atomic.StoreInt64(&globals.lockCheckPeriod, 0)

	globals.mapMutex.Lock()
	for mt := range globals.mutexMap {
		mt.isWatched = false
	}
	globals.mutexMap = nil
	globals.mapMutex.Unlock()

	return
}

// updateStateFromConfMap restarts the watcher if either tracking time changed.
//
func (dummy *globalsStruct) updateStateFromConfMap(confMap conf.ConfMap) (err error) {
	oldCheckPeriod := lockCheckPeriod()
	oldTimeLimit := lockHoldTimeLimit()

	err = parseConfMap(confMap)
	if nil != err {
		logger.ErrorWithError(err, "cannot parse confMap")
		return
	}

	if (lockCheckPeriod() == oldCheckPeriod) && (lockHoldTimeLimit() == oldTimeLimit) {
		return
	}

	logger.Infof("trackedlock lock hold time limit/lock check period changing from %v/%v to %v/%v",
		oldTimeLimit, oldCheckPeriod, lockHoldTimeLimit(), lockCheckPeriod())

	stopWatcher()

	if 0 == lockCheckPeriod() {
		globals.mapMutex.Lock()
		for mt := range globals.mutexMap {
			mt.isWatched = false
			delete(globals.mutexMap, mt)
		}
		globals.mapMutex.Unlock()
	}

	startWatcher()

	return
}
