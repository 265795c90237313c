// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/utils"
)

type globalsStruct struct {
	mapMutex               sync.Mutex                  // protects mutexMap
	mutexMap               map[*MutexTrack]interface{} // the locks being watched
	lockHoldTimeLimit      int64                       // (atomic time.Duration) locks held longer then this get logged
	lockCheckPeriod        int64                       // (atomic time.Duration) check locks once each period
	lockWatcherLocksLogged int                         // max overlimit locks logged by lockWatcher()
	lockCheckChan          <-chan time.Time            // wait here to check on locks
	stopChan               chan struct{}               // time to shutdown and go home
	doneChan               chan struct{}               // shutdown complete
	lockCheckTicker        *time.Ticker                // ticker for lock check time
}

var globals globalsStruct

// stackTraceBuf is the storage required to hold one stack trace. We keep a
// pool of them around.
//
type stackTraceBuf [4040]byte

type stackTraceObj struct {
	stackTrace    []byte        // stack trace of current or last locker
	stackTraceBuf stackTraceBuf // storage for stack trace slice
}

var stackTraceObjPool = sync.Pool{
	New: func() interface{} {
		return &stackTraceObj{}
	},
}

// MutexTrack holds the tracking state of one Mutex.
//
type MutexTrack struct {
	locked     int32          // (atomic) 1 while locked
	lockTime   int64          // (atomic) UnixNano of the last lock operation
	isWatched  bool           // true if lock is in globals.mutexMap (protected by globals.mapMutex)
	stackLock  sync.Mutex     // protects lockerGoId and lockStack
	lockerGoId uint64         // goroutine ID of the last locker
	lockStack  *stackTraceObj // stack trace when object was last locked
}

func lockHoldTimeLimit() time.Duration {
	return time.Duration(atomic.LoadInt64(&globals.lockHoldTimeLimit))
}

func lockCheckPeriod() time.Duration {
	return time.Duration(atomic.LoadInt64(&globals.lockCheckPeriod))
}

func (mt *MutexTrack) isLocked() bool {
	return 1 == atomic.LoadInt32(&mt.locked)
}

func (mt *MutexTrack) lockedAt() time.Time {
	return time.Unix(0, atomic.LoadInt64(&mt.lockTime))
}

// Called with the wrapped lock held.
//
func (mt *MutexTrack) lockTrack(wrappedLock interface{}) {
	var (
		lockStack *stackTraceObj
	)

	atomic.StoreInt64(&mt.lockTime, time.Now().UnixNano())
	atomic.StoreInt32(&mt.locked, 1)

	if 0 == lockHoldTimeLimit() {
		return
	}

	lockStack = stackTraceObjPool.Get().(*stackTraceObj)
	lockStack.stackTrace = lockStack.stackTraceBuf[:runtime.Stack(lockStack.stackTraceBuf[:], false)]

	mt.stackLock.Lock()
	mt.lockStack = lockStack
	mt.lockerGoId = utils.StackTraceToGoId(lockStack.stackTrace)
	mt.stackLock.Unlock()

	// add to the list of watched mutexes if anybody is watching

	if 0 != lockCheckPeriod() {
		globals.mapMutex.Lock()
		if !mt.isWatched && (nil != globals.mutexMap) {
			globals.mutexMap[mt] = wrappedLock
			mt.isWatched = true
		}
		globals.mapMutex.Unlock()
	}
}

// Called with the wrapped lock held.
//
func (mt *MutexTrack) unlockTrack(wrappedLock interface{}) {
	var (
		buf      stackTraceBuf
		held     time.Duration
		lockStr  string
		limit    time.Duration
		unlockSt []byte
	)

	limit = lockHoldTimeLimit()

	if 0 != limit {
		held = time.Since(mt.lockedAt())
		if held >= limit {
			unlockSt = buf[:runtime.Stack(buf[:], false)]

			// lockTime is recorded even if tracking was disabled at Lock() time
			// so lockStack may not have been captured

			lockStr = "goroutine 9999 [unknown]\nlocked before lock tracking enabled\n"
			mt.stackLock.Lock()
			if nil != mt.lockStack {
				lockStr = string(mt.lockStack.stackTrace)
			}
			mt.stackLock.Unlock()

			logger.Warnf("Unlock(): %T at %p locked for %f sec; stack at call to Lock():\n%s stack at Unlock():\n%s",
				wrappedLock, wrappedLock, float64(held)/float64(time.Second), lockStr, string(unlockSt))
		}
	}

	atomic.StoreInt32(&mt.locked, 0)

	mt.stackLock.Lock()
	if nil != mt.lockStack {
		stackTraceObjPool.Put(mt.lockStack)
		mt.lockStack = nil
	}
	mt.stackLock.Unlock()
}

// information about a lock that is held too long
type longLockHolder struct {
	lockPtr      interface{} // pointer to the actual lock
	lockTime     time.Time   // time last lock operation completed
	lockerGoId   uint64      // goroutine ID of the last locker
	lockStackStr string      // stack trace when the object was locked
}

// recordLongLockHolder adds newHolder to longLockHolders (sorted from longest
// to shortest held, at most globals.lockWatcherLocksLogged entries), potentially
// discarding the lock that has been held least long.
//
func recordLongLockHolder(longLockHolders []*longLockHolder, newHolder *longLockHolder) []*longLockHolder {
	if len(longLockHolders) < globals.lockWatcherLocksLogged {
		longLockHolders = append(longLockHolders, newHolder)
	} else {
		longLockHolders[len(longLockHolders)-1] = newHolder
	}

	for i := len(longLockHolders) - 2; i >= 0; i-- {
		if longLockHolders[i].lockTime.Before(longLockHolders[i+1].lockTime) {
			break
		}
		longLockHolders[i], longLockHolders[i+1] = longLockHolders[i+1], longLockHolders[i]
	}

	return longLockHolders
}

// checkLocks returns the watched locks held longer than the limit. Locks idle
// for a whole lockCheckPeriod stop being watched.
//
func checkLocks(now time.Time) (longLockHolders []*longLockHolder) {
	var (
		limit           = lockHoldTimeLimit()
		longestDuration = limit
		period          = lockCheckPeriod()
	)

	longLockHolders = make([]*longLockHolder, 0)

	globals.mapMutex.Lock()
	defer globals.mapMutex.Unlock()

	for mt, lockPtr := range globals.mutexMap {
		lockedDuration := now.Sub(mt.lockedAt())

		if !mt.isLocked() {
			if lockedDuration >= period {
				mt.isWatched = false
				delete(globals.mutexMap, mt)
			}
			continue
		}

		if lockedDuration <= longestDuration {
			continue
		}

		longHolder := &longLockHolder{
			lockPtr:  lockPtr,
			lockTime: mt.lockedAt(),
		}

		mt.stackLock.Lock()
		longHolder.lockerGoId = mt.lockerGoId
		if nil != mt.lockStack {
			longHolder.lockStackStr = string(mt.lockStack.stackTrace)
		}
		mt.stackLock.Unlock()

		longLockHolders = recordLongLockHolder(longLockHolders, longHolder)

		if len(longLockHolders) == globals.lockWatcherLocksLogged {
			longestDuration = lockedDuration
		}
	}

	return
}

// lockWatcher periodically checks for locks that have been held too long.
//
func lockWatcher() {
	for shutdown := false; !shutdown; {
		select {
		case <-globals.stopChan:
			shutdown = true
			logger.Infof("trackedlock lock watcher shutting down")
			// fall through and perform one last check
		case <-globals.lockCheckChan:
		}

		now := time.Now()

		for rank, longHolder := range checkLocks(now) {
			logger.Warnf("trackedlock watcher: %T at %p locked for %f sec rank %d by goroutine %d; stack at call to Lock():\n%s",
				longHolder.lockPtr, longHolder.lockPtr,
				float64(now.Sub(longHolder.lockTime))/float64(time.Second), rank,
				longHolder.lockerGoId, longHolder.lockStackStr)
		}
	}

	globals.doneChan <- struct{}{}
}
