// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"sync"
)

/*

 * The trackedlock package provides an implementation of the sync.Mutex
 * interface that adds lock hold tracking. Every document guards its page
 * stores and request lists with one of these.
 *
 * Specifically, if lock tracking is enabled, the trackedlock package checks
 * the lock hold time. When a lock is unlocked, if it was held longer than
 * "LockHoldTimeLimit" then a warning is logged along with the stack trace of
 * the Lock() and Unlock() of the lock. In addition, a daemon, the trackedlock
 * watcher, periodically checks to see if any lock has been locked too long.
 * When a lock is held too long, the daemon logs the goroutine ID and the stack
 * trace of the goroutine that acquired the lock.
 *
 * The config variable "TrackedLock.LockHoldTimeLimit" is the hold time that
 * triggers warning messages being logged. If it is 0 then locks are not
 * tracked and the overhead of this package is minimal.
 *
 * The config variable "TrackedLock.LockCheckPeriod" is how often the daemon
 * checks tracked locks. If it is 0 then no daemon is created and lock hold
 * time is checked only when the lock is unlocked.
 *
 * trackedlock locks can be locked before this package is initialized, but they
 * will not be tracked until the first time they are locked after
 * initialization.
 */

// The Mutex type that we export, which wraps sync.Mutex to add tracking of lock
// hold time and the stack trace of the locker.
//
type Mutex struct {
	wrappedMutex sync.Mutex // the actual Mutex
	tracker      MutexTrack // tracking information for the Mutex
}

func (m *Mutex) Lock() {
	m.wrappedMutex.Lock()

	m.tracker.lockTrack(m)
}

func (m *Mutex) Unlock() {
	m.tracker.unlockTrack(m)

	m.wrappedMutex.Unlock()
}

// IsLocked reports whether m is currently held. It is only advisory as the
// answer may change as soon as it is returned.
//
func (m *Mutex) IsLocked() bool {
	return m.tracker.isLocked()
}
