// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"github.com/NVIDIA/pagecache/conf"
)

// Callbacks is the interface implemented by each package desiring notification of
// configuration changes. Each such package should implement a struct with pointer
// receivers for each API listed below even when there is no interest in being
// notified of a particular condition.
//
// By calling transitions.Register() in the package's init() func, the proper order
// of registration will be ensured. Up() and SignaledFinish() are issued in the same
// order as package init() func calls have registered while SignaledStart() and
// Down() are issued in the reverse order.
//
type Callbacks interface {
	Up(confMap conf.ConfMap) (err error)
	SignaledStart(confMap conf.ConfMap) (err error)
	SignaledFinish(confMap conf.ConfMap) (err error)
	Down(confMap conf.ConfMap) (err error)
}

// Register should be called from a package's init() func should the package be interested
// in the callbacks listed above. As an example, consider the following:
//
//   package foo
//
//   type globalsStruct struct {
//       ...
//   }
//
//   var globals globalsStruct
//
//   func init() {
//       transitions.Register("foo", &globals)
//   }
//
//   func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
//       // Perform start-up initialization derived from confMap
//       return
//   }
//
//   ...
//
// Package logger is registered automatically (and first) by package transitions.
//
func Register(packageName string, callbacks Callbacks) {
	register(packageName, callbacks)
}

// Up should be called at startup by the main() (or setup func) of each program. Up()
// callbacks are issued in registration order followed by SignaledFinish() callbacks
// in registration order.
//
func Up(confMap conf.ConfMap) (err error) {
	return up(confMap)
}

// Signaled should be called during execution of a signal handler for e.g. SIGHUP.
// SignaledStart() callbacks are issued in reverse registration order followed by
// SignaledFinish() callbacks in registration order.
//
func Signaled(confMap conf.ConfMap) (err error) {
	return signaled(confMap)
}

// Down should be called just before shutdown. SignaledStart() callbacks followed by
// Down() callbacks are issued in reverse registration order ending with package logger.
//
func Down(confMap conf.ConfMap) (err error) {
	return down(confMap)
}

// Registered returns the registered package names in registration order.
//
func Registered() (packageNames []string) {
	return registered()
}
