// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/NVIDIA/pagecache/conf"
	"github.com/NVIDIA/pagecache/logger"
)

type loggerCallbacksInterfaceStruct struct {
}

var loggerCallbacksInterface loggerCallbacksInterfaceStruct

type registrationItemStruct struct {
	packageName string
	callbacks   Callbacks
}

type globalsStruct struct {
	sync.Mutex                                          // Protects insertions into registration{List|Set}
	registrationList *list.List                         //   during the init() phase
	registrationSet  map[string]*registrationItemStruct // Key: registrationItemStruct.packageName
}

var globals globalsStruct

func init() {
	globals.Lock()
	globals.registrationList = list.New()
	globals.registrationSet = make(map[string]*registrationItemStruct)
	globals.Unlock()

	Register("logger", &loggerCallbacksInterface)
}

func register(packageName string, callbacks Callbacks) {
	var (
		alreadyRegistered bool
		registrationItem  *registrationItemStruct
	)

	globals.Lock()
	_, alreadyRegistered = globals.registrationSet[packageName]
	if alreadyRegistered {
		globals.Unlock()
		logger.Fatalf("transitions.Register(%s,) called twice", packageName)
		return
	}
	registrationItem = &registrationItemStruct{packageName, callbacks}
	_ = globals.registrationList.PushBack(registrationItem)
	globals.registrationSet[packageName] = registrationItem
	globals.Unlock()
}

func registered() (packageNames []string) {
	globals.Lock()
	defer globals.Unlock()

	packageNames = make([]string, 0, globals.registrationList.Len())

	for registrationListElement := globals.registrationList.Front(); nil != registrationListElement; registrationListElement = registrationListElement.Next() {
		packageNames = append(packageNames, registrationListElement.Value.(*registrationItemStruct).packageName)
	}

	return
}

// issue calls callbackName on each registered package, Front() to Back() if
// forward is set otherwise Back() to Front(), stopping at the first failure.
//
func issue(apiName string, callbackName string, forward bool, confMap conf.ConfMap, callback func(callbacks Callbacks) (err error)) (err error) {
	var (
		registrationItem        *registrationItemStruct
		registrationListElement *list.Element
	)

	if forward {
		registrationListElement = globals.registrationList.Front()
	} else {
		registrationListElement = globals.registrationList.Back()
	}

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions.%s() calling %s.%s()", apiName, registrationItem.packageName, callbackName)
		err = callback(registrationItem.callbacks)
		if nil != err {
			logger.Errorf("transitions.%s() call to %s.%s() failed: %v", apiName, registrationItem.packageName, callbackName, err)
			err = fmt.Errorf("%s.%s() failed: %v", registrationItem.packageName, callbackName, err)
			return
		}
		if forward {
			registrationListElement = registrationListElement.Next()
		} else {
			registrationListElement = registrationListElement.Prev()
		}
	}

	err = nil
	return
}

func up(confMap conf.ConfMap) (err error) {
	defer func() {
		if nil == err {
			logger.Infof("transitions.Up() returning successfully")
		} else {
			// On the relatively good likelihood that at least logger.Up() worked...
			logger.Errorf("transitions.Up() returning with failure: %v", err)
		}
	}()

	err = issue("Up", "Up", true, confMap, func(callbacks Callbacks) error { return callbacks.Up(confMap) })
	if nil != err {
		return
	}

	logger.Infof("Transitions Package Registration List: %v", registered())

	err = issue("Up", "SignaledFinish", true, confMap, func(callbacks Callbacks) error { return callbacks.SignaledFinish(confMap) })

	return
}

func signaled(confMap conf.ConfMap) (err error) {
	logger.Infof("transitions.Signaled() called")
	defer func() {
		if nil == err {
			logger.Infof("transitions.Signaled() returning successfully")
		} else {
			logger.Errorf("transitions.Signaled() returning with failure: %v", err)
		}
	}()

	err = issue("Signaled", "SignaledStart", false, confMap, func(callbacks Callbacks) error { return callbacks.SignaledStart(confMap) })
	if nil != err {
		return
	}

	err = issue("Signaled", "SignaledFinish", true, confMap, func(callbacks Callbacks) error { return callbacks.SignaledFinish(confMap) })

	return
}

func down(confMap conf.ConfMap) (err error) {
	logger.Infof("transitions.Down() called")
	defer func() {
		if nil != err {
			// On the relatively good likelihood that the failure occurred before calling logger.Down()...
			logger.Errorf("transitions.Down() returning with failure: %v", err)
		}
	}()

	err = issue("Down", "SignaledStart", false, confMap, func(callbacks Callbacks) error { return callbacks.SignaledStart(confMap) })
	if nil != err {
		return
	}

	err = issue("Down", "Down", false, confMap, func(callbacks Callbacks) error { return callbacks.Down(confMap) })

	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Up(confMap conf.ConfMap) (err error) {
	return logger.Up(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	return logger.SignaledStart(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	return logger.SignaledFinish(confMap)
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Down(confMap conf.ConfMap) (err error) {
	return logger.Down(confMap)
}
