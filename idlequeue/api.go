// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package idlequeue provides the cooperative single-threaded task queue on
// which page deliveries run.
//
// Tasks are added from any goroutine with IdleAdd() and run one at a time, in
// the order they were added, by whichever goroutine drains the queue: either
// the goroutine launched by Start() or a caller of Iterate()/RunPending().
// IdleAdd() never runs a task itself.
//
package idlequeue

import (
	"container/list"
	"sync"

	"github.com/NVIDIA/pagecache/bucketstats"
	"github.com/NVIDIA/pagecache/trackedlock"
)

// Queue is a FIFO of tasks. Create it with New().
//
type Queue struct {
	trackedlock.Mutex
	tasks      *list.List // of func()
	drainMutex sync.Mutex // held while a task runs
	wakeChan   chan struct{}
	stopChan   chan struct{}
	running    bool
	wg         sync.WaitGroup
	stats      queueStatsStruct
}

func New() (queue *Queue) {
	queue = &Queue{
		tasks:    list.New(),
		wakeChan: make(chan struct{}, 1),
	}
	return
}

// IdleAdd appends task to the queue.
func (queue *Queue) IdleAdd(task func()) {
	queue.idleAdd(task)
}

// Iterate runs the oldest queued task, if any, and reports whether it ran one.
// It must not be called from within a task.
//
func (queue *Queue) Iterate() (ranTask bool) {
	return queue.iterate()
}

// RunPending runs tasks until the queue is empty, including tasks added while
// it runs, and returns the number run. It must not be called from within a task.
//
func (queue *Queue) RunPending() (numRun int) {
	for queue.iterate() {
		numRun++
	}
	return
}

func (queue *Queue) Pending() (numTasks int) {
	queue.Lock()
	numTasks = queue.tasks.Len()
	queue.Unlock()
	return
}

// Start launches a goroutine that drains the queue until Stop() is called.
//
func (queue *Queue) Start() {
	queue.start()
}

// Stop halts the goroutine started by Start() once its current task returns.
// Tasks still queued remain queued.
//
func (queue *Queue) Stop() {
	queue.stop()
}

// RegisterStats publishes the queue's counters with bucketstats under package
// "idlequeue" and the given group name.
//
func (queue *Queue) RegisterStats(statsGroupName string) {
	bucketstats.Register("idlequeue", statsGroupName, &queue.stats)
}

func (queue *Queue) UnRegisterStats(statsGroupName string) {
	bucketstats.UnRegister("idlequeue", statsGroupName)
}
