// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package idlequeue

import (
	"github.com/NVIDIA/pagecache/bucketstats"
	"github.com/NVIDIA/pagecache/logger"
	"github.com/NVIDIA/pagecache/utils"
)

type queueStatsStruct struct {
	TasksAdded  bucketstats.Total
	TasksRun    bucketstats.Total
	TaskRunTime bucketstats.BucketLog2Round // in microseconds
}

func (queue *Queue) idleAdd(task func()) {
	queue.Lock()
	queue.tasks.PushBack(task)
	queue.Unlock()

	queue.stats.TasksAdded.Increment()

	select {
	case queue.wakeChan <- struct{}{}:
	default:
	}
}

func (queue *Queue) iterate() (ranTask bool) {
	queue.drainMutex.Lock()
	defer queue.drainMutex.Unlock()

	queue.Lock()
	element := queue.tasks.Front()
	if nil == element {
		queue.Unlock()
		ranTask = false
		return
	}
	queue.tasks.Remove(element)
	queue.Unlock()

	stopwatch := utils.NewStopwatch()
	element.Value.(func())()
	stopwatch.Stop()
	queue.stats.TaskRunTime.Add(stopwatch.ElapsedUs())
	queue.stats.TasksRun.Increment()

	ranTask = true
	return
}

func (queue *Queue) start() {
	queue.Lock()
	if queue.running {
		queue.Unlock()
		logger.Warnf("idlequeue: Start() called on a running queue")
		return
	}
	queue.running = true
	queue.stopChan = make(chan struct{})
	queue.wg.Add(1)
	queue.Unlock()

	go queue.daemon(queue.stopChan)
}

func (queue *Queue) stop() {
	queue.Lock()
	if !queue.running {
		queue.Unlock()
		return
	}
	queue.running = false
	close(queue.stopChan)
	queue.Unlock()

	queue.wg.Wait()
}

func (queue *Queue) daemon(stopChan chan struct{}) {
	defer queue.wg.Done()

	logger.Tracef("idlequeue: daemon started")

	for {
		for {
			select {
			case <-stopChan:
				logger.Tracef("idlequeue: daemon stopped")
				return
			default:
			}
			if !queue.iterate() {
				break
			}
		}

		select {
		case <-stopChan:
			logger.Tracef("idlequeue: daemon stopped")
			return
		case <-queue.wakeChan:
		}
	}
}
