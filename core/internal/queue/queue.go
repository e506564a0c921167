// Copyright (c) 2021 Andy Pan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides the lock-free MPSC queue the poller uses to
// shuttle deferred callbacks (async writes, urgent shutdown triggers) into
// the event-loop goroutine.
package queue

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// TaskFunc is a deferred callback run on the event-loop goroutine.
type TaskFunc func(arg interface{}) error

// Task wraps a TaskFunc with its argument for queueing.
type Task struct {
	Run  TaskFunc
	Arg  interface{}
	next unsafe.Pointer
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask retrieves a Task from the pool.
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask returns a Task to the pool.
func PutTask(t *Task) {
	t.Run, t.Arg, t.next = nil, nil, nil
	taskPool.Put(t)
}

// AsyncTaskQueue is a multi-producer, single-consumer queue of deferred
// callbacks.
type AsyncTaskQueue interface {
	Enqueue(*Task)
	Dequeue() *Task
	IsEmpty() bool
}

type lockFreeQueue struct {
	head unsafe.Pointer
	tail unsafe.Pointer
}

// NewLockFreeQueue returns a Michael-Scott lock-free queue.
func NewLockFreeQueue() AsyncTaskQueue {
	stub := unsafe.Pointer(new(Task))
	return &lockFreeQueue{head: stub, tail: stub}
}

func (q *lockFreeQueue) Enqueue(task *Task) {
	task.next = nil
	for {
		tail := atomic.LoadPointer(&q.tail)
		tailTask := (*Task)(tail)
		next := atomic.LoadPointer(&tailTask.next)
		if tail == atomic.LoadPointer(&q.tail) {
			if next == nil {
				if atomic.CompareAndSwapPointer(&tailTask.next, next, unsafe.Pointer(task)) {
					atomic.CompareAndSwapPointer(&q.tail, tail, unsafe.Pointer(task))
					return
				}
			} else {
				atomic.CompareAndSwapPointer(&q.tail, tail, next)
			}
		}
	}
}

func (q *lockFreeQueue) Dequeue() *Task {
	for {
		head := atomic.LoadPointer(&q.head)
		tail := atomic.LoadPointer(&q.tail)
		headTask := (*Task)(head)
		next := atomic.LoadPointer(&headTask.next)
		if head == atomic.LoadPointer(&q.head) {
			if head == tail {
				if next == nil {
					return nil
				}
				atomic.CompareAndSwapPointer(&q.tail, tail, next)
			} else {
				task := (*Task)(next)
				if atomic.CompareAndSwapPointer(&q.head, head, next) {
					return task
				}
			}
		}
	}
}

func (q *lockFreeQueue) IsEmpty() bool {
	head := atomic.LoadPointer(&q.head)
	tail := atomic.LoadPointer(&q.tail)
	return head == tail
}
