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

//go:build (freebsd || dragonfly || darwin) && !poll_opt
// +build freebsd dragonfly darwin
// +build !poll_opt

package netpoll

import (
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"rcproxy/core/internal/queue"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"
)

// IOEvent is the kqueue filter delivered per ready file-descriptor.
type IOEvent = int16

const (
	// EVFilterSock fires for a peer EOF or socket error.
	EVFilterSock int16 = -0xd
	// EVFilterWrite is unix.EVFILT_WRITE.
	EVFilterWrite = unix.EVFILT_WRITE
	// EVFilterRead is unix.EVFILT_READ.
	EVFilterRead = unix.EVFILT_READ
)

// Poller wraps a kqueue instance plus the user-event note used to wake it
// for deferred async tasks.
type Poller struct {
	fd                   int
	wakeupCall           int32
	asyncTaskQueue       queue.AsyncTaskQueue
	urgentAsyncTaskQueue queue.AsyncTaskQueue
}

// OpenPoller instantiates a poller backed by kqueue.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.Kqueue(); err != nil {
		poller = nil
		err = os.NewSyscallError("kqueue", err)
		return
	}
	if _, err = unix.Kevent(poller.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = poller.Close()
		poller = nil
		err = os.NewSyscallError("kevent add|clear", err)
		return
	}
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

var wakeupNote = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

func (p *Poller) wakeup() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		_, err := unix.Kevent(p.fd, wakeupNote, nil, nil)
		if err == unix.EAGAIN {
			err = nil
		}
		return os.NewSyscallError("kevent trigger", err)
	}
	return nil
}

// UrgentTrigger enqueues fn onto the high-priority queue and wakes the
// poller so it runs before the next round of I/O events.
func (p *Poller) UrgentTrigger(fn queue.TaskFunc, arg interface{}) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	p.urgentAsyncTaskQueue.Enqueue(task)
	return p.wakeup()
}

// Trigger enqueues fn onto the low-priority queue.
func (p *Poller) Trigger(fn queue.TaskFunc, arg interface{}) error {
	task := queue.GetTask()
	task.Run, task.Arg = fn, arg
	p.asyncTaskQueue.Enqueue(task)
	return p.wakeup()
}

// Polling blocks the current goroutine, dispatching ready I/O events to
// callback and running trick/msgTimeout once per wakeup.
func (p *Poller) Polling(callback PollEventHandler, trick func(), msgTimeout func()) error {
	el := newEventList(InitPollEventsCap)

	var doChores bool
	for {
		trick()

		n, err := unix.Kevent(p.fd, nil, el.events, &unix.Timespec{Sec: 0, Nsec: int64(200 * time.Millisecond)})
		if n == 0 || (n < 0 && err == unix.EINTR) {
			runtime.Gosched()
			msgTimeout()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in kqueue: %v", os.NewSyscallError("kevent wait", err))
			return err
		}

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if ev.Ident == 0 && ev.Filter == unix.EVFILT_USER {
				doChores = true
				continue
			}
			filter := ev.Filter
			if ev.Flags&unix.EV_EOF != 0 || ev.Flags&unix.EV_ERROR != 0 {
				filter = EVFilterSock
			}
			switch err = callback(int(ev.Ident), filter); err {
			case nil:
			case errors.ErrAcceptSocket, errors.ErrEngineShutdown:
				return err
			default:
				logging.Warnf("error occurs in event-loop: %v", err)
			}
		}

		if doChores {
			doChores = false
			task := p.urgentAsyncTaskQueue.Dequeue()
			for ; task != nil; task = p.urgentAsyncTaskQueue.Dequeue() {
				switch err = task.Run(task.Arg); err {
				case nil:
				case errors.ErrEngineShutdown:
					return err
				default:
					logging.Warnf("error occurs in user-defined function, %v", err)
				}
				queue.PutTask(task)
			}
			for i := 0; i < MaxAsyncTasksAtOneTime; i++ {
				if task = p.asyncTaskQueue.Dequeue(); task == nil {
					break
				}
				switch err = task.Run(task.Arg); err {
				case nil:
				case errors.ErrEngineShutdown:
					return err
				default:
					logging.Warnf("error occurs in user-defined function, %v", err)
				}
				queue.PutTask(task)
			}
			atomic.StoreInt32(&p.wakeupCall, 0)
			if !p.asyncTaskQueue.IsEmpty() || !p.urgentAsyncTaskQueue.IsEmpty() {
				_ = p.wakeup()
			}
		}

		if n == el.size {
			el.expand()
		} else if n < el.size>>1 {
			el.shrink()
		}
		msgTimeout()
	}
}

func (p *Poller) addOrMod(pa *PollAttachment, flags uint16, filter int16) error {
	var ev unix.Kevent_t
	ev.Ident = uint64(pa.FD)
	ev.Flags = flags
	ev.Filter = filter
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent", err)
}

// AddReadWrite registers the given file-descriptor for both read and write
// readiness.
func (p *Poller) AddReadWrite(pa *PollAttachment) error {
	if err := p.addOrMod(pa, unix.EV_ADD, unix.EVFILT_READ); err != nil {
		return err
	}
	return p.addOrMod(pa, unix.EV_ADD, unix.EVFILT_WRITE)
}

// AddRead registers the given file-descriptor for read readiness.
func (p *Poller) AddRead(pa *PollAttachment) error {
	return p.addOrMod(pa, unix.EV_ADD, unix.EVFILT_READ)
}

// AddWrite registers the given file-descriptor for write readiness.
func (p *Poller) AddWrite(pa *PollAttachment) error {
	return p.addOrMod(pa, unix.EV_ADD, unix.EVFILT_WRITE)
}

// ModRead drops the write-readiness watch on an already-registered
// file-descriptor, keeping only read readiness.
func (p *Poller) ModRead(pa *PollAttachment) error {
	return p.addOrMod(pa, unix.EV_DELETE, unix.EVFILT_WRITE)
}

// ModReadWrite renews the given file-descriptor for both read and write
// readiness.
func (p *Poller) ModReadWrite(pa *PollAttachment) error {
	return p.addOrMod(pa, unix.EV_ADD, unix.EVFILT_WRITE)
}

// Delete removes the given file-descriptor from the poller.
func (p *Poller) Delete(_ int) error {
	return nil
}
