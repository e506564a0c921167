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

//go:build linux
// +build linux

package netpoll

import (
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"rcproxy/core/internal/queue"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"
)

// IOEvent is the epoll event bitmask delivered per ready file-descriptor.
type IOEvent = uint32

const (
	// InEvents is the epoll mask for a socket being readable or peer-closed.
	InEvents = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	// OutEvents is the epoll mask for a socket being writable or erroring.
	OutEvents = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

// Poller wraps a Linux epoll instance plus the eventfd used to wake it for
// deferred async tasks.
type Poller struct {
	fd                   int // epoll fd
	efd                  int // event fd, used to wake up the poller
	efdBuf               []byte
	wakeupCall           int32
	asyncTaskQueue       queue.AsyncTaskQueue
	urgentAsyncTaskQueue queue.AsyncTaskQueue
}

// OpenPoller instantiates a poller backed by epoll_create1 and eventfd.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		poller = nil
		err = os.NewSyscallError("epoll_create1", err)
		return
	}
	if poller.efd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		poller = nil
		err = os.NewSyscallError("eventfd", err)
		return
	}
	poller.efdBuf = make([]byte, 8)
	if err = unix.EpollCtl(poller.fd, unix.EPOLL_CTL_ADD, poller.efd,
		&unix.EpollEvent{Fd: int32(poller.efd), Events: unix.EPOLLIN}); err != nil {
		_ = unix.Close(poller.efd)
		_ = unix.Close(poller.fd)
		poller = nil
		err = os.NewSyscallError("epoll_ctl add eventfd", err)
		return
	}
	poller.asyncTaskQueue = queue.NewLockFreeQueue()
	poller.urgentAsyncTaskQueue = queue.NewLockFreeQueue()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	if err := unix.Close(p.efd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *Poller) wakeup() error {
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		_, err := unix.Write(p.efd, []byte{0, 0, 0, 0, 0, 0, 0, 1})
		if err == unix.EAGAIN {
			err = nil
		}
		return os.NewSyscallError("write eventfd", err)
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

// Trigger enqueues fn onto the low-priority queue; use this for
// non-urgent deferred work such as flushing leftover write buffers.
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
	msec := -1
	for {
		trick()

		n, err := unix.EpollWait(p.fd, el.events, msec)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			msec = 200
			runtime.Gosched()
			msgTimeout()
			continue
		} else if err != nil {
			logging.Errorf("error occurs in epoll: %v", os.NewSyscallError("epoll_wait", err))
			return err
		}
		msec = 200

		for i := 0; i < n; i++ {
			ev := &el.events[i]
			if fd := int(ev.Fd); fd != p.efd {
				switch err = callback(fd, ev.Events); err {
				case nil:
				case errors.ErrAcceptSocket, errors.ErrEngineShutdown:
					return err
				default:
					logging.Warnf("error occurs in event-loop: %v", err)
				}
			} else {
				_, _ = unix.Read(p.efd, p.efdBuf)
				doChores = true
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

// AddReadWrite registers the given file-descriptor for both read and write
// readiness.
func (p *Poller) AddReadWrite(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_ADD, pa, unix.EPOLLIN|unix.EPOLLOUT)
}

// AddRead registers the given file-descriptor for read readiness.
func (p *Poller) AddRead(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_ADD, pa, unix.EPOLLIN)
}

// AddWrite registers the given file-descriptor for write readiness.
func (p *Poller) AddWrite(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_ADD, pa, unix.EPOLLOUT)
}

// ModRead drops the write-readiness watch on an already-registered
// file-descriptor, keeping only read readiness.
func (p *Poller) ModRead(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_MOD, pa, unix.EPOLLIN)
}

// ModReadWrite renews the given file-descriptor for both read and write
// readiness.
func (p *Poller) ModReadWrite(pa *PollAttachment) error {
	return p.ctl(unix.EPOLL_CTL_MOD, pa, unix.EPOLLIN|unix.EPOLLOUT)
}

// Delete removes the given file-descriptor from the poller.
func (p *Poller) Delete(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (p *Poller) ctl(op int, pa *PollAttachment, events uint32) error {
	var ev unix.EpollEvent
	ev.Events = events
	ev.Fd = int32(pa.FD)
	if err := unix.EpollCtl(p.fd, op, pa.FD, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}
