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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package netpoll wraps the platform poller (epoll on Linux, kqueue on the
// BSDs/Darwin) behind a single Poller type so the rest of core can stay
// platform-agnostic.
package netpoll

import (
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// InitPollEventsCap is the initial capacity of a poller's event list.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum capacity of a poller's event list.
	MaxPollEventsCap = 1024
	// MinPollEventsCap is the minimum capacity of a poller's event list.
	MinPollEventsCap = 32
	// MaxAsyncTasksAtOneTime is the maximum number of low-priority async
	// tasks drained from the queue in a single wakeup.
	MaxAsyncTasksAtOneTime = 256
)

// PollEventHandler is invoked once per ready file-descriptor; fd identifies
// the socket and the second argument carries the OS-specific event mask
// (an epoll event bitmask on Linux, a kqueue filter on the BSDs/Darwin).
type PollEventHandler func(fd int, event IOEvent) error

// PollAttachment pairs a file-descriptor with the callback the poller
// invokes when it becomes ready.
type PollAttachment struct {
	FD       int
	Callback PollEventHandler
}

var pollAttachmentPool = sync.Pool{New: func() interface{} { return new(PollAttachment) }}

// GetPollAttachment retrieves a PollAttachment from the pool.
func GetPollAttachment() *PollAttachment {
	return pollAttachmentPool.Get().(*PollAttachment)
}

// PutPollAttachment resets and returns a PollAttachment to the pool.
func PutPollAttachment(pa *PollAttachment) {
	pa.FD, pa.Callback = 0, nil
	pollAttachmentPool.Put(pa)
}

// Dup duplicates the given file-descriptor.
func Dup(fd int) (int, string, error) {
	newFD, err := unix.Dup(fd)
	if err != nil {
		return -1, "dup", err
	}
	return newFD, "", nil
}
