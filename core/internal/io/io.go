// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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

// Package io wraps the scatter/gather syscalls the event-loop needs,
// normalizing partial-vector writes behind a single retrying call.
package io

import "golang.org/x/sys/unix"

// Writev wraps unix.Writev, retrying on EINTR and collapsing a single
// one-element vector into a plain write so callers never need to special
// case that path.
func Writev(fd int, iov [][]byte) (int, error) {
	if len(iov) == 1 {
		return unix.Write(fd, iov[0])
	}
	for {
		n, err := unix.Writev(fd, iov)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
