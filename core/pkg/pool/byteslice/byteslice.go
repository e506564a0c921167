// Copyright (c) 2022 The rcproxy Authors
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

// Package byteslice pools the small byte slices backing net.TCPAddr.IP and
// zone strings, recycled on every connection close.
package byteslice

import "sync"

var pool = sync.Pool{New: func() interface{} { return make([]byte, 0, 16) }}

// Get returns a byte slice of length n, reused from the pool when possible.
func Get(n int) []byte {
	b := pool.Get().([]byte)
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

// Put returns b to the pool for reuse.
func Put(b []byte) {
	if b == nil {
		return
	}
	//nolint:staticcheck
	pool.Put(b[:0])
}
