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

package elastic

import "io"

// RingBuffer holds inbound bytes that arrived but haven't been consumed by
// a codec yet. It presents the head/tail split read surface a true
// wrap-around ring buffer would, implemented underneath as a simple
// compacting byte queue -- one compaction per grow instead of zero is a
// trade this proxy is happy to make for simplicity.
type RingBuffer struct {
	buf  []byte
	r, w int
}

// Buffered reports how many unread bytes are stored.
func (rb *RingBuffer) Buffered() int { return rb.w - rb.r }

// IsEmpty reports whether there are no unread bytes.
func (rb *RingBuffer) IsEmpty() bool { return rb.r == rb.w }

// Write appends p, growing (and compacting first) the backing slice as
// needed.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rb.reserve(len(p))
	n := copy(rb.buf[rb.w:], p)
	rb.w += n
	return n, nil
}

func (rb *RingBuffer) reserve(need int) {
	if len(rb.buf)-rb.w >= need {
		return
	}
	used := rb.w - rb.r
	if rb.r > 0 {
		copy(rb.buf, rb.buf[rb.r:rb.w])
		rb.r, rb.w = 0, used
	}
	if len(rb.buf)-rb.w >= need {
		return
	}
	newCap := len(rb.buf)*2 + need
	if newCap < 4096 {
		newCap = 4096
	}
	nb := make([]byte, newCap)
	copy(nb, rb.buf[:rb.w])
	rb.buf = nb
}

// Read copies buffered bytes into p, draining them.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	if rb.IsEmpty() {
		return 0, io.EOF
	}
	n := copy(p, rb.buf[rb.r:rb.w])
	rb.r += n
	rb.compactIfDrained()
	return n, nil
}

// Peek returns up to n unread bytes without consuming them (n <= 0 means
// everything buffered). tail is always empty: this implementation never
// wraps, so every Peek is contiguous.
func (rb *RingBuffer) Peek(n int) (head, tail []byte) {
	avail := rb.Buffered()
	if n <= 0 || n > avail {
		n = avail
	}
	return rb.buf[rb.r : rb.r+n], nil
}

// Discard drops up to n unread bytes from the front (n <= 0 is a no-op).
func (rb *RingBuffer) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if avail := rb.Buffered(); n > avail {
		n = avail
	}
	rb.r += n
	rb.compactIfDrained()
	return n, nil
}

func (rb *RingBuffer) compactIfDrained() {
	if rb.r == rb.w {
		rb.r, rb.w = 0, 0
	}
}

// Reset drops every unread byte without releasing the backing slice.
func (rb *RingBuffer) Reset() {
	rb.r, rb.w = 0, 0
}

// Done releases the backing slice entirely; called once on connection
// close, after which the RingBuffer is no longer used.
func (rb *RingBuffer) Done() {
	rb.buf = nil
	rb.r, rb.w = 0, 0
}

// WriteTo drains every unread byte into w.
func (rb *RingBuffer) WriteTo(w io.Writer) (int64, error) {
	if rb.IsEmpty() {
		return 0, nil
	}
	n, err := w.Write(rb.buf[rb.r:rb.w])
	rb.r += n
	rb.compactIfDrained()
	return int64(n), err
}
