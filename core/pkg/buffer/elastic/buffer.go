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

// Package elastic implements the two flavors of buffer a connection needs:
// Buffer, an elastic chunk chain for outbound writev batching, and
// RingBuffer, a compacting byte queue for reassembling inbound reads.
package elastic

import "io"

// Buffer is an elastic send buffer built from a chain of byte-slice
// chunks: Write/Writev always append a new chunk rather than mutate an
// existing one, so Peek can hand the chain straight back as writev iovecs
// with no copy.
type Buffer struct {
	chunks [][]byte
	size   int
	cap    int
}

// New allocates a Buffer whose ReadFrom reads in cap-sized chunks.
func New(cap int) (*Buffer, error) {
	if cap <= 0 {
		cap = 4096
	}
	return &Buffer{cap: cap}, nil
}

// IsEmpty reports whether the buffer holds no bytes.
func (b *Buffer) IsEmpty() bool { return b.size == 0 }

// Buffered reports the total bytes held across every chunk.
func (b *Buffer) Buffered() int { return b.size }

// Write appends a copy of p as a new chunk.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cp := append([]byte(nil), p...)
	b.chunks = append(b.chunks, cp)
	b.size += len(cp)
	return len(p), nil
}

// Writev appends a copy of every non-empty slice in bs as its own chunk.
func (b *Buffer) Writev(bs [][]byte) (int, error) {
	var n int
	for _, p := range bs {
		if len(p) == 0 {
			continue
		}
		cp := append([]byte(nil), p...)
		b.chunks = append(b.chunks, cp)
		b.size += len(cp)
		n += len(p)
	}
	return n, nil
}

// Peek returns up to n buffered bytes as the chain of chunks backing them
// (n <= 0 means everything buffered), suitable as writev iovecs. The
// caller must not mutate the returned slices.
func (b *Buffer) Peek(n int) [][]byte {
	if n <= 0 || n >= b.size {
		return b.chunks
	}
	out := make([][]byte, 0, len(b.chunks))
	var taken int
	for _, c := range b.chunks {
		if taken >= n {
			break
		}
		remaining := n - taken
		if len(c) <= remaining {
			out = append(out, c)
			taken += len(c)
		} else {
			out = append(out, c[:remaining])
			taken += remaining
		}
	}
	return out
}

// Discard drops up to n bytes from the front across as many chunks as
// needed (n <= 0 is a no-op).
func (b *Buffer) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if n >= b.size {
		discarded := b.size
		b.chunks = b.chunks[:0]
		b.size = 0
		return discarded, nil
	}
	discarded := 0
	for len(b.chunks) > 0 {
		c := b.chunks[0]
		if discarded+len(c) <= n {
			discarded += len(c)
			b.chunks = b.chunks[1:]
			continue
		}
		left := n - discarded
		b.chunks[0] = c[left:]
		discarded = n
		break
	}
	b.size -= discarded
	return discarded, nil
}

// Release drops every chunk, returning the Buffer to empty.
func (b *Buffer) Release() {
	b.chunks = nil
	b.size = 0
}

// ReadFrom drains r in cap-sized chunks until EOF, appending each as a
// new chunk.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		chunk := make([]byte, b.cap)
		n, err := r.Read(chunk)
		if n > 0 {
			b.chunks = append(b.chunks, chunk[:n])
			b.size += n
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
