// Copyright (c) 2022 The rcproxy Authors
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

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMsgQueueServerSide exercises a MsgQueue in its default (sideServer)
// configuration, the same linkage a server connection's sendQueue/outQueue
// use, via the m.prev/m.next field pair.
func TestMsgQueueServerSide(t *testing.T) {
	q := new(MsgQueue)
	m1 := &Msg{id: 1}
	m2 := &Msg{id: 2}

	q.PushTail(m1)
	assert.Same(t, m1, q.tail)
	assert.Nil(t, q.tail.next)
	assert.Same(t, m1, q.head)
	assert.Nil(t, q.head.prev)
	assert.Equal(t, 1, q.Len())

	q.PushTail(m2)
	assert.Same(t, m2, q.tail)
	assert.Same(t, m1, q.tail.next)
	assert.Same(t, m1, q.head)
	assert.Same(t, m2, q.head.prev)
	assert.Equal(t, 2, q.Len())

	head := q.Head()
	assert.Same(t, m1, head)

	got := q.PopHead()
	assert.Same(t, m1, got)
	assert.Equal(t, uint64(1), got.id)
	assert.Nil(t, got.prev)
	assert.Nil(t, got.next)

	got = q.PopHead()
	assert.Equal(t, uint64(2), got.id)

	assert.True(t, q.Empty())
	assert.Nil(t, q.PopHead())
}

// TestMsgQueueClientSide exercises a MsgQueue tagged sideClient, the
// linkage a client connection's outQueue uses, via the m.cPrev/m.cNext
// field pair -- confirming it never touches m.prev/m.next at all, which is
// what lets a single-key request's Msg sit on both queues simultaneously.
func TestMsgQueueClientSide(t *testing.T) {
	q := &MsgQueue{side: sideClient}
	m1 := &Msg{id: 1}
	m2 := &Msg{id: 2}

	q.PushTail(m1)
	q.PushTail(m2)

	assert.Same(t, m2, q.tail)
	assert.Same(t, m1, q.tail.cNext)
	assert.Same(t, m1, q.head)
	assert.Same(t, m2, q.head.cPrev)

	// sideClient must never write the server-side pair.
	assert.Nil(t, m1.prev)
	assert.Nil(t, m1.next)
	assert.Nil(t, m2.prev)
	assert.Nil(t, m2.next)

	got := q.PopHead()
	assert.Same(t, m1, got)
	got = q.PopHead()
	assert.Same(t, m2, got)
	assert.True(t, q.Empty())
}

// TestMsgDualQueueMembership is the regression test for the bug this
// package was rewritten to fix: a single-key request Msg must be able to
// sit on a server connection's outQueue (sideServer) and its owning
// client connection's outQueue (sideClient) at the same time, each queue
// threading its own pair of pointers through the shared Msg without
// disturbing the other.
func TestMsgDualQueueMembership(t *testing.T) {
	serverOut := new(MsgQueue)
	clientOut := &MsgQueue{side: sideClient}

	m := &Msg{id: 1}
	other := &Msg{id: 2}

	serverOut.PushTail(m)
	serverOut.PushTail(other)
	clientOut.PushTail(m)

	assert.Equal(t, 2, serverOut.Len())
	assert.Equal(t, 1, clientOut.Len())

	// m is the head of both queues independently.
	assert.Same(t, m, serverOut.Head())
	assert.Same(t, m, clientOut.Head())

	// Popping m off the server queue must not disturb its membership on
	// the client queue.
	got := serverOut.PopHead()
	assert.Same(t, m, got)
	assert.Equal(t, 1, serverOut.Len())
	assert.Same(t, other, serverOut.Head())
	assert.Equal(t, 1, clientOut.Len())
	assert.Same(t, m, clientOut.Head())

	// And m is still cleanly poppable off the client queue afterward.
	got = clientOut.PopHead()
	assert.Same(t, m, got)
	assert.True(t, clientOut.Empty())
}

func TestMsgQueueRemove(t *testing.T) {
	q := new(MsgQueue)
	m1 := &Msg{id: 1}
	m2 := &Msg{id: 2}
	m3 := &Msg{id: 3}
	q.PushTail(m1)
	q.PushTail(m2)
	q.PushTail(m3)

	q.Remove(m2)
	assert.Equal(t, 2, q.Len())
	assert.Same(t, m1, q.Head())
	assert.Same(t, m3, q.tail)
	assert.Nil(t, m2.prev)
	assert.Nil(t, m2.next)

	got := q.PopHead()
	assert.Same(t, m1, got)
	got = q.PopHead()
	assert.Same(t, m3, got)
	assert.True(t, q.Empty())
}

func TestMsgQueueSuccessor(t *testing.T) {
	q := new(MsgQueue)
	m1 := &Msg{id: 1}
	m2 := &Msg{id: 2}
	q.PushTail(m1)
	q.PushTail(m2)

	assert.Same(t, m2, q.Successor(m1))
}

func TestMsgReleaseClearsBothLinkPairs(t *testing.T) {
	serverOut := new(MsgQueue)
	clientOut := &MsgQueue{side: sideClient}

	m := msgPoolImpl.newRequest()
	other := &Msg{id: 99}
	serverOut.PushTail(m)
	serverOut.PushTail(other)
	clientOut.PushTail(m)

	serverOut.Remove(m)
	clientOut.Remove(m)

	msgPoolImpl.release(m)
	assert.Nil(t, m.prev)
	assert.Nil(t, m.next)
	assert.Nil(t, m.cPrev)
	assert.Nil(t, m.cNext)
}

func TestEmpty(t *testing.T) {
	req := &Msg{kind: KindRequest}
	assert.True(t, empty(req))
	req.body = []byte("get foo\r\n")
	assert.False(t, empty(req))

	rsp := &Msg{kind: KindResponse}
	assert.True(t, empty(rsp))
	rsp.rspBody = []byte("+OK\r\n")
	assert.False(t, empty(rsp))
}
