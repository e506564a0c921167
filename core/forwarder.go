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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package core

import (
	gerrors "rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"
)

// requestDone reports whether a request's reply is ready to leave the
// owning client's out-queue, accounting for fragmentation: a fragment
// parent is done only once every child fragment has been paired.
func requestDone(m *Msg) bool {
	if !m.done {
		return false
	}
	if m.fragID != 0 && len(m.frags) > 0 {
		return m.fragsDone >= len(m.frags)
	}
	return true
}

// forwardReply implements C4: filter a completed server
// reply, then (if kept) pair it with the head of the server's out-queue,
// account stats/slow-log, and arm the owning client connection for
// write-readiness.
func (el *eventloop) forwardReply(s *conn, m *Msg) error {
	// ---- 4.4.1 filtering ----

	if empty(m) {
		msgPoolImpl.release(m)
		return nil
	}

	if s.outQueue.Empty() {
		msgPoolImpl.release(m)
		logging.Errorf("[%ds] stray reply with empty out-queue, closing connection", s.fd)
		return el.closeConn(s, gerrors.ErrStrayReply, ConnErr)
	}

	// swallow (memcached noreply) is only ever set on a single-key request,
	// never on a fragment child, and such a request is never pushed onto
	// its owning client's out-queue in the first place (server_c.go's
	// OnCReact skips it) -- so releasing pmsg directly here, with no
	// client out-queue unlink, is safe.
	if head := s.outQueue.Head(); head.swallow {
		pmsg := s.DequeueOut()
		pmsg.done = true
		msgPoolImpl.release(m)
		releaseRequest(pmsg)
		return nil
	}

	// ---- 4.4.2 forwarding ----

	msgsize := len(m.rspBody)

	if pool := s.Pool(); pool != nil {
		pool.markServerHealthy()
	}

	pmsg := s.DequeueOut() // step 3

	pmsg.peer, m.peer = m, pmsg // step 4, symmetric peer link

	if pmsg.preRspForward != nil && !pmsg.preRspForward(m) {
		// Veto: reply retained, delivery suppressed. The request is
		// already off the server out-queue (step 3 ran unconditionally);
		// nothing is re-enqueued.
		return nil
	}

	pmsg.done = true // step 6

	slowLogCheck(pmsg, s) // step 7

	isFragChild := pmsg.fragID != 0 && pmsg.fragParent != nil
	var parentDone bool

	if isFragChild && pmsg.preCoalesce != nil {
		parent := pmsg.fragParent
		parent.fragsDone++
		pmsg.preCoalesce(m) // step 8, reads m.rspBody into pmsg.parsed / parent accumulators
		parentDone = parent.fragsDone >= len(parent.frags)
	}

	pmsgID := pmsg.id

	cConn, _ := pmsg.owner.(*conn)
	if cConn == nil {
		if parent := pmsg.fragParent; parent != nil {
			cConn, _ = parent.owner.(*conn)
		}
	}

	if isFragChild {
		// pmsg is a fragment child: it never sits in the client out-queue
		// directly, so nothing will run sendDone on it. m's payload is
		// already folded into pmsg.parsed / the parent's accumulators by
		// preCoalesce, so it can go back to the pool now. pmsg itself stays
		// alive until every sibling has reported in: the final coalesce call
		// walks parent.frags to assemble the reply in key order, so an
		// early release here would hand out a reused, zeroed Msg mid-walk.
		m.peer = nil
		pmsg.peer = nil
		msgPoolImpl.release(m)
		if parentDone {
			parent := pmsg.fragParent
			for _, frag := range parent.frags {
				msgPoolImpl.release(frag)
			}
			parent.frags = nil
		}
	}
	if cConn != nil {
		head := cConn.outQueue.Head()
		if head != nil && requestDone(head) {
			// request_write_interest(): rather than arming a separate
			// writable-event watch, drive the sender inline -- the client
			// socket is assumed writable because it just finished sending
			// us the request that produced this reply.
			if err := el.sendClient(cConn); err != nil {
				logging.Warnf("[%dm][%dc] failed to flush reply to client: %s", pmsgID, cConn.Fd(), err)
			}
		}
	}

	statsServerIncr(s.RemoteAddr(), GlobalStats.ServerResponses)
	statsServerIncrBy(s.RemoteAddr(), GlobalStats.ServerResponseBytes, float64(msgsize)) // step 10

	return nil
}

// releaseRequest releases a request message whose reply has already been
// consumed (swallowed) or does not apply to the client out-queue directly;
// mirrors the unlink-then-release discipline used elsewhere.
func releaseRequest(m *Msg) {
	if m == nil {
		return
	}
	if m.peer != nil {
		m.peer.peer = nil
		m.peer = nil
	}
	msgPoolImpl.release(m)
}
