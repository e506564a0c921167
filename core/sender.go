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
	"rcproxy/core/codec"
	"rcproxy/core/pkg/logging"
)

// sendClient drives C5 on a write-ready client connection: it walks the
// out-queue in arrival order, collecting every reply whose request is
// already done (real or synthesized via error coalescing), and flushes
// them in a single writev -- this proxy writes replies as soon as they
// become ready rather than waiting on a dedicated writable epoll edge (see
// forwarder.go's request_write_interest note), so one call here drains
// every currently-ready reply.
func (el *eventloop) sendClient(c *conn) error {
	if c.outQueue.Empty() {
		return nil
	}

	var bufs [][]byte
	var reqs []*Msg

	cur := c.outQueue.Head()
	for cur != nil {
		if !requestDone(cur) {
			break
		}

		isFragParent := cur.fragParent == nil && cur.fragID != 0

		var body []byte
		var broke bool
		switch {
		case cur.reqErr:
			// A timed-out or forwarding-failed request always gets a fresh
			// synthesized reply, fragmented or not -- checked first since a
			// fragment parent's partially-coalesced rspBody is meaningless
			// once the request has been marked failed.
			reply, err := synthesizeErrorReply(c, cur)
			if err != nil {
				logging.Errorf("[%dc] failed to synthesize error reply: %s", c.Fd(), err)
				broke = true
			} else {
				body = reply.rspBody
			}
		case isFragParent:
			// Coalesced in place by the child pre_coalesce hooks; there is
			// no separate reply Msg to pair against.
			body = cur.rspBody
		case cur.peer != nil:
			body = cur.peer.rspBody
		}
		if broke || body == nil {
			break
		}

		bufs = append(bufs, body)
		reqs = append(reqs, cur)
		cur = c.outQueue.Successor(cur)
	}

	if len(bufs) == 0 {
		return nil
	}

	_, err := c.writev(bufs)

	for _, req := range reqs {
		c.outQueue.PopHead()
		sendDone(req)
	}

	if c.outQueue.Empty() {
		_ = c // drop_write_interest(): nothing further queued, no-op under the inline-drive model.
	}

	return err
}

// sendDone implements the post-write half of C5: dequeue and
// release the request whose reply was just flushed, then release the
// reply itself once its peer link is cleared. A fragmented parent has no
// peer of its own -- its body lives directly on rspBody -- so only the
// parent itself is returned to the pool.
func sendDone(req *Msg) {
	if req == nil {
		return
	}
	// req is always the client out-queue's own Msg (a plain request or a
	// fragment parent); only those ever enter the timeout tree (connection.go's
	// EnqueueOut pushes there only on the CConn side), so this is the one
	// place that has to clear it before the Msg goes back to the pool.
	deleteFromTimeoutQueue(req)

	reply := req.peer
	req.peer = nil
	if reply != nil {
		reply.peer = nil
		msgPoolImpl.release(reply)
	}
	msgPoolImpl.release(req)
}

// synthesizeErrorReply implements error coalescing: a
// failed request (parser error, forwarding failure, timeout, shard
// unavailable) gets a synthesized reply. If req is a fragment parent, every
// recorded sibling fragment is released in the same pass, propagating the
// first non-zero error seen among them. Any provisional reply already
// peered to req is unlinked and released first.
func synthesizeErrorReply(c *conn, req *Msg) (*Msg, error) {
	errKind := req.err

	if req.fragID != 0 && len(req.frags) > 0 {
		for _, frag := range req.frags {
			if errKind == "" && frag.err != "" {
				errKind = frag.err
			}
			releaseRequest(frag)
		}
		req.frags = nil
	}

	if errKind == "" {
		errKind = codec.ErrUnKnown
	}

	if req.peer != nil {
		prev := req.peer
		req.peer = nil
		prev.peer = nil
		msgPoolImpl.release(prev)
	}

	reply := msgPoolImpl.newErrorResponse(c.Protocol(), errKind)
	reply.peer = req
	req.peer = reply
	return reply, nil
}
