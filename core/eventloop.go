// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
// Copyright (c) 2018 Joshua J Baker
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
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"rcproxy/core/codec"
	"rcproxy/core/internal/io"
	"rcproxy/core/internal/netpoll"
	gerrors "rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"
)

type eventloop struct {
	ln           *listener       // listener
	idx          int             // loop index in the engine loops list
	cache        bytes.Buffer    // temporary buffer for scattered bytes
	engine       *engine         // engine in loop
	poller       *netpoll.Poller // epoll or kqueue
	buffer       []byte          // read packet buffer whose capacity is set by user, default value is 64KB
	cConnCount   int32           // number of active client_connections in event-loop
	sConnCount   int32           // number of active server_connections in event-loop
	connections  map[int]*conn   // TCP connection map: fd -> conn
	eventHandler EventHandler    // user eventHandler
	nextTicker   time.Time       // next available ticker time
}

func (el *eventloop) addCConn(delta int32) {
	atomic.AddInt32(&el.cConnCount, delta)
}

func (el *eventloop) loadCConn() int32 {
	return atomic.LoadInt32(&el.cConnCount)
}

func (el *eventloop) addSConn(delta int32) {
	atomic.AddInt32(&el.sConnCount, delta)
}

func (el *eventloop) loadSConn() int32 {
	return atomic.LoadInt32(&el.sConnCount)
}

func (el *eventloop) closeAllSockets() {
	// Close loops and all outstanding connections
	for _, c := range el.connections {
		_ = el.closeConn(c, nil, ConnEof)
	}
}

func (el *eventloop) register(itf interface{}) error {
	c := itf.(*conn)
	if err := el.poller.AddRead(c.pollAttachment); err != nil {
		_ = unix.Close(c.fd)
		c.releaseTCP()
		return err
	}
	el.connections[c.fd] = c
	return el.open(c)
}

func (el *eventloop) open(c *conn) error {
	c.opened = true
	GlobalStats.TotalConnections.WithLabelValues().Inc()

	var out []byte
	var action Action

	switch c.connType {
	case ConnClient:
		el.addCConn(1)
		out, action = el.eventHandler.OnCOpened(c)
	case ConnServer:
		el.addSConn(1)
		out, action = el.eventHandler.OnSOpened(c)
	default:
		logging.Errorf("unknown conn fd %d", c.Fd())
		out, action = nil, Close
	}
	if out != nil {
		if err := c.open(out); err != nil {
			return err
		}
	}

	if !c.outboundBuffer.IsEmpty() {
		if err := el.poller.AddWrite(c.pollAttachment); err != nil {
			return err
		}
	}

	return el.handleAction(c, action)
}

func (el *eventloop) read(c *conn) error {
	n, err := unix.Read(c.fd, el.buffer)
	if err != nil || n == 0 {
		if err == unix.EAGAIN {
			return nil
		}
		if n == 0 {
			return el.closeConn(c, os.NewSyscallError("read", unix.ECONNRESET), ConnEof)
		}
		return el.closeConn(c, os.NewSyscallError("read", err), ConnErr)
	}

	c.buffer = el.buffer[:n]

	switch c.connType {
	case ConnClient:
		return el.cread(c)
	case ConnServer:
		return el.sread(c)
	default:
	}

	logging.Errorf("conn here cannot be none, please check conn: %+v", c)
	return el.closeConn(c, errors.New("conn closed"), ConnErr)
}

// cread drains every complete client request off the wire, handing each to
// the registered EventHandler for routing (key hashing, shard selection and
// fragment dispatch are an external collaborator's job) -- this
// loop only owns decode framing and the immediate out-of-band write path
// OnCReact can use for a short-circuit reply.
func (el *eventloop) cread(c *conn) error {
	for {
		r, err := c.cread()
		if err != nil {
			switch err {
			case codec.ErrInvalidResp:
				logging.Warnf("[%dc] client closed because of invalid resp", c.Fd())
				return el.closeConn(c, err, ConnErr)
			case gerrors.ErrIncompletePacket:
				break
			default:
				logging.Warnf("[%dc] request parse failed: %s", c.Fd(), err)
			}
			break
		}

		out, action := el.eventHandler.OnCReact(r, c)
		if out != nil {
			if _, err = c.write(out); err != nil {
				return err
			}
		}

		switch action {
		case None:
		case Close:
			return el.closeConn(c, nil, ProxyEof)
		case Shutdown:
			return gerrors.ErrEngineShutdown
		}

		// Check the status of connection every loop since it might be closed
		// during writing data back to the peer due to some kind of system error.
		if !c.opened {
			return nil
		}
	}

	if c.opened {
		_, _ = c.inboundBuffer.Write(c.buffer)
	}
	return nil
}

// sread drives C3/C4 (receiver.go, forwarder.go) on a readable server
// connection, then stashes whatever partial reply is left over for the
// next readable edge -- a read-until-incomplete loop shape, built around
// the unified Msg model.
func (el *eventloop) sread(s *conn) error {
	if err := el.receiveServer(s); err != nil {
		return err
	}
	if s.opened {
		_, _ = s.inboundBuffer.Write(s.buffer)
	}
	return nil
}

const iovMax = 1024

func (el *eventloop) write(c *conn) error {
	iov := c.outboundBuffer.Peek(-1)
	var (
		n   int
		err error
	)
	if len(iov) > 1 {
		if len(iov) > iovMax {
			iov = iov[:iovMax]
		}
		n, err = io.Writev(c.fd, iov)
	} else {
		n, err = unix.Write(c.fd, iov[0])
	}
	_, _ = c.outboundBuffer.Discard(n)
	switch err {
	case nil:
	case unix.EAGAIN:
		return nil
	default:
		return el.closeConn(c, os.NewSyscallError("write", err), ConnErr)
	}

	// All data have been drained, it's no need to monitor the writable events,
	// remove the writable event from poller to help the future event-loops.
	if c.outboundBuffer.IsEmpty() {
		_ = el.poller.ModRead(c.pollAttachment)
	}

	return nil
}

func (el *eventloop) closeConn(c *conn, err error, closeType ConnCloseType) (rerr error) {
	if !c.opened {
		return
	}

	// Send residual data in buffer back to the peer before actually closing the connection.
	if !c.outboundBuffer.IsEmpty() {
		for !c.outboundBuffer.IsEmpty() {
			iov := c.outboundBuffer.Peek(0)
			if len(iov) > iovMax {
				iov = iov[:iovMax]
			}
			if n, e := io.Writev(c.fd, iov); e != nil {
				logging.Warnf("closeConn: error occurs when sending data back to peer, %v", e)
				break
			} else {
				_, _ = c.outboundBuffer.Discard(n)
			}
		}
	}

	err0, err1 := el.poller.Delete(c.fd), unix.Close(c.fd)
	if err0 != nil {
		rerr = fmt.Errorf("failed to delete fd=%d from poller in event-loop(%d): %v", c.fd, el.idx, err0)
	}
	if err1 != nil {
		err1 = fmt.Errorf("failed to close fd=%d in event-loop(%d): %v", c.fd, el.idx, os.NewSyscallError("close", err1))
		if rerr != nil {
			rerr = errors.New(rerr.Error() + " & " + err1.Error())
		} else {
			rerr = err1
		}
	}

	delete(el.connections, c.fd)

	switch c.connType {
	case ConnClient:
		el.failOutstanding(c)
		el.eventHandler.OnCClosed(c, err)
		el.addCConn(-1)
		switch closeType {
		case ConnEof:
			GlobalStats.ClientConnectionsClientEof.WithLabelValues().Inc()
		case ConnErr:
			GlobalStats.ClientConnectionsClientErr.WithLabelValues().Inc()
		}
	case ConnServer:
		el.failOutstandingServer(c)
		el.eventHandler.OnSClosed(c, err)
		el.addSConn(-1)
		switch closeType {
		case ConnEof:
			GlobalStats.ServerEof.WithLabelValues(c.RemoteAddr()).Inc()
		case ConnErr:
			GlobalStats.ServerErr.WithLabelValues(c.RemoteAddr()).Inc()
		}
	default:
		logging.Errorf("unknown conn fd %d", c.Fd())
	}

	c.releaseTCP()

	return
}

// failOutstanding unlinks and releases every request still sitting in a
// closed client connection's out-queue, together with any paired reply and
// fragment children, so a mid-flight forwarding failure never leaks a
// pooled Msg. No error reply is synthesized.
func (el *eventloop) failOutstanding(c *conn) {
	if c.outQueue == nil {
		return
	}
	for {
		m := c.outQueue.PopHead()
		if m == nil {
			break
		}
		deleteFromTimeoutQueue(m)
		if m.peer != nil {
			m.peer.peer = nil
			msgPoolImpl.release(m.peer)
			m.peer = nil
		}
		if m.fragID != 0 && len(m.frags) > 0 {
			for _, frag := range m.frags {
				releaseRequest(frag)
			}
			m.frags = nil
		}
		msgPoolImpl.release(m)
	}
}

// failOutstandingServer is the server-side mirror of failOutstanding: any
// request still parked on a closed server connection's sendQueue (not yet
// written) or outQueue (awaiting reply) never gets a real backend reply, so
// each is marked failed and routed to its owning client connection through
// the ordinary sendClient path -- the same reqErr/err/done marking
// msgTimeout uses, just triggered by connection loss instead of a deadline.
// A fragment child has no client out-queue membership of its own (only its
// fragParent does), so its failure is folded into the parent's fragsDone
// count exactly as a real coalesced reply would be, and the parent is only
// marked failed once every sibling has reported in one way or another.
func (el *eventloop) failOutstandingServer(s *conn) {
	if s.sendQueue == nil || s.outQueue == nil {
		return
	}

	touched := make(map[*conn]struct{})

	fail := func(pmsg *Msg) {
		deleteFromTimeoutQueue(pmsg)

		// A swallowed (noreply) request was never enqueued on any client
		// out-queue (server_c.go's OnCReact skips that), so there is
		// nothing to synthesize or deliver -- just release it, mirroring
		// forwardReply's own swallow handling.
		if pmsg.swallow {
			releaseRequest(pmsg)
			return
		}

		if pmsg.fragParent != nil {
			parent := pmsg.fragParent
			if pmsg.err == "" {
				pmsg.err = codec.ErrUnKnownProxyPoolConnError
			}
			parent.fragsDone++
			if parent.fragsDone < len(parent.frags) {
				return
			}
			parent.reqErr = true
			parent.err = pmsg.err
			parent.done = true
			if cConn, ok := parent.owner.(*conn); ok && cConn != nil {
				touched[cConn] = struct{}{}
			}
			return
		}

		pmsg.reqErr = true
		pmsg.err = codec.ErrUnKnownProxyPoolConnError
		pmsg.done = true
		if cConn, ok := pmsg.owner.(*conn); ok && cConn != nil {
			touched[cConn] = struct{}{}
		}
	}

	for {
		m := s.sendQueue.PopHead()
		if m == nil {
			break
		}
		fail(m)
	}
	for {
		m := s.outQueue.PopHead()
		if m == nil {
			break
		}
		fail(m)
	}

	for cConn := range touched {
		if !cConn.opened {
			continue
		}
		if err := el.sendClient(cConn); err != nil {
			logging.Warnf("[%ds] failed to flush synthesized error after server close: %s", s.fd, err)
		}
	}
}

// ticker runs once a second: per-server active-connection gauges (pool
// health itself is tracked by each ServerPool's own monitor loop) plus
// the registered handler's periodic housekeeping.
func (el *eventloop) ticker() {
	now := time.Now()
	if now.Before(el.nextTicker) {
		return
	}
	el.nextTicker = now.Add(time.Second)

	if EngineGlobal != nil && EngineGlobal.topology != nil {
		for _, pool := range EngineGlobal.topology.Pools() {
			GlobalStats.ServerActive.WithLabelValues(pool.Server.Addr).Set(float64(pool.ActiveCount()))
		}
	}

	el.eventHandler.OnTicker()
}

// msgTimeout implements request-timeout cancellation: any client request
// whose wall-clock age exceeds the configured timeout gets marked failed
// and is flushed through the ordinary sender path (synthesizing an error
// reply via synthesizeErrorReply) rather than waiting on its backend
// reply to ever show up.
func (el *eventloop) msgTimeout() {
	for {
		m := peekTimeoutQueue()
		if m == nil {
			break
		}
		if time.Now().Before(m.timeout) {
			break
		}
		popFromTimeoutQueue()

		if m.done {
			// Already resolved by the ordinary forwarding path; just hasn't
			// been popped off the timeout tree yet by sendDone.
			continue
		}

		m.reqErr = true
		m.err = codec.ErrMsgRequestTimeout
		m.done = true
		if m.fragID != 0 && len(m.frags) > 0 {
			m.fragsDone = len(m.frags)
			for _, frag := range m.frags {
				if frag.err == "" {
					frag.err = codec.ErrMsgRequestTimeout
				}
			}
		}

		c, ok := m.owner.(*conn)
		if !ok || c == nil || !c.opened {
			logging.Infof("[%dm] request timeout but client already closed", m.id)
			continue
		}

		logging.Infof("[%dm][%dc] request timeout after %dms", m.id, c.Fd(), el.engine.opts.RequestTimeout)

		if err := el.sendClient(c); err != nil {
			logging.Warnf("[%dm][%dc] failed to flush timeout reply: %s", m.id, c.Fd(), err)
		}
	}
}

func (el *eventloop) handleAction(c *conn, action Action) error {
	switch action {
	case None:
		return nil
	case Close:
		return el.closeConn(c, nil, ConnEof)
	case Shutdown:
		return gerrors.ErrEngineShutdown
	default:
		return nil
	}
}
