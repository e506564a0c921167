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

package server

import (
	"fmt"
	"strings"

	"rcproxy/core"
	"rcproxy/core/authip"
	"rcproxy/core/codec"
	"rcproxy/core/pkg/logging"
)

// OnCOpened fires when a new client connection has been opened.
func (ls *listenServer) OnCOpened(c core.CConn) (out []byte, action core.Action) {
	access := strings.Split(c.RemoteAddr(), ":")
	if !authip.IpMap.Validate(access[0]) {
		logging.Warnf("[%dc] unauthorized access from %s", c.Fd(), access[0])
		return nil, core.Close
	}

	logging.Debugf("[%dc] conn open, local: %s, remote: %s", c.Fd(), c.LocalAddr(), c.RemoteAddr())
	return nil, core.None
}

// OnCReact fires when a client socket receives data from the peer: it
// routes a parsed request to the server pool(s) its keys hash to, per the
// static conn -> server -> server_pool topology.
func (ls *listenServer) OnCReact(r *core.Msg, c core.CConn) (out []byte, action core.Action) {
	logging.Debugfunc(func() string { return fmt.Sprintf("[%dm][%dc] got req: %s", r.MsgID(), c.Fd(), r.BodyString()) })

	typ := r.Type()
	if typ <= codec.UNKNOWN || typ >= codec.Sentinel {
		logging.Warnf("[%dm][%dc] unknown command, type: %d, body: %s", r.MsgID(), c.Fd(), typ, r.BodyString())
		return codec.ErrUnKnownCommand.Bytes(), core.None
	}

	switch typ {
	case codec.ReqTooLarge:
		logging.Infof("[%dm][%dc] request message too large", r.MsgID(), c.Fd())
		return codec.ErrMsgReqTooLarge.Bytes(), core.None
	case codec.ReqWrongArgumentsNumber:
		logging.Infof("[%dm][%dc] wrong arguments number, type: %d, body: %s", r.MsgID(), c.Fd(), typ, r.BodyString())
		return codec.ErrMsgReqWrongArgumentsNumber.Bytes(), core.None
	case codec.ReqPing:
		logging.Debugf("[%dm][%dc] got res: [ +PONG ]", r.MsgID(), c.Fd())
		return codec.PONG.Bytes(), core.None
	case codec.ReqQuit:
		logging.Debugf("[%dm][%dc] got res: [ +OK ]", r.MsgID(), c.Fd())
		return codec.OK.Bytes(), core.Close
	case codec.ReqAuth:
		if len(ls.Password) < 1 {
			return codec.ErrAuthNeedNtPassword.Bytes(), core.None
		}
		keys := r.Keys()
		if len(keys) < 1 || keys[0] != ls.Password {
			return codec.ErrAuthInvalidPassword.Bytes(), core.None
		}
		return codec.OK.Bytes(), core.None
	}

	core.GlobalStats.ReqCmdIncr(typ)

	if r.Fragmented() {
		for _, child := range r.Frags() {
			if err := ls.dispatch(child); err != nil {
				logging.Errorf("[%dm][%dc] %s", r.MsgID(), c.Fd(), err)
				return codec.ErrUnKnownProxyPoolConnError.Bytes(), core.None
			}
		}
	} else if err := ls.dispatch(r); err != nil {
		logging.Errorf("[%dm][%dc] %s", r.MsgID(), c.Fd(), err)
		return codec.ErrUnKnownProxyPoolConnError.Bytes(), core.None
	}

	// A swallowed (noreply) request still round-trips to the backend via
	// dispatch above, but must never surface a reply to the client, so it
	// is not tracked on the client out-queue at all -- forwarder.go
	// releases it directly once the backend round trip completes.
	if !r.Swallowed() {
		c.EnqueueOut(r)
	}
	return
}

// dispatch hashes m's first key to a server pool and hands m to that
// pool's connection out-queue; mirrors the previous getConn/route logic,
// but against the static topology instead of live cluster slots.
func (ls *listenServer) dispatch(m *core.Msg) error {
	keys := m.Keys()
	if len(keys) < 1 {
		return fmt.Errorf("request has no key to route on")
	}

	pool := core.EngineGlobal.Topology().Select(keys[0])
	if pool == nil {
		return fmt.Errorf("no server pool configured")
	}

	sConn := pool.Get()
	if sConn == nil {
		return fmt.Errorf("server pool %s unavailable", pool.Server.Addr)
	}

	logging.Debugfunc(func() string {
		return fmt.Sprintf("[%dm] key '%s' maps to server '%s'", m.MsgID(), keys[0], pool.Server.Addr)
	})

	sConn.EnqueueOut(m)
	return nil
}

// OnCClosed fires when a client connection has been closed.
func (ls *listenServer) OnCClosed(c core.CConn, err error) {
	logging.Debugf("[%dc] client conn closed, local: %s, remote: %s", c.Fd(), c.LocalAddr(), c.RemoteAddr())
}
