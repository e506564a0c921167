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
	"rcproxy/core"
	"rcproxy/core/pkg/logging"
	"rcproxy/core/pkg/utils"
)

// OnSOpened fires when a new backend server connection has been opened.
func (ls *listenServer) OnSOpened(s core.SConn) (out []byte, action core.Action) {
	logging.Debugf("[%ds] conn open, local: %s, remote: %s", s.Fd(), s.LocalAddr(), s.RemoteAddr())

	if len(authCmd) > 0 {
		logging.Debugf("[%ds] initializing", s.Fd())
		s.SetInitializeStep(1)
		s.SetInitializeStatus(core.Initializing)
		return utils.S2B(authCmd), core.None
	}

	s.SetInitializeStep(0)
	s.SetInitializeStatus(core.Initialized)
	return nil, core.None
}

// OnSClosed fires when a backend server connection has been closed. Any
// requests still outstanding on s at close time are failed and released by
// the event loop (core/eventloop.go failOutstandingServer) before this fires.
func (ls *listenServer) OnSClosed(s core.SConn, err error) {
	logging.Infof("[%ds] server conn closed, local: %s, remote: %s, error: %+v", s.Fd(), s.LocalAddr(), s.RemoteAddr(), err)
}
