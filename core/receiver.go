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
	"os"

	gerrors "rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"

	"rcproxy/core/codec"
)

// receiveServer drives C3 on a readable server connection: it pulls as many
// fully-parsed replies out of the socket buffer as are available and hands
// each to the filter/forwarder (C4), using an allocate-or-resume /
// consume-until-incomplete-or-eof algorithm.
func (el *eventloop) receiveServer(s *conn) error {
	for {
		m, err := s.sread()
		if err != nil {
			switch err {
			case gerrors.ErrIncompletePacket:
				// Incomplete reply, wait for the next readable edge.
				return nil
			case codec.ErrUnKnown, codec.ErrInvalidResp, codec.ErrInvalidInitializing:
				logging.Errorf("[%ds] malformed reply from server, closing: %s", s.fd, err)
				return el.closeConn(s, os.NewSyscallError("parse", err), ConnErr)
			default:
				logging.Errorf("[%ds] reply parse failed, closing: %s", s.fd, err)
				return el.closeConn(s, err, ConnErr)
			}
		}

		if m.rspType == codec.RspNeedNtAuth || m.rspType == codec.RspNeedAuth || m.rspType == codec.RspAuthFailed {
			logging.Errorf("[%dm][%ds] shutting down: invalid backend auth, reply: %s", m.id, s.fd, string(m.rspBody))
			return gerrors.ErrEngineShutdown
		}

		if err = el.forwardReply(s, m); err != nil {
			return err
		}

		if !s.opened {
			return nil
		}
	}
}
