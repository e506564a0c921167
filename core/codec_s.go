// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2011 Twitter, Inc.
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
	"fmt"
	"strconv"
	"strings"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"
	"rcproxy/core/pkg/utils"
)

var ShortcutOK = map[int8]string{
	1: codec.OK.String(),
	2: codec.OK.String() + codec.OK.String(),
}

// SRespCodec implements C3's parsing half: given bytes on a server
// connection, it assembles one complete reply Msg. Pairing with the
// outstanding request is the forwarder's job, not
// this codec's -- Decode never touches the out-queue.
type SRespCodec struct {
	MsgMaxLength int
}

// InitializingDecode consumes the pipelined AUTH/READONLY handshake bytes a
// freshly dialed backend connection sends before it's ready to carry
// traffic.
func (rc *SRespCodec) InitializingDecode(s SConn) error {
	bs, _ := s.Peek(0)
	buf := codec.NewBuffer(bs)
	if buf.Empty() {
		return errors.ErrIncompletePacket
	}

	totalStep := s.InitializeStep()

	if totalStep < 1 {
		logging.Errorf("[%ds] unknown initialize total step %d", s.Fd(), totalStep)
		return codec.ErrInvalidInitializing
	}

	if _, ok := ShortcutOK[totalStep]; !ok {
		logging.Errorf("[%ds] unknown initialize total step %d", s.Fd(), totalStep)
		return codec.ErrInvalidInitializing
	}

	if (buf.TotalSize() >= int(totalStep)*codec.OK.Len()) && (strings.HasPrefix(utils.B2S(buf.PeekAll()), ShortcutOK[totalStep])) {
		s.Discard(int(totalStep) * codec.OK.Len())
		s.SetInitializeStatus(Initialized)
		logging.Debugf("[%ds] initialized", s.Fd())
		return nil
	}

	if buf.PeekAll()[0] != '-' && buf.PeekAll()[0] != '+' {
		logging.Errorf("[%ds] unknown initialize response: %s", s.Fd(), utils.FormatRedisRESPMessages(buf.PeekAll()))
		return codec.ErrInvalidInitializing
	}

	if strings.HasPrefix(ShortcutOK[totalStep], utils.B2S(buf.PeekAll())) {
		return errors.ErrIncompletePacket
	}

	return nil
}

// Decode parses exactly one reply and returns a fresh response Msg bound to
// s, with rspBody holding the raw wire bytes and rspType the classification
// readReply derived (used by the receiver to special-case auth failures).
// A reply that is not yet fully buffered yields errors.ErrIncompletePacket.
func (rc *SRespCodec) Decode(s SConn) (*Msg, error) {
	bs, _ := s.Peek(0)
	buf := codec.NewBuffer(bs)
	if buf.Empty() {
		return nil, errors.ErrIncompletePacket
	}

	rType, err := rc.readReply(buf)
	if err != nil {
		if err == codec.ShortLine || err == codec.EmptyLine || err == codec.ErrLFNotFound {
			return nil, errors.ErrIncompletePacket
		}
		return nil, err
	}

	m, allocErr := msgPoolImpl.newResponse(s)
	if allocErr != nil {
		return nil, allocErr
	}
	m.rspType = rType
	m.rspBody = append(m.rspBody[:0], buf.ReadBuf()...)

	logging.Debugfunc(func() string {
		return fmt.Sprintf("[%dm][%ds] reply parsed: %s", m.id, s.Fd(), utils.FormatRedisRESPMessages(m.rspBody))
	})

	s.Discard(buf.ReadSize())
	return m, nil
}

func (rc *SRespCodec) readReply(buf *codec.Buffer) (codec.Command, error) {
	line, err := buf.ReadLine()
	if err != nil {
		return codec.UNKNOWN, err
	}
	if len(line) == 0 {
		return codec.UNKNOWN, codec.BadLine
	}
	switch line[0] {
	case '+':
		if strings.HasPrefix(utils.B2S(line), codec.OK.ShortString()) {
			return codec.RspOk, nil
		}
		if strings.HasPrefix(utils.B2S(line), codec.PONG.ShortString()) {
			return codec.RspPong, nil
		}
		return codec.RspStatus, nil
	case ':':
		return codec.RspInteger, nil
	case '-':
		switch {
		case strings.HasPrefix(utils.B2S(line), "-NOAUTH Authentication required"):
			return codec.RspNeedAuth, nil
		case strings.HasPrefix(utils.B2S(line), "-ERR invalid password"):
			return codec.RspAuthFailed, nil
		case strings.HasPrefix(utils.B2S(line), "-ERR Client sent AUTH, but no password is set"):
			fallthrough
		case strings.HasPrefix(utils.B2S(line), "-ERR AUTH <password> called without any password configured for the default user."):
			return codec.RspNeedNtAuth, nil
		}
		return codec.RspError, nil
	case '$':
		n, err := parseLen(line[1:])
		if err != nil {
			return codec.UNKNOWN, err
		}
		if n < 0 {
			return codec.RspBulk, nil
		}
		_, err = buf.ReadN(n)
		if err != nil {
			return codec.UNKNOWN, err
		}
		crlf, err := buf.ReadN(2)
		if err != nil {
			return codec.UNKNOWN, err
		}
		if crlf[0] != '\r' || crlf[1] != '\n' {
			return codec.UNKNOWN, codec.ErrInvalidResp
		}
		return codec.RspBulk, nil
	case '*':
		n, err := parseLen(line[1:])
		if n < 0 || err != nil {
			return codec.UNKNOWN, err
		}
		for i := 0; i < n; i++ {
			_, err := rc.readReply(buf)
			if err != nil {
				return codec.UNKNOWN, err
			}
		}
		return codec.RspMultibulk, nil
	}
	return codec.UNKNOWN, codec.ErrInvalidResp
}

// ---- pre_coalesce hooks, wired by codec_c.go's fragmentKeys/fragmentPairs ----
//
// Each is invoked as child.preCoalesce(reply) by the forwarder once
// reply.peer == child. They accumulate into
// child.fragParent.rspBody and finalize its wire framing once every sibling
// has reported in (child.fragParent.fragsDone == len(frags)).

func coalesceMGet(reply *Msg) {
	child := reply.peer
	if child == nil || child.fragParent == nil {
		return
	}
	parent := child.fragParent

	child.parsed = parseMultibulkValues(reply.rspBody, len(child.keys))

	if parent.fragsDone < len(parent.frags) {
		return
	}

	parent.rspBody = append(parent.rspBody[:0], '*')
	parent.rspBody = append(parent.rspBody, strconv.Itoa(len(parent.keys))...)
	parent.rspBody = append(parent.rspBody, codec.LFCRByte...)

	for _, k := range parent.keys {
		parent.rspBody = append(parent.rspBody, valueForKey(parent, k)...)
	}
}

func coalesceDel(reply *Msg) {
	child := reply.peer
	if child == nil || child.fragParent == nil {
		return
	}
	parent := child.fragParent

	line := reply.rspBody
	if len(line) > 3 {
		n, _ := parseLen(line[1 : len(line)-2])
		parent.delCount += n
	}

	if parent.fragsDone < len(parent.frags) {
		return
	}
	parent.rspBody = append(parent.rspBody[:0], fmt.Sprintf(":%d\r\n", parent.delCount)...)
}

func coalesceMSet(reply *Msg) {
	child := reply.peer
	if child == nil || child.fragParent == nil {
		return
	}
	parent := child.fragParent

	if reply.rspType != codec.RspOk {
		parent.err = codec.ErrUnKnown
	}

	if parent.fragsDone < len(parent.frags) {
		return
	}
	if parent.err != "" {
		parent.rspBody = append(parent.rspBody[:0], parent.err.Bytes()...)
		return
	}
	parent.rspBody = append(parent.rspBody[:0], codec.OK...)
}

// parseMultibulkValues splits a RESP multibulk reply into its n top-level
// element wire chunks (each including its own framing), in order.
func parseMultibulkValues(body []byte, n int) []string {
	buf := codec.NewBuffer(body)
	kLenLine, err := buf.ReadLine()
	if err != nil {
		return nil
	}
	kLen, _ := parseLen(kLenLine[1:])
	if kLen < n {
		n = kLen
	}
	out := make([]string, 0, n)
	for len(out) < n {
		line, err := buf.ReadLine()
		if err != nil {
			break
		}
		ln, _ := parseLen(line[1:])
		if ln < 0 {
			out = append(out, fmt.Sprintf("%s\r\n", line))
			continue
		}
		val, err := buf.ReadLine()
		if err != nil {
			break
		}
		out = append(out, fmt.Sprintf("%s\r\n%s\r\n", line, val))
	}
	return out
}

// valueForKey finds k's parsed wire chunk among parent's fragment children,
// preserving the client's requested key order in the coalesced reply.
func valueForKey(parent *Msg, k string) string {
	for _, child := range parent.frags {
		for i, ck := range child.keys {
			if ck == k && i < len(child.parsed) {
				return child.parsed[i]
			}
		}
	}
	return "$-1\r\n"
}

func (rc *SRespCodec) sizeTooLarge(size int) bool {
	return size > rc.MsgMaxLength
}
