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
	"bytes"
	"strconv"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/logging"
	"rcproxy/core/pkg/utils"
)

// SMemcachedCodec implements the receiver's parsing half for a backend
// speaking the classic memcached text protocol: given bytes on a server
// connection, it assembles one complete reply Msg. Pairing with the
// outstanding request is the forwarder's job, not this codec's.
type SMemcachedCodec struct {
	MsgMaxLength int
}

// InitializingDecode is a no-op: classic-text memcached has no connection
// handshake, so a backend connection for this protocol starts Initialized
// and this method is never actually invoked in practice.
func (mc *SMemcachedCodec) InitializingDecode(s SConn) error {
	s.SetInitializeStatus(Initialized)
	return nil
}

// Decode parses exactly one reply and returns a fresh response Msg bound to
// s, with rspBody holding the raw wire bytes and rspType the classification
// readReply derived.
func (mc *SMemcachedCodec) Decode(s SConn) (*Msg, error) {
	bs, _ := s.Peek(0)
	buf := codec.NewBuffer(bs)
	if buf.Empty() {
		return nil, errors.ErrIncompletePacket
	}

	rType, err := mc.readReply(buf, s)
	if err != nil {
		return nil, err
	}

	m, allocErr := msgPoolImpl.newResponse(s)
	if allocErr != nil {
		return nil, allocErr
	}
	m.rspType = rType
	m.rspBody = append(m.rspBody[:0], buf.ReadBuf()...)

	s.Discard(buf.ReadSize())
	return m, nil
}

// readReply classifies and fully consumes one reply: a single status or
// numeric line, or a run of one-or-more VALUE blocks terminated by a
// single END (the shape a multi-key get produces).
func (mc *SMemcachedCodec) readReply(buf *codec.Buffer, s SConn) (codec.Command, error) {
	line, err := buf.ReadLine()
	if err != nil {
		return codec.UNKNOWN, errors.ErrIncompletePacket
	}

	switch {
	case bytes.Equal(line, []byte("STORED")):
		return codec.RspMcStored, nil
	case bytes.Equal(line, []byte("NOT_STORED")):
		return codec.RspMcNotStored, nil
	case bytes.Equal(line, []byte("EXISTS")):
		return codec.RspMcExists, nil
	case bytes.Equal(line, []byte("NOT_FOUND")):
		return codec.RspMcNotFound, nil
	case bytes.Equal(line, []byte("DELETED")):
		return codec.RspMcDeleted, nil
	case bytes.Equal(line, []byte("END")):
		return codec.RspMcValue, nil // miss: a get/gets with no matching keys
	case bytes.HasPrefix(line, []byte("VALUE ")):
		for {
			if err := mc.skipValueData(line, buf); err != nil {
				return codec.UNKNOWN, err
			}
			next, err := buf.ReadLine()
			if err != nil {
				return codec.UNKNOWN, errors.ErrIncompletePacket
			}
			if bytes.Equal(next, []byte("END")) {
				return codec.RspMcValue, nil
			}
			if !bytes.HasPrefix(next, []byte("VALUE ")) {
				logging.Warnf("[%ds] unexpected memcached reply: %s", s.Fd(), utils.B2S(buf.PeekAll()))
				return codec.UNKNOWN, codec.ErrInvalidResp
			}
			line = next
		}
	case bytes.Equal(line, []byte("ERROR")):
		return codec.RspMcError, nil
	case bytes.HasPrefix(line, []byte("CLIENT_ERROR")):
		return codec.RspMcClientError, nil
	case bytes.HasPrefix(line, []byte("SERVER_ERROR")):
		return codec.RspMcServerError, nil
	case isDigits(line):
		return codec.RspMcNumeric, nil // incr/decr's new value
	}

	logging.Warnf("[%ds] unexpected memcached reply: %s", s.Fd(), utils.B2S(buf.PeekAll()))
	return codec.UNKNOWN, codec.ErrInvalidResp
}

// skipValueData consumes the data block and trailing CRLF a "VALUE <key>
// <flags> <bytes> [<cas>]" line introduces.
func (mc *SMemcachedCodec) skipValueData(valueLine []byte, buf *codec.Buffer) error {
	fields := splitFields(valueLine)
	if len(fields) < 4 {
		return codec.ErrInvalidResp
	}
	n, convErr := strconv.Atoi(string(fields[3]))
	if convErr != nil || n < 0 {
		return codec.ErrInvalidResp
	}
	if _, err := buf.ReadN(n); err != nil {
		return errors.ErrIncompletePacket
	}
	crlf, err := buf.ReadN(2)
	if err != nil {
		return errors.ErrIncompletePacket
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return codec.BadLine
	}
	return nil
}

func (mc *SMemcachedCodec) sizeTooLarge(size int) bool {
	return size > mc.MsgMaxLength
}

// ---- pre_coalesce hook, wired by codec_mc_c.go's decodeGet ----

// coalesceMcGet accumulates a fragment child's VALUE blocks into the
// parent's body, stripping each child's own terminal END and appending a
// single shared one once every shard has reported in. Key order is not
// preserved across shards: memcached's own multi-key get makes no such
// guarantee either, so concatenation in arrival order is faithful to the
// protocol, not just convenient.
func coalesceMcGet(reply *Msg) {
	child := reply.peer
	if child == nil || child.fragParent == nil {
		return
	}
	parent := child.fragParent

	if parent.fragsDone == 1 {
		parent.rspBody = parent.rspBody[:0]
	}

	body := reply.rspBody
	if idx := bytes.LastIndex(body, []byte("END\r\n")); idx >= 0 {
		parent.rspBody = append(parent.rspBody, body[:idx]...)
	} else {
		parent.rspBody = append(parent.rspBody, body...)
	}

	if parent.fragsDone < len(parent.frags) {
		return
	}
	parent.rspBody = append(parent.rspBody, "END\r\n"...)
}
