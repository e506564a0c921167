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
	"strconv"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/hashkit"
	"rcproxy/core/pkg/logging"
	"rcproxy/core/pkg/utils"
)

// CRespCodec parses client requests off the wire into Msgs. Key hashing and
// shard selection are an external collaborator's job -- this
// codec only groups keys by shard via hashkit.Hash so the router has
// ready-made per-shard fragments to dial out.
type CRespCodec struct {
	MsgMaxLength int
}

// Decode parses exactly one client request, returning errors.ErrIncompletePacket
// while more bytes are needed and codec.ErrInvalidResp on malformed input.
func (rc *CRespCodec) Decode(c CConn) (*Msg, error) {
	bs, _ := c.Peek(0)
	buf := codec.NewBuffer(bs)
	if buf.Empty() {
		return nil, errors.ErrIncompletePacket
	}

	line, err := buf.ReadLine()
	if err != nil {
		return nil, errors.ErrIncompletePacket
	}

	var n int
	switch line[0] {
	case '*':
		n, err = parseLen(line[1:])
		if n < 1 || err != nil {
			logging.Warnf("[%dc] unexpected resp, buf: %s", c.Fd(), utils.FormatRedisRESPMessages(buf.PeekAll()))
			if err == nil {
				err = codec.ErrInvalidResp
			}
			return nil, err
		}
	default:
		logging.Warnf("[%dc] unexpected resp, buf: %s", c.Fd(), utils.FormatRedisRESPMessages(buf.PeekAll()))
		return nil, codec.ErrInvalidResp
	}

	verb, err := rc.parseLine(buf)
	if err != nil {
		logging.Warnf("[%dc] unexpected resp, buf: %s", c.Fd(), utils.FormatRedisRESPMessages(buf.PeekAll()))
		return nil, err
	}
	n--

	req := msgPoolImpl.newRequest()
	req.owner = c
	req.typ = codec.Transform2Type(verb, n)
	GlobalStats.ReqCmdIncr(req.typ)

	if rc.sizeTooLarge(buf.TotalSize()) {
		req.typ = codec.ReqTooLarge
	}

	switch req.typ {
	case codec.ReqMget:
		err = rc.fragmentKeys(n, req, buf, buildMGetBody, coalesceMGet)
		GlobalStats.Fragments.WithLabelValues(codec.Transform2Str(codec.ReqMget)).Inc()
	case codec.ReqDel:
		err = rc.fragmentKeys(n, req, buf, buildDelBody, coalesceDel)
		GlobalStats.Fragments.WithLabelValues(codec.Transform2Str(codec.ReqDel)).Inc()
	case codec.ReqMset:
		err = rc.fragmentPairs(n, req, buf)
		GlobalStats.Fragments.WithLabelValues(codec.Transform2Str(codec.ReqMset)).Inc()
	default:
		err = rc.single(n, req, buf)
	}
	if err != nil {
		msgPoolImpl.release(req)
		return nil, err
	}

	GlobalStats.TotalRequests.WithLabelValues().Inc()
	_, _ = c.Discard(buf.ReadSize())
	return req, nil
}

// single parses a non-fragmented request (GET, SET, ...): the parent Msg
// doubles as the only fragment, so it is enqueued once on both the client
// and (by the router, not here) the chosen server connection.
func (rc *CRespCodec) single(n int, req *Msg, buf *codec.Buffer) error {
	var key string
	for i := 0; i < n; i++ {
		tok, err := rc.parseLine(buf)
		if err != nil {
			return err
		}
		if i == 0 {
			key = string(tok)
		}
	}
	req.keys = append(req.keys[:0], key)
	req.body = append(req.body[:0], buf.ReadBuf()...)
	return nil
}

// buildBody renders one shard's sub-command wire bytes given its verb and keys.
type buildBody func(verb string, keys []string) []byte

func buildMGetBody(_ string, keys []string) []byte {
	return buildMultiKeyCommand("mget", keys)
}

func buildDelBody(_ string, keys []string) []byte {
	return buildMultiKeyCommand("del", keys)
}

func buildMultiKeyCommand(verb string, keys []string) []byte {
	var body []byte
	body = append(body, '*')
	body = append(body, strconv.Itoa(len(keys)+1)...)
	body = append(body, "\r\n$"...)
	body = append(body, strconv.Itoa(len(verb))...)
	body = append(body, codec.LFCRByte...)
	body = append(body, verb...)
	body = append(body, codec.LFCRByte...)
	for _, k := range keys {
		body = append(body, '$')
		body = append(body, strconv.Itoa(len(k))...)
		body = append(body, codec.LFCRByte...)
		body = append(body, k...)
		body = append(body, codec.LFCRByte...)
	}
	return body
}

// fragmentKeys splits an N-key command into one sub-request per shard,
// grouped by hashkit.Hash, and wires each child's pre_coalesce hook so
// forwarding (C4) can accumulate replies back into req.
func (rc *CRespCodec) fragmentKeys(n int, req *Msg, buf *codec.Buffer, build buildBody, coalesce func(*Msg)) error {
	byShard := make(map[uint16][]string)
	order := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		tok, err := rc.parseLine(buf)
		if err != nil {
			return err
		}
		key := string(tok)
		req.keys = append(req.keys, key)
		shard := hashkit.Hash(key)
		if _, ok := byShard[shard]; !ok {
			order = append(order, shard)
		}
		byShard[shard] = append(byShard[shard], key)
	}

	req.fragID = req.id
	req.done = true // completion is governed by fragsDone vs len(frags), not an independent flag
	req.frags = make([]*Msg, 0, len(order))

	for _, shard := range order {
		keys := byShard[shard]
		child := msgPoolImpl.newRequest()
		child.fragID = req.fragID
		child.fragParent = req
		child.keys = append(child.keys[:0], keys...)
		child.body = append(child.body[:0], build("", keys)...)
		child.preCoalesce = coalesce
		req.frags = append(req.frags, child)
	}
	return nil
}

// fragmentPairs splits an MSET command's key/value pairs by shard.
func (rc *CRespCodec) fragmentPairs(n int, req *Msg, buf *codec.Buffer) error {
	type pair struct{ k, v string }
	byShard := make(map[uint16][]pair)
	order := make([]uint16, 0, n/2)
	for i := 0; i < n; i += 2 {
		kt, err := rc.parseLine(buf)
		if err != nil {
			return err
		}
		vt, err := rc.parseLine(buf)
		if err != nil {
			return err
		}
		key, val := string(kt), string(vt)
		req.keys = append(req.keys, key)
		shard := hashkit.Hash(key)
		if _, ok := byShard[shard]; !ok {
			order = append(order, shard)
		}
		byShard[shard] = append(byShard[shard], pair{key, val})
	}

	req.fragID = req.id
	req.done = true
	req.frags = make([]*Msg, 0, len(order))

	for _, shard := range order {
		pairs := byShard[shard]
		keys := make([]string, len(pairs))
		body := []byte{'*'}
		body = append(body, strconv.Itoa(len(pairs)*2+1)...)
		body = append(body, "\r\n$4\r\nmset\r\n"...)
		for i, p := range pairs {
			keys[i] = p.k
			for _, s := range [2]string{p.k, p.v} {
				body = append(body, '$')
				body = append(body, strconv.Itoa(len(s))...)
				body = append(body, codec.LFCRByte...)
				body = append(body, s...)
				body = append(body, codec.LFCRByte...)
			}
		}
		child := msgPoolImpl.newRequest()
		child.fragID = req.fragID
		child.fragParent = req
		child.keys = keys
		child.body = body
		child.preCoalesce = coalesceMSet
		req.frags = append(req.frags, child)
	}
	return nil
}

func (rc *CRespCodec) parseLine(buf *codec.Buffer) ([]byte, error) {
	line, err := buf.ReadLine()
	if err != nil {
		if err == codec.ErrCRNotFound {
			return nil, err
		}
		return nil, errors.ErrIncompletePacket
	}
	switch line[0] {
	case '$':
		n, err := parseLen(line[1:])
		if n < 0 || err != nil {
			return nil, err
		}
		b, err := buf.ReadN(n)
		if err != nil {
			return nil, errors.ErrIncompletePacket
		}
		crlf, err := buf.ReadN(2)
		if err != nil {
			return nil, errors.ErrIncompletePacket
		}
		if crlf[0] != '\r' || crlf[1] != '\n' {
			return nil, codec.BadLine
		}
		return b, nil
	default:
		return nil, codec.ErrInvalidResp
	}
}

func (rc *CRespCodec) sizeTooLarge(size int) bool {
	return size > rc.MsgMaxLength
}
