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
	"strconv"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/hashkit"
	"rcproxy/core/pkg/logging"
)

// CMemcachedCodec parses client requests written in the classic memcached
// text protocol. get/gets are the only commands that take more than one
// key, so they are the only ones that ever fragment across shards; every
// other supported command is single-key and passes through as one
// non-fragmented Msg, verbatim wire bytes included.
type CMemcachedCodec struct {
	MsgMaxLength int
}

var memcachedVerbTable = map[string]codec.Command{
	"get":     codec.ReqMcGet,
	"gets":    codec.ReqMcGets,
	"set":     codec.ReqMcSet,
	"add":     codec.ReqMcAdd,
	"replace": codec.ReqMcReplace,
	"append":  codec.ReqMcAppend,
	"prepend": codec.ReqMcPrepend,
	"cas":     codec.ReqMcCas,
	"delete":  codec.ReqMcDelete,
	"incr":    codec.ReqMcIncr,
	"decr":    codec.ReqMcDecr,
}

// Decode parses exactly one client request, returning errors.ErrIncompletePacket
// while more bytes are needed and codec.ErrInvalidResp on malformed or
// unsupported input.
func (mc *CMemcachedCodec) Decode(c CConn) (*Msg, error) {
	bs, _ := c.Peek(0)
	buf := codec.NewBuffer(bs)
	if buf.Empty() {
		return nil, errors.ErrIncompletePacket
	}

	line, err := buf.ReadLine()
	if err != nil {
		return nil, errors.ErrIncompletePacket
	}

	fields := splitFields(line)
	if len(fields) == 0 {
		logging.Warnf("[%dc] empty memcached command", c.Fd())
		return nil, codec.ErrInvalidResp
	}
	toLowerBytes(fields[0])
	verb := string(fields[0])

	typ, ok := memcachedVerbTable[verb]
	if !ok {
		logging.Warnf("[%dc] unsupported memcached command: %s", c.Fd(), verb)
		return nil, codec.ErrInvalidResp
	}

	req := msgPoolImpl.newRequest()
	req.owner = c
	req.typ = typ
	GlobalStats.ReqCmdIncr(req.typ)

	if mc.sizeTooLarge(buf.TotalSize()) {
		req.typ = codec.ReqTooLarge
	}

	switch typ {
	case codec.ReqMcGet, codec.ReqMcGets:
		err = mc.decodeGet(verb, fields[1:], req, buf)
	case codec.ReqMcSet, codec.ReqMcAdd, codec.ReqMcReplace, codec.ReqMcAppend, codec.ReqMcPrepend:
		err = mc.decodeStorage(fields, req, buf)
	case codec.ReqMcCas:
		err = mc.decodeCas(fields, req, buf)
	case codec.ReqMcDelete:
		err = mc.decodeDelete(fields, req, buf)
	case codec.ReqMcIncr, codec.ReqMcDecr:
		err = mc.decodeIncrDecr(fields, req, buf)
	}
	if err != nil {
		msgPoolImpl.release(req)
		return nil, err
	}

	GlobalStats.TotalRequests.WithLabelValues().Inc()
	_, _ = c.Discard(buf.ReadSize())
	return req, nil
}

// decodeGet handles get/gets: a single requested key passes through
// untouched, while more than one fragments across shards exactly like
// Redis's MGET, just with memcached's space-joined wire framing.
func (mc *CMemcachedCodec) decodeGet(verb string, keyTokens [][]byte, req *Msg, buf *codec.Buffer) error {
	if len(keyTokens) == 0 {
		return codec.ErrInvalidResp
	}
	if len(keyTokens) == 1 {
		req.keys = append(req.keys[:0], string(keyTokens[0]))
		req.body = append(req.body[:0], buf.ReadBuf()...)
		return nil
	}

	byShard := make(map[uint16][]string)
	order := make([]uint16, 0, len(keyTokens))
	for _, tok := range keyTokens {
		key := string(tok)
		req.keys = append(req.keys, key)
		shard := hashkit.Hash(key)
		if _, ok := byShard[shard]; !ok {
			order = append(order, shard)
		}
		byShard[shard] = append(byShard[shard], key)
	}

	req.fragID = req.id
	req.done = true
	req.frags = make([]*Msg, 0, len(order))
	for _, shard := range order {
		keys := byShard[shard]
		child := msgPoolImpl.newRequest()
		child.fragID = req.fragID
		child.fragParent = req
		child.keys = append(child.keys[:0], keys...)
		child.body = append(child.body[:0], buildMcMultiKeyCommand(verb, keys)...)
		child.preCoalesce = coalesceMcGet
		req.frags = append(req.frags, child)
	}
	GlobalStats.Fragments.WithLabelValues(codec.Transform2Str(req.typ)).Inc()
	return nil
}

func buildMcMultiKeyCommand(verb string, keys []string) []byte {
	body := append([]byte(nil), verb...)
	for _, k := range keys {
		body = append(body, ' ')
		body = append(body, k...)
	}
	body = append(body, codec.LFCRByte...)
	return body
}

// decodeStorage handles set/add/replace/append/prepend: <key> <flags>
// <exptime> <bytes> [noreply], followed by a <bytes>-length data block and
// its own trailing CRLF.
func (mc *CMemcachedCodec) decodeStorage(fields [][]byte, req *Msg, buf *codec.Buffer) error {
	if len(fields) < 5 || len(fields) > 6 {
		return codec.ErrInvalidResp
	}
	if err := mc.consumeDataBlock(fields[4], buf); err != nil {
		return err
	}
	req.keys = append(req.keys[:0], string(fields[1]))
	req.body = append(req.body[:0], buf.ReadBuf()...)
	if len(fields) == 6 && string(fields[5]) == "noreply" {
		req.swallow = true
	}
	return nil
}

// decodeCas handles cas: <key> <flags> <exptime> <bytes> <cas unique>
// [noreply], same data-block shape as the other storage commands.
func (mc *CMemcachedCodec) decodeCas(fields [][]byte, req *Msg, buf *codec.Buffer) error {
	if len(fields) < 6 || len(fields) > 7 {
		return codec.ErrInvalidResp
	}
	if err := mc.consumeDataBlock(fields[4], buf); err != nil {
		return err
	}
	req.keys = append(req.keys[:0], string(fields[1]))
	req.body = append(req.body[:0], buf.ReadBuf()...)
	if len(fields) == 7 && string(fields[6]) == "noreply" {
		req.swallow = true
	}
	return nil
}

func (mc *CMemcachedCodec) decodeDelete(fields [][]byte, req *Msg, buf *codec.Buffer) error {
	if len(fields) < 2 || len(fields) > 3 {
		return codec.ErrInvalidResp
	}
	req.keys = append(req.keys[:0], string(fields[1]))
	req.body = append(req.body[:0], buf.ReadBuf()...)
	if len(fields) == 3 && string(fields[2]) == "noreply" {
		req.swallow = true
	}
	return nil
}

func (mc *CMemcachedCodec) decodeIncrDecr(fields [][]byte, req *Msg, buf *codec.Buffer) error {
	if len(fields) < 3 || len(fields) > 4 {
		return codec.ErrInvalidResp
	}
	req.keys = append(req.keys[:0], string(fields[1]))
	req.body = append(req.body[:0], buf.ReadBuf()...)
	if len(fields) == 4 && string(fields[3]) == "noreply" {
		req.swallow = true
	}
	return nil
}

// consumeDataBlock reads the <bytes>-length payload following a storage
// command's first line plus its trailing CRLF, without copying it out:
// the whole span stays part of buf.ReadBuf() and is forwarded verbatim.
func (mc *CMemcachedCodec) consumeDataBlock(bytesField []byte, buf *codec.Buffer) error {
	n, convErr := strconv.Atoi(string(bytesField))
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

func (mc *CMemcachedCodec) sizeTooLarge(size int) bool {
	return size > mc.MsgMaxLength
}
