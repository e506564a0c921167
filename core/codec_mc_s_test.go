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
	"testing"

	"github.com/stretchr/testify/assert"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/utils"
)

type sMemcachedTest struct {
	Input      string
	ExpectType codec.Command
}

func TestSMemcachedDecodeSuccess(t *testing.T) {
	var cases = [...]sMemcachedTest{
		{Input: "STORED\r\n", ExpectType: codec.RspMcStored},
		{Input: "NOT_STORED\r\n", ExpectType: codec.RspMcNotStored},
		{Input: "EXISTS\r\n", ExpectType: codec.RspMcExists},
		{Input: "NOT_FOUND\r\n", ExpectType: codec.RspMcNotFound},
		{Input: "DELETED\r\n", ExpectType: codec.RspMcDeleted},
		{Input: "END\r\n", ExpectType: codec.RspMcValue},
		{Input: "42\r\n", ExpectType: codec.RspMcNumeric},
		{Input: "ERROR\r\n", ExpectType: codec.RspMcError},
		{Input: "CLIENT_ERROR bad command line format\r\n", ExpectType: codec.RspMcClientError},
		{Input: "SERVER_ERROR object too large for cache\r\n", ExpectType: codec.RspMcServerError},
		{Input: "VALUE foo 0 3\r\nbar\r\nEND\r\n", ExpectType: codec.RspMcValue},
		{Input: "VALUE foo 0 1\r\na\r\nVALUE bar 0 1\r\nb\r\nEND\r\n", ExpectType: codec.RspMcValue},
	}
	for _, v := range cases {
		c := new(mockedConn)
		c.On("Peek").Return(utils.S2B(v.Input))
		r := new(SMemcachedCodec)
		r.MsgMaxLength = 64
		m, err := r.Decode(c)
		assert.NoError(t, err, "input: %s", v.Input)
		assert.Equal(t, v.ExpectType, m.rspType, "input: %s", v.Input)
		assert.Equal(t, v.Input, utils.B2S(m.rspBody), "input: %s", v.Input)
		msgPoolImpl.release(m)
	}
}

func TestSMemcachedDecodeIncomplete(t *testing.T) {
	cases := []string{
		"STOR",
		"VALUE foo 0 3\r\nba",
		"VALUE foo 0 3\r\nbar\r\n",
	}
	for _, in := range cases {
		c := new(mockedConn)
		c.On("Peek").Return(utils.S2B(in))
		r := new(SMemcachedCodec)
		r.MsgMaxLength = 64
		_, err := r.Decode(c)
		assert.Error(t, err, "input: %s", in)
	}
}

func TestCoalesceMcGet(t *testing.T) {
	parent := msgPoolImpl.newRequest()
	parent.keys = []string{"a", "b"}
	parent.fragID = parent.id
	parent.done = true

	childA := msgPoolImpl.newRequest()
	childA.fragID = parent.fragID
	childA.fragParent = parent
	childA.keys = []string{"a"}
	childA.preCoalesce = coalesceMcGet

	childB := msgPoolImpl.newRequest()
	childB.fragID = parent.fragID
	childB.fragParent = parent
	childB.keys = []string{"b"}
	childB.preCoalesce = coalesceMcGet

	parent.frags = []*Msg{childA, childB}

	replyA, _ := msgPoolImpl.newResponse(nil)
	replyA.rspBody = []byte("VALUE a 0 1\r\na\r\nEND\r\n")
	replyA.peer = childA
	childA.peer = replyA

	replyB, _ := msgPoolImpl.newResponse(nil)
	replyB.rspBody = []byte("END\r\n")
	replyB.peer = childB
	childB.peer = replyB

	parent.fragsDone = 1
	childA.preCoalesce(replyA)
	parent.fragsDone = 2
	childB.preCoalesce(replyB)

	assert.Equal(t, "VALUE a 0 1\r\na\r\nEND\r\n", string(parent.rspBody))
}
