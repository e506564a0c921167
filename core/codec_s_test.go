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

type sRespTest struct {
	Input       string
	ExpectType  codec.Command
	ExpectBody  string
	ExpectError error
}

func TestSRespDecodeSuccess(t *testing.T) {
	var cases = [...]sRespTest{
		{Input: "+OK\r\n", ExpectType: codec.RspOk},
		{Input: "+PONG\r\n", ExpectType: codec.RspPong},
		{Input: "+FOO\r\n", ExpectType: codec.RspStatus},

		{Input: "-NOAUTH Authentication required\r\n", ExpectType: codec.RspNeedAuth},
		{Input: "-ERR invalid password\r\n", ExpectType: codec.RspAuthFailed},
		{Input: "-ERR Client sent AUTH, but no password is set\r\n", ExpectType: codec.RspNeedNtAuth},
		{Input: "-ERR unknown command\r\n", ExpectType: codec.RspError},

		{Input: ":42\r\n", ExpectType: codec.RspInteger},

		{Input: "$1\r\n1\r\n", ExpectType: codec.RspBulk},
		{Input: "$-1\r\n", ExpectType: codec.RspBulk},

		{Input: "*0\r\n", ExpectType: codec.RspMultibulk},
		{Input: "*1\r\n$3\r\nfoo\r\n", ExpectType: codec.RspMultibulk},
	}

	for _, v := range cases {
		c := new(mockedConn)
		c.On("Peek").Return(utils.S2B(v.Input))
		c.On("Fd").Return(0)

		r := new(SRespCodec)
		r.MsgMaxLength = 64
		m, err := r.Decode(c)

		assert.NoError(t, err, "input: %s", v.Input)
		assert.Equal(t, v.ExpectType, m.rspType, "input: %s", v.Input)
		assert.Equal(t, v.Input, utils.B2S(m.rspBody), "input: %s", v.Input)
		msgPoolImpl.release(m)
	}
}

func TestSRespDecodeIncomplete(t *testing.T) {
	var cases = []string{
		"+OK",
		"$1\r\n",
		"$1\r\na",
		"*1\r\n",
		"*1\r\n$2\r\na",
	}

	for _, input := range cases {
		c := new(mockedConn)
		c.On("Peek").Return(utils.S2B(input))

		r := new(SRespCodec)
		r.MsgMaxLength = 102400
		_, err := r.Decode(c)
		assert.Error(t, err, "input: %s", input)
	}
}

func TestCoalesceMGet(t *testing.T) {
	initGnetService()

	parent := msgPoolImpl.newRequest()
	parent.keys = []string{"a", "b"}
	parent.frags = nil

	childA := msgPoolImpl.newRequest()
	childA.fragParent = parent
	childA.keys = []string{"a"}
	childA.preCoalesce = coalesceMGet

	childB := msgPoolImpl.newRequest()
	childB.fragParent = parent
	childB.keys = []string{"b"}
	childB.preCoalesce = coalesceMGet

	parent.frags = []*Msg{childA, childB}

	replyA, _ := msgPoolImpl.newResponse(nil)
	replyA.rspBody = utils.S2B("*1\r\n$1\r\n1\r\n")
	replyA.peer = childA

	replyB, _ := msgPoolImpl.newResponse(nil)
	replyB.rspBody = utils.S2B("*1\r\n$1\r\n2\r\n")
	replyB.peer = childB

	parent.fragsDone++
	coalesceMGet(replyA)
	parent.fragsDone++
	coalesceMGet(replyB)

	assert.Equal(t, "*2\r\n$1\r\n1\r\n$1\r\n2\r\n", string(parent.rspBody))
}
