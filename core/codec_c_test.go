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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/utils"
)

func initGnetService() {
	EngineGlobal = &Engine{
		cCodec: &CRespCodec{10000},
		sCodec: &SRespCodec{10000},
	}
}

func TestCRespDecodeGet(t *testing.T) {
	initGnetService()

	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("*2\r\n$3\r\nget\r\n$3\r\nfoo\r\n"))

	r := new(CRespCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqGet, req.Type())
	assert.Equal(t, []string{"foo"}, req.Keys())
	assert.False(t, req.Fragmented())
	msgPoolImpl.release(req)
}

func TestCRespDecodeMget(t *testing.T) {
	initGnetService()

	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("*4\r\n$4\r\nmget\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n"))

	r := new(CRespCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMget, req.Type())
	assert.Equal(t, []string{"a", "b", "c"}, req.Keys())
	assert.True(t, req.Fragmented())

	var gotKeys []string
	for _, frag := range req.Frags() {
		gotKeys = append(gotKeys, frag.keys...)
		assert.NotNil(t, frag.preCoalesce)
		assert.Equal(t, req.fragID, frag.fragID)
		assert.Same(t, req, frag.fragParent)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, gotKeys)
}

func TestCRespDecodeDel(t *testing.T) {
	initGnetService()

	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("*3\r\n$3\r\ndel\r\n$1\r\na\r\n$1\r\nb\r\n"))

	r := new(CRespCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqDel, req.Type())
	assert.True(t, req.Fragmented())
	for _, frag := range req.Frags() {
		assert.Contains(t, string(frag.body), "del")
	}
}

func TestCRespDecodeMset(t *testing.T) {
	initGnetService()

	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("*5\r\n$4\r\nmset\r\n$1\r\na\r\n$1\r\n1\r\n$1\r\nb\r\n$1\r\n2\r\n"))

	r := new(CRespCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMset, req.Type())
	assert.True(t, req.Fragmented())
	for _, frag := range req.Frags() {
		assert.NotNil(t, frag.preCoalesce)
	}
}

func TestCRespDecodeIncompletePacket(t *testing.T) {
	initGnetService()

	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("*2\r\n$3\r\nget\r\n$3\r\nfo"))

	r := new(CRespCodec)
	r.MsgMaxLength = 64
	_, err := r.Decode(c)
	assert.ErrorIs(t, err, errors.ErrIncompletePacket)
}
