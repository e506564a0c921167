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
	"github.com/stretchr/testify/require"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/utils"
)

func TestMcDecodeGetSingleKey(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("get foo\r\n"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMcGet, req.Type())
	assert.Equal(t, []string{"foo"}, req.Keys())
	assert.False(t, req.Fragmented())
	msgPoolImpl.release(req)
}

func TestMcDecodeGetMultiKeyFragments(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("get a b c\r\n"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMcGet, req.Type())
	assert.Equal(t, []string{"a", "b", "c"}, req.Keys())
	assert.True(t, req.Fragmented())

	var gotKeys []string
	for _, frag := range req.Frags() {
		gotKeys = append(gotKeys, frag.keys...)
		assert.NotNil(t, frag.preCoalesce)
		assert.Equal(t, req.fragID, frag.fragID)
		assert.Same(t, req, frag.fragParent)
		assert.Contains(t, string(frag.body), "get ")
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, gotKeys)
}

func TestMcDecodeSet(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("set foo 0 0 3\r\nbar\r\n"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMcSet, req.Type())
	assert.Equal(t, []string{"foo"}, req.Keys())
	assert.Equal(t, "set foo 0 0 3\r\nbar\r\n", req.BodyString())
	assert.False(t, req.swallow)
}

func TestMcDecodeSetNoreplySwallows(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("set foo 0 0 3 noreply\r\nbar\r\n"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.True(t, req.swallow)
}

func TestMcDecodeDelete(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("delete foo\r\n"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMcDelete, req.Type())
	assert.Equal(t, []string{"foo"}, req.Keys())
}

func TestMcDecodeIncr(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("incr foo 1\r\n"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	req, err := r.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.ReqMcIncr, req.Type())
	assert.Equal(t, []string{"foo"}, req.Keys())
}

func TestMcDecodeIncompletePacket(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("set foo 0 0 3\r\nba"))

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	_, err := r.Decode(c)
	assert.ErrorIs(t, err, errors.ErrIncompletePacket)
}

func TestMcDecodeUnsupportedCommand(t *testing.T) {
	c := new(mockedConn)
	c.On("Peek").Return(utils.S2B("flush_all\r\n"))
	c.On("Fd").Return(0)

	r := new(CMemcachedCodec)
	r.MsgMaxLength = 64
	_, err := r.Decode(c)
	assert.ErrorIs(t, err, codec.ErrInvalidResp)
}
