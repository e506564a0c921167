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
	"rcproxy/core/codec"
	rcerrors "rcproxy/core/pkg/errors"
)

// Protocol selects which wire codec and error-rendering table a connection
// uses. A listener serves exactly one protocol; server connections inherit
// it from the pool they belong to.
type Protocol int8

const (
	ProtocolRedis Protocol = iota
	ProtocolMemcached
)

func (p Protocol) String() string {
	if p == ProtocolMemcached {
		return "memcached"
	}
	return "redis"
}

// ParseProtocol maps a config-file protocol name to its Protocol value,
// defaulting to ProtocolRedis for an empty or unrecognized name.
func ParseProtocol(name string) Protocol {
	if name == "memcached" {
		return ProtocolMemcached
	}
	return ProtocolRedis
}

// errAllocFail is the core package's local name for the shared pool-exhaustion
// sentinel; kept as an unqualified alias since it is checked on the hot
// allocation path in every codec and the forwarder.
var errAllocFail = rcerrors.ErrAllocFail

// renderError renders one error-taxonomy row into wire bytes for
// the given protocol: new_error_response(protocol, err_kind). codec.Error
// constants are themselves pre-rendered RESP error lines, so the redis path
// is a direct passthrough; the memcached path maps each sentinel onto the
// equivalent classic-text-protocol error line, falling back to a generic
// SERVER_ERROR for anything this table doesn't name explicitly.
func renderError(protocol Protocol, err codec.Error) []byte {
	if protocol != ProtocolMemcached {
		return err.Bytes()
	}
	if b, ok := memcachedErrorTable[err]; ok {
		return b
	}
	return memcachedGenericError
}

var memcachedGenericError = []byte("SERVER_ERROR backend error\r\n")

var memcachedErrorTable = map[codec.Error][]byte{
	codec.ErrMsgRequestTimeout:          []byte("SERVER_ERROR request timed out\r\n"),
	codec.ErrUnKnown:                    memcachedGenericError,
	codec.ErrUnKnownProxyPoolError:      []byte("SERVER_ERROR shard unavailable\r\n"),
	codec.ErrUnKnownProxyPoolConnError:  []byte("SERVER_ERROR shard unavailable\r\n"),
	codec.ErrMsgReqTooLarge:             []byte("SERVER_ERROR object too large for cache\r\n"),
	codec.ErrMsgRspTooLarge:             []byte("SERVER_ERROR object too large for cache\r\n"),
	codec.ErrMsgReqWrongArgumentsNumber: []byte("CLIENT_ERROR bad command line format\r\n"),
	codec.ErrUnKnownCommand:             []byte("ERROR\r\n"),
}
