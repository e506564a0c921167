// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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
	"time"
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// TCPSocketOpt is the type of TCP socket options.
type TCPSocketOpt int

// Options are configurations for the gnet application.
type Options struct {
	// ================================== Options for only server-side ==================================

	// ============================= Options for both server-side and client-side =============================

	// ReadBufferCap is the maximum number of bytes that can be read from the peer when the readable event comes.
	// The default value is 64KB, it can either be reduced to avoid starving the subsequent connections or increased
	// to read more data from a socket.
	//
	// Note that ReadBufferCap will always be converted to the least power of two integer value greater than
	// or equal to its real amount.
	ReadBufferCap int

	// WriteBufferCap is the maximum number of bytes that a static outbound buffer can hold,
	// if the data exceeds this value, the overflow will be stored in the elastic linked list buffer.
	// The default value is 64KB.
	//
	// Note that WriteBufferCap will always be converted to the least power of two integer value greater than
	// or equal to its real amount.
	WriteBufferCap int

	// TCPKeepAlive sets up a duration for (SO_KEEPALIVE) socket option.
	TCPKeepAlive time.Duration

	// SocketRecvBuffer sets the maximum socket receive buffer in bytes.
	SocketRecvBuffer int

	// SocketSendBuffer sets the maximum socket send buffer in bytes.
	SocketSendBuffer int

	// ============================= Options for the backend server pool =============================

	// Protocol selects the wire protocol this listener serves: redis or memcached.
	Protocol Protocol

	// Servers is the static list of backend server addresses, comma-separated.
	Servers string

	// MsgMaxLength indicates the maximum allowed packet length.
	// If the maximum allowed packet length is exceeded, an error is reported.
	MsgMaxLength int

	// ServerConnectTimeout is the timeout dialing a backend server (unit: ms).
	ServerConnectTimeout int

	// RequestTimeout is the maximum time a request may remain unanswered before
	// the timer wheel synthesizes an error reply to the client (unit: ms).
	RequestTimeout int

	// ServerConnections is the maximum number of connections to each backend
	// server; best practice value is 1.
	ServerConnections int

	// Passwd is the backend server password, when the protocol supports AUTH.
	Passwd string

	// Preconnect indicates whether to dial every backend server at boot
	// instead of lazily on first request.
	Preconnect bool

	// SlowlogSlowerThan is the slow-log threshold (ms) copied into every
	// server pool at boot; there is no per-pool override.
	SlowlogSlowerThan int64
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option with duration.
func WithTCPKeepAlive(tcpKeepAlive time.Duration) Option {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithSocketRecvBuffer sets the maximum socket receive buffer in bytes.
func WithSocketRecvBuffer(recvBuf int) Option {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer sets the maximum socket send buffer in bytes.
func WithSocketSendBuffer(sendBuf int) Option {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

// WithProtocol sets up the wire protocol this listener serves.
func WithProtocol(protocol Protocol) Option {
	return func(opts *Options) {
		opts.Protocol = protocol
	}
}

// WithServers sets up the backend server address list.
func WithServers(addrs string) Option {
	return func(opts *Options) {
		opts.Servers = addrs
	}
}

// WithMsgMaxLength sets up the maximum allowed packet length.
// If the maximum allowed packet length is exceeded, an error is reported.
func WithMsgMaxLength(length int) Option {
	return func(opts *Options) {
		opts.MsgMaxLength = length
	}
}

// WithPasswd sets up the backend server password.
func WithPasswd(passwd string) Option {
	return func(opts *Options) {
		opts.Passwd = passwd
	}
}

// WithPreconnect sets whether to dial backend servers in advance.
func WithPreconnect(preconnect bool) Option {
	return func(opts *Options) {
		opts.Preconnect = preconnect
	}
}

// WithServerConnectTimeout sets up the connect timeout to a backend server (unit: ms).
func WithServerConnectTimeout(num int) Option {
	return func(opts *Options) {
		opts.ServerConnectTimeout = num
	}
}

// WithRequestTimeout sets up the maximum request timeout, otherwise an error is
// synthesized and returned to the client.
func WithRequestTimeout(timeout int) Option {
	return func(opts *Options) {
		opts.RequestTimeout = timeout
	}
}

// WithServerConnections sets up the maximum number of connections to each
// backend server; best practice value is 1.
func WithServerConnections(num int) Option {
	return func(opts *Options) {
		opts.ServerConnections = num
	}
}

// WithSlowlogSlowerThan sets up the default slow-query threshold.
func WithSlowlogSlowerThan(num int64) Option {
	return func(opts *Options) {
		opts.SlowlogSlowerThan = num
	}
}
