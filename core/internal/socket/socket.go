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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package socket wraps the handful of raw socket options and fd plumbing
// the event loop needs: listening-socket setup, keepalive/buffer/linger
// tuning, and translating a raw unix.Sockaddr into a net.Addr.
package socket

import (
	"net"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"rcproxy/core/pkg/errors"
	"rcproxy/core/pkg/pool/byteslice"
)

// Option pairs a setsockopt wrapper with the integer value to apply; a
// slice of these is threaded through TCPSocket so the listener can build
// up its socket options declaratively.
type Option struct {
	SetSockOpt func(int, int) error
	Opt        int
}

// TCPSocket creates a listening TCP socket for proto/addr, applies every
// sockOpt in order, puts the fd into non-blocking mode and hands the raw
// fd to the caller -- the caller's poller takes ownership of it from
// there. Only passive (listening) sockets are supported; this proxy never
// needs an active raw socket since backend dials go through net.Dial and
// its fd is later duplicated directly.
func TCPSocket(proto, addr string, passive bool, sockOpts ...Option) (fd int, netAddr net.Addr, err error) {
	if !passive {
		return 0, nil, errors.ErrUnsupportedProtocol
	}

	ln, err := net.Listen(proto, addr)
	if err != nil {
		return 0, nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return 0, nil, errors.ErrUnsupportedProtocol
	}
	netAddr = tcpLn.Addr()

	file, err := tcpLn.File()
	if err != nil {
		_ = tcpLn.Close()
		return 0, nil, err
	}
	fd = int(file.Fd())
	// file.Fd() handed us a dup'd descriptor; detach the finalizer so
	// garbage-collecting file doesn't close the fd out from under the
	// poller, then drop the original listener.
	runtime.SetFinalizer(file, nil)
	_ = tcpLn.Close()

	for _, opt := range sockOpts {
		if err = opt.SetSockOpt(fd, opt.Opt); err != nil {
			_ = unix.Close(fd)
			return 0, nil, err
		}
	}
	if err = os.NewSyscallError("fcntl nonblock", unix.SetNonblock(fd, true)); err != nil {
		_ = unix.Close(fd)
		return 0, nil, err
	}

	return fd, netAddr, nil
}

// SetReuseAddr sets SO_REUSEADDR.
func SetReuseAddr(fd, reuse int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, reuse))
}

// SetNoDelay toggles Nagle's algorithm via TCP_NODELAY.
func SetNoDelay(fd, noDelay int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, noDelay))
}

// SetRecvBuffer sets SO_RCVBUF.
func SetRecvBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size))
}

// SetSendBuffer sets SO_SNDBUF.
func SetSendBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size))
}

// SetKeepAlivePeriod enables SO_KEEPALIVE and sets the platform-specific
// idle-probe interval.
func SetKeepAlivePeriod(fd, secs int) error {
	if err := os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)); err != nil {
		return err
	}
	switch runtime.GOOS {
	case "linux":
		return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs))
	default:
		return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs))
	}
}

// SetLinger sets SO_LINGER; sec < 0 restores the default close behavior.
func SetLinger(fd, sec int) error {
	var l unix.Linger
	if sec >= 0 {
		l.Onoff = 1
		l.Linger = int32(sec)
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l))
}

// SockaddrToTCPOrUnixAddr converts a raw unix.Sockaddr, as returned by
// accept(2), into the net.Addr the rest of core deals in.
func SockaddrToTCPOrUnixAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(byteslice.Get(net.IPv4len))
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := net.IP(byteslice.Get(net.IPv6len))
		copy(ip, sa.Addr[:])
		var zone string
		if sa.ZoneId != 0 {
			if ifi, ifErr := net.InterfaceByIndex(int(sa.ZoneId)); ifErr == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	}
	return nil
}
