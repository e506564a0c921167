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
	"context"
	"errors"
	"time"

	"rcproxy/core/pkg/hashkit"
	"rcproxy/core/pkg/logging"
)

// Server is one backend cache node. local_idc drives which latency
// histogram a reply's cost is filed under.
type Server struct {
	Addr     string
	Weight   int
	LocalIDC bool
}

// ServerPool is the conn -> server -> server_pool mapping: given a
// connection, a pool tells you which server it dials, and carries the
// pool-scoped slow-log threshold the forwarder consults on every reply.
//
// This pool is not refreshed from a live gossip protocol (CLUSTER NODES /
// MOVED / ASK) -- the topology is a static list of servers read from
// configuration once at boot. See DESIGN.md for why the previous
// cluster-refresh machinery was dropped rather than adapted.
type ServerPool struct {
	Name              string
	Server            *Server
	SlowlogSlowerThan int64 // ms; pool-level slow-log threshold

	dial func(addr string) (SConn, error)

	maxActive int
	active    activeList

	// LiftBanOrder/LiftBanTime/AutoBanFlag implement the same exponential
	// backoff previously used for unhealthy backend nodes; a reply is an
	// implicit liveness proof (mark_server_healthy) so a successful forward
	// always clears AutoBanFlag.
	LiftBanOrder int32
	LiftBanTime  time.Time
	AutoBanFlag  bool

	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

func (eng *engine) newServerPool(srv *Server) *ServerPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &ServerPool{
		Name:              srv.Addr,
		Server:            srv,
		SlowlogSlowerThan: int64(eng.opts.SlowlogSlowerThan),
		dial:              func(addr string) (SConn, error) { return eng.Dial(addr) },
		maxActive:         eng.opts.ServerConnections,
		ctx:               ctx,
		cancel:            cancel,
	}
	go p.monitor()
	return p
}

// markServerHealthy resets pending heartbeat/backoff state. Called on
// every successful reply because a reply is itself proof of liveness.
func (p *ServerPool) markServerHealthy() {
	if p.AutoBanFlag {
		logging.Infof("server %s marked healthy after a forwarded reply", p.Server.Addr)
	}
	p.AutoBanFlag = false
	p.LiftBanOrder = 0
}

func (p *ServerPool) banned() bool {
	return p.AutoBanFlag && time.Now().Before(p.LiftBanTime)
}

// Banned reports whether the pool is currently serving out of its
// exponential-backoff ban window.
func (p *ServerPool) Banned() bool { return p.banned() }

func (p *ServerPool) Get() SConn {
	if p.closed {
		logging.Errorf("get on closed pool, addr: %s", p.Server.Addr)
		return nil
	}
	if p.banned() {
		return nil
	}

	if p.active.count < p.maxActive {
		c, err := p.dialConn()
		if err != nil {
			logging.Errorf("failed to dial, addr: %s, err: %s", p.Server.Addr, err)
			return nil
		}
		p.active.pushFront(&poolConn{c: c})
		return c
	}

	for p.active.count > 0 {
		pc := p.active.back
		p.active.popBack()
		if !pc.c.IsOpened() {
			continue
		}
		p.active.pushFront(pc)
		return pc.c
	}

	c, err := p.dialConn()
	if err != nil {
		logging.Errorf("failed to dial, addr: %s, err: %s", p.Server.Addr, err)
		return nil
	}
	p.active.pushFront(&poolConn{c: c})
	return c
}

func (p *ServerPool) ActiveCount() int { return p.active.count }

func (p *ServerPool) Close() {
	if p.closed {
		return
	}
	p.Release()
	p.closed = true
	p.cancel()
}

func (p *ServerPool) Release() {
	if p.closed {
		return
	}
	pc := p.active.front
	p.active.count = 0
	p.active.front, p.active.back = nil, nil
	for ; pc != nil; pc = pc.next {
		_ = pc.c.Close()
	}
}

func (p *ServerPool) dialConn() (SConn, error) {
	if p.dial == nil {
		return nil, errors.New("server pool: no dialer configured")
	}
	return p.dial(p.Server.Addr)
}

// monitor runs a lightweight health probe with exponential backoff.
func (p *ServerPool) monitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.closed {
				return
			}
			if err := p.detect(); err == nil {
				p.markServerHealthy()
				continue
			}
			order := p.LiftBanOrder
			if order > 5 {
				order = 5
			}
			backoff := time.Duration(1<<uint(order)) * time.Second
			p.LiftBanOrder++
			p.LiftBanTime = time.Now().Add(backoff)
			p.AutoBanFlag = true
			logging.Errorf("[monitor] addr %s unreachable, banned for %s", p.Server.Addr, backoff)
		}
	}
}

func (p *ServerPool) detect() error {
	c, err := p.dialConn()
	if err != nil {
		return err
	}
	if !c.IsOpened() {
		return errors.New("probe connection not open")
	}
	return nil
}

type activeList struct {
	front, back *poolConn
	count       int
}

type poolConn struct {
	c          SConn
	next, prev *poolConn
}

// pushFront / popBack: front -> x -> x -> back, identical discipline to MsgQueue.
func (l *activeList) pushFront(pc *poolConn) {
	pc.next = l.front
	pc.prev = nil
	if l.count == 0 {
		l.back = pc
	} else {
		l.front.prev = pc
	}
	l.front = pc
	l.count++
}

func (l *activeList) popBack() {
	pc := l.back
	l.count--
	if l.count == 0 {
		l.front, l.back = nil, nil
	} else {
		pc.prev.next = nil
		l.back = pc.prev
	}
	pc.next, pc.prev = nil, nil
}

// Topology is the full conn -> server -> server_pool map for the proxy: a
// static list of pools, one per configured backend server, selected by key
// hash. Key hashing and shard selection are themselves an external
// collaborator's job; Select exists only so the request-dispatch path
// has somewhere to route.
type Topology struct {
	pools []*ServerPool
}

func NewTopology(pools []*ServerPool) *Topology {
	return &Topology{pools: pools}
}

func (t *Topology) Select(key string) *ServerPool {
	if len(t.pools) == 0 {
		return nil
	}
	idx := int(hashkit.Hash(key)) % len(t.pools)
	return t.pools[idx]
}

func (t *Topology) Pools() []*ServerPool { return t.pools }

func (t *Topology) ByAddr(addr string) *ServerPool {
	for _, p := range t.pools {
		if p.Server.Addr == addr {
			return p
		}
	}
	return nil
}
