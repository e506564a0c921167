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
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"github.com/valyala/bytebufferpool"

	"rcproxy/core/codec"
	"rcproxy/core/pkg/constant"
	"rcproxy/core/pkg/logging"
)

// slowLogScratch is a scratch-buffer pool for building one slow-log text
// record per forwarded reply without allocating on the hot path.
var slowLogScratch bytebufferpool.Pool

// MsgKind distinguishes a request carrier from a response carrier. A single
// wire round trip always produces one of each, symmetrically peer-linked.
type MsgKind int8

const (
	KindRequest MsgKind = iota
	KindResponse
)

// msgID is the monotone unique identifier handed out at allocation time.
var msgID uint64

var timeoutTree *llrb.LLRB

func init() {
	timeoutTree = llrb.New()
}

// Msg is the carrier for a parsed request or reply: C1 "Message Handle".
//
// A single-key client request is represented by exactly one Msg shared
// between the client connection's out-queue and the chosen server
// connection's out-queue -- there is nothing to coalesce, so the same
// object plays both roles. A multi-key request that fragments across
// shards is represented by one parent Msg (fragID != 0, enqueued only on
// the client connection) and one child Msg per shard (same fragID,
// fragParent pointing back to the parent, each enqueued on its own server
// connection). Child replies are coalesced into the parent's body by the
// preCoalesce hook; the parent becomes done only once every child is.
type Msg struct {
	// prev, next link server-side queue membership: a server connection's
	// sendQueue (not yet written) and outQueue (awaiting reply) link
	// through this pair. A Msg is never on both at once -- handleWriteSignal
	// pops it off sendQueue before pushing it onto outQueue -- so the two
	// queues sharing one field pair is safe.
	prev, next *Msg
	// cPrev, cNext link client-side out-queue membership. A single-key
	// request is simultaneously linked into its server connection's
	// sendQueue/outQueue (via prev/next) and its owning client connection's
	// outQueue (via cPrev/cNext); a fragmented request's parent is only
	// ever linked via cPrev/cNext, since prev/next is spoken for by each
	// fragment child's own server-side membership.
	cPrev, cNext *Msg

	id   uint64
	kind MsgKind

	owner interface{} // CConn for a client-owned Msg, SConn for a server-owned Msg
	peer  *Msg        // symmetric, exclusive cross-link to the paired Msg of the opposite kind

	fragID     uint64 // 0 for non-fragmented messages
	fragParent *Msg   // set on a fragment child; nil on the parent and on non-fragmented messages
	frags      []*Msg // set on the parent; the set of fragment children
	fragsDone  int    // number of frags whose reply has been coalesced
	delCount   int    // DEL accumulator across fragments
	parsed     []string // per-key wire chunks from a child's reply, in child.keys order; used by MGET coalescing

	done    bool
	swallow bool
	err     codec.Error
	reqErr  bool // true once the timer wheel or a forwarding failure marks this request as failed

	typ     codec.Command
	rspType codec.Command // classification of a response Msg's reply line, e.g. RspOk/RspNeedAuth
	keys    []string

	body    []byte // wire bytes to send (kind == request)
	rspBody []byte // wire bytes received/assembled (kind == response, or parent's coalesced body)

	slowlogSTime time.Time
	slowlogETime time.Time
	timeout      time.Time

	preRspForward func(*Msg) bool // invoked on pairing; false vetoes further forwarding of this reply
	preCoalesce   func(*Msg)      // invoked on a response before send; nil unless fragID != 0
}

func (m *Msg) MsgID() uint64 { return m.id }

func (m *Msg) Less(than llrb.Item) bool {
	return m.timeout.Before(than.(*Msg).timeout)
}

var msgPoolImpl = msgPool{sync.Pool{New: func() interface{} { return new(Msg) }}}

type msgPool struct {
	sync.Pool
}

// newResponse allocates a response-kind Msg for a server connection. The
// connection argument is not used; both codecs share this allocator and
// differ only in how they later fill rspBody.
func (p *msgPool) newResponse(_ SConn) (*Msg, error) {
	m, ok := p.Pool.Get().(*Msg)
	if !ok || m == nil {
		return nil, errAllocFail
	}
	msgID++
	m.id = msgID
	m.kind = KindResponse
	return m, nil
}

// newRequest allocates a request-kind Msg; the request-parsing side of the
// proxy is an external collaborator, but every Msg handed into the response
// path has to originate somewhere.
func (p *msgPool) newRequest() *Msg {
	m, ok := p.Pool.Get().(*Msg)
	if !ok || m == nil {
		m = new(Msg)
	}
	msgID++
	m.id = msgID
	m.kind = KindRequest
	m.body = m.body[:0]
	return m
}

// newErrorResponse allocates a synthesized reply whose body already encodes
// the given error in the connection's wire protocol. Error text is a
// fixed, pre-rendered table, so this path never itself fails to allocate
// in any way that matters -- the byte slice is never grown.
func (p *msgPool) newErrorResponse(protocol Protocol, err codec.Error) *Msg {
	m, ok := p.Pool.Get().(*Msg)
	if !ok || m == nil {
		m = new(Msg)
	}
	msgID++
	m.id = msgID
	m.kind = KindResponse
	m.err = err
	m.rspBody = append(m.rspBody[:0], renderError(protocol, err)...)
	m.done = true
	return m
}

// release returns a Msg to the pool. Precondition: m.peer == nil.
func (p *msgPool) release(m *Msg) {
	if m == nil {
		return
	}
	if m.peer != nil {
		logging.Errorf("[%dm] release called with non-nil peer, unlinking first", m.id)
		m.peer.peer = nil
		m.peer = nil
	}

	m.id = 0
	m.kind = KindRequest
	m.owner = nil
	m.fragID = 0
	m.fragParent = nil
	m.frags = nil
	m.fragsDone = 0
	m.delCount = 0
	m.parsed = nil
	m.done = false
	m.swallow = false
	m.err = ""
	m.reqErr = false
	m.typ = codec.UNKNOWN
	m.rspType = codec.UNKNOWN
	m.keys = m.keys[:0]
	m.body = m.body[:0]
	m.rspBody = m.rspBody[:0]
	m.slowlogSTime = time.Time{}
	m.slowlogETime = time.Time{}
	m.timeout = time.Time{}
	m.preRspForward = nil
	m.preCoalesce = nil

	m.prev = nil
	m.next = nil
	m.cPrev = nil
	m.cNext = nil

	p.Pool.Put(m)
}

// empty reports whether the message carries no body bytes. True on benign
// parser events such as inline-protocol null replies; an empty reply is
// always dropped by the filter, never forwarded.
func empty(m *Msg) bool {
	if m.kind == KindResponse {
		return len(m.rspBody) == 0
	}
	return len(m.body) == 0
}

// ---- timer wheel: backs "Cancellation & timeouts" ----

func pushToTimeoutQueue(m *Msg, timeoutMs int) {
	if timeoutMs <= 0 || m.owner == nil {
		return
	}
	m.timeout = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	timeoutTree.ReplaceOrInsert(m)
}

func popFromTimeoutQueue() *Msg {
	min := timeoutTree.DeleteMin()
	if min == nil {
		return nil
	}
	return min.(*Msg)
}

func peekTimeoutQueue() *Msg {
	min := timeoutTree.Min()
	if min == nil {
		return nil
	}
	return min.(*Msg)
}

func deleteFromTimeoutQueue(m *Msg) {
	timeoutTree.Delete(m)
}

func lengthOfTimeoutQueue() float64 { return float64(timeoutTree.Len()) }

func depthOfTimeoutQueue() (float64, float64) { return timeoutTree.HeightStats() }

// ---- MsgQueue: the out-queue (omsg_q) backing structure, tail -> head ----

// queueSide selects which of a Msg's two link-field pairs a MsgQueue reads
// and writes. A single-key request Msg is a member of two independent
// queues at once -- its server connection's sendQueue/outQueue and its
// client connection's outQueue -- so each queue must thread its own pair
// of prev/next pointers through the shared Msg rather than overwrite the
// other queue's linkage.
type queueSide int8

const (
	sideServer queueSide = iota // server connection's sendQueue/outQueue: m.prev/m.next
	sideClient                  // client connection's outQueue: m.cPrev/m.cNext
)

func (s queueSide) prev(m *Msg) *Msg {
	if s == sideClient {
		return m.cPrev
	}
	return m.prev
}

func (s queueSide) next(m *Msg) *Msg {
	if s == sideClient {
		return m.cNext
	}
	return m.next
}

func (s queueSide) setPrev(m, v *Msg) {
	if s == sideClient {
		m.cPrev = v
	} else {
		m.prev = v
	}
}

func (s queueSide) setNext(m, v *Msg) {
	if s == sideClient {
		m.cNext = v
	} else {
		m.next = v
	}
}

// MsgQueue is a hand-rolled doubly-linked FIFO in place of container/list:
// every push/pop is O(1) with no allocation, which matters on the hot
// forwarding path.
type MsgQueue struct {
	tail, head *Msg
	count      int
	side       queueSide
}

func (l *MsgQueue) Reset() {
	l.count = 0
	l.tail = nil
	l.head = nil
}

func (l *MsgQueue) Len() int { return l.count }

func (l *MsgQueue) Empty() bool { return l.count < 1 }

// Head returns the queue's first (oldest) entry without removing it.
func (l *MsgQueue) Head() *Msg { return l.head }

func (l *MsgQueue) PushTail(m *Msg) {
	l.side.setNext(m, l.tail)
	l.side.setPrev(m, nil)
	if l.count == 0 {
		l.head = m
	} else {
		l.side.setPrev(l.tail, m)
	}
	l.tail = m
	l.count++
}

func (l *MsgQueue) PopHead() *Msg {
	if l.count == 0 {
		return nil
	}
	m := l.head
	l.count--
	if l.count == 0 {
		l.tail, l.head = nil, nil
	} else {
		l.side.setNext(l.side.prev(m), nil)
		l.head = l.side.prev(m)
	}
	l.side.setNext(m, nil)
	l.side.setPrev(m, nil)
	return m
}

// Remove splices an arbitrary member (head, tail or interior) out of the
// queue.
func (l *MsgQueue) Remove(m *Msg) {
	prev, next := l.side.prev(m), l.side.next(m)
	if prev != nil {
		l.side.setNext(prev, next)
	} else {
		l.tail = next
	}
	if next != nil {
		l.side.setPrev(next, prev)
	} else {
		l.head = prev
	}
	l.side.setNext(m, nil)
	l.side.setPrev(m, nil)
	l.count--
}

// Successor returns the entry pushed immediately after m (the next one
// due to be sent), used by the sender to resume iteration after m.
func (l *MsgQueue) Successor(m *Msg) *Msg {
	return l.side.prev(m)
}

// slowLogCheck implements cumulative latency-bucket
// histogram accounting plus the slow-log text record, for one forwarded
// reply. cost_ms is computed from pmsg.slowlogSTime (set when the request
// was parsed) to now.
func slowLogCheck(pmsg *Msg, sconn SConn) {
	if pmsg.slowlogSTime.IsZero() {
		return
	}
	pool := sconn.Pool()
	if pool == nil {
		return
	}

	now := time.Now()
	pmsg.slowlogETime = now
	costMs := now.Sub(pmsg.slowlogSTime).Milliseconds()

	GlobalStats.observeLatency(pool.Server.LocalIDC, costMs)

	if pool.SlowlogSlowerThan <= 0 || costMs < pool.SlowlogSlowerThan {
		return
	}

	buf := slowLogScratch.Get()
	defer slowLogScratch.Put(buf)
	buf.Reset()

	key := ""
	if len(pmsg.keys) > 0 {
		key = pmsg.keys[0]
	}

	_, _ = buf.WriteString(constant.TitleSlowLog)
	_, _ = buf.WriteString(" request_msg_id=")
	_, _ = buf.WriteString(itoa64(int64(pmsg.id)))
	_, _ = buf.WriteString(", client_address=")
	if owner, ok := pmsg.owner.(interface{ RemoteAddr() string }); ok {
		_, _ = buf.WriteString(owner.RemoteAddr())
	}
	_, _ = buf.WriteString(", server_address=")
	_, _ = buf.WriteString(sconn.RemoteAddr())
	_, _ = buf.WriteString(", cost_time=")
	_, _ = buf.WriteString(itoa64(costMs))
	_, _ = buf.WriteString("ms, fragment_id=")
	_, _ = buf.WriteString(itoa64(int64(pmsg.fragID)))
	_, _ = buf.WriteString(", request_type=")
	_, _ = buf.WriteString(codec.Transform2Str(pmsg.typ))
	_, _ = buf.WriteString(", request_len ")
	_, _ = buf.WriteString(itoa64(int64(len(pmsg.body))))
	_, _ = buf.WriteString(", response_len ")
	_, _ = buf.WriteString(itoa64(int64(len(pmsg.rspBody))))
	_, _ = buf.WriteString(", key='")
	_, _ = buf.WriteString(key)
	_, _ = buf.WriteString("'")

	logging.Warnf("%s", buf.String())
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
